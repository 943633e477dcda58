package capture_test

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"testing"
	"time"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/capture"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/metrics"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

type stepClock struct {
	mu   sync.Mutex
	now  int64
	step int64
}

func (c *stepClock) NowMicros() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now += c.step
	return now
}

type countingHooks struct {
	starts, ends, rendered int
}

func (h *countingHooks) TextureReadbackStart() { h.starts++ }
func (h *countingHooks) TextureReadbackEnd()   { h.ends++ }
func (h *countingHooks) FrameRendered()        { h.rendered++ }

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestVideoSourceScalesAndForwards(t *testing.T) {
	var frames []capture.Frame
	hooks := &countingHooks{}
	src := capture.NewVideoSource(
		capture.NewAdapter(types.OutputFormat{MaxWidth: 32, MaxHeight: 16}),
		capture.FrameSinkFunc(func(f capture.Frame) { frames = append(frames, f) }),
		capture.WithSourceClock(&stepClock{now: 100, step: 1000}),
		capture.WithHooks(hooks),
	)

	red := color.RGBA{R: 255, A: 255}
	if !src.OnFrameReady(solid(64, 32, red)) {
		t.Fatal("frame not forwarded")
	}
	if len(frames) != 1 {
		t.Fatalf("sink got %d frames", len(frames))
	}
	f := frames[0]
	if b := f.Image.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Fatalf("output size = %v", b)
	}
	if f.TimestampUs != 100 || f.Rotation != capture.Rotation0 {
		t.Fatalf("frame ts=%d rotation=%d", f.TimestampUs, f.Rotation)
	}
	if got := f.Image.RGBAAt(10, 10); got != red {
		t.Fatalf("pixel = %v, want %v", got, red)
	}
	if hooks.starts != 1 || hooks.ends != 1 || hooks.rendered != 1 {
		t.Fatalf("hooks = %+v", hooks)
	}
}

func TestVideoSourceCropsOffsetImage(t *testing.T) {
	var got capture.Frame
	src := capture.NewVideoSource(
		capture.NewAdapter(types.OutputFormat{MaxWidth: 10, MaxHeight: 10}),
		capture.FrameSinkFunc(func(f capture.Frame) { got = f }),
	)
	// 20x10 with a non-zero origin; only the centered 10x10 is green.
	img := solid(20, 10, color.RGBA{B: 255, A: 255})
	green := color.RGBA{G: 255, A: 255}
	draw.Draw(img, image.Rect(5, 0, 15, 10), &image.Uniform{C: green}, image.Point{}, draw.Src)
	shifted := &image.RGBA{Pix: img.Pix, Stride: img.Stride, Rect: img.Rect.Add(image.Pt(100, 50))}

	if !src.OnFrameReady(shifted) {
		t.Fatal("frame not forwarded")
	}
	if got.Geometry.CropX != 5 || got.Geometry.CropWidth != 10 {
		t.Fatalf("geometry = %+v", got.Geometry)
	}
	for _, p := range []image.Point{{0, 0}, {9, 9}} {
		if c := got.Image.RGBAAt(p.X, p.Y); c != green {
			t.Fatalf("pixel %v = %v, want green", p, c)
		}
	}
}

func TestVideoSourceTimestampsIncrease(t *testing.T) {
	var ts []int64
	src := capture.NewVideoSource(
		capture.NewAdapter(types.OutputFormat{}),
		capture.FrameSinkFunc(func(f capture.Frame) { ts = append(ts, f.TimestampUs) }),
		capture.WithSourceClock(&stepClock{now: 500}),
	)
	img := solid(4, 4, color.RGBA{A: 255})
	for i := 0; i < 3; i++ {
		src.OnFrameReady(img)
	}
	if len(ts) != 3 || ts[0] != 500 || ts[1] != 501 || ts[2] != 502 {
		t.Fatalf("timestamps = %v", ts)
	}
}

func TestVideoSourceDropsSkipHooks(t *testing.T) {
	hooks := &countingHooks{}
	forwarded := 0
	src := capture.NewVideoSource(
		capture.NewAdapter(types.OutputFormat{MaxFPS: 10}),
		capture.FrameSinkFunc(func(capture.Frame) { forwarded++ }),
		capture.WithSourceClock(&stepClock{step: 10_000}),
		capture.WithHooks(hooks),
	)
	img := solid(8, 8, color.RGBA{A: 255})
	for i := 0; i < 10; i++ {
		src.OnFrameReady(img)
	}
	if forwarded != 1 {
		t.Fatalf("forwarded %d frames in 100ms at 10fps, want 1", forwarded)
	}
	if hooks.starts != 1 || hooks.rendered != 1 {
		t.Fatalf("hooks = %+v", hooks)
	}
	if src.OnFrameReady(nil) {
		t.Fatal("nil image forwarded")
	}
}

func TestVideoSourceDrivesAggregator(t *testing.T) {
	agg := metrics.NewAggregator()
	src := capture.NewVideoSource(
		capture.NewAdapter(types.OutputFormat{}),
		capture.FrameSinkFunc(func(capture.Frame) {}),
		capture.WithHooks(agg),
	)
	img := solid(16, 16, color.RGBA{A: 255})
	for i := 0; i < 3; i++ {
		src.OnFrameReady(img)
		time.Sleep(2 * time.Millisecond)
	}
	pm := agg.PublisherMetrics()
	if pm.SubmitFPS <= 0 {
		t.Fatalf("submit fps = %v, want > 0", pm.SubmitFPS)
	}
	if pm.TextureReadbackAvg < 0 {
		t.Fatalf("readback avg = %v", pm.TextureReadbackAvg)
	}
}

func TestPatternScrolls(t *testing.T) {
	p := capture.NewPattern(16, 8)
	if c := p.Next().RGBAAt(1, 0); c != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Fatalf("frame 0 pixel = %v", c)
	}
	if c := p.Next().RGBAAt(1, 0); c != (color.RGBA{R: 255, G: 255, A: 255}) {
		t.Fatalf("frame 1 pixel = %v", c)
	}
}

func TestRunPatternStopsOnCancel(t *testing.T) {
	got := make(chan capture.Frame, 64)
	src := capture.NewVideoSource(
		capture.NewAdapter(types.OutputFormat{MaxWidth: 8, MaxHeight: 8}),
		capture.FrameSinkFunc(func(f capture.Frame) {
			select {
			case got <- f:
			default:
			}
		}),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		capture.RunPattern(ctx, src, 32, 16, 200)
		close(done)
	}()

	select {
	case f := <-got:
		if b := f.Image.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
			t.Fatalf("pattern frame = %v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pattern frame delivered")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPattern did not stop")
	}
}

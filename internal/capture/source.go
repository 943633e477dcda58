package capture

import (
	"image"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// Frame is an admitted, resized capture ready for the encoder.
type Frame struct {
	Image       *image.RGBA
	TimestampUs int64
	Rotation    Rotation
	Geometry    types.FrameGeometry
}

type FrameSink interface {
	OnFrame(f Frame)
}

type FrameSinkFunc func(f Frame)

func (fn FrameSinkFunc) OnFrame(f Frame) { fn(f) }

// Hooks receives capture timing events. *metrics.Aggregator implements it.
type Hooks interface {
	TextureReadbackStart()
	TextureReadbackEnd()
	FrameRendered()
}

// Clock returns a monotonic timestamp in microseconds.
type Clock interface {
	NowMicros() int64
}

type monotonicClock struct {
	start time.Time
}

func (c monotonicClock) NowMicros() int64 {
	return time.Since(c.start).Microseconds()
}

type noHooks struct{}

func (noHooks) TextureReadbackStart() {}
func (noHooks) TextureReadbackEnd()   {}
func (noHooks) FrameRendered()        {}

type SourceOption func(*VideoSource)

func WithSourceClock(c Clock) SourceOption {
	return func(s *VideoSource) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithHooks(h Hooks) SourceOption {
	return func(s *VideoSource) {
		if h != nil {
			s.hooks = h
		}
	}
}

// WithScaler overrides the resampling kernel. Defaults to ApproxBiLinear.
func WithScaler(sc draw.Scaler) SourceOption {
	return func(s *VideoSource) {
		if sc != nil {
			s.scaler = sc
		}
	}
}

// VideoSource is the capture callback side of the pipeline: it stamps each
// image, asks the adapter, and forwards admitted frames to the sink.
type VideoSource struct {
	adapter *Adapter
	sink    FrameSink
	clock   Clock
	hooks   Hooks
	scaler  draw.Scaler

	mu     sync.Mutex
	lastTs int64
	sent   bool
}

func NewVideoSource(adapter *Adapter, sink FrameSink, opts ...SourceOption) *VideoSource {
	s := &VideoSource{
		adapter: adapter,
		sink:    sink,
		clock:   monotonicClock{start: time.Now()},
		hooks:   noHooks{},
		scaler:  draw.ApproxBiLinear,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnFrameReady handles one captured image and reports whether it was
// forwarded.
func (s *VideoSource) OnFrameReady(img image.Image) bool {
	if img == nil {
		return false
	}
	ts := s.clock.NowMicros()
	b := img.Bounds()
	g := s.adapter.AdaptFrame(ts, b.Dx(), b.Dy())
	if !g.Admit {
		return false
	}

	s.hooks.TextureReadbackStart()
	crop := image.Rect(g.CropX, g.CropY, g.CropX+g.CropWidth, g.CropY+g.CropHeight).Add(b.Min)
	out := image.NewRGBA(image.Rect(0, 0, g.OutWidth, g.OutHeight))
	if g.OutWidth == g.CropWidth && g.OutHeight == g.CropHeight {
		draw.Copy(out, image.Point{}, img, crop, draw.Src, nil)
	} else {
		s.scaler.Scale(out, out.Bounds(), img, crop, draw.Src, nil)
	}
	s.hooks.TextureReadbackEnd()

	s.mu.Lock()
	if s.sent && ts <= s.lastTs {
		ts = s.lastTs + 1
	}
	s.lastTs = ts
	s.sent = true
	s.mu.Unlock()

	s.sink.OnFrame(Frame{
		Image:       out,
		TimestampUs: ts,
		Rotation:    Rotation0,
		Geometry:    g,
	})
	s.hooks.FrameRendered()
	return true
}

func (s *VideoSource) Adapter() *Adapter {
	return s.adapter
}

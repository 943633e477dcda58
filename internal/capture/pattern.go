package capture

import (
	"context"
	"image"
	"image/color"
	"time"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
)

var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// Pattern renders color bars that scroll one column per frame.
type Pattern struct {
	img   *image.RGBA
	frame int
}

func NewPattern(width, height int) *Pattern {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return &Pattern{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Next draws the next frame into the shared buffer and returns it.
func (p *Pattern) Next() *image.RGBA {
	b := p.img.Bounds()
	w := b.Dx()
	barW := w / len(barColors)
	if barW < 1 {
		barW = 1
	}
	for x := 0; x < w; x++ {
		c := barColors[((x+p.frame)/barW)%len(barColors)]
		for y := 0; y < b.Dy(); y++ {
			p.img.SetRGBA(x, y, c)
		}
	}
	p.frame++
	return p.img
}

// RunPattern feeds synthetic frames into src at fps until ctx is done.
func RunPattern(ctx context.Context, src *VideoSource, width, height, fps int) {
	if fps <= 0 {
		fps = 30
	}
	p := NewPattern(width, height)
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	logging.Info("Test pattern started",
		logging.Field{Key: "width", Value: width},
		logging.Field{Key: "height", Value: height},
		logging.Field{Key: "fps", Value: fps})

	for {
		select {
		case <-ctx.Done():
			st := src.Adapter().Stats()
			logging.Info("Test pattern stopped",
				logging.Field{Key: "frames_in", Value: st.FramesIn},
				logging.Field{Key: "frames_admitted", Value: st.FramesAdmitted})
			return
		case <-ticker.C:
			src.OnFrameReady(p.Next())
		}
	}
}

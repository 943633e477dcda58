// Package capture gates captured frames by cadence and resolution before
// they enter the outbound video pipeline.
package capture

import (
	"sync"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

type AdapterStats struct {
	FramesIn       uint64 `json:"frames_in"`
	FramesAdmitted uint64 `json:"frames_admitted"`
	DroppedCadence uint64 `json:"dropped_cadence"`
	DroppedInvalid uint64 `json:"dropped_invalid"`
}

// Adapter decides per frame whether to forward it and at what geometry.
type Adapter struct {
	mu     sync.Mutex
	format types.OutputFormat
	cad    cadence
	stats  AdapterStats
}

func NewAdapter(format types.OutputFormat) *Adapter {
	a := &Adapter{}
	a.SetOutputFormat(format)
	return a
}

// SetOutputFormat replaces the constraints and restarts the cadence.
func (a *Adapter) SetOutputFormat(format types.OutputFormat) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.format = format
	a.cad = cadence{}
	if format.MaxFPS > 0 {
		a.cad.intervalUs = 1_000_000 / int64(format.MaxFPS)
	}
}

func (a *Adapter) OutputFormat() types.OutputFormat {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.format
}

func (a *Adapter) Stats() AdapterStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// AdaptFrame returns the admission decision for a frame captured at
// timestampUs with the given native size.
func (a *Adapter) AdaptFrame(timestampUs int64, width, height int) types.FrameGeometry {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.FramesIn++
	g := types.FrameGeometry{NativeWidth: width, NativeHeight: height}
	if width <= 0 || height <= 0 {
		a.stats.DroppedInvalid++
		return g
	}
	if !a.cad.admit(timestampUs) {
		a.stats.DroppedCadence++
		return g
	}
	a.stats.FramesAdmitted++

	g.Admit = true
	g.CropWidth, g.CropHeight = cropToAspect(width, height, a.format)
	g.CropX = (width - g.CropWidth) / 2
	g.CropY = (height - g.CropHeight) / 2
	g.OutWidth, g.OutHeight = scaleToFit(g.CropWidth, g.CropHeight, a.format)
	return g
}

// cadence admits at most one frame per interval. A frame far from the
// expected slot, or the first frame, restarts the schedule.
type cadence struct {
	intervalUs int64
	nextUs     int64
	scheduled  bool
}

func (c *cadence) admit(ts int64) bool {
	if c.intervalUs <= 0 {
		return true
	}
	if c.scheduled {
		untilNext := c.nextUs - ts
		if untilNext < 0 {
			untilNext = -untilNext
		}
		if untilNext < 2*c.intervalUs {
			if ts < c.nextUs {
				return false
			}
			c.nextUs += c.intervalUs
			if c.nextUs <= ts {
				c.nextUs = ts + c.intervalUs
			}
			return true
		}
	}
	c.nextUs = ts + c.intervalUs
	c.scheduled = true
	return true
}

// orientedMax returns the max width/height swapped to match the frame's
// orientation.
func orientedMax(width, height int, f types.OutputFormat) (int, int) {
	maxW, maxH := f.MaxWidth, f.MaxHeight
	if maxW > 0 && maxH > 0 && (width < height) != (maxW < maxH) {
		maxW, maxH = maxH, maxW
	}
	return maxW, maxH
}

// cropToAspect returns the largest centered crop of the frame that has the
// aspect ratio of the max width/height, or the full frame without one.
func cropToAspect(width, height int, f types.OutputFormat) (int, int) {
	maxW, maxH := orientedMax(width, height, f)
	if maxW <= 0 || maxH <= 0 {
		return width, height
	}
	cropW, cropH := width, height
	if width*maxH > height*maxW {
		cropW = height * maxW / maxH
	} else {
		cropH = width * maxH / maxW
	}
	if cropW < 1 {
		cropW = 1
	}
	if cropH < 1 {
		cropH = 1
	}
	return cropW, cropH
}

type fraction struct {
	num, den int
}

// next steps down the scale sequence 1, 3/4, 1/2, 3/8, 1/4, 3/16 ...
func (s fraction) next() fraction {
	if s.num%3 == 0 && s.den%2 == 0 {
		return fraction{s.num / 3, s.den / 2}
	}
	return fraction{s.num * 3, s.den * 4}
}

// scaleToFit picks the largest scale of the crop that fits the pixel and
// dimension ceilings, then aligns both sides down.
func scaleToFit(cropW, cropH int, f types.OutputFormat) (int, int) {
	maxW, maxH := orientedMax(cropW, cropH, f)
	maxPixels := f.MaxPixelCount
	if maxW > 0 && maxH > 0 && (maxPixels <= 0 || maxW*maxH < maxPixels) {
		maxPixels = maxW * maxH
	}

	fits := func(w, h int) bool {
		if maxPixels > 0 && w*h > maxPixels {
			return false
		}
		if maxW > 0 && w > maxW {
			return false
		}
		if maxH > 0 && h > maxH {
			return false
		}
		return true
	}

	scale := fraction{1, 1}
	outW, outH := cropW, cropH
	for !fits(outW, outH) && outW > 1 && outH > 1 {
		scale = scale.next()
		outW = cropW * scale.num / scale.den
		outH = cropH * scale.num / scale.den
	}
	return align(outW, f.Alignment), align(outH, f.Alignment)
}

func align(v, alignment int) int {
	if alignment <= 1 || v < alignment {
		if v < 1 {
			return 1
		}
		return v
	}
	return v - v%alignment
}

package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// Clock is the monotonic time source used for readback and FPS timing.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Option func(*Aggregator)

func WithClock(c Clock) Option {
	return func(a *Aggregator) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithWindow sets the sample cap shared by every smoothed metric.
func WithWindow(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.window = n
		}
	}
}

// WithCollectorEncoderStats feeds the encoder metrics from the collectors'
// video snapshots on every render pass. Without it the host calls
// SetEncoderStats itself.
func WithCollectorEncoderStats() Option {
	return func(a *Aggregator) {
		a.encoderFromCollectors = true
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// Aggregator owns the publisher-wide smoothed metrics and the set of live
// collectors. The frame hooks are meant for the capture goroutine; the
// registry may be touched from anywhere.
type Aggregator struct {
	clock  Clock
	window int
	logger *logging.Logger

	encoderFromCollectors bool

	mu                 sync.Mutex
	frames             SampleCounter
	submitFPS          SmoothedMetric
	lastFrameRendered  time.Time
	readbackStart      time.Time
	textureReadbackAvg SmoothedMetric
	encoderSamples     SampleCounter
	encoderLatencyMs   SmoothedMetric
	encoderBitrateMbps SmoothedMetric
	encoderQP          SmoothedMetric

	regMu      sync.RWMutex
	collectors map[*Collector]struct{}
	nextSeq    atomic.Uint64
	tick       atomic.Uint64
}

func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		clock:      systemClock{},
		window:     DefaultWindow,
		logger:     logging.NewLogger("aggregator"),
		collectors: make(map[*Collector]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.frames = NewSampleCounter(a.window)
	a.encoderSamples = NewSampleCounter(a.window)
	return a
}

func (a *Aggregator) TextureReadbackStart() {
	now := a.clock.Now()
	a.mu.Lock()
	a.readbackStart = now
	a.mu.Unlock()
}

// TextureReadbackEnd smooths the time since TextureReadbackStart. The
// window follows the rendered-frame count.
func (a *Aggregator) TextureReadbackEnd() {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.readbackStart.IsZero() {
		return
	}
	elapsed := now.Sub(a.readbackStart).Seconds()
	a.readbackStart = time.Time{}
	if elapsed < 0 {
		return
	}
	a.textureReadbackAvg.Add(a.frames.Peek(), elapsed)
}

// FrameRendered feeds 1/elapsed since the previous call into SubmitFPS.
// The first call only sets the reference point and a zero interval is
// skipped.
func (a *Aggregator) FrameRendered() {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.lastFrameRendered
	a.lastFrameRendered = now
	if prev.IsZero() {
		return
	}
	elapsed := now.Sub(prev).Seconds()
	if elapsed <= 0 {
		return
	}
	a.submitFPS.Add(a.frames.Next(), 1.0/elapsed)
}

func (a *Aggregator) SetEncoderStats(latencyMs, bitrateMbps, qp float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.encoderSamples.Next()
	a.encoderLatencyMs.Add(n, latencyMs)
	a.encoderBitrateMbps.Add(n, bitrateMbps)
	a.encoderQP.Add(n, qp)
}

func (a *Aggregator) PublisherMetrics() types.PublisherMetrics {
	a.mu.Lock()
	m := types.PublisherMetrics{
		SubmitFPS:          a.submitFPS.Value(),
		TextureReadbackAvg: a.textureReadbackAvg.Value(),
		EncoderLatencyMs:   a.encoderLatencyMs.Value(),
		EncoderBitrateMbps: a.encoderBitrateMbps.Value(),
		EncoderQP:          a.encoderQP.Value(),
	}
	a.mu.Unlock()
	m.Collectors = a.CollectorCount()
	return m
}

func (a *Aggregator) RegisterCollector(c *Collector) {
	a.regMu.Lock()
	defer a.regMu.Unlock()
	a.collectors[c] = struct{}{}
}

func (a *Aggregator) UnregisterCollector(c *Collector) {
	a.regMu.Lock()
	defer a.regMu.Unlock()
	delete(a.collectors, c)
}

func (a *Aggregator) CollectorCount() int {
	a.regMu.RLock()
	defer a.regMu.RUnlock()
	return len(a.collectors)
}

// Collectors returns the registered collectors in registration order.
func (a *Aggregator) Collectors() []*Collector {
	a.regMu.RLock()
	out := make([]*Collector, 0, len(a.collectors))
	for c := range a.collectors {
		out = append(out, c)
	}
	a.regMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Collector looks a registered collector up by id.
func (a *Aggregator) Collector(id string) (*Collector, bool) {
	a.regMu.RLock()
	defer a.regMu.RUnlock()
	for c := range a.collectors {
		if c.id == id {
			return c, true
		}
	}
	return nil, false
}

// RenderAll polls every registered collector and formats the result. Poll
// failures are logged and the collector's previous state is rendered.
func (a *Aggregator) RenderAll(ctx context.Context) *types.TickReport {
	tick := a.tick.Add(1)
	report := &types.TickReport{
		Tick: tick,
		Time: time.Now(),
	}

	for i, c := range a.Collectors() {
		if err := c.Poll(ctx); err != nil {
			a.logger.Warn("Stats poll failed",
				logging.Field{Key: "collector_id", Value: c.ID()},
				logging.Field{Key: "error", Value: err})
		}
		snap := c.Snapshot()
		report.Collectors = append(report.Collectors, snap)
		report.Lines = append(report.Lines, FormatLines(snap, i)...)
		report.Rows = append(report.Rows, ExportRows(tick, snap)...)
	}

	if a.encoderFromCollectors {
		if latency, mbps, qp, ok := encoderStats(report.Collectors); ok {
			a.SetEncoderStats(latency, mbps, qp)
		}
	}

	report.Publisher = a.PublisherMetrics()
	report.Lines = append(report.Lines, FormatPublisherLines(report.Publisher)...)
	report.Rows = append(report.Rows, PublisherRows(tick, report.Publisher)...)
	return report
}

// encoderStats averages encode latency and QP over the connections that
// have encoded frames and sums their video bitrate.
func encoderStats(snaps []types.StatsSnapshot) (latencyMs, bitrateMbps, qp float64, ok bool) {
	var encoding, withQP int
	for _, snap := range snaps {
		if snap.TotalEncodedFrames == 0 {
			continue
		}
		encoding++
		latencyMs += snap.AvgEncodeTimeMs
		bitrateMbps += snap.VideoBitrate / 1e6
		if snap.AvgQP > 0 {
			withQP++
			qp += snap.AvgQP
		}
	}
	if encoding == 0 {
		return 0, 0, 0, false
	}
	latencyMs /= float64(encoding)
	if withQP > 0 {
		qp /= float64(withQP)
	}
	return latencyMs, bitrateMbps, qp, true
}

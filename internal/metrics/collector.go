package metrics

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
	pkgerrors "github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/errors"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// StatsSource produces transport stats reports for one connection.
// PollStats hands each report to deliver; the collector treats the poll as
// finished when PollStats returns.
type StatsSource interface {
	PollStats(ctx context.Context, deliver func(*types.Report)) error
	Close() error
}

type ConnectionInfo struct {
	Cluster string
	Server  string
}

type ReleaseStatus int

const (
	OtherRefsRemained ReleaseStatus = iota
	DroppedLastRef
)

const microsPerSecond = 1_000_000

// Collector turns the stats reports of one connection into a StatsSnapshot.
// It registers itself with the aggregator on creation and unregisters when
// the last reference is released.
type Collector struct {
	id     string
	seq    uint64
	agg    *Aggregator
	source StatsSource
	info   ConnectionInfo
	logger *logging.Logger

	refs     atomic.Int32
	inflight atomic.Bool
	teardown sync.Once
	closeErr error

	mu    sync.RWMutex
	snap  types.StatsSnapshot
	video streamClock
	audio streamClock
}

type streamClock struct {
	lastTimestampUs int64
	hasSample       bool
}

func NewCollector(agg *Aggregator, source StatsSource, info ConnectionInfo) *Collector {
	c := &Collector{
		id:     uuid.NewString(),
		seq:    agg.nextSeq.Add(1),
		agg:    agg,
		source: source,
		info:   info,
		logger: logging.NewLogger("collector"),
	}
	c.snap.CollectorID = c.id
	c.snap.Cluster = info.Cluster
	c.snap.Server = info.Server
	c.refs.Store(1)
	agg.RegisterCollector(c)
	return c
}

func (c *Collector) ID() string { return c.id }

func (c *Collector) Info() ConnectionInfo { return c.info }

func (c *Collector) AddRef() {
	c.refs.Add(1)
}

// tryAddRef takes a reference only while the collector is still alive.
func (c *Collector) tryAddRef() bool {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return false
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference. The call that drops the last one
// unregisters the collector and closes its source.
func (c *Collector) Release() ReleaseStatus {
	n := c.refs.Add(-1)
	if n < 0 {
		panic("metrics: collector released more times than referenced")
	}
	if n > 0 {
		return OtherRefsRemained
	}
	c.teardown.Do(func() {
		c.agg.UnregisterCollector(c)
		if c.source != nil {
			c.closeErr = c.source.Close()
		}
		c.logger.Debug("Collector released", logging.Field{Key: "collector_id", Value: c.id})
	})
	return DroppedLastRef
}

// Close releases the owning connection's reference.
func (c *Collector) Close() error {
	if c.Release() == DroppedLastRef {
		return c.closeErr
	}
	return nil
}

// Poll asks the source for a fresh report. A poll issued while another is
// still running is skipped.
func (c *Collector) Poll(ctx context.Context) error {
	if c.source == nil || !c.tryAddRef() {
		return nil
	}
	defer c.Release()
	if !c.inflight.CompareAndSwap(false, true) {
		c.logger.Debug("Poll skipped, previous poll in flight", logging.Field{Key: "collector_id", Value: c.id})
		return nil
	}
	defer c.inflight.Store(false)

	if err := c.source.PollStats(ctx, c.OnReportDelivered); err != nil {
		if pkgerrors.IsContextError(err) {
			return err
		}
		return pkgerrors.ErrSourceUnavailable(c.id, err)
	}
	return nil
}

func (c *Collector) Snapshot() types.StatsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// OnReportDelivered folds one report into the snapshot.
func (c *Collector) OnReportDelivered(report *types.Report) {
	if report == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	scan := &reportScan{
		c:             c,
		report:        report,
		encodedFrames: c.snap.TotalEncodedFrames,
		encodeTime:    c.snap.TotalEncodeTime,
		qpSum:         c.snap.QpSum,
	}
	report.Each(func(r types.Record) { r.Accept(scan) })

	c.updateEncodeAverage(scan.encodedFrames, scan.encodeTime, scan.qpSum)
	c.snap.TimestampUs = report.TimestampUs()
}

// updateEncodeAverage derives the per-frame encode time and QP from the
// change in the cumulative counters. A decrease in any counter means the
// stream restarted: totals are rebased and the averages are kept.
func (c *Collector) updateEncodeAverage(frames uint32, encodeTime float64, qpSum uint64) {
	snap := &c.snap
	switch {
	case frames < snap.TotalEncodedFrames || encodeTime < snap.TotalEncodeTime || qpSum < snap.QpSum:
		// rebase only
	case frames > snap.TotalEncodedFrames:
		delta := float64(frames - snap.TotalEncodedFrames)
		snap.AvgEncodeTimeMs = (encodeTime - snap.TotalEncodeTime) * 1000.0 / delta
		if qpSum > snap.QpSum {
			snap.AvgQP = float64(qpSum-snap.QpSum) / delta
		}
	default:
		return
	}
	snap.TotalEncodedFrames = frames
	snap.TotalEncodeTime = encodeTime
	snap.QpSum = qpSum
}

// bitrate returns the send rate between two cumulative byte counts, or
// false when no positive delta exists.
func bitrate(clock *streamClock, prevBytes, bytes uint64, timestampUs int64) (float64, bool) {
	hadSample := clock.hasSample
	prevTs := clock.lastTimestampUs
	clock.lastTimestampUs = timestampUs
	clock.hasSample = true

	if !hadSample || bytes <= prevBytes || timestampUs <= prevTs {
		return 0, false
	}
	return float64(bytes-prevBytes) * 8 * microsPerSecond / float64(timestampUs-prevTs), true
}

type reportScan struct {
	c             *Collector
	report        *types.Report
	encodedFrames uint32
	encodeTime    float64
	qpSum         uint64
	nominatedRtt  bool
}

var _ types.RecordVisitor = (*reportScan)(nil)

func (s *reportScan) VisitOutboundStream(r *types.OutboundStream) {
	snap := &s.c.snap
	switch r.Kind {
	case types.MediaKindVideo:
		snap.Width = r.FrameWidth.Or(snap.Width)
		snap.Height = r.FrameHeight.Or(snap.Height)
		snap.FramesPerSecond = r.FramesPerSecond.Or(snap.FramesPerSecond)
		s.encodeTime = r.TotalEncodeTime.Or(s.encodeTime)
		s.encodedFrames = r.FramesEncoded.Or(s.encodedFrames)
		s.qpSum = r.QpSum.Or(s.qpSum)
		snap.VideoNackCount = r.NackCount.Or(snap.VideoNackCount)
		snap.VideoPacketRetransmitted = r.RetransmittedPacketsSent.Or(snap.VideoPacketRetransmitted)
		snap.QualityLimitationReason = r.QualityLimitationReason
		snap.ContentType = r.ContentType
		snap.QualityLimitationResolutionChange = r.QualityLimitationResolutionChanges.Or(snap.QualityLimitationResolutionChange)

		prev := snap.VideoTotalSent
		snap.VideoTotalSent = r.BytesSent.Or(prev)
		if bps, ok := bitrate(&s.c.video, prev, snap.VideoTotalSent, r.TimestampUs()); ok {
			snap.VideoBitrate = bps
		}
		snap.VideoCodec = s.codecName(r)
	case types.MediaKindAudio:
		snap.AudioNackCount = r.NackCount.Or(snap.AudioNackCount)
		snap.AudioPacketRetransmitted = r.RetransmittedPacketsSent.Or(snap.AudioPacketRetransmitted)

		prev := snap.AudioTotalSent
		snap.AudioTotalSent = r.BytesSent.Or(prev)
		if bps, ok := bitrate(&s.c.audio, prev, snap.AudioTotalSent, r.TimestampUs()); ok {
			snap.AudioBitrate = bps
		}
		snap.AudioCodec = s.codecName(r)
	}
}

func (s *reportScan) VisitMediaTrack(r *types.MediaTrack) {
	if r.Kind == types.MediaKindVideo {
		s.c.snap.FramesDropped = r.FramesDropped.Or(s.c.snap.FramesDropped)
	}
}

// VisitIceCandidatePair takes RTT from the selected pair only. A nominated
// pair wins over a merely succeeded one within the same report.
func (s *reportScan) VisitIceCandidatePair(r *types.IceCandidatePair) {
	rtt, ok := r.CurrentRoundTripTime.Get()
	if !ok || !r.Selected() {
		return
	}
	nominated := r.Nominated.Or(false)
	if s.nominatedRtt && !nominated {
		return
	}
	s.nominatedRtt = s.nominatedRtt || nominated
	s.c.snap.RttMs = rtt * 1000.0
}

// Codec records are only read through report lookups.
func (s *reportScan) VisitCodec(*types.Codec) {}

func (s *reportScan) codecName(r *types.OutboundStream) string {
	id, ok := r.CodecID.Get()
	if !ok {
		return ""
	}
	if codec, ok := s.report.Codec(id); ok {
		return codec.MimeType
	}
	return ""
}

// Package publisher owns the telemetry pipeline of one publishing session:
// the aggregator, its collectors, the render tick and the tick consumers.
package publisher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/capture"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/config"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/metrics"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/results"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/statsreport"
	pkgerrors "github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/errors"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

const (
	storeFileName   = "pubstats.db"
	loopbackTimeout = 10 * time.Second
)

// TickSink consumes every render pass.
type TickSink interface {
	HandleTick(report *types.TickReport) error
}

type TickSinkFunc func(report *types.TickReport) error

func (fn TickSinkFunc) HandleTick(report *types.TickReport) error { return fn(report) }

type Option func(*Service)

// WithAggregatorOptions passes options through to the aggregator.
func WithAggregatorOptions(opts ...metrics.Option) Option {
	return func(s *Service) {
		s.aggOpts = append(s.aggOpts, opts...)
	}
}

// WithoutStore disables sqlite persistence regardless of DataDir.
func WithoutStore() Option {
	return func(s *Service) {
		s.noStore = true
	}
}

type Service struct {
	cfg      *config.Config
	aggOpts  []metrics.Option
	noStore  bool
	agg      *metrics.Aggregator
	registry *prometheus.Registry
	exporter *metrics.Exporter
	store    *results.Store
	csv      *results.CSVWriter
	video    *capture.VideoSource
	logger   *logging.Logger

	mu    sync.RWMutex
	owned map[string]*metrics.Collector
	sinks []TickSink
	last  *types.TickReport

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Service{
		cfg:    cfg,
		owned:  make(map[string]*metrics.Collector),
		stopCh: make(chan struct{}),
		logger: logging.NewLogger("publisher"),
	}
	for _, opt := range opts {
		opt(s)
	}

	aggOpts := append([]metrics.Option{
		metrics.WithWindow(cfg.SmoothingWindow),
		metrics.WithCollectorEncoderStats(),
	}, s.aggOpts...)
	s.agg = metrics.NewAggregator(aggOpts...)
	s.registry = prometheus.NewRegistry()
	s.exporter = metrics.NewExporter(s.registry)

	frames := capture.NewAdapter(cfg.OutputFormat())
	s.video = capture.NewVideoSource(frames, capture.FrameSinkFunc(func(capture.Frame) {}), capture.WithHooks(s.agg))

	if cfg.DataDir != "" && !s.noStore {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, pkgerrors.ErrStoreFailed("create data dir", err)
		}
		store, err := results.New(filepath.Join(cfg.DataDir, storeFileName), cfg.MaxStoredRows, cfg.RetentionPeriod)
		if err != nil {
			return nil, pkgerrors.ErrStoreFailed("open results store", err)
		}
		s.store = store
		s.AddSink(TickSinkFunc(func(r *types.TickReport) error {
			return store.SaveRows(r.Rows)
		}))
	}
	if cfg.CSVExportPath != "" {
		cw, err := results.OpenCSVFile(cfg.CSVExportPath)
		if err != nil {
			s.closeOutputs()
			return nil, pkgerrors.ErrStoreFailed("open csv export", err)
		}
		s.csv = cw
		s.AddSink(TickSinkFunc(func(r *types.TickReport) error {
			return cw.WriteRows(r.Rows)
		}))
	}

	for _, cc := range cfg.Connections {
		if _, err := s.AddReplayConnection(cc); err != nil {
			s.closeCollectors()
			s.closeOutputs()
			return nil, err
		}
	}
	if cfg.Loopback {
		if _, err := s.addLoopbackConnection(); err != nil {
			s.closeCollectors()
			s.closeOutputs()
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) Aggregator() *metrics.Aggregator { return s.agg }

// Gatherer exposes the service's private Prometheus registry.
func (s *Service) Gatherer() prometheus.Gatherer { return s.registry }

func (s *Service) Store() *results.Store { return s.store }

func (s *Service) VideoSource() *capture.VideoSource { return s.video }

func (s *Service) AddSink(sink TickSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// AddConnection creates a collector for src. The service holds the initial
// reference and releases it on RemoveConnection or Stop.
func (s *Service) AddConnection(src metrics.StatsSource, info metrics.ConnectionInfo) *metrics.Collector {
	c := metrics.NewCollector(s.agg, src, info)
	s.mu.Lock()
	s.owned[c.ID()] = c
	s.mu.Unlock()
	s.logger.Info("Connection added",
		logging.Field{Key: "collector_id", Value: c.ID()},
		logging.Field{Key: "cluster", Value: info.Cluster},
		logging.Field{Key: "server", Value: info.Server})
	return c
}

func (s *Service) AddReplayConnection(cc config.ConnectionConfig) (*metrics.Collector, error) {
	src, err := statsreport.NewReplaySource(cc.ReplayFile, cc.Loop)
	if err != nil {
		return nil, pkgerrors.ErrInvalidConfig("open replay "+cc.ReplayFile, err)
	}
	return s.AddConnection(src, metrics.ConnectionInfo{Cluster: cc.Cluster, Server: cc.Server}), nil
}

// AddPeerConnection attaches a live WebRTC connection. The collector owns
// pc from here on and closes it when the connection is removed.
func (s *Service) AddPeerConnection(pc statsreport.PeerConnection, info metrics.ConnectionInfo) *metrics.Collector {
	return s.AddConnection(statsreport.NewPeerConnectionSource(pc), info)
}

func (s *Service) addLoopbackConnection() (*metrics.Collector, error) {
	ctx, cancel := context.WithTimeout(context.Background(), loopbackTimeout)
	defer cancel()
	pair, err := statsreport.NewLoopbackPair(ctx)
	if err != nil {
		return nil, pkgerrors.ErrSourceUnavailable("loopback", err)
	}
	return s.AddPeerConnection(pair, metrics.ConnectionInfo{Cluster: "loopback", Server: "local"}), nil
}

func (s *Service) RemoveConnection(collectorID string) error {
	s.mu.Lock()
	c, ok := s.owned[collectorID]
	delete(s.owned, collectorID)
	s.mu.Unlock()
	if !ok {
		return pkgerrors.ErrCollectorNotFound(collectorID)
	}
	err := c.Close()
	s.logger.Info("Connection removed", logging.Field{Key: "collector_id", Value: collectorID})
	return err
}

// Tick runs one render pass and hands the result to every sink.
func (s *Service) Tick(ctx context.Context) *types.TickReport {
	report := s.agg.RenderAll(ctx)
	s.exporter.Observe(report)

	s.mu.Lock()
	s.last = report
	sinks := append([]TickSink(nil), s.sinks...)
	s.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.HandleTick(report); err != nil {
			s.logger.Warn("Tick sink failed",
				logging.Field{Key: "tick", Value: report.Tick},
				logging.Field{Key: "error", Value: err})
		}
	}
	return report
}

// Start runs the tick loop, and the test pattern when enabled, until Stop
// or ctx cancellation.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()

	if s.cfg.TestPattern {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			capture.RunPattern(ctx, s.video, s.cfg.TestPatternWidth, s.cfg.TestPatternHeight, s.cfg.TestPatternFPS)
		}()
	}

	s.logger.Info("Publisher stats started",
		logging.Field{Key: "poll_interval", Value: s.cfg.PollInterval.String()},
		logging.Field{Key: "collectors", Value: s.agg.CollectorCount()},
		logging.Field{Key: "test_pattern", Value: s.cfg.TestPattern})
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.closeCollectors()
		s.closeOutputs()
		s.logger.Info("Publisher stats stopped")
	})
}

func (s *Service) closeCollectors() {
	s.mu.Lock()
	owned := s.owned
	s.owned = make(map[string]*metrics.Collector)
	s.mu.Unlock()
	for id, c := range owned {
		if err := c.Close(); err != nil {
			s.logger.Warn("Collector close failed",
				logging.Field{Key: "collector_id", Value: id},
				logging.Field{Key: "error", Value: err})
		}
	}
}

func (s *Service) closeOutputs() {
	if s.csv != nil {
		if err := s.csv.Close(); err != nil {
			s.logger.Warn("CSV export close failed", logging.Field{Key: "error", Value: err})
		}
	}
	if s.store != nil {
		s.store.Close()
	}
}

func (s *Service) PublisherMetrics() types.PublisherMetrics {
	return s.agg.PublisherMetrics()
}

func (s *Service) Snapshots() []types.StatsSnapshot {
	collectors := s.agg.Collectors()
	out := make([]types.StatsSnapshot, 0, len(collectors))
	for _, c := range collectors {
		out = append(out, c.Snapshot())
	}
	return out
}

func (s *Service) Snapshot(collectorID string) (types.StatsSnapshot, error) {
	c, ok := s.agg.Collector(collectorID)
	if !ok {
		return types.StatsSnapshot{}, pkgerrors.ErrCollectorNotFound(collectorID)
	}
	return c.Snapshot(), nil
}

func (s *Service) LastTick() *types.TickReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

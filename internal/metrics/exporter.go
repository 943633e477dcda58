package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// Exporter mirrors each rendered tick into Prometheus gauges. It never
// polls; values change only when Observe is called.
type Exporter struct {
	collectorValues *prometheus.GaugeVec
	publisherValues *prometheus.GaugeVec
	collectorsLive  prometheus.Gauge
	ticks           prometheus.Counter

	mu    sync.Mutex
	known map[string]struct{}
}

func NewExporter(reg prometheus.Registerer) *Exporter {
	factory := promauto.With(reg)
	return &Exporter{
		collectorValues: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pubstats_collector_value",
				Help: "Last rendered value of a per-connection publisher metric",
			},
			[]string{"collector_id", "metric"},
		),
		publisherValues: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pubstats_publisher_value",
				Help: "Last rendered value of a smoothed publisher-wide metric",
			},
			[]string{"metric"},
		),
		collectorsLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pubstats_collectors",
				Help: "Number of registered stats collectors",
			},
		),
		ticks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pubstats_render_ticks_total",
				Help: "Total number of render passes",
			},
		),
		known: make(map[string]struct{}),
	}
}

// Observe publishes a tick. Series of collectors missing from the tick are
// removed.
func (e *Exporter) Observe(report *types.TickReport) {
	if report == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]struct{}, len(report.Collectors))
	for _, row := range report.Rows {
		if row.CollectorID == "" {
			e.publisherValues.WithLabelValues(row.Name).Set(row.Value)
			continue
		}
		seen[row.CollectorID] = struct{}{}
		e.collectorValues.WithLabelValues(row.CollectorID, row.Name).Set(row.Value)
	}
	for id := range e.known {
		if _, ok := seen[id]; !ok {
			e.collectorValues.DeletePartialMatch(prometheus.Labels{"collector_id": id})
		}
	}
	e.known = seen
	e.collectorsLive.Set(float64(report.Publisher.Collectors))
	e.ticks.Inc()
}

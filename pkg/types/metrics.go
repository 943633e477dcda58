package types

import "time"

// PublisherMetrics are the smoothed values owned by the aggregator itself.
type PublisherMetrics struct {
	SubmitFPS          float64 `json:"submit_fps"`
	TextureReadbackAvg float64 `json:"texture_readback_avg_s"`
	EncoderLatencyMs   float64 `json:"encoder_latency_ms"`
	EncoderBitrateMbps float64 `json:"encoder_bitrate_mbps"`
	EncoderQP          float64 `json:"encoder_qp"`
	Collectors         int     `json:"collectors"`
}

type ExportRow struct {
	Tick        uint64  `json:"tick"`
	CollectorID string  `json:"collector_id,omitempty"`
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
}

// TickReport is everything one render pass produced.
type TickReport struct {
	Tick       uint64           `json:"tick"`
	Time       time.Time        `json:"time"`
	Publisher  PublisherMetrics `json:"publisher"`
	Collectors []StatsSnapshot  `json:"collectors"`
	Lines      []string         `json:"lines"`
	Rows       []ExportRow      `json:"rows"`
}

// Snapshot returns the collector state with the given id.
func (r *TickReport) Snapshot(collectorID string) (StatsSnapshot, bool) {
	for _, s := range r.Collectors {
		if s.CollectorID == collectorID {
			return s, true
		}
	}
	return StatsSnapshot{}, false
}

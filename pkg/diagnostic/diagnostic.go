// Package diagnostic interprets a collector snapshot into human/agent-readable
// grades, ratings, and concerns about the outbound stream.
package diagnostic

import (
	"fmt"
	"strings"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// Interpretation holds the semantic interpretation of a publisher snapshot.
type Interpretation struct {
	Grade             string   `json:"grade"`
	Summary           string   `json:"summary"`
	LatencyRating     string   `json:"latency_rating"`
	BitrateRating     string   `json:"bitrate_rating"`
	SmoothnessRating  string   `json:"smoothness_rating"`
	QualityLimitation string   `json:"quality_limitation,omitempty"`
	Concerns          []string `json:"concerns"`
}

// Params are the raw values to interpret.
type Params struct {
	RttMs             float64
	VideoBitrate      float64 // bits per second
	FramesPerSecond   float64
	TargetFPS         int
	FramesDropped     uint32
	TotalFrames       uint32
	RetransmitPackets uint64
	NackCount         uint32
	QualityLimitation string
}

// FromSnapshot fills Params from a collector snapshot.
func FromSnapshot(s types.StatsSnapshot, targetFPS int) Params {
	return Params{
		RttMs:             s.RttMs,
		VideoBitrate:      s.VideoBitrate,
		FramesPerSecond:   s.FramesPerSecond,
		TargetFPS:         targetFPS,
		FramesDropped:     s.FramesDropped,
		TotalFrames:       s.TotalEncodedFrames,
		RetransmitPackets: s.VideoPacketRetransmitted,
		NackCount:         s.VideoNackCount,
		QualityLimitation: s.QualityLimitationReason.Or(""),
	}
}

// Interpret produces a diagnostic Interpretation from raw values.
func Interpret(p Params) *Interpretation {
	interp := &Interpretation{Concerns: []string{}}

	interp.LatencyRating = rateLatency(p.RttMs)
	interp.BitrateRating = rateBitrate(p.VideoBitrate)
	interp.SmoothnessRating = rateSmoothness(p)
	if p.QualityLimitation != "" && p.QualityLimitation != "none" {
		interp.QualityLimitation = p.QualityLimitation
	}

	interp.Concerns = concerns(p)
	interp.Grade = computeGrade(interp.LatencyRating, interp.BitrateRating, interp.SmoothnessRating)
	if interp.QualityLimitation != "" && interp.Grade == "A" {
		interp.Grade = "B"
	}
	interp.Summary = buildSummary(interp.Grade, p)

	return interp
}

func rateLatency(ms float64) string {
	switch {
	case ms <= 0:
		return "unknown"
	case ms <= 20:
		return "excellent"
	case ms <= 50:
		return "good"
	case ms <= 100:
		return "fair"
	default:
		return "poor"
	}
}

func rateBitrate(bps float64) string {
	kbps := bps / 1000
	switch {
	case kbps <= 0:
		return "unknown"
	case kbps >= 4000:
		return "high"
	case kbps >= 1500:
		return "good"
	case kbps >= 500:
		return "moderate"
	default:
		return "low"
	}
}

func rateSmoothness(p Params) string {
	if p.FramesPerSecond <= 0 {
		return "unknown"
	}
	if dropRatio(p) > 0.05 {
		return "unstable"
	}
	if p.TargetFPS > 0 {
		ratio := p.FramesPerSecond / float64(p.TargetFPS)
		switch {
		case ratio < 0.5:
			return "unstable"
		case ratio < 0.8:
			return "degraded"
		case ratio < 0.95:
			return "fair"
		}
	}
	return "smooth"
}

func dropRatio(p Params) float64 {
	total := float64(p.TotalFrames) + float64(p.FramesDropped)
	if total == 0 {
		return 0
	}
	return float64(p.FramesDropped) / total
}

func concerns(p Params) []string {
	c := []string{}

	if p.RttMs > 100 {
		c = append(c, "high_latency")
	}
	if p.VideoBitrate > 0 && p.VideoBitrate < 500_000 {
		c = append(c, "low_bitrate")
	}
	if p.TargetFPS > 0 && p.FramesPerSecond > 0 && p.FramesPerSecond < 0.8*float64(p.TargetFPS) {
		c = append(c, "low_framerate")
	}
	if dropRatio(p) > 0.01 {
		c = append(c, "frames_dropped")
	}
	if p.RetransmitPackets > 0 && p.NackCount > 0 {
		c = append(c, "retransmissions")
	}
	switch p.QualityLimitation {
	case "bandwidth":
		c = append(c, "bandwidth_limited")
	case "cpu":
		c = append(c, "cpu_limited")
	case "other":
		c = append(c, "quality_limited")
	}

	return c
}

var ratingScore = map[string]int{
	"excellent": 4,
	"high":      4,
	"smooth":    4,
	"good":      3,
	"fair":      2,
	"moderate":  2,
	"degraded":  1,
	"poor":      0,
	"low":       0,
	"unstable":  0,
	"unknown":   2, // neutral default
}

func computeGrade(latency, bitrate, smoothness string) string {
	score := ratingScore[latency] + ratingScore[bitrate] + ratingScore[smoothness]
	// Max score = 12 (4+4+4)
	switch {
	case score >= 11:
		return "A"
	case score >= 9:
		return "B"
	case score >= 6:
		return "C"
	case score >= 3:
		return "D"
	default:
		return "F"
	}
}

func buildSummary(grade string, p Params) string {
	gradeDesc := map[string]string{
		"A": "Excellent",
		"B": "Good",
		"C": "Fair",
		"D": "Poor",
		"F": "Very poor",
	}

	parts := []string{}
	if p.VideoBitrate > 0 {
		parts = append(parts, fmt.Sprintf("%.0f kbps video", p.VideoBitrate/1000))
	}
	if p.FramesPerSecond > 0 {
		parts = append(parts, fmt.Sprintf("%.0f fps", p.FramesPerSecond))
	}
	if p.RttMs > 0 {
		parts = append(parts, fmt.Sprintf("%.0fms rtt", p.RttMs))
	}

	summary := gradeDesc[grade] + " stream"
	if len(parts) > 0 {
		summary += ": " + strings.Join(parts, ", ")
	}
	return summary
}

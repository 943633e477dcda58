package metrics

import (
	"strings"
	"testing"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

func TestScaleUnit(t *testing.T) {
	tests := []struct {
		in       float64
		want     float64
		wantUnit string
	}{
		{500, 500, "bps"},
		{999.5, 999.5, "bps"},
		{5000, 5, "Kbps"},
		{5_000_000, 5, "Mbps"},
		{2_500_000, 2.5, "Mbps"},
	}
	for _, tt := range tests {
		got, unit := ScaleUnit(tt.in, "bps")
		if got != tt.want || unit != tt.wantUnit {
			t.Fatalf("ScaleUnit(%v) = %v %s, want %v %s", tt.in, got, unit, tt.want, tt.wantUnit)
		}
	}
}

func TestScaleUnitIntegerTruncates(t *testing.T) {
	got, unit := ScaleUnit(uint64(5_999), "B")
	if got != 5 || unit != "KB" {
		t.Fatalf("ScaleUnit(5999) = %d %s, want 5 KB", got, unit)
	}
	got, unit = ScaleUnit(uint64(500), "B")
	if got != 500 || unit != "B" {
		t.Fatalf("ScaleUnit(500) = %d %s, want 500 B", got, unit)
	}
}

func TestFormatLinesOptionalFields(t *testing.T) {
	s := types.StatsSnapshot{VideoBitrate: 2_500_000, Width: 1920, Height: 1080, FramesPerSecond: 59.9}

	text := strings.Join(FormatLines(s, 3), "\n")
	if strings.Contains(text, "Quality limitation reason") || strings.Contains(text, "Content Type") {
		t.Fatalf("absent optional fields rendered:\n%s", text)
	}
	for _, want := range []string{"Video Bitrate = 2.50 Mbps", "Video resolution = 1920x1080", "FPS = 59", "Stats Collector 3"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}

	s.QualityLimitationReason = types.Some("bandwidth")
	s.ContentType = types.Some("")
	text = strings.Join(FormatLines(s, 0), "\n")
	if !strings.Contains(text, "Quality limitation reason = bandwidth") || !strings.Contains(text, "Content Type = ") {
		t.Fatalf("present optional fields missing:\n%s", text)
	}
}

func TestExportRowsNamesAndOrder(t *testing.T) {
	s := types.StatsSnapshot{CollectorID: "c1", RttMs: 12.5, TimestampUs: 42}
	rows := ExportRows(7, s)
	want := []string{
		"Rtt", "Width", "Height", "FramePerSecond", "VideoBitrate", "AudioBitrate",
		"VideoTotalSent", "AudioTotalSent", "VideoPacketRetransmitted", "AudioPacketRetransmitted",
		"TotalEncodedFrames", "TotalEncodeTime", "AvgEncodeTime", "FramesDropped",
		"QualityLimitationResolutionChange", "Timestamp", "AudioNackCount", "VideoNackCount",
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %d, want %d", len(rows), len(want))
	}
	for i, name := range want {
		if rows[i].Name != name || rows[i].Tick != 7 || rows[i].CollectorID != "c1" {
			t.Fatalf("row %d = %+v, want name %s", i, rows[i], name)
		}
	}
	if rows[0].Value != 12.5 || rows[15].Value != 42 {
		t.Fatalf("unexpected values rtt=%v ts=%v", rows[0].Value, rows[15].Value)
	}
}

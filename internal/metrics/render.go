package metrics

import (
	"fmt"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

type Number interface {
	~int | ~int64 | ~uint32 | ~uint64 | ~float64
}

// ScaleUnit divides v by 1e6 or 1e3 once it reaches that size and prefixes
// unit with M or K. Integer values are truncated.
func ScaleUnit[T Number](v T, unit string) (T, string) {
	const (
		kilo = 1_000
		mega = 1_000_000
	)
	if v >= T(mega) {
		return v / T(mega), "M" + unit
	}
	if v >= T(kilo) {
		return v / T(kilo), "K" + unit
	}
	return v, unit
}

// Export row names, in export order.
const (
	RowRtt                               = "Rtt"
	RowWidth                             = "Width"
	RowHeight                            = "Height"
	RowFramePerSecond                    = "FramePerSecond"
	RowVideoBitrate                      = "VideoBitrate"
	RowAudioBitrate                      = "AudioBitrate"
	RowVideoTotalSent                    = "VideoTotalSent"
	RowAudioTotalSent                    = "AudioTotalSent"
	RowVideoPacketRetransmitted          = "VideoPacketRetransmitted"
	RowAudioPacketRetransmitted          = "AudioPacketRetransmitted"
	RowTotalEncodedFrames                = "TotalEncodedFrames"
	RowTotalEncodeTime                   = "TotalEncodeTime"
	RowAvgEncodeTime                     = "AvgEncodeTime"
	RowFramesDropped                     = "FramesDropped"
	RowQualityLimitationResolutionChange = "QualityLimitationResolutionChange"
	RowTimestamp                         = "Timestamp"
	RowAudioNackCount                    = "AudioNackCount"
	RowVideoNackCount                    = "VideoNackCount"

	RowSubmitFPS          = "SubmitFPS"
	RowTextureReadbackAvg = "TextureReadbackAvg"
	RowEncoderLatencyMs   = "EncoderLatencyMs"
	RowEncoderBitrateMbps = "EncoderBitrateMbps"
	RowEncoderQP          = "EncoderQP"
)

// FormatLines renders one collector as on-screen text, one metric per line.
// index is the collector's position in the render pass.
func FormatLines(s types.StatsSnapshot, index int) []string {
	lines := make([]string, 0, 24)
	add := func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	if reason, ok := s.QualityLimitationReason.Get(); ok {
		add("Quality limitation reason = %s", reason)
	}
	add("Quality limitation resolution changes = %d", s.QualityLimitationResolutionChange)
	if contentType, ok := s.ContentType.Get(); ok {
		add("Content Type = %s", contentType)
	}
	add("Video Frame dropped = %d", s.FramesDropped)
	add("Video Packet Retransmitted = %d", s.VideoPacketRetransmitted)
	add("Audio Packet Retransmitted = %d", s.AudioPacketRetransmitted)
	add("Video NACK count = %d", s.VideoNackCount)
	add("Audio NACK count = %d", s.AudioNackCount)
	add("Total Encode Time = %.2f s", s.TotalEncodeTime)
	add("Avg Encode Time = %.2f ms", s.AvgEncodeTimeMs)
	add("RTT = %.2f ms", s.RttMs)
	add("Video resolution = %dx%d", s.Width, s.Height)
	add("FPS = %d", int(s.FramesPerSecond))

	videoBitrate, videoBitrateUnit := ScaleUnit(s.VideoBitrate, "bps")
	audioBitrate, audioBitrateUnit := ScaleUnit(s.AudioBitrate, "bps")
	videoBytes, videoBytesUnit := ScaleUnit(s.VideoTotalSent, "B")
	audioBytes, audioBytesUnit := ScaleUnit(s.AudioTotalSent, "B")

	add("Video Bitrate = %.2f %s", videoBitrate, videoBitrateUnit)
	add("Audio Bitrate = %.2f %s", audioBitrate, audioBitrateUnit)
	add("Video Total Sent = %d %s", videoBytes, videoBytesUnit)
	add("Audio Total Sent = %d %s", audioBytes, audioBytesUnit)
	add("Codecs = %s,%s", s.VideoCodec, s.AudioCodec)
	add("Cluster = %s", s.Cluster)
	add("Server = %s", s.Server)
	add("Stats Collector %d", index)
	return lines
}

func FormatPublisherLines(m types.PublisherMetrics) []string {
	return []string{
		fmt.Sprintf("SubmitFPS = %.2f", m.SubmitFPS),
		fmt.Sprintf("TextureReadTime = %.6f s", m.TextureReadbackAvg),
		fmt.Sprintf("Encode Latency = %.2f ms", m.EncoderLatencyMs),
		fmt.Sprintf("Encode Bitrate = %.2f Mbps", m.EncoderBitrateMbps),
		fmt.Sprintf("Encode QP = %.0f", m.EncoderQP),
	}
}

// ExportRows flattens a snapshot into one row per metric.
func ExportRows(tick uint64, s types.StatsSnapshot) []types.ExportRow {
	values := []struct {
		name  string
		value float64
	}{
		{RowRtt, s.RttMs},
		{RowWidth, float64(s.Width)},
		{RowHeight, float64(s.Height)},
		{RowFramePerSecond, float64(int(s.FramesPerSecond))},
		{RowVideoBitrate, s.VideoBitrate},
		{RowAudioBitrate, s.AudioBitrate},
		{RowVideoTotalSent, float64(s.VideoTotalSent)},
		{RowAudioTotalSent, float64(s.AudioTotalSent)},
		{RowVideoPacketRetransmitted, float64(s.VideoPacketRetransmitted)},
		{RowAudioPacketRetransmitted, float64(s.AudioPacketRetransmitted)},
		{RowTotalEncodedFrames, float64(s.TotalEncodedFrames)},
		{RowTotalEncodeTime, s.TotalEncodeTime},
		{RowAvgEncodeTime, s.AvgEncodeTimeMs},
		{RowFramesDropped, float64(s.FramesDropped)},
		{RowQualityLimitationResolutionChange, float64(s.QualityLimitationResolutionChange)},
		{RowTimestamp, float64(s.TimestampUs)},
		{RowAudioNackCount, float64(s.AudioNackCount)},
		{RowVideoNackCount, float64(s.VideoNackCount)},
	}
	rows := make([]types.ExportRow, len(values))
	for i, v := range values {
		rows[i] = types.ExportRow{Tick: tick, CollectorID: s.CollectorID, Name: v.name, Value: v.value}
	}
	return rows
}

func PublisherRows(tick uint64, m types.PublisherMetrics) []types.ExportRow {
	return []types.ExportRow{
		{Tick: tick, Name: RowSubmitFPS, Value: m.SubmitFPS},
		{Tick: tick, Name: RowTextureReadbackAvg, Value: m.TextureReadbackAvg},
		{Tick: tick, Name: RowEncoderLatencyMs, Value: m.EncoderLatencyMs},
		{Tick: tick, Name: RowEncoderBitrateMbps, Value: m.EncoderBitrateMbps},
		{Tick: tick, Name: RowEncoderQP, Value: m.EncoderQP},
	}
}

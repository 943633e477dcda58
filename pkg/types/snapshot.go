package types

// StatsSnapshot is the last-known state of one publisher connection.
// RttMs and AvgEncodeTimeMs are milliseconds, TotalEncodeTime is seconds
// and bitrates are bits per second.
type StatsSnapshot struct {
	CollectorID string `json:"collector_id"`
	Cluster     string `json:"cluster,omitempty"`
	Server      string `json:"server,omitempty"`

	RttMs           float64 `json:"rtt_ms"`
	Width           uint32  `json:"width"`
	Height          uint32  `json:"height"`
	FramesPerSecond float64 `json:"frames_per_second"`

	VideoBitrate   float64 `json:"video_bitrate"`
	AudioBitrate   float64 `json:"audio_bitrate"`
	VideoTotalSent uint64  `json:"video_total_sent"`
	AudioTotalSent uint64  `json:"audio_total_sent"`

	VideoPacketRetransmitted uint64 `json:"video_packet_retransmitted"`
	AudioPacketRetransmitted uint64 `json:"audio_packet_retransmitted"`
	VideoNackCount           uint32 `json:"video_nack_count"`
	AudioNackCount           uint32 `json:"audio_nack_count"`

	TotalEncodedFrames uint32  `json:"total_encoded_frames"`
	TotalEncodeTime    float64 `json:"total_encode_time"`
	AvgEncodeTimeMs    float64 `json:"avg_encode_time_ms"`
	QpSum              uint64  `json:"qp_sum"`
	AvgQP              float64 `json:"avg_qp"`
	FramesDropped      uint32  `json:"frames_dropped"`

	QualityLimitationReason           Optional[string] `json:"quality_limitation_reason"`
	QualityLimitationResolutionChange uint32           `json:"quality_limitation_resolution_change"`
	ContentType                       Optional[string] `json:"content_type"`

	VideoCodec string `json:"video_codec"`
	AudioCodec string `json:"audio_codec"`

	// TimestampUs is the timestamp of the report that produced this state.
	TimestampUs int64 `json:"timestamp_us"`
}

package types

type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

// Record type tags as they appear in transport stats reports.
const (
	RecordTypeOutboundRTP   = "outbound-rtp"
	RecordTypeTrack         = "track"
	RecordTypeCandidatePair = "candidate-pair"
	RecordTypeCodec         = "codec"
)

// Record is one entry of a stats report. The set of implementations is
// closed: OutboundStream, MediaTrack, IceCandidatePair and Codec.
type Record interface {
	RecordID() string
	TimestampUs() int64
	Accept(v RecordVisitor)
}

// RecordVisitor must handle every record kind; adding a kind breaks every
// visitor that does not handle it.
type RecordVisitor interface {
	VisitOutboundStream(r *OutboundStream)
	VisitMediaTrack(r *MediaTrack)
	VisitIceCandidatePair(r *IceCandidatePair)
	VisitCodec(r *Codec)
}

type RecordHeader struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp_us"`
}

func (h RecordHeader) RecordID() string   { return h.ID }
func (h RecordHeader) TimestampUs() int64 { return h.Timestamp }

type OutboundStream struct {
	RecordHeader
	Kind                               MediaKind         `json:"kind"`
	CodecID                            Optional[string]  `json:"codec_id"`
	FrameWidth                         Optional[uint32]  `json:"frame_width"`
	FrameHeight                        Optional[uint32]  `json:"frame_height"`
	FramesPerSecond                    Optional[float64] `json:"frames_per_second"`
	BytesSent                          Optional[uint64]  `json:"bytes_sent"`
	TotalEncodeTime                    Optional[float64] `json:"total_encode_time"`
	FramesEncoded                      Optional[uint32]  `json:"frames_encoded"`
	QpSum                              Optional[uint64]  `json:"qp_sum"`
	NackCount                          Optional[uint32]  `json:"nack_count"`
	RetransmittedPacketsSent           Optional[uint64]  `json:"retransmitted_packets_sent"`
	QualityLimitationReason            Optional[string]  `json:"quality_limitation_reason"`
	QualityLimitationResolutionChanges Optional[uint32]  `json:"quality_limitation_resolution_changes"`
	ContentType                        Optional[string]  `json:"content_type"`
}

func (r *OutboundStream) Accept(v RecordVisitor) { v.VisitOutboundStream(r) }

type MediaTrack struct {
	RecordHeader
	Kind          MediaKind        `json:"kind"`
	FramesDropped Optional[uint32] `json:"frames_dropped"`
}

func (r *MediaTrack) Accept(v RecordVisitor) { v.VisitMediaTrack(r) }

// CandidatePairSucceeded is the pair state reported once connectivity
// checks on the pair have passed.
const CandidatePairSucceeded = "succeeded"

type IceCandidatePair struct {
	RecordHeader
	// CurrentRoundTripTime is in seconds.
	CurrentRoundTripTime Optional[float64] `json:"current_round_trip_time"`
	Nominated            Optional[bool]    `json:"nominated"`
	State                Optional[string]  `json:"state"`
}

// Selected reports whether the pair carries the live path. Reports that
// omit both nominated and state describe only the selected pair.
func (r *IceCandidatePair) Selected() bool {
	nominated, hasNominated := r.Nominated.Get()
	state, _ := r.State.Get()
	if nominated || state == CandidatePairSucceeded {
		return true
	}
	return !hasNominated && state == ""
}

func (r *IceCandidatePair) Accept(v RecordVisitor) { v.VisitIceCandidatePair(r) }

type Codec struct {
	RecordHeader
	MimeType    string           `json:"mime_type"`
	PayloadType Optional[uint8]  `json:"payload_type"`
	ClockRate   Optional[uint32] `json:"clock_rate"`
}

func (r *Codec) Accept(v RecordVisitor) { v.VisitCodec(r) }

// Report is an immutable snapshot of transport statistics taken at one
// point in time.
type Report struct {
	timestampUs int64
	records     []Record
	codecs      map[string]*Codec
}

func NewReport(timestampUs int64, records ...Record) *Report {
	r := &Report{
		timestampUs: timestampUs,
		records:     append([]Record(nil), records...),
		codecs:      make(map[string]*Codec),
	}
	for _, rec := range r.records {
		if c, ok := rec.(*Codec); ok {
			r.codecs[c.ID] = c
		}
	}
	return r
}

func (r *Report) TimestampUs() int64 {
	return r.timestampUs
}

func (r *Report) Len() int {
	return len(r.records)
}

// Each calls fn for every record in report order.
func (r *Report) Each(fn func(Record)) {
	for _, rec := range r.records {
		fn(rec)
	}
}

// Codec looks a codec record up by id.
func (r *Report) Codec(id string) (*Codec, bool) {
	c, ok := r.codecs[id]
	return c, ok
}

// Package statsreport decodes transport stats reports in the W3C WebRTC
// stats JSON shape into types.Report values.
package statsreport

import (
	"math"

	"github.com/tidwall/gjson"

	pkgerrors "github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/errors"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// Parse decodes one report. data is either an array of stats objects, an
// object keyed by stats id, or a {"timestamp": ms, "stats": ...} envelope.
// Stats types other than outbound-rtp, track, candidate-pair and codec are
// ignored. Timestamps are milliseconds in the JSON and microseconds in the
// result; without an envelope timestamp the newest record timestamp is used.
func Parse(data []byte) (*types.Report, error) {
	if !gjson.ValidBytes(data) {
		return nil, pkgerrors.ErrInvalidReport("malformed stats json", nil)
	}
	root := gjson.ParseBytes(data)

	var reportTs int64
	hasReportTs := false
	body := root
	if root.IsObject() {
		if stats := root.Get("stats"); stats.Exists() {
			body = stats
			if ts := root.Get("timestamp"); ts.Exists() {
				reportTs = millisToMicros(ts.Float())
				hasReportTs = true
			}
		}
	}
	if !body.IsArray() && !body.IsObject() {
		return nil, pkgerrors.ErrInvalidReport("stats must be an array or object", nil)
	}

	var records []types.Record
	var newest int64
	body.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			return true
		}
		rec := parseRecord(key, value)
		if rec == nil {
			return true
		}
		if rec.TimestampUs() > newest {
			newest = rec.TimestampUs()
		}
		records = append(records, rec)
		return true
	})

	if !hasReportTs {
		reportTs = newest
	}
	return types.NewReport(reportTs, records...), nil
}

func parseRecord(key, v gjson.Result) types.Record {
	id := v.Get("id").String()
	if id == "" && key.Type == gjson.String {
		id = key.String()
	}
	header := types.RecordHeader{
		ID:        id,
		Timestamp: millisToMicros(v.Get("timestamp").Float()),
	}

	switch v.Get("type").String() {
	case types.RecordTypeOutboundRTP:
		return &types.OutboundStream{
			RecordHeader:                       header,
			Kind:                               mediaKind(v),
			CodecID:                            optString(v, "codecId"),
			FrameWidth:                         optUint32(v, "frameWidth"),
			FrameHeight:                        optUint32(v, "frameHeight"),
			FramesPerSecond:                    optFloat(v, "framesPerSecond"),
			BytesSent:                          optUint64(v, "bytesSent"),
			TotalEncodeTime:                    optFloat(v, "totalEncodeTime"),
			FramesEncoded:                      optUint32(v, "framesEncoded"),
			QpSum:                              optUint64(v, "qpSum"),
			NackCount:                          optUint32(v, "nackCount"),
			RetransmittedPacketsSent:           optUint64(v, "retransmittedPacketsSent"),
			QualityLimitationReason:            optString(v, "qualityLimitationReason"),
			QualityLimitationResolutionChanges: optUint32(v, "qualityLimitationResolutionChanges"),
			ContentType:                        optString(v, "contentType"),
		}
	case types.RecordTypeTrack:
		return &types.MediaTrack{
			RecordHeader:  header,
			Kind:          mediaKind(v),
			FramesDropped: optUint32(v, "framesDropped"),
		}
	case types.RecordTypeCandidatePair:
		return &types.IceCandidatePair{
			RecordHeader:         header,
			CurrentRoundTripTime: optFloat(v, "currentRoundTripTime"),
			Nominated:            optBool(v, "nominated"),
			State:                optString(v, "state"),
		}
	case types.RecordTypeCodec:
		pt := types.None[uint8]()
		if r := v.Get("payloadType"); r.Exists() && r.Uint() <= math.MaxUint8 {
			pt = types.Some(uint8(r.Uint()))
		}
		return &types.Codec{
			RecordHeader: header,
			MimeType:     v.Get("mimeType").String(),
			PayloadType:  pt,
			ClockRate:    optUint32(v, "clockRate"),
		}
	default:
		return nil
	}
}

// mediaKind reads "kind", falling back to the older "mediaType" key.
func mediaKind(v gjson.Result) types.MediaKind {
	kind := v.Get("kind").String()
	if kind == "" {
		kind = v.Get("mediaType").String()
	}
	return types.MediaKind(kind)
}

func millisToMicros(ms float64) int64 {
	return int64(math.Round(ms * 1000))
}

func optString(v gjson.Result, path string) types.Optional[string] {
	r := v.Get(path)
	if !r.Exists() || r.Type == gjson.Null {
		return types.None[string]()
	}
	return types.Some(r.String())
}

func optBool(v gjson.Result, path string) types.Optional[bool] {
	r := v.Get(path)
	if r.Type != gjson.True && r.Type != gjson.False {
		return types.None[bool]()
	}
	return types.Some(r.Bool())
}

func optFloat(v gjson.Result, path string) types.Optional[float64] {
	r := v.Get(path)
	if r.Type != gjson.Number {
		return types.None[float64]()
	}
	return types.Some(r.Float())
}

func optUint64(v gjson.Result, path string) types.Optional[uint64] {
	r := v.Get(path)
	if r.Type != gjson.Number || r.Float() < 0 {
		return types.None[uint64]()
	}
	return types.Some(r.Uint())
}

func optUint32(v gjson.Result, path string) types.Optional[uint32] {
	r := v.Get(path)
	if r.Type != gjson.Number || r.Float() < 0 || r.Uint() > math.MaxUint32 {
		return types.None[uint32]()
	}
	return types.Some(uint32(r.Uint()))
}

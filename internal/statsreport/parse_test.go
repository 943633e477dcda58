package statsreport_test

import (
	"testing"

	"github.com/tidwall/sjson"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/statsreport"
	pkgerrors "github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/errors"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// withFields applies path/value pairs to doc.
func withFields(t *testing.T, doc string, kv ...interface{}) string {
	t.Helper()
	if len(kv)%2 != 0 {
		t.Fatalf("withFields needs path/value pairs")
	}
	var err error
	for i := 0; i < len(kv); i += 2 {
		doc, err = sjson.Set(doc, kv[i].(string), kv[i+1])
		if err != nil {
			t.Fatalf("sjson.Set %v: %v", kv[i], err)
		}
	}
	return doc
}

type recordsByKind struct {
	outbound []*types.OutboundStream
	tracks   []*types.MediaTrack
	pairs    []*types.IceCandidatePair
	codecs   []*types.Codec
}

func (r *recordsByKind) VisitOutboundStream(s *types.OutboundStream) { r.outbound = append(r.outbound, s) }
func (r *recordsByKind) VisitMediaTrack(s *types.MediaTrack) { r.tracks = append(r.tracks, s) }
func (r *recordsByKind) VisitIceCandidatePair(s *types.IceCandidatePair) { r.pairs = append(r.pairs, s) }
func (r *recordsByKind) VisitCodec(s *types.Codec) { r.codecs = append(r.codecs, s) }

func split(report *types.Report) *recordsByKind {
	out := &recordsByKind{}
	report.Each(func(rec types.Record) { rec.Accept(out) })
	return out
}

func TestParseArrayReport(t *testing.T) {
	doc := withFields(t, "[]",
		"0.id", "OT01V",
		"0.type", "outbound-rtp",
		"0.timestamp", 1000.5,
		"0.kind", "video",
		"0.codecId", "COT01_96",
		"0.frameWidth", 1280,
		"0.frameHeight", 720,
		"0.framesPerSecond", 29.97,
		"0.bytesSent", 123456,
		"0.totalEncodeTime", 1.25,
		"0.framesEncoded", 300,
		"0.nackCount", 2,
		"0.retransmittedPacketsSent", 5,
		"0.qualityLimitationReason", "bandwidth",
		"0.qualityLimitationResolutionChanges", 1,
		"1.id", "COT01_96",
		"1.type", "codec",
		"1.timestamp", 1000.5,
		"1.mimeType", "video/VP8",
		"1.payloadType", 96,
		"1.clockRate", 90000,
		"2.id", "CP01",
		"2.type", "candidate-pair",
		"2.timestamp", 1001,
		"2.currentRoundTripTime", 0.032,
		"3.id", "TR01",
		"3.type", "track",
		"3.timestamp", 999,
		"3.kind", "video",
		"3.framesDropped", 4,
		"4.id", "T01",
		"4.type", "transport",
		"4.timestamp", 2000,
	)

	report, err := statsreport.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if report.Len() != 4 {
		t.Fatalf("records = %d, want 4 (transport ignored)", report.Len())
	}
	if report.TimestampUs() != 1_001_000 {
		t.Fatalf("report timestamp = %d, want newest known record 1001000", report.TimestampUs())
	}

	got := split(report)
	if len(got.outbound) != 1 || len(got.codecs) != 1 || len(got.pairs) != 1 || len(got.tracks) != 1 {
		t.Fatalf("unexpected split: %+v", got)
	}
	out := got.outbound[0]
	if out.TimestampUs() != 1_000_500 || out.Kind != types.MediaKindVideo {
		t.Fatalf("outbound header: ts=%d kind=%s", out.TimestampUs(), out.Kind)
	}
	if out.FrameWidth.Or(0) != 1280 || out.BytesSent.Or(0) != 123456 || out.FramesEncoded.Or(0) != 300 {
		t.Fatalf("outbound counters: %+v", out)
	}
	if out.QualityLimitationReason.Or("") != "bandwidth" {
		t.Fatalf("reason = %v", out.QualityLimitationReason)
	}
	if out.ContentType.IsSet() {
		t.Fatal("content type should be absent")
	}
	if codec, ok := report.Codec("COT01_96"); !ok || codec.MimeType != "video/VP8" || codec.PayloadType.Or(0) != 96 {
		t.Fatalf("codec lookup = %+v, %v", codec, ok)
	}
	if got.pairs[0].CurrentRoundTripTime.Or(0) != 0.032 {
		t.Fatalf("rtt = %v", got.pairs[0].CurrentRoundTripTime)
	}
	if got.tracks[0].FramesDropped.Or(0) != 4 {
		t.Fatalf("frames dropped = %v", got.tracks[0].FramesDropped)
	}
}

func TestParseKeyedEnvelope(t *testing.T) {
	doc := withFields(t, `{"stats":{}}`,
		"timestamp", 5000,
		"stats.OT01A.type", "outbound-rtp",
		"stats.OT01A.timestamp", 4999,
		"stats.OT01A.mediaType", "audio",
		"stats.OT01A.bytesSent", 800,
		"stats.OT01A.qualityLimitationReason", "",
	)

	report, err := statsreport.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if report.TimestampUs() != 5_000_000 {
		t.Fatalf("report timestamp = %d, want envelope 5000000", report.TimestampUs())
	}
	got := split(report)
	if len(got.outbound) != 1 {
		t.Fatalf("outbound = %d", len(got.outbound))
	}
	out := got.outbound[0]
	if out.ID != "OT01A" {
		t.Fatalf("id from key = %q", out.ID)
	}
	if out.Kind != types.MediaKindAudio {
		t.Fatalf("kind fallback = %q", out.Kind)
	}
	if reason, ok := out.QualityLimitationReason.Get(); !ok || reason != "" {
		t.Fatalf("empty reason should be present, got %q set=%v", reason, ok)
	}
	if out.FrameWidth.IsSet() || out.TotalEncodeTime.IsSet() {
		t.Fatal("absent fields reported as present")
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	for _, in := range []string{`{"type":`, `42`, `"report"`} {
		_, err := statsreport.Parse([]byte(in))
		if err == nil {
			t.Fatalf("Parse(%q) expected error", in)
		}
		if !pkgerrors.HasCode(err, pkgerrors.ErrCodeInvalidReport) {
			t.Fatalf("Parse(%q) error = %v, want INVALID_REPORT", in, err)
		}
	}
}

func TestParseNegativeCountersAbsent(t *testing.T) {
	doc := withFields(t, "[]",
		"0.id", "OT01V",
		"0.type", "outbound-rtp",
		"0.kind", "video",
		"0.bytesSent", -1,
		"0.frameWidth", "wide",
	)
	report, err := statsreport.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out := split(report).outbound[0]
	if out.BytesSent.IsSet() || out.FrameWidth.IsSet() {
		t.Fatalf("invalid counters should be absent: %+v", out)
	}
}

func TestParseCandidatePairSelection(t *testing.T) {
	doc := withFields(t, "[]",
		"0.id", "CP01",
		"0.type", "candidate-pair",
		"0.timestamp", 1000,
		"0.currentRoundTripTime", 0.05,
		"0.nominated", true,
		"0.state", "succeeded",
		"1.id", "CP02",
		"1.type", "candidate-pair",
		"1.timestamp", 1000,
		"1.nominated", false,
		"1.state", "waiting",
		"2.id", "CP03",
		"2.type", "candidate-pair",
		"2.timestamp", 1000,
		"2.currentRoundTripTime", 0.01,
	)

	report, err := statsreport.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pairs := split(report).pairs
	if len(pairs) != 3 {
		t.Fatalf("pairs = %d, want 3", len(pairs))
	}
	if !pairs[0].Nominated.Or(false) || pairs[0].State.Or("") != types.CandidatePairSucceeded || !pairs[0].Selected() {
		t.Fatalf("nominated pair = %+v", pairs[0])
	}
	if pairs[1].Selected() || pairs[1].CurrentRoundTripTime.IsSet() {
		t.Fatalf("waiting pair = %+v", pairs[1])
	}
	if pairs[2].Nominated.IsSet() || pairs[2].State.IsSet() || !pairs[2].Selected() {
		t.Fatalf("bare pair = %+v", pairs[2])
	}
}

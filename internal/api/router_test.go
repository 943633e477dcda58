package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/errors"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

const knownID = "3d5c1b0e-2f4a-4e6b-8c7d-9e0f1a2b3c4d"

type fakeStats struct {
	snaps []types.StatsSnapshot
	tick  *types.TickReport
}

func (f *fakeStats) PublisherMetrics() types.PublisherMetrics {
	return types.PublisherMetrics{SubmitFPS: 59.5, Collectors: len(f.snaps)}
}

func (f *fakeStats) Snapshots() []types.StatsSnapshot { return f.snaps }

func (f *fakeStats) Snapshot(id string) (types.StatsSnapshot, error) {
	for _, s := range f.snaps {
		if s.CollectorID == id {
			return s, nil
		}
	}
	return types.StatsSnapshot{}, errors.ErrCollectorNotFound(id)
}

func (f *fakeStats) LastTick() *types.TickReport { return f.tick }

func newTestRouter(stats *fakeStats) http.Handler {
	r := NewRouter(NewHandler(stats))
	r.SetAllowedOrigins([]string{"https://dash.example.com"})
	r.SetMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pubstats_collectors 1\n"))
	}))
	return r.SetupRoutes()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouterAllowedOriginWildcard(t *testing.T) {
	router := &Router{
		allowedOrigins: []string{"*.example.com"},
	}

	if !router.isAllowedOrigin("https://foo.example.com") {
		t.Fatalf("expected wildcard origin to be allowed")
	}
}

func TestRouterAllowedOriginHostMatch(t *testing.T) {
	router := &Router{
		allowedOrigins: []string{"foo.example.com"},
	}

	if !router.isAllowedOrigin("https://foo.example.com:8443") {
		t.Fatalf("expected host-only origin to be allowed")
	}
}

func TestRouterCollectors(t *testing.T) {
	h := newTestRouter(&fakeStats{snaps: []types.StatsSnapshot{{CollectorID: knownID, RttMs: 20}}})

	rec := get(t, h, "/api/v1/collectors")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list CollectorsResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 || list.Collectors[0].CollectorID != knownID {
		t.Fatalf("list = %+v", list)
	}

	rec = get(t, h, "/api/v1/collectors/"+knownID)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), knownID) {
		t.Fatalf("get collector: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouterCollectorErrors(t *testing.T) {
	h := newTestRouter(&fakeStats{})

	if rec := get(t, h, "/api/v1/collectors/not-a-uuid"); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid id status = %d", rec.Code)
	}
	rec := get(t, h, "/api/v1/collectors/"+knownID)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "collector not found") {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if rec := get(t, h, "/api/v1/collectors"); !strings.Contains(rec.Body.String(), `"collectors":[]`) {
		t.Fatalf("empty list body = %s", rec.Body.String())
	}
}

func TestRouterPublisherAndLines(t *testing.T) {
	stats := &fakeStats{}
	h := newTestRouter(stats)

	if rec := get(t, h, "/api/v1/lines"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("lines before first tick = %d", rec.Code)
	}

	stats.tick = &types.TickReport{
		Tick:  4,
		Time:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Lines: []string{"Submit FPS = 59.50", "Texture readback avg = 0.00"},
	}
	rec := get(t, h, "/api/v1/publisher")
	var pub PublisherResponse
	if err := json.NewDecoder(rec.Body).Decode(&pub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pub.Tick != 4 || pub.Publisher.SubmitFPS != 59.5 || pub.Time == nil {
		t.Fatalf("publisher = %+v", pub)
	}

	rec = get(t, h, "/api/v1/lines")
	if rec.Code != http.StatusOK || rec.Body.String() != "Submit FPS = 59.50\nTexture readback avg = 0.00\n" {
		t.Fatalf("lines = %d %q", rec.Code, rec.Body.String())
	}
}

func TestRouterMetricsHealthVersion(t *testing.T) {
	h := newTestRouter(&fakeStats{})

	if rec := get(t, h, "/metrics"); !strings.Contains(rec.Body.String(), "pubstats_collectors") {
		t.Fatalf("metrics body = %s", rec.Body.String())
	}
	if rec := get(t, h, "/health"); rec.Body.String() != `{"status":"ok"}` {
		t.Fatalf("health = %s", rec.Body.String())
	}
	rec := get(t, h, "/api/v1/version")
	if !strings.Contains(rec.Body.String(), `"version":"dev"`) {
		t.Fatalf("version = %s", rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}
}

func TestRouterCORS(t *testing.T) {
	h := newTestRouter(&fakeStats{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/collectors", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://dash.example.com" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/collectors", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("disallowed preflight = %d", rec.Code)
	}
}

func TestRouterStreamRoutes(t *testing.T) {
	var topics []string
	r := NewRouter(NewHandler(&fakeStats{}))
	r.SetWebSocketHandler(func(w http.ResponseWriter, _ *http.Request, topic string) {
		topics = append(topics, topic)
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	h := r.SetupRoutes()

	get(t, h, "/api/v1/stream")
	get(t, h, "/api/v1/collectors/"+knownID+"/stream")
	if rec := get(t, h, "/api/v1/collectors/bad/stream"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id stream = %d", rec.Code)
	}
	if len(topics) != 2 || topics[0] != "" || topics[1] != knownID {
		t.Fatalf("topics = %q", topics)
	}
}

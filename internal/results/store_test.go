package results_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/results"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

const (
	collectorA = "5f0c2d1e-8a7b-4c3d-9e2f-1a2b3c4d5e6f"
	collectorB = "7a8b9c0d-1e2f-4a3b-8c4d-5e6f7a8b9c0d"
)

func newStore(t *testing.T, maxRows int) *results.Store {
	t.Helper()
	s, err := results.New(filepath.Join(t.TempDir(), "rows.db"), maxRows, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func tickRows(tick uint64) []types.ExportRow {
	return []types.ExportRow{
		{Tick: tick, CollectorID: collectorA, Name: "VideoBitrate", Value: float64(tick) * 1000},
		{Tick: tick, CollectorID: collectorB, Name: "VideoBitrate", Value: 42},
		{Tick: tick, Name: "SubmitFPS", Value: 59.9},
	}
}

func TestStoreSaveAndQuery(t *testing.T) {
	s := newStore(t, 0)
	for tick := uint64(1); tick <= 3; tick++ {
		if err := s.SaveRows(tickRows(tick)); err != nil {
			t.Fatalf("SaveRows(%d): %v", tick, err)
		}
	}

	all, err := s.Query(results.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 9 {
		t.Fatalf("rows = %d, want 9", len(all))
	}
	if all[0].Tick != 1 || all[8].Tick != 3 {
		t.Fatalf("rows not ordered by tick: first=%d last=%d", all[0].Tick, all[8].Tick)
	}
	if all[0].CreatedAt.IsZero() {
		t.Fatal("created_at not populated")
	}

	got, err := s.Query(results.Query{CollectorID: collectorA, SinceTick: 2})
	if err != nil {
		t.Fatalf("Query filtered: %v", err)
	}
	if len(got) != 2 || got[0].Value != 2000 || got[1].Value != 3000 {
		t.Fatalf("filtered rows = %+v", got)
	}

	pub, err := s.Query(results.Query{Name: "SubmitFPS", Limit: 1})
	if err != nil {
		t.Fatalf("Query by name: %v", err)
	}
	if len(pub) != 1 || pub[0].CollectorID != "" {
		t.Fatalf("publisher rows = %+v", pub)
	}
}

func TestStoreSaveEmpty(t *testing.T) {
	s := newStore(t, 0)
	if err := s.SaveRows(nil); err != nil {
		t.Fatalf("SaveRows(nil): %v", err)
	}
	if n, err := s.Count(); err != nil || n != 0 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

func TestStoreTrimsToMaxRows(t *testing.T) {
	s := newStore(t, 4)
	for tick := uint64(1); tick <= 3; tick++ {
		if err := s.SaveRows(tickRows(tick)); err != nil {
			t.Fatalf("SaveRows: %v", err)
		}
	}
	s.Cleanup()

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 4 {
		t.Fatalf("rows after trim = %d, want 4", n)
	}
	rows, err := s.Query(results.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if rows[0].Tick != 2 {
		t.Fatalf("oldest kept tick = %d, want 2", rows[0].Tick)
	}
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.db")
	s, err := results.New(path, 0, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SaveRows(tickRows(1)); err != nil {
		t.Fatalf("SaveRows: %v", err)
	}
	s.Close()
	s.Close()

	s, err = results.New(path, 0, time.Hour)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if n, err := s.Count(); err != nil || n != 3 {
		t.Fatalf("Count after reopen = %d, %v", n, err)
	}
}

func TestHandlerExportJSON(t *testing.T) {
	s := newStore(t, 0)
	if err := s.SaveRows(tickRows(1)); err != nil {
		t.Fatalf("SaveRows: %v", err)
	}
	h := results.NewHandler(s)

	rec := httptest.NewRecorder()
	h.Export(rec, httptest.NewRequest(http.MethodGet, "/api/v1/export?collector="+collectorB, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Rows []struct {
			Tick        uint64  `json:"tick"`
			CollectorID string  `json:"collector_id"`
			Name        string  `json:"name"`
			Value       float64 `json:"value"`
		} `json:"rows"`
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Rows[0].CollectorID != collectorB || body.Rows[0].Value != 42 {
		t.Fatalf("body = %+v", body)
	}
}

func TestHandlerExportEmptyIsArray(t *testing.T) {
	h := results.NewHandler(newStore(t, 0))
	rec := httptest.NewRecorder()
	h.Export(rec, httptest.NewRequest(http.MethodGet, "/api/v1/export", nil))
	if !strings.Contains(rec.Body.String(), `"rows":[]`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestHandlerExportCSV(t *testing.T) {
	s := newStore(t, 0)
	if err := s.SaveRows(tickRows(5)); err != nil {
		t.Fatalf("SaveRows: %v", err)
	}
	h := results.NewHandler(s)

	rec := httptest.NewRecorder()
	h.Export(rec, httptest.NewRequest(http.MethodGet, "/api/v1/export?format=csv&name=SubmitFPS", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %q", lines)
	}
	if lines[0] != "tick,collector_id,name,value,created_at" {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "5,,SubmitFPS,59.9,") {
		t.Fatalf("row = %q", lines[1])
	}
}

func TestHandlerExportBadRequest(t *testing.T) {
	h := results.NewHandler(newStore(t, 0))
	rec := httptest.NewRecorder()
	h.Export(rec, httptest.NewRequest(http.MethodGet, "/api/v1/export?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := results.NewCSVWriter(&buf)
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}
	if err := w.WriteRows([]types.ExportRow{
		{Tick: 1, CollectorID: collectorA, Name: "RTT", Value: 12.5},
		{Tick: 1, Name: "EncoderQP", Value: 30},
	}); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := "tick,collector_id,name,value\n" +
		"1," + collectorA + ",RTT,12.5\n" +
		"1,,EncoderQP,30\n"
	if buf.String() != want {
		t.Fatalf("csv = %q, want %q", buf.String(), want)
	}
}

func TestOpenCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	w, err := results.OpenCSVFile(path)
	if err != nil {
		t.Fatalf("OpenCSVFile: %v", err)
	}
	if err := w.WriteRows(tickRows(9)); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 4 {
		t.Fatalf("lines = %d, want 4", got)
	}
}

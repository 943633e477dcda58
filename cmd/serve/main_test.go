package serve

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/config"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/publisher"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/websocket"
)

func TestApplyServerFlagOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TargetFPS = 30

	fs, fv := buildServerFlagSet(cfg)
	if err := fs.Parse([]string{
		"--poll-interval=250ms",
		"--target-fps=24",
		"--replay=a.jsonl, b.jsonl",
		"--allowed-origins=https://a.example.com, https://b.example.com",
		"--test-pattern=true",
		"--loopback",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	if err := applyServerFlagOverrides(cfg, fs, fv); err != nil {
		t.Fatalf("apply overrides: %v", err)
	}

	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("poll interval = %s, want 250ms", cfg.PollInterval)
	}
	if cfg.TargetFPS != 24 {
		t.Fatalf("target fps = %d, want 24", cfg.TargetFPS)
	}
	if len(cfg.Connections) != 2 || cfg.Connections[1].ReplayFile != "b.jsonl" {
		t.Fatalf("connections = %#v", cfg.Connections)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example.com" || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("allowed origins = %#v, want two trimmed entries", cfg.AllowedOrigins)
	}
	if !cfg.TestPattern {
		t.Fatal("test pattern should be enabled")
	}
	if !cfg.Loopback {
		t.Fatal("loopback should be enabled")
	}
	if cfg.Port != "8080" {
		t.Fatalf("unset port flag changed port to %q", cfg.Port)
	}
}

func TestApplyServerFlagOverridesFailsFastOnInvalidDuration(t *testing.T) {
	cfg := config.DefaultConfig()

	fs, fv := buildServerFlagSet(cfg)
	if err := fs.Parse([]string{
		"--poll-interval=not-a-duration",
		"--target-fps=5",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	if err := applyServerFlagOverrides(cfg, fs, fv); err == nil {
		t.Fatal("expected error for invalid poll interval")
	}
	if cfg.TargetFPS != 60 {
		t.Fatalf("target fps changed despite duration parse error: got %d", cfg.TargetFPS)
	}
}

func TestLoadConfigLayersFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pubstats.yaml")
	doc := "port: \"9090\"\nsmoothing_window: 30\nlog_format: json\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, code, err := loadConfig([]string{"--config", path, "--smoothing-window=10"})
	if err != nil {
		t.Fatalf("loadConfig: %v (code %d)", err, code)
	}
	if cfg.Port != "9090" || cfg.LogFormat != "json" {
		t.Fatalf("file values not applied: port=%q format=%q", cfg.Port, cfg.LogFormat)
	}
	if cfg.SmoothingWindow != 10 {
		t.Fatalf("smoothing window = %d, want flag value 10", cfg.SmoothingWindow)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, code, err := loadConfig([]string{"--nope"}); err == nil || code != exitUsage {
		t.Fatalf("unknown flag: code=%d err=%v", code, err)
	}
	if _, code, err := loadConfig([]string{"extra"}); err == nil || code != exitUsage {
		t.Fatalf("positional arg: code=%d err=%v", code, err)
	}
	if _, code, err := loadConfig([]string{"--log-format=xml"}); err == nil || code != exitFailure {
		t.Fatalf("invalid format: code=%d err=%v", code, err)
	}
	if _, code, err := loadConfig([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}); err == nil || code != exitFailure {
		t.Fatalf("missing file: code=%d err=%v", code, err)
	}
}

func TestNewHandlerServesTelemetry(t *testing.T) {
	dir := t.TempDir()
	replay := filepath.Join(dir, "session.jsonl")
	line := `[{"id":"OT01V","type":"outbound-rtp","timestamp":1000,"kind":"video","bytesSent":1000,"frameWidth":1280,"frameHeight":720}]`
	if err := os.WriteFile(replay, []byte(line+"\n"), 0o600); err != nil {
		t.Fatalf("write replay: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Connections = []config.ConnectionConfig{{ReplayFile: replay}}
	svc, err := publisher.New(cfg)
	if err != nil {
		t.Fatalf("publisher.New: %v", err)
	}
	defer svc.Stop()
	ws := websocket.NewServer()
	defer ws.Close()
	svc.AddSink(publisher.BroadcastSink(ws))

	srv := httptest.NewServer(newHandler(cfg, svc, ws, "test"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/lines")
	if err != nil {
		t.Fatalf("GET lines: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("lines before first tick = %d, want 503", resp.StatusCode)
	}

	svc.Tick(context.Background())

	for path, want := range map[string]string{
		"/api/v1/lines":   "Video resolution = 1280x720",
		"/api/v1/version": "test",
		"/metrics":        "pubstats_render_ticks_total",
		"/api/v1/export":  `"rows"`,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d (%s)", path, resp.StatusCode, body)
		}
		if !strings.Contains(string(body), want) {
			t.Fatalf("GET %s body missing %q: %s", path, want, body)
		}
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// ConnectionConfig describes one recorded or live publisher connection.
type ConnectionConfig struct {
	ReplayFile string `yaml:"replay_file"`
	Cluster    string `yaml:"cluster,omitempty"`
	Server     string `yaml:"server,omitempty"`
	Loop       bool   `yaml:"loop,omitempty"`
}

type Config struct {
	Port        string `yaml:"port"`
	BindAddress string `yaml:"bind_address"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	SmoothingWindow int           `yaml:"smoothing_window"`

	TargetFPS     int `yaml:"target_fps"`
	MaxWidth      int `yaml:"max_width"`
	MaxHeight     int `yaml:"max_height"`
	MaxPixelCount int `yaml:"max_pixel_count"`
	Alignment     int `yaml:"alignment"`

	TestPattern       bool `yaml:"test_pattern"`
	TestPatternWidth  int  `yaml:"test_pattern_width"`
	TestPatternHeight int  `yaml:"test_pattern_height"`
	TestPatternFPS    int  `yaml:"test_pattern_fps"`

	Connections []ConnectionConfig `yaml:"connections"`
	// Loopback attaches an in-process WebRTC peer pair as a live connection.
	Loopback bool `yaml:"loopback"`

	DataDir         string        `yaml:"data_dir"`
	MaxStoredRows   int           `yaml:"max_stored_rows"`
	RetentionPeriod time.Duration `yaml:"retention_period"`
	CSVExportPath   string        `yaml:"csv_export_path"`

	WebSocketPingInterval time.Duration `yaml:"websocket_ping_interval"`
	AllowedOrigins        []string      `yaml:"allowed_origins"`

	PprofEnabled      bool          `yaml:"pprof_enabled"`
	PprofAddress      string        `yaml:"pprof_address"`
	PerfStatsInterval time.Duration `yaml:"perf_stats_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:                  "8080",
		BindAddress:           "0.0.0.0",
		ReadHeaderTimeout:     15 * time.Second,
		IdleTimeout:           60 * time.Second,
		PollInterval:          1 * time.Second,
		SmoothingWindow:       60,
		TargetFPS:             60,
		MaxWidth:              1920,
		MaxHeight:             1080,
		MaxPixelCount:         1920 * 1080,
		Alignment:             2,
		TestPattern:           false,
		TestPatternWidth:      1920,
		TestPatternHeight:     1080,
		TestPatternFPS:        60,
		DataDir:               "./data",
		MaxStoredRows:         100000,
		RetentionPeriod:       24 * time.Hour,
		CSVExportPath:         "",
		WebSocketPingInterval: 30 * time.Second,
		AllowedOrigins:        []string{"*"},
		PprofEnabled:          false,
		PprofAddress:          "127.0.0.1:6060",
		PerfStatsInterval:     0,
		LogLevel:              "info",
		LogFormat:             "console",
	}
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

func (c *Config) LoadFromEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid PORT %q: must be a number", port)
		}
		c.Port = port
	}
	if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
		c.BindAddress = addr
	}

	if interval := os.Getenv("POLL_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid POLL_INTERVAL %q: must be a positive duration (e.g. 1s)", interval)
		}
		c.PollInterval = d
	}
	if window := os.Getenv("SMOOTHING_WINDOW"); window != "" {
		w, err := strconv.Atoi(window)
		if err != nil || w <= 0 {
			return fmt.Errorf("invalid SMOOTHING_WINDOW %q: must be a positive integer", window)
		}
		c.SmoothingWindow = w
	}

	intVars := []struct {
		key string
		dst *int
	}{
		{"TARGET_FPS", &c.TargetFPS},
		{"MAX_WIDTH", &c.MaxWidth},
		{"MAX_HEIGHT", &c.MaxHeight},
		{"MAX_PIXEL_COUNT", &c.MaxPixelCount},
		{"ALIGNMENT", &c.Alignment},
		{"TEST_PATTERN_WIDTH", &c.TestPatternWidth},
		{"TEST_PATTERN_HEIGHT", &c.TestPatternHeight},
		{"TEST_PATTERN_FPS", &c.TestPatternFPS},
	}
	for _, v := range intVars {
		raw := os.Getenv(v.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid %s %q: must be a non-negative integer", v.key, raw)
		}
		*v.dst = n
	}
	if enabled := os.Getenv("TEST_PATTERN"); enabled == "true" || enabled == "1" {
		c.TestPattern = true
	}

	if enabled := os.Getenv("LOOPBACK"); enabled == "true" || enabled == "1" {
		c.Loopback = true
	}

	if files := os.Getenv("REPLAY_FILES"); files != "" {
		for _, f := range splitList(files) {
			c.Connections = append(c.Connections, ConnectionConfig{ReplayFile: f})
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.DataDir = dataDir
	}
	if max := os.Getenv("MAX_STORED_ROWS"); max != "" {
		m, err := strconv.Atoi(max)
		if err != nil || m <= 0 {
			return fmt.Errorf("invalid MAX_STORED_ROWS %q: must be a positive integer", max)
		}
		c.MaxStoredRows = m
	}
	if ret := os.Getenv("RETENTION_PERIOD"); ret != "" {
		d, err := time.ParseDuration(ret)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid RETENTION_PERIOD %q: must be a positive duration (e.g. 24h)", ret)
		}
		c.RetentionPeriod = d
	}
	if path := os.Getenv("CSV_EXPORT_PATH"); path != "" {
		c.CSVExportPath = path
	}

	if interval := os.Getenv("WEBSOCKET_PING_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid WEBSOCKET_PING_INTERVAL %q: must be a positive duration (e.g. 30s)", interval)
		}
		c.WebSocketPingInterval = d
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}

	if enabled := os.Getenv("PPROF_ENABLED"); enabled == "true" || enabled == "1" {
		c.PprofEnabled = true
	}
	if addr := os.Getenv("PPROF_ADDR"); addr != "" {
		c.PprofAddress = addr
	}
	if interval := os.Getenv("PERF_STATS_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid PERF_STATS_INTERVAL %q: must be a positive duration (e.g. 10s)", interval)
		}
		c.PerfStatsInterval = d
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.LogFormat = format
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q: must be 1-65535", c.Port)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be > 0")
	}
	if c.SmoothingWindow <= 0 {
		return fmt.Errorf("smoothing window must be > 0")
	}
	if c.TargetFPS < 0 {
		return fmt.Errorf("target fps must be >= 0")
	}
	if c.MaxWidth < 0 || c.MaxHeight < 0 || c.MaxPixelCount < 0 {
		return fmt.Errorf("max width, height and pixel count must be >= 0")
	}
	if c.Alignment < 0 {
		return fmt.Errorf("alignment must be >= 0")
	}
	if c.TestPattern && (c.TestPatternWidth <= 0 || c.TestPatternHeight <= 0 || c.TestPatternFPS <= 0) {
		return fmt.Errorf("test pattern needs positive width, height and fps")
	}
	for i, conn := range c.Connections {
		if conn.ReplayFile == "" {
			return fmt.Errorf("connection %d: replay file cannot be empty", i)
		}
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.MaxStoredRows <= 0 {
		return fmt.Errorf("max stored rows must be > 0")
	}
	if c.RetentionPeriod <= 0 {
		return fmt.Errorf("retention period must be > 0")
	}
	if c.WebSocketPingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be > 0")
	}
	if c.PprofEnabled && c.PprofAddress == "" {
		return fmt.Errorf("pprof address cannot be empty when enabled")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q: must be json or console", c.LogFormat)
	}
	return nil
}

// OutputFormat is the frame constraint set handed to the capture adapter.
func (c *Config) OutputFormat() types.OutputFormat {
	return types.OutputFormat{
		MaxFPS:        c.TargetFPS,
		MaxWidth:      c.MaxWidth,
		MaxHeight:     c.MaxHeight,
		MaxPixelCount: c.MaxPixelCount,
		Alignment:     c.Alignment,
	}
}

func (c *Config) ListenAddress() string {
	return c.BindAddress + ":" + c.Port
}

func splitList(s string) []string {
	entries := strings.Split(s, ",")
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		value := strings.TrimSpace(entry)
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}

// Package serve implements `pubstats serve`: the long-running telemetry
// service with its HTTP API, live stream and Prometheus endpoint.
package serve

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/api"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/config"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/publisher"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/results"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/websocket"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

type serverFlagValues struct {
	configFile      *string
	port            *string
	bindAddress     *string
	pollInterval    *string
	smoothingWindow *int
	targetFPS       *int
	replay          *string
	loopback        *bool
	testPattern     *bool
	dataDir         *string
	csvExport       *string
	allowedOrigins  *string
	logLevel        *string
	logFormat       *string
	pprofEnabled    *bool
}

func buildServerFlagSet(cfg *config.Config) (*flag.FlagSet, serverFlagValues) {
	fs := flag.NewFlagSet("pubstats serve", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	fv := serverFlagValues{
		configFile:      fs.String("config", "", "YAML config file"),
		port:            fs.String("port", cfg.Port, "HTTP port"),
		bindAddress:     fs.String("bind-address", cfg.BindAddress, "HTTP bind address"),
		pollInterval:    fs.String("poll-interval", cfg.PollInterval.String(), "Stats poll and render interval"),
		smoothingWindow: fs.Int("smoothing-window", cfg.SmoothingWindow, "EMA sample cap"),
		targetFPS:       fs.Int("target-fps", cfg.TargetFPS, "Frame rate cap, 0 for unlimited"),
		replay:          fs.String("replay", "", "Comma-separated stats report files to replay as connections"),
		loopback:        fs.Bool("loopback", cfg.Loopback, "Attach an in-process WebRTC peer pair as a live connection"),
		testPattern:     fs.Bool("test-pattern", cfg.TestPattern, "Feed a generated test pattern through the frame pipeline"),
		dataDir:         fs.String("data-dir", cfg.DataDir, "Directory for the results database"),
		csvExport:       fs.String("csv-export", cfg.CSVExportPath, "Append every tick's rows to this CSV file"),
		allowedOrigins:  fs.String("allowed-origins", strings.Join(cfg.AllowedOrigins, ","), "Comma-separated allowed origins"),
		logLevel:        fs.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error"),
		logFormat:       fs.String("log-format", cfg.LogFormat, "Log format: console or json"),
		pprofEnabled:    fs.Bool("pprof", cfg.PprofEnabled, "Serve pprof on the pprof address"),
	}
	return fs, fv
}

// applyServerFlagOverrides copies explicitly set flags onto cfg. Durations are
// parsed before anything is written so a bad value leaves cfg untouched.
func applyServerFlagOverrides(cfg *config.Config, fs *flag.FlagSet, fv serverFlagValues) error {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var poll time.Duration
	if set["poll-interval"] {
		d, err := time.ParseDuration(*fv.pollInterval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid --poll-interval %q: must be a positive duration", *fv.pollInterval)
		}
		poll = d
	}

	if set["port"] {
		cfg.Port = *fv.port
	}
	if set["bind-address"] {
		cfg.BindAddress = *fv.bindAddress
	}
	if poll > 0 {
		cfg.PollInterval = poll
	}
	if set["smoothing-window"] {
		cfg.SmoothingWindow = *fv.smoothingWindow
	}
	if set["target-fps"] {
		cfg.TargetFPS = *fv.targetFPS
	}
	if set["replay"] {
		for _, f := range splitList(*fv.replay) {
			cfg.Connections = append(cfg.Connections, config.ConnectionConfig{ReplayFile: f})
		}
	}
	if set["loopback"] {
		cfg.Loopback = *fv.loopback
	}
	if set["test-pattern"] {
		cfg.TestPattern = *fv.testPattern
	}
	if set["data-dir"] {
		cfg.DataDir = *fv.dataDir
	}
	if set["csv-export"] {
		cfg.CSVExportPath = *fv.csvExport
	}
	if set["allowed-origins"] {
		cfg.AllowedOrigins = splitList(*fv.allowedOrigins)
	}
	if set["log-level"] {
		cfg.LogLevel = *fv.logLevel
	}
	if set["log-format"] {
		cfg.LogFormat = *fv.logFormat
	}
	if set["pprof"] {
		cfg.PprofEnabled = *fv.pprofEnabled
	}
	return nil
}

// loadConfig layers defaults, the optional YAML file, the environment and
// finally flags.
func loadConfig(args []string) (*config.Config, int, error) {
	cfg := config.DefaultConfig()
	fs, fv := buildServerFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, exitSuccess, err
		}
		return nil, exitUsage, err
	}
	if fs.NArg() > 0 {
		return nil, exitUsage, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if *fv.configFile != "" {
		if err := cfg.LoadFile(*fv.configFile); err != nil {
			return nil, exitFailure, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, exitFailure, err
	}
	if err := applyServerFlagOverrides(cfg, fs, fv); err != nil {
		return nil, exitUsage, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, exitFailure, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, exitSuccess, nil
}

func Run(args []string, version string) int {
	cfg, code, err := loadConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		fmt.Fprintf(os.Stderr, "pubstats serve: %v\n", err)
		return code
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pubstats serve: %v\n", err)
		return exitUsage
	}
	logging.Configure(os.Stderr, logging.Format(cfg.LogFormat))
	logging.Init(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, version); err != nil {
		logging.Error("Server failed", logging.Field{Key: "error", Value: err})
		return exitFailure
	}
	return exitSuccess
}

func serve(ctx context.Context, cfg *config.Config, version string) error {
	svc, err := publisher.New(cfg)
	if err != nil {
		return err
	}

	pprofServer := startPprofServer(cfg)
	startRuntimeStatsLogger(ctx, cfg)

	wsServer := websocket.NewServer()
	wsServer.SetAllowedOrigins(cfg.AllowedOrigins)
	wsServer.SetPingInterval(cfg.WebSocketPingInterval)

	svc.AddSink(publisher.LogSink(logging.NewLogger("lines")))
	svc.AddSink(publisher.BroadcastSink(wsServer))

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           newHandler(cfg, svc, wsServer, version),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	svc.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server starting",
			logging.Field{Key: "address", Value: cfg.ListenAddress()},
			logging.Field{Key: "version", Value: version},
			logging.Field{Key: "connections", Value: len(cfg.Connections)})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info("Shutting down server...")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown error", logging.Field{Key: "error", Value: err})
	}

	shutdownPprofServer(pprofServer, 5*time.Second)
	wsServer.Close()
	svc.Stop()

	logging.Info("Server stopped")
	return serveErr
}

func newHandler(cfg *config.Config, svc *publisher.Service, wsServer *websocket.Server, version string) http.Handler {
	apiHandler := api.NewHandler(svc)
	apiHandler.SetVersion(version)

	router := api.NewRouter(apiHandler)
	router.SetAllowedOrigins(cfg.AllowedOrigins)
	router.SetWebSocketHandler(wsServer.HandleStream)
	router.SetMetricsHandler(promhttp.HandlerFor(svc.Gatherer(), promhttp.HandlerOpts{}))
	if store := svc.Store(); store != nil {
		router.SetResultsHandler(results.NewHandler(store))
	}
	return router.SetupRoutes()
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

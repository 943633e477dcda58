// Package replay implements `pubstats replay`: it feeds recorded stats
// sessions through the aggregator and prints every render pass.
package replay

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/config"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/metrics"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/publisher"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/results"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/statsreport"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

const clearScreen = "\033[H\033[2J"

type outputMode int

const (
	outputText outputMode = iota
	outputJSON
	outputCSV
)

type options struct {
	files    []string
	cluster  string
	server   string
	loop     bool
	maxTicks int
	interval time.Duration
	window   int
	mode     outputMode
	live     bool
}

var (
	stdout     io.Writer = os.Stdout
	isTerminal           = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }
)

func Run(args []string, version string) int {
	fs := flag.NewFlagSet("pubstats replay", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var (
		opts     options
		jsonOut  bool
		csvOut   bool
		interval string
		plain    bool
	)
	fs.StringVar(&opts.cluster, "cluster", "", "Cluster label for every connection")
	fs.StringVar(&opts.server, "server", "", "Server label for every connection")
	fs.BoolVar(&opts.loop, "loop", false, "Restart each file when it ends")
	fs.IntVar(&opts.maxTicks, "max-ticks", 0, "Stop after this many render passes (required with --loop)")
	fs.IntVar(&opts.window, "smoothing-window", 60, "EMA sample cap")
	fs.StringVar(&interval, "interval", "", "Delay between render passes (default 1s on a terminal, none otherwise)")
	fs.BoolVar(&jsonOut, "json", false, "Emit one JSON tick report per line")
	fs.BoolVar(&csvOut, "csv", false, "Emit export rows as CSV")
	fs.BoolVar(&plain, "plain", false, "Never redraw the screen")
	help := fs.Bool("help", false, "Show help")
	fs.BoolVar(help, "h", false, "Show help (short)")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *help {
		printUsage()
		return exitSuccess
	}

	opts.files = fs.Args()
	if len(opts.files) == 0 {
		fmt.Fprintln(os.Stderr, "pubstats replay: at least one replay file is required")
		return exitUsage
	}
	if jsonOut && csvOut {
		fmt.Fprintln(os.Stderr, "pubstats replay: --json and --csv are mutually exclusive")
		return exitUsage
	}
	if opts.loop && opts.maxTicks <= 0 {
		fmt.Fprintln(os.Stderr, "pubstats replay: --loop needs --max-ticks")
		return exitUsage
	}
	if opts.window <= 0 {
		fmt.Fprintln(os.Stderr, "pubstats replay: --smoothing-window must be > 0")
		return exitUsage
	}
	switch {
	case jsonOut:
		opts.mode = outputJSON
	case csvOut:
		opts.mode = outputCSV
	}
	opts.live = opts.mode == outputText && !plain && isTerminal()
	if interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d < 0 {
			fmt.Fprintf(os.Stderr, "pubstats replay: invalid --interval %q\n", interval)
			return exitUsage
		}
		opts.interval = d
	} else if opts.live {
		opts.interval = time.Second
	}

	// Keep log noise off the data stream.
	logging.Configure(os.Stderr, logging.FormatConsole)
	logging.Init(logging.LevelWarn)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runReplay(ctx, stdout, opts); err != nil {
		fmt.Fprintf(os.Stderr, "pubstats replay: %v\n", err)
		return exitFailure
	}
	return exitSuccess
}

// runReplay renders one pass per poll until every file is exhausted,
// maxTicks is reached or ctx is done.
func runReplay(ctx context.Context, w io.Writer, opts options) error {
	cfg := config.DefaultConfig()
	cfg.SmoothingWindow = opts.window
	svc, err := publisher.New(cfg, publisher.WithoutStore())
	if err != nil {
		return err
	}
	defer svc.Stop()

	sources := make([]*statsreport.ReplaySource, 0, len(opts.files))
	for _, path := range opts.files {
		src, err := statsreport.NewReplaySource(path, opts.loop)
		if err != nil {
			return err
		}
		sources = append(sources, src)
		svc.AddConnection(src, metrics.ConnectionInfo{Cluster: opts.cluster, Server: opts.server})
	}

	emit, flush, err := newEmitter(w, opts)
	if err != nil {
		return err
	}

	var firstErr error
	svc.AddSink(publisher.TickSinkFunc(func(r *types.TickReport) error {
		if allExhausted(sources) {
			return nil
		}
		if err := emit(r); err != nil && firstErr == nil {
			firstErr = err
		}
		return nil
	}))

	for ticks := 0; opts.maxTicks <= 0 || ticks < opts.maxTicks; ticks++ {
		if ticks > 0 && opts.interval > 0 {
			select {
			case <-ctx.Done():
				return flush()
			case <-time.After(opts.interval):
			}
		}
		if ctx.Err() != nil {
			break
		}
		svc.Tick(ctx)
		if firstErr != nil {
			return firstErr
		}
		if allExhausted(sources) {
			break
		}
	}
	return flush()
}

func allExhausted(sources []*statsreport.ReplaySource) bool {
	for _, s := range sources {
		if !s.Exhausted() {
			return false
		}
	}
	return true
}

func newEmitter(w io.Writer, opts options) (func(*types.TickReport) error, func() error, error) {
	noFlush := func() error { return nil }
	switch opts.mode {
	case outputJSON:
		enc := json.NewEncoder(w)
		return func(r *types.TickReport) error { return enc.Encode(r) }, noFlush, nil
	case outputCSV:
		cw, err := results.NewCSVWriter(w)
		if err != nil {
			return nil, nil, err
		}
		return func(r *types.TickReport) error { return cw.WriteRows(r.Rows) }, cw.Close, nil
	default:
		return func(r *types.TickReport) error {
			var b strings.Builder
			if opts.live {
				b.WriteString(clearScreen)
			}
			fmt.Fprintf(&b, "--- tick %d ---\n", r.Tick)
			for _, line := range r.Lines {
				b.WriteString(line)
				b.WriteByte('\n')
			}
			_, err := io.WriteString(w, b.String())
			return err
		}, noFlush, nil
	}
}

func printUsage() {
	fmt.Fprintf(os.Stdout, `Usage: pubstats replay [flags] <file.jsonl>...

Feeds recorded stats sessions (one JSON stats report per line) through the
aggregator and prints every render pass. Each file is one connection.

Flags:
  -h, --help               Show help
  --json                   One JSON tick report per line
  --csv                    Export rows as CSV (tick,collector_id,name,value)
  --plain                  Never redraw the screen
  --interval duration      Delay between passes (default 1s on a terminal)
  --loop                   Restart files when they end (needs --max-ticks)
  --max-ticks int          Stop after this many passes
  --smoothing-window int   EMA sample cap (default: 60)
  --cluster string         Cluster label
  --server string          Server label

Examples:
  pubstats replay session.jsonl
  pubstats replay --csv a.jsonl b.jsonl > stats.csv
  pubstats replay --loop --max-ticks 600 --json session.jsonl
`)
}

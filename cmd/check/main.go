// Package check implements the `pubstats check` subcommand: a one-shot read
// of a running service that grades every publisher connection.
package check

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/client"
)

var (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

const (
	minTimeoutSeconds = 1
	maxTimeoutSeconds = 300
)

// CheckResult is the structured output of pubstats check.
type CheckResult struct {
	SchemaVersion string                   `json:"schema_version"`
	ServerURL     string                   `json:"server_url"`
	SubmitFPS     float64                  `json:"submit_fps"`
	Collectors    []client.CollectorResult `json:"collectors"`
	Degraded      int                      `json:"degraded"`
	DurationMs    int64                    `json:"duration_ms"`
}

var runCheckFn = runCheck

var stdout io.Writer = os.Stdout

func Run(args []string, version string) int {
	flagSet := flag.NewFlagSet("pubstats check", flag.ContinueOnError)
	flagSet.SetOutput(os.Stdout)

	var (
		serverURL string
		jsonOut   bool
		timeout   int
		apiKey    string
		targetFPS int
	)
	flagSet.StringVar(&serverURL, "server-url", "http://localhost:8080", "Server URL")
	flagSet.StringVar(&serverURL, "S", "http://localhost:8080", "Server URL (short)")
	flagSet.BoolVar(&jsonOut, "json", false, "Output as JSON")
	flagSet.IntVar(&timeout, "timeout", 10, "Overall timeout in seconds")
	flagSet.StringVar(&apiKey, "api-key", "", "API key")
	flagSet.IntVar(&targetFPS, "target-fps", 60, "Frame rate the stream should reach")
	help := flagSet.Bool("help", false, "Show help")
	flagSet.BoolVar(help, "h", false, "Show help (short)")

	if err := flagSet.Parse(args); err != nil {
		return exitUsage
	}

	if *help {
		printUsage()
		return exitSuccess
	}

	if timeout < minTimeoutSeconds || timeout > maxTimeoutSeconds {
		fmt.Fprintf(os.Stderr, "pubstats check: timeout must be between %d and %d seconds\n", minTimeoutSeconds, maxTimeoutSeconds)
		return exitUsage
	}
	if !isValidServerURL(serverURL) {
		fmt.Fprintf(os.Stderr, "pubstats check: invalid server URL: %q\n", serverURL)
		return exitUsage
	}

	// Positional arg = server URL
	rest := flagSet.Args()
	if len(rest) > 1 {
		fmt.Fprintln(os.Stderr, "pubstats check: too many positional arguments")
		return exitUsage
	}
	if len(rest) > 0 {
		arg := rest[0]
		if !isValidServerURL(arg) {
			fmt.Fprintf(os.Stderr, "pubstats check: invalid server URL: %q\n", arg)
			return exitUsage
		}
		serverURL = arg
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	var opts []client.Option
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	opts = append(opts, client.WithTargetFPS(targetFPS))

	start := time.Now()
	result, err := runCheckFn(ctx, client.New(serverURL, opts...), serverURL)
	if err != nil {
		if jsonOut {
			errResp := map[string]interface{}{
				"schema_version": "1.0",
				"error":          true,
				"code":           "check_failed",
				"message":        err.Error(),
			}
			if encErr := json.NewEncoder(stdout).Encode(errResp); encErr != nil {
				fmt.Fprintf(os.Stderr, "pubstats check: json encode error: %v\n", encErr)
			}
		} else {
			fmt.Fprintf(os.Stderr, "pubstats check: error: %v\n", err)
		}
		return exitFailure
	}
	result.DurationMs = time.Since(start).Milliseconds()

	if jsonOut {
		if encErr := json.NewEncoder(stdout).Encode(result); encErr != nil {
			fmt.Fprintf(os.Stderr, "pubstats check: json encode error: %v\n", encErr)
			return exitFailure
		}
	} else {
		printHuman(stdout, result)
	}

	if result.Degraded > 0 {
		return exitFailure
	}
	return exitSuccess
}

func runCheck(ctx context.Context, c *client.Client, serverURL string) (*CheckResult, error) {
	pub, err := c.Publisher(ctx)
	if err != nil {
		return nil, err
	}
	cols, err := c.Collectors(ctx)
	if err != nil {
		return nil, err
	}
	res := &CheckResult{
		SchemaVersion: "1.0",
		ServerURL:     serverURL,
		SubmitFPS:     pub.Publisher.SubmitFPS,
		Collectors:    cols,
	}
	for _, col := range cols {
		if isDegraded(col) {
			res.Degraded++
		}
	}
	return res, nil
}

func isDegraded(c client.CollectorResult) bool {
	if c.Interpretation == nil {
		return false
	}
	return c.Interpretation.Grade == "D" || c.Interpretation.Grade == "F"
}

func printHuman(w io.Writer, r *CheckResult) {
	fmt.Fprintf(w, "Submit FPS: %.1f\n", r.SubmitFPS)
	if len(r.Collectors) == 0 {
		fmt.Fprintln(w, "No publisher connections")
		return
	}
	for _, c := range r.Collectors {
		fmt.Fprintf(w, "%s", c.Snapshot.CollectorID)
		if c.Interpretation != nil {
			fmt.Fprintf(w, "  Grade: %s, %s", c.Interpretation.Grade, c.Interpretation.Summary)
		}
		fmt.Fprintln(w)
		if c.Interpretation != nil && len(c.Interpretation.Concerns) > 0 {
			fmt.Fprintf(w, "  Concerns: %s\n", strings.Join(c.Interpretation.Concerns, ", "))
		}
	}
}

func printUsage() {
	fmt.Fprintf(os.Stdout, `Usage: pubstats check [flags] [server-url]

One-shot read of a running pubstats service. Grades every connection.

Flags:
  -h, --help              Show help
  -S, --server-url string Server URL (default: http://localhost:8080)
  --json                  Output as JSON
  --timeout int           Overall timeout in seconds (default: 10)
  --target-fps int        Frame rate the stream should reach (default: 60)
  --api-key string        API key for authentication

Exit codes:
  0   Healthy (every grade A-C)
  1   Degraded (any grade D-F) or error
  2   Usage error

Examples:
  pubstats check
  pubstats check http://encoder-box:8080
  pubstats check --json
`)
}

func isValidServerURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u == nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Hostname() == "" {
		return false
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return false
		}
	}
	return true
}

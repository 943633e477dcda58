package main

import (
	"fmt"
	"os"
	"strings"

	check "github.com/Mu-L/millicast-publisher-unreal-engine-plugin/cmd/check"
	mcpcmd "github.com/Mu-L/millicast-publisher-unreal-engine-plugin/cmd/mcp"
	replay "github.com/Mu-L/millicast-publisher-unreal-engine-plugin/cmd/replay"
	serve "github.com/Mu-L/millicast-publisher-unreal-engine-plugin/cmd/serve"
)

var version = "dev"

var (
	runServe  = serve.Run
	runReplay = replay.Run
	runCheck  = check.Run
	runMCP    = mcpcmd.Run
)

func main() {
	os.Exit(run(os.Args[1:], version))
}

func run(args []string, version string) int {
	if len(args) == 0 {
		return runServe(nil, version)
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:], version)
	case "replay":
		return runReplay(args[1:], version)
	case "check":
		return runCheck(args[1:], version)
	case "mcp":
		return runMCP(version)
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version":
		fmt.Printf("pubstats %s\n", version)
		return 0
	default:
		if strings.HasPrefix(args[0], "-") && isServeFlag(args[0]) {
			return runServe(args, version)
		}
		fmt.Fprintf(os.Stderr, "pubstats: unknown command %q\n\n", args[0])
		printUsage()
		return 2
	}
}

// isServeFlag reports whether arg names a flag of the serve command, so
// `pubstats --port 9000` keeps working without the subcommand.
func isServeFlag(arg string) bool {
	name := strings.TrimLeft(arg, "-")
	if i := strings.IndexByte(name, '='); i >= 0 {
		name = name[:i]
	}
	switch name {
	case "config", "port", "bind-address", "poll-interval", "smoothing-window",
		"target-fps", "replay", "test-pattern", "data-dir", "csv-export",
		"allowed-origins", "log-level", "log-format", "pprof":
		return true
	}
	return false
}

func printUsage() {
	fmt.Fprintf(os.Stdout, `Usage: pubstats <command> [args]

Commands:
  serve     Run the telemetry service (default when no command provided)
  replay    Render recorded stats sessions to the terminal, JSON or CSV
  check     Grade every connection of a running service
  mcp       Run as MCP server (stdio transport, for AI agents)

Examples:
  pubstats serve --replay session.jsonl --test-pattern
  pubstats replay --csv session.jsonl > stats.csv
  pubstats check --json http://encoder-box:8080
  pubstats mcp
`)
}

// Package mcp implements the `pubstats mcp` subcommand: an MCP (Model Context
// Protocol) server over stdio transport. Agents can spawn this process and
// read publisher telemetry from a running pubstats service.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/client"
)

const (
	defaultServerURL = "http://localhost:8080"
	requestTimeout   = 10 * time.Second
	maxExportLimit   = 10000
)

// Run starts the MCP stdio server. Blocks until stdin closes or signal received.
func Run(version string) int {
	s := server.NewMCPServer(
		"pubstats",
		version,
		server.WithToolCapabilities(true),
	)

	handlers := map[string]server.ToolHandlerFunc{
		"publisher_stats": handlePublisherStats,
		"collector_stats": handleCollectorStats,
		"export_rows":     handleExportRows,
	}
	for _, tool := range ToolDefinitions() {
		s.AddTool(tool, handlers[tool.Name])
	}

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "pubstats mcp: error: %v\n", err)
		return 1
	}
	return 0
}

// ToolDefinitions lists every tool the server exposes.
func ToolDefinitions() []mcp.Tool {
	common := []mcp.ToolOption{
		mcp.WithString("server_url",
			mcp.Description("pubstats server URL (default: http://localhost:8080)"),
		),
		mcp.WithString("api_key",
			mcp.Description("API key sent as a bearer token (optional)"),
		),
	}
	with := func(opts ...mcp.ToolOption) []mcp.ToolOption {
		return append(append([]mcp.ToolOption{}, common...), opts...)
	}

	return []mcp.Tool{
		mcp.NewTool("publisher_stats", with(
			mcp.WithDescription("Smoothed publisher-wide metrics from the last render pass: submit FPS, texture readback time, encoder latency, bitrate and QP."),
		)...),
		mcp.NewTool("collector_stats", with(
			mcp.WithDescription("Per-connection WebRTC stats (RTT, resolution, FPS, bitrates, retransmissions, NACKs, quality limitation) with a health grade A-F and concerns. Omit collector_id to list every connection."),
			mcp.WithString("collector_id",
				mcp.Description("Collector UUID (optional)"),
			),
			mcp.WithNumber("target_fps",
				mcp.Description("Frame rate the stream should reach, used for grading (default: 60)"),
			),
		)...),
		mcp.NewTool("export_rows",
			with(
				mcp.WithDescription("Stored export rows (tick, collector_id, name, value) from the results database, oldest first."),
				mcp.WithString("collector_id",
					mcp.Description("Only rows for this collector (optional)"),
				),
				mcp.WithString("name",
					mcp.Description("Only rows with this metric name, e.g. Rtt or VideoBitrate (optional)"),
				),
				mcp.WithNumber("since_tick",
					mcp.Description("Only rows at or after this tick (optional)"),
				),
				mcp.WithNumber("limit",
					mcp.Description("Maximum rows, 1-10000 (default: 1000)"),
				),
			)...,
		),
	}
}

// --- Tool Handlers ---

func handlePublisherStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c := clientFromRequest(req.GetString("server_url", defaultServerURL), req)

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	result, err := c.Publisher(reqCtx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Publisher stats failed: %v", err)), nil
	}
	return jsonResult(result)
}

func handleCollectorStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c := clientFromRequest(req.GetString("server_url", defaultServerURL), req,
		client.WithTargetFPS(req.GetInt("target_fps", 60)))

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if id := strings.TrimSpace(req.GetString("collector_id", "")); id != "" {
		result, err := c.Collector(reqCtx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Collector stats failed: %v", err)), nil
		}
		return jsonResult(result)
	}

	result, err := c.Collectors(reqCtx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Collector stats failed: %v", err)), nil
	}
	return jsonResult(result)
}

func handleExportRows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c := clientFromRequest(req.GetString("server_url", defaultServerURL), req)

	limit := req.GetInt("limit", 1000)
	if limit < 1 {
		limit = 1
	}
	if limit > maxExportLimit {
		limit = maxExportLimit
	}
	since := req.GetInt("since_tick", 0)
	if since < 0 {
		since = 0
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	result, err := c.Export(reqCtx, client.ExportOptions{
		CollectorID: strings.TrimSpace(req.GetString("collector_id", "")),
		Name:        strings.TrimSpace(req.GetString("name", "")),
		SinceTick:   uint64(since),
		Limit:       limit,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Export failed: %v", err)), nil
	}
	return jsonResult(result)
}

func clientFromRequest(serverURL string, req mcp.CallToolRequest, opts ...client.Option) *client.Client {
	if key := strings.TrimSpace(req.GetString("api_key", "")); key != "" {
		opts = append(opts, client.WithAPIKey(key))
	}
	return client.New(serverURL, opts...)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON encoding failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

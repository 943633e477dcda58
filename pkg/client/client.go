// Package client provides a Go SDK for reading publisher stats from a
// running pubstats service. Agents and applications can import this package
// instead of scraping the HTTP API by hand.
//
// Usage:
//
//	c := client.New("http://localhost:8080")
//	pub, err := c.Publisher(ctx)
//	col, err := c.Collector(ctx, id)
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/diagnostic"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// ErrNotFound is returned when the server does not know the collector.
var ErrNotFound = errors.New("collector not found")

const maxErrorBody = 4096

// Client reads stats from a single pubstats server.
type Client struct {
	serverURL  string
	httpClient *http.Client
	apiKey     string
	targetFPS  int
}

// Option configures the Client.
type Option func(*Client)

// WithAPIKey sets the API key for authenticated requests.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTargetFPS sets the frame rate collector interpretations compare against.
func WithTargetFPS(fps int) Option {
	return func(c *Client) { c.targetFPS = fps }
}

// New creates a new client targeting the given server URL.
func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{},
		targetFPS:  60,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PublisherResult is the aggregator-wide state.
type PublisherResult struct {
	Publisher types.PublisherMetrics `json:"publisher"`
	Tick      uint64                 `json:"tick"`
	Time      *time.Time             `json:"time,omitempty"`
}

// CollectorResult is one connection's snapshot plus its interpretation.
type CollectorResult struct {
	Snapshot       types.StatsSnapshot        `json:"snapshot"`
	Interpretation *diagnostic.Interpretation `json:"interpretation"`
}

// ExportOptions filters stored export rows.
type ExportOptions struct {
	CollectorID string
	Name        string
	SinceTick   uint64
	Limit       int
}

// ExportRow is a stored row as returned by the server.
type ExportRow struct {
	types.ExportRow
	CreatedAt time.Time `json:"created_at"`
}

// ExportResult holds stored export rows.
type ExportResult struct {
	Rows  []ExportRow `json:"rows"`
	Count int         `json:"count"`
}

// Publisher returns the smoothed publisher metrics of the last render pass.
func (c *Client) Publisher(ctx context.Context) (*PublisherResult, error) {
	var out PublisherResult
	if err := c.getJSON(ctx, "/api/v1/publisher", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Collectors returns every registered collector with its interpretation.
func (c *Client) Collectors(ctx context.Context) ([]CollectorResult, error) {
	var list struct {
		Collectors []types.StatsSnapshot `json:"collectors"`
	}
	if err := c.getJSON(ctx, "/api/v1/collectors", &list); err != nil {
		return nil, err
	}
	out := make([]CollectorResult, 0, len(list.Collectors))
	for _, s := range list.Collectors {
		out = append(out, c.interpret(s))
	}
	return out, nil
}

// Collector returns one collector by id.
func (c *Client) Collector(ctx context.Context, collectorID string) (*CollectorResult, error) {
	var snap types.StatsSnapshot
	if err := c.getJSON(ctx, "/api/v1/collectors/"+url.PathEscape(collectorID), &snap); err != nil {
		return nil, err
	}
	res := c.interpret(snap)
	return &res, nil
}

// Export returns stored rows matching opts.
func (c *Client) Export(ctx context.Context, opts ExportOptions) (*ExportResult, error) {
	q := url.Values{}
	if opts.CollectorID != "" {
		q.Set("collector", opts.CollectorID)
	}
	if opts.Name != "" {
		q.Set("name", opts.Name)
	}
	if opts.SinceTick > 0 {
		q.Set("since", strconv.FormatUint(opts.SinceTick, 10))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/api/v1/export"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out ExportResult
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Healthy returns nil if the server is reachable and healthy.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := c.newRequest(ctx, "/health")
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// --- Internal helpers ---

func (c *Client) interpret(s types.StatsSnapshot) CollectorResult {
	return CollectorResult{
		Snapshot:       s,
		Interpretation: diagnostic.Interpret(diagnostic.FromSnapshot(s, c.targetFPS)),
	}
}

func (c *Client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst interface{}) error {
	req, err := c.newRequest(ctx, path)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := errorMessage(body)
		if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/api/v1/collectors/") {
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return fmt.Errorf("request %s failed: status %d: %s", path, resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

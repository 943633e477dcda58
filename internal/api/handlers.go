package api

import (
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/errors"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// StatsProvider is the read side of the publisher service.
type StatsProvider interface {
	PublisherMetrics() types.PublisherMetrics
	Snapshots() []types.StatsSnapshot
	Snapshot(collectorID string) (types.StatsSnapshot, error)
	LastTick() *types.TickReport
}

type Handler struct {
	stats   StatsProvider
	version string
}

func NewHandler(stats StatsProvider) *Handler {
	return &Handler{stats: stats, version: "dev"}
}

func (h *Handler) SetVersion(version string) {
	if version == "" {
		version = "dev"
	}
	h.version = version
}

type VersionResponse struct {
	Version string `json:"version"`
}

type CollectorsResponse struct {
	Collectors []types.StatsSnapshot `json:"collectors"`
	Count      int                   `json:"count"`
}

type PublisherResponse struct {
	Publisher types.PublisherMetrics `json:"publisher"`
	Tick      uint64                 `json:"tick"`
	Time      *time.Time             `json:"time,omitempty"`
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, VersionResponse{Version: h.version}, http.StatusOK)
}

func (h *Handler) GetCollectors(w http.ResponseWriter, r *http.Request) {
	snaps := h.stats.Snapshots()
	if snaps == nil {
		snaps = []types.StatsSnapshot{}
	}
	respondJSON(w, CollectorsResponse{Collectors: snaps, Count: len(snaps)}, http.StatusOK)
}

func (h *Handler) GetCollector(w http.ResponseWriter, r *http.Request, collectorID string) {
	snap, err := h.stats.Snapshot(collectorID)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeCollectorNotFound) {
			respondError(w, err, http.StatusNotFound)
			return
		}
		respondError(w, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, snap, http.StatusOK)
}

func (h *Handler) GetPublisher(w http.ResponseWriter, r *http.Request) {
	resp := PublisherResponse{Publisher: h.stats.PublisherMetrics()}
	if tick := h.stats.LastTick(); tick != nil {
		resp.Tick = tick.Tick
		t := tick.Time
		resp.Time = &t
	}
	respondJSON(w, resp, http.StatusOK)
}

// GetLines returns the display lines of the last render pass as plain text.
func (h *Handler) GetLines(w http.ResponseWriter, r *http.Request) {
	tick := h.stats.LastTick()
	if tick == nil {
		respondJSON(w, map[string]string{"error": "no render pass yet"}, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(strings.Join(tick.Lines, "\n") + "\n")); err != nil {
		logging.Warn("lines: write response", logging.Field{Key: "error", Value: err})
	}
}

func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("JSON response encode failed",
			logging.Field{Key: "error", Value: err})
	}
}

func respondError(w http.ResponseWriter, err error, statusCode int) {
	var msg string
	var pipeErr *errors.PipelineError
	if stdErrors.As(err, &pipeErr) {
		msg = pipeErr.Message
	} else {
		msg = err.Error()
	}
	respondJSON(w, map[string]string{
		"error": msg,
	}, statusCode)
}

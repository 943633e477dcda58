package results

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

type exportResponse struct {
	Rows  []StoredRow `json:"rows"`
	Count int         `json:"count"`
}

func respondJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		logging.Warn("results: marshal response failed", logging.Field{Key: "error", Value: err})
		code = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}` + "\n")
	}
	w.Header().Set("Content-Type", "application/json")
	if code == http.StatusOK {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		logging.Warn("results: write response failed", logging.Field{Key: "error", Value: err})
	}
}

// Export serves stored rows. Query parameters: collector, name, since,
// limit and format (json or csv).
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	q, format, errMsg := parseExportQuery(r)
	if errMsg != "" {
		respondJSONError(w, errMsg, http.StatusBadRequest)
		return
	}

	rows, err := h.store.Query(q)
	if err != nil {
		logging.Warn("results: query failed", logging.Field{Key: "error", Value: err})
		msg, code := mapQueryStoreError(err)
		respondJSONError(w, msg, code)
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if err := WriteStoredCSV(w, rows); err != nil {
			logging.Warn("results: write csv failed", logging.Field{Key: "error", Value: err})
		}
		return
	}
	if rows == nil {
		rows = []StoredRow{}
	}
	writeJSON(w, http.StatusOK, exportResponse{Rows: rows, Count: len(rows)})
}

func parseExportQuery(r *http.Request) (Query, string, string) {
	v := r.URL.Query()
	q := Query{Name: v.Get("name")}

	if id := v.Get("collector"); id != "" {
		if _, err := uuid.Parse(id); err != nil {
			return q, "", "invalid collector ID"
		}
		q.CollectorID = id
	}
	if since := v.Get("since"); since != "" {
		n, err := strconv.ParseUint(since, 10, 64)
		if err != nil {
			return q, "", "since must be a tick number"
		}
		q.SinceTick = n
	}
	if limit := v.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 || n > maxLimit {
			return q, "", "limit must be between 1 and " + strconv.Itoa(maxLimit)
		}
		q.Limit = n
	}

	format := v.Get("format")
	switch format {
	case "", "json":
		format = "json"
	case "csv":
	default:
		return q, "", "format must be json or csv"
	}
	return q, format, ""
}

func mapQueryStoreError(err error) (string, int) {
	if errors.Is(err, ErrStoreRetryable) {
		return "store temporarily unavailable", http.StatusServiceUnavailable
	}
	return "internal error", http.StatusInternalServerError
}

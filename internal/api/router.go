package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/results"
)

type Router struct {
	handler        *Handler
	resultsHandler *results.Handler
	metricsHandler http.Handler
	wsServer       func(http.ResponseWriter, *http.Request, string)
	allowedOrigins []string
}

func NewRouter(handler *Handler) *Router {
	return &Router{handler: handler}
}

// SetWebSocketHandler installs the live stream endpoint. The handler gets a
// collector id, or "" for the whole tick.
func (r *Router) SetWebSocketHandler(handler func(http.ResponseWriter, *http.Request, string)) {
	r.wsServer = handler
}

func (r *Router) SetResultsHandler(h *results.Handler) {
	r.resultsHandler = h
}

func (r *Router) SetMetricsHandler(h http.Handler) {
	r.metricsHandler = h
}

func (r *Router) SetAllowedOrigins(origins []string) {
	r.allowedOrigins = origins
}

func (r *Router) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	v1 := func(method, path string, handler http.HandlerFunc) {
		mux.HandleFunc(method+" /api/v1"+path, handler)
	}

	v1("GET", "/version", r.handler.GetVersion)
	v1("GET", "/publisher", r.handler.GetPublisher)
	v1("GET", "/lines", r.handler.GetLines)
	v1("GET", "/collectors", r.handler.GetCollectors)
	v1("GET", "/collectors/{id}", r.HandleWithID(r.handler.GetCollector))

	if r.resultsHandler != nil {
		v1("GET", "/export", r.resultsHandler.Export)
	}

	if r.wsServer != nil {
		ws := r.wsServer
		v1("GET", "/stream", func(w http.ResponseWriter, req *http.Request) {
			ws(w, req, "")
		})
		v1("GET", "/collectors/{id}/stream", r.HandleWithID(ws))
	}

	if r.metricsHandler != nil {
		mux.Handle("GET /metrics", r.metricsHandler)
	}
	mux.HandleFunc("GET /health", r.HealthCheck)

	// Wrap with middleware (outermost runs first)
	var handler http.Handler = mux
	handler = r.CORSMiddleware(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = r.LoggingMiddleware(handler)

	return handler
}

func (r *Router) HandleWithID(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		collectorID := req.PathValue("id")
		if collectorID == "" {
			respondJSON(w, map[string]string{"error": "collector ID required"}, http.StatusBadRequest)
			return
		}
		if !isValidCollectorID(collectorID) {
			respondJSON(w, map[string]string{"error": "invalid collector ID"}, http.StatusBadRequest)
			return
		}
		fn(w, req, collectorID)
	}
}

func (r *Router) HealthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		logging.Warn("health: write response", logging.Field{Key: "error", Value: err})
	}
}

func (r *Router) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		originAllowed := origin != "" && r.isAllowedOrigin(origin)
		if originAllowed {
			allowOrigin := origin
			if r.isAllowAllOrigins() {
				allowOrigin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
			if allowOrigin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		if req.Method == http.MethodOptions {
			if origin != "" && !originAllowed {
				respondJSON(w, map[string]string{"error": "origin not allowed"}, http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Router) isAllowedOrigin(origin string) bool {
	if len(r.allowedOrigins) == 0 {
		return false
	}
	originHostValue := originHost(origin)
	for _, allowed := range r.allowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(allowed, origin) {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			suffix := strings.TrimPrefix(allowed, "*.")
			if originHostValue != "" && (originHostValue == suffix || strings.HasSuffix(originHostValue, "."+suffix)) {
				return true
			}
		}
		allowedHost := originHost(allowed)
		if allowedHost != "" && originHostValue != "" && strings.EqualFold(allowedHost, originHostValue) {
			return true
		}
	}
	return false
}

func (r *Router) isAllowAllOrigins() bool {
	for _, allowed := range r.allowedOrigins {
		if allowed == "*" {
			return true
		}
	}
	return false
}

func originHost(origin string) string {
	host := origin
	if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}

func isValidCollectorID(collectorID string) bool {
	_, err := uuid.Parse(collectorID)
	return err == nil
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *Router) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path
		if !strings.HasPrefix(path, "/api/") || strings.HasSuffix(path, "/stream") {
			next.ServeHTTP(w, req)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, req)

		logging.Debug("HTTP request",
			logging.Field{Key: "method", Value: req.Method},
			logging.Field{Key: "path", Value: path},
			logging.Field{Key: "status", Value: rw.statusCode},
			logging.Field{Key: "duration_ms", Value: float64(time.Since(start).Microseconds()) / 1000},
			logging.Field{Key: "remote", Value: req.RemoteAddr},
		)
	})
}

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

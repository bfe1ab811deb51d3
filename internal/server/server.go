// Package server exposes the chat service over HTTP: session creation,
// streamed or buffered chat turns, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/clusterchat/clusterchat/internal/orchestrator"
	"github.com/clusterchat/clusterchat/pkg/observability"
	"github.com/clusterchat/clusterchat/pkg/session"
)

// Config configures the HTTP server.
type Config struct {
	ListenAddr string
	// StreamDefault is used when a chat request omits the stream flag.
	StreamDefault bool
	// StreamBuffer is the event channel capacity per turn.
	StreamBuffer int
}

// Server routes HTTP requests to the session manager and the orchestrator.
type Server struct {
	sessions *session.Manager
	orch     *orchestrator.Orchestrator
	health   *observability.HealthChecker
	limiter  *RateLimiter
	cfg      Config

	httpServer *http.Server
}

// New creates the server and its routes.
func New(sessions *session.Manager, orch *orchestrator.Orchestrator, health *observability.HealthChecker, limiter *RateLimiter, cfg Config) *Server {
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 32
	}
	s := &Server{
		sessions: sessions,
		orch:     orch,
		health:   health,
		limiter:  limiter,
		cfg:      cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /start_session", s.instrument("/start_session", s.handleStartSession))
	mux.HandleFunc("POST /chat", s.instrument("/chat", s.handleChat))
	mux.Handle("GET /health", health.Handler())
	mux.Handle("GET /metrics", observability.MetricsHandler())

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// instrument records request metrics around a handler.
func (s *Server) instrument(path string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		observability.RecordHTTPRequest(r.Method, path, strconv.Itoa(sw.status), time.Since(start))
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// errorBody is the structured error response shape.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Server provides HTTP endpoints for observability
type Server struct {
	httpServer *http.Server
	port       int
	checker    *HealthChecker
	logs       func() []string
	status     func() any
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHealthChecker serves hc on the health endpoints.
func WithHealthChecker(hc *HealthChecker) ServerOption {
	return func(s *Server) { s.checker = hc }
}

// WithLogs serves the recent log lines on /logs.
func WithLogs(logs func() []string) ServerOption {
	return func(s *Server) { s.logs = logs }
}

// WithStatus serves a JSON status document on /status.
func WithStatus(status func() any) ServerOption {
	return func(s *Server) { s.status = status }
}

// NewServer creates a new observability server
func NewServer(port int, opts ...ServerOption) *Server {
	s := &Server{port: port}
	for _, opt := range opts {
		opt(s)
	}
	if s.checker == nil {
		s.checker = NewHealthChecker()
	}
	return s
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", HealthHandler(s.checker))
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", ReadinessHandler(s.checker))

	mux.Handle("/metrics", MetricsHandler())

	if s.logs != nil {
		mux.HandleFunc("/logs", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string][]string{"logs": s.logs()})
		})
	}
	if s.status != nil {
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, s.status())
		})
	}
	return mux
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a clean
// shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

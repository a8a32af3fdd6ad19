package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcus/settingsync/internal/serverdb"
)

// Server is the HTTP API server for the user-data store.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	metrics     *Metrics
	registry    *prometheus.Registry
	rateLimiter *RateLimiter
	cancel      context.CancelFunc
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB) (*Server, error) {
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = 1 << 20
	}
	if cfg.RateLimitRead <= 0 {
		cfg.RateLimitRead = 300
	}
	if cfg.RateLimitWrite <= 0 {
		cfg.RateLimitWrite = 60
	}
	s := &Server{
		config:      cfg,
		store:       store,
		metrics:     NewMetrics(),
		registry:    prometheus.NewRegistry(),
		rateLimiter: NewRateLimiter(),
	}
	if err := s.metrics.Register(s.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.rateLimiter.Run(ctx, 5*time.Minute)

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.http.Shutdown(ctx)
}

// Handler returns the server's HTTP handler, for embedding in another listener.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /v1/me", s.requireAuth(s.handleMe))

	// Resources
	read, write := s.config.RateLimitRead, s.config.RateLimitWrite
	mux.HandleFunc("GET /v1/resource", s.requireAuth(s.withRateLimit(s.handleListResources, "read", read)))
	mux.HandleFunc("GET /v1/resource/{name}/latest", s.requireAuth(s.withRateLimit(s.handleReadResource, "read", read)))
	mux.HandleFunc("POST /v1/resource/{name}", s.requireAuth(s.withRateLimit(s.handleWriteResource, "write", write)))
	mux.HandleFunc("DELETE /v1/resource", s.requireAuth(s.withRateLimit(s.handleDeleteResources, "write", write)))

	// JSON string escaping can double a blob; leave headroom for the envelope.
	maxBody := 2*s.config.MaxContentBytes + 4096

	return chain(mux,
		traceMiddleware,
		observeMiddleware(s.metrics),
		recoveryMiddleware,
		corsMiddleware(s.config.CORSAllowedOrigins),
		maxBytesMiddleware(maxBody),
	)
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// meResponse is the JSON response for GET /v1/me.
type meResponse struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	KeyName   string `json:"key_name,omitempty"`
	MachineID string `json:"machine_id,omitempty"`
}

// handleMe describes the caller as the server sees it.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	writeJSON(w, http.StatusOK, meResponse{UserID: p.UserID, Email: p.Email, KeyName: p.KeyName, MachineID: p.MachineID})
}

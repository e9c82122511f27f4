// Package api is an optional HTTP façade over the bridge: named monitor
// operations as JSON endpoints, the event hub as an SSE stream, and the
// Prometheus registry.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/vicebridge/internal/auth"
	"github.com/mattjoyce/vicebridge/internal/bridge"
	"github.com/mattjoyce/vicebridge/internal/events"
	"github.com/mattjoyce/vicebridge/internal/history"
	"github.com/mattjoyce/vicebridge/internal/log"
	"github.com/mattjoyce/vicebridge/internal/protocol"
)

// Monitor is the bridge surface the API drives.
type Monitor interface {
	Do(ctx context.Context, cmd protocol.Command, opts ...bridge.EnqueueOption) (protocol.Response, error)
	IsConnected() bool
	State() bridge.ConnectionState
	QueueDepth() int
	LastRequestID() uint32
}

// HistoryReader serves GET /history.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	ByRequest(ctx context.Context, requestID uint32) ([]history.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// RequestTimeout bounds each monitor operation, queueing included.
	RequestTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	monitor   Monitor
	history   HistoryReader
	events    *events.Hub
	metrics   http.Handler
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// Option configures optional collaborators.
type Option func(*Server)

func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

func WithEvents(h *events.Hub) Option {
	return func(s *Server) { s.events = h }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new API server instance
func New(config Config, monitor Monitor, opts ...Option) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		config:    config,
		monitor:   monitor,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithComponent("api")
	}
	return s
}

// Start serves on config.Listen until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Group(func(r chi.Router) {
			r.Use(s.requireScopes(auth.ScopeMonitorRO))
			r.Post("/ping", s.handlePing)
			r.Get("/info", s.handleInfo)
			r.Get("/memory", s.handleGetMemory)
			r.Get("/registers", s.handleGetRegisters)
			r.Get("/checkpoints", s.handleListCheckpoints)
			r.Get("/banks", s.handleBanks)
			r.Get("/display", s.handleDisplay)
			r.Get("/history", s.handleHistory)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireScopes(auth.ScopeMonitorRW))
			r.Put("/memory", s.handleSetMemory)
			r.Put("/registers", s.handleSetRegisters)
			r.Post("/checkpoints", s.handleSetCheckpoint)
			r.Delete("/checkpoints/{number}", s.handleDeleteCheckpoint)
			r.Post("/resume", s.handleResume)
			r.Post("/reset", s.handleReset)
			r.Post("/step", s.handleStep)
			r.Post("/keyboard", s.handleKeyboard)
		})

		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

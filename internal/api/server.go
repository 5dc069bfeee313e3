// Package api exposes runs, webhook ingestion, health and the event stream
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/events"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/logging"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/service/query"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/service/reconcile"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/service/webhook"
)

// RunService accepts and cancels runs.
type RunService interface {
	Submit(ctx context.Context, req core.CreateRunRequest) (*core.Run, error)
	Cancel(ctx context.Context, runID, reason string) (bool, error)
}

// Deps are the services the handlers call.
type Deps struct {
	Runs     RunService
	Queries  *query.Service
	Ingestor *webhook.Ingestor
	Remote   core.RemoteExecutor
	Store    core.RunStore
	Bus      *events.EventBus
}

// Server provides the HTTP endpoints.
type Server struct {
	router    chi.Router
	deps      Deps
	providers map[string]webhook.Provider
	metrics   *reconcile.Metrics
	system    *diagnostics.SystemMetricsCollector
	logger    *logging.Logger

	remoteURL      string
	corsOrigins    []string
	requestTimeout time.Duration
	healthTimeout  time.Duration
	maxBodyBytes   int64
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProvider registers a webhook provider under /webhooks/{name}.
func WithProvider(p webhook.Provider) ServerOption {
	return func(s *Server) {
		s.providers[p.Name()] = p
	}
}

// WithMetrics exposes engine counters on /health.
func WithMetrics(m *reconcile.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithSystemMetrics adds host resource usage to /health.
func WithSystemMetrics(c *diagnostics.SystemMetricsCollector) ServerOption {
	return func(s *Server) {
		s.system = c
	}
}

// WithRemoteURL sets the remote base URL reported by /health.
func WithRemoteURL(u string) ServerOption {
	return func(s *Server) {
		s.remoteURL = u
	}
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithRequestTimeout bounds non-streaming requests.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// NewServer creates a new API server.
func NewServer(deps Deps, opts ...ServerOption) *Server {
	s := &Server{
		deps:           deps,
		providers:      make(map[string]webhook.Provider),
		logger:         logging.NewNop(),
		corsOrigins:    []string{"*"},
		requestTimeout: 60 * time.Second,
		healthTimeout:  5 * time.Second,
		maxBodyBytes:   5 << 20,
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("api")

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures Chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	// The event stream is long-lived and stays outside the request timeout.
	r.Get("/events", s.handleSSE)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))

		r.Get("/health", s.handleHealth)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleCreateRun)

			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/detail", s.handleGetRunDetail)
				r.Post("/cancel", s.handleCancelRun)
			})
		})

		r.Post("/webhooks/{provider}", s.handleWebhook)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			level := slog.LevelInfo
			if r.URL.Path == "/health" {
				level = slog.LevelDebug
			}
			s.logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps err to a status code and writes it. Internal errors
// are logged and reported without detail.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		respondError(w, http.StatusGatewayTimeout, "request timed out")
		return
	}
	status, ok := httpStatusForDomainError(err)
	if !ok || status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var domErr *core.DomainError
	errors.As(err, &domErr)
	body := map[string]interface{}{
		"error": domErr.Message,
		"code":  domErr.Code,
	}
	for k, v := range domErr.Details {
		if _, taken := body[k]; !taken {
			body[k] = v
		}
	}
	respondJSON(w, status, body)
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func providerName(r *http.Request) string {
	return strings.ToLower(chi.URLParam(r, "provider"))
}

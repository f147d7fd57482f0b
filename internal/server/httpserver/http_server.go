// Package httpserver wires the HTTP surface: webhook ingestion, the
// management API, health, and metrics, all on one listener.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/flutterci/internal/config"
	ferrors "git.home.luguber.info/inful/flutterci/internal/foundation/errors"
	"git.home.luguber.info/inful/flutterci/internal/ingest"
	"git.home.luguber.info/inful/flutterci/internal/metrics"
	"git.home.luguber.info/inful/flutterci/internal/server/handlers"
	smw "git.home.luguber.info/inful/flutterci/internal/server/middleware"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

// Options carries the collaborators the server hands to its handlers.
type Options struct {
	Ingest     *ingest.Service
	Builds     *store.BuildRepo
	Repos      *store.RepositoryRepo
	Deliveries *store.DeliveryRepo
	Dispatcher handlers.BuildDispatcher
	Runtime    handlers.Runtime
	Registry   *prom.Registry
	Logger     *slog.Logger
}

// Server manages the HTTP listener and handler wiring.
type Server struct {
	cfg    config.ServerConfig
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger

	webhookHandlers    *handlers.WebhookHandlers
	apiHandlers        *handlers.APIHandlers
	monitoringHandlers *handlers.MonitoringHandlers
	registry           *prom.Registry

	mchain func(http.Handler) http.Handler
}

// New constructs the HTTP server wiring.
func New(cfg config.ServerConfig, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: opts.Registry,
	}

	s.webhookHandlers = handlers.NewWebhookHandlers(opts.Ingest, cfg.MaxBodyBytes, cfg.IngestTimeoutDuration(), logger)
	s.apiHandlers = handlers.NewAPIHandlers(opts.Builds, opts.Repos, opts.Deliveries, opts.Dispatcher, logger)
	s.monitoringHandlers = handlers.NewMonitoringHandlers(opts.Runtime, opts.Builds, logger)

	s.mchain = smw.Chain(logger, ferrors.NewHTTPErrorAdapter(logger))

	return s
}

// Handler builds the routed handler with middleware applied. Exposed for
// httptest-based handler tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhooks/github", s.webhookHandlers.HandleGitHubWebhook)
	mux.HandleFunc("POST /webhooks/gitlab", s.webhookHandlers.HandleGitLabWebhook)
	mux.HandleFunc("POST /webhooks/gitlab/{repository_id}", s.webhookHandlers.HandleGitLabWebhook)

	mux.HandleFunc("GET /api/builds", s.apiHandlers.HandleListBuilds)
	mux.HandleFunc("POST /api/builds", s.apiHandlers.HandleTriggerBuild)
	mux.HandleFunc("GET /api/builds/{id}", s.apiHandlers.HandleGetBuild)
	mux.HandleFunc("POST /api/builds/{id}/cancel", s.apiHandlers.HandleCancelBuild)
	mux.HandleFunc("GET /api/deliveries", s.apiHandlers.HandleListDeliveries)
	mux.HandleFunc("GET /api/status", s.monitoringHandlers.HandleStatus)

	mux.HandleFunc("GET /healthz", s.monitoringHandlers.HandleHealth)
	if s.registry != nil {
		mux.Handle("GET /metrics", metrics.HTTPHandler(s.registry))
	}

	return s.mchain(mux)
}

// Start binds the listener and begins serving. Binding happens here so a
// taken port fails startup instead of surfacing later from a goroutine.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Listen, err)
	}
	s.ln = ln

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP server started", "listen", s.cfg.Listen)
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

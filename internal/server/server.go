// Package server собирает HTTP API реплики: обмен изменениями с другими
// репликами, локальные операции над записями, health check и метрики.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iudanet/dirsync/internal/replication"
	"github.com/iudanet/dirsync/internal/server/handlers"
	"github.com/iudanet/dirsync/internal/server/middleware"
	"github.com/iudanet/dirsync/internal/storage"
)

const (
	healthPath = "/api/v1/health"
)

// Deps зависимости HTTP API
type Deps struct {
	Submitter  replication.Submitter
	Changes    handlers.ChangeSource
	Originator handlers.EntryOriginator
	Store      storage.Reader
	Domains    handlers.DomainLister
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
	Version    string
	// MetricsPath путь для prometheus; пустая строка отключает метрики
	MetricsPath string
	JWT         handlers.JWTConfig
	RateLimit   int
	RateWindow  time.Duration
}

// Config параметры HTTP сервера
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server HTTP сервер реплики
type Server struct {
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	logger     *slog.Logger
	cfg        Config
}

// New создает сервер с маршрутами API
func New(cfg Config, deps Deps) *Server {
	handler, limiter := NewRouter(deps)
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		limiter: limiter,
		logger:  deps.Logger,
		cfg:     cfg,
	}
}

// NewRouter регистрирует маршруты API. Вызывающий должен остановить возвращенный limiter.
func NewRouter(deps Deps) (http.Handler, *middleware.RateLimiter) {
	logger := deps.Logger
	limiter := middleware.NewRateLimiter(deps.RateLimit, deps.RateWindow, logger)
	httpMetrics := middleware.NewHTTPMetrics(deps.Registerer)

	health := handlers.NewHealthHandler(logger, deps.Version, deps.Domains)
	repl := handlers.NewReplicationHandler(logger, deps.Submitter, deps.Changes)
	entries := handlers.NewEntriesHandler(logger, deps.Originator, deps.Store)

	auth := middleware.ReplicaAuthMiddleware(logger, deps.JWT)
	protected := func(route string, h http.HandlerFunc) http.Handler {
		return httpMetrics.Instrument(route, middleware.Chain(h, auth, limiter.Middleware))
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+healthPath, httpMetrics.Instrument("health", limiter.Middleware(http.HandlerFunc(health.Health))))

	mux.Handle("POST /api/v1/replication/updates", protected("replication_updates", repl.HandleUpdates))
	mux.Handle("GET /api/v1/replication/changes", protected("replication_changes", repl.HandleChanges))

	mux.Handle("GET /api/v1/entries", protected("entries_get", entries.HandleGet))
	mux.Handle("POST /api/v1/entries/add", protected("entries_add", entries.HandleAdd))
	mux.Handle("POST /api/v1/entries/modify", protected("entries_modify", entries.HandleModify))
	mux.Handle("POST /api/v1/entries/delete", protected("entries_delete", entries.HandleDelete))

	skip := []string{healthPath}
	if deps.MetricsPath != "" && deps.Gatherer != nil {
		mux.Handle("GET "+deps.MetricsPath, promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
		skip = append(skip, deps.MetricsPath)
	}

	handler := middleware.Chain(mux,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger, skip...),
	)
	return handler, limiter
}

// Run обслуживает запросы до отмены ctx, затем корректно останавливает сервер
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve обслуживает запросы на ln до отмены ctx
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.limiter.Stop()

	errC := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server started", "address", ln.Addr().String())
		errC <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	if err := <-errC; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

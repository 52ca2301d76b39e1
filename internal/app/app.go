// Package app собирает реплику из конфигурации: хранилище, домены
// репликации, клиенты соседних реплик, фоновые задачи и HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/dirsync/internal/config"
	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/historical"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/peer"
	"github.com/iudanet/dirsync/internal/replication"
	"github.com/iudanet/dirsync/internal/server"
	"github.com/iudanet/dirsync/internal/server/handlers"
	"github.com/iudanet/dirsync/internal/storage"
	"github.com/iudanet/dirsync/internal/storage/boltdb"
	"github.com/iudanet/dirsync/internal/storage/sqlite"
)

// ErrUnknownEngine возвращается для неизвестного движка хранилища
var ErrUnknownEngine = errors.New("unknown storage engine")

const clockSeedPage = 256

// App реплика каталога со всеми компонентами
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      storage.Storage
	clock      *crdt.Clock
	codec      *historical.Codec
	registry   *replication.Registry
	originator *replication.Originator
	feed       *replication.ChangeFeed
	catchUp    *replication.CatchUp
	purger     *replication.Purger
	server     *server.Server
	metrics    *prometheus.Registry
}

// New открывает хранилище и собирает реплику. Фоновые задачи и HTTP сервер
// запускаются в Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	store, err := OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		clock:   crdt.NewClock(cfg.Replica.ID),
		codec:   historical.NewCodec(logger, cfg.Replication.PurgeDelay),
		metrics: prometheus.NewRegistry(),
	}
	if err := a.seedClock(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	replMetrics := replication.NewMetrics(a.metrics)

	rc := cfg.Replication
	resolver := historical.NewResolver(models.NewSchema(rc.SingleValued...), logger)
	replayer := replication.NewReplayer(store, resolver, a.codec, a.clock, replMetrics,
		replication.RetryPolicy{MaxRetries: rc.MaxRetries, BaseDelay: rc.RetryBaseDelay}, logger)

	a.registry = replication.NewRegistry()
	for _, domain := range rc.Domains {
		d := replication.NewDispatcher(domain, replayer, rc.Workers, rc.QueueSize, replMetrics, logger.With("domain", domain))
		if err := a.registry.Register(domain, d); err != nil {
			_ = d.Close()
			_ = a.Close()
			return nil, fmt.Errorf("failed to register domain %s: %w", domain, err)
		}
	}

	jwtConfig, err := handlers.NewJWTConfig(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	identity := peer.Identity{ID: cfg.Replica.ID, Name: cfg.Replica.Name, JWT: jwtConfig}
	peers := make([]replication.Peer, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers = append(peers, peer.NewClient(p.Name, p.URL, identity, logger))
	}

	var publisher replication.Publisher
	if len(peers) > 0 {
		publisher = replication.NewBroadcaster(peers, rc.PushTimeout, logger)
	}
	a.originator = replication.NewOriginator(store, a.registry, a.clock, publisher, logger)
	a.feed = replication.NewChangeFeed(store, a.codec, 0)
	a.catchUp = replication.NewCatchUp(peers, a.registry, store, rc.BatchSize, replMetrics, logger)
	a.purger = replication.NewPurger(store, a.codec, rc.PurgeDelay, replMetrics, logger)

	deps := server.Deps{
		Submitter:  a.registry,
		Changes:    a.feed,
		Originator: a.originator,
		Store:      store,
		Domains:    a.registry,
		Registerer: a.metrics,
		Logger:     logger,
		Version:    version,
		JWT:        jwtConfig,
		RateLimit:  cfg.RateLimit.Requests,
		RateWindow: cfg.RateLimit.Window,
	}
	if cfg.Metrics.Enabled {
		deps.Gatherer = a.metrics
		deps.MetricsPath = cfg.Metrics.Path
	}
	a.server = server.New(server.Config{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, deps)

	logger.Info("Replica initialized",
		"replica", cfg.Replica.Name,
		"replica_id", cfg.Replica.ID,
		"engine", cfg.Storage.Engine,
		"domains", a.registry.Domains(),
		"peers", len(peers),
	)
	return a, nil
}

// seedClock продвигает часы реплики за все сохраненные ChangeNumber, чтобы
// локальные изменения после перезапуска были новее уже записанной истории.
func (a *App) seedClock(ctx context.Context) error {
	after := ""
	for {
		page, err := a.store.ScanEntries(ctx, after, clockSeedPage)
		if err != nil {
			return fmt.Errorf("failed to seed clock: %w", err)
		}
		for _, entry := range page {
			a.clock.Update(a.codec.Load(entry).Newest())
		}
		if len(page) < clockSeedPage {
			break
		}
		after = page[len(page)-1].Key()
	}
	a.logger.Debug("Replica clock seeded", "last", a.clock.Last().String())
	return nil
}

// OpenStorage открывает хранилище выбранного движка
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Engine {
	case config.EngineBolt:
		store, err := boltdb.New(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.EngineSQLite:
		store, err := sqlite.New(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}

// Run обслуживает HTTP API и выполняет фоновые задачи до отмены ctx
func (a *App) Run(ctx context.Context) error {
	return a.run(ctx, a.server.Run)
}

// Serve то же, что Run, но принимает соединения на готовом listener
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	return a.run(ctx, func(ctx context.Context) error {
		return a.server.Serve(ctx, ln)
	})
}

func (a *App) run(ctx context.Context, serve func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serve(ctx)
	})
	if len(a.cfg.Peers) > 0 {
		g.Go(func() error {
			a.catchUp.RunEvery(ctx, a.cfg.Replication.CatchUpInterval)
			return nil
		})
	}
	if a.cfg.Replication.PurgeDelay > 0 {
		g.Go(func() error {
			a.purger.Run(ctx, a.cfg.Replication.PurgeInterval)
			return nil
		})
	}

	return g.Wait()
}

// Originator возвращает источник локальных изменений
func (a *App) Originator() *replication.Originator {
	return a.originator
}

// Store возвращает хранилище реплики
func (a *App) Store() storage.Storage {
	return a.store
}

// CatchUp возвращает синхронизатор с соседними репликами
func (a *App) CatchUp() *replication.CatchUp {
	return a.catchUp
}

// Close останавливает домены репликации и закрывает хранилище
func (a *App) Close() error {
	var errs []error
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

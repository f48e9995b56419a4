// Package app assembles one execution context: a storage backend handle, the
// change notifier and the services built over them.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ucasvieira/locadora/internal/config"
	"github.com/ucasvieira/locadora/internal/limiter"
	"github.com/ucasvieira/locadora/internal/migrate"
	"github.com/ucasvieira/locadora/internal/model"
	"github.com/ucasvieira/locadora/internal/notify"
	"github.com/ucasvieira/locadora/internal/overlay"
	"github.com/ucasvieira/locadora/internal/repository/kvrepo"
	"github.com/ucasvieira/locadora/internal/seed"
	"github.com/ucasvieira/locadora/internal/service"
	"github.com/ucasvieira/locadora/internal/storage"
	"github.com/ucasvieira/locadora/internal/storage/memory"
	"github.com/ucasvieira/locadora/internal/storage/postgres"
	"github.com/ucasvieira/locadora/internal/storage/sqlite"
)

// App is one execution context.
type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Backend storage.Backend
	Bus     *notify.Bus
	Seed    *seed.Dataset

	Movies  *overlay.Store[model.Movie]
	Auth    *service.AuthServiceImpl
	Catalog *service.CatalogServiceImpl
	Rentals *service.RentalServiceImpl

	stop context.CancelFunc
}

// Open connects the backend selected by cfg and builds the services.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b, err := OpenBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a, err := New(ctx, cfg, b, log)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return a, nil
}

// OpenBackend opens the storage backend named by cfg.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewDevice().Open(cfg.ContextID), nil
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.DBPath, cfg.ContextID, cfg.PollInterval, log.Named("sqlite"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		if err := migrate.Up(ctx, cfg.PostgresDSN); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		return postgres.NewKV(db, cfg.ContextID, log.Named("postgres")), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// New builds the services over an already opened backend. The backend is
// owned by the returned App and closed by Close.
func New(ctx context.Context, cfg *config.Config, b storage.Backend, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ds, err := seed.LoadFile(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	key, err := service.ResolveSessionKey(ctx, b, cfg.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("session key: %w", err)
	}

	bus := notify.NewBus(log.Named("notify"))
	watchCtx, stop := context.WithCancel(context.Background())
	if err := notify.Bridge(watchCtx, b, bus, log.Named("bridge")); err != nil {
		stop()
		return nil, fmt.Errorf("watch: %w", err)
	}

	lim := limiter.NewKV(b, cfg.LimitWindow, cfg.LimitMaxFails, cfg.LimitBlockFor)
	sessions := service.NewSessionCodec(kvrepo.NewSessionRepo(b), key, cfg.SessionTTL, log.Named("session"))
	movies := service.NewMovieStore(ds.Movies, b, bus, log.Named("movies"))

	a := &App{
		Config:  cfg,
		Log:     log,
		Backend: b,
		Bus:     bus,
		Seed:    ds,
		Movies:  movies,
		Auth:    service.NewAuthService(ds.Users, kvrepo.NewCredentialRepo(b, log), sessions, lim, bus, log.Named("auth")),
		Catalog: service.NewCatalogService(movies, log.Named("catalog")),
		Rentals: service.NewRentalService(kvrepo.NewRentalRepo(b, log), ds.InitialRentals, bus, log.Named("rentals")),
		stop:    stop,
	}
	log.Info("context opened",
		zap.String("backend", cfg.Backend),
		zap.String("context_id", cfg.ContextID),
		zap.Int("base_movies", len(ds.Movies)),
	)
	return a, nil
}

// Close stops the change feed and releases the backend.
func (a *App) Close() error {
	a.stop()
	a.Movies.Close()
	return a.Backend.Close()
}

// Package daemon composes the session daemon from its parts via fx.
package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/scuffedsnap/snapsync/internal/api"
	"github.com/scuffedsnap/snapsync/internal/bus"
	"github.com/scuffedsnap/snapsync/internal/cache"
	"github.com/scuffedsnap/snapsync/internal/config"
	"github.com/scuffedsnap/snapsync/internal/lock"
	"github.com/scuffedsnap/snapsync/internal/logging"
	"github.com/scuffedsnap/snapsync/internal/presence"
	"github.com/scuffedsnap/snapsync/internal/router"
	"github.com/scuffedsnap/snapsync/internal/session"
	"github.com/scuffedsnap/snapsync/internal/state"
	intsync "github.com/scuffedsnap/snapsync/internal/sync"
	"github.com/scuffedsnap/snapsync/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideCache,
			provideClient,
			providePresence,
			provideRouter,
			provideStore,
			provideTransport,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("config: server_url is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("config: token is required")
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := cache.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config) *api.Client {
	return api.New(cfg.ServerURL, cfg.Token)
}

func providePresence() *presence.Tracker {
	return presence.New()
}

func provideRouter(logger *zap.Logger) *router.Router {
	return router.New(logger.Named("router"))
}

func provideStore(cfg *config.Config, client *api.Client, db *cache.DB, b *bus.Bus, logger *zap.Logger) (*state.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	self, err := client.Me(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("authenticated", zap.Int64("user_id", self.ID), zap.String("username", self.Username))
	return state.New(*self, client, db, b, logger.Named("state"), cfg.ReloadMinInterval(), cfg.ReloadDebounce()), nil
}

func provideTransport(cfg *config.Config, r *router.Router, b *bus.Bus, logger *zap.Logger) (*transport.Transport, error) {
	return transport.New(cfg.ServerURL, cfg.Token, r, b, logger.Named("transport"), transport.Options{
		BaseDelay:   cfg.ReconnectBase(),
		MaxAttempts: cfg.MaxReconnectAttempts(),
	})
}

func provideEngine(store *state.Store, tracker *presence.Tracker, r *router.Router, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.New(store, tracker, r, b, logger.Named("sync"))
}

func registerLifecycle(lc fx.Lifecycle, tr *transport.Transport, engine *intsync.Engine, store *state.Store, db *cache.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(context.Background())

			go func() {
				if n, err := db.PurgeExpired(time.Now()); err != nil {
					logger.Warn("purge expired cache", zap.Error(err))
				} else if n > 0 {
					logger.Info("purged expired messages", zap.Int64("count", n))
				}
			}()

			go store.Bootstrap()

			go func() {
				if err := tr.Connect(); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			tr.Close()
			engine.Stop()
			store.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// Package daemon composes the delivery pipeline into a running process.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/pcarvalho/livechat/internal/bus"
	"github.com/pcarvalho/livechat/internal/config"
	"github.com/pcarvalho/livechat/internal/dedup"
	"github.com/pcarvalho/livechat/internal/delivery"
	"github.com/pcarvalho/livechat/internal/lock"
	"github.com/pcarvalho/livechat/internal/logging"
	"github.com/pcarvalho/livechat/internal/retry"
	"github.com/pcarvalho/livechat/internal/status"
	"github.com/pcarvalho/livechat/internal/store"
	"github.com/pcarvalho/livechat/internal/ws"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
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
			provideStateMachine,
			provideLock,
			provideStore,
			provideDedup,
			provideScheduler,
			provideClient,
			provideRepository,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	return p.Config
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
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
	logger.Info("store initialized", zap.String("path", cfg.DBPath()))
	return db, nil
}

func provideDedup() *dedup.Filter {
	return dedup.New(dedup.DefaultHorizon)
}

func provideScheduler(cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*retry.Scheduler, error) {
	probe, err := retry.DialProbe(cfg.ServerURL, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("build network probe: %w", err)
	}
	opts := retry.Options{
		BaseBackoff: time.Duration(cfg.Retry.BackoffSeconds) * time.Second,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}
	return retry.New(opts, probe, b, logger), nil
}

func provideClient(cfg *config.Config, filter *dedup.Filter, machine *status.Machine, sched *retry.Scheduler, logger *zap.Logger) *ws.Client {
	return ws.NewClient(cfg.ServerURL, cfg.DefaultChatID, filter, machine, sched, logger)
}

func provideRepository(db *store.DB, client *ws.Client, sched *retry.Scheduler, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *delivery.Repository {
	return delivery.New(db, client, sched, machine, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, client *ws.Client, sched *retry.Scheduler, repo *delivery.Repository, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := repo.SeedDefaultChats(ctx); err != nil {
				return err
			}

			// Ingestion loop outlives the start hook.
			repo.Start(context.Background(), client.Inbound())

			// The retry job reconnects if needed, then flushes the
			// outbox; leftover messages request another attempt.
			sched.Bind(func(ctx context.Context) error {
				if !client.Connected() {
					if err := client.Connect(ctx); err != nil {
						return err
					}
				}
				remaining, err := repo.RetryFailedMessages(ctx)
				if err != nil {
					return err
				}
				if remaining > 0 {
					return fmt.Errorf("%d messages still undelivered", remaining)
				}
				return nil
			})

			go func() {
				if err := client.Connect(context.Background()); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
					sched.Schedule()
				}
			}()

			return nil
		},
		OnStop: func(context.Context) error {
			client.Close()
			sched.Stop()
			repo.Stop()
			b.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

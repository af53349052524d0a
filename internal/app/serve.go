package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"fx-risk-alerts/internal/scheduler"
	"fx-risk-alerts/internal/server"
	"fx-risk-alerts/internal/service"
	"fx-risk-alerts/internal/storage"
)

// Serve runs the HTTP API and, when enabled, the periodic evaluation sweep.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if archive == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert audit archive disabled")
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("slack webhook not configured; dispatch disabled")
	}

	engine := a.newEngine(a.newFetcher(), archive, notifier)

	if a.Config.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)

		go func() {
			_ = sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
				return a.runSweep(ctx, engine, archive)
			})
		}()
	}

	srv := server.New(engine, server.Options{
		Addr:            a.Config.Server.Addr,
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
	}, a.Logger)

	a.Logger.Info().Msg("starting alerting engine")
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("server terminated with error")
		return err
	}

	a.Logger.Info().Msg("alerting engine stopped")
	return nil
}

// runSweep executes one evaluation sweep, guarded by a Postgres advisory
// lock when the archive is configured so only one replica evaluates.
func (a *App) runSweep(ctx context.Context, engine *service.Engine, archive *storage.Archive) error {
	key := a.Config.Scheduler.AdvisoryLockKey
	if archive != nil && key != 0 {
		unlock, acquired, err := archive.TryAdvisoryLock(ctx, key)
		if err != nil {
			return err
		}
		if !acquired {
			a.Logger.Debug().Msg("skip sweep because advisory lock held elsewhere")
			return nil
		}
		defer unlock()
	}

	return engine.Sweep(ctx)
}

package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/duration-fi/durationd/internal/server"
	"github.com/duration-fi/durationd/internal/server/handler"
	"github.com/duration-fi/durationd/internal/server/ws"
)

// EngineMode runs the background lifecycle workers without the HTTP API: the
// expiry sweeper, the cold-storage archiver, and operator notifications.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps)
	return waitGroup(g)
}

// APIMode runs the HTTP and WebSocket API without the background workers.
// Useful for scaling read traffic separately from the sweeping engine.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return waitGroup(g)
}

// FullMode runs everything: background workers plus the API server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps)
	a.startServer(ctx, g, deps)
	return waitGroup(g)
}

// startWorkers launches the sweeper and, when configured, the archiver and
// notifier goroutines.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return a.runSweeper(ctx, deps)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}

	if deps.Notifier != nil {
		g.Go(func() error {
			err := deps.Notifier.Watch(ctx, deps.Bus, "ch:commitments", "ch:options")
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
}

// startServer launches the WebSocket hub and the HTTP server, shutting the
// server down when the context is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.Warn("server disabled by configuration, nothing to serve")
		return
	}

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		if err := hub.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:      handler.NewHealthHandler(a.logger),
			Commitments: handler.NewCommitmentHandler(deps.CommitmentSvc, a.logger),
			Options:     handler.NewOptionHandler(deps.OptionSvc, a.logger),
		},
		hub,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// runSweeper periodically liquidates expired options and drops expired
// commitments. Individual failures are logged inside the services; the
// sweeper itself only stops with the context.
func (a *App) runSweeper(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Sweep.Interval.Duration
	a.logger.Info("sweeper started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			options := deps.OptionSvc.SweepExpired(ctx)
			commitments := deps.CommitmentSvc.SweepExpired(ctx)
			if options > 0 || commitments > 0 {
				a.logger.Info("sweep complete",
					slog.Int("options_liquidated", options),
					slog.Int("commitments_dropped", commitments),
				)
			}
		}
	}
}

// runArchiver periodically moves settled records older than the retention
// window to object storage.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	retention := a.cfg.Archive.RetentionDays
	a.logger.Info("archiver started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", retention),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return nil
		case <-ticker.C:
			before := time.Now().UTC().AddDate(0, 0, -retention)

			settled, err := deps.Archiver.ArchiveSettlements(ctx, before)
			if err != nil {
				a.logger.Error("archive settlements failed", slog.String("error", err.Error()))
			}
			opts, err := deps.Archiver.ArchiveOptions(ctx, before)
			if err != nil {
				a.logger.Error("archive options failed", slog.String("error", err.Error()))
			}
			if settled > 0 || opts > 0 {
				a.logger.Info("archive complete",
					slog.Int64("settlements", settled),
					slog.Int64("options", opts),
				)
			}
		}
	}
}

// waitGroup waits for all goroutines, treating context cancellation as a
// clean shutdown.
func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

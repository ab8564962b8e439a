package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spreadbot/internal/server"
	"github.com/alanyoungcy/spreadbot/internal/server/handler"
)

const shutdownTimeout = 10 * time.Second

// MonitorMode runs the engine loop, the journal writer and, when enabled, the
// status server until ctx is cancelled or a component fails.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Duration("interval", a.cfg.Engine.UpdateInterval.Duration),
		slog.Float64("threshold", a.cfg.Engine.ArbitrageThreshold),
	)

	g, ctx := errgroup.WithContext(ctx)

	// The journal outlives the engine so the final cycle is flushed.
	a.closers = append(a.closers, startJournal(ctx, deps))

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	if a.cfg.Notify.Startup && len(deps.Notifier.Channels()) > 0 {
		msg := fmt.Sprintf("Monitoring %s every %s, threshold %.2f%%",
			joinIDs(deps), a.cfg.Engine.UpdateInterval.Duration, a.cfg.Engine.ArbitrageThreshold*100)
		if err := deps.Notifier.NotifyAll(ctx, "spreadbot started", msg); err != nil {
			a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
		}
	}

	g.Go(func() error {
		err := deps.Engine.Run(ctx)
		if err != nil {
			return fmt.Errorf("monitor mode: engine: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// OnceMode runs exactly one cycle, prints its statistics as JSON and returns.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "running a single cycle")

	stopJournal := startJournal(ctx, deps)
	stats, err := deps.Engine.RunCycle(ctx)
	stopJournal()
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		return fmt.Errorf("once mode: print stats: %w", err)
	}
	return nil
}

// startJournal runs the journal writer detached from ctx's cancellation and
// returns a func that stops it and waits for the queue to drain.
func startJournal(ctx context.Context, deps *Dependencies) func() {
	if deps.Journal == nil {
		return func() {}
	}
	jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = deps.Journal.Run(jctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// startHTTPServer registers the status API and the WebSocket hub and adds
// them to g. The server is shut down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(a.cfg.Mode, deps.Checks, deps.Engine, a.logger),
		Status:        handler.NewStatusHandler(a.cfg.Mode, deps.Notifier.Channels(), deps.Engine),
		Opportunities: handler.NewOpportunityHandler(deps.Engine, deps.OpportunityStore, a.logger),
		Exchanges:     handler.NewExchangeHandler(deps.Registry.Handles, deps.Scheduler, deps.Limiter),
		Metrics:       deps.Metrics.Handler(),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.Hub, deps.WindowStore, a.logger)

	if deps.Hub != nil {
		g.Go(func() error {
			return deps.Hub.Run(ctx)
		})
	}

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})
}

func joinIDs(deps *Dependencies) string {
	ids := deps.Registry.Active()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

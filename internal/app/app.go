// Package app owns the application lifecycle: it wires the stores, caches,
// venue clients, and services together, starts the market-data stream, the
// per-tenant account streams, the hint-driven reconciliation loop, and the
// tiered scheduler, and tears everything down on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alimansour/coinwatch/internal/config"
	"github.com/alimansour/coinwatch/internal/domain"
	"github.com/alimansour/coinwatch/internal/notify"
	"github.com/alimansour/coinwatch/internal/service"
)

// dailyRollupLockTTL covers one calendar day with slack, so the day's rollup
// runs once across replicas and across slow-tier ticks. The lock is never
// released explicitly; expiry is the release.
const dailyRollupLockTTL = 26 * time.Hour

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the long-running loops, and blocks
// until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := deps.Hub.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect market data: %w", err)
	}
	a.closers = append(a.closers, func() { _ = deps.Hub.Close() })
	a.closers = append(a.closers, deps.Streams.StopAll)

	a.registerJobs(deps)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.startSessions(ctx, deps)
	})
	g.Go(func() error {
		return a.consumeHints(ctx, deps)
	})
	g.Go(func() error {
		return deps.Scheduler.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close tears down all resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// --------------------------------------------------------------------------
// Lifecycle loops
// --------------------------------------------------------------------------

// startSessions decrypts every stored credential and starts the private
// account streams, staggered so a fleet restart does not hammer the venue.
func (a *App) startSessions(ctx context.Context, deps *Dependencies) error {
	if err := deps.Vault.Preload(ctx); err != nil {
		return fmt.Errorf("app: preload credentials: %w", err)
	}

	stagger := a.cfg.Scheduler.SessionStagger.Duration
	for i, tenantID := range deps.Vault.Tenants() {
		if i > 0 && stagger > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(stagger):
			}
		}

		cred, err := deps.Vault.Load(ctx, tenantID)
		if err != nil {
			a.logger.WarnContext(ctx, "skipping tenant with unusable credential",
				slog.String("tenant", tenantID),
				slog.String("error", err.Error()),
			)
			continue
		}
		deps.Streams.StartSession(ctx, cred)
	}
	return nil
}

// consumeHints turns balance-dirty hints from the account streams into
// reconciliation cycles.
func (a *App) consumeHints(ctx context.Context, deps *Dependencies) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tenantID := <-deps.Streams.Hints():
			if err := a.reconcileTenant(ctx, deps, tenantID); err != nil && ctx.Err() == nil {
				a.logger.WarnContext(ctx, "hint-driven reconciliation failed",
					slog.String("tenant", tenantID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// reconcileTenant fetches an authoritative balance snapshot and current
// prices and runs one ledger cycle.
func (a *App) reconcileTenant(ctx context.Context, deps *Dependencies, tenantID string) error {
	snap, err := deps.Portfolio.Balances(ctx, tenantID)
	if err != nil {
		return err
	}
	prices, err := deps.Hub.GetPrices(ctx)
	if err != nil {
		return err
	}
	return deps.Engine.Reconcile(ctx, snap, prices)
}

// --------------------------------------------------------------------------
// Scheduled work
// --------------------------------------------------------------------------

func (a *App) registerJobs(deps *Dependencies) {
	// Fast tier: alerting and range tracking work off the hub's cached
	// quotes, so a tight cadence costs no venue calls.
	deps.Scheduler.AddFast("price-alerts", deps.Tracker.CheckAlerts)
	deps.Scheduler.AddFast("range-tracking", deps.Tracker.ExtendRanges)
	deps.Scheduler.AddFast("movement-alerts", deps.Tracker.CheckMovements)

	// Medium tier: polling fallback for tenants without a live stream.
	deps.Scheduler.AddMedium("reconcile-fallback", true, func(ctx context.Context, tenantID string) error {
		return a.reconcileTenant(ctx, deps, tenantID)
	})

	// Slow tier: history, patterns, and daily housekeeping.
	deps.Scheduler.AddSlow("hourly-history", func(ctx context.Context, tenantID string) error {
		return deps.Portfolio.RecordHistory(ctx, tenantID, domain.HistoryHourly)
	})
	deps.Scheduler.AddSlowGlobal("pattern-scan", func(ctx context.Context) error {
		return a.scanPatterns(ctx, deps)
	})
	deps.Scheduler.AddSlowGlobal("daily-rollup", func(ctx context.Context) error {
		return a.dailyRollup(ctx, deps)
	})
}

// scanPatterns looks for moving-average crossovers on every instrument any
// tenant currently holds and pushes fresh signals to the notifier.
func (a *App) scanPatterns(ctx context.Context, deps *Dependencies) error {
	instruments, err := a.heldInstruments(ctx, deps)
	if err != nil {
		return err
	}
	if len(instruments) == 0 {
		return nil
	}

	signals, err := deps.Patterns.Scan(ctx, instruments)
	if err != nil {
		return err
	}
	for _, sig := range signals {
		title := fmt.Sprintf("Golden cross on %s", sig.InstrumentID)
		if sig.Kind == service.DeathCross {
			title = fmt.Sprintf("Death cross on %s", sig.InstrumentID)
		}
		message := fmt.Sprintf("SMA-20 crossed SMA-50 at %.6g", sig.Price)
		if err := deps.Notifier.Notify(ctx, notify.EventPattern, title, message); err != nil {
			a.logger.WarnContext(ctx, "pattern notification failed",
				slog.String("instrument", sig.InstrumentID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// dailyRollup records daily history and uploads backups for every tenant,
// once per UTC day across all replicas.
func (a *App) dailyRollup(ctx context.Context, deps *Dependencies) error {
	day := time.Now().UTC().Format("2006-01-02")
	_, err := deps.Locks.Acquire(ctx, "daily-rollup:"+day, dailyRollupLockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, tenantID := range deps.Vault.Tenants() {
		if ctx.Err() != nil {
			return nil
		}
		if err := deps.Portfolio.RecordHistory(ctx, tenantID, domain.HistoryDaily); err != nil {
			a.logger.WarnContext(ctx, "daily history failed",
				slog.String("tenant", tenantID),
				slog.String("error", err.Error()),
			)
		}
		if err := a.sendDailySummary(ctx, deps, tenantID); err != nil {
			a.logger.WarnContext(ctx, "daily summary failed",
				slog.String("tenant", tenantID),
				slog.String("error", err.Error()),
			)
		}
		if deps.Backups == nil {
			continue
		}
		if err := deps.Backups.Backup(ctx, tenantID); err != nil {
			a.logger.WarnContext(ctx, "backup failed",
				slog.String("tenant", tenantID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// sendDailySummary pushes one portfolio-and-performance digest per tenant
// per day.
func (a *App) sendDailySummary(ctx context.Context, deps *Dependencies, tenantID string) error {
	pf, err := deps.Portfolio.Snapshot(ctx, tenantID)
	if err != nil {
		return err
	}
	stats, err := deps.TradeSvc.Stats(ctx, tenantID)
	if err != nil {
		return err
	}

	message := fmt.Sprintf("Total value: %.2f %s\nCash: %.1f%%",
		pf.TotalValue, domain.StableAsset, pf.CashPercent())
	if stats.Trades > 0 {
		message += fmt.Sprintf("\nClosed trades: %d | Win rate: %.1f%% | Avg ROI: %+.2f%%\nTotal PnL: %+.2f %s",
			stats.Trades, stats.WinRate, stats.AvgROI, stats.TotalPnL, domain.StableAsset)
	}
	message += "\nTenant: " + tenantID

	return deps.Notifier.Notify(ctx, notify.EventSummary, "Daily summary", message)
}

// heldInstruments is the deduplicated instrument list across all tenants'
// open positions.
func (a *App) heldInstruments(ctx context.Context, deps *Dependencies) ([]string, error) {
	seen := make(map[string]struct{})
	var instruments []string
	for _, tenantID := range deps.Vault.Tenants() {
		positions, err := deps.Positions.GetAll(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("app: positions for %s: %w", tenantID, err)
		}
		for asset := range positions {
			id := asset + "-" + domain.StableAsset
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			instruments = append(instruments, id)
		}
	}
	return instruments, nil
}

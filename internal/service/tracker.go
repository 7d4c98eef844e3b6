package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alimansour/coinwatch/internal/domain"
)

// Notifier delivers a tenant-addressed message.
type Notifier interface {
	Send(ctx context.Context, tenantID, text string) error
}

// portfolioScope is the dedupe scope for the portfolio-level movement
// notice, distinct from any asset symbol.
const portfolioScope = "__portfolio__"

// movementNoticeTTL covers one calendar day with slack; expiry of the dedupe
// lock is what re-arms a movement notice the next day.
const movementNoticeTTL = 26 * time.Hour

// TrackerService watches prices against tenant state: one-shot threshold
// alerts, large 24h movements on held assets and on the whole portfolio,
// and position high/low water marks.
type TrackerService struct {
	alerts    domain.AlertStore
	positions domain.PositionStore
	overrides domain.MovementStore
	baselines domain.BaselineStore
	prices    PriceSource
	notifier  Notifier
	locks     domain.LockManager
	logger    *slog.Logger

	// movementThresholdPct is the abs change that triggers a movement
	// notice: 24h change for a held asset (unless overridden per asset),
	// drift since the last reconciliation baseline for the portfolio.
	movementThresholdPct float64

	mu       sync.Mutex
	notified map[string]string // (tenant|scope) -> day already notified
}

// NewTrackerService creates a TrackerService. notifier may be nil, in which
// case triggers are only logged; overrides, baselines, and locks may be nil,
// disabling per-asset overrides, the portfolio-level check, and persistent
// dedupe respectively.
func NewTrackerService(
	alerts domain.AlertStore,
	positions domain.PositionStore,
	overrides domain.MovementStore,
	baselines domain.BaselineStore,
	prices PriceSource,
	notifier Notifier,
	locks domain.LockManager,
	movementThresholdPct float64,
	logger *slog.Logger,
) *TrackerService {
	if movementThresholdPct <= 0 {
		movementThresholdPct = 10
	}
	return &TrackerService{
		alerts:               alerts,
		positions:            positions,
		overrides:            overrides,
		baselines:            baselines,
		prices:               prices,
		notifier:             notifier,
		locks:                locks,
		movementThresholdPct: movementThresholdPct,
		logger:               logger.With(slog.String("component", "tracker_service")),
		notified:             make(map[string]string),
	}
}

// CreateAlert registers a one-shot price alert.
func (s *TrackerService) CreateAlert(ctx context.Context, a domain.PriceAlert) error {
	if err := s.alerts.Create(ctx, a); err != nil {
		return fmt.Errorf("tracker_service: create alert: %w", err)
	}
	return nil
}

// CheckAlerts fires and removes every alert whose threshold the current
// price has crossed. Alerts are one-shot: a fired alert never fires again.
func (s *TrackerService) CheckAlerts(ctx context.Context, tenantID string) error {
	alerts, err := s.alerts.ListByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("tracker_service: list alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil
	}

	prices, err := s.prices.GetPrices(ctx)
	if err != nil {
		return fmt.Errorf("tracker_service: prices: %w", err)
	}

	for _, a := range alerts {
		q, ok := prices[a.InstrumentID]
		if !ok {
			continue
		}
		if !alertTriggered(a, q.Last) {
			continue
		}

		s.logger.InfoContext(ctx, "price alert triggered",
			slog.String("tenant", tenantID),
			slog.String("instrument", a.InstrumentID),
			slog.String("direction", string(a.Direction)),
			slog.Float64("target", a.Target),
			slog.Float64("price", q.Last),
		)
		s.send(ctx, tenantID, fmt.Sprintf("%s is %s %.6g (now %.6g)",
			a.InstrumentID, a.Direction, a.Target, q.Last))

		if err := s.alerts.Delete(ctx, a.ID); err != nil {
			return fmt.Errorf("tracker_service: retire alert %q: %w", a.ID, err)
		}
	}
	return nil
}

// SetMovementOverride replaces the global movement threshold for one asset.
func (s *TrackerService) SetMovementOverride(ctx context.Context, o domain.MovementOverride) error {
	if s.overrides == nil {
		return fmt.Errorf("tracker_service: movement overrides not configured")
	}
	if o.ThresholdPct <= 0 {
		return fmt.Errorf("tracker_service: override threshold for %q must be positive", o.Asset)
	}
	if err := s.overrides.Upsert(ctx, o); err != nil {
		return fmt.Errorf("tracker_service: set movement override: %w", err)
	}
	return nil
}

// ClearMovementOverride reverts an asset to the global threshold.
func (s *TrackerService) ClearMovementOverride(ctx context.Context, tenantID, asset string) error {
	if s.overrides == nil {
		return fmt.Errorf("tracker_service: movement overrides not configured")
	}
	if err := s.overrides.Delete(ctx, tenantID, asset); err != nil {
		return fmt.Errorf("tracker_service: clear movement override: %w", err)
	}
	return nil
}

// CheckMovements notifies about held assets whose 24h change exceeds their
// threshold (per-asset override, else the global one) and about portfolio
// totals that drifted past the global threshold since the last
// reconciliation baseline. Each notice fires at most once per UTC day.
func (s *TrackerService) CheckMovements(ctx context.Context, tenantID string) error {
	prices, err := s.prices.GetPrices(ctx)
	if err != nil {
		return fmt.Errorf("tracker_service: prices: %w", err)
	}

	positions, err := s.positions.GetAll(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("tracker_service: positions: %w", err)
	}

	day := time.Now().UTC().Format("2006-01-02")

	if len(positions) > 0 {
		thresholds := make(map[string]float64)
		if s.overrides != nil {
			rows, err := s.overrides.ListByTenant(ctx, tenantID)
			if err != nil {
				return fmt.Errorf("tracker_service: movement overrides: %w", err)
			}
			for _, o := range rows {
				thresholds[o.Asset] = o.ThresholdPct
			}
		}

		for asset := range positions {
			q, ok := prices[asset+"-"+domain.StableAsset]
			if !ok {
				continue
			}
			threshold := s.movementThresholdPct
			if t, ok := thresholds[asset]; ok && t > 0 {
				threshold = t
			}
			changePct := q.Change24h * 100
			if math.Abs(changePct) < threshold {
				continue
			}
			if !s.firstNoticeToday(ctx, tenantID, asset, day) {
				continue
			}

			s.logger.InfoContext(ctx, "movement alert",
				slog.String("tenant", tenantID),
				slog.String("asset", asset),
				slog.Float64("change_24h_pct", changePct),
				slog.Float64("threshold_pct", threshold),
			)
			s.send(ctx, tenantID, fmt.Sprintf("%s moved %+.1f%% in 24h (now %.6g)",
				asset, changePct, q.Last))
		}
	}

	return s.checkPortfolioMovement(ctx, tenantID, prices, day)
}

// checkPortfolioMovement compares the current value of the baselined
// holdings against the value recorded when the baseline was captured.
func (s *TrackerService) checkPortfolioMovement(ctx context.Context, tenantID string, prices map[string]domain.PriceQuote, day string) error {
	if s.baselines == nil {
		return nil
	}

	baseline, err := s.baselines.Get(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tracker_service: baseline: %w", err)
	}
	if baseline.TotalValue <= 0 {
		return nil
	}

	current := holdingsValue(baseline.Amounts, prices)
	changePct := (current - baseline.TotalValue) / baseline.TotalValue * 100
	if math.Abs(changePct) < s.movementThresholdPct {
		return nil
	}
	if !s.firstNoticeToday(ctx, tenantID, portfolioScope, day) {
		return nil
	}

	s.logger.InfoContext(ctx, "portfolio movement alert",
		slog.String("tenant", tenantID),
		slog.Float64("change_pct", changePct),
		slog.Float64("total_value", current),
	)
	s.send(ctx, tenantID, fmt.Sprintf("Portfolio moved %+.1f%% since last reconciliation (now %.2f %s)",
		changePct, current, domain.StableAsset))
	return nil
}

// ExtendRanges pushes every open position's high/low water marks out to the
// current price.
func (s *TrackerService) ExtendRanges(ctx context.Context, tenantID string) error {
	positions, err := s.positions.GetAll(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("tracker_service: positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	prices, err := s.prices.GetPrices(ctx)
	if err != nil {
		return fmt.Errorf("tracker_service: prices: %w", err)
	}

	for asset, pos := range positions {
		q, ok := prices[asset+"-"+domain.StableAsset]
		if !ok || q.Last <= 0 {
			continue
		}

		changed := false
		if q.Last > pos.HighestPrice {
			pos.HighestPrice = q.Last
			changed = true
		}
		if q.Last < pos.LowestPrice || pos.LowestPrice == 0 {
			pos.LowestPrice = q.Last
			changed = true
		}
		if !changed {
			continue
		}
		if err := s.positions.Upsert(ctx, pos); err != nil {
			return fmt.Errorf("tracker_service: persist range for %q: %w", asset, err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (s *TrackerService) send(ctx context.Context, tenantID, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, tenantID, text); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("tenant", tenantID),
			slog.String("error", err.Error()),
		)
	}
}

// firstNoticeToday reports whether this is the first movement notice for
// (tenant, scope) today. The distributed lock makes the dedupe survive
// restarts and span replicas; the in-memory map covers lock-backend outages.
func (s *TrackerService) firstNoticeToday(ctx context.Context, tenantID, scope, day string) bool {
	if s.locks != nil {
		_, err := s.locks.Acquire(ctx, "movement:"+tenantID+":"+scope+":"+day, movementNoticeTTL)
		switch {
		case err == nil:
			return true
		case errors.Is(err, domain.ErrLockHeld):
			return false
		default:
			s.logger.WarnContext(ctx, "movement dedupe lock failed",
				slog.String("tenant", tenantID),
				slog.String("scope", scope),
				slog.String("error", err.Error()),
			)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID + "|" + scope
	if s.notified[key] == day {
		return false
	}
	s.notified[key] = day
	return true
}

// holdingsValue prices a balance map with current quotes; the stable asset
// counts at par, unquoted assets count as zero.
func holdingsValue(amounts map[string]float64, prices map[string]domain.PriceQuote) float64 {
	total := 0.0
	for asset, amount := range amounts {
		if asset == domain.StableAsset {
			total += amount
			continue
		}
		if q, ok := prices[asset+"-"+domain.StableAsset]; ok {
			total += amount * q.Last
		}
	}
	return total
}

func alertTriggered(a domain.PriceAlert, price float64) bool {
	switch a.Direction {
	case domain.AlertAbove:
		return price >= a.Target
	case domain.AlertBelow:
		return price <= a.Target
	default:
		return false
	}
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alimansour/coinwatch/internal/domain"
)

// EventSink receives the typed transition events the engine emits. Sink
// failures are logged and never abort a reconciliation cycle.
type EventSink interface {
	Publish(ctx context.Context, ev domain.LedgerEvent) error
}

// Engine compares a fresh balance snapshot against the tenant's stored
// baseline and turns attributable deltas into position transitions. Cycles
// for the same tenant are serialized; different tenants run concurrently.
type Engine struct {
	positions domain.PositionStore
	trades    domain.TradeStore
	baselines domain.BaselineStore
	sink      EventSink
	logger    *slog.Logger

	mu      sync.Mutex
	tenants map[string]*sync.Mutex

	now func() time.Time
}

// NewEngine creates a reconciliation engine. sink may be nil.
func NewEngine(
	positions domain.PositionStore,
	trades domain.TradeStore,
	baselines domain.BaselineStore,
	sink EventSink,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		positions: positions,
		trades:    trades,
		baselines: baselines,
		sink:      sink,
		logger:    logger.With(slog.String("component", "ledger")),
		tenants:   make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

// Reconcile runs one cycle for the snapshot's tenant. The first cycle ever
// seen for a tenant only seeds the baseline; trades begin with the second.
// The baseline advances only when at least one delta was actionable, so a
// no-op cycle never moves the comparison point.
func (e *Engine) Reconcile(ctx context.Context, snap domain.BalanceSnapshot, prices map[string]domain.PriceQuote) error {
	lock := e.tenantLock(snap.TenantID)
	lock.Lock()
	defer lock.Unlock()

	newTotal := totalValue(snap.Amounts, prices)

	baseline, err := e.baselines.Get(ctx, snap.TenantID)
	if errors.Is(err, domain.ErrNotFound) {
		seeded := domain.ReconBaseline{
			TenantID:   snap.TenantID,
			Amounts:    snap.Amounts,
			TotalValue: newTotal,
			CapturedAt: snap.CapturedAt,
		}
		if err := e.baselines.Save(ctx, seeded); err != nil {
			return fmt.Errorf("ledger: seed baseline: %w", err)
		}
		e.logger.InfoContext(ctx, "baseline seeded",
			slog.String("tenant", snap.TenantID),
			slog.Float64("total_value", newTotal),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: load baseline: %w", err)
	}

	positions, err := e.positions.GetAll(ctx, snap.TenantID)
	if err != nil {
		return fmt.Errorf("ledger: load positions: %w", err)
	}

	actionable := false
	for _, asset := range unionAssets(baseline.Amounts, snap.Amounts) {
		quote, ok := prices[instrumentID(asset)]
		if !ok || quote.Last <= 0 {
			continue
		}
		price := quote.Last

		delta := snap.Amounts[asset] - baseline.Amounts[asset]
		if math.Abs(delta*price) < domain.DustThreshold {
			continue
		}

		ev, err := e.applyDelta(ctx, snap, positions, baseline.TotalValue, newTotal, asset, delta, price)
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		actionable = true
		e.publish(ctx, *ev)
	}

	if !actionable {
		return nil
	}

	next := domain.ReconBaseline{
		TenantID:   snap.TenantID,
		Amounts:    snap.Amounts,
		TotalValue: newTotal,
		CapturedAt: snap.CapturedAt,
	}
	if err := e.baselines.Save(ctx, next); err != nil {
		return fmt.Errorf("ledger: advance baseline: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// applyDelta dispatches one asset's delta to the position transition and
// persists the result. A nil event with nil error means the delta was
// classified as not attributable (sell of an untracked asset).
func (e *Engine) applyDelta(
	ctx context.Context,
	snap domain.BalanceSnapshot,
	positions map[string]domain.Position,
	oldTotal, newTotal float64,
	asset string,
	delta, price float64,
) (*domain.LedgerEvent, error) {
	pos, tracked := positions[asset]
	now := e.now()

	ev := domain.LedgerEvent{
		TenantID:      snap.TenantID,
		Asset:         asset,
		Delta:         delta,
		Price:         price,
		TradeValue:    math.Abs(delta) * price,
		OldTotalValue: oldTotal,
		NewTotalValue: newTotal,
		At:            now,
	}
	if newTotal > 0 {
		ev.AssetWeightPct = snap.Amounts[asset] * price / newTotal * 100
		ev.CashPct = snap.Amounts[domain.StableAsset] / newTotal * 100
	}

	switch {
	case delta > 0:
		if tracked {
			pos = ApplyBuy(pos, delta, price)
		} else {
			pos = OpenPosition(snap.TenantID, asset, delta, price, oldTotal, now)
		}
		if err := e.positions.Upsert(ctx, pos); err != nil {
			return nil, fmt.Errorf("ledger: persist position: %w", err)
		}
		positions[asset] = pos
		ev.Type = domain.LedgerEventBuy
		ev.Position = &pos
		return &ev, nil

	case tracked:
		updated, closed := ApplySell(pos, -delta, price, now)
		if closed != nil {
			if err := e.trades.Append(ctx, *closed); err != nil {
				return nil, fmt.Errorf("ledger: append closed trade: %w", err)
			}
			if err := e.positions.Delete(ctx, snap.TenantID, asset); err != nil {
				return nil, fmt.Errorf("ledger: remove closed position: %w", err)
			}
			delete(positions, asset)
			ev.Type = domain.LedgerEventClose
			ev.Closed = closed
			return &ev, nil
		}
		if err := e.positions.Upsert(ctx, updated); err != nil {
			return nil, fmt.Errorf("ledger: persist position: %w", err)
		}
		positions[asset] = updated
		ev.Type = domain.LedgerEventSell
		ev.Position = &updated
		return &ev, nil

	default:
		// A sell of an asset with no tracked entry: cost basis is unknown
		// (holdings that predate onboarding), so there is nothing to book.
		e.logger.DebugContext(ctx, "untracked sell ignored",
			slog.String("tenant", snap.TenantID),
			slog.String("asset", asset),
			slog.Float64("delta", delta),
		)
		return nil, nil
	}
}

func (e *Engine) publish(ctx context.Context, ev domain.LedgerEvent) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "ledger event publish failed",
			slog.String("tenant", ev.TenantID),
			slog.String("asset", ev.Asset),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) tenantLock(tenantID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.tenants[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		e.tenants[tenantID] = lock
	}
	return lock
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func instrumentID(asset string) string {
	return asset + "-" + domain.StableAsset
}

// totalValue prices a balance map in the stable asset. The stable asset
// itself counts at par; assets with no quote contribute nothing.
func totalValue(amounts map[string]float64, prices map[string]domain.PriceQuote) float64 {
	total := 0.0
	for asset, amount := range amounts {
		if asset == domain.StableAsset {
			total += amount
			continue
		}
		if q, ok := prices[instrumentID(asset)]; ok {
			total += amount * q.Last
		}
	}
	return total
}

// unionAssets is the sorted union of both snapshots' assets, minus the stable
// quote asset whose deltas are never trades.
func unionAssets(prev, cur map[string]float64) []string {
	seen := make(map[string]struct{}, len(prev)+len(cur))
	for a := range prev {
		seen[a] = struct{}{}
	}
	for a := range cur {
		seen[a] = struct{}{}
	}
	delete(seen, domain.StableAsset)

	assets := make([]string, 0, len(seen))
	for a := range seen {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets
}

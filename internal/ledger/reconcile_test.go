package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimansour/coinwatch/internal/domain"
)

// --------------------------------------------------------------------------
// In-memory fakes
// --------------------------------------------------------------------------

type memPositions struct {
	mu   sync.Mutex
	data map[string]map[string]domain.Position
}

func newMemPositions() *memPositions {
	return &memPositions{data: make(map[string]map[string]domain.Position)}
}

func (m *memPositions) GetAll(_ context.Context, tenantID string) (map[string]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Position, len(m.data[tenantID]))
	for k, v := range m.data[tenantID] {
		out[k] = v
	}
	return out, nil
}

func (m *memPositions) Upsert(_ context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[p.TenantID] == nil {
		m.data[p.TenantID] = make(map[string]domain.Position)
	}
	m.data[p.TenantID][p.Asset] = p
	return nil
}

func (m *memPositions) Delete(_ context.Context, tenantID, asset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[tenantID], asset)
	return nil
}

type memTrades struct {
	mu     sync.Mutex
	trades []domain.ClosedTrade
}

func (m *memTrades) Append(_ context.Context, t domain.ClosedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

func (m *memTrades) ListByTenant(_ context.Context, tenantID string, _ int) ([]domain.ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ClosedTrade
	for _, t := range m.trades {
		if t.TenantID == tenantID {
			out = append(out, t)
		}
	}
	return out, nil
}

type memBaselines struct {
	mu   sync.Mutex
	data map[string]domain.ReconBaseline
}

func newMemBaselines() *memBaselines {
	return &memBaselines{data: make(map[string]domain.ReconBaseline)}
}

func (m *memBaselines) Get(_ context.Context, tenantID string) (domain.ReconBaseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[tenantID]
	if !ok {
		return domain.ReconBaseline{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *memBaselines) Save(_ context.Context, b domain.ReconBaseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[b.TenantID] = b
	return nil
}

func (m *memBaselines) Delete(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, tenantID)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

func (s *recordingSink) Publish(_ context.Context, ev domain.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) all() []domain.LedgerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LedgerEvent(nil), s.events...)
}

// --------------------------------------------------------------------------
// Fixture
// --------------------------------------------------------------------------

type engineFixture struct {
	engine    *Engine
	positions *memPositions
	trades    *memTrades
	baselines *memBaselines
	sink      *recordingSink
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		positions: newMemPositions(),
		trades:    &memTrades{},
		baselines: newMemBaselines(),
		sink:      &recordingSink{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = NewEngine(f.positions, f.trades, f.baselines, f.sink, logger)
	f.engine.now = func() time.Time {
		return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	}
	return f
}

func snapshot(amounts map[string]float64) domain.BalanceSnapshot {
	return domain.BalanceSnapshot{
		TenantID:   "tenant-1",
		Amounts:    amounts,
		CapturedAt: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
	}
}

func quotes(last map[string]float64) map[string]domain.PriceQuote {
	out := make(map[string]domain.PriceQuote, len(last))
	for id, p := range last {
		out[id] = domain.PriceQuote{InstrumentID: id, Last: p}
	}
	return out
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestFirstCycleSeedsBaseline(t *testing.T) {
	f := newEngineFixture(t)
	prices := quotes(map[string]float64{"BTC-USDT": 50000})

	err := f.engine.Reconcile(context.Background(), snapshot(map[string]float64{
		"USDT": 1000, "BTC": 0.01,
	}), prices)
	require.NoError(t, err)

	assert.Empty(t, f.sink.all(), "seeding must not emit events")
	b, err := f.baselines.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.InDelta(t, 1500.0, b.TotalValue, 1e-9)
	assert.Equal(t, 0.01, b.Amounts["BTC"])
}

func TestBuyDeltaOpensPosition(t *testing.T) {
	f := newEngineFixture(t)
	prices := quotes(map[string]float64{"BTC-USDT": 50000})

	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 1000}), prices))
	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 500, "BTC": 0.01}), prices))

	events := f.sink.all()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, domain.LedgerEventBuy, ev.Type)
	assert.Equal(t, "BTC", ev.Asset)
	assert.InDelta(t, 500.0, ev.TradeValue, 1e-9)
	assert.InDelta(t, 1000.0, ev.OldTotalValue, 1e-9)
	assert.InDelta(t, 1000.0, ev.NewTotalValue, 1e-9)
	assert.InDelta(t, 50.0, ev.AssetWeightPct, 1e-9)
	assert.InDelta(t, 50.0, ev.CashPct, 1e-9)

	require.NotNil(t, ev.Position)
	assert.Equal(t, 50000.0, ev.Position.AvgBuyPrice)
	assert.Equal(t, 0.01, ev.Position.TotalAmountBought)
	assert.InDelta(t, 50.0, ev.Position.EntryCapitalPercent, 1e-9)

	// An actionable cycle advances the baseline.
	b, err := f.baselines.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 0.01, b.Amounts["BTC"])
}

func TestDustDeltaIsNoOpAndKeepsBaseline(t *testing.T) {
	f := newEngineFixture(t)
	prices := quotes(map[string]float64{"BTC-USDT": 50000})

	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 1000, "BTC": 0.01}), prices))
	before, _ := f.baselines.Get(context.Background(), "tenant-1")

	// 0.00001 BTC * 50000 = 0.5 USDT, under the dust threshold.
	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 1000, "BTC": 0.01001}), prices))

	assert.Empty(t, f.sink.all())
	after, _ := f.baselines.Get(context.Background(), "tenant-1")
	assert.Equal(t, before.Amounts["BTC"], after.Amounts["BTC"],
		"a no-op cycle must not advance the baseline")
}

func TestMissingPriceSkipsAsset(t *testing.T) {
	f := newEngineFixture(t)
	prices := quotes(map[string]float64{"BTC-USDT": 50000})

	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 1000}), prices))
	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 1000, "NEWCOIN": 500}), prices))

	assert.Empty(t, f.sink.all())
}

func TestPartialSellThenClose(t *testing.T) {
	f := newEngineFixture(t)

	// Seed, then buy 0.01 BTC at 50000.
	buyPrices := quotes(map[string]float64{"BTC-USDT": 50000})
	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 1000}), buyPrices))
	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 500, "BTC": 0.01}), buyPrices))

	// Partial sell at 60000 leaving 0.0001 BTC = 6 USDT of value.
	sellPrices := quotes(map[string]float64{"BTC-USDT": 60000})
	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 1094, "BTC": 0.0001}), sellPrices))

	events := f.sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, domain.LedgerEventSell, events[1].Type)
	require.NotNil(t, events[1].Position)
	assert.Equal(t, 50000.0, events[1].Position.AvgBuyPrice)

	positions, _ := f.positions.GetAll(context.Background(), "tenant-1")
	require.Contains(t, positions, "BTC")

	// Final sell to zero closes the position.
	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 1100}), sellPrices))

	events = f.sink.all()
	require.Len(t, events, 3)
	closeEv := events[2]
	assert.Equal(t, domain.LedgerEventClose, closeEv.Type)
	require.NotNil(t, closeEv.Closed)
	assert.InDelta(t, 60000.0, closeEv.Closed.AvgSellPrice, 1e-6)
	assert.InDelta(t, 100.0, closeEv.Closed.PnL, 1e-6)
	assert.InDelta(t, 20.0, closeEv.Closed.PnLPercent, 1e-6)
	assert.Equal(t, 0.01, closeEv.Closed.Quantity)

	positions, _ = f.positions.GetAll(context.Background(), "tenant-1")
	assert.NotContains(t, positions, "BTC")

	trades, _ := f.trades.ListByTenant(context.Background(), "tenant-1", 0)
	require.Len(t, trades, 1, "exactly one closed trade per position lifetime")
}

func TestUntrackedSellIsIgnored(t *testing.T) {
	f := newEngineFixture(t)
	prices := quotes(map[string]float64{"ETH-USDT": 2000})

	// ETH was held before onboarding: no position was ever opened for it.
	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 100, "ETH": 1}), prices))
	before, _ := f.baselines.Get(context.Background(), "tenant-1")

	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 2100}), prices))

	assert.Empty(t, f.sink.all())
	trades, _ := f.trades.ListByTenant(context.Background(), "tenant-1", 0)
	assert.Empty(t, trades)

	after, _ := f.baselines.Get(context.Background(), "tenant-1")
	assert.Equal(t, before.CapturedAt, after.CapturedAt,
		"an ignored delta is not actionable and must not advance the baseline")
}

func TestStableAssetDeltaNeverTrades(t *testing.T) {
	f := newEngineFixture(t)
	prices := quotes(map[string]float64{"USDT-USDT": 1})

	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 100}), prices))
	require.NoError(t, f.engine.Reconcile(context.Background(),
		snapshot(map[string]float64{"USDT": 5000}), prices))

	assert.Empty(t, f.sink.all())
}

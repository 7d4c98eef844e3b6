package service

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

type fakePrices struct {
	quotes map[string]domain.PriceQuote
}

func (f *fakePrices) GetPrices(_ context.Context) (map[string]domain.PriceQuote, error) {
	return f.quotes, nil
}

type memAlerts struct {
	mu     sync.Mutex
	alerts map[string]domain.PriceAlert
}

func newMemAlerts() *memAlerts {
	return &memAlerts{alerts: make(map[string]domain.PriceAlert)}
}

func (m *memAlerts) Create(_ context.Context, a domain.PriceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = a
	return nil
}

func (m *memAlerts) ListByTenant(_ context.Context, tenantID string) ([]domain.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PriceAlert
	for _, a := range m.alerts {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAlerts) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alerts, id)
	return nil
}

type memPositionStore struct {
	mu   sync.Mutex
	data map[string]domain.Position // keyed by asset, single tenant
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{data: make(map[string]domain.Position)}
}

func (m *memPositionStore) GetAll(_ context.Context, _ string) (map[string]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Position, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *memPositionStore) Upsert(_ context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[p.Asset] = p
	return nil
}

func (m *memPositionStore) Delete(_ context.Context, _, asset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, asset)
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Send(_ context.Context, _, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return nil
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

type memMovements struct {
	mu   sync.Mutex
	data map[string]domain.MovementOverride // keyed by tenant|asset
}

func newMemMovements() *memMovements {
	return &memMovements{data: make(map[string]domain.MovementOverride)}
}

func (m *memMovements) Upsert(_ context.Context, o domain.MovementOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[o.TenantID+"|"+o.Asset] = o
	return nil
}

func (m *memMovements) ListByTenant(_ context.Context, tenantID string) ([]domain.MovementOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MovementOverride
	for _, o := range m.data {
		if o.TenantID == tenantID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memMovements) Delete(_ context.Context, tenantID, asset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, tenantID+"|"+asset)
	return nil
}

type fakeBaselines struct {
	baseline domain.ReconBaseline
	set      bool
}

func (f *fakeBaselines) Get(_ context.Context, _ string) (domain.ReconBaseline, error) {
	if !f.set {
		return domain.ReconBaseline{}, domain.ErrNotFound
	}
	return f.baseline, nil
}

func (f *fakeBaselines) Save(_ context.Context, b domain.ReconBaseline) error {
	f.baseline, f.set = b, true
	return nil
}

func (f *fakeBaselines) Delete(_ context.Context, _ string) error {
	f.set = false
	return nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks {
	return &memLocks{held: make(map[string]bool)}
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {}, nil
}

func newTracker(alerts *memAlerts, positions *memPositionStore, prices *fakePrices, n *recordingNotifier) *TrackerService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTrackerService(alerts, positions, nil, nil, prices, n, nil, 10, logger)
}

func TestCheckAlertsFiresOnceAndRetires(t *testing.T) {
	alerts := newMemAlerts()
	notifier := &recordingNotifier{}
	prices := &fakePrices{quotes: map[string]domain.PriceQuote{
		"BTC-USDT": {InstrumentID: "BTC-USDT", Last: 51000},
	}}
	s := newTracker(alerts, newMemPositionStore(), prices, notifier)

	require.NoError(t, s.CreateAlert(context.Background(), domain.PriceAlert{
		ID: "a1", TenantID: "tenant-1", InstrumentID: "BTC-USDT",
		Direction: domain.AlertAbove, Target: 50000,
	}))
	require.NoError(t, s.CreateAlert(context.Background(), domain.PriceAlert{
		ID: "a2", TenantID: "tenant-1", InstrumentID: "BTC-USDT",
		Direction: domain.AlertBelow, Target: 40000,
	}))

	require.NoError(t, s.CheckAlerts(context.Background(), "tenant-1"))

	require.Len(t, notifier.all(), 1)
	assert.Contains(t, notifier.all()[0], "BTC-USDT")

	// The fired alert is gone; the untriggered one survives.
	remaining, _ := alerts.ListByTenant(context.Background(), "tenant-1")
	require.Len(t, remaining, 1)
	assert.Equal(t, "a2", remaining[0].ID)

	// A second check finds nothing new.
	require.NoError(t, s.CheckAlerts(context.Background(), "tenant-1"))
	assert.Len(t, notifier.all(), 1)
}

func TestCheckMovementsDedupesPerDay(t *testing.T) {
	positions := newMemPositionStore()
	require.NoError(t, positions.Upsert(context.Background(), domain.Position{
		TenantID: "tenant-1", Asset: "SOL",
	}))

	notifier := &recordingNotifier{}
	prices := &fakePrices{quotes: map[string]domain.PriceQuote{
		"SOL-USDT": {InstrumentID: "SOL-USDT", Last: 150, Change24h: 0.15},
	}}
	s := newTracker(newMemAlerts(), positions, prices, notifier)

	require.NoError(t, s.CheckMovements(context.Background(), "tenant-1"))
	require.NoError(t, s.CheckMovements(context.Background(), "tenant-1"))

	assert.Len(t, notifier.all(), 1, "one movement notice per asset per day")
	assert.Contains(t, notifier.all()[0], "SOL")
}

func TestCheckMovementsIgnoresSmallMoves(t *testing.T) {
	positions := newMemPositionStore()
	require.NoError(t, positions.Upsert(context.Background(), domain.Position{
		TenantID: "tenant-1", Asset: "BTC",
	}))

	notifier := &recordingNotifier{}
	prices := &fakePrices{quotes: map[string]domain.PriceQuote{
		"BTC-USDT": {InstrumentID: "BTC-USDT", Last: 50000, Change24h: 0.03},
	}}
	s := newTracker(newMemAlerts(), positions, prices, notifier)

	require.NoError(t, s.CheckMovements(context.Background(), "tenant-1"))
	assert.Empty(t, notifier.all())
}

func TestCheckMovementsPerAssetOverride(t *testing.T) {
	positions := newMemPositionStore()
	require.NoError(t, positions.Upsert(context.Background(), domain.Position{
		TenantID: "tenant-1", Asset: "SOL",
	}))
	require.NoError(t, positions.Upsert(context.Background(), domain.Position{
		TenantID: "tenant-1", Asset: "BTC",
	}))

	notifier := &recordingNotifier{}
	prices := &fakePrices{quotes: map[string]domain.PriceQuote{
		"SOL-USDT": {InstrumentID: "SOL-USDT", Last: 150, Change24h: 0.05},
		"BTC-USDT": {InstrumentID: "BTC-USDT", Last: 50000, Change24h: 0.05},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	movements := newMemMovements()
	s := NewTrackerService(newMemAlerts(), positions, movements, nil,
		prices, notifier, nil, 10, logger)

	// Tighten SOL to 3% while BTC keeps the 10% global threshold.
	require.NoError(t, s.SetMovementOverride(context.Background(), domain.MovementOverride{
		TenantID: "tenant-1", Asset: "SOL", ThresholdPct: 3,
	}))

	require.NoError(t, s.CheckMovements(context.Background(), "tenant-1"))

	require.Len(t, notifier.all(), 1, "only the overridden asset is under threshold")
	assert.Contains(t, notifier.all()[0], "SOL")

	// Clearing the override re-arms the global threshold for tomorrow.
	require.NoError(t, s.ClearMovementOverride(context.Background(), "tenant-1", "SOL"))
	overrides, err := movements.ListByTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestCheckMovementsRejectsNonPositiveOverride(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewTrackerService(newMemAlerts(), newMemPositionStore(), newMemMovements(), nil,
		&fakePrices{}, &recordingNotifier{}, nil, 10, logger)

	err := s.SetMovementOverride(context.Background(), domain.MovementOverride{
		TenantID: "tenant-1", Asset: "SOL", ThresholdPct: -1,
	})
	require.Error(t, err)
}

func TestCheckMovementsPortfolioDrift(t *testing.T) {
	baselines := &fakeBaselines{set: true, baseline: domain.ReconBaseline{
		TenantID:   "tenant-1",
		Amounts:    map[string]float64{"USDT": 500, "ETH": 1},
		TotalValue: 1000,
	}}

	notifier := &recordingNotifier{}
	prices := &fakePrices{quotes: map[string]domain.PriceQuote{
		// ETH was worth 500 at capture, now 650: the portfolio moved +15%.
		"ETH-USDT": {InstrumentID: "ETH-USDT", Last: 650, Change24h: 0.05},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewTrackerService(newMemAlerts(), newMemPositionStore(), nil, baselines,
		prices, notifier, nil, 10, logger)

	require.NoError(t, s.CheckMovements(context.Background(), "tenant-1"))
	require.Len(t, notifier.all(), 1)
	assert.Contains(t, notifier.all()[0], "Portfolio moved +15.0%")

	// Same drift later the same day stays quiet.
	require.NoError(t, s.CheckMovements(context.Background(), "tenant-1"))
	assert.Len(t, notifier.all(), 1)
}

func TestCheckMovementsDedupeSurvivesRestart(t *testing.T) {
	positions := newMemPositionStore()
	require.NoError(t, positions.Upsert(context.Background(), domain.Position{
		TenantID: "tenant-1", Asset: "SOL",
	}))

	prices := &fakePrices{quotes: map[string]domain.PriceQuote{
		"SOL-USDT": {InstrumentID: "SOL-USDT", Last: 150, Change24h: 0.15},
	}}
	locks := newMemLocks()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first := &recordingNotifier{}
	s1 := NewTrackerService(newMemAlerts(), positions, nil, nil, prices, first, locks, 10, logger)
	require.NoError(t, s1.CheckMovements(context.Background(), "tenant-1"))
	require.Len(t, first.all(), 1)

	// A fresh service sharing the lock backend sees today's notice.
	second := &recordingNotifier{}
	s2 := NewTrackerService(newMemAlerts(), positions, nil, nil, prices, second, locks, 10, logger)
	require.NoError(t, s2.CheckMovements(context.Background(), "tenant-1"))
	assert.Empty(t, second.all())
}

func TestExtendRanges(t *testing.T) {
	positions := newMemPositionStore()
	require.NoError(t, positions.Upsert(context.Background(), domain.Position{
		TenantID: "tenant-1", Asset: "ETH",
		HighestPrice: 2500, LowestPrice: 1800,
	}))

	prices := &fakePrices{quotes: map[string]domain.PriceQuote{
		"ETH-USDT": {InstrumentID: "ETH-USDT", Last: 3000},
	}}
	s := newTracker(newMemAlerts(), positions, prices, &recordingNotifier{})

	require.NoError(t, s.ExtendRanges(context.Background(), "tenant-1"))

	got, _ := positions.GetAll(context.Background(), "tenant-1")
	assert.Equal(t, 3000.0, got["ETH"].HighestPrice)
	assert.Equal(t, 1800.0, got["ETH"].LowestPrice)
}

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

// flatThenRally builds a candle series whose closes sit at base and jump to
// spike for the last n candles, which drags the fast average over the slow
// one at the tail.
func flatThenRally(base, spike float64, n int) []domain.Candle {
	candles := make([]domain.Candle, candleLookback)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		price := base
		if i >= len(candles)-n {
			price = spike
		}
		candles[i] = domain.Candle{
			Timestamp: start.AddDate(0, 0, i),
			Open:      price, High: price, Low: price, Close: price,
		}
	}
	return candles
}

func TestDetectCrossGolden(t *testing.T) {
	// On a flat series both averages are equal; the first spike candle lifts
	// the fast average over the slow one.
	candles := flatThenRally(100, 200, 1)

	sig, ok := DetectCross("BTC-USDT", candles)

	require.True(t, ok)
	assert.Equal(t, GoldenCross, sig.Kind)
	assert.Equal(t, 200.0, sig.Price)
	assert.Equal(t, "BTC-USDT", sig.InstrumentID)
}

func TestDetectCrossDeath(t *testing.T) {
	candles := flatThenRally(200, 100, 1)

	sig, ok := DetectCross("ETH-USDT", candles)

	require.True(t, ok)
	assert.Equal(t, DeathCross, sig.Kind)
}

func TestDetectCrossNoSignalOnFlatSeries(t *testing.T) {
	candles := flatThenRally(100, 100, 10)

	_, ok := DetectCross("BTC-USDT", candles)
	assert.False(t, ok)
}

func TestDetectCrossInsufficientHistory(t *testing.T) {
	candles := flatThenRally(100, 200, 1)[:slowWindow]

	_, ok := DetectCross("BTC-USDT", candles)
	assert.False(t, ok)
}

// venueOrder flips a chronological series into the newest-first order the
// exchange delivers, which is what Scan receives in production.
func venueOrder(candles []domain.Candle) []domain.Candle {
	out := make([]domain.Candle, len(candles))
	for i, c := range candles {
		out[len(candles)-1-i] = c
	}
	return out
}

type fakeCandles struct {
	series map[string][]domain.Candle
}

func (f *fakeCandles) FetchCandles(_ context.Context, instrumentID, _ string, _ int) ([]domain.Candle, error) {
	// Hand out a copy; Scan is allowed to reorder its input.
	return append([]domain.Candle(nil), f.series[instrumentID]...), nil
}

type fakeSignalStore struct {
	mu      sync.Mutex
	signals map[string]string
}

func newFakeSignalStore() *fakeSignalStore {
	return &fakeSignalStore{signals: make(map[string]string)}
}

func (f *fakeSignalStore) LastSignal(_ context.Context, instrumentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.signals[instrumentID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (f *fakeSignalStore) SaveSignal(_ context.Context, instrumentID, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals[instrumentID] = signal
	return nil
}

func TestScanDetectsCrossOnVenueOrderedCandles(t *testing.T) {
	// The exchange returns candles newest-first; a golden cross completed by
	// the newest candle must still be found.
	candles := &fakeCandles{series: map[string][]domain.Candle{
		"BTC-USDT": venueOrder(flatThenRally(100, 200, 1)),
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewPatternService(candles, nil, logger)

	signals, err := s.Scan(context.Background(), []string{"BTC-USDT"})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, GoldenCross, signals[0].Kind)
	assert.Equal(t, 200.0, signals[0].Price)
}

func TestScanSuppressesRepeatSignals(t *testing.T) {
	candles := &fakeCandles{series: map[string][]domain.Candle{
		"BTC-USDT": venueOrder(flatThenRally(100, 200, 1)),
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewPatternService(candles, nil, logger)

	first, err := s.Scan(context.Background(), []string{"BTC-USDT"})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The same crossover on the next scan is old news.
	second, err := s.Scan(context.Background(), []string{"BTC-USDT"})
	require.NoError(t, err)
	assert.Empty(t, second)

	// A flip in the other direction reports again.
	candles.series["BTC-USDT"] = venueOrder(flatThenRally(200, 100, 1))
	third, err := s.Scan(context.Background(), []string{"BTC-USDT"})
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, DeathCross, third[0].Kind)
}

func TestScanDedupeSurvivesRestart(t *testing.T) {
	candles := &fakeCandles{series: map[string][]domain.Candle{
		"BTC-USDT": venueOrder(flatThenRally(100, 200, 1)),
	}}
	store := newFakeSignalStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first := NewPatternService(candles, store, logger)
	signals, err := first.Scan(context.Background(), []string{"BTC-USDT"})
	require.NoError(t, err)
	require.Len(t, signals, 1)

	// A fresh service sharing the store knows the cross was already
	// announced.
	second := NewPatternService(candles, store, logger)
	signals, err = second.Scan(context.Background(), []string{"BTC-USDT"})
	require.NoError(t, err)
	assert.Empty(t, signals)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alimansour/coinwatch/internal/domain"
)

// Moving-average windows for the cross scan. candleLookback leaves headroom
// so the slow average exists on both sides of the newest candle.
const (
	fastWindow     = 20
	slowWindow     = 50
	candleLookback = slowWindow + 10
)

// CandleSource pages historical candles for an instrument.
type CandleSource interface {
	FetchCandles(ctx context.Context, instrumentID, bar string, total int) ([]domain.Candle, error)
}

// CrossKind names a moving-average crossover.
type CrossKind string

const (
	GoldenCross CrossKind = "golden_cross"
	DeathCross  CrossKind = "death_cross"
)

// CrossSignal is one detected crossover on an instrument's daily candles.
type CrossSignal struct {
	InstrumentID string
	Kind         CrossKind
	Price        float64
	At           time.Time
}

// PatternService scans daily candles for simple moving-average crossovers
// (20 over 50). A crossover is reported once; the same signal on a later
// scan is suppressed until the direction flips. The last reported signal is
// persisted through signals (when given), so a restart does not re-announce
// a cross that was already delivered.
type PatternService struct {
	candles CandleSource
	signals domain.SignalStore
	logger  *slog.Logger

	mu   sync.Mutex
	last map[string]CrossKind // instrument -> last reported kind
}

// NewPatternService creates a PatternService. signals may be nil, in which
// case dedupe state lives in memory only.
func NewPatternService(candles CandleSource, signals domain.SignalStore, logger *slog.Logger) *PatternService {
	return &PatternService{
		candles: candles,
		signals: signals,
		logger:  logger.With(slog.String("component", "pattern_service")),
		last:    make(map[string]CrossKind),
	}
}

// Scan fetches daily candles for each instrument and returns fresh crossover
// signals. Instruments with too little history are skipped.
func (s *PatternService) Scan(ctx context.Context, instrumentIDs []string) ([]CrossSignal, error) {
	var signals []CrossSignal
	for _, id := range instrumentIDs {
		candles, err := s.candles.FetchCandles(ctx, id, "1D", candleLookback)
		if err != nil {
			return signals, fmt.Errorf("pattern_service: candles for %q: %w", id, err)
		}

		// The venue pages candles newest-first; the detector needs them in
		// chronological order.
		for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
			candles[i], candles[j] = candles[j], candles[i]
		}

		sig, ok := DetectCross(id, candles)
		if !ok {
			continue
		}
		if !s.markReported(ctx, id, sig.Kind) {
			continue
		}

		s.logger.InfoContext(ctx, "moving-average crossover",
			slog.String("instrument", id),
			slog.String("kind", string(sig.Kind)),
			slog.Float64("price", sig.Price),
		)
		signals = append(signals, sig)
	}
	return signals, nil
}

// markReported records the signal and reports whether it differs from the
// last one emitted for the instrument. The persisted record is consulted
// the first time an instrument is seen after startup.
func (s *PatternService) markReported(ctx context.Context, instrumentID string, kind CrossKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, known := s.last[instrumentID]
	if !known && s.signals != nil {
		switch v, err := s.signals.LastSignal(ctx, instrumentID); {
		case err == nil:
			prev, known = CrossKind(v), true
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "signal store read failed",
				slog.String("instrument", instrumentID),
				slog.String("error", err.Error()),
			)
		}
	}
	if known && prev == kind {
		s.last[instrumentID] = prev
		return false
	}

	s.last[instrumentID] = kind
	if s.signals != nil {
		if err := s.signals.SaveSignal(ctx, instrumentID, string(kind)); err != nil {
			s.logger.WarnContext(ctx, "signal store write failed",
				slog.String("instrument", instrumentID),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

// DetectCross reports whether the fast average crossed the slow one between
// the two newest candles. Candles must be ordered oldest-first.
func DetectCross(instrumentID string, candles []domain.Candle) (CrossSignal, bool) {
	if len(candles) < slowWindow+1 {
		return CrossSignal{}, false
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fastPrev := sma(closes[:len(closes)-1], fastWindow)
	slowPrev := sma(closes[:len(closes)-1], slowWindow)
	fastCur := sma(closes, fastWindow)
	slowCur := sma(closes, slowWindow)

	newest := candles[len(candles)-1]
	switch {
	case fastPrev <= slowPrev && fastCur > slowCur:
		return CrossSignal{
			InstrumentID: instrumentID,
			Kind:         GoldenCross,
			Price:        newest.Close,
			At:           newest.Timestamp,
		}, true
	case fastPrev >= slowPrev && fastCur < slowCur:
		return CrossSignal{
			InstrumentID: instrumentID,
			Kind:         DeathCross,
			Price:        newest.Close,
			At:           newest.Timestamp,
		}, true
	}
	return CrossSignal{}, false
}

// sma averages the last window values.
func sma(values []float64, window int) float64 {
	sum := 0.0
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return sum / float64(window)
}

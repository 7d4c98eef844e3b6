package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alimansour/coinwatch/internal/domain"
)

// TradeService reads the closed-trade log and summarizes performance.
type TradeService struct {
	trades domain.TradeStore
	logger *slog.Logger
}

// NewTradeService creates a TradeService.
func NewTradeService(trades domain.TradeStore, logger *slog.Logger) *TradeService {
	return &TradeService{
		trades: trades,
		logger: logger.With(slog.String("component", "trade_service")),
	}
}

// Recent returns the tenant's newest closed trades, up to limit.
func (s *TradeService) Recent(ctx context.Context, tenantID string, limit int) ([]domain.ClosedTrade, error) {
	trades, err := s.trades.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list trades: %w", err)
	}
	return trades, nil
}

// Stats summarizes the tenant's full closed-trade history.
func (s *TradeService) Stats(ctx context.Context, tenantID string) (domain.TradeStats, error) {
	trades, err := s.trades.ListByTenant(ctx, tenantID, 0)
	if err != nil {
		return domain.TradeStats{}, fmt.Errorf("trade_service: list trades: %w", err)
	}
	return ComputeTradeStats(trades), nil
}

// ComputeTradeStats folds a closed-trade history into cumulative performance
// numbers. An empty history yields the zero value.
func ComputeTradeStats(trades []domain.ClosedTrade) domain.TradeStats {
	stats := domain.TradeStats{Trades: len(trades)}
	if len(trades) == 0 {
		return stats
	}

	roiSum := 0.0
	for i, t := range trades {
		stats.TotalPnL += t.PnL
		roiSum += t.PnLPercent
		if t.PnL > 0 {
			stats.Wins++
		}
		if i == 0 || t.PnL > stats.BestPnL {
			stats.BestAsset = t.Asset
			stats.BestPnL = t.PnL
		}
		if i == 0 || t.PnL < stats.WorstPnL {
			stats.WorstAsset = t.Asset
			stats.WorstPnL = t.PnL
		}
	}
	stats.WinRate = float64(stats.Wins) / float64(len(trades)) * 100
	stats.AvgROI = roiSum / float64(len(trades))
	return stats
}

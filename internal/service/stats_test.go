package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alimansour/coinwatch/internal/domain"
)

func TestComputeTradeStatsEmpty(t *testing.T) {
	stats := ComputeTradeStats(nil)
	assert.Equal(t, 0, stats.Trades)
	assert.Zero(t, stats.WinRate)
	assert.Zero(t, stats.TotalPnL)
}

func TestComputeTradeStats(t *testing.T) {
	trades := []domain.ClosedTrade{
		{Asset: "BTC", PnL: 100, PnLPercent: 20},
		{Asset: "ETH", PnL: -40, PnLPercent: -10},
		{Asset: "SOL", PnL: 30, PnLPercent: 5},
	}

	stats := ComputeTradeStats(trades)

	assert.Equal(t, 3, stats.Trades)
	assert.Equal(t, 2, stats.Wins)
	assert.InDelta(t, 66.666, stats.WinRate, 0.01)
	assert.InDelta(t, 5.0, stats.AvgROI, 1e-9)
	assert.InDelta(t, 90.0, stats.TotalPnL, 1e-9)
	assert.Equal(t, "BTC", stats.BestAsset)
	assert.InDelta(t, 100.0, stats.BestPnL, 1e-9)
	assert.Equal(t, "ETH", stats.WorstAsset)
	assert.InDelta(t, -40.0, stats.WorstPnL, 1e-9)
}

func TestComputeTradeStatsAllLosses(t *testing.T) {
	trades := []domain.ClosedTrade{
		{Asset: "DOGE", PnL: -5, PnLPercent: -2},
		{Asset: "SHIB", PnL: -15, PnLPercent: -8},
	}

	stats := ComputeTradeStats(trades)

	assert.Equal(t, 0, stats.Wins)
	assert.Zero(t, stats.WinRate)
	assert.Equal(t, "DOGE", stats.BestAsset, "the least-bad trade is still the best")
	assert.Equal(t, "SHIB", stats.WorstAsset)
}

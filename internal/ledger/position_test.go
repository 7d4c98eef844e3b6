package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var openedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestOpenPosition(t *testing.T) {
	p := OpenPosition("tenant-1", "BTC", 0.01, 50000, 2000, openedAt)

	assert.Equal(t, 0.01, p.TotalAmountBought)
	assert.Equal(t, 500.0, p.TotalCost)
	assert.Equal(t, 50000.0, p.AvgBuyPrice)
	assert.Equal(t, 50000.0, p.HighestPrice)
	assert.Equal(t, 50000.0, p.LowestPrice)
	assert.Equal(t, openedAt, p.OpenedAt)
	assert.InDelta(t, 25.0, p.EntryCapitalPercent, 1e-9) // 500 of 2000
}

func TestApplyBuyRecomputesAverage(t *testing.T) {
	p := OpenPosition("tenant-1", "BTC", 0.01, 50000, 0, openedAt)
	p = ApplyBuy(p, 0.01, 60000)

	assert.Equal(t, 0.02, p.TotalAmountBought)
	assert.Equal(t, 1100.0, p.TotalCost)
	assert.InDelta(t, 55000.0, p.AvgBuyPrice, 1e-9)
	assert.Equal(t, 60000.0, p.HighestPrice)
	assert.Equal(t, 50000.0, p.LowestPrice)

	// The invariant holds after any run of buys.
	p = ApplyBuy(p, 0.005, 40000)
	assert.InDelta(t, p.TotalCost/p.TotalAmountBought, p.AvgBuyPrice, 1e-12)
	assert.Equal(t, 40000.0, p.LowestPrice)
}

func TestApplySellPartialKeepsPosition(t *testing.T) {
	p := OpenPosition("tenant-1", "BTC", 0.01, 50000, 0, openedAt)

	// 0.0001 BTC remain at 60000 = 6 USDT, above the dust threshold.
	updated, closed := ApplySell(p, 0.0099, 60000, openedAt.Add(24*time.Hour))

	assert.Nil(t, closed)
	assert.Equal(t, 0.0099, updated.TotalAmountSold)
	assert.InDelta(t, 594.0, updated.RealizedValue, 1e-9)
	assert.Equal(t, 50000.0, updated.AvgBuyPrice, "a sell never moves the average buy price")
	assert.Equal(t, 60000.0, updated.HighestPrice)
}

func TestApplySellClosesBelowDust(t *testing.T) {
	p := OpenPosition("tenant-1", "BTC", 0.01, 50000, 100000, openedAt)
	closedAt := openedAt.Add(36 * time.Hour)

	_, closed := ApplySell(p, 0.01, 60000, closedAt)

	require.NotNil(t, closed)
	assert.NotEmpty(t, closed.ID)
	assert.Equal(t, "tenant-1", closed.TenantID)
	assert.Equal(t, "BTC", closed.Asset)
	assert.Equal(t, 0.01, closed.Quantity)
	assert.Equal(t, 50000.0, closed.AvgBuyPrice)
	assert.InDelta(t, 60000.0, closed.AvgSellPrice, 1e-9)
	assert.InDelta(t, 100.0, closed.PnL, 1e-9)
	assert.InDelta(t, 20.0, closed.PnLPercent, 1e-9)
	assert.InDelta(t, 1.5, closed.DurationDays, 1e-9)
	assert.InDelta(t, 100.0, closed.ExitQuantityPercent, 1e-9)
	assert.Equal(t, closedAt, closed.ClosedAt)
}

func TestApplySellClosesOnResidualDust(t *testing.T) {
	p := OpenPosition("tenant-1", "DOGE", 100, 0.1, 0, openedAt)

	// 5 DOGE remain at 0.1 = 0.5 USDT, under the threshold: still a close.
	_, closed := ApplySell(p, 95, 0.1, openedAt.Add(time.Hour))

	require.NotNil(t, closed)
	assert.Equal(t, 100.0, closed.Quantity)
	assert.InDelta(t, 95.0, closed.ExitQuantityPercent, 1e-9)
}

func TestApplySellAveragesMultipleExits(t *testing.T) {
	p := OpenPosition("tenant-1", "ETH", 1.0, 2000, 0, openedAt)

	p, closed := ApplySell(p, 0.5, 2400, openedAt.Add(time.Hour))
	require.Nil(t, closed)

	_, closed = ApplySell(p, 0.5, 2800, openedAt.Add(2*time.Hour))
	require.NotNil(t, closed)

	// avgSell = (0.5*2400 + 0.5*2800) / 1.0 = 2600
	assert.InDelta(t, 2600.0, closed.AvgSellPrice, 1e-9)
	assert.InDelta(t, 600.0, closed.PnL, 1e-9)
	assert.InDelta(t, 30.0, closed.PnLPercent, 1e-9)
}

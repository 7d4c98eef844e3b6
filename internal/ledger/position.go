// Package ledger tracks cost-basis positions per (tenant, asset) and derives
// buy/sell/close transitions from balance deltas. The transition math lives in
// pure functions; the reconciliation engine wires them to storage and prices.
package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/alimansour/coinwatch/internal/domain"
)

// OpenPosition starts a new position from the first attributable buy.
// entryCapitalPercent records how much of the portfolio the entry consumed,
// measured against the total value before the buy.
func OpenPosition(tenantID, asset string, delta, price, prevTotalValue float64, at time.Time) domain.Position {
	p := domain.Position{
		TenantID:          tenantID,
		Asset:             asset,
		TotalAmountBought: delta,
		TotalCost:         delta * price,
		AvgBuyPrice:       price,
		HighestPrice:      price,
		LowestPrice:       price,
		OpenedAt:          at,
	}
	if prevTotalValue > 0 {
		p.EntryCapitalPercent = delta * price / prevTotalValue * 100
	}
	return p
}

// ApplyBuy folds a subsequent buy into an open position. The average buy
// price is recomputed from the lifetime totals, never incrementally.
func ApplyBuy(p domain.Position, delta, price float64) domain.Position {
	p.TotalAmountBought += delta
	p.TotalCost += delta * price
	p.AvgBuyPrice = p.TotalCost / p.TotalAmountBought
	return extendRange(p, price)
}

// ApplySell folds a sell (quantity is the positive amount sold) into an open
// position. When the remaining value drops below the dust threshold the
// position closes: the second return is the one ClosedTrade record and the
// returned position must be deleted by the caller. The average buy price is
// never touched by a sell.
func ApplySell(p domain.Position, quantity, price float64, at time.Time) (domain.Position, *domain.ClosedTrade) {
	p.TotalAmountSold += quantity
	p.RealizedValue += quantity * price
	p = extendRange(p, price)

	if p.RemainingAmount()*price >= domain.DustThreshold {
		return p, nil
	}
	return p, closeTrade(p, at)
}

func extendRange(p domain.Position, price float64) domain.Position {
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	if price < p.LowestPrice || p.LowestPrice == 0 {
		p.LowestPrice = price
	}
	return p
}

func closeTrade(p domain.Position, at time.Time) *domain.ClosedTrade {
	avgSell := 0.0
	if p.TotalAmountSold > 0 {
		avgSell = p.RealizedValue / p.TotalAmountSold
	}
	pnl := (avgSell - p.AvgBuyPrice) * p.TotalAmountBought

	pnlPct := 0.0
	if p.TotalCost > 0 {
		pnlPct = pnl / p.TotalCost * 100
	}

	exitPct := 0.0
	if p.TotalAmountBought > 0 {
		exitPct = p.TotalAmountSold / p.TotalAmountBought * 100
	}

	return &domain.ClosedTrade{
		ID:                  uuid.NewString(),
		TenantID:            p.TenantID,
		Asset:               p.Asset,
		Quantity:            p.TotalAmountBought,
		AvgBuyPrice:         p.AvgBuyPrice,
		AvgSellPrice:        avgSell,
		PnL:                 pnl,
		PnLPercent:          pnlPct,
		DurationDays:        at.Sub(p.OpenedAt).Hours() / 24,
		HighestPrice:        p.HighestPrice,
		LowestPrice:         p.LowestPrice,
		EntryCapitalPercent: p.EntryCapitalPercent,
		ExitQuantityPercent: exitPct,
		ClosedAt:            at,
	}
}

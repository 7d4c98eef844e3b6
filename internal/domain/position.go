package domain

import "time"

// Position is the lot-aggregated cost-basis state for one (tenant, asset)
// pair. A Position exists iff the tenant currently holds a non-dust amount of
// the asset that has not yet been closed out.
//
// Invariant: AvgBuyPrice == TotalCost / TotalAmountBought. It is recomputed
// on every buy and never on a sell.
type Position struct {
	TenantID            string    `json:"tenant_id"`
	Asset               string    `json:"asset"`
	TotalAmountBought   float64   `json:"total_amount_bought"`
	TotalCost           float64   `json:"total_cost"`
	AvgBuyPrice         float64   `json:"avg_buy_price"`
	TotalAmountSold     float64   `json:"total_amount_sold"`
	RealizedValue       float64   `json:"realized_value"`
	HighestPrice        float64   `json:"highest_price"`
	LowestPrice         float64   `json:"lowest_price"`
	OpenedAt            time.Time `json:"opened_at"`
	EntryCapitalPercent float64   `json:"entry_capital_percent"`
}

// RemainingAmount is the quantity still held against this position.
func (p Position) RemainingAmount() float64 {
	return p.TotalAmountBought - p.TotalAmountSold
}

// ClosedTrade is the immutable record appended exactly once when a Position
// transitions to closed. Keyed by tenant, append-only.
type ClosedTrade struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenant_id"`
	Asset               string    `json:"asset"`
	Quantity            float64   `json:"quantity"` // lifetime TotalAmountBought
	AvgBuyPrice         float64   `json:"avg_buy_price"`
	AvgSellPrice        float64   `json:"avg_sell_price"`
	PnL                 float64   `json:"pnl"`
	PnLPercent          float64   `json:"pnl_percent"`
	DurationDays        float64   `json:"duration_days"`
	HighestPrice        float64   `json:"highest_price"`
	LowestPrice         float64   `json:"lowest_price"`
	EntryCapitalPercent float64   `json:"entry_capital_percent"`
	ExitQuantityPercent float64   `json:"exit_quantity_percent"`
	ClosedAt            time.Time `json:"closed_at"`
}

// TradeStats is the cumulative performance summary over a tenant's closed
// trades.
type TradeStats struct {
	Trades     int
	Wins       int
	WinRate    float64
	AvgROI     float64
	TotalPnL   float64
	BestAsset  string
	BestPnL    float64
	WorstAsset string
	WorstPnL   float64
}

package domain

import "time"

// StableAsset is the quote currency every holding is valued in. Balance
// deltas of the stable asset itself are never reconciled into trades.
const StableAsset = "USDT"

// DustThreshold is the minimum quote-currency value below which a balance,
// delta, or remaining position is treated as noise.
const DustThreshold = 1.0

// BalanceSnapshot is one observation of a tenant's per-asset holdings.
// It is immutable once captured.
type BalanceSnapshot struct {
	TenantID   string
	Amounts    map[string]float64
	CapturedAt time.Time
}

// ReconBaseline is the snapshot a tenant's next reconciliation compares
// against, together with the portfolio value observed at capture time.
// It is only advanced after a cycle that produced at least one ledger event.
type ReconBaseline struct {
	TenantID   string
	Amounts    map[string]float64
	TotalValue float64
	CapturedAt time.Time
}

// Holding is one valued line of a portfolio.
type Holding struct {
	Asset  string  `json:"asset"`
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
	Value  float64 `json:"value"`
}

// Portfolio is a tenant's holdings joined with current prices, filtered for
// dust and sorted descending by value.
type Portfolio struct {
	TenantID    string    `json:"tenant_id"`
	Holdings    []Holding `json:"holdings"`
	TotalValue  float64   `json:"total_value"`
	StableValue float64   `json:"stable_value"`
	CapturedAt  time.Time `json:"captured_at"`
}

// CashPercent returns the share of the portfolio held in the stable asset.
func (p Portfolio) CashPercent() float64 {
	if p.TotalValue <= 0 {
		return 0
	}
	return p.StableValue / p.TotalValue * 100
}

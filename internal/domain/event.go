package domain

import "time"

// LedgerEventType classifies a position ledger transition.
type LedgerEventType string

const (
	LedgerEventBuy   LedgerEventType = "buy"
	LedgerEventSell  LedgerEventType = "sell"
	LedgerEventClose LedgerEventType = "close"
)

// LedgerEvent is emitted by the reconciliation engine for every actionable
// balance delta, carrying enough context for downstream notification without
// another store round-trip.
type LedgerEvent struct {
	Type     LedgerEventType
	TenantID string
	Asset    string
	Delta    float64 // signed base-asset quantity
	Price    float64

	TradeValue     float64 // abs(delta) * price, quote currency
	AssetWeightPct float64 // asset value share of portfolio after the trade
	CashPct        float64 // stable-asset share of portfolio after the trade
	NewTotalValue  float64
	OldTotalValue  float64

	Position *Position    // state after the transition, nil on close
	Closed   *ClosedTrade // set only for close events

	At time.Time
}

// AlertDirection is the trigger side of a price alert.
type AlertDirection string

const (
	AlertAbove AlertDirection = "above"
	AlertBelow AlertDirection = "below"
)

// PriceAlert is a one-shot per-tenant price threshold. Alerts are removed
// once triggered.
type PriceAlert struct {
	ID           string
	TenantID     string
	InstrumentID string
	Direction    AlertDirection
	Target       float64
	CreatedAt    time.Time
}

// MovementOverride replaces the global movement-alert threshold for one
// asset of one tenant.
type MovementOverride struct {
	TenantID     string
	Asset        string
	ThresholdPct float64
	UpdatedAt    time.Time
}

// HistoryKind distinguishes portfolio history cadences.
type HistoryKind string

const (
	HistoryDaily  HistoryKind = "daily"
	HistoryHourly HistoryKind = "hourly"
)

// HistoryPoint is one recorded portfolio total-value observation.
type HistoryPoint struct {
	TenantID   string
	Kind       HistoryKind
	TotalValue float64
	CapturedAt time.Time
}

package domain

import "time"

// PriceQuote is one venue-wide spot ticker observation. Quotes are shared
// across tenants and never tenant-specific.
type PriceQuote struct {
	InstrumentID string    // e.g. "BTC-USDT"
	Last         float64   // last traded price
	Open24h      float64   // 24h open
	Change24h    float64   // (last-open)/open, 0 when open is unknown
	Volume24h    float64   // 24h volume in quote currency
	ObservedAt   time.Time
}

// Candle is one OHLCV bar from the venue's history endpoint.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

package models

import "time"

// Ticker holds the most recent 24h rolling statistics for a symbol.
// One row per symbol, always overwritten by the latest observation.
type Ticker struct {
	Symbol             string    `json:"symbol"`
	Price              float64   `json:"price"`
	PriceChange        float64   `json:"price_change"`
	PriceChangePercent float64   `json:"price_change_percent"`
	Volume             float64   `json:"volume"`
	QuoteVolume        float64   `json:"quote_volume"`
	High               float64   `json:"high"`
	Low                float64   `json:"low"`
	Open               float64   `json:"open"`
	Close              float64   `json:"close"`
	Timestamp          time.Time `json:"timestamp"`
}

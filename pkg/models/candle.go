package models

import (
	"fmt"
	"time"
)

// Timeframe is a candle interval identifier in exchange notation.
type Timeframe string

const (
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
)

// AllTimeframes lists every tracked interval, shortest first.
var AllTimeframes = []Timeframe{Timeframe15m, Timeframe30m, Timeframe1h, Timeframe4h}

// Duration returns the fixed length of one bar for this timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether tf is one of the tracked intervals.
func (tf Timeframe) Valid() bool {
	return tf.Duration() > 0
}

// ParseTimeframe converts an interval string into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Candle represents one OHLCV bar, identified by (Symbol, Timeframe, OpenTime).
type Candle struct {
	Symbol      string    `json:"symbol"`
	Timeframe   Timeframe `json:"timeframe"`
	OpenTime    time.Time `json:"open_time"`
	CloseTime   time.Time `json:"close_time"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	QuoteVolume float64   `json:"quote_volume"`
	TradeCount  int64     `json:"trade_count,omitempty"`
}

// Validate checks the OHLC shape invariants of the bar.
func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("candle missing symbol")
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("candle %s has unknown timeframe %q", c.Symbol, c.Timeframe)
	}
	if !c.OpenTime.Before(c.CloseTime) {
		return fmt.Errorf("candle %s %s: open time %s not before close time %s",
			c.Symbol, c.Timeframe, c.OpenTime.Format(time.RFC3339), c.CloseTime.Format(time.RFC3339))
	}
	if c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("candle %s %s: high %.8f below open/close", c.Symbol, c.Timeframe, c.High)
	}
	if c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("candle %s %s: low %.8f above open/close", c.Symbol, c.Timeframe, c.Low)
	}
	return nil
}

package models

import "time"

// TrendDirection classifies momentum direction.
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendNeutral TrendDirection = "neutral"
)

// SignalType is the side of a composite trading signal.
type SignalType string

// SignalStrength grades how decisive a signal is.
type SignalStrength string

// SignalTimeframe names the horizon that dominates a signal.
type SignalTimeframe string

const (
	SignalLong    SignalType = "LONG"
	SignalShort   SignalType = "SHORT"
	SignalNeutral SignalType = "NEUTRAL"

	StrengthStrong SignalStrength = "STRONG"
	StrengthMedium SignalStrength = "MEDIUM"
	StrengthWeak   SignalStrength = "WEAK"

	HorizonShort SignalTimeframe = "SHORT"
	HorizonMid   SignalTimeframe = "MID"
	HorizonLong  SignalTimeframe = "LONG"
)

// Signal is the composite multi-timeframe trading signal for a symbol.
type Signal struct {
	Type      SignalType      `json:"type"`
	Strength  SignalStrength  `json:"strength"`
	Timeframe SignalTimeframe `json:"timeframe"`
	Reason    string          `json:"reason"`
}

// TimeframeIndicators holds the indicator values derived from one
// timeframe's candle history. All StochRSI values use the 0-100 scale.
type TimeframeIndicators struct {
	RSI         float64 `json:"rsi"`
	StochRSI    float64 `json:"stoch_rsi"`
	StochRSIK   float64 `json:"stoch_rsi_k"`
	StochRSID   float64 `json:"stoch_rsi_d"`
	PriceChange float64 `json:"price_change"`
}

// IndicatorSet is the latest computed technical state for a symbol.
// One row per symbol; writers patch only the fields they own, so the
// per-timeframe entries survive updates from other timeframes.
type IndicatorSet struct {
	Symbol string `json:"symbol"`

	// Primary-interval values, updated whenever the configured primary
	// timeframe closes a candle.
	RSI       float64 `json:"rsi"`
	StochRSI  float64 `json:"stoch_rsi"`
	StochRSIK float64 `json:"stoch_rsi_k"`
	StochRSID float64 `json:"stoch_rsi_d"`

	IsOverbought   bool           `json:"is_overbought"`
	IsOversold     bool           `json:"is_oversold"`
	Trend          TrendDirection `json:"trend"`
	ReversalSignal bool           `json:"reversal_signal"`
	Signal         *Signal        `json:"signal,omitempty"`

	Timeframes map[Timeframe]TimeframeIndicators `json:"timeframes"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewIndicatorSet returns a neutral row for a symbol that just entered
// the universe.
func NewIndicatorSet(symbol string) *IndicatorSet {
	return &IndicatorSet{
		Symbol:     symbol,
		RSI:        50,
		StochRSI:   50,
		StochRSIK:  50,
		StochRSID:  50,
		Trend:      TrendNeutral,
		Timeframes: make(map[Timeframe]TimeframeIndicators),
	}
}

// Clone returns a deep copy of the indicator set.
func (s *IndicatorSet) Clone() *IndicatorSet {
	cp := *s
	cp.Timeframes = make(map[Timeframe]TimeframeIndicators, len(s.Timeframes))
	for tf, v := range s.Timeframes {
		cp.Timeframes[tf] = v
	}
	if s.Signal != nil {
		sig := *s.Signal
		cp.Signal = &sig
	}
	return &cp
}

// Package indicator computes technical indicators from candle history.
// All functions are pure and total: insufficient input yields documented
// neutral values, never an error. StochRSI uses the 0-100 scale everywhere.
package indicator

import (
	"math"

	"github.com/signal-back/pkg/models"
)

// Neutral sentinel values returned when a series is too short to compute.
const (
	NeutralRSI      = 50.0
	NeutralStochRSI = 50.0
)

// StochResult bundles the raw StochRSI value with its smoothed %K/%D lines.
type StochResult struct {
	Value float64
	K     float64
	D     float64
}

// RSI computes Wilder's smoothed RSI over the closes, oldest first.
// Returns 50 when fewer than period+1 closes are available, and 100 when
// no losses were observed in the window.
func RSI(closes []float64, period int) float64 {
	series := RSISeries(closes, period)
	if len(series) == 0 {
		return NeutralRSI
	}
	return series[len(series)-1]
}

// RSISeries computes the rolling RSI value at every index from period
// onward, oldest first. The seed average gain/loss is a simple average of
// the first period deltas; later deltas are smoothed with weight 1/period.
// Returns an empty slice when fewer than period+1 closes are available.
func RSISeries(closes []float64, period int) []float64 {
	if period < 1 || len(closes) < period+1 {
		return nil
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	series := make([]float64, 0, len(closes)-period)
	series = append(series, rsiFromAverages(avgGain, avgLoss))

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		series = append(series, rsiFromAverages(avgGain, avgLoss))
	}
	return series
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// StochRSI normalizes the latest RSI against its min/max over the trailing
// stochPeriod window, then smooths: %K is an SMA of the raw stochastic over
// kSmoothing points and %D an SMA of %K over dSmoothing points. A flat or
// too-short RSI window yields the neutral midpoint for all three lines.
func StochRSI(rsiSeries []float64, stochPeriod, kSmoothing, dSmoothing int) StochResult {
	neutral := StochResult{Value: NeutralStochRSI, K: NeutralStochRSI, D: NeutralStochRSI}
	if stochPeriod < 1 || len(rsiSeries) < stochPeriod {
		return neutral
	}
	if kSmoothing < 1 {
		kSmoothing = 1
	}
	if dSmoothing < 1 {
		dSmoothing = 1
	}

	raw := make([]float64, 0, len(rsiSeries)-stochPeriod+1)
	for i := stochPeriod - 1; i < len(rsiSeries); i++ {
		window := rsiSeries[i-stochPeriod+1 : i+1]
		lo, hi := window[0], window[0]
		for _, v := range window[1:] {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi == lo {
			raw = append(raw, NeutralStochRSI)
			continue
		}
		raw = append(raw, (rsiSeries[i]-lo)/(hi-lo)*100)
	}

	kSeries := make([]float64, len(raw))
	for i := range raw {
		kSeries[i] = tailMean(raw[:i+1], kSmoothing)
	}

	return StochResult{
		Value: raw[len(raw)-1],
		K:     kSeries[len(kSeries)-1],
		D:     tailMean(kSeries, dSmoothing),
	}
}

// tailMean averages up to n trailing values of the series.
func tailMean(series []float64, n int) float64 {
	if n > len(series) {
		n = len(series)
	}
	sum := 0.0
	for _, v := range series[len(series)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// Trend classifies momentum: bullish only when RSI sits above the midline
// with a positive price change, bearish only on the mirrored condition.
func Trend(rsi, priceChangePercent float64) models.TrendDirection {
	switch {
	case rsi > 50 && priceChangePercent > 0:
		return models.TrendBullish
	case rsi < 50 && priceChangePercent < 0:
		return models.TrendBearish
	default:
		return models.TrendNeutral
	}
}

// StochRSI band levels on the 0-100 scale.
const (
	stochOversold   = 20.0
	stochOverbought = 80.0
)

// DetectReversal reports a potential momentum reversal between two
// consecutive readings: RSI or StochRSI crossing out of the configured
// bands, or RSI pinned at an extreme while StochRSI has not confirmed.
// Best-effort heuristic, not a guarantee.
func DetectReversal(rsi, prevRSI, stochRSI, prevStochRSI, overbought, oversold float64) bool {
	rsiLeavingOversold := prevRSI <= oversold && rsi > oversold
	rsiLeavingOverbought := prevRSI >= overbought && rsi < overbought

	stochLeavingOversold := prevStochRSI <= stochOversold && stochRSI > stochOversold
	stochLeavingOverbought := prevStochRSI >= stochOverbought && stochRSI < stochOverbought

	divergence := (rsi <= oversold && stochRSI > stochOversold) ||
		(rsi >= overbought && stochRSI < stochOverbought)

	return rsiLeavingOversold || rsiLeavingOverbought ||
		stochLeavingOversold || stochLeavingOverbought || divergence
}

package indicator

import (
	"fmt"
	"math"
	"strings"

	"github.com/signal-back/pkg/models"
)

// Score weights per horizon. Shorter timeframes vote with less weight so a
// single 15m extreme cannot outvote sustained 1h/4h momentum.
const (
	strongSignalScore = 6.0
	mediumSignalScore = 3.0
	weakSignalScore   = 1.0

	crossoverProximity = 5.0
)

// bucket accumulates the votes for one horizon.
type bucket struct {
	score float64
	votes int
}

func (b *bucket) add(points float64, reasons *[]string, reason string) {
	b.score += points
	b.votes++
	if reason != "" {
		*reasons = append(*reasons, reason)
	}
}

func (b *bucket) average() float64 {
	if b.votes == 0 {
		return 0
	}
	return b.score / float64(b.votes)
}

// Classify derives the composite trading signal from a symbol's current
// indicator state. Positive points argue for a long, negative for a short.
// Timeframes missing from the set simply cast no vote.
func Classify(set *models.IndicatorSet) *models.Signal {
	var short, mid, long bucket
	var reasons []string

	if tf, ok := set.Timeframes[models.Timeframe15m]; ok {
		short.add(rsiPoints(tf.RSI, 2, 1), &reasons, rsiReason("15m", tf.RSI))
		short.add(priceChangePoints(tf.PriceChange, 2), &reasons, changeReason("15m", tf.PriceChange, 2))
	}
	if tf, ok := set.Timeframes[models.Timeframe30m]; ok {
		short.add(rsiPoints(tf.RSI, 2, 1), &reasons, rsiReason("30m", tf.RSI))
	}
	if tf, ok := set.Timeframes[models.Timeframe1h]; ok {
		mid.add(rsiPoints(tf.RSI, 3, 1.5), &reasons, rsiReason("1h", tf.RSI))
		mid.add(priceChangePoints(tf.PriceChange, 3), &reasons, changeReason("1h", tf.PriceChange, 3))
	}
	if tf, ok := set.Timeframes[models.Timeframe4h]; ok {
		mid.add(rsiPoints(tf.RSI, 3, 1.5), &reasons, rsiReason("4h", tf.RSI))
		long.add(priceChangePoints(tf.PriceChange, 5), &reasons, changeReason("4h", tf.PriceChange, 5))
	}

	long.add(rsiPoints(set.RSI, 4, 2), &reasons, rsiReason("current", set.RSI))
	long.add(stochPoints(set.StochRSI, 3, 1.5), &reasons, stochReason(set.StochRSI))
	long.add(crossoverPoints(set.StochRSIK, set.StochRSID), &reasons, crossoverReason(set.StochRSIK, set.StochRSID))

	total := short.score + mid.score + long.score

	sig := &models.Signal{
		Type:      models.SignalNeutral,
		Strength:  models.StrengthWeak,
		Timeframe: dominantHorizon(short, mid, long),
		Reason:    strings.Join(reasons, "; "),
	}

	abs := math.Abs(total)
	switch {
	case abs >= strongSignalScore:
		sig.Strength = models.StrengthStrong
	case abs >= mediumSignalScore:
		sig.Strength = models.StrengthMedium
	case abs >= weakSignalScore:
		sig.Strength = models.StrengthWeak
	default:
		sig.Reason = "no directional edge"
		return sig
	}

	if total > 0 {
		sig.Type = models.SignalLong
	} else {
		sig.Type = models.SignalShort
	}
	return sig
}

// rsiPoints grades an RSI reading in tiers: a hard extreme earns the full
// weight, an approach earns the partial weight. Sign argues long below the
// midline and short above it.
func rsiPoints(rsi, full, partial float64) float64 {
	switch {
	case rsi < 30:
		return full
	case rsi < 40:
		return partial
	case rsi > 70:
		return -full
	case rsi > 60:
		return -partial
	default:
		return 0
	}
}

func stochPoints(stoch, full, partial float64) float64 {
	switch {
	case stoch < 20:
		return full
	case stoch < 30:
		return partial
	case stoch > 80:
		return -full
	case stoch > 70:
		return -partial
	default:
		return 0
	}
}

// crossoverPoints scores a %K/%D crossover forming inside an extreme zone.
// The lines must sit within crossoverProximity of each other so only a
// fresh or imminent cross counts.
func crossoverPoints(k, d float64) float64 {
	if math.Abs(k-d) >= crossoverProximity {
		return 0
	}
	if k > d && k < stochOversold+2 {
		return 2
	}
	if k < d && k > stochOverbought-2 {
		return -2
	}
	return 0
}

// priceChangePoints casts a single momentum vote when the move exceeds the
// horizon's threshold percentage.
func priceChangePoints(changePct, threshold float64) float64 {
	switch {
	case changePct > threshold:
		return 1
	case changePct < -threshold:
		return -1
	default:
		return 0
	}
}

// dominantHorizon picks the bucket with the strongest average conviction.
// Longer horizons win ties so the label errs toward the slower signal.
func dominantHorizon(short, mid, long bucket) models.SignalTimeframe {
	horizon := models.HorizonLong
	best := math.Abs(long.average())
	if avg := math.Abs(mid.average()); avg > best {
		horizon = models.HorizonMid
		best = avg
	}
	if avg := math.Abs(short.average()); avg > best {
		horizon = models.HorizonShort
	}
	return horizon
}

func rsiReason(label string, rsi float64) string {
	switch {
	case rsi < 30:
		return fmt.Sprintf("%s RSI oversold (%.1f)", label, rsi)
	case rsi < 40:
		return fmt.Sprintf("%s RSI approaching oversold (%.1f)", label, rsi)
	case rsi > 70:
		return fmt.Sprintf("%s RSI overbought (%.1f)", label, rsi)
	case rsi > 60:
		return fmt.Sprintf("%s RSI approaching overbought (%.1f)", label, rsi)
	default:
		return ""
	}
}

func stochReason(stoch float64) string {
	switch {
	case stoch < 20:
		return fmt.Sprintf("StochRSI oversold (%.1f)", stoch)
	case stoch < 30:
		return fmt.Sprintf("StochRSI approaching oversold (%.1f)", stoch)
	case stoch > 80:
		return fmt.Sprintf("StochRSI overbought (%.1f)", stoch)
	case stoch > 70:
		return fmt.Sprintf("StochRSI approaching overbought (%.1f)", stoch)
	default:
		return ""
	}
}

func crossoverReason(k, d float64) string {
	if math.Abs(k-d) >= crossoverProximity {
		return ""
	}
	if k > d && k < stochOversold+2 {
		return fmt.Sprintf("bullish K/D crossover in oversold zone (K=%.1f D=%.1f)", k, d)
	}
	if k < d && k > stochOverbought-2 {
		return fmt.Sprintf("bearish K/D crossover in overbought zone (K=%.1f D=%.1f)", k, d)
	}
	return ""
}

func changeReason(label string, changePct, threshold float64) string {
	if changePct > threshold {
		return fmt.Sprintf("%s price up %.1f%%", label, changePct)
	}
	if changePct < -threshold {
		return fmt.Sprintf("%s price down %.1f%%", label, changePct)
	}
	return ""
}

package indicator

import (
	"strings"
	"testing"

	"github.com/signal-back/pkg/models"
)

func neutralSet(symbol string) *models.IndicatorSet {
	set := models.NewIndicatorSet(symbol)
	for _, tf := range models.AllTimeframes {
		set.Timeframes[tf] = models.TimeframeIndicators{
			RSI: 50, StochRSI: 50, StochRSIK: 50, StochRSID: 50,
		}
	}
	return set
}

func TestClassifyNeutralWhenNoEdge(t *testing.T) {
	sig := Classify(neutralSet("BTCUSDT"))
	if sig.Type != models.SignalNeutral {
		t.Errorf("type = %s, want NEUTRAL", sig.Type)
	}
	if sig.Reason != "no directional edge" {
		t.Errorf("reason = %q", sig.Reason)
	}
}

func TestClassifyStrongLongOnBroadOversold(t *testing.T) {
	set := neutralSet("ETHUSDT")
	set.RSI = 24
	set.StochRSI = 12
	set.StochRSIK = 15
	set.StochRSID = 13
	for _, tf := range models.AllTimeframes {
		set.Timeframes[tf] = models.TimeframeIndicators{RSI: 26, StochRSI: 15}
	}

	sig := Classify(set)
	if sig.Type != models.SignalLong {
		t.Errorf("type = %s, want LONG", sig.Type)
	}
	if sig.Strength != models.StrengthStrong {
		t.Errorf("strength = %s, want STRONG", sig.Strength)
	}
	if !strings.Contains(sig.Reason, "oversold") {
		t.Errorf("reason should mention oversold, got %q", sig.Reason)
	}
}

func TestClassifyStrongShortOnBroadOverbought(t *testing.T) {
	set := neutralSet("SOLUSDT")
	set.RSI = 78
	set.StochRSI = 91
	set.StochRSIK = 88
	set.StochRSID = 90
	for _, tf := range models.AllTimeframes {
		set.Timeframes[tf] = models.TimeframeIndicators{RSI: 74, StochRSI: 85}
	}

	sig := Classify(set)
	if sig.Type != models.SignalShort {
		t.Errorf("type = %s, want SHORT", sig.Type)
	}
	if sig.Strength != models.StrengthStrong {
		t.Errorf("strength = %s, want STRONG", sig.Strength)
	}
}

func TestClassifyWeakSignalFromSingleTimeframe(t *testing.T) {
	set := neutralSet("XRPUSDT")
	set.Timeframes[models.Timeframe15m] = models.TimeframeIndicators{
		RSI: 35, StochRSI: 50,
	}

	sig := Classify(set)
	if sig.Type != models.SignalLong {
		t.Errorf("type = %s, want LONG", sig.Type)
	}
	if sig.Strength != models.StrengthWeak {
		t.Errorf("strength = %s, want WEAK", sig.Strength)
	}
}

func TestClassifyMediumFromPrimaryExtreme(t *testing.T) {
	// Only the primary interval is oversold: 4 points lands in the
	// medium band.
	set := neutralSet("ADAUSDT")
	set.RSI = 25

	sig := Classify(set)
	if sig.Type != models.SignalLong {
		t.Errorf("type = %s, want LONG", sig.Type)
	}
	if sig.Strength != models.StrengthMedium {
		t.Errorf("strength = %s, want MEDIUM", sig.Strength)
	}
	if sig.Timeframe != models.HorizonLong {
		t.Errorf("horizon = %s, want LONG", sig.Timeframe)
	}
}

func TestClassifyShortHorizonDominates(t *testing.T) {
	// Extremes confined to the fast timeframes.
	set := neutralSet("DOGEUSDT")
	set.Timeframes[models.Timeframe15m] = models.TimeframeIndicators{
		RSI: 22, StochRSI: 50, PriceChange: -3,
	}
	set.Timeframes[models.Timeframe30m] = models.TimeframeIndicators{
		RSI: 24, StochRSI: 50,
	}

	sig := Classify(set)
	if sig.Timeframe != models.HorizonShort {
		t.Errorf("horizon = %s, want SHORT", sig.Timeframe)
	}
}

func TestClassifyCrossoverBonus(t *testing.T) {
	base := neutralSet("LTCUSDT")
	base.RSI = 38 // partial long vote, 2 points

	noCross := Classify(base)

	crossed := neutralSet("LTCUSDT")
	crossed.RSI = 38
	crossed.StochRSIK = 18
	crossed.StochRSID = 16 // K above D inside the oversold zone

	withCross := Classify(crossed)
	if withCross.Strength == noCross.Strength && withCross.Reason == noCross.Reason {
		t.Errorf("crossover cast no extra vote: %+v vs %+v", withCross, noCross)
	}
	if !strings.Contains(withCross.Reason, "crossover") {
		t.Errorf("reason should mention the crossover, got %q", withCross.Reason)
	}
}

func TestClassifyConflictingTimeframesStayWeak(t *testing.T) {
	// Fast oversold against slow overbought mostly cancels out.
	set := neutralSet("BNBUSDT")
	set.Timeframes[models.Timeframe15m] = models.TimeframeIndicators{RSI: 28}
	set.Timeframes[models.Timeframe1h] = models.TimeframeIndicators{RSI: 72}

	sig := Classify(set)
	if sig.Strength == models.StrengthStrong {
		t.Errorf("conflicting inputs should not produce a STRONG signal, got %+v", sig)
	}
}

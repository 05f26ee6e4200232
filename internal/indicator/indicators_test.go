package indicator

import (
	"math"
	"testing"

	"github.com/signal-back/pkg/models"
)

func ascendingCloses(n int, start, step float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + float64(i)*step
	}
	return closes
}

func descendingCloses(n int, start, step float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start - float64(i)*step
	}
	return closes
}

func TestRSINeutralOnShortSeries(t *testing.T) {
	if got := RSI(nil, 14); got != NeutralRSI {
		t.Errorf("RSI(nil) = %.2f, want %.2f", got, NeutralRSI)
	}
	if got := RSI(ascendingCloses(14, 100, 1), 14); got != NeutralRSI {
		t.Errorf("RSI with period closes = %.2f, want %.2f", got, NeutralRSI)
	}
	// period+1 closes is exactly enough for one reading.
	if got := RSI(ascendingCloses(15, 100, 1), 14); got == NeutralRSI {
		t.Errorf("RSI with period+1 closes should compute, got neutral")
	}
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	if got := RSI(ascendingCloses(30, 100, 1), 14); got != 100 {
		t.Errorf("RSI of monotonic gains = %.2f, want 100", got)
	}
}

func TestRSIAllLossesNearZero(t *testing.T) {
	got := RSI(descendingCloses(30, 100, 1), 14)
	if got > 1e-9 {
		t.Errorf("RSI of monotonic losses = %.6f, want ~0", got)
	}
}

func TestRSIStaysInRange(t *testing.T) {
	// Alternating gains and losses of uneven size.
	closes := make([]float64, 120)
	price := 500.0
	for i := range closes {
		if i%3 == 0 {
			price *= 1.021
		} else {
			price *= 0.989
		}
		closes[i] = price
	}
	for _, rsi := range RSISeries(closes, 14) {
		if rsi < 0 || rsi > 100 {
			t.Fatalf("RSI %.4f out of [0, 100]", rsi)
		}
	}
}

func TestRSIConvergesUnderSustainedBuying(t *testing.T) {
	// Mixed history followed by a long run of gains: RSI must climb above
	// the overbought band and keep rising.
	closes := []float64{100, 99, 101, 98, 102, 97, 103, 96, 104, 95, 105, 94, 106, 93, 107}
	for i := 0; i < 40; i++ {
		closes = append(closes, closes[len(closes)-1]+2)
	}
	series := RSISeries(closes, 14)
	last := series[len(series)-1]
	if last < 70 {
		t.Errorf("RSI after sustained buying = %.2f, want > 70", last)
	}
	if series[len(series)-1] < series[len(series)-10] {
		t.Errorf("RSI not rising under sustained buying: %.2f then %.2f",
			series[len(series)-10], series[len(series)-1])
	}
}

func TestRSISeriesLength(t *testing.T) {
	closes := ascendingCloses(50, 100, 0.5)
	series := RSISeries(closes, 14)
	if len(series) != 36 {
		t.Errorf("series length = %d, want %d", len(series), 50-14)
	}
}

func TestStochRSINeutralOnShortOrFlatWindow(t *testing.T) {
	short := StochRSI([]float64{55, 56}, 14, 3, 3)
	if short.Value != NeutralStochRSI || short.K != NeutralStochRSI || short.D != NeutralStochRSI {
		t.Errorf("short window StochRSI = %+v, want all %.0f", short, NeutralStochRSI)
	}

	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 50
	}
	got := StochRSI(flat, 14, 3, 3)
	if got.Value != NeutralStochRSI {
		t.Errorf("flat window StochRSI = %.2f, want %.0f", got.Value, NeutralStochRSI)
	}
}

func TestStochRSIExtremes(t *testing.T) {
	rising := ascendingCloses(30, 20, 2) // RSI series climbing steadily
	got := StochRSI(rising, 14, 3, 3)
	if got.Value != 100 {
		t.Errorf("StochRSI at window max = %.2f, want 100", got.Value)
	}
	if got.K < 90 || got.D < 90 {
		t.Errorf("smoothed lines should track raw near the top, K=%.2f D=%.2f", got.K, got.D)
	}

	falling := descendingCloses(30, 90, 2)
	got = StochRSI(falling, 14, 3, 3)
	if got.Value != 0 {
		t.Errorf("StochRSI at window min = %.2f, want 0", got.Value)
	}
}

func TestStochRSISmoothingLagsRaw(t *testing.T) {
	// A sharp reversal at the tail: raw reacts fully, %K partially, %D least.
	series := append(ascendingCloses(25, 30, 2), 35, 32)
	got := StochRSI(series, 14, 3, 3)
	if !(got.Value < got.K && got.K < got.D) {
		t.Errorf("after a drop, expected raw < K < D, got raw=%.2f K=%.2f D=%.2f",
			got.Value, got.K, got.D)
	}
}

func TestTrendTruthTable(t *testing.T) {
	tests := []struct {
		name   string
		rsi    float64
		change float64
		want   models.TrendDirection
	}{
		{"strong up", 65, 2.5, models.TrendBullish},
		{"strong down", 35, -2.5, models.TrendBearish},
		{"rsi up price down", 65, -1, models.TrendNeutral},
		{"rsi down price up", 35, 1, models.TrendNeutral},
		{"midline rsi", 50, 3, models.TrendNeutral},
		{"zero change", 65, 0, models.TrendNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Trend(tt.rsi, tt.change); got != tt.want {
				t.Errorf("Trend(%.0f, %.1f) = %s, want %s", tt.rsi, tt.change, got, tt.want)
			}
		})
	}
}

func TestDetectReversal(t *testing.T) {
	tests := []struct {
		name                               string
		rsi, prevRSI, stoch, prevStoch     float64
		want                               bool
	}{
		{"rsi leaves oversold", 33, 28, 50, 45, true},
		{"rsi leaves overbought", 66, 74, 50, 55, true},
		{"stoch leaves oversold", 45, 44, 25, 15, true},
		{"stoch leaves overbought", 55, 56, 75, 85, true},
		{"rsi pinned low stoch recovered", 25, 24, 40, 38, true},
		{"rsi pinned high stoch faded", 78, 79, 60, 62, true},
		{"steady midrange", 52, 51, 48, 47, false},
		{"still deep oversold", 22, 24, 10, 12, false},
		{"still deep overbought", 80, 78, 92, 90, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectReversal(tt.rsi, tt.prevRSI, tt.stoch, tt.prevStoch, 70, 30)
			if got != tt.want {
				t.Errorf("DetectReversal(rsi %.0f<-%.0f, stoch %.0f<-%.0f) = %v, want %v",
					tt.rsi, tt.prevRSI, tt.stoch, tt.prevStoch, got, tt.want)
			}
		})
	}
}

func TestTailMean(t *testing.T) {
	series := []float64{10, 20, 30, 40}
	if got := tailMean(series, 2); got != 35 {
		t.Errorf("tailMean(2) = %.1f, want 35", got)
	}
	if got := tailMean(series, 10); got != 25 {
		t.Errorf("tailMean over length = %.1f, want full mean 25", got)
	}
}

func TestRSIMatchesKnownValue(t *testing.T) {
	// Classic Wilder worked example from the standard reference series.
	closes := []float64{
		44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42,
		45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28,
	}
	got := RSI(closes, 14)
	if math.Abs(got-70.46) > 0.1 {
		t.Errorf("RSI = %.2f, want ~70.46", got)
	}
}

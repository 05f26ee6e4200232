package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/signal-back/pkg/models"
)

func TestSnapshotUpsertTickerDelta(t *testing.T) {
	ss := NewSnapshotStore(nil, testLogger())
	ctx := context.Background()

	first := &models.Ticker{Symbol: "BTCUSDT", Price: 50000, Volume: 100, Timestamp: t0}
	update := ss.UpsertTicker(ctx, first)
	if update == nil {
		t.Fatal("first ticker produced no delta")
	}
	if update.Fields["price"] != 50000.0 {
		t.Errorf("price field = %v, want 50000", update.Fields["price"])
	}

	// Only the price moves.
	second := &models.Ticker{Symbol: "BTCUSDT", Price: 50100, Volume: 100, Timestamp: t0.Add(time.Second)}
	update = ss.UpsertTicker(ctx, second)
	if update == nil {
		t.Fatal("price move produced no delta")
	}
	if _, ok := update.Fields["volume"]; ok {
		t.Error("unchanged volume appeared in the delta")
	}
	if update.Fields["price"] != 50100.0 {
		t.Errorf("price field = %v, want 50100", update.Fields["price"])
	}

	// Identical write is a no-op.
	if update = ss.UpsertTicker(ctx, second); update != nil {
		t.Errorf("identical ticker produced delta %v", update.Fields)
	}
}

func TestSnapshotIndicatorPartialMerge(t *testing.T) {
	ss := NewSnapshotStore(nil, testLogger())
	ctx := context.Background()

	// The 1h writer lands first.
	ss.UpsertIndicators(ctx, "ETHUSDT", IndicatorPatch{
		Timeframes: map[models.Timeframe]models.TimeframeIndicators{
			models.Timeframe1h: {RSI: 62, StochRSI: 70},
		},
	})

	// Then the 15m writer patches its own slice plus the primary values.
	ss.UpsertIndicators(ctx, "ETHUSDT", IndicatorPatch{
		Primary: &PrimaryIndicators{RSI: 41, StochRSI: 33, StochRSIK: 35, StochRSID: 38, Trend: models.TrendNeutral},
		Timeframes: map[models.Timeframe]models.TimeframeIndicators{
			models.Timeframe15m: {RSI: 41, StochRSI: 33},
		},
	})

	snap, ok := ss.Get("ETHUSDT")
	if !ok {
		t.Fatal("row missing")
	}
	set := snap.Indicators
	if set.RSI != 41 {
		t.Errorf("primary RSI = %.0f, want 41", set.RSI)
	}
	// The 1h slice must have survived the 15m write.
	if got := set.Timeframes[models.Timeframe1h].RSI; got != 62 {
		t.Errorf("1h RSI = %.0f, want 62 after 15m patch", got)
	}
	if got := set.Timeframes[models.Timeframe15m].RSI; got != 41 {
		t.Errorf("15m RSI = %.0f, want 41", got)
	}
}

func TestSnapshotIndicatorDeltaOnlyChangedFields(t *testing.T) {
	ss := NewSnapshotStore(nil, testLogger())
	ctx := context.Background()

	patch := IndicatorPatch{
		Primary: &PrimaryIndicators{RSI: 75, StochRSI: 85, StochRSIK: 82, StochRSID: 80, IsOverbought: true, Trend: models.TrendBullish},
	}
	update := ss.UpsertIndicators(ctx, "SOLUSDT", patch)
	if update == nil {
		t.Fatal("first patch produced no delta")
	}
	if update.Fields["is_overbought"] != true {
		t.Error("is_overbought missing from delta")
	}

	// Re-applying the identical patch changes nothing.
	if update = ss.UpsertIndicators(ctx, "SOLUSDT", patch); update != nil {
		t.Errorf("identical patch produced delta %v", update.Fields)
	}

	// A signal-only patch reports only the signal.
	sig := &models.Signal{Type: models.SignalShort, Strength: models.StrengthMedium, Timeframe: models.HorizonLong}
	update = ss.UpsertIndicators(ctx, "SOLUSDT", IndicatorPatch{Signal: sig})
	if update == nil {
		t.Fatal("signal patch produced no delta")
	}
	if len(update.Fields) != 1 {
		t.Errorf("delta fields = %v, want only signal", update.Fields)
	}
}

func TestSnapshotGetReturnsCopy(t *testing.T) {
	ss := NewSnapshotStore(nil, testLogger())
	ctx := context.Background()

	ss.UpsertIndicators(ctx, "XRPUSDT", IndicatorPatch{
		Timeframes: map[models.Timeframe]models.TimeframeIndicators{
			models.Timeframe15m: {RSI: 55},
		},
	})

	snap, _ := ss.Get("XRPUSDT")
	snap.Indicators.Timeframes[models.Timeframe15m] = models.TimeframeIndicators{RSI: 1}

	fresh, _ := ss.Get("XRPUSDT")
	if got := fresh.Indicators.Timeframes[models.Timeframe15m].RSI; got != 55 {
		t.Errorf("stored RSI mutated through returned copy: %.0f", got)
	}
}

func TestSnapshotAllSortedAndRemove(t *testing.T) {
	ss := NewSnapshotStore(nil, testLogger())
	ctx := context.Background()

	for _, symbol := range []string{"ETHUSDT", "ADAUSDT", "BTCUSDT"} {
		ss.UpsertTicker(ctx, &models.Ticker{Symbol: symbol, Price: 1, Timestamp: t0})
	}

	all := ss.All()
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Indicators.Symbol != "ADAUSDT" || all[2].Indicators.Symbol != "ETHUSDT" {
		t.Errorf("rows not sorted by symbol: %s, %s, %s",
			all[0].Indicators.Symbol, all[1].Indicators.Symbol, all[2].Indicators.Symbol)
	}

	ss.Remove("ADAUSDT")
	if _, ok := ss.Get("ADAUSDT"); ok {
		t.Error("removed symbol still present")
	}
	if len(ss.Symbols()) != 2 {
		t.Errorf("symbols = %v, want 2 entries", ss.Symbols())
	}
}

func TestSnapshotConcurrentWriters(t *testing.T) {
	ss := NewSnapshotStore(nil, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, tf := range models.AllTimeframes {
		wg.Add(1)
		go func(tf models.Timeframe) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				ss.UpsertIndicators(ctx, "BTCUSDT", IndicatorPatch{
					Timeframes: map[models.Timeframe]models.TimeframeIndicators{
						tf: {RSI: float64(i % 100)},
					},
				})
			}
		}(tf)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 250; i++ {
			ss.UpsertTicker(ctx, &models.Ticker{Symbol: "BTCUSDT", Price: float64(i), Timestamp: t0.Add(time.Duration(i) * time.Second)})
		}
	}()
	wg.Wait()

	snap, ok := ss.Get("BTCUSDT")
	if !ok {
		t.Fatal("row missing after concurrent writes")
	}
	if len(snap.Indicators.Timeframes) != len(models.AllTimeframes) {
		t.Errorf("timeframe slices = %d, want %d", len(snap.Indicators.Timeframes), len(models.AllTimeframes))
	}
	if got := snap.Indicators.Timeframes[models.Timeframe1h].RSI; got != 49 {
		t.Errorf("final 1h RSI = %.0f, want 49", got)
	}
	if snap.Ticker.Price != 249 {
		t.Errorf("final price = %.0f, want 249", snap.Ticker.Price)
	}
}

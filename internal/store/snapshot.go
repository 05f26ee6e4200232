package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/signal-back/pkg/models"
)

// SnapshotCache receives every applied snapshot write for the external
// read cache.
type SnapshotCache interface {
	SetTicker(ctx context.Context, ticker *models.Ticker) error
	SetIndicators(ctx context.Context, set *models.IndicatorSet) error
}

// Snapshot is one symbol's combined market state: the latest 24h ticker
// plus the latest computed indicators.
type Snapshot struct {
	Ticker     *models.Ticker       `json:"ticker,omitempty"`
	Indicators *models.IndicatorSet `json:"indicators"`
}

// PrimaryIndicators is the primary-interval portion of an indicator row.
type PrimaryIndicators struct {
	RSI            float64
	StochRSI       float64
	StochRSIK      float64
	StochRSID      float64
	IsOverbought   bool
	IsOversold     bool
	Trend          models.TrendDirection
	ReversalSignal bool
}

// IndicatorPatch carries only the slices of an indicator row one writer
// owns. Nil sections and absent timeframe keys leave the stored values
// untouched, so concurrent per-timeframe writers never clobber each other.
type IndicatorPatch struct {
	Primary    *PrimaryIndicators
	Timeframes map[models.Timeframe]models.TimeframeIndicators
	Signal     *models.Signal
}

// SnapshotStore keeps the latest snapshot row per symbol. Writers apply
// partial patches; every write returns the changed-field delta used to
// feed push subscribers.
type SnapshotStore struct {
	mu   sync.RWMutex
	rows map[string]*Snapshot

	cache  SnapshotCache
	logger *logrus.Entry
	now    func() time.Time
}

// NewSnapshotStore creates the store. cache may be nil.
func NewSnapshotStore(cache SnapshotCache, logger *logrus.Logger) *SnapshotStore {
	return &SnapshotStore{
		rows:   make(map[string]*Snapshot),
		cache:  cache,
		logger: logger.WithField("component", "snapshot-store"),
		now:    time.Now,
	}
}

// UpsertTicker overwrites a symbol's ticker row and returns the delta of
// fields that actually changed, or nil when nothing did.
func (ss *SnapshotStore) UpsertTicker(ctx context.Context, ticker *models.Ticker) *models.Update {
	ss.mu.Lock()
	row := ss.rowLocked(ticker.Symbol)
	prev := row.Ticker
	row.Ticker = ticker

	fields := make(map[string]interface{})
	if prev == nil || prev.Price != ticker.Price {
		fields["price"] = ticker.Price
	}
	if prev == nil || prev.PriceChangePercent != ticker.PriceChangePercent {
		fields["price_change_percent"] = ticker.PriceChangePercent
	}
	if prev == nil || prev.Volume != ticker.Volume {
		fields["volume"] = ticker.Volume
	}
	if prev == nil || prev.QuoteVolume != ticker.QuoteVolume {
		fields["quote_volume"] = ticker.QuoteVolume
	}
	if prev == nil || prev.High != ticker.High {
		fields["high"] = ticker.High
	}
	if prev == nil || prev.Low != ticker.Low {
		fields["low"] = ticker.Low
	}
	ss.mu.Unlock()

	if ss.cache != nil {
		if err := ss.cache.SetTicker(ctx, ticker); err != nil {
			ss.logger.WithError(err).WithField("symbol", ticker.Symbol).
				Warn("Failed to cache ticker")
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return &models.Update{
		Symbol:    ticker.Symbol,
		Fields:    fields,
		Timestamp: ticker.Timestamp,
	}
}

// UpsertIndicators merges a patch into a symbol's indicator row and
// returns the changed-field delta, or nil when the patch was a no-op.
// A row is created on first write.
func (ss *SnapshotStore) UpsertIndicators(ctx context.Context, symbol string, patch IndicatorPatch) *models.Update {
	ss.mu.Lock()
	row := ss.rowLocked(symbol)
	set := row.Indicators

	fields := make(map[string]interface{})

	if p := patch.Primary; p != nil {
		if set.RSI != p.RSI {
			fields["rsi"] = p.RSI
		}
		if set.StochRSI != p.StochRSI {
			fields["stoch_rsi"] = p.StochRSI
		}
		if set.StochRSIK != p.StochRSIK {
			fields["stoch_rsi_k"] = p.StochRSIK
		}
		if set.StochRSID != p.StochRSID {
			fields["stoch_rsi_d"] = p.StochRSID
		}
		if set.IsOverbought != p.IsOverbought {
			fields["is_overbought"] = p.IsOverbought
		}
		if set.IsOversold != p.IsOversold {
			fields["is_oversold"] = p.IsOversold
		}
		if set.Trend != p.Trend {
			fields["trend"] = p.Trend
		}
		if set.ReversalSignal != p.ReversalSignal {
			fields["reversal_signal"] = p.ReversalSignal
		}
		set.RSI = p.RSI
		set.StochRSI = p.StochRSI
		set.StochRSIK = p.StochRSIK
		set.StochRSID = p.StochRSID
		set.IsOverbought = p.IsOverbought
		set.IsOversold = p.IsOversold
		set.Trend = p.Trend
		set.ReversalSignal = p.ReversalSignal
	}

	for tf, values := range patch.Timeframes {
		if existing, ok := set.Timeframes[tf]; !ok || existing != values {
			fields["timeframe_"+string(tf)] = values
		}
		set.Timeframes[tf] = values
	}

	if patch.Signal != nil {
		if set.Signal == nil || *set.Signal != *patch.Signal {
			fields["signal"] = patch.Signal
		}
		set.Signal = patch.Signal
	}

	var cached *models.IndicatorSet
	if len(fields) > 0 {
		set.UpdatedAt = ss.now()
		cached = set.Clone()
	}
	ss.mu.Unlock()

	if cached != nil && ss.cache != nil {
		if err := ss.cache.SetIndicators(ctx, cached); err != nil {
			ss.logger.WithError(err).WithField("symbol", symbol).
				Warn("Failed to cache indicators")
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return &models.Update{
		Symbol:    symbol,
		Fields:    fields,
		Timestamp: ss.now(),
	}
}

// rowLocked returns the row for symbol, creating a neutral one on first
// touch. Caller holds the write lock.
func (ss *SnapshotStore) rowLocked(symbol string) *Snapshot {
	row, ok := ss.rows[symbol]
	if !ok {
		row = &Snapshot{Indicators: models.NewIndicatorSet(symbol)}
		ss.rows[symbol] = row
	}
	return row
}

// Get returns a deep copy of one symbol's snapshot.
func (ss *SnapshotStore) Get(symbol string) (*Snapshot, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	row, ok := ss.rows[symbol]
	if !ok {
		return nil, false
	}
	return cloneSnapshot(row), true
}

// All returns deep copies of every snapshot, ordered by symbol.
func (ss *SnapshotStore) All() []*Snapshot {
	ss.mu.RLock()
	out := make([]*Snapshot, 0, len(ss.rows))
	for _, row := range ss.rows {
		out = append(out, cloneSnapshot(row))
	}
	ss.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Indicators.Symbol < out[j].Indicators.Symbol
	})
	return out
}

// Symbols lists every symbol with a snapshot row, unordered.
func (ss *SnapshotStore) Symbols() []string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	symbols := make([]string, 0, len(ss.rows))
	for symbol := range ss.rows {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// Remove drops a symbol that left the universe.
func (ss *SnapshotStore) Remove(symbol string) {
	ss.mu.Lock()
	delete(ss.rows, symbol)
	ss.mu.Unlock()
}

func cloneSnapshot(row *Snapshot) *Snapshot {
	cp := &Snapshot{Indicators: row.Indicators.Clone()}
	if row.Ticker != nil {
		t := *row.Ticker
		cp.Ticker = &t
	}
	return cp
}

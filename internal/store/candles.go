// Package store holds the in-memory market state the rest of the service
// reads from. The stores are the authority for the hot path; the durable
// backends behind them are best-effort write-through.
package store

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/signal-back/pkg/models"
)

// CandlePersister receives every applied candle for durable storage.
type CandlePersister interface {
	WriteCandle(ctx context.Context, c *models.Candle) error
}

type candleKey struct {
	symbol    string
	timeframe models.Timeframe
}

// CandleStore keeps a bounded window of recent candles per symbol and
// timeframe. Upserts are conditional on open time so late or replayed
// bars can never push the window backwards.
type CandleStore struct {
	mu       sync.RWMutex
	windows  map[candleKey][]models.Candle
	capacity int

	persister CandlePersister
	logger    *logrus.Entry
}

// NewCandleStore creates a store holding up to capacity candles per
// symbol and timeframe. persister may be nil, which keeps the store
// purely in-memory.
func NewCandleStore(capacity int, persister CandlePersister, logger *logrus.Logger) *CandleStore {
	if capacity < 1 {
		capacity = 1
	}
	return &CandleStore{
		windows:   make(map[candleKey][]models.Candle),
		capacity:  capacity,
		persister: persister,
		logger:    logger.WithField("component", "candle-store"),
	}
}

// Upsert stores a candle and reports whether it was applied.
//
// The window is ordered by open time. A candle matching the newest bar's
// open time replaces it in place, which is how streaming updates to the
// still-open bar land. A newer candle appends. An older candle replaces
// its exact slot when that bar is still in the window, and is dropped
// otherwise.
func (cs *CandleStore) Upsert(ctx context.Context, c *models.Candle) bool {
	if err := c.Validate(); err != nil {
		cs.logger.WithError(err).Warn("Rejected invalid candle")
		return false
	}

	key := candleKey{symbol: c.Symbol, timeframe: c.Timeframe}

	cs.mu.Lock()
	applied := cs.applyLocked(key, c)
	cs.mu.Unlock()

	if applied && cs.persister != nil {
		if err := cs.persister.WriteCandle(ctx, c); err != nil {
			cs.logger.WithError(err).WithFields(logrus.Fields{
				"symbol":    c.Symbol,
				"timeframe": c.Timeframe,
			}).Warn("Failed to persist candle")
		}
	}
	return applied
}

func (cs *CandleStore) applyLocked(key candleKey, c *models.Candle) bool {
	window := cs.windows[key]

	if len(window) == 0 {
		cs.windows[key] = append(window, *c)
		return true
	}

	last := &window[len(window)-1]
	switch {
	case c.OpenTime.Equal(last.OpenTime):
		*last = *c
		return true
	case c.OpenTime.After(last.OpenTime):
		window = append(window, *c)
		if len(window) > cs.capacity {
			window = window[len(window)-cs.capacity:]
		}
		cs.windows[key] = window
		return true
	default:
		// Older bar: reconcile in place if we still hold it.
		for i := len(window) - 2; i >= 0; i-- {
			if window[i].OpenTime.Equal(c.OpenTime) {
				window[i] = *c
				return true
			}
			if window[i].OpenTime.Before(c.OpenTime) {
				break
			}
		}
		return false
	}
}

// Recent returns up to limit of the newest candles, oldest first. The
// returned slice is a copy.
func (cs *CandleStore) Recent(symbol string, tf models.Timeframe, limit int) []models.Candle {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	window := cs.windows[candleKey{symbol: symbol, timeframe: tf}]
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}

	out := make([]models.Candle, len(window))
	copy(out, window)
	return out
}

// Closes returns the close prices of the stored window, oldest first.
func (cs *CandleStore) Closes(symbol string, tf models.Timeframe) []float64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	window := cs.windows[candleKey{symbol: symbol, timeframe: tf}]
	closes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
	}
	return closes
}

// Len reports how many candles are held for one symbol and timeframe.
func (cs *CandleStore) Len(symbol string, tf models.Timeframe) int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.windows[candleKey{symbol: symbol, timeframe: tf}])
}

// Remove drops every window belonging to a symbol that left the universe.
func (cs *CandleStore) Remove(symbol string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, tf := range models.AllTimeframes {
		delete(cs.windows, candleKey{symbol: symbol, timeframe: tf})
	}
}

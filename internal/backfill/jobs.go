// Package backfill fetches candle history over REST so indicator windows
// are full before, and stay correct alongside, the live stream.
package backfill

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/signal-back/internal/store"
	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

// boundaryDelay gives the exchange time to finalize the just-closed bar
// before we fetch it.
const boundaryDelay = 5 * time.Second

// klineFetcher is the slice of the REST client the runner needs.
type klineFetcher interface {
	GetKlines(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]*models.Candle, error)
}

// historyReader loads previously persisted candles at startup, before
// the first REST sweep. May be nil.
type historyReader interface {
	GetRecentCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]*models.Candle, error)
}

// recomputer rebuilds indicators after a window was seeded.
type recomputer interface {
	Recompute(ctx context.Context, symbol string, tf models.Timeframe)
}

// symbolSource provides the current universe.
type symbolSource interface {
	Symbols() []string
}

// Runner schedules one job per timeframe, aligned to that timeframe's
// bar boundaries. Each job fans out across the universe under a shared
// concurrency cap.
type Runner struct {
	cfg      *config.BackfillConfig
	fetcher  klineFetcher
	history  historyReader
	candles  *store.CandleStore
	compute  recomputer
	universe symbolSource
	logger   *logrus.Entry

	sem *semaphore.Weighted

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	now     func() time.Time
}

// NewRunner creates the backfill runner. history may be nil, in which
// case cold starts rely on the REST sweep alone.
func NewRunner(cfg *config.BackfillConfig, fetcher klineFetcher, history historyReader, candles *store.CandleStore, compute recomputer, universe symbolSource, logger *logrus.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		fetcher:  fetcher,
		history:  history,
		candles:  candles,
		compute:  compute,
		universe: universe,
		logger:   logger.WithField("component", "backfill"),
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches one boundary-aligned loop per timeframe, plus an
// immediate full run when configured.
func (r *Runner) Start(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		return
	}

	if r.cfg.RunOnStartup {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.Seed(ctx)
			r.RunAll(ctx)
		}()
	}

	for _, tf := range models.AllTimeframes {
		r.wg.Add(1)
		go r.loop(ctx, tf)
	}
}

// Stop halts the schedule loops and waits for running jobs.
func (r *Runner) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
}

// RunAll backfills every timeframe for the current universe.
func (r *Runner) RunAll(ctx context.Context) {
	for _, tf := range models.AllTimeframes {
		if err := r.Run(ctx, r.universe.Symbols(), tf); err != nil {
			r.logger.WithError(err).WithField("timeframe", tf).Warn("Backfill run failed")
		}
	}
}

// BackfillSymbols fills every timeframe for just the given symbols, used
// when new symbols enter the universe.
func (r *Runner) BackfillSymbols(ctx context.Context, symbols []string) {
	for _, tf := range models.AllTimeframes {
		if err := r.Run(ctx, symbols, tf); err != nil {
			r.logger.WithError(err).WithField("timeframe", tf).Warn("Symbol backfill failed")
		}
	}
}

// Seed loads persisted candle windows from the history store, so
// indicators survive a restart without waiting on the exchange.
func (r *Runner) Seed(ctx context.Context) {
	if r.history == nil {
		return
	}
	start := r.now()

	symbols := r.universe.Symbols()
	for _, tf := range models.AllTimeframes {
		if err := r.sweep(ctx, symbols, tf, r.seedSymbol); err != nil {
			r.logger.WithError(err).WithField("timeframe", tf).Warn("History seed aborted")
			return
		}
	}

	r.logger.WithFields(logrus.Fields{
		"symbols": len(symbols),
		"took":    r.now().Sub(start).Round(time.Millisecond),
	}).Info("Seeded candle windows from storage")
}

// Run fetches and stores recent history for all symbols on one
// timeframe. Individual symbol failures are logged and skipped so one
// bad contract cannot abort the sweep.
func (r *Runner) Run(ctx context.Context, symbols []string, tf models.Timeframe) error {
	if len(symbols) == 0 {
		return nil
	}
	start := r.now()

	if err := r.sweep(ctx, symbols, tf, r.fillSymbol); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"timeframe": tf,
		"symbols":   len(symbols),
		"took":      r.now().Sub(start).Round(time.Millisecond),
	}).Info("Backfill sweep complete")
	return nil
}

// sweep fans fill out across symbols under the shared concurrency cap.
// A failed acquire still waits for in-flight fills before returning.
func (r *Runner) sweep(ctx context.Context, symbols []string, tf models.Timeframe, fill func(context.Context, string, models.Timeframe)) error {
	g, ctx := errgroup.WithContext(ctx)

	var acquireErr error
	for _, symbol := range symbols {
		symbol := symbol
		if err := r.sem.Acquire(ctx, 1); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() error {
			defer r.sem.Release(1)
			fill(ctx, symbol, tf)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return acquireErr
}

func (r *Runner) fillSymbol(ctx context.Context, symbol string, tf models.Timeframe) {
	candles, err := r.fetcher.GetKlines(ctx, symbol, tf, r.cfg.CandleLimit)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"symbol":    symbol,
			"timeframe": tf,
		}).Warn("Failed to fetch history")
		return
	}

	for _, c := range candles {
		r.candles.Upsert(ctx, c)
	}
	if len(candles) > 0 {
		r.compute.Recompute(ctx, symbol, tf)
	}
}

func (r *Runner) seedSymbol(ctx context.Context, symbol string, tf models.Timeframe) {
	candles, err := r.history.GetRecentCandles(ctx, symbol, tf, r.cfg.CandleLimit)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"symbol":    symbol,
			"timeframe": tf,
		}).Warn("Failed to load stored history")
		return
	}

	for _, c := range candles {
		r.candles.Upsert(ctx, c)
	}
	if len(candles) > 0 {
		r.compute.Recompute(ctx, symbol, tf)
	}
}

func (r *Runner) loop(ctx context.Context, tf models.Timeframe) {
	defer r.wg.Done()

	for {
		wait := time.Until(nextBoundary(r.now(), tf)) + boundaryDelay

		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-time.After(wait):
			if err := r.Run(ctx, r.universe.Symbols(), tf); err != nil {
				r.logger.WithError(err).WithField("timeframe", tf).Warn("Scheduled backfill failed")
			}
		}
	}
}

// nextBoundary returns the first bar boundary strictly after now.
// Boundaries are aligned to UTC wall time, matching the exchange's bar
// alignment.
func nextBoundary(now time.Time, tf models.Timeframe) time.Time {
	d := tf.Duration()
	return now.UTC().Truncate(d).Add(d)
}

// Package ingest turns raw exchange events into stored market state and
// derived indicators.
package ingest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/signal-back/internal/indicator"
	"github.com/signal-back/internal/store"
	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

// candleQueueSize bounds the candle backlog. Sends block when full;
// candles are never dropped because indicator state depends on every bar.
const candleQueueSize = 1024

// updatePublisher fans the changed-field deltas out to subscribers. May
// be nil.
type updatePublisher interface {
	PublishUpdate(update *models.Update) error
}

type seriesKey struct {
	symbol    string
	timeframe models.Timeframe
}

// previous holds the last computed values per series, needed for
// reversal detection.
type previous struct {
	rsi      float64
	stochRSI float64
	valid    bool
}

// Pipeline is the single-writer ingestion path. One consumer goroutine
// applies candle upserts and recomputes indicators strictly afterwards,
// so a reader can never observe indicators computed from bars that are
// not yet stored. Tickers are conflated latest-wins because only the
// newest observation matters.
type Pipeline struct {
	cfg       *config.IndicatorConfig
	primary   models.Timeframe
	candles   *store.CandleStore
	snapshots *store.SnapshotStore
	publisher updatePublisher
	logger    *logrus.Entry

	candleCh chan *models.Candle

	tickerMu     sync.Mutex
	latestTicker map[string]*models.Ticker
	tickerNotify chan struct{}

	prevMu sync.Mutex
	prev   map[seriesKey]previous

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewPipeline creates the ingestion pipeline. publisher may be nil.
func NewPipeline(cfg *config.IndicatorConfig, primary models.Timeframe, candles *store.CandleStore, snapshots *store.SnapshotStore, publisher updatePublisher, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		cfg:          cfg,
		primary:      primary,
		candles:      candles,
		snapshots:    snapshots,
		publisher:    publisher,
		logger:       logger.WithField("component", "ingest"),
		candleCh:     make(chan *models.Candle, candleQueueSize),
		latestTicker: make(map[string]*models.Ticker),
		tickerNotify: make(chan struct{}, 1),
		prev:         make(map[seriesKey]previous),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the consumer goroutine.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(1)
	go p.consume(ctx)
}

// Stop drains the consumer and halts it.
func (p *Pipeline) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()
}

// HandleTicker records a live ticker observation. Observations without a
// symbol or a usable price are dropped. Latest wins: if the consumer is
// behind, intermediate observations for the same symbol are replaced,
// never queued.
func (p *Pipeline) HandleTicker(ticker *models.Ticker) {
	if ticker == nil || ticker.Symbol == "" || !validPrice(ticker.Price) {
		p.logger.WithField("ticker", fmt.Sprintf("%+v", ticker)).Warn("Dropped malformed ticker")
		return
	}

	p.tickerMu.Lock()
	p.latestTicker[ticker.Symbol] = ticker
	p.tickerMu.Unlock()

	select {
	case p.tickerNotify <- struct{}{}:
	default:
	}
}

// HandleKline enqueues a candle update. Indicators are derived from
// completed bars only, so in-progress bars are discarded here. Sends
// block when the queue is full rather than dropping, so backpressure
// reaches the reader.
func (p *Pipeline) HandleKline(candle *models.Candle, closed bool) {
	if !closed {
		return
	}
	select {
	case p.candleCh <- candle:
	case <-p.stopCh:
	}
}

// Remove clears all derived state for a symbol that left the universe.
func (p *Pipeline) Remove(symbol string) {
	p.candles.Remove(symbol)
	p.snapshots.Remove(symbol)
	p.prevMu.Lock()
	for _, tf := range models.AllTimeframes {
		delete(p.prev, seriesKey{symbol: symbol, timeframe: tf})
	}
	p.prevMu.Unlock()
}

func (p *Pipeline) consume(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case candle := <-p.candleCh:
			p.processCandle(ctx, candle)
		case <-p.tickerNotify:
			p.processTickers(ctx)
		}
	}
}

func (p *Pipeline) processTickers(ctx context.Context) {
	p.tickerMu.Lock()
	batch := p.latestTicker
	p.latestTicker = make(map[string]*models.Ticker)
	p.tickerMu.Unlock()

	for _, ticker := range batch {
		if update := p.snapshots.UpsertTicker(ctx, ticker); update != nil {
			p.publish(update)
		}
	}
}

func (p *Pipeline) processCandle(ctx context.Context, candle *models.Candle) {
	if !p.candles.Upsert(ctx, candle) {
		return
	}
	p.Recompute(ctx, candle.Symbol, candle.Timeframe)
}

// Recompute rebuilds the indicators for one symbol and timeframe from the
// stored candle window and patches the snapshot row. Runs after every
// applied upsert and after backfill seeds a window.
func (p *Pipeline) Recompute(ctx context.Context, symbol string, tf models.Timeframe) {
	closes := p.candles.Closes(symbol, tf)
	if len(closes) < 2 {
		return
	}

	rsiSeries := indicator.RSISeries(closes, p.cfg.RSIPeriod)
	rsi := indicator.NeutralRSI
	if len(rsiSeries) > 0 {
		rsi = rsiSeries[len(rsiSeries)-1]
	}
	stoch := indicator.StochRSI(rsiSeries, p.cfg.StochRSIPeriod, p.cfg.KSmoothing, p.cfg.DSmoothing)

	// Percent change over the last completed bar of this timeframe.
	priceChange := 0.0
	if prev := closes[len(closes)-2]; prev != 0 {
		priceChange = (closes[len(closes)-1] - prev) / prev * 100
	}

	patch := store.IndicatorPatch{
		Timeframes: map[models.Timeframe]models.TimeframeIndicators{
			tf: {
				RSI:         rsi,
				StochRSI:    stoch.Value,
				StochRSIK:   stoch.K,
				StochRSID:   stoch.D,
				PriceChange: priceChange,
			},
		},
	}

	if tf == p.primary {
		patch.Primary = p.primaryPatch(symbol, rsi, stoch)
	}

	if update := p.snapshots.UpsertIndicators(ctx, symbol, patch); update != nil {
		p.publish(update)
	}

	if tf == p.primary {
		p.classify(ctx, symbol)
	}

	p.prevMu.Lock()
	p.prev[seriesKey{symbol: symbol, timeframe: tf}] = previous{rsi: rsi, stochRSI: stoch.Value, valid: true}
	p.prevMu.Unlock()
}

func (p *Pipeline) primaryPatch(symbol string, rsi float64, stoch indicator.StochResult) *store.PrimaryIndicators {
	// 24h momentum for the trend call, when a ticker has been seen.
	change := 0.0
	if snap, ok := p.snapshots.Get(symbol); ok && snap.Ticker != nil {
		change = snap.Ticker.PriceChangePercent
	}

	p.prevMu.Lock()
	prev, ok := p.prev[seriesKey{symbol: symbol, timeframe: p.primary}]
	p.prevMu.Unlock()

	reversal := false
	if ok && prev.valid {
		reversal = indicator.DetectReversal(rsi, prev.rsi, stoch.Value, prev.stochRSI,
			p.cfg.OverboughtLevel, p.cfg.OversoldLevel)
	}

	return &store.PrimaryIndicators{
		RSI:            rsi,
		StochRSI:       stoch.Value,
		StochRSIK:      stoch.K,
		StochRSID:      stoch.D,
		IsOverbought:   rsi >= p.cfg.OverboughtLevel,
		IsOversold:     rsi <= p.cfg.OversoldLevel,
		Trend:          indicator.Trend(rsi, change),
		ReversalSignal: reversal,
	}
}

func (p *Pipeline) classify(ctx context.Context, symbol string) {
	snap, ok := p.snapshots.Get(symbol)
	if !ok {
		return
	}

	sig := indicator.Classify(snap.Indicators)
	if update := p.snapshots.UpsertIndicators(ctx, symbol, store.IndicatorPatch{Signal: sig}); update != nil {
		p.publish(update)
	}
}

// validPrice rejects the zero value and the non-finite floats a mangled
// wire field can decode to.
func validPrice(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func (p *Pipeline) publish(update *models.Update) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishUpdate(update); err != nil {
		p.logger.WithError(err).WithField("symbol", update.Symbol).Warn("Failed to publish update")
	}
}

package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

// resubscribeDelay gives the exchange time to release the old connection
// before the replacement dials in.
const resubscribeDelay = 2 * time.Second

// streamConn is the connection surface the supervisor drives. Satisfied
// by StreamClient.
type streamConn interface {
	OnTicker(TickerHandler)
	OnKline(KlineHandler)
	Connect(ctx context.Context) error
	Subscribe(streams []string) error
	Done() <-chan struct{}
	Close() error
}

// Supervisor owns the stream connection lifecycle: it dials, subscribes
// the current universe, reconnects with exponential backoff after any
// drop, and rebuilds the connection when the universe changes.
type Supervisor struct {
	cfg    *config.ExchangeConfig
	logger *logrus.Entry

	onTicker TickerHandler
	onKline  KlineHandler

	mu      sync.Mutex
	symbols []string

	symbolsCh chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup

	running      atomic.Bool
	reconnecting atomic.Bool

	newConn func() streamConn
}

// NewSupervisor creates a supervisor that feeds the given handlers.
func NewSupervisor(cfg *config.ExchangeConfig, onTicker TickerHandler, onKline KlineHandler, logger *logrus.Logger) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		logger:    logger.WithField("component", "exchange-supervisor"),
		onTicker:  onTicker,
		onKline:   onKline,
		symbolsCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	s.newConn = func() streamConn {
		return NewStreamClient(cfg, logger)
	}
	return s
}

// SetSymbols replaces the subscribed universe. When the supervisor is
// already connected this tears the connection down and resubscribes the
// new set.
func (s *Supervisor) SetSymbols(symbols []string) {
	s.mu.Lock()
	s.symbols = append([]string(nil), symbols...)
	s.mu.Unlock()

	// Conflated: one pending rebuild is enough however often the
	// universe changes while we reconnect.
	select {
	case s.symbolsCh <- struct{}{}:
	default:
	}
}

// IsReconnecting reports whether a connection rebuild is in progress.
func (s *Supervisor) IsReconnecting() bool {
	return s.reconnecting.Load()
}

// Health reports the stream as unhealthy while a rebuild is in progress.
func (s *Supervisor) Health(_ context.Context) error {
	if s.reconnecting.Load() {
		return fmt.Errorf("stream reconnecting")
	}
	return nil
}

// Start launches the supervision loop.
func (s *Supervisor) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop tears the loop down and waits for it to exit.
func (s *Supervisor) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()

	retry := &backoff.Backoff{
		Min:    s.cfg.ReconnectDelay,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		// Any pending change signal is satisfied by the snapshot we
		// are about to take.
		select {
		case <-s.symbolsCh:
		default:
		}

		streams := s.currentStreams()
		if len(streams) == 0 {
			// Nothing to subscribe yet; wait for the first universe.
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-s.symbolsCh:
				continue
			}
		}

		conn := s.newConn()
		conn.OnTicker(s.onTicker)
		conn.OnKline(s.onKline)

		if err := conn.Connect(ctx); err != nil {
			wait := retry.Duration()
			s.logger.WithError(err).WithField("retry_in", wait).Warn("Stream connect failed")
			if !s.sleep(ctx, wait) {
				return
			}
			continue
		}

		if err := conn.Subscribe(streams); err != nil {
			s.logger.WithError(err).Warn("Stream subscribe failed")
			conn.Close()
			if !s.sleep(ctx, retry.Duration()) {
				return
			}
			continue
		}

		retry.Reset()
		s.reconnecting.Store(false)
		s.logger.WithField("streams", len(streams)).Info("Stream subscriptions established")

		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-s.stopCh:
			conn.Close()
			return
		case <-s.symbolsCh:
			// Universe changed: rebuild from scratch so the
			// subscription set exactly matches the new universe.
			s.reconnecting.Store(true)
			s.logger.Info("Universe changed, rebuilding stream connection")
			conn.Close()
			if !s.sleep(ctx, resubscribeDelay) {
				return
			}
		case <-conn.Done():
			s.reconnecting.Store(true)
			wait := retry.Duration()
			s.logger.WithField("retry_in", wait).Warn("Stream connection lost")
			if !s.sleep(ctx, wait) {
				return
			}
		}
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Supervisor) currentStreams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	streams := make([]string, 0, len(s.symbols)*(1+len(models.AllTimeframes)))
	for _, symbol := range s.symbols {
		streams = append(streams, tickerStream(symbol))
		for _, tf := range models.AllTimeframes {
			streams = append(streams, klineStream(symbol, tf))
		}
	}
	return streams
}

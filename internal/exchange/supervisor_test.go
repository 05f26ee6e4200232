package exchange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signal-back/pkg/config"
)

// fakeConn records supervisor interactions and lets tests drop the
// connection on demand.
type fakeConn struct {
	mu         sync.Mutex
	subscribed []string
	done       chan struct{}
	closed     bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (f *fakeConn) OnTicker(TickerHandler) {}
func (f *fakeConn) OnKline(KlineHandler)   {}

func (f *fakeConn) Connect(context.Context) error { return nil }

func (f *fakeConn) Subscribe(streams []string) error {
	f.mu.Lock()
	f.subscribed = append([]string(nil), streams...)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Done() <-chan struct{} { return f.done }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeConn) drop() { f.Close() }

func (f *fakeConn) streams() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

type connFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	ch    chan *fakeConn
}

func newConnFactory() *connFactory {
	return &connFactory{ch: make(chan *fakeConn, 8)}
}

func (cf *connFactory) next() streamConn {
	conn := newFakeConn()
	cf.mu.Lock()
	cf.conns = append(cf.conns, conn)
	cf.mu.Unlock()
	cf.ch <- conn
	return conn
}

func (cf *connFactory) waitForConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-cf.ch:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection established in time")
		return nil
	}
}

func testSupervisor(factory *connFactory) *Supervisor {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	cfg := &config.ExchangeConfig{ReconnectDelay: time.Millisecond}
	s := NewSupervisor(cfg, nil, nil, log)
	s.newConn = factory.next
	return s
}

func waitForStreams(t *testing.T, conn *fakeConn, want int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if streams := conn.streams(); len(streams) == want {
			return streams
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection never subscribed %d streams, have %d", want, len(conn.streams()))
	return nil
}

func TestSupervisorSubscribesUniverse(t *testing.T) {
	factory := newConnFactory()
	s := testSupervisor(factory)
	defer s.Stop()

	s.SetSymbols([]string{"BTCUSDT", "ETHUSDT"})
	s.Start(context.Background())

	conn := factory.waitForConn(t)
	// One ticker stream plus one kline stream per timeframe, per symbol.
	streams := waitForStreams(t, conn, 2*5)

	seen := make(map[string]bool, len(streams))
	for _, st := range streams {
		seen[st] = true
	}
	for _, want := range []string{"btcusdt@ticker", "btcusdt@kline_15m", "ethusdt@kline_4h"} {
		if !seen[want] {
			t.Errorf("stream %s not subscribed", want)
		}
	}
}

func TestSupervisorRebuildsOnUniverseChange(t *testing.T) {
	factory := newConnFactory()
	s := testSupervisor(factory)
	defer s.Stop()

	s.SetSymbols([]string{"BTCUSDT"})
	s.Start(context.Background())

	first := factory.waitForConn(t)
	waitForStreams(t, first, 5)

	s.SetSymbols([]string{"BTCUSDT", "SOLUSDT"})

	second := factory.waitForConn(t)
	streams := waitForStreams(t, second, 10)

	found := false
	for _, st := range streams {
		if st == "solusdt@ticker" {
			found = true
		}
	}
	if !found {
		t.Error("new symbol not subscribed after universe change")
	}

	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Error("old connection left open after rebuild")
	}
}

func TestSupervisorReconnectsAfterDrop(t *testing.T) {
	factory := newConnFactory()
	s := testSupervisor(factory)
	defer s.Stop()

	s.SetSymbols([]string{"BTCUSDT"})
	s.Start(context.Background())

	first := factory.waitForConn(t)
	waitForStreams(t, first, 5)

	first.drop()

	second := factory.waitForConn(t)
	waitForStreams(t, second, 5)
	if second == first {
		t.Fatal("supervisor reused the dropped connection")
	}
}

func TestSupervisorHealthTracksReconnects(t *testing.T) {
	factory := newConnFactory()
	s := testSupervisor(factory)
	defer s.Stop()

	ctx := context.Background()
	s.SetSymbols([]string{"BTCUSDT"})
	s.Start(ctx)

	first := factory.waitForConn(t)
	waitForStreams(t, first, 5)
	if err := s.Health(ctx); err != nil {
		t.Errorf("Health with an established stream = %v", err)
	}

	s.reconnecting.Store(true)
	if err := s.Health(ctx); err == nil {
		t.Error("Health = nil while reconnecting")
	}
	if !s.IsReconnecting() {
		t.Error("IsReconnecting = false during a rebuild")
	}

	// A successful resubscribe clears the flag.
	first.drop()
	second := factory.waitForConn(t)
	waitForStreams(t, second, 5)
	deadline := time.Now().Add(2 * time.Second)
	for s.Health(ctx) != nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := s.Health(ctx); err != nil {
		t.Errorf("Health after resubscribe = %v", err)
	}
}

func TestSupervisorStopIsIdempotent(t *testing.T) {
	factory := newConnFactory()
	s := testSupervisor(factory)

	s.SetSymbols([]string{"BTCUSDT"})
	s.Start(context.Background())
	factory.waitForConn(t)

	s.Stop()
	s.Stop()
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signal-back/internal/store"
	"github.com/signal-back/internal/universe"
	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

type stubCheck struct{ err error }

func (s stubCheck) Health(context.Context) error { return s.err }

type stubCache struct {
	tickers    map[string]*models.Ticker
	indicators map[string]*models.IndicatorSet
}

func (c *stubCache) GetTicker(_ context.Context, symbol string) (*models.Ticker, error) {
	return c.tickers[symbol], nil
}

func (c *stubCache) GetIndicators(_ context.Context, symbol string) (*models.IndicatorSet, error) {
	return c.indicators[symbol], nil
}

func newTestServer(t *testing.T, cache snapshotCache, checks map[string]HealthChecker) (*Server, *store.SnapshotStore, *store.CandleStore) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	cfg := &config.Config{}
	cfg.Server.CORSEnabled = false

	snapshots := store.NewSnapshotStore(nil, log)
	candles := store.NewCandleStore(50, nil, log)
	uni := universe.NewManager(&config.UniverseConfig{
		Size:            10,
		QuoteAsset:      "USDT",
		RefreshInterval: time.Hour,
		MetadataTTL:     time.Minute,
	}, nil, nil, log)

	return NewServer(cfg, log, snapshots, candles, uni, nil, cache, checks), snapshots, candles
}

func doRequest(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestGetMarketSymbol(t *testing.T) {
	s, snapshots, _ := newTestServer(t, nil, nil)
	ctx := context.Background()

	snapshots.UpsertTicker(ctx, &models.Ticker{Symbol: "BTCUSDT", Price: 50000, Timestamp: time.Now()})
	snapshots.UpsertIndicators(ctx, "BTCUSDT", store.IndicatorPatch{
		Primary: &store.PrimaryIndicators{RSI: 64, StochRSI: 70, Trend: models.TrendBullish},
	})

	rec := doRequest(t, s, "/api/market/BTCUSDT")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var snap store.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Ticker.Price != 50000 || snap.Indicators.RSI != 64 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestGetMarketSymbolNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	rec := doRequest(t, s, "/api/market/NOPEUSDT")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetMarketSymbolFallsBackToCache(t *testing.T) {
	cache := &stubCache{
		tickers: map[string]*models.Ticker{
			"ETHUSDT": {Symbol: "ETHUSDT", Price: 3400, Timestamp: time.Now()},
		},
		indicators: map[string]*models.IndicatorSet{
			"ETHUSDT": {Symbol: "ETHUSDT", RSI: 58},
		},
	}
	s, snapshots, _ := newTestServer(t, cache, nil)

	// Not in memory yet, but present in the durable cache.
	rec := doRequest(t, s, "/api/market/ETHUSDT")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 from cache, body %s", rec.Code, rec.Body.String())
	}
	var snap store.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Ticker == nil || snap.Ticker.Price != 3400 || snap.Indicators == nil || snap.Indicators.RSI != 58 {
		t.Errorf("cached snapshot = %+v", snap)
	}

	// Absent everywhere stays a 404.
	if rec := doRequest(t, s, "/api/market/NOPEUSDT"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when cache misses too", rec.Code)
	}

	// The in-memory row wins once it exists.
	snapshots.UpsertTicker(context.Background(), &models.Ticker{Symbol: "ETHUSDT", Price: 3500, Timestamp: time.Now()})
	rec = doRequest(t, s, "/api/market/ETHUSDT")
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Ticker.Price != 3500 {
		t.Errorf("price = %.0f, want the in-memory row preferred", snap.Ticker.Price)
	}
}

func TestGetMarketListsAllRows(t *testing.T) {
	s, snapshots, _ := newTestServer(t, nil, nil)
	ctx := context.Background()

	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		snapshots.UpsertTicker(ctx, &models.Ticker{Symbol: symbol, Price: 1, Timestamp: time.Now()})
	}

	rec := doRequest(t, s, "/api/market")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var rows []*store.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}
}

func TestGetCandlesValidation(t *testing.T) {
	s, _, candles := newTestServer(t, nil, nil)
	ctx := context.Background()

	open := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		candles.Upsert(ctx, &models.Candle{
			Symbol: "BTCUSDT", Timeframe: models.Timeframe1h,
			OpenTime:  open.Add(time.Duration(i) * time.Hour),
			CloseTime: open.Add(time.Duration(i+1) * time.Hour),
			Open:      1, High: 1, Low: 1, Close: 1,
		})
	}

	if rec := doRequest(t, s, "/api/candles/BTCUSDT?timeframe=1h"); rec.Code != http.StatusOK {
		t.Errorf("valid request status = %d", rec.Code)
	}
	if rec := doRequest(t, s, "/api/candles/BTCUSDT?timeframe=7m"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad timeframe status = %d, want 400", rec.Code)
	}
	if rec := doRequest(t, s, "/api/candles/BTCUSDT?timeframe=1h&limit=-1"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
	if rec := doRequest(t, s, "/api/candles/NOPEUSDT?timeframe=1h"); rec.Code != http.StatusNotFound {
		t.Errorf("empty window status = %d, want 404", rec.Code)
	}

	rec := doRequest(t, s, "/api/candles/BTCUSDT?timeframe=1h&limit=2")
	var out []models.Candle
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("limited candles = %d, want 2", len(out))
	}
}

func TestHealthReportsDependencies(t *testing.T) {
	s, _, _ := newTestServer(t, nil, map[string]HealthChecker{
		"redis": stubCheck{},
		"mysql": stubCheck{err: errors.New("down")},
	})

	rec := doRequest(t, s, "/api/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when a dependency is down", rec.Code)
	}

	var body struct {
		Status   string          `json:"status"`
		Services map[string]bool `json:"services"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Services["redis"] != true || body.Services["mysql"] != false {
		t.Errorf("body = %+v", body)
	}
}

func TestHealthAllUp(t *testing.T) {
	s, _, _ := newTestServer(t, nil, map[string]HealthChecker{"redis": stubCheck{}})

	rec := doRequest(t, s, "/api/health")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// Package exchange talks to the upstream perpetual futures exchange over
// REST and WebSocket.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

// RESTClient handles REST API calls to the futures exchange. All calls
// share one token-bucket limiter so backfill bursts cannot starve the
// universe refresh.
type RESTClient struct {
	client     *http.Client
	baseURL    string
	limiter    *rate.Limiter
	maxRetries int
	retryWait  time.Duration
	logger     *logrus.Entry
}

// NewRESTClient creates a rate-limited REST client.
func NewRESTClient(cfg *config.ExchangeConfig, logger *logrus.Logger) *RESTClient {
	return &RESTClient{
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		baseURL:    cfg.APIURL,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), int(cfg.RequestsPerSec)),
		maxRetries: cfg.MaxRetries,
		retryWait:  time.Second,
		logger:     logger.WithField("component", "exchange-rest"),
	}
}

// GetExchangeInfo fetches every listed contract.
func (rc *RESTClient) GetExchangeInfo(ctx context.Context) ([]*models.SymbolInfo, error) {
	var resp exchangeInfoResponse
	if err := rc.getJSON(ctx, "/fapi/v1/exchangeInfo", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch exchange info: %w", err)
	}

	symbols := make([]*models.SymbolInfo, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		symbols = append(symbols, &models.SymbolInfo{
			Symbol:       s.Symbol,
			BaseAsset:    s.BaseAsset,
			QuoteAsset:   s.QuoteAsset,
			Status:       s.Status,
			ContractType: s.ContractType,
		})
	}
	return symbols, nil
}

// Get24hTickers fetches the rolling 24h statistics for every symbol.
func (rc *RESTClient) Get24hTickers(ctx context.Context) ([]*models.Ticker, error) {
	var payload []tickerPayload
	if err := rc.getJSON(ctx, "/fapi/v1/ticker/24hr", nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch 24h tickers: %w", err)
	}

	tickers := make([]*models.Ticker, 0, len(payload))
	for i := range payload {
		ticker, err := payload[i].toModel()
		if err != nil {
			// One mangled row must not fail the whole refresh.
			rc.logger.WithError(err).Warn("Skipping malformed ticker row")
			continue
		}
		tickers = append(tickers, ticker)
	}
	return tickers, nil
}

// GetKlines fetches up to limit recent candles for one symbol and
// timeframe, oldest first.
func (rc *RESTClient) GetKlines(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]*models.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(tf))
	if limit > 0 {
		if limit > 1000 {
			limit = 1000
		}
		params.Set("limit", strconv.Itoa(limit))
	}

	var rows [][]interface{}
	if err := rc.getJSON(ctx, "/fapi/v1/klines", params, &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s %s: %w", symbol, tf, err)
	}

	candles := make([]*models.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseKlineRow(row, symbol, tf)
		if err != nil {
			return nil, fmt.Errorf("bad kline row for %s %s: %w", symbol, tf, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// getJSON performs a rate-limited GET with retries. A 429 response is
// honored via its Retry-After header before the next attempt.
func (rc *RESTClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	fullURL := rc.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if err := rc.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		body, retryAfter, err := rc.doRequest(ctx, fullURL)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("failed to decode response from %s: %w", path, err)
			}
			return nil
		}
		lastErr = err

		wait := rc.retryWait * time.Duration(attempt+1)
		if retryAfter > 0 {
			wait = retryAfter
		}
		rc.logger.WithError(err).WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt + 1,
			"wait":    wait,
		}).Warn("Exchange request failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("request to %s failed after %d attempts: %w", path, rc.maxRetries+1, lastErr)
}

func (rc *RESTClient) doRequest(ctx context.Context, fullURL string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, retryAfter, fmt.Errorf("rate limited (status %d)", resp.StatusCode)
	default:
		return nil, 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

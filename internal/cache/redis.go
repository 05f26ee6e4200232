package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

// RedisClient caches the latest market snapshot rows so the read path can
// serve them without touching the in-memory stores across restarts.
type RedisClient struct {
	client *redis.Client
	logger *logrus.Entry
	cfg    *config.RedisConfig
	ttl    time.Duration
}

// NewRedisClient creates a new Redis client and verifies connectivity.
func NewRedisClient(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
		MaxRetries:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		logger: logger.WithField("component", "redis"),
		cfg:    cfg,
		ttl:    5 * time.Minute,
	}, nil
}

// Close closes the Redis connection.
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Health checks Redis health.
func (rc *RedisClient) Health(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Ticker operations

// SetTicker caches the latest 24h statistics for a symbol.
func (rc *RedisClient) SetTicker(ctx context.Context, ticker *models.Ticker) error {
	data, err := json.Marshal(ticker)
	if err != nil {
		return fmt.Errorf("failed to marshal ticker: %w", err)
	}
	return rc.client.Set(ctx, tickerKey(ticker.Symbol), data, rc.ttl).Err()
}

// GetTicker returns the cached ticker for a symbol, or nil when absent.
func (rc *RedisClient) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	data, err := rc.client.Get(ctx, tickerKey(symbol)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker: %w", err)
	}

	var ticker models.Ticker
	if err := json.Unmarshal([]byte(data), &ticker); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticker: %w", err)
	}
	return &ticker, nil
}

// Indicator operations

// SetIndicators caches the computed indicator row for a symbol.
func (rc *RedisClient) SetIndicators(ctx context.Context, set *models.IndicatorSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal indicators: %w", err)
	}
	return rc.client.Set(ctx, indicatorKey(set.Symbol), data, rc.ttl).Err()
}

// GetIndicators returns the cached indicator row for a symbol, or nil when
// absent.
func (rc *RedisClient) GetIndicators(ctx context.Context, symbol string) (*models.IndicatorSet, error) {
	data, err := rc.client.Get(ctx, indicatorKey(symbol)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indicators: %w", err)
	}

	var set models.IndicatorSet
	if err := json.Unmarshal([]byte(data), &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal indicators: %w", err)
	}
	return &set, nil
}

func tickerKey(symbol string) string {
	return fmt.Sprintf("ticker:%s", symbol)
}

func indicatorKey(symbol string) string {
	return fmt.Sprintf("indicators:%s", symbol)
}

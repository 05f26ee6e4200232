package database

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

// InfluxClient persists candle history to InfluxDB. Candles are written
// to one measurement per timeframe so queries never mix intervals.
type InfluxClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	logger   *logrus.Entry
	cfg      *config.InfluxConfig
	org      string
	bucket   string
}

// NewInfluxClient creates a new InfluxDB client.
func NewInfluxClient(cfg *config.InfluxConfig, logger *logrus.Logger) *InfluxClient {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds())).
			SetLogLevel(0),
	)

	return &InfluxClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		logger:   logger.WithField("component", "influxdb"),
		cfg:      cfg,
		org:      cfg.Org,
		bucket:   cfg.Bucket,
	}
}

// Close closes the InfluxDB client.
func (ic *InfluxClient) Close() {
	ic.client.Close()
}

// Health checks InfluxDB health.
func (ic *InfluxClient) Health(ctx context.Context) error {
	health, err := ic.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb health check failed: %s", msg)
	}
	return nil
}

func measurementFor(tf models.Timeframe) string {
	return fmt.Sprintf("candles_%s", tf)
}

func candlePoint(c *models.Candle) *write.Point {
	return influxdb2.NewPoint(
		measurementFor(c.Timeframe),
		map[string]string{
			"symbol": c.Symbol,
		},
		map[string]interface{}{
			"open":         c.Open,
			"high":         c.High,
			"low":          c.Low,
			"close":        c.Close,
			"volume":       c.Volume,
			"quote_volume": c.QuoteVolume,
			"trade_count":  c.TradeCount,
		},
		c.OpenTime,
	)
}

// WriteCandle writes a single candle. Re-writing the same (symbol,
// timeframe, open time) overwrites the previous fields, which is exactly
// the upsert behavior the stores rely on.
func (ic *InfluxClient) WriteCandle(ctx context.Context, c *models.Candle) error {
	if err := ic.writeAPI.WritePoint(ctx, candlePoint(c)); err != nil {
		return fmt.Errorf("failed to write candle: %w", err)
	}
	return nil
}

// GetCandles retrieves candles for one symbol and timeframe within
// [from, to), oldest first.
func (ic *InfluxClient) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]*models.Candle, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: %s, stop: %s)
			|> filter(fn: (r) => r._measurement == "%s")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"])
	`, ic.bucket, from.Format(time.RFC3339), to.Format(time.RFC3339), measurementFor(tf), symbol)

	result, err := ic.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer result.Close()

	var candles []*models.Candle
	for result.Next() {
		record := result.Record()
		c := &models.Candle{
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  record.Time(),
			CloseTime: record.Time().Add(tf.Duration()),
		}
		c.Open = floatField(record.Values(), "open")
		c.High = floatField(record.Values(), "high")
		c.Low = floatField(record.Values(), "low")
		c.Close = floatField(record.Values(), "close")
		c.Volume = floatField(record.Values(), "volume")
		c.QuoteVolume = floatField(record.Values(), "quote_volume")
		if tc, ok := record.Values()["trade_count"].(int64); ok {
			c.TradeCount = tc
		}
		candles = append(candles, c)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("candle query error: %w", result.Err())
	}

	return candles, nil
}

// GetRecentCandles retrieves the latest limit candles for one symbol and
// timeframe, oldest first.
func (ic *InfluxClient) GetRecentCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]*models.Candle, error) {
	// Look back far enough to cover limit bars plus exchange downtime slack.
	lookback := time.Duration(limit*4) * tf.Duration()
	from := time.Now().Add(-lookback)

	candles, err := ic.GetCandles(ctx, symbol, tf, from, time.Now().Add(tf.Duration()))
	if err != nil {
		return nil, err
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func floatField(values map[string]interface{}, key string) float64 {
	if v, ok := values[key].(float64); ok {
		return v
	}
	return 0
}

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/signal-back/pkg/models"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig    `env:", prefix=SERVER_"`
	MySQL      MySQLConfig     `env:", prefix=MYSQL_"`
	InfluxDB   InfluxConfig    `env:", prefix=INFLUXDB_"`
	Redis      RedisConfig     `env:", prefix=REDIS_"`
	NATS       NATSConfig      `env:", prefix=NATS_"`
	Exchange   ExchangeConfig  `env:", prefix=EXCHANGE_"`
	Universe   UniverseConfig  `env:", prefix=UNIVERSE_"`
	Indicators IndicatorConfig `env:", prefix=INDICATORS_"`
	Backfill   BackfillConfig  `env:", prefix=BACKFILL_"`
	Broadcast  BroadcastConfig `env:", prefix=BROADCAST_"`
	Logging    LoggingConfig   `env:", prefix=LOG_"`
}

// ServerConfig holds the read-path HTTP server configuration.
type ServerConfig struct {
	Host         string        `env:"HOST, default=0.0.0.0"`
	Port         int           `env:"PORT, default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
	CORSEnabled  bool          `env:"CORS_ENABLED, default=true"`
}

// MySQLConfig holds MySQL configuration.
type MySQLConfig struct {
	Host            string        `env:"HOST, default=localhost"`
	Port            int           `env:"PORT, default=3306"`
	Database        string        `env:"DATABASE, default=signals"`
	User            string        `env:"USER, default=signals"`
	Password        string        `env:"PASSWORD, default=signals123"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS, default=25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS, default=5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME, default=5m"`
}

// InfluxConfig holds InfluxDB configuration.
type InfluxConfig struct {
	URL     string        `env:"URL, default=http://localhost:8086"`
	Token   string        `env:"TOKEN"`
	Org     string        `env:"ORG, default=signals-org"`
	Bucket  string        `env:"BUCKET, default=signals"`
	Timeout time.Duration `env:"TIMEOUT, default=10s"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	PoolSize     int           `env:"POOL_SIZE, default=10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS, default=5"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL           string        `env:"URL, default=nats://localhost:4222"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
}

// ExchangeConfig holds the upstream exchange endpoints and connection policy.
type ExchangeConfig struct {
	APIURL         string        `env:"API_URL, default=https://fapi.binance.com"`
	StreamURL      string        `env:"STREAM_URL, default=wss://fstream.binance.com/stream"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT, default=15s"`
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY, default=5s"`
	RequestsPerSec float64       `env:"REQUESTS_PER_SEC, default=10"`
	MaxRetries     int           `env:"MAX_RETRIES, default=3"`
}

// UniverseConfig controls the tracked-symbol set.
type UniverseConfig struct {
	Size            int           `env:"SIZE, default=200"`
	QuoteAsset      string        `env:"QUOTE_ASSET, default=USDT"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL, default=15m"`
	MetadataTTL     time.Duration `env:"METADATA_TTL, default=1m"`
}

// IndicatorConfig holds indicator computation tunables.
type IndicatorConfig struct {
	RSIPeriod        int     `env:"RSI_PERIOD, default=14"`
	StochRSIPeriod   int     `env:"STOCH_RSI_PERIOD, default=14"`
	KSmoothing       int     `env:"K_SMOOTHING, default=3"`
	DSmoothing       int     `env:"D_SMOOTHING, default=3"`
	OverboughtLevel  float64 `env:"OVERBOUGHT_LEVEL, default=70"`
	OversoldLevel    float64 `env:"OVERSOLD_LEVEL, default=30"`
	PrimaryTimeframe string  `env:"PRIMARY_TIMEFRAME, default=15m"`
	CandleWindow     int     `env:"CANDLE_WINDOW, default=50"`
}

// BackfillConfig controls the scheduled history jobs.
type BackfillConfig struct {
	Concurrency  int64 `env:"CONCURRENCY, default=20"`
	CandleLimit  int   `env:"CANDLE_LIMIT, default=50"`
	RunOnStartup bool  `env:"RUN_ON_STARTUP, default=true"`
}

// BroadcastConfig controls the downstream push channel.
type BroadcastConfig struct {
	FlushInterval   time.Duration `env:"FLUSH_INTERVAL, default=500ms"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT, default=10s"`
	PingInterval    time.Duration `env:"PING_INTERVAL, default=30s"`
	PongTimeout     time.Duration `env:"PONG_TIMEOUT, default=60s"`
	ReadBufferSize  int           `env:"READ_BUFFER_SIZE, default=1024"`
	WriteBufferSize int           `env:"WRITE_BUFFER_SIZE, default=4096"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
	Output string `env:"OUTPUT, default=stdout"`
}

// Load loads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Universe.Size <= 0 {
		return fmt.Errorf("universe size must be positive, got %d", c.Universe.Size)
	}
	if c.Indicators.RSIPeriod < 1 {
		return fmt.Errorf("RSI period must be >= 1, got %d", c.Indicators.RSIPeriod)
	}
	if c.Indicators.OversoldLevel >= c.Indicators.OverboughtLevel {
		return fmt.Errorf("oversold level %.1f must be below overbought level %.1f",
			c.Indicators.OversoldLevel, c.Indicators.OverboughtLevel)
	}
	if _, err := models.ParseTimeframe(c.Indicators.PrimaryTimeframe); err != nil {
		return fmt.Errorf("invalid primary timeframe: %w", err)
	}
	if c.Backfill.Concurrency < 1 {
		return fmt.Errorf("backfill concurrency must be >= 1, got %d", c.Backfill.Concurrency)
	}
	return nil
}

// PrimaryTimeframe returns the parsed primary interval. Validate guarantees
// the value parses.
func (c *Config) PrimaryTimeframe() models.Timeframe {
	tf, _ := models.ParseTimeframe(c.Indicators.PrimaryTimeframe)
	return tf
}

// GetMySQLDSN returns the MySQL DSN string.
func (c *Config) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		c.MySQL.User,
		c.MySQL.Password,
		c.MySQL.Host,
		c.MySQL.Port,
		c.MySQL.Database,
	)
}

// GetRedisAddr returns the Redis address.
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetServerAddr returns the HTTP server bind address.
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

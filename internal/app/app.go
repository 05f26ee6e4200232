// Package app wires the service together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signal-back/internal/api"
	"github.com/signal-back/internal/backfill"
	"github.com/signal-back/internal/broadcast"
	"github.com/signal-back/internal/cache"
	"github.com/signal-back/internal/database"
	"github.com/signal-back/internal/exchange"
	"github.com/signal-back/internal/ingest"
	"github.com/signal-back/internal/messaging"
	"github.com/signal-back/internal/store"
	"github.com/signal-back/internal/universe"
	"github.com/signal-back/pkg/config"
)

// App represents the main application.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Backends. Any of these may stay nil when the dependency is
	// unavailable; the stores degrade to in-memory only.
	influxDB   *database.InfluxClient
	mysqlDB    *database.MySQLClient
	redisCache *cache.RedisClient
	natsClient *messaging.NATSClient

	// Core components
	candles     *store.CandleStore
	snapshots   *store.SnapshotStore
	universeMgr *universe.Manager
	restClient  *exchange.RESTClient
	supervisor  *exchange.Supervisor
	pipeline    *ingest.Pipeline
	backfiller  *backfill.Runner
	wsManager   *broadcast.Manager
	apiServer   *api.Server
}

// New creates a new application instance.
func New(cfg *config.Config, logger *logrus.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize builds every component. Durable backends are optional: a
// connection failure logs a warning and the service runs without that
// backend.
func (a *App) Initialize() error {
	a.initializeBackends()

	a.candles = store.NewCandleStore(a.cfg.Indicators.CandleWindow, a.candlePersister(), a.logger)
	a.snapshots = store.NewSnapshotStore(a.snapshotCache(), a.logger)

	a.restClient = exchange.NewRESTClient(&a.cfg.Exchange, a.logger)

	// Explicit nil branches keep typed-nil pointers out of the optional
	// interface parameters.
	if a.mysqlDB != nil {
		a.universeMgr = universe.NewManager(&a.cfg.Universe, a.restClient, a.mysqlDB, a.logger)
	} else {
		a.universeMgr = universe.NewManager(&a.cfg.Universe, a.restClient, nil, a.logger)
	}

	if a.natsClient != nil {
		a.pipeline = ingest.NewPipeline(&a.cfg.Indicators, a.cfg.PrimaryTimeframe(), a.candles, a.snapshots, a.natsClient, a.logger)
	} else {
		a.pipeline = ingest.NewPipeline(&a.cfg.Indicators, a.cfg.PrimaryTimeframe(), a.candles, a.snapshots, nil, a.logger)
	}

	a.supervisor = exchange.NewSupervisor(
		&a.cfg.Exchange,
		a.pipeline.HandleTicker,
		a.pipeline.HandleKline,
		a.logger,
	)

	if a.influxDB != nil {
		a.backfiller = backfill.NewRunner(&a.cfg.Backfill, a.restClient, a.influxDB, a.candles, a.pipeline, a.universeMgr, a.logger)
	} else {
		a.backfiller = backfill.NewRunner(&a.cfg.Backfill, a.restClient, nil, a.candles, a.pipeline, a.universeMgr, a.logger)
	}

	a.wsManager = broadcast.NewManager(&a.cfg.Broadcast, a.logger)

	if a.redisCache != nil {
		a.apiServer = api.NewServer(a.cfg, a.logger, a.snapshots, a.candles, a.universeMgr, a.wsManager, a.redisCache, a.healthChecks())
	} else {
		a.apiServer = api.NewServer(a.cfg, a.logger, a.snapshots, a.candles, a.universeMgr, a.wsManager, nil, a.healthChecks())
	}

	return nil
}

// initializeBackends connects the durable stores, tolerating failures.
func (a *App) initializeBackends() {
	log := a.logger.WithField("component", "app")

	if mysqlDB, err := database.NewMySQLClient(&a.cfg.MySQL, a.logger); err != nil {
		log.WithError(err).Warn("MySQL unavailable, universe will not persist")
	} else {
		a.mysqlDB = mysqlDB
	}

	if redisCache, err := cache.NewRedisClient(&a.cfg.Redis, a.logger); err != nil {
		log.WithError(err).Warn("Redis unavailable, snapshot cache disabled")
	} else {
		a.redisCache = redisCache
	}

	if natsClient, err := messaging.NewNATSClient(&a.cfg.NATS, a.logger); err != nil {
		log.WithError(err).Warn("NATS unavailable, broadcasting runs in-process only")
	} else {
		a.natsClient = natsClient
	}

	// The Influx constructor does not dial; failed writes surface later.
	a.influxDB = database.NewInfluxClient(&a.cfg.InfluxDB, a.logger)
}

// Typed-nil guards: a nil *client stored in an interface field would not
// compare equal to nil inside the stores.

func (a *App) candlePersister() store.CandlePersister {
	if a.influxDB == nil {
		return nil
	}
	return a.influxDB
}

func (a *App) snapshotCache() store.SnapshotCache {
	if a.redisCache == nil {
		return nil
	}
	return a.redisCache
}

func (a *App) healthChecks() map[string]api.HealthChecker {
	checks := make(map[string]api.HealthChecker)
	if a.mysqlDB != nil {
		checks["mysql"] = a.mysqlDB
	}
	if a.redisCache != nil {
		checks["redis"] = a.redisCache
	}
	if a.influxDB != nil {
		checks["influxdb"] = a.influxDB
	}
	checks["stream"] = a.supervisor
	return checks
}

// Start brings the service up: universe first, then streaming, backfill,
// broadcasting, and the API server.
func (a *App) Start() error {
	if err := a.universeMgr.Bootstrap(a.ctx); err != nil {
		a.logger.WithError(err).Warn("Universe bootstrap failed")
	}
	if _, err := a.universeMgr.Refresh(a.ctx); err != nil {
		if len(a.universeMgr.Symbols()) == 0 {
			return fmt.Errorf("no universe available: %w", err)
		}
		a.logger.WithError(err).Warn("Initial universe refresh failed, using stored set")
	}

	a.pipeline.Start(a.ctx)

	a.supervisor.SetSymbols(a.universeMgr.Symbols())
	a.supervisor.Start(a.ctx)

	a.universeMgr.Start(a.ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.watchUniverse()
	}()

	a.backfiller.Start(a.ctx)

	if a.natsClient != nil {
		if err := a.natsClient.SubscribeUpdates(a.wsManager.AddUpdate); err != nil {
			return fmt.Errorf("failed to subscribe to updates: %w", err)
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.wsManager.Run(a.ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.apiServer.Start(); err != nil && err != http.ErrServerClosed {
			a.logger.WithError(err).Error("API server error")
		}
	}()

	return nil
}

// watchUniverse reacts to refreshes that changed the set: resubscribe
// the stream, drop departed symbols, and backfill arrivals.
func (a *App) watchUniverse() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case change, ok := <-a.universeMgr.Changes():
			if !ok {
				return
			}

			a.supervisor.SetSymbols(change.Symbols)

			for _, symbol := range change.Removed {
				a.pipeline.Remove(symbol)
			}
			if len(change.Added) > 0 {
				a.backfiller.BackfillSymbols(a.ctx, change.Added)
			}
		}
	}
}

// Stop gracefully stops the application.
func (a *App) Stop() error {
	a.logger.Info("Stopping application...")

	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		a.logger.Warn("Timeout waiting for goroutines to finish")
	}

	a.stopServicesWithTimeout()

	if err := a.closeConnections(); err != nil {
		a.logger.WithError(err).Error("Error closing connections")
	}

	a.logger.Info("Application stopped")
	return nil
}

func (a *App) stopServicesWithTimeout() {
	if a.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.apiServer.Stop(ctx); err != nil {
			a.logger.WithError(err).Error("Error stopping API server")
		}
		cancel()
	}

	if a.supervisor != nil {
		a.supervisor.Stop()
	}
	if a.universeMgr != nil {
		a.universeMgr.Stop()
	}
	if a.backfiller != nil {
		a.backfiller.Stop()
	}
	if a.pipeline != nil {
		a.pipeline.Stop()
	}
}

func (a *App) closeConnections() error {
	if a.natsClient != nil {
		// Drain flushes in-flight updates; fall back to a hard close if
		// the flush itself fails.
		if err := a.natsClient.Drain(); err != nil {
			a.logger.WithError(err).Error("Error draining NATS")
			if err := a.natsClient.Close(); err != nil {
				a.logger.WithError(err).Error("Error closing NATS")
			}
		}
	}
	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing Redis")
		}
	}
	if a.influxDB != nil {
		a.influxDB.Close()
	}
	if a.mysqlDB != nil {
		if err := a.mysqlDB.Close(); err != nil {
			return fmt.Errorf("failed to close MySQL: %w", err)
		}
	}
	return nil
}

// GetContext returns the application context.
func (a *App) GetContext() context.Context {
	return a.ctx
}

// GetConfig returns the application configuration.
func (a *App) GetConfig() *config.Config {
	return a.cfg
}

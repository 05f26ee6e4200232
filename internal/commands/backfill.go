package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signal-back/internal/backfill"
	"github.com/signal-back/internal/database"
	"github.com/signal-back/internal/exchange"
	"github.com/signal-back/internal/ingest"
	"github.com/signal-back/internal/store"
	"github.com/signal-back/internal/universe"
	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/logger"
	"github.com/signal-back/pkg/models"
)

var (
	backfillSymbols []string
	backfillLimit   int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run one history sweep and exit",
	Long: `Fetch recent candles for every tracked symbol and timeframe,
write them to InfluxDB, and exit.

Examples:
  # Sweep the whole universe
  signal-back backfill

  # Sweep specific symbols only
  signal-back backfill --symbol BTCUSDT --symbol ETHUSDT

  # Fetch a deeper window per series
  signal-back backfill --limit 200`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().StringArrayVar(&backfillSymbols, "symbol", nil, "Symbol to backfill (repeatable), defaults to the full universe")
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 0, "Candles to fetch per series, defaults to the configured window")

	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if backfillLimit > 0 {
		cfg.Backfill.CandleLimit = backfillLimit
	}
	cfg.Backfill.RunOnStartup = false

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	influxClient := database.NewInfluxClient(&cfg.InfluxDB, log)
	defer influxClient.Close()

	restClient := exchange.NewRESTClient(&cfg.Exchange, log)
	candles := store.NewCandleStore(cfg.Indicators.CandleWindow, influxClient, log)
	snapshots := store.NewSnapshotStore(nil, log)
	pipeline := ingest.NewPipeline(&cfg.Indicators, cfg.PrimaryTimeframe(), candles, snapshots, nil, log)

	ctx := context.Background()

	universeMgr := universe.NewManager(&cfg.Universe, restClient, nil, log)
	if _, err := universeMgr.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to resolve universe: %w", err)
	}

	runner := backfill.NewRunner(&cfg.Backfill, restClient, influxClient, candles, pipeline, universeMgr, log)

	symbols := backfillSymbols
	if len(symbols) == 0 {
		symbols = universeMgr.Symbols()
	}

	for _, tf := range models.AllTimeframes {
		if err := runner.Run(ctx, symbols, tf); err != nil {
			return fmt.Errorf("backfill %s failed: %w", tf, err)
		}
	}

	log.WithField("symbols", len(symbols)).Info("Backfill complete")
	return nil
}

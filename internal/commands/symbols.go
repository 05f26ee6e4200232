package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signal-back/internal/exchange"
	"github.com/signal-back/internal/universe"
	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/logger"
)

var symbolsLimit int

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "Manage tracked symbols",
	Long:  "Commands for viewing the tracked symbol universe",
}

var listSymbolsCmd = &cobra.Command{
	Use:   "list",
	Short: "List the current universe",
	Long:  "Resolve the top perpetual symbols by 24h quote volume and print them in rank order",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			fmt.Printf("Note: .env file not loaded: %v\n", err)
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if symbolsLimit > 0 {
			cfg.Universe.Size = symbolsLimit
		}

		log, err := logger.New(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		restClient := exchange.NewRESTClient(&cfg.Exchange, log)
		universeMgr := universe.NewManager(&cfg.Universe, restClient, nil, log)

		ctx := context.Background()
		if _, err := universeMgr.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to resolve universe: %w", err)
		}

		fmt.Printf("%-5s %-14s %18s\n", "RANK", "SYMBOL", "QUOTE VOLUME")
		for _, symbol := range universeMgr.Symbols() {
			info, ok := universeMgr.Info(symbol)
			if !ok {
				continue
			}
			fmt.Printf("%-5d %-14s %18.0f\n", info.Rank, info.Symbol, info.QuoteVolume)
		}
		return nil
	},
}

func init() {
	listSymbolsCmd.Flags().IntVar(&symbolsLimit, "limit", 0, "Number of symbols to list, defaults to the configured universe size")

	symbolsCmd.AddCommand(listSymbolsCmd)
	rootCmd.AddCommand(symbolsCmd)
}

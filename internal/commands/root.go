package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "signal-back",
	Short: "Perpetual futures market signal backend",
	Long: `A market data and signal backend for perpetual futures.

It tracks the top symbols by quote volume, streams live tickers and
candles from the exchange, computes RSI and Stochastic RSI across
multiple timeframes, classifies composite trading signals, and pushes
incremental updates to WebSocket subscribers.`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

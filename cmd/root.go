package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"perp-trade/config"
)

var rootCmd = &cobra.Command{
	Use:   "perp-trade",
	Short: "A CLI for opening leveraged perpetual positions",
	Long: `perp-trade opens leveraged long and short positions on decentralized
perpetual markets. It checks your token allowance, approves the trading
contract when needed, fetches an order from the trading backend and submits
the trade, tracking each transaction until it confirms.

Examples:
  perp-trade markets
  perp-trade quote long 100 WETH/USDC 3x
  perp-trade trade long 100 WETH/USDC 3x --slippage 0.5
  perp-trade positions --watch`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			config.SetFile(path)
		}
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Config file (default is $HOME/.perp-trade.yaml)")
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}

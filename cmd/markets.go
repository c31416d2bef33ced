package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"perp-trade/pkg/types"
)

var (
	filterSymbol    string
	marketsAllChain bool
)

var marketsCmd = &cobra.Command{
	Use:     "markets",
	Aliases: []string{"ls"},
	Short:   "List perpetual markets",
	Long: `List the markets available on the configured chain, with price and
24h change of the base token.

Examples:
  perp-trade markets
  perp-trade markets --symbol ETH
  perp-trade markets --all-chains`,
	Run: runMarkets,
}

func init() {
	rootCmd.AddCommand(marketsCmd)

	marketsCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
	marketsCmd.Flags().BoolVar(&marketsAllChain, "all-chains", false, "List markets on every chain")
}

func runMarkets(cmd *cobra.Command, args []string) {
	sess, err := newSession(cmd, false)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer sess.Close()

	chainID := sess.cfg.ChainID
	if marketsAllChain {
		chainID = 0
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !sess.jsonOutput {
		s.Suffix = " Fetching markets..."
		s.Start()
	}

	page, err := sess.backend.FetchMarkets(context.Background(), chainID)
	if !sess.jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		return
	}

	filtered := filterMarkets(page.Items, filterSymbol)

	// Output
	if sess.jsonOutput {
		jsonData, _ := json.MarshalIndent(filtered, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayMarkets(filtered)
	}
}

// filterMarkets keeps markets whose base or quote symbol contains symbol
func filterMarkets(items []types.MarketStatsList, symbol string) []types.MarketStatsList {
	if symbol == "" {
		return items
	}
	symbol = strings.ToUpper(symbol)
	var out []types.MarketStatsList
	for _, item := range items {
		pair := item.Market.Pair
		if strings.Contains(strings.ToUpper(pair.BaseToken.Symbol), symbol) ||
			strings.Contains(strings.ToUpper(pair.QuoteToken.Symbol), symbol) ||
			strings.Contains(strings.ToUpper(item.Market.Name), symbol) {
			out = append(out, item)
		}
	}
	return out
}

func displayMarkets(items []types.MarketStatsList) {
	if len(items) == 0 {
		fmt.Println("\nNo markets found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                                  MARKETS")
	fmt.Println(strings.Repeat("=", 90))

	// Group markets by chain
	byChain := make(map[string][]types.MarketStatsList)
	for _, item := range items {
		byChain[item.Market.Chain] = append(byChain[item.Market.Chain], item)
	}

	chains := make([]string, 0, len(byChain))
	for chain := range byChain {
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	for _, chain := range chains {
		color.Cyan("\n%s", strings.ToUpper(chain))
		fmt.Println(strings.Repeat("-", 90))

		for _, item := range byChain[chain] {
			m := item.Market
			status := ""
			if !m.Enabled {
				status = color.HiBlackString(" (disabled)")
			}
			fmt.Printf("  #%-5d %-16s %14s  %s  max %4.1fx  %s%s\n",
				m.ID,
				color.YellowString(m.Name),
				formatPrice(item.TokenStats.PriceUSD),
				coloredChange(item.TokenStats.OneDayChange),
				m.MaxLeverage,
				m.Exchange,
				status,
			)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("Total: %d markets\n\n", len(items))
}

func formatPrice(p float64) string {
	switch {
	case p == 0:
		return "-"
	case p >= 1:
		return fmt.Sprintf("$%.2f", p)
	default:
		return fmt.Sprintf("$%.6f", p)
	}
}

func coloredChange(pct float64) string {
	s := fmt.Sprintf("%+7.2f%%", pct)
	if pct < 0 {
		return color.RedString("%s", s)
	}
	return color.GreenString("%s", s)
}

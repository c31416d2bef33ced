package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"perp-trade/pkg/chain"
	"perp-trade/pkg/client"
	"perp-trade/pkg/explorer"
	"perp-trade/pkg/parser"
	"perp-trade/pkg/types"
)

var (
	positionsAddress       string
	positionsSolanaAddress string
	watchPositions         bool
	watchInterval          int
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Show open positions",
	Long: `Show the open positions of a trader with live PnL. The address defaults
to the one derived from PERP_TRADE_PRIVATE_KEY.

Examples:
  perp-trade positions
  perp-trade positions --address 0x1234...abcd
  perp-trade positions --watch --interval 10`,
	Run: runPositions,
}

func init() {
	rootCmd.AddCommand(positionsCmd)

	positionsCmd.Flags().StringVar(&positionsAddress, "address", "", "EVM trader address")
	positionsCmd.Flags().StringVar(&positionsSolanaAddress, "solana-address", "", "Solana trader address")
	positionsCmd.Flags().BoolVarP(&watchPositions, "watch", "w", false, "Watch positions continuously")
	positionsCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func runPositions(cmd *cobra.Command, args []string) {
	sess, err := newSession(cmd, false)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer sess.Close()

	query, err := positionsQuery(sess)
	if err != nil {
		printError(err)
		return
	}

	if watchPositions {
		watchTraderPositions(sess, query)
	} else {
		checkPositions(sess, query)
	}
}

func positionsQuery(sess *session) (client.PositionsQuery, error) {
	q := client.PositionsQuery{
		Address:         positionsAddress,
		SolanaAddress:   positionsSolanaAddress,
		ChainID:         sess.cfg.ChainID,
		MarkPriceForPnl: true,
	}
	if q.Address != "" {
		if err := types.ValidatePayer(q.Address, 0); err != nil {
			return q, err
		}
	}
	if q.SolanaAddress != "" {
		if err := types.ValidatePayer(q.SolanaAddress, types.SolanaDevnetChainID); err != nil {
			return q, err
		}
	}
	if q.Address == "" && q.SolanaAddress == "" {
		if sess.cfg.PrivateKey == "" {
			return q, fmt.Errorf("no address given. Use --address or set PERP_TRADE_PRIVATE_KEY")
		}
		addr, err := chain.AddressFromKey(sess.cfg.PrivateKey)
		if err != nil {
			return q, err
		}
		q.Address = addr.Hex()
	}
	return q, nil
}

// fetchAllPositions follows nextPageToken until the last page
func fetchAllPositions(ctx context.Context, backend *client.BackendClient, q client.PositionsQuery) ([]types.PositionStatus, error) {
	var all []types.PositionStatus
	for {
		page, err := backend.FetchPositions(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if !page.HasNextPage || page.NextPageToken == "" || page.NextPageToken == q.NextPageToken {
			return all, nil
		}
		q.NextPageToken = page.NextPageToken
	}
}

func checkPositions(sess *session, q client.PositionsQuery) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !sess.jsonOutput {
		s.Suffix = " Fetching positions..."
		s.Start()
	}

	positions, err := fetchAllPositions(context.Background(), sess.backend, q)
	if !sess.jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		return
	}

	if sess.jsonOutput {
		jsonData, _ := json.MarshalIndent(positions, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayPositions(positions, q)
	}
}

func watchTraderPositions(sess *session, q client.PositionsQuery) {
	if sess.jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		return
	}
	if watchInterval < 1 {
		watchInterval = 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("\nWatching positions of %s\n", color.CyanString(traderLabel(q)))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	// Check immediately first
	checkAndDisplayPositions(ctx, sess, q)

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nStopped watching.")
			return
		case <-ticker.C:
			checkAndDisplayPositions(ctx, sess, q)
		}
	}
}

func checkAndDisplayPositions(ctx context.Context, sess *session, q client.PositionsQuery) {
	positions, err := fetchAllPositions(ctx, sess.backend, q)
	if err != nil {
		if ctx.Err() == nil {
			color.Red("Error: %v", err)
		}
		return
	}
	displayPositions(positions, q)
}

func traderLabel(q client.PositionsQuery) string {
	if q.Address != "" {
		return q.Address
	}
	return q.SolanaAddress
}

func displayPositions(positions []types.PositionStatus, q client.PositionsQuery) {
	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                                OPEN POSITIONS")
	fmt.Println(strings.Repeat("=", 90))

	fmt.Printf("\n  Trader:  %s\n", color.CyanString(traderLabel(q)))
	if link := explorer.AddressURL(q.ChainID, q.Address); q.Address != "" && link != "" {
		fmt.Printf("  Explorer: %s\n", color.HiBlackString(link))
	}
	fmt.Printf("  Updated: %s\n", time.Now().Format("2006-01-02 15:04:05"))

	if len(positions) == 0 {
		fmt.Println("\n  No open positions.")
		fmt.Println("\n" + strings.Repeat("=", 90) + "\n")
		return
	}

	fmt.Println(strings.Repeat("-", 90))
	for _, p := range positions {
		quoteDec := uint8(p.Market.Pair.QuoteToken.Decimals)
		quoteSym := p.Market.Pair.QuoteToken.Symbol

		fmt.Printf("  #%-6d %-14s %s  %5.2fx  entry %s  mark %s  liq %s\n",
			p.Position.ID,
			color.YellowString(p.Market.Name),
			coloredSide(p.Position.Side),
			p.Position.Leverage,
			formatPrice(p.Position.EntryPrice),
			formatPrice(p.MarkPrice),
			formatPrice(p.LiquidationPrice),
		)
		fmt.Printf("          value %s %s  pnl %s\n",
			parser.FormatUnits(p.NetValue, quoteDec),
			quoteSym,
			coloredPnL(p.PnLWithFee, quoteDec, quoteSym),
		)
		if p.HasError {
			color.Red("          valuation unavailable")
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("Total: %d positions\n\n", len(positions))
}

func coloredSide(side string) string {
	side = strings.ToUpper(side)
	if side == types.SideShort.Wire() {
		return color.RedString("%-5s", side)
	}
	return color.GreenString("%-5s", side)
}

func coloredPnL(pnl types.Amount, decimals uint8, symbol string) string {
	s := parser.FormatUnits(pnl, decimals) + " " + symbol
	if pnl.Sign() < 0 {
		return color.RedString("%s", s)
	}
	return color.GreenString("+%s", s)
}

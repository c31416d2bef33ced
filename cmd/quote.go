package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"perp-trade/pkg/client"
	"perp-trade/pkg/parser"
	"perp-trade/pkg/types"
)

var quoteDecimals int

var quoteCmd = &cobra.Command{
	Use:   "quote <long|short> <amount> <market> [<leverage>x]",
	Short: "Price a position without opening it",
	Long: `Get the entry price, position size, fees and liquidation price for a
prospective trade. No wallet is needed.

Examples:
  perp-trade quote long 100 WETH/USDC 3x
  perp-trade quote short 0.5 12 2x --slippage 0.5`,
	Args: cobra.MinimumNArgs(3),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().Float64Var(&tradeSlippage, "slippage", 1, "Maximum slippage in percent")
	quoteCmd.Flags().BoolVar(&tradeSpeedUp, "speed-up", false, "Quote with faster execution")
	quoteCmd.Flags().IntVar(&quoteDecimals, "decimals", -1, "Pay-in token decimals (default: the market's quote token)")
}

func runQuote(cmd *cobra.Command, args []string) {
	tradeReq, err := parser.ParseTradeCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	sess, err := newSession(cmd, false)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer sess.Close()

	ctx := context.Background()
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !sess.jsonOutput {
		s.Suffix = " Fetching quote..."
		s.Start()
	}

	quote, market, err := fetchQuote(ctx, sess, tradeReq)
	if !sess.jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		return
	}

	if sess.jsonOutput {
		jsonData, _ := json.MarshalIndent(quote, "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayQuote(quote, market, tradeReq)
}

func fetchQuote(ctx context.Context, sess *session, tradeReq *parser.TradeCommand) (*types.QuoteResponse, *types.Market, error) {
	market, err := sess.backend.FindMarket(ctx, tradeReq.Market, sess.cfg.ChainID)
	if err != nil {
		return nil, nil, err
	}

	decimals := market.Pair.QuoteToken.Decimals
	if quoteDecimals >= 0 {
		decimals = quoteDecimals
	}
	if decimals < 0 || decimals > 255 {
		return nil, nil, fmt.Errorf("invalid token decimals: %d", decimals)
	}
	downPayment, err := parser.ToUnits(tradeReq.Amount, uint8(decimals))
	if err != nil {
		return nil, nil, err
	}
	if downPayment.IsZero() {
		return nil, nil, fmt.Errorf("amount must be greater than 0")
	}

	quote, err := sess.backend.FetchQuote(ctx, client.QuoteRequest{
		MarketID:    market.ID,
		Side:        tradeReq.Side,
		DownPayment: downPayment,
		Leverage:    tradeReq.Leverage,
		MaxSlippage: tradeSlippage,
		SpeedUp:     tradeSpeedUp,
	}, sess.cfg.ChainID)
	if err != nil {
		return nil, nil, err
	}
	return quote, market, nil
}

func displayQuote(quote *types.QuoteResponse, market *types.Market, tradeReq *parser.TradeCommand) {
	quoteDec := uint8(market.Pair.QuoteToken.Decimals)
	baseDec := uint8(market.Pair.BaseToken.Decimals)
	quoteSym := market.Pair.QuoteToken.Symbol
	baseSym := market.Pair.BaseToken.Symbol

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                        QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Market:            %s (#%d)\n", color.CyanString(market.Name), market.ID)
	fmt.Printf("  Side:              %s\n", strings.ToUpper(string(tradeReq.Side)))
	fmt.Printf("  Down Payment:      %s %s\n", tradeReq.Amount.String(), color.YellowString(quoteSym))
	fmt.Printf("  Leverage:          %.2fx\n", tradeReq.Leverage)
	fmt.Printf("  Position Size:     %s %s\n", parser.FormatUnits(quote.OutputSize, baseDec), color.YellowString(baseSym))
	fmt.Printf("  Size in %-9s  %s\n", quoteSym+":", parser.FormatUnits(quote.OutputSizeInQuote, quoteDec))
	fmt.Printf("  Principal:         %s %s\n", parser.FormatUnits(quote.Principal, quoteDec), quoteSym)
	fmt.Printf("  Fee:               %s %s\n", parser.FormatUnits(quote.Fee, quoteDec), quoteSym)
	fmt.Printf("  Entry Price:       %s\n", formatPrice(quote.EntryPrice))
	fmt.Printf("  Liquidation Price: %s\n", color.RedString(formatPrice(quote.LiquidationPrice)))
	if quote.HourlyBorrowFee > 0 {
		fmt.Printf("  Hourly Borrow Fee: %g%%\n", quote.HourlyBorrowFee)
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

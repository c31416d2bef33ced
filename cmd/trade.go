package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"perp-trade/pkg/explorer"
	"perp-trade/pkg/flow"
	"perp-trade/pkg/parser"
	"perp-trade/pkg/types"
)

var (
	tradeSlippage      float64
	tradeSpeedUp       bool
	tradePayIn         string
	tradeApproveAmount string
	noConfirm          bool
)

var tradeCmd = &cobra.Command{
	Use:   "trade <long|short> <amount> <market> [<leverage>x]",
	Short: "Open a leveraged position",
	Long: `Open a long or short position on a perpetual market.

The amount is the down payment in the pay-in token (the market's quote token
unless PERP_TRADE_TOKEN is set). If the trading contract's allowance does not
cover it, an approval transaction is sent first and the trade waits for it to
confirm.

Examples:
  # 3x long paying 100 USDC
  perp-trade trade long 100 WETH/USDC 3x

  # Market by id, tighter slippage, no prompts
  perp-trade trade short 50 12 5x --slippage 0.5 --yes

  # Approve only what this trade needs instead of the maximum
  perp-trade trade long 100 WETH/USDC --approve-amount 100`,
	Args: cobra.MinimumNArgs(3),
	Run:  runTrade,
}

func init() {
	rootCmd.AddCommand(tradeCmd)

	tradeCmd.Flags().Float64Var(&tradeSlippage, "slippage", 1, "Maximum slippage in percent")
	tradeCmd.Flags().BoolVar(&tradeSpeedUp, "speed-up", false, "Ask the backend for faster execution")
	tradeCmd.Flags().StringVar(&tradePayIn, "pay-in", string(types.PayInNative), "Pay-in type (NATIVE, TOKEN or VAULT)")
	tradeCmd.Flags().StringVar(&tradeApproveAmount, "approve-amount", "", "Amount to approve when needed (default: unlimited)")
	tradeCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompts")
}

func runTrade(cmd *cobra.Command, args []string) {
	// Parse the command
	tradeReq, err := parser.ParseTradeCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	payIn, err := types.ParsePayInType(tradePayIn)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	sess, err := newSession(cmd, true)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = executeTrade(ctx, sess, tradeReq, payIn)
	stop()
	sess.Close()

	if err != nil {
		if !sess.jsonOutput {
			printError(err)
		}
		os.Exit(1)
	}
}

func executeTrade(ctx context.Context, sess *session, tradeReq *parser.TradeCommand, payIn types.PayInType) error {
	cfg := sess.cfg
	owner := sess.wallet.Address()
	spender := sess.spender()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !sess.jsonOutput {
		s.Suffix = " Resolving market..."
		s.Start()
	}

	market, err := sess.backend.FindMarket(ctx, tradeReq.Market, cfg.ChainID)
	if err != nil {
		s.Stop()
		return err
	}
	token, err := sess.payInToken(market)
	if err != nil {
		s.Stop()
		return err
	}

	s.Suffix = " Reading balance and allowance..."
	info, err := sess.wallet.TokenInfo(ctx, token, owner)
	if err != nil {
		s.Stop()
		return err
	}
	downPayment, err := parser.ToUnits(tradeReq.Amount, info.Decimals)
	if err != nil {
		s.Stop()
		return err
	}
	tracker := sess.tracker(noConfirm)
	allowanceState := tracker.CheckAllowance(ctx, token, owner, spender, downPayment.Int())
	s.Stop()

	if downPayment.IsZero() {
		return fmt.Errorf("amount %s is below the precision of %s", tradeReq.Amount, info.Symbol)
	}
	if info.Balance.Cmp(downPayment.Int()) < 0 {
		return fmt.Errorf("insufficient balance: have %s %s, need %s",
			parser.FormatUnits(types.NewAmount(info.Balance), info.Decimals), info.Symbol, tradeReq.Amount)
	}
	if market.MaxLeverage > 0 && tradeReq.Leverage > market.MaxLeverage {
		return fmt.Errorf("leverage %.2fx exceeds the market maximum of %.2fx", tradeReq.Leverage, market.MaxLeverage)
	}

	var approveAmount *big.Int
	if tradeApproveAmount != "" {
		amt, err := parser.ParseUnits(tradeApproveAmount, info.Decimals)
		if err != nil {
			return err
		}
		if amt.Int().Cmp(downPayment.Int()) < 0 {
			return fmt.Errorf("approve amount %s does not cover the down payment %s", tradeApproveAmount, tradeReq.Amount)
		}
		approveAmount = amt.Int()
	}

	intent := types.TradeIntent{
		MarketID:    market.ID,
		Side:        tradeReq.Side,
		DownPayment: downPayment,
		Leverage:    tradeReq.Leverage,
		MaxSlippage: tradeSlippage,
		SpeedUp:     tradeSpeedUp,
		PayInType:   payIn,
		Payer:       owner.Hex(),
	}
	if err := intent.Validate(cfg.ChainID); err != nil {
		return err
	}

	needsApproval := !allowanceState.Sufficient()
	if !sess.jsonOutput {
		displayTradeSummary(market, tradeReq, info.Symbol, needsApproval, allowanceState.Known)
	}

	// Ask for confirmation
	if !noConfirm && !cfg.AutoConfirm && !sess.jsonOutput {
		if !confirmPrompt("Proceed with trade") {
			fmt.Println("\nTrade cancelled.")
			return nil
		}
	}

	orchestrator := flow.New(flow.Deps{
		Approver: tracker,
		Orders:   sess.backend,
		Sender:   sess.signer(noConfirm),
		Watcher:  sess.watcher,
		Notifier: sess.notifier(),
		Logger:   sess.log,
	})
	if !sess.jsonOutput {
		orchestrator.OnChange(renderTransition(sess.verbose))
	}

	result, err := orchestrator.Run(ctx, flow.Args{
		ChainID:       cfg.ChainID,
		Owner:         owner,
		Token:         token,
		Spender:       spender,
		ApproveAmount: approveAmount,
		Intent:        intent,
	}, flow.Options{
		NeedsApproval: needsApproval,
		OnSuccess: func(r flow.Result) {
			if !sess.jsonOutput {
				color.Green("\n✓ Position opened!")
				if link := explorer.TxURL(cfg.ChainID, r.TradeHash.Hex()); link != "" {
					fmt.Printf("  View transaction: %s\n", color.CyanString(link))
				}
				fmt.Println("\nYou can follow your positions using:")
				color.Cyan("  perp-trade positions --watch\n")
			}
		},
	})

	if sess.jsonOutput {
		printFlowJSON(orchestrator.State(), cfg.ChainID)
	}
	if err != nil && ctx.Err() != nil {
		interruptNotice(os.Stderr, sess.jsonOutput)
	}
	if err == nil && !sess.jsonOutput && result.ApprovalHash != (common.Hash{}) && sess.verbose {
		fmt.Printf("  Approval tx:      %s\n", result.ApprovalHash.Hex())
	}
	return err
}

// interruptNotice tells the user sent transactions outlive the process.
// JSON output stays machine readable, so nothing is written there.
func interruptNotice(w io.Writer, jsonOutput bool) {
	if jsonOutput {
		return
	}
	color.New(color.FgYellow).Fprintln(w, "\nInterrupted. Transactions already sent keep confirming on chain.")
}

func displayTradeSummary(market *types.Market, tradeReq *parser.TradeCommand, symbol string, needsApproval, allowanceKnown bool) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     TRADE SUMMARY")
	fmt.Println(strings.Repeat("=", 60))

	side := color.GreenString(strings.ToUpper(string(tradeReq.Side)))
	if tradeReq.Side == types.SideShort {
		side = color.RedString(strings.ToUpper(string(tradeReq.Side)))
	}

	fmt.Printf("\n  Market:            %s (#%d)\n", color.CyanString(market.Name), market.ID)
	fmt.Printf("  Side:              %s\n", side)
	fmt.Printf("  Down Payment:      %s %s\n", tradeReq.Amount.String(), color.YellowString(symbol))
	fmt.Printf("  Leverage:          %.2fx\n", tradeReq.Leverage)
	fmt.Printf("  Max Slippage:      %g%%\n", tradeSlippage)
	if tradeSlippage >= 5 {
		color.Yellow("  Slippage of 5%% or more may result in an unfavourable trade")
	}

	switch {
	case !allowanceKnown:
		fmt.Printf("  Approval:          %s\n", color.YellowString("required (allowance could not be read)"))
	case needsApproval:
		fmt.Printf("  Approval:          %s\n", color.YellowString("required"))
	default:
		fmt.Printf("  Approval:          %s\n", color.GreenString("not needed"))
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

// renderTransition prints the steps notifications do not cover
func renderTransition(verbose bool) func(flow.State) {
	return func(st flow.State) {
		switch {
		case st.Step == flow.StepApproval && st.IsPrompting():
			fmt.Println("Requesting approval signature...")
		case st.Step == flow.StepTrade && st.IsPending() && !st.HasTrade():
			fmt.Println("Fetching order from backend...")
		case st.Step == flow.StepTrade && st.IsPrompting():
			fmt.Println("Requesting trade signature...")
		}
		if verbose {
			fmt.Printf("Debug: flow %s\n", st)
		}
	}
}

func printFlowJSON(st flow.State, chainID int64) {
	output := map[string]interface{}{
		"run_id": st.RunID,
		"step":   st.Step.String(),
		"phase":  st.Phase.String(),
		"status": "failed",
	}
	if st.IsSuccess() && st.Done() {
		output["status"] = "confirmed"
	}
	if st.HasApproval() {
		output["approval_hash"] = st.ApprovalHash.Hex()
	}
	if st.HasTrade() {
		output["trade_hash"] = st.TradeHash.Hex()
		if link := explorer.TxURL(chainID, st.TradeHash.Hex()); link != "" {
			output["trade_url"] = link
		}
	}
	if st.ErrorMessage != "" {
		output["error"] = st.ErrorMessage
	}
	jsonData, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(jsonData))
}

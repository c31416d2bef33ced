package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"perp-trade/pkg/chain"
	"perp-trade/pkg/explorer"
	"perp-trade/pkg/parser"
	"perp-trade/pkg/txerr"
	"perp-trade/pkg/types"
)

var (
	approveAmount   string
	approveToken    string
	allowanceNeeded string
)

var approveCmd = &cobra.Command{
	Use:   "approve [market]",
	Short: "Approve the trading contract to spend your pay-in token",
	Long: `Send a standalone ERC-20 approval for the trading contract and wait for
it to confirm. The token is --token, PERP_TRADE_TOKEN, or the quote token of
the named market.

Examples:
  perp-trade approve WETH/USDC
  perp-trade approve --token 0x... --amount 250`,
	Args: cobra.MaximumNArgs(1),
	Run:  runApprove,
}

var allowanceCmd = &cobra.Command{
	Use:   "allowance [market]",
	Short: "Show the trading contract's allowance and your balance",
	Args:  cobra.MaximumNArgs(1),
	Run:   runAllowance,
}

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(allowanceCmd)

	approveCmd.Flags().StringVar(&approveAmount, "amount", "", "Amount to approve (default: unlimited)")
	approveCmd.Flags().StringVar(&approveToken, "token", "", "Token address (overrides the market's quote token)")
	approveCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")

	allowanceCmd.Flags().StringVar(&approveToken, "token", "", "Token address (overrides the market's quote token)")
	allowanceCmd.Flags().StringVar(&allowanceNeeded, "required", "", "Amount to check the allowance against")
}

// resolveToken picks the token for approve/allowance and reads its metadata
func resolveToken(ctx context.Context, sess *session, args []string) (*chain.TokenInfo, error) {
	var token common.Address
	switch {
	case approveToken != "":
		if !common.IsHexAddress(approveToken) {
			return nil, fmt.Errorf("invalid token address: %s", approveToken)
		}
		token = common.HexToAddress(approveToken)
	default:
		var market *types.Market
		if len(args) > 0 {
			m, err := sess.backend.FindMarket(ctx, args[0], sess.cfg.ChainID)
			if err != nil {
				return nil, err
			}
			market = m
		}
		t, err := sess.payInToken(market)
		if err != nil {
			return nil, err
		}
		token = t
	}
	return sess.wallet.TokenInfo(ctx, token, sess.wallet.Address())
}

func runApprove(cmd *cobra.Command, args []string) {
	sess, err := newSession(cmd, true)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = executeApprove(ctx, sess, args)
	stop()
	sess.Close()

	if err != nil {
		if !sess.jsonOutput {
			printError(err)
		}
		os.Exit(1)
	}
}

func executeApprove(ctx context.Context, sess *session, args []string) error {
	info, err := resolveToken(ctx, sess, args)
	if err != nil {
		return err
	}

	amount := new(big.Int).Set(math.MaxBig256)
	display := "unlimited"
	if approveAmount != "" {
		amt, err := parser.ParseUnits(approveAmount, info.Decimals)
		if err != nil {
			return err
		}
		amount = amt.Int()
		display = approveAmount
	}
	spender := sess.spender()

	if !noConfirm && !sess.cfg.AutoConfirm && !sess.jsonOutput {
		fmt.Printf("\n  Token:    %s (%s)\n", color.YellowString(info.Symbol), info.Address.Hex())
		fmt.Printf("  Spender:  %s\n", spender.Hex())
		fmt.Printf("  Amount:   %s\n", display)
		if !confirmPrompt("Send approval") {
			fmt.Println("\nApproval cancelled.")
			return nil
		}
	}

	n := sess.notifier()
	toast := n.Loading("Approval pending…")
	// the prompt already happened above, so the tracker signs directly
	hash, err := sess.tracker(true).Approve(ctx, sess.watcher, info.Address, spender, amount)
	link := ""
	if hash != (common.Hash{}) {
		link = explorer.TxURL(sess.cfg.ChainID, hash.Hex())
	}

	if sess.jsonOutput {
		printApproveJSON(hash, link, err)
	}

	switch {
	case err == nil:
		n.ResolveSuccess(toast, "Approval confirmed", link)
		return nil
	case txerr.IsUserRejected(err):
		n.Dismiss(toast)
		n.Error(txerr.MsgApprovalDeclined)
		return fmt.Errorf("%s", txerr.MsgApprovalDeclined)
	case hash != (common.Hash{}):
		n.ResolveError(toast, txerr.MsgApprovalFailed, link)
		return fmt.Errorf("%s: %s", txerr.MsgApprovalFailed, txerr.ShortMessage(err))
	default:
		n.Dismiss(toast)
		n.Error(txerr.Message(err))
		return err
	}
}

func printApproveJSON(hash common.Hash, link string, err error) {
	output := map[string]interface{}{
		"status": "confirmed",
	}
	if hash != (common.Hash{}) {
		output["hash"] = hash.Hex()
		if link != "" {
			output["url"] = link
		}
	}
	if err != nil {
		output["status"] = "failed"
		output["error"] = txerr.Message(err)
	}
	jsonData, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(jsonData))
}

func runAllowance(cmd *cobra.Command, args []string) {
	sess, err := newSession(cmd, true)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer sess.Close()

	ctx := context.Background()
	info, err := resolveToken(ctx, sess, args)
	if err != nil {
		printError(err)
		return
	}

	required := new(big.Int)
	if allowanceNeeded != "" {
		amt, err := parser.ParseUnits(allowanceNeeded, info.Decimals)
		if err != nil {
			printError(err)
			return
		}
		required = amt.Int()
	}

	state := sess.tracker(true).CheckAllowance(ctx, info.Address, sess.wallet.Address(), sess.spender(), required)

	if sess.jsonOutput {
		output := map[string]interface{}{
			"token":      info.Address.Hex(),
			"symbol":     info.Symbol,
			"decimals":   info.Decimals,
			"balance":    info.Balance.String(),
			"known":      state.Known,
			"sufficient": state.Sufficient(),
		}
		if state.Known {
			output["allowance"] = state.Current.String()
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	fmt.Printf("\n  Token:      %s (%s)\n", color.YellowString(info.Symbol), info.Address.Hex())
	fmt.Printf("  Balance:    %s\n", parser.FormatUnits(types.NewAmount(info.Balance), info.Decimals))
	switch {
	case !state.Known:
		fmt.Printf("  Allowance:  %s\n", color.YellowString("unknown"))
	case state.Current.Cmp(math.MaxBig256) == 0:
		fmt.Printf("  Allowance:  %s\n", color.GreenString("unlimited"))
	default:
		fmt.Printf("  Allowance:  %s\n", parser.FormatUnits(types.NewAmount(state.Current), info.Decimals))
	}
	if allowanceNeeded != "" {
		if state.Sufficient() {
			printSuccess(color.GreenString("✓ Allowance covers %s %s", allowanceNeeded, info.Symbol))
		} else {
			printSuccess(color.YellowString("Approval needed for %s %s", allowanceNeeded, info.Symbol))
		}
		return
	}
	fmt.Println()
}

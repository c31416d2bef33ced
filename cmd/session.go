package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"perp-trade/config"
	"perp-trade/pkg/allowance"
	"perp-trade/pkg/chain"
	"perp-trade/pkg/client"
	"perp-trade/pkg/logger"
	"perp-trade/pkg/notify"
	"perp-trade/pkg/types"
	"perp-trade/pkg/watcher"
)

// session bundles what a command needs: config, logger, backend and,
// for commands that sign, the wallet and receipt watcher
type session struct {
	cfg        *config.Config
	log        *zap.Logger
	backend    *client.BackendClient
	wallet     *chain.Wallet
	watcher    *watcher.Watcher
	verbose    bool
	jsonOutput bool
}

func newSession(cmd *cobra.Command, withWallet bool) (*session, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:        cfg,
		log:        log,
		verbose:    verbose,
		jsonOutput: jsonOutput,
		backend: client.NewBackendClient(client.Options{
			BackendURL:       cfg.BackendURL,
			SolanaBackendURL: cfg.SolanaBackendURL,
			GatewayURL:       cfg.GatewayURL,
			Env:              cfg.Env,
			Logger:           log,
		}),
	}

	if !withWallet {
		return s, nil
	}
	if err := cfg.RequireWallet(); err != nil {
		return nil, err
	}
	if cfg.ChainID == types.SolanaDevnetChainID {
		return nil, fmt.Errorf("signing on chain %d requires a Solana wallet, which is not supported", cfg.ChainID)
	}

	walletCfg := chain.Config{
		RPCURL:     cfg.RPCURL,
		PrivateKey: cfg.PrivateKey,
		ChainID:    cfg.ChainID,
	}
	if cfg.GasPrice > 0 {
		walletCfg.GasPrice = &cfg.GasPrice
	}
	if cfg.GasLimit > 0 {
		walletCfg.GasLimit = &cfg.GasLimit
	}
	s.wallet, err = chain.Dial(walletCfg, log)
	if err != nil {
		return nil, err
	}
	s.watcher = watcher.New(s.wallet, watcher.Options{
		PollInterval: cfg.Confirmation.PollInterval,
		Timeout:      cfg.Confirmation.Timeout,
		MaxErrors:    cfg.Confirmation.MaxErrors,
	}, log)
	return s, nil
}

func (s *session) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.wallet != nil {
		s.wallet.Close()
	}
	_ = s.log.Sync()
}

// signer puts a confirmation prompt in front of the wallet unless the user
// opted out with --yes or auto_confirm
func (s *session) signer(skipConfirm bool) chain.Signer {
	if skipConfirm || s.cfg.AutoConfirm {
		return s.wallet
	}
	return chain.NewConfirmingSigner(s.wallet, confirmPrompt)
}

func (s *session) tracker(skipConfirm bool) *allowance.Tracker {
	return allowance.NewTracker(s.wallet, s.signer(skipConfirm), s.log)
}

func (s *session) notifier() notify.Sink {
	if s.jsonOutput {
		return notify.Nop{}
	}
	return notify.NewConsole(os.Stdout, true)
}

func (s *session) spender() common.Address {
	return common.HexToAddress(s.cfg.Spender)
}

// payInToken is the configured token override, else the market's quote token
func (s *session) payInToken(market *types.Market) (common.Address, error) {
	if s.cfg.Token != "" {
		return common.HexToAddress(s.cfg.Token), nil
	}
	if market == nil {
		return common.Address{}, fmt.Errorf("no token configured. Name a market or set PERP_TRADE_TOKEN")
	}
	addr := market.Pair.QuoteToken.Address
	if addr == "" {
		addr = market.QuoteTokenAddress
	}
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("market %s has no EVM quote token address", market.Name)
	}
	return common.HexToAddress(addr), nil
}

// confirmPrompt asks on stdin; anything but y/yes declines
func confirmPrompt(description string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%s? (y/N): ", description)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

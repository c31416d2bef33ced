package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
)

// DefaultChainID is Sepolia, where the default backend trades
const DefaultChainID int64 = 11155111

// Config holds the application configuration
type Config struct {
	RPCURL     string `mapstructure:"rpc_url"`
	PrivateKey string `mapstructure:"private_key"`
	ChainID    int64  `mapstructure:"chain_id"`
	// Spender is the trading contract allowed to pull the pay-in token
	Spender string `mapstructure:"spender"`
	// Token overrides the pay-in token, which otherwise is the market's quote token
	Token string `mapstructure:"token"`

	BackendURL       string `mapstructure:"backend_url"`
	SolanaBackendURL string `mapstructure:"solana_backend_url"`
	GatewayURL       string `mapstructure:"gateway_url"`
	Env              string `mapstructure:"env"`

	// GasPrice (wei) and GasLimit override node suggestions when non-zero
	GasPrice    int64  `mapstructure:"gas_price"`
	GasLimit    uint64 `mapstructure:"gas_limit"`
	AutoConfirm bool   `mapstructure:"auto_confirm"`

	Confirmation ConfirmationConfig `mapstructure:"confirmation"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ConfirmationConfig controls receipt polling
type ConfirmationConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Timeout bounds how long a transaction may stay pending; 0 waits forever
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxErrors int           `mapstructure:"max_errors"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate checks the settings every command relies on
func (c *Config) Validate() error {
	var err error

	if c.ChainID <= 0 {
		err = multierr.Append(err, errors.New("chain_id must be positive"))
	}
	for key, raw := range map[string]string{
		"backend_url":        c.BackendURL,
		"solana_backend_url": c.SolanaBackendURL,
		"gateway_url":        c.GatewayURL,
	} {
		if e := validateURL(key, raw); e != nil {
			err = multierr.Append(err, e)
		}
	}
	if c.RPCURL != "" {
		if e := validateURL("rpc_url", c.RPCURL); e != nil {
			err = multierr.Append(err, e)
		}
	}
	if c.Spender != "" && !common.IsHexAddress(c.Spender) {
		err = multierr.Append(err, fmt.Errorf("spender %q is not a hex address", c.Spender))
	}
	if c.Token != "" && !common.IsHexAddress(c.Token) {
		err = multierr.Append(err, fmt.Errorf("token %q is not a hex address", c.Token))
	}
	if c.GasPrice < 0 {
		err = multierr.Append(err, errors.New("gas_price must not be negative"))
	}
	if c.Confirmation.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("confirmation.poll_interval must be positive"))
	}
	if c.Confirmation.Timeout < 0 {
		err = multierr.Append(err, errors.New("confirmation.timeout must not be negative"))
	}
	if c.Confirmation.MaxErrors <= 0 {
		err = multierr.Append(err, errors.New("confirmation.max_errors must be positive"))
	}
	switch c.Logging.Encoding {
	case "console", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.encoding %q must be console or json", c.Logging.Encoding))
	}

	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireWallet checks the settings needed to sign and send transactions
func (c *Config) RequireWallet() error {
	var err error
	if c.RPCURL == "" {
		err = multierr.Append(err, errors.New("rpc_url is required. Set PERP_TRADE_RPC_URL or add it to .perp-trade.yaml"))
	}
	if c.PrivateKey == "" {
		err = multierr.Append(err, errors.New("private_key is required. Set PERP_TRADE_PRIVATE_KEY or add it to .perp-trade.yaml"))
	}
	if c.Spender == "" {
		err = multierr.Append(err, errors.New("spender is required. Set PERP_TRADE_SPENDER to the trading contract address"))
	}
	return err
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s %q is not a valid URL", key, raw)
	}
	if !strings.HasPrefix(u.Scheme, "http") && !strings.HasPrefix(u.Scheme, "ws") {
		return fmt.Errorf("%s %q must use http(s) or ws(s)", key, raw)
	}
	return nil
}

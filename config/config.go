package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	configName = ".perp-trade"
	envPrefix  = "PERP_TRADE"
)

var (
	globalConfig *Config
	configFile   string
)

// SetFile makes Load read an explicit config file instead of searching
// $HOME and the working directory
func SetFile(path string) {
	configFile = path
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	// Read from environment variables, e.g. PERP_TRADE_CONFIRMATION_TIMEOUT
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// The config file is optional unless one was named explicitly
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc_url", "")
	v.SetDefault("private_key", "")
	v.SetDefault("chain_id", DefaultChainID)
	v.SetDefault("spender", "")
	v.SetDefault("token", "")

	v.SetDefault("backend_url", "https://backend-sepolia.wasabi.xyz")
	v.SetDefault("solana_backend_url", "https://solana-devnet.wasabi.xyz")
	v.SetDefault("gateway_url", "https://gateway.wasabi.xyz")
	v.SetDefault("env", "test")

	v.SetDefault("gas_price", 0)
	v.SetDefault("gas_limit", 0)
	v.SetDefault("auto_confirm", false)

	v.SetDefault("confirmation.poll_interval", "2s")
	v.SetDefault("confirmation.timeout", "10m")
	v.SetDefault("confirmation.max_errors", 5)

	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.output_paths", []string{"stderr"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}

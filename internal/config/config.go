// Package config defines the keeper's configuration surface: a flat set of
// CLI flags (bound through spf13/cobra/pflag) with POLY_*-prefixed
// environment variable overrides layered on via spf13/viper. There is no
// config file — only the flags and secrets an operator passes when invoking
// the binary.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// GasStrategyKind selects how the keeper obtains the gas price it publishes
// as a metric; the keeper submits no on-chain transactions itself.
type GasStrategyKind string

const (
	GasFixed   GasStrategyKind = "fixed"
	GasStation GasStrategyKind = "station"
	GasWeb3    GasStrategyKind = "web3"
)

// Config is the fully resolved, validated keeper configuration.
type Config struct {
	PrivateKey         string
	RPCURL             string
	CLOBAPIURL         string
	ConditionID        string
	TokenIDA           string
	TokenIDB           string
	FunderAddress      string
	SignatureType      int
	ChainID            int64

	Strategy           string // "amm" | "bands"
	StrategyConfigPath string

	SyncInterval     int // seconds between strategy ticks
	RefreshFrequency int // seconds between order-book refreshes
	ParallelPlacements int

	GasStrategy      GasStrategyKind
	GasStationURL    string
	FixedGasGwei     float64

	MetricsServerPort int

	DryRun bool

	LogLevel  string
	LogFormat string
}

// Defaults returns the baseline values for every optional flag.
func Defaults() Config {
	return Config{
		SignatureType:      0,
		SyncInterval:       30,
		RefreshFrequency:   5,
		ParallelPlacements: 1,
		GasStrategy:        GasFixed,
		MetricsServerPort:  9008,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// BindEnv wires POLY_*-prefixed environment variables as overrides for the
// sensitive fields an operator would rather not pass on a command line
// visible in `ps`.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// ApplyEnvOverrides copies any set POLY_* env vars onto cfg, overriding
// whatever flag value (including an empty default) was parsed.
func ApplyEnvOverrides(cfg *Config, v *viper.Viper) {
	if key := v.GetString("private_key"); key != "" {
		cfg.PrivateKey = key
	}
	if url := v.GetString("rpc_url"); url != "" {
		cfg.RPCURL = url
	}
	if funder := v.GetString("funder_address"); funder != "" {
		cfg.FunderAddress = funder
	}
}

// Validate checks every field the keeper cannot run without. Configuration
// errors are fatal at startup, never silently clamped.
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("config: --private-key is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("config: --rpc-url is required")
	}
	if c.CLOBAPIURL == "" {
		return fmt.Errorf("config: --clob-api-url is required")
	}
	if c.ConditionID == "" {
		return fmt.Errorf("config: --condition-id is required")
	}
	if c.TokenIDA == "" {
		return fmt.Errorf("config: --token-id-a is required")
	}
	if c.TokenIDB == "" {
		return fmt.Errorf("config: --token-id-b is required")
	}
	switch strings.ToLower(c.Strategy) {
	case "amm", "bands":
	default:
		return fmt.Errorf("config: --strategy must be \"amm\" or \"bands\", got %q", c.Strategy)
	}
	if c.StrategyConfigPath == "" {
		return fmt.Errorf("config: --strategy-config is required")
	}
	switch c.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("config: signature type must be one of 0 (EOA), 1 (proxy), 2 (Gnosis Safe)")
	}
	if c.SignatureType != 0 && c.FunderAddress == "" {
		return fmt.Errorf("config: --funder-address is required when signature type is 1 or 2")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("config: --sync-interval must be > 0")
	}
	if c.RefreshFrequency <= 0 {
		return fmt.Errorf("config: --refresh-frequency must be > 0")
	}
	switch c.GasStrategy {
	case GasFixed, GasStation, GasWeb3:
	default:
		return fmt.Errorf("config: --gas-strategy must be one of \"fixed\", \"station\", \"web3\", got %q", c.GasStrategy)
	}
	if c.GasStrategy == GasStation && c.GasStationURL == "" {
		return fmt.Errorf("config: --gas-station-url is required when --gas-strategy=station")
	}
	if c.MetricsServerPort <= 0 || c.MetricsServerPort > 65535 {
		return fmt.Errorf("config: --metrics-server-port out of range: %d", c.MetricsServerPort)
	}
	return nil
}

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"polymarket-mm/internal/config"
)

// buildCommand wires every CLI flag the keeper accepts onto a Config and
// returns the cobra command. Once cobra has parsed argv into that Config,
// RunE applies env overrides, validates it, and passes it to run.
func buildCommand(run func(cfg config.Config) error) *cobra.Command {
	cfg := config.Defaults()
	v := viper.New()
	config.BindEnv(v)

	cmd := &cobra.Command{
		Use:   "keeper",
		Short: "Market-making keeper for a Polymarket binary prediction market",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.ApplyEnvOverrides(&cfg, v)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.PrivateKey, "private-key", "", "hex-encoded wallet private key (required)")
	flags.StringVar(&cfg.RPCURL, "rpc-url", "", "Polygon JSON-RPC endpoint (required)")
	flags.StringVar(&cfg.CLOBAPIURL, "clob-api-url", "https://clob.polymarket.com", "Polymarket CLOB REST base URL")
	flags.StringVar(&cfg.ConditionID, "condition-id", "", "market condition id (required)")
	flags.StringVar(&cfg.TokenIDA, "token-id-a", "", "venue asset id for outcome token A (required)")
	flags.StringVar(&cfg.TokenIDB, "token-id-b", "", "venue asset id for outcome token B (required)")
	flags.StringVar(&cfg.FunderAddress, "funder-address", "", "proxy/Gnosis-Safe funder wallet (required if signature-type != 0)")
	flags.IntVar(&cfg.SignatureType, "signature-type", 0, "order signing scheme: 0=EOA, 1=proxy, 2=Gnosis Safe")
	flags.Int64Var(&cfg.ChainID, "chain-id", 137, "EVM chain id (137 Polygon mainnet, 80002 Amoy testnet)")

	flags.StringVar(&cfg.Strategy, "strategy", "", "pricing strategy: amm or bands (required)")
	flags.StringVar(&cfg.StrategyConfigPath, "strategy-config", "", "path to the strategy's JSON config (required)")

	flags.IntVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "seconds between strategy synchronize ticks")
	flags.IntVar(&cfg.RefreshFrequency, "refresh-frequency", cfg.RefreshFrequency, "seconds between order book refreshes")
	flags.IntVar(&cfg.ParallelPlacements, "parallel-placements", cfg.ParallelPlacements, "max concurrent order place/cancel dispatches")

	flags.StringVar((*string)(&cfg.GasStrategy), "gas-strategy", string(cfg.GasStrategy), "gas pricing strategy: fixed, station, or web3")
	flags.StringVar(&cfg.GasStationURL, "gas-station-url", "", "gas station HTTP endpoint (required if gas-strategy=station)")
	flags.Float64Var(&cfg.FixedGasGwei, "fixed-gas-gwei", 30, "gas price in gwei (used if gas-strategy=fixed)")

	flags.IntVar(&cfg.MetricsServerPort, "metrics-server-port", cfg.MetricsServerPort, "port to serve Prometheus /metrics on")
	flags.BoolVar(&cfg.DryRun, "dry-run", false, "log intended orders instead of placing them")

	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "json or text")

	return cmd
}

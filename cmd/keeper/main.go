// Command keeper runs the market-making keeper: it reconciles this wallet's
// resting orders against a pricing strategy's target quotes for one binary
// prediction market, on a periodic cycle, until terminated.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/engine"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/gas"
	"polymarket-mm/internal/lifecycle"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/internal/onchain"
	"polymarket-mm/internal/pricefeed"
	"polymarket-mm/internal/strategy"
	"polymarket-mm/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	var exitCode int
	cmd := buildCommand(func(cfg config.Config) error {
		exitCode = runKeeper(cfg)
		return nil
	})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 10
	}
	return exitCode
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// runKeeper wires every component together and runs the lifecycle driver to
// completion, returning the process exit code.
func runKeeper(cfg config.Config) int {
	logger := newLogger(cfg)
	ctx := context.Background()

	kind, err := strategy.ParseKind(cfg.Strategy)
	if err != nil {
		logger.Error("startup: invalid strategy", "error", err)
		return 10
	}
	var bandsStrategy *strategy.BandsStrategy
	var ammStrategy *strategy.AMMStrategy
	switch kind {
	case strategy.KindBands:
		bandsStrategy, err = strategy.LoadBandsStrategy(cfg.StrategyConfigPath)
	case strategy.KindAMM:
		ammStrategy, err = strategy.LoadAMMStrategy(cfg.StrategyConfigPath)
	}
	if err != nil {
		logger.Error("startup: loading strategy config", "error", err)
		return 10
	}

	auth, err := exchange.NewAuth(cfg.PrivateKey, cfg.FunderAddress, cfg.ChainID, cfg.SignatureType, exchange.Credentials{})
	if err != nil {
		logger.Error("startup: building auth", "error", err)
		return 10
	}
	client := exchange.NewClient(cfg.CLOBAPIURL, cfg.DryRun, auth, logger)
	exchange.ConfigureTokenIDs(cfg.TokenIDA, cfg.TokenIDB)

	if !cfg.DryRun && !auth.HasL2Credentials() {
		creds, err := client.DeriveAPIKey(ctx)
		if err != nil {
			logger.Error("startup: deriving L2 api key", "error", err)
			return 10
		}
		auth.SetCredentials(*creds)
	}

	tokenIDA, ok := new(big.Int).SetString(cfg.TokenIDA, 10)
	if !ok {
		logger.Error("startup: token-id-a is not a valid integer", "value", cfg.TokenIDA)
		return 10
	}
	tokenIDB, ok := new(big.Int).SetString(cfg.TokenIDB, 10)
	if !ok {
		logger.Error("startup: token-id-b is not a valid integer", "value", cfg.TokenIDB)
		return 10
	}

	ethClient, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		logger.Error("startup: dialing rpc", "error", err)
		return 10
	}
	defer ethClient.Close()

	chainReader, err := onchain.NewReader(ctx, cfg.RPCURL, onchain.USDCAddress, onchain.ConditionalTokensAddress, tokenIDA, tokenIDB)
	if err != nil {
		logger.Error("startup: building chain reader", "error", err)
		return 10
	}
	defer chainReader.Close()
	owner := auth.FunderAddress()

	var gasStrategy gas.Strategy
	switch cfg.GasStrategy {
	case config.GasFixed:
		gasStrategy = gas.NewFixed(cfg.FixedGasGwei)
	case config.GasStation:
		gasStrategy = gas.NewStation(cfg.GasStationURL)
	case config.GasWeb3:
		gasStrategy = gas.NewWeb3(ethClient)
	}

	hooks := engine.Hooks{
		GetOrders: func(ctx context.Context) ([]types.Order, error) {
			return client.GetOrders(ctx, cfg.ConditionID)
		},
		GetBalances: func(ctx context.Context) (types.Balances, error) {
			return chainReader.GetBalances(ctx, owner)
		},
		PlaceOrder: func(ctx context.Context, order types.Order) (types.Order, error) {
			tokenID := cfg.TokenIDA
			if order.Token == types.B {
				tokenID = cfg.TokenIDB
			}
			return client.PlaceOrder(ctx, order, tokenID)
		},
		CancelOrder: func(ctx context.Context, order types.Order) (bool, error) {
			return client.CancelOrder(ctx, order)
		},
		CancelAllOrders: func(ctx context.Context) (bool, error) {
			return client.CancelAllOrders(ctx)
		},
	}
	eng := engine.New(hooks, time.Duration(cfg.RefreshFrequency)*time.Second, cfg.ParallelPlacements, logger)

	feed := pricefeed.New(client, map[types.Token]string{types.A: cfg.TokenIDA, types.B: cfg.TokenIDB}, logger)

	manager, err := strategy.NewManager(kind, bandsStrategy, ammStrategy, eng, feed, logger)
	if err != nil {
		logger.Error("startup: building strategy manager", "error", err)
		return 10
	}

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	go func() {
		if err := metrics.Serve(metricsCtx, cfg.MetricsServerPort); err != nil {
			logger.Error("metrics server exited", "error", err)
		}
	}()

	collector := metrics.GetCollector()

	driver := lifecycle.New(logger).
		WaitFor(func(ctx context.Context) bool {
			bal, err := chainReader.GetBalances(ctx, owner)
			return err == nil && bal.Complete()
		}, 30*time.Second).
		OnStartup(func(ctx context.Context) {
			eng.Start(ctx)
		}).
		Every(time.Duration(cfg.SyncInterval)*time.Second, func(ctx context.Context) {
			started := time.Now()
			manager.Synchronize(ctx)
			collector.RecordSync(cfg.Strategy, float64(time.Since(started).Milliseconds()))

			if price, err := gasStrategy.SuggestGasPrice(ctx); err == nil {
				gwei := new(big.Float).Quo(new(big.Float).SetInt(price), big.NewFloat(1e9))
				gweiFloat, _ := gwei.Float64()
				collector.SetGasPriceGwei(gweiFloat)
			}
		}).
		OnShutdown(func(ctx context.Context) {
			eng.CancelAllOrders(ctx)
			eng.Stop()
		})

	return driver.Run(ctx)
}

package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/book"
	"polymarket-mm/pkg/types"
)

// Kind identifies which pricing strategy is active. It is a closed tagged
// union, not an open interface — the manager dispatches on Kind rather than
// calling through a polymorphic strategy type, per the design's preference
// for a small closed set of variants.
type Kind string

const (
	KindBands Kind = "bands"
	KindAMM   Kind = "amm"
)

// ParseKind is case-insensitive, matching operator-supplied --strategy
// values regardless of capitalization.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "bands":
		return KindBands, nil
	case "amm":
		return KindAMM, nil
	default:
		return "", fmt.Errorf("strategy: unknown kind %q, want \"bands\" or \"amm\"", s)
	}
}

// bandsConfigFile mirrors the JSON schema for a --strategy-config file when
// --strategy=bands: {"bands": [{minMargin, avgMargin, maxMargin, minAmount,
// avgAmount, maxAmount}, ...]}.
type bandsConfigFile struct {
	Bands []struct {
		MinMargin decimal.Decimal `json:"minMargin"`
		AvgMargin decimal.Decimal `json:"avgMargin"`
		MaxMargin decimal.Decimal `json:"maxMargin"`
		MinAmount decimal.Decimal `json:"minAmount"`
		AvgAmount decimal.Decimal `json:"avgAmount"`
		MaxAmount decimal.Decimal `json:"maxAmount"`
	} `json:"bands"`
}

// ammConfigFile mirrors the JSON schema for --strategy=amm.
type ammConfigFile struct {
	PMin          decimal.Decimal `json:"p_min"`
	PMax          decimal.Decimal `json:"p_max"`
	Spread        decimal.Decimal `json:"spread"`
	Delta         decimal.Decimal `json:"delta"`
	Depth         decimal.Decimal `json:"depth"`
	MaxCollateral decimal.Decimal `json:"max_collateral"`
}

// LoadBandsStrategy reads and validates a bands strategy-config file.
func LoadBandsStrategy(path string) (*BandsStrategy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy: reading bands config: %w", err)
	}
	var cfg bandsConfigFile
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("strategy: parsing bands config: %w", err)
	}
	bands := make([]Band, 0, len(cfg.Bands))
	for i, b := range cfg.Bands {
		band, err := NewBand(b.MinMargin, b.AvgMargin, b.MaxMargin, b.MinAmount, b.AvgAmount, b.MaxAmount)
		if err != nil {
			return nil, fmt.Errorf("strategy: band %d: %w", i, err)
		}
		bands = append(bands, band)
	}
	bs, err := NewBands(bands)
	if err != nil {
		return nil, err
	}
	return NewBandsStrategy(bs), nil
}

// LoadAMMStrategy reads and validates an amm strategy-config file.
func LoadAMMStrategy(path string) (*AMMStrategy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy: reading amm config: %w", err)
	}
	var cfg ammConfigFile
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("strategy: parsing amm config: %w", err)
	}
	ammCfg := AMMConfig{
		PMin: cfg.PMin, PMax: cfg.PMax, Spread: cfg.Spread,
		Delta: cfg.Delta, Depth: cfg.Depth, MaxCollateral: cfg.MaxCollateral,
	}
	return NewAMMStrategy(NewAMMManager(ammCfg)), nil
}

// Reconciler is the subset of the reconciliation engine the manager drives.
type Reconciler interface {
	GetOrderBook(ctx context.Context) book.OrderBook
	PlaceOrders(ctx context.Context, orders []types.Order)
	CancelOrders(ctx context.Context, orders []types.Order)
}

// PriceFeed supplies the target mid for a token.
type PriceFeed interface {
	GetPrice(ctx context.Context, token types.Token) (decimal.Decimal, error)
}

// Manager is the C6 dispatcher: on each tick it reads the order book and
// token prices, delegates to whichever strategy is configured, and issues
// the resulting cancels then places.
type Manager struct {
	kind    Kind
	bands   *BandsStrategy
	amm     *AMMStrategy
	engine  Reconciler
	prices  PriceFeed
	logger  *slog.Logger
}

// NewManager builds a Manager wired to exactly one of bands or amm,
// matching kind.
func NewManager(kind Kind, bands *BandsStrategy, amm *AMMStrategy, engine Reconciler, prices PriceFeed, logger *slog.Logger) (*Manager, error) {
	switch kind {
	case KindBands:
		if bands == nil {
			return nil, fmt.Errorf("strategy: kind=bands requires a BandsStrategy")
		}
	case KindAMM:
		if amm == nil {
			return nil, fmt.Errorf("strategy: kind=amm requires an AMMStrategy")
		}
	default:
		return nil, fmt.Errorf("strategy: unknown kind %q", kind)
	}
	return &Manager{kind: kind, bands: bands, amm: amm, engine: engine, prices: prices, logger: logger}, nil
}

// Synchronize runs one tick. It is the function registered with the
// lifecycle driver's periodic timer.
func (m *Manager) Synchronize(ctx context.Context) {
	ob := m.engine.GetOrderBook(ctx)

	// Skip the tick entirely if any balance is missing, or if every balance
	// reads zero (nothing useful could be computed either way).
	if !ob.Balances.Complete() || ob.Balances.AllZero() {
		m.logger.Warn("skipping tick: balances incomplete or all zero", "balances", ob.Balances)
		return
	}

	priceA, err := m.prices.GetPrice(ctx, types.A)
	if err != nil {
		m.logger.Error("strategy: get_price failed", "token", types.A, "error", err)
		return
	}
	priceA = priceA.Round(2)
	priceB := decimal.NewFromInt(1).Sub(priceA)
	targets := map[types.Token]decimal.Decimal{types.A: priceA, types.B: priceB}

	var toCancel, toPlace []types.Order
	switch m.kind {
	case KindBands:
		toCancel, toPlace = m.bands.GetOrders(ob, targets)
	case KindAMM:
		toCancel, toPlace = m.amm.GetOrders(ob, targets)
	}

	if len(toCancel) > 0 {
		m.logger.Info("cancelling orders", "count", len(toCancel))
		m.engine.CancelOrders(ctx, toCancel)
	}
	if len(toPlace) > 0 {
		m.logger.Info("placing orders", "count", len(toPlace))
		m.engine.PlaceOrders(ctx, toPlace)
	}
}

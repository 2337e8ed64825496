// Package pricefeed resolves the target price the strategy manager prices
// its quotes against, preferring the venue's own midpoint and falling back
// to a small random perturbation around an even-money price when the
// midpoint call fails — a closed market or a transient API outage should
// degrade the keeper's quoting, not stop it.
package pricefeed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// MidpointGetter is the subset of exchange.Client this package depends on.
type MidpointGetter interface {
	GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// fallbackSpread bounds the random perturbation applied around 0.5 when the
// venue midpoint is unavailable: prices are drawn from [0.5-spread, 0.5+spread].
const fallbackSpread = 0.02

// Feed resolves GetPrice(token) to a value in (0, 1) for the strategy
// manager, given this market's per-token venue asset ids.
type Feed struct {
	client   MidpointGetter
	tokenIDs map[types.Token]string
	logger   *slog.Logger
	rand     func() float64
}

// New builds a Feed over client, with tokenIDs mapping each outcome token to
// its on-venue asset id.
func New(client MidpointGetter, tokenIDs map[types.Token]string, logger *slog.Logger) *Feed {
	return &Feed{client: client, tokenIDs: tokenIDs, logger: logger, rand: rand.Float64}
}

// GetPrice returns the current target price for token, in (0, 1). If the
// venue midpoint call fails, a random price near 0.5 is returned instead of
// propagating the error — the caller (Synchronize) cannot act on an error
// here any more usefully than on a perturbed guess, and a guess keeps the
// keeper quoting through a blip instead of going silent.
func (f *Feed) GetPrice(ctx context.Context, token types.Token) (decimal.Decimal, error) {
	tokenID, ok := f.tokenIDs[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("pricefeed: no asset id configured for token %s", token)
	}

	mid, err := f.client.GetMidpoint(ctx, tokenID)
	if err != nil {
		f.logger.Warn("pricefeed: midpoint fetch failed, falling back to perturbed 0.5", "token", token, "error", err)
		return f.fallbackPrice(), nil
	}
	if !mid.IsPositive() || mid.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		f.logger.Warn("pricefeed: midpoint out of (0,1) range, falling back", "token", token, "midpoint", mid)
		return f.fallbackPrice(), nil
	}
	return mid, nil
}

func (f *Feed) fallbackPrice() decimal.Decimal {
	offset := (f.rand()*2 - 1) * fallbackSpread
	return decimal.NewFromFloat(0.5 + offset).Round(2)
}

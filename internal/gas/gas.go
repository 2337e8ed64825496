// Package gas suggests a gas price via one of three interchangeable
// strategies selected by --gas-strategy: a fixed price, Polygon's public gas
// station, or the RPC node's own suggestion. The keeper publishes the
// suggestion as a metric on each sync tick; it submits no on-chain
// transactions itself.
package gas

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-resty/resty/v2"
)

// Strategy returns the gas price (in wei) to use for the next transaction.
type Strategy interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Fixed always returns the same configured price.
type Fixed struct {
	priceWei *big.Int
}

// NewFixed builds a Fixed strategy from a gwei price.
func NewFixed(gwei float64) *Fixed {
	wei := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9))
	price, _ := wei.Int(nil)
	return &Fixed{priceWei: price}
}

func (f *Fixed) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.priceWei), nil
}

// stationResponse is Polygon gas station's published response shape:
// https://gasstation.polygon.technology/v2 returns fee estimates in gwei
// under "fast"/"standard"/"safeLow" tiers; we price against the "fast"
// tier's maxFee.
type stationResponse struct {
	Fast struct {
		MaxFee float64 `json:"maxFee"`
	} `json:"fast"`
}

// Station polls a gas station HTTP endpoint (e.g. Polygon's) for a
// community-reported fast-tier price.
type Station struct {
	http *resty.Client
	url  string
}

// NewStation builds a Station strategy polling url on each SuggestGasPrice
// call.
func NewStation(url string) *Station {
	return &Station{
		http: resty.New().SetTimeout(5 * time.Second),
		url:  url,
	}
}

func (s *Station) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var result stationResponse
	resp, err := s.http.R().SetContext(ctx).SetResult(&result).Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("gas station: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("gas station: status %d", resp.StatusCode())
	}
	gwei := big.NewFloat(result.Fast.MaxFee)
	wei := new(big.Float).Mul(gwei, big.NewFloat(1e9))
	price, _ := wei.Int(nil)
	return price, nil
}

// Web3 defers to the RPC node's own eth_gasPrice suggestion.
type Web3 struct {
	client *ethclient.Client
}

// NewWeb3 wraps an already-dialed ethclient.Client.
func NewWeb3(client *ethclient.Client) *Web3 {
	return &Web3{client: client}
}

func (w *Web3) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return price, nil
}

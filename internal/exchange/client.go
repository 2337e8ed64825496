// Package exchange implements the Polymarket CLOB REST client the keeper
// drives through the reconciliation engine's Hooks.
//
//   - GetOrders:         GET    /data/orders       — this market's resting orders
//   - PlaceOrder:        POST   /order             — place a single signed order
//   - CancelOrder:       DELETE /order              — cancel one order by id
//   - CancelAllOrders:   DELETE /cancel-all         — cancel every open order
//   - GetMidpoint:       GET    /midpoint           — current midpoint for a token
//
// Every request is automatically retried on transport and 5xx errors. The
// five calls above are rate-limited via per-category TokenBuckets, and all
// but the public midpoint read are authenticated with L2 HMAC headers.
// DeriveAPIKey uses L1 headers and is not rate-limited.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// Client is the Polymarket CLOB REST API client consumed by the
// reconciliation engine and the price feed.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry, pointed at
// baseURL.
func NewClient(baseURL string, dryRun bool, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: dryRun,
		logger: logger,
	}
}

// GetOrders fetches every resting order this wallet has open on conditionID.
// Size on each returned order is the remaining, unmatched size.
func (c *Client) GetOrders(ctx context.Context, conditionID string) ([]types.Order, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}
	headers, err := c.auth.L2Headers(http.MethodGet, "/data/orders", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var raw []types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("market", conditionID).
		SetResult(&raw).
		Get("/data/orders")
	if err != nil {
		return nil, fmt.Errorf("get_orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get_orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.Order, 0, len(raw))
	for _, o := range raw {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			return nil, fmt.Errorf("get_orders: parsing price %q: %w", o.Price, err)
		}
		original, err := decimal.NewFromString(o.OriginalSize)
		if err != nil {
			return nil, fmt.Errorf("get_orders: parsing original_size %q: %w", o.OriginalSize, err)
		}
		matched := decimal.Zero
		if o.SizeMatched != "" {
			matched, err = decimal.NewFromString(o.SizeMatched)
			if err != nil {
				return nil, fmt.Errorf("get_orders: parsing size_matched %q: %w", o.SizeMatched, err)
			}
		}
		out = append(out, types.Order{
			ID:    o.ID,
			Price: price,
			Size:  original.Sub(matched),
			Side:  types.Side(o.Side),
			Token: tokenForAssetID(o.AssetID),
		})
	}
	return out, nil
}

// tokenForAssetID maps a venue asset id to the keeper's Token. The actual
// asset-id -> token assignment is installed at startup in assetIDToToken by
// ConfigureTokenIDs; an asset id that is not registered maps to A.
var assetIDToToken = map[string]types.Token{}

// ConfigureTokenIDs registers which on-venue asset ids correspond to A and B
// for this market, so GetOrders can label returned orders correctly.
func ConfigureTokenIDs(tokenA, tokenB string) {
	assetIDToToken = map[string]types.Token{tokenA: types.A, tokenB: types.B}
}

func tokenForAssetID(assetID string) types.Token {
	if t, ok := assetIDToToken[assetID]; ok {
		return t
	}
	return types.A
}

// PlaceOrder signs and places a single order, returning it populated with
// the venue-assigned id on success. An empty ID with a nil error means the
// venue rejected the order; its ErrorMsg is logged as a warning.
func (c *Client) PlaceOrder(ctx context.Context, order types.Order, tokenID string) (types.Order, error) {
	if c.dryRun {
		order.ID = fmt.Sprintf("dry-run-%s-%s-%s", order.Token, order.Side, order.Price)
		c.logger.Info("dry-run: would place order", "price", order.Price, "size", order.Size, "side", order.Side, "token", order.Token)
		return order, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return order, err
	}

	tickSize := types.Tick001
	makerAmt, takerAmt := PriceToAmounts(order.Price, order.Size, order.Side, tickSize)
	signed := types.SignedOrder{
		Maker:         c.auth.FunderAddress().Hex(),
		Signer:        c.auth.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Side:          order.Side,
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: c.auth.sigType,
	}
	payload := types.OrderPayload{Order: signed, Owner: c.auth.creds.ApiKey, OrderType: "GTC"}

	body, err := json.Marshal(payload)
	if err != nil {
		return order, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers(http.MethodPost, "/order", string(body))
	if err != nil {
		return order, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return order, fmt.Errorf("place_order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return order, fmt.Errorf("place_order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		c.logger.Warn("place_order rejected", "error", result.ErrorMsg)
		return order, nil
	}

	order.ID = result.OrderID
	return order, nil
}

// CancelOrder cancels a single order by id. A nil orderID is a no-op that
// reports success: the order was never placed, so there is nothing to
// cancel.
func (c *Client) CancelOrder(ctx context.Context, order types.Order) (bool, error) {
	if order.ID == "" {
		return true, nil
	}
	if c.dryRun {
		c.logger.Info("dry-run: would cancel order", "id", order.ID)
		return true, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return false, err
	}

	payload := struct {
		OrderID string `json:"orderID"`
	}{OrderID: order.ID}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal cancel request: %w", err)
	}
	headers, err := c.auth.L2Headers(http.MethodDelete, "/order", string(body))
	if err != nil {
		return false, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		SetResult(&result).
		Delete("/order")
	if err != nil {
		return false, fmt.Errorf("cancel_order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("cancel_order: status %d: %s", resp.StatusCode(), resp.String())
	}
	for _, id := range result.Canceled {
		if id == order.ID {
			return true, nil
		}
	}
	return false, nil
}

// CancelAllOrders cancels every open order across the whole account.
func (c *Client) CancelAllOrders(ctx context.Context) (bool, error) {
	if c.dryRun {
		c.logger.Info("dry-run: would cancel all orders")
		return true, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return false, err
	}

	headers, err := c.auth.L2Headers(http.MethodDelete, "/cancel-all", "")
	if err != nil {
		return false, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return false, fmt.Errorf("cancel_all_orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("cancel_all_orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return true, nil
}

// GetMidpoint fetches the current midpoint price for tokenID.
func (c *Client) GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	var result types.MidpointResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/midpoint")
	if err != nil {
		return decimal.Zero, fmt.Errorf("get_midpoint: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("get_midpoint: status %d: %s", resp.StatusCode(), resp.String())
	}
	return decimal.NewFromString(result.Mid)
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}

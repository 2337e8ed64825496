// Package types defines the shared vocabulary for the keeper — the order
// model the reconciliation engine and strategies operate on, and the wire
// structures exchanged with the CLOB REST API. It has no dependencies on
// other internal packages so any layer can import it.
package types

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Token is the closed enumeration of outcome tokens in a binary market, plus
// the Collateral sentinel for the funding asset. p(A) + p(B) = 1 always.
type Token string

const (
	A          Token = "A"
	B          Token = "B"
	Collateral Token = "COLLATERAL"
)

// Complement returns the other outcome token. Complement is undefined for
// Collateral and panics if called on it — Collateral never participates in
// a band/grid side computation.
func (t Token) Complement() Token {
	switch t {
	case A:
		return B
	case B:
		return A
	default:
		panic("types: Complement called on non-outcome token " + string(t))
	}
}

// Tokens enumerates the two outcome tokens in iteration order. Collateral is
// deliberately excluded — callers that need all three balance keys use
// Balances directly.
var Tokens = [2]Token{A, B}

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize represents the price granularity for a market. The keeper only
// ever quantizes to Tick001 (0.01), the tick PlaceOrder passes to
// PriceToAmounts; the other sizes are defined with their decimal mappings
// but no caller in the keeper uses them.
type TickSize string

const (
	Tick01    TickSize = "0.1"
	Tick001   TickSize = "0.01"
	Tick0001  TickSize = "0.001"
	Tick00001 TickSize = "0.0001"
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// ————————————————————————————————————————————————————————————————————————
// Fixed-point constants
// ————————————————————————————————————————————————————————————————————————

// Tick is the minimum price increment: 0.01.
var Tick = decimal.NewFromFloat(0.01)

// MinSize is the venue's minimum order size.
var MinSize = decimal.NewFromInt(15)

// RoundDownTick truncates d to the 0.01 tick, rounding toward zero.
func RoundDownTick(d decimal.Decimal) decimal.Decimal {
	return d.DivRound(Tick, 8).Truncate(0).Mul(Tick)
}

// ————————————————————————————————————————————————————————————————————————
// Order model (C1)
// ————————————————————————————————————————————————————————————————————————

// Order is the keeper's core order value. Price and Size are quantized
// rationals; ID is the venue-assigned identifier and is empty before the
// order has been placed.
type Order struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	Side  Side
	Token Token
	ID    string
}

// OrderKind is the (price, side, token) triple that identifies interchangeable
// orders for reconciliation: two orders of the same kind are additive in size.
type OrderKind struct {
	Price string // decimal.Decimal.String(), canonical for map-key use
	Side  Side
	Token Token
}

// Kind returns the reconciliation identity of the order.
func (o Order) Kind() OrderKind {
	return OrderKind{Price: o.Price.String(), Side: o.Side, Token: o.Token}
}

// Balances is a snapshot mapping exactly {Collateral, A, B} to non-negative
// rationals. Balances are never mutated in place — strategies that need to
// decrement a working balance make a local copy.
type Balances map[Token]decimal.Decimal

// Clone returns a shallow copy safe for local mutation by a strategy.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Complete reports whether all three required keys are present.
func (b Balances) Complete() bool {
	_, hasC := b[Collateral]
	_, hasA := b[A]
	_, hasB := b[B]
	return hasC && hasA && hasB
}

// AllZero reports whether every balance is exactly zero.
func (b Balances) AllZero() bool {
	for _, v := range b {
		if !v.IsZero() {
			return false
		}
	}
	return true
}

// ————————————————————————————————————————————————————————————————————————
// CLOB wire structures
// ————————————————————————————————————————————————————————————————————————

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are 6-decimal USDC-scaled integers.
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens.
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC.
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`
	Signer        string        `json:"signer"`
	Taker         string        `json:"taker"`
	TokenID       string        `json:"tokenId"`
	MakerAmount   *big.Int      `json:"makerAmount"`
	TakerAmount   *big.Int      `json:"takerAmount"`
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`
	Nonce         string        `json:"nonce"`
	FeeRateBps    string        `json:"feeRateBps"`
	SignatureType SignatureType `json:"signatureType"`
	Signature     string        `json:"signature"`
}

// OrderPayload is the REST request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

// OrderResponse is the REST response for a placed order.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// OpenOrder represents a live resting order on the CLOB, as returned by
// GET /data/orders. Size is the remaining (unmatched) size.
type OpenOrder struct {
	ID           string `json:"id"`
	Market       string `json:"market"` // condition ID
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// CancelResponse is returned by DELETE /order, /cancel-all.
type CancelResponse struct {
	Canceled []string `json:"canceled"`
}

// MidpointResponse is the REST response for GET /midpoint.
type MidpointResponse struct {
	Mid string `json:"mid"`
}

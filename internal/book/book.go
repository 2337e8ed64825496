// Package book defines the immutable order-book snapshot the reconciliation
// engine publishes and strategies consume.
package book

import (
	"polymarket-mm/pkg/types"
)

// OrderBook is an immutable tuple of (orders, balances, in-flight flags).
// OrdersBeingPlaced and OrdersBeingCancelled are true iff at least one
// operation of that kind is currently in flight; they gate new placements.
type OrderBook struct {
	Orders               []types.Order
	Balances             types.Balances
	OrdersBeingPlaced    bool
	OrdersBeingCancelled bool
}

// New builds a snapshot. orders is copied defensively so callers cannot
// mutate the published snapshot after the fact.
func New(orders []types.Order, balances types.Balances, placing, cancelling bool) OrderBook {
	cp := make([]types.Order, len(orders))
	copy(cp, orders)
	return OrderBook{
		Orders:               cp,
		Balances:             balances,
		OrdersBeingPlaced:    placing,
		OrdersBeingCancelled: cancelling,
	}
}

// ByToken returns the subset of orders for a single token.
func (ob OrderBook) ByToken(token types.Token) []types.Order {
	var out []types.Order
	for _, o := range ob.Orders {
		if o.Token == token {
			out = append(out, o)
		}
	}
	return out
}

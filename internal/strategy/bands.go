// Package strategy implements the two pricing strategies (bands, amm) and
// the manager that dispatches between them.
package strategy

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/book"
	"polymarket-mm/pkg/types"
)

// Band is one margin/amount tier around a target price. A band "includes" an
// order whose normalized price falls in (MinPrice, MaxPrice] for the given
// target price — sell prices are normalized to the buy side via 1 - price so
// a single band definition covers both sides of the market.
type Band struct {
	MinMargin decimal.Decimal
	AvgMargin decimal.Decimal
	MaxMargin decimal.Decimal
	MinAmount decimal.Decimal
	AvgAmount decimal.Decimal
	MaxAmount decimal.Decimal
}

// NewBand validates and constructs a Band. It returns an error rather than
// panicking because bands are loaded from an operator-supplied JSON file at
// startup, where a configuration mistake should be fatal, not silent.
func NewBand(minMargin, avgMargin, maxMargin, minAmount, avgAmount, maxAmount decimal.Decimal) (Band, error) {
	if minMargin.GreaterThan(avgMargin) || avgMargin.GreaterThan(maxMargin) {
		return Band{}, fmt.Errorf("strategy: band margins out of order: min=%s avg=%s max=%s", minMargin, avgMargin, maxMargin)
	}
	if minMargin.GreaterThanOrEqual(maxMargin) {
		return Band{}, fmt.Errorf("strategy: band min_margin must be strictly less than max_margin: %s >= %s", minMargin, maxMargin)
	}
	if minAmount.GreaterThan(avgAmount) || avgAmount.GreaterThan(maxAmount) {
		return Band{}, fmt.Errorf("strategy: band amounts out of order: min=%s avg=%s max=%s", minAmount, avgAmount, maxAmount)
	}
	return Band{
		MinMargin: minMargin, AvgMargin: avgMargin, MaxMargin: maxMargin,
		MinAmount: minAmount, AvgAmount: avgAmount, MaxAmount: maxAmount,
	}, nil
}

func applyMargin(price, margin decimal.Decimal) decimal.Decimal {
	return price.Sub(margin).Round(2)
}

// MinPrice, MaxPrice, BuyPrice and SellPrice are all relative to a target
// price t for the token this band's orders are denominated in.
func (b Band) MinPrice(target decimal.Decimal) decimal.Decimal {
	return applyMargin(target, b.MaxMargin)
}

func (b Band) MaxPrice(target decimal.Decimal) decimal.Decimal {
	return applyMargin(target, b.MinMargin)
}

func (b Band) BuyPrice(target decimal.Decimal) decimal.Decimal {
	return applyMargin(target, b.AvgMargin)
}

// SellPrice mirrors BuyPrice across the 1-price normalization: a sell order
// at (1-t)+avgMargin includes into this band exactly like a buy at t-avgMargin.
func (b Band) SellPrice(target decimal.Decimal) decimal.Decimal {
	return applyMargin(decimal.NewFromInt(1).Sub(target), b.AvgMargin.Neg())
}

// normalizedPrice maps a BUY order's own price, or a SELL order's price
// reflected through 1-price, onto the same axis the band's Min/MaxPrice live on.
func normalizedPrice(o types.Order) decimal.Decimal {
	if o.Side == types.SELL {
		return decimal.NewFromInt(1).Sub(o.Price).Round(2)
	}
	return o.Price
}

// Includes reports whether order belongs to this band for the given target.
func (b Band) Includes(o types.Order, target decimal.Decimal) bool {
	p := normalizedPrice(o)
	min, max := b.MinPrice(target), b.MaxPrice(target)
	return p.GreaterThan(min) && p.LessThanOrEqual(max)
}

// ExcessiveOrders returns, in cancellation order, the orders that must be
// cancelled to bring this band's total size back within MaxAmount.
//
// The sort order is position-dependent: the first band cancels the order
// farthest from the target price first (it is least useful to the spread),
// the last band cancels the closest first (least useful at the tail), and
// every interior band cancels its largest order first (reduces total size
// fastest).
func (b Band) ExcessiveOrders(orders []types.Order, target decimal.Decimal, isFirst, isLast bool) []types.Order {
	var inBand []types.Order
	for _, o := range orders {
		if b.Includes(o, target) {
			inBand = append(inBand, o)
		}
	}

	switch {
	case isFirst:
		sort.SliceStable(inBand, func(i, j int) bool {
			return distance(inBand[i], target).GreaterThan(distance(inBand[j], target))
		})
	case isLast:
		sort.SliceStable(inBand, func(i, j int) bool {
			return distance(inBand[i], target).LessThan(distance(inBand[j], target))
		})
	default:
		sort.SliceStable(inBand, func(i, j int) bool {
			return inBand[i].Size.GreaterThan(inBand[j].Size)
		})
	}

	total := decimal.Zero
	for _, o := range inBand {
		total = total.Add(o.Size)
	}

	var toCancel []types.Order
	i := 0
	for total.GreaterThan(b.MaxAmount) && i < len(inBand) {
		toCancel = append(toCancel, inBand[i])
		total = total.Sub(inBand[i].Size)
		i++
	}
	return toCancel
}

func distance(o types.Order, target decimal.Decimal) decimal.Decimal {
	return normalizedPrice(o).Sub(target).Abs()
}

// Bands is an ordered, non-overlapping sequence of Band.
type Bands struct {
	bands []Band
}

// NewBands validates non-overlap and constructs a Bands sequence. Two bands
// overlap if their margin ranges [MinMargin, MaxMargin) intersect.
func NewBands(bands []Band) (*Bands, error) {
	for i, a := range bands {
		overlaps := 0
		for _, b := range bands {
			if a.MinMargin.LessThan(b.MaxMargin) && b.MinMargin.LessThan(a.MaxMargin) {
				overlaps++
			}
		}
		if overlaps > 1 {
			return nil, fmt.Errorf("strategy: band %d overlaps with another band", i)
		}
	}
	return &Bands{bands: bands}, nil
}

// virtualBand pairs a Band with the (possibly clamped) target price it
// should use this tick.
type virtualBand struct {
	band   Band
	target decimal.Decimal
}

// calculateVirtualBands drops bands whose MaxPrice would be non-positive at
// this target, and clamps AvgMargin (via a locally adjusted copy, never
// mutating the stored Band) so BuyPrice never goes to or below zero — it is
// pinned to exactly one tick above zero instead.
func (bs *Bands) calculateVirtualBands(target decimal.Decimal) []virtualBand {
	if !target.IsPositive() {
		return nil
	}
	out := make([]virtualBand, 0, len(bs.bands))
	for _, b := range bs.bands {
		if !b.MaxPrice(target).IsPositive() {
			continue
		}
		if !b.BuyPrice(target).IsPositive() {
			b.AvgMargin = target.Sub(types.Tick)
		}
		out = append(out, virtualBand{band: b, target: target})
	}
	return out
}

// CancellableOrders returns every order that should be cancelled this tick:
// orders in excess of their band's MaxAmount, plus any order that falls
// outside every band entirely. If target is nil (no price available), every
// order is cancellable.
func (bs *Bands) CancellableOrders(orders []types.Order, target *decimal.Decimal) []types.Order {
	if target == nil {
		out := make([]types.Order, len(orders))
		copy(out, orders)
		return out
	}

	virtual := bs.calculateVirtualBands(*target)
	var toCancel []types.Order
	for i, vb := range virtual {
		toCancel = append(toCancel, vb.band.ExcessiveOrders(orders, vb.target, i == 0, i == len(virtual)-1)...)
	}

	for _, o := range orders {
		included := false
		for _, vb := range virtual {
			if vb.band.Includes(o, vb.target) {
				included = true
				break
			}
		}
		if !included {
			toCancel = append(toCancel, o)
		}
	}
	return toCancel
}

// isValidOrder enforces 0 < price < 1 and size >= MinSize.
func isValidOrder(price, size decimal.Decimal) bool {
	return price.IsPositive() && price.LessThan(decimal.NewFromInt(1)) && size.GreaterThanOrEqual(types.MinSize)
}

// NewOrders computes replenishment orders for buyToken given the band's
// current occupancy. A band only replenishes at all once its total resting
// size falls below MinAmount; once triggered, it first tries to fill a sell
// order (on the complement token) up to AvgAmount, then a buy order (on
// buyToken) with whatever of AvgAmount remains — sell first, since a sell's
// proceeds are not itself used to fund the buy, but the two draw from the
// same per-band amount budget so selling reduces the buy's headroom within
// the band. A band already at or above MinAmount is left alone.
func (bs *Bands) NewOrders(orders []types.Order, collateralBalance, tokenBalance, target decimal.Decimal, buyToken types.Token) []types.Order {
	sellToken := buyToken.Complement()
	virtual := bs.calculateVirtualBands(target)

	var result []types.Order
	for _, vb := range virtual {
		bandAmount := decimal.Zero
		for _, o := range orders {
			if vb.band.Includes(o, vb.target) {
				bandAmount = bandAmount.Add(o.Size)
			}
		}

		if bandAmount.LessThan(vb.band.MinAmount) {
			sellPrice := vb.band.SellPrice(vb.target)
			sellSize := decimal.Min(vb.band.AvgAmount.Sub(bandAmount), tokenBalance).Round(2)
			if isValidOrder(sellPrice, sellSize) {
				result = append(result, types.Order{Price: sellPrice, Size: sellSize, Side: types.SELL, Token: sellToken})
				bandAmount = bandAmount.Add(sellSize)
				tokenBalance = tokenBalance.Sub(sellSize)
			}

			if bandAmount.LessThan(vb.band.AvgAmount) {
				buyPrice := vb.band.BuyPrice(vb.target)
				var buySize decimal.Decimal
				if buyPrice.IsPositive() {
					buySize = decimal.Min(vb.band.AvgAmount.Sub(bandAmount), collateralBalance.Div(buyPrice)).Round(2)
				}
				if isValidOrder(buyPrice, buySize) {
					result = append(result, types.Order{Price: buyPrice, Size: buySize, Side: types.BUY, Token: buyToken})
					bandAmount = bandAmount.Add(buySize)
					collateralBalance = collateralBalance.Sub(buySize.Mul(buyPrice))
				}
			}
		}
	}
	return result
}

// BandsStrategy is the C4 pricing strategy: place and cancel orders to keep
// each token's book within its configured bands around the token's target
// price.
type BandsStrategy struct {
	Bands *Bands
}

// NewBandsStrategy builds a BandsStrategy from validated bands.
func NewBandsStrategy(bands *Bands) *BandsStrategy {
	return &BandsStrategy{Bands: bands}
}

// ordersForBuyToken returns the subset of orders that are either BUY orders
// denominated in buyToken, or SELL orders on buyToken's complement — i.e.
// every order that contributes to buyToken's band occupancy.
func ordersForBuyToken(orders []types.Order, buyToken types.Token) []types.Order {
	var out []types.Order
	for _, o := range orders {
		if (o.Side == types.BUY && o.Token == buyToken) || (o.Side == types.SELL && o.Token != buyToken) {
			out = append(out, o)
		}
	}
	return out
}

// GetOrders computes the cancel and place sets for this tick. targetPrices
// must have an entry for both types.A and types.B.
func (s *BandsStrategy) GetOrders(ob book.OrderBook, targetPrices map[types.Token]decimal.Decimal) (toCancel, toPlace []types.Order) {
	for _, token := range types.Tokens {
		t := targetPrices[token]
		relevant := ordersForBuyToken(ob.Orders, token)
		toCancel = append(toCancel, s.Bands.CancellableOrders(relevant, &t)...)
	}

	cancelled := make(map[string]bool, len(toCancel))
	for _, o := range toCancel {
		cancelled[orderIdentity(o)] = true
	}
	var open []types.Order
	for _, o := range ob.Orders {
		if !cancelled[orderIdentity(o)] {
			open = append(open, o)
		}
	}

	lockedByBuys := decimal.Zero
	for _, o := range open {
		if o.Side == types.BUY {
			lockedByBuys = lockedByBuys.Add(o.Size.Mul(o.Price))
		}
	}
	freeCollateral := ob.Balances[types.Collateral].Sub(lockedByBuys)

	for _, token := range types.Tokens {
		relevant := ordersForBuyToken(open, token)
		lockedBySells := decimal.Zero
		for _, o := range relevant {
			if o.Side == types.SELL {
				lockedBySells = lockedBySells.Add(o.Size)
			}
		}
		freeToken := ob.Balances[token.Complement()].Sub(lockedBySells)

		newOrders := s.Bands.NewOrders(relevant, freeCollateral, freeToken, targetPrices[token], token)
		for _, o := range newOrders {
			if o.Side == types.BUY {
				freeCollateral = freeCollateral.Sub(o.Size.Mul(o.Price))
			}
		}
		toPlace = append(toPlace, newOrders...)
	}
	return toCancel, toPlace
}

// orderIdentity keys orders in a single tick's cancel-set bookkeeping by
// venue id (new orders never appear here, only existing book orders, which
// always carry one).
func orderIdentity(o types.Order) string {
	return o.ID
}

package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/book"
	"polymarket-mm/pkg/types"
)

// AMMConfig parameterizes the constant-product grid maker.
type AMMConfig struct {
	PMin          decimal.Decimal
	PMax          decimal.Decimal
	Spread        decimal.Decimal
	Delta         decimal.Decimal
	Depth         decimal.Decimal
	MaxCollateral decimal.Decimal
}

// amm tracks the concentrated-liquidity-style grid for a single token.
// The grid math runs in float64 throughout (grid prices, sqrt-price terms
// and sizes); results are converted back to decimal.Decimal, rounded to the
// tick, before any order is emitted.
type amm struct {
	cfg AMMConfig

	pI float64 // current mid for this token
	pU float64 // upper grid bound
	pL float64 // lower grid bound

	buyPrices  []float64 // descending from just below pI down to pL
	sellPrices []float64 // ascending from just above pI up to pU
}

func newAMM(cfg AMMConfig) *amm {
	return &amm{cfg: cfg}
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func roundDownTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Floor(v*scale) / scale
}

// setPrice rebuilds the grid bounds and price ladders around pI:
// p_u = min(p_i+depth, p_max), p_l = max(p_i-depth, p_min), rounded to the
// tick. The sell grid starts at p_i+spread and steps by delta up to p_u; the
// buy grid starts at p_i-spread and steps down by delta to p_l.
func (a *amm) setPrice(pI float64) {
	cfg := a.cfg
	pMin, _ := cfg.PMin.Float64()
	pMax, _ := cfg.PMax.Float64()
	spread, _ := cfg.Spread.Float64()
	delta, _ := cfg.Delta.Float64()
	depth, _ := cfg.Depth.Float64()

	a.pI = pI
	a.pU = roundTo(math.Min(pI+depth, pMax), 2)
	a.pL = roundTo(math.Max(pI-depth, pMin), 2)

	a.sellPrices = nil
	for p := roundTo(pI+spread, 2); p <= a.pU+1e-9; p += delta {
		a.sellPrices = append(a.sellPrices, roundTo(p, 2))
	}
	a.buyPrices = nil
	for p := roundTo(pI-spread, 2); p >= a.pL-1e-9; p -= delta {
		a.buyPrices = append(a.buyPrices, roundTo(p, 2))
	}
}

// sellSize computes the cumulative sellable quantity of this token at grid
// price pT, given holdings x, via the constant-product liquidity L derived
// from the distance between p_i and p_u.
func (a *amm) sellSize(x, pT float64) float64 {
	l := x / (1/math.Sqrt(a.pI) - 1/math.Sqrt(a.pU))
	return l/math.Sqrt(a.pU) - l/math.Sqrt(pT) + x
}

// buySize computes the cumulative buyable quantity at grid price pT, given
// collateral y, via the liquidity L derived from p_i and p_l.
func (a *amm) buySize(y, pT float64) float64 {
	l := y / (math.Sqrt(a.pI) - math.Sqrt(a.pL))
	return l * (1/math.Sqrt(pT) - 1/math.Sqrt(a.pI))
}

// phi is the marginal-consumption ratio used to split a shared collateral
// budget between two tokens' buy grids: (1/(√p_i-√p_l)) * (1/√p_top - 1/√p_i),
// where p_top is the closest (first) buy price — the top of the buy grid.
func (a *amm) phi() float64 {
	if len(a.buyPrices) == 0 {
		return 0
	}
	pTop := a.buyPrices[0]
	return (1 / (math.Sqrt(a.pI) - math.Sqrt(a.pL))) * (1/math.Sqrt(pTop) - 1/math.Sqrt(a.pI))
}

// diffDown returns first differences of a monotonically built cumulative
// series, each truncated down to the tick so no order ever overstates what
// the grid actually supports. The differences are taken against the raw
// (unrounded) cumulative values — rounding the cumulative series first would
// shift individual rung sizes by up to a tick.
func diffDown(cumulative []float64) []float64 {
	out := make([]float64, len(cumulative))
	prev := 0.0
	for i, c := range cumulative {
		if i == 0 {
			out[i] = roundDownTo(c, 2)
		} else {
			out[i] = roundDownTo(c-prev, 2)
		}
		prev = c
	}
	return out
}

// sellOrders returns (price, size) pairs for every rung of the sell grid
// given holdings x of this token.
func (a *amm) sellOrders(x float64) ([]float64, []float64) {
	cumulative := make([]float64, len(a.sellPrices))
	for i, p := range a.sellPrices {
		cumulative[i] = a.sellSize(x, p)
	}
	return a.sellPrices, diffDown(cumulative)
}

// buyOrders returns (price, size) pairs for every rung of the buy grid given
// collateral y earmarked for this token.
func (a *amm) buyOrders(y float64) ([]float64, []float64) {
	cumulative := make([]float64, len(a.buyPrices))
	for i, p := range a.buyPrices {
		cumulative[i] = a.buySize(y, p)
	}
	return a.buyPrices, diffDown(cumulative)
}

// AMMManager runs two coupled amm grids, one per outcome token, and splits a
// single collateral budget between their buy sides via phi.
type AMMManager struct {
	cfg  AMMConfig
	ammA *amm
	ammB *amm
}

// NewAMMManager builds a manager for the given config.
func NewAMMManager(cfg AMMConfig) *AMMManager {
	return &AMMManager{cfg: cfg, ammA: newAMM(cfg), ammB: newAMM(cfg)}
}

// collateralAllocation splits Y between token A's and B's buy grids using
// phi, clamped to [0, Y] so a pathological phi ratio can never hand out
// negative collateral or more than is available.
func collateralAllocation(y, firstSellA, firstSellB, phiA, phiB float64) (float64, float64) {
	var yA float64
	if phiA+phiB != 0 {
		yA = (firstSellA - firstSellB + y*phiB) / (phiA + phiB)
	}
	if yA < 0 {
		yA = 0
	}
	if yA > y {
		yA = y
	}
	yA = roundDownTo(yA, 2)
	yB := roundDownTo(y-yA, 2)
	return yA, yB
}

// ExpectedOrders returns the full expected order set for both tokens at the
// given mid prices and balances: sell orders for both tokens' full holdings,
// then buy orders split by phi over maxCollateral or whatever collateral
// balance is smaller.
func (m *AMMManager) ExpectedOrders(priceA, priceB, balanceA, balanceB, balanceCollateral decimal.Decimal) []types.Order {
	pA, _ := priceA.Float64()
	pB, _ := priceB.Float64()
	xA, _ := balanceA.Float64()
	xB, _ := balanceB.Float64()

	y := balanceCollateral
	if y.GreaterThan(m.cfg.MaxCollateral) {
		y = m.cfg.MaxCollateral
	}
	yF, _ := y.Float64()

	m.ammA.setPrice(pA)
	m.ammB.setPrice(pB)

	sellPricesA, sellSizesA := m.ammA.sellOrders(xA)
	sellPricesB, sellSizesB := m.ammB.sellOrders(xB)

	firstSellA, firstSellB := 0.0, 0.0
	if len(sellSizesA) > 0 {
		firstSellA = sellSizesA[0]
	}
	if len(sellSizesB) > 0 {
		firstSellB = sellSizesB[0]
	}
	yA, yB := collateralAllocation(yF, firstSellA, firstSellB, m.ammA.phi(), m.ammB.phi())

	buyPricesA, buySizesA := m.ammA.buyOrders(yA)
	buyPricesB, buySizesB := m.ammB.buyOrders(yB)

	var out []types.Order
	out = append(out, toOrders(sellPricesA, sellSizesA, types.SELL, types.A)...)
	out = append(out, toOrders(sellPricesB, sellSizesB, types.SELL, types.B)...)
	out = append(out, toOrders(buyPricesA, buySizesA, types.BUY, types.A)...)
	out = append(out, toOrders(buyPricesB, buySizesB, types.BUY, types.B)...)
	return out
}

func toOrders(prices, sizes []float64, side types.Side, token types.Token) []types.Order {
	out := make([]types.Order, 0, len(prices))
	for i, p := range prices {
		out = append(out, types.Order{
			Price: decimal.NewFromFloat(p).Round(2),
			Size:  decimal.NewFromFloat(sizes[i]).Round(2),
			Side:  side,
			Token: token,
		})
	}
	return out
}

// AMMStrategy is the C5 pricing strategy: reconcile the live book toward
// AMMManager's expected grid by (price, side, token) kind rather than by
// individual order identity.
type AMMStrategy struct {
	Manager *AMMManager
}

// NewAMMStrategy builds an AMMStrategy.
func NewAMMStrategy(manager *AMMManager) *AMMStrategy {
	return &AMMStrategy{Manager: manager}
}

// GetOrders diffs the open book against the expected grid by OrderKind: a
// kind with more open size than expected is fully cancelled and reissued at
// the expected size; a kind with less is topped up, if the remainder clears
// MinSize; any open kind absent from the expected set is cancelled outright.
func (s *AMMStrategy) GetOrders(ob book.OrderBook, targetPrices map[types.Token]decimal.Decimal) (toCancel, toPlace []types.Order) {
	expected := s.Manager.ExpectedOrders(
		targetPrices[types.A], targetPrices[types.B],
		ob.Balances[types.A], ob.Balances[types.B], ob.Balances[types.Collateral],
	)

	expectedByKind := make(map[types.OrderKind]decimal.Decimal)
	for _, o := range expected {
		expectedByKind[o.Kind()] = expectedByKind[o.Kind()].Add(o.Size)
	}

	openByKind := make(map[types.OrderKind][]types.Order)
	for _, o := range ob.Orders {
		k := o.Kind()
		openByKind[k] = append(openByKind[k], o)
	}

	for k, opens := range openByKind {
		if _, ok := expectedByKind[k]; !ok {
			toCancel = append(toCancel, opens...)
		}
	}

	for kind, expSize := range expectedByKind {
		opens := openByKind[kind]
		openSize := decimal.Zero
		for _, o := range opens {
			openSize = openSize.Add(o.Size)
		}

		var newSize decimal.Decimal
		if openSize.GreaterThan(expSize) {
			toCancel = append(toCancel, opens...)
			newSize = expSize
		} else {
			newSize = expSize.Sub(openSize).Round(2)
		}

		if newSize.GreaterThanOrEqual(types.MinSize) {
			price, _ := decimal.NewFromString(kind.Price)
			toPlace = append(toPlace, types.Order{Price: price, Size: newSize, Side: kind.Side, Token: kind.Token})
		}
	}
	return toCancel, toPlace
}

package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/book"
	"polymarket-mm/pkg/types"
)

func s4Config() AMMConfig {
	return AMMConfig{
		PMin:          dec("0.05"),
		PMax:          dec("0.95"),
		Spread:        dec("0.01"),
		Delta:         dec("0.01"),
		Depth:         dec("0.05"),
		MaxCollateral: dec("200"),
	}
}

// Grid length and bounds at p_i=0.5.
func TestAMMGridLength(t *testing.T) {
	t.Parallel()
	a := newAMM(s4Config())
	a.setPrice(0.5)

	wantSell := []float64{0.51, 0.52, 0.53, 0.54, 0.55}
	wantBuy := []float64{0.49, 0.48, 0.47, 0.46, 0.45}

	if len(a.sellPrices) != len(wantSell) {
		t.Fatalf("expected %d sell rungs, got %d: %v", len(wantSell), len(a.sellPrices), a.sellPrices)
	}
	for i, p := range wantSell {
		if roundTo(a.sellPrices[i], 2) != p {
			t.Errorf("sellPrices[%d] = %v, want %v", i, a.sellPrices[i], p)
		}
	}
	if len(a.buyPrices) != len(wantBuy) {
		t.Fatalf("expected %d buy rungs, got %d: %v", len(wantBuy), len(a.buyPrices), a.buyPrices)
	}
	for i, p := range wantBuy {
		if roundTo(a.buyPrices[i], 2) != p {
			t.Errorf("buyPrices[%d] = %v, want %v", i, a.buyPrices[i], p)
		}
	}
}

func TestAMMManagerExpectedOrdersGridLength(t *testing.T) {
	t.Parallel()
	m := NewAMMManager(s4Config())
	orders := m.ExpectedOrders(dec("0.5"), dec("0.5"), dec("500"), dec("500"), dec("200"))

	var sells, buys int
	for _, o := range orders {
		if o.Side == types.SELL {
			sells++
		} else {
			buys++
		}
	}
	if sells != 10 {
		t.Errorf("expected 10 total sell rungs (5 per token), got %d", sells)
	}
	if buys != 10 {
		t.Errorf("expected 10 total buy rungs (5 per token), got %d", buys)
	}
}

func TestAMMSellGridMonotonicIncreasing(t *testing.T) {
	t.Parallel()
	a := newAMM(s4Config())
	a.setPrice(0.5)
	for i := 1; i < len(a.sellPrices); i++ {
		if a.sellPrices[i] <= a.sellPrices[i-1] {
			t.Errorf("sell grid not strictly increasing at %d: %v", i, a.sellPrices)
		}
	}
}

func TestAMMBuyGridMonotonicDecreasing(t *testing.T) {
	t.Parallel()
	a := newAMM(s4Config())
	a.setPrice(0.5)
	for i := 1; i < len(a.buyPrices); i++ {
		if a.buyPrices[i] >= a.buyPrices[i-1] {
			t.Errorf("buy grid not strictly decreasing at %d: %v", i, a.buyPrices)
		}
	}
}

func TestAMMSizesNonNegative(t *testing.T) {
	t.Parallel()
	m := NewAMMManager(s4Config())
	orders := m.ExpectedOrders(dec("0.5"), dec("0.5"), dec("500"), dec("500"), dec("200"))
	for _, o := range orders {
		if o.Size.IsNegative() {
			t.Errorf("negative order size: %+v", o)
		}
	}
}

func TestCollateralAllocationSymmetricSplitsEvenly(t *testing.T) {
	t.Parallel()
	yA, yB := collateralAllocation(200, 10, 10, 1.0, 1.0)
	if !decimal.NewFromFloat(yA).Sub(decimal.NewFromFloat(yB)).Abs().LessThan(dec("0.01")) {
		t.Errorf("expected a symmetric split for equal phi/sell sizes, got yA=%v yB=%v", yA, yB)
	}
}

func TestCollateralAllocationClampedToBudget(t *testing.T) {
	t.Parallel()
	yA, yB := collateralAllocation(50, 1000, 0, 1.0, 1.0)
	if yA > 50 || yA < 0 {
		t.Errorf("yA out of [0, y] bounds: %v", yA)
	}
	if yB > 50 || yB < 0 {
		t.Errorf("yB out of [0, y] bounds: %v", yB)
	}
}

func TestAMMStrategyCancelsExcessAndTopsUpShortfall(t *testing.T) {
	t.Parallel()
	m := NewAMMManager(s4Config())
	s := NewAMMStrategy(m)

	// An open SELL at 0.51 on A bigger than the grid expects must be
	// cancelled outright and reissued at the expected size.
	ob := book.New([]types.Order{
		{ID: "1", Price: dec("0.51"), Size: dec("10000"), Side: types.SELL, Token: types.A},
	}, types.Balances{
		types.Collateral: dec("200"), types.A: dec("500"), types.B: dec("500"),
	}, false, false)

	targets := map[types.Token]decimal.Decimal{types.A: dec("0.5"), types.B: dec("0.5")}
	toCancel, toPlace := s.GetOrders(ob, targets)

	found := false
	for _, o := range toCancel {
		if o.ID == "1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the oversized open order to be cancelled, got %v", toCancel)
	}
	if len(toPlace) == 0 {
		t.Fatalf("expected a reissue at the expected size")
	}
}

func TestAMMStrategyCancelsOrderNotInExpectedSet(t *testing.T) {
	t.Parallel()
	m := NewAMMManager(s4Config())
	s := NewAMMStrategy(m)

	// A resting order far outside the grid's price ladder belongs to no
	// expected OrderType and must be cancelled unconditionally.
	ob := book.New([]types.Order{
		{ID: "stray", Price: dec("0.20"), Size: dec("50"), Side: types.BUY, Token: types.A},
	}, types.Balances{
		types.Collateral: dec("200"), types.A: dec("500"), types.B: dec("500"),
	}, false, false)

	targets := map[types.Token]decimal.Decimal{types.A: dec("0.5"), types.B: dec("0.5")}
	toCancel, _ := s.GetOrders(ob, targets)

	found := false
	for _, o := range toCancel {
		if o.ID == "stray" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the out-of-grid order to be cancelled, got %v", toCancel)
	}
}

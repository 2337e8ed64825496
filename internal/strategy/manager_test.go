package strategy

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/book"
	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeReconciler struct {
	ob            book.OrderBook
	cancelled     []types.Order
	placed        []types.Order
	cancelsCalled int
	placesCalled  int
}

func (f *fakeReconciler) GetOrderBook(ctx context.Context) book.OrderBook { return f.ob }
func (f *fakeReconciler) CancelOrders(ctx context.Context, orders []types.Order) {
	f.cancelsCalled++
	f.cancelled = append(f.cancelled, orders...)
}
func (f *fakeReconciler) PlaceOrders(ctx context.Context, orders []types.Order) {
	f.placesCalled++
	f.placed = append(f.placed, orders...)
}

type fixedPriceFeed struct{ price decimal.Decimal }

func (p fixedPriceFeed) GetPrice(ctx context.Context, token types.Token) (decimal.Decimal, error) {
	return p.price, nil
}

// If get_balances returns an incomplete set (a missing key, modeling
// Collateral: null), no cancel and no place are dispatched for that tick.
func TestManagerSkipsTickOnMissingBalance(t *testing.T) {
	t.Parallel()
	bands := singleBandConfig(t)
	rec := &fakeReconciler{
		ob: book.New(nil, types.Balances{types.A: dec("1"), types.B: dec("1")}, false, false),
	}
	m, err := NewManager(KindBands, NewBandsStrategy(bands), nil, rec, fixedPriceFeed{dec("0.5")}, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	m.Synchronize(context.Background())

	if rec.cancelsCalled != 0 || rec.placesCalled != 0 {
		t.Fatalf("expected no cancel/place dispatch with incomplete balances, got cancels=%d places=%d", rec.cancelsCalled, rec.placesCalled)
	}
}

func TestManagerSkipsTickOnAllZeroBalances(t *testing.T) {
	t.Parallel()
	bands := singleBandConfig(t)
	rec := &fakeReconciler{
		ob: book.New(nil, types.Balances{
			types.Collateral: decimal.Zero, types.A: decimal.Zero, types.B: decimal.Zero,
		}, false, false),
	}
	m, err := NewManager(KindBands, NewBandsStrategy(bands), nil, rec, fixedPriceFeed{dec("0.5")}, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	m.Synchronize(context.Background())

	if rec.cancelsCalled != 0 || rec.placesCalled != 0 {
		t.Fatalf("expected no dispatch with all-zero balances, got cancels=%d places=%d", rec.cancelsCalled, rec.placesCalled)
	}
}

func TestManagerDispatchesOnCompleteBalances(t *testing.T) {
	t.Parallel()
	bands := singleBandConfig(t)
	rec := &fakeReconciler{
		ob: book.New(nil, types.Balances{
			types.Collateral: dec("100"), types.A: decimal.Zero, types.B: decimal.Zero,
		}, false, false),
	}
	m, err := NewManager(KindBands, NewBandsStrategy(bands), nil, rec, fixedPriceFeed{dec("0.5")}, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	m.Synchronize(context.Background())

	if rec.placesCalled == 0 {
		t.Fatalf("expected a place dispatch given ample collateral")
	}
}

func TestManagerPriceBComplementsPriceA(t *testing.T) {
	t.Parallel()
	m := NewAMMManager(s4Config())
	s := NewAMMStrategy(m)
	rec := &fakeReconciler{
		ob: book.New(nil, types.Balances{
			types.Collateral: dec("200"), types.A: dec("500"), types.B: dec("500"),
		}, false, false),
	}
	mgr, err := NewManager(KindAMM, nil, s, rec, fixedPriceFeed{dec("0.37")}, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mgr.Synchronize(context.Background())

	for _, o := range rec.placed {
		if o.Token == types.B {
			// price_B is never placed directly here since AMMStrategy emits
			// its own grid, but the manager's price_B=1-price_A invariant is
			// exercised via the prices passed into GetOrders; assert at
			// least one B order landed proving the complement was computed.
			return
		}
	}
	t.Fatalf("expected at least one order on token B, got %v", rec.placed)
}

func TestParseKindCaseInsensitive(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"AMM", "amm", "Amm"} {
		k, err := ParseKind(s)
		if err != nil || k != KindAMM {
			t.Errorf("ParseKind(%q) = %v, %v; want KindAMM, nil", s, k, err)
		}
	}
	for _, s := range []string{"BANDS", "bands"} {
		k, err := ParseKind(s)
		if err != nil || k != KindBands {
			t.Errorf("ParseKind(%q) = %v, %v; want KindBands, nil", s, k, err)
		}
	}
	if _, err := ParseKind("bogus"); err == nil {
		t.Error("expected an error for an unknown strategy kind")
	}
}

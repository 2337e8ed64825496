package engine

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeVenue is an in-memory stand-in for the CLOB used across engine tests.
type fakeVenue struct {
	mu       sync.Mutex
	orders   map[string]types.Order
	balances types.Balances
	nextID   int
	failGet  bool
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		orders:   make(map[string]types.Order),
		balances: types.Balances{types.Collateral: decimal.NewFromInt(100), types.A: decimal.Zero, types.B: decimal.Zero},
	}
}

func (f *fakeVenue) hooks() Hooks {
	return Hooks{
		GetOrders: func(ctx context.Context) ([]types.Order, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.failGet {
				return nil, errFake
			}
			out := make([]types.Order, 0, len(f.orders))
			for _, o := range f.orders {
				out = append(out, o)
			}
			return out, nil
		},
		GetBalances: func(ctx context.Context) (types.Balances, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.balances.Clone(), nil
		},
		PlaceOrder: func(ctx context.Context, order types.Order) (types.Order, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.nextID++
			order.ID = itoa(f.nextID)
			f.orders[order.ID] = order
			return order, nil
		},
		CancelOrder: func(ctx context.Context, order types.Order) (bool, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.orders, order.ID)
			return true, nil
		},
		CancelAllOrders: func(ctx context.Context) (bool, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.orders = make(map[string]types.Order)
			return true, nil
		},
	}
}

var errFake = &fakeErr{"get_orders failed"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestGetOrderBookBlocksUntilFirstRefresh(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	e := New(venue.hooks(), 20*time.Millisecond, 1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	ob := e.GetOrderBook(ctx)
	if !ob.Balances.Complete() {
		t.Fatalf("expected complete balances after first refresh, got %v", ob.Balances)
	}
}

func TestPlaceThenGetOrderBookIncludesOrder(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	e := New(venue.hooks(), time.Hour, 2, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()
	e.GetOrderBook(ctx) // wait for first snapshot

	e.PlaceOrders(ctx, []types.Order{{Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(20), Side: types.BUY, Token: types.A}})

	ob := e.GetOrderBook(ctx)
	if len(ob.Orders) != 1 {
		t.Fatalf("expected 1 order after place, got %d", len(ob.Orders))
	}
	if ob.OrdersBeingPlaced {
		t.Fatalf("placing_count should be back to zero after PlaceOrders returns")
	}
}

// Cancel survives a refresh race where the remote snapshot still lists
// the cancelled order.
func TestCancelSurvivesRefreshRace(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	e := New(venue.hooks(), time.Hour, 2, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()
	e.GetOrderBook(ctx)

	e.PlaceOrders(ctx, []types.Order{{Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(20), Side: types.BUY, Token: types.A}})
	ob := e.GetOrderBook(ctx)
	if len(ob.Orders) != 1 {
		t.Fatalf("setup: expected 1 order, got %d", len(ob.Orders))
	}
	placed := ob.Orders[0]

	// Simulate a refresh whose remote result still contains the order
	// (venue hasn't processed the cancel yet), without going through the
	// fake's CancelOrder (which deletes it from the venue map).
	e.mu.Lock()
	e.idsCancelling[placed.ID] = struct{}{}
	e.mu.Unlock()
	e.refreshOnce(ctx) // remote still lists it

	ob = e.GetOrderBook(ctx)
	for _, o := range ob.Orders {
		if o.ID == placed.ID {
			t.Fatalf("cancelling order %s must not appear in get_order_book", placed.ID)
		}
	}

	// Now actually cancel it at the venue and confirm locally.
	e.CancelOrders(ctx, []types.Order{placed})
	e.mu.Lock()
	if _, stillCancelled := e.idsCancelled[placed.ID]; !stillCancelled {
		t.Fatalf("expected id to be in idsCancelled after successful cancel")
	}
	e.mu.Unlock()

	e.refreshOnce(ctx) // now remote excludes it
	e.mu.Lock()
	if _, stillCancelled := e.idsCancelled[placed.ID]; stillCancelled {
		t.Fatalf("idsCancelled should be cleared once a refresh reflects the cancellation")
	}
	e.mu.Unlock()
}

func TestRefreshPreservesLastGoodSnapshotOnFailure(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	e := New(venue.hooks(), time.Hour, 1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()
	e.GetOrderBook(ctx)

	e.PlaceOrders(ctx, []types.Order{{Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(20), Side: types.BUY, Token: types.A}})
	before := e.GetOrderBook(ctx)

	venue.mu.Lock()
	venue.failGet = true
	venue.mu.Unlock()
	e.refreshOnce(ctx)

	after := e.GetOrderBook(ctx)
	if len(after.Orders) != len(before.Orders) {
		t.Fatalf("a failed get_orders refresh must retain the last good order snapshot")
	}
}

func TestCancelAllOrdersDrainsBook(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	e := New(venue.hooks(), 10*time.Millisecond, 2, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()
	e.GetOrderBook(ctx)

	e.PlaceOrders(ctx, []types.Order{
		{Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(20), Side: types.BUY, Token: types.A},
		{Price: decimal.NewFromFloat(0.6), Size: decimal.NewFromInt(20), Side: types.SELL, Token: types.B},
	})

	done := make(chan struct{})
	go func() {
		e.CancelAllOrders(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel_all_orders did not converge")
	}

	ob := e.GetOrderBook(ctx)
	if len(ob.Orders) != 0 {
		t.Fatalf("expected empty book after cancel_all_orders, got %d orders", len(ob.Orders))
	}
}

func TestWaitForOrderBookRefreshAdvances(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	e := New(venue.hooks(), 10*time.Millisecond, 1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	e.WaitForOrderBookRefresh(ctx)
	e.mu.Lock()
	counter := e.refreshCounter
	e.mu.Unlock()
	if counter == 0 {
		t.Fatal("refresh_counter should have advanced")
	}
}

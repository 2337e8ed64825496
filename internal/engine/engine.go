// Package engine implements the order-book reconciliation engine (C3): a
// concurrent state tracker that maintains a consistent local view of
// outstanding orders and balances across in-flight place/cancel operations,
// background refreshes, and unreliable remote calls.
//
// All mutable state lives behind a single exclusive lock, a textbook case
// per the design notes: per-field locks would let an observer see
// placingCount == 0 while ordersPlaced still holds the just-placed order,
// violating the combined invariant. The lock is never held across external
// I/O — results are captured, then the lock is re-acquired to commit.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polymarket-mm/internal/book"
	"polymarket-mm/pkg/types"
)

// Hooks are the external collaborators the engine calls through. Every call
// may fail; a failure never corrupts engine state.
type Hooks struct {
	GetOrders       func(ctx context.Context) ([]types.Order, error)
	GetBalances     func(ctx context.Context) (types.Balances, error)
	PlaceOrder      func(ctx context.Context, order types.Order) (types.Order, error)
	CancelOrder     func(ctx context.Context, order types.Order) (bool, error)
	CancelAllOrders func(ctx context.Context) (bool, error)
}

// Engine is the reconciliation engine. Create with New, call Start once,
// Stop to shut down the background refresh goroutine.
type Engine struct {
	hooks            Hooks
	refreshFrequency time.Duration
	pool             *Pool
	logger           *slog.Logger

	mu             sync.Mutex
	haveSnapshot   bool
	lastOrders     []types.Order
	lastBalances   types.Balances
	ordersPlaced   map[string]types.Order
	idsCancelling  map[string]struct{}
	idsCancelled   map[string]struct{}
	placingCount   int
	refreshCounter uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Engine. poolSize bounds concurrent place/cancel dispatch
// (NewPool treats poolSize < 1 as 1).
func New(hooks Hooks, refreshFrequency time.Duration, poolSize int, logger *slog.Logger) *Engine {
	return &Engine{
		hooks:            hooks,
		refreshFrequency: refreshFrequency,
		pool:             NewPool(poolSize),
		logger:           logger,
		lastBalances:     types.Balances{},
		ordersPlaced:     make(map[string]types.Order),
		idsCancelling:    make(map[string]struct{}),
		idsCancelled:     make(map[string]struct{}),
	}
}

// Start spawns the background refresh goroutine. It fetches immediately,
// then every refreshFrequency thereafter, until Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.refreshOnce(ctx)
		ticker := time.NewTicker(e.refreshFrequency)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.refreshOnce(ctx)
			}
		}
	}()
}

// Stop cancels the background refresh goroutine and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// refreshOnce calls GetOrders and GetBalances and commits whichever succeeded.
// When GetOrders succeeded it also retires ordersPlaced/idsCancelled entries
// that predate this cycle — they are now either reflected in the fresh
// snapshot or no longer need local tracking because the snapshot is
// authoritative over them either way. On failure of either hook, the
// previous component of the snapshot is retained; state is never cleared on
// error. refreshCounter advances only when both hooks succeeded.
func (e *Engine) refreshOnce(ctx context.Context) {
	e.mu.Lock()
	cancelledBefore := make(map[string]struct{}, len(e.idsCancelled))
	for id := range e.idsCancelled {
		cancelledBefore[id] = struct{}{}
	}
	placedBefore := make(map[string]struct{}, len(e.ordersPlaced))
	for id := range e.ordersPlaced {
		placedBefore[id] = struct{}{}
	}
	e.mu.Unlock()

	var orders []types.Order
	var ordersErr error
	if e.hooks.GetOrders != nil {
		orders, ordersErr = e.hooks.GetOrders(ctx)
		if ordersErr != nil {
			e.logger.Error("reconciliation: get_orders failed", "error", ordersErr)
		}
	}

	var balances types.Balances
	var balErr error
	if e.hooks.GetBalances != nil {
		balances, balErr = e.hooks.GetBalances(ctx)
		if balErr != nil {
			e.logger.Error("reconciliation: get_balances failed", "error", balErr)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.haveSnapshot {
		e.logger.Info("order book became available")
		e.haveSnapshot = true
	}
	if ordersErr == nil {
		e.lastOrders = orders
		for id := range cancelledBefore {
			delete(e.idsCancelled, id)
		}
		for id := range placedBefore {
			delete(e.ordersPlaced, id)
		}
	}
	if balErr == nil {
		e.lastBalances = balances
	}
	if ordersErr == nil && balErr == nil {
		e.refreshCounter++
	}
}

// GetOrderBook blocks until the first refresh has landed, then returns the
// current snapshot: (snapshot_orders ∪ orders_placed) \ (ids_cancelling ∪
// ids_cancelled), deduplicated by id.
func (e *Engine) GetOrderBook(ctx context.Context) book.OrderBook {
	for {
		e.mu.Lock()
		if e.haveSnapshot {
			break
		}
		e.mu.Unlock()
		select {
		case <-ctx.Done():
			return book.New(nil, types.Balances{}, false, false)
		case <-time.After(50 * time.Millisecond):
		}
	}
	defer e.mu.Unlock()

	seen := make(map[string]struct{}, len(e.lastOrders)+len(e.ordersPlaced))
	merged := make([]types.Order, 0, len(e.lastOrders)+len(e.ordersPlaced))
	for _, o := range e.lastOrders {
		if _, ok := seen[o.ID]; ok {
			continue
		}
		seen[o.ID] = struct{}{}
		merged = append(merged, o)
	}
	for id, o := range e.ordersPlaced {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, o)
	}

	out := make([]types.Order, 0, len(merged))
	for _, o := range merged {
		if _, cancelling := e.idsCancelling[o.ID]; cancelling {
			continue
		}
		if _, cancelled := e.idsCancelled[o.ID]; cancelled {
			continue
		}
		out = append(out, o)
	}

	return book.New(out, e.lastBalances, e.placingCount > 0, len(e.idsCancelling) > 0)
}

// PlaceOrders dispatches a worker per order. On success the venue-returned
// order (with id) is recorded in ordersPlaced. placingCount is always
// decremented on completion, success or failure. Errors are logged and
// swallowed: no effect this tick, the next strategy tick retries implicitly.
func (e *Engine) PlaceOrders(ctx context.Context, orders []types.Order) {
	if len(orders) == 0 {
		return
	}
	e.mu.Lock()
	e.placingCount += len(orders)
	e.mu.Unlock()

	for _, order := range orders {
		order := order
		e.pool.Go(func() {
			defer func() {
				e.mu.Lock()
				e.placingCount--
				e.mu.Unlock()
			}()
			placed, err := e.hooks.PlaceOrder(ctx, order)
			if err != nil {
				e.logger.Error("reconciliation: place_order failed", "error", err, "price", order.Price, "side", order.Side, "token", order.Token)
				return
			}
			if placed.ID == "" {
				return
			}
			e.mu.Lock()
			e.ordersPlaced[placed.ID] = placed
			e.mu.Unlock()
		})
	}
	e.pool.Wait()
}

// CancelOrders dispatches a worker per order. On success the id moves from
// idsCancelling to idsCancelled. On failure the id is removed from
// idsCancelling so a later tick can retry the cancellation.
func (e *Engine) CancelOrders(ctx context.Context, orders []types.Order) {
	if len(orders) == 0 {
		return
	}
	e.mu.Lock()
	for _, o := range orders {
		e.idsCancelling[o.ID] = struct{}{}
	}
	e.mu.Unlock()

	for _, order := range orders {
		order := order
		e.pool.Go(func() {
			ok, err := e.hooks.CancelOrder(ctx, order)
			e.mu.Lock()
			if err == nil && ok {
				e.idsCancelled[order.ID] = struct{}{}
			}
			delete(e.idsCancelling, order.ID)
			e.mu.Unlock()
			if err != nil {
				e.logger.Error("reconciliation: cancel_order failed", "error", err, "id", order.ID)
			}
		})
	}
	e.pool.Wait()
}

// CancelAllOrders drains the book: fetch, cancel everything, wait for
// stability, repeat until the book reads empty, then wait for two
// successful refreshes so the caller can be confident no ghost orders
// survived — the refresh triggered while cancellation was in flight may
// not reflect it, so only the second refresh after is guaranteed to.
func (e *Engine) CancelAllOrders(ctx context.Context) {
	for {
		ob := e.GetOrderBook(ctx)
		if len(ob.Orders) == 0 {
			e.logger.Info("no open orders on order book")
			break
		}

		ids := make([]string, 0, len(ob.Orders))
		for _, o := range ob.Orders {
			ids = append(ids, o.ID)
		}
		e.mu.Lock()
		for _, id := range ids {
			e.idsCancelling[id] = struct{}{}
		}
		e.mu.Unlock()

		e.logger.Info("cancelling all open orders", "count", len(ids))
		ok, err := e.hooks.CancelAllOrders(ctx)
		e.mu.Lock()
		if err == nil && ok {
			for _, id := range ids {
				e.idsCancelled[id] = struct{}{}
				delete(e.idsCancelling, id)
			}
		} else {
			for _, id := range ids {
				delete(e.idsCancelling, id)
			}
		}
		e.mu.Unlock()
		if err != nil {
			e.logger.Error("reconciliation: cancel_all_orders failed", "error", err)
		}

		e.WaitForStableOrderBook(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}

	e.logger.Info("waiting for the order book to refresh twice, to be sure")
	e.WaitForOrderBookRefresh(ctx)
	e.WaitForOrderBookRefresh(ctx)

	ob := e.GetOrderBook(ctx)
	if len(ob.Orders) > 0 {
		e.logger.Warn("orders still open after cancel_all_orders", "count", len(ob.Orders))
		return
	}
	e.logger.Info("all orders successfully cancelled")
}

// WaitForOrderBookRefresh blocks until refreshCounter has strictly advanced
// at least once since entry.
func (e *Engine) WaitForOrderBookRefresh(ctx context.Context) {
	e.mu.Lock()
	start := e.refreshCounter
	e.mu.Unlock()

	for {
		e.mu.Lock()
		current := e.refreshCounter
		e.mu.Unlock()
		if current > start {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// WaitForStableOrderBook spins until neither in-flight flag is set.
func (e *Engine) WaitForStableOrderBook(ctx context.Context) {
	for {
		ob := e.GetOrderBook(ctx)
		if !ob.OrdersBeingPlaced && !ob.OrdersBeingCancelled {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

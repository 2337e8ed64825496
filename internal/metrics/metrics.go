// Package metrics exposes the keeper's Prometheus metrics, served on
// --metrics-server-port for operator scraping.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds every metric the keeper publishes.
type Collector struct {
	SyncsTotal        *prometheus.CounterVec
	SyncsSkipped      *prometheus.CounterVec
	SyncLatency       prometheus.Histogram

	OrdersPlaced      *prometheus.CounterVec
	OrdersCancelled   *prometheus.CounterVec
	OrdersOpen        *prometheus.GaugeVec

	TargetPrice       *prometheus.GaugeVec
	Balance           *prometheus.GaugeVec

	ExchangeErrors    *prometheus.CounterVec
	GasPriceGwei      prometheus.Gauge
}

// GetCollector returns the process-wide metrics collector, building and
// registering it on first use.
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
	})
	return collector
}

func newCollector() *Collector {
	c := &Collector{
		SyncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keeper",
			Subsystem: "sync",
			Name:      "total",
			Help:      "Total strategy synchronize ticks run",
		}, []string{"strategy"}),
		SyncsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keeper",
			Subsystem: "sync",
			Name:      "skipped_total",
			Help:      "Synchronize ticks skipped due to incomplete or zero balances",
		}, []string{"reason"}),
		SyncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "keeper",
			Subsystem: "sync",
			Name:      "latency_ms",
			Help:      "Synchronize tick latency in milliseconds",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keeper",
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Total orders placed",
		}, []string{"token", "side"}),
		OrdersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keeper",
			Subsystem: "orders",
			Name:      "cancelled_total",
			Help:      "Total orders cancelled",
		}, []string{"token", "side"}),
		OrdersOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "keeper",
			Subsystem: "orders",
			Name:      "open",
			Help:      "Currently resting orders",
		}, []string{"token", "side"}),
		TargetPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "keeper",
			Subsystem: "market",
			Name:      "target_price",
			Help:      "Current target price used for quoting",
		}, []string{"token"}),
		Balance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "keeper",
			Subsystem: "wallet",
			Name:      "balance",
			Help:      "Wallet balance by asset",
		}, []string{"asset"}),
		ExchangeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keeper",
			Subsystem: "exchange",
			Name:      "errors_total",
			Help:      "Total errors from venue API calls",
		}, []string{"operation"}),
		GasPriceGwei: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keeper",
			Subsystem: "gas",
			Name:      "price_gwei",
			Help:      "Most recently suggested gas price in gwei",
		}),
	}
	c.registerAll()
	return c
}

func (c *Collector) registerAll() {
	prometheus.MustRegister(
		c.SyncsTotal,
		c.SyncsSkipped,
		c.SyncLatency,
		c.OrdersPlaced,
		c.OrdersCancelled,
		c.OrdersOpen,
		c.TargetPrice,
		c.Balance,
		c.ExchangeErrors,
		c.GasPriceGwei,
	)
}

// RecordSync records one strategy tick's outcome.
func (c *Collector) RecordSync(strategy string, latencyMs float64) {
	c.SyncsTotal.WithLabelValues(strategy).Inc()
	c.SyncLatency.Observe(latencyMs)
}

// RecordSkip records a tick skipped for the given reason (e.g. "incomplete_balances").
func (c *Collector) RecordSkip(reason string) {
	c.SyncsSkipped.WithLabelValues(reason).Inc()
}

// RecordOrdersPlaced increments the placed counter by count for token/side.
func (c *Collector) RecordOrdersPlaced(token, side string, count int) {
	c.OrdersPlaced.WithLabelValues(token, side).Add(float64(count))
}

// RecordOrdersCancelled increments the cancelled counter by count for token/side.
func (c *Collector) RecordOrdersCancelled(token, side string, count int) {
	c.OrdersCancelled.WithLabelValues(token, side).Add(float64(count))
}

// SetOrdersOpen sets the currently-open gauge for token/side.
func (c *Collector) SetOrdersOpen(token, side string, count int) {
	c.OrdersOpen.WithLabelValues(token, side).Set(float64(count))
}

// SetTargetPrice records the target price currently being quoted for token.
func (c *Collector) SetTargetPrice(token string, price float64) {
	c.TargetPrice.WithLabelValues(token).Set(price)
}

// SetBalance records the wallet's current balance for asset.
func (c *Collector) SetBalance(asset string, amount float64) {
	c.Balance.WithLabelValues(asset).Set(amount)
}

// RecordExchangeError increments the error counter for operation.
func (c *Collector) RecordExchangeError(operation string) {
	c.ExchangeErrors.WithLabelValues(operation).Inc()
}

// SetGasPriceGwei records the most recently suggested gas price.
func (c *Collector) SetGasPriceGwei(gwei float64) {
	c.GasPriceGwei.Set(gwei)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts an HTTP server exposing /metrics on port, shutting down
// cleanly when ctx is cancelled.
func Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Package metrics exposes Prometheus counters for the tick pipeline and order flow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "altbars_ticks_total", Help: "Trade ticks accepted by the dispatcher"},
		[]string{"symbol"},
	)
	TicksDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "altbars_ticks_discarded_total", Help: "Trade ticks dropped for non-positive price or size, or unknown symbol"},
		[]string{"symbol"},
	)
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "altbars_bars_total", Help: "Alternative bars completed"},
		[]string{"symbol", "bar_type"},
	)
	SinkErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "altbars_sink_errors_total", Help: "Bars that could not be written to the bar store"},
		[]string{"symbol", "bar_type"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "altbars_orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	LiquidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "altbars_liquidations_total", Help: "Positions liquidated"},
		[]string{"symbol", "reason"},
	)
	BrokerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "altbars_broker_errors_total", Help: "Broker calls that failed and were skipped"},
		[]string{"operation"},
	)
	Thresholds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "altbars_threshold", Help: "Active bar threshold per instrument"},
		[]string{"symbol", "bar_type"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, TicksDiscarded, BarsTotal, SinkErrorsTotal, OrdersTotal, LiquidationsTotal, BrokerErrorsTotal, Thresholds)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Package metrics defines the Prometheus instrumentation for the
// trading engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxbot_cycles_total",
			Help: "Total number of evaluation cycles run (by stream).",
		},
		[]string{"stream"},
	)

	CycleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxbot_cycle_errors_total",
			Help: "Total number of cycles that ended in an error (by stream).",
		},
		[]string{"stream"},
	)

	SignalsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxbot_signals_total",
			Help: "Total number of entry signals generated (by stream and direction).",
		},
		[]string{"stream", "direction"},
	)

	VetoesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxbot_vetoes_total",
			Help: "Total number of vetoed evaluations (by stream and gate).",
		},
		[]string{"stream", "gate"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxbot_orders_submitted_total",
			Help: "Total number of orders submitted to the broker (by stream).",
		},
		[]string{"stream"},
	)

	BrokerRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxbot_broker_retries_total",
			Help: "Total number of broker call retries (by operation).",
		},
		[]string{"operation"},
	)

	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxbot_trades_closed_total",
			Help: "Total number of trades closed (by stream and exit reason).",
		},
		[]string{"stream", "reason"},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fxbot_equity",
			Help: "Current account equity.",
		},
	)

	DrawdownGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fxbot_drawdown_pct",
			Help: "Current drawdown from peak equity, in percent.",
		},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fxbot_positions_open",
			Help: "Current number of open positions.",
		},
	)

	StreamUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fxbot_stream_up",
			Help: "Whether a stream worker is polling (1) or paused/stopped (0).",
		},
		[]string{"stream"},
	)

	BrokerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fxbot_broker_request_seconds",
			Help:    "Broker API request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxbot_http_requests_total",
			Help: "Status API requests served (by method, route and status).",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		CycleErrors,
		SignalsGenerated,
		VetoesTotal,
		OrdersSubmitted,
		BrokerRetries,
		TradesClosed,
		EquityGauge,
		DrawdownGauge,
		OpenPositions,
		StreamUp,
		BrokerRequestDuration,
		HTTPRequests,
	)
}

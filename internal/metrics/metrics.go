// Package metrics exposes the bot's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Stream metrics
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upbitbot_ticks_total",
			Help: "Ticker documents processed from the stream",
		},
		[]string{"market"},
	)

	parseErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upbitbot_parse_errors_total",
			Help: "Stream documents dropped because they could not be parsed",
		},
	)

	reconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upbitbot_reconnects_total",
			Help: "Stream reconnects by cause",
		},
		[]string{"cause"},
	)

	streamActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "upbitbot_stream_active",
			Help: "1 while the ticker stream is streaming",
		},
	)

	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upbitbot_current_price",
			Help: "Latest trade price per market",
		},
		[]string{"market"},
	)

	// Strategy metrics
	lastRSI = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upbitbot_rsi",
			Help: "Last computed RSI per market",
		},
		[]string{"market"},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upbitbot_decisions_total",
			Help: "Signal evaluations by outcome",
		},
		[]string{"market", "action"},
	)

	rebalancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upbitbot_rebalances_total",
			Help: "Portfolio evaluations by outcome",
		},
		[]string{"outcome"},
	)

	portfolioPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "upbitbot_portfolio_pnl_ratio",
			Help: "Last evaluated unrealized portfolio P&L ratio",
		},
	)

	// Exchange metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upbitbot_orders_total",
			Help: "Orders submitted by side and result",
		},
		[]string{"market", "side", "result"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upbitbot_exchange_request_seconds",
			Help:    "Exchange REST latency by endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	// Worker metrics
	workerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "upbitbot_worker_queue_depth",
			Help: "Jobs waiting on the trade worker",
		},
	)

	workerDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upbitbot_worker_dropped_total",
			Help: "Jobs rejected by the trade worker",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		ticksTotal,
		parseErrorsTotal,
		reconnectsTotal,
		streamActive,
		currentPrice,
		lastRSI,
		decisionsTotal,
		rebalancesTotal,
		portfolioPnL,
		ordersTotal,
		requestDuration,
		workerQueueDepth,
		workerDropped,
	)
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTick counts a ticker document and updates the price gauge.
func RecordTick(market string, price float64) {
	ticksTotal.WithLabelValues(market).Inc()
	currentPrice.WithLabelValues(market).Set(price)
}

// RecordParseError counts a dropped stream document.
func RecordParseError() {
	parseErrorsTotal.Inc()
}

// RecordReconnect counts a reconnect attempt triggered by cause.
func RecordReconnect(cause string) {
	reconnectsTotal.WithLabelValues(cause).Inc()
}

// SetStreamActive flips the stream gauge.
func SetStreamActive(active bool) {
	if active {
		streamActive.Set(1)
		return
	}
	streamActive.Set(0)
}

// RecordDecision counts an evaluation outcome and, when rsi is known,
// updates the RSI gauge.
func RecordDecision(market, action string, rsi float64, known bool) {
	decisionsTotal.WithLabelValues(market, action).Inc()
	if known {
		lastRSI.WithLabelValues(market).Set(rsi)
	}
}

// RecordRebalance counts a portfolio evaluation outcome.
func RecordRebalance(outcome string, pnl float64) {
	rebalancesTotal.WithLabelValues(outcome).Inc()
	portfolioPnL.Set(pnl)
}

// RecordOrder counts a submitted order.
func RecordOrder(market, side string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ordersTotal.WithLabelValues(market, side, result).Inc()
}

// ObserveRequest records the latency of one exchange REST call.
func ObserveRequest(endpoint string, status int, started time.Time) {
	requestDuration.WithLabelValues(endpoint, statusLabel(status)).Observe(time.Since(started).Seconds())
}

// SetQueueDepth reports the trade worker backlog.
func SetQueueDepth(n int) {
	workerQueueDepth.Set(float64(n))
}

// RecordDropped counts a job the trade worker refused.
func RecordDropped(reason string) {
	workerDropped.WithLabelValues(reason).Inc()
}

func statusLabel(status int) string {
	switch {
	case status == 0:
		return "transport_error"
	case status < 300:
		return "2xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Order lifecycle metrics
	ordersPlacedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_bot_orders_placed_total",
			Help: "Total number of orders submitted to the exchange",
		},
		[]string{"symbol", "side"},
	)

	fillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_bot_fills_total",
			Help: "Total number of confirmed order fills",
		},
		[]string{"symbol", "side"},
	)

	cancelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_bot_cancels_total",
			Help: "Total number of canceled or rejected orders",
		},
		[]string{"symbol", "status"},
	)

	// Sizing metrics
	sizingRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_bot_sizing_rejections_total",
			Help: "Signals rejected by risk checks, by reason",
		},
		[]string{"symbol", "reason"},
	)

	positionValueSized = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "risk_bot_position_value_sized",
			Help:    "Distribution of approved position notionals",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"symbol"},
	)

	// Portfolio metrics
	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_bot_open_positions",
			Help: "Number of currently open positions",
		},
	)

	totalExposure = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_bot_total_exposure",
			Help: "Aggregate notional exposure across open positions",
		},
	)

	currentBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_bot_current_balance",
			Help: "Current account balance tracked by the portfolio",
		},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_bot_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(ordersPlacedTotal)
	prometheus.MustRegister(fillsTotal)
	prometheus.MustRegister(cancelsTotal)
	prometheus.MustRegister(sizingRejectionsTotal)
	prometheus.MustRegister(positionValueSized)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(totalExposure)
	prometheus.MustRegister(currentBalance)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler serves the Prometheus metrics endpoint.
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordOrderPlaced records an order submission
func RecordOrderPlaced(symbol, side string) {
	ordersPlacedTotal.WithLabelValues(symbol, side).Inc()
}

// RecordFill records a confirmed fill
func RecordFill(symbol, side string) {
	fillsTotal.WithLabelValues(symbol, side).Inc()
}

// RecordCancel records an order that terminated without filling
func RecordCancel(symbol, status string) {
	cancelsTotal.WithLabelValues(symbol, status).Inc()
}

// RecordSizingRejection records a risk-check rejection by reason
func RecordSizingRejection(symbol, reason string) {
	sizingRejectionsTotal.WithLabelValues(symbol, reason).Inc()
}

// RecordSizedPosition records the notional of an approved position
func RecordSizedPosition(symbol string, value float64) {
	positionValueSized.WithLabelValues(symbol).Observe(value)
}

// UpdatePortfolio updates the portfolio-level gauges
func UpdatePortfolio(positions int, exposure, balance float64) {
	openPositions.Set(float64(positions))
	totalExposure.Set(exposure)
	currentBalance.Set(balance)
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}

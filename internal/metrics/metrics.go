package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics. It implements the Recorder
// interface of every pipeline package.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Pipeline metrics
	busPublished     *prometheus.CounterVec
	busLagged        *prometheus.CounterVec
	busDropped       *prometheus.CounterVec
	nodeMessages     *prometheus.CounterVec
	nodeDuration     *prometheus.HistogramVec
	candlesIngested  *prometheus.CounterVec
	adapterErrors    *prometheus.CounterVec
	dataGaps         *prometheus.CounterVec
	signalsGenerated *prometheus.CounterVec
	sizingDecisions  *prometheus.CounterVec
	fills            *prometheus.CounterVec
	tradesClosed     *prometheus.CounterVec
	realizedPnL      *prometheus.GaugeVec
	equity           prometheus.Gauge
	notifications    *prometheus.CounterVec
	backtestsTotal   *prometheus.CounterVec
	backtestDuration prometheus.Histogram
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	// Bus and nodes
	r.busPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_bus_published_total",
			Help: "Total number of messages published, by topic prefix",
		},
		[]string{"prefix"},
	)
	r.busLagged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_bus_lag_events_total",
			Help: "Times a subscriber fell behind its mailbox",
		},
		[]string{"pattern"},
	)
	r.busDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_bus_dropped_total",
			Help: "Messages a lagging subscriber lost to replay log eviction",
		},
		[]string{"pattern"},
	)
	r.nodeMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_node_messages_total",
			Help: "Total number of messages processed by a node",
		},
		[]string{"node", "status"},
	)
	r.nodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradeflow_node_processing_seconds",
			Help:    "Message processing duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"node"},
	)

	// Ingestion
	r.candlesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_candles_ingested_total",
			Help: "Total number of candles ingested",
		},
		[]string{"symbol", "timeframe"},
	)
	r.adapterErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_adapter_errors_total",
			Help: "Total number of failed exchange requests",
		},
		[]string{"exchange"},
	)
	r.dataGaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_data_gaps_total",
			Help: "Total number of detected candle gaps",
		},
		[]string{"symbol", "timeframe"},
	)

	// Decisions and execution
	r.signalsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_signals_generated_total",
			Help: "Total number of signals generated",
		},
		[]string{"strategy", "kind"},
	)
	r.sizingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_sizing_decisions_total",
			Help: "Total number of sizing decisions",
		},
		[]string{"policy", "outcome"},
	)
	r.fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_fills_total",
			Help: "Total number of filled orders",
		},
		[]string{"strategy", "action"},
	)
	r.tradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_trades_total",
			Help: "Total number of closed trades",
		},
		[]string{"strategy", "result"},
	)
	r.realizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradeflow_realized_pnl",
			Help: "Cumulative realized profit and loss",
		},
		[]string{"strategy"},
	)
	r.equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeflow_equity",
			Help: "Marked account equity",
		},
	)

	r.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_notifications_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"notifier", "status"},
	)

	// Backtests
	r.backtestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_backtests_total",
			Help: "Total number of backtests",
		},
		[]string{"status"},
	)
	r.backtestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradeflow_backtest_duration_seconds",
			Help:    "Backtest duration in seconds",
			Buckets: []float64{.01, .1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	reg.MustRegister(r.busPublished)
	reg.MustRegister(r.busLagged)
	reg.MustRegister(r.busDropped)
	reg.MustRegister(r.nodeMessages)
	reg.MustRegister(r.nodeDuration)
	reg.MustRegister(r.candlesIngested)
	reg.MustRegister(r.adapterErrors)
	reg.MustRegister(r.dataGaps)
	reg.MustRegister(r.signalsGenerated)
	reg.MustRegister(r.sizingDecisions)
	reg.MustRegister(r.fills)
	reg.MustRegister(r.tradesClosed)
	reg.MustRegister(r.realizedPnL)
	reg.MustRegister(r.equity)
	reg.MustRegister(r.notifications)
	reg.MustRegister(r.backtestsTotal)
	reg.MustRegister(r.backtestDuration)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// RecordPublish records a message published under a topic prefix.
func (r *Registry) RecordPublish(prefix string) {
	r.busPublished.WithLabelValues(prefix).Inc()
}

// RecordLag records a subscriber falling behind.
func (r *Registry) RecordLag(pattern string) {
	r.busLagged.WithLabelValues(pattern).Inc()
}

// RecordDropped records messages lost by a lagging subscriber.
func (r *Registry) RecordDropped(pattern string, n int) {
	r.busDropped.WithLabelValues(pattern).Add(float64(n))
}

// RecordProcessed records one message handled by a node.
func (r *Registry) RecordProcessed(node, status string, seconds float64) {
	r.nodeMessages.WithLabelValues(node, status).Inc()
	r.nodeDuration.WithLabelValues(node).Observe(seconds)
}

// RecordIngested records persisted candles.
func (r *Registry) RecordIngested(symbol, timeframe string, n int) {
	r.candlesIngested.WithLabelValues(symbol, timeframe).Add(float64(n))
}

// RecordAdapterError records a failed exchange request.
func (r *Registry) RecordAdapterError(exchange string) {
	r.adapterErrors.WithLabelValues(exchange).Inc()
}

// RecordGap records a detected candle gap.
func (r *Registry) RecordGap(symbol, timeframe string) {
	r.dataGaps.WithLabelValues(symbol, timeframe).Inc()
}

// RecordSignal records a generated signal.
func (r *Registry) RecordSignal(strategy, kind string) {
	r.signalsGenerated.WithLabelValues(strategy, kind).Inc()
}

// RecordSizing records a sizing outcome.
func (r *Registry) RecordSizing(policy, outcome string) {
	r.sizingDecisions.WithLabelValues(policy, outcome).Inc()
}

// RecordFill records an applied order.
func (r *Registry) RecordFill(strategy, action string) {
	r.fills.WithLabelValues(strategy, action).Inc()
}

// RecordTrade records a closed trade and its realized PnL.
func (r *Registry) RecordTrade(strategy string, pnl float64) {
	result := "loss"
	if pnl > 0 {
		result = "win"
	}
	r.tradesClosed.WithLabelValues(strategy, result).Inc()
	r.realizedPnL.WithLabelValues(strategy).Add(pnl)
}

// SetEquity sets the marked account equity.
func (r *Registry) SetEquity(equity float64) {
	r.equity.Set(equity)
}

// RecordNotification records one notification delivery.
func (r *Registry) RecordNotification(notifier, status string) {
	r.notifications.WithLabelValues(notifier, status).Inc()
}

// RecordBacktest records a backtest completion.
func (r *Registry) RecordBacktest(status string, duration float64) {
	r.backtestsTotal.WithLabelValues(status).Inc()
	r.backtestDuration.Observe(duration)
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

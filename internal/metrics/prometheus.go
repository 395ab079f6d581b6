package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cycle metrics
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mintrader_cycles_total",
			Help: "Total number of pipeline cycles",
		},
		[]string{"status"}, // status: committed|already_committed|stale|conflict|error
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mintrader_cycle_duration_seconds",
			Help:    "Pipeline cycle duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
	)

	LastCommittedCycle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mintrader_last_committed_cycle_id",
			Help: "Cycle id of the last committed portfolio state",
		},
	)

	SymbolOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mintrader_symbol_outcomes_total",
			Help: "Per-symbol cycle outcomes",
		},
		[]string{"outcome"}, // outcome: executed|hold|rejected|failed
	)

	// Agent metrics
	AgentCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mintrader_agent_calls_total",
			Help: "Total number of agent calls",
		},
		[]string{"role", "status"}, // status: success|error
	)

	AgentLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mintrader_agent_latency_seconds",
			Help:    "Agent call latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"role"},
	)

	// Risk metrics
	RiskVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mintrader_risk_verdicts_total",
			Help: "Risk verdicts by outcome",
		},
		[]string{"outcome"}, // outcome: approved|scaled|rejected
	)

	// Broker metrics
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mintrader_orders_total",
			Help: "Orders by side and status",
		},
		[]string{"side", "status", "replayed"},
	)

	BrokerLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mintrader_broker_submit_latency_seconds",
			Help:    "Broker order submission latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	// Portfolio metrics
	PortfolioValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mintrader_portfolio_value",
			Help: "Portfolio value by component",
		},
		[]string{"component"}, // component: cash|positions|total
	)

	// State store metrics
	StateOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mintrader_state_operations_total",
			Help: "State store operations",
		},
		[]string{"operation", "status"}, // status: success|conflict|error
	)
)

var once sync.Once

// Init registers all metrics with Prometheus. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(Cycles, CycleDuration, LastCommittedCycle, SymbolOutcomes)
		prometheus.MustRegister(AgentCalls, AgentLatency)
		prometheus.MustRegister(RiskVerdicts)
		prometheus.MustRegister(Orders, BrokerLatency)
		prometheus.MustRegister(PortfolioValue)
		prometheus.MustRegister(StateOps)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCycle records a finished cycle attempt
func RecordCycle(status string, duration time.Duration) {
	Cycles.WithLabelValues(status).Inc()
	CycleDuration.Observe(duration.Seconds())
}

// RecordAgentCall records one agent invocation
func RecordAgentCall(role string, latency time.Duration, err error) {
	AgentCalls.WithLabelValues(role, status(err)).Inc()
	AgentLatency.WithLabelValues(role).Observe(latency.Seconds())
}

// RecordOrder records an order outcome
func RecordOrder(side, orderStatus string, replayed bool) {
	r := "false"
	if replayed {
		r = "true"
	}
	Orders.WithLabelValues(side, orderStatus, r).Inc()
}

// RecordStateOp records a state store call; conflicts are tracked separately from errors
func RecordStateOp(operation string, conflict bool, err error) {
	s := status(err)
	if conflict {
		s = "conflict"
	}
	StateOps.WithLabelValues(operation, s).Inc()
}

// SetPortfolio publishes the committed portfolio valuation
func SetPortfolio(cash, positions float64) {
	PortfolioValue.WithLabelValues("cash").Set(cash)
	PortfolioValue.WithLabelValues("positions").Set(positions)
	PortfolioValue.WithLabelValues("total").Set(cash + positions)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

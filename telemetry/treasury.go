package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"rubin.dev/treasurycore/circuitbreaker"
	"rubin.dev/treasurycore/executor"
	"rubin.dev/treasurycore/treasury"
)

// TreasuryCollector exposes the treasury-side gauges and counters of
// spec §6.4: balance, per-status backlog, disbursement lag, execution
// error reasons, and circuit breaker posture.
type TreasuryCollector struct {
	balance          prometheus.Gauge
	backlog          *prometheus.GaugeVec
	disbursementLag  prometheus.Histogram
	executionErrors  *prometheus.CounterVec
	breakerState     prometheus.Gauge
	breakerFailures  prometheus.Gauge
	breakerSuccesses prometheus.Gauge

	registry *prometheus.Registry
}

// NewTreasuryCollector builds and registers the treasury-side metrics on
// reg. If reg is nil, a fresh private registry is created.
func NewTreasuryCollector(reg *prometheus.Registry) *TreasuryCollector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &TreasuryCollector{
		registry: reg,
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "treasury_balance",
			Help: "Current treasury account balance.",
		}),
		backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "treasury_disbursement_backlog",
			Help: "Number of disbursements currently in each status.",
		}, []string{"status"}),
		disbursementLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "treasury_disbursement_lag_seconds",
			Help:    "Time between a disbursement's scheduled epoch and its execution.",
			Buckets: prometheus.DefBuckets,
		}),
		executionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_execution_errors_total",
			Help: "Executor tick errors, by classified reason.",
		}, []string{"reason"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "treasury_circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=open, 2=half_open.",
		}),
		breakerFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "treasury_circuit_breaker_failures",
			Help: "Circuit breaker failure count within the rolling window.",
		}),
		breakerSuccesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "treasury_circuit_breaker_successes",
			Help: "Circuit breaker success count since entering half-open.",
		}),
	}
	reg.MustRegister(c.balance, c.backlog, c.disbursementLag, c.executionErrors, c.breakerState, c.breakerFailures, c.breakerSuccesses)
	return c
}

// Registry returns the prometheus registry backing this collector.
func (c *TreasuryCollector) Registry() *prometheus.Registry { return c.registry }

// ObserveBalance records the current treasury balance.
func (c *TreasuryCollector) ObserveBalance(balance uint64) {
	c.balance.Set(float64(balance))
}

// ObserveBacklog records the current disbursement count for each status.
func (c *TreasuryCollector) ObserveBacklog(counts map[treasury.Status]int) {
	for _, status := range []treasury.Status{
		treasury.StatusDraft, treasury.StatusVoting, treasury.StatusQueued,
		treasury.StatusTimelocked, treasury.StatusExecuted, treasury.StatusFinalized,
		treasury.StatusRolledBack,
	} {
		c.backlog.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// ObserveDisbursementLag records the epoch distance between a
// disbursement's schedule and its execution, converted to seconds at the
// host's epoch duration (the caller supplies the already-converted value).
func (c *TreasuryCollector) ObserveDisbursementLag(seconds float64) {
	c.disbursementLag.Observe(seconds)
}

// RecordExecutionError increments the execution-error counter for reason,
// one of "storage", "submission", "policy", or "graph" per spec §7.
func (c *TreasuryCollector) RecordExecutionError(reason string) {
	c.executionErrors.WithLabelValues(reason).Inc()
}

// TickCallback returns an executor.TelemetryCallback that updates the
// circuit-breaker gauges after every executor tick, matching spec §9's
// "optional function handle passed at construction" integration point.
func (c *TreasuryCollector) TickCallback() executor.TelemetryCallback {
	return func(state circuitbreaker.State, failures, successes int) {
		c.breakerState.Set(float64(state))
		c.breakerFailures.Set(float64(failures))
		c.breakerSuccesses.Set(float64(successes))
	}
}

// Package executor drives the treasury disbursement tick: it gates on the
// circuit breaker, builds the dependency graph over timelocked
// disbursements, executes the ready subset in topological order, and
// finalizes confirmed disbursements.
package executor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"rubin.dev/treasurycore/circuitbreaker"
	"rubin.dev/treasurycore/depgraph"
	"rubin.dev/treasurycore/treasury"
)

// Config holds the tick-level knobs from spec §6.5.
type Config struct {
	PerTickMax int
	TickBudget time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{PerTickMax: 16, TickBudget: 5 * time.Second}
}

// TelemetryCallback is invoked once per tick with the breaker's resulting
// state and rolling counters, keeping the breaker free of a compile-time
// telemetry dependency (spec §9).
type TelemetryCallback func(state circuitbreaker.State, failures, successes int)

// Result summarises one Tick call for logging and tests.
type Result struct {
	CircuitBreakerOpen bool
	Executed           []uint64
	Cancelled          []uint64
	WaitingBalance     []uint64
	WaitingDependency  []uint64
	SubmissionFailures []uint64
	Finalized          []uint64
	// GraphError is non-nil when this tick's dependency graph was rejected
	// for a structural reason (cycle, missing dependency, self-edge) per
	// spec §7's graph-error class. Tick then returns without an error and
	// without executing or finalizing anything; callers that wire
	// telemetry should count it under reason "graph".
	GraphError error
}

// Executor runs at most one tick at a time; callers are responsible for
// not invoking Tick concurrently (spec §4.6 "Concurrency").
type Executor struct {
	store   *treasury.Store
	sm      *treasury.StateMachine
	breaker *circuitbreaker.Breaker
	policy  treasury.Policy
	cfg     Config
	signer  treasury.Signer
	sub     treasury.Submitter
	log     *zap.Logger
	telem   TelemetryCallback
}

// New wires the executor. log defaults to a no-op logger; telem may be nil.
func New(store *treasury.Store, sm *treasury.StateMachine, breaker *circuitbreaker.Breaker, policy treasury.Policy, cfg Config, signer treasury.Signer, sub treasury.Submitter, log *zap.Logger, telem TelemetryCallback) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PerTickMax <= 0 {
		cfg.PerTickMax = DefaultConfig().PerTickMax
	}
	return &Executor{store: store, sm: sm, breaker: breaker, policy: policy, cfg: cfg, signer: signer, sub: sub, log: log, telem: telem}
}

// Tick runs one executor cycle at nowEpoch. It returns a non-nil error for
// storage-class failures (including a storage failure encountered while
// building the dependency graph) and for a disbursement memo whose
// dependency expression cannot be parsed; these are fatal to the tick and
// must not be retried within it. A structural dependency-graph error
// (cycle, missing dependency, self-edge) is not returned as an error: it is
// reported via Result.GraphError and the tick stops there, executing and
// finalizing nothing, matching spec §7's distinction between the
// storage-error and graph-error classes. Submission, cancellation, and
// waiting outcomes are reported in Result and never propagated as errors.
func (e *Executor) Tick(ctx context.Context, nowEpoch uint64) (Result, error) {
	var res Result

	if !e.breaker.AllowRequest() {
		res.CircuitBreakerOpen = true
		e.log.Warn("executor tick skipped: circuit breaker open")
		e.invokeTelemetry()
		return res, nil
	}

	if err := e.advanceScheduled(nowEpoch); err != nil {
		return res, err
	}

	timelocked, err := e.store.ListByStatus(treasury.StatusTimelocked)
	if err != nil {
		return res, err
	}

	graph, readiness, err := e.buildGraph(timelocked)
	if err != nil {
		var cycleErr *depgraph.CycleDetectedError
		var missingErr *depgraph.MissingDependencyError
		var selfEdgeErr *depgraph.SelfEdgeError
		if errors.As(err, &cycleErr) || errors.As(err, &missingErr) || errors.As(err, &selfEdgeErr) {
			e.log.Error("executor tick rejected: dependency graph error", zap.Error(err))
			res.GraphError = err
			e.invokeTelemetry()
			return res, nil
		}
		// Anything else (a storage failure reading an external dependency,
		// a memo decode failure) is fatal to the tick, matching the
		// storage-error handling used throughout the rest of this function.
		return res, err
	}

	timelockedSet := make(map[uint64]bool, len(timelocked))
	for _, d := range timelocked {
		timelockedSet[d.ID] = true
	}

	attempted := 0
	for _, id := range graph.ExecuteReady(nowEpoch, readiness) {
		// ExecuteReady walks every graph node, including the
		// referential-integrity-only nodes buildGraph added for
		// dependencies outside the timelocked working set; those are
		// not execution candidates this tick.
		if !timelockedSet[id] {
			continue
		}
		if attempted >= e.cfg.PerTickMax {
			e.log.Info("executor tick hit per_tick_max, deferring remainder", zap.Int("per_tick_max", e.cfg.PerTickMax))
			break
		}
		attempted++

		depsSatisfied, err := e.liveDepsSatisfied(id, timelocked)
		if err != nil {
			return res, err
		}

		outcome, execErr := e.sm.Execute(ctx, id, nowEpoch, depsSatisfied, e.signer, e.sub)
		switch outcome {
		case treasury.OutcomeExecuted:
			res.Executed = append(res.Executed, id)
			e.breaker.RecordSuccess()
		case treasury.OutcomeCancelled:
			res.Cancelled = append(res.Cancelled, id)
		case treasury.OutcomeWaitingBalance:
			res.WaitingBalance = append(res.WaitingBalance, id)
		case treasury.OutcomeWaitingDependency:
			res.WaitingDependency = append(res.WaitingDependency, id)
		case treasury.OutcomeSubmissionFailed:
			res.SubmissionFailures = append(res.SubmissionFailures, id)
			e.breaker.RecordFailure()
			e.log.Warn("disbursement submission failed", zap.Uint64("id", id), zap.Error(execErr))
		}
		if execErr != nil && outcome != treasury.OutcomeSubmissionFailed && outcome != treasury.OutcomeCancelled {
			// Storage-class failure inside Execute: fatal to the tick.
			return res, execErr
		}
	}

	finalized, err := e.sm.FinalizeDue(nowEpoch)
	if err != nil {
		return res, err
	}
	res.Finalized = finalized

	e.invokeTelemetry()
	return res, nil
}

func (e *Executor) invokeTelemetry() {
	if e.telem == nil {
		return
	}
	failures, successes := e.breaker.Counts()
	e.telem(e.breaker.State(), failures, successes)
}

// advanceScheduled moves every Queued disbursement whose scheduled epoch
// has arrived into Timelocked.
func (e *Executor) advanceScheduled(nowEpoch uint64) error {
	queued, err := e.store.ListByStatus(treasury.StatusQueued)
	if err != nil {
		return err
	}
	for _, d := range queued {
		if nowEpoch < d.ScheduledEpoch {
			continue
		}
		if err := e.sm.AdvanceToTimelocked(d.ID, nowEpoch); err != nil {
			return err
		}
	}
	return nil
}

// buildGraph constructs a depgraph over the timelocked working set, adding
// referential-integrity-only nodes for any dependency id that exists in
// the store but outside the working set (already Finalized, Executed,
// Voting, or RolledBack), so Build's missing-dependency check only fires
// for ids that genuinely do not exist.
func (e *Executor) buildGraph(timelocked []treasury.Disbursement) (*depgraph.Graph, map[uint64]depgraph.ReadinessInput, error) {
	working := make(map[uint64]treasury.Disbursement, len(timelocked))
	for _, d := range timelocked {
		working[d.ID] = d
	}

	var nodes []depgraph.Node
	readiness := make(map[uint64]depgraph.ReadinessInput, len(timelocked))
	resolved := make(map[uint64]bool)

	var addExternal func(id uint64) error
	addExternal = func(id uint64) error {
		if resolved[id] {
			return nil
		}
		resolved[id] = true
		if _, ok := working[id]; ok {
			return nil
		}
		d, found, err := e.store.GetDisbursement(id)
		if err != nil {
			return err
		}
		if !found {
			return nil // genuinely missing; Build will surface MissingDependencyError
		}
		nodes = append(nodes, depgraph.Node{ID: id})
		readiness[id] = depgraph.ReadinessInput{
			ScheduledEpoch:  0,
			StatusSatisfied: treasury.DependencySatisfied(d.Status, e.policy.RelaxedDependency),
		}
		return nil
	}

	for _, d := range timelocked {
		deps, err := d.Dependencies()
		if err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, depgraph.Node{ID: d.ID, Dependencies: deps})
		// A working-set member will be attempted this same tick, in
		// topological order; Execute re-checks live status immediately
		// before each attempt, so it is provisionally treated as
		// satisfiable here purely for scheduling purposes.
		readiness[d.ID] = depgraph.ReadinessInput{ScheduledEpoch: d.ScheduledEpoch, StatusSatisfied: true}
		for _, dep := range deps {
			if err := addExternal(dep); err != nil {
				return nil, nil, err
			}
		}
	}

	graph, err := depgraph.Build(nodes)
	if err != nil {
		return nil, nil, err
	}
	return graph, readiness, nil
}

// liveDepsSatisfied re-checks dependency satisfaction against the current
// store state (which reflects any executions already committed earlier in
// this same tick), rather than the start-of-tick snapshot.
func (e *Executor) liveDepsSatisfied(id uint64, timelocked []treasury.Disbursement) (bool, error) {
	var d treasury.Disbursement
	found := false
	for _, cand := range timelocked {
		if cand.ID == id {
			d = cand
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}
	deps, err := d.Dependencies()
	if err != nil {
		return false, err
	}
	for _, dep := range deps {
		cur, ok, err := e.store.GetDisbursement(dep)
		if err != nil {
			return false, err
		}
		if !ok || !treasury.DependencySatisfied(cur.Status, e.policy.RelaxedDependency) {
			return false, nil
		}
	}
	return true, nil
}

package rpc

import (
	"context"
	"errors"
	"sort"

	"rubin.dev/treasurycore/circuitbreaker"
	"rubin.dev/treasurycore/depgraph"
	"rubin.dev/treasurycore/treasury"
)

// Service implements the read and admin methods of spec §6.3 over a store,
// state machine, and circuit breaker. It holds no transport concerns; a host
// RPC layer wraps Service's methods with framing and authorisation.
type Service struct {
	store   *treasury.Store
	sm      *treasury.StateMachine
	breaker *circuitbreaker.Breaker
	relaxed bool
	lastErr string
}

// New builds a Service. relaxed mirrors the executor's dependency policy so
// ValidateDependencies agrees with what the executor will actually do.
func New(store *treasury.Store, sm *treasury.StateMachine, breaker *circuitbreaker.Breaker, relaxed bool) *Service {
	return &Service{store: store, sm: sm, breaker: breaker, relaxed: relaxed}
}

// NoteExecutorError records the most recent executor-tick error for
// ExecutorStatus's LastError field. The executor's caller is expected to
// invoke this after a failed Tick; Service itself never drives ticks.
func (s *Service) NoteExecutorError(err error) {
	if err == nil {
		s.lastErr = ""
		return
	}
	s.lastErr = err.Error()
}

// Balance answers gov.treasury.balance().
func (s *Service) Balance() (BalanceView, error) {
	balance, err := s.store.CurrentBalance()
	if err != nil {
		return BalanceView{}, err
	}
	return BalanceView{Balance: balance, LastSnapshot: balance}, nil
}

// ListDisbursements answers gov.treasury.list_disbursements(filter, cursor, limit).
// Results are ordered ascending by ID; cursor is the smallest ID to include.
func (s *Service) ListDisbursements(filter DisbursementFilter, cursor uint64, limit int) (DisbursementPage, error) {
	var (
		all []treasury.Disbursement
		err error
	)
	if filter.Status != "" {
		all, err = s.store.ListByStatus(filter.Status)
	} else {
		all, err = s.store.ListDisbursements()
	}
	if err != nil {
		return DisbursementPage{}, err
	}

	if limit <= 0 {
		limit = len(all)
	}
	page := DisbursementPage{}
	for _, d := range all {
		if d.ID < cursor {
			continue
		}
		if len(page.Items) == limit {
			page.NextCursor = d.ID
			break
		}
		page.Items = append(page.Items, d)
	}
	return page, nil
}

// GetDisbursement answers gov.treasury.get_disbursement(id).
func (s *Service) GetDisbursement(id uint64) (DisbursementView, error) {
	d, ok, err := s.store.GetDisbursement(id)
	if err != nil {
		return DisbursementView{}, err
	}
	if !ok {
		return DisbursementView{}, errors.New("rpc: disbursement not found")
	}
	deps, err := d.Dependencies()
	if err != nil {
		return DisbursementView{}, err
	}
	return DisbursementView{Disbursement: d, Dependencies: deps}, nil
}

// ValidateDependencies answers gov.treasury.validate_dependencies(id). It
// re-derives the full dependency graph from every stored disbursement so a
// reported cycle or missing id reflects the live store, not just id's
// immediate prerequisites.
func (s *Service) ValidateDependencies(id uint64) (DependencyValidation, error) {
	d, ok, err := s.store.GetDisbursement(id)
	if err != nil {
		return DependencyValidation{}, err
	}
	if !ok {
		return DependencyValidation{}, errors.New("rpc: disbursement not found")
	}
	deps, err := d.Dependencies()
	if err != nil {
		return DependencyValidation{}, err
	}

	all, err := s.store.ListDisbursements()
	if err != nil {
		return DependencyValidation{}, err
	}
	byID := make(map[uint64]treasury.Disbursement, len(all))
	nodes := make([]depgraph.Node, 0, len(all))
	for _, other := range all {
		byID[other.ID] = other
		otherDeps, err := other.Dependencies()
		if err != nil {
			continue
		}
		nodes = append(nodes, depgraph.Node{ID: other.ID, Dependencies: otherDeps})
	}

	if _, err := depgraph.Build(nodes); err != nil {
		var cycleErr *depgraph.CycleDetectedError
		if errors.As(err, &cycleErr) {
			return DependencyValidation{Ok: false, CyclePath: cycleErr.Path}, nil
		}
		var missingErr *depgraph.MissingDependencyError
		if errors.As(err, &missingErr) {
			return DependencyValidation{Ok: false, Missing: []uint64{missingErr.ID}}, nil
		}
		return DependencyValidation{}, err
	}

	var satisfied, missing []uint64
	for _, depID := range deps {
		prereq, ok := byID[depID]
		if !ok {
			missing = append(missing, depID)
			continue
		}
		if treasury.DependencySatisfied(prereq.Status, s.relaxed) {
			satisfied = append(satisfied, depID)
		}
	}
	sort.Slice(satisfied, func(i, j int) bool { return satisfied[i] < satisfied[j] })

	return DependencyValidation{
		Ok:        len(missing) == 0,
		Satisfied: satisfied,
		Missing:   missing,
	}, nil
}

// ExecutorStatus answers gov.treasury.executor_status().
func (s *Service) ExecutorStatus() (ExecutorStatus, error) {
	timelocked, err := s.store.ListByStatus(treasury.StatusTimelocked)
	if err != nil {
		return ExecutorStatus{}, err
	}
	failures, successes := s.breaker.Counts()
	return ExecutorStatus{
		CircuitState: s.breaker.State(),
		Failures:     failures,
		Successes:    successes,
		LastError:    s.lastErr,
		PendingCount: len(timelocked),
	}, nil
}

// ExecuteDisbursement answers the gated admin method
// gov.treasury.execute_disbursement(id). Authorisation is the host's
// concern; Service assumes the caller has already been cleared. Dependency
// satisfaction is re-checked live against the store, exactly as the
// executor's own tick loop does.
func (s *Service) ExecuteDisbursement(ctx context.Context, req ExecuteRequest, signer treasury.Signer, submitter treasury.Submitter) (treasury.ExecutionOutcome, error) {
	d, ok, err := s.store.GetDisbursement(req.ID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New("rpc: disbursement not found")
	}
	deps, err := d.Dependencies()
	if err != nil {
		return 0, err
	}
	satisfied := true
	for _, depID := range deps {
		prereq, ok, err := s.store.GetDisbursement(depID)
		if err != nil {
			return 0, err
		}
		if !ok || !treasury.DependencySatisfied(prereq.Status, s.relaxed) {
			satisfied = false
			break
		}
	}
	return s.sm.Execute(ctx, req.ID, req.NowEpoch, satisfied, signer, submitter)
}

// RollbackDisbursement answers the gated admin method
// gov.treasury.rollback_disbursement(id, reason).
func (s *Service) RollbackDisbursement(req RollbackRequest) (RollbackResult, error) {
	ids, err := s.sm.Rollback(req.NowEpoch, req.ID, req.Reason)
	if err != nil {
		return RollbackResult{}, err
	}
	return RollbackResult{RolledBack: ids}, nil
}

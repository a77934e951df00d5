package treasury

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Signer produces a signed intent for a disbursement about to execute.
// Implementations may hold an HSM, a software key, or a remote signer;
// the state machine only ever sees the narrow interface.
type Signer interface {
	Sign(d Disbursement) ([]byte, error)
}

// Submitter hands a signed intent to the chain and returns the resulting
// transaction hash. Submit is the one suspension point in a transition:
// it may block on network I/O and must honour ctx's deadline.
type Submitter interface {
	Submit(ctx context.Context, intent []byte) (txHash string, err error)
}

// Policy holds the configurable knobs a transition needs that are not
// per-disbursement: dependency-status strictness, confirmation delay, and
// rollback window. See spec §6.5 and Open Question #1.
type Policy struct {
	// RelaxedDependency, when true, accepts a prerequisite in Executed
	// (not just Finalized) as satisfied. Default false (strict).
	RelaxedDependency    bool
	ConfirmationEpochs   uint64
	RollbackWindowEpochs uint64
}

// DefaultPolicy returns the production defaults from spec §6.5.
func DefaultPolicy() Policy {
	return Policy{
		RelaxedDependency:    false,
		ConfirmationEpochs:   1,
		RollbackWindowEpochs: 1024,
	}
}

// ExecutionOutcome classifies the result of attempting Timelocked ->
// Executed, matching the error-classification table in spec §4.6/§7.
type ExecutionOutcome int

const (
	OutcomeExecuted ExecutionOutcome = iota
	OutcomeWaitingDependency
	OutcomeWaitingBalance
	OutcomeSubmissionFailed
	OutcomeCancelled
)

func (o ExecutionOutcome) String() string {
	switch o {
	case OutcomeExecuted:
		return "executed"
	case OutcomeWaitingDependency:
		return "waiting_dependency"
	case OutcomeWaitingBalance:
		return "waiting_balance"
	case OutcomeSubmissionFailed:
		return "submission_failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StateMachine owns disbursement transitions and their ledger effects.
// Every transition is committed through Store.Atomically, so it either
// lands in full or not at all.
type StateMachine struct {
	store  *Store
	policy Policy
	now    func() time.Time
}

// NewStateMachine wires a Store and Policy. now defaults to time.Now.
func NewStateMachine(store *Store, policy Policy, now func() time.Time) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{store: store, policy: policy, now: now}
}

func (sm *StateMachine) load(id uint64) (Disbursement, error) {
	d, ok, err := sm.store.GetDisbursement(id)
	if err != nil {
		return Disbursement{}, err
	}
	if !ok {
		return Disbursement{}, fmt.Errorf("treasury: disbursement %d not found", id)
	}
	return d, nil
}

func (sm *StateMachine) requireStatus(d Disbursement, want Status, to Status) error {
	if d.Status != want {
		return &ErrInvalidTransition{From: d.Status, To: to}
	}
	return nil
}

// OpenVoting moves a disbursement from Draft to Voting.
func (sm *StateMachine) OpenVoting(id uint64) error {
	d, err := sm.load(id)
	if err != nil {
		return err
	}
	if err := sm.requireStatus(d, StatusDraft, StatusVoting); err != nil {
		return err
	}
	d.Status = StatusVoting
	d.LastStatusChange = sm.now()
	return sm.store.Atomically(func(b *Batch) error { return b.PutDisbursement(d) })
}

// Enqueue moves a disbursement from Voting to Queued once quorum has
// been reached (the quorum check itself belongs to governance, not this
// package).
func (sm *StateMachine) Enqueue(id uint64) error {
	d, err := sm.load(id)
	if err != nil {
		return err
	}
	if err := sm.requireStatus(d, StatusVoting, StatusQueued); err != nil {
		return err
	}
	d.Status = StatusQueued
	d.LastStatusChange = sm.now()
	return sm.store.Atomically(func(b *Batch) error { return b.PutDisbursement(d) })
}

// AdvanceToTimelocked moves a disbursement from Queued to Timelocked once
// nowEpoch reaches its scheduled epoch, recording a zero-delta history
// snapshot alongside the status change per spec §4.5.
func (sm *StateMachine) AdvanceToTimelocked(id uint64, nowEpoch uint64) error {
	d, err := sm.load(id)
	if err != nil {
		return err
	}
	if err := sm.requireStatus(d, StatusQueued, StatusTimelocked); err != nil {
		return err
	}
	if nowEpoch < d.ScheduledEpoch {
		return fmt.Errorf("treasury: disbursement %d not yet scheduled (epoch %d < %d)", id, nowEpoch, d.ScheduledEpoch)
	}
	balance, err := sm.store.CurrentBalance()
	if err != nil {
		return err
	}
	d.Status = StatusTimelocked
	d.WaitingReason = ""
	d.LastStatusChange = sm.now()
	now := sm.now()
	return sm.store.Atomically(func(b *Batch) error {
		if err := b.PutDisbursement(d); err != nil {
			return err
		}
		return b.PutBalanceSnapshotAuto(Snapshot{Epoch: nowEpoch, Balance: balance, Delta: 0, DisbursementID: d.ID, At: now})
	})
}

// Execute attempts the Timelocked -> Executed transition: dependency and
// balance checks are policy errors that leave the disbursement Timelocked
// with a waiting reason; signer/submitter failures are submission errors
// classified for the circuit breaker; success commits the status change,
// tx hash, and balance debit in a single batch.
func (sm *StateMachine) Execute(ctx context.Context, id uint64, nowEpoch uint64, depsSatisfied bool, signer Signer, submitter Submitter) (ExecutionOutcome, error) {
	d, err := sm.load(id)
	if err != nil {
		return 0, err
	}
	if err := sm.requireStatus(d, StatusTimelocked, StatusExecuted); err != nil {
		return 0, err
	}

	if !depsSatisfied {
		d.WaitingReason = "unmet_dependency"
		if err := sm.store.Atomically(func(b *Batch) error { return b.PutDisbursement(d) }); err != nil {
			return 0, err
		}
		return OutcomeWaitingDependency, nil
	}

	balance, err := sm.store.CurrentBalance()
	if err != nil {
		return 0, err
	}
	if balance < d.Amount {
		d.WaitingReason = "insufficient_balance"
		if err := sm.store.Atomically(func(b *Batch) error { return b.PutDisbursement(d) }); err != nil {
			return 0, err
		}
		return OutcomeWaitingBalance, nil
	}

	intent, err := signer.Sign(d)
	if err != nil {
		return OutcomeSubmissionFailed, &SubmissionError{Err: err}
	}
	txHash, err := submitter.Submit(ctx, intent)
	if err != nil {
		var cancelled *CancelledError
		if errors.As(err, &cancelled) {
			d.Status = StatusRolledBack
			d.RollbackReason = cancelled.Reason
			d.LastStatusChange = sm.now()
			if perr := sm.store.Atomically(func(b *Batch) error { return b.PutDisbursement(d) }); perr != nil {
				return 0, perr
			}
			return OutcomeCancelled, nil
		}
		return OutcomeSubmissionFailed, &SubmissionError{Err: err}
	}

	now := sm.now()
	newBalance := balance - d.Amount
	d.Status = StatusExecuted
	d.WaitingReason = ""
	d.TxHash = txHash
	d.ExecutedAt = now
	d.ExecutedEpoch = nowEpoch
	d.LastStatusChange = now

	err = sm.store.Atomically(func(b *Batch) error {
		if err := b.PutDisbursement(d); err != nil {
			return err
		}
		if err := b.PutBalanceSnapshotAuto(Snapshot{Epoch: nowEpoch, Balance: newBalance, Delta: -int64(d.Amount), DisbursementID: d.ID, At: now}); err != nil {
			return err
		}
		return b.PutBalance(newBalance)
	})
	if err != nil {
		return 0, err
	}
	return OutcomeExecuted, nil
}

// FinalizeDue transitions every Executed disbursement whose confirmation
// window has elapsed (nowEpoch >= ExecutedEpoch + ConfirmationEpochs) to
// Finalized, and returns their ids.
func (sm *StateMachine) FinalizeDue(nowEpoch uint64) ([]uint64, error) {
	executed, err := sm.store.ListByStatus(StatusExecuted)
	if err != nil {
		return nil, err
	}
	var finalized []uint64
	now := sm.now()
	for _, d := range executed {
		if nowEpoch < d.ExecutedEpoch+sm.policy.ConfirmationEpochs {
			continue
		}
		d.Status = StatusFinalized
		d.LastStatusChange = now
		if err := sm.store.Atomically(func(b *Batch) error { return b.PutDisbursement(d) }); err != nil {
			return finalized, err
		}
		finalized = append(finalized, d.ID)
	}
	return finalized, nil
}

// Cancel moves a Queued or Timelocked disbursement directly to
// RolledBack. There is no ledger effect: funds were never debited.
func (sm *StateMachine) Cancel(id uint64, reason string) error {
	d, err := sm.load(id)
	if err != nil {
		return err
	}
	if d.Status != StatusQueued && d.Status != StatusTimelocked {
		return &ErrInvalidTransition{From: d.Status, To: StatusRolledBack}
	}
	d.Status = StatusRolledBack
	d.RollbackReason = reason
	d.LastStatusChange = sm.now()
	return sm.store.Atomically(func(b *Batch) error { return b.PutDisbursement(d) })
}

// Rollback reverses an Executed disbursement within the configured
// rollback window, crediting its amount back to the treasury, and
// forward-propagates to every non-terminal disbursement that (directly or
// transitively) declared it as a dependency, compensating any of those
// already Executed in the same batch. Returns every id rolled back
// (the root included), sorted ascending by id.
func (sm *StateMachine) Rollback(nowEpoch uint64, id uint64, reason string) ([]uint64, error) {
	all, err := sm.store.ListDisbursements()
	if err != nil {
		return nil, err
	}
	byID := make(map[uint64]Disbursement, len(all))
	dependents := make(map[uint64][]uint64)
	for _, d := range all {
		byID[d.ID] = d
		deps, err := d.Dependencies()
		if err != nil {
			continue
		}
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], d.ID)
		}
	}

	root, ok := byID[id]
	if !ok {
		return nil, fmt.Errorf("treasury: disbursement %d not found", id)
	}
	if root.Status != StatusExecuted {
		return nil, &ErrInvalidTransition{From: root.Status, To: StatusRolledBack}
	}
	if nowEpoch > root.ExecutedEpoch+sm.policy.RollbackWindowEpochs {
		return nil, fmt.Errorf("treasury: rollback window elapsed for disbursement %d (executed epoch %d, now %d)", id, root.ExecutedEpoch, nowEpoch)
	}

	cascade := []uint64{id}
	seen := map[uint64]bool{id: true}
	queue := []uint64{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[cur] {
			d, ok := byID[dep]
			if !ok || seen[dep] || d.Status.IsTerminal() {
				continue
			}
			seen[dep] = true
			cascade = append(cascade, dep)
			queue = append(queue, dep)
		}
	}
	sort.Slice(cascade, func(i, j int) bool { return cascade[i] < cascade[j] })

	balance, err := sm.store.CurrentBalance()
	if err != nil {
		return nil, err
	}
	now := sm.now()

	err = sm.store.Atomically(func(b *Batch) error {
		for _, rid := range cascade {
			d := byID[rid]
			rollbackReason := reason
			if rid != id {
				rollbackReason = "cascade"
			}
			if d.Status == StatusExecuted {
				balance += d.Amount
				if err := b.PutBalanceSnapshotAuto(Snapshot{Epoch: nowEpoch, Balance: balance, Delta: int64(d.Amount), DisbursementID: d.ID, At: now}); err != nil {
					return err
				}
			}
			d.Status = StatusRolledBack
			d.RollbackReason = rollbackReason
			d.LastStatusChange = now
			if err := b.PutDisbursement(d); err != nil {
				return err
			}
		}
		return b.PutBalance(balance)
	})
	if err != nil {
		return nil, err
	}
	return cascade, nil
}

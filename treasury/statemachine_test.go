package treasury

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

type fakeSigner struct{}

func (fakeSigner) Sign(d Disbursement) ([]byte, error) {
	return []byte(d.Destination), nil
}

type fakeSubmitter struct {
	fail bool
	n    int
}

func (s *fakeSubmitter) Submit(ctx context.Context, intent []byte) (string, error) {
	s.n++
	if s.fail {
		return "", context.DeadlineExceeded
	}
	return "tx" + string(intent), nil
}

func newTestMachine(t *testing.T) (*StateMachine, *Store) {
	t.Helper()
	dir := t.TempDir()
	kv, err := OpenBoltKV(filepath.Join(dir, "treasury.db"))
	if err != nil {
		t.Fatalf("OpenBoltKV: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	store := NewStore(kv)
	if err := store.Atomically(func(b *Batch) error { return b.PutBalance(1000) }); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	clock := time.Unix(1_700_000_000, 0)
	sm := NewStateMachine(store, DefaultPolicy(), func() time.Time { return clock })
	return sm, store
}

func putTimelocked(t *testing.T, store *Store, id uint64, dest string, amount uint64, memo string) {
	t.Helper()
	d := Disbursement{ID: id, Destination: dest, Amount: amount, Memo: memo, Status: StatusTimelocked}
	if err := store.Atomically(func(b *Batch) error { return b.PutDisbursement(d) }); err != nil {
		t.Fatalf("seed disbursement %d: %v", id, err)
	}
}

// TestDependencyExecutionOrderAndBalance is scenario 3 of the spec's
// end-to-end scenarios: three disbursements, each depending on the
// previous, executed in order with balances decrementing accordingly.
func TestDependencyExecutionOrderAndBalance(t *testing.T) {
	sm, store := newTestMachine(t)
	putTimelocked(t, store, 1, "A", 10, "")
	putTimelocked(t, store, 2, "B", 10, "deps=1")
	putTimelocked(t, store, 3, "C", 10, "deps=1,2")

	sub := &fakeSubmitter{}
	ctx := context.Background()

	outcome, err := sm.Execute(ctx, 1, 10, true, fakeSigner{}, sub)
	if err != nil || outcome != OutcomeExecuted {
		t.Fatalf("execute 1: outcome=%v err=%v", outcome, err)
	}
	bal, _ := store.CurrentBalance()
	if bal != 990 {
		t.Fatalf("after 1: balance=%d, want 990", bal)
	}

	outcome, err = sm.Execute(ctx, 2, 10, true, fakeSigner{}, sub)
	if err != nil || outcome != OutcomeExecuted {
		t.Fatalf("execute 2: outcome=%v err=%v", outcome, err)
	}
	bal, _ = store.CurrentBalance()
	if bal != 980 {
		t.Fatalf("after 2: balance=%d, want 980", bal)
	}

	outcome, err = sm.Execute(ctx, 3, 10, true, fakeSigner{}, sub)
	if err != nil || outcome != OutcomeExecuted {
		t.Fatalf("execute 3: outcome=%v err=%v", outcome, err)
	}
	bal, _ = store.CurrentBalance()
	if bal != 970 {
		t.Fatalf("after 3: balance=%d, want 970", bal)
	}
}

// TestCascadingRollback is scenario 4: rolling back disbursement 1 cascades
// to 2 and 3, credits 30 back to the treasury, and leaves three
// compensating history snapshots.
func TestCascadingRollback(t *testing.T) {
	sm, store := newTestMachine(t)
	putTimelocked(t, store, 1, "A", 10, "")
	putTimelocked(t, store, 2, "B", 10, "deps=1")
	putTimelocked(t, store, 3, "C", 10, "deps=1,2")

	sub := &fakeSubmitter{}
	ctx := context.Background()
	for _, id := range []uint64{1, 2, 3} {
		if _, err := sm.Execute(ctx, id, 10, true, fakeSigner{}, sub); err != nil {
			t.Fatalf("execute %d: %v", id, err)
		}
	}
	balBefore, _ := store.CurrentBalance()
	if balBefore != 970 {
		t.Fatalf("precondition: balance=%d, want 970", balBefore)
	}

	rolled, err := sm.Rollback(10, 1, "policy")
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(rolled) != 3 {
		t.Fatalf("got rolled=%v, want 3 ids", rolled)
	}
	want := map[uint64]bool{1: true, 2: true, 3: true}
	for _, id := range rolled {
		if !want[id] {
			t.Fatalf("unexpected id %d in cascade %v", id, rolled)
		}
	}

	balAfter, err := store.CurrentBalance()
	if err != nil {
		t.Fatalf("CurrentBalance: %v", err)
	}
	if balAfter != 1000 {
		t.Fatalf("after rollback: balance=%d, want 1000 (970+30)", balAfter)
	}

	d1, _, _ := store.GetDisbursement(1)
	d2, _, _ := store.GetDisbursement(2)
	d3, _, _ := store.GetDisbursement(3)
	if d1.Status != StatusRolledBack || d1.RollbackReason != "policy" {
		t.Fatalf("d1 = %+v", d1)
	}
	if d2.Status != StatusRolledBack || d2.RollbackReason != "cascade" {
		t.Fatalf("d2 = %+v", d2)
	}
	if d3.Status != StatusRolledBack || d3.RollbackReason != "cascade" {
		t.Fatalf("d3 = %+v", d3)
	}
}

func TestRollbackRejectsOutsideWindow(t *testing.T) {
	sm, store := newTestMachine(t)
	putTimelocked(t, store, 1, "A", 10, "")
	if _, err := sm.Execute(context.Background(), 1, 10, true, fakeSigner{}, &fakeSubmitter{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sm.policy.RollbackWindowEpochs = 5
	if _, err := sm.Rollback(16, 1, "policy"); err == nil {
		t.Fatalf("expected rollback window error")
	}
	if _, err := sm.Rollback(15, 1, "policy"); err != nil {
		t.Fatalf("expected rollback to succeed at window boundary: %v", err)
	}
}

func TestRollbackRejectsFinalizedAsTerminal(t *testing.T) {
	sm, store := newTestMachine(t)
	putTimelocked(t, store, 1, "A", 10, "")
	if _, err := sm.Execute(context.Background(), 1, 10, true, fakeSigner{}, &fakeSubmitter{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	finalized, err := sm.FinalizeDue(11)
	if err != nil || len(finalized) != 1 {
		t.Fatalf("FinalizeDue: finalized=%v err=%v", finalized, err)
	}
	if _, err := sm.Rollback(11, 1, "policy"); err == nil {
		t.Fatalf("expected rollback of Finalized disbursement to be rejected")
	}
	d, _, _ := store.GetDisbursement(1)
	if d.Status != StatusFinalized {
		t.Fatalf("got status %v, want Finalized", d.Status)
	}
}

func TestExecuteWaitingOnUnmetDependency(t *testing.T) {
	sm, store := newTestMachine(t)
	putTimelocked(t, store, 1, "A", 10, "deps=2")
	outcome, err := sm.Execute(context.Background(), 1, 10, false, fakeSigner{}, &fakeSubmitter{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != OutcomeWaitingDependency {
		t.Fatalf("got outcome %v, want waiting_dependency", outcome)
	}
	d, _, _ := store.GetDisbursement(1)
	if d.Status != StatusTimelocked || d.WaitingReason != "unmet_dependency" {
		t.Fatalf("got %+v", d)
	}
}

func TestExecuteWaitingOnInsufficientBalance(t *testing.T) {
	sm, store := newTestMachine(t)
	putTimelocked(t, store, 1, "A", 5000, "")
	outcome, err := sm.Execute(context.Background(), 1, 10, true, fakeSigner{}, &fakeSubmitter{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != OutcomeWaitingBalance {
		t.Fatalf("got outcome %v, want waiting_balance", outcome)
	}
	d, _, _ := store.GetDisbursement(1)
	if d.Status != StatusTimelocked || d.WaitingReason != "insufficient_balance" {
		t.Fatalf("got %+v", d)
	}
	bal, _ := store.CurrentBalance()
	if bal != 1000 {
		t.Fatalf("balance should be unchanged, got %d", bal)
	}
}

func TestExecuteSubmissionFailureDoesNotChangeStatus(t *testing.T) {
	sm, store := newTestMachine(t)
	putTimelocked(t, store, 1, "A", 10, "")
	outcome, err := sm.Execute(context.Background(), 1, 10, true, fakeSigner{}, &fakeSubmitter{fail: true})
	if err == nil {
		t.Fatalf("expected submission error")
	}
	if outcome != OutcomeSubmissionFailed {
		t.Fatalf("got outcome %v, want submission_failed", outcome)
	}
	var subErr *SubmissionError
	if se, ok := err.(*SubmissionError); ok {
		subErr = se
	}
	if subErr == nil {
		t.Fatalf("expected *SubmissionError, got %T", err)
	}
	d, _, _ := store.GetDisbursement(1)
	if d.Status != StatusTimelocked {
		t.Fatalf("status should be unchanged, got %v", d.Status)
	}
}

type cancellingSubmitter struct{ reason string }

func (s cancellingSubmitter) Submit(ctx context.Context, intent []byte) (string, error) {
	return "", &CancelledError{Reason: s.reason}
}

func TestExecuteSubmitterCancellationRollsBackWithoutBreakerCount(t *testing.T) {
	sm, store := newTestMachine(t)
	putTimelocked(t, store, 1, "A", 10, "")
	outcome, err := sm.Execute(context.Background(), 1, 10, true, fakeSigner{}, cancellingSubmitter{reason: "policy_violation"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != OutcomeCancelled {
		t.Fatalf("got outcome %v, want cancelled", outcome)
	}
	d, _, _ := store.GetDisbursement(1)
	if d.Status != StatusRolledBack || d.RollbackReason != "policy_violation" {
		t.Fatalf("got %+v", d)
	}
}

func TestCancelLegalOnlyFromQueuedOrTimelocked(t *testing.T) {
	sm, store := newTestMachine(t)
	d := Disbursement{ID: 1, Status: StatusDraft}
	if err := store.Atomically(func(b *Batch) error { return b.PutDisbursement(d) }); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := sm.Cancel(1, "abandoned"); err == nil {
		t.Fatalf("expected error cancelling a Draft disbursement")
	}

	putTimelocked(t, store, 2, "B", 10, "")
	if err := sm.Cancel(2, "abandoned"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _, _ := store.GetDisbursement(2)
	if got.Status != StatusRolledBack || got.RollbackReason != "abandoned" {
		t.Fatalf("got %+v", got)
	}
}

func TestFinalizeDueRespectsConfirmationEpochs(t *testing.T) {
	sm, store := newTestMachine(t)
	putTimelocked(t, store, 1, "A", 10, "")
	if _, err := sm.Execute(context.Background(), 1, 10, true, fakeSigner{}, &fakeSubmitter{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if finalized, err := sm.FinalizeDue(10); err != nil || len(finalized) != 0 {
		t.Fatalf("expected nothing due yet: finalized=%v err=%v", finalized, err)
	}
	finalized, err := sm.FinalizeDue(11)
	if err != nil || len(finalized) != 1 || finalized[0] != 1 {
		t.Fatalf("expected [1] due at epoch 11: finalized=%v err=%v", finalized, err)
	}
	d, _, _ := store.GetDisbursement(1)
	if d.Status != StatusFinalized {
		t.Fatalf("got status %v", d.Status)
	}
}

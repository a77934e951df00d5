// Package treasury owns the set of governance-approved disbursements and
// applies status transitions atomically with their ledger effects.
package treasury

import (
	"time"

	"rubin.dev/treasurycore/depgraph"
)

// Status is a disbursement's position in the lifecycle DAG:
//
//	Draft -> Voting -> Queued -> Timelocked -> Executed -> Finalized
//	                      |           |            |
//	                      +-- cancel -+            +-- rollback (window) --> RolledBack
//
// Finalized and RolledBack are terminal; RolledBack is reachable from
// Executed (explicit rollback, within the rollback window) or from Queued /
// Timelocked (cancellation).
type Status string

const (
	StatusDraft      Status = "draft"
	StatusVoting     Status = "voting"
	StatusQueued     Status = "queued"
	StatusTimelocked Status = "timelocked"
	StatusExecuted   Status = "executed"
	StatusFinalized  Status = "finalized"
	StatusRolledBack Status = "rolled_back"
)

// IsTerminal reports whether s admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusFinalized || s == StatusRolledBack
}

// Disbursement is a persistent treasury transfer record.
type Disbursement struct {
	ID             uint64 `json:"id"`
	Destination    string `json:"destination"`
	Amount         uint64 `json:"amount"`
	Memo           string `json:"memo"`
	ScheduledEpoch uint64 `json:"scheduled_epoch"`
	Status         Status `json:"status"`
	WaitingReason  string `json:"waiting_reason,omitempty"` // set by Execute while Status==Timelocked and blocked on balance/deps

	CreatedAt        time.Time `json:"created_at"`
	LastStatusChange time.Time `json:"last_status_change"`
	ExecutedAt       time.Time `json:"executed_at,omitempty"`
	ExecutedEpoch    uint64    `json:"executed_epoch,omitempty"` // epoch at which Execute committed; rollback-window and confirmation checks are epoch-distance, not wall-clock

	TxHash         string `json:"tx_hash,omitempty"`
	RollbackReason string `json:"rollback_reason,omitempty"`
}

// Dependencies returns the ordered prerequisite ids parsed from d.Memo via
// the canonical depgraph parser. This is the only place in the treasury
// package that reads dependency structure out of a memo; every other
// surface (executor, validator) calls depgraph.ParseDependencies directly
// or goes through this method.
func (d Disbursement) Dependencies() ([]uint64, error) {
	return depgraph.ParseDependencies(d.Memo)
}

// DependencySatisfied reports whether prereqStatus counts as "satisfied"
// for the purpose of unblocking a dependent, under the given policy.
func DependencySatisfied(prereqStatus Status, relaxed bool) bool {
	if prereqStatus == StatusFinalized {
		return true
	}
	if relaxed && prereqStatus == StatusExecuted {
		return true
	}
	return false
}

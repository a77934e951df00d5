// Package rpc defines the typed, host-agnostic record shapes returned by
// the treasury core's read and admin methods (spec §6.3). It does not
// implement RPC framing or transport — that is the embedding host's
// concern — it only gives the host concrete Go types to marshal.
package rpc

import (
	"time"

	"rubin.dev/treasurycore/circuitbreaker"
	"rubin.dev/treasurycore/treasury"
)

// BalanceView answers gov.treasury.balance().
type BalanceView struct {
	Balance      uint64    `json:"balance"`
	LastSnapshot uint64    `json:"last_snapshot"`
	ObservedAt   time.Time `json:"observed_at"`
}

// DisbursementFilter narrows gov.treasury.list_disbursements. A zero value
// matches every disbursement. Status, if non-empty, restricts to one
// lifecycle state.
type DisbursementFilter struct {
	Status treasury.Status `json:"status,omitempty"`
}

// DisbursementPage is one page of gov.treasury.list_disbursements. NextCursor
// is the ID to pass as the next call's starting point; it is zero once
// there are no further pages.
type DisbursementPage struct {
	Items      []treasury.Disbursement `json:"items"`
	NextCursor uint64                  `json:"next_cursor,omitempty"`
}

// DisbursementView answers gov.treasury.get_disbursement(id): the stored
// record plus its parsed dependency ids, so a caller does not need to
// re-parse the memo field itself.
type DisbursementView struct {
	Disbursement treasury.Disbursement `json:"disbursement"`
	Dependencies []uint64              `json:"dependencies"`
}

// DependencyValidation answers gov.treasury.validate_dependencies(id). Ok
// is false whenever Missing is non-empty or CyclePath is non-empty; Satisfied
// lists the subset of Dependencies (from the matching DisbursementView) that
// are currently satisfied under the active policy.
type DependencyValidation struct {
	Ok        bool     `json:"ok"`
	Satisfied []uint64 `json:"satisfied"`
	Missing   []uint64 `json:"missing,omitempty"`
	CyclePath []uint64 `json:"cycle_path,omitempty"`
}

// ExecutorStatus answers gov.treasury.executor_status().
type ExecutorStatus struct {
	CircuitState circuitbreaker.State `json:"circuit_state"`
	Failures     int                  `json:"failures"`
	Successes    int                  `json:"successes"`
	LastError    string               `json:"last_error,omitempty"`
	PendingCount int                  `json:"pending_count"`
}

// ExecuteRequest is the admin payload for gov.treasury.execute_disbursement.
// Authorisation is the host's concern; by the time this reaches the core,
// the caller is assumed to be authorised.
type ExecuteRequest struct {
	ID       uint64 `json:"id"`
	NowEpoch uint64 `json:"now_epoch"`
}

// RollbackRequest is the admin payload for gov.treasury.rollback_disbursement.
type RollbackRequest struct {
	ID       uint64 `json:"id"`
	NowEpoch uint64 `json:"now_epoch"`
	Reason   string `json:"reason"`
}

// RollbackResult reports the cascade a rollback produced.
type RollbackResult struct {
	RolledBack []uint64 `json:"rolled_back"`
}

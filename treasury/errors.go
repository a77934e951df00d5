package treasury

import (
	"errors"
	"fmt"
)

// ErrInsufficientBalance is a policy error: it moves a disbursement into a
// waiting sub-status rather than failing the tick, and is never counted
// against the circuit breaker.
var ErrInsufficientBalance = errors.New("treasury: insufficient balance")

// ErrUnmetDependency is a policy error with the same handling as
// ErrInsufficientBalance.
var ErrUnmetDependency = errors.New("treasury: unmet dependency")

// ErrInvalidTransition is returned when a caller requests a status
// transition that is not legal from the disbursement's current status.
type ErrInvalidTransition struct {
	From, To Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("treasury: invalid transition %s -> %s", e.From, e.To)
}

// StorageError wraps a KeyValue backend failure. Per spec §7, storage
// errors are fatal to the enclosing tick and are never counted against the
// circuit breaker.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("treasury: storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CancelledError is returned by a Submitter when the chain itself rejects
// a disbursement for policy reasons (not a transient failure). Execute
// treats this as a cancellation: the disbursement moves to RolledBack and
// the circuit breaker is not charged.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("treasury: disbursement cancelled: %s", e.Reason)
}

// SubmissionError wraps a signer or submitter failure (RPC timeout,
// network). Per spec §7, submission errors count against the circuit
// breaker and are silently retried on a later tick once it permits.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("treasury: submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

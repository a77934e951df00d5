// Package market implements the per-market pending receipt buffer: an
// exclusive-append / exclusive-drain container with exactly-once drain
// semantics. One Buffer instance exists per market kind.
package market

import (
	"fmt"
	"sync"

	"rubin.dev/treasurycore/receipt"
)

// DefaultMaxPending is the process-wide buffer-size cap applied when a
// Buffer is constructed with NewBuffer's zero-value maxPending argument.
const DefaultMaxPending = 100_000

// ErrBufferFull is returned by Push when the buffer-size cap is exceeded.
// Per the market/buffer contract (spec §4.2), the calling market must treat
// this as an operational error and not proceed with the settlement it was
// about to record, preserving atomicity between ledger mutation and
// receipt emission.
var ErrBufferFull = fmt.Errorf("market: buffer full")

// Buffer is an ordered, mutex-guarded sequence of receipts for one market.
// Multiple producers may call Push concurrently; exactly one consumer (the
// block assembly bridge) is expected to call Drain per block.
type Buffer struct {
	mu          sync.Mutex
	kind        receipt.Kind
	items       []receipt.Receipt
	maxPending  int
	currentTick uint64
}

// NewBuffer constructs an empty buffer for the given market kind. A
// maxPending of 0 uses DefaultMaxPending.
func NewBuffer(kind receipt.Kind, maxPending int) *Buffer {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Buffer{kind: kind, maxPending: maxPending}
}

// Kind returns the market kind this buffer serves.
func (b *Buffer) Kind() receipt.Kind { return b.kind }

// Push appends r to the buffer. It fails when r's kind does not match the
// buffer's kind or when the buffer-size cap is exceeded (ErrBufferFull); it
// never mutates an already-inserted receipt (append-only).
func (b *Buffer) Push(r receipt.Receipt) error {
	if r.Kind != b.kind {
		return fmt.Errorf("market: receipt kind %s does not match buffer kind %s", r.Kind, b.kind)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) >= b.maxPending {
		return ErrBufferFull
	}
	b.items = append(b.items, r)
	return nil
}

// SetCurrentHeight records the height of the block currently being
// assembled. Drain stamps this height onto any receipt that was pushed
// without one (BlockHeight == 0), satisfying the "register consulted
// before draining" emission rule of spec §4.2 for markets that don't
// pass the height through at push time.
func (b *Buffer) SetCurrentHeight(height uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentTick = height
}

// Drain atomically replaces the buffer's contents with an empty sequence
// and returns the prior contents, in insertion order, with BlockHeight
// stamped in for any receipt that didn't carry one already.
func (b *Buffer) Drain() []receipt.Receipt {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	out := b.items
	for i := range out {
		if out[i].BlockHeight == 0 {
			out[i].BlockHeight = b.currentTick
		}
	}
	b.items = nil
	return out
}

// Restore prepends previously-drained receipts back onto the buffer ahead
// of anything pushed in the meantime. Used when a block assembly attempt
// aborts after drain: the drain-exactness invariant requires that these
// receipts are neither dropped nor double-counted.
func (b *Buffer) Restore(drained []receipt.Receipt) {
	if len(drained) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(append([]receipt.Receipt{}, drained...), b.items...)
}

// Len is a non-blocking size hint for telemetry; it may be stale by the
// time the caller observes it.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

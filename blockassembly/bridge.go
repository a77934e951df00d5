// Package blockassembly materialises the receipts field of a new block: it
// drains every market buffer in a fixed order, produces the canonical
// aggregate byte encoding that is fed to the consensus block hasher, and
// records telemetry — exactly once per mined block.
package blockassembly

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"rubin.dev/treasurycore/market"
	"rubin.dev/treasurycore/receipt"
)

// Default size/DoS bounds (spec §4.3). Sufficient for mainnet-scale loads;
// configurable via Limits.
const (
	DefaultMaxReceipts = 10_000
	DefaultMaxBytes    = 10 * 1024 * 1024
)

// Limits bounds how many receipts and how many serialised bytes a single
// block's receipts region may carry.
type Limits struct {
	MaxReceipts int
	MaxBytes    int
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{MaxReceipts: DefaultMaxReceipts, MaxBytes: DefaultMaxBytes}
}

// TelemetryRecorder is the narrow interface the bridge needs from the
// telemetry layer. Passing nil disables telemetry recording.
type TelemetryRecorder interface {
	RecordReceipts(receipts []receipt.Receipt, totalBytes int)
}

// Bridge owns one Buffer per market kind and drains them, in fixed market
// order, at block-assembly time.
type Bridge struct {
	buffers map[receipt.Kind]*market.Buffer
	limits  Limits
	rec     TelemetryRecorder
	log     *zap.Logger
}

// New constructs a Bridge over the given per-market buffers. buffers need
// not cover every Kind in receipt.MarketOrder; missing kinds are simply
// skipped during assembly.
func New(buffers map[receipt.Kind]*market.Buffer, limits Limits, rec TelemetryRecorder, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	if limits.MaxReceipts <= 0 {
		limits.MaxReceipts = DefaultMaxReceipts
	}
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = DefaultMaxBytes
	}
	return &Bridge{buffers: buffers, limits: limits, rec: rec, log: log}
}

// Buffer returns the buffer registered for kind, or nil.
func (br *Bridge) Buffer(kind receipt.Kind) *market.Buffer {
	return br.buffers[kind]
}

// Assemble drains every market buffer in fixed order (Storage, Compute,
// Energy, Ad, then any further kinds in ascending tag order), stamps
// currentHeight into each buffer's height register before draining, and
// returns the aggregated receipts plus the canonical byte encoding of the
// receipts region (count(4B LE) ‖ encoded_receipt[0] ‖ ...).
//
// On any error the drained receipts are rebuffered (in their original
// per-market order) before returning, so a retry or a block-assembly abort
// never silently drops or double-counts a receipt.
func (br *Bridge) Assemble(currentHeight uint64) ([]receipt.Receipt, []byte, error) {
	drainedByKind := make(map[receipt.Kind][]receipt.Receipt, len(br.buffers))

	kinds := orderedKinds(br.buffers)
	for _, kind := range kinds {
		buf := br.buffers[kind]
		buf.SetCurrentHeight(currentHeight)
		drainedByKind[kind] = buf.Drain()
	}

	all := make([]receipt.Receipt, 0)
	for _, kind := range kinds {
		all = append(all, drainedByKind[kind]...)
	}

	all, truncated := br.applyCaps(all)
	if len(truncated) > 0 {
		br.log.Warn("block assembly truncated receipts over cap",
			zap.Int("truncated_count", len(truncated)),
			zap.Int("max_receipts", br.limits.MaxReceipts),
			zap.Int("max_bytes", br.limits.MaxBytes),
		)
		br.rebuffer(truncated)
	}

	encoded, err := encodeAggregate(all)
	if err != nil {
		// Serialisation error aborts assembly entirely; rebuffer everything
		// we drained, including what we'd already decided to keep.
		br.rebuffer(all)
		return nil, nil, fmt.Errorf("blockassembly: encode aggregate: %w", err)
	}

	if br.rec != nil {
		br.rec.RecordReceipts(all, len(encoded))
	}

	return all, encoded, nil
}

// rebuffer restores receipts to their originating buffers, grouped back by
// kind, preserving each market's relative order.
func (br *Bridge) rebuffer(receipts []receipt.Receipt) {
	byKind := make(map[receipt.Kind][]receipt.Receipt)
	for _, r := range receipts {
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}
	for kind, rs := range byKind {
		if buf := br.buffers[kind]; buf != nil {
			buf.Restore(rs)
		}
	}
}

// applyCaps enforces the receipt-count and byte-size caps, truncating the
// lowest-priority markets (those latest in receipt.MarketOrder) first. It
// never fails the block; it returns the receipts to keep and the receipts
// that were dropped (for rebuffering and warning).
func (br *Bridge) applyCaps(all []receipt.Receipt) (kept, dropped []receipt.Receipt) {
	if len(all) <= br.limits.MaxReceipts {
		kept = all
	} else {
		kept = append([]receipt.Receipt{}, all[:br.limits.MaxReceipts]...)
		dropped = append(dropped, all[br.limits.MaxReceipts:]...)
	}

	size := 0
	cut := len(kept)
	for i, r := range kept {
		size += len(receipt.Encode(r))
		if size > br.limits.MaxBytes {
			cut = i
			break
		}
	}
	if cut < len(kept) {
		dropped = append(dropped, kept[cut:]...)
		kept = kept[:cut]
	}
	return kept, dropped
}

// encodeAggregate produces the canonical receipts-region byte form:
// count(4B LE) ‖ encoded_receipt[0] ‖ encoded_receipt[1] ‖ ...
// This is what the consensus hasher consumes, itself prefixed with a
// 32-bit little-endian total-length field; that prefix is added by
// HashInput, not here (see spec §6.1).
func encodeAggregate(receipts []receipt.Receipt) ([]byte, error) {
	if len(receipts) > 0xffffffff {
		return nil, fmt.Errorf("blockassembly: too many receipts to encode (%d)", len(receipts))
	}
	out := make([]byte, 4)
	for _, r := range receipts {
		out = append(out, receipt.Encode(r)...)
	}
	putU32LE(out, uint32(len(receipts)))
	return out, nil
}

// HashInput returns the bytes a consensus block hasher should consume for
// the receipts region: total_length(4B LE) ‖ bytes. Any other framing
// produces a different block hash and forks the chain (spec §6.1).
func HashInput(aggregate []byte) []byte {
	out := make([]byte, 4, 4+len(aggregate))
	putU32LE(out, uint32(len(aggregate)))
	return append(out, aggregate...)
}

func putU32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// orderedKinds returns the keys of buffers in the fixed market-kind order
// (receipt.MarketOrder first, then any remaining keys in ascending tag
// order for forward-compatibility with future market kinds).
func orderedKinds(buffers map[receipt.Kind]*market.Buffer) []receipt.Kind {
	seen := make(map[receipt.Kind]bool, len(buffers))
	out := make([]receipt.Kind, 0, len(buffers))
	for _, k := range receipt.MarketOrder {
		if _, ok := buffers[k]; ok {
			out = append(out, k)
			seen[k] = true
		}
	}
	rest := make([]receipt.Kind, 0)
	for k := range buffers {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

package blockassembly

import "rubin.dev/treasurycore/receipt"

// Block is the minimal view of a block this package needs: the height it
// was mined at and the receipts embedded in it, ordered by market kind then
// insertion order within each market. The consensus layer's own Block type
// is expected to carry this as one field among many; metricsderiver.Derive
// consumes the same shape.
type Block struct {
	Height   uint64
	Receipts []receipt.Receipt
}

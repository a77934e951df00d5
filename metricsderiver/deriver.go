// Package metricsderiver implements the deterministic, referentially
// transparent fold from a chain of blocks to a per-market utilisation
// vector. It holds no state and performs no I/O: the same block sequence
// yields bit-identical results on any architecture.
package metricsderiver

import (
	"math/big"

	"rubin.dev/treasurycore/blockassembly"
	"rubin.dev/treasurycore/receipt"
)

// maxU128 is the saturation ceiling for all accumulators: 2^128 - 1.
var maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Utilisation is the per-market volume aggregate derived from a chain
// prefix. The volume accumulators use fixed-width (128-bit, saturating)
// integer arithmetic; BlocksObserved and ReceiptsObserved are plain uint64
// counters. There is no floating point anywhere in this package.
type Utilisation struct {
	StorageBytes    *big.Int
	ComputeUnits    *big.Int
	EnergyKWh       *big.Int
	AdImpressions   *big.Int
	AdConversions   *big.Int
	BlocksObserved  uint64
	ReceiptsObserved uint64
}

// NewUtilisation returns a zero-valued Utilisation with initialized
// accumulators.
func NewUtilisation() Utilisation {
	return Utilisation{
		StorageBytes:  big.NewInt(0),
		ComputeUnits:  big.NewInt(0),
		EnergyKWh:     big.NewInt(0),
		AdImpressions: big.NewInt(0),
		AdConversions: big.NewInt(0),
	}
}

// saturatingAdd adds delta (a uint64) to acc in place, clamping at maxU128.
func saturatingAdd(acc *big.Int, delta uint64) {
	acc.Add(acc, new(big.Int).SetUint64(delta))
	if acc.Cmp(maxU128) > 0 {
		acc.Set(maxU128)
	}
}

// Derive folds blocks, in order, into a single Utilisation vector. It is
// total over well-formed blocks: malformed receipts are the responsibility
// of block validation upstream and are never expected here.
func Derive(blocks []blockassembly.Block) Utilisation {
	u := NewUtilisation()
	for _, b := range blocks {
		u.BlocksObserved++
		for _, r := range b.Receipts {
			u.ReceiptsObserved++
			switch r.Kind {
			case receipt.KindStorage:
				if r.Storage != nil {
					saturatingAdd(u.StorageBytes, r.Storage.BytesServed)
				}
			case receipt.KindCompute:
				if r.Compute != nil {
					saturatingAdd(u.ComputeUnits, r.Compute.ComputeUnits)
				}
			case receipt.KindEnergy:
				if r.Energy != nil {
					saturatingAdd(u.EnergyKWh, r.Energy.KWhDelivered)
				}
			case receipt.KindAd:
				if r.Ad != nil {
					saturatingAdd(u.AdImpressions, r.Ad.Impressions)
					saturatingAdd(u.AdConversions, r.Ad.Conversions)
				}
			}
		}
	}
	return u
}

// PerEpochGauge returns a normalised per-block average of acc, rounded down
// to the nearest whole unit, for use as a read-only economic-policy gauge.
// blocksObserved == 0 returns 0 rather than dividing by zero.
func PerEpochGauge(acc *big.Int, blocksObserved uint64) *big.Int {
	if blocksObserved == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Div(acc, new(big.Int).SetUint64(blocksObserved))
}

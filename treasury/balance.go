package treasury

import "time"

// Snapshot is one append-only row in the treasury balance history: the
// balance resulting from a transition, the signed delta that produced it,
// and (when applicable) the disbursement responsible.
type Snapshot struct {
	Epoch          uint64    `json:"epoch"`
	Balance        uint64    `json:"balance"`
	Delta          int64     `json:"delta"`
	DisbursementID uint64    `json:"disbursement_id,omitempty"` // 0 when not associated with a disbursement
	At             time.Time `json:"at"`
}

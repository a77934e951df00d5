// Package receipt defines the canonical, deterministic encoding of a market
// settlement record. A Receipt is append-only once emitted: it is never
// mutated after it is pushed into a market.Buffer.
package receipt

// Kind is the tag byte identifying which market a Receipt belongs to. Adding
// a market appends a new Kind value; existing values are never renumbered.
type Kind byte

const (
	KindStorage Kind = 0
	KindCompute Kind = 1
	KindEnergy  Kind = 2
	KindAd      Kind = 3
)

// MarketOrder is the fixed market-kind order receipts are drained and
// embedded in a block: Storage, Compute, Energy, Ad, then any future kinds
// in ascending tag order. blockassembly.Bridge iterates markets in this
// order.
var MarketOrder = []Kind{KindStorage, KindCompute, KindEnergy, KindAd}

func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindCompute:
		return "compute"
	case KindEnergy:
		return "energy"
	case KindAd:
		return "ad"
	default:
		return "unknown"
	}
}

// StorageFields carries the Storage-market-specific receipt payload.
type StorageFields struct {
	ContractID     string
	BytesServed    uint64
	ProviderEscrow uint64
	ProofHash      [32]byte
}

// ComputeFields carries the Compute-market-specific receipt payload.
type ComputeFields struct {
	JobID        string
	ComputeUnits uint64
	Verified     bool
}

// EnergyFields carries the Energy-market-specific receipt payload.
type EnergyFields struct {
	Buyer            string
	KWhDelivered     uint64
	TreasuryFee      uint64
	SlashApplied     uint64
	MeterReadingHash [32]byte
}

// AdFields carries the Ad-market-specific receipt payload.
type AdFields struct {
	CampaignID  string
	Publisher   string
	Impressions uint64
	Conversions uint64
}

// Receipt is a tagged variant over the market kinds. Exactly one of
// Storage, Compute, Energy, Ad is non-nil, matching Kind.
type Receipt struct {
	Kind             Kind
	SettlementID     string
	Provider         string
	SettlementAmount uint64
	BlockHeight      uint64

	Storage *StorageFields
	Compute *ComputeFields
	Energy  *EnergyFields
	Ad      *AdFields
}

// MarketName returns the receipt's market kind as a static label, used by
// telemetry and log fields.
func (r Receipt) MarketName() string { return r.Kind.String() }

// Amount returns the receipt's settlement amount in the single
// native unit.
func (r Receipt) Amount() uint64 { return r.SettlementAmount }

// Height returns the block height assigned to the receipt.
func (r Receipt) Height() uint64 { return r.BlockHeight }

// Encode returns the canonical byte encoding of r:
//
//	variant_tag(1B) ‖ settlement_id(string) ‖ provider(string) ‖
//	settlement_amount(u64 LE) ‖ block_height(u64 LE) ‖ <domain fields>
//
// Strings are length-delimited (u32 LE length, then UTF-8 bytes). Fixed
// 32-byte hashes are raw bytes. u64 fields are little-endian. The encoding
// is total and prefix-free across variants: decoding never needs to look
// past the declared length of a field to know where the next one starts.
func Encode(r Receipt) []byte {
	out := make([]byte, 0, 64+len(r.SettlementID)+len(r.Provider))
	out = append(out, byte(r.Kind))
	out = appendString(out, r.SettlementID)
	out = appendString(out, r.Provider)
	out = appendU64LE(out, r.SettlementAmount)
	out = appendU64LE(out, r.BlockHeight)

	switch r.Kind {
	case KindStorage:
		f := r.Storage
		out = appendString(out, f.ContractID)
		out = appendU64LE(out, f.BytesServed)
		out = appendU64LE(out, f.ProviderEscrow)
		out = append(out, f.ProofHash[:]...)
	case KindCompute:
		f := r.Compute
		out = appendString(out, f.JobID)
		out = appendU64LE(out, f.ComputeUnits)
		out = appendBool(out, f.Verified)
	case KindEnergy:
		f := r.Energy
		out = appendString(out, f.Buyer)
		out = appendU64LE(out, f.KWhDelivered)
		out = appendU64LE(out, f.TreasuryFee)
		out = appendU64LE(out, f.SlashApplied)
		out = append(out, f.MeterReadingHash[:]...)
	case KindAd:
		f := r.Ad
		out = appendString(out, f.CampaignID)
		out = appendString(out, f.Publisher)
		out = appendU64LE(out, f.Impressions)
		out = appendU64LE(out, f.Conversions)
	}
	return out
}

// Decode parses a single Receipt from the front of b and returns the
// receipt plus the number of bytes consumed. It signals
// *ReceiptDecodeError on malformed input; it never panics and never
// consumes more bytes than the declared field lengths require.
func Decode(b []byte) (Receipt, int, error) {
	c := newCursor(b)

	tagByte, err := c.readU8()
	if err != nil {
		return Receipt{}, 0, err
	}
	kind := Kind(tagByte)

	settlementID, err := c.readString()
	if err != nil {
		return Receipt{}, 0, err
	}
	provider, err := c.readString()
	if err != nil {
		return Receipt{}, 0, err
	}
	amount, err := c.readU64LE()
	if err != nil {
		return Receipt{}, 0, err
	}
	height, err := c.readU64LE()
	if err != nil {
		return Receipt{}, 0, err
	}

	r := Receipt{
		Kind:             kind,
		SettlementID:     settlementID,
		Provider:         provider,
		SettlementAmount: amount,
		BlockHeight:      height,
	}

	switch kind {
	case KindStorage:
		contractID, err := c.readString()
		if err != nil {
			return Receipt{}, 0, err
		}
		bytesServed, err := c.readU64LE()
		if err != nil {
			return Receipt{}, 0, err
		}
		escrow, err := c.readU64LE()
		if err != nil {
			return Receipt{}, 0, err
		}
		proofHash, err := c.readBytes32()
		if err != nil {
			return Receipt{}, 0, err
		}
		r.Storage = &StorageFields{
			ContractID:     contractID,
			BytesServed:    bytesServed,
			ProviderEscrow: escrow,
			ProofHash:      proofHash,
		}
	case KindCompute:
		jobID, err := c.readString()
		if err != nil {
			return Receipt{}, 0, err
		}
		units, err := c.readU64LE()
		if err != nil {
			return Receipt{}, 0, err
		}
		verifiedByte, err := c.readU8()
		if err != nil {
			return Receipt{}, 0, err
		}
		r.Compute = &ComputeFields{
			JobID:        jobID,
			ComputeUnits: units,
			Verified:     verifiedByte != 0,
		}
	case KindEnergy:
		buyer, err := c.readString()
		if err != nil {
			return Receipt{}, 0, err
		}
		kwh, err := c.readU64LE()
		if err != nil {
			return Receipt{}, 0, err
		}
		fee, err := c.readU64LE()
		if err != nil {
			return Receipt{}, 0, err
		}
		slash, err := c.readU64LE()
		if err != nil {
			return Receipt{}, 0, err
		}
		meterHash, err := c.readBytes32()
		if err != nil {
			return Receipt{}, 0, err
		}
		r.Energy = &EnergyFields{
			Buyer:            buyer,
			KWhDelivered:     kwh,
			TreasuryFee:      fee,
			SlashApplied:     slash,
			MeterReadingHash: meterHash,
		}
	case KindAd:
		campaignID, err := c.readString()
		if err != nil {
			return Receipt{}, 0, err
		}
		publisher, err := c.readString()
		if err != nil {
			return Receipt{}, 0, err
		}
		impressions, err := c.readU64LE()
		if err != nil {
			return Receipt{}, 0, err
		}
		conversions, err := c.readU64LE()
		if err != nil {
			return Receipt{}, 0, err
		}
		r.Ad = &AdFields{
			CampaignID:  campaignID,
			Publisher:   publisher,
			Impressions: impressions,
			Conversions: conversions,
		}
	default:
		return Receipt{}, 0, decodeErr(ErrUnknownVariant, "unknown market kind")
	}

	return r, c.pos, nil
}

// Fingerprint returns the SHA3-256 digest of the receipt's canonical
// encoding, used for fast equality/dedup checks without re-encoding.
func Fingerprint(r Receipt) [32]byte {
	return sha3_256(Encode(r))
}

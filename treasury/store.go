package treasury

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Tx is the narrow read/write interface the treasury store needs from a
// key-value backend. Storage engines are an external collaborator (spec
// §1): this interface is what the core depends on, and BoltKV below is
// the bbolt-backed default used by cmd/treasurycore-node.
type Tx interface {
	Put(bucket, key, value []byte) error
	Get(bucket, key []byte) ([]byte, bool, error)
	ForEachPrefix(bucket, prefix []byte, fn func(key, value []byte) error) error
}

// KeyValue is a typed key-value store with batch (all-or-nothing) atomicity
// across an Update call, matching spec §6.2's requirement that every write
// within a transition's batch commits or none of it does.
type KeyValue interface {
	View(fn func(tx Tx) error) error
	Update(fn func(tx Tx) error) error
}

var (
	bucketDisbursements     = []byte("treasury_disbursements")
	bucketBalanceHistory    = []byte("treasury_balance_history")
	bucketGovernanceJournal = []byte("governance_history")
	bucketMeta              = []byte("treasury_meta")
)

var metaNextIDKey = []byte("next_disbursement_id")
var metaBalanceKey = []byte("current_balance")
var metaBalanceSeqKey = []byte("next_balance_seq")

// BoltKV is the bbolt-backed KeyValue implementation, grounded on the
// node's own store.DB: bucket-per-concern, crash-atomic Update batches.
type BoltKV struct {
	db *bolt.DB
}

// OpenBoltKV opens (creating if absent) a bbolt database at path and
// ensures every bucket this package needs exists.
func OpenBoltKV(path string) (*BoltKV, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("treasury: open bbolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDisbursements, bucketBalanceHistory, bucketGovernanceJournal, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltKV{db: db}, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (k *BoltKV) Close() error {
	if k == nil || k.db == nil {
		return nil
	}
	return k.db.Close()
}

func (k *BoltKV) View(fn func(tx Tx) error) error {
	return k.db.View(func(btx *bolt.Tx) error {
		return fn(&boltTx{btx})
	})
}

func (k *BoltKV) Update(fn func(tx Tx) error) error {
	return k.db.Update(func(btx *bolt.Tx) error {
		return fn(&boltTx{btx})
	})
}

type boltTx struct{ tx *bolt.Tx }

func (t *boltTx) Put(bucket, key, value []byte) error {
	b := t.tx.Bucket(bucket)
	if b == nil {
		return fmt.Errorf("treasury: bucket %s not found", string(bucket))
	}
	return b.Put(key, value)
}

func (t *boltTx) Get(bucket, key []byte) ([]byte, bool, error) {
	b := t.tx.Bucket(bucket)
	if b == nil {
		return nil, false, fmt.Errorf("treasury: bucket %s not found", string(bucket))
	}
	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (t *boltTx) ForEachPrefix(bucket, prefix []byte, fn func(key, value []byte) error) error {
	b := t.tx.Bucket(bucket)
	if b == nil {
		return fmt.Errorf("treasury: bucket %s not found", string(bucket))
	}
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Store is the treasury's storage-facing API: disbursement records,
// balance history, and the governance activation journal, all committed
// through KeyValue's batch atomicity.
type Store struct {
	kv KeyValue
}

// NewStore wraps a KeyValue backend.
func NewStore(kv KeyValue) *Store {
	return &Store{kv: kv}
}

func disbursementKey(id uint64) []byte {
	return []byte(fmt.Sprintf("treasury/disbursements/%020d", id))
}

func balanceHistoryKey(epoch, seq uint64) []byte {
	return []byte(fmt.Sprintf("treasury/balance_history/%020d/%020d", epoch, seq))
}

func governanceJournalKey(epoch uint64) []byte {
	return []byte(fmt.Sprintf("governance/history/%020d.json", epoch))
}

// Batch collects writes to commit atomically in a single KeyValue.Update
// call: the disbursement record, a history row, and (when present) a
// journal row, per spec §4.5's "single write batch" requirement.
type Batch struct {
	tx Tx
}

func (b *Batch) PutDisbursement(d Disbursement) error {
	data, err := json.Marshal(d)
	if err != nil {
		return storageErr("marshal disbursement", err)
	}
	if err := b.tx.Put(bucketDisbursements, disbursementKey(d.ID), data); err != nil {
		return storageErr("put disbursement", err)
	}
	return nil
}

func (b *Batch) PutBalanceSnapshot(seq uint64, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return storageErr("marshal snapshot", err)
	}
	if err := b.tx.Put(bucketBalanceHistory, balanceHistoryKey(s.Epoch, seq), data); err != nil {
		return storageErr("put balance snapshot", err)
	}
	return nil
}

func (b *Batch) PutGovernanceJournal(epoch uint64, record []byte) error {
	if err := b.tx.Put(bucketGovernanceJournal, governanceJournalKey(epoch), record); err != nil {
		return storageErr("put governance journal", err)
	}
	return nil
}

// nextSeq reads-then-increments a monotonic counter stored under key,
// within the same write batch, so the allocation and the write it numbers
// commit or abort together.
func (b *Batch) nextSeq(key []byte) (uint64, error) {
	data, ok, err := b.tx.Get(bucketMeta, key)
	if err != nil {
		return 0, err
	}
	n := uint64(1)
	if ok {
		v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, err
		}
		n = v
	}
	if err := b.tx.Put(bucketMeta, key, []byte(strconv.FormatUint(n+1, 10))); err != nil {
		return 0, err
	}
	return n, nil
}

// PutBalanceSnapshotAuto allocates the next history sequence number and
// writes s under it, within the enclosing batch.
func (b *Batch) PutBalanceSnapshotAuto(s Snapshot) error {
	seq, err := b.nextSeq(metaBalanceSeqKey)
	if err != nil {
		return storageErr("allocate balance seq", err)
	}
	return b.PutBalanceSnapshot(seq, s)
}

func (b *Batch) PutBalance(current uint64) error {
	if err := b.tx.Put(bucketMeta, metaBalanceKey, []byte(strconv.FormatUint(current, 10))); err != nil {
		return storageErr("put balance", err)
	}
	return nil
}

// Atomically runs fn inside a single KeyValue.Update batch: either every
// write in fn commits, or (on error / crash) none of them do.
func (s *Store) Atomically(fn func(*Batch) error) error {
	err := s.kv.Update(func(tx Tx) error {
		return fn(&Batch{tx: tx})
	})
	if err != nil {
		return storageErr("atomic batch", err)
	}
	return nil
}

// GetDisbursement loads a single disbursement by id.
func (s *Store) GetDisbursement(id uint64) (Disbursement, bool, error) {
	var out Disbursement
	var found bool
	err := s.kv.View(func(tx Tx) error {
		data, ok, err := tx.Get(bucketDisbursements, disbursementKey(id))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return Disbursement{}, false, storageErr("get disbursement", err)
	}
	return out, found, nil
}

// ListDisbursements returns every stored disbursement, ordered by id.
func (s *Store) ListDisbursements() ([]Disbursement, error) {
	var out []Disbursement
	err := s.kv.View(func(tx Tx) error {
		return tx.ForEachPrefix(bucketDisbursements, []byte("treasury/disbursements/"), func(_, v []byte) error {
			var d Disbursement
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, d)
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list disbursements", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListByStatus returns every stored disbursement with the given status, id
// ascending.
func (s *Store) ListByStatus(status Status) ([]Disbursement, error) {
	all, err := s.ListDisbursements()
	if err != nil {
		return nil, err
	}
	var out []Disbursement
	for _, d := range all {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

// CurrentBalance reads the persisted treasury balance.
func (s *Store) CurrentBalance() (uint64, error) {
	var balance uint64
	err := s.kv.View(func(tx Tx) error {
		data, ok, err := tx.Get(bucketMeta, metaBalanceKey)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return err
		}
		balance = v
		return nil
	})
	if err != nil {
		return 0, storageErr("read balance", err)
	}
	return balance, nil
}

// AllocateID atomically increments and returns the next monotonic
// disbursement id.
func (s *Store) AllocateID() (uint64, error) {
	var id uint64
	err := s.kv.Update(func(tx Tx) error {
		data, ok, err := tx.Get(bucketMeta, metaNextIDKey)
		if err != nil {
			return err
		}
		next := uint64(1)
		if ok {
			v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
			if err != nil {
				return err
			}
			next = v
		}
		id = next
		return tx.Put(bucketMeta, metaNextIDKey, []byte(strconv.FormatUint(next+1, 10)))
	})
	if err != nil {
		return 0, storageErr("allocate id", err)
	}
	return id, nil
}

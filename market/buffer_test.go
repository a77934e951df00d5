package market

import (
	"sync"
	"testing"

	"rubin.dev/treasurycore/receipt"
)

func mkReceipt(kind receipt.Kind, id string, amount uint64) receipt.Receipt {
	r := receipt.Receipt{Kind: kind, SettlementID: id, Provider: "p", SettlementAmount: amount}
	switch kind {
	case receipt.KindStorage:
		r.Storage = &receipt.StorageFields{}
	case receipt.KindCompute:
		r.Compute = &receipt.ComputeFields{}
	case receipt.KindEnergy:
		r.Energy = &receipt.EnergyFields{}
	case receipt.KindAd:
		r.Ad = &receipt.AdFields{}
	}
	return r
}

func TestDrainEmptyReturnsEmptyNotError(t *testing.T) {
	b := NewBuffer(receipt.KindStorage, 0)
	out := b.Drain()
	if len(out) != 0 {
		t.Fatalf("expected empty drain, got %d", len(out))
	}
}

func TestPushThenDrainExactOnce(t *testing.T) {
	b := NewBuffer(receipt.KindAd, 0)
	b.SetCurrentHeight(42)
	for i := 0; i < 3; i++ {
		if err := b.Push(mkReceipt(receipt.KindAd, "id", 10)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	drained := b.Drain()
	if len(drained) != 3 {
		t.Fatalf("got %d receipts", len(drained))
	}
	for _, r := range drained {
		if r.BlockHeight != 42 {
			t.Fatalf("expected stamped height 42, got %d", r.BlockHeight)
		}
	}
	if b.Len() != 0 {
		t.Fatalf("buffer not empty after drain")
	}
	// Second drain must be empty: exactly-once.
	if out := b.Drain(); len(out) != 0 {
		t.Fatalf("second drain not empty: %d", len(out))
	}
}

func TestRestoreOnAbortPreservesOrder(t *testing.T) {
	b := NewBuffer(receipt.KindCompute, 0)
	_ = b.Push(mkReceipt(receipt.KindCompute, "a", 1))
	_ = b.Push(mkReceipt(receipt.KindCompute, "b", 2))
	drained := b.Drain()

	_ = b.Push(mkReceipt(receipt.KindCompute, "c", 3))
	b.Restore(drained)

	got := b.Drain()
	if len(got) != 3 {
		t.Fatalf("got %d receipts, want 3", len(got))
	}
	wantOrder := []string{"a", "b", "c"}
	for i, id := range wantOrder {
		if got[i].SettlementID != id {
			t.Fatalf("position %d: got %s want %s", i, got[i].SettlementID, id)
		}
	}
}

func TestPushRejectsMismatchedKind(t *testing.T) {
	b := NewBuffer(receipt.KindStorage, 0)
	if err := b.Push(mkReceipt(receipt.KindAd, "x", 1)); err == nil {
		t.Fatalf("expected error for mismatched kind")
	}
}

func TestPushCapExceeded(t *testing.T) {
	b := NewBuffer(receipt.KindEnergy, 2)
	if err := b.Push(mkReceipt(receipt.KindEnergy, "1", 1)); err != nil {
		t.Fatalf("push 1: %v", err)
	}
	if err := b.Push(mkReceipt(receipt.KindEnergy, "2", 1)); err != nil {
		t.Fatalf("push 2: %v", err)
	}
	if err := b.Push(mkReceipt(receipt.KindEnergy, "3", 1)); err != ErrBufferFull {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	b := NewBuffer(receipt.KindStorage, 0)
	const producers = 16
	const perProducer = 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = b.Push(mkReceipt(receipt.KindStorage, "id", 1))
			}
		}(p)
	}
	wg.Wait()

	total := len(b.Drain())
	if total != producers*perProducer {
		t.Fatalf("got %d receipts, want %d", total, producers*perProducer)
	}
}

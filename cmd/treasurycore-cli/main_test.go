package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"rubin.dev/treasurycore/treasury"
)

func seedTreasury(t *testing.T, datadir string) {
	t.Helper()
	kv, err := treasury.OpenBoltKV(filepath.Join(datadir, "treasury.db"))
	if err != nil {
		t.Fatalf("OpenBoltKV: %v", err)
	}
	defer func() { _ = kv.Close() }()
	store := treasury.NewStore(kv)
	err = store.Atomically(func(b *treasury.Batch) error {
		if err := b.PutBalance(500); err != nil {
			return err
		}
		return b.PutDisbursement(treasury.Disbursement{ID: 1, Destination: "A", Amount: 10, Status: treasury.StatusQueued})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestRunMissingCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(nil, &out, &errOut)
	if code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"bogus"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}

func TestRunBalanceReportsStoredBalance(t *testing.T) {
	dir := t.TempDir()
	seedTreasury(t, dir)

	var out, errOut bytes.Buffer
	code := run([]string{"balance", "--datadir", dir}, &out, &errOut)
	if code != 0 {
		t.Fatalf("got exit code %d, stderr=%q", code, errOut.String())
	}
	if !bytes.Contains(out.Bytes(), []byte(`"balance": 500`)) {
		t.Fatalf("got output %q, want it to mention balance 500", out.String())
	}
}

func TestRunBalanceRequiresDatadir(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"balance"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}

func TestRunListFiltersByStatus(t *testing.T) {
	dir := t.TempDir()
	seedTreasury(t, dir)

	var out, errOut bytes.Buffer
	code := run([]string{"list", "--datadir", dir, "--status", "queued"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("got exit code %d, stderr=%q", code, errOut.String())
	}
	if !bytes.Contains(out.Bytes(), []byte(`"id": 1`)) {
		t.Fatalf("got output %q, want it to include disbursement 1", out.String())
	}
}

func TestRunGetUnknownIDFails(t *testing.T) {
	dir := t.TempDir()
	seedTreasury(t, dir)

	var out, errOut bytes.Buffer
	code := run([]string{"get", "--datadir", dir, "--id", "99"}, &out, &errOut)
	if code != 1 {
		t.Fatalf("got exit code %d, want 1", code)
	}
}

func TestRunValidateDepsMissingDependencyFails(t *testing.T) {
	dir := t.TempDir()
	kv, err := treasury.OpenBoltKV(filepath.Join(dir, "treasury.db"))
	if err != nil {
		t.Fatalf("OpenBoltKV: %v", err)
	}
	store := treasury.NewStore(kv)
	err = store.Atomically(func(b *treasury.Batch) error {
		return b.PutDisbursement(treasury.Disbursement{ID: 1, Destination: "A", Amount: 1, Memo: "deps=99", Status: treasury.StatusQueued})
	})
	_ = kv.Close()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var out, errOut bytes.Buffer
	code := run([]string{"validate-deps", "--datadir", dir, "--id", "1"}, &out, &errOut)
	if code != 1 {
		t.Fatalf("got exit code %d, want 1 (missing dependency)", code)
	}
}

func TestRunExecutorStatusReportsClosedBreaker(t *testing.T) {
	dir := t.TempDir()
	seedTreasury(t, dir)

	var out, errOut bytes.Buffer
	code := run([]string{"executor-status", "--datadir", dir}, &out, &errOut)
	if code != 0 {
		t.Fatalf("got exit code %d, stderr=%q", code, errOut.String())
	}
	if !bytes.Contains(out.Bytes(), []byte(`"circuit_state": 0`)) {
		t.Fatalf("got output %q, want circuit_state 0 (closed)", out.String())
	}
}

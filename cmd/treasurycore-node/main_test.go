package main

import (
	"bytes"
	"testing"
)

func TestRunDryRunPrintsConfigAndExits(t *testing.T) {
	dir := t.TempDir()
	var out, errOut bytes.Buffer
	code := run([]string{"--dry-run", "--datadir", dir}, &out, &errOut)
	if code != 0 {
		t.Fatalf("got exit code %d, stderr=%q", code, errOut.String())
	}
	if !bytes.Contains(out.Bytes(), []byte(`"data_dir"`)) {
		t.Fatalf("got output %q, want it to echo the effective config", out.String())
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	var out, errOut bytes.Buffer
	code := run([]string{"--dry-run", "--datadir", dir, "--tick-interval", "0"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	dir := t.TempDir()
	var out, errOut bytes.Buffer
	code := run([]string{"--bogus-flag", "--datadir", dir}, &out, &errOut)
	if code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}

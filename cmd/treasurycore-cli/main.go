// Command treasurycore-cli is the operator CLI for a treasury core data
// directory: read-only inspection plus the gated admin operations
// (execute, rollback) of spec §6.3.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"rubin.dev/treasurycore/circuitbreaker"
	"rubin.dev/treasurycore/rpc"
	"rubin.dev/treasurycore/treasury"
)

const usageCommands = "commands: balance --datadir <path> | list --datadir <path> [--status <status>] [--cursor <id>] [--limit <n>] | get --datadir <path> --id <id> | validate-deps --datadir <path> --id <id> | executor-status --datadir <path> | execute --datadir <path> --id <id> --epoch <n> | rollback --datadir <path> --id <id> --epoch <n> --reason <text>"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usageCommands)
		return 2
	}
	command := args[0]
	argv := args[1:]
	switch command {
	case "balance":
		return cmdBalance(argv, stdout, stderr)
	case "list":
		return cmdList(argv, stdout, stderr)
	case "get":
		return cmdGet(argv, stdout, stderr)
	case "validate-deps":
		return cmdValidateDeps(argv, stdout, stderr)
	case "executor-status":
		return cmdExecutorStatus(argv, stdout, stderr)
	case "execute":
		return cmdExecute(argv, stdout, stderr)
	case "rollback":
		return cmdRollback(argv, stdout, stderr)
	default:
		fmt.Fprintln(stderr, "unknown command:", command)
		fmt.Fprintln(stderr, usageCommands)
		return 2
	}
}

func openService(datadir string) (*rpc.Service, func(), error) {
	kv, err := treasury.OpenBoltKV(filepath.Join(datadir, "treasury.db"))
	if err != nil {
		return nil, nil, err
	}
	store := treasury.NewStore(kv)
	policy := treasury.DefaultPolicy()
	sm := treasury.NewStateMachine(store, policy, nil)
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(), nil)
	svc := rpc.New(store, sm, breaker, policy.RelaxedDependency)
	return svc, func() { _ = kv.Close() }, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdBalance(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datadir := fs.String("datadir", "", "treasury data directory")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if *datadir == "" {
		fmt.Fprintln(stderr, "missing required flag: --datadir")
		return 2
	}
	svc, closeFn, err := openService(*datadir)
	if err != nil {
		fmt.Fprintln(stderr, "balance error:", err)
		return 1
	}
	defer closeFn()

	view, err := svc.Balance()
	if err != nil {
		fmt.Fprintln(stderr, "balance error:", err)
		return 1
	}
	if err := printJSON(stdout, view); err != nil {
		fmt.Fprintln(stderr, "balance error:", err)
		return 1
	}
	return 0
}

func cmdList(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datadir := fs.String("datadir", "", "treasury data directory")
	status := fs.String("status", "", "filter by status")
	cursor := fs.Uint64("cursor", 0, "pagination cursor")
	limit := fs.Int("limit", 50, "page size")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if *datadir == "" {
		fmt.Fprintln(stderr, "missing required flag: --datadir")
		return 2
	}
	svc, closeFn, err := openService(*datadir)
	if err != nil {
		fmt.Fprintln(stderr, "list error:", err)
		return 1
	}
	defer closeFn()

	page, err := svc.ListDisbursements(rpc.DisbursementFilter{Status: treasury.Status(*status)}, *cursor, *limit)
	if err != nil {
		fmt.Fprintln(stderr, "list error:", err)
		return 1
	}
	if err := printJSON(stdout, page); err != nil {
		fmt.Fprintln(stderr, "list error:", err)
		return 1
	}
	return 0
}

func cmdGet(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datadir := fs.String("datadir", "", "treasury data directory")
	id := fs.Uint64("id", 0, "disbursement id")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if *datadir == "" {
		fmt.Fprintln(stderr, "missing required flag: --datadir")
		return 2
	}
	svc, closeFn, err := openService(*datadir)
	if err != nil {
		fmt.Fprintln(stderr, "get error:", err)
		return 1
	}
	defer closeFn()

	view, err := svc.GetDisbursement(*id)
	if err != nil {
		fmt.Fprintln(stderr, "get error:", err)
		return 1
	}
	if err := printJSON(stdout, view); err != nil {
		fmt.Fprintln(stderr, "get error:", err)
		return 1
	}
	return 0
}

func cmdValidateDeps(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate-deps", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datadir := fs.String("datadir", "", "treasury data directory")
	id := fs.Uint64("id", 0, "disbursement id")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if *datadir == "" {
		fmt.Fprintln(stderr, "missing required flag: --datadir")
		return 2
	}
	svc, closeFn, err := openService(*datadir)
	if err != nil {
		fmt.Fprintln(stderr, "validate-deps error:", err)
		return 1
	}
	defer closeFn()

	got, err := svc.ValidateDependencies(*id)
	if err != nil {
		fmt.Fprintln(stderr, "validate-deps error:", err)
		return 1
	}
	if err := printJSON(stdout, got); err != nil {
		fmt.Fprintln(stderr, "validate-deps error:", err)
		return 1
	}
	if !got.Ok {
		return 1
	}
	return 0
}

func cmdExecutorStatus(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("executor-status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datadir := fs.String("datadir", "", "treasury data directory")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if *datadir == "" {
		fmt.Fprintln(stderr, "missing required flag: --datadir")
		return 2
	}
	svc, closeFn, err := openService(*datadir)
	if err != nil {
		fmt.Fprintln(stderr, "executor-status error:", err)
		return 1
	}
	defer closeFn()

	status, err := svc.ExecutorStatus()
	if err != nil {
		fmt.Fprintln(stderr, "executor-status error:", err)
		return 1
	}
	if err := printJSON(stdout, status); err != nil {
		fmt.Fprintln(stderr, "executor-status error:", err)
		return 1
	}
	return 0
}

// cliSubmitter is a deliberately inert Submitter: the CLI's execute command
// is for operator-triggered emergency execution against an already-wired
// signer/submitter pair supplied by the host; this standalone build has
// none, so it reports a submission error rather than pretending to submit.
type cliSubmitter struct{}

func (cliSubmitter) Submit(ctx context.Context, intent []byte) (string, error) {
	return "", fmt.Errorf("treasurycore-cli: no submitter configured for this datadir")
}

type cliSigner struct{}

func (cliSigner) Sign(d treasury.Disbursement) ([]byte, error) { return []byte(d.Destination), nil }

func cmdExecute(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datadir := fs.String("datadir", "", "treasury data directory")
	id := fs.Uint64("id", 0, "disbursement id")
	epoch := fs.Uint64("epoch", 0, "current epoch")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if *datadir == "" {
		fmt.Fprintln(stderr, "missing required flag: --datadir")
		return 2
	}
	svc, closeFn, err := openService(*datadir)
	if err != nil {
		fmt.Fprintln(stderr, "execute error:", err)
		return 1
	}
	defer closeFn()

	outcome, err := svc.ExecuteDisbursement(context.Background(), rpc.ExecuteRequest{ID: *id, NowEpoch: *epoch}, cliSigner{}, cliSubmitter{})
	if err != nil {
		fmt.Fprintln(stderr, "execute error:", err)
		return 1
	}
	fmt.Fprintln(stdout, outcome.String())
	return 0
}

func cmdRollback(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datadir := fs.String("datadir", "", "treasury data directory")
	id := fs.Uint64("id", 0, "disbursement id")
	epoch := fs.Uint64("epoch", 0, "current epoch")
	reason := fs.String("reason", "", "rollback reason")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if *datadir == "" {
		fmt.Fprintln(stderr, "missing required flag: --datadir")
		return 2
	}
	svc, closeFn, err := openService(*datadir)
	if err != nil {
		fmt.Fprintln(stderr, "rollback error:", err)
		return 1
	}
	defer closeFn()

	res, err := svc.RollbackDisbursement(rpc.RollbackRequest{ID: *id, NowEpoch: *epoch, Reason: *reason})
	if err != nil {
		fmt.Fprintln(stderr, "rollback error:", err)
		return 1
	}
	if err := printJSON(stdout, res); err != nil {
		fmt.Fprintln(stderr, "rollback error:", err)
		return 1
	}
	return 0
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rubin.dev/treasurycore/circuitbreaker"
	"rubin.dev/treasurycore/config"
	"rubin.dev/treasurycore/executor"
	"rubin.dev/treasurycore/telemetry"
	"rubin.dev/treasurycore/treasury"
)

var newExecutorFn = executor.New

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := config.DefaultConfig()

	cfg := defaults
	fs := flag.NewFlagSet("treasurycore-node", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.Network, "network", defaults.Network, "network name (devnet/testnet/mainnet)")
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.DurationVar(&cfg.ExecutorTickInterval, "tick-interval", defaults.ExecutorTickInterval, "executor tick interval")
	fs.IntVar(&cfg.PerTickMax, "per-tick-max", defaults.PerTickMax, "max disbursements executed per tick")
	fs.Uint64Var(&cfg.ConfirmationEpochs, "confirmation-epochs", defaults.ConfirmationEpochs, "epochs between Executed and Finalized")
	fs.Uint64Var(&cfg.RollbackWindowEpochs, "rollback-window-epochs", defaults.RollbackWindowEpochs, "max epoch distance for post-execution rollback")
	fs.BoolVar(&cfg.RelaxedDependencyStatus, "relaxed-dependency-status", defaults.RelaxedDependencyStatus, "accept Executed (not just Finalized) prerequisites as satisfied")
	metricsAddr := fs.String("metrics-addr", "", "address to serve /metrics on (empty disables)")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if err := config.Validate(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		_, _ = fmt.Fprintf(stderr, "datadir create failed: %v\n", err)
		return 2
	}

	if err := printConfig(stdout, cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "config encode failed: %v\n", err)
		return 1
	}
	if *dryRun {
		return 0
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "logger init failed: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	kv, err := treasury.OpenBoltKV(filepath.Join(cfg.DataDir, "treasury.db"))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "treasury store open failed: %v\n", err)
		return 2
	}
	defer func() { _ = kv.Close() }()
	store := treasury.NewStore(kv)

	policy := treasury.Policy{
		RelaxedDependency:    cfg.RelaxedDependencyStatus,
		ConfirmationEpochs:   cfg.ConfirmationEpochs,
		RollbackWindowEpochs: cfg.RollbackWindowEpochs,
	}
	sm := treasury.NewStateMachine(store, policy, nil)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		OpenTimeout:      cfg.CircuitBreaker.OpenTimeout,
		RollingWindow:    cfg.CircuitBreaker.RollingWindow,
	}, nil)

	registry := prometheus.NewRegistry()
	treasuryCollector := telemetry.NewTreasuryCollector(registry)

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	ex := newExecutorFn(store, sm, breaker, policy, executor.Config{
		PerTickMax: cfg.PerTickMax,
		TickBudget: cfg.TickBudget,
	}, noopSigner{}, noopSubmitter{}, logger, treasuryCollector.TickCallback())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, _ = fmt.Fprintln(stdout, "treasurycore-node running")
	runTickLoop(ctx, ex, store, treasuryCollector, cfg.ExecutorTickInterval, logger)
	_, _ = fmt.Fprintln(stdout, "treasurycore-node stopped")
	return 0
}

// runTickLoop drives the executor once per tick interval until ctx is
// cancelled, using the number of ticks completed since process start
// (starting at 0) as nowEpoch. A real deployment would source nowEpoch
// from the chain's block height; this daemon has no chain of its own.
func runTickLoop(ctx context.Context, ex *executor.Executor, store *treasury.Store, tc *telemetry.TreasuryCollector, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var epoch uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := ex.Tick(ctx, epoch)
			if err != nil {
				logger.Error("executor tick failed", zap.Uint64("epoch", epoch), zap.Error(err))
				tc.RecordExecutionError("storage")
			}
			if res.GraphError != nil {
				tc.RecordExecutionError("graph")
			}
			observeTickResult(store, tc, res, logger)
			epoch++
		}
	}
}

func observeTickResult(store *treasury.Store, tc *telemetry.TreasuryCollector, res executor.Result, logger *zap.Logger) {
	balance, err := store.CurrentBalance()
	if err != nil {
		logger.Warn("balance read failed", zap.Error(err))
		return
	}
	tc.ObserveBalance(balance)

	counts := make(map[treasury.Status]int)
	all, err := store.ListDisbursements()
	if err != nil {
		logger.Warn("disbursement list failed", zap.Error(err))
		return
	}
	for _, d := range all {
		counts[d.Status]++
	}
	tc.ObserveBacklog(counts)

	for range res.SubmissionFailures {
		tc.RecordExecutionError("submission")
	}
}

type noopSigner struct{}

func (noopSigner) Sign(d treasury.Disbursement) ([]byte, error) { return []byte(d.Destination), nil }

type noopSubmitter struct{}

func (noopSubmitter) Submit(ctx context.Context, intent []byte) (string, error) {
	return "", fmt.Errorf("treasurycore-node: no submitter configured")
}

func newLogger(level string) (*zap.Logger, error) {
	zapLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zapLevel
	return zcfg.Build()
}

func printConfig(w io.Writer, cfg config.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

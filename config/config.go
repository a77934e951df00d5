// Package config holds the typed configuration record for the treasury
// core, its defaults, and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultDataDir returns ~/.treasurycore, falling back to a relative path
// if the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".treasurycore"
	}
	return filepath.Join(home, ".treasurycore")
}

// CircuitBreakerConfig mirrors circuitbreaker.Config's fields so this
// package does not import circuitbreaker just to describe its knobs.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout"`
	RollingWindow    time.Duration `json:"rolling_window"`
}

// ReceiptLimits caps block-assembly's receipts region.
type ReceiptLimits struct {
	MaxCount int `json:"max_count"`
	MaxBytes int `json:"max_bytes"`
}

// Config is the treasury core's full typed configuration, supplied at
// construction. Every field named in spec §6.5 has a recognised entry
// here.
type Config struct {
	DataDir string `json:"data_dir"`
	Network string `json:"network"`

	ExecutorTickInterval time.Duration `json:"executor_tick_interval"`
	PerTickMax           int           `json:"per_tick_max"`
	ConfirmationEpochs   uint64        `json:"confirmation_epochs"`
	RollbackWindowEpochs uint64        `json:"rollback_window_epochs"`

	RelaxedDependencyStatus bool `json:"relaxed_dependency_status"`

	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	ReceiptLimits  ReceiptLimits        `json:"receipt_limits"`

	MinSettlementForReceipt uint64 `json:"min_settlement_for_receipt"`

	SubmitterTimeout time.Duration `json:"submitter_timeout"`
	TickBudget       time.Duration `json:"tick_budget"`

	LogLevel string `json:"log_level"`
}

// DefaultConfig returns the production defaults from spec §4.6 and §6.5.
func DefaultConfig() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Network: "devnet",

		ExecutorTickInterval: 1 * time.Second,
		PerTickMax:           16,
		ConfirmationEpochs:   1,
		RollbackWindowEpochs: 1024,

		RelaxedDependencyStatus: false,

		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OpenTimeout:      60 * time.Second,
			RollingWindow:    300 * time.Second,
		},
		ReceiptLimits: ReceiptLimits{
			MaxCount: 10_000,
			MaxBytes: 10 * 1024 * 1024,
		},

		MinSettlementForReceipt: 1000,

		SubmitterTimeout: 30 * time.Second,
		TickBudget:       5 * time.Second,

		LogLevel: "info",
	}
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate reports the first configuration error found, if any.
func Validate(cfg Config) error {
	if cfg.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if cfg.ExecutorTickInterval <= 0 {
		return errors.New("config: executor_tick_interval must be > 0")
	}
	if cfg.PerTickMax <= 0 {
		return errors.New("config: per_tick_max must be > 0")
	}
	if cfg.RollbackWindowEpochs == 0 {
		return errors.New("config: rollback_window_epochs must be > 0")
	}
	if cfg.CircuitBreaker.FailureThreshold <= 0 {
		return errors.New("config: circuit_breaker.failure_threshold must be > 0")
	}
	if cfg.CircuitBreaker.SuccessThreshold <= 0 {
		return errors.New("config: circuit_breaker.success_threshold must be > 0")
	}
	if cfg.CircuitBreaker.OpenTimeout <= 0 {
		return errors.New("config: circuit_breaker.open_timeout must be > 0")
	}
	if cfg.CircuitBreaker.RollingWindow <= 0 {
		return errors.New("config: circuit_breaker.rolling_window must be > 0")
	}
	if cfg.ReceiptLimits.MaxCount <= 0 {
		return errors.New("config: receipt_limits.max_count must be > 0")
	}
	if cfg.ReceiptLimits.MaxBytes <= 0 {
		return errors.New("config: receipt_limits.max_bytes must be > 0")
	}
	if _, ok := allowedLogLevels[cfg.LogLevel]; !ok {
		return fmt.Errorf("config: invalid log_level %q", cfg.LogLevel)
	}
	return nil
}

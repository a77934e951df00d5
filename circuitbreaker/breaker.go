// Package circuitbreaker implements the three-state guard that governs
// treasury executor submission: Closed (normal), Open (short-circuiting),
// HalfOpen (probing). State mutation happens exclusively through
// RecordSuccess / RecordFailure / AllowRequest.
package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the circuit breaker's current posture.
type State int32

const (
	Closed State = 0
	Open   State = 1
	// HalfOpen probes the downstream after OpenTimeout has elapsed;
	// AllowRequest admits every request in this state.
	HalfOpen State = 2
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the breaker's thresholds. Production defaults per spec
// §4.6: FailureThreshold=5, SuccessThreshold=2, OpenTimeout=60s,
// RollingWindow=300s.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	RollingWindow    time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
		RollingWindow:    300 * time.Second,
	}
}

// Breaker is the atomic circuit-breaker record. State reads on the
// AllowRequest hot path are lock-free; only the rarely-touched failure
// timeline and state-change timestamp are guarded by a mutex, leaving room
// for a future parallel submitter without redesign (spec §5).
type Breaker struct {
	cfg Config
	now func() time.Time

	state State32

	mu              sync.Mutex
	failureTimes    []time.Time
	successCount    int
	lastStateChange time.Time
	lastFailure     time.Time
}

// State32 is an atomic wrapper around circuitbreaker.State.
type State32 struct{ v atomic.Int32 }

func (s *State32) Load() State   { return State(s.v.Load()) }
func (s *State32) Store(v State) { s.v.Store(int32(v)) }

// New constructs a Breaker in the Closed state. now defaults to
// time.Now when nil (tests inject a deterministic clock).
func New(cfg Config, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultConfig().OpenTimeout
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = DefaultConfig().RollingWindow
	}
	b := &Breaker{cfg: cfg, now: now}
	b.lastStateChange = now()
	return b
}

// State returns the breaker's current state.
func (b *Breaker) State() State { return b.state.Load() }

// Counts returns the current failure count (within the rolling window)
// and success count (meaningful only in HalfOpen), for telemetry.
func (b *Breaker) Counts() (failures, successes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pruneLocked()), b.successCount
}

// AllowRequest reports whether a submission may proceed. Closed always
// allows. Open allows once OpenTimeout has elapsed since the last state
// change, transitioning to HalfOpen as a side effect and resetting
// counters. HalfOpen allows (bounded probing is the caller's concern via
// per_tick_max).
func (b *Breaker) AllowRequest() bool {
	if b.state.Load() == Closed {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state.Load() {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		if !b.now().Before(b.lastStateChange.Add(b.cfg.OpenTimeout)) {
			b.transitionLocked(HalfOpen)
			b.failureTimes = nil
			b.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful submission. In Closed it resets the
// failure timeline. In HalfOpen it increments the success count and
// transitions to Closed once SuccessThreshold is reached.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state.Load() {
	case Closed:
		b.failureTimes = nil
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transitionLocked(Closed)
			b.failureTimes = nil
			b.successCount = 0
		}
	}
}

// RecordFailure records a submission failure. In Closed it appends to the
// rolling failure timeline and transitions to Open once FailureThreshold
// failures have occurred within RollingWindow. In HalfOpen, any failure
// immediately reopens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastFailure = now

	switch b.state.Load() {
	case Closed:
		b.failureTimes = append(b.pruneLocked(), now)
		if len(b.failureTimes) >= b.cfg.FailureThreshold {
			b.transitionLocked(Open)
			b.failureTimes = nil
		}
	case HalfOpen:
		b.transitionLocked(Open)
		b.failureTimes = nil
		b.successCount = 0
	}
}

// pruneLocked drops failure timestamps older than RollingWindow. Caller
// must hold b.mu.
func (b *Breaker) pruneLocked() []time.Time {
	if len(b.failureTimes) == 0 {
		return b.failureTimes
	}
	cutoff := b.now().Add(-b.cfg.RollingWindow)
	kept := b.failureTimes[:0]
	for _, t := range b.failureTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failureTimes = kept
	return b.failureTimes
}

// transitionLocked updates state and lastStateChange. Caller must hold b.mu.
func (b *Breaker) transitionLocked(to State) {
	b.state.Store(to)
	b.lastStateChange = b.now()
}

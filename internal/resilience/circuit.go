// Package resilience provides the retry and circuit breaker policies applied
// to LLM provider and OCR calls.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the position of a Breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// ErrCircuitOpen is returned without calling the upstream while a breaker is
// open, or while its single half-open trial is still out.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls a Breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before one trial call is
	// let through.
	Cooldown time.Duration
	// ShouldTrip selects the errors that count as failures. Nil counts
	// every error except the caller's own cancellation.
	ShouldTrip func(err error) bool
}

// DefaultBreakerConfig opens after 5 failures and allows a trial call after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second}
}

// Breaker stops calling an upstream that keeps failing. One Breaker guards
// one upstream; it is safe for concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker. name labels its log lines.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now, state: BreakerClosed}
}

// Execute runs fn unless the breaker is open and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Guard(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Guard is Execute for calls that return a value.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	trial, err := b.admit()
	if err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(trial, err)
	return val, err
}

// admit decides whether a call may proceed. In half-open only one trial is
// out at a time.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case BreakerOpen:
		return false, ErrCircuitOpen
	case BreakerHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.set(BreakerHalfOpen)
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.probing = false
	}

	if err == nil || !b.cfg.ShouldTrip(err) {
		b.failures = 0
		if trial {
			b.set(BreakerClosed)
		}
		return
	}

	b.failures++
	if trial || b.failures >= b.cfg.Threshold {
		b.openedAt = b.now()
		b.set(BreakerOpen)
	}
}

// current reports the state, treating an open breaker whose cooldown has
// passed as half-open. Callers hold mu.
func (b *Breaker) current() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

func (b *Breaker) set(s BreakerState) {
	if b.state == s {
		return
	}
	zap.L().Warn("resilience: breaker state changed",
		zap.String("breaker", b.name),
		zap.String("from", string(b.state)),
		zap.String("to", string(s)),
		zap.Int("failures", b.failures),
	)
	b.state = s
}

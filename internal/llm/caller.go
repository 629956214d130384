// Package llm adds retry, circuit breaking and usage accounting around the
// Anthropic client. Every LLM call in the extraction core goes through a
// Caller so that provider failures surface uniformly as model.ProviderError.
package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/config"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/resilience"
	"github.com/sells-group/landscaper/pkg/anthropic"
)

// Caller is an anthropic.Client decorator.
type Caller struct {
	client    anthropic.Client
	retry     resilience.RetryConfig
	breaker   *resilience.Breaker
	model     string
	maxTokens int64
	phase     string

	mu    sync.Mutex
	usage anthropic.TokenUsage
	calls atomic.Int64
}

// Option configures a Caller.
type Option func(*Caller)

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Caller) { c.retry = cfg }
}

// WithBreaker overrides the circuit breaker.
func WithBreaker(cb *resilience.Breaker) Option {
	return func(c *Caller) { c.breaker = cb }
}

// WithPhase sets the label used when logging cost.
func WithPhase(phase string) Option {
	return func(c *Caller) { c.phase = phase }
}

// NewCaller wraps client. model and maxTokens fill requests that leave them
// unset.
func NewCaller(client anthropic.Client, model string, maxTokens int64, opts ...Option) *Caller {
	c := &Caller{
		client:    client,
		retry:     resilience.DefaultRetryConfig(),
		breaker:   resilience.NewBreaker("anthropic", resilience.DefaultBreakerConfig()),
		model:     model,
		maxTokens: maxTokens,
		phase:     "llm",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FromConfig builds a Caller with the retry and breaker settings of cfg.
func FromConfig(client anthropic.Client, cfg config.AnthropicConfig, phase string) *Caller {
	retry := resilience.FromRetryConfig(cfg.MaxRetries, cfg.InitialBackoffMs, cfg.MaxBackoffMs)
	retry.OnRetry = resilience.RetryLogger("anthropic", phase)
	return NewCaller(client, cfg.Model, cfg.MaxTokens,
		WithRetry(retry),
		WithBreaker(resilience.NewBreaker("anthropic", resilience.FromBreakerConfig(cfg.BreakerThreshold, cfg.BreakerResetSecs))),
		WithPhase(phase),
	)
}

// CreateMessage sends req with retries. Any failure that is not a context
// cancellation is returned as *model.ProviderError.
func (c *Caller) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}

	var attempts int
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		attempts++
		c.calls.Add(1)
		return resilience.Guard(ctx, c.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return c.client.CreateMessage(ctx, req)
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exhausted *resilience.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.Err
		}
		zap.L().Error("llm: provider call failed",
			zap.String("phase", c.phase),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return nil, &model.ProviderError{Attempts: attempts, Err: err}
	}

	c.mu.Lock()
	c.usage.Add(resp.Usage)
	c.mu.Unlock()
	resp.Usage.LogCost(req.Model, c.phase)
	return resp, nil
}

// Usage returns the accumulated token usage of successful calls.
func (c *Caller) Usage() anthropic.TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Calls returns the number of provider requests attempted.
func (c *Caller) Calls() int64 {
	return c.calls.Load()
}

var _ anthropic.Client = (*Caller)(nil)

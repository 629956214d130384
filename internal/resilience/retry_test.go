package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoVal_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastRetry(3), func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("overloaded"), 529)
		}
		return "end_turn", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "end_turn" || calls != 3 {
		t.Errorf("got (%q, %d calls)", v, calls)
	}
}

func TestDoVal_ExhaustedReportsAttempts(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(4), func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("rate limited"), 429)
	})
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if ex.Attempts != 4 || calls != 4 {
		t.Errorf("attempts=%d calls=%d", ex.Attempts, calls)
	}
	var te *TransientError
	if !errors.As(err, &te) || te.StatusCode != 429 {
		t.Errorf("expected wrapped transient error, got %v", err)
	}
}

func TestDo_NonTransientReturnsImmediately(t *testing.T) {
	calls := 0
	perm := errors.New("invalid_request_error: bad schema")
	err := Do(context.Background(), fastRetry(5), func(_ context.Context) error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("expected original error, got %v", err)
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		t.Error("non-transient error must not be reported as exhausted")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := fastRetry(10)
	cfg.InitialBackoff = 20 * time.Millisecond
	_ = Do(ctx, cfg, func(_ context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return NewTransientError(errors.New("502"), 502)
	})
	if calls > 2 {
		t.Errorf("expected retries to stop after cancel, got %d calls", calls)
	}
}

func TestDo_OnRetryCalledBetweenAttempts(t *testing.T) {
	var attempts []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }
	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("503"), 503)
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v", attempts)
	}
}

func TestComputeBackoff_CapsAtMax(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 10})
	if d := computeBackoff(5, cfg); d > 3*time.Second+3*time.Second/4 {
		t.Errorf("backoff %s exceeds cap plus jitter", d)
	}
	noJitter := cfg
	noJitter.JitterFraction = 0
	if d := computeBackoff(0, noJitter); d != time.Second {
		t.Errorf("first backoff = %s, want 1s", d)
	}
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(5, 100, 2000)
	if cfg.MaxAttempts != 5 || cfg.InitialBackoff != 100*time.Millisecond || cfg.MaxBackoff != 2*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}
	def := FromRetryConfig(0, 0, 0)
	if def.MaxAttempts != 3 {
		t.Errorf("expected default attempts, got %d", def.MaxAttempts)
	}
}

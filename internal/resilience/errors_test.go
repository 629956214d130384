package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("x"), 503), true},
		{"wrapped", fmt.Errorf("anthropic: create message: %w", NewTransientError(errors.New("x"), 429)), true},
		{"conn reset", fmt.Errorf("post: %w", syscall.ECONNRESET), true},
		{"overloaded body", errors.New(`529 {"type":"overloaded_error"}`), true},
		{"rate limit body", errors.New(`429 {"type":"rate_limit_error"}`), true},
		{"bad request", errors.New(`400 {"type":"invalid_request_error"}`), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 503, 529} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("%d should be transient", code)
		}
	}
	for _, code := range []int{400, 401, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("%d should not be transient", code)
		}
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	te := NewTransientError(inner, 500)
	if !errors.Is(te, inner) {
		t.Error("expected TransientError to unwrap to inner")
	}
	if te.Error() != "inner" {
		t.Errorf("Error() = %q", te.Error())
	}
}

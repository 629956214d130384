package ocr

import (
	"context"

	"github.com/sells-group/landscaper/internal/resilience"
)

// Guarded retries transient provider failures with backoff and stops
// calling a provider that keeps failing.
type Guarded struct {
	inner   Extractor
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// NewGuarded wraps inner with retry and breaker.
func NewGuarded(inner Extractor, retry resilience.RetryConfig, breaker *resilience.Breaker) *Guarded {
	return &Guarded{inner: inner, retry: retry, breaker: breaker}
}

// ExtractPages implements Extractor.
func (g *Guarded) ExtractPages(ctx context.Context, pdf []byte) ([]string, error) {
	var pages []string
	err := resilience.Do(ctx, g.retry, func(ctx context.Context) error {
		return g.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			pages, err = g.inner.ExtractPages(ctx, pdf)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

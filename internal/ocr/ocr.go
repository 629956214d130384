// Package ocr turns scanned PDFs into per-page text when the PDF has no
// usable text layer.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landscaper/internal/config"
	"github.com/sells-group/landscaper/internal/resilience"
)

// Extractor extracts text from PDF bytes, one string per page.
type Extractor interface {
	ExtractPages(ctx context.Context, pdf []byte) ([]string, error)
}

// NewExtractor creates the configured provider behind retry and a circuit
// breaker.
func NewExtractor(cfg config.OCRConfig) (*Guarded, error) {
	var inner Extractor
	name := cfg.Provider
	switch cfg.Provider {
	case "local", "":
		inner, name = NewPdfToText(cfg.PdfToTextPath), "pdftotext"
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires ocr.mistral_key")
		}
		inner = NewMistralOCR(cfg.MistralKey, cfg.MistralModel)
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}

	retry := resilience.FromRetryConfig(cfg.MaxRetries, 0, 0)
	retry.OnRetry = resilience.RetryLogger("ocr", name)
	breaker := resilience.NewBreaker("ocr:"+name, resilience.FromBreakerConfig(cfg.BreakerThreshold, cfg.BreakerCooldownSecs))
	return NewGuarded(inner, retry, breaker), nil
}

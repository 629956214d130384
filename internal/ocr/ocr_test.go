package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landscaper/internal/config"
	"github.com/sells-group/landscaper/internal/resilience"
)

func TestNewExtractor(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: "local", PdfToTextPath: "/usr/bin/pdftotext"})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, ext.inner)

	ext, err = NewExtractor(config.OCRConfig{})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, ext.inner)

	ext, err = NewExtractor(config.OCRConfig{Provider: "mistral", MistralKey: "k", MaxRetries: 2})
	require.NoError(t, err)
	assert.IsType(t, &MistralOCR{}, ext.inner)
	assert.Equal(t, 2, ext.retry.MaxAttempts)
}

func TestNewExtractor_Errors(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "mistral"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires ocr.mistral_key")

	_, err = NewExtractor(config.OCRConfig{Provider: "tesseract"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "tesseract"`)
}

func TestMistralOCR_DefaultModel(t *testing.T) {
	m := NewMistralOCR("key", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
}

func newTestMistral(url string) *MistralOCR {
	return &MistralOCR{apiKey: "test-key", model: "test-model", endpoint: url, client: &http.Client{}}
}

func TestMistralOCR_ExtractPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Contains(t, req.Document.DocumentURL, "data:application/pdf;base64,")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{ //nolint:errcheck
			{Index: 1, Markdown: "| Unit | Rent |"},
			{Index: 0, Markdown: "Rent Roll"},
		}})
	}))
	defer srv.Close()

	pages, err := newTestMistral(srv.URL).ExtractPages(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Rent Roll", "| Unit | Rent |"}, pages)
}

func TestMistralOCR_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	_, err := newTestMistral(srv.URL).ExtractPages(context.Background(), []byte("%PDF"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral API returned 401")
}

func fastGuard(inner Extractor, threshold int) *Guarded {
	retry := resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
	return NewGuarded(inner, retry, resilience.NewBreaker("ocr:test", resilience.BreakerConfig{Threshold: threshold, Cooldown: time.Hour}))
}

func TestGuarded_RetriesTransientMistralErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{{Index: 0, Markdown: "Rent Roll"}}}) //nolint:errcheck
	}))
	defer srv.Close()

	pages, err := fastGuard(newTestMistral(srv.URL), 5).ExtractPages(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Rent Roll"}, pages)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGuarded_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := fastGuard(newTestMistral(srv.URL), 5).ExtractPages(context.Background(), []byte("%PDF"))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGuarded_BreakerStopsCallingFailingProvider(t *testing.T) {
	g := fastGuard(NewPdfToText("/nonexistent/pdftotext"), 2)
	for i := 0; i < 2; i++ {
		_, err := g.ExtractPages(context.Background(), []byte("%PDF"))
		assert.Contains(t, err.Error(), "pdftotext failed")
	}
	_, err := g.ExtractPages(context.Background(), []byte("%PDF"))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestMistralOCR_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{invalid json`))
	}))
	defer srv.Close()

	_, err := newTestMistral(srv.URL).ExtractPages(context.Background(), []byte("%PDF"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal mistral response")
}

func TestPdfToText_BinaryNotFound(t *testing.T) {
	_, err := NewPdfToText("/nonexistent/pdftotext").ExtractPages(context.Background(), []byte("%PDF"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestPdfToText_SplitsPages(t *testing.T) {
	fakeBin := filepath.Join(t.TempDir(), "pdftotext")
	script := "#!/bin/sh\ncat >/dev/null\nprintf 'page one\\fpage two\\f'\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0o755))

	pages, err := NewPdfToText(fakeBin).ExtractPages(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, []string{"page one", "page two"}, pages)
}

func TestSplitPages(t *testing.T) {
	assert.Equal(t, []string{"only"}, splitPages("only"))
	assert.Equal(t, []string{""}, splitPages(""))
	assert.Equal(t, []string{"a", "", "c"}, splitPages("a\f\fc\f"))
}

package main

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/assistant"
	"github.com/sells-group/landscaper/internal/blob"
	"github.com/sells-group/landscaper/internal/corrections"
	"github.com/sells-group/landscaper/internal/extract"
	"github.com/sells-group/landscaper/internal/ingest"
	"github.com/sells-group/landscaper/internal/jobs"
	"github.com/sells-group/landscaper/internal/llm"
	"github.com/sells-group/landscaper/internal/ocr"
	"github.com/sells-group/landscaper/internal/registry"
	"github.com/sells-group/landscaper/internal/review"
	"github.com/sells-group/landscaper/internal/store"
	"github.com/sells-group/landscaper/internal/toolloop"
	anthropicpkg "github.com/sells-group/landscaper/pkg/anthropic"
	"github.com/sells-group/landscaper/pkg/notion"
)

// shutdownGrace bounds how long running jobs get to stop on exit.
const shutdownGrace = 30 * time.Second

// pipelineEnv holds the store, registries and services needed by the serve
// and jobs commands.
type pipelineEnv struct {
	Store       store.Store
	Blobs       blob.Store
	Registry    *registry.Registry
	Runner      *jobs.Runner
	Corrections *corrections.Log
	Review      *review.Workflow
	Ingest      *ingest.Service
	Assistant   *assistant.Service // nil without a model key
}

// Close stops running jobs and releases the store.
func (pe *pipelineEnv) Close() {
	if pe.Runner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := pe.Runner.Shutdown(ctx); err != nil {
			zap.L().Warn("jobs did not stop in time", zap.Error(err))
		}
		cancel()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initRegistry loads the canonical schemas from the configured source.
func initRegistry(ctx context.Context) (*registry.Registry, error) {
	base, err := registry.LoadFile(cfg.Mapping.SynonymsPath)
	if err != nil {
		return nil, err
	}
	if cfg.Mapping.Source != "notion" {
		return base, nil
	}
	return registry.LoadNotion(ctx, notion.NewClient(cfg.Notion.Token), cfg.Mapping.NotionDB, base)
}

// initLLM returns a provider caller for phase, or nil when no key is set.
func initLLM(phase string) *llm.Caller {
	if cfg.Anthropic.Key == "" {
		return nil
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key, option.WithRequestTimeout(cfg.Anthropic.RequestTimeout()))
	return llm.FromConfig(client, cfg.Anthropic, phase)
}

// initExtractor builds the document extractor with the OCR fallback and,
// when enabled, chunked LLM extraction.
func initExtractor() (*extract.Extractor, error) {
	o, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return nil, err
	}
	opts := []extract.Option{extract.WithOCR(o)}
	if cfg.Extract.UseLLM {
		caller := initLLM("extract")
		if caller == nil {
			return nil, eris.New("extract.use_llm requires anthropic.key")
		}
		opts = append(opts, extract.WithLLM(extract.NewLLMExtractor(caller, cfg.Extract, cfg.Anthropic.MaxTokens)))
	}
	return extract.New(opts...), nil
}

// initPipeline sets up the store, blob storage, registries and services.
// Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	reg, err := initRegistry(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load registry")
	}
	ex, err := initExtractor()
	if err != nil {
		return nil, err
	}
	blobs, err := blob.New(cfg.Blob)
	if err != nil {
		return nil, eris.Wrap(err, "open blob store")
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	env := &pipelineEnv{
		Store:       st,
		Blobs:       blobs,
		Registry:    reg,
		Runner:      jobs.New(st, blobs, ex, reg, cfg.Extract),
		Corrections: corrections.New(st, reg),
		Ingest:      ingest.New(st, blobs),
	}
	env.Review = review.New(st, env.Corrections, reg)

	if caller := initLLM("assistant"); caller != nil {
		env.Assistant = assistant.New(caller, env.Runner, env.Review, st,
			toolloop.BudgetFromConfig(cfg.ToolLoop), cfg.Extract.SampleValues,
			toolloop.WithModel(cfg.Anthropic.Model, cfg.Anthropic.MaxTokens),
			toolloop.WithRequestTimeout(cfg.Anthropic.RequestTimeout()),
		)
	} else {
		zap.L().Warn("anthropic.key not set, assistant disabled")
	}

	zap.L().Info("pipeline initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("blob", cfg.Blob.Driver),
		zap.Int("doc_types", len(reg.DocTypes())),
		zap.Bool("llm_extraction", cfg.Extract.UseLLM),
	)
	return env, nil
}

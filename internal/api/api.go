// Package api exposes the extraction, review and analytics workflow over
// HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/config"
	"github.com/sells-group/landscaper/internal/ingest"
	"github.com/sells-group/landscaper/internal/jobs"
	"github.com/sells-group/landscaper/internal/mapping"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/review"
	"github.com/sells-group/landscaper/internal/toolloop"
)

// maxUpload caps the size of an uploaded document.
const maxUpload = 64 << 20

// Ingester stores uploads.
type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload) (*ingest.Result, error)
}

// Jobs proposes mappings and runs extraction jobs.
type Jobs interface {
	Propose(ctx context.Context, documentID string) (*mapping.Proposal, error)
	Confirm(ctx context.Context, c jobs.Confirmation) (*model.ExtractionJob, error)
	Status(ctx context.Context, jobID string) (model.JobStatusView, error)
	Cancel(ctx context.Context, jobID string) (*model.ExtractionJob, error)
}

// Reviewer drives document review.
type Reviewer interface {
	Open(ctx context.Context, documentID string) (*model.Document, error)
	Approve(ctx context.Context, documentID string) error
	Commit(ctx context.Context, documentID string) (*review.Summary, error)
	Correct(ctx context.Context, e review.Edit) (*model.Correction, error)
	Recategorize(ctx context.Context, recordID, category string) (bool, error)
}

// Analytics reports extraction accuracy.
type Analytics interface {
	AccuracyTrend(ctx context.Context, days int) (*model.AccuracyTrend, error)
}

// Assistant runs mapping conversations.
type Assistant interface {
	Send(ctx context.Context, documentID, text string) (*toolloop.Result, error)
	ConfirmAction(ctx context.Context, documentID, pendingID string, always bool) (toolloop.ToolCall, error)
	RejectAction(documentID, pendingID string) error
}

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	ingest    Ingester
	jobs      Jobs
	review    Reviewer
	analytics Analytics
	assistant Assistant
	db        Pinger
}

// NewHandler creates a Handler. assistant may be nil when no model key is
// configured; its routes then answer 503.
func NewHandler(in Ingester, j Jobs, rv Reviewer, an Analytics, as Assistant, db Pinger) *Handler {
	return &Handler{ingest: in, jobs: j, review: rv, analytics: an, assistant: as, db: db}
}

// Router builds the chi router with CORS and request logging.
func (h *Handler) Router(cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", h.upload)
		r.Get("/{id}/proposal", h.proposal)
		r.Post("/{id}/review/open", h.openReview)
		r.Post("/{id}/review/approve", h.approveReview)
		r.Post("/{id}/review/commit", h.commitReview)
	})
	r.Post("/mappings/confirm", h.confirmMapping)
	r.Get("/extraction-jobs/{id}", h.jobStatus)
	r.Post("/extraction-jobs/{id}/cancel", h.cancelJob)
	r.Post("/corrections", h.logCorrection)
	r.Get("/analytics/accuracy", h.accuracy)
	r.Post("/line-items/{id}/recategorize", h.recategorize)

	r.Route("/assistant/{document_id}", func(r chi.Router) {
		r.Post("/messages", h.assistantMessage)
		r.Post("/actions/{action_id}/confirm", h.confirmAction)
		r.Post("/actions/{action_id}/reject", h.rejectAction)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

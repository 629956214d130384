package jobs

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/extract"
	"github.com/sells-group/landscaper/internal/mapping"
	"github.com/sells-group/landscaper/internal/model"
)

// Confirmation is a user-confirmed mapping for one document.
type Confirmation struct {
	DocumentID string                `json:"document_id"`
	Mappings   []mapping.ConfirmItem `json:"mappings"`
}

// Confirm validates the mapping against the document's headers, stores it
// together with any new custom fields and a queued job, and starts the job.
// It fails with *model.MappingConflictError while another job is active for
// the document, and wraps mapping.ErrInvalidConfirmation for bad input.
func (r *Runner) Confirm(ctx context.Context, c Confirmation) (*model.ExtractionJob, error) {
	doc, err := r.store.GetDocument(ctx, c.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.ReviewStatus == model.ReviewCommitted {
		return nil, &model.InvalidTransitionError{From: model.ReviewCommitted, To: model.ReviewPending}
	}
	if !doc.FileType.IsSpreadsheet() && len(c.Mappings) > 0 {
		return nil, eris.Wrapf(mapping.ErrInvalidConfirmation, "jobs: %s has no header row to map", doc.Filename)
	}

	schema, err := r.schema(ctx, doc.DocType)
	if err != nil {
		return nil, err
	}
	headers, err := r.headers(ctx, doc, schema)
	if err != nil {
		return nil, err
	}
	v, err := mapping.ValidateConfirmation(schema, headers, c.Mappings)
	if err != nil {
		return nil, err
	}

	set := &model.MappingSet{DocumentID: doc.ID, Mappings: v.Mappings}
	job := &model.ExtractionJob{DocumentID: doc.ID}
	if err := r.store.ConfirmMapping(ctx, doc.DocType, set, v.NewFields, job); err != nil {
		return nil, err
	}
	zap.L().Info("jobs: mapping confirmed",
		zap.String("document_id", doc.ID),
		zap.String("mapping_set_id", set.ID),
		zap.Int("mappings", len(set.Mappings)),
		zap.Int("new_fields", len(v.NewFields)),
	)
	if err := r.Submit(job); err != nil {
		r.fail(job, err.Error(), zap.L().With(zap.String("job_id", job.ID)))
		return nil, err
	}
	return job, nil
}

// Preview reads a document's detected header and sample rows.
func (r *Runner) Preview(ctx context.Context, documentID string) (*model.Document, *model.Schema, *extract.Preview, error) {
	doc, err := r.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, nil, err
	}
	schema, err := r.schema(ctx, doc.DocType)
	if err != nil {
		return nil, nil, nil, err
	}
	p, err := r.preview(ctx, doc, schema)
	if err != nil {
		return nil, nil, nil, err
	}
	return doc, schema, p, nil
}

// Propose returns the mapping proposal for a document.
func (r *Runner) Propose(ctx context.Context, documentID string) (*mapping.Proposal, error) {
	_, schema, p, err := r.Preview(ctx, documentID)
	if err != nil {
		return nil, err
	}
	opts := mapping.DefaultOptions()
	opts.MaxSamples = r.samples
	return mapping.Propose(schema, p.Headers, p.Samples, opts), nil
}

func (r *Runner) headers(ctx context.Context, doc *model.Document, schema *model.Schema) ([]string, error) {
	if len(schema.Fields) == 0 {
		return nil, nil
	}
	p, err := r.preview(ctx, doc, schema)
	if err != nil {
		return nil, err
	}
	return p.Headers, nil
}

func (r *Runner) preview(ctx context.Context, doc *model.Document, schema *model.Schema) (*extract.Preview, error) {
	data, err := r.blobs.Get(ctx, doc.StorageURI)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: read document")
	}
	return r.extractor.Preview(ctx, extract.Input{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		FileType:   doc.FileType,
		Data:       data,
		Schema:     schema,
	}, r.samples*2)
}

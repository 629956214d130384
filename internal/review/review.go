// Package review moves extracted documents through
// pending -> in_review -> corrected -> committed and writes reviewed records
// into the normalized tables in one transaction.
package review

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/corrections"
	"github.com/sells-group/landscaper/internal/extract"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/registry"
)

// ErrInvalidEdit is returned for edits that cannot apply to the record.
var ErrInvalidEdit = errors.New("invalid edit")

// Store is the persistence the workflow needs.
type Store interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	TransitionReview(ctx context.Context, documentID string, from, to model.ReviewStatus) error
	ListRecords(ctx context.Context, documentID string) ([]model.ExtractedRecord, error)
	GetRecord(ctx context.Context, id string) (*model.ExtractedRecord, error)
	UpdateRecordField(ctx context.Context, recordID, field string, fv model.FieldValue) error
	ListCustomFields(ctx context.Context, dt model.DocType) ([]model.CanonicalField, error)
	CommitDocument(ctx context.Context, documentID string, rows []model.TableRow) error
}

// CorrectionLogger appends to the correction log.
type CorrectionLogger interface {
	LogCorrection(ctx context.Context, e corrections.Entry) (*model.Correction, error)
}

// Workflow drives document review.
type Workflow struct {
	store    Store
	log      CorrectionLogger
	registry *registry.Registry
	now      func() time.Time
}

// New creates a Workflow.
func New(st Store, log CorrectionLogger, reg *registry.Registry) *Workflow {
	return &Workflow{store: st, log: log, registry: reg, now: func() time.Time { return time.Now().UTC() }}
}

// Open starts review of an extracted document. Opening a document that is
// already under review is a no-op.
func (w *Workflow) Open(ctx context.Context, documentID string) (*model.Document, error) {
	doc, err := w.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.ReviewStatus == model.ReviewInReview {
		return doc, nil
	}
	if err := w.store.TransitionReview(ctx, documentID, model.ReviewPending, model.ReviewInReview); err != nil {
		return nil, err
	}
	doc.ReviewStatus = model.ReviewInReview
	zap.L().Info("review: opened", zap.String("document_id", documentID))
	return doc, nil
}

// Approve marks a reviewed document ready to commit without edits.
func (w *Workflow) Approve(ctx context.Context, documentID string) error {
	if err := w.store.TransitionReview(ctx, documentID, model.ReviewInReview, model.ReviewCorrected); err != nil {
		return err
	}
	zap.L().Info("review: approved", zap.String("document_id", documentID))
	return nil
}

// Edit is one reviewer change to an extracted field.
type Edit struct {
	RecordID  string               `json:"record_id"`
	FieldPath string               `json:"field_path"`
	Value     any                  `json:"value"`
	Type      model.CorrectionType `json:"correction_type"`
	Notes     string               `json:"notes,omitempty"`
}

// Correct applies an edit, logs it as a correction and moves the document to
// corrected. The document must be in review or already corrected. String
// values for typed fields are parsed the same way extraction parses cells.
// The edit is applied before it is logged; if logging fails the field is
// restored, so the log only holds edits that took effect.
func (w *Workflow) Correct(ctx context.Context, e Edit) (*model.Correction, error) {
	if !e.Type.Valid() {
		return nil, eris.Wrapf(corrections.ErrInvalidCorrection, "review: unknown correction type %q", e.Type)
	}
	rec, doc, err := w.editable(ctx, e.RecordID)
	if err != nil {
		return nil, err
	}
	value, err := w.coerce(ctx, doc.DocType, e.FieldPath, e.Value)
	if err != nil {
		return nil, err
	}

	prev := rec.Get(e.FieldPath)
	fv := model.FieldValue{Value: value, Confidence: 1, SourcePage: prev.SourcePage, SourceQuote: prev.SourceQuote, Corrected: true}
	if value == nil {
		fv = model.FieldValue{Corrected: true}
	}
	if err := w.store.UpdateRecordField(ctx, rec.ID, e.FieldPath, fv); err != nil {
		return nil, eris.Wrap(err, "review: apply correction")
	}

	c, err := w.log.LogCorrection(ctx, corrections.Entry{
		RecordID:     rec.ID,
		FieldPath:    e.FieldPath,
		AIValue:      prev.Value,
		UserValue:    value,
		AIConfidence: prev.Confidence,
		Type:         e.Type,
		Notes:        e.Notes,
	})
	if err != nil {
		if rerr := w.store.UpdateRecordField(context.WithoutCancel(ctx), rec.ID, e.FieldPath, prev); rerr != nil {
			zap.L().Error("review: restore field after failed log",
				zap.String("record_id", rec.ID),
				zap.String("field_path", e.FieldPath),
				zap.Error(rerr),
			)
		}
		return nil, err
	}
	if doc.ReviewStatus == model.ReviewInReview {
		if err := w.store.TransitionReview(ctx, doc.ID, model.ReviewInReview, model.ReviewCorrected); err != nil {
			return nil, err
		}
	}

	zap.L().Info("review: corrected",
		zap.String("document_id", doc.ID),
		zap.String("record_id", rec.ID),
		zap.String("field_path", e.FieldPath),
	)
	return c, nil
}

// Recategorize moves an operating statement line item to another category.
// It reports whether anything changed; repeating the same move is a no-op.
func (w *Workflow) Recategorize(ctx context.Context, recordID, category string) (bool, error) {
	if category == "" {
		return false, eris.Wrap(ErrInvalidEdit, "review: category is required")
	}
	rec, doc, err := w.editable(ctx, recordID)
	if err != nil {
		return false, err
	}
	if rec.DocType != model.DocTypeOperatingStatement {
		return false, eris.Wrapf(ErrInvalidEdit, "review: record %s is a %s row, not a line item", recordID, rec.DocType)
	}
	if cur, ok := rec.String("category"); ok && cur == category {
		return false, nil
	}
	_, err = w.Correct(ctx, Edit{
		RecordID:  rec.ID,
		FieldPath: "category",
		Value:     category,
		Type:      model.CorrectionWrongTable,
		Notes:     "recategorized",
	})
	if err != nil {
		return false, err
	}
	zap.L().Info("review: recategorized",
		zap.String("document_id", doc.ID),
		zap.String("record_id", recordID),
		zap.String("category", category),
	)
	return true, nil
}

// editable loads a record and its document and checks the document is open
// for edits and the record belongs to the document's current extraction.
func (w *Workflow) editable(ctx context.Context, recordID string) (*model.ExtractedRecord, *model.Document, error) {
	rec, err := w.store.GetRecord(ctx, recordID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil, &model.ReferentialIntegrityError{Entity: "record", ID: recordID}
	}
	if err != nil {
		return nil, nil, err
	}
	doc, err := w.store.GetDocument(ctx, rec.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	if doc.ReviewStatus != model.ReviewInReview && doc.ReviewStatus != model.ReviewCorrected {
		return nil, nil, &model.InvalidTransitionError{From: doc.ReviewStatus, To: model.ReviewCorrected}
	}
	if rec.JobID != doc.CurrentJobID {
		return nil, nil, eris.Wrapf(ErrInvalidEdit, "review: record %s belongs to superseded job %s", rec.ID, rec.JobID)
	}
	return rec, doc, nil
}

func (w *Workflow) coerce(ctx context.Context, dt model.DocType, field string, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	custom, err := w.store.ListCustomFields(ctx, dt)
	if err != nil {
		return nil, err
	}
	schema, err := w.registry.WithCustomFields(dt, custom)
	if err != nil {
		return nil, err
	}
	f, ok := schema.Field(field)
	if !ok {
		return s, nil
	}
	if extract.IsBlank(s) {
		return nil, nil
	}
	parsed, ok := extract.ParseValue(s, f.Type)
	if !ok {
		return nil, eris.Wrapf(ErrInvalidEdit, "review: %q is not a valid %s for %s", s, f.Type, field)
	}
	return parsed, nil
}

// Summary reports what a commit wrote.
type Summary struct {
	DocumentID string         `json:"document_id"`
	Records    int            `json:"records"`
	Tables     map[string]int `json:"tables"`
}

// Commit writes the document's current records into the normalized tables
// and marks it committed. Only corrected documents can be committed. Any
// insert failure rolls the whole commit back and returns
// *model.CommitTransactionError; the document stays corrected.
func (w *Workflow) Commit(ctx context.Context, documentID string) (*Summary, error) {
	doc, err := w.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.ReviewStatus.CanTransition(model.ReviewCommitted) {
		return nil, &model.InvalidTransitionError{From: doc.ReviewStatus, To: model.ReviewCommitted}
	}
	records, err := w.store.ListRecords(ctx, documentID)
	if err != nil {
		return nil, err
	}

	rows := Normalize(doc, records, w.now())
	if err := w.store.CommitDocument(ctx, documentID, rows); err != nil {
		var cte *model.CommitTransactionError
		if errors.As(err, &cte) {
			zap.L().Error("review: commit rolled back",
				zap.String("document_id", documentID),
				zap.String("table", cte.Table),
				zap.String("constraint", cte.Constraint),
				zap.String("detail", cte.Detail),
			)
		}
		return nil, err
	}

	sum := &Summary{DocumentID: documentID, Records: len(records), Tables: map[string]int{}}
	for _, r := range rows {
		sum.Tables[r.Table]++
	}
	zap.L().Info("review: committed",
		zap.String("document_id", documentID),
		zap.Int("records", len(records)),
		zap.Int("rows", len(rows)),
	)
	return sum, nil
}

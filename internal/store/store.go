// Package store persists documents, extraction jobs, staged records and the
// correction log. PostgresStore is the production backend; SQLiteStore
// serves local runs and tests.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landscaper/internal/config"
	"github.com/sells-group/landscaper/internal/model"
)

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	FindByHash(ctx context.Context, projectID, hash string) ([]model.Document, error)
	LatestByFilename(ctx context.Context, projectID, filename string) (*model.Document, error)
	// TransitionReview moves a document from one review state to another.
	// It fails with *model.InvalidTransitionError when the document is not
	// in from.
	TransitionReview(ctx context.Context, documentID string, from, to model.ReviewStatus) error

	// Mappings
	// ConfirmMapping stores the confirmed mapping, any new custom fields and
	// a queued job in one transaction. It fails with
	// *model.MappingConflictError when the document already has an active job.
	ConfirmMapping(ctx context.Context, dt model.DocType, set *model.MappingSet, newFields []model.CanonicalField, job *model.ExtractionJob) error
	GetMappingSet(ctx context.Context, id string) (*model.MappingSet, error)
	ListCustomFields(ctx context.Context, dt model.DocType) ([]model.CanonicalField, error)

	// Jobs
	CreateJob(ctx context.Context, job *model.ExtractionJob) error
	GetJob(ctx context.Context, id string) (*model.ExtractionJob, error)
	ActiveJob(ctx context.Context, documentID string) (*model.ExtractionJob, error)
	UpdateJob(ctx context.Context, job *model.ExtractionJob) error
	// CompleteJob stages records and marks the job completed atomically.
	// The document's current records become the job's records.
	CompleteJob(ctx context.Context, job *model.ExtractionJob, records []model.ExtractedRecord) error
	DeleteJobRecords(ctx context.Context, jobID string) (int, error)
	// FailInterruptedJobs fails queued and running jobs left behind by a
	// previous process.
	FailInterruptedJobs(ctx context.Context, reason string) (int, error)

	// Records
	ListRecords(ctx context.Context, documentID string) ([]model.ExtractedRecord, error)
	GetRecord(ctx context.Context, id string) (*model.ExtractedRecord, error)
	UpdateRecordField(ctx context.Context, recordID, field string, fv model.FieldValue) error

	// Corrections
	// InsertCorrection appends to the log. An unknown record fails with
	// *model.ReferentialIntegrityError.
	InsertCorrection(ctx context.Context, c *model.Correction) error
	ListCorrections(ctx context.Context, since time.Time) ([]model.Correction, error)
	CountExtractions(ctx context.Context, since time.Time) ([]model.ExtractionCount, error)

	// CommitDocument writes rows into the normalized tables and marks the
	// document committed in one transaction. Only a corrected document can
	// be committed; a failed insert rolls everything back and returns
	// *model.CommitTransactionError.
	CommitDocument(ctx context.Context, documentID string, rows []model.TableRow) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres", "":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "landscaper.db"
		}
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// committedTables are the normalized tables CommitDocument may write to.
var committedTables = map[string]bool{
	"tenants":              true,
	"units":                true,
	"leases":               true,
	"operating_line_items": true,
	"parcels":              true,
	"committed_values":     true,
	"document_commits":     true,
}

func checkTables(documentID string, rows []model.TableRow) error {
	for _, r := range rows {
		if !committedTables[r.Table] {
			return &model.CommitTransactionError{DocumentID: documentID, Table: r.Table, Detail: "not a committable table"}
		}
		if len(r.Columns) != len(r.Values) {
			return &model.CommitTransactionError{
				DocumentID: documentID,
				Table:      r.Table,
				Detail:     fmt.Sprintf("%d columns but %d values", len(r.Columns), len(r.Values)),
			}
		}
	}
	return nil
}

// rowValue renders the values of a failed insert for the error detail.
func rowValue(r model.TableRow) string {
	parts := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		parts[i] = fmt.Sprintf("%s=%v", c, r.Values[i])
	}
	return strings.Join(parts, ", ")
}

func marshalFields(fields map[string]model.FieldValue) ([]byte, error) {
	b, err := json.Marshal(fields)
	return b, eris.Wrap(err, "store: marshal record fields")
}

func unmarshalFields(data []byte) (map[string]model.FieldValue, error) {
	fields := map[string]model.FieldValue{}
	if len(data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal record fields")
	}
	return fields, nil
}

// jsonValue encodes an arbitrary correction value; nil stays NULL.
func jsonValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "store: marshal value")
}

func decodeValue(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return string(b)
	}
	return v
}

func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

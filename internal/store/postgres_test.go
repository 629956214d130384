package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landscaper/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

var jobCols = []string{"id", "document_id", "mapping_set_id", "status", "iterations", "progress", "record_count",
	"method_used", "error_message", "warnings", "created_at", "started_at", "finished_at"}

func jobRow(id, docID string, status model.JobStatus) *pgxmock.Rows {
	return pgxmock.NewRows(jobCols).AddRow(id, docID, nil, string(status), 0, 0.5, 0, "", "",
		[]byte(`[{"row_index":-1,"field_path":"","severity":"warning","message":"no rows"}]`), time.Now(), nil, nil)
}

func TestPostgres_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT id, document_id, mapping_set_id, status.* FROM extraction_jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "doc-1", model.JobRunning))

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobRunning, job.Status)
	assert.Empty(t, job.MappingSetID)
	assert.Nil(t, job.StartedAt)
	require.Len(t, job.Warnings, 1)
	assert.Equal(t, -1, job.Warnings[0].RowIndex)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetJobNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`FROM extraction_jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "missing")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ConfirmMappingConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM extraction_jobs WHERE document_id = \$1 AND status IN`).
		WithArgs("doc-1").
		WillReturnRows(jobRow("job-active", "doc-1", model.JobRunning))
	mock.ExpectRollback()

	set := &model.MappingSet{DocumentID: "doc-1"}
	err := s.ConfirmMapping(context.Background(), model.DocTypeRentRoll, set, nil, &model.ExtractionJob{DocumentID: "doc-1"})
	var ce *model.MappingConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "job-active", ce.ActiveJobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateJobLosesRace(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM extraction_jobs WHERE document_id = \$1 AND status IN`).
		WithArgs("doc-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO extraction_jobs`).
		WithArgs(pgxmock.AnyArg(), "doc-1", pgxmock.AnyArg(), "queued", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "ux_extraction_jobs_active"})
	mock.ExpectRollback()

	err := s.CreateJob(context.Background(), &model.ExtractionJob{DocumentID: "doc-1"})
	var ce *model.MappingConflictError
	assert.True(t, errors.As(err, &ce))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	job := &model.ExtractionJob{ID: "job-1", DocumentID: "doc-1", Status: model.JobRunning}
	recs := []model.ExtractedRecord{{ID: "r1", DocumentID: "doc-1", DocType: model.DocTypeRentRoll}}

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"extracted_records"},
		[]string{"id", "document_id", "job_id", "doc_type", "row_index", "fields", "created_at"}).
		WillReturnResult(1)
	mock.ExpectExec(`UPDATE extraction_jobs SET status = \$1`).
		WithArgs("completed", 0, 0.0, 1, "", "", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE documents SET current_job_id = \$1`).
		WithArgs("job-1", pgxmock.AnyArg(), "doc-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.CompleteJob(context.Background(), job, recs))
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, 1, job.RecordCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CommitDocumentMapsConstraint(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rows := commitRows("doc-1", -5)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE documents SET review_status = 'committed'.*review_status = 'corrected'`).
		WithArgs(pgxmock.AnyArg(), "doc-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"tenants"}, rows[0].Columns).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"units"}, rows[1].Columns).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"leases"}, rows[2].Columns).
		WillReturnError(&pgconn.PgError{
			Code:           "23514",
			Message:        `new row for relation "leases" violates check constraint "ck_leases_current_rent"`,
			Detail:         "Failing row contains (l1, doc-1, u1, t1, -5, 2024-01-15, null, null).",
			TableName:      "leases",
			ConstraintName: "ck_leases_current_rent",
		})
	mock.ExpectRollback()

	err := s.CommitDocument(context.Background(), "doc-1", rows)
	var ce *model.CommitTransactionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "leases", ce.Table)
	assert.Equal(t, "ck_leases_current_rent", ce.Constraint)
	assert.Contains(t, ce.Detail, "Failing row contains")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CommitDocumentNotCorrected(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE documents SET review_status = 'committed'`).
		WithArgs(pgxmock.AnyArg(), "doc-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT review_status FROM documents WHERE id = \$1`).
		WithArgs("doc-1").
		WillReturnRows(pgxmock.NewRows([]string{"review_status"}).AddRow("committed"))
	mock.ExpectRollback()

	err := s.CommitDocument(context.Background(), "doc-1", nil)
	var te *model.InvalidTransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.ReviewCommitted, te.From)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertCorrectionUnknownRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT document_id FROM extracted_records WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	err := s.InsertCorrection(context.Background(), &model.Correction{RecordID: "ghost"})
	var ri *model.ReferentialIntegrityError
	assert.True(t, errors.As(err, &ri))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountExtractions(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Now().Add(-7 * 24 * time.Hour)
	mock.ExpectQuery(`SELECT to_char\(r.created_at`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"day", "doc_type", "count"}).
			AddRow("2026-10-01", "rent_roll", 113).
			AddRow("2026-10-02", "parcel_table", 12))

	counts, err := s.CountExtractions(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, 113, counts[0].Records)
	assert.Equal(t, model.DocTypeParcelTable, counts[1].DocType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FailInterruptedJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE extraction_jobs SET status = 'failed'`).
		WithArgs("shutdown", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.FailInterruptedJobs(context.Background(), "shutdown")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

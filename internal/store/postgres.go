package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/landscaper/internal/db"
	"github.com/sells-group/landscaper/internal/model"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// Postgres error codes the store translates into domain errors.
const (
	pgUniqueViolation = "23505"
	activeJobIndex    = "ux_extraction_jobs_active"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const jobColumns = `id, document_id, mapping_set_id, status, iterations, progress, record_count, method_used, error_message, warnings, created_at, started_at, finished_at`

const updateJobSQL = `UPDATE extraction_jobs SET status = $1, iterations = $2, progress = $3, record_count = $4, method_used = $5, error_message = $6, warnings = $7, started_at = $8, finished_at = $9 WHERE id = $10`

const documentColumns = `id, project_id, filename, file_type, doc_type, content_hash, storage_uri, size_bytes, version, parent_id, collision, review_status, created_at, updated_at`

// documentSelect adds the columns that are set after insert.
const documentSelect = documentColumns + `, current_job_id`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool, postgresMigrations, "migrations/postgres"), "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Documents ---

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	if doc.ReviewStatus == "" {
		doc.ReviewStatus = model.ReviewPending
	}
	if doc.Collision == "" {
		doc.Collision = model.CollisionNone
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		doc.ID, doc.ProjectID, doc.Filename, string(doc.FileType), string(doc.DocType), doc.ContentHash,
		doc.StorageURI, doc.SizeBytes, doc.Version, nullString(doc.ParentID), string(doc.Collision),
		string(doc.ReviewStatus), doc.CreatedAt, doc.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert document")
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx, `SELECT `+documentSelect+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: document %s", id)
	}
	return doc, eris.Wrap(err, "postgres: get document")
}

func (s *PostgresStore) FindByHash(ctx context.Context, projectID, hash string) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentSelect+` FROM documents WHERE project_id = $1 AND content_hash = $2 ORDER BY created_at`,
		projectID, hash,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find by hash")
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate documents")
}

func (s *PostgresStore) LatestByFilename(ctx context.Context, projectID, filename string) (*model.Document, error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentSelect+` FROM documents WHERE project_id = $1 AND filename = $2 ORDER BY version DESC LIMIT 1`,
		projectID, filename,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return doc, eris.Wrap(err, "postgres: latest by filename")
}

func (s *PostgresStore) TransitionReview(ctx context.Context, documentID string, from, to model.ReviewStatus) error {
	if !from.CanTransition(to) {
		return &model.InvalidTransitionError{From: from, To: to}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET review_status = $1, updated_at = $2 WHERE id = $3 AND review_status = $4`,
		string(to), time.Now().UTC(), documentID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition review %s", documentID)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, s.pool, documentID, to)
	}
	return nil
}

// transitionFailure explains why a conditional review update matched no row.
func (s *PostgresStore) transitionFailure(ctx context.Context, q db.Querier, documentID string, to model.ReviewStatus) error {
	var cur string
	err := q.QueryRow(ctx, `SELECT review_status FROM documents WHERE id = $1`, documentID).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(model.ErrNotFound, "postgres: document %s", documentID)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: read review status")
	}
	return &model.InvalidTransitionError{From: model.ReviewStatus(cur), To: to}
}

// --- Mappings ---

func (s *PostgresStore) ConfirmMapping(ctx context.Context, dt model.DocType, set *model.MappingSet, newFields []model.CanonicalField, job *model.ExtractionJob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin confirm mapping")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if active, err := activeJob(ctx, tx, set.DocumentID); err != nil {
		return err
	} else if active != nil {
		return &model.MappingConflictError{DocumentID: set.DocumentID, ActiveJobID: active.ID}
	}

	if len(newFields) > 0 {
		var version int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM custom_fields WHERE doc_type = $1`, string(dt)).Scan(&version); err != nil {
			return eris.Wrap(err, "postgres: custom field version")
		}
		rows := make([][]any, 0, len(newFields))
		for i, f := range newFields {
			syn, err := json.Marshal(f.Synonyms)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal synonyms")
			}
			newFields[i].Version = version + 1
			rows = append(rows, []any{string(dt), f.Name, f.Label, string(f.Type), syn, version + 1, time.Now().UTC()})
		}
		// Existing definitions win: a concurrent confirmation adding the
		// same name does not overwrite it.
		if _, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{
			Table:        "custom_fields",
			Columns:      []string{"doc_type", "name", "label", "field_type", "synonyms", "version", "created_at"},
			ConflictKeys: []string{"doc_type", "name"},
			UpdateCols:   []string{},
		}, rows); err != nil {
			return eris.Wrap(err, "postgres: upsert custom fields")
		}
	}

	if err := insertMappingSet(ctx, tx, set); err != nil {
		return err
	}
	job.MappingSetID = set.ID
	if err := insertJob(ctx, tx, job); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit confirm mapping")
}

func insertMappingSet(ctx context.Context, q db.Querier, set *model.MappingSet) error {
	if set.ID == "" {
		set.ID = uuid.NewString()
	}
	if set.ConfirmedAt.IsZero() {
		set.ConfirmedAt = time.Now().UTC()
	}
	data, err := json.Marshal(set.Mappings)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal mappings")
	}
	_, err = q.Exec(ctx,
		`INSERT INTO mapping_sets (id, document_id, mappings, confirmed_at) VALUES ($1, $2, $3, $4)`,
		set.ID, set.DocumentID, data, set.ConfirmedAt,
	)
	return eris.Wrap(err, "postgres: insert mapping set")
}

func (s *PostgresStore) GetMappingSet(ctx context.Context, id string) (*model.MappingSet, error) {
	var set model.MappingSet
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, document_id, mappings, confirmed_at FROM mapping_sets WHERE id = $1`, id,
	).Scan(&set.ID, &set.DocumentID, &data, &set.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: mapping set %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get mapping set")
	}
	if err := json.Unmarshal(data, &set.Mappings); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal mappings")
	}
	return &set, nil
}

func (s *PostgresStore) ListCustomFields(ctx context.Context, dt model.DocType) ([]model.CanonicalField, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, label, field_type, synonyms, version FROM custom_fields WHERE doc_type = $1 ORDER BY version, created_at, name`,
		string(dt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list custom fields")
	}
	defer rows.Close()

	var out []model.CanonicalField
	for rows.Next() {
		var f model.CanonicalField
		var ft string
		var syn []byte
		if err := rows.Scan(&f.Name, &f.Label, &ft, &syn, &f.Version); err != nil {
			return nil, eris.Wrap(err, "postgres: scan custom field")
		}
		f.Type = model.FieldType(ft)
		f.Custom = true
		if len(syn) > 0 {
			if err := json.Unmarshal(syn, &f.Synonyms); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal synonyms")
			}
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate custom fields")
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.ExtractionJob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create job")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if active, err := activeJob(ctx, tx, job.DocumentID); err != nil {
		return err
	} else if active != nil {
		return &model.MappingConflictError{DocumentID: job.DocumentID, ActiveJobID: active.ID}
	}
	if err := insertJob(ctx, tx, job); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit create job")
}

func insertJob(ctx context.Context, q db.Querier, job *model.ExtractionJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = model.JobQueued
	job.CreatedAt = time.Now().UTC()
	_, err := q.Exec(ctx,
		`INSERT INTO extraction_jobs (id, document_id, mapping_set_id, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.DocumentID, nullString(job.MappingSetID), string(job.Status), job.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == activeJobIndex {
		// Lost the race against a concurrent confirmation.
		return &model.MappingConflictError{DocumentID: job.DocumentID}
	}
	return eris.Wrap(err, "postgres: insert job")
}

func activeJob(ctx context.Context, q db.Querier, documentID string) (*model.ExtractionJob, error) {
	job, err := scanJob(q.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs WHERE document_id = $1 AND status IN ('queued', 'running')`,
		documentID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return job, eris.Wrap(err, "postgres: active job")
}

func (s *PostgresStore) ActiveJob(ctx context.Context, documentID string) (*model.ExtractionJob, error) {
	return activeJob(ctx, s.pool, documentID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.ExtractionJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM extraction_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: job %s", id)
	}
	return job, eris.Wrap(err, "postgres: get job")
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.ExtractionJob) error {
	return updateJob(ctx, s.pool, job)
}

func updateJob(ctx context.Context, q db.Querier, job *model.ExtractionJob) error {
	warnings, err := json.Marshal(nonNilWarnings(job.Warnings))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal warnings")
	}
	tag, err := q.Exec(ctx, updateJobSQL,
		string(job.Status), job.Iterations, job.Progress, job.RecordCount, job.MethodUsed,
		job.ErrorMessage, warnings, job.StartedAt, job.FinishedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "postgres: job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, job *model.ExtractionJob, records []model.ExtractedRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin complete job")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		fields, err := marshalFields(r.Fields)
		if err != nil {
			return err
		}
		rows = append(rows, []any{r.ID, r.DocumentID, job.ID, string(r.DocType), r.RowIndex, fields, r.CreatedAt})
	}
	if _, err := db.CopyFrom(ctx, tx, "extracted_records",
		[]string{"id", "document_id", "job_id", "doc_type", "row_index", "fields", "created_at"}, rows); err != nil {
		return eris.Wrap(err, "postgres: stage records")
	}

	job.Status = model.JobCompleted
	job.RecordCount = len(records)
	if err := updateJob(ctx, tx, job); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE documents SET current_job_id = $1, review_status = CASE WHEN review_status = 'committed' THEN review_status ELSE 'pending' END, updated_at = $2 WHERE id = $3`,
		job.ID, time.Now().UTC(), job.DocumentID,
	); err != nil {
		return eris.Wrap(err, "postgres: point document at job")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit complete job")
}

func (s *PostgresStore) DeleteJobRecords(ctx context.Context, jobID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM extracted_records WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete records for job %s", jobID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) FailInterruptedJobs(ctx context.Context, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_jobs SET status = 'failed', error_message = $1, finished_at = $2 WHERE status IN ('queued', 'running')`,
		reason, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: fail interrupted jobs")
	}
	return int(tag.RowsAffected()), nil
}

// --- Records ---

func (s *PostgresStore) ListRecords(ctx context.Context, documentID string) ([]model.ExtractedRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.document_id, r.job_id, r.doc_type, r.row_index, r.fields, r.created_at
		FROM extracted_records r JOIN documents d ON d.current_job_id = r.job_id
		WHERE d.id = $1 ORDER BY r.row_index`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	out := []model.ExtractedRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.ExtractedRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT id, document_id, job_id, doc_type, row_index, fields, created_at FROM extracted_records WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: record %s", id)
	}
	return r, err
}

func (s *PostgresStore) UpdateRecordField(ctx context.Context, recordID, field string, fv model.FieldValue) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin update record")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var data []byte
	err = tx.QueryRow(ctx, `SELECT fields FROM extracted_records WHERE id = $1 FOR UPDATE`, recordID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(model.ErrNotFound, "postgres: record %s", recordID)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: lock record")
	}
	fields, err := unmarshalFields(data)
	if err != nil {
		return err
	}
	fields[field] = fv
	if data, err = marshalFields(fields); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE extracted_records SET fields = $1 WHERE id = $2`, data, recordID); err != nil {
		return eris.Wrap(err, "postgres: update record fields")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit update record")
}

// --- Corrections ---

func (s *PostgresStore) InsertCorrection(ctx context.Context, c *model.Correction) error {
	var docID string
	err := s.pool.QueryRow(ctx, `SELECT document_id FROM extracted_records WHERE id = $1`, c.RecordID).Scan(&docID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.ReferentialIntegrityError{Entity: "record", ID: c.RecordID}
	}
	if err != nil {
		return eris.Wrap(err, "postgres: check correction record")
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.DocumentID = docID
	ai, err := jsonValue(c.AIValue)
	if err != nil {
		return err
	}
	user, err := jsonValue(c.UserValue)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO corrections (id, record_id, document_id, field_path, ai_value, user_value, ai_confidence, correction_type, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.RecordID, c.DocumentID, c.FieldPath, ai, user, c.AIConfidence, string(c.Type), c.Notes, c.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert correction")
}

func (s *PostgresStore) ListCorrections(ctx context.Context, since time.Time) ([]model.Correction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, record_id, document_id, field_path, ai_value, user_value, ai_confidence, correction_type, notes, created_at
		FROM corrections WHERE created_at >= $1 ORDER BY created_at`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list corrections")
	}
	defer rows.Close()

	var out []model.Correction
	for rows.Next() {
		var c model.Correction
		var ai, user []byte
		var ct string
		if err := rows.Scan(&c.ID, &c.RecordID, &c.DocumentID, &c.FieldPath, &ai, &user, &c.AIConfidence, &ct, &c.Notes, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		c.AIValue, c.UserValue, c.Type = decodeValue(ai), decodeValue(user), model.CorrectionType(ct)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate corrections")
}

func (s *PostgresStore) CountExtractions(ctx context.Context, since time.Time) ([]model.ExtractionCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT to_char(r.created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, r.doc_type, count(*)
		FROM extracted_records r JOIN extraction_jobs j ON j.id = r.job_id AND j.status = 'completed'
		WHERE r.created_at >= $1 GROUP BY 1, 2 ORDER BY 1, 2`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count extractions")
	}
	defer rows.Close()

	var out []model.ExtractionCount
	for rows.Next() {
		var c model.ExtractionCount
		var dt string
		if err := rows.Scan(&c.Day, &dt, &c.Records); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction count")
		}
		c.DocType = model.DocType(dt)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate extraction counts")
}

// --- Commit ---

func (s *PostgresStore) CommitDocument(ctx context.Context, documentID string, rows []model.TableRow) error {
	if err := checkTables(documentID, rows); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &model.CommitTransactionError{DocumentID: documentID, Detail: "begin transaction", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The conditional update takes the row lock; a concurrent commit blocks
	// here and then matches no row.
	tag, err := tx.Exec(ctx,
		`UPDATE documents SET review_status = 'committed', updated_at = $1 WHERE id = $2 AND review_status = 'corrected'`,
		time.Now().UTC(), documentID,
	)
	if err != nil {
		return &model.CommitTransactionError{DocumentID: documentID, Table: "documents", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, tx, documentID, model.ReviewCommitted)
	}

	plain := make([]db.Row, len(rows))
	for i, r := range rows {
		plain[i] = db.Row{Table: r.Table, Columns: r.Columns, Values: r.Values}
	}
	for _, b := range db.GroupRows(plain) {
		if _, err := db.CopyFrom(ctx, tx, b.Table, b.Columns, b.Rows); err != nil {
			return commitError(documentID, b.Table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return commitError(documentID, "", err)
	}
	return nil
}

// commitError carries the Postgres table, constraint and detail through
// verbatim.
func commitError(documentID, table string, err error) *model.CommitTransactionError {
	ce := &model.CommitTransactionError{DocumentID: documentID, Table: table, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.TableName != "" {
			ce.Table = pgErr.TableName
		}
		ce.Constraint = pgErr.ConstraintName
		ce.Detail = pgErr.Message
		if pgErr.Detail != "" {
			ce.Detail += ": " + pgErr.Detail
		}
	}
	return ce
}

// --- scanning ---

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	var ft, dt, collision, review string
	var parent, currentJob *string
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Filename, &ft, &dt, &d.ContentHash, &d.StorageURI,
		&d.SizeBytes, &d.Version, &parent, &collision, &review, &d.CreatedAt, &d.UpdatedAt, &currentJob); err != nil {
		return nil, err
	}
	d.FileType, d.DocType = model.FileType(ft), model.DocType(dt)
	d.Collision, d.ReviewStatus = model.CollisionStatus(collision), model.ReviewStatus(review)
	if parent != nil {
		d.ParentID = *parent
	}
	if currentJob != nil {
		d.CurrentJobID = *currentJob
	}
	return &d, nil
}

func scanJob(row scannable) (*model.ExtractionJob, error) {
	var j model.ExtractionJob
	var mappingSet *string
	var status string
	var warnings []byte
	if err := row.Scan(&j.ID, &j.DocumentID, &mappingSet, &status, &j.Iterations, &j.Progress,
		&j.RecordCount, &j.MethodUsed, &j.ErrorMessage, &warnings, &j.CreatedAt, &j.StartedAt, &j.FinishedAt); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	if mappingSet != nil {
		j.MappingSetID = *mappingSet
	}
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &j.Warnings); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal job warnings")
		}
	}
	return &j, nil
}

func scanRecord(row scannable) (*model.ExtractedRecord, error) {
	var r model.ExtractedRecord
	var dt string
	var data []byte
	if err := row.Scan(&r.ID, &r.DocumentID, &r.JobID, &dt, &r.RowIndex, &data, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "store: scan record")
	}
	r.DocType = model.DocType(dt)
	fields, err := unmarshalFields(data)
	if err != nil {
		return nil, err
	}
	r.Fields = fields
	return &r, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNilWarnings(ws []model.ValidationWarning) []model.ValidationWarning {
	if ws == nil {
		return []model.ValidationWarning{}
	}
	return ws
}

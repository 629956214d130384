package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/landscaper/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// A single connection keeps the pragmas in force and serializes writers.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL,
	filename       TEXT NOT NULL,
	file_type      TEXT NOT NULL,
	doc_type       TEXT NOT NULL,
	content_hash   TEXT NOT NULL,
	storage_uri    TEXT NOT NULL,
	size_bytes     INTEGER NOT NULL DEFAULT 0,
	version        INTEGER NOT NULL DEFAULT 1,
	parent_id      TEXT REFERENCES documents(id),
	collision      TEXT NOT NULL DEFAULT 'none',
	review_status  TEXT NOT NULL DEFAULT 'pending',
	current_job_id TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS custom_fields (
	doc_type   TEXT NOT NULL,
	name       TEXT NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	field_type TEXT NOT NULL DEFAULT 'text',
	synonyms   TEXT NOT NULL DEFAULT '[]',
	version    INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	PRIMARY KEY (doc_type, name)
);

CREATE TABLE IF NOT EXISTS mapping_sets (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(id),
	mappings     TEXT NOT NULL,
	confirmed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS extraction_jobs (
	id             TEXT PRIMARY KEY,
	document_id    TEXT NOT NULL REFERENCES documents(id),
	mapping_set_id TEXT REFERENCES mapping_sets(id),
	status         TEXT NOT NULL DEFAULT 'queued',
	iterations     INTEGER NOT NULL DEFAULT 0,
	progress       REAL NOT NULL DEFAULT 0,
	record_count   INTEGER NOT NULL DEFAULT 0,
	method_used    TEXT NOT NULL DEFAULT '',
	error_message  TEXT NOT NULL DEFAULT '',
	warnings       TEXT NOT NULL DEFAULT '[]',
	created_at     TEXT NOT NULL,
	started_at     TEXT,
	finished_at    TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_extraction_jobs_active
	ON extraction_jobs(document_id) WHERE status IN ('queued', 'running');

CREATE TABLE IF NOT EXISTS extracted_records (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	job_id      TEXT NOT NULL REFERENCES extraction_jobs(id),
	doc_type    TEXT NOT NULL,
	row_index   INTEGER NOT NULL,
	fields      TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS corrections (
	id              TEXT PRIMARY KEY,
	record_id       TEXT NOT NULL REFERENCES extracted_records(id),
	document_id     TEXT NOT NULL,
	field_path      TEXT NOT NULL,
	ai_value        TEXT,
	user_value      TEXT,
	ai_confidence   REAL NOT NULL,
	correction_type TEXT NOT NULL,
	notes           TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tenants (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	name        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS units (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL REFERENCES documents(id),
	unit_number      TEXT NOT NULL,
	unit_type        TEXT,
	square_feet      REAL,
	market_rent      REAL,
	occupancy_status TEXT,
	UNIQUE (document_id, unit_number)
);

CREATE TABLE IF NOT EXISTS leases (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL REFERENCES documents(id),
	unit_id          TEXT NOT NULL REFERENCES units(id),
	tenant_id        TEXT REFERENCES tenants(id),
	current_rent     REAL,
	lease_start      TEXT,
	lease_end        TEXT,
	security_deposit REAL,
	CONSTRAINT ck_leases_current_rent CHECK (current_rent >= 0)
);

CREATE TABLE IF NOT EXISTS operating_line_items (
	id             TEXT PRIMARY KEY,
	document_id    TEXT NOT NULL REFERENCES documents(id),
	line_item      TEXT NOT NULL,
	category       TEXT,
	amount         REAL,
	per_unit       REAL,
	percent_of_egi REAL,
	period         TEXT
);

CREATE TABLE IF NOT EXISTS parcels (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	parcel_id   TEXT NOT NULL,
	land_use    TEXT,
	acres_gross REAL,
	acres_net   REAL,
	units       REAL,
	density     REAL,
	zoning      TEXT,
	owner       TEXT,
	CONSTRAINT ck_parcels_acres CHECK (acres_net IS NULL OR acres_gross IS NULL OR acres_net <= acres_gross)
);

CREATE TABLE IF NOT EXISTS committed_values (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(id),
	record_id    TEXT NOT NULL REFERENCES extracted_records(id),
	field_path   TEXT NOT NULL,
	value        TEXT,
	confidence   REAL NOT NULL,
	source_page  INTEGER,
	source_quote TEXT,
	corrected    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS document_commits (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL UNIQUE REFERENCES documents(id),
	record_count INTEGER NOT NULL,
	committed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_project_hash ON documents(project_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_documents_project_filename ON documents(project_id, filename, version);
CREATE INDEX IF NOT EXISTS idx_extracted_records_job ON extracted_records(job_id, row_index);
CREATE INDEX IF NOT EXISTS idx_corrections_created ON corrections(created_at);
`

// Timestamps are stored as fixed-width UTC text so they order lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func tsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseTSPtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTS(s.String)
	return &t
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Documents ---

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	if doc.ReviewStatus == "" {
		doc.ReviewStatus = model.ReviewPending
	}
	if doc.Collision == "" {
		doc.Collision = model.CollisionNone
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ProjectID, doc.Filename, string(doc.FileType), string(doc.DocType), doc.ContentHash,
		doc.StorageURI, doc.SizeBytes, doc.Version, nullString(doc.ParentID), string(doc.Collision),
		string(doc.ReviewStatus), ts(now), ts(now),
	)
	return eris.Wrap(err, "sqlite: insert document")
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	doc, err := scanSQLiteDocument(s.db.QueryRowContext(ctx, `SELECT `+documentSelect+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: document %s", id)
	}
	return doc, eris.Wrap(err, "sqlite: get document")
}

func (s *SQLiteStore) FindByHash(ctx context.Context, projectID, hash string) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentSelect+` FROM documents WHERE project_id = ? AND content_hash = ? ORDER BY created_at`,
		projectID, hash,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find by hash")
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		d, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate documents")
}

func (s *SQLiteStore) LatestByFilename(ctx context.Context, projectID, filename string) (*model.Document, error) {
	doc, err := scanSQLiteDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentSelect+` FROM documents WHERE project_id = ? AND filename = ? ORDER BY version DESC LIMIT 1`,
		projectID, filename,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, eris.Wrap(err, "sqlite: latest by filename")
}

func (s *SQLiteStore) TransitionReview(ctx context.Context, documentID string, from, to model.ReviewStatus) error {
	if !from.CanTransition(to) {
		return &model.InvalidTransitionError{From: from, To: to}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET review_status = ?, updated_at = ? WHERE id = ? AND review_status = ?`,
		string(to), ts(time.Now()), documentID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition review %s", documentID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sqliteTransitionFailure(ctx, s.db, documentID, to)
	}
	return nil
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteTransitionFailure(ctx context.Context, q sqlQuerier, documentID string, to model.ReviewStatus) error {
	var cur string
	err := q.QueryRowContext(ctx, `SELECT review_status FROM documents WHERE id = ?`, documentID).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(model.ErrNotFound, "sqlite: document %s", documentID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: read review status")
	}
	return &model.InvalidTransitionError{From: model.ReviewStatus(cur), To: to}
}

// --- Mappings ---

func (s *SQLiteStore) ConfirmMapping(ctx context.Context, dt model.DocType, set *model.MappingSet, newFields []model.CanonicalField, job *model.ExtractionJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin confirm mapping")
	}
	defer tx.Rollback() //nolint:errcheck

	if active, err := sqliteActiveJob(ctx, tx, set.DocumentID); err != nil {
		return err
	} else if active != nil {
		return &model.MappingConflictError{DocumentID: set.DocumentID, ActiveJobID: active.ID}
	}

	if len(newFields) > 0 {
		var version int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM custom_fields WHERE doc_type = ?`, string(dt)).Scan(&version); err != nil {
			return eris.Wrap(err, "sqlite: custom field version")
		}
		for i, f := range newFields {
			syn, err := json.Marshal(f.Synonyms)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal synonyms")
			}
			newFields[i].Version = version + 1
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO custom_fields (doc_type, name, label, field_type, synonyms, version, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (doc_type, name) DO NOTHING`,
				string(dt), f.Name, f.Label, string(f.Type), string(syn), version+1, ts(time.Now()),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert custom field %s", f.Name)
			}
		}
	}

	if set.ID == "" {
		set.ID = uuid.New().String()
	}
	if set.ConfirmedAt.IsZero() {
		set.ConfirmedAt = time.Now().UTC()
	}
	mappings, err := json.Marshal(set.Mappings)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal mappings")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mapping_sets (id, document_id, mappings, confirmed_at) VALUES (?, ?, ?, ?)`,
		set.ID, set.DocumentID, string(mappings), ts(set.ConfirmedAt),
	); err != nil {
		return eris.Wrap(err, "sqlite: insert mapping set")
	}

	job.MappingSetID = set.ID
	if err := sqliteInsertJob(ctx, tx, job); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit confirm mapping")
}

func (s *SQLiteStore) GetMappingSet(ctx context.Context, id string) (*model.MappingSet, error) {
	var set model.MappingSet
	var mappings, confirmed string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, mappings, confirmed_at FROM mapping_sets WHERE id = ?`, id,
	).Scan(&set.ID, &set.DocumentID, &mappings, &confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: mapping set %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get mapping set")
	}
	set.ConfirmedAt = parseTS(confirmed)
	if err := json.Unmarshal([]byte(mappings), &set.Mappings); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal mappings")
	}
	return &set, nil
}

func (s *SQLiteStore) ListCustomFields(ctx context.Context, dt model.DocType) ([]model.CanonicalField, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, label, field_type, synonyms, version FROM custom_fields WHERE doc_type = ? ORDER BY version, created_at, name`,
		string(dt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list custom fields")
	}
	defer rows.Close()

	var out []model.CanonicalField
	for rows.Next() {
		var f model.CanonicalField
		var ft, syn string
		if err := rows.Scan(&f.Name, &f.Label, &ft, &syn, &f.Version); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan custom field")
		}
		f.Type = model.FieldType(ft)
		f.Custom = true
		if err := json.Unmarshal([]byte(syn), &f.Synonyms); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal synonyms")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate custom fields")
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.ExtractionJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create job")
	}
	defer tx.Rollback() //nolint:errcheck

	if active, err := sqliteActiveJob(ctx, tx, job.DocumentID); err != nil {
		return err
	} else if active != nil {
		return &model.MappingConflictError{DocumentID: job.DocumentID, ActiveJobID: active.ID}
	}
	if err := sqliteInsertJob(ctx, tx, job); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit create job")
}

func sqliteInsertJob(ctx context.Context, q sqlQuerier, job *model.ExtractionJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = model.JobQueued
	job.CreatedAt = time.Now().UTC()
	_, err := q.ExecContext(ctx,
		`INSERT INTO extraction_jobs (id, document_id, mapping_set_id, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.DocumentID, nullString(job.MappingSetID), string(job.Status), ts(job.CreatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: extraction_jobs.document_id") {
		return &model.MappingConflictError{DocumentID: job.DocumentID}
	}
	return eris.Wrap(err, "sqlite: insert job")
}

func sqliteActiveJob(ctx context.Context, q sqlQuerier, documentID string) (*model.ExtractionJob, error) {
	job, err := scanSQLiteJob(q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs WHERE document_id = ? AND status IN ('queued', 'running')`,
		documentID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, eris.Wrap(err, "sqlite: active job")
}

func (s *SQLiteStore) ActiveJob(ctx context.Context, documentID string) (*model.ExtractionJob, error) {
	return sqliteActiveJob(ctx, s.db, documentID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.ExtractionJob, error) {
	job, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM extraction_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: job %s", id)
	}
	return job, eris.Wrap(err, "sqlite: get job")
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.ExtractionJob) error {
	return sqliteUpdateJob(ctx, s.db, job)
}

func sqliteUpdateJob(ctx context.Context, q sqlQuerier, job *model.ExtractionJob) error {
	warnings, err := json.Marshal(nonNilWarnings(job.Warnings))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal warnings")
	}
	res, err := q.ExecContext(ctx,
		`UPDATE extraction_jobs SET status = ?, iterations = ?, progress = ?, record_count = ?, method_used = ?,
		error_message = ?, warnings = ?, started_at = ?, finished_at = ? WHERE id = ?`,
		string(job.Status), job.Iterations, job.Progress, job.RecordCount, job.MethodUsed,
		job.ErrorMessage, string(warnings), tsPtr(job.StartedAt), tsPtr(job.FinishedAt), job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, job *model.ExtractionJob, records []model.ExtractedRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin complete job")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO extracted_records (id, document_id, job_id, doc_type, row_index, fields, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare record insert")
	}
	defer stmt.Close()
	for _, r := range records {
		fields, err := marshalFields(r.Fields)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.DocumentID, job.ID, string(r.DocType), r.RowIndex, string(fields), ts(r.CreatedAt)); err != nil {
			return eris.Wrapf(err, "sqlite: stage record %d", r.RowIndex)
		}
	}

	job.Status = model.JobCompleted
	job.RecordCount = len(records)
	if err := sqliteUpdateJob(ctx, tx, job); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET current_job_id = ?, review_status = CASE WHEN review_status = 'committed' THEN review_status ELSE 'pending' END, updated_at = ? WHERE id = ?`,
		job.ID, ts(time.Now()), job.DocumentID,
	); err != nil {
		return eris.Wrap(err, "sqlite: point document at job")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit complete job")
}

func (s *SQLiteStore) DeleteJobRecords(ctx context.Context, jobID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM extracted_records WHERE job_id = ?`, jobID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete records for job %s", jobID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) FailInterruptedJobs(ctx context.Context, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_jobs SET status = 'failed', error_message = ?, finished_at = ? WHERE status IN ('queued', 'running')`,
		reason, ts(time.Now()),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail interrupted jobs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- Records ---

func (s *SQLiteStore) ListRecords(ctx context.Context, documentID string) ([]model.ExtractedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.document_id, r.job_id, r.doc_type, r.row_index, r.fields, r.created_at
		FROM extracted_records r JOIN documents d ON d.current_job_id = r.job_id
		WHERE d.id = ? ORDER BY r.row_index`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	out := []model.ExtractedRecord{}
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.ExtractedRecord, error) {
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx,
		`SELECT id, document_id, job_id, doc_type, row_index, fields, created_at FROM extracted_records WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: record %s", id)
	}
	return r, err
}

func (s *SQLiteStore) UpdateRecordField(ctx context.Context, recordID, field string, fv model.FieldValue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin update record")
	}
	defer tx.Rollback() //nolint:errcheck

	var data string
	err = tx.QueryRowContext(ctx, `SELECT fields FROM extracted_records WHERE id = ?`, recordID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(model.ErrNotFound, "sqlite: record %s", recordID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: read record")
	}
	fields, err := unmarshalFields([]byte(data))
	if err != nil {
		return err
	}
	fields[field] = fv
	b, err := marshalFields(fields)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE extracted_records SET fields = ? WHERE id = ?`, string(b), recordID); err != nil {
		return eris.Wrap(err, "sqlite: update record fields")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit update record")
}

// --- Corrections ---

func (s *SQLiteStore) InsertCorrection(ctx context.Context, c *model.Correction) error {
	var docID string
	err := s.db.QueryRowContext(ctx, `SELECT document_id FROM extracted_records WHERE id = ?`, c.RecordID).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.ReferentialIntegrityError{Entity: "record", ID: c.RecordID}
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: check correction record")
	}

	if c.ID == "" {
		c.ID = uuid.New().String()
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO corrections (id, record_id, document_id, field_path, ai_value, user_value, ai_confidence, correction_type, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RecordID, c.DocumentID, c.FieldPath, nullBytes(ai), nullBytes(user), c.AIConfidence, string(c.Type), c.Notes, ts(c.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert correction")
}

func (s *SQLiteStore) ListCorrections(ctx context.Context, since time.Time) ([]model.Correction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record_id, document_id, field_path, ai_value, user_value, ai_confidence, correction_type, notes, created_at
		FROM corrections WHERE created_at >= ? ORDER BY created_at`,
		ts(since),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list corrections")
	}
	defer rows.Close()

	var out []model.Correction
	for rows.Next() {
		var c model.Correction
		var ai, user sql.NullString
		var ct, created string
		if err := rows.Scan(&c.ID, &c.RecordID, &c.DocumentID, &c.FieldPath, &ai, &user, &c.AIConfidence, &ct, &c.Notes, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction")
		}
		c.AIValue = decodeValue([]byte(ai.String))
		c.UserValue = decodeValue([]byte(user.String))
		c.Type = model.CorrectionType(ct)
		c.CreatedAt = parseTS(created)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate corrections")
}

func (s *SQLiteStore) CountExtractions(ctx context.Context, since time.Time) ([]model.ExtractionCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.created_at, r.doc_type FROM extracted_records r
		JOIN extraction_jobs j ON j.id = r.job_id AND j.status = 'completed'
		WHERE r.created_at >= ?`,
		ts(since),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count extractions")
	}
	defer rows.Close()

	type key struct {
		day string
		dt  string
	}
	counts := map[key]int{}
	for rows.Next() {
		var created, dt string
		if err := rows.Scan(&created, &dt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction")
		}
		counts[key{dayOf(parseTS(created)), dt}]++
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate extractions")
	}

	out := make([]model.ExtractionCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, model.ExtractionCount{Day: k.day, DocType: model.DocType(k.dt), Records: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].DocType < out[j].DocType
	})
	return out, nil
}

// --- Commit ---

func (s *SQLiteStore) CommitDocument(ctx context.Context, documentID string, rows []model.TableRow) error {
	if err := checkTables(documentID, rows); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &model.CommitTransactionError{DocumentID: documentID, Detail: "begin transaction", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET review_status = 'committed', updated_at = ? WHERE id = ? AND review_status = 'corrected'`,
		ts(time.Now()), documentID,
	)
	if err != nil {
		return &model.CommitTransactionError{DocumentID: documentID, Table: "documents", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sqliteTransitionFailure(ctx, tx, documentID, model.ReviewCommitted)
	}

	for _, r := range rows {
		q := `INSERT INTO ` + r.Table + ` (` + strings.Join(r.Columns, ", ") + `) VALUES (` +
			strings.TrimSuffix(strings.Repeat("?, ", len(r.Columns)), ", ") + `)`
		args := make([]any, len(r.Values))
		for i, v := range r.Values {
			if t, ok := v.(time.Time); ok {
				v = commitTime(t)
			}
			args[i] = v
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return &model.CommitTransactionError{
				DocumentID: documentID,
				Table:      r.Table,
				Constraint: sqliteConstraint(err.Error()),
				Value:      rowValue(r),
				Detail:     err.Error(),
				Err:        err,
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return &model.CommitTransactionError{DocumentID: documentID, Detail: "commit", Err: err}
	}
	return nil
}

// sqliteConstraint pulls the constraint name out of a SQLite error such as
// "CHECK constraint failed: ck_leases_current_rent (275)".
func sqliteConstraint(msg string) string {
	if strings.Contains(msg, "FOREIGN KEY constraint failed") {
		return "foreign_key"
	}
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	name := msg[i+len(marker):]
	if j := strings.LastIndex(name, " ("); j >= 0 {
		name = name[:j]
	}
	return strings.TrimSpace(name)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func scanSQLiteDocument(row scannable) (*model.Document, error) {
	var d model.Document
	var ft, dt, collision, review, created, updated string
	var parent, currentJob sql.NullString
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Filename, &ft, &dt, &d.ContentHash, &d.StorageURI,
		&d.SizeBytes, &d.Version, &parent, &collision, &review, &created, &updated, &currentJob); err != nil {
		return nil, err
	}
	d.FileType, d.DocType = model.FileType(ft), model.DocType(dt)
	d.Collision, d.ReviewStatus = model.CollisionStatus(collision), model.ReviewStatus(review)
	d.ParentID, d.CurrentJobID = parent.String, currentJob.String
	d.CreatedAt, d.UpdatedAt = parseTS(created), parseTS(updated)
	return &d, nil
}

func scanSQLiteJob(row scannable) (*model.ExtractionJob, error) {
	var j model.ExtractionJob
	var mappingSet, started, finished sql.NullString
	var status, warnings, created string
	if err := row.Scan(&j.ID, &j.DocumentID, &mappingSet, &status, &j.Iterations, &j.Progress,
		&j.RecordCount, &j.MethodUsed, &j.ErrorMessage, &warnings, &created, &started, &finished); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	j.MappingSetID = mappingSet.String
	j.CreatedAt = parseTS(created)
	j.StartedAt, j.FinishedAt = parseTSPtr(started), parseTSPtr(finished)
	if warnings != "" {
		if err := json.Unmarshal([]byte(warnings), &j.Warnings); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal job warnings")
		}
	}
	return &j, nil
}

func scanSQLiteRecord(row scannable) (*model.ExtractedRecord, error) {
	var r model.ExtractedRecord
	var dt, data, created string
	if err := row.Scan(&r.ID, &r.DocumentID, &r.JobID, &dt, &r.RowIndex, &data, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan record")
	}
	r.DocType = model.DocType(dt)
	r.CreatedAt = parseTS(created)
	fields, err := unmarshalFields([]byte(data))
	if err != nil {
		return nil, err
	}
	r.Fields = fields
	return &r, nil
}

// commitTime stores calendar dates as YYYY-MM-DD and instants in the fixed
// timestamp layout.
func commitTime(t time.Time) string {
	t = t.UTC()
	if t.Equal(t.Truncate(24 * time.Hour)) {
		return t.Format("2006-01-02")
	}
	return ts(t)
}

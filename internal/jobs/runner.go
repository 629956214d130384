// Package jobs runs extraction jobs in the background so that callers get a
// job ID immediately and poll for status.
//
// A job holds its document's extraction slot from queued until it reaches a
// terminal state. Each job runs under a hard wall-clock ceiling that applies
// even to parse-only work, and only that ceiling interrupts a model call in
// flight. Cancellation and shutdown take effect at the next checkpoint,
// between parse steps and LLM chunks, and remove any records the job
// staged, so a retry starts clean.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/config"
	"github.com/sells-group/landscaper/internal/extract"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/registry"
)

var (
	errCancelled = errors.New("cancelled by user")
	errShutdown  = errors.New("runner shutting down")

	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")
)

// Store is the persistence the runner needs.
type Store interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	GetMappingSet(ctx context.Context, id string) (*model.MappingSet, error)
	ListCustomFields(ctx context.Context, dt model.DocType) ([]model.CanonicalField, error)
	ConfirmMapping(ctx context.Context, dt model.DocType, set *model.MappingSet, newFields []model.CanonicalField, job *model.ExtractionJob) error
	CreateJob(ctx context.Context, job *model.ExtractionJob) error
	GetJob(ctx context.Context, id string) (*model.ExtractionJob, error)
	UpdateJob(ctx context.Context, job *model.ExtractionJob) error
	CompleteJob(ctx context.Context, job *model.ExtractionJob, records []model.ExtractedRecord) error
	DeleteJobRecords(ctx context.Context, jobID string) (int, error)
	FailInterruptedJobs(ctx context.Context, reason string) (int, error)
}

// Blobs reads raw document bytes.
type Blobs interface {
	Get(ctx context.Context, uri string) ([]byte, error)
}

// Extractor parses documents.
type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (*extract.Result, error)
	Preview(ctx context.Context, in extract.Input, n int) (*extract.Preview, error)
}

type running struct {
	documentID string
	cancel     context.CancelCauseFunc
	done       chan struct{}
}

// Runner executes extraction jobs on background goroutines.
type Runner struct {
	store     Store
	blobs     Blobs
	extractor Extractor
	registry  *registry.Registry
	timeout   time.Duration
	samples   int
	now       func() time.Time

	base  context.Context
	stop  context.CancelCauseFunc
	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	active map[string]*running
}

// New creates a Runner. cfg supplies the hard ceiling per job and the number
// of jobs that may run at once; further jobs stay queued until a slot frees.
func New(st Store, blobs Blobs, ex Extractor, reg *registry.Registry, cfg config.ExtractConfig) *Runner {
	timeout := time.Duration(cfg.JobTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	workers := cfg.MaxJobs
	if workers <= 0 {
		workers = 4
	}
	samples := cfg.SampleValues
	if samples <= 0 {
		samples = 3
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Runner{
		store:     st,
		blobs:     blobs,
		extractor: ex,
		registry:  reg,
		timeout:   timeout,
		samples:   samples,
		now:       func() time.Time { return time.Now().UTC() },
		base:      base,
		stop:      stop,
		slots:     make(chan struct{}, workers),
		active:    make(map[string]*running),
	}
}

// Recover fails jobs a previous process left queued or running. Call it once
// at startup before accepting new work.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	n, err := r.store.FailInterruptedJobs(ctx, "interrupted by restart")
	if err != nil {
		return 0, eris.Wrap(err, "jobs: recover")
	}
	if n > 0 {
		zap.L().Warn("jobs: failed interrupted jobs", zap.Int("count", n))
	}
	return n, nil
}

// Start creates a job for a document and runs it. mappingSetID may be empty,
// in which case the extractor proposes its own mapping. A document with an
// active job fails with *model.MappingConflictError.
func (r *Runner) Start(ctx context.Context, documentID, mappingSetID string) (*model.ExtractionJob, error) {
	doc, err := r.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.ReviewStatus == model.ReviewCommitted {
		return nil, &model.InvalidTransitionError{From: model.ReviewCommitted, To: model.ReviewPending}
	}
	job := &model.ExtractionJob{DocumentID: documentID, MappingSetID: mappingSetID}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := r.Submit(job); err != nil {
		r.fail(job, err.Error(), zap.L().With(zap.String("job_id", job.ID)))
		return nil, err
	}
	return job, nil
}

// Submit runs an already persisted queued job.
func (r *Runner) Submit(job *model.ExtractionJob) error {
	if err := r.base.Err(); err != nil {
		return eris.Wrap(context.Cause(r.base), "jobs: submit")
	}

	r.mu.Lock()
	for id, a := range r.active {
		if a.documentID == job.DocumentID {
			r.mu.Unlock()
			return &model.MappingConflictError{DocumentID: job.DocumentID, ActiveJobID: id}
		}
	}
	ctx, cancel := context.WithCancelCause(r.base)
	a := &running{documentID: job.DocumentID, cancel: cancel, done: make(chan struct{})}
	r.active[job.ID] = a
	r.wg.Add(1)
	r.mu.Unlock()

	zap.L().Info("jobs: queued", zap.String("job_id", job.ID), zap.String("document_id", job.DocumentID))
	go func() {
		defer r.wg.Done()
		defer close(a.done)
		defer func() {
			r.mu.Lock()
			delete(r.active, job.ID)
			r.mu.Unlock()
			cancel(nil)
		}()
		r.run(ctx, job)
	}()
	return nil
}

// Cancel stops a job. A running job finishes the step in flight, stops at
// its next checkpoint, and Cancel waits for it to finish cleaning up. A queued job owned by no runner is
// marked cancelled directly.
func (r *Runner) Cancel(ctx context.Context, jobID string) (*model.ExtractionJob, error) {
	r.mu.Lock()
	a, ok := r.active[jobID]
	r.mu.Unlock()

	if ok {
		a.cancel(errCancelled)
		select {
		case <-a.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return r.store.GetJob(ctx, jobID)
	}

	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, eris.Wrapf(ErrJobFinished, "jobs: cancel %s (%s)", jobID, job.Status)
	}
	if _, err := r.store.DeleteJobRecords(ctx, jobID); err != nil {
		return nil, err
	}
	r.finish(job, model.JobCancelled, errCancelled.Error())
	if err := r.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Status returns the polling view of a job.
func (r *Runner) Status(ctx context.Context, jobID string) (model.JobStatusView, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return model.JobStatusView{}, err
	}
	return job.View(), nil
}

// Active reports the number of jobs currently owned by the runner.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting work, cancels running jobs and waits for them,
// or for ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop(errShutdown)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "jobs: shutdown")
	}
}

// run executes one job. It never returns an error: every failure is recorded
// on the job. ctx carries cancellation and shutdown, which the extractor
// observes at checkpoints; the work itself runs under the hard ceiling only.
func (r *Runner) run(ctx context.Context, job *model.ExtractionJob) {
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("document_id", job.DocumentID))

	select {
	case r.slots <- struct{}{}:
		defer func() { <-r.slots }()
	case <-ctx.Done():
		r.stopped(ctx, job, log)
		return
	}

	hard, cancel := context.WithTimeoutCause(context.WithoutCancel(ctx), r.timeout,
		eris.Errorf("exceeded the %s job time limit", r.timeout))
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			log.Error("jobs: panic", zap.Any("panic", p))
			r.fail(job, fmt.Sprintf("internal error: %v", p), log)
		}
	}()

	started := r.now()
	job.Status = model.JobRunning
	job.StartedAt = &started
	if err := r.store.UpdateJob(hard, job); err != nil {
		r.fail(job, err.Error(), log)
		return
	}
	log.Info("jobs: started")

	res, err := r.extract(hard, ctx, job, log)
	switch {
	case hard.Err() != nil:
		r.stopped(hard, job, log)
		return
	case ctx.Err() != nil:
		r.stopped(ctx, job, log)
		return
	case err != nil:
		r.fail(job, err.Error(), log)
		return
	}

	r.finish(job, model.JobCompleted, "")
	job.Progress = 1
	job.RecordCount = len(res.Records)
	job.MethodUsed = res.Metadata.MethodUsed
	job.Iterations = res.Metadata.ModelCalls
	job.Warnings = res.Warnings
	if err := r.store.CompleteJob(context.WithoutCancel(hard), job, res.Records); err != nil {
		r.fail(job, err.Error(), log)
		return
	}
	log.Info("jobs: completed",
		zap.Int("records", job.RecordCount),
		zap.String("method", job.MethodUsed),
		zap.Duration("elapsed", job.FinishedAt.Sub(*job.StartedAt)),
	)
}

func (r *Runner) extract(ctx, stop context.Context, job *model.ExtractionJob, log *zap.Logger) (*extract.Result, error) {
	doc, err := r.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.ReviewStatus == model.ReviewCommitted {
		return nil, eris.Errorf("jobs: document %s is already committed", doc.ID)
	}
	schema, err := r.schema(ctx, doc.DocType)
	if err != nil {
		return nil, err
	}
	var maps []model.FieldMapping
	if job.MappingSetID != "" {
		set, err := r.store.GetMappingSet(ctx, job.MappingSetID)
		if err != nil {
			return nil, err
		}
		maps = set.Mappings
	}
	data, err := r.blobs.Get(ctx, doc.StorageURI)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: read document")
	}

	p := &progress{job: job, store: r.store, ctx: ctx, log: log}
	return r.extractor.Extract(ctx, extract.Input{
		DocumentID: doc.ID,
		JobID:      job.ID,
		Filename:   doc.Filename,
		FileType:   doc.FileType,
		Data:       data,
		Schema:     schema,
		Mappings:   maps,
		Progress:   p.report,
		Checkpoint: func() error {
			if stop.Err() != nil {
				return context.Cause(stop)
			}
			return nil
		},
	})
}

func (r *Runner) schema(ctx context.Context, dt model.DocType) (*model.Schema, error) {
	custom, err := r.store.ListCustomFields(ctx, dt)
	if err != nil {
		return nil, err
	}
	return r.registry.WithCustomFields(dt, custom)
}

// stopped records a job ended by cancellation, shutdown or the time limit
// and removes anything it staged.
func (r *Runner) stopped(ctx context.Context, job *model.ExtractionJob, log *zap.Logger) {
	cause := context.Cause(ctx)
	bg := context.WithoutCancel(ctx)
	if n, err := r.store.DeleteJobRecords(bg, job.ID); err != nil {
		log.Error("jobs: cleanup staged records", zap.Error(err))
	} else if n > 0 {
		log.Info("jobs: removed staged records", zap.Int("records", n))
	}

	status := model.JobFailed
	if errors.Is(cause, errCancelled) {
		status = model.JobCancelled
	}
	r.finish(job, status, cause.Error())
	if err := r.store.UpdateJob(bg, job); err != nil {
		log.Error("jobs: record stop", zap.Error(err))
	}
	log.Warn("jobs: stopped", zap.String("status", string(status)), zap.String("reason", cause.Error()))
}

func (r *Runner) fail(job *model.ExtractionJob, msg string, log *zap.Logger) {
	bg := context.Background()
	if _, err := r.store.DeleteJobRecords(bg, job.ID); err != nil {
		log.Error("jobs: cleanup staged records", zap.Error(err))
	}
	r.finish(job, model.JobFailed, msg)
	if err := r.store.UpdateJob(bg, job); err != nil {
		log.Error("jobs: record failure", zap.Error(err))
	}
	log.Error("jobs: failed", zap.String("error", msg))
}

func (r *Runner) finish(job *model.ExtractionJob, status model.JobStatus, msg string) {
	now := r.now()
	job.Status = status
	job.ErrorMessage = msg
	job.FinishedAt = &now
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
}

// progress persists extraction progress in steps of at least 10%. The
// extractor may report from several goroutines.
type progress struct {
	mu    sync.Mutex
	job   *model.ExtractionJob
	store Store
	ctx   context.Context
	log   *zap.Logger
	saved float64
}

func (p *progress) report(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v < 1 && v-p.saved < 0.1 {
		return
	}
	p.saved = v
	p.job.Progress = v
	if err := p.store.UpdateJob(p.ctx, p.job); err != nil && p.ctx.Err() == nil {
		p.log.Warn("jobs: save progress", zap.Error(err))
	}
}

package model

import "time"

// JobStatus is the lifecycle state of an ExtractionJob.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsActive reports whether the job still holds the document's extraction slot.
func (s JobStatus) IsActive() bool {
	return s == JobQueued || s == JobRunning
}

// IsTerminal reports whether the job has finished for any reason.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// ExtractionJob is one attempt to derive structured data from a Document.
type ExtractionJob struct {
	ID           string              `json:"id"`
	DocumentID   string              `json:"document_id"`
	MappingSetID string              `json:"mapping_set_id,omitempty"`
	Status       JobStatus           `json:"status"`
	// Iterations counts the model calls the extraction made.
	Iterations   int                 `json:"iterations"`
	Progress     float64             `json:"progress"`
	RecordCount  int                 `json:"record_count"`
	MethodUsed   string              `json:"method_used,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Warnings     []ValidationWarning `json:"warnings,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

// JobStatusView is the payload returned to polling clients.
type JobStatusView struct {
	ID       string    `json:"id"`
	Status   JobStatus `json:"status"`
	Progress *float64  `json:"progress,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// View projects the job into its polling representation.
func (j *ExtractionJob) View() JobStatusView {
	v := JobStatusView{ID: j.ID, Status: j.Status, Error: j.ErrorMessage}
	if j.Status == JobRunning || j.Status == JobCompleted {
		p := j.Progress
		v.Progress = &p
	}
	return v
}

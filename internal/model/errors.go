package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ParseError means the extractor could not read the file at all. It is
// surfaced to the user and never retried automatically.
type ParseError struct {
	FileType FileType
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.FileType, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.FileType, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError builds a ParseError.
func NewParseError(ft FileType, reason string, err error) *ParseError {
	return &ParseError{FileType: ft, Reason: reason, Err: err}
}

// MappingConflictError means an extraction job is already active for the
// document.
type MappingConflictError struct {
	DocumentID  string
	ActiveJobID string
}

func (e *MappingConflictError) Error() string {
	if e.ActiveJobID != "" {
		return fmt.Sprintf("document %s already has active extraction job %s", e.DocumentID, e.ActiveJobID)
	}
	return fmt.Sprintf("document %s already has an active extraction job", e.DocumentID)
}

// BudgetExceededError is the soft failure produced when the tool loop runs
// out of iterations or wall-clock time. The loop still returns a summary.
type BudgetExceededError struct {
	Iterations int
	Elapsed    time.Duration
	Reason     string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("tool loop budget exceeded after %d iterations (%s): %s",
		e.Iterations, e.Elapsed.Round(time.Millisecond), e.Reason)
}

// ProviderError is an LLM provider failure that survived retries.
type ProviderError struct {
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ToolLoopError is a fatal tool-loop failure; the enclosing job fails.
type ToolLoopError struct {
	Iteration int
	Err       error
}

func (e *ToolLoopError) Error() string {
	return fmt.Sprintf("tool loop failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *ToolLoopError) Unwrap() error { return e.Err }

// ReferentialIntegrityError means a write referenced an entity that does not
// exist.
type ReferentialIntegrityError struct {
	Entity string
	ID     string
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Entity, e.ID)
}

// CommitTransactionError carries the failing table, constraint and value of
// a rolled-back commit so the UI can show something actionable.
type CommitTransactionError struct {
	DocumentID string
	Table      string
	Constraint string
	Value      string
	Detail     string
	Err        error
}

func (e *CommitTransactionError) Error() string {
	msg := fmt.Sprintf("commit document %s failed", e.DocumentID)
	if e.Table != "" {
		msg += " on table " + e.Table
	}
	if e.Constraint != "" {
		msg += " (constraint " + e.Constraint + ")"
	}
	if e.Value != "" {
		msg += " value " + e.Value
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommitTransactionError) Unwrap() error { return e.Err }

// InvalidTransitionError is returned for review-state moves that are not
// allowed.
type InvalidTransitionError struct {
	From ReviewStatus
	To   ReviewStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move document from %s to %s", e.From, e.To)
}

// Package model holds the domain types shared by the extraction, mapping,
// review and analytics packages.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

// FileType identifies the container format of an uploaded document.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeXLSX FileType = "xlsx"
	FileTypeCSV  FileType = "csv"
)

// IsSpreadsheet reports whether the file has addressable header cells.
func (f FileType) IsSpreadsheet() bool {
	return f == FileTypeXLSX || f == FileTypeCSV
}

// FileTypeFromName infers the FileType from a filename extension.
// Returns "" for unsupported extensions.
func FileTypeFromName(name string) FileType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FileTypePDF
	case ".xlsx", ".xlsm":
		return FileTypeXLSX
	case ".csv", ".txt":
		return FileTypeCSV
	default:
		return ""
	}
}

// DocType is the declared extraction type of a document.
type DocType string

const (
	DocTypeRentRoll           DocType = "rent_roll"
	DocTypeOperatingStatement DocType = "operating_statement"
	DocTypeParcelTable        DocType = "parcel_table"
)

// Valid reports whether d is a supported extraction type.
func (d DocType) Valid() bool {
	switch d {
	case DocTypeRentRoll, DocTypeOperatingStatement, DocTypeParcelTable:
		return true
	}
	return false
}

// ReviewStatus is the review state of a document's extracted data.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewInReview  ReviewStatus = "in_review"
	ReviewCorrected ReviewStatus = "corrected"
	ReviewCommitted ReviewStatus = "committed"
)

// reviewTransitions lists the allowed explicit user transitions.
// Committed is terminal.
var reviewTransitions = map[ReviewStatus][]ReviewStatus{
	ReviewPending:   {ReviewInReview},
	ReviewInReview:  {ReviewCorrected},
	ReviewCorrected: {ReviewCorrected, ReviewCommitted},
}

// CanTransition reports whether a document may move from s to next.
func (s ReviewStatus) CanTransition(next ReviewStatus) bool {
	for _, allowed := range reviewTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CollisionStatus describes how an upload relates to existing documents.
type CollisionStatus string

const (
	CollisionNone              CollisionStatus = "none"
	CollisionDuplicate         CollisionStatus = "duplicate"
	CollisionPossibleDuplicate CollisionStatus = "possible_duplicate"
	CollisionNewVersion        CollisionStatus = "new_version"
)

// Document is a source file uploaded to a project.
type Document struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"project_id"`
	Filename     string          `json:"filename"`
	FileType     FileType        `json:"file_type"`
	DocType      DocType         `json:"doc_type"`
	ContentHash  string          `json:"content_hash"`
	StorageURI   string          `json:"storage_uri"`
	SizeBytes    int64           `json:"size_bytes"`
	Version      int             `json:"version"`
	ParentID     string          `json:"parent_id,omitempty"`
	Collision    CollisionStatus `json:"collision"`
	ReviewStatus ReviewStatus    `json:"review_status"`
	// CurrentJobID is the job whose records review and commit operate on.
	CurrentJobID string          `json:"current_job_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

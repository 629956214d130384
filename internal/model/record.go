package model

import "time"

// FieldValue is one extracted value with its evidence. Confidence 0 means
// the field was not found and Value is nil; it never denotes a low-certainty
// guess. Corrected marks a value entered by a reviewer.
type FieldValue struct {
	Value       any     `json:"value"`
	Confidence  float64 `json:"confidence"`
	SourcePage  int     `json:"source_page,omitempty"`
	SourceQuote string  `json:"source_quote,omitempty"`
	Corrected   bool    `json:"corrected,omitempty"`
}

// NotFound returns the canonical absent value.
func NotFound() FieldValue {
	return FieldValue{}
}

// Found reports whether the value was read from the source.
func (v FieldValue) Found() bool {
	return v.Confidence > 0 && v.Value != nil
}

// ExtractedRecord is one structured row derived from a document.
type ExtractedRecord struct {
	ID         string                `json:"id"`
	DocumentID string                `json:"document_id"`
	JobID      string                `json:"job_id,omitempty"`
	DocType    DocType               `json:"doc_type"`
	RowIndex   int                   `json:"row_index"`
	Fields     map[string]FieldValue `json:"fields"`
	CreatedAt  time.Time             `json:"created_at"`
}

// Get returns the field value for name, or the absent value.
func (r *ExtractedRecord) Get(name string) FieldValue {
	if r.Fields == nil {
		return NotFound()
	}
	return r.Fields[name]
}

// Float returns a numeric field value.
func (r *ExtractedRecord) Float(name string) (float64, bool) {
	fv := r.Get(name)
	if !fv.Found() {
		return 0, false
	}
	switch v := fv.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// String returns a text field value.
func (r *ExtractedRecord) String(name string) (string, bool) {
	fv := r.Get(name)
	if !fv.Found() {
		return "", false
	}
	s, ok := fv.Value.(string)
	return s, ok
}

// Severity grades a validation warning.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ValidationWarning annotates an extraction without blocking it.
type ValidationWarning struct {
	RowIndex       int      `json:"row_index"`
	FieldPath      string   `json:"field_path"`
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	SuggestedValue any      `json:"suggested_value,omitempty"`
}

// TableRow is one insert into a normalized table during commit.
type TableRow struct {
	Table   string
	Columns []string
	Values  []any
}

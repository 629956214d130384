package model

import "time"

// CorrectionType classifies a human edit to an AI-produced value.
type CorrectionType string

const (
	CorrectionValueWrong    CorrectionType = "value_wrong"
	CorrectionFieldMissed   CorrectionType = "field_missed"
	CorrectionOCRError      CorrectionType = "ocr_error"
	CorrectionWrongTable    CorrectionType = "wrong_table"
	CorrectionWrongDataType CorrectionType = "wrong_data_type"
	CorrectionCalculation   CorrectionType = "calculation_error"
)

// CorrectionTypes lists every correction type in display order.
var CorrectionTypes = []CorrectionType{
	CorrectionValueWrong,
	CorrectionFieldMissed,
	CorrectionOCRError,
	CorrectionWrongTable,
	CorrectionWrongDataType,
	CorrectionCalculation,
}

// Valid reports whether c is a known correction type.
func (c CorrectionType) Valid() bool {
	switch c {
	case CorrectionValueWrong, CorrectionFieldMissed, CorrectionOCRError,
		CorrectionWrongTable, CorrectionWrongDataType, CorrectionCalculation:
		return true
	}
	return false
}

// Correction is an immutable log entry for one user edit.
type Correction struct {
	ID           string         `json:"id"`
	RecordID     string         `json:"record_id"`
	DocumentID   string         `json:"document_id,omitempty"`
	FieldPath    string         `json:"field_path"`
	AIValue      any            `json:"ai_value"`
	UserValue    any            `json:"user_value"`
	AIConfidence float64        `json:"ai_confidence"`
	Type         CorrectionType `json:"correction_type"`
	Notes        string         `json:"notes,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// DailyPoint is one day of the accuracy series.
type DailyPoint struct {
	Date        string  `json:"date"`
	Corrections int     `json:"corrections"`
	Extractions int     `json:"extractions"`
	Accuracy    float64 `json:"accuracy"`
}

// FieldStat ranks a frequently corrected field path.
type FieldStat struct {
	FieldPath        string         `json:"field_path"`
	Corrections      int            `json:"corrections"`
	MeanAIConfidence float64        `json:"mean_ai_confidence"`
	DominantType     CorrectionType `json:"dominant_type"`
	Pattern          string         `json:"pattern,omitempty"`
	Recommendation   string         `json:"recommendation,omitempty"`
}

// AccuracyTrend is the derived aggregate over a trailing window. It is
// recomputed on every read.
type AccuracyTrend struct {
	PeriodDays         int          `json:"period_days"`
	TotalCorrections   int          `json:"total_corrections"`
	TotalExtractions   int          `json:"total_extractions"`
	CorrectionRate     float64      `json:"correction_rate"`
	Accuracy           float64      `json:"accuracy"`
	DailySeries        []DailyPoint `json:"daily_series"`
	TopCorrectedFields []FieldStat  `json:"top_corrected_fields"`
}

// ExtractionCount is a per-day, per-doc-type tally of extracted records.
type ExtractionCount struct {
	Day     string
	DocType DocType
	Records int
}

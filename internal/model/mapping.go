package model

import "time"

// Tier buckets a mapping confidence for conversational presentation.
type Tier string

const (
	TierHigh   Tier = "HIGH"
	TierMedium Tier = "MEDIUM"
	TierLow    Tier = "LOW"
	TierNone   Tier = "NONE"
)

// Tier thresholds.
const (
	HighTierThreshold   = 0.85
	MediumTierThreshold = 0.5
)

// TierFor returns the tier for a score. Unmatched headers (empty canonical
// field) are always TierNone regardless of score.
func TierFor(score float64, matched bool) Tier {
	switch {
	case !matched:
		return TierNone
	case score >= HighTierThreshold:
		return TierHigh
	case score >= MediumTierThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// FieldMapping is a proposed or confirmed correspondence between a source
// header and a canonical field.
type FieldMapping struct {
	SourceHeader   string   `json:"source_header"`
	ColumnIndex    int      `json:"column_index"`
	CanonicalField string   `json:"canonical_field,omitempty"`
	Score          float64  `json:"score"`
	Tier           Tier     `json:"tier"`
	ExactMatch     bool     `json:"exact_match,omitempty"`
	IsNewField     bool     `json:"is_new_field,omitempty"`
	Samples        []string `json:"samples,omitempty"`
	Confirmed      bool     `json:"confirmed"`
}

// Mapped reports whether the header has a canonical target.
func (m FieldMapping) Mapped() bool {
	return m.CanonicalField != ""
}

// MappingSet is a persisted, user-confirmed mapping for one document.
type MappingSet struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"document_id"`
	Mappings    []FieldMapping `json:"mappings"`
	ConfirmedAt time.Time      `json:"confirmed_at"`
}

// FieldType is the value type of a canonical field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldCurrency FieldType = "currency"
	FieldArea     FieldType = "area"
	FieldDate     FieldType = "date"
	FieldPercent  FieldType = "percent"
)

// IsNumeric reports whether values of this type parse as float64.
func (t FieldType) IsNumeric() bool {
	switch t {
	case FieldNumber, FieldCurrency, FieldArea, FieldPercent:
		return true
	}
	return false
}

// CanonicalField is one field of a target schema, with the header synonyms
// that map onto it.
type CanonicalField struct {
	Name     string    `json:"name" yaml:"name"`
	Label    string    `json:"label,omitempty" yaml:"label"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
	Synonyms []string  `json:"synonyms" yaml:"synonyms"`
	Custom   bool      `json:"custom,omitempty" yaml:"-"`
	Version  int       `json:"version,omitempty" yaml:"-"`
}

// Schema is the ordered canonical field list for a DocType.
type Schema struct {
	DocType            DocType          `json:"doc_type" yaml:"-"`
	IdentityKey        string           `json:"identity_key" yaml:"identity_key"`
	AvgFieldsPerRecord int              `json:"avg_fields_per_record" yaml:"avg_fields_per_record"`
	Fields             []CanonicalField `json:"fields" yaml:"fields"`
}

// Field returns the canonical field by name.
func (s *Schema) Field(name string) (CanonicalField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return CanonicalField{}, false
}

// Required returns the names of required fields in declaration order.
func (s *Schema) Required() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

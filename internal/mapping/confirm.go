package mapping

import (
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/registry"
)

// ErrInvalidConfirmation marks a user-edited mapping that cannot be applied.
var ErrInvalidConfirmation = errors.New("invalid mapping confirmation")

// ConfirmItem is one user-edited mapping row.
type ConfirmItem struct {
	SourceHeader   string `json:"source_header"`
	CanonicalField string `json:"canonical_field"`
	IsNewField     bool   `json:"is_new_field"`
}

// Validated is a confirmation resolved against a schema.
type Validated struct {
	Mappings  []model.FieldMapping
	NewFields []model.CanonicalField
}

// ValidateConfirmation resolves user-edited rows against the document
// headers and schema. Rows with an empty canonical field leave the column
// unmapped. A new field name is snake_cased; if it already exists in the
// schema the row maps to the existing field instead of creating one.
func ValidateConfirmation(schema *model.Schema, headers []string, items []ConfirmItem) (*Validated, error) {
	colByHeader := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, dup := colByHeader[h]; !dup {
			colByHeader[h] = i
		}
	}

	out := &Validated{}
	targets := make(map[string]string)
	for _, it := range items {
		col, ok := colByHeader[it.SourceHeader]
		if !ok {
			return nil, eris.Wrapf(ErrInvalidConfirmation, "mapping: unknown source header %q", it.SourceHeader)
		}
		m := model.FieldMapping{
			SourceHeader: it.SourceHeader,
			ColumnIndex:  col,
			Tier:         model.TierNone,
			Confirmed:    true,
		}
		if it.CanonicalField == "" {
			out.Mappings = append(out.Mappings, m)
			continue
		}

		name := it.CanonicalField
		if _, exists := schema.Field(name); !exists {
			if !it.IsNewField {
				return nil, eris.Wrapf(ErrInvalidConfirmation, "mapping: unknown canonical field %q", name)
			}
			name = registry.SnakeCase(name)
			if name == "" {
				return nil, eris.Wrapf(ErrInvalidConfirmation, "mapping: new field name %q is empty after normalisation", it.CanonicalField)
			}
			if _, exists := schema.Field(name); !exists && !hasField(out.NewFields, name) {
				out.NewFields = append(out.NewFields, model.CanonicalField{
					Name:     name,
					Label:    it.CanonicalField,
					Type:     model.FieldText,
					Synonyms: []string{it.SourceHeader},
					Custom:   true,
				})
				m.IsNewField = true
			}
		}
		if prev, taken := targets[name]; taken {
			return nil, eris.Wrapf(ErrInvalidConfirmation, "mapping: %q and %q both map to %s", prev, it.SourceHeader, name)
		}
		targets[name] = it.SourceHeader

		m.CanonicalField = name
		m.Score = 1
		m.Tier = model.TierHigh
		out.Mappings = append(out.Mappings, m)
	}
	return out, nil
}

func hasField(fields []model.CanonicalField, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

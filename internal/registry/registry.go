// Package registry loads the canonical field schemas and header synonym
// tables that drive column mapping. Tables are data, loaded from YAML or a
// Notion database, so new header synonyms need no code change.
package registry

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/landscaper/internal/model"
)

//go:embed synonyms.yaml
var defaultSynonyms []byte

// Registry indexes canonical schemas per DocType. It is immutable after
// construction; custom fields are layered per call with WithCustomFields.
type Registry struct {
	schemas map[model.DocType]*model.Schema
}

// New builds a Registry from schemas keyed by DocType.
func New(schemas map[model.DocType]*model.Schema) *Registry {
	r := &Registry{schemas: make(map[model.DocType]*model.Schema, len(schemas))}
	for dt, s := range schemas {
		cp := cloneSchema(s)
		cp.DocType = dt
		r.schemas[dt] = cp
	}
	return r
}

// Default returns the registry built from the embedded synonym tables.
func Default() *Registry {
	r, err := Parse(defaultSynonyms)
	if err != nil {
		panic("registry: embedded synonyms.yaml is invalid: " + err.Error())
	}
	return r
}

// LoadFile reads synonym tables from a YAML file. An empty path returns the
// embedded defaults.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read synonyms file")
	}
	return Parse(data)
}

// Parse decodes YAML synonym tables.
func Parse(data []byte) (*Registry, error) {
	var raw map[string]*model.Schema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal synonyms")
	}

	schemas := make(map[model.DocType]*model.Schema, len(raw))
	for name, s := range raw {
		dt := model.DocType(name)
		if !dt.Valid() {
			return nil, eris.Errorf("registry: unknown doc type %q", name)
		}
		if s == nil || len(s.Fields) == 0 {
			return nil, eris.Errorf("registry: doc type %s has no fields", name)
		}
		if err := validateSchema(s); err != nil {
			return nil, eris.Wrapf(err, "registry: doc type %s", name)
		}
		schemas[dt] = s
	}
	return New(schemas), nil
}

func validateSchema(s *model.Schema) error {
	seen := make(map[string]bool, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Name == "" {
			return eris.Errorf("field %d has no name", i)
		}
		if seen[f.Name] {
			return eris.Errorf("duplicate field %s", f.Name)
		}
		seen[f.Name] = true
		if f.Type == "" {
			f.Type = model.FieldText
		}
	}
	if s.IdentityKey != "" && !seen[s.IdentityKey] {
		return eris.Errorf("identity key %s is not a declared field", s.IdentityKey)
	}
	if s.AvgFieldsPerRecord <= 0 {
		s.AvgFieldsPerRecord = len(s.Fields)
	}
	return nil
}

// Schema returns a copy of the schema for dt.
func (r *Registry) Schema(dt model.DocType) (*model.Schema, error) {
	s, ok := r.schemas[dt]
	if !ok {
		return nil, eris.Errorf("registry: no schema for doc type %q", dt)
	}
	return cloneSchema(s), nil
}

// WithCustomFields returns the schema for dt with user-created fields
// appended after the declared ones. Custom fields whose name collides with a
// declared field are ignored.
func (r *Registry) WithCustomFields(dt model.DocType, custom []model.CanonicalField) (*model.Schema, error) {
	s, err := r.Schema(dt)
	if err != nil {
		return nil, err
	}
	for _, f := range custom {
		if _, exists := s.Field(f.Name); exists {
			continue
		}
		f.Custom = true
		if f.Type == "" {
			f.Type = model.FieldText
		}
		s.Fields = append(s.Fields, f)
	}
	return s, nil
}

// AvgFieldsPerRecord returns the per-doc-type constant used to normalise
// correction rates. Unknown doc types count as one field per record.
func (r *Registry) AvgFieldsPerRecord(dt model.DocType) int {
	if s, ok := r.schemas[dt]; ok && s.AvgFieldsPerRecord > 0 {
		return s.AvgFieldsPerRecord
	}
	return 1
}

// DocTypes lists the registered doc types in sorted order.
func (r *Registry) DocTypes() []model.DocType {
	out := make([]model.DocType, 0, len(r.schemas))
	for dt := range r.schemas {
		out = append(out, dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func cloneSchema(s *model.Schema) *model.Schema {
	cp := *s
	cp.Fields = make([]model.CanonicalField, len(s.Fields))
	for i, f := range s.Fields {
		f.Synonyms = append([]string(nil), f.Synonyms...)
		cp.Fields[i] = f
	}
	return &cp
}

// SnakeCase converts a user-supplied field name into a canonical field name.
func SnakeCase(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		default:
			if b.Len() > 0 && !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

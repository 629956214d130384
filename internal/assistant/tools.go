package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landscaper/internal/jobs"
	"github.com/sells-group/landscaper/internal/mapping"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/registry"
	"github.com/sells-group/landscaper/internal/review"
	"github.com/sells-group/landscaper/internal/toolloop"
)

const defaultRecordPage = 20

func (s *Session) tools() []toolloop.Tool {
	return []toolloop.Tool{
		{
			Name:        "get_document_preview",
			Description: "Read the detected header row and the first sample rows of the document.",
			Keywords:    []string{"preview", "header", "column", "sample", "row"},
			Always:      true,
			Handler:     s.preview,
		},
		{
			Name:        "propose_mapping",
			Description: "Propose a mapping from every header to a canonical field, grouped by confidence tier. Replaces the draft mapping.",
			Keywords:    []string{"map", "mapping", "propose", "suggest", "column"},
			Always:      true,
			Handler:     s.propose,
		},
		{
			Name:        "update_mapping",
			Description: "Change the draft mapping of one source header. Leave canonical_field empty to unmap it; set is_new_field to create a new field.",
			Schema: map[string]any{
				"source_header":   map[string]any{"type": "string"},
				"canonical_field": map[string]any{"type": "string"},
				"is_new_field":    map[string]any{"type": "boolean"},
			},
			Required: []string{"source_header"},
			Keywords: []string{"map", "mapping", "change", "rename", "unmap", "field", "column"},
			Always:   true,
			Handler:  s.updateMapping,
		},
		{
			Name:        "confirm_mapping",
			Description: "Save the draft mapping and start extraction. Requires the user's confirmation.",
			Gate:        toolloop.GateConfirm,
			Keywords:    []string{"confirm", "extract", "start", "run", "go ahead", "looks good"},
			Handler:     s.confirmMapping,
		},
		{
			Name:        "list_extracted_records",
			Description: "List extracted records with per-field values and confidence.",
			Schema: map[string]any{
				"offset": map[string]any{"type": "integer"},
				"limit":  map[string]any{"type": "integer"},
			},
			Keywords: []string{"record", "records", "extracted", "row", "rows", "unit", "tenant", "line item", "parcel"},
			Handler:  s.listRecords,
		},
		{
			Name:        "update_record_field",
			Description: "Correct one field of an extracted record. Requires the user's confirmation unless they approved edits.",
			Schema: map[string]any{
				"record_id":       map[string]any{"type": "string"},
				"field_path":      map[string]any{"type": "string"},
				"value":           map[string]any{"description": "new value; null clears the field"},
				"correction_type": map[string]any{"type": "string", "enum": correctionTypes()},
				"notes":           map[string]any{"type": "string"},
			},
			Required: []string{"record_id", "field_path", "value", "correction_type"},
			Gate:     toolloop.GateConfirm,
			Keywords: []string{"fix", "correct", "change", "update", "wrong", "edit"},
			Handler:  s.updateRecord,
		},
		{
			Name:        "recategorize_line_item",
			Description: "Move an operating statement line item to another category.",
			Schema: map[string]any{
				"record_id": map[string]any{"type": "string"},
				"category":  map[string]any{"type": "string"},
			},
			Required: []string{"record_id", "category"},
			Gate:     toolloop.GateConfirm,
			Keywords: []string{"category", "recategorize", "move", "line item", "expense", "income"},
			Handler:  s.recategorize,
		},
	}
}

func correctionTypes() []string {
	out := make([]string, 0, len(model.CorrectionTypes))
	for _, t := range model.CorrectionTypes {
		out = append(out, string(t))
	}
	return out
}

type previewOutput struct {
	Filename string     `json:"filename"`
	DocType  string     `json:"doc_type"`
	Method   string     `json:"method"`
	Rows     int        `json:"row_count"`
	Headers  []string   `json:"headers"`
	Samples  [][]string `json:"samples"`
}

func (s *Session) preview(ctx context.Context, _ json.RawMessage) (string, error) {
	doc, _, p, err := s.svc.jobs.Preview(ctx, s.documentID)
	if err != nil {
		return "", err
	}
	samples := p.Samples
	if len(samples) > s.svc.samples {
		samples = samples[:s.svc.samples]
	}
	return marshal(previewOutput{
		Filename: doc.Filename,
		DocType:  string(doc.DocType),
		Method:   p.Method,
		Rows:     p.RowCount,
		Headers:  p.Headers,
		Samples:  samples,
	})
}

func (s *Session) propose(ctx context.Context, _ json.RawMessage) (string, error) {
	_, schema, p, err := s.svc.jobs.Preview(ctx, s.documentID)
	if err != nil {
		return "", err
	}
	opts := mapping.DefaultOptions()
	opts.MaxSamples = s.svc.samples
	prop := mapping.Propose(schema, p.Headers, p.Samples, opts)
	s.schema, s.draft = schema, prop.Mappings
	return prop.Summary(), nil
}

type updateMappingInput struct {
	SourceHeader   string `json:"source_header"`
	CanonicalField string `json:"canonical_field"`
	IsNewField     bool   `json:"is_new_field"`
}

func (s *Session) updateMapping(ctx context.Context, raw json.RawMessage) (string, error) {
	var in updateMappingInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", eris.Wrap(err, "assistant: decode update_mapping")
	}
	if len(s.draft) == 0 {
		if _, err := s.propose(ctx, nil); err != nil {
			return "", err
		}
	}

	idx := -1
	for i, m := range s.draft {
		if strings.EqualFold(strings.TrimSpace(m.SourceHeader), strings.TrimSpace(in.SourceHeader)) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", eris.Errorf("assistant: no column named %q", in.SourceHeader)
	}

	target := in.CanonicalField
	_, known := s.schema.Field(target)
	switch {
	case target == "" || known:
		in.IsNewField = false
	case in.IsNewField:
		target = registry.SnakeCase(target)
		if target == "" {
			return "", eris.Errorf("assistant: %q is not a usable field name", in.CanonicalField)
		}
		if _, known = s.schema.Field(target); known {
			in.IsNewField = false
		}
	default:
		return "", eris.Errorf("assistant: %q is not a canonical field; set is_new_field to create it", target)
	}
	// A field maps from one column at most; the previous column is unmapped.
	var moved string
	if target != "" {
		for i := range s.draft {
			if i != idx && s.draft[i].CanonicalField == target {
				moved = s.draft[i].SourceHeader
				s.draft[i] = unmap(s.draft[i])
			}
		}
	}

	m := s.draft[idx]
	if target == "" {
		m = unmap(m)
	} else {
		m.CanonicalField = target
		m.IsNewField = in.IsNewField
		m.Score = 1
		m.Tier = model.TierHigh
	}
	m.Confirmed = true
	s.draft[idx] = m

	out := fmt.Sprintf("%q -> %s", m.SourceHeader, orUnmapped(m.CanonicalField))
	if m.IsNewField {
		out += " (new field)"
	}
	if moved != "" {
		out += fmt.Sprintf("; %q is now unmapped", moved)
	}
	return out, nil
}

func unmap(m model.FieldMapping) model.FieldMapping {
	m.CanonicalField = ""
	m.IsNewField = false
	m.Score = 0
	m.Tier = model.TierNone
	return m
}

func orUnmapped(s string) string {
	if s == "" {
		return "(unmapped)"
	}
	return s
}

func (s *Session) confirmMapping(ctx context.Context, _ json.RawMessage) (string, error) {
	if len(s.draft) == 0 {
		return "", eris.New("assistant: there is no draft mapping yet; propose one first")
	}
	items := make([]mapping.ConfirmItem, 0, len(s.draft))
	for _, m := range s.draft {
		if !m.Mapped() {
			continue
		}
		items = append(items, mapping.ConfirmItem{
			SourceHeader:   m.SourceHeader,
			CanonicalField: m.CanonicalField,
			IsNewField:     m.IsNewField,
		})
	}
	job, err := s.svc.jobs.Confirm(ctx, jobs.Confirmation{DocumentID: s.documentID, Mappings: items})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Mapping saved with %d columns. Extraction job %s is %s.", len(items), job.ID, job.Status), nil
}

type listRecordsInput struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

type recordOutput struct {
	ID     string                `json:"id"`
	Row    int                   `json:"row"`
	Fields map[string]fieldBrief `json:"fields"`
}

type fieldBrief struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

func (s *Session) listRecords(ctx context.Context, raw json.RawMessage) (string, error) {
	var in listRecordsInput
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", eris.Wrap(err, "assistant: decode list_extracted_records")
		}
	}
	if in.Limit <= 0 {
		in.Limit = defaultRecordPage
	}
	recs, err := s.svc.records.ListRecords(ctx, s.documentID)
	if err != nil {
		return "", err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].RowIndex < recs[j].RowIndex })

	total := len(recs)
	if in.Offset > total {
		in.Offset = total
	}
	end := min(in.Offset+in.Limit, total)
	page := make([]recordOutput, 0, end-in.Offset)
	for _, r := range recs[in.Offset:end] {
		out := recordOutput{ID: r.ID, Row: r.RowIndex, Fields: map[string]fieldBrief{}}
		for name, fv := range r.Fields {
			out.Fields[name] = fieldBrief{Value: fv.Value, Confidence: fv.Confidence}
		}
		page = append(page, out)
	}
	return marshal(map[string]any{"total": total, "offset": in.Offset, "records": page})
}

type updateRecordInput struct {
	RecordID       string `json:"record_id"`
	FieldPath      string `json:"field_path"`
	Value          any    `json:"value"`
	CorrectionType string `json:"correction_type"`
	Notes          string `json:"notes"`
}

func (s *Session) updateRecord(ctx context.Context, raw json.RawMessage) (string, error) {
	var in updateRecordInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", eris.Wrap(err, "assistant: decode update_record_field")
	}
	c, err := s.svc.reviewer.Correct(ctx, review.Edit{
		RecordID:  in.RecordID,
		FieldPath: in.FieldPath,
		Value:     in.Value,
		Type:      model.CorrectionType(in.CorrectionType),
		Notes:     in.Notes,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated %s on record %s (correction %s).", c.FieldPath, c.RecordID, c.ID), nil
}

type recategorizeInput struct {
	RecordID string `json:"record_id"`
	Category string `json:"category"`
}

func (s *Session) recategorize(ctx context.Context, raw json.RawMessage) (string, error) {
	var in recategorizeInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", eris.Wrap(err, "assistant: decode recategorize_line_item")
	}
	changed, err := s.svc.reviewer.Recategorize(ctx, in.RecordID, in.Category)
	if err != nil {
		return "", err
	}
	if !changed {
		return fmt.Sprintf("Line item %s is already in %s.", in.RecordID, in.Category), nil
	}
	return fmt.Sprintf("Moved line item %s to %s.", in.RecordID, in.Category), nil
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "assistant: encode tool output")
	}
	return string(b), nil
}

package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/landscaper/internal/mapping"
	"github.com/sells-group/landscaper/internal/model"
)

// boundColumn is a mapped column resolved against the detected header.
type boundColumn struct {
	col   int
	field model.CanonicalField
}

// bindColumns resolves mappings against headers. A mapping whose column
// index no longer carries its header is looked up by header text instead.
func bindColumns(headers []string, schema *model.Schema, maps []model.FieldMapping) ([]boundColumn, []model.ValidationWarning) {
	var cols []boundColumn
	var warns []model.ValidationWarning
	for _, m := range maps {
		if !m.Mapped() {
			continue
		}
		f, ok := schema.Field(m.CanonicalField)
		if !ok {
			warns = append(warns, topWarning(model.SeverityWarning,
				fmt.Sprintf("mapped field %q is not in the %s schema", m.CanonicalField, schema.DocType)))
			continue
		}
		col := m.ColumnIndex
		if col < 0 || col >= len(headers) || !sameHeader(headers[col], m.SourceHeader) {
			col = findHeader(headers, m.SourceHeader)
		}
		if col < 0 {
			warns = append(warns, model.ValidationWarning{
				RowIndex:  -1,
				FieldPath: f.Name,
				Severity:  model.SeverityWarning,
				Message:   fmt.Sprintf("mapped column %q not found in document", m.SourceHeader),
			})
			continue
		}
		cols = append(cols, boundColumn{col: col, field: f})
	}
	return cols, warns
}

func sameHeader(a, b string) bool {
	return mapping.Normalize(a) == mapping.Normalize(b)
}

func findHeader(headers []string, h string) int {
	for i, c := range headers {
		if sameHeader(c, h) {
			return i
		}
	}
	return -1
}

// summaryPrefixes mark totals rows in unit and parcel listings.
var summaryPrefixes = []string{"total", "totals", "grand total", "subtotal", "sub total"}

func isSummary(cell string) bool {
	n := mapping.Normalize(cell)
	for _, p := range summaryPrefixes {
		if n == p || strings.HasPrefix(n, p+" ") {
			return true
		}
	}
	return false
}

// buildRecords turns every data row of t into a record. Each schema field is
// present on every record; unmapped or blank cells carry the not-found value.
func buildRecords(t *table, schema *model.Schema, cols []boundColumn, in Input, now time.Time) ([]model.ExtractedRecord, []model.ValidationWarning) {
	identityCol := -1
	if schema.DocType != model.DocTypeOperatingStatement {
		for _, c := range cols {
			if c.field.Name == schema.IdentityKey {
				identityCol = c.col
			}
		}
	}

	records := make([]model.ExtractedRecord, 0, len(t.rows))
	var warns []model.ValidationWarning
	for _, r := range t.rows {
		if identityCol >= 0 && identityCol < len(r.cells) && isSummary(r.cells[identityCol]) {
			warns = append(warns, topWarning(model.SeverityInfo,
				fmt.Sprintf("summary row skipped at source line %d: %q", r.line, strings.TrimSpace(r.cells[identityCol]))))
			continue
		}

		rec := model.ExtractedRecord{
			ID:         uuid.NewString(),
			DocumentID: in.DocumentID,
			JobID:      in.JobID,
			DocType:    schema.DocType,
			RowIndex:   len(records),
			Fields:     make(map[string]model.FieldValue, len(schema.Fields)),
			CreatedAt:  now,
		}
		for _, f := range schema.Fields {
			rec.Fields[f.Name] = model.NotFound()
		}
		for _, c := range cols {
			var cell string
			if c.col < len(r.cells) {
				cell = r.cells[c.col]
			}
			v, conf := ScoreCell(cell, r.raw, c.field.Type)
			if v == nil {
				continue
			}
			rec.Fields[c.field.Name] = model.FieldValue{
				Value:       v,
				Confidence:  round2(conf),
				SourcePage:  r.page,
				SourceQuote: strings.TrimSpace(cell),
			}
		}
		records = append(records, rec)
	}
	return records, warns
}

func topWarning(sev model.Severity, msg string) model.ValidationWarning {
	return model.ValidationWarning{RowIndex: -1, Severity: sev, Message: msg}
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

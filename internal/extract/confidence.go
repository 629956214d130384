package extract

import (
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/landscaper/internal/model"
)

// Confidence curve. The endpoints are fixed: 0 means not found and 1 means
// the structured cell appears verbatim in the raw pass. The middle is a
// tunable heuristic.
const (
	exactAgreement      = 1.0
	normalizedAgreement = 0.9
	overlapBase         = 0.3
	overlapWeight       = 0.5
	minFoundConfidence  = 0.05
)

// ScoreCell parses a structured cell and rates it against the raw text of
// the same row. Blank or unparseable cells return (nil, 0); a returned value
// always comes from the cell itself.
func ScoreCell(cell, raw string, ft model.FieldType) (any, float64) {
	v, ok := ParseValue(cell, ft)
	if !ok {
		return nil, 0
	}
	return v, agreement(strings.TrimSpace(cell), v, raw, ft)
}

func agreement(cell string, v any, raw string, ft model.FieldType) float64 {
	if raw == "" {
		return clamp(overlapBase)
	}
	if strings.Contains(raw, cell) {
		return exactAgreement
	}
	nc, nr := squash(cell), squash(raw)
	if nc != "" && strings.Contains(nr, nc) {
		return normalizedAgreement
	}
	if ft.IsNumeric() {
		if f, ok := v.(float64); ok && rawHasNumber(raw, f) {
			return normalizedAgreement
		}
	}
	if ft == model.FieldDate {
		if d, ok := ParseDate(cell); ok && rawHasDate(raw, d.Format("2006-01-02"), excelSerial(d)) {
			return normalizedAgreement
		}
	}
	return clamp(overlapBase + overlapWeight*tokenOverlap(cell, raw))
}

func squash(s string) string {
	return strings.ToLower(strings.NewReplacer(" ", "", ",", "", "$", "", "\t", "").Replace(s))
}

func clamp(f float64) float64 {
	return math.Max(minFoundConfidence, math.Min(1, f))
}

// tokenOverlap is the share of the cell's tokens found in the raw text.
func tokenOverlap(cell, raw string) float64 {
	ct := strings.Fields(strings.ToLower(cell))
	if len(ct) == 0 {
		return 0
	}
	rt := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(raw)) {
		rt[strings.Trim(t, ",;:|")] = true
	}
	hit := 0
	for _, t := range ct {
		if rt[strings.Trim(t, ",;:|")] {
			hit++
		}
	}
	return float64(hit) / float64(len(ct))
}

func rawHasNumber(raw string, want float64) bool {
	for _, tok := range rawTokens(raw) {
		if f, ok := ParseNumber(tok); ok && nearlyEqual(f, want) {
			return true
		}
	}
	return false
}

func rawHasDate(raw, iso string, serial int) bool {
	s := strconv.Itoa(serial)
	for _, tok := range rawTokens(raw) {
		if tok == s {
			return true
		}
		if d, ok := ParseDate(tok); ok && d.Format("2006-01-02") == iso {
			return true
		}
	}
	return false
}

// rawTokens splits a raw row on the separators used by the raw passes.
func rawTokens(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\t' || r == '|' || r == ';' || r == ' ' || r == '"'
	})
}

func nearlyEqual(a, b float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	return diff < 1e-6 || diff/math.Max(math.Abs(a), math.Abs(b)) < 1e-9
}

// Package mapping proposes correspondences between source spreadsheet
// headers and canonical schema fields, and validates user confirmations.
package mapping

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/landscaper/internal/model"
)

// Options tunes proposal generation.
type Options struct {
	// MaxSamples caps sample values kept per column.
	MaxSamples int
	// MaxSampleChars caps the rune length of each sample.
	MaxSampleChars int
	// MinScore is the floor below which a header is left unmapped.
	MinScore float64
}

// DefaultOptions returns the proposal settings used by the API.
func DefaultOptions() Options {
	return Options{MaxSamples: 3, MaxSampleChars: 40, MinScore: 0.3}
}

// Proposal is the mapping proposal for one document.
type Proposal struct {
	DocType  model.DocType                       `json:"doc_type"`
	Mappings []model.FieldMapping                `json:"mappings"`
	ByTier   map[model.Tier][]model.FieldMapping `json:"by_tier"`
	// MissingRequired lists required canonical fields no header maps to.
	MissingRequired []string `json:"missing_required,omitempty"`
}

type pair struct {
	col   int
	field int
	score float64
	exact bool
}

// Propose maps each header to at most one canonical field and each field to
// at most one header. It is a pure function of its inputs: ties break on
// exact synonym match, then schema declaration order, then column order.
func Propose(schema *model.Schema, headers []string, samples [][]string, opts Options) *Proposal {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultOptions().MaxSamples
	}
	if opts.MaxSampleChars <= 0 {
		opts.MaxSampleChars = DefaultOptions().MaxSampleChars
	}

	colSamples := make([][]string, len(headers))
	for c := range headers {
		colSamples[c] = columnSamples(samples, c, opts.MaxSamples, opts.MaxSampleChars)
	}

	var pairs []pair
	for c, h := range headers {
		numeric := samplesLookNumeric(colSamples[c])
		for fi, f := range schema.Fields {
			s, exact := Score(h, f)
			if !exact && f.Type.IsNumeric() && !numeric {
				s *= typeMismatchFactor
			}
			if s >= opts.MinScore {
				pairs = append(pairs, pair{col: c, field: fi, score: s, exact: exact})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.exact != b.exact {
			return a.exact
		}
		if a.field != b.field {
			return a.field < b.field
		}
		return a.col < b.col
	})

	assigned := make(map[int]pair, len(headers))
	fieldTaken := make(map[int]bool, len(schema.Fields))
	for _, p := range pairs {
		if _, done := assigned[p.col]; done || fieldTaken[p.field] {
			continue
		}
		assigned[p.col] = p
		fieldTaken[p.field] = true
	}

	prop := &Proposal{
		DocType:  schema.DocType,
		Mappings: make([]model.FieldMapping, len(headers)),
		ByTier:   make(map[model.Tier][]model.FieldMapping),
	}
	for c, h := range headers {
		m := model.FieldMapping{
			SourceHeader: h,
			ColumnIndex:  c,
			Samples:      colSamples[c],
			Tier:         model.TierNone,
		}
		if p, ok := assigned[c]; ok {
			m.CanonicalField = schema.Fields[p.field].Name
			m.Score = round3(p.score)
			m.ExactMatch = p.exact
			m.Tier = model.TierFor(m.Score, true)
		}
		prop.Mappings[c] = m
		prop.ByTier[m.Tier] = append(prop.ByTier[m.Tier], m)
	}
	for fi, f := range schema.Fields {
		if f.Required && !fieldTaken[fi] {
			prop.MissingRequired = append(prop.MissingRequired, f.Name)
		}
	}
	return prop
}

// Summary renders the proposal grouped by tier as compact text for the
// assistant conversation.
func (p *Proposal) Summary() string {
	var b strings.Builder
	for _, tier := range []model.Tier{model.TierHigh, model.TierMedium, model.TierLow, model.TierNone} {
		ms := p.ByTier[tier]
		if len(ms) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d):\n", tier, len(ms))
		for _, m := range ms {
			target := m.CanonicalField
			if target == "" {
				target = "(unmapped)"
			}
			fmt.Fprintf(&b, "  [%d] %q -> %s %.2f", m.ColumnIndex, m.SourceHeader, target, m.Score)
			if len(m.Samples) > 0 {
				fmt.Fprintf(&b, " e.g. %s", strings.Join(m.Samples, " | "))
			}
			b.WriteByte('\n')
		}
	}
	if len(p.MissingRequired) > 0 {
		fmt.Fprintf(&b, "Missing required: %s\n", strings.Join(p.MissingRequired, ", "))
	}
	return b.String()
}

func columnSamples(rows [][]string, col, maxN, maxChars int) []string {
	var out []string
	for _, row := range rows {
		if len(out) >= maxN {
			break
		}
		if col >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		out = append(out, truncateRunes(v, maxChars))
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}

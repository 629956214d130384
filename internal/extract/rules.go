package extract

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sells-group/landscaper/internal/model"
)

// RuleKind selects the check a Rule performs.
type RuleKind string

const (
	RuleRequired    RuleKind = "required"
	RuleLessOrEqual RuleKind = "less_or_equal"
	RuleRange       RuleKind = "range"
	RuleDateOrder   RuleKind = "date_order"
	RuleUnique      RuleKind = "unique"
	// RuleRatio checks Field ≈ Numerator / Other within Tolerance.
	RuleRatio RuleKind = "ratio"
)

// Rule is one declarative validation rule. Rules never block extraction;
// each violation becomes a ValidationWarning.
type Rule struct {
	Kind      RuleKind
	Field     string
	Other     string
	Numerator string
	Min       *float64
	Max       *float64
	Tolerance float64
	Severity  model.Severity
	Message   string
	// SuggestOther proposes Other's value as the fix.
	SuggestOther bool
}

func ptr(f float64) *float64 { return &f }

// DefaultRules are the built-in rules per document type.
var DefaultRules = map[model.DocType][]Rule{
	model.DocTypeRentRoll: {
		{Kind: RuleRequired, Field: "unit_number", Severity: model.SeverityError, Message: "unit number missing"},
		{Kind: RuleRequired, Field: "current_rent", Severity: model.SeverityWarning, Message: "current rent missing"},
		{Kind: RuleLessOrEqual, Field: "current_rent", Other: "market_rent", Severity: model.SeverityWarning, Message: "current rent exceeds market rent"},
		{Kind: RuleRange, Field: "current_rent", Min: ptr(0), Max: ptr(100000), Severity: model.SeverityWarning, Message: "current rent outside 0-100,000"},
		{Kind: RuleRange, Field: "square_feet", Min: ptr(100), Max: ptr(50000), Severity: model.SeverityInfo, Message: "unusual unit size"},
		{Kind: RuleRange, Field: "security_deposit", Min: ptr(0), Severity: model.SeverityWarning, Message: "negative security deposit"},
		{Kind: RuleDateOrder, Field: "lease_start", Other: "lease_end", Severity: model.SeverityWarning, Message: "lease ends before it starts"},
		{Kind: RuleUnique, Field: "unit_number", Severity: model.SeverityWarning, Message: "unit number appears more than once"},
	},
	model.DocTypeOperatingStatement: {
		{Kind: RuleRequired, Field: "line_item", Severity: model.SeverityError, Message: "line item name missing"},
		{Kind: RuleRequired, Field: "amount", Severity: model.SeverityWarning, Message: "amount missing"},
		{Kind: RuleRange, Field: "percent_of_egi", Min: ptr(-100), Max: ptr(100), Severity: model.SeverityInfo, Message: "percent of EGI outside -100..100"},
	},
	model.DocTypeParcelTable: {
		{Kind: RuleRequired, Field: "parcel_id", Severity: model.SeverityError, Message: "parcel id missing"},
		{Kind: RuleLessOrEqual, Field: "acres_net", Other: "acres_gross", Severity: model.SeverityWarning, Message: "net acres exceed gross acres", SuggestOther: true},
		{Kind: RuleRange, Field: "acres_gross", Min: ptr(0), Max: ptr(100000), Severity: model.SeverityWarning, Message: "gross acres outside 0-100,000"},
		{Kind: RuleRange, Field: "units", Min: ptr(0), Severity: model.SeverityWarning, Message: "negative unit count"},
		{Kind: RuleRatio, Field: "density", Numerator: "units", Other: "acres_net", Tolerance: 0.05, Severity: model.SeverityInfo, Message: "density does not equal units / net acres"},
		{Kind: RuleUnique, Field: "parcel_id", Severity: model.SeverityWarning, Message: "parcel id appears more than once"},
	},
}

// Validate applies rules to records in row order. Rules naming fields the
// schema lacks are skipped.
func Validate(schema *model.Schema, rules []Rule, records []model.ExtractedRecord) []model.ValidationWarning {
	var out []model.ValidationWarning
	for _, r := range rules {
		if !ruleApplies(schema, r) {
			continue
		}
		if r.Kind == RuleUnique {
			out = append(out, checkUnique(r, records)...)
			continue
		}
		for i := range records {
			if w := checkRecord(r, &records[i]); w != nil {
				out = append(out, *w)
			}
		}
	}
	sortWarnings(out)
	return out
}

func ruleApplies(schema *model.Schema, r Rule) bool {
	for _, name := range []string{r.Field, r.Other, r.Numerator} {
		if name == "" {
			continue
		}
		if _, ok := schema.Field(name); !ok {
			return false
		}
	}
	return true
}

func checkRecord(r Rule, rec *model.ExtractedRecord) *model.ValidationWarning {
	warn := func(msg string, suggested any) *model.ValidationWarning {
		return &model.ValidationWarning{
			RowIndex:       rec.RowIndex,
			FieldPath:      r.Field,
			Severity:       r.Severity,
			Message:        msg,
			SuggestedValue: suggested,
		}
	}

	switch r.Kind {
	case RuleRequired:
		if !rec.Get(r.Field).Found() {
			return warn(r.Message, nil)
		}
	case RuleLessOrEqual:
		a, okA := rec.Float(r.Field)
		b, okB := rec.Float(r.Other)
		if okA && okB && a > b {
			var s any
			if r.SuggestOther {
				s = b
			}
			return warn(fmt.Sprintf("%s (%s %s > %s %s)", r.Message, r.Field, fmtNum(a), r.Other, fmtNum(b)), s)
		}
	case RuleRange:
		v, ok := rec.Float(r.Field)
		if !ok {
			return nil
		}
		if (r.Min != nil && v < *r.Min) || (r.Max != nil && v > *r.Max) {
			return warn(fmt.Sprintf("%s (%s)", r.Message, fmtNum(v)), nil)
		}
	case RuleDateOrder:
		a, okA := rec.String(r.Field)
		b, okB := rec.String(r.Other)
		// ISO dates compare lexically.
		if okA && okB && a > b {
			return warn(fmt.Sprintf("%s (%s > %s)", r.Message, a, b), nil)
		}
	case RuleRatio:
		got, ok := rec.Float(r.Field)
		num, okN := rec.Float(r.Numerator)
		den, okD := rec.Float(r.Other)
		if !ok || !okN || !okD || den == 0 {
			return nil
		}
		want := num / den
		if math.Abs(got-want) > r.Tolerance*math.Max(math.Abs(want), 1e-9) {
			return warn(fmt.Sprintf("%s (%s vs %s)", r.Message, fmtNum(got), fmtNum(want)), math.Round(want*100)/100)
		}
	}
	return nil
}

func checkUnique(r Rule, records []model.ExtractedRecord) []model.ValidationWarning {
	first := map[string]int{}
	var out []model.ValidationWarning
	for _, rec := range records {
		fv := rec.Get(r.Field)
		if !fv.Found() {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(fmt.Sprint(fv.Value)))
		if prev, dup := first[key]; dup {
			out = append(out, model.ValidationWarning{
				RowIndex:  rec.RowIndex,
				FieldPath: r.Field,
				Severity:  r.Severity,
				Message:   fmt.Sprintf("%s (%v, first at row %d)", r.Message, fv.Value, prev),
			})
			continue
		}
		first[key] = rec.RowIndex
	}
	return out
}

// sortWarnings orders by row, keeping rule order within a row.
func sortWarnings(ws []model.ValidationWarning) {
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].RowIndex < ws[j].RowIndex })
}

func fmtNum(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%.0f", f)
	}
	return fmt.Sprintf("%.2f", f)
}

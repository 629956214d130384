package corrections

import (
	"fmt"
	"strings"

	"github.com/sells-group/landscaper/internal/model"
)

// digitConfusions are glyph pairs OCR engines commonly swap.
var digitConfusions = map[[2]rune]bool{
	{'0', '8'}: true, {'8', '0'}: true,
	{'1', '7'}: true, {'7', '1'}: true,
	{'5', '6'}: true, {'6', '5'}: true,
	{'3', '8'}: true, {'8', '3'}: true,
	{'6', '8'}: true, {'8', '6'}: true,
}

// Classify attaches an advisory pattern label and recommendation to a
// frequently corrected field. The labels are best-effort heuristics over
// the correction types and values; they are not guaranteed to identify the
// real cause.
func Classify(stat model.FieldStat, samples []model.Correction) (pattern, recommendation string) {
	if stat.Corrections < 2 {
		return "", ""
	}
	if n := countDigitSwaps(samples); len(samples) > 0 && n*2 >= len(samples) {
		return "Numeric digits misread (e.g. 8 read as 0)",
			"Improve OCR preprocessing or re-scan the source at a higher resolution"
	}

	switch stat.DominantType {
	case model.CorrectionOCRError:
		return "OCR misread characters", "Improve OCR preprocessing"
	case model.CorrectionFieldMissed:
		return "Field frequently not found",
			fmt.Sprintf("Add header synonyms for %s", stat.FieldPath)
	case model.CorrectionWrongTable:
		return "Values taken from the wrong table or sheet",
			"Check sheet selection and summary-row filtering"
	case model.CorrectionWrongDataType:
		return "Values parsed as the wrong type",
			fmt.Sprintf("Review the declared type of %s", stat.FieldPath)
	case model.CorrectionCalculation:
		return "Derived value miscalculated", "Verify the inputs of the calculation"
	case model.CorrectionValueWrong:
		if stat.MeanAIConfidence >= model.HighTierThreshold {
			return "Confident but wrong values",
				"Lower the confidence assigned when raw and structured passes disagree"
		}
		return "Low-confidence values often wrong",
			"Route low-confidence values to review before commit"
	}
	return "", ""
}

func countDigitSwaps(samples []model.Correction) int {
	n := 0
	for _, c := range samples {
		if digitSwap(fmt.Sprint(c.AIValue), fmt.Sprint(c.UserValue)) {
			n++
		}
	}
	return n
}

// digitSwap reports whether a and b are the same digit string except for
// one or two confusable glyphs.
func digitSwap(a, b string) bool {
	a, b = digitsOnly(a), digitsOnly(b)
	if a == "" || len(a) != len(b) || a == b {
		return false
	}
	diffs := 0
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		if !digitConfusions[[2]rune{rune(a[i]), rune(b[i])}] {
			return false
		}
		diffs++
	}
	return diffs <= 2
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

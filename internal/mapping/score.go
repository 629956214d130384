package mapping

import (
	"strconv"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/sells-group/landscaper/internal/model"
)

const (
	// maxFuzzyScore keeps partial matches strictly below an exact match.
	maxFuzzyScore = 0.95
	// containmentBase is the score for a header that contains every token of
	// a synonym ("Monthly Contract Rent" contains "contract rent").
	containmentBase = 0.75
	// typeMismatchFactor damps numeric fields whose samples are not numbers.
	typeMismatchFactor = 0.7
)

// Score rates how well a header matches a canonical field, in [0,1]. exact is
// true when the normalized header equals the field name, label or a synonym.
func Score(header string, f model.CanonicalField) (score float64, exact bool) {
	nh := Normalize(header)
	if nh == "" {
		return 0, false
	}
	ch := compact(nh)
	ht := tokens(nh)

	best := 0.0
	for _, cand := range candidates(f) {
		nc := Normalize(cand)
		if nc == "" {
			continue
		}
		if compact(nc) == ch {
			return 1.0, true
		}
		if s := fuzzy(ch, ht, compact(nc), tokens(nc)); s > best {
			best = s
		}
	}
	if best > maxFuzzyScore {
		best = maxFuzzyScore
	}
	return best, false
}

func candidates(f model.CanonicalField) []string {
	out := make([]string, 0, len(f.Synonyms)+2)
	out = append(out, strings.ReplaceAll(f.Name, "_", " "))
	if f.Label != "" {
		out = append(out, f.Label)
	}
	return append(out, f.Synonyms...)
}

func fuzzy(ch string, ht []string, cc string, ct []string) float64 {
	best := levenshtein.Match(ch, cc, nil)
	if j := jaccard(ht, ct); j > best {
		best = j
	}
	if containsAll(ht, ct) {
		coverage := float64(len(ct)) / float64(len(ht))
		if s := containmentBase + 0.1*coverage; s > best {
			best = s
		}
	}
	return best
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func containsAll(haystack, needles []string) bool {
	if len(needles) == 0 || len(needles) >= len(haystack) {
		return false
	}
	set := make(map[string]bool, len(haystack))
	for _, t := range haystack {
		set[t] = true
	}
	for _, n := range needles {
		if !set[n] {
			return false
		}
	}
	return true
}

// samplesLookNumeric reports whether most non-empty samples parse as numbers.
// It returns true when there is nothing to judge.
func samplesLookNumeric(samples []string) bool {
	total, numeric := 0, 0
	for _, s := range samples {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		total++
		if looksNumeric(s) {
			numeric++
		}
	}
	return total == 0 || numeric*2 >= total
}

func looksNumeric(s string) bool {
	s = strings.NewReplacer("$", "", ",", "", "%", "", "(", "-", ")", "", " ", "").Replace(s)
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

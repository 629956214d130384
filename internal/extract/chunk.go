package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/landscaper/internal/model"
)

// Span is a half-open row range [Start, End).
type Span struct {
	Start int
	End   int
}

// SplitChunks covers n rows with spans of at most size rows, each sharing
// overlap rows with its predecessor so that a record cut at a boundary is
// seen whole at least once.
func SplitChunks(n, size, overlap int) []Span {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = n
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	var spans []Span
	for start := 0; ; {
		end := min(start+size, n)
		spans = append(spans, Span{Start: start, End: end})
		if end == n {
			return spans
		}
		start = end - overlap
	}
}

// MergeChunks concatenates per-chunk results, dropping the copies that
// overlapping chunks produce. Two records are the same when they share a
// source row, or when one lacks a row and both carry the same identity key
// value. Of two copies the one with more found fields wins. The result is
// ordered by source row.
func MergeChunks(chunks [][]model.ExtractedRecord, identityKey string) []model.ExtractedRecord {
	var out []model.ExtractedRecord
	byRow := map[int]int{}
	byID := map[string]int{}

	for _, chunk := range chunks {
		for _, rec := range chunk {
			id := identityOf(rec, identityKey)
			idx, dup := -1, false
			if rec.RowIndex >= 0 {
				idx, dup = byRow[rec.RowIndex]
			}
			if !dup && id != "" {
				if i, ok := byID[id]; ok && (rec.RowIndex < 0 || out[i].RowIndex < 0) {
					idx, dup = i, true
				}
			}
			if dup {
				if richer(rec, out[idx]) {
					out[idx] = rec
				}
				continue
			}
			out = append(out, rec)
			if rec.RowIndex >= 0 {
				byRow[rec.RowIndex] = len(out) - 1
			}
			if id != "" {
				if _, seen := byID[id]; !seen {
					byID[id] = len(out) - 1
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return rowKey(out[i]) < rowKey(out[j])
	})
	return out
}

func rowKey(r model.ExtractedRecord) int {
	if r.RowIndex < 0 {
		return int(^uint(0) >> 1)
	}
	return r.RowIndex
}

func identityOf(r model.ExtractedRecord, key string) string {
	if key == "" {
		return ""
	}
	fv := r.Get(key)
	if !fv.Found() {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(fv.Value)))
}

// richer reports whether a carries more evidence than b.
func richer(a, b model.ExtractedRecord) bool {
	fa, ca := evidence(a)
	fb, cb := evidence(b)
	if fa != fb {
		return fa > fb
	}
	return ca > cb
}

func evidence(r model.ExtractedRecord) (found int, conf float64) {
	for _, fv := range r.Fields {
		if fv.Found() {
			found++
			conf += fv.Confidence
		}
	}
	return found, conf
}

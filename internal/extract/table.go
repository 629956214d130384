package extract

import (
	"strings"

	"github.com/sells-group/landscaper/internal/mapping"
	"github.com/sells-group/landscaper/internal/model"
)

// table is the parser-neutral intermediate form. Every parser produces the
// structured cells of a row together with an independent raw rendering of
// the same row, which the confidence scorer compares against.
type table struct {
	headers   []string
	headerRow int
	rows      []row
}

type row struct {
	cells []string
	raw   string
	page  int
	// line is the 1-based source position (CSV line, sheet row, PDF line).
	line int
}

// maxHeaderScan bounds how far down a sheet the header row may sit.
const maxHeaderScan = 25

// headerMatchFloor is the mapping score a cell needs to count as a header.
const headerMatchFloor = 0.5

// detectHeader returns the index of the row that looks most like a header
// for schema and the number of cells that matched a canonical field. Ties
// go to the earlier row.
func detectHeader(grid [][]string, schema *model.Schema) (idx, matches int) {
	idx = -1
	limit := min(len(grid), maxHeaderScan)
	best := 0.0
	for i := 0; i < limit; i++ {
		n, total := headerScore(grid[i], schema)
		if n > matches || (n == matches && n > 0 && total > best) {
			idx, matches, best = i, n, total
		}
	}
	return idx, matches
}

func headerScore(cells []string, schema *model.Schema) (int, float64) {
	n, total := 0, 0.0
	for _, c := range cells {
		if IsBlank(c) {
			continue
		}
		if _, numeric := ParseNumber(c); numeric {
			continue
		}
		best := 0.0
		for _, f := range schema.Fields {
			if s, _ := mapping.Score(c, f); s > best {
				best = s
			}
		}
		if best >= headerMatchFloor {
			n++
			total += best
		}
	}
	return n, total
}

// firstNonBlank returns the first row with any content, or -1.
func firstNonBlank(grid [][]string) int {
	for i, r := range grid {
		if !blankRow(r) {
			return i
		}
	}
	return -1
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// isRepeatedHeader catches header rows repeated on every printed page.
func isRepeatedHeader(cells, headers []string) bool {
	if len(headers) == 0 {
		return false
	}
	same := 0
	for i, c := range cells {
		if i < len(headers) && strings.TrimSpace(c) != "" &&
			strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(headers[i])) {
			same++
		}
	}
	return same*2 > nonBlank(headers)
}

func nonBlank(cells []string) int {
	n := 0
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

// newTable splits grid at the detected header. raws and pages run parallel
// to grid. When no row matches the schema the first non-blank row is the
// header if requireMatch is false.
func newTable(grid [][]string, raws []string, pages []int, schema *model.Schema, requireMatch bool) *table {
	idx, matches := detectHeader(grid, schema)
	if matches == 0 || (requireMatch && matches < 2) {
		if requireMatch {
			return nil
		}
		idx = firstNonBlank(grid)
		if idx < 0 {
			return nil
		}
	}

	t := &table{headers: trimAll(grid[idx]), headerRow: idx}
	for i := idx + 1; i < len(grid); i++ {
		cells := grid[i]
		if blankRow(cells) || isRepeatedHeader(cells, t.headers) {
			continue
		}
		r := row{cells: cells, line: i + 1, page: 1}
		if i < len(raws) {
			r.raw = raws[i]
		}
		if i < len(pages) {
			r.page = pages[i]
		}
		t.rows = append(t.rows, r)
	}
	return t
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

// samples returns up to n data rows for mapping proposals.
func (t *table) samples(n int) [][]string {
	out := make([][]string, 0, min(n, len(t.rows)))
	for i := 0; i < len(t.rows) && i < n; i++ {
		out = append(out, t.rows[i].cells)
	}
	return out
}

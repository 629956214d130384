package extract

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/model"
)

// textLine is one line of page text with its page number.
type textLine struct {
	page int
	text string
}

// pdfDoc wraps the reader and recovers from the panics the PDF content
// interpreter raises on malformed streams.
type pdfDoc struct {
	r *pdf.Reader
}

func openPDF(data []byte) (doc *pdfDoc, err error) {
	if len(data) == 0 {
		return nil, model.NewParseError(model.FileTypePDF, "empty file", nil)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF")) {
		return nil, model.NewParseError(model.FileTypePDF, "missing %PDF header", nil)
	}
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, model.NewParseError(model.FileTypePDF, "open document", eris.Errorf("pdf: %v", r))
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, model.NewParseError(model.FileTypePDF, "open document", eris.Wrap(err, "pdf: new reader"))
	}
	return &pdfDoc{r: r}, nil
}

func (d *pdfDoc) numPages() int {
	return d.r.NumPage()
}

// textLayerLines returns the plain text of every page split into lines.
func (d *pdfDoc) textLayerLines() []textLine {
	var lines []textLine
	for i := 1; i <= d.numPages(); i++ {
		p := d.r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			zap.L().Debug("extract: pdf text layer failed", zap.Int("page", i), zap.Error(err))
			continue
		}
		for _, l := range strings.Split(text, "\n") {
			if strings.TrimSpace(l) != "" {
				lines = append(lines, textLine{page: i, text: l})
			}
		}
	}
	return lines
}

// glyph is one positioned character.
type glyph struct {
	x, y, w, size float64
	s             string
}

// pageGlyphs returns the positioned characters of a page.
func (d *pdfDoc) pageGlyphs(i int) (gs []glyph, err error) {
	defer func() {
		if r := recover(); r != nil {
			gs, err = nil, eris.Errorf("pdf: page %d content: %v", i, r)
		}
	}()
	p := d.r.Page(i)
	if p.V.IsNull() {
		return nil, nil
	}
	for _, t := range p.Content().Text {
		if t.S == "\n" || t.S == "" {
			continue
		}
		gs = append(gs, glyph{x: t.X, y: t.Y, w: t.W, size: t.FontSize, s: t.S})
	}
	return gs, nil
}

// cellSplit matches the whitespace runs that separate columns in a text
// rendering of a table.
var cellSplit = regexp.MustCompile(`\t+|\s{2,}`)

// splitTextLine splits one line of laid-out text (text layer or pdftotext)
// or a markdown table row (Mistral OCR) into cells.
func splitTextLine(l string) []string {
	t := strings.TrimSpace(l)
	if strings.HasPrefix(t, "|") {
		t = strings.Trim(t, "|")
		parts := strings.Split(t, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return cellSplit.Split(t, -1)
}

// markdownRule matches table separator rows such as |---|:--:|.
var markdownRule = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)

// linesToTable splits text lines into cells and finds the schema header.
func linesToTable(lines []textLine, schema *model.Schema) *table {
	grid := make([][]string, 0, len(lines))
	raws := make([]string, 0, len(lines))
	pages := make([]int, 0, len(lines))
	for _, l := range lines {
		if markdownRule.MatchString(strings.TrimSpace(l.text)) {
			continue
		}
		grid = append(grid, splitTextLine(l.text))
		raws = append(raws, strings.TrimSpace(l.text))
		pages = append(pages, l.page)
	}
	return usable(newTable(grid, raws, pages, schema, true))
}

// usable returns t when it has a header with at least two columns and at
// least one data row.
func usable(t *table) *table {
	if t == nil || len(t.rows) == 0 || nonBlank(t.headers) < 2 {
		return nil
	}
	return t
}

// geoCell is a run of glyphs on one line without a column-sized gap.
type geoCell struct {
	x0, x1 float64
	text   string
}

func (c geoCell) center() float64 { return (c.x0 + c.x1) / 2 }

// geoLine is one baseline of a page.
type geoLine struct {
	page  int
	cells []geoCell
	raw   string
}

// lineTolerance groups glyphs whose baselines differ by less than this.
const lineTolerance = 2.0

// groupLines clusters glyphs into baselines (top to bottom) and each
// baseline into cells (left to right).
func groupLines(page int, gs []glyph) []geoLine {
	if len(gs) == 0 {
		return nil
	}
	sorted := append([]glyph(nil), gs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].y > sorted[j].y })

	var lines []geoLine
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i == len(sorted) || math.Abs(sorted[i].y-sorted[start].y) >= lineTolerance {
			l := geoLine{page: page, cells: groupCells(sorted[start:i])}
			parts := make([]string, len(l.cells))
			for k, c := range l.cells {
				parts[k] = c.text
			}
			l.raw = strings.Join(parts, " ")
			lines = append(lines, l)
			start = i
		}
	}
	return lines
}

// groupCells merges glyphs of one baseline. A gap wider than a space starts
// a new word; a gap wider than columnGap starts a new cell.
func groupCells(gs []glyph) []geoCell {
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].x < gs[j].x })

	var cells []geoCell
	var b strings.Builder
	cur := geoCell{x0: gs[0].x, x1: gs[0].x + gs[0].w}
	b.WriteString(gs[0].s)
	for _, g := range gs[1:] {
		size := g.size
		if size <= 0 {
			size = 10
		}
		gap := g.x - cur.x1
		switch {
		case gap > columnGap(size):
			cur.text = strings.TrimSpace(b.String())
			cells = append(cells, cur)
			b.Reset()
			cur = geoCell{x0: g.x}
		case gap > 0.2*size && !strings.HasSuffix(b.String(), " ") && g.s != " ":
			b.WriteByte(' ')
		}
		b.WriteString(g.s)
		cur.x1 = math.Max(cur.x1, g.x+g.w)
	}
	cur.text = strings.TrimSpace(b.String())
	return append(cells, cur)
}

func columnGap(size float64) float64 {
	return 1.2 * size
}

// geometryTable finds the header line and assigns every later cell to the
// header column whose horizontal extent is nearest.
func geometryTable(lines []geoLine, schema *model.Schema) *table {
	grid := make([][]string, len(lines))
	for i, l := range lines {
		cells := make([]string, len(l.cells))
		for k, c := range l.cells {
			cells[k] = c.text
		}
		grid[i] = cells
	}
	idx, matches := detectHeader(grid, schema)
	if idx < 0 || matches < 2 {
		return nil
	}

	anchors := lines[idx].cells
	t := &table{headers: grid[idx], headerRow: idx}
	for i := idx + 1; i < len(lines); i++ {
		l := lines[i]
		cells := make([]string, len(anchors))
		for _, c := range l.cells {
			col := nearestAnchor(anchors, c)
			if cells[col] != "" {
				cells[col] += " "
			}
			cells[col] += c.text
		}
		if blankRow(cells) || isRepeatedHeader(cells, t.headers) {
			continue
		}
		t.rows = append(t.rows, row{cells: cells, raw: l.raw, page: l.page, line: i + 1})
	}
	return usable(t)
}

func nearestAnchor(anchors []geoCell, c geoCell) int {
	best, bestDist := 0, math.Inf(1)
	for i, a := range anchors {
		var d float64
		switch {
		case c.x1 < a.x0:
			d = a.x0 - c.x1
		case c.x0 > a.x1:
			d = c.x0 - a.x1
		default:
			// Overlapping extents: prefer the closer centre.
			d = -1 / (1 + math.Abs(c.center()-a.center()))
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// pdfTables runs the text-layer strategy and then the geometry strategy,
// returning the first usable table and the name of the method that found
// it. lines is the text-layer rendering for the LLM fallback.
func pdfTables(doc *pdfDoc, schema *model.Schema) (t *table, method string, lines []textLine) {
	lines = doc.textLayerLines()
	if t = linesToTable(lines, schema); t != nil {
		return t, MethodPDFTextLayer, lines
	}

	var geo []geoLine
	for i := 1; i <= doc.numPages(); i++ {
		gs, err := doc.pageGlyphs(i)
		if err != nil {
			zap.L().Debug("extract: pdf geometry failed", zap.Int("page", i), zap.Error(err))
			continue
		}
		geo = append(geo, groupLines(i, gs)...)
	}
	if t = geometryTable(geo, schema); t != nil {
		return t, MethodPDFGeometry, lines
	}
	if len(lines) == 0 {
		for _, l := range geo {
			lines = append(lines, textLine{page: l.page, text: l.raw})
		}
	}
	return nil, "", lines
}

// ocrLines converts OCR page text into lines.
func ocrLines(pages []string) []textLine {
	var lines []textLine
	for i, p := range pages {
		for _, l := range strings.Split(p, "\n") {
			if strings.TrimSpace(l) != "" {
				lines = append(lines, textLine{page: i + 1, text: l})
			}
		}
	}
	return lines
}

// runOCR is the last strategy for image-only scans.
func (e *Extractor) runOCR(ctx context.Context, data []byte) ([]textLine, error) {
	if e.ocr == nil {
		return nil, nil
	}
	pages, err := e.ocr.ExtractPages(ctx, data)
	if err != nil {
		return nil, eris.Wrap(err, "extract: ocr")
	}
	return ocrLines(pages), nil
}

func describeLines(lines []textLine) string {
	pages := map[int]bool{}
	for _, l := range lines {
		pages[l.page] = true
	}
	return fmt.Sprintf("%d lines on %d pages", len(lines), len(pages))
}

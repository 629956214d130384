package extract

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/model"
)

// sheetGrid holds both passes over one worksheet: the formatted values a
// user sees and the raw stored values.
type sheetGrid struct {
	name  string
	index int
	grid  [][]string
	raws  []string
}

// readXLSX opens a workbook and returns every sheet. No row limit is
// applied.
func readXLSX(data []byte) ([]sheetGrid, error) {
	if len(data) == 0 {
		return nil, model.NewParseError(model.FileTypeXLSX, "empty file", nil)
	}
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, model.NewParseError(model.FileTypeXLSX, "open workbook", eris.Wrap(err, "xlsx: open file"))
	}

	sheets := make([]sheetGrid, 0, len(f.Sheets))
	for si, sheet := range f.Sheets {
		sg := sheetGrid{name: sheet.Name, index: si}
		for _, r := range sheet.Rows {
			formatted, raw := rowPasses(r)
			sg.grid = append(sg.grid, formatted)
			sg.raws = append(sg.raws, strings.Join(raw, "\t"))
		}
		sheets = append(sheets, sg)
	}
	return sheets, nil
}

func rowPasses(r *xlsx.Row) (formatted, raw []string) {
	if r == nil {
		return nil, nil
	}
	formatted = make([]string, len(r.Cells))
	raw = make([]string, len(r.Cells))
	for j, cell := range r.Cells {
		if cell == nil {
			continue
		}
		raw[j] = cell.Value
		v, err := cell.FormattedValue()
		if err != nil {
			zap.L().Debug("extract: xlsx format fallback", zap.Int("col", j), zap.Error(err))
			v = cell.Value
		}
		formatted[j] = v
	}
	return formatted, raw
}

// bestSheet picks the sheet whose header best matches schema, preferring
// earlier sheets on ties.
func bestSheet(sheets []sheetGrid, schema *model.Schema) (sheetGrid, bool) {
	bestIdx, bestMatches := -1, 0
	for i, s := range sheets {
		if _, m := detectHeader(s.grid, schema); m > bestMatches {
			bestIdx, bestMatches = i, m
		}
	}
	if bestIdx >= 0 {
		return sheets[bestIdx], true
	}
	for _, s := range sheets {
		if firstNonBlank(s.grid) >= 0 {
			return s, true
		}
	}
	return sheetGrid{}, false
}

package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landscaper/internal/model"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readCSV parses every record of a delimited file. The structured pass is
// encoding/csv; the raw pass is the exact byte range each record occupied,
// taken from the reader's input offsets.
func readCSV(data []byte) (grid [][]string, raws []string, err error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, model.NewParseError(model.FileTypeCSV, "empty file", nil)
	}
	if !looksLikeText(data) {
		return nil, nil, model.NewParseError(model.FileTypeCSV, "file is not text", nil)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.LazyQuotes = true

	var start int64
	for {
		record, rerr := reader.Read()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return nil, nil, model.NewParseError(model.FileTypeCSV, "read row", eris.Wrap(rerr, "csv: read row"))
		}
		end := reader.InputOffset()
		grid = append(grid, record)
		raws = append(raws, strings.TrimRight(string(data[start:end]), "\r\n"))
		start = end
	}
	return grid, raws, nil
}

// sniffDelimiter picks the candidate that splits the first lines most
// consistently.
func sniffDelimiter(data []byte) rune {
	lines := strings.SplitN(string(data), "\n", 11)
	if len(lines) > 10 {
		lines = lines[:10]
	}
	best, bestScore := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		score := 0
		for _, l := range lines {
			if n := strings.Count(l, string(d)); n > 0 {
				score += n
			}
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

// looksLikeText rejects binary payloads mislabelled as CSV.
func looksLikeText(data []byte) bool {
	sample := data[:min(len(data), 4096)]
	return bytes.IndexByte(sample, 0) < 0
}

// Package extract converts uploaded documents into ExtractedRecords with
// per-field confidence and validation warnings.
//
// Spreadsheets are read in full. PDFs go through the text layer first, then
// glyph geometry, then OCR, and finally chunked LLM extraction when a model
// is configured. Every confidence above zero is backed by text read from the
// source; blank, unparseable and unmapped cells report confidence 0 and a
// nil value.
package extract

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/mapping"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/ocr"
)

// Method names recorded in Metadata.MethodUsed.
const (
	MethodCSV          = "csv"
	MethodXLSX         = "xlsx"
	MethodPDFTextLayer = "pdf_text_layer"
	MethodPDFGeometry  = "pdf_geometry"
	MethodOCR          = "ocr"
	MethodLLM          = "llm_chunked"
	MethodNone         = "none"
)

// Input is one extraction request.
type Input struct {
	DocumentID string
	JobID      string
	Filename   string
	FileType   model.FileType
	Data       []byte
	Schema     *model.Schema
	// Mappings are the confirmed header mappings. When empty the extractor
	// proposes its own and keeps HIGH and MEDIUM tiers.
	Mappings []model.FieldMapping
	// Progress receives values in [0,1].
	Progress func(float64)
	// Checkpoint returns non-nil once the caller wants the extraction to
	// stop. It is consulted between parse steps and between LLM chunks, so
	// a call in flight always completes. Cancelling ctx aborts at once.
	Checkpoint func() error
}

func (in Input) stopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if in.Checkpoint != nil {
		return in.Checkpoint()
	}
	return nil
}

// Metadata describes how a result was produced.
type Metadata struct {
	MethodUsed  string   `json:"method_used"`
	RecordCount int      `json:"record_count"`
	Headers     []string `json:"headers,omitempty"`
	HeaderRow   int      `json:"header_row"`
	Attempts    []string `json:"attempts"`
	ModelCalls  int      `json:"model_calls"`
}

// Result is the output of Extract.
type Result struct {
	Records  []model.ExtractedRecord   `json:"records"`
	Warnings []model.ValidationWarning `json:"warnings"`
	Metadata Metadata                  `json:"metadata"`
}

// Preview is the header row and leading data rows of a document, used to
// propose mappings before extraction.
type Preview struct {
	Headers   []string   `json:"headers"`
	Samples   [][]string `json:"samples"`
	RowCount  int        `json:"row_count"`
	HeaderRow int        `json:"header_row"`
	Method    string     `json:"method"`
}

// Extractor routes documents to a parse strategy.
type Extractor struct {
	ocr   ocr.Extractor
	llm   *LLMExtractor
	rules map[model.DocType][]Rule
	now   func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOCR enables the OCR fallback for image-only PDFs.
func WithOCR(o ocr.Extractor) Option {
	return func(e *Extractor) { e.ocr = o }
}

// WithLLM enables chunked LLM extraction for PDFs without a usable table.
func WithLLM(l *LLMExtractor) Option {
	return func(e *Extractor) { e.llm = l }
}

// WithRules replaces the validation rules.
func WithRules(r map[model.DocType][]Rule) Option {
	return func(e *Extractor) { e.rules = r }
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{rules: DefaultRules, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(e)
	}
	return e
}

// located is the outcome of the parse strategies.
type located struct {
	table    *table
	method   string
	lines    []textLine
	attempts []string
}

func (e *Extractor) locate(ctx context.Context, in Input) (*located, error) {
	ft := in.FileType
	if ft == "" {
		ft = model.FileTypeFromName(in.Filename)
	}
	loc := &located{}
	switch ft {
	case model.FileTypeCSV:
		grid, raws, err := readCSV(in.Data)
		if err != nil {
			return nil, err
		}
		loc.attempts = append(loc.attempts, MethodCSV)
		loc.table, loc.method = newTable(grid, raws, nil, in.Schema, false), MethodCSV

	case model.FileTypeXLSX:
		sheets, err := readXLSX(in.Data)
		if err != nil {
			return nil, err
		}
		loc.attempts = append(loc.attempts, MethodXLSX)
		if sg, ok := bestSheet(sheets, in.Schema); ok {
			pages := make([]int, len(sg.grid))
			for i := range pages {
				pages[i] = sg.index + 1
			}
			loc.table, loc.method = newTable(sg.grid, sg.raws, pages, in.Schema, false), MethodXLSX
		}

	case model.FileTypePDF:
		doc, err := openPDF(in.Data)
		if err != nil {
			return nil, err
		}
		loc.attempts = append(loc.attempts, MethodPDFTextLayer, MethodPDFGeometry)
		loc.table, loc.method, loc.lines = pdfTables(doc, in.Schema)
		if loc.table == nil && e.ocr != nil {
			if err := in.stopped(ctx); err != nil {
				return nil, err
			}
			loc.attempts = append(loc.attempts, MethodOCR)
			ol, err := e.runOCR(ctx, in.Data)
			if err != nil {
				zap.L().Warn("extract: ocr fallback failed", zap.String("document_id", in.DocumentID), zap.Error(err))
			}
			if t := linesToTable(ol, in.Schema); t != nil {
				loc.table, loc.method = t, MethodOCR
			}
			if len(ol) > 0 {
				loc.lines = ol
			}
		}

	default:
		return nil, model.NewParseError(ft, "unsupported file type for "+in.Filename, nil)
	}
	return loc, nil
}

// Extract converts one document. Parse failures return *model.ParseError.
// A document with no recognisable rows succeeds with zero records and one
// top-level warning.
func (e *Extractor) Extract(ctx context.Context, in Input) (*Result, error) {
	if in.Schema == nil {
		return nil, eris.New("extract: schema is required")
	}
	loc, err := e.locate(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := in.stopped(ctx); err != nil {
		return nil, err
	}
	report(in.Progress, 0.2)

	res := &Result{Metadata: Metadata{MethodUsed: MethodNone, HeaderRow: -1, Attempts: loc.attempts}}
	switch {
	case loc.table != nil && len(loc.table.rows) > 0:
		e.fromTable(loc, in, res)
	case e.llm != nil && len(loc.lines) > 0:
		res.Metadata.Attempts = append(res.Metadata.Attempts, MethodLLM)
		zap.L().Info("extract: llm fallback",
			zap.String("document_id", in.DocumentID),
			zap.String("text", describeLines(loc.lines)),
		)
		recs, err := e.llm.Extract(ctx, in.Schema, loc.lines, func(done, total int) {
			report(in.Progress, 0.2+0.7*float64(done)/float64(total))
		}, in.Checkpoint)
		if err != nil {
			return nil, err
		}
		res.Metadata.ModelCalls = e.llm.Chunks(len(loc.lines))
		for i := range recs {
			recs[i].DocumentID = in.DocumentID
			recs[i].JobID = in.JobID
		}
		res.Records = recs
		res.Metadata.MethodUsed = MethodLLM
	}

	if len(res.Records) == 0 {
		res.Warnings = append(res.Warnings, topWarning(model.SeverityWarning,
			"no data rows recognised after trying "+joinAttempts(res.Metadata.Attempts)))
	} else {
		res.Warnings = append(res.Warnings, Validate(in.Schema, e.rules[in.Schema.DocType], res.Records)...)
	}
	if res.Records == nil {
		res.Records = []model.ExtractedRecord{}
	}
	res.Metadata.RecordCount = len(res.Records)
	report(in.Progress, 1)

	zap.L().Info("extract: done",
		zap.String("document_id", in.DocumentID),
		zap.String("method", res.Metadata.MethodUsed),
		zap.Int("records", res.Metadata.RecordCount),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

func (e *Extractor) fromTable(loc *located, in Input, res *Result) {
	t := loc.table
	maps := in.Mappings
	if len(maps) == 0 {
		prop := mapping.Propose(in.Schema, t.headers, t.samples(mapping.DefaultOptions().MaxSamples*2), mapping.DefaultOptions())
		for _, m := range prop.Mappings {
			if m.Tier == model.TierHigh || m.Tier == model.TierMedium {
				maps = append(maps, m)
			}
		}
	}
	cols, warns := bindColumns(t.headers, in.Schema, maps)
	recs, rowWarns := buildRecords(t, in.Schema, cols, in, e.now())

	res.Records = recs
	res.Warnings = append(append(res.Warnings, warns...), rowWarns...)
	res.Metadata.MethodUsed = loc.method
	res.Metadata.Headers = t.headers
	res.Metadata.HeaderRow = t.headerRow
}

// Preview returns the detected header and up to n sample rows.
func (e *Extractor) Preview(ctx context.Context, in Input, n int) (*Preview, error) {
	if in.Schema == nil {
		return nil, eris.New("extract: schema is required")
	}
	loc, err := e.locate(ctx, in)
	if err != nil {
		return nil, err
	}
	p := &Preview{HeaderRow: -1, Method: MethodNone, Headers: []string{}, Samples: [][]string{}}
	if loc.table != nil {
		p.Headers = loc.table.headers
		p.Samples = loc.table.samples(n)
		p.RowCount = len(loc.table.rows)
		p.HeaderRow = loc.table.headerRow
		p.Method = loc.method
	}
	return p, nil
}

func report(fn func(float64), v float64) {
	if fn != nil {
		fn(v)
	}
}

func joinAttempts(a []string) string {
	if len(a) == 0 {
		return "no strategy"
	}
	return strings.Join(a, ", ")
}

package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/landscaper/internal/config"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/pkg/anthropic"
)

// offChunkFactor damps values whose quote sits in the chunk but not on the
// row the model attributed it to.
const offChunkFactor = 0.7

// LLMExtractor reads records out of unstructured text lines in chunks.
type LLMExtractor struct {
	client      anthropic.Client
	chunkSize   int
	overlap     int
	concurrency int
	limiter     *rate.Limiter
	maxTokens   int64
}

// NewLLMExtractor builds an extractor from the extract config. client is
// normally an *llm.Caller so provider retries happen below this layer.
func NewLLMExtractor(client anthropic.Client, cfg config.ExtractConfig, maxTokens int64) *LLMExtractor {
	rps := cfg.LLMRPS
	if rps <= 0 {
		rps = 2
	}
	conc := cfg.LLMConcurrency
	if conc <= 0 {
		conc = 1
	}
	return &LLMExtractor{
		client:      client,
		chunkSize:   cfg.ChunkSize,
		overlap:     cfg.ChunkOverlap,
		concurrency: conc,
		limiter:     rate.NewLimiter(rate.Limit(rps), conc),
		maxTokens:   maxTokens,
	}
}

type llmResponse struct {
	Records []llmRecord `json:"records"`
}

type llmRecord struct {
	Row    int                 `json:"row"`
	Fields map[string]llmValue `json:"fields"`
}

type llmValue struct {
	Value       any     `json:"value"`
	SourceQuote string  `json:"source_quote"`
	Confidence  float64 `json:"confidence"`
}

// Chunks returns the number of model calls Extract makes for n lines.
func (x *LLMExtractor) Chunks(n int) int {
	return len(SplitChunks(n, x.chunkSize, x.overlap))
}

// Extract splits lines into overlapping chunks, extracts each chunk
// concurrently and merges the results in line order. Record RowIndex is
// renumbered from 0 after merging.
//
// checkpoint, when set, is polled before each chunk starts. Once it returns
// an error no further chunks start, chunks already in flight finish, and
// Extract returns that error.
func (x *LLMExtractor) Extract(ctx context.Context, schema *model.Schema, lines []textLine, progress func(done, total int), checkpoint func() error) ([]model.ExtractedRecord, error) {
	spans := SplitChunks(len(lines), x.chunkSize, x.overlap)
	results := make([][]model.ExtractedRecord, len(spans))
	var done atomic.Int32
	stop := func() error {
		if checkpoint == nil {
			return nil
		}
		return checkpoint()
	}

	// A checkpoint stop is not returned through the group: that would
	// cancel gctx and abort sibling chunks mid-call.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for i, sp := range spans {
		g.Go(func() error {
			if stop() != nil {
				return nil
			}
			if err := x.limiter.Wait(gctx); err != nil {
				return eris.Wrap(err, "extract: rate limit wait")
			}
			recs, err := x.extractChunk(gctx, schema, lines, sp)
			if err != nil {
				return eris.Wrapf(err, "extract: chunk %d (rows %d-%d)", i, sp.Start, sp.End-1)
			}
			results[i] = recs
			n := int(done.Add(1))
			zap.L().Debug("extract: chunk done",
				zap.Int("chunk", i),
				zap.Int("records", len(recs)),
				zap.Int("done", n),
				zap.Int("total", len(spans)),
			)
			if progress != nil {
				progress(n, len(spans))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := stop(); err != nil {
		return nil, err
	}

	merged := MergeChunks(results, schema.IdentityKey)
	for i := range merged {
		merged[i].RowIndex = i
	}
	return merged, nil
}

func (x *LLMExtractor) extractChunk(ctx context.Context, schema *model.Schema, lines []textLine, sp Span) ([]model.ExtractedRecord, error) {
	var rows strings.Builder
	for i := sp.Start; i < sp.End; i++ {
		fmt.Fprintf(&rows, "[%d] %s\n", i, strings.TrimSpace(lines[i].text))
	}

	resp, err := x.client.CreateMessage(ctx, anthropic.MessageRequest{
		MaxTokens: x.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt(schema)),
		Messages: []anthropic.Message{
			{Role: "user", Content: "Rows:\n" + rows.String()},
		},
	})
	if err != nil {
		return nil, err
	}
	if resp.StopReason == anthropic.StopMaxTokens {
		zap.L().Warn("extract: llm response truncated at max_tokens",
			zap.Int("start", sp.Start), zap.Int("end", sp.End))
	}

	parsed, err := parseLLMResponse(resp.Text())
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]model.ExtractedRecord, 0, len(parsed.Records))
	for _, lr := range parsed.Records {
		if lr.Row < sp.Start || lr.Row >= sp.End {
			// A row outside the chunk cannot be checked against its text.
			continue
		}
		rec := model.ExtractedRecord{
			ID:        uuid.NewString(),
			DocType:   schema.DocType,
			RowIndex:  lr.Row,
			Fields:    make(map[string]model.FieldValue, len(schema.Fields)),
			CreatedAt: now,
		}
		found := 0
		for _, f := range schema.Fields {
			fv := guardValue(f, lr.Fields[f.Name], lines, sp, lr.Row)
			if fv.Found() {
				found++
			}
			rec.Fields[f.Name] = fv
		}
		if found > 0 {
			out = append(out, rec)
		}
	}
	return out, nil
}

func systemPrompt(schema *model.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You extract %s records from document text. ", strings.ReplaceAll(string(schema.DocType), "_", " "))
	b.WriteString("Each input line starts with its row number in brackets. ")
	b.WriteString(`Return only JSON of the form {"records":[{"row":<row number>,"fields":{"<field>":{"value":<value or null>,"source_quote":"<text copied exactly from that row>","confidence":<0..1>}}}]}. `)
	b.WriteString("Emit one record per data row and skip titles, headers and totals. ")
	b.WriteString("If a field is not on the row set value to null and confidence to 0. Never infer, compute or guess a value.\n\nFields:\n")
	for _, f := range schema.Fields {
		fmt.Fprintf(&b, "- %s (%s)", f.Name, f.Type)
		if f.Label != "" {
			fmt.Fprintf(&b, ": %s", f.Label)
		}
		if len(f.Synonyms) > 0 {
			fmt.Fprintf(&b, "; also labelled %s", strings.Join(f.Synonyms, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// parseLLMResponse tolerates code fences and prose around the JSON object.
func parseLLMResponse(text string) (*llmResponse, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("extract: llm response contains no JSON object")
	}
	var out llmResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, eris.Wrap(err, "extract: decode llm response")
	}
	return &out, nil
}

// guardValue keeps a model value only when its quote is present in the
// source text and the value itself is readable from that quote.
func guardValue(f model.CanonicalField, lv llmValue, lines []textLine, sp Span, row int) model.FieldValue {
	if lv.Value == nil {
		return model.NotFound()
	}
	quote := strings.TrimSpace(lv.SourceQuote)
	if quote == "" {
		return model.NotFound()
	}

	var s string
	switch v := lv.Value.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return model.NotFound()
	}
	v, ok := ParseValue(s, f.Type)
	if !ok || !quoteSupports(quote, s, v, f.Type) {
		return model.NotFound()
	}

	rowText := lines[row].text
	factor := 1.0
	if !strings.Contains(squash(rowText), squash(quote)) {
		var chunk strings.Builder
		for i := sp.Start; i < sp.End; i++ {
			chunk.WriteString(lines[i].text)
			chunk.WriteByte('\n')
		}
		if !strings.Contains(squash(chunk.String()), squash(quote)) {
			return model.NotFound()
		}
		factor = offChunkFactor
	}

	conf := agreement(strings.TrimSpace(s), v, rowText, f.Type)
	if lv.Confidence > 0 {
		conf = (conf + clamp(lv.Confidence)) / 2
	}
	return model.FieldValue{
		Value:       v,
		Confidence:  round2(clamp(conf * factor)),
		SourcePage:  lines[row].page,
		SourceQuote: quote,
	}
}

// quoteSupports reports whether the parsed value can be read off the quote.
func quoteSupports(quote, s string, v any, ft model.FieldType) bool {
	if strings.Contains(squash(quote), squash(s)) {
		return true
	}
	switch {
	case ft.IsNumeric():
		f, _ := v.(float64)
		return rawHasNumber(quote, f)
	case ft == model.FieldDate:
		d, ok := ParseDate(s)
		return ok && rawHasDate(quote, d.Format("2006-01-02"), excelSerial(d))
	}
	return false
}

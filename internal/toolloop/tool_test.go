package toolloop

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landscaper/pkg/anthropic"
)

func noop(context.Context, json.RawMessage) (string, error) { return "", nil }

func names(tools []Tool) []string {
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name
	}
	return out
}

func TestRegistry_Register(t *testing.T) {
	r, err := NewRegistry(Tool{Name: "a", Handler: noop})
	require.NoError(t, err)
	assert.Error(t, r.Register(Tool{Name: "a", Handler: noop}))
	assert.Error(t, r.Register(Tool{Name: "b"}))
	assert.Equal(t, 1, r.Len())

	_, ok := r.Get("a")
	assert.True(t, ok)
	_, ok = r.Get("zzz")
	assert.False(t, ok)
}

func TestRegistry_Select(t *testing.T) {
	r, err := NewRegistry(
		Tool{Name: "preview", Always: true, Handler: noop},
		Tool{Name: "records", Keywords: []string{"record", "row"}, Handler: noop},
		Tool{Name: "recategorize", Keywords: []string{"category", "line item", "row"}, Handler: noop},
		Tool{Name: "mapping", Keywords: []string{"map"}, Handler: noop},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"preview", "recategorize", "records"},
		names(r.Select("move this line item row to another category", 0)))
	assert.Equal(t, []string{"preview", "records", "recategorize"},
		names(r.Select("show the ROW for unit 4", 0)), "ties keep registration order")
	assert.Equal(t, []string{"preview"}, names(r.Select("hello", 0)))
	assert.Equal(t, []string{"preview", "records"}, names(r.Select("Map the rows", 2)))
}

func TestTool_Definition(t *testing.T) {
	def := Tool{Name: "x", Description: "does x", Required: []string{"id"}, Handler: noop}.Definition()
	assert.Equal(t, "x", def.Name)
	assert.NotNil(t, def.Properties)
	assert.Equal(t, []string{"id"}, def.Required)
}

func TestTruncate(t *testing.T) {
	s, cut := Truncate("short", 100)
	assert.False(t, cut)
	assert.Equal(t, "short", s)

	s, cut = Truncate("anything", 0)
	assert.False(t, cut)
	assert.Equal(t, "anything", s)

	long := strings.Repeat("é", 500) + strings.Repeat("z", 500)
	s, cut = Truncate(long, 200)
	assert.True(t, cut)
	assert.LessOrEqual(t, utf8.RuneCountInString(s), 200)
	assert.True(t, utf8.ValidString(s))
	assert.True(t, strings.HasPrefix(s, "éé"))
	assert.True(t, strings.HasSuffix(s, "zz"))
	assert.Contains(t, s, "characters omitted")

	s, cut = Truncate(strings.Repeat("a", 50), 10)
	assert.True(t, cut)
	assert.Equal(t, 10, utf8.RuneCountInString(s))
}

func TestCompactHistory(t *testing.T) {
	msgs := []anthropic.Message{
		{Role: "user", Content: "map this rent roll"},
		{Role: "assistant", Blocks: []anthropic.ContentBlock{
			anthropic.TextBlock("Looking."),
			{Type: anthropic.BlockToolUse, ID: "t1", Name: "get_document_preview"},
		}},
		{Role: "user", Blocks: []anthropic.ContentBlock{anthropic.ToolResultBlock("t1", "Unit|Rent", false)}},
		{Role: "assistant", Content: "Unit is unit_number."},
		{Role: "user", Content: "ok confirm"},
		{Role: "assistant", Content: "Queued."},
	}

	kept, summary := compactHistory(msgs, 4, "")
	require.Len(t, kept, 2, "cut moves past the orphaned tool_result")
	assert.Equal(t, "ok confirm", kept[0].Content)
	assert.Contains(t, summary, "- user: map this rent roll")
	assert.Contains(t, summary, "[called get_document_preview]")
	assert.Contains(t, summary, "- assistant: Unit is unit_number.")

	kept, summary = compactHistory(msgs, 10, "prior")
	assert.Len(t, kept, 6)
	assert.Equal(t, "prior", summary)
}

func TestCompactHistory_NoPlainUserTurn(t *testing.T) {
	msgs := []anthropic.Message{
		{Role: "user", Content: "start"},
		{Role: "assistant", Blocks: []anthropic.ContentBlock{{Type: anthropic.BlockToolUse, ID: "a", Name: "x"}}},
		{Role: "user", Blocks: []anthropic.ContentBlock{anthropic.ToolResultBlock("a", "r", false)}},
	}
	kept, summary := compactHistory(msgs, 2, "")
	require.Len(t, kept, 1)
	assert.Contains(t, summary, "start")
}

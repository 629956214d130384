package toolloop

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/landscaper/pkg/anthropic"
)

// Truncate bounds s to max runes by keeping a head and a tail slice and
// eliding the middle. The head keeps identifying information and the tail
// keeps totals, which tool payloads usually end with. It reports whether s
// was shortened.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	marker := fmt.Sprintf("\n…[%d characters omitted]…\n", len(runes))
	keep := max - utf8.RuneCountInString(marker)
	if keep < 2 {
		return string(runes[:max]), true
	}
	head := keep * 2 / 3
	tail := keep - head
	omitted := len(runes) - head - tail
	marker = fmt.Sprintf("\n…[%d characters omitted]…\n", omitted)
	return string(runes[:head]) + marker + string(runes[len(runes)-tail:]), true
}

// compactHistory keeps at most max trailing messages. The cut moves forward
// until the kept history starts with a plain user turn so that no
// tool_result loses its tool_use. Dropped turns are folded into summary.
func compactHistory(msgs []anthropic.Message, max int, summary string) ([]anthropic.Message, string) {
	if max <= 0 || len(msgs) <= max {
		return msgs, summary
	}
	cut := len(msgs) - max
	for cut < len(msgs) && !plainUserTurn(msgs[cut]) {
		cut++
	}
	if cut == len(msgs) {
		return msgs[len(msgs)-1:], summary + digest(msgs[:len(msgs)-1])
	}
	return msgs[cut:], summary + digest(msgs[:cut])
}

func plainUserTurn(m anthropic.Message) bool {
	if m.Role != "user" {
		return false
	}
	for _, b := range m.Blocks {
		if b.Type == anthropic.BlockToolResult {
			return false
		}
	}
	return true
}

// digest renders turns as one short line each.
func digest(msgs []anthropic.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		text := m.Content
		var tools []string
		for _, blk := range m.Blocks {
			switch blk.Type {
			case anthropic.BlockText:
				text += blk.Text
			case anthropic.BlockToolUse:
				tools = append(tools, blk.Name)
			}
		}
		if text == "" && len(tools) == 0 {
			continue
		}
		line, _ := Truncate(strings.Join(strings.Fields(text), " "), 200)
		if len(tools) > 0 {
			line = strings.TrimSpace(line + " [called " + strings.Join(tools, ", ") + "]")
		}
		fmt.Fprintf(&b, "- %s: %s\n", m.Role, line)
	}
	return b.String()
}

package retrieval

import (
	"strings"
)

// SourcePrefix starts the identifier line of every formatted block.
const SourcePrefix = "Source: "

// Format renders one block per group: an identifier line holding exactly the
// document id, then the merged text. Blocks are separated by a blank line.
// Text lines that would read as identifier lines are indented by one space so
// ParseSources recovers the block structure exactly.
func Format(groups []DocumentGroup) string {
	blocks := make([]string, 0, len(groups))
	for _, g := range groups {
		var sb strings.Builder
		sb.WriteString(SourcePrefix)
		sb.WriteString(g.DocumentID)
		if g.MergedText != "" {
			sb.WriteString("\n")
			sb.WriteString(escapeSourceLines(g.MergedText))
		}
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n\n")
}

// ParseSources returns the document ids of formatted blocks in order.
func ParseSources(formatted string) []string {
	var ids []string
	for _, line := range strings.Split(formatted, "\n") {
		if id, ok := strings.CutPrefix(line, SourcePrefix); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func escapeSourceLines(text string) string {
	if !strings.Contains(text, SourcePrefix) {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, SourcePrefix) {
			lines[i] = " " + line
		}
	}
	return strings.Join(lines, "\n")
}

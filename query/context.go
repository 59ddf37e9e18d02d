package query

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/vectorstore"
)

// SnippetLength is the number of runes of a passage kept on a SourceDocument.
const SnippetLength = 200

const passageSeparator = "\n\n---\n\n"

// assembled is the context built from search matches.
type assembled struct {
	text      string
	sources   []core.SourceDocument
	truncated bool
	chars     int
}

// assembleContext concatenates match texts in descending score order until
// budget runes are used. The passage that would overflow the budget is cut
// to fit and ends the context. Separators and source labels do not count
// against the budget.
func assembleContext(matches []vectorstore.Match, budget int) assembled {
	var out assembled
	var b strings.Builder
	used := 0
	for _, m := range matches {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		remaining := budget - used
		if remaining <= 0 {
			break
		}
		n := utf8.RuneCountInString(text)
		if n > remaining {
			text = truncateRunes(text, remaining)
			n = remaining
			out.truncated = true
		}

		if b.Len() > 0 {
			b.WriteString(passageSeparator)
		}
		b.WriteString(sourceLabel(m))
		b.WriteString("\n")
		b.WriteString(text)
		used += n

		out.sources = append(out.sources, core.SourceDocument{
			DocumentID:     m.DocumentID,
			DocumentName:   m.DocumentName,
			RelevanceScore: m.Score,
			ContentSnippet: truncateRunes(text, SnippetLength),
			Page:           m.Page,
		})
		if out.truncated {
			break
		}
	}
	out.text = b.String()
	out.chars = used
	return out
}

func sourceLabel(m vectorstore.Match) string {
	if m.Page > 0 {
		return fmt.Sprintf("[%s, page %d]", m.DocumentName, m.Page)
	}
	return fmt.Sprintf("[%s]", m.DocumentName)
}

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

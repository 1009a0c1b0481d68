package retrieval

import (
	"fmt"
	"strings"
)

// maxSnippetRunes truncates long passages before prompt injection so a
// single oversized document cannot dominate the context window.
const maxSnippetRunes = 1000

// FormatContext renders ranked passages as the context block injected ahead
// of the agent prompt, most relevant first. Empty input yields an empty
// string so callers can skip injection entirely.
func FormatContext(passages []Passage) string {
	if len(passages) == 0 {
		return ""
	}

	var lines []string
	for i, p := range passages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		if runes := []rune(text); len(runes) > maxSnippetRunes {
			text = string(runes[:maxSnippetRunes]) + "..."
		}
		lines = append(lines, fmt.Sprintf("[%d] %s", i+1, text))
	}
	if len(lines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Context from your knowledge base (most relevant first):\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nUse this context when answering. If irrelevant, ignore it.")
	return b.String()
}

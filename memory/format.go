package memory

import (
	"fmt"
	"strings"
)

// FormatContext provides context for formatting one memory.
type FormatContext struct {
	Query     string // Current query being answered
	MaxLength int    // Max characters for this memory's output
}

// Format renders the memory for prompt injection.
func (m *Memory) Format(ctx FormatContext) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s", strings.ToUpper(m.Priority.String()), truncate(m.Content, ctx.MaxLength/2)))

	// Source message, when the summary differs from it
	if m.Context != "" && m.Context != m.Content {
		parts = append(parts, fmt.Sprintf("  Said: %q", truncate(m.Context, ctx.MaxLength/4)))
	}

	if topics := m.Topics(); len(topics) > 0 {
		parts = append(parts, "  Topics: "+strings.Join(topics, ", "))
	}

	return strings.Join(parts, "\n")
}

// Format renders recalled memories as a prompt block within budget
// characters. It returns "" for no memories.
func Format(recalled []Recalled, query string, budget int) string {
	if len(recalled) == 0 {
		return ""
	}
	if budget <= 0 {
		budget = 2000
	}

	var parts []string
	parts = append(parts, "=== RELEVANT MEMORIES ===\n")

	maxLengthPerMemory := budget / len(recalled)
	if maxLengthPerMemory < 100 {
		maxLengthPerMemory = 100 // Minimum reasonable length
	}

	for i, r := range recalled {
		formatted := r.Memory.Format(FormatContext{
			Query:     query,
			MaxLength: maxLengthPerMemory,
		})
		parts = append(parts, fmt.Sprintf("%d. %s\n", i+1, formatted))
	}

	return strings.Join(parts, "\n")
}

// truncate truncates a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	return string(r[:maxLen-3]) + "..."
}

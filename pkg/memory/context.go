package memory

import (
	"context"
	"fmt"
	"strings"
)

// contextEntries is how many recent entries a context block shows.
const contextEntries = 20

// Context formats the most recent entries visible to owner as a block for
// an LLM system prompt. It returns "" when there is nothing to show.
func (m *Manager) Context(ctx context.Context, owner string) string {
	entries, _ := m.GetAll(ctx, owner)
	if len(entries) == 0 {
		return ""
	}

	shown := entries
	if len(shown) > contextEntries {
		shown = shown[:contextEntries]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## LONG-TERM MEMORY: %s\n", m.cfg.Name)
	if m.cfg.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", m.cfg.Description)
	}
	fmt.Fprintf(&b, "This memory bank contains %d entries. Showing the most recent %d:\n\n", len(entries), len(shown))

	// Oldest first within the window
	for i := len(shown) - 1; i >= 0; i-- {
		e := shown[i]
		fmt.Fprintf(&b, "[%s] %s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Content)
	}
	b.WriteString("\nUse these established facts and preferences naturally in your responses.\n")
	return b.String()
}

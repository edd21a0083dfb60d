package memory

import (
	"fmt"
	"strings"

	"github.com/jordanhubbard/healloop/pkg/models"
)

// DefaultLimit is the number of entries retrieved for a prompt.
const DefaultLimit = 3

// NoHistory is the context text used when no successful repair exists.
const NoHistory = "NO_HISTORY: no successful repairs have been recorded yet."

// Retrieve picks up to n successful entries for sig, most recent first.
// When none match sig it falls back to the most recent successful entries
// of any signature. entries must be in write order.
func Retrieve(entries []*models.MemoryEntry, sig models.ErrorSignature, n int) []*models.MemoryEntry {
	if n <= 0 {
		n = DefaultLimit
	}
	var matching, recent []*models.MemoryEntry
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !e.Succeeded() {
			continue
		}
		if e.Signature == sig && len(matching) < n {
			matching = append(matching, e)
		}
		if len(recent) < n {
			recent = append(recent, e)
		}
	}
	if len(matching) > 0 {
		return matching
	}
	return recent
}

// BuildContext renders retrieved entries for a repair prompt, or NoHistory.
func BuildContext(entries []*models.MemoryEntry) string {
	if len(entries) == 0 {
		return NoHistory
	}
	var sb strings.Builder
	sb.WriteString("Repairs that led to a healthy service in earlier runs (most recent first):\n")
	for _, e := range entries {
		changed := "none"
		if len(e.ChangedFiles) > 0 {
			changed = strings.Join(e.ChangedFiles, ", ")
		}
		fmt.Fprintf(&sb, "- [%s] goal=%q round=%d changed_files=[%s]\n", e.Signature, e.Goal, e.Round, changed)
		if hint := lastLine(e.TestTail, e.BuildTail, e.RuntimeTail); hint != "" {
			fmt.Fprintf(&sb, "  error was: %s\n", hint)
		}
	}
	return sb.String()
}

// lastLine returns the last non-empty line of the first non-empty tail.
func lastLine(tails ...string) string {
	for _, t := range tails {
		lines := strings.Split(strings.TrimSpace(t), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if l := strings.TrimSpace(lines[i]); l != "" {
				if r := []rune(l); len(r) > 200 {
					l = string(r[:200])
				}
				return l
			}
		}
	}
	return ""
}

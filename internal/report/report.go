// Package report persists finished runs as result.json and report.md and
// renders the one-line CLI summary.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jordanhubbard/healloop/pkg/models"
)

const (
	ResultFile = "result.json"
	ReportFile = "report.md"
)

// ErrNotFound is returned by Load when the run has no result.json.
var ErrNotFound = errors.New("run not found")

// Summary is the one-line JSON printed on stdout.
type Summary struct {
	OK             bool     `json:"ok"`
	RunID          string   `json:"run_id"`
	State          string   `json:"state"`
	Rounds         int      `json:"rounds"`
	RequiredRoutes []string `json:"required_routes"`
	RunDir         string   `json:"run_dir"`
	Error          string   `json:"error,omitempty"`
}

// Summarize builds the CLI summary for run.
func Summarize(run *models.Run) Summary {
	return Summary{
		OK:             run.OK,
		RunID:          run.ID,
		State:          string(run.State),
		Rounds:         len(run.Rounds),
		RequiredRoutes: run.RequiredRoutes,
		RunDir:         run.Dir,
		Error:          run.Error,
	}
}

// Line returns the summary as compact JSON without a trailing newline.
func (s Summary) Line() string {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":%q}`, err.Error())
	}
	return string(b)
}

// Writer writes reports into each run's directory.
type Writer struct{}

// Write stores result.json and report.md under run.Dir.
func (Writer) Write(run *models.Run) error {
	if err := os.MkdirAll(run.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", run.Dir, err)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}
	if err := writeFile(filepath.Join(run.Dir, ResultFile), append(data, '\n')); err != nil {
		return err
	}
	return writeFile(filepath.Join(run.Dir, ReportFile), []byte(Markdown(run)))
}

// writeFile replaces path atomically so readers never see a partial report.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return nil
}

// Load reads a run's result.json.
func Load(runsDir, runID string) (*models.Run, error) {
	if runID == "" || runID != filepath.Base(runID) || strings.HasPrefix(runID, ".") {
		return nil, fmt.Errorf("%w: invalid run id %q", ErrNotFound, runID)
	}
	data, err := os.ReadFile(filepath.Join(runsDir, runID, ResultFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	var run models.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse result for %s: %w", runID, err)
	}
	return &run, nil
}

// Markdown renders a human-readable report.
func Markdown(run *models.Run) string {
	var sb strings.Builder
	mark := "✗"
	if run.OK {
		mark = "✓"
	}
	fmt.Fprintf(&sb, "# Run %s\n\n", run.ID)
	fmt.Fprintf(&sb, "%s **%s** after %d of %d round(s)", mark, run.State, len(run.Rounds), run.MaxRounds)
	if run.DryRun {
		sb.WriteString(" (dry run)")
	}
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "- Goal: %s\n", run.Goal)
	fmt.Fprintf(&sb, "- Required routes: %s\n", strings.Join(run.RequiredRoutes, ", "))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(&sb, "- Duration: %s\n", formatDuration(run.FinishedAt.Sub(run.StartedAt)))
	}
	if run.Error != "" {
		fmt.Fprintf(&sb, "- Error: %s\n", run.Error)
	}

	for _, r := range run.Rounds {
		status := "✓ healthy"
		if !r.OK {
			status = "✗ " + string(r.Signature)
			if r.Signature == "" {
				status = "✗ failed"
			}
		}
		fmt.Fprintf(&sb, "\n## Round %d: %s (%s)\n\n", r.Number, status, formatDuration(r.Duration))
		fmt.Fprintf(&sb, "- File set: `%s`\n", r.FileSetHash)
		if r.Port > 0 {
			fmt.Fprintf(&sb, "- Port: %d\n", r.Port)
		}
		if len(r.ChangedSlots) > 0 {
			fmt.Fprintf(&sb, "- Repair changed: %s\n", strings.Join(r.ChangedSlots, ", "))
		}
		writeTail(&sb, "Build", r.BuildTail)
		writeTail(&sb, "Test", r.TestTail)
		writeTail(&sb, "Runtime", r.RuntimeTail)
	}
	return sb.String()
}

func writeTail(sb *strings.Builder, title, tail string) {
	tail = strings.TrimSpace(tail)
	if tail == "" {
		return
	}
	fmt.Fprintf(sb, "\n<details><summary>%s log</summary>\n\n```\n%s\n```\n\n</details>\n", title, tail)
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

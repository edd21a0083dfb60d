package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/healloop/pkg/models"
)

func sampleRun(dir string) *models.Run {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Run{
		ID:             "20260301T120000-abc123",
		Goal:           "service with /health and /users",
		RequiredRoutes: []string{"/health", "/users"},
		MaxRounds:      3,
		State:          models.StateHealthy,
		OK:             true,
		Dir:            dir,
		StartedAt:      start,
		FinishedAt:     start.Add(95 * time.Second),
		Rounds: []models.Round{
			{
				Number:       1,
				FileSetHash:  "aaaaaaaaaaaa",
				Port:         30001,
				Signature:    models.SigMissingDependency,
				TestTail:     "ModuleNotFoundError: No module named 'httpx'",
				ChangedSlots: []string{"requirements.txt"},
				Duration:     40 * time.Second,
			},
			{
				Number:      2,
				FileSetHash: "bbbbbbbbbbbb",
				Port:        30002,
				OK:          true,
				RuntimeTail: "[health] /health:200 /users:200",
				Duration:    50 * time.Second,
			},
		},
	}
}

func TestWriteAndLoad(t *testing.T) {
	runsDir := t.TempDir()
	run := sampleRun(filepath.Join(runsDir, "20260301T120000-abc123"))

	require.NoError(t, Writer{}.Write(run))

	loaded, err := Load(runsDir, run.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(run, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	md, err := os.ReadFile(filepath.Join(run.Dir, ReportFile))
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Run 20260301T120000-abc123")

	_, err = os.Stat(filepath.Join(run.Dir, ResultFile+".tmp"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(t.TempDir(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, id := range []string{"", "../etc", "a/b", ".."} {
		_, err := Load(t.TempDir(), id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleRun("/tmp/x"))

	for _, want := range []string{
		"✓ **HEALTHY** after 2 of 3 round(s)",
		"- Required routes: /health, /users",
		"- Duration: 1m35s",
		"## Round 1: ✗ missing-dependency (40.0s)",
		"- Repair changed: requirements.txt",
		"## Round 2: ✓ healthy (50.0s)",
		"<summary>Test log</summary>",
		"No module named 'httpx'",
	} {
		assert.Contains(t, md, want)
	}
	assert.NotContains(t, md, "Build log", "empty tails are omitted")
}

func TestSummary(t *testing.T) {
	run := sampleRun("/runs/r")
	line := Summarize(run).Line()

	assert.False(t, strings.Contains(line, "\n"))
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &got))
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, "20260301T120000-abc123", got["run_id"])
	assert.Equal(t, float64(2), got["rounds"])
	assert.Equal(t, "/runs/r", got["run_dir"])
	_, hasErr := got["error"]
	assert.False(t, hasErr)
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		250 * time.Millisecond: "250ms",
		1500 * time.Millisecond: "1.5s",
		125 * time.Second:       "2m5s",
	}
	for d, want := range tests {
		assert.Equal(t, want, formatDuration(d))
	}
}

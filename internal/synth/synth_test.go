package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/healloop/pkg/models"
)

type fakeModel struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeModel) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func TestParseFirstJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantOK  bool
		wantApp string
	}{
		{"bare object", `{"app.py": "print(1)"}`, true, "print(1)"},
		{"prose around", "Sure! Here you go:\n```json\n{\"app.py\": \"x\", \"extra\": 1}\n```\nDone.", true, "x"},
		{"braces inside strings", `{"app.py": "d = {\"a\": \"}\"}"}`, true, `d = {"a": "}"}`},
		{"skips non-fileset object first", `{"note": "hi"} then {"app.py": "y"}`, true, "y"},
		{"nested object in prose", `{"meta": {"x": 1}, "app.py": "z"}`, true, "z"},
		{"no json", "I cannot help with that.", false, ""},
		{"unbalanced", `{"app.py": "x"`, false, ""},
		{"empty", "", false, ""},
		{"wrong types", `{"app.py": 5}`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, ok := ParseFirstJSONObject(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantApp, fs.App)
		})
	}
}

func TestFallback_SatisfiesEveryRoute(t *testing.T) {
	goals := []string{
		"service with /health and /users",
		"todo api exposing /todos, /todos/stats, /todos-stats and /version",
		"nothing but liveness",
		`weird "quotes" and """triple""" with /items`,
	}
	for _, goal := range goals {
		routes := routesFor(goal)
		fs := Fallback(goal, routes, 8000)

		require.True(t, fs.Complete(), goal)
		assert.Empty(t, MissingRoutes(fs, routes), goal)
		for _, r := range routes {
			assert.Contains(t, fs.App, `@app.get("`+r+`")`)
			assert.Contains(t, fs.Tests, `client.get("`+r+`")`)
		}
		assert.Equal(t, len(routes), strings.Count(fs.Tests, "def test_"), "one smoke test per route")
		assert.Equal(t, len(routes), strings.Count(fs.App, "\ndef "), "one handler per route")
		assert.Contains(t, fs.Dockerfile, `"--port", "8000"`)
		assert.Contains(t, fs.Requirements, "pytest")
		assert.Contains(t, fs.Requirements, "httpx")
	}
}

// routesFor mirrors the health package's extraction for the handful of goals
// used here without importing it.
func routesFor(goal string) []string {
	routes := []string{"/health"}
	for _, f := range strings.FieldsFunc(goal, func(r rune) bool { return r == ' ' || r == ',' }) {
		if strings.HasPrefix(f, "/") {
			routes = append(routes, f)
		}
	}
	return routes
}

func TestFallback_GoalStaysInComment(t *testing.T) {
	goals := []string{
		`service exposing "/users"`,
		`service exposing "/users" """`,
		"ends in a quote\"",
		`"""`,
		"two\nlines with /items",
		"crlf\r\ndef oops(): pass",
		"lone\rcarriage and nul\x00 and nel\u0085",
		`backslash at the end \`,
	}
	for _, goal := range goals {
		t.Run(goal, func(t *testing.T) {
			routes := []string{"/health", "/users"}
			fs := Fallback(goal, routes, 8000)

			header, _, found := strings.Cut(fs.App, "from fastapi import FastAPI\n")
			require.True(t, found)
			for _, line := range strings.Split(strings.TrimSuffix(header, "\n"), "\n") {
				assert.True(t, strings.HasPrefix(line, "#"), "line %q escapes the comment", line)
			}
			assert.NotContains(t, fs.App, "\r")
			assert.NotContains(t, fs.App, "\x00")
			assert.Equal(t, 1, strings.Count(fs.App, "\nfrom fastapi import FastAPI\n"))
			assert.Empty(t, MissingRoutes(fs, routes))
		})
	}
}

func TestPyComment(t *testing.T) {
	assert.Equal(t, "# Service for: a\n# b\n", pyComment("Service for: a\r\nb"))
	assert.Equal(t, "#\n# x\n", pyComment("\nx"))
	assert.Equal(t, "# tab\tkept\n", pyComment("tab\tkept\x07"))
}

func TestMissingRoutes(t *testing.T) {
	fs := Fallback("g", []string{"/health", "/users"}, 8000)
	assert.Empty(t, MissingRoutes(fs, []string{"/health", "/users"}))
	assert.Equal(t, []string{"/orders"}, MissingRoutes(fs, []string{"/health", "/orders"}))

	untested := fs
	untested.Tests = strings.ReplaceAll(fs.Tests, `client.get("/users")`, `client.get("/health")`)
	assert.Equal(t, []string{"/users"}, MissingRoutes(untested, []string{"/health", "/users"}), "a served route without a test is missing")

	single := fs
	single.App = strings.ReplaceAll(fs.App, `"/users"`, `'/users'`)
	assert.Empty(t, MissingRoutes(single, []string{"/users"}), "single quotes count")
}

func TestFallback_Deterministic(t *testing.T) {
	routes := []string{"/health", "/users"}
	assert.Equal(t, Fallback("g", routes, 8000), Fallback("g", routes, 8000))
}

func TestHandlerNames_Unique(t *testing.T) {
	names := handlerNames([]string{"/a-b", "/a_b", "/a/b", "/"})
	seen := map[string]bool{}
	for _, n := range names {
		assert.False(t, seen[n], "duplicate handler %s", n)
		seen[n] = true
	}
	assert.Equal(t, "route_root", names[3])
}

func TestSynthesize_NoModelUsesFallback(t *testing.T) {
	s := NewSynthesizer(nil, 0)
	fs, src := s.Synthesize(context.Background(), "service with /health and /users", []string{"/health", "/users"})
	assert.Equal(t, SourceFallback, src)
	assert.True(t, fs.Complete())
}

func TestSynthesize_ModelErrorUsesFallback(t *testing.T) {
	s := NewSynthesizer(&fakeModel{err: errors.New("connection refused")}, 8000)
	fs, src := s.Synthesize(context.Background(), "g", []string{"/health"})
	assert.Equal(t, SourceFallback, src)
	assert.Equal(t, Fallback("g", []string{"/health"}, 8000), fs)
}

func TestSynthesize_GarbageReplyUsesFallback(t *testing.T) {
	s := NewSynthesizer(&fakeModel{reply: "no json here"}, 8000)
	_, src := s.Synthesize(context.Background(), "g", []string{"/health"})
	assert.Equal(t, SourceFallback, src)
}

func TestSynthesize_PartialReplyFilledFromTemplate(t *testing.T) {
	model := &fakeModel{reply: `{"app.py": "from fastapi import FastAPI\napp = FastAPI()\n"}`}
	s := NewSynthesizer(model, 8000)
	fs, src := s.Synthesize(context.Background(), "g /users", []string{"/health", "/users"})

	assert.Equal(t, SourceMixed, src)
	assert.True(t, fs.Complete())
	assert.Equal(t, "from fastapi import FastAPI\napp = FastAPI()\n", fs.App)
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "- /users")
}

func TestRepair_OverlaysOnlyReturnedSlots(t *testing.T) {
	base := Fallback("g", []string{"/health"}, 8000)
	model := &fakeModel{reply: "patched:\n{\"requirements.txt\": \"fastapi\\nuvicorn\\nhttpx\\npytest\\nrequests\\n\", \"test_app.py\": \"\"}"}
	r := NewRepairer(model)

	out, err := r.Repair(context.Background(), RepairRequest{Goal: "g", Files: base, Signature: models.SigMissingDependency})
	require.NoError(t, err)
	assert.Equal(t, []models.Slot{models.SlotRequirements}, base.Changed(out))
	assert.Equal(t, base.Tests, out.Tests, "empty slot in reply must not clear the file")
}

func TestRepair_UnparseableReplyKeepsFiles(t *testing.T) {
	base := Fallback("g", []string{"/health"}, 8000)
	r := NewRepairer(&fakeModel{reply: "I think you should add requests."})

	out, err := r.Repair(context.Background(), RepairRequest{Files: base})
	require.NoError(t, err)
	assert.Equal(t, base, out)
}

func TestRepair_ModelErrorIsReturned(t *testing.T) {
	base := Fallback("g", []string{"/health"}, 8000)
	r := NewRepairer(&fakeModel{err: errors.New("503 service unavailable")})

	out, err := r.Repair(context.Background(), RepairRequest{Files: base})
	assert.Error(t, err)
	assert.Equal(t, base, out)

	_, err = NewRepairer(nil).Repair(context.Background(), RepairRequest{Files: base})
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestRepairPrompt_EmbedsEverything(t *testing.T) {
	req := RepairRequest{
		Goal:          "service with /health and /users",
		Files:         Fallback("g", []string{"/health"}, 8000),
		Routes:        []string{"/health", "/users"},
		Signature:     models.SigMissingDependency,
		TestTail:      "ModuleNotFoundError: No module named 'requests'",
		MemoryContext: "- [missing-dependency] round 1 changed: requirements.txt",
	}
	p := RepairPrompt(req)

	for _, want := range []string{
		req.Goal,
		"- /users",
		"missing-dependency",
		"changed: requirements.txt",
		"No module named 'requests'",
		"### app.py",
		"### Dockerfile",
		"### Build log (tail)\n```\n(empty)\n```",
	} {
		assert.Contains(t, p, want)
	}
}

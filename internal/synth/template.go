package synth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/jordanhubbard/healloop/pkg/models"
)

// DefaultServicePort is the port the service listens on inside its container.
const DefaultServicePort = 8000

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Fallback renders a FastAPI project answering 200 on every route, with one
// smoke test per route. routes[0] is treated as the liveness route. The
// output depends only on its arguments.
func Fallback(goal string, routes []string, port int) models.FileSet {
	if port <= 0 {
		port = DefaultServicePort
	}
	if len(routes) == 0 {
		routes = []string{"/health"}
	}
	names := handlerNames(routes)

	var app strings.Builder
	app.WriteString(pyComment("Service for: " + goal))
	app.WriteString("from fastapi import FastAPI\n\napp = FastAPI()\n")
	for i, route := range routes {
		fmt.Fprintf(&app, "\n\n@app.get(%q)\ndef %s():\n", route, names[i])
		if i == 0 {
			app.WriteString("    return {\"status\": \"ok\"}\n")
		} else {
			fmt.Fprintf(&app, "    return {\"route\": %q, \"items\": []}\n", route)
		}
	}

	var tests strings.Builder
	tests.WriteString("from fastapi.testclient import TestClient\n\nfrom app import app\n\nclient = TestClient(app)\n")
	for i, route := range routes {
		fmt.Fprintf(&tests, "\n\ndef test_%s():\n    resp = client.get(%q)\n    assert resp.status_code == 200\n", names[i], route)
	}

	return models.FileSet{
		App:          app.String(),
		Requirements: "fastapi==0.110.0\nuvicorn==0.29.0\nhttpx==0.27.0\npytest==8.1.1\n",
		Tests:        tests.String(),
		Dockerfile: fmt.Sprintf(`FROM python:3.11-slim
WORKDIR /app
COPY requirements.txt .
RUN pip install --no-cache-dir -r requirements.txt
COPY . .
EXPOSE %d
CMD ["uvicorn", "app:app", "--host", "0.0.0.0", "--port", "%d"]
`, port, port),
	}
}

func handlerNames(routes []string) []string {
	used := map[string]bool{}
	names := make([]string, len(routes))
	for i, r := range routes {
		base := strings.Trim(strings.ToLower(nonIdent.ReplaceAllString(r, "_")), "_")
		if base == "" {
			base = "root"
		}
		name := "route_" + base
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("route_%s_%d", base, n)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// pyComment renders s as "# " lines. Control characters other than tab are
// dropped so nothing can escape the comment.
func pyComment(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		line = strings.Map(func(r rune) rune {
			if r != '\t' && (unicode.IsControl(r) || r == '\u2028' || r == '\u2029') {
				return -1
			}
			return r
		}, line)
		b.WriteString(strings.TrimRight("# "+line, " \t"))
		b.WriteByte('\n')
	}
	return b.String()
}

// MissingRoutes lists routes that fs does not visibly serve and test: a
// route counts as covered when its quoted path appears in both app.py and
// test_app.py.
func MissingRoutes(fs models.FileSet, routes []string) []string {
	var missing []string
	for _, r := range routes {
		if !quoted(fs.App, r) || !quoted(fs.Tests, r) {
			missing = append(missing, r)
		}
	}
	return missing
}

func quoted(src, route string) bool {
	return strings.Contains(src, `"`+route+`"`) || strings.Contains(src, `'`+route+`'`)
}

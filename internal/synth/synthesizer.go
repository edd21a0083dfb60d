// Package synth turns goals into FileSets and repairs FileSets from logs,
// using a language model with a deterministic template fallback.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jordanhubbard/healloop/internal/logging"
	"github.com/jordanhubbard/healloop/internal/provider"
	"github.com/jordanhubbard/healloop/pkg/models"
)

// ErrModelUnavailable is returned by Repair when no model is configured.
var ErrModelUnavailable = errors.New("language model unavailable")

const systemPrompt = `You write minimal, runnable Python FastAPI services.
Reply with exactly one JSON object and nothing else. Its keys are exactly
"app.py", "requirements.txt", "test_app.py" and "Dockerfile"; each value is
the full text of that file.`

// Source records where a synthesized FileSet came from.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
	SourceMixed    Source = "model+fallback"
)

// Synthesizer produces the initial FileSet for a goal.
type Synthesizer struct {
	model       provider.Completer
	servicePort int
	logger      *slog.Logger
}

// NewSynthesizer creates a synthesizer. model may be nil, in which case
// every call returns the fallback template.
func NewSynthesizer(model provider.Completer, servicePort int) *Synthesizer {
	if servicePort <= 0 {
		servicePort = DefaultServicePort
	}
	return &Synthesizer{model: model, servicePort: servicePort, logger: logging.New("synth")}
}

// Synthesize always returns a complete FileSet. Model failures and
// unparseable replies fall back to the template; slots the model left
// empty are filled from it.
func (s *Synthesizer) Synthesize(ctx context.Context, goal string, routes []string) (models.FileSet, Source) {
	fallback := Fallback(goal, routes, s.servicePort)
	if s.model == nil {
		return fallback, SourceFallback
	}

	reply, err := s.model.Complete(ctx, systemPrompt, SynthesisPrompt(goal, routes, s.servicePort))
	if err != nil {
		s.logger.Warn("model call failed, using fallback template", "error", err)
		return fallback, SourceFallback
	}
	fs, ok := ParseFirstJSONObject(reply)
	if !ok {
		s.logger.Warn("model reply had no usable JSON object, using fallback template", "reply_chars", len(reply))
		return fallback, SourceFallback
	}
	if fs.Complete() {
		return fs, SourceModel
	}
	var filled []models.Slot
	for _, slot := range models.Slots {
		if fs.Get(slot) == "" {
			fs = fs.With(slot, fallback.Get(slot))
			filled = append(filled, slot)
		}
	}
	s.logger.Info("filled empty slots from template", "slots", models.SlotNames(filled))
	return fs, SourceMixed
}

// SynthesisPrompt is the user prompt for initial synthesis.
func SynthesisPrompt(goal string, routes []string, port int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n\n", goal)
	sb.WriteString("Required routes (every one must answer GET with HTTP 200):\n")
	for _, r := range routes {
		fmt.Fprintf(&sb, "- %s\n", r)
	}
	fmt.Fprintf(&sb, `
Constraints:
- app.py defines a FastAPI instance named "app".
- test_app.py uses fastapi.testclient.TestClient and has one test per required route.
- requirements.txt pins fastapi, uvicorn, httpx and pytest.
- The Dockerfile installs requirements and runs uvicorn app:app on 0.0.0.0 port %d.
- The image must also be able to run "pytest -q" from its working directory.
`, port)
	return sb.String()
}

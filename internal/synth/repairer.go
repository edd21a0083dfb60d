package synth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jordanhubbard/healloop/internal/logging"
	"github.com/jordanhubbard/healloop/internal/provider"
	"github.com/jordanhubbard/healloop/pkg/models"
)

// RepairRequest carries everything the model sees when patching a round.
type RepairRequest struct {
	Goal          string
	Files         models.FileSet
	Routes        []string
	Signature     models.ErrorSignature
	BuildTail     string
	TestTail      string
	RuntimeTail   string
	MemoryContext string
}

// Repairer asks the model for a patched FileSet.
type Repairer struct {
	model  provider.Completer
	logger *slog.Logger
}

func NewRepairer(model provider.Completer) *Repairer {
	return &Repairer{model: model, logger: logging.New("repair")}
}

// Repair overlays every non-empty slot of the model's reply onto
// req.Files. A reply without usable JSON leaves the files unchanged and is
// not an error. A failed model call is returned as an error.
func (r *Repairer) Repair(ctx context.Context, req RepairRequest) (models.FileSet, error) {
	if r.model == nil {
		return req.Files, ErrModelUnavailable
	}
	reply, err := r.model.Complete(ctx, systemPrompt, RepairPrompt(req))
	if err != nil {
		return req.Files, fmt.Errorf("repair synthesis: %w", err)
	}
	patch, ok := ParseFirstJSONObject(reply)
	if !ok {
		r.logger.Warn("repair reply had no usable JSON object, files unchanged", "signature", req.Signature)
		return req.Files, nil
	}
	return req.Files.Overlay(patch), nil
}

// RepairPrompt embeds the goal, routes, signature, memory context, log
// tails and current files.
func RepairPrompt(req RepairRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n\n", req.Goal)
	sb.WriteString("Required routes (each must answer GET with HTTP 200):\n")
	for _, route := range req.Routes {
		fmt.Fprintf(&sb, "- %s\n", route)
	}
	fmt.Fprintf(&sb, "\nThe last round failed with error signature: %s\n\n", req.Signature)

	sb.WriteString("## Past repairs for similar failures\n")
	sb.WriteString(strings.TrimSpace(req.MemoryContext))
	sb.WriteString("\n\n")

	writeBlock(&sb, "Build log (tail)", req.BuildTail)
	writeBlock(&sb, "Test log (tail)", req.TestTail)
	writeBlock(&sb, "Runtime / health log (tail)", req.RuntimeTail)

	sb.WriteString("## Current files\n")
	for _, slot := range models.Slots {
		writeBlock(&sb, string(slot), req.Files.Get(slot))
	}

	sb.WriteString("Fix the failure. Return a JSON object containing only the files you change, " +
		"each with its complete new content. Omitted files are kept as they are.\n")
	return sb.String()
}

func writeBlock(sb *strings.Builder, title, body string) {
	if strings.TrimSpace(body) == "" {
		body = "(empty)"
	}
	fmt.Fprintf(sb, "### %s\n```\n%s\n```\n\n", title, strings.TrimRight(body, "\n"))
}

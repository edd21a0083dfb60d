package healer

import (
	"context"
	"time"

	"github.com/jordanhubbard/healloop/internal/sandbox"
	"github.com/jordanhubbard/healloop/internal/synth"
	"github.com/jordanhubbard/healloop/pkg/models"
)

// Synthesizer produces the first FileSet of a run.
type Synthesizer interface {
	Synthesize(ctx context.Context, goal string, routes []string) (models.FileSet, synth.Source)
}

// Repairer patches a FileSet after a failed round.
type Repairer interface {
	Repair(ctx context.Context, req synth.RepairRequest) (models.FileSet, error)
}

// Sandbox executes one round.
type Sandbox interface {
	Run(ctx context.Context, req sandbox.Request) sandbox.Result
}

// Memory supplies repair context and persists a run's entries.
type Memory interface {
	Context(ctx context.Context, goal string, sig models.ErrorSignature) string
	Flush(ctx context.Context, entries []*models.MemoryEntry) error
}

// Publisher emits run lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event, runID string, payload any) error
}

// Recorder receives run and round measurements.
type Recorder interface {
	ObserveRound(sig models.ErrorSignature, ok bool, d time.Duration)
	ObserveRun(state models.RunState, rounds int, d time.Duration)
	MemoryFlushFailed()
}

// Recorders fans measurements out to every recorder in order.
type Recorders []Recorder

func (rs Recorders) ObserveRound(sig models.ErrorSignature, ok bool, d time.Duration) {
	for _, r := range rs {
		r.ObserveRound(sig, ok, d)
	}
}

func (rs Recorders) ObserveRun(state models.RunState, rounds int, d time.Duration) {
	for _, r := range rs {
		r.ObserveRun(state, rounds, d)
	}
}

func (rs Recorders) MemoryFlushFailed() {
	for _, r := range rs {
		r.MemoryFlushFailed()
	}
}

// Reporter persists a finished run.
type Reporter interface {
	Write(run *models.Run) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, string, any) error { return nil }

type noopRecorder struct{}

func (noopRecorder) ObserveRound(models.ErrorSignature, bool, time.Duration) {}
func (noopRecorder) ObserveRun(models.RunState, int, time.Duration)          {}
func (noopRecorder) MemoryFlushFailed()                                      {}

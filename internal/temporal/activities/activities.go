package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/jordanhubbard/healloop/internal/healer"
	"github.com/jordanhubbard/healloop/internal/report"
	"github.com/jordanhubbard/healloop/pkg/models"
)

// HealRunName is the registered activity name.
const HealRunName = "HealRun"

// HealRunInput is the workflow and activity argument.
type HealRunInput struct {
	Goal      string
	MaxRounds int
	DryRun    bool
	// Timeout is the run's wall-clock cap, used as StartToClose.
	Timeout time.Duration
}

// Runner is satisfied by *healer.Controller.
type Runner interface {
	Run(ctx context.Context, goal string, opts healer.Options) (*models.Run, error)
}

// Activities provides Temporal activities for healloop
type Activities struct {
	runner Runner
}

// NewActivities creates a new activities instance
func NewActivities(runner Runner) *Activities {
	return &Activities{runner: runner}
}

// HealRun executes one run of the round controller. The workflow id is the
// run id so results can be found on disk by either. An exhausted run is a
// successful activity; only invalid input fails it.
func (a *Activities) HealRun(ctx context.Context, input HealRunInput) (report.Summary, error) {
	runID := activity.GetInfo(ctx).WorkflowExecution.ID
	activity.GetLogger(ctx).Info("heal run started", "goal", input.Goal, "run_id", runID)
	return a.run(ctx, input, runID)
}

func (a *Activities) run(ctx context.Context, input HealRunInput, runID string) (report.Summary, error) {
	if a.runner == nil {
		return report.Summary{}, errors.New("no runner configured")
	}
	run, err := a.runner.Run(ctx, input.Goal, healer.Options{
		MaxRounds: input.MaxRounds,
		DryRun:    input.DryRun,
		RunID:     runID,
	})
	if err != nil {
		return report.Summary{}, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidInput", err)
	}
	return report.Summarize(run), nil
}

package workflows

import (
	"errors"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/jordanhubbard/healloop/internal/report"
	"github.com/jordanhubbard/healloop/internal/temporal/activities"
)

// DefaultRunTimeout applies when the input carries no timeout.
const DefaultRunTimeout = time.Hour

// HealRunWorkflow runs the round controller once as a single activity. The
// loop is already bounded, so the activity is never retried.
func HealRunWorkflow(ctx workflow.Context, input activities.HealRunInput) (report.Summary, error) {
	logger := workflow.GetLogger(ctx)
	if strings.TrimSpace(input.Goal) == "" {
		return report.Summary{}, temporal.NewNonRetryableApplicationError("goal is required", "InvalidInput", errors.New("empty goal"))
	}
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	logger.Info("Heal run workflow started", "goal", input.Goal, "maxRounds", input.MaxRounds, "timeout", timeout)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var summary report.Summary
	if err := workflow.ExecuteActivity(ctx, activities.HealRunName, input).Get(ctx, &summary); err != nil {
		logger.Error("Heal run activity failed", "error", err)
		return report.Summary{}, err
	}

	logger.Info("Heal run workflow completed", "ok", summary.OK, "rounds", summary.Rounds)
	return summary, nil
}

package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/jordanhubbard/healloop/internal/report"
	"github.com/jordanhubbard/healloop/internal/temporal/activities"
)

type HealRunWorkflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *HealRunWorkflowSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.HealRunInput) (report.Summary, error) {
			return report.Summary{}, nil
		},
		activity.RegisterOptions{Name: activities.HealRunName},
	)
}

func (s *HealRunWorkflowSuite) AfterTest(_, _ string) {
	s.env.AssertExpectations(s.T())
}

func (s *HealRunWorkflowSuite) TestReturnsActivitySummary() {
	in := activities.HealRunInput{Goal: "service with /users", MaxRounds: 3, Timeout: 10 * time.Minute}
	want := report.Summary{OK: true, RunID: "wf-1", State: "HEALTHY", Rounds: 2, RequiredRoutes: []string{"/health", "/users"}}
	s.env.OnActivity(activities.HealRunName, mock.Anything, in).Return(want, nil).Once()

	s.env.ExecuteWorkflow(HealRunWorkflow, in)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	var got report.Summary
	s.NoError(s.env.GetWorkflowResult(&got))
	s.Equal(want, got)
}

func (s *HealRunWorkflowSuite) TestActivityNotRetried() {
	in := activities.HealRunInput{Goal: "g /x", MaxRounds: 1}
	s.env.OnActivity(activities.HealRunName, mock.Anything, in).Return(report.Summary{}, errors.New("worker lost")).Once()

	s.env.ExecuteWorkflow(HealRunWorkflow, in)

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *HealRunWorkflowSuite) TestEmptyGoalRejected() {
	s.env.ExecuteWorkflow(HealRunWorkflow, activities.HealRunInput{Goal: " "})

	s.True(s.env.IsWorkflowCompleted())
	err := s.env.GetWorkflowError()
	require.Error(s.T(), err)
	s.Contains(err.Error(), "goal is required")
}

func TestHealRunWorkflow(t *testing.T) {
	suite.Run(t, new(HealRunWorkflowSuite))
}

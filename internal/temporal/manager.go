// Package temporal hosts healloop runs as Temporal workflows.
package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"

	"github.com/jordanhubbard/healloop/internal/logging"
	"github.com/jordanhubbard/healloop/internal/temporal/activities"
	temporalclient "github.com/jordanhubbard/healloop/internal/temporal/client"
	"github.com/jordanhubbard/healloop/internal/temporal/workflows"
	"github.com/jordanhubbard/healloop/pkg/config"
)

// Registry is the subset of worker.Worker used for registration.
type Registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds the heal workflow and activity to r.
func Register(r Registry, runner activities.Runner) {
	r.RegisterWorkflow(workflows.HealRunWorkflow)
	r.RegisterActivityWithOptions(activities.NewActivities(runner).HealRun, activity.RegisterOptions{Name: activities.HealRunName})
}

// Manager owns the Temporal client and worker for the worker command.
type Manager struct {
	client *temporalclient.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewManager connects to Temporal and registers the heal workflow backed
// by runner. Activities run one at a time; rounds already use the host's
// container runtime fully.
func NewManager(ctx context.Context, cfg *config.TemporalConfig, runner activities.Runner) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("temporal config cannot be nil")
	}
	c, err := temporalclient.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}

	w := worker.New(c.GetClient(), cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: 1,
	})
	Register(w, runner)

	m := &Manager{client: c, worker: w, logger: logging.New("temporal")}
	m.logger.Info("worker registered", "task_queue", cfg.TaskQueue)
	return m, nil
}

// Run blocks processing tasks until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	m.logger.Info("starting Temporal worker")
	if err := m.worker.Run(stop); err != nil {
		return fmt.Errorf("temporal worker: %w", err)
	}
	return nil
}

// Stop closes the client.
func (m *Manager) Stop() {
	m.logger.Info("stopping Temporal manager")
	m.client.Close()
}

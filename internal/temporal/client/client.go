package client

import (
	"context"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"google.golang.org/grpc"

	"github.com/jordanhubbard/healloop/internal/logging"
	"github.com/jordanhubbard/healloop/internal/report"
	"github.com/jordanhubbard/healloop/internal/temporal/activities"
	"github.com/jordanhubbard/healloop/internal/temporal/workflows"
	"github.com/jordanhubbard/healloop/pkg/config"
)

// Client wraps the Temporal client with healloop-specific functionality
type Client struct {
	temporal client.Client
	config   *config.TemporalConfig
}

// New creates a new Temporal client instance with retry logic
func New(ctx context.Context, cfg *config.TemporalConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("temporal config cannot be nil")
	}
	logger := logging.New("temporal")

	maxRetries := 3
	baseDelay := 2 * time.Second
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1)) // 2s, 4s
			logger.Info("retrying Temporal connection", "delay", delay, "attempt", attempt+1, "max", maxRetries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		c, err := client.DialContext(dialCtx, client.Options{
			HostPort:  cfg.Host,
			Namespace: cfg.Namespace,
			Logger:    tlog.NewStructuredLogger(logger),
			ConnectionOptions: client.ConnectionOptions{
				DialOptions: []grpc.DialOption{
					grpc.WithBlock(),
				},
			},
		})
		cancel()

		if err == nil {
			logger.Info("connected to Temporal", "host", cfg.Host, "namespace", cfg.Namespace)
			return &Client{temporal: c, config: cfg}, nil
		}
		lastErr = err
		logger.Warn("Temporal connection attempt failed", "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("failed to create temporal client after %d retries: %w", maxRetries, lastErr)
}

// Close closes the Temporal client connection
func (c *Client) Close() {
	if c.temporal != nil {
		c.temporal.Close()
	}
}

// GetClient returns the underlying Temporal client
func (c *Client) GetClient() client.Client {
	return c.temporal
}

// GetTaskQueue returns the configured task queue
func (c *Client) GetTaskQueue() string {
	return c.config.TaskQueue
}

// SubmitRun starts a HealRunWorkflow with runID as the workflow id and
// waits for its summary.
func (c *Client) SubmitRun(ctx context.Context, runID string, input activities.HealRunInput) (report.Summary, error) {
	run, err := c.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       runID,
		TaskQueue:                c.config.TaskQueue,
		WorkflowExecutionTimeout: input.Timeout + time.Minute,
		// A run id names one directory on disk; never run it twice.
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, workflows.HealRunWorkflow, input)
	if err != nil {
		return report.Summary{}, fmt.Errorf("failed to start workflow: %w", err)
	}

	var summary report.Summary
	if err := run.Get(ctx, &summary); err != nil {
		return report.Summary{}, fmt.Errorf("workflow %s failed: %w", run.GetID(), err)
	}
	return summary, nil
}

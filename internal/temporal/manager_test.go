package temporal

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/jordanhubbard/healloop/internal/healer"
	"github.com/jordanhubbard/healloop/pkg/config"
	"github.com/jordanhubbard/healloop/pkg/models"
)

type recordingRegistry struct {
	workflows  int
	activities []string
}

func (r *recordingRegistry) RegisterWorkflow(interface{}) { r.workflows++ }

func (r *recordingRegistry) RegisterActivityWithOptions(_ interface{}, o activity.RegisterOptions) {
	r.activities = append(r.activities, o.Name)
}

type nopRunner struct{}

func (nopRunner) Run(context.Context, string, healer.Options) (*models.Run, error) {
	return &models.Run{}, nil
}

func TestRegister(t *testing.T) {
	r := &recordingRegistry{}
	Register(r, nopRunner{})
	if r.workflows != 1 {
		t.Errorf("expected 1 workflow, got %d", r.workflows)
	}
	if len(r.activities) != 1 || r.activities[0] != "HealRun" {
		t.Errorf("unexpected activities %v", r.activities)
	}
}

func temporalRequired() bool {
	value := strings.ToLower(os.Getenv("TEMPORAL_REQUIRED"))
	return value == "true" || value == "1" || value == "yes"
}

func TestTemporalManagerCreation(t *testing.T) {
	host := os.Getenv("TEMPORAL_HOST")
	if host == "" {
		host = "localhost:7233"
	}
	cfg := &config.TemporalConfig{Host: host, Namespace: "default", TaskQueue: "healloop-test"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	manager, err := NewManager(ctx, cfg, nopRunner{})
	if err != nil {
		if temporalRequired() {
			t.Fatalf("Temporal server not available: %v", err)
		}
		t.Skipf("Temporal server not available: %v", err)
		return
	}
	defer manager.Stop()
}

func TestNewManager_NilConfig(t *testing.T) {
	if _, err := NewManager(context.Background(), nil, nopRunner{}); err == nil {
		t.Error("expected error for nil config")
	}
}

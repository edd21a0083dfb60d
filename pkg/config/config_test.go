package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxRounds != 3 {
		t.Errorf("expected 3 max rounds, got %d", cfg.MaxRounds)
	}
	if cfg.Health.Retries != 12 {
		t.Errorf("expected 12 health retries, got %d", cfg.Health.Retries)
	}
	if cfg.Health.Delay != 2*time.Second {
		t.Errorf("expected 2s health delay, got %v", cfg.Health.Delay)
	}
	if cfg.Sandbox.BuildTimeout != 7*time.Minute {
		t.Errorf("expected 7m build timeout, got %v", cfg.Sandbox.BuildTimeout)
	}
	if cfg.Sandbox.TestTimeout != 3*time.Minute {
		t.Errorf("expected 3m test timeout, got %v", cfg.Sandbox.TestTimeout)
	}
	if cfg.Memory.Limit != 3 {
		t.Errorf("expected memory limit 3, got %d", cfg.Memory.Limit)
	}
	if cfg.Index.Backend != "" {
		t.Errorf("secondary index should be disabled by default, got %q", cfg.Index.Backend)
	}
}

func TestDefaultConfig_Validates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rounds", func(c *Config) { c.MaxRounds = 0 }},
		{"unknown provider", func(c *Config) { c.Model.Provider = "carrier-pigeon" }},
		{"inverted port range", func(c *Config) { c.Sandbox.PortRangeMax = c.Sandbox.PortRangeMin - 1 }},
		{"postgres without dsn", func(c *Config) { c.Memory.Backend = "postgres" }},
		{"weaviate without url", func(c *Config) { c.Index.Backend = "weaviate" }},
		{"relative liveness route", func(c *Config) { c.Health.LivenessRoute = "health" }},
		{"empty test command", func(c *Config) { c.Sandbox.TestCommand = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadConfigFromFile_LayersOverDefaults(t *testing.T) {
	t.Setenv("TEST_HEALLOOP_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "healloop.yaml")
	content := `
max_rounds: 5
model:
  provider: ollama
  endpoint: http://localhost:11434
  model: qwen2.5-coder
  api_key: ${TEST_HEALLOOP_KEY}
health:
  retries: 4
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile() error = %v", err)
	}
	if cfg.MaxRounds != 5 {
		t.Errorf("expected 5 rounds, got %d", cfg.MaxRounds)
	}
	if cfg.Model.Provider != "ollama" {
		t.Errorf("expected ollama provider, got %q", cfg.Model.Provider)
	}
	if cfg.Model.APIKey != "sk-from-env" {
		t.Errorf("expected env-expanded api key, got %q", cfg.Model.APIKey)
	}
	if cfg.Health.Retries != 4 {
		t.Errorf("expected 4 retries, got %d", cfg.Health.Retries)
	}
	// Untouched sections keep their defaults.
	if cfg.Health.Delay != 2*time.Second {
		t.Errorf("expected default delay, got %v", cfg.Health.Delay)
	}
	if cfg.Sandbox.Runtime != "docker" {
		t.Errorf("expected default runtime, got %q", cfg.Sandbox.Runtime)
	}
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	if _, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("HEALLOOP_MAX_ROUNDS", "7")
	t.Setenv("HEALLOOP_MEMORY_PATH", "/tmp/mem.jsonl")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.APIKey != "sk-test" {
		t.Errorf("expected api key from env, got %q", cfg.Model.APIKey)
	}
	if cfg.MaxRounds != 7 {
		t.Errorf("expected 7 rounds from env, got %d", cfg.MaxRounds)
	}
	if cfg.Memory.Path != "/tmp/mem.jsonl" {
		t.Errorf("expected memory path from env, got %q", cfg.Memory.Path)
	}
}

func TestRunDeadline_ComposesStepTimeouts(t *testing.T) {
	cfg := DefaultConfig()

	one := cfg.RunDeadline(1)
	three := cfg.RunDeadline(3)
	if three-one != 2*cfg.RoundBudget() {
		t.Errorf("deadline should grow by one round budget per round: %v vs %v", one, three)
	}
	if cfg.RoundBudget() < cfg.Sandbox.BuildTimeout+cfg.Sandbox.TestTimeout+cfg.Sandbox.StartTimeout {
		t.Errorf("round budget %v smaller than sandbox step sum", cfg.RoundBudget())
	}
	if cfg.RunDeadline(0) != one {
		t.Errorf("non-positive round count should clamp to 1")
	}
}

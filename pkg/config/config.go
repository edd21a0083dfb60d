package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is the explicit configuration passed into the round controller and
// its collaborators at construction time.
type Config struct {
	MaxRounds int    `yaml:"max_rounds" json:"max_rounds" validate:"min=1"`
	RunsDir   string `yaml:"runs_dir" json:"runs_dir" validate:"required"`

	Model     ModelConfig     `yaml:"model" json:"model"`
	Sandbox   SandboxConfig   `yaml:"sandbox" json:"sandbox"`
	Health    HealthConfig    `yaml:"health" json:"health"`
	Memory    MemoryConfig    `yaml:"memory" json:"memory"`
	Index     IndexConfig     `yaml:"index" json:"index"`
	Redis     RedisConfig     `yaml:"redis" json:"redis,omitempty"`
	NATS      NATSConfig      `yaml:"nats" json:"nats,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics,omitempty"`
	Temporal  TemporalConfig  `yaml:"temporal" json:"temporal"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ModelConfig selects the language-model backend.
type ModelConfig struct {
	Provider          string        `yaml:"provider" json:"provider" validate:"oneof=openai ollama none"`
	Endpoint          string        `yaml:"endpoint" json:"endpoint"`
	APIKey            string        `yaml:"api_key" json:"-"`
	Model             string        `yaml:"model" json:"model"`
	Temperature       float32       `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute" validate:"gte=0"`
}

// SandboxConfig controls container build/test/run steps.
type SandboxConfig struct {
	Runtime      string        `yaml:"runtime" json:"runtime" validate:"required"` // docker or podman
	ImagePrefix  string        `yaml:"image_prefix" json:"image_prefix" validate:"required"`
	ServicePort  int           `yaml:"service_port" json:"service_port" validate:"min=1,max=65535"`
	PortRangeMin int           `yaml:"port_range_min" json:"port_range_min" validate:"min=1024,max=65535"`
	PortRangeMax int           `yaml:"port_range_max" json:"port_range_max" validate:"gtfield=PortRangeMin,max=65535"`
	BuildTimeout time.Duration `yaml:"build_timeout" json:"build_timeout" validate:"gt=0"`
	TestTimeout  time.Duration `yaml:"test_timeout" json:"test_timeout" validate:"gt=0"`
	StartTimeout time.Duration `yaml:"start_timeout" json:"start_timeout" validate:"gt=0"`
	TestCommand  []string      `yaml:"test_command" json:"test_command" validate:"min=1"`
	TailChars    int           `yaml:"tail_chars" json:"tail_chars" validate:"min=200"`
}

// HealthConfig controls route polling after the service container starts.
type HealthConfig struct {
	LivenessRoute  string        `yaml:"liveness_route" json:"liveness_route" validate:"startswith=/"`
	Retries        int           `yaml:"retries" json:"retries" validate:"min=1"`
	Delay          time.Duration `yaml:"delay" json:"delay" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" validate:"gt=0"`
}

// MemoryConfig selects the authoritative memory store.
type MemoryConfig struct {
	Backend   string `yaml:"backend" json:"backend" validate:"oneof=file postgres"`
	Path      string `yaml:"path" json:"path" validate:"required_if=Backend file"`
	DSN       string `yaml:"dsn" json:"-" validate:"required_if=Backend postgres"`
	Limit     int    `yaml:"limit" json:"limit" validate:"min=1"`
	TailChars int    `yaml:"tail_chars" json:"tail_chars" validate:"min=100"`
}

// IndexConfig selects the optional secondary index. An empty backend
// disables it.
type IndexConfig struct {
	Backend   string `yaml:"backend" json:"backend" validate:"omitempty,oneof=weaviate badger"`
	URL       string `yaml:"url" json:"url" validate:"required_if=Backend weaviate"`
	ClassName string `yaml:"class_name" json:"class_name"`
	Path      string `yaml:"path" json:"path" validate:"required_if=Backend badger"`
}

// RedisConfig enables cross-process port leases when URL is set.
type RedisConfig struct {
	URL      string        `yaml:"url" json:"url,omitempty"`
	LeaseTTL time.Duration `yaml:"lease_ttl" json:"lease_ttl,omitempty"`
}

// NATSConfig enables run event publishing when URL is set.
type NATSConfig struct {
	URL           string        `yaml:"url" json:"url,omitempty"`
	SubjectPrefix string        `yaml:"subject_prefix" json:"subject_prefix,omitempty"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// TelemetryConfig enables OTLP tracing when OTLPEndpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint,omitempty"`
	ServiceName  string `yaml:"service_name" json:"service_name,omitempty"`
}

// MetricsConfig enables pushing run metrics to a Pushgateway when PushURL is set.
type MetricsConfig struct {
	PushURL string `yaml:"push_url" json:"push_url,omitempty"`
	Job     string `yaml:"job" json:"job,omitempty"`
}

// TemporalConfig configures the optional Temporal worker/submit mode.
type TemporalConfig struct {
	Host      string `yaml:"host" json:"host"`
	Namespace string `yaml:"namespace" json:"namespace"`
	TaskQueue string `yaml:"task_queue" json:"task_queue"`
}

// ServerConfig configures the ops HTTP server used in worker mode.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // text, json or auto
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxRounds: 3,
		RunsDir:   "./runs",
		Model: ModelConfig{
			Provider:          "openai",
			Endpoint:          "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			Temperature:       0.2,
			Timeout:           120 * time.Second,
			RequestsPerMinute: 30,
		},
		Sandbox: SandboxConfig{
			Runtime:      "docker",
			ImagePrefix:  "healloop",
			ServicePort:  8000,
			PortRangeMin: 20000,
			PortRangeMax: 45000,
			BuildTimeout: 7 * time.Minute,
			TestTimeout:  3 * time.Minute,
			StartTimeout: 1 * time.Minute,
			TestCommand:  []string{"pytest", "-q"},
			TailChars:    4000,
		},
		Health: HealthConfig{
			LivenessRoute:  "/health",
			Retries:        12,
			Delay:          2 * time.Second,
			RequestTimeout: 3 * time.Second,
		},
		Memory: MemoryConfig{
			Backend:   "file",
			Path:      "./memory/repair_memory.jsonl",
			Limit:     3,
			TailChars: 1200,
		},
		Index: IndexConfig{
			ClassName: "RepairMemory",
		},
		Redis: RedisConfig{
			LeaseTTL: 15 * time.Minute,
		},
		NATS: NATSConfig{
			SubjectPrefix: "healloop",
			Timeout:       5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "healloop",
		},
		Metrics: MetricsConfig{
			Job: "healloop",
		},
		Temporal: TemporalConfig{
			Host:      "localhost:7233",
			Namespace: "default",
			TaskQueue: "healloop-runs",
		},
		Server: ServerConfig{
			Addr: ":8090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// LoadConfigFromFile loads YAML configuration layered over DefaultConfig.
// Environment variables (e.g. ${OPENAI_API_KEY}) are expanded before parsing.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// Load returns DefaultConfig, or the file at path layered over it when path
// is non-empty, with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadConfigFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from HEALLOOP_* variables and the conventional
// OPENAI_API_KEY / OPENAI_BASE_URL variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Model.APIKey == "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Model.Endpoint = v
	}
	if v := os.Getenv("HEALLOOP_MODEL"); v != "" {
		c.Model.Model = v
	}
	if v := os.Getenv("HEALLOOP_PROVIDER"); v != "" {
		c.Model.Provider = v
	}
	if v := os.Getenv("HEALLOOP_RUNS_DIR"); v != "" {
		c.RunsDir = v
	}
	if v := os.Getenv("HEALLOOP_MEMORY_PATH"); v != "" {
		c.Memory.Path = v
	}
	if v := os.Getenv("HEALLOOP_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRounds = n
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints. Every failure wraps ErrInvalid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// HealthBudget is the longest a full health check may take.
func (c *Config) HealthBudget() time.Duration {
	perPass := c.Health.RequestTimeout * 2
	return time.Duration(c.Health.Retries) * (perPass + c.Health.Delay)
}

// RoundBudget is the longest a single round may take, including the model
// call for the repair that follows it.
func (c *Config) RoundBudget() time.Duration {
	return c.Sandbox.BuildTimeout + c.Sandbox.TestTimeout + c.Sandbox.StartTimeout +
		c.HealthBudget() + c.Model.Timeout + 30*time.Second
}

// RunDeadline is the hard wall-clock cap for one run of maxRounds rounds.
func (c *Config) RunDeadline(maxRounds int) time.Duration {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return c.Model.Timeout + time.Duration(maxRounds)*c.RoundBudget()
}

package models

import "time"

// ErrorSignature is the coarse classification of a failed round.
// Memory retrieval keys off this value, so the string forms are stable.
type ErrorSignature string

const (
	SigSyntaxError       ErrorSignature = "syntax-error"
	SigMissingDependency ErrorSignature = "missing-dependency"
	SigPortConflict      ErrorSignature = "port-conflict"
	SigBuildFailure      ErrorSignature = "container-build-failure"
	SigTestFailure       ErrorSignature = "test-failure"
	SigHealthCheck       ErrorSignature = "health-check-failure"
	SigUnclassified      ErrorSignature = "unclassified"
)

// RunState is a node of the round controller state machine.
type RunState string

const (
	StateSynthesize RunState = "SYNTHESIZE"
	StateSandbox    RunState = "SANDBOX"
	StateHealthy    RunState = "HEALTHY"
	StateFailed     RunState = "FAILED"
	StateClassify   RunState = "CLASSIFY"
	StateRepair     RunState = "REPAIR"
	StateExhausted  RunState = "EXHAUSTED"
)

// Terminal reports whether no further transition is possible from s.
func (s RunState) Terminal() bool {
	return s == StateHealthy || s == StateExhausted
}

// Round is one synthesize/build/test/run/health-check attempt.
type Round struct {
	Number        int            `json:"round"`
	FileSetHash   string         `json:"fileset_hash"`
	Port          int            `json:"port,omitempty"`
	ImageTag      string         `json:"image_tag,omitempty"`
	ContainerName string         `json:"container_name,omitempty"`
	OK            bool           `json:"ok"`
	Signature     ErrorSignature `json:"signature,omitempty"`
	BuildTail     string         `json:"build_tail"`
	TestTail      string         `json:"test_tail"`
	RuntimeTail   string         `json:"runtime_tail"`
	ChangedSlots  []string       `json:"changed_slots,omitempty"`
	Dir           string         `json:"dir,omitempty"`
	Duration      time.Duration  `json:"duration"`
}

// Run is the bounded sequence of rounds for one goal.
type Run struct {
	ID             string         `json:"run_id"`
	Goal           string         `json:"goal"`
	RequiredRoutes []string       `json:"required_routes"`
	MaxRounds      int            `json:"max_rounds"`
	DryRun         bool           `json:"dry_run,omitempty"`
	State          RunState       `json:"state"`
	OK             bool           `json:"ok"`
	Error          string         `json:"error,omitempty"`
	Rounds         []Round        `json:"rounds"`
	Memory         []*MemoryEntry `json:"-"`
	Dir            string         `json:"run_dir"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// LastRound returns the most recent round, or nil before the first one.
func (r *Run) LastRound() *Round {
	if len(r.Rounds) == 0 {
		return nil
	}
	return &r.Rounds[len(r.Rounds)-1]
}

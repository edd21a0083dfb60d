package models

import "time"

// MemoryEntry records one repair attempt. FinalOK stays nil while the
// owning run is in progress and is set exactly once when it concludes.
type MemoryEntry struct {
	Timestamp    time.Time      `json:"ts"`
	RunID        string         `json:"run_id"`
	Goal         string         `json:"goal"`
	Round        int            `json:"round"`
	Signature    ErrorSignature `json:"signature"`
	ChangedFiles []string       `json:"changed_files"`
	BuildTail    string         `json:"build_tail,omitempty"`
	TestTail     string         `json:"test_tail,omitempty"`
	RuntimeTail  string         `json:"runtime_tail,omitempty"`
	FinalOK      *bool          `json:"final_ok"`
}

// Pending reports whether the run outcome has not been recorded yet.
func (m *MemoryEntry) Pending() bool {
	return m.FinalOK == nil
}

// Succeeded reports whether the owning run ended healthy.
func (m *MemoryEntry) Succeeded() bool {
	return m.FinalOK != nil && *m.FinalOK
}

// Backfill records the owning run's outcome.
func (m *MemoryEntry) Backfill(ok bool) {
	v := ok
	m.FinalOK = &v
}

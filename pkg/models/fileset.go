package models

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
)

// Slot names one of the four files a synthesized project is made of.
type Slot string

const (
	SlotApp          Slot = "app.py"
	SlotRequirements Slot = "requirements.txt"
	SlotTests        Slot = "test_app.py"
	SlotDockerfile   Slot = "Dockerfile"
)

// Slots lists every slot in materialization order.
var Slots = []Slot{SlotApp, SlotRequirements, SlotTests, SlotDockerfile}

// FileSet is the closed four-file bundle produced by synthesis and repair.
// JSON keys are the on-disk file names; unknown keys are ignored on decode.
type FileSet struct {
	App          string `json:"app.py"`
	Requirements string `json:"requirements.txt"`
	Tests        string `json:"test_app.py"`
	Dockerfile   string `json:"Dockerfile"`
}

// Get returns the contents of a slot.
func (f FileSet) Get(s Slot) string {
	switch s {
	case SlotApp:
		return f.App
	case SlotRequirements:
		return f.Requirements
	case SlotTests:
		return f.Tests
	case SlotDockerfile:
		return f.Dockerfile
	}
	return ""
}

// With returns a copy of f with slot s replaced.
func (f FileSet) With(s Slot, content string) FileSet {
	switch s {
	case SlotApp:
		f.App = content
	case SlotRequirements:
		f.Requirements = content
	case SlotTests:
		f.Tests = content
	case SlotDockerfile:
		f.Dockerfile = content
	}
	return f
}

// Complete reports whether every slot has content.
func (f FileSet) Complete() bool {
	for _, s := range Slots {
		if f.Get(s) == "" {
			return false
		}
	}
	return true
}

// Empty reports whether no slot has content.
func (f FileSet) Empty() bool {
	for _, s := range Slots {
		if f.Get(s) != "" {
			return false
		}
	}
	return true
}

// Overlay applies every non-empty slot of patch on top of f.
// Empty slots in patch leave f unchanged.
func (f FileSet) Overlay(patch FileSet) FileSet {
	out := f
	for _, s := range Slots {
		if c := patch.Get(s); c != "" {
			out = out.With(s, c)
		}
	}
	return out
}

// Changed lists the slots whose content differs between f and other.
func (f FileSet) Changed(other FileSet) []Slot {
	var changed []Slot
	for _, s := range Slots {
		if f.Get(s) != other.Get(s) {
			changed = append(changed, s)
		}
	}
	return changed
}

// Hash returns a short content hash used to tag rounds.
func (f FileSet) Hash() string {
	h, _ := blake2b.New256(nil)
	for _, s := range Slots {
		h.Write([]byte(s))
		h.Write([]byte{0})
		h.Write([]byte(f.Get(s)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// Materialize writes every slot into dir, creating it if needed.
func (f FileSet) Materialize(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for _, s := range Slots {
		path := filepath.Join(dir, string(s))
		if err := os.WriteFile(path, []byte(f.Get(s)), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

// SlotNames converts slots to plain strings for serialization.
func SlotNames(slots []Slot) []string {
	names := make([]string, 0, len(slots))
	for _, s := range slots {
		names = append(names, string(s))
	}
	return names
}

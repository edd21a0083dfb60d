package memory

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/jordanhubbard/healloop/internal/logging"
	"github.com/jordanhubbard/healloop/pkg/models"
)

// Manager combines the authoritative store with the optional index.
type Manager struct {
	primary   Store
	index     Index
	limit     int
	tailChars int
	logger    *slog.Logger
}

// NewManager wires the tiers. index may be nil.
func NewManager(primary Store, index Index, limit, tailChars int) *Manager {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Manager{
		primary:   primary,
		index:     index,
		limit:     limit,
		tailChars: tailChars,
		logger:    logging.New("memory"),
	}
}

// Primary returns the authoritative store.
func (m *Manager) Primary() Store { return m.primary }

// Entries loads the authoritative log.
func (m *Manager) Entries(ctx context.Context) ([]*models.MemoryEntry, error) {
	return m.primary.Load(ctx)
}

// Retrieve returns the entries chosen for a repair of sig. The primary store
// decides; the index is consulted only when the primary has no successful
// entry at all, and its errors are ignored.
func (m *Manager) Retrieve(ctx context.Context, goal string, sig models.ErrorSignature) []*models.MemoryEntry {
	entries, err := m.primary.Load(ctx)
	if err != nil {
		m.logger.Warn("memory load failed", "error", err)
	}
	picked := Retrieve(entries, sig, m.limit)
	if len(picked) > 0 || m.index == nil {
		return picked
	}

	hits, err := m.index.Search(ctx, goal+" "+string(sig), m.limit*3)
	if err != nil {
		m.logger.Debug("secondary index search failed", "error", err)
		return nil
	}
	var ok []*models.MemoryEntry
	for _, h := range hits {
		if h.Succeeded() && len(ok) < m.limit {
			ok = append(ok, h)
		}
	}
	return ok
}

// Context renders retrieved entries for a prompt. It never returns "".
func (m *Manager) Context(ctx context.Context, goal string, sig models.ErrorSignature) string {
	return BuildContext(m.Retrieve(ctx, goal, sig))
}

// Flush appends a run's backfilled entries in one batch, then mirrors them
// into the index. Pending entries are rejected. Index failures are logged
// and dropped.
func (m *Manager) Flush(ctx context.Context, entries []*models.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := make([]*models.MemoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.Pending() {
			return fmt.Errorf("memory entry for run %s round %d was not backfilled", e.RunID, e.Round)
		}
		c := *e
		c.BuildTail = truncateTail(c.BuildTail, m.tailChars)
		c.TestTail = truncateTail(c.TestTail, m.tailChars)
		c.RuntimeTail = truncateTail(c.RuntimeTail, m.tailChars)
		batch = append(batch, &c)
	}

	if err := m.primary.Append(ctx, batch); err != nil {
		return fmt.Errorf("append memory: %w", err)
	}

	if m.index != nil {
		for _, e := range batch {
			if err := m.index.Put(ctx, e); err != nil {
				m.logger.Debug("secondary index put failed", "error", err)
			}
		}
	}
	return nil
}

// Close releases the index.
func (m *Manager) Close() error {
	if m.index != nil {
		return m.index.Close()
	}
	return nil
}

func truncateTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}

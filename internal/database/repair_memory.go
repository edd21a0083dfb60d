package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jordanhubbard/healloop/pkg/models"
)

// migrateRepairMemory creates the repair_memory table. Rows are only ever
// inserted; the serial id preserves write order across hosts.
func (d *Database) migrateRepairMemory(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS repair_memory (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		run_id TEXT NOT NULL,
		goal TEXT NOT NULL,
		round INTEGER NOT NULL,
		signature TEXT NOT NULL,
		changed_files TEXT NOT NULL DEFAULT '',
		build_tail TEXT NOT NULL DEFAULT '',
		test_tail TEXT NOT NULL DEFAULT '',
		runtime_tail TEXT NOT NULL DEFAULT '',
		final_ok BOOLEAN NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_repair_memory_signature ON repair_memory(signature, final_ok);
	`
	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// RepairMemoryStore implements memory.Store on PostgreSQL.
type RepairMemoryStore struct {
	d *Database
}

func (d *Database) RepairMemory() *RepairMemoryStore {
	return &RepairMemoryStore{d: d}
}

// Append inserts the batch in one transaction.
func (s *RepairMemoryStore) Append(ctx context.Context, entries []*models.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, rebind(`
		INSERT INTO repair_memory (ts, run_id, goal, round, signature, changed_files, build_tail, test_tail, runtime_tail, final_ok)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.Pending() {
			return fmt.Errorf("memory entry for run %s round %d was not backfilled", e.RunID, e.Round)
		}
		if _, err := stmt.ExecContext(ctx,
			e.Timestamp.UTC(), e.RunID, e.Goal, e.Round, string(e.Signature),
			strings.Join(e.ChangedFiles, ","), e.BuildTail, e.TestTail, e.RuntimeTail, *e.FinalOK,
		); err != nil {
			return fmt.Errorf("insert memory entry: %w", err)
		}
	}
	return tx.Commit()
}

// Load returns every entry in insertion order.
func (s *RepairMemoryStore) Load(ctx context.Context) ([]*models.MemoryEntry, error) {
	rows, err := s.d.db.QueryContext(ctx, `
		SELECT ts, run_id, goal, round, signature, changed_files, build_tail, test_tail, runtime_tail, final_ok
		FROM repair_memory
		ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (*models.MemoryEntry, error) {
	var (
		e       models.MemoryEntry
		sig     string
		changed string
		ok      bool
	)
	if err := rows.Scan(&e.Timestamp, &e.RunID, &e.Goal, &e.Round, &sig, &changed,
		&e.BuildTail, &e.TestTail, &e.RuntimeTail, &ok); err != nil {
		return nil, err
	}
	e.Signature = models.ErrorSignature(sig)
	e.ChangedFiles = splitFiles(changed)
	e.Backfill(ok)
	return &e, nil
}

func splitFiles(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jordanhubbard/healloop/pkg/models"
)

// FileStore keeps one JSON document per line in a single log file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// Append writes all entries with a single O_APPEND write while holding an
// advisory lock, so batches from concurrent processes never interleave.
func (s *FileStore) Append(ctx context.Context, entries []*models.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode memory entry: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open memory log: %w", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("lock memory log: %w", err)
	}
	defer unlockFile(f)

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append memory log: %w", err)
	}
	return nil
}

// Load reads the log. A missing file is an empty store.
func (s *FileStore) Load(ctx context.Context) ([]*models.MemoryEntry, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open memory log: %w", err)
	}
	defer f.Close()

	entries, _, err := readEntries(f, true)
	return entries, err
}

// Rotate moves the log aside and returns the new location, or "" when
// there was nothing to move. The next Append starts a fresh log.
func (s *FileStore) Rotate() (string, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	dst := fmt.Sprintf("%s.%s.bak", s.path, time.Now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(s.path, dst); err != nil {
		return "", fmt.Errorf("rotate memory log: %w", err)
	}
	return dst, nil
}

// readEntries parses lines from r and returns them with the number of bytes
// consumed. Malformed lines are consumed and skipped. A trailing line
// without a newline is never counted as consumed; it is parsed only when
// partial is set.
func readEntries(r io.Reader, partial bool) ([]*models.MemoryEntry, int64, error) {
	br := bufio.NewReader(r)
	var (
		entries  []*models.MemoryEntry
		consumed int64
	)
	for {
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if partial && len(line) > 0 {
				if e, ok := parseLine(line); ok {
					entries = append(entries, e)
				}
			}
			return entries, consumed, nil
		}
		if err != nil {
			return entries, consumed, fmt.Errorf("read memory log: %w", err)
		}
		consumed += int64(len(line))
		if e, ok := parseLine(line); ok {
			entries = append(entries, e)
		}
	}
}

func parseLine(line []byte) (*models.MemoryEntry, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}
	var e models.MemoryEntry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, false
	}
	if e.Signature == "" && e.RunID == "" {
		return nil, false
	}
	return &e, true
}

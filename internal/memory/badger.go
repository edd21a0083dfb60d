package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/jordanhubbard/healloop/pkg/models"
)

var badgerPrefix = []byte("memory/")

// BadgerIndex is a local secondary index. Search ranks entries by word
// overlap with the query, which is enough to surface entries sharing
// error text without an embedding service.
type BadgerIndex struct {
	db *badger.DB
}

// OpenBadgerIndex opens (creating) an index at path, or in memory when path
// is empty.
func OpenBadgerIndex(path string) (*BadgerIndex, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create index directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger index: %w", err)
	}
	return &BadgerIndex{db: db}, nil
}

func (b *BadgerIndex) Put(ctx context.Context, e *models.MemoryEntry) error {
	key := append(append([]byte{}, badgerPrefix...), ContentKey(e)...)
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, val)
	})
}

func (b *BadgerIndex) Search(ctx context.Context, query string, limit int) ([]*models.MemoryEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	terms := tokenize(query)

	type scored struct {
		entry *models.MemoryEntry
		score int
	}
	var hits []scored
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(badgerPrefix); it.ValidForPrefix(badgerPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e models.MemoryEntry
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				continue
			}
			if s := overlap(terms, tokenize(searchText(&e))); s > 0 {
				hits = append(hits, scored{entry: &e, score: s})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].entry.Timestamp.After(hits[j].entry.Timestamp)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*models.MemoryEntry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out, nil
}

func (b *BadgerIndex) Close() error { return b.db.Close() }

func tokenize(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-')
	})
	out := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) > 2 {
			out[w] = true
		}
	}
	return out
}

func overlap(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

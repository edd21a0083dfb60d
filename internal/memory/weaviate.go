package memory

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/jordanhubbard/healloop/pkg/models"
)

// DefaultClassName is the Weaviate class holding repair memory.
const DefaultClassName = "RepairMemory"

// WeaviateIndex stores entries as Weaviate objects whose id is derived from
// the content key, so re-inserting identical content is a no-op.
type WeaviateIndex struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateIndex connects to rawURL, e.g. http://localhost:8080.
func NewWeaviateIndex(rawURL, className string) (*WeaviateIndex, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	if className == "" {
		className = DefaultClassName
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   u.Host,
		Scheme: u.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateIndex{client: client, className: className}, nil
}

func (w *WeaviateIndex) Put(ctx context.Context, e *models.MemoryEntry) error {
	key := ContentKey(e)
	id := objectID(key)

	exists, err := w.client.Data().Checker().
		WithClassName(w.className).
		WithID(id).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate exists check: %w", err)
	}
	if exists {
		return nil
	}

	_, err = w.client.Data().Creator().
		WithClassName(w.className).
		WithID(id).
		WithProperties(map[string]interface{}{
			"contentKey":   key,
			"runId":        e.RunID,
			"goal":         e.Goal,
			"round":        e.Round,
			"signature":    string(e.Signature),
			"changedFiles": e.ChangedFiles,
			"buildTail":    e.BuildTail,
			"testTail":     e.TestTail,
			"runtimeTail":  e.RuntimeTail,
			"finalOk":      e.Succeeded(),
			"ts":           e.Timestamp.UTC().Format(time.RFC3339),
			"text":         searchText(e),
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate create: %w", err)
	}
	return nil
}

func (w *WeaviateIndex) Search(ctx context.Context, query string, limit int) ([]*models.MemoryEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	nearText := w.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query})

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(
			graphql.Field{Name: "runId"},
			graphql.Field{Name: "goal"},
			graphql.Field{Name: "round"},
			graphql.Field{Name: "signature"},
			graphql.Field{Name: "changedFiles"},
			graphql.Field{Name: "buildTail"},
			graphql.Field{Name: "testTail"},
			graphql.Field{Name: "runtimeTail"},
			graphql.Field{Name: "finalOk"},
			graphql.Field{Name: "ts"},
		).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, _ := data[w.className].([]interface{})
	entries := make([]*models.MemoryEntry, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		entries = append(entries, entryFromProps(m))
	}
	return entries, nil
}

func (w *WeaviateIndex) Close() error { return nil }

func entryFromProps(m map[string]interface{}) *models.MemoryEntry {
	e := &models.MemoryEntry{
		RunID:       getString(m, "runId"),
		Goal:        getString(m, "goal"),
		Signature:   models.ErrorSignature(getString(m, "signature")),
		BuildTail:   getString(m, "buildTail"),
		TestTail:    getString(m, "testTail"),
		RuntimeTail: getString(m, "runtimeTail"),
	}
	if f, ok := m["round"].(float64); ok {
		e.Round = int(f)
	}
	if files, ok := m["changedFiles"].([]interface{}); ok {
		for _, f := range files {
			if s, ok := f.(string); ok {
				e.ChangedFiles = append(e.ChangedFiles, s)
			}
		}
	}
	if ok, present := m["finalOk"].(bool); present {
		e.Backfill(ok)
	}
	if t, err := time.Parse(time.RFC3339, getString(m, "ts")); err == nil {
		e.Timestamp = t
	}
	return e
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

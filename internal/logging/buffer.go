package logging

import (
	"container/ring"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultBufferSize is the number of records a Buffer keeps.
const DefaultBufferSize = 2000

// LogEntry represents a single captured log record
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Buffer keeps the most recent log records in memory for the ops server.
type Buffer struct {
	mu     sync.RWMutex
	buffer *ring.Ring
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{buffer: ring.New(size)}
}

func (b *Buffer) add(e LogEntry) {
	b.mu.Lock()
	b.buffer.Value = e
	b.buffer = b.buffer.Next()
	b.mu.Unlock()
}

// Recent returns up to limit entries, newest first. level and component
// filter when non-empty.
func (b *Buffer) Recent(limit int, level, component string) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var all []LogEntry
	// Do walks oldest to newest starting at the next write slot.
	b.buffer.Do(func(v any) {
		entry, ok := v.(LogEntry)
		if !ok {
			return
		}
		if level != "" && !strings.EqualFold(entry.Level, level) {
			return
		}
		if component != "" && entry.Component != component {
			return
		}
		all = append(all, entry)
	})

	out := make([]LogEntry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out
}

// Capture tees the default logger into b. Loggers created with New after
// this call are captured.
func Capture(b *Buffer) {
	slog.SetDefault(slog.New(&teeHandler{next: slog.Default().Handler(), buf: b}))
}

type teeHandler struct {
	next  slog.Handler
	buf   *Buffer
	attrs []slog.Attr
	group string
}

func (h *teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	e := LogEntry{Timestamp: r.Time, Level: r.Level.String(), Message: r.Message}
	add := func(a slog.Attr) {
		if a.Key == "component" && h.group == "" {
			e.Component = a.Value.String()
			return
		}
		if e.Attrs == nil {
			e.Attrs = make(map[string]any)
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		e.Attrs[key] = a.Value.Resolve().Any()
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})
	h.buf.add(e)
	return h.next.Handle(ctx, r)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	if c.group != "" {
		name = c.group + "." + name
	}
	c.group = name
	return &c
}

// Package diag defines the diagnostics sink injected into the core
// components. Components record what they observe; the caller decides where
// the records go.
package diag

import (
	"context"
	"log/slog"
	"sync"
)

// Level is the severity of a diagnostic record.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Fields carries the structured context of a record.
type Fields map[string]any

// Sink receives diagnostic records.
type Sink interface {
	Record(ctx context.Context, level Level, message string, fields Fields)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, level Level, message string, fields Fields)

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, level Level, message string, fields Fields) {
	f(ctx, level, message, fields)
}

// Discard drops every record.
var Discard Sink = SinkFunc(func(context.Context, Level, string, Fields) {})

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

// =============================================================================
// SLOG ADAPTER
// =============================================================================

type slogSink struct {
	logger *slog.Logger
}

// NewSlogSink forwards records to logger. A nil logger uses slog.Default().
func NewSlogSink(logger *slog.Logger) Sink {
	return &slogSink{logger: logger}
}

func (s *slogSink) Record(ctx context.Context, level Level, message string, fields Fields) {
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.LogAttrs(ctx, toSlogLevel(level), message, attrs...)
}

func toSlogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// COLLECTOR
// =============================================================================

// Entry is a captured record.
type Entry struct {
	Level   Level
	Message string
	Fields  Fields
}

// Collector keeps every record in memory. It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	entries []Entry
}

// Record stores the record.
func (c *Collector) Record(_ context.Context, level Level, message string, fields Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{Level: level, Message: message, Fields: fields})
}

// Entries returns a copy of the captured records.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Count returns the number of records at the given level.
func (c *Collector) Count(level Level) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Package logsink keeps the most recent log lines in memory for the control
// surface and wires them into the process logger.
package logsink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 300

// Attribute keys with special meaning for the ring.
const (
	AgentKey = "agent"
	TagKey   = "tag"
)

// Entry is one immutable log line.
type Entry struct {
	Time    time.Time `json:"time"`
	Tag     string    `json:"tag"`
	Agent   string    `json:"agent,omitempty"`
	Message string    `json:"message"`
}

// String renders the entry the way the log viewer shows it.
func (e Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] ", e.Time.Format("15:04:05"), e.Tag)
	if e.Agent != "" {
		b.WriteString(e.Agent)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Ring is a bounded buffer of log entries. It implements slog.Handler so it can
// be fanned out next to the regular output handler.
type Ring struct {
	store *ringStore
	level slog.Leveler
	attrs []slog.Attr
	group string
}

type ringStore struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
}

// NewRing creates a ring holding at most capacity entries.
func NewRing(capacity int, level slog.Leveler) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &Ring{
		store: &ringStore{entries: make([]Entry, 0, capacity), capacity: capacity},
		level: level,
	}
}

// Append adds an entry, dropping the oldest when full.
func (r *Ring) Append(e Entry) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == s.capacity {
		copy(s.entries, s.entries[1:])
		s.entries = s.entries[:len(s.entries)-1]
	}
	s.entries = append(s.entries, e)
}

// Recent returns a copy of the entries, oldest first.
func (r *Ring) Recent() []Entry {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Trim keeps only the newest keep entries.
func (r *Ring) Trim(keep int) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 0 {
		keep = 0
	}
	if len(s.entries) <= keep {
		return
	}
	n := copy(s.entries, s.entries[len(s.entries)-keep:])
	s.entries = s.entries[:n]
}

// Len returns the number of buffered entries.
func (r *Ring) Len() int {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Enabled implements slog.Handler.
func (r *Ring) Enabled(_ context.Context, level slog.Level) bool {
	return level >= r.level.Level()
}

// Handle implements slog.Handler.
func (r *Ring) Handle(_ context.Context, rec slog.Record) error {
	e := Entry{
		Time:    rec.Time,
		Tag:     rec.Level.String(),
		Message: rec.Message,
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	var extra []string
	visit := func(a slog.Attr) bool {
		switch a.Key {
		case AgentKey:
			e.Agent = a.Value.String()
		case TagKey:
			e.Tag = a.Value.String()
		default:
			key := a.Key
			if r.group != "" {
				key = r.group + "." + key
			}
			extra = append(extra, key+"="+a.Value.String())
		}
		return true
	}
	for _, a := range r.attrs {
		visit(a)
	}
	rec.Attrs(visit)

	if len(extra) > 0 {
		e.Message += " " + strings.Join(extra, " ")
	}
	r.Append(e)
	return nil
}

// WithAttrs implements slog.Handler.
func (r *Ring) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *r
	clone.attrs = append(append([]slog.Attr{}, r.attrs...), attrs...)
	return &clone
}

// WithGroup implements slog.Handler.
func (r *Ring) WithGroup(name string) slog.Handler {
	clone := *r
	if clone.group == "" {
		clone.group = name
	} else {
		clone.group += "." + name
	}
	return &clone
}

// SetupLogger creates a logger writing text to w and every record into ring.
func SetupLogger(w io.Writer, ring *Ring, level slog.Level) *slog.Logger {
	textHandler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	if ring == nil {
		return slog.New(textHandler)
	}
	return slog.New(slogmulti.Fanout(textHandler, ring))
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package monitor

import (
	"fmt"
	"sync"
	"time"
)

// StatusEntry is one line of the delivery/fault log shown to the UI
type StatusEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// StatusLog is a bounded, most-recent-first log of non-blocking status
// entries: per-recipient delivery outcomes, per-camera faults, store
// write warnings. Entries beyond the limit are dropped oldest-first.
type StatusLog struct {
	mu      sync.RWMutex
	limit   int
	entries []StatusEntry
}

const defaultStatusLimit = 50

// NewStatusLog creates a log keeping the last limit entries
func NewStatusLog(limit int) *StatusLog {
	if limit <= 0 {
		limit = defaultStatusLimit
	}
	return &StatusLog{limit: limit}
}

// Record prepends a formatted entry, truncating to the limit
func (l *StatusLog) Record(t time.Time, format string, args ...interface{}) {
	entry := StatusEntry{Time: t, Message: fmt.Sprintf(format, args...)}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append([]StatusEntry{entry}, l.entries...)
	if len(l.entries) > l.limit {
		l.entries = l.entries[:l.limit]
	}
}

// Entries returns a copy of the log, most recent first
func (l *StatusLog) Entries() []StatusEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]StatusEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Package chatlog keeps the bounded in-memory communication log served by
// GET /communication-logs. Entries are conversation-level, not per-session.
package chatlog

import (
	"sync"
	"time"
)

// Entry is one logged exchange line. Field names follow the wire format
// consumed by existing clients.
type Entry struct {
	Timestamp string `json:"timestamp"`
	IsUser    bool   `json:"is_user"`
	Message   string `json:"message"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// Log is a FIFO-bounded append log safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

// New returns a log capped at limit entries; limit <= 0 means 1000.
func New(limit int) *Log {
	if limit <= 0 {
		limit = 1000
	}
	return &Log{limit: limit}
}

// Append records a message, dropping the oldest entry once the cap is hit.
func (l *Log) Append(message string, isUser bool, imageURL string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		IsUser:    isUser,
		Message:   message,
		ImageURL:  imageURL,
	})
	if len(l.entries) > l.limit {
		l.entries = l.entries[len(l.entries)-l.limit:]
	}
}

// Entries returns a snapshot of the log, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the current entry count.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

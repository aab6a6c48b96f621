// Package session owns the in-memory state shared by all connections of a
// sync server: the registry of live sessions, their bounded histories, and
// the inactivity reaper. Nothing here touches the transport; connections
// appear only through the Conn interface.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonicline/backend/internal/metrics"
)

// Registry maps session ids to session state. It is safe for concurrent use
// by any number of connection goroutines plus the reaper; operations on
// distinct sessions do not contend beyond the map lock.
type Registry struct {
	log          zerolog.Logger
	historyLimit int
	ttl          time.Duration
	interval     time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	cancel context.CancelFunc
	done   chan struct{}
}

// Options bound registry behavior. Zero fields fall back to the origin
// defaults: 100-entry histories, 24h session TTL, hourly reap ticks.
type Options struct {
	HistoryLimit int
	SessionTTL   time.Duration
	ReapInterval time.Duration
}

func NewRegistry(opts Options, log zerolog.Logger) *Registry {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Hour
	}
	return &Registry{
		log:          log.With().Str("component", "registry").Logger(),
		historyLimit: opts.HistoryLimit,
		ttl:          opts.SessionTTL,
		interval:     opts.ReapInterval,
		sessions:     make(map[string]*Session),
	}
}

// Session returns the session for id, creating it empty on first sight.
// Creation is lazy on purpose: an event arriving on a connection whose
// session was reaped silently recreates an empty one.
func (r *Registry) Session(id string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.sessions[id]; ok {
		return s
	}
	s = newSession(id, r.historyLimit, r.log)
	r.sessions[id] = s
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.log.Info().Str("session", id).Msg("session created")
	return s
}

// Lookup returns the session for id without creating it.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Attach registers conn with the session for id (creating it if needed) and
// replays session metadata plus bounded history to the connection before
// returning. Replay happens inside the session's critical section, so no
// live broadcast can reach conn ahead of its backlog.
func (r *Registry) Attach(id string, conn Conn) *Session {
	s := r.Session(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addConnLocked(conn)
	s.log.Info().Str("conn", conn.ID()).Int("connections", len(s.conns)).Msg("connection attached")
	s.replayLocked(conn)
	return s
}

// Detach removes conn from the session for id. The session itself survives
// with zero connections so its history is available on reconnect; only the
// reaper deletes sessions.
func (r *Registry) Detach(id string, conn Conn) {
	s, ok := r.Lookup(id)
	if !ok {
		return
	}
	if s.removeConn(conn) {
		s.log.Info().Str("conn", conn.ID()).Msg("connection detached")
	}
}

// Touch updates the last-activity timestamp for id if the session exists.
func (r *Registry) Touch(id string) {
	if s, ok := r.Lookup(id); ok {
		s.Touch()
	}
}

// Len reports the number of sessions currently held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Summaries snapshots every session, ordered by id for stable API output.
func (r *Registry) Summaries() []Summary {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summarize())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

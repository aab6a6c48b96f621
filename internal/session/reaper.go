package session

import (
	"context"
	"time"

	"github.com/sonicline/backend/internal/metrics"
)

// Start launches the inactivity reaper. It ticks every ReapInterval and
// deletes any session whose last activity is older than SessionTTL. Close
// stops it.
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.runReaper(ctx)
}

// Close cancels the reaper and waits for it to exit. Sessions are left in
// place; the registry is expected to be discarded after Close.
func (r *Registry) Close() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Registry) runReaper(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reap(time.Now())
		}
	}
}

// reap deletes every session inactive for longer than the TTL. Each session
// is removed as one unit: connections list, devices, and both histories go
// together. Connections still open on a reaped session are not closed here;
// their next event or disconnect finds no session and the normal lazy-create
// path takes over.
func (r *Registry) reap(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	reaped := 0
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity()) > r.ttl {
			delete(r.sessions, id)
			reaped++
			r.log.Info().Str("session", id).Msg("reaped inactive session")
		}
	}
	if reaped > 0 {
		metrics.SessionsReaped.Add(float64(reaped))
		metrics.SessionsActive.Set(float64(len(r.sessions)))
	}
	return reaped
}

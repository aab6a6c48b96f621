package session

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonicline/backend/internal/metrics"
)

// Conn is the transport-level handle the registry holds for a live
// connection. Send must not block; a full outbound buffer is reported as an
// error and the frame is dropped for that connection only.
type Conn interface {
	ID() string
	Send(data []byte) error
}

// Session is one logical conversation shared by any number of device
// connections. All mutable state is guarded by mu; methods may be called
// concurrently from independent connection goroutines and the reaper.
type Session struct {
	id           string
	historyLimit int
	log          zerolog.Logger

	mu           sync.Mutex
	conns        []Conn
	devices      []string
	messages     []json.RawMessage
	actions      []json.RawMessage
	lastActivity time.Time
}

// Summary is the read-model of a session served by the HTTP API.
type Summary struct {
	ID            string    `json:"id"`
	ActiveDevices []string  `json:"activeDevices"`
	MessageCount  int       `json:"messageCount"`
	ActionCount   int       `json:"actionCount"`
	Connections   int       `json:"connections"`
	LastActivity  time.Time `json:"lastActivity"`
}

func newSession(id string, historyLimit int, log zerolog.Logger) *Session {
	return &Session{
		id:           id,
		historyLimit: historyLimit,
		log:          log.With().Str("session", id).Logger(),
		lastActivity: time.Now(),
	}
}

func (s *Session) ID() string { return s.id }

// Touch records activity now. Called for every inbound event regardless of
// kind.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the timestamp of the most recent inbound event.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// AddDevice records a device as joined and returns the device set after the
// transition. Re-joining an already-known device is a no-op. An empty id
// changes nothing.
func (s *Session) AddDevice(deviceID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deviceID != "" && !slices.Contains(s.devices, deviceID) {
		s.devices = append(s.devices, deviceID)
		s.log.Info().Str("device", deviceID).Msg("device joined")
	}
	return slices.Clone(s.devices)
}

// RemoveDevice drops a device from the joined set and returns the set after
// the transition. Removing an unknown device is a no-op on state.
func (s *Session) RemoveDevice(deviceID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.devices, deviceID); deviceID != "" && i >= 0 {
		s.devices = slices.Delete(s.devices, i, i+1)
		s.log.Info().Str("device", deviceID).Msg("device left")
	}
	return slices.Clone(s.devices)
}

// Devices returns the currently joined device ids.
func (s *Session) Devices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.devices)
}

// AppendMessage stores a message payload, evicting the oldest entry once
// the history cap is reached.
func (s *Session) AppendMessage(payload json.RawMessage) {
	s.mu.Lock()
	s.messages = appendBounded(s.messages, payload, s.historyLimit)
	s.mu.Unlock()
}

// AppendAction stores an action payload under the same bounding rule as
// messages.
func (s *Session) AppendAction(payload json.RawMessage) {
	s.mu.Lock()
	s.actions = appendBounded(s.actions, payload, s.historyLimit)
	s.mu.Unlock()
}

func appendBounded(history []json.RawMessage, payload json.RawMessage, limit int) []json.RawMessage {
	history = append(history, payload)
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

// Broadcast delivers data to every attached connection except exclude
// (pass nil to deliver to all, sender included). A failing connection is
// logged and skipped; it stays attached until the transport reports its
// disconnect.
func (s *Session) Broadcast(data []byte, exclude Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(data, exclude)
}

func (s *Session) broadcastLocked(data []byte, exclude Conn) {
	metrics.BroadcastsTotal.Inc()
	for _, c := range s.conns {
		if c == exclude {
			continue
		}
		if err := c.Send(data); err != nil {
			metrics.DeliveryFailures.Inc()
			s.log.Error().Err(err).Str("conn", c.ID()).Msg("broadcast delivery failed")
			continue
		}
		metrics.DeliveriesTotal.Inc()
	}
}

// Summarize snapshots the session for read-only consumers.
func (s *Session) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:            s.id,
		ActiveDevices: slices.Clone(s.devices),
		MessageCount:  len(s.messages),
		ActionCount:   len(s.actions),
		Connections:   len(s.conns),
		LastActivity:  s.lastActivity,
	}
}

func (s *Session) addConnLocked(conn Conn) {
	s.conns = append(s.conns, conn)
	s.lastActivity = time.Now()
}

func (s *Session) removeConn(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conns {
		if c == conn {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return true
		}
	}
	return false
}

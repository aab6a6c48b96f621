package ws

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonicline/backend/internal/metrics"
	"github.com/sonicline/backend/internal/protocol"
	"github.com/sonicline/backend/internal/session"
)

// Router applies one state transition per inbound frame and fans the result
// out to the frame's session. It resolves the session by id on every frame
// rather than caching the pointer, so a connection orphaned by the reaper
// transparently lands in a fresh empty session.
type Router struct {
	registry *session.Registry
	log      zerolog.Logger
}

func NewRouter(registry *session.Registry, log zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		log:      log.With().Str("component", "router").Logger(),
	}
}

// HandleFrame processes one raw inbound frame from sender on sessionID.
// sender may be nil for server-originated injections (e.g. action results),
// in which case parse errors are only logged.
func (rt *Router) HandleFrame(sessionID string, sender session.Conn, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.MalformedFrames.Inc()
		rt.log.Error().Err(err).Str("session", sessionID).Msg("unparseable frame")
		if sender != nil {
			if serr := sender.Send(protocol.EncodeError("Invalid JSON format")); serr != nil {
				rt.log.Error().Err(serr).Str("conn", sender.ID()).Msg("error frame delivery failed")
			}
		}
		return
	}

	s := rt.registry.Session(sessionID)
	s.Touch()

	if env.Type == "" {
		rt.log.Warn().Str("session", sessionID).Msg("frame without event type dropped")
		return
	}
	metrics.EventsTotal.WithLabelValues(string(env.Type)).Inc()

	payload := env.Payload
	if len(payload) == 0 {
		payload = protocol.EmptyObject
	}

	switch env.Type {
	case protocol.EventSessionJoined:
		ann := protocol.DecodeAnnounce(payload)
		devices := s.AddDevice(ann.DeviceID)
		rt.broadcastPresence(s, protocol.EventSessionJoined, ann, devices)

	case protocol.EventSessionLeft:
		ann := protocol.DecodeAnnounce(payload)
		devices := s.RemoveDevice(ann.DeviceID)
		rt.broadcastPresence(s, protocol.EventSessionLeft, ann, devices)

	case protocol.EventActionUsed:
		s.AppendAction(payload)
		rt.broadcastPayload(s, env.Type, payload)

	case protocol.EventNewMessage:
		s.AppendMessage(payload)
		rt.broadcastPayload(s, env.Type, payload)

	case protocol.EventToolUsed:
		rt.broadcastPayload(s, env.Type, payload)

	default:
		// Pass-through: unknown kinds are forwarded verbatim so custom
		// frames round-trip untouched.
		s.Broadcast(raw, nil)
	}
}

func (rt *Router) broadcastPresence(s *session.Session, t protocol.EventType, ann protocol.DeviceAnnounce, devices []string) {
	ts := ann.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339)
	}
	frame, err := protocol.Encode(t, protocol.DevicePresence{
		DeviceID:      ann.DeviceID,
		Timestamp:     ts,
		SessionID:     s.ID(),
		ActiveDevices: devices,
	})
	if err != nil {
		rt.log.Error().Err(err).Str("session", s.ID()).Msg("encode presence broadcast")
		return
	}
	s.Broadcast(frame, nil)
}

func (rt *Router) broadcastPayload(s *session.Session, t protocol.EventType, payload json.RawMessage) {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		rt.log.Error().Err(err).Str("session", s.ID()).Msg("encode broadcast")
		return
	}
	s.Broadcast(frame, nil)
}

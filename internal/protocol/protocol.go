package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType classifies a frame on the session wire. The constants below are
// the kinds the router interprets; any other value is legal and passes
// through the session unmodified.
type EventType string

const (
	EventActionUsed    EventType = "action_used"
	EventNewMessage    EventType = "new_message"
	EventVoiceCommand  EventType = "voice_command"
	EventContextUpdate EventType = "context_update"
	EventToolUsed      EventType = "tool_used"
	EventSessionJoined EventType = "session_joined"
	EventSessionLeft   EventType = "session_left"

	// EventSessionInfo is server-to-client only, sent once per attach
	// before history replay.
	EventSessionInfo EventType = "session_info"
)

// Envelope is the wire shape of every frame, inbound and outbound. Payload
// is kept raw so that kinds the router does not interpret round-trip
// byte-for-byte.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionInfo is the payload of the one session_info frame a connection
// receives immediately after attaching.
type SessionInfo struct {
	SessionID     string   `json:"sessionId"`
	ActiveDevices []string `json:"activeDevices"`
	MessageCount  int      `json:"messageCount"`
	ActionCount   int      `json:"actionCount"`
}

// DevicePresence is the payload broadcast for session_joined and
// session_left, carrying the device set after the transition.
type DevicePresence struct {
	DeviceID      string   `json:"deviceId"`
	Timestamp     string   `json:"timestamp"`
	SessionID     string   `json:"sessionId"`
	ActiveDevices []string `json:"activeDevices"`
}

// DeviceAnnounce is the inbound payload of session_joined / session_left.
// Extra fields are ignored; both fields are optional on the wire.
type DeviceAnnounce struct {
	DeviceID  string `json:"deviceId"`
	Timestamp string `json:"timestamp"`
}

// DecodeAnnounce extracts the device fields from a join/leave payload.
// A nil or malformed payload yields a zero announce rather than an error;
// the router treats a missing deviceId as "announce nothing".
func DecodeAnnounce(raw json.RawMessage) DeviceAnnounce {
	var a DeviceAnnounce
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &a)
	}
	return a
}

// Encode marshals an envelope of the given type around payload.
func Encode(t EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// EncodeError builds the error frame sent back to a connection whose frame
// could not be parsed. It replaces the normal envelope entirely.
func EncodeError(msg string) []byte {
	data, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
	return data
}

// EmptyObject is the payload substituted when a frame omits one.
var EmptyObject = json.RawMessage("{}")

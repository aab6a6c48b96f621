package session

import (
	"github.com/sonicline/backend/internal/protocol"
)

// replayLocked sends the attach backlog to one connection: a single
// session_info frame, then every stored message oldest-first, then every
// stored action oldest-first. The first failed send stops replay for this
// connection; the connection itself stays attached.
//
// Caller holds s.mu.
func (s *Session) replayLocked(conn Conn) {
	info, err := protocol.Encode(protocol.EventSessionInfo, protocol.SessionInfo{
		SessionID:     s.id,
		ActiveDevices: append([]string(nil), s.devices...),
		MessageCount:  len(s.messages),
		ActionCount:   len(s.actions),
	})
	if err != nil {
		s.log.Error().Err(err).Msg("encode session_info")
		return
	}
	if err := conn.Send(info); err != nil {
		s.log.Error().Err(err).Str("conn", conn.ID()).Msg("replay aborted on session_info")
		return
	}

	for _, msg := range s.messages {
		frame, err := protocol.Encode(protocol.EventNewMessage, msg)
		if err != nil {
			s.log.Error().Err(err).Msg("encode replayed message")
			return
		}
		if err := conn.Send(frame); err != nil {
			s.log.Error().Err(err).Str("conn", conn.ID()).Msg("replay aborted on message history")
			return
		}
	}

	for _, act := range s.actions {
		frame, err := protocol.Encode(protocol.EventActionUsed, act)
		if err != nil {
			s.log.Error().Err(err).Msg("encode replayed action")
			return
		}
		if err := conn.Send(frame); err != nil {
			s.log.Error().Err(err).Str("conn", conn.ID()).Msg("replay aborted on action history")
			return
		}
	}
}

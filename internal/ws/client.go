package ws

import (
	"errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errSendBufferFull = errors.New("send buffer full")

// client wraps one websocket connection. Outbound frames go through a
// buffered channel drained by writePump, so Send never blocks the caller
// holding a session lock.
type client struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	log       zerolog.Logger
}

func newClient(conn *websocket.Conn, sessionID string, buffer int, log zerolog.Logger) *client {
	c := &client{
		id:        uuid.NewString(),
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, buffer),
	}
	c.log = log.With().Str("conn", c.id).Str("session", sessionID).Logger()
	go c.writePump()
	return c
}

func (c *client) ID() string { return c.id }

// Send enqueues a frame for delivery. A full buffer means the peer cannot
// keep up; the frame is dropped for this connection and an error reported
// so the fanout can log it. The connection is not torn down here.
func (c *client) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// close stops the write pump. Must only be called after the client has been
// detached from its session, so no further Send can race the channel close.
func (c *client) close() {
	close(c.send)
}

package canvas

import (
	"sync"

	"github.com/gorilla/websocket"

	"weave/internal/shared/id"
)

// Conn is the transport the fabric sends through. Implementations must be
// safe for concurrent Send calls.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// WSConn adapts a websocket connection. Writes are serialized; gorilla
// permits only one concurrent writer.
type WSConn struct {
	id string
	mu sync.Mutex
	ws *websocket.Conn
}

// NewWSConn wraps ws under the given client id, generating one if empty.
func NewWSConn(clientID string, ws *websocket.Conn) *WSConn {
	if clientID == "" {
		clientID = id.NewClientID()
	}
	return &WSConn{id: clientID, ws: ws}
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *WSConn) Close() error { return c.ws.Close() }

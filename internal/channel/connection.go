package channel

import (
	"fmt"
	"time"

	"github.com/appconnect-dev/appconnect/internal/crypto"
)

// State is the per-connection handshake state.
type State int

const (
	// StateAwaitingHandshake means no session key is installed yet; only
	// the key exchange is accepted.
	StateAwaitingHandshake State = iota
	// StateReady means the session key is installed and encrypted frames
	// flow in both directions.
	StateReady
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn the server uses. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection is the server-side state for one accepted socket. It is
// created by the accept path during the handshake and afterwards owned
// exclusively by the server's event loop; none of its fields are guarded
// by locks.
type Connection struct {
	id         string
	remoteAddr string
	ws         Conn

	state  State
	cipher *crypto.Codec // non-nil exactly when state == StateReady

	connectedAt  time.Time
	lastActivity time.Time
	lastPong     time.Time
	healthy      bool

	messagesSent     int64
	messagesReceived int64
	errors           int64
}

func newConnection(id, remoteAddr string, ws Conn) *Connection {
	now := time.Now()
	return &Connection{
		id:           id,
		remoteAddr:   remoteAddr,
		ws:           ws,
		state:        StateAwaitingHandshake,
		connectedAt:  now,
		lastActivity: now,
		lastPong:     now,
		healthy:      true,
	}
}

// ID returns the log identifier for this connection.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// State returns the current handshake state.
func (c *Connection) State() State { return c.state }

// Healthy reports the classifier's last verdict.
func (c *Connection) Healthy() bool { return c.healthy }

// MessagesSent returns the count of envelopes sent to this peer.
func (c *Connection) MessagesSent() int64 { return c.messagesSent }

// MessagesReceived returns the count of envelopes received from this peer.
func (c *Connection) MessagesReceived() int64 { return c.messagesReceived }

// Errors returns the count of recovered per-frame errors.
func (c *Connection) Errors() int64 { return c.errors }

// Uptime returns how long the connection has been established.
func (c *Connection) Uptime() time.Duration { return time.Since(c.connectedAt) }

// Cipher returns the session codec. It fails until the handshake has
// completed, so key material is unreachable in AwaitingHandshake.
func (c *Connection) Cipher() (*crypto.Codec, error) {
	if c.state != StateReady || c.cipher == nil {
		return nil, fmt.Errorf("connection %s is %s, no session key", c.id, c.state)
	}
	return c.cipher, nil
}

// installKey wraps a 32-byte session key and moves the connection to
// Ready. The key is exclusive to this connection and never persisted.
func (c *Connection) installKey(key []byte) error {
	codec, err := crypto.NewCodec(key)
	if err != nil {
		return err
	}
	c.cipher = codec
	c.state = StateReady
	return nil
}

// touch records proof of life: any inbound frame of any kind refreshes
// both liveness timestamps.
func (c *Connection) touch(now time.Time) {
	c.lastActivity = now
	c.lastPong = now
}

// close moves the connection to its terminal state and closes the socket.
func (c *Connection) close() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.cipher = nil
	_ = c.ws.Close()
}

package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// fakeConn is an in-memory Conn with scripted inbound messages and
// recorded outbound frames.
type fakeConn struct {
	mu sync.Mutex

	inbound    [][]byte // scripted ReadMessage results, consumed front to back
	written    []string // recorded text frames
	pings      int      // recorded ping control frames
	closed     bool
	failWrites bool
	failPings  bool
}

var errFakeClosed = errors.New("fake connection closed")

func (f *fakeConn) queue(messages ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range messages {
		f.inbound = append(f.inbound, []byte(m))
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || len(f.inbound) == 0 {
		return 0, nil, errFakeClosed
	}
	msg := f.inbound[0]
	f.inbound = f.inbound[1:]
	return websocket.TextMessage, msg, nil
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.failWrites {
		return errFakeClosed
	}
	f.written = append(f.written, string(data))
	return nil
}

func (f *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.failPings {
		return errFakeClosed
	}
	if messageType == websocket.PingMessage {
		f.pings++
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	copy(out, f.written)
	return out
}

func (f *fakeConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

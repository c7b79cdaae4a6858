// Package channel implements the secure synchronized clipboard channel:
// the per-connection handshake, wire-frame dispatch, broadcast, and the
// connection-health monitors.
package channel

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/appconnect-dev/appconnect/internal/crypto"
	"github.com/appconnect-dev/appconnect/internal/protocol"
	"github.com/appconnect-dev/appconnect/internal/util"
)

// Sink receives clipboard content decrypted from peers. Implementations
// may block on OS calls; the server always invokes them off its event loop.
type Sink interface {
	WriteText(content string) error
}

// Config carries the server's collaborators and identity.
type Config struct {
	// Addr is the listen address, e.g. ":8765".
	Addr string

	// DeviceID identifies this device in outgoing envelopes.
	DeviceID string

	// TLS terminates the wss:// transport. When nil the server speaks
	// plain ws:// (tests only).
	TLS *tls.Config

	// Exchange performs the RSA handshake. Ignored when PreSharedKey is set.
	Exchange *crypto.KeyExchange

	// PreSharedKey, when non-nil, is a fixed 32-byte session key installed
	// on every connection, bypassing the handshake entirely.
	PreSharedKey []byte

	// Sink is the local clipboard writer. Optional.
	Sink Sink

	// OnClipboardReceived is invoked after every successfully decrypted
	// and locally written envelope. Optional.
	OnClipboardReceived func(content string)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type inboundFrame struct {
	conn *Connection
	text string
}

type broadcastRequest struct {
	content string
	reply   chan int
}

type asyncError struct {
	connID    string
	errorType string
	message   string
}

// Snapshot is an aggregate view of server state, answered by the event loop.
type Snapshot struct {
	ActiveConnections  int
	ReadyConnections   int
	HealthyConnections int
}

// Server accepts websocket connections, drives the handshake, dispatches
// frames, and broadcasts local clipboard changes.
//
// Concurrency model: a single event-loop goroutine owns the connection map
// and every per-connection field after registration. Reader goroutines only
// forward raw frames and pong notices into the loop; blocking OS work
// (clipboard writes, the received callback) is handed to a worker
// goroutine whose failures come back to the loop as asyncError events.
type Server struct {
	cfg Config

	listener net.Listener
	httpSrv  *http.Server

	conns       map[string]*Connection
	connOrdinal atomic.Int64

	register     chan *Connection
	unregister   chan *Connection
	frames       chan inboundFrame
	pongs        chan *Connection
	broadcasts   chan broadcastRequest
	localChanges chan string
	asyncErrs    chan asyncError
	snapshots    chan chan Snapshot
	work         chan func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Server. Call Start to begin accepting connections.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8765"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:          cfg,
		conns:        make(map[string]*Connection),
		register:     make(chan *Connection),
		unregister:   make(chan *Connection),
		frames:       make(chan inboundFrame),
		pongs:        make(chan *Connection),
		broadcasts:   make(chan broadcastRequest),
		localChanges: make(chan string, 16),
		asyncErrs:    make(chan asyncError, 16),
		snapshots:    make(chan chan Snapshot),
		work:         make(chan func(), 64),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// Start begins listening and launches the event loop, the offload worker,
// and both health monitors. It returns once the listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.TLS != nil {
		listener = tls.NewListener(listener, s.cfg.TLS)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case <-s.ctx.Done():
			default:
				util.LogError("channel server: %v", err)
			}
		}
	}()

	go s.worker()
	go s.run()

	util.LogInfo("channel server listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop cancels the monitors, closes all live sockets, and shuts the
// listener down. In-flight handshakes abort via their read deadline.
func (s *Server) Stop() {
	s.cancel()
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(ctx)
	}
	<-s.done
}

// OnLocalChange hands a local clipboard change into the event loop's
// domain. It is safe to call from any goroutine and never blocks; if the
// loop is saturated the change is dropped (the monitor will observe the
// next one).
func (s *Server) OnLocalChange(content string) {
	select {
	case s.localChanges <- content:
	default:
		util.LogWarning("local change dropped, broadcast queue full")
	}
}

// Broadcast sends content to every Ready connection and returns the number
// of successful sends. Safe to call from any goroutine while the server is
// running.
func (s *Server) Broadcast(content string) int {
	req := broadcastRequest{content: content, reply: make(chan int, 1)}
	select {
	case s.broadcasts <- req:
		return <-req.reply
	case <-s.ctx.Done():
		return 0
	}
}

// Stats returns an aggregate snapshot, or the zero Snapshot after Stop.
func (s *Server) Stats() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case s.snapshots <- reply:
		return <-reply
	case <-s.ctx.Done():
		return Snapshot{}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Event loop
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) run() {
	defer close(s.done)

	probe := time.NewTicker(pingInterval)
	defer probe.Stop()
	classify := time.NewTicker(healthInterval)
	defer classify.Stop()

	for {
		select {
		case conn := <-s.register:
			s.conns[conn.id] = conn
			util.LogInfo("[%s] registered (%s), %d active", conn.id, conn.remoteAddr, len(s.conns))

		case conn := <-s.unregister:
			s.remove(conn, "socket closed")

		case f := <-s.frames:
			s.handleFrame(f.conn, f.text, time.Now())

		case conn := <-s.pongs:
			if live, ok := s.conns[conn.id]; ok {
				live.touch(time.Now())
			}

		case req := <-s.broadcasts:
			req.reply <- s.broadcast(req.content)

		case content := <-s.localChanges:
			n := s.broadcast(content)
			util.LogInfo("local change broadcast to %d peer(s)", n)

		case e := <-s.asyncErrs:
			if conn, ok := s.conns[e.connID]; ok {
				s.recordFrameError(conn, e.errorType, e.message)
			}

		case reply := <-s.snapshots:
			reply <- s.snapshot()

		case <-probe.C:
			s.probeLiveness(time.Now())

		case <-classify.C:
			s.classifyHealth(time.Now())

		case <-s.ctx.Done():
			for _, conn := range s.conns {
				conn.close()
			}
			s.conns = make(map[string]*Connection)
			util.LogInfo("channel server stopped")
			return
		}
	}
}

func (s *Server) snapshot() Snapshot {
	snap := Snapshot{ActiveConnections: len(s.conns)}
	for _, c := range s.conns {
		if c.state == StateReady {
			snap.ReadyConnections++
		}
		if c.healthy {
			snap.HealthyConnections++
		}
	}
	return snap
}

// remove closes conn and drops it from the live set. Safe to call for
// connections that were already removed.
func (s *Server) remove(conn *Connection, reason string) {
	if _, ok := s.conns[conn.id]; !ok {
		return
	}
	delete(s.conns, conn.id)
	conn.close()
	util.Stats.RemoveConn()
	util.LogInfo("[%s] removed: %s, %d active", conn.id, reason, len(s.conns))
}

// ──────────────────────────────────────────────────────────────────────────────
// Accept path: upgrade, handshake, read pump
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := newConnection(util.ConnID(r.RemoteAddr, s.connOrdinal.Add(1)), r.RemoteAddr, ws)
	util.Stats.AddConn()
	util.LogInfo("[%s] connected from %s", conn.id, conn.remoteAddr)

	if err := s.performHandshake(conn); err != nil {
		util.LogWarning("[%s] handshake failed: %v", conn.id, err)
		conn.close()
		util.Stats.RemoveConn()
		return
	}

	// Initial status snapshot, sent once right after the handshake.
	s.sendControl(conn, &protocol.ConnectionStatus{
		Type:      protocol.TypeConnectionStatus,
		Status:    "connected",
		Timestamp: time.Now().UnixMilli(),
		Stats: protocol.ConnectionStats{
			MessagesSent:     conn.messagesSent,
			MessagesReceived: conn.messagesReceived,
			Uptime:           int64(conn.Uptime() / time.Millisecond),
		},
	})

	select {
	case s.register <- conn:
	case <-s.ctx.Done():
		conn.close()
		return
	}

	s.readPump(conn)
}

// performHandshake installs the pre-shared key, or waits up to 10 seconds
// for the peer's key_exchange message and decrypts it. Any failure is
// terminal: the peer gets a best-effort error ack and the socket closes.
func (s *Server) performHandshake(conn *Connection) error {
	if s.cfg.PreSharedKey != nil {
		if err := conn.installKey(s.cfg.PreSharedKey); err != nil {
			return err
		}
		util.LogInfo("[%s] using pre-shared key", conn.id)
		return nil
	}
	if s.cfg.Exchange == nil {
		return fmt.Errorf("%w: no key exchange configured", crypto.ErrKeyExchange)
	}

	key, err := s.awaitSessionKey(conn)
	if err != nil {
		// Best-effort error ack; the connection is closing either way.
		s.sendControl(conn, protocol.NewKeyExchangeAck(err.Error()))
		return err
	}
	if err := conn.installKey(key); err != nil {
		s.sendControl(conn, protocol.NewKeyExchangeAck(err.Error()))
		return err
	}
	s.sendControl(conn, protocol.NewKeyExchangeAck(""))
	util.LogInfo("[%s] key exchange completed", conn.id)
	return nil
}

func (s *Server) awaitSessionKey(conn *Connection) ([]byte, error) {
	_ = conn.ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.ws.SetReadDeadline(time.Time{})

	_, data, err := conn.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for key_exchange: %v", crypto.ErrKeyExchange, err)
	}

	var msg protocol.KeyExchange
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: malformed key_exchange JSON: %v", crypto.ErrKeyExchange, err)
	}
	if msg.Type != protocol.TypeKeyExchange {
		return nil, fmt.Errorf("%w: expected %s message, got %q", crypto.ErrKeyExchange, protocol.TypeKeyExchange, msg.Type)
	}
	return s.cfg.Exchange.DecryptSessionKey(msg.EncryptedKey)
}

// readPump forwards frames and pong notices into the event loop until the
// socket dies.
func (s *Server) readPump(conn *Connection) {
	conn.ws.SetPongHandler(func(string) error {
		select {
		case s.pongs <- conn:
		case <-s.ctx.Done():
		}
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			select {
			case s.unregister <- conn:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case s.frames <- inboundFrame{conn: conn, text: string(data)}:
		case <-s.ctx.Done():
			return
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Dispatch
// ──────────────────────────────────────────────────────────────────────────────

// handleFrame classifies and processes one inbound text frame. A bad frame
// never closes the connection; errors are logged, counted, and reported to
// the peer.
func (s *Server) handleFrame(conn *Connection, text string, now time.Time) {
	conn.touch(now)
	util.Stats.AddRecv()

	if conn.state != StateReady {
		util.LogWarning("[%s] dropping frame received in state %s", conn.id, conn.state)
		return
	}

	switch protocol.ClassifyFrame(text) {
	case protocol.FrameControl:
		s.handleControl(conn, text)
	case protocol.FrameEncrypted:
		s.handleEncrypted(conn, text)
	}
}

func (s *Server) handleControl(conn *Connection, text string) {
	switch protocol.ControlType(text) {
	case protocol.TypeErrorReport:
		var report protocol.ErrorReport
		if err := json.Unmarshal([]byte(text), &report); err == nil {
			util.LogWarning("[%s] peer reported error %s: %s", conn.id, report.ErrorType, report.Message)
		}

	case protocol.TypeConnectionStatus:
		var status protocol.ConnectionStatus
		if err := json.Unmarshal([]byte(text), &status); err == nil {
			util.LogInfo("[%s] peer status %q: sent=%d recv=%d uptime=%dms",
				conn.id, status.Status, status.Stats.MessagesSent, status.Stats.MessagesReceived, status.Stats.Uptime)
		}

	case protocol.TypeClipboardSyncResult:
		var result protocol.ClipboardSyncResult
		if err := json.Unmarshal([]byte(text), &result); err == nil {
			if result.Success {
				util.LogDebug("[%s] sync confirmed for %s", conn.id, result.ClipboardID)
			} else {
				util.LogWarning("[%s] sync failed for %s: %s", conn.id, result.ClipboardID, result.Message)
			}
		}

	default:
		util.LogWarning("[%s] ignoring control message of type %q", conn.id, protocol.ControlType(text))
	}
}

func (s *Server) handleEncrypted(conn *Connection, text string) {
	cipher, err := conn.Cipher()
	if err != nil {
		s.recordFrameError(conn, protocol.ErrorDecryptionFailed, err.Error())
		return
	}
	plaintext, err := cipher.DecodeFromTransmission(text)
	if err != nil {
		s.recordFrameError(conn, protocol.ErrorDecryptionFailed, err.Error())
		return
	}
	env, err := protocol.DecodeEnvelope(plaintext)
	if err != nil {
		s.recordFrameError(conn, protocol.ErrorDecryptionFailed, err.Error())
		return
	}

	conn.messagesReceived++
	util.LogInfo("[%s] received clipboard: %s", conn.id, util.Snippet(env.Content))

	// Clipboard writes and the user callback may block on OS calls, so
	// they run on the worker; write failures come back as loop events.
	connID, content := conn.id, env.Content
	s.offload(func() {
		if s.cfg.Sink != nil {
			if err := s.cfg.Sink.WriteText(content); err != nil {
				s.reportAsync(connID, protocol.ErrorClipboardWriteFailed, err.Error())
				return
			}
		}
		if s.cfg.OnClipboardReceived != nil {
			s.cfg.OnClipboardReceived(content)
		}
	})
}

// recordFrameError logs a recovered per-frame failure, counts it, and
// best-effort notifies the peer. The connection stays open.
func (s *Server) recordFrameError(conn *Connection, errorType, message string) {
	util.LogError("[%s] %s: %s", conn.id, errorType, message)
	conn.errors++
	util.Stats.AddError()
	s.sendControl(conn, &protocol.ErrorReport{
		Type:      protocol.TypeErrorReport,
		ErrorType: errorType,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Outbound
// ──────────────────────────────────────────────────────────────────────────────

type sendOutcome int

const (
	sendOK              sendOutcome = iota
	sendRejected                    // connection not Ready, or payload could not be built
	sendTransportFailed             // the socket write itself failed
)

// sendClipboard builds a fresh envelope for content and writes it to conn.
func (s *Server) sendClipboard(conn *Connection, content string) sendOutcome {
	cipher, err := conn.Cipher()
	if err != nil {
		util.LogWarning("[%s] cannot send: %v", conn.id, err)
		return sendRejected
	}

	env := protocol.NewTextEnvelope(content, s.cfg.DeviceID)
	plaintext, err := env.Encode()
	if err != nil {
		util.LogError("[%s] envelope encode: %v", conn.id, err)
		conn.errors++
		util.Stats.AddError()
		return sendRejected
	}
	frame, err := cipher.EncodeForTransmission(plaintext)
	if err != nil {
		util.LogError("[%s] encrypt for transmission: %v", conn.id, err)
		conn.errors++
		util.Stats.AddError()
		return sendRejected
	}

	if err := s.writeFrame(conn, frame); err != nil {
		util.LogError("[%s] send failed: %v", conn.id, err)
		conn.healthy = false
		conn.errors++
		util.Stats.AddError()
		// Best-effort; the transport just failed, so this usually fails too.
		s.sendControl(conn, &protocol.ErrorReport{
			Type:      protocol.TypeErrorReport,
			ErrorType: protocol.ErrorSendFailed,
			Message:   "failed to deliver clipboard frame",
			Timestamp: time.Now().UnixMilli(),
		})
		return sendTransportFailed
	}

	conn.messagesSent++
	conn.lastActivity = time.Now()
	util.Stats.AddSent()
	util.LogInfo("[%s] sent clipboard %s: %s", conn.id, env.ID, util.Snippet(content))
	return sendOK
}

// broadcast sends content to a snapshot of the live set. Per-connection
// failures do not abort the loop; connections whose transport failed are
// removed afterwards. Returns the number of successful sends.
func (s *Server) broadcast(content string) int {
	snapshot := make([]*Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		snapshot = append(snapshot, conn)
	}

	count := 0
	var failed []*Connection
	for _, conn := range snapshot {
		switch s.sendClipboard(conn, content) {
		case sendOK:
			count++
		case sendTransportFailed:
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		s.remove(conn, "transport failure during broadcast")
	}
	util.Stats.AddBroadcast()
	return count
}

// sendControl writes a cleartext control message. Failures are swallowed:
// control messages are advisory and the caller is often already on an
// error path.
func (s *Server) sendControl(conn *Connection, msg any) {
	text, err := protocol.MarshalControl(msg)
	if err != nil {
		util.LogError("[%s] control marshal: %v", conn.id, err)
		return
	}
	if err := s.writeFrame(conn, text); err != nil {
		util.LogDebug("[%s] control send failed: %v", conn.id, err)
	}
}

func (s *Server) writeFrame(conn *Connection, text string) error {
	_ = conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

// ──────────────────────────────────────────────────────────────────────────────
// Offload worker
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) worker() {
	for {
		select {
		case fn := <-s.work:
			fn()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) offload(fn func()) {
	select {
	case s.work <- fn:
	case <-s.ctx.Done():
	}
}

// reportAsync routes a worker-side failure back into the event loop, which
// owns the error counters and the socket. Best-effort.
func (s *Server) reportAsync(connID, errorType, message string) {
	select {
	case s.asyncErrs <- asyncError{connID: connID, errorType: errorType, message: message}:
	default:
	}
}

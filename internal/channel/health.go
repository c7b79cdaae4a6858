package channel

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/appconnect-dev/appconnect/internal/util"
)

// Timing constants for the handshake and the two monitors. The stale
// thresholds are deliberately generous: mobile peers ride out network
// transitions that silence a socket for tens of seconds.
const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second

	pingInterval   = 30 * time.Second // liveness probe period
	healthInterval = 15 * time.Second // health classifier period

	pongStaleAfter           = 90 * time.Second  // both monitors
	probeActivityStaleAfter  = 90 * time.Second  // liveness probe eviction
	healthActivityStaleAfter = 120 * time.Second // health classifier
)

// probeLiveness runs every pingInterval on the event loop. A connection
// whose pong AND activity are both older than 90s is declared dead and
// evicted; everyone else gets a protocol-level ping. A failed ping write
// also evicts; the probe never retries.
func (s *Server) probeLiveness(now time.Time) {
	var dead []*Connection
	for _, conn := range s.conns {
		if conn.state != StateReady {
			continue
		}
		if now.Sub(conn.lastPong) > pongStaleAfter && now.Sub(conn.lastActivity) > probeActivityStaleAfter {
			util.LogWarning("[%s] unresponsive for %s, evicting", conn.id, now.Sub(conn.lastActivity).Round(time.Second))
			dead = append(dead, conn)
			continue
		}
		if err := conn.ws.WriteControl(websocket.PingMessage, nil, now.Add(writeTimeout)); err != nil {
			util.LogWarning("[%s] ping failed: %v, evicting", conn.id, err)
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		s.remove(conn, "liveness probe")
	}
}

// classifyHealth runs every healthInterval on the event loop. It flips the
// healthy flag only when both signals agree: both stale marks unhealthy,
// both fresh marks healthy, and a single stale signal leaves the flag
// unchanged so one transient hiccup cannot flap it. Transitions are logged
// once. The classifier never closes connections; eviction belongs to the
// liveness probe alone.
func (s *Server) classifyHealth(now time.Time) {
	for _, conn := range s.conns {
		pongStale := now.Sub(conn.lastPong) > pongStaleAfter
		activityStale := now.Sub(conn.lastActivity) > healthActivityStaleAfter

		switch {
		case pongStale && activityStale:
			if conn.healthy {
				conn.healthy = false
				util.LogWarning("[%s] marked unhealthy (pong %s, activity %s ago)",
					conn.id, now.Sub(conn.lastPong).Round(time.Second), now.Sub(conn.lastActivity).Round(time.Second))
			}
		case !pongStale && !activityStale:
			if !conn.healthy {
				conn.healthy = true
				util.LogInfo("[%s] recovered, marked healthy", conn.id)
			}
		}
	}
}

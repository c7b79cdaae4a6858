package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide channel counter.
var Stats = &stats{}

type stats struct {
	TotalConns     atomic.Int64 // cumulative count of accepted connections since process start
	ClosedConns    atomic.Int64 // cumulative count of closed connections since process start
	FramesSent     atomic.Int64 // cumulative frames written to peers
	FramesRecv     atomic.Int64 // cumulative frames read from peers
	Broadcasts     atomic.Int64 // cumulative local-change broadcasts
	ProtocolErrors atomic.Int64 // cumulative per-frame protocol errors
}

func (s *stats) AddConn()      { s.TotalConns.Add(1) }
func (s *stats) RemoveConn()   { s.ClosedConns.Add(1) }
func (s *stats) AddSent()      { s.FramesSent.Add(1) }
func (s *stats) AddRecv()      { s.FramesRecv.Add(1) }
func (s *stats) AddBroadcast() { s.Broadcasts.Add(1) }
func (s *stats) AddError()     { s.ProtocolErrors.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs channel statistics
// every 60 seconds. Quiet intervals (no traffic) are not logged. It stops
// when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevErr int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.FramesSent.Load()
				recv := Stats.FramesRecv.Load()
				errs := Stats.ProtocolErrors.Load()
				active := Stats.TotalConns.Load() - Stats.ClosedConns.Load()

				if sent != prevSent || recv != prevRecv || errs != prevErr {
					pterm.DefaultLogger.Info(formatStats(active, sent-prevSent, recv-prevRecv, errs-prevErr))
				}

				prevSent = sent
				prevRecv = recv
				prevErr = errs

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a formatted string of the interval stats for display in the logger.
func formatStats(active, sent, recv, errs int64) string {
	return fmt.Sprintf("Conns: %d | Sent: %d | Recv: %d | Errors: %d", active, sent, recv, errs)
}

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

// Stats is the process-wide signaling counter.
var Stats = &stats{}

type stats struct {
	MessagesSent      atomic.Int64 // signaling messages published
	MessagesRecv      atomic.Int64 // signaling messages delivered to a negotiator (self excluded)
	MessagesIgnored   atomic.Int64 // malformed, unknown or out-of-place messages
	CandidatesQueued  atomic.Int64 // remote candidates parked until a remote description exists
	CandidatesApplied atomic.Int64 // remote candidates handed to the transport
	CandidatesDropped atomic.Int64 // remote candidates the transport rejected
}

func (s *stats) AddSent()             { s.MessagesSent.Add(1) }
func (s *stats) AddRecv()             { s.MessagesRecv.Add(1) }
func (s *stats) AddIgnored()          { s.MessagesIgnored.Add(1) }
func (s *stats) AddCandidateQueued()  { s.CandidatesQueued.Add(1) }
func (s *stats) AddCandidateApplied() { s.CandidatesApplied.Add(1) }
func (s *stats) AddCandidateDropped() { s.CandidatesDropped.Add(1) }

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	sent, recv, ignored      int64
	queued, applied, dropped int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		sent:    s.MessagesSent.Load(),
		recv:    s.MessagesRecv.Load(),
		ignored: s.MessagesIgnored.Load(),
		queued:  s.CandidatesQueued.Load(),
		applied: s.CandidatesApplied.Load(),
		dropped: s.CandidatesDropped.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every interval. Nothing is printed for quiet intervals. It stops when ctx
// is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur, prev))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns the per-interval deltas in a fixed layout for the logger.
func formatStats(cur, prev snapshot) string {
	return fmt.Sprintf("Msg: %3d↑ %3d↓ %2d✗ | ICE: %2d queued %2d applied %2d dropped",
		cur.sent-prev.sent,
		cur.recv-prev.recv,
		cur.ignored-prev.ignored,
		cur.queued-prev.queued,
		cur.applied-prev.applied,
		cur.dropped-prev.dropped,
	)
}

package monitor

import (
	"sync"
	"time"

	"github.com/oicur0t/tradealert/pkg/models"
)

// RunningStats holds the counters of one monitoring session. Counters only grow.
type RunningStats struct {
	mu        sync.Mutex
	startTime time.Time
	lines     int64
	trades    int64
	senders   map[string]struct{}
}

// NewRunningStats creates zeroed stats starting now
func NewRunningStats() *RunningStats {
	return &RunningStats{
		startTime: time.Now(),
		senders:   make(map[string]struct{}),
	}
}

func (s *RunningStats) recordLine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines++
}

func (s *RunningStats) recordTrade(sender string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades++
	s.senders[sender] = struct{}{}
}

// Snapshot returns a copy of the counters
func (s *RunningStats) Snapshot(bytesRead int64) models.StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := models.StatsSnapshot{
		StartTime:           s.startTime,
		TotalLinesProcessed: s.lines,
		TotalBytesRead:      bytesRead,
		TradeMessagesFound:  s.trades,
		UniqueSenders:       len(s.senders),
	}
	if elapsed := time.Since(s.startTime).Seconds(); elapsed > 0 {
		snap.LinesPerSecond = float64(s.lines) / elapsed
	}
	return snap
}

package service

import (
	"sync"
	"time"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

const statsWindow = 100

// RollingStats keeps a bounded window of recent outcomes for health-check
// details: error rate and duration profile over the last N documents.
type RollingStats struct {
	mu       sync.Mutex
	outcomes []statPoint
	next     int
	filled   bool
	total    uint64
}

type statPoint struct {
	success  bool
	duration time.Duration
}

func NewRollingStats() *RollingStats {
	return &RollingStats{outcomes: make([]statPoint, statsWindow)}
}

func (s *RollingStats) Observe(outcome domain.ProcessingOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes[s.next] = statPoint{success: outcome.Success, duration: outcome.Duration}
	s.next = (s.next + 1) % len(s.outcomes)
	if s.next == 0 {
		s.filled = true
	}
	s.total++
}

type StatsSnapshot struct {
	TotalProcessed uint64
	WindowSize     int
	ErrorRate      float64
	AvgDuration    time.Duration
	MaxDuration    time.Duration
}

func (s *RollingStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.filled {
		size = len(s.outcomes)
	}
	snap := StatsSnapshot{TotalProcessed: s.total, WindowSize: size}
	if size == 0 {
		return snap
	}

	var failures int
	var sum time.Duration
	for i := 0; i < size; i++ {
		p := s.outcomes[i]
		if !p.success {
			failures++
		}
		sum += p.duration
		if p.duration > snap.MaxDuration {
			snap.MaxDuration = p.duration
		}
	}
	snap.ErrorRate = float64(failures) / float64(size)
	snap.AvgDuration = sum / time.Duration(size)
	return snap
}

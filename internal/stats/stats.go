// Package stats accumulates the outcome of pipeline cycles for one run session.
package stats

import (
	"sync"
	"time"

	"github.com/ibeckermayer/trendpost/internal/types"
)

// RunStats holds counters and the attempt history of a single session.
// It is safe for concurrent use; readers always see a consistent snapshot.
type RunStats struct {
	mu        sync.RWMutex
	now       func() time.Time
	startedAt time.Time
	total     int
	succeeded int
	failed    int
	history   []types.Attempt
}

// Summary is a point-in-time view of a RunStats.
type Summary struct {
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	StartedAt   time.Time     `json:"started_at"`
	Uptime      time.Duration `json:"uptime"` // zero when StartedAt is unset
	LastAttempt time.Time     `json:"last_attempt"`
	LastSuccess time.Time     `json:"last_success"`
}

// New creates stats for a session that started at startedAt.
// A zero startedAt means no session has started yet.
func New(startedAt time.Time) *RunStats {
	return &RunStats{startedAt: startedAt, now: time.Now}
}

// WithClock overrides the clock used to compute uptime.
func (s *RunStats) WithClock(now func() time.Time) *RunStats {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// Record appends an attempt and bumps the matching counter.
func (s *RunStats) Record(a types.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if a.Succeeded {
		s.succeeded++
	} else {
		s.failed++
	}
	s.history = append(s.history, a)
}

// SuccessRate returns the share of successful attempts in percent.
func (s *RunStats) SuccessRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.successRateLocked()
}

func (s *RunStats) successRateLocked() float64 {
	if s.total == 0 {
		return 0
	}
	return 100 * float64(s.succeeded) / float64(s.total)
}

// StartedAt returns when the session began, or the zero time.
func (s *RunStats) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Summary returns the aggregate counters and derived metrics.
func (s *RunStats) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		Total:       s.total,
		Succeeded:   s.succeeded,
		Failed:      s.failed,
		SuccessRate: s.successRateLocked(),
		StartedAt:   s.startedAt,
	}
	if !s.startedAt.IsZero() {
		sum.Uptime = s.now().Sub(s.startedAt).Truncate(time.Second)
	}
	if n := len(s.history); n > 0 {
		sum.LastAttempt = s.history[n-1].Timestamp
	}
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Succeeded {
			sum.LastSuccess = s.history[i].Timestamp
			break
		}
	}
	return sum
}

// History returns a copy of all attempts in the order they were recorded.
func (s *RunStats) History() []types.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Attempt, len(s.history))
	copy(out, s.history)
	return out
}

// Recent returns up to n attempts, newest first.
func (s *RunStats) Recent(n int) []types.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]types.Attempt, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.history[i])
	}
	return out
}

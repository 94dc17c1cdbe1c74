package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ibeckermayer/trendpost/internal/scheduler"
	"github.com/ibeckermayer/trendpost/internal/stats"
	"github.com/ibeckermayer/trendpost/internal/types"
)

func TestNextRunLabel(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)

	tests := []struct {
		name string
		st   scheduler.Status
		want string
	}{
		{"stopped", scheduler.Status{State: scheduler.Stopped}, "Next: N/A"},
		{"stopping", scheduler.Status{State: scheduler.Stopping, NextDue: now.Add(time.Minute)}, "Next: N/A"},
		{"running without due", scheduler.Status{State: scheduler.Running}, "Next: N/A"},
		{"countdown", scheduler.Status{State: scheduler.Running, NextDue: now.Add(5*time.Minute + 7*time.Second)}, "Next: 12:05:07 (in 05m 07s)"},
		{"long countdown", scheduler.Status{State: scheduler.Running, NextDue: now.Add(90 * time.Minute)}, "Next: 13:30:00 (in 90m 00s)"},
		{"due now", scheduler.Status{State: scheduler.Running, NextDue: now}, "Running now..."},
		{"overdue", scheduler.Status{State: scheduler.Running, NextDue: now.Add(-time.Second)}, "Running now..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextRunLabel(tt.st, now))
		})
	}
}

func TestStateLabel(t *testing.T) {
	assert.Equal(t, "Status: running every 90 min", StateLabel(scheduler.Status{State: scheduler.Running, Interval: 90 * time.Minute}))
	assert.Equal(t, "Status: running every 2h", StateLabel(scheduler.Status{State: scheduler.Running, Interval: 2 * time.Hour}))
	assert.Equal(t, "Status: stopping...", StateLabel(scheduler.Status{State: scheduler.Stopping}))
	assert.Equal(t, "Status: stopped", StateLabel(scheduler.Status{}))
}

func TestSummaryLabels(t *testing.T) {
	s := stats.Summary{Succeeded: 3, Failed: 1, SuccessRate: 75}
	assert.Equal(t, "Posts: 3 ok, 1 failed (75.0%)", SummaryLabel(s))
	assert.Equal(t, "Uptime: N/A", UptimeLabel(s))
	assert.Equal(t, "Last post: never", LastPostLabel(s))

	s.StartedAt = time.Now()
	s.Uptime = 26*time.Hour + 3*time.Minute + 4*time.Second
	assert.Equal(t, "Uptime: 26:03:04", UptimeLabel(s))

	s.LastSuccess = time.Date(2024, 6, 1, 9, 5, 7, 0, time.UTC)
	assert.Equal(t, "Last post: 01/06/2024 09:05:07", LastPostLabel(s))
}

func TestHistoryLabel(t *testing.T) {
	ts := time.Date(2024, 6, 1, 9, 5, 0, 0, time.Local)
	assert.Equal(t, "01/06 09:05  #Go  ok",
		HistoryLabel(types.Attempt{Topic: "#Go", Succeeded: true, Stage: types.StageDone, Timestamp: ts}))
	assert.Equal(t, "01/06 09:05  #Go  failed at publish",
		HistoryLabel(types.Attempt{Topic: "#Go", Stage: types.StagePublish, Timestamp: ts}))
	assert.Equal(t, "01/06 09:05  (no topic)  failed at scrape",
		HistoryLabel(types.Attempt{Stage: types.StageScrape, Timestamp: ts}))
}

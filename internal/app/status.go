package app

import (
	"fmt"
	"time"

	"github.com/ibeckermayer/trendpost/internal/scheduler"
	"github.com/ibeckermayer/trendpost/internal/stats"
	"github.com/ibeckermayer/trendpost/internal/types"
)

// NextRunLabel formats the countdown shown in the control surface.
func NextRunLabel(st scheduler.Status, now time.Time) string {
	if st.State != scheduler.Running || st.NextDue.IsZero() {
		return "Next: N/A"
	}
	if !now.Before(st.NextDue) {
		return "Running now..."
	}
	left := st.NextDue.Sub(now).Round(time.Second)
	m := int(left / time.Minute)
	s := int((left % time.Minute) / time.Second)
	return fmt.Sprintf("Next: %s (in %02dm %02ds)", st.NextDue.Format("15:04:05"), m, s)
}

// StateLabel names the scheduler state for display.
func StateLabel(st scheduler.Status) string {
	switch st.State {
	case scheduler.Running:
		return fmt.Sprintf("Status: running every %s", FormatInterval(st.Interval))
	case scheduler.Stopping:
		return "Status: stopping..."
	default:
		return "Status: stopped"
	}
}

// FormatInterval renders an interval in whole minutes or hours.
func FormatInterval(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%d min", int(d/time.Minute))
}

// SummaryLabel formats session counters.
func SummaryLabel(s stats.Summary) string {
	return fmt.Sprintf("Posts: %d ok, %d failed (%.1f%%)", s.Succeeded, s.Failed, s.SuccessRate)
}

// UptimeLabel formats the session uptime as HH:MM:SS.
func UptimeLabel(s stats.Summary) string {
	if s.StartedAt.IsZero() {
		return "Uptime: N/A"
	}
	u := s.Uptime
	h := int(u / time.Hour)
	m := int((u % time.Hour) / time.Minute)
	sec := int((u % time.Minute) / time.Second)
	return fmt.Sprintf("Uptime: %02d:%02d:%02d", h, m, sec)
}

// LastPostLabel formats the time of the last successful post.
func LastPostLabel(s stats.Summary) string {
	if s.LastSuccess.IsZero() {
		return "Last post: never"
	}
	return "Last post: " + s.LastSuccess.Format("02/01/2006 15:04:05")
}

// HistoryLabel formats one attempt for the recent history list.
func HistoryLabel(a types.Attempt) string {
	topic := a.Topic
	if !a.HasTopic() {
		topic = "(no topic)"
	}
	result := "ok"
	if !a.Succeeded {
		result = "failed at " + string(a.Stage)
	}
	return fmt.Sprintf("%s  %s  %s", a.Timestamp.Format("02/01 15:04"), topic, result)
}

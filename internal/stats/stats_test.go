package stats

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/trendpost/internal/types"
)

func attempt(topic string, ok bool, ts time.Time) types.Attempt {
	return types.Attempt{Topic: topic, Succeeded: ok, Timestamp: ts}
}

func TestRecordCounters(t *testing.T) {
	s := New(time.Now())
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)

	outcomes := []bool{true, false, true, true, false, false, true}
	for i, ok := range outcomes {
		s.Record(attempt("#T", ok, base.Add(time.Duration(i)*time.Minute)))

		sum := s.Summary()
		assert.Equal(t, i+1, sum.Total)
		assert.Equal(t, sum.Total, sum.Succeeded+sum.Failed)
		assert.Len(t, s.History(), i+1)
	}

	sum := s.Summary()
	assert.Equal(t, 4, sum.Succeeded)
	assert.Equal(t, 3, sum.Failed)
}

func TestAttemptWithoutTopicIsCounted(t *testing.T) {
	s := New(time.Now())
	s.Record(types.Attempt{Succeeded: false, Stage: types.StageSession})

	sum := s.Summary()
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Failed)
	assert.Len(t, s.History(), 1)
	assert.False(t, s.History()[0].HasTopic())
}

func TestSuccessRate(t *testing.T) {
	s := New(time.Time{})
	assert.Equal(t, 0.0, s.SuccessRate())

	prev := s.SuccessRate()
	s.Record(attempt("#A", true, time.Now()))
	assert.GreaterOrEqual(t, s.SuccessRate(), prev)
	assert.InDelta(t, 100.0, s.SuccessRate(), 1e-9)

	prev = s.SuccessRate()
	s.Record(attempt("#B", false, time.Now()))
	assert.LessOrEqual(t, s.SuccessRate(), prev)
	assert.InDelta(t, 50.0, s.SuccessRate(), 1e-9)

	prev = s.SuccessRate()
	s.Record(attempt("#C", false, time.Now()))
	assert.LessOrEqual(t, s.SuccessRate(), prev)
	assert.InDelta(t, 100.0/3.0, s.SuccessRate(), 1e-9)

	prev = s.SuccessRate()
	s.Record(attempt("#D", true, time.Now()))
	assert.GreaterOrEqual(t, s.SuccessRate(), prev)
	assert.InDelta(t, 50.0, s.SuccessRate(), 1e-9)
}

func TestSummaryUptime(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := start.Add(90*time.Minute + 500*time.Millisecond)

	s := New(start).WithClock(func() time.Time { return now })
	sum := s.Summary()
	assert.Equal(t, 90*time.Minute, sum.Uptime)
	assert.True(t, sum.LastAttempt.IsZero())

	empty := New(time.Time{})
	assert.Zero(t, empty.Summary().Uptime)
}

func TestSummaryLastTimes(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := New(base)
	s.Record(attempt("#A", true, base.Add(time.Minute)))
	s.Record(attempt("#B", false, base.Add(2*time.Minute)))

	sum := s.Summary()
	assert.Equal(t, base.Add(2*time.Minute), sum.LastAttempt)
	assert.Equal(t, base.Add(time.Minute), sum.LastSuccess)
}

func TestRecentNewestFirst(t *testing.T) {
	base := time.Now()
	s := New(base)
	for _, topic := range []string{"#1", "#2", "#3", "#4"} {
		s.Record(attempt(topic, true, base))
	}

	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "#4", recent[0].Topic)
	assert.Equal(t, "#3", recent[1].Topic)

	assert.Len(t, s.Recent(0), 4)
	assert.Len(t, s.Recent(10), 4)
}

func TestHistoryIsACopy(t *testing.T) {
	s := New(time.Now())
	s.Record(attempt("#A", true, time.Now()))

	h := s.History()
	h[0].Topic = "changed"
	assert.Equal(t, "#A", s.History()[0].Topic)
}

func TestExportRoundTrip(t *testing.T) {
	base := time.Date(2024, 12, 31, 23, 59, 58, 0, time.Local)
	s := New(base)
	want := []types.Attempt{
		attempt("#Alpha", true, base),
		attempt("#Beta, with comma", false, base.Add(time.Second)),
		attempt("", false, base.Add(2*time.Second)),
		attempt("#Gamma", true, base.Add(time.Hour)),
	}
	for _, a := range want {
		s.Record(a)
	}

	var buf bytes.Buffer
	require.NoError(t, s.Export(&buf))
	assert.Contains(t, buf.String(), "Trend,Timestamp,Success\n")
	assert.Contains(t, buf.String(), "31/12/2024 23:59:58")

	rows, err := ReadCSV(&buf, time.Local)
	require.NoError(t, err)
	require.Len(t, rows, len(want))
	for i, a := range want {
		assert.Equal(t, a.Topic, rows[i].Topic)
		assert.True(t, a.Timestamp.Equal(rows[i].Timestamp), "row %d timestamp", i)
		assert.Equal(t, a.Succeeded, rows[i].Succeeded)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestExportFailureKeepsState(t *testing.T) {
	s := New(time.Now())
	s.Record(attempt("#A", true, time.Now()))

	err := s.Export(failingWriter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrIO)

	assert.Equal(t, 1, s.Summary().Total)
	assert.Len(t, s.History(), 1)
}

func TestExportFileBadPath(t *testing.T) {
	s := New(time.Now())
	err := s.ExportFile(t.TempDir() + "/missing/dir/out.csv")
	assert.ErrorIs(t, err, types.ErrIO)
}

func TestExportFile(t *testing.T) {
	s := New(time.Now())
	s.Record(attempt("#A", true, time.Now().Truncate(time.Second)))

	path := t.TempDir() + "/history.csv"
	require.NoError(t, s.ExportFile(path))
}

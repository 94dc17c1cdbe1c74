package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/trendpost/internal/pipeline"
	"github.com/ibeckermayer/trendpost/internal/types"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// manualTicker lets tests fire checks explicitly.
type manualTicker struct {
	mu      sync.Mutex
	check   func()
	stopped bool
}

func (t *manualTicker) Start(check func()) error {
	t.mu.Lock()
	t.check = check
	t.mu.Unlock()
	return nil
}

func (t *manualTicker) Stop() context.Context {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func (t *manualTicker) Fire() {
	t.mu.Lock()
	check, stopped := t.check, t.stopped
	t.mu.Unlock()
	if check != nil && !stopped {
		check()
	}
}

// fakeRunner records a successful attempt per run. If gate is set, each run
// blocks until a value is received from it.
type fakeRunner struct {
	calls atomic.Int32
	gate  chan struct{}
	ok    bool
}

func (r *fakeRunner) Run(ctx context.Context, rec pipeline.Recorder) types.Attempt {
	r.calls.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	a := types.Attempt{Topic: "#T", Succeeded: r.ok, Timestamp: time.Now()}
	rec.Record(a)
	return a
}

type harness struct {
	s      *Scheduler
	clock  *fakeClock
	ticker *manualTicker
	runner *fakeRunner
}

func newHarness(t *testing.T, cfg Config, runner *fakeRunner) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), ticker: &manualTicker{}, runner: runner}
	s, err := New(runner, cfg,
		WithClock(h.clock.Now),
		withTicker(func() ticker { return h.ticker }))
	require.NoError(t, err)
	h.s = s
	return h
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.s.Wait(ctx))
}

func waitStopped(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not reach stopped state")
	}
}

func TestNewDefaults(t *testing.T) {
	s, err := New(&fakeRunner{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, DefaultInterval, s.Interval())
	assert.Equal(t, DefaultMinInterval, s.MinInterval())
	assert.True(t, s.NextDue().IsZero())

	_, err = New(nil, Config{})
	assert.Error(t, err)
}

func TestNewClampsInterval(t *testing.T) {
	s, err := New(&fakeRunner{}, Config{Interval: time.Minute, MinInterval: 5 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, s.Interval())
}

func TestStartFiresOnFirstTick(t *testing.T) {
	h := newHarness(t, Config{Interval: 10 * time.Minute}, &fakeRunner{ok: true})

	require.NoError(t, h.s.Start())
	assert.Equal(t, Running, h.s.State())
	assert.Equal(t, h.clock.Now(), h.s.NextDue())

	h.ticker.Fire()
	h.waitIdle(t)

	assert.EqualValues(t, 1, h.runner.calls.Load())
	assert.Equal(t, h.clock.Now().Add(10*time.Minute), h.s.NextDue())
	assert.Equal(t, 1, h.s.Status().Summary.Total)

	// Not due yet.
	h.clock.Advance(9 * time.Minute)
	h.ticker.Fire()
	h.waitIdle(t)
	assert.EqualValues(t, 1, h.runner.calls.Load())

	h.clock.Advance(time.Minute)
	h.ticker.Fire()
	h.waitIdle(t)
	assert.EqualValues(t, 2, h.runner.calls.Load())
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, Config{}, &fakeRunner{})
	require.NoError(t, h.s.Start())
	assert.ErrorIs(t, h.s.Start(), ErrAlreadyRunning)
}

func TestStopWhenStopped(t *testing.T) {
	h := newHarness(t, Config{}, &fakeRunner{})
	_, err := h.s.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStartStopBeforeTick(t *testing.T) {
	runner := &fakeRunner{}
	s, err := New(runner, Config{Interval: 10 * time.Minute})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	ctx, err := s.Stop()
	require.NoError(t, err)
	waitStopped(t, ctx)

	assert.Equal(t, Stopped, s.State())
	assert.True(t, s.NextDue().IsZero())
	assert.EqualValues(t, 0, runner.calls.Load())

	// A late tick after stop must not launch anything either.
	time.Sleep(1200 * time.Millisecond)
	assert.EqualValues(t, 0, runner.calls.Load())
}

func TestCronTickerFiresAndStops(t *testing.T) {
	runner := &fakeRunner{ok: true}
	s, err := New(runner, Config{Interval: 10 * time.Minute, Tick: time.Second})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, 1, s.Stats().Summary().Total)
	assert.False(t, s.NextDue().IsZero())

	stopped, err := s.Stop()
	require.NoError(t, err)
	select {
	case <-stopped.Done():
	case <-time.After(time.Second):
		t.Fatal("stop not observed within a second")
	}
	assert.Equal(t, Stopped, s.State())
	assert.True(t, s.NextDue().IsZero())

	// Not due for another interval, and stopped anyway.
	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 1, runner.calls.Load())
}

func TestStopClearsNextDueAndIgnoresTicks(t *testing.T) {
	h := newHarness(t, Config{}, &fakeRunner{})
	require.NoError(t, h.s.Start())

	ctx, err := h.s.Stop()
	require.NoError(t, err)
	assert.True(t, h.s.NextDue().IsZero())
	waitStopped(t, ctx)

	h.s.check()
	h.waitIdle(t)
	assert.EqualValues(t, 0, h.runner.calls.Load())

	select {
	case <-h.s.Done():
	default:
		t.Fatal("Done channel not closed after stop")
	}
}

func TestStartResetsStats(t *testing.T) {
	h := newHarness(t, Config{}, &fakeRunner{ok: true})
	require.NoError(t, h.s.Start())
	h.ticker.Fire()
	h.waitIdle(t)
	assert.Equal(t, 1, h.s.Stats().Summary().Total)

	ctx, err := h.s.Stop()
	require.NoError(t, err)
	waitStopped(t, ctx)

	h.clock.Advance(time.Hour)
	h.ticker = &manualTicker{}
	require.NoError(t, h.s.Start())
	sum := h.s.Stats().Summary()
	assert.Equal(t, 0, sum.Total)
	assert.Equal(t, h.clock.Now(), sum.StartedAt)
}

func TestSetIntervalWhileRunningRecomputesNextDue(t *testing.T) {
	h := newHarness(t, Config{Interval: 90 * time.Minute}, &fakeRunner{})
	require.NoError(t, h.s.Start())
	h.ticker.Fire()
	h.waitIdle(t)

	oldNext := h.s.NextDue()
	h.clock.Advance(10 * time.Minute)

	got := h.s.SetInterval(15 * time.Minute)
	assert.Equal(t, 15*time.Minute, got)
	newNext := h.s.NextDue()
	assert.Equal(t, h.clock.Now().Add(15*time.Minute), newNext)
	assert.True(t, newNext.Before(oldNext))
}

func TestSetIntervalClampsToMinimum(t *testing.T) {
	h := newHarness(t, Config{Interval: 30 * time.Minute, MinInterval: 5 * time.Minute}, &fakeRunner{})
	assert.Equal(t, 5*time.Minute, h.s.SetInterval(time.Minute))
	assert.Equal(t, 5*time.Minute, h.s.SetInterval(0))
	assert.Equal(t, 5*time.Minute, h.s.Interval())
}

func TestSetIntervalWhileStoppedKeepsNextDueZero(t *testing.T) {
	h := newHarness(t, Config{}, &fakeRunner{})
	h.s.SetInterval(20 * time.Minute)
	assert.True(t, h.s.NextDue().IsZero())
	assert.Equal(t, 20*time.Minute, h.s.Interval())
}

func TestRunOnceResetsCountdown(t *testing.T) {
	interval := 30 * time.Minute
	h := newHarness(t, Config{Interval: interval}, &fakeRunner{ok: true})
	require.NoError(t, h.s.Start())
	h.ticker.Fire()
	h.waitIdle(t)
	originalDue := h.s.NextDue()

	h.clock.Advance(interval - 10*time.Second)
	require.NoError(t, h.s.RunOnce())
	h.waitIdle(t)
	assert.EqualValues(t, 2, h.runner.calls.Load())
	assert.Equal(t, h.clock.Now().Add(interval), h.s.NextDue())

	// The original deadline passes without a second fire.
	h.clock.Advance(10 * time.Second)
	require.False(t, h.clock.Now().Before(originalDue))
	h.ticker.Fire()
	h.waitIdle(t)
	assert.EqualValues(t, 2, h.runner.calls.Load())
}

func TestRunOnceWhileStopped(t *testing.T) {
	h := newHarness(t, Config{}, &fakeRunner{ok: true})
	require.NoError(t, h.s.RunOnce())
	h.waitIdle(t)

	assert.EqualValues(t, 1, h.runner.calls.Load())
	assert.Equal(t, Stopped, h.s.State())
	assert.True(t, h.s.NextDue().IsZero())
	assert.Equal(t, 1, h.s.Stats().Summary().Total)
}

func TestNoOverlap(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{}), ok: true}
	h := newHarness(t, Config{Interval: 5 * time.Minute}, runner)
	require.NoError(t, h.s.Start())

	h.ticker.Fire()
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.s.Status().InFlight)

	// Due again while the first cycle is still running: deferred.
	h.clock.Advance(10 * time.Minute)
	dueBefore := h.s.NextDue()
	h.ticker.Fire()
	assert.EqualValues(t, 1, runner.calls.Load())
	assert.Equal(t, dueBefore, h.s.NextDue(), "deferred fire keeps the due time")

	// Manual runs respect the in-flight cycle too.
	assert.ErrorIs(t, h.s.RunOnce(), ErrCycleInFlight)
	assert.EqualValues(t, 1, runner.calls.Load())

	runner.gate <- struct{}{}
	h.waitIdle(t)
	assert.False(t, h.s.Status().InFlight)

	// The next tick picks the deferred cycle up.
	h.ticker.Fire()
	require.Eventually(t, func() bool { return runner.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	runner.gate <- struct{}{}
	h.waitIdle(t)
	assert.Equal(t, 2, h.s.Stats().Summary().Total)
}

func TestStopDoesNotAbortInFlightCycle(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{}), ok: true}
	h := newHarness(t, Config{}, runner)
	require.NoError(t, h.s.Start())
	rs := h.s.Stats()

	h.ticker.Fire()
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, err := h.s.Stop()
	require.NoError(t, err)
	waitStopped(t, ctx)
	assert.Equal(t, Stopped, h.s.State())
	assert.Equal(t, 0, rs.Summary().Total)

	runner.gate <- struct{}{}
	h.waitIdle(t)
	assert.Equal(t, 1, rs.Summary().Total, "in-flight cycle still records its attempt")
}

func TestFailuresDoNotStopScheduler(t *testing.T) {
	h := newHarness(t, Config{Interval: 5 * time.Minute}, &fakeRunner{ok: false})
	require.NoError(t, h.s.Start())

	for i := 0; i < 3; i++ {
		h.ticker.Fire()
		h.waitIdle(t)
		h.clock.Advance(5 * time.Minute)
	}

	assert.Equal(t, Running, h.s.State())
	sum := h.s.Status().Summary
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 3, sum.Failed)
}

func TestOnRecordHook(t *testing.T) {
	h := newHarness(t, Config{}, &fakeRunner{ok: true})
	var mu sync.Mutex
	var got []types.Attempt
	h.s.OnRecord(func(a types.Attempt) {
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
	})

	require.NoError(t, h.s.RunOnce())
	h.waitIdle(t)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "#T", got[0].Topic)
}

func TestWaitWithConcurrentRunOnce(t *testing.T) {
	h := newHarness(t, Config{}, &fakeRunner{ok: true})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.s.RunOnce()
		}()
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			assert.NoError(t, h.s.Wait(ctx))
		}()
	}
	wg.Wait()
	h.waitIdle(t)

	calls := int(h.runner.calls.Load())
	assert.GreaterOrEqual(t, calls, 1)
	assert.Equal(t, calls, h.s.Stats().Summary().Total)
}

func TestWaitTimesOutOnStuckCycle(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{}), ok: true}
	h := newHarness(t, Config{}, runner)
	require.NoError(t, h.s.RunOnce())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.s.Wait(ctx), context.DeadlineExceeded)

	runner.gate <- struct{}{}
	h.waitIdle(t)
}

func TestCloseRefusesNewCycles(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{}), ok: true}
	h := newHarness(t, Config{}, runner)
	require.NoError(t, h.s.RunOnce())

	h.s.Close()
	assert.ErrorIs(t, h.s.RunOnce(), ErrClosed)
	assert.ErrorIs(t, h.s.Start(), ErrClosed)

	// The cycle that was already running still completes.
	runner.gate <- struct{}{}
	h.waitIdle(t)
	assert.EqualValues(t, 1, runner.calls.Load())
	assert.Equal(t, 1, h.s.Stats().Summary().Total)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopping", Stopping.String())
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/trendpost/internal/pipeline"
	"github.com/ibeckermayer/trendpost/internal/stats"
	"github.com/ibeckermayer/trendpost/internal/types"
)

// State is the scheduler's run state
type State int

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	DefaultInterval     = 90 * time.Minute
	DefaultMinInterval  = 5 * time.Minute
	DefaultTick         = time.Second
	DefaultCycleTimeout = 30 * time.Minute
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
	ErrCycleInFlight  = errors.New("a cycle is already in flight")
	ErrClosed         = errors.New("scheduler closed")
)

// Runner executes one cycle and records its attempt with rec.
type Runner interface {
	Run(ctx context.Context, rec pipeline.Recorder) types.Attempt
}

// Config holds the scheduler timing parameters. Zero values take the defaults.
type Config struct {
	Interval     time.Duration
	MinInterval  time.Duration
	Tick         time.Duration
	CycleTimeout time.Duration
	Location     *time.Location
}

// ticker drives the periodic due-time check.
type ticker interface {
	Start(check func()) error
	// Stop halts further checks. The returned context is done once no check is running.
	Stop() context.Context
}

// cronTicker runs the check on a robfig/cron constant-delay schedule.
type cronTicker struct {
	every time.Duration
	loc   *time.Location
	log   zerolog.Logger
	c     *cron.Cron
}

func (t *cronTicker) Start(check func()) error {
	t.c = cron.New(
		cron.WithLocation(t.loc),
		cron.WithChain(cron.Recover(cronLogger{t.log}), cron.SkipIfStillRunning(cronLogger{t.log})),
	)
	t.c.Schedule(cron.Every(t.every), cron.FuncJob(check))
	t.c.Start()
	return nil
}

func (t *cronTicker) Stop() context.Context {
	return t.c.Stop()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Status is a snapshot of the scheduler for the control surface.
type Status struct {
	State    State
	Interval time.Duration
	NextDue  time.Time // zero unless Running
	InFlight bool
	Summary  stats.Summary
}

// Scheduler owns the run/stop state machine and launches pipeline cycles
// when they are due. Cycles never overlap.
type Scheduler struct {
	runner Runner
	log    zerolog.Logger
	now    func() time.Time

	minInterval  time.Duration
	cycleTimeout time.Duration
	newTicker    func() ticker

	mu       sync.Mutex
	state    State
	interval time.Duration
	nextDue  time.Time
	inFlight bool
	idle     chan struct{} // closed when the in-flight cycle ends
	closed   bool
	stats    *stats.RunStats
	tick     ticker
	stopped  chan struct{}

	hooksMu sync.RWMutex
	hooks   []func(types.Attempt)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l.With().Str("component", "scheduler").Logger() }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func withTicker(f func() ticker) Option {
	return func(s *Scheduler) { s.newTicker = f }
}

// New creates a stopped scheduler.
func New(runner Runner, cfg Config, opts ...Option) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("scheduler needs a runner")
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	s := &Scheduler{
		runner:       runner,
		log:          zerolog.Nop(),
		now:          time.Now,
		minInterval:  cfg.MinInterval,
		cycleTimeout: cfg.CycleTimeout,
		state:        Stopped,
		stats:        stats.New(time.Time{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.interval = s.clamp(cfg.Interval)
	if s.newTicker == nil {
		s.newTicker = func() ticker {
			return &cronTicker{every: cfg.Tick, loc: cfg.Location, log: s.log}
		}
	}
	return s, nil
}

// OnRecord registers fn to be called after each attempt is recorded.
func (s *Scheduler) OnRecord(fn func(types.Attempt)) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hooksMu.Unlock()
}

// Start begins a new session: fresh stats, first cycle due immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state != Stopped {
		return fmt.Errorf("%w (%s)", ErrAlreadyRunning, s.state)
	}

	now := s.now()
	t := s.newTicker()
	if err := t.Start(s.check); err != nil {
		return fmt.Errorf("failed to start ticker: %w", err)
	}

	s.tick = t
	s.stats = stats.New(now).WithClock(s.now)
	s.nextDue = now
	s.state = Running
	s.stopped = make(chan struct{})

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	return nil
}

// Stop prevents new cycles from being scheduled. The returned context is done
// once the periodic loop has exited and the state is Stopped. A cycle already
// in flight is not interrupted and still records its attempt.
func (s *Scheduler) Stop() (context.Context, error) {
	s.mu.Lock()
	if s.state != Running {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w (%s)", ErrNotRunning, state)
	}
	s.state = Stopping
	s.nextDue = time.Time{}
	t := s.tick
	stopped := s.stopped
	s.mu.Unlock()

	s.log.Info().Msg("stopping scheduler")
	loopDone := t.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-loopDone.Done()
		s.mu.Lock()
		if s.state == Stopping {
			s.state = Stopped
			s.tick = nil
		}
		s.mu.Unlock()
		close(stopped)
		s.log.Info().Msg("scheduler stopped")
		cancel()
	}()
	return ctx, nil
}

// RunOnce launches a cycle immediately. While Running it also restarts the
// countdown from now, exactly like a periodic fire.
func (s *Scheduler) RunOnce() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.inFlight {
		return ErrCycleInFlight
	}
	now := s.now()
	s.log.Info().Msg("manual run requested")
	s.launchLocked("manual")
	if s.state == Running {
		s.nextDue = now.Add(s.interval)
		s.log.Info().Time("next_due", s.nextDue).Msg("next run rescheduled")
	}
	return nil
}

// SetInterval changes the interval, clamped to the configured minimum.
// While Running the next due time is recomputed from now.
func (s *Scheduler) SetInterval(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	d = s.clamp(d)
	if d != s.interval {
		s.log.Info().Dur("from", s.interval).Dur("to", d).Msg("interval changed")
	}
	s.interval = d
	if s.state == Running {
		s.nextDue = s.now().Add(d)
	}
	return d
}

// Interval returns the current interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// MinInterval returns the interval floor.
func (s *Scheduler) MinInterval() time.Duration {
	return s.minInterval
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NextDue returns the next due time, or the zero time when not running.
func (s *Scheduler) NextDue() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextDue
}

// Stats returns the stats of the current (or last) session.
func (s *Scheduler) Stats() *stats.RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Status returns a consistent snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{
		State:    s.state,
		Interval: s.interval,
		NextDue:  s.nextDue,
		InFlight: s.inFlight,
	}
	rs := s.stats
	s.mu.Unlock()

	st.Summary = rs.Summary()
	return st
}

// Done returns a channel closed when the current session reaches Stopped.
// It returns nil if the scheduler was never started.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Close refuses any further Start or RunOnce. A cycle already in flight keeps
// running; use Wait to let it finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Wait blocks until no cycle is in flight or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.inFlight {
			s.mu.Unlock()
			return nil
		}
		idle := s.idle
		s.mu.Unlock()

		select {
		case <-idle:
			// Another cycle may have started since; check again.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// check runs on every tick.
func (s *Scheduler) check() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return
	}
	now := s.now()
	if now.Before(s.nextDue) {
		return
	}
	if s.inFlight {
		s.log.Debug().Msg("cycle due but previous one still in flight, deferring")
		return
	}

	s.log.Info().Msg("scheduled time reached")
	s.launchLocked("scheduled")
	s.nextDue = now.Add(s.interval)
	s.log.Info().Time("next_due", s.nextDue).Msg("next run scheduled")
}

// launchLocked starts a cycle in its own goroutine. s.mu must be held.
func (s *Scheduler) launchLocked(trigger string) {
	s.inFlight = true
	s.idle = make(chan struct{})
	rs := s.stats
	go s.runCycle(rs, s.idle, trigger)
}

func (s *Scheduler) runCycle(rs *stats.RunStats, idle chan struct{}, trigger string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("cycle panicked")
		}
		s.mu.Lock()
		s.inFlight = false
		close(idle)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cycleTimeout)
	defer cancel()

	start := time.Now()
	s.log.Info().Str("trigger", trigger).Msg("starting cycle")
	s.runner.Run(ctx, pipeline.RecorderFunc(func(a types.Attempt) {
		rs.Record(a)
		s.notify(a)
	}))
	s.log.Info().Str("trigger", trigger).Dur("took", time.Since(start)).Msg("cycle completed")
}

func (s *Scheduler) notify(a types.Attempt) {
	s.hooksMu.RLock()
	hooks := slices.Clone(s.hooks)
	s.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(a)
	}
}

func (s *Scheduler) clamp(d time.Duration) time.Duration {
	if d < s.minInterval {
		return s.minInterval
	}
	return d
}

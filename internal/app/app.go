package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/trendpost/internal/auth"
	"github.com/ibeckermayer/trendpost/internal/config"
	"github.com/ibeckermayer/trendpost/internal/pipeline"
	"github.com/ibeckermayer/trendpost/internal/scheduler"
	"github.com/ibeckermayer/trendpost/internal/stats"
	"github.com/ibeckermayer/trendpost/internal/store"
	"github.com/ibeckermayer/trendpost/internal/types"
)

// Deps are the collaborators an App is assembled from. Build fills them
// from the config; tests pass fakes.
type Deps struct {
	Config     *config.Config
	ConfigPath string

	Opener    pipeline.SessionOpener
	Generator pipeline.Generator

	// Optional
	RunLog  *store.Store
	Cache   *store.Cache
	Auth    *auth.Manager
	LogPath string
	Logger  zerolog.Logger
}

// App holds the application state behind the control surfaces.
type App struct {
	configPath string
	logPath    string
	runLog     *store.Store
	cache      *store.Cache
	auth       *auth.Manager
	pipe       *pipeline.Pipeline
	sched      *scheduler.Scheduler
	logger     zerolog.Logger

	// openPath opens files with the system handler.
	openPath func(path string) error

	schedOpts []scheduler.Option

	mu     sync.RWMutex
	config *config.Config
}

// Option configures an App.
type Option func(*App)

// WithOpenPath replaces the system file opener.
func WithOpenPath(f func(path string) error) Option {
	return func(a *App) { a.openPath = f }
}

// WithSchedulerOptions passes options through to the scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(a *App) { a.schedOpts = append(a.schedOpts, opts...) }
}

// New creates a new App instance with a stopped scheduler.
func New(d Deps, opts ...Option) (*App, error) {
	if d.Config == nil {
		return nil, errors.New("app: nil config")
	}
	cfg := d.Config

	a := &App{
		configPath: d.ConfigPath,
		logPath:    d.LogPath,
		runLog:     d.RunLog,
		cache:      d.Cache,
		auth:       d.Auth,
		logger:     d.Logger.With().Str("component", "app").Logger(),
		openPath:   browser.OpenFile,
		config:     cfg,
	}
	for _, opt := range opts {
		opt(a)
	}

	popts := []pipeline.Option{
		pipeline.WithLogger(d.Logger),
		pipeline.WithMaxLength(cfg.Posting.MaxLength, cfg.Posting.Continuation),
		pipeline.WithTemplate(cfg.CustomPromptTemplate),
		pipeline.WithDryRun(cfg.Posting.DryRun),
	}
	if len(cfg.Posting.FallbackTopics) > 0 {
		popts = append(popts, pipeline.WithFallback(cfg.Posting.FallbackTopics))
	}
	if d.Cache != nil && cfg.Posting.Journal {
		popts = append(popts, pipeline.WithJournal(d.Cache))
	}
	a.pipe = pipeline.New(d.Opener, d.Generator, popts...)

	sched, err := scheduler.New(a.pipe, scheduler.Config{
		Interval:     minutes(cfg.Interval),
		MinInterval:  minutes(cfg.Schedule.MinIntervalMinutes),
		CycleTimeout: minutes(cfg.Schedule.CycleTimeoutMinutes),
	}, append([]scheduler.Option{scheduler.WithLogger(d.Logger)}, a.schedOpts...)...)
	if err != nil {
		return nil, err
	}
	a.sched = sched

	if a.runLog != nil {
		sched.OnRecord(a.saveAttempt)
	}
	return a, nil
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

func (a *App) saveAttempt(at types.Attempt) {
	if err := a.runLog.SaveAttempt(at); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to write run-log")
	}
}

// Config returns the current configuration. Callers must not modify it.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// Start begins scheduled cycles. The first cycle runs on the next tick.
func (a *App) Start() error {
	if err := a.sched.Start(); err != nil {
		return err
	}
	a.logger.Info().Dur("interval", a.sched.Interval()).Msg("Bot started")
	return nil
}

// Stop ends scheduling. The returned context is done once stopped; a cycle
// already running finishes on its own.
func (a *App) Stop() (context.Context, error) {
	ctx, err := a.sched.Stop()
	if err != nil {
		return nil, err
	}
	a.logger.Info().Msg("Bot stopping")
	return ctx, nil
}

// RunNow runs a cycle immediately and resets the countdown.
func (a *App) RunNow() error {
	a.logger.Info().Msg("Manual run triggered")
	return a.sched.RunOnce()
}

// IsRunning reports whether scheduling is active.
func (a *App) IsRunning() bool {
	return a.sched.State() == scheduler.Running
}

// Status returns a snapshot of the scheduler.
func (a *App) Status() scheduler.Status {
	return a.sched.Status()
}

// Stats returns the current session's stats.
func (a *App) Stats() *stats.RunStats {
	return a.sched.Stats()
}

// History returns up to n attempts of the current session, newest first.
func (a *App) History(n int) []types.Attempt {
	return a.sched.Stats().Recent(n)
}

// Lifetime returns counters across all sessions from the run-log.
func (a *App) Lifetime() (store.Totals, error) {
	if a.runLog == nil {
		return store.Totals{}, errors.New("run-log disabled")
	}
	return a.runLog.Totals()
}

// Interval returns the current interval in minutes.
func (a *App) Interval() int {
	return int(a.sched.Interval() / time.Minute)
}

// SetInterval changes the interval (clamped to the minimum) and persists
// it. It returns the applied value in minutes. A failed save is returned as
// an error wrapping types.ErrIO; the new interval stays in effect.
func (a *App) SetInterval(mins int) (int, error) {
	applied := int(a.sched.SetInterval(minutes(mins)) / time.Minute)
	a.logger.Info().Int("minutes", applied).Msg("Interval changed")

	a.mu.Lock()
	next := *a.config
	next.Interval = applied
	a.config = &next
	a.mu.Unlock()

	if err := a.saveConfig(&next); err != nil {
		a.logger.Error().Err(err).Msg("Failed to save config")
		return applied, err
	}
	return applied, nil
}

func (a *App) saveConfig(cfg *config.Config) error {
	if a.configPath == "" {
		return nil
	}
	return cfg.SaveTo(a.configPath)
}

// ReloadConfig re-reads the config file and applies the prompt template
// and interval. Other settings take effect on restart.
func (a *App) ReloadConfig() error {
	if a.configPath == "" {
		return errors.New("no config file")
	}
	cfg, err := config.LoadFrom(a.configPath)
	if err != nil {
		return err
	}

	a.mu.Lock()
	cfg.ApplyEnv(a.config.Env)
	a.config = cfg
	a.mu.Unlock()

	a.pipe.SetTemplate(cfg.CustomPromptTemplate)
	if minutes(cfg.Interval) != a.sched.Interval() {
		a.sched.SetInterval(minutes(cfg.Interval))
	}
	a.logger.Info().Int("interval", a.Interval()).Bool("custom_prompt", cfg.CustomPromptTemplate != "").Msg("Configuration reloaded")
	return nil
}

// WatchConfig reloads the config whenever the file changes, until ctx is done.
func (a *App) WatchConfig(ctx context.Context) error {
	if a.configPath == "" {
		return nil
	}
	return config.Watch(ctx, a.configPath, config.DefaultDebounce, func() {
		if err := a.ReloadConfig(); err != nil {
			a.logger.Warn().Err(err).Msg("Config reload failed, keeping previous settings")
		}
	})
}

// ExportCSV writes the current session history to path. Failures wrap
// types.ErrIO and leave the history untouched.
func (a *App) ExportCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	if err := a.sched.Stats().ExportFile(path); err != nil {
		a.logger.Error().Err(err).Str("path", path).Msg("Export failed")
		return err
	}
	a.logger.Info().Str("path", path).Msg("History exported")
	return nil
}

// DefaultExportPath returns a timestamped CSV path in the cache dir.
func (a *App) DefaultExportPath(now time.Time) (string, error) {
	dir := ""
	if a.cache != nil {
		dir = a.cache.Dir()
	} else {
		d, err := config.CacheDir()
		if err != nil {
			return "", err
		}
		dir = d
	}
	return filepath.Join(dir, "exports", "history_"+now.Format("20060102_150405")+".csv"), nil
}

// ExportAndOpen exports to the default path and opens the result.
func (a *App) ExportAndOpen() (string, error) {
	path, err := a.DefaultExportPath(time.Now())
	if err != nil {
		return "", err
	}
	if err := a.ExportCSV(path); err != nil {
		return "", err
	}
	return path, a.openPath(path)
}

// IsAuthenticated checks if X.com credentials are stored.
func (a *App) IsAuthenticated() bool {
	return a.auth != nil && a.auth.IsAuthenticated()
}

// TriggerLogin starts the X.com login flow.
func (a *App) TriggerLogin(ctx context.Context) error {
	if a.auth == nil {
		return errors.New("login not available")
	}
	if err := a.auth.Login(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Login failed")
		return err
	}
	return nil
}

// TriggerLogout clears stored X.com credentials.
func (a *App) TriggerLogout() error {
	if a.auth == nil {
		return nil
	}
	if err := a.auth.Logout(); err != nil {
		a.logger.Error().Err(err).Msg("Logout failed")
		return err
	}
	return nil
}

// ViewLog opens the log file.
func (a *App) ViewLog() error {
	if a.logPath == "" {
		return errors.New("file logging disabled")
	}
	return a.openPath(a.logPath)
}

// EditConfig opens the config file in the default editor.
func (a *App) EditConfig() error {
	if a.configPath == "" {
		return errors.New("no config file")
	}
	return a.openPath(a.configPath)
}

// Shutdown stops scheduling and waits for a running cycle until ctx is done,
// then closes the run-log. Later Start and RunNow calls fail with
// scheduler.ErrClosed.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.sched.Close()
	if stopped, stopErr := a.sched.Stop(); stopErr == nil {
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	if waitErr := a.sched.Wait(ctx); waitErr != nil {
		a.logger.Warn().Msg("Shutting down with a cycle still running")
		err = waitErr
	}
	if a.runLog != nil {
		if cerr := a.runLog.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// WaitIdle blocks until no cycle is running or ctx is done.
func (a *App) WaitIdle(ctx context.Context) error {
	return a.sched.Wait(ctx)
}

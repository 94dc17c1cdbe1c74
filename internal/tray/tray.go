package tray

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/trendpost/internal/app"
	"github.com/ibeckermayer/trendpost/internal/scheduler"
)

//go:embed icon.png
var iconBytes []byte

// IntervalChoices are the interval presets offered in the menu, in minutes.
var IntervalChoices = []int{5, 15, 30, 60, 90, 120}

// RecentSize is how many attempts the Recent submenu lists.
const RecentSize = 10

const (
	refreshEvery    = time.Second
	shutdownTimeout = 30 * time.Second
)

// OnReady returns a systray onReady callback that sets up the menu.
func OnReady(a *app.App, logger zerolog.Logger) func() {
	log := logger.With().Str("component", "tray").Logger()
	return func() {
		// Set icon (template icon for macOS menu bar styling)
		systray.SetTemplateIcon(iconBytes, iconBytes)
		systray.SetTitle("")
		systray.SetTooltip("trendpost - posts about what is trending on X")

		// Status lines (disabled, just for display)
		mStatus := systray.AddMenuItem("Status: stopped", "Scheduler state")
		mStatus.Disable()
		mNext := systray.AddMenuItem("Next: N/A", "Next scheduled run")
		mNext.Disable()
		mStats := systray.AddMenuItem("Posts: 0 ok, 0 failed (0.0%)", "This session")
		mStats.Disable()
		mUptime := systray.AddMenuItem("Uptime: N/A", "Since Start")
		mUptime.Disable()
		mLast := systray.AddMenuItem("Last post: never", "Last successful post")
		mLast.Disable()

		// Recent attempts, newest first. Rows are reused and hidden when unused.
		mRecent := systray.AddMenuItem("Recent", "Most recent attempts this session")
		mRecentEmpty := mRecent.AddSubMenuItem("No attempts yet", "")
		mRecentEmpty.Disable()
		recentItems := make([]*systray.MenuItem, RecentSize)
		for i := range recentItems {
			recentItems[i] = mRecent.AddSubMenuItem("", "")
			recentItems[i].Disable()
			recentItems[i].Hide()
		}

		systray.AddSeparator()

		mStart := systray.AddMenuItem("Start", "Start posting on schedule")
		mStop := systray.AddMenuItem("Stop", "Stop scheduling")
		mRunNow := systray.AddMenuItem("Run Now", "Run one cycle immediately")

		mInterval := systray.AddMenuItem(intervalTitle(a.Interval()), "Time between posts")
		intervalItems := make([]*systray.MenuItem, len(IntervalChoices))
		for i, m := range IntervalChoices {
			intervalItems[i] = mInterval.AddSubMenuItemCheckbox(fmt.Sprintf("%d min", m), "", m == a.Interval())
		}

		systray.AddSeparator()

		mAuthAction := systray.AddMenuItem(authTitle(a.IsAuthenticated()), "Login or logout from X")
		mExport := systray.AddMenuItem("Export History...", "Save this session's history as CSV")
		mViewLog := systray.AddMenuItem("View Log", "Open the log file")
		mEditConfig := systray.AddMenuItem("Edit Config", "Open config file in editor")
		mReloadConfig := systray.AddMenuItem("Reload Config", "Reload configuration from disk")

		systray.AddSeparator()

		mQuit := systray.AddMenuItem("Quit", "Exit trendpost")

		refresh := func() {
			st := a.Status()
			mStatus.SetTitle(app.StateLabel(st))
			mNext.SetTitle(app.NextRunLabel(st, time.Now()))
			mStats.SetTitle(app.SummaryLabel(st.Summary))
			mUptime.SetTitle(app.UptimeLabel(st.Summary))
			mLast.SetTitle(app.LastPostLabel(st.Summary))

			recent := a.History(RecentSize)
			if len(recent) == 0 {
				mRecentEmpty.Show()
			} else {
				mRecentEmpty.Hide()
			}
			for i, item := range recentItems {
				if i < len(recent) {
					item.SetTitle(app.HistoryLabel(recent[i]))
					item.Show()
				} else {
					item.Hide()
				}
			}

			if st.State == scheduler.Stopped {
				mStart.Enable()
				mStop.Disable()
			} else {
				mStart.Disable()
				mStop.Enable()
			}
			if st.InFlight {
				mRunNow.Disable()
			} else {
				mRunNow.Enable()
			}

			cur := int(st.Interval / time.Minute)
			mInterval.SetTitle(intervalTitle(cur))
			for i, m := range IntervalChoices {
				if m == cur {
					intervalItems[i].Check()
				} else {
					intervalItems[i].Uncheck()
				}
			}
			mAuthAction.SetTitle(authTitle(a.IsAuthenticated()))
		}
		refresh()

		go func() {
			t := time.NewTicker(refreshEvery)
			defer t.Stop()
			for range t.C {
				refresh()
			}
		}()

		for i, m := range IntervalChoices {
			go func(item *systray.MenuItem, mins int) {
				for range item.ClickedCh {
					if _, err := a.SetInterval(mins); err != nil {
						log.Error().Err(err).Msg("Failed to persist interval")
					}
					refresh()
				}
			}(intervalItems[i], m)
		}

		// Handle menu clicks
		go func() {
			for {
				select {
				case <-mStart.ClickedCh:
					if err := a.Start(); err != nil {
						log.Warn().Err(err).Msg("Start ignored")
					}
					refresh()

				case <-mStop.ClickedCh:
					if _, err := a.Stop(); err != nil {
						log.Warn().Err(err).Msg("Stop ignored")
					}
					refresh()

				case <-mRunNow.ClickedCh:
					if err := a.RunNow(); err != nil {
						log.Warn().Err(err).Msg("Run now ignored")
					}
					refresh()

				case <-mAuthAction.ClickedCh:
					if a.IsAuthenticated() {
						if err := a.TriggerLogout(); err != nil {
							log.Error().Err(err).Msg("Logout error")
						}
						refresh()
						continue
					}
					// The login window blocks until the user is done.
					go func() {
						if err := a.TriggerLogin(context.Background()); err != nil {
							log.Error().Err(err).Msg("Login error")
						}
						refresh()
					}()

				case <-mExport.ClickedCh:
					if path, err := a.ExportAndOpen(); err != nil {
						log.Error().Err(err).Msg("Export failed")
					} else {
						log.Info().Str("path", path).Msg("History exported")
					}

				case <-mViewLog.ClickedCh:
					if err := a.ViewLog(); err != nil {
						log.Error().Err(err).Msg("Failed to open log")
					}

				case <-mEditConfig.ClickedCh:
					if err := a.EditConfig(); err != nil {
						log.Error().Err(err).Msg("Failed to open config file")
					}

				case <-mReloadConfig.ClickedCh:
					if err := a.ReloadConfig(); err != nil {
						log.Error().Err(err).Msg("Failed to reload config")
					}
					refresh()

				case <-mQuit.ClickedCh:
					systray.Quit()
					return
				}
			}
		}()
	}
}

// OnExit returns the systray onExit callback. It stops the scheduler and
// gives a running cycle time to finish.
func OnExit(a *app.App, logger zerolog.Logger) func() {
	return func() {
		logger.Info().Msg("trendpost shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Error().Err(err).Msg("Shutdown error")
		}
	}
}

func intervalTitle(mins int) string {
	return fmt.Sprintf("Interval: %d min", mins)
}

func authTitle(authenticated bool) string {
	if authenticated {
		return "Logout from X"
	}
	return "Login to X"
}

// Command tp is the headless CLI for trendpost: run the bot without the menu
// bar, run single cycles, and help with maintenance and debugging tasks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/pkg/browser"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/trendpost/internal/app"
	"github.com/ibeckermayer/trendpost/internal/auth"
	browseropts "github.com/ibeckermayer/trendpost/internal/browser"
	"github.com/ibeckermayer/trendpost/internal/config"
	"github.com/ibeckermayer/trendpost/internal/logging"
	"github.com/ibeckermayer/trendpost/internal/scraper"
	"github.com/ibeckermayer/trendpost/internal/stats"
	"github.com/ibeckermayer/trendpost/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "run":
		err = runDaemon(args)
	case "once":
		err = runOnce(args)
	case "trends":
		err = runTrends()
	case "login":
		err = runLogin()
	case "logout":
		err = runLogout()
	case "history":
		err = runHistory(args)
	case "export":
		err = runExport(args)
	case "bot-test":
		err = runBotTest()
	case "open":
		if len(args) < 1 {
			fmt.Println("Usage: tp open <config|cache|log>")
			os.Exit(1)
		}
		err = runOpen(args[0])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "tp %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: tp <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run [-dry-run]    Run the scheduler headless until interrupted")
	fmt.Println("  once [-dry-run]   Run a single cycle and print the result")
	fmt.Println("  trends            Print the currently trending hashtags")
	fmt.Println("  login             Log in to X and store session cookies")
	fmt.Println("  logout            Clear stored session cookies")
	fmt.Println("  history [n]       Print the last n attempts from the run-log")
	fmt.Println("  export <file>     Export the whole run-log as CSV")
	fmt.Println("  bot-test          Open bot.sannysoft.com to audit browser fingerprint")
	fmt.Println("  open config       Open config file in default editor")
	fmt.Println("  open cache        Open cache directory in file explorer")
	fmt.Println("  open log          Open the log file")
}

// env is the shared setup of every command that touches the bot.
type env struct {
	cfg     *config.Config
	cfgPath string
	log     *logging.Logger
}

func setup(requireKey bool) (*env, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, created, err := config.LoadOrCreate(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(config.ReadEnv())

	opts := logging.Options{Level: cfg.Logging.Level}
	if cfg.Logging.File {
		if dir, err := config.CacheDir(); err == nil {
			opts.FilePath = filepath.Join(dir, logging.FileName)
		}
	}
	log := logging.New(opts)
	if created {
		log.Info().Str("path", cfgPath).Msg("Created default config")
	}

	if requireKey {
		if err := cfg.Validate(); err != nil {
			log.Close()
			return nil, err
		}
	}
	return &env{cfg: cfg, cfgPath: cfgPath, log: log}, nil
}

func runDaemon(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dry := fs.Bool("dry-run", false, "generate posts without publishing")
	fs.Parse(args)

	e, err := setup(true)
	if err != nil {
		return err
	}
	defer e.log.Close()
	if *dry {
		e.cfg.Posting.DryRun = true
	}

	a, err := app.Build(e.cfg, e.cfgPath, e.log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(); err != nil {
		return err
	}
	e.log.Info().Str("config", e.cfgPath).Msg("trendpost running headless, Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.WatchConfig(gctx) })
	g.Go(func() error {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-t.C:
				st := a.Status()
				e.log.Debug().Str("next", app.NextRunLabel(st, now)).Str("stats", app.SummaryLabel(st.Summary)).Msg("Heartbeat")
			}
		}
	})

	<-gctx.Done()
	e.log.Info().Msg("Shutting down, waiting for a running cycle to finish")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(e.cfg.Schedule.CycleTimeoutMinutes)*time.Minute)
	defer cancel()
	shutdownErr := a.Shutdown(shutdownCtx)
	if err := g.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

func runOnce(args []string) error {
	fs := flag.NewFlagSet("once", flag.ExitOnError)
	dry := fs.Bool("dry-run", false, "generate a post without publishing")
	fs.Parse(args)

	e, err := setup(true)
	if err != nil {
		return err
	}
	defer e.log.Close()
	e.cfg.Posting.DryRun = e.cfg.Posting.DryRun || *dry

	a, err := app.Build(e.cfg, e.cfgPath, e.log)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	if err := a.RunNow(); err != nil {
		return err
	}
	if err := a.WaitIdle(context.Background()); err != nil {
		return err
	}

	hist := a.History(1)
	if len(hist) == 0 {
		return errors.New("no attempt recorded")
	}
	at := hist[0]
	fmt.Printf("topic:   %s (%s)\n", at.Topic, at.Source)
	fmt.Printf("stage:   %s\n", at.Stage)
	fmt.Printf("text:    %s\n", at.Text)
	if !at.Succeeded {
		return fmt.Errorf("cycle failed: %s", at.Err)
	}
	fmt.Println("result:  ok")
	return nil
}

func runTrends() error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.log.Close()

	cookiePath, err := auth.DefaultCookieStorePath()
	if err != nil {
		return err
	}
	sc := scraper.New(
		scraper.WithTimeout(time.Duration(e.cfg.Browser.PageTimeoutSecs)*time.Second),
		scraper.WithLogger(e.log.Logger),
	)
	opener := browseropts.NewOpener(browseropts.Config{
		Headless:   e.cfg.Browser.Headless,
		ProfileDir: e.cfg.ProfileDir(),
		Language:   e.cfg.Browser.Language,
	}, auth.NewCookieStore(cookiePath), sc, nil, e.log.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	session, err := opener.Open(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	topics, err := session.FetchTrendingTopics(ctx)
	if err != nil {
		return err
	}
	for i, t := range topics {
		fmt.Printf("%2d. %s\n", i+1, t)
	}
	return nil
}

func newAuthManager(e *env) (*auth.Manager, error) {
	cookiePath, err := auth.DefaultCookieStorePath()
	if err != nil {
		return nil, err
	}
	return auth.NewManager(auth.NewCookieStore(cookiePath), browseropts.Config{
		ProfileDir: e.cfg.ProfileDir(),
		Language:   e.cfg.Browser.Language,
	}, e.log.Logger), nil
}

func runLogin() error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.log.Close()

	m, err := newAuthManager(e)
	if err != nil {
		return err
	}
	return m.Login(context.Background())
}

func runLogout() error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.log.Close()

	m, err := newAuthManager(e)
	if err != nil {
		return err
	}
	return m.Logout()
}

func openRunLog() (*store.Store, error) {
	dir, err := config.CacheDir()
	if err != nil {
		return nil, err
	}
	return store.New(filepath.Join(dir, store.DBFileName))
}

func runHistory(args []string) error {
	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		n = v
	}

	s, err := openRunLog()
	if err != nil {
		return err
	}
	defer s.Close()

	attempts, err := s.RecentAttempts(n)
	if err != nil {
		return err
	}
	for _, a := range attempts {
		status := "ok"
		if !a.Succeeded {
			status = "FAIL " + a.Err
		}
		fmt.Printf("%s  %-24s  %-8s  %s\n", a.Timestamp.Local().Format(stats.TimestampLayout), a.Topic, a.Stage, status)
	}
	totals, err := s.Totals()
	if err != nil {
		return err
	}
	fmt.Printf("\n%d attempts in total, %d succeeded\n", totals.Total, totals.Succeeded)
	return nil
}

func runExport(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: tp export <file.csv>")
	}
	s, err := openRunLog()
	if err != nil {
		return err
	}
	defer s.Close()

	totals, err := s.Totals()
	if err != nil {
		return err
	}
	attempts, err := s.RecentAttempts(totals.Total)
	if err != nil {
		return err
	}

	rs := stats.New(time.Time{})
	for i := len(attempts) - 1; i >= 0; i-- {
		rs.Record(attempts[i])
	}
	if err := rs.ExportFile(args[0]); err != nil {
		return err
	}
	fmt.Printf("Exported %d attempts to %s\n", len(attempts), args[0])
	return nil
}

func runBotTest() error {
	fmt.Println("Opening bot.sannysoft.com with stealth browser options...")

	// non-headless so you can see it
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), browseropts.Options(browseropts.Config{})...)
	defer cancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	if err := chromedp.Run(ctx,
		chromedp.Navigate("https://bot.sannysoft.com"),
		chromedp.WaitVisible("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}

	fmt.Println("Press Enter to end program...")
	fmt.Scanln()
	return nil
}

func runOpen(target string) error {
	var path string
	var err error

	switch target {
	case "config":
		path, err = config.ConfigPath()
	case "cache":
		path, err = config.CacheDir()
	case "log":
		path, err = config.CacheDir()
		path = filepath.Join(path, logging.FileName)
	default:
		return fmt.Errorf("unknown target: %s", target)
	}

	if err != nil {
		return fmt.Errorf("failed to get path: %w", err)
	}

	return browser.OpenFile(path)
}

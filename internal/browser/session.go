package browser

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/trendpost/internal/pipeline"
)

// CookieSource supplies session cookies to inject before the first navigation.
type CookieSource interface {
	GetCookies() ([]*network.Cookie, error)
}

// TrendScraper extracts topics using a chromedp tab context.
type TrendScraper interface {
	FetchTrendingTopics(ctx context.Context) ([]string, error)
}

// PostPublisher submits a post using a chromedp tab context.
type PostPublisher interface {
	Publish(ctx context.Context, text string) error
}

// Opener launches one Chrome instance per cycle.
type Opener struct {
	cfg       Config
	cookies   CookieSource
	scraper   TrendScraper
	publisher PostPublisher
	logger    zerolog.Logger
}

// NewOpener creates an Opener. cookies may be nil; a persistent profile
// usually carries its own login.
func NewOpener(cfg Config, cookies CookieSource, sc TrendScraper, pub PostPublisher, logger zerolog.Logger) *Opener {
	o := &Opener{
		cfg:       cfg,
		cookies:   cookies,
		scraper:   sc,
		publisher: pub,
		logger:    logger.With().Str("component", "browser").Logger(),
	}
	o.cfg.ProfileDir = o.checkProfileDir(cfg.ProfileDir)
	return o
}

// checkProfileDir drops a profile dir that is not an existing directory.
func (o *Opener) checkProfileDir(dir string) string {
	if dir == "" {
		return ""
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		o.logger.Warn().Str("profile_dir", dir).Msg("Chrome profile dir is not a directory, using a temporary profile")
		return ""
	}
	return dir
}

// Config returns the effective launch configuration.
func (o *Opener) Config() Config { return o.cfg }

// Open starts Chrome and a tab, injecting cookies if a source is set. The
// browser lives until the returned Session is closed or ctx is done.
func (o *Opener) Open(ctx context.Context) (pipeline.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, Options(o.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			o.logger.Debug().Msgf(format, args...)
		}))

	s := &Session{
		ctx:       tabCtx,
		scraper:   o.scraper,
		publisher: o.publisher,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	// The first Run launches the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	if o.cookies != nil {
		cookies, err := o.cookies.GetCookies()
		if err != nil {
			o.logger.Warn().Err(err).Msg("No stored cookies, continuing with profile session")
		} else if err := InjectCookies(tabCtx, cookies); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to inject cookies: %w", err)
		}
	}

	o.logger.Debug().Bool("headless", o.cfg.Headless).Str("profile_dir", o.cfg.ProfileDir).Msg("Browser session opened")
	return s, nil
}

// InjectCookies sets cookies in the browser context
func InjectCookies(ctx context.Context, cookies []*network.Cookie) error {
	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				err := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly).
					WithSameSite(c.SameSite).
					Do(ctx)

				if err != nil {
					return err
				}
			}
			return nil
		}),
	)
}

// Session is one Chrome tab shared by the scrape and publish stages of a cycle.
type Session struct {
	ctx       context.Context
	scraper   TrendScraper
	publisher PostPublisher

	closeOnce sync.Once
	cancel    func()
}

// FetchTrendingTopics runs the scraper in this session's tab.
func (s *Session) FetchTrendingTopics(ctx context.Context) ([]string, error) {
	tab, stop := s.bind(ctx)
	defer stop()
	return s.scraper.FetchTrendingTopics(tab)
}

// Publish runs the publisher in this session's tab.
func (s *Session) Publish(ctx context.Context, text string) error {
	tab, stop := s.bind(ctx)
	defer stop()
	return s.publisher.Publish(tab, text)
}

// Close shuts the tab and the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

// bind returns a tab context that is also cancelled when ctx is done.
func (s *Session) bind(ctx context.Context) (context.Context, func()) {
	tab, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return tab, func() {
		stop()
		cancel()
	}
}

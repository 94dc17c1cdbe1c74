package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/trendpost/internal/browser"
)

const (
	loginURL = "https://x.com/login"

	// DefaultLoginTimeout is how long the user has to finish logging in
	DefaultLoginTimeout = 5 * time.Minute
)

var homeURLs = []string{"https://x.com/home", "https://twitter.com/home"}

// Manager handles X.com authentication
type Manager struct {
	cookieStore *CookieStore
	browserCfg  browser.Config
	timeout     time.Duration
	logger      zerolog.Logger
}

// NewManager creates a new auth manager. Login windows use browserCfg with
// headless forced off.
func NewManager(cookieStore *CookieStore, browserCfg browser.Config, logger zerolog.Logger) *Manager {
	browserCfg.Headless = false
	return &Manager{
		cookieStore: cookieStore,
		browserCfg:  browserCfg,
		timeout:     DefaultLoginTimeout,
		logger:      logger.With().Str("component", "auth").Logger(),
	}
}

// IsAuthenticated checks if we have valid stored credentials
func (m *Manager) IsAuthenticated() bool {
	return m.cookieStore.IsValid()
}

// Login opens a browser window for the user to log in to X.com and stores
// the session cookies once the home timeline is reached
func (m *Manager) Login(ctx context.Context) error {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, browser.Options(m.browserCfg)...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	m.logger.Info().Msg("Opening browser for X login")
	if err := chromedp.Run(browserCtx, chromedp.Navigate(loginURL)); err != nil {
		return fmt.Errorf("failed to navigate to login page: %w", err)
	}

	cookies, err := m.waitForLogin(browserCtx)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := m.cookieStore.Save(cookies); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	m.logger.Info().Int("cookies", len(cookies)).Msg("Login successful, cookies saved")
	return nil
}

// waitForLogin polls until the user has reached the home page with an
// auth_token cookie set, and returns the cookies at that point
func (m *Manager) waitForLogin(ctx context.Context) ([]*network.Cookie, error) {
	timeout := time.After(m.timeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return nil, errors.New("login timeout exceeded")
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			var url string
			if err := chromedp.Run(ctx, chromedp.Location(&url)); err != nil {
				continue
			}
			if !isHomeURL(url) {
				continue
			}
			cookies, err := extractCookies(ctx)
			if err != nil {
				continue
			}
			if hasAuthToken(cookies) {
				return cookies, nil
			}
		}
	}
}

func isHomeURL(url string) bool {
	for _, h := range homeURLs {
		if url == h {
			return true
		}
	}
	return false
}

func hasAuthToken(cookies []*network.Cookie) bool {
	for _, c := range cookies {
		if c.Name == "auth_token" && c.Value != "" {
			return true
		}
	}
	return false
}

// extractCookies gets all cookies from the browser
func extractCookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie

	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	)

	return cookies, err
}

// Logout clears stored credentials
func (m *Manager) Logout() error {
	if err := m.cookieStore.Clear(); err != nil {
		return err
	}
	m.logger.Info().Msg("Stored cookies cleared")
	return nil
}

// GetCookies returns the stored cookies for injection into cycle sessions
func (m *Manager) GetCookies() ([]*network.Cookie, error) {
	return m.cookieStore.GetCookies()
}

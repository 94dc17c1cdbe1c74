// Package browser provides shared chromedp configuration with anti-bot-detection
// measures and the per-cycle browser session.
package browser

import "github.com/chromedp/chromedp"

// DefaultUserAgent is a realistic Chrome user agent
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config controls how Chrome is launched.
type Config struct {
	Headless bool
	// ProfileDir is an existing Chrome user data dir. Empty uses a fresh
	// temporary profile.
	ProfileDir string
	// Language is passed as --lang, e.g. "pt-BR".
	Language string
	// ExecPath overrides Chrome discovery.
	ExecPath string
}

// Options returns chromedp allocator options with anti-bot-detection measures.
// All browser instances should use this to ensure consistent stealth configuration.
func Options(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),

		// Prevent navigator.webdriver = true detection
		// This is the most important flag - X.com checks this
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		// Use a realistic user agent
		chromedp.UserAgent(DefaultUserAgent),

		// Realistic window size
		chromedp.WindowSize(1920, 1080),

		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),

		// Needed when running in containers
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	if cfg.Language != "" {
		opts = append(opts, chromedp.Flag("lang", cfg.Language))
	}
	if cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.ProfileDir))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}

	return opts
}

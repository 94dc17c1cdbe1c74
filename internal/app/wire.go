package app

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ibeckermayer/trendpost/internal/auth"
	"github.com/ibeckermayer/trendpost/internal/browser"
	"github.com/ibeckermayer/trendpost/internal/composer"
	"github.com/ibeckermayer/trendpost/internal/composer/providers"
	"github.com/ibeckermayer/trendpost/internal/config"
	"github.com/ibeckermayer/trendpost/internal/logging"
	"github.com/ibeckermayer/trendpost/internal/publisher"
	"github.com/ibeckermayer/trendpost/internal/scraper"
	"github.com/ibeckermayer/trendpost/internal/store"
)

// Build assembles the production App from cfg. cfg must have passed
// Validate.
func Build(cfg *config.Config, configPath string, log *logging.Logger, opts ...Option) (*App, error) {
	cacheDir, err := config.CacheDir()
	if err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	cache := store.NewCache(cacheDir)

	runLog, err := store.New(filepath.Join(cacheDir, store.DBFileName))
	if err != nil {
		log.Warn().Err(err).Msg("Run-log unavailable, history will not persist")
		runLog = nil
	}

	cookiePath, err := auth.DefaultCookieStorePath()
	if err != nil {
		return nil, fmt.Errorf("cookie store path: %w", err)
	}

	bcfg := browser.Config{
		Headless:   cfg.Browser.Headless,
		ProfileDir: cfg.ProfileDir(),
		Language:   cfg.Browser.Language,
	}
	authManager := auth.NewManager(auth.NewCookieStore(cookiePath), bcfg, log.Logger)

	sc := scraper.New(
		scraper.WithTimeout(time.Duration(cfg.Browser.PageTimeoutSecs)*time.Second),
		scraper.WithLogger(log.Logger),
	)
	pub := publisher.New(
		publisher.WithScreenshots(cache.ScreenshotDir(), cfg.Browser.ScreenshotSuccess, cfg.Browser.ScreenshotFailure),
		publisher.WithLogger(log.Logger),
	)
	opener := browser.NewOpener(bcfg, authManager, sc, pub, log.Logger)

	provider, err := providers.New(cfg.Generation, cfg.APIKey())
	if err != nil {
		return nil, err
	}
	copts := []composer.Option{
		composer.WithMaxLength(cfg.Posting.MaxLength),
		composer.WithLogger(log.Logger),
	}
	if cfg.Generation.CacheExchanges {
		copts = append(copts, composer.WithExchangeSaver(cache))
	}

	return New(Deps{
		Config:     cfg,
		ConfigPath: configPath,
		Opener:     opener,
		Generator:  composer.New(provider, copts...),
		RunLog:     runLog,
		Cache:      cache,
		Auth:       authManager,
		LogPath:    log.Path(),
		Logger:     log.Logger,
	}, opts...)
}

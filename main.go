package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/getlantern/systray"

	"github.com/ibeckermayer/trendpost/internal/app"
	"github.com/ibeckermayer/trendpost/internal/config"
	"github.com/ibeckermayer/trendpost/internal/logging"
	"github.com/ibeckermayer/trendpost/internal/tray"
	"github.com/ibeckermayer/trendpost/internal/types"
)

func main() {
	// Until the config is read, log to the console only.
	boot := logging.New(logging.Options{})

	if err := config.LoadDotEnv(); err != nil {
		boot.Warn().Err(err).Msg("Could not read .env")
	}

	cfgPath, err := config.ConfigPath()
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to get config path")
	}

	// Load or create configuration
	cfg, created, err := config.LoadOrCreate(cfgPath)
	if err != nil {
		if !errors.Is(err, types.ErrConfig) {
			boot.Fatal().Err(err).Msg("Failed to load config")
		}
		boot.Warn().Err(err).Msg("Could not parse config, using defaults")
		cfg = config.Default()
	}
	cfg.ApplyEnv(config.ReadEnv())

	opts := logging.Options{Level: cfg.Logging.Level}
	if cfg.Logging.File {
		if dir, err := config.CacheDir(); err == nil {
			opts.FilePath = filepath.Join(dir, logging.FileName)
		}
	}
	log := logging.New(opts)
	defer log.Close()

	if created {
		log.Info().Str("path", cfgPath).Msg("Created default config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Str("config", cfgPath).
			Msgf("Fix the config file or set %s / %s", config.EnvGeminiAPIKey, config.EnvAnthropicAPIKey)
	}

	a, err := app.Build(cfg, cfgPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := a.WatchConfig(ctx); err != nil {
			log.Warn().Err(err).Msg("Config watcher stopped")
		}
	}()

	if cfg.Schedule.StartOnLaunch {
		if err := a.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start scheduler")
		}
	}

	log.Info().Int("pid", os.Getpid()).Msg("trendpost starting...")

	// Run systray (blocks until Quit)
	systray.Run(tray.OnReady(a, log.Logger), tray.OnExit(a, log.Logger))
}

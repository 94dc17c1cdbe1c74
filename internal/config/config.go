package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/ibeckermayer/trendpost/internal/types"
)

// AppName names the config and cache directories.
const AppName = "trendpost"

// Generation providers
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Environment variables read by ApplyEnv
const (
	EnvGeminiAPIKey    = "GEMINI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvChromeProfile   = "CHROME_PROFILE_PATH"
)

// Config holds all application configuration
type Config struct {
	Version int `toml:"version"`

	// Interval is the number of minutes between scheduled cycles.
	Interval int `toml:"interval"`
	// CustomPromptTemplate replaces the built-in prompt when non-empty.
	// It must contain the {trend} placeholder.
	CustomPromptTemplate string `toml:"custom_prompt_template"`

	Schedule   ScheduleConfig   `toml:"schedule"`
	Browser    BrowserConfig    `toml:"browser"`
	Generation GenerationConfig `toml:"generation"`
	Posting    PostingConfig    `toml:"posting"`
	Logging    LoggingConfig    `toml:"logging"`

	// Env holds values read from the environment. It is never written to disk.
	Env Env `toml:"-"`
}

type ScheduleConfig struct {
	MinIntervalMinutes  int  `toml:"min_interval_minutes"`
	CycleTimeoutMinutes int  `toml:"cycle_timeout_minutes"`
	StartOnLaunch       bool `toml:"start_on_launch"`
}

type BrowserConfig struct {
	Headless          bool   `toml:"headless"`
	ProfileDir        string `toml:"profile_dir"`
	Language          string `toml:"language"`
	PageTimeoutSecs   int    `toml:"page_timeout_seconds"`
	ScreenshotSuccess bool   `toml:"screenshot_success"`
	ScreenshotFailure bool   `toml:"screenshot_failure"`
}

type GenerationConfig struct {
	Provider        string  `toml:"provider"`
	Model           string  `toml:"model"`
	APIKey          string  `toml:"api_key,omitempty"`
	BaseURL         string  `toml:"base_url,omitempty"`
	Temperature     float64 `toml:"temperature"`
	MaxOutputTokens int     `toml:"max_output_tokens"`
	TopP            float64 `toml:"top_p"`
	TopK            int     `toml:"top_k"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	CacheExchanges  bool    `toml:"cache_exchanges"`
}

type PostingConfig struct {
	MaxLength      int      `toml:"max_length"`
	Continuation   string   `toml:"continuation"`
	FallbackTopics []string `toml:"fallback_topics"`
	DryRun         bool     `toml:"dry_run"`
	Journal        bool     `toml:"journal"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	File  bool   `toml:"file"`
}

// Env carries credentials and overrides taken from the process environment
// (and an optional .env file).
type Env struct {
	GeminiAPIKey    string
	AnthropicAPIKey string
	ChromeProfile   string
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version:  1,
		Interval: 90,
		Schedule: ScheduleConfig{
			MinIntervalMinutes:  5,
			CycleTimeoutMinutes: 30,
		},
		Browser: BrowserConfig{
			Headless:          false,
			Language:          "pt-BR",
			PageTimeoutSecs:   30,
			ScreenshotSuccess: true,
			ScreenshotFailure: true,
		},
		Generation: GenerationConfig{
			Provider:        ProviderGemini,
			Model:           "gemini-1.5-flash-latest",
			Temperature:     0.5,
			MaxOutputTokens: 100,
			TopP:            0.8,
			TopK:            10,
			TimeoutSeconds:  45,
		},
		Posting: PostingConfig{
			MaxLength:      280,
			Continuation:   "...",
			FallbackTopics: []string{},
			Journal:        true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  true,
		},
	}
}

// ConfigError reports an invalid or incomplete configuration. It matches
// types.ErrConfig with errors.Is.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return types.ErrConfig }

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, AppName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the platform-appropriate cache directory.
// On macOS this is ~/Library/Caches/trendpost/
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, AppName), nil
}

// Load reads config from the default path. See LoadFrom.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads config from path. Keys missing from the file keep their
// default values. A missing file returns an error matching fs.ErrNotExist.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, &ConfigError{Field: path, Reason: err.Error()}
	}
	return cfg, nil
}

// LoadOrCreate loads the config at path, writing the defaults there first
// if the file does not exist yet. created reports whether that happened.
func LoadOrCreate(path string) (cfg *Config, created bool, err error) {
	cfg, err = LoadFrom(path)
	if err == nil {
		return cfg, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	cfg = Default()
	if err := cfg.SaveTo(path); err != nil {
		return cfg, false, err
	}
	return cfg, true, nil
}

// Save writes config to the default path
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	return c.SaveTo(path)
}

// SaveTo writes config to path, creating parent directories. The file is
// written to a temporary sibling first and renamed into place. Failures
// wrap types.ErrIO.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: create config dir: %v", types.ErrIO, err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrIO, err)
	}

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: encode config: %v", types.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none
// are given) into the process environment. Missing files are ignored and
// variables that are already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ReadEnv captures the variables ApplyEnv uses.
func ReadEnv() Env {
	return Env{
		GeminiAPIKey:    strings.TrimSpace(os.Getenv(EnvGeminiAPIKey)),
		AnthropicAPIKey: strings.TrimSpace(os.Getenv(EnvAnthropicAPIKey)),
		ChromeProfile:   strings.TrimSpace(os.Getenv(EnvChromeProfile)),
	}
}

// ApplyEnv attaches environment values to the config.
func (c *Config) ApplyEnv(env Env) {
	c.Env = env
}

// APIKey returns the key for the selected provider. A key in the config
// file takes precedence over the environment.
func (c *Config) APIKey() string {
	if c.Generation.APIKey != "" {
		return c.Generation.APIKey
	}
	switch c.Generation.Provider {
	case ProviderAnthropic:
		return c.Env.AnthropicAPIKey
	default:
		return c.Env.GeminiAPIKey
	}
}

// ProfileDir returns the Chrome user data dir, the environment winning
// over the config file. Empty means a throwaway profile.
func (c *Config) ProfileDir() string {
	if c.Env.ChromeProfile != "" {
		return c.Env.ChromeProfile
	}
	return c.Browser.ProfileDir
}

// Validate checks that the config can drive the bot. All errors match
// types.ErrConfig.
func (c *Config) Validate() error {
	if c.Schedule.MinIntervalMinutes < 1 {
		return &ConfigError{Field: "schedule.min_interval_minutes", Reason: "must be at least 1"}
	}
	if c.Interval < c.Schedule.MinIntervalMinutes {
		return &ConfigError{
			Field:  "interval",
			Reason: fmt.Sprintf("must be at least %d minutes", c.Schedule.MinIntervalMinutes),
		}
	}
	if c.Posting.MaxLength <= len([]rune(c.Posting.Continuation)) {
		return &ConfigError{Field: "posting.max_length", Reason: "must be longer than the continuation marker"}
	}
	if t := c.CustomPromptTemplate; t != "" && !strings.Contains(t, "{trend}") {
		return &ConfigError{Field: "custom_prompt_template", Reason: "missing {trend} placeholder"}
	}
	switch c.Generation.Provider {
	case ProviderGemini, ProviderAnthropic:
	default:
		return &ConfigError{Field: "generation.provider", Reason: fmt.Sprintf("unknown provider %q", c.Generation.Provider)}
	}
	if c.APIKey() == "" {
		return &ConfigError{Field: "generation.api_key", Reason: "no API key for provider " + c.Generation.Provider}
	}
	return nil
}

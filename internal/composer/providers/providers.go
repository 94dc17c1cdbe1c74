// Package providers holds the LLM backends behind composer.Provider.
package providers

import (
	"fmt"

	"github.com/ibeckermayer/trendpost/internal/composer"
	"github.com/ibeckermayer/trendpost/internal/config"
)

// New returns the provider selected by cfg.Provider.
func New(cfg config.GenerationConfig, apiKey string) (composer.Provider, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		p, err := NewGeminiProvider(apiKey, cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderAnthropic:
		return NewAnthropicProvider(apiKey, cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// Package composer turns a trending topic into post text using an LLM provider.
package composer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ibeckermayer/trendpost/internal/store"
	"github.com/ibeckermayer/trendpost/internal/types"
)

// DefaultMaxLength is the post ceiling the default prompt is sized for.
const DefaultMaxLength = 280

// Provider defines the interface for LLM providers
type Provider interface {
	// Complete returns the raw model text for prompt.
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
	Model() string
}

// ExchangeSaver keeps prompt/response pairs for debugging.
type ExchangeSaver interface {
	SaveLLMExchange(store.LLMExchange) (string, error)
}

// Composer implements the pipeline's content generator.
type Composer struct {
	provider  Provider
	maxLength int
	saver     ExchangeSaver
	logger    zerolog.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithMaxLength sizes the default prompt for a different ceiling.
func WithMaxLength(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.maxLength = n
		}
	}
}

// WithExchangeSaver caches every prompt/response pair.
func WithExchangeSaver(s ExchangeSaver) Option {
	return func(c *Composer) { c.saver = s }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Composer) { c.logger = l.With().Str("component", "composer").Logger() }
}

// New creates a Composer backed by provider.
func New(provider Provider, opts ...Option) *Composer {
	c := &Composer{
		provider:  provider,
		maxLength: DefaultMaxLength,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GeneratePost asks the provider for a post about topic. The result is
// trimmed; an empty result or any provider error wraps
// types.ErrGenerationFailure.
func (c *Composer) GeneratePost(ctx context.Context, topic, template string) (string, error) {
	prompt := BuildPrompt(topic, template, c.maxLength)
	custom := strings.TrimSpace(template) != ""
	c.logger.Info().Str("topic", topic).Bool("custom_prompt", custom).Str("provider", c.provider.Name()).Msg("Requesting post")

	raw, err := c.provider.Complete(ctx, prompt)
	c.saveExchange(prompt, raw, err)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", types.ErrGenerationFailure, c.provider.Name(), err)
	}

	text := Clean(raw)
	if text == "" {
		return "", fmt.Errorf("%w: %s returned empty text", types.ErrGenerationFailure, c.provider.Name())
	}
	return text, nil
}

func (c *Composer) saveExchange(prompt, response string, err error) {
	if c.saver == nil {
		return
	}
	ex := store.LLMExchange{
		Provider: c.provider.Name(),
		Model:    c.provider.Model(),
		Prompt:   prompt,
		Response: response,
	}
	if err != nil {
		ex.Error = err.Error()
	}
	if path, err := c.saver.SaveLLMExchange(ex); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to cache LLM exchange")
	} else {
		c.logger.Debug().Str("path", path).Msg("Cached LLM exchange")
	}
}

// Clean trims whitespace and a pair of wrapping quotes from model output.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

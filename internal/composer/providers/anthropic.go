package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ibeckermayer/trendpost/internal/config"
)

const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicProvider implements the Provider interface using Anthropic's Claude API
type AnthropicProvider struct {
	client      *anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string, cfg config.GenerationConfig) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout(cfg.TimeoutSeconds)),
		// A failed cycle is retried by the next schedule tick.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" || model == DefaultGeminiModel {
		model = DefaultAnthropicModel
	}
	maxTokens := int64(cfg.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 100
	}
	return &AnthropicProvider{
		client:      &client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

// Name returns config.ProviderAnthropic.
func (c *AnthropicProvider) Name() string { return config.ProviderAnthropic }

// Model returns the model name.
func (c *AnthropicProvider) Model() string { return c.model }

// Complete sends prompt to Claude and returns the first text block.
func (c *AnthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to call Claude API: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", errors.New("Claude returned no text content")
}

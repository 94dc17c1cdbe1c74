package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ibeckermayer/trendpost/internal/config"
)

const (
	DefaultGeminiModel = "gemini-1.5-flash-latest"
	geminiAPIVersion   = "v1beta"
)

// GeminiProvider calls Gemini generateContent through the genai SDK.
type GeminiProvider struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	gen     *genai.GenerateContentConfig
}

// NewGeminiProvider creates a new Gemini provider. cfg.BaseURL, if set,
// replaces the public endpoint.
func NewGeminiProvider(apiKey string, cfg config.GenerationConfig) (*GeminiProvider, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	if apiKey == "" {
		return nil, errors.New("gemini: missing API key")
	}

	d := timeout(cfg.TimeoutSeconds)
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: d},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			APIVersion: geminiAPIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	gen := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(cfg.Temperature)),
	}
	if cfg.MaxOutputTokens > 0 {
		gen.MaxOutputTokens = int32(cfg.MaxOutputTokens)
	}
	if cfg.TopP > 0 {
		gen.TopP = genai.Ptr(float32(cfg.TopP))
	}
	if cfg.TopK > 0 {
		gen.TopK = genai.Ptr(float32(cfg.TopK))
	}

	return &GeminiProvider{client: client, model: model, timeout: d, gen: gen}, nil
}

// Name returns config.ProviderGemini.
func (g *GeminiProvider) Name() string { return config.ProviderGemini }

// Model returns the model name.
func (g *GeminiProvider) Model() string { return g.model }

// Complete sends prompt to Gemini and returns the first candidate's text.
func (g *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.gen)
	if err != nil {
		return "", fmt.Errorf("Gemini API call failed: %w", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked by Gemini: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", errors.New("Gemini response has no candidates")
	}

	cand := resp.Candidates[0]
	var b strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("Gemini candidate has no content (finish reason %q)", cand.FinishReason)
	}
	return b.String(), nil
}

func timeout(seconds int) time.Duration {
	if seconds <= 0 {
		return 45 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

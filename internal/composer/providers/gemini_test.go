package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/trendpost/internal/config"
)

// generateContentBody is the part of the generateContent request the tests inspect.
type generateContentBody struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
		TopP            float64 `json:"topP"`
		TopK            float64 `json:"topK"`
	} `json:"generationConfig"`
}

func geminiConfig(baseURL string) config.GenerationConfig {
	cfg := config.Default().Generation
	cfg.BaseURL = baseURL
	return cfg
}

func newGemini(t *testing.T, cfg config.GenerationConfig) *GeminiProvider {
	t.Helper()
	p, err := NewGeminiProvider("k", cfg)
	require.NoError(t, err)
	return p
}

func TestGeminiComplete(t *testing.T) {
	var got generateContentBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash-latest:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"  Curious fact #Go \n"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	p, err := NewGeminiProvider("secret", geminiConfig(srv.URL))
	require.NoError(t, err)
	text, err := p.Complete(context.Background(), "write about #Go")
	require.NoError(t, err)
	assert.Equal(t, "  Curious fact #Go \n", text)

	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 1)
	assert.Equal(t, "write about #Go", got.Contents[0].Parts[0].Text)
	assert.InDelta(t, 0.5, got.GenerationConfig.Temperature, 1e-6)
	assert.Equal(t, 100, got.GenerationConfig.MaxOutputTokens)
	assert.InDelta(t, 0.8, got.GenerationConfig.TopP, 1e-6)
	assert.InDelta(t, 10, got.GenerationConfig.TopK, 1e-6)
	assert.Equal(t, config.ProviderGemini, p.Name())
	assert.Equal(t, DefaultGeminiModel, p.Model())
}

func TestGeminiJoinsParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"planning","thought":true},{"text":"Hello "},{"text":"#Go"}]}}]}`))
	}))
	defer srv.Close()

	text, err := newGemini(t, geminiConfig(srv.URL)).Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "Hello #Go", text)
}

func TestGeminiFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"http error with api error", http.StatusForbidden, `{"error":{"code":403,"message":"API key invalid","status":"PERMISSION_DENIED"}}`, "API key invalid"},
		{"http error plain", http.StatusBadRequest, `bad request`, "Gemini API call failed"},
		{"malformed body", http.StatusOK, `{not json`, "Gemini API call failed"},
		{"blocked prompt", http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, "SAFETY"},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, "no candidates"},
		{"no parts", http.StatusOK, `{"candidates":[{"content":{"parts":[]},"finishReason":"MAX_TOKENS"}]}`, "MAX_TOKENS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newGemini(t, geminiConfig(srv.URL)).Complete(context.Background(), "p")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGeminiMissingKey(t *testing.T) {
	_, err := NewGeminiProvider("", geminiConfig(""))
	assert.Error(t, err)

	_, err = New(config.GenerationConfig{Provider: config.ProviderGemini}, "")
	assert.Error(t, err)
}

func TestGeminiUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newGemini(t, geminiConfig(srv.URL)).Complete(context.Background(), "p")
	assert.Error(t, err)
}

func TestGeminiTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := geminiConfig(srv.URL)
	cfg.TimeoutSeconds = 1
	start := time.Now()
	_, err := newGemini(t, cfg).Complete(context.Background(), "p")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

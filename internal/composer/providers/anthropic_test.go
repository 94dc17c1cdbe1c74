package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/trendpost/internal/config"
)

func anthropicConfig(baseURL string) config.GenerationConfig {
	cfg := config.Default().Generation
	cfg.Provider = config.ProviderAnthropic
	cfg.Model = ""
	cfg.BaseURL = baseURL
	return cfg
}

func TestAnthropicComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "Fun fact about #Go"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("secret", anthropicConfig(srv.URL))
	text, err := p.Complete(context.Background(), "write about #Go")
	require.NoError(t, err)
	assert.Equal(t, "Fun fact about #Go", text)

	assert.Equal(t, DefaultAnthropicModel, got["model"])
	assert.EqualValues(t, 100, got["max_tokens"])
	assert.Equal(t, config.ProviderAnthropic, p.Name())
}

func TestAnthropicNoText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":0}}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicProvider("k", anthropicConfig(srv.URL)).Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text")
}

func TestAnthropicAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicProvider("bad", anthropicConfig(srv.URL)).Complete(context.Background(), "p")
	assert.Error(t, err)
}

func TestNewSelectsProvider(t *testing.T) {
	p, err := New(config.GenerationConfig{Provider: config.ProviderGemini}, "k")
	require.NoError(t, err)
	assert.Equal(t, config.ProviderGemini, p.Name())

	p, err = New(config.GenerationConfig{Provider: config.ProviderAnthropic}, "k")
	require.NoError(t, err)
	assert.Equal(t, config.ProviderAnthropic, p.Name())

	_, err = New(config.GenerationConfig{Provider: "nope"}, "k")
	assert.Error(t, err)
}

package openai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nulzo/model-playground/internal/config"
	"github.com/nulzo/model-playground/internal/llm"
	"github.com/nulzo/model-playground/internal/llm/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan llm.Chunk) (string, error) {
	t.Helper()
	var sb strings.Builder
	for c := range ch {
		if c.Err != nil {
			return sb.String(), c.Err
		}
		sb.WriteString(c.Text)
	}
	return sb.String(), nil
}

func TestOpenAIStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4", body["model"])
		assert.Equal(t, true, body["stream"])
		assert.EqualValues(t, 1000, body["max_tokens"])
		assert.EqualValues(t, 0.7, body["temperature"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hello", " there", "!"} {
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	adapter, err := openai.NewAdapter(config.ProviderConfig{
		ID:      "gpt-4",
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
	})
	require.NoError(t, err)

	ch, err := adapter.StreamCompletion(context.Background(), "Hi")
	require.NoError(t, err)

	text, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", text)
	assert.Equal(t, "gpt-4", adapter.ID())
	assert.Equal(t, 8192, adapter.MaxTokens())
}

func TestOpenAIUpstreamErrorEndsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	adapter, err := openai.NewAdapter(config.ProviderConfig{ID: "gpt-3.5-turbo", Type: "openai", APIKey: "bad", BaseURL: server.URL})
	require.NoError(t, err)

	ch, err := adapter.StreamCompletion(context.Background(), "Hi")
	require.NoError(t, err)

	text, err := collect(t, ch)
	assert.Empty(t, text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestOpenAIMalformedChunkEndsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		_, _ = fmt.Fprint(w, "data: {not json\n\n")
	}))
	defer server.Close()

	adapter, err := openai.NewAdapter(config.ProviderConfig{ID: "gpt-3.5-turbo", Type: "openai", APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	ch, err := adapter.StreamCompletion(context.Background(), "Hi")
	require.NoError(t, err)

	text, err := collect(t, ch)
	assert.Equal(t, "ok", text)
	assert.Error(t, err)
}

func TestOpenAIOfflineFallback(t *testing.T) {
	adapter, err := openai.NewAdapter(config.ProviderConfig{
		ID:     "gpt-3.5-turbo",
		Type:   "openai",
		Config: map[string]string{},
	})
	require.NoError(t, err)
	require.NoError(t, adapter.Health(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := adapter.StreamCompletion(ctx, "test prompt")
	require.NoError(t, err)

	first := <-ch
	require.NoError(t, first.Err)
	assert.Equal(t, "As ", first.Text)
}

func TestOpenAIPricing(t *testing.T) {
	cases := []struct {
		model     string
		input     float64
		output    float64
		maxTokens int
	}{
		{"gpt-3.5-turbo", 0.0015, 0.002, 4096},
		{"gpt-4o-mini", 0.00015, 0.0006, 8192},
		{"gpt-4", 0.03, 0.06, 8192},
		{"gpt-4-turbo", 0.01, 0.03, 8192},
		{"some-other-model", 0.0015, 0.002, 4096},
	}

	for _, tc := range cases {
		t.Run(tc.model, func(t *testing.T) {
			adapter, err := openai.NewAdapter(config.ProviderConfig{ID: tc.model, Type: "openai"})
			require.NoError(t, err)

			assert.Equal(t, tc.input, adapter.Pricing().Input)
			assert.Equal(t, tc.output, adapter.Pricing().Output)
			assert.Equal(t, tc.maxTokens, adapter.MaxTokens())
		})
	}
}

func TestOpenAIHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	adapter, err := openai.NewAdapter(config.ProviderConfig{ID: "gpt-4", Type: "openai", APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)
	assert.NoError(t, adapter.Health(context.Background()))
}

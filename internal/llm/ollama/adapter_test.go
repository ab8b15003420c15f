package ollama_test

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
	"github.com/nulzo/model-playground/internal/llm/ollama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(ch <-chan llm.Chunk) (string, error) {
	var sb strings.Builder
	for c := range ch {
		if c.Err != nil {
			return sb.String(), c.Err
		}
		sb.WriteString(c.Text)
	}
	return sb.String(), nil
}

func TestOllamaStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3", body["model"])

		for _, part := range []string{"Why", " not", "?"} {
			_, _ = fmt.Fprintf(w, "{\"message\":{\"role\":\"assistant\",\"content\":%q},\"done\":false}\n", part)
		}
		_, _ = fmt.Fprint(w, "{\"message\":{\"role\":\"assistant\",\"content\":\"\"},\"done\":true}\n")
	}))
	defer server.Close()

	adapter, err := ollama.NewAdapter(config.ProviderConfig{
		ID:      "local",
		Type:    "ollama",
		BaseURL: server.URL + "/v1",
		Model:   "llama3",
	})
	require.NoError(t, err)

	ch, err := adapter.StreamCompletion(context.Background(), "Hi")
	require.NoError(t, err)

	text, err := collect(ch)
	require.NoError(t, err)
	assert.Equal(t, "Why not?", text)
	assert.Zero(t, adapter.CalculateCost(1000, 1000))
}

func TestOllamaErrorLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "{\"error\":\"model 'nope' not found\"}\n")
	}))
	defer server.Close()

	adapter, err := ollama.NewAdapter(config.ProviderConfig{ID: "nope", Type: "ollama", BaseURL: server.URL})
	require.NoError(t, err)

	ch, err := adapter.StreamCompletion(context.Background(), "Hi")
	require.NoError(t, err)

	_, err = collect(ch)
	assert.EqualError(t, err, "model 'nope' not found")
}

func TestOllamaHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"version":"0.3.0"}`))
	}))
	defer server.Close()

	adapter, err := ollama.NewAdapter(config.ProviderConfig{ID: "local", Type: "ollama", BaseURL: server.URL})
	require.NoError(t, err)
	assert.NoError(t, adapter.Health(context.Background()))
}

func TestOllamaDropsReasoning(t *testing.T) {
	parts := []string{"<think>", "let me", " think</th", "ink>", "Four", "."}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, part := range parts {
			_, _ = fmt.Fprintf(w, "{\"message\":{\"role\":\"assistant\",\"content\":%q},\"done\":false}\n", part)
		}
		_, _ = fmt.Fprint(w, "{\"done\":true}\n")
	}))
	defer server.Close()

	for _, tt := range []struct {
		reasoning string
		want      string
	}{
		{"", "Four."},
		{"keep", "<think>let me think</think>Four."},
	} {
		adapter, err := ollama.NewAdapter(config.ProviderConfig{
			ID: "r1", Type: "ollama", BaseURL: server.URL, Model: "deepseek-r1",
			Config: map[string]string{"reasoning": tt.reasoning},
		})
		require.NoError(t, err)

		ch, err := adapter.StreamCompletion(context.Background(), "2+2?")
		require.NoError(t, err)
		text, err := collect(ch)
		require.NoError(t, err)
		assert.Equal(t, tt.want, text)
	}
}

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/model-playground/internal/config"
	"github.com/nulzo/model-playground/internal/httpclient"
	"github.com/nulzo/model-playground/internal/llm"
	"github.com/nulzo/model-playground/pkg/api"
)

func init() {
	llm.Register(string(llm.OpenAI), NewAdapter)
}

const (
	defaultBaseURL = "https://api.openai.com/v1"
	demoKey        = "demo-key-for-testing"
)

// prices per 1000 tokens
var pricing = map[string]api.Pricing{
	"gpt-3.5-turbo": {Input: 0.0015, Output: 0.002},
	"gpt-4o-mini":   {Input: 0.00015, Output: 0.0006},
	"gpt-4":         {Input: 0.03, Output: 0.06},
	"gpt-4-turbo":   {Input: 0.01, Output: 0.03},
}

func modelPricing(model string) api.Pricing {
	if p, ok := pricing[model]; ok {
		return p
	}
	return pricing["gpt-3.5-turbo"]
}

func contextWindow(model string) int {
	if strings.Contains(model, "gpt-4") {
		return 8192
	}
	return 4096
}

type Adapter struct {
	llm.Meter
	config config.ProviderConfig
	client httpclient.HTTPClient
	delay  func() time.Duration
}

func NewAdapter(cfg config.ProviderConfig) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	model := cfg.UpstreamModel()
	return &Adapter{
		Meter:  llm.Meter{Price: modelPricing(model), Window: contextWindow(model)}.WithOverrides(cfg.Config),
		config: cfg,
		client: &http.Client{Timeout: 120 * time.Second},
		delay:  llm.Jitter(50*time.Millisecond, 150*time.Millisecond),
	}, nil
}

func (a *Adapter) ID() string { return a.config.ID }

func (a *Adapter) Name() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	return a.config.ID
}

func (a *Adapter) Type() string { return string(llm.OpenAI) }

// offline reports whether the adapter streams the canned answer instead of calling the API.
func (a *Adapter) offline() bool {
	return a.config.APIKey == "" || a.config.APIKey == demoKey
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// upstreamErrorResponse mirrors the standard OpenAI error shape
type upstreamErrorResponse struct {
	Error struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

func (a *Adapter) headers() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + a.config.APIKey,
	}
	if org, ok := a.config.Config["organization"]; ok {
		headers["OpenAI-Organization"] = org
	}
	return headers
}

func (a *Adapter) url(path string) string {
	return strings.TrimRight(a.config.BaseURL, "/") + path
}

func (a *Adapter) StreamCompletion(ctx context.Context, prompt string) (<-chan llm.Chunk, error) {
	if a.offline() {
		return llm.StreamWords(ctx, llm.CannedResponse(a.config.UpstreamModel(), prompt), a.delay, 0, nil), nil
	}

	req := chatRequest{
		Model:       a.config.UpstreamModel(),
		Messages:    []message{{Role: "user", Content: prompt}},
		Stream:      true,
		MaxTokens:   1000,
		Temperature: 0.7,
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)

		err := httpclient.StreamRequest(ctx, a.client, http.MethodPost, a.url("/chat/completions"), a.headers(), req, func(line string) error {
			if !strings.HasPrefix(line, "data:") {
				return nil
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return httpclient.ErrStopStream
			}

			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return fmt.Errorf("malformed stream chunk: %w", err)
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				return nil
			}
			if !llm.Send(ctx, ch, llm.Chunk{Text: chunk.Choices[0].Delta.Content}) {
				return ctx.Err()
			}
			return nil
		})

		if err != nil && ctx.Err() == nil {
			llm.Send(ctx, ch, llm.Chunk{Err: a.handleUpstreamError(err)})
		}
	}()

	return ch, nil
}

func (a *Adapter) handleUpstreamError(err error) error {
	var upstreamErr *httpclient.UpstreamError
	if !errors.As(err, &upstreamErr) {
		return err
	}

	var apiErr upstreamErrorResponse
	if jsonErr := json.Unmarshal(upstreamErr.Body, &apiErr); jsonErr != nil || apiErr.Error.Message == "" {
		return api.ProviderError(string(upstreamErr.Body), err)
	}

	return api.NewError(
		http.StatusBadGateway,
		"Upstream Provider Error",
		apiErr.Error.Message,
		api.WithExtension("upstream_status", upstreamErr.StatusCode),
		api.WithExtension("upstream_code", apiErr.Error.Code),
		api.WithExtension("upstream_type", apiErr.Error.Type),
		api.WithLog(err),
	)
}

func (a *Adapter) Health(ctx context.Context) error {
	if a.offline() {
		return nil
	}
	return httpclient.SendRequest(ctx, a.client, http.MethodGet, a.url("/models"), a.headers(), nil, nil)
}

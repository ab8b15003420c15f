package ollama

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
	llm.Register(string(llm.Ollama), NewAdapter)
}

const defaultBaseURL = "http://localhost:11434"

// Adapter talks to Ollama's native chat API. Local models are free, so pricing
// is zero unless overridden in config. <think> blocks emitted by reasoning
// models are dropped unless config "reasoning" is "keep".
type Adapter struct {
	llm.Meter
	config config.ProviderConfig
	client httpclient.HTTPClient
}

func NewAdapter(cfg config.ProviderConfig) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	// accept OpenAI-style base urls from older configs
	cfg.BaseURL = strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/v1")

	return &Adapter{
		Meter:  llm.Meter{Price: api.Pricing{}, Window: 4096}.WithOverrides(cfg.Config),
		config: cfg,
		client: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (a *Adapter) ID() string { return a.config.ID }

func (a *Adapter) Name() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	return a.config.ID
}

func (a *Adapter) Type() string { return string(llm.Ollama) }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message *chatMessage `json:"message,omitempty"`
	Done    bool         `json:"done"`
	Error   string       `json:"error,omitempty"`
}

func (a *Adapter) StreamCompletion(ctx context.Context, prompt string) (<-chan llm.Chunk, error) {
	req := chatRequest{
		Model:    a.config.UpstreamModel(),
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   true,
	}
	headers := map[string]string{"Accept": "application/x-ndjson"}

	ch := make(chan llm.Chunk)

	var filter *llm.ReasoningFilter
	if a.config.Config["reasoning"] != "keep" {
		filter = &llm.ReasoningFilter{}
	}
	emit := func(text string) bool {
		if filter != nil {
			text = filter.Write(text)
		}
		return text == "" || llm.Send(ctx, ch, llm.Chunk{Text: text})
	}

	go func() {
		defer close(ch)

		err := httpclient.StreamRequest(ctx, a.client, http.MethodPost, a.config.BaseURL+"/api/chat", headers, req, func(line string) error {
			var resp chatResponse
			if err := json.Unmarshal([]byte(line), &resp); err != nil {
				return fmt.Errorf("malformed ndjson line: %w", err)
			}
			if resp.Error != "" {
				return errors.New(resp.Error)
			}
			if resp.Message != nil && resp.Message.Content != "" {
				if !emit(resp.Message.Content) {
					return ctx.Err()
				}
			}
			if resp.Done {
				return httpclient.ErrStopStream
			}
			return nil
		})

		if err == nil && filter != nil {
			if rest := filter.Flush(); rest != "" {
				llm.Send(ctx, ch, llm.Chunk{Text: rest})
			}
			return
		}

		if err != nil && ctx.Err() == nil {
			var upstreamErr *httpclient.UpstreamError
			if errors.As(err, &upstreamErr) {
				err = api.ProviderError(string(upstreamErr.Body), err, api.WithExtension("upstream_status", upstreamErr.StatusCode))
			}
			llm.Send(ctx, ch, llm.Chunk{Err: err})
		}
	}()

	return ch, nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return httpclient.SendRequest(ctx, a.client, http.MethodGet, a.config.BaseURL+"/api/version", nil, nil, nil)
}

package anthropic

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
	llm.Register(string(llm.Anthropic), NewAdapter)
}

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultVersion   = "2023-06-01"
	defaultMaxOutput = 1024
	contextWindow    = 200000
)

var pricing = map[string]api.Pricing{
	"claude-3-haiku":    {Input: 0.00025, Output: 0.00125},
	"claude-3-5-haiku":  {Input: 0.0008, Output: 0.004},
	"claude-3-5-sonnet": {Input: 0.003, Output: 0.015},
	"claude-3-opus":     {Input: 0.015, Output: 0.075},
}

// modelPricing matches by prefix so dated model ids resolve to their family.
func modelPricing(model string) api.Pricing {
	best := ""
	for prefix := range pricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return pricing["claude-3-5-sonnet"]
	}
	return pricing[best]
}

type Adapter struct {
	llm.Meter
	config config.ProviderConfig
	client httpclient.HTTPClient
}

func NewAdapter(cfg config.ProviderConfig) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Adapter{
		Meter:  llm.Meter{Price: modelPricing(cfg.UpstreamModel()), Window: contextWindow}.WithOverrides(cfg.Config),
		config: cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (a *Adapter) ID() string { return a.config.ID }

func (a *Adapter) Name() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	return a.config.ID
}

func (a *Adapter) Type() string { return string(llm.Anthropic) }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *Adapter) headers() map[string]string {
	headers := map[string]string{
		"x-api-key":         a.config.APIKey,
		"anthropic-version": defaultVersion,
	}
	if v, ok := a.config.Config["version"]; ok {
		headers["anthropic-version"] = v
	}
	return headers
}

func (a *Adapter) url(path string) string {
	return strings.TrimRight(a.config.BaseURL, "/") + path
}

func (a *Adapter) StreamCompletion(ctx context.Context, prompt string) (<-chan llm.Chunk, error) {
	req := request{
		Model:     a.config.UpstreamModel(),
		Messages:  []message{{Role: "user", Content: prompt}},
		MaxTokens: defaultMaxOutput,
		Stream:    true,
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)

		err := httpclient.StreamRequest(ctx, a.client, http.MethodPost, a.url("/messages"), a.headers(), req, func(line string) error {
			// event: lines only repeat the type carried in the data payload
			if !strings.HasPrefix(line, "data:") {
				return nil
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				return fmt.Errorf("malformed stream event: %w", err)
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta == nil || event.Delta.Type != "text_delta" || event.Delta.Text == "" {
					return nil
				}
				if !llm.Send(ctx, ch, llm.Chunk{Text: event.Delta.Text}) {
					return ctx.Err()
				}
			case "message_stop":
				return httpclient.ErrStopStream
			case "error":
				msg := "unknown stream error"
				if event.Error != nil {
					msg = event.Error.Type + ": " + event.Error.Message
				}
				return api.ProviderError(msg, errors.New(msg))
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

	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal(upstreamErr.Body, &body); jsonErr != nil || body.Error.Message == "" {
		return api.ProviderError(string(upstreamErr.Body), err)
	}
	return api.ProviderError(body.Error.Message, err,
		api.WithExtension("upstream_status", upstreamErr.StatusCode),
		api.WithExtension("upstream_type", body.Error.Type),
	)
}

// Health lists a single model, which requires a valid key.
func (a *Adapter) Health(ctx context.Context) error {
	return httpclient.SendRequest(ctx, a.client, http.MethodGet, a.url("/models?limit=1"), a.headers(), nil, nil)
}

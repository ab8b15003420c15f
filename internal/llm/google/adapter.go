package google

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
	llm.Register(string(llm.Google), NewAdapter)
}

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// prices per 1000 tokens
var pricing = map[string]api.Pricing{
	"gemini-1.5-flash": {Input: 0.000075, Output: 0.0003},
	"gemini-1.5-pro":   {Input: 0.00125, Output: 0.005},
	"gemini-2.0-flash": {Input: 0.0001, Output: 0.0004},
}

func modelPricing(model string) api.Pricing {
	if p, ok := pricing[model]; ok {
		return p
	}
	return pricing["gemini-1.5-flash"]
}

// Adapter streams from the Gemini streamGenerateContent endpoint. Without an
// API key it streams the canned answer for its model.
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
	return &Adapter{
		Meter:  llm.Meter{Price: modelPricing(cfg.UpstreamModel()), Window: 1048576}.WithOverrides(cfg.Config),
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

func (a *Adapter) Type() string { return string(llm.Google) }

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type upstreamErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (a *Adapter) url(path string) string {
	return strings.TrimRight(a.config.BaseURL, "/") + path
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"x-goog-api-key": a.config.APIKey}
}

func (a *Adapter) StreamCompletion(ctx context.Context, prompt string) (<-chan llm.Chunk, error) {
	if a.config.APIKey == "" {
		return llm.StreamWords(ctx, llm.CannedResponse(a.config.UpstreamModel(), prompt), a.delay, 0, nil), nil
	}

	req := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{MaxOutputTokens: 1000, Temperature: 0.7},
	}
	url := a.url(fmt.Sprintf("/models/%s:streamGenerateContent?alt=sse", a.config.UpstreamModel()))

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)

		err := httpclient.StreamRequest(ctx, a.client, http.MethodPost, url, a.headers(), req, func(line string) error {
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				return nil
			}

			var resp generateResponse
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &resp); err != nil {
				return fmt.Errorf("malformed stream chunk: %w", err)
			}
			if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
				return fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
			}
			if len(resp.Candidates) == 0 {
				return nil
			}

			for _, p := range resp.Candidates[0].Content.Parts {
				if p.Text == "" {
					continue
				}
				if !llm.Send(ctx, ch, llm.Chunk{Text: p.Text}) {
					return ctx.Err()
				}
			}
			if resp.Candidates[0].FinishReason == "SAFETY" {
				return errors.New("response stopped by safety filter")
			}
			return nil
		})

		if err != nil && ctx.Err() == nil {
			llm.Send(ctx, ch, llm.Chunk{Err: handleUpstreamError(err)})
		}
	}()

	return ch, nil
}

func handleUpstreamError(err error) error {
	var upstreamErr *httpclient.UpstreamError
	if !errors.As(err, &upstreamErr) {
		return err
	}

	var apiErr upstreamErrorResponse
	if jsonErr := json.Unmarshal(upstreamErr.Body, &apiErr); jsonErr != nil || apiErr.Error.Message == "" {
		return api.ProviderError(string(upstreamErr.Body), err)
	}
	return api.ProviderError(apiErr.Error.Message, err,
		api.WithExtension("upstream_status", upstreamErr.StatusCode),
		api.WithExtension("upstream_code", apiErr.Error.Status),
	)
}

func (a *Adapter) Health(ctx context.Context) error {
	if a.config.APIKey == "" {
		return nil
	}
	return httpclient.SendRequest(ctx, a.client, http.MethodGet, a.url("/models/"+a.config.UpstreamModel()), a.headers(), nil, nil)
}

package llm

import (
	"context"
	"errors"

	"github.com/nulzo/model-playground/pkg/api"
)

type ProviderType string

const (
	OpenAI    ProviderType = "openai"
	Anthropic ProviderType = "anthropic"
	Google    ProviderType = "google"
	Ollama    ProviderType = "ollama"
	Mock      ProviderType = "mock"
)

var ErrProviderNotFound = errors.New("provider not found")

// Chunk is one fragment of a streamed completion. A Chunk with a non-nil Err is
// always the last value sent before the channel closes.
type Chunk struct {
	Text string
	Err  error
}

// Provider wraps one model backend.
//
// StreamCompletion returns a finite, non-restartable sequence of fragments. Failures
// after the call returns arrive as a terminal Chunk with Err set; implementations
// stop sending and close the channel once ctx is cancelled.
type Provider interface {
	ID() string
	Name() string
	Type() string
	StreamCompletion(ctx context.Context, prompt string) (<-chan Chunk, error)
	EstimateTokens(text string) int
	CalculateCost(inputTokens, outputTokens int) float64
	MaxTokens() int
	Pricing() api.Pricing
	Health(ctx context.Context) error
}

// Send delivers c on ch unless ctx is done first.
func Send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

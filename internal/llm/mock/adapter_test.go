package mock_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nulzo/model-playground/internal/config"
	"github.com/nulzo/model-playground/internal/llm"
	"github.com/nulzo/model-playground/internal/llm/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan llm.Chunk) ([]string, error) {
	var parts []string
	for c := range ch {
		if c.Err != nil {
			return parts, c.Err
		}
		parts = append(parts, c.Text)
	}
	return parts, nil
}

func TestMockStreamsWords(t *testing.T) {
	p, err := mock.NewAdapter(config.ProviderConfig{
		ID:     "echo",
		Type:   "mock",
		Config: map[string]string{"response": "one two three four five", "min_delay": "0s", "max_delay": "0s"},
	})
	require.NoError(t, err)

	ch, err := p.StreamCompletion(context.Background(), "ignored")
	require.NoError(t, err)

	parts, err := drain(ch)
	require.NoError(t, err)
	assert.Equal(t, []string{"one ", "two ", "three ", "four ", "five"}, parts)
	assert.Equal(t, "echo", p.ID())
	assert.Equal(t, "mock", p.Type())
}

func TestMockCannedResponseIncludesPrompt(t *testing.T) {
	p, err := mock.NewAdapter(config.ProviderConfig{
		ID:     "gpt-4o-mini",
		Type:   "mock",
		Config: map[string]string{"min_delay": "0s", "max_delay": "0s"},
	})
	require.NoError(t, err)

	ch, err := p.StreamCompletion(context.Background(), "why is the sky blue")
	require.NoError(t, err)

	parts, err := drain(ch)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.Join(parts, ""), "As GPT-4o Mini"))
	assert.Contains(t, strings.Join(parts, ""), "why is the sky blue")
}

func TestMockFailAfter(t *testing.T) {
	p, err := mock.NewAdapter(config.ProviderConfig{
		ID:   "flaky",
		Type: "mock",
		Config: map[string]string{
			"response":     "a b c d",
			"min_delay":    "0s",
			"max_delay":    "0s",
			"fail_after":   "2",
			"fail_message": "upstream exploded",
		},
	})
	require.NoError(t, err)

	ch, err := p.StreamCompletion(context.Background(), "x")
	require.NoError(t, err)

	parts, err := drain(ch)
	assert.EqualError(t, err, "upstream exploded")
	assert.Equal(t, []string{"a ", "b "}, parts)
}

func TestMockFailImmediately(t *testing.T) {
	p, err := mock.NewAdapter(config.ProviderConfig{
		ID:     "broken",
		Type:   "mock",
		Config: map[string]string{"fail_immediately": "true"},
	})
	require.NoError(t, err)

	_, err = p.StreamCompletion(context.Background(), "x")
	assert.Error(t, err)
}

func TestMockStopsOnCancel(t *testing.T) {
	p, err := mock.NewAdapter(config.ProviderConfig{
		ID:     "slow",
		Type:   "mock",
		Config: map[string]string{"response": "a b c", "min_delay": "1h", "max_delay": "1h"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.StreamCompletion(ctx, "x")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}

func TestMockPricingOverrides(t *testing.T) {
	p, err := mock.NewAdapter(config.ProviderConfig{
		ID:     "priced",
		Type:   "mock",
		Config: map[string]string{"input_price": "0.0015", "output_price": "0.002", "max_tokens": "1024"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1024, p.MaxTokens())
	assert.InDelta(t, (100*0.0015+50*0.002)/1000, p.CalculateCost(100, 50), 1e-12)
}

func TestMockRejectsBadDelay(t *testing.T) {
	_, err := mock.NewAdapter(config.ProviderConfig{ID: "x", Type: "mock", Config: map[string]string{"min_delay": "soon"}})
	assert.Error(t, err)
}

package mock

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/nulzo/model-playground/internal/config"
	"github.com/nulzo/model-playground/internal/llm"
	"github.com/nulzo/model-playground/pkg/api"
)

func init() {
	llm.Register(string(llm.Mock), NewAdapter)
}

const (
	defaultMinDelay = 50 * time.Millisecond
	defaultMaxDelay = 150 * time.Millisecond
)

// Adapter streams a canned answer without calling any backend.
//
// Recognised config keys: response, min_delay, max_delay, fail_after,
// fail_message, fail_immediately, plus the shared pricing overrides.
type Adapter struct {
	llm.Meter
	config          config.ProviderConfig
	delay           func() time.Duration
	failAfter       int
	failImmediately bool
	failErr         error
}

func NewAdapter(cfg config.ProviderConfig) (llm.Provider, error) {
	minDelay, err := durationOr(cfg.Config, "min_delay", defaultMinDelay)
	if err != nil {
		return nil, err
	}
	maxDelay, err := durationOr(cfg.Config, "max_delay", defaultMaxDelay)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		Meter:   llm.Meter{Price: api.Pricing{}, Window: 4096}.WithOverrides(cfg.Config),
		config:  cfg,
		delay:   llm.Jitter(minDelay, maxDelay),
		failErr: errors.New("simulated provider failure"),
	}

	if v, ok := cfg.Config["fail_after"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("mock: fail_after must be an integer")
		}
		a.failAfter = n
	}
	if msg, ok := cfg.Config["fail_message"]; ok && msg != "" {
		a.failErr = errors.New(msg)
	}
	a.failImmediately = cfg.Config["fail_immediately"] == "true"

	return a, nil
}

func (a *Adapter) ID() string { return a.config.ID }

func (a *Adapter) Name() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	return a.config.ID
}

func (a *Adapter) Type() string { return string(llm.Mock) }

func (a *Adapter) StreamCompletion(ctx context.Context, prompt string) (<-chan llm.Chunk, error) {
	if a.failImmediately {
		return nil, a.failErr
	}

	text, ok := a.config.Config["response"]
	if !ok {
		text = llm.CannedResponse(a.config.UpstreamModel(), prompt)
	}
	return llm.StreamWords(ctx, text, a.delay, a.failAfter, a.failErr), nil
}

func (a *Adapter) Health(context.Context) error { return nil }

func durationOr(cfg map[string]string, key string, fallback time.Duration) (time.Duration, error) {
	v, ok := cfg[key]
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.New("mock: " + key + " must be a duration")
	}
	return d, nil
}

package playground

import (
	"strings"
	"sync"
	"time"
)

// RunState is the lifecycle of one provider within one invocation.
type RunState string

const (
	RunPending   RunState = "PENDING"
	RunStreaming RunState = "STREAMING"
	RunComplete  RunState = "COMPLETE"
	RunError     RunState = "ERROR"
)

// RunSnapshot is a point-in-time copy of a provider run.
type RunSnapshot struct {
	ProviderID   string
	State        RunState
	Text         string
	StartedAt    time.Time
	TokensUsed   int
	Cost         float64
	ResponseTime int64
	Error        string
}

// run is mutated only by its owning provider task.
type run struct {
	mu sync.Mutex

	providerID string
	state      RunState
	text       strings.Builder
	startedAt  time.Time
	tokens     int
	cost       float64
	elapsed    int64
	err        string
}

func newRun(providerID string) *run {
	return &run{providerID: providerID, state: RunPending}
}

func (r *run) start(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RunStreaming
	r.startedAt = at
}

func (r *run) append(fragment string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text.WriteString(fragment)
}

func (r *run) output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text.String()
}

func (r *run) complete(tokens int, cost float64, elapsed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RunComplete
	r.tokens = tokens
	r.cost = cost
	r.elapsed = elapsed
}

func (r *run) fail(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RunError
	r.err = msg
}

func (r *run) snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunSnapshot{
		ProviderID:   r.providerID,
		State:        r.state,
		Text:         r.text.String(),
		StartedAt:    r.startedAt,
		TokensUsed:   r.tokens,
		Cost:         r.cost,
		ResponseTime: r.elapsed,
		Error:        r.err,
	}
}

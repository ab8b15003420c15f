// Package playground fans one prompt out to several providers and multiplexes
// their streams into a single event sequence while persisting the exchange.
package playground

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/model-playground/internal/llm"
	"github.com/nulzo/model-playground/internal/store"
	"github.com/nulzo/model-playground/internal/store/model"
	"github.com/nulzo/model-playground/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyPrompt     = errors.New("prompt must not be empty")
	ErrNoProviders     = errors.New("at least one provider must be selected")
	ErrUnknownProvider = errors.New("unknown provider")
)

const tracerName = "github.com/nulzo/model-playground/internal/playground"

// Request is one prompt round. CallerID is trusted as already authenticated.
type Request struct {
	Prompt      string
	ProviderIDs []string
	CallerID    string
	SessionID   string
}

type Orchestrator struct {
	repo      store.Repository
	providers *llm.Registry
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewOrchestrator(repo store.Repository, providers *llm.Registry, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		providers: providers,
		logger:    logger.Named("playground"),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
}

// Invocation is the running fan-out for one prompt round.
type Invocation struct {
	sessionID string
	persisted bool
	order     []string
	runs      map[string]*run
	events    chan api.Event
}

// Events yields the session event first, then every provider's sub-sequence.
// The channel is closed once every provider has settled and the session is
// marked complete. Callers must drain it or cancel the context passed to
// StreamPrompt.
func (i *Invocation) Events() <-chan api.Event {
	return i.events
}

func (i *Invocation) SessionID() string {
	return i.sessionID
}

// Persisted is false when the session could not be created or reopened; the
// stream still runs but nothing is stored.
func (i *Invocation) Persisted() bool {
	return i.persisted
}

// Providers returns the selected provider ids in request order.
func (i *Invocation) Providers() []string {
	return append([]string(nil), i.order...)
}

// Snapshot copies the current state of every provider run.
func (i *Invocation) Snapshot() map[string]RunSnapshot {
	out := make(map[string]RunSnapshot, len(i.runs))
	for id, r := range i.runs {
		out[id] = r.snapshot()
	}
	return out
}

func (i *Invocation) emit(ctx context.Context, e api.Event) bool {
	select {
	case i.events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// StreamPrompt validates the request, resolves the session and starts one task
// per provider. Validation failures are returned before anything is stored.
func (o *Orchestrator) StreamPrompt(ctx context.Context, req Request) (*Invocation, error) {
	prompt, selected, err := o.prepare(req)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(selected))
	for i, p := range selected {
		ids[i] = p.ID()
	}

	ctx, span := o.tracer.Start(ctx, "playground.StreamPrompt",
		trace.WithAttributes(attribute.StringSlice("playground.providers", ids)))

	sessionID, persisted := o.resolveSession(ctx, req.CallerID, req.SessionID, prompt, ids)
	span.SetAttributes(
		attribute.String("playground.session_id", sessionID),
		attribute.Bool("playground.persisted", persisted),
	)

	inv := &Invocation{
		sessionID: sessionID,
		persisted: persisted,
		order:     ids,
		runs:      make(map[string]*run, len(ids)),
		events:    make(chan api.Event, 2*len(ids)+1),
	}
	for _, id := range ids {
		inv.runs[id] = newRun(id)
	}

	go o.drive(ctx, span, inv, prompt, selected)
	return inv, nil
}

// Validate reports the error StreamPrompt would reject req with. It has no side
// effects, so callers can check a request before charging quota for it.
func (o *Orchestrator) Validate(req Request) error {
	_, _, err := o.prepare(req)
	return err
}

func (o *Orchestrator) prepare(req Request) (string, []llm.Provider, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", nil, ErrEmptyPrompt
	}
	selected, err := o.resolveProviders(req.ProviderIDs)
	if err != nil {
		return "", nil, err
	}
	return prompt, selected, nil
}

func (o *Orchestrator) resolveProviders(requested []string) ([]llm.Provider, error) {
	seen := make(map[string]struct{}, len(requested))
	var selected []llm.Provider
	for _, raw := range requested {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		p, err := o.providers.Get(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
		}
		selected = append(selected, p)
	}
	if len(selected) == 0 {
		return nil, ErrNoProviders
	}
	return selected, nil
}

// resolveSession reopens the caller's session or creates a new one. Storage
// failures degrade to an unpersisted id instead of failing the request.
func (o *Orchestrator) resolveSession(ctx context.Context, callerID, sessionID, prompt string, ids []string) (string, bool) {
	sessions := o.repo.Sessions()
	log := o.logger.With(zap.String("caller", callerID))

	if sessionID != "" {
		_, err := sessions.Find(ctx, sessionID, callerID)
		switch {
		case err == nil:
			if err := sessions.Touch(ctx, sessionID); err != nil {
				log.Error("failed to reopen session, streaming without persistence",
					zap.String("session_id", sessionID), zap.Error(err))
				return sessionID, false
			}
			return sessionID, true
		case !errors.Is(err, store.ErrNotFound):
			log.Error("failed to look up session, streaming without persistence",
				zap.String("session_id", sessionID), zap.Error(err))
			return uuid.NewString(), false
		}
		log.Debug("session not found for caller, starting a new one", zap.String("session_id", sessionID))
	}

	now := o.now().UTC()
	s := &model.Session{
		ID:        uuid.NewString(),
		UserID:    callerID,
		Prompt:    prompt,
		Models:    model.StringList(ids),
		Status:    model.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := sessions.Create(ctx, s); err != nil {
		log.Error("failed to create session, streaming without persistence", zap.Error(err))
		return s.ID, false
	}
	return s.ID, true
}

// drive emits the session event, waits for every provider task to settle, marks
// the session complete and closes the event channel.
func (o *Orchestrator) drive(ctx context.Context, span trace.Span, inv *Invocation, prompt string, selected []llm.Provider) {
	defer span.End()
	defer close(inv.events)

	// Provider failures are terminal events, not group errors, so one failing
	// provider never cancels the others. The group only joins the tasks.
	var g errgroup.Group
	if inv.emit(ctx, api.SessionEvent(inv.sessionID, inv.persisted)) {
		for _, p := range selected {
			g.Go(func() error {
				o.runProvider(ctx, inv, p, prompt)
				return nil
			})
		}
	}
	_ = g.Wait()

	if !inv.persisted {
		return
	}
	if err := o.repo.Sessions().Complete(context.WithoutCancel(ctx), inv.sessionID); err != nil {
		o.logger.Error("failed to mark session complete",
			zap.String("session_id", inv.sessionID), zap.Error(err))
	}
}

// runProvider owns one provider's run. Errors never leave this function; they
// become a terminal error status for this provider only.
func (o *Orchestrator) runProvider(ctx context.Context, inv *Invocation, p llm.Provider, prompt string) {
	id := p.ID()
	r := inv.runs[id]

	ctx, span := o.tracer.Start(ctx, "playground.provider", trace.WithAttributes(
		attribute.String("provider.id", id),
		attribute.String("provider.type", p.Type()),
	))
	defer span.End()

	fail := func(err error) {
		msg := err.Error()
		r.fail(msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		o.logger.Warn("provider run failed",
			zap.String("provider", id),
			zap.String("session_id", inv.sessionID),
			zap.Error(err))
		inv.emit(ctx, api.StatusEvent(id, api.PhaseError, msg))
	}

	defer func() {
		if rec := recover(); rec != nil {
			fail(fmt.Errorf("provider %s panicked: %v", id, rec))
		}
	}()

	start := o.now()
	r.start(start)
	if !inv.emit(ctx, api.StatusEvent(id, api.PhaseStreaming, "")) {
		fail(ctx.Err())
		return
	}

	stream, err := p.StreamCompletion(ctx, prompt)
	if err != nil {
		fail(err)
		return
	}

	for {
		chunk, ok, err := next(ctx, stream)
		if err != nil {
			fail(err)
			return
		}
		if !ok {
			break
		}
		if chunk.Err != nil {
			fail(chunk.Err)
			return
		}
		if chunk.Text == "" {
			continue
		}
		r.append(chunk.Text)
		inv.emit(ctx, api.ChunkEvent(id, chunk.Text, o.now().UnixMilli()))
	}
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	text := r.output()
	elapsed := o.now().Sub(start).Milliseconds()
	in, out := p.EstimateTokens(prompt), p.EstimateTokens(text)
	cost := p.CalculateCost(in, out)
	r.complete(in+out, cost, elapsed)
	span.SetAttributes(
		attribute.Int("llm.input_tokens", in),
		attribute.Int("llm.output_tokens", out),
		attribute.Float64("llm.cost", cost),
	)

	inv.emit(ctx, api.MetricsEvent(id, in+out, cost, elapsed))
	inv.emit(ctx, api.StatusEvent(id, api.PhaseComplete, ""))

	if !inv.persisted {
		return
	}
	o.persistTurn(context.WithoutCancel(ctx), &model.Turn{
		ID:           uuid.NewString(),
		SessionID:    inv.sessionID,
		ProviderID:   id,
		UserPrompt:   prompt,
		Response:     text,
		InputTokens:  in,
		OutputTokens: out,
		Cost:         cost,
		ResponseTime: elapsed,
		Status:       model.TurnCompleted,
		CreatedAt:    o.now().UTC(),
	})
}

// next waits for the provider's next fragment without outliving ctx.
func next(ctx context.Context, stream <-chan llm.Chunk) (llm.Chunk, bool, error) {
	select {
	case <-ctx.Done():
		return llm.Chunk{}, false, ctx.Err()
	case c, ok := <-stream:
		return c, ok, nil
	}
}

// persistTurn appends the turn and bumps the session totals in one transaction.
func (o *Orchestrator) persistTurn(ctx context.Context, turn *model.Turn) {
	err := o.repo.WithTx(ctx, func(tx store.Repository) error {
		if err := tx.Turns().Append(ctx, turn); err != nil {
			return fmt.Errorf("append turn: %w", err)
		}
		if err := tx.Sessions().IncrementTotals(ctx, turn.SessionID, turn.Cost, turn.Tokens()); err != nil {
			return fmt.Errorf("increment totals: %w", err)
		}
		return nil
	})
	if err != nil {
		o.logger.Error("failed to persist turn",
			zap.String("session_id", turn.SessionID),
			zap.String("provider", turn.ProviderID),
			zap.Error(err))
	}
}

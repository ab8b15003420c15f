package playground

import (
	"context"

	"github.com/nulzo/model-playground/internal/store"
	"github.com/nulzo/model-playground/internal/store/model"
	"github.com/nulzo/model-playground/pkg/api"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// History serves the caller-scoped session reads.
type History struct {
	repo store.Repository
}

func NewHistory(repo store.Repository) *History {
	return &History{repo: repo}
}

// ClampPage normalizes raw pagination input: page >= 1, 1 <= pageSize <= 100.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// List returns one page of the caller's sessions, newest first.
func (h *History) List(ctx context.Context, callerID string, page, pageSize int) (api.Page[api.SessionSummary], error) {
	page, pageSize = ClampPage(page, pageSize)

	sessions, total, err := h.repo.Sessions().List(ctx, callerID, pageSize, (page-1)*pageSize)
	if err != nil {
		return api.Page[api.SessionSummary]{}, err
	}

	items := make([]api.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, summary(s))
	}
	return api.Page[api.SessionSummary]{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// Get returns the session with every turn in creation order. A session owned by
// another caller is reported as store.ErrNotFound.
func (h *History) Get(ctx context.Context, callerID, sessionID string) (*api.SessionDetail, error) {
	s, err := h.repo.Sessions().Find(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}

	turns, err := h.repo.Turns().ListBySession(ctx, s.ID)
	if err != nil {
		return nil, err
	}

	detail := &api.SessionDetail{
		SessionSummary: summary(*s),
		Conversations:  make([]api.Turn, 0, len(turns)),
	}
	for _, t := range turns {
		detail.Conversations = append(detail.Conversations, toTurn(t))
	}
	return detail, nil
}

// Turn returns one of the caller's turns by id.
func (h *History) Turn(ctx context.Context, callerID, turnID string) (*api.Turn, error) {
	t, err := h.repo.Turns().Find(ctx, turnID, callerID)
	if err != nil {
		return nil, err
	}
	out := toTurn(*t)
	return &out, nil
}

func toTurn(t model.Turn) api.Turn {
	return api.Turn{
		ID:           t.ID,
		SessionID:    t.SessionID,
		ProviderID:   t.ProviderID,
		UserPrompt:   t.UserPrompt,
		Response:     t.Response,
		InputTokens:  t.InputTokens,
		OutputTokens: t.OutputTokens,
		Cost:         t.Cost,
		ResponseTime: t.ResponseTime,
		Status:       t.Status,
		CreatedAt:    t.CreatedAt,
	}
}

func summary(s model.Session) api.SessionSummary {
	models := []string(s.Models)
	if models == nil {
		models = []string{}
	}
	return api.SessionSummary{
		ID:          s.ID,
		Prompt:      s.Prompt,
		Models:      models,
		Status:      s.Status,
		TotalCost:   s.TotalCost,
		TotalTokens: s.TotalTokens,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

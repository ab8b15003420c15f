package store

import (
	"context"
	"errors"
	"time"

	"github.com/nulzo/model-playground/internal/store/model"
)

var ErrNotFound = errors.New("record not found")

// Repository is the main contract for the data layer.
type Repository interface {
	Users() UserRepository
	APIKeys() APIKeyRepository
	Sessions() SessionRepository
	Turns() TurnRepository

	// WithTx runs fn against a repository bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Ping(ctx context.Context) error
	Close() error
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	Get(ctx context.Context, id string) (*model.User, error)
}

type APIKeyRepository interface {
	// GetByHash retrieves an active key by its hashed value (for auth).
	GetByHash(ctx context.Context, hash string) (*model.APIKey, error)
	Create(ctx context.Context, key *model.APIKey) error
	// UpdateUsage stamps last_used_at.
	UpdateUsage(ctx context.Context, id string) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	// Find returns the session only if it belongs to userID; otherwise ErrNotFound.
	Find(ctx context.Context, id, userID string) (*model.Session, error)
	// Touch reopens a session for a new prompt round.
	Touch(ctx context.Context, id string) error
	Complete(ctx context.Context, id string) error
	// IncrementTotals adds to the running totals in a single UPDATE so concurrent
	// callers never lose an increment.
	IncrementTotals(ctx context.Context, id string, cost float64, tokens int64) error
	// List returns a page of the user's sessions, newest first, plus the total count.
	List(ctx context.Context, userID string, limit, offset int) ([]model.Session, int, error)
}

type TurnRepository interface {
	// Append inserts an immutable turn.
	Append(ctx context.Context, turn *model.Turn) error
	// Find returns the turn only if its session belongs to userID; otherwise ErrNotFound.
	Find(ctx context.Context, id, userID string) (*model.Turn, error)
	// ListBySession returns turns in creation order.
	ListBySession(ctx context.Context, sessionID string) ([]model.Turn, error)
	// DailyUsage aggregates the user's turns per day and provider since the given time.
	DailyUsage(ctx context.Context, userID string, since time.Time) ([]model.DailyUsage, error)
}

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/model-playground/internal/store"
	"github.com/nulzo/model-playground/internal/store/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := NewSQLiteStorage(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newSession(userID string, createdAt time.Time) *model.Session {
	return &model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Prompt:    "hello",
		Models:    model.StringList{"gpt-3.5-turbo", "gpt-4o-mini"},
		Status:    model.SessionActive,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: createdAt.UTC(),
	}
}

func newTurn(sessionID, provider string, createdAt time.Time) *model.Turn {
	return &model.Turn{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		ProviderID:   provider,
		UserPrompt:   "hello",
		Response:     "hi there",
		InputTokens:  2,
		OutputTokens: 3,
		Cost:         0.001,
		ResponseTime: 120,
		Status:       model.TurnCompleted,
		CreatedAt:    createdAt.UTC(),
	}
}

func TestUsersAndAPIKeys(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	user := &model.User{ID: "u1", Email: "a@example.com", Name: "A", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Users().Create(ctx, user))

	got, err := repo.Users().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	_, err = repo.Users().Get(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)

	key := &model.APIKey{ID: "k1", UserID: "u1", Name: "dev", KeyHash: "abc", KeyPrefix: "sk-test-", IsActive: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.APIKeys().Create(ctx, key))

	found, err := repo.APIKeys().GetByHash(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "u1", found.UserID)
	assert.False(t, found.LastUsedAt.Valid)

	require.NoError(t, repo.APIKeys().UpdateUsage(ctx, "k1"))
	found, err = repo.APIKeys().GetByHash(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, found.LastUsedAt.Valid)

	_, err = repo.APIKeys().GetByHash(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionOwnership(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s := newSession("alice", time.Now())
	require.NoError(t, repo.Sessions().Create(ctx, s))

	got, err := repo.Sessions().Find(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StringList{"gpt-3.5-turbo", "gpt-4o-mini"}, got.Models)
	assert.Equal(t, model.SessionActive, got.Status)

	_, err = repo.Sessions().Find(ctx, s.ID, "mallory")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionTouchAndComplete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s := newSession("alice", time.Now())
	require.NoError(t, repo.Sessions().Create(ctx, s))

	require.NoError(t, repo.Sessions().Complete(ctx, s.ID))
	got, err := repo.Sessions().Find(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, got.Status)

	require.NoError(t, repo.Sessions().Touch(ctx, s.ID))
	got, err = repo.Sessions().Find(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, got.Status)

	assert.ErrorIs(t, repo.Sessions().Touch(ctx, "missing"), store.ErrNotFound)
}

func TestIncrementTotalsConcurrent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s := newSession("alice", time.Now())
	require.NoError(t, repo.Sessions().Create(ctx, s))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.WithTx(ctx, func(tx store.Repository) error {
				if err := tx.Turns().Append(ctx, newTurn(s.ID, fmt.Sprintf("p%d", i), time.Now())); err != nil {
					return err
				}
				return tx.Sessions().IncrementTotals(ctx, s.ID, 0.5, 5)
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := repo.Sessions().Find(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.InDelta(t, workers*0.5, got.TotalCost, 1e-9)
	assert.Equal(t, int64(workers*5), got.TotalTokens)

	turns, err := repo.Turns().ListBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, turns, workers)
}

func TestWithTxRollback(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s := newSession("alice", time.Now())
	require.NoError(t, repo.Sessions().Create(ctx, s))

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(tx store.Repository) error {
		require.NoError(t, tx.Turns().Append(ctx, newTurn(s.ID, "p", time.Now())))
		require.NoError(t, tx.Sessions().IncrementTotals(ctx, s.ID, 1, 1))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.Sessions().Find(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Zero(t, got.TotalTokens)

	turns, err := repo.Turns().ListBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestListSessionsNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		s := newSession("alice", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Sessions().Create(ctx, s))
		ids = append(ids, s.ID)
	}
	require.NoError(t, repo.Sessions().Create(ctx, newSession("bob", base)))

	page, total, err := repo.Sessions().List(ctx, "alice", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	page, _, err = repo.Sessions().List(ctx, "alice", 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	page, total, err = repo.Sessions().List(ctx, "nobody", 20, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, page)
}

func TestTurnsInCreationOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s := newSession("alice", time.Now())
	require.NoError(t, repo.Sessions().Create(ctx, s))

	for _, p := range []string{"c", "a", "b"} {
		require.NoError(t, repo.Turns().Append(ctx, newTurn(s.ID, p, time.Now())))
	}

	turns, err := repo.Turns().ListBySession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "c", turns[0].ProviderID)
	assert.Equal(t, "a", turns[1].ProviderID)
	assert.Equal(t, "b", turns[2].ProviderID)
	assert.Equal(t, int64(5), turns[0].Tokens())
}

func TestDailyUsage(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	s := newSession("alice", day1)
	require.NoError(t, repo.Sessions().Create(ctx, s))
	other := newSession("bob", day1)
	require.NoError(t, repo.Sessions().Create(ctx, other))

	require.NoError(t, repo.Turns().Append(ctx, newTurn(s.ID, "gpt-4", day1)))
	require.NoError(t, repo.Turns().Append(ctx, newTurn(s.ID, "gpt-4", day1.Add(time.Hour))))
	require.NoError(t, repo.Turns().Append(ctx, newTurn(s.ID, "mock", day2)))
	require.NoError(t, repo.Turns().Append(ctx, newTurn(other.ID, "gpt-4", day1)))

	stats, err := repo.Turns().DailyUsage(ctx, "alice", day1.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "2026-03-01", stats[0].Date)
	assert.Equal(t, "gpt-4", stats[0].ProviderID)
	assert.Equal(t, 2, stats[0].Turns)
	assert.Equal(t, int64(10), stats[0].TotalTokens)
	assert.InDelta(t, 0.002, stats[0].TotalCost, 1e-12)
	assert.InDelta(t, 120, stats[0].AvgResponseTime, 1e-9)

	assert.Equal(t, "2026-03-02", stats[1].Date)
	assert.Equal(t, "mock", stats[1].ProviderID)

	stats, err = repo.Turns().DailyUsage(ctx, "alice", day2.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stats, 1)
}

func TestFindTurnScopedToOwner(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s := newSession("alice", time.Now())
	require.NoError(t, repo.Sessions().Create(ctx, s))
	turn := newTurn(s.ID, "gpt-4", time.Now())
	require.NoError(t, repo.Turns().Append(ctx, turn))

	got, err := repo.Turns().Find(ctx, turn.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", got.ProviderID)
	assert.Equal(t, s.ID, got.SessionID)

	_, err = repo.Turns().Find(ctx, turn.ID, "bob")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = repo.Turns().Find(ctx, "missing", "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

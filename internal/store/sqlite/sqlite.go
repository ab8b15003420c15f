package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nulzo/model-playground/internal/store"
	"github.com/nulzo/model-playground/internal/store/model"
)

// DB is satisfied by both *sqlx.DB and *sqlx.Tx.
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // for starting transactions
	executor DB       // *sqlx.DB or *sqlx.Tx
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// rollback error is secondary to the original
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Users() store.UserRepository {
	return &userRepo{db: r.executor}
}

func (r *SqliteRepository) APIKeys() store.APIKeyRepository {
	return &apiKeyRepo{db: r.executor}
}

func (r *SqliteRepository) Sessions() store.SessionRepository {
	return &sessionRepo{db: r.executor}
}

func (r *SqliteRepository) Turns() store.TurnRepository {
	return &turnRepo{db: r.executor}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func expectRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

type userRepo struct {
	db DB
}

func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	query := `
	INSERT INTO users (id, email, name, created_at, updated_at)
	VALUES (:id, :email, :name, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, user)
	return err
}

func (r *userRepo) Get(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

type apiKeyRepo struct {
	db DB
}

func (r *apiKeyRepo) GetByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	// active check is part of the query for speed
	query := `SELECT * FROM api_keys WHERE key_hash = ? AND is_active = 1`
	if err := r.db.GetContext(ctx, &key, query, hash); err != nil {
		return nil, notFound(err)
	}
	return &key, nil
}

func (r *apiKeyRepo) Create(ctx context.Context, key *model.APIKey) error {
	query := `
	INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, is_active, created_at, updated_at)
	VALUES (:id, :user_id, :name, :key_hash, :key_prefix, :is_active, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, key)
	return err
}

func (r *apiKeyRepo) UpdateUsage(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, now(), id)
	return err
}

type sessionRepo struct {
	db DB
}

func (r *sessionRepo) Create(ctx context.Context, s *model.Session) error {
	query := `
	INSERT INTO sessions (id, user_id, prompt, models, status, total_cost, total_tokens, created_at, updated_at)
	VALUES (:id, :user_id, :prompt, :models, :status, :total_cost, :total_tokens, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, s)
	return err
}

func (r *sessionRepo) Find(ctx context.Context, id, userID string) (*model.Session, error) {
	var s model.Session
	if err := r.db.GetContext(ctx, &s, `SELECT * FROM sessions WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *sessionRepo) Touch(ctx context.Context, id string) error {
	return expectRow(r.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		model.SessionActive, now(), id))
}

func (r *sessionRepo) Complete(ctx context.Context, id string) error {
	return expectRow(r.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		model.SessionCompleted, now(), id))
}

func (r *sessionRepo) IncrementTotals(ctx context.Context, id string, cost float64, tokens int64) error {
	return expectRow(r.db.ExecContext(ctx, `
	UPDATE sessions
	SET total_cost = total_cost + ?, total_tokens = total_tokens + ?, updated_at = ?
	WHERE id = ?`, cost, tokens, now(), id))
}

func (r *sessionRepo) List(ctx context.Context, userID string, limit, offset int) ([]model.Session, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`, userID); err != nil {
		return nil, 0, err
	}

	sessions := []model.Session{}
	query := `
	SELECT * FROM sessions
	WHERE user_id = ?
	ORDER BY created_at DESC, id DESC
	LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, &sessions, query, userID, limit, offset); err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

type turnRepo struct {
	db DB
}

func (r *turnRepo) Append(ctx context.Context, t *model.Turn) error {
	query := `
	INSERT INTO turns (
		id, session_id, provider_id, user_prompt, response,
		input_tokens, output_tokens, cost, response_time_ms, status, created_at
	) VALUES (
		:id, :session_id, :provider_id, :user_prompt, :response,
		:input_tokens, :output_tokens, :cost, :response_time_ms, :status, :created_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, t)
	return err
}

func (r *turnRepo) Find(ctx context.Context, id, userID string) (*model.Turn, error) {
	var t model.Turn
	query := `
	SELECT t.* FROM turns t
	JOIN sessions s ON s.id = t.session_id
	WHERE t.id = ? AND s.user_id = ?`
	if err := r.db.GetContext(ctx, &t, query, id, userID); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *turnRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Turn, error) {
	turns := []model.Turn{}
	err := r.db.SelectContext(ctx, &turns, `SELECT * FROM turns WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	return turns, err
}

func (r *turnRepo) DailyUsage(ctx context.Context, userID string, since time.Time) ([]model.DailyUsage, error) {
	stats := []model.DailyUsage{}
	query := `
	SELECT
		date(t.created_at) AS date,
		t.provider_id,
		COUNT(*) AS turns,
		COALESCE(SUM(t.input_tokens + t.output_tokens), 0) AS total_tokens,
		COALESCE(SUM(t.cost), 0) AS total_cost,
		COALESCE(AVG(t.response_time_ms), 0) AS avg_response_time
	FROM turns t
	JOIN sessions s ON s.id = t.session_id
	WHERE s.user_id = ? AND t.created_at >= ? AND t.status = ?
	GROUP BY date(t.created_at), t.provider_id
	ORDER BY date ASC, t.provider_id ASC`
	err := r.db.SelectContext(ctx, &stats, query, userID, since.UTC(), model.TurnCompleted)
	return stats, err
}

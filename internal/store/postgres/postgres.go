package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nulzo/model-playground/internal/store"
	"github.com/nulzo/model-playground/internal/store/model"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var fs embed.FS

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is the subset of *pgxpool.Pool the repository needs.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type PostgresRepository struct {
	pool Pool
	q    Querier
	tx   pgx.Tx
}

// NewPostgresStorage connects to dsn, applies migrations and returns the repository.
func NewPostgresStorage(ctx context.Context, dsn string, logger *zap.Logger) (store.Repository, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Debug("postgres migrations applied")

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return NewPostgresRepository(pool), nil
}

func NewPostgresRepository(pool Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, q: pool}
}

// migrateURL rewrites a libpq style URL for the pgx/v5 migrate driver.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func runMigrations(dsn string) error {
	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, migrateURL(dsn))
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(&PostgresRepository{pool: r.pool, q: tx, tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) Users() store.UserRepository       { return &userRepo{q: r.q} }
func (r *PostgresRepository) APIKeys() store.APIKeyRepository   { return &apiKeyRepo{q: r.q} }
func (r *PostgresRepository) Sessions() store.SessionRepository { return &sessionRepo{q: r.q} }
func (r *PostgresRepository) Turns() store.TurnRepository       { return &turnRepo{q: r.q} }

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func expectRow(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

type userRepo struct {
	q Querier
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO users (id, email, name, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.Name, u.CreatedAt, u.UpdatedAt)
	return err
}

func (r *userRepo) Get(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.q.QueryRow(ctx,
		`SELECT id, email, name, created_at, updated_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

type apiKeyRepo struct {
	q Querier
}

func (r *apiKeyRepo) GetByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var (
		k        model.APIKey
		lastUsed *time.Time
	)
	err := r.q.QueryRow(ctx, `
		SELECT id, user_id, name, key_hash, key_prefix, last_used_at, is_active, created_at, updated_at
		FROM api_keys WHERE key_hash = $1 AND is_active`, hash).
		Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &lastUsed, &k.IsActive, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if lastUsed != nil {
		k.LastUsedAt.Time, k.LastUsedAt.Valid = *lastUsed, true
	}
	return &k, nil
}

func (r *apiKeyRepo) Create(ctx context.Context, k *model.APIKey) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.ID, k.UserID, k.Name, k.KeyHash, k.KeyPrefix, k.IsActive, k.CreatedAt, k.UpdatedAt)
	return err
}

func (r *apiKeyRepo) UpdateUsage(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, now(), id)
	return err
}

type sessionRepo struct {
	q Querier
}

const sessionColumns = `id, user_id, prompt, models, status, total_cost, total_tokens, created_at, updated_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	var (
		s      model.Session
		models string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.Prompt, &models, &s.Status,
		&s.TotalCost, &s.TotalTokens, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := s.Models.Scan(models); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) Create(ctx context.Context, s *model.Session) error {
	models, err := s.Models.Value()
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UserID, s.Prompt, models, s.Status, s.TotalCost, s.TotalTokens, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *sessionRepo) Find(ctx context.Context, id, userID string) (*model.Session, error) {
	s, err := scanSession(r.q.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func (r *sessionRepo) Touch(ctx context.Context, id string) error {
	return expectRow(r.q.Exec(ctx,
		`UPDATE sessions SET status = $1, updated_at = $2 WHERE id = $3`,
		model.SessionActive, now(), id))
}

func (r *sessionRepo) Complete(ctx context.Context, id string) error {
	return expectRow(r.q.Exec(ctx,
		`UPDATE sessions SET status = $1, updated_at = $2 WHERE id = $3`,
		model.SessionCompleted, now(), id))
}

func (r *sessionRepo) IncrementTotals(ctx context.Context, id string, cost float64, tokens int64) error {
	return expectRow(r.q.Exec(ctx, `
		UPDATE sessions
		SET total_cost = total_cost + $1, total_tokens = total_tokens + $2, updated_at = $3
		WHERE id = $4`, cost, tokens, now(), id))
}

func (r *sessionRepo) List(ctx context.Context, userID string, limit, offset int) ([]model.Session, int, error) {
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.q.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, total, rows.Err()
}

type turnRepo struct {
	q Querier
}

func (r *turnRepo) Append(ctx context.Context, t *model.Turn) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO turns (
			id, session_id, provider_id, user_prompt, response,
			input_tokens, output_tokens, cost, response_time_ms, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.SessionID, t.ProviderID, t.UserPrompt, t.Response,
		t.InputTokens, t.OutputTokens, t.Cost, t.ResponseTime, t.Status, t.CreatedAt)
	return err
}

const turnColumns = `t.seq, t.id, t.session_id, t.provider_id, t.user_prompt, t.response,
	t.input_tokens, t.output_tokens, t.cost, t.response_time_ms, t.status, t.created_at`

func scanTurn(row pgx.Row) (*model.Turn, error) {
	var t model.Turn
	if err := row.Scan(&t.Seq, &t.ID, &t.SessionID, &t.ProviderID, &t.UserPrompt, &t.Response,
		&t.InputTokens, &t.OutputTokens, &t.Cost, &t.ResponseTime, &t.Status, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *turnRepo) Find(ctx context.Context, id, userID string) (*model.Turn, error) {
	t, err := scanTurn(r.q.QueryRow(ctx, `
		SELECT `+turnColumns+`
		FROM turns t
		JOIN sessions s ON s.id = t.session_id
		WHERE t.id = $1 AND s.user_id = $2`, id, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (r *turnRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Turn, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+turnColumns+`
		FROM turns t WHERE t.session_id = $1 ORDER BY t.seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := []model.Turn{}
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, *t)
	}
	return turns, rows.Err()
}

func (r *turnRepo) DailyUsage(ctx context.Context, userID string, since time.Time) ([]model.DailyUsage, error) {
	rows, err := r.q.Query(ctx, `
		SELECT
			to_char(t.created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS date,
			t.provider_id,
			COUNT(*) AS turns,
			COALESCE(SUM(t.input_tokens + t.output_tokens), 0)::bigint AS total_tokens,
			COALESCE(SUM(t.cost), 0)::float8 AS total_cost,
			COALESCE(AVG(t.response_time_ms), 0)::float8 AS avg_response_time
		FROM turns t
		JOIN sessions s ON s.id = t.session_id
		WHERE s.user_id = $1 AND t.created_at >= $2 AND t.status = $3
		GROUP BY 1, t.provider_id
		ORDER BY 1 ASC, t.provider_id ASC`, userID, since.UTC(), model.TurnCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []model.DailyUsage{}
	for rows.Next() {
		var u model.DailyUsage
		if err := rows.Scan(&u.Date, &u.ProviderID, &u.Turns, &u.TotalTokens, &u.TotalCost, &u.AvgResponseTime); err != nil {
			return nil, err
		}
		stats = append(stats, u)
	}
	return stats, rows.Err()
}

package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-playground/internal/cache"
	"github.com/nulzo/model-playground/internal/ratelimit"
	"github.com/nulzo/model-playground/internal/store"
	"github.com/nulzo/model-playground/internal/store/model"
	"github.com/nulzo/model-playground/internal/store/sqlite"
	"github.com/nulzo/model-playground/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingKeys struct {
	store.APIKeyRepository
	lookups atomic.Int32
}

func (k *countingKeys) GetByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	k.lookups.Add(1)
	return k.APIKeyRepository.GetByHash(ctx, hash)
}

type countingRepo struct {
	store.Repository
	keys *countingKeys
}

func (r countingRepo) APIKeys() store.APIKeyRepository { return r.keys }

func newAuthRepo(t *testing.T, token string) countingRepo {
	t.Helper()
	repo, err := sqlite.NewSQLiteStorage(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.Users().Create(ctx, &model.User{ID: "user-1", Email: "a@example.com", Name: "A", CreatedAt: now, UpdatedAt: now}))

	hash := sha256.Sum256([]byte(token))
	require.NoError(t, repo.APIKeys().Create(ctx, &model.APIKey{
		ID: "key-1", UserID: "user-1", Name: "test", KeyHash: hex.EncodeToString(hash[:]),
		KeyPrefix: token[:6], IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))

	return countingRepo{Repository: repo, keys: &countingKeys{APIKeyRepository: repo.APIKeys()}}
}

func authEngine(repo store.Repository, c cache.CacheService) *gin.Engine {
	engine := gin.New()
	engine.Use(ErrorHandler(zap.NewNop()))
	engine.Use(Auth(repo, []string{"static-secret-key"}, c, time.Minute, zap.NewNop()))
	engine.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, CallerID(c))
	})
	return engine
}

func get(engine *gin.Engine, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	const token = "sk-pg-database-token"
	repo := newAuthRepo(t, token)
	engine := authEngine(repo, cache.NewMemoryCache())

	tests := []struct {
		name       string
		target     string
		headers    map[string]string
		wantStatus int
		wantCaller string
	}{
		{"static key", "/whoami", map[string]string{"Authorization": "Bearer static-secret-key"}, http.StatusOK, "static:static-s"},
		{"database key", "/whoami", map[string]string{"Authorization": "Bearer " + token}, http.StatusOK, "user-1"},
		{"query token", "/whoami?token=" + token, nil, http.StatusOK, "user-1"},
		{"lowercase scheme", "/whoami", map[string]string{"Authorization": "bearer " + token}, http.StatusOK, "user-1"},
		{"missing", "/whoami", nil, http.StatusUnauthorized, ""},
		{"malformed", "/whoami", map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized, ""},
		{"unknown key", "/whoami", map[string]string{"Authorization": "Bearer sk-unknown"}, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(engine, tt.target, tt.headers)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantCaller, w.Body.String())
			} else {
				assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestAuthCachesKeyLookups(t *testing.T) {
	const token = "sk-pg-cached-token"
	repo := newAuthRepo(t, token)
	engine := authEngine(repo, cache.NewMemoryCache())

	for i := 0; i < 3; i++ {
		w := get(engine, "/whoami", map[string]string{"Authorization": "Bearer " + token})
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, int32(1), repo.keys.lookups.Load())
}

func TestAuthWithoutCache(t *testing.T) {
	const token = "sk-pg-uncached-token"
	repo := newAuthRepo(t, token)
	engine := authEngine(repo, nil)

	for i := 0; i < 2; i++ {
		w := get(engine, "/whoami", map[string]string{"Authorization": "Bearer " + token})
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, int32(2), repo.keys.lookups.Load())
}

type failingKeys struct{ store.APIKeyRepository }

func (failingKeys) GetByHash(context.Context, string) (*model.APIKey, error) {
	return nil, errors.New("database is locked")
}

type failingRepo struct{ store.Repository }

func (failingRepo) APIKeys() store.APIKeyRepository { return failingKeys{} }

func TestAuthStoreFailure(t *testing.T) {
	engine := authEngine(failingRepo{}, nil)
	w := get(engine, "/whoami", map[string]string{"Authorization": "Bearer sk-whatever"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type stubLimiter struct {
	decision ratelimit.Decision
	err      error
}

func (s stubLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return s.decision, s.err
}

func quotaEngine(l ratelimit.Limiter) *gin.Engine {
	engine := gin.New()
	engine.Use(ErrorHandler(zap.NewNop()))
	engine.Use(func(c *gin.Context) {
		c.Set(CallerKey, "alice")
		c.Next()
	})
	guard := NewQuotaGuard(l, time.Hour, zap.NewNop())
	engine.GET("/stream", func(c *gin.Context) {
		if !guard.Admit(c) {
			return
		}
		c.Status(http.StatusOK)
	})
	return engine
}

func TestQuotaAllows(t *testing.T) {
	engine := quotaEngine(ratelimit.NewMemoryLimiter(2, time.Hour))

	w := get(engine, "/stream", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	w = get(engine, "/stream", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = get(engine, "/stream", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestQuotaDenied(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute)
	engine := quotaEngine(stubLimiter{decision: ratelimit.Decision{Allowed: false, Limit: 20, ResetAt: reset}})

	w := get(engine, "/stream", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	retry := w.Header().Get("Retry-After")
	require.NotEmpty(t, retry)
	assert.Contains(t, []string{"1800", "1799"}, retry)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["rateLimitExceeded"])
	assert.Equal(t, float64(20), body["limit"])
	assert.Equal(t, float64(0), body["remaining"])
	assert.Equal(t, reset.UTC().Format(time.RFC3339), body["resetTime"])
	assert.Equal(t, "/stream", body["instance"])
}

func TestQuotaFailsOpen(t *testing.T) {
	engine := quotaEngine(stubLimiter{err: errors.New("redis: connection refused")})
	w := get(engine, "/stream", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimiterThrottlesPerIP(t *testing.T) {
	engine := gin.New()
	engine.Use(ErrorHandler(zap.NewNop()))
	engine.Use(NewRateLimiter(1, 2, zap.NewNop()).Middleware())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, get(engine, "/", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestErrorHandler(t *testing.T) {
	engine := gin.New()
	engine.Use(ErrorHandler(zap.NewNop()))
	engine.GET("/problem", func(c *gin.Context) {
		_ = c.Error(api.NotFoundError("Session not found"))
	})
	engine.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})
	engine.GET("/written", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		_ = c.Error(errors.New("late failure"))
	})

	w := get(engine, "/problem", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Not Found", body["title"])
	assert.Equal(t, "Session not found", body["detail"])
	assert.Equal(t, "/problem", body["instance"])

	w = get(engine, "/plain", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")

	w = get(engine, "/written", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}

func TestCORS(t *testing.T) {
	engine := gin.New()
	engine.Use(CORS([]string{"https://app.example.com"}))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := get(engine, "/", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = get(engine, "/", map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRedactToken(t *testing.T) {
	engine := gin.New()
	var logged string
	engine.GET("/", func(c *gin.Context) {
		logged = redactToken(c, c.Request.URL.RawQuery)
	})
	get(engine, "/?prompt=hi&token=sk-secret", nil)
	assert.NotContains(t, logged, "sk-secret")
	assert.Contains(t, logged, "prompt=hi")
}

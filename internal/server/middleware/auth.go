package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-playground/internal/cache"
	"github.com/nulzo/model-playground/internal/store"
	"github.com/nulzo/model-playground/pkg/api"
	"go.uber.org/zap"
)

// CallerKey is the gin context key holding the authenticated caller id.
const CallerKey = "playground.caller"

// CallerID returns the caller resolved by Auth.
func CallerID(c *gin.Context) string {
	return c.GetString(CallerKey)
}

type cachedKey struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// Auth resolves a bearer credential to a caller id. The token is read from the
// Authorization header, or from the "token" query parameter for EventSource
// clients that cannot set headers.
func Auth(repo store.Repository, staticKeys []string, c cache.CacheService, ttl time.Duration, logger *zap.Logger) gin.HandlerFunc {
	staticMap := make(map[string]bool)
	for _, k := range staticKeys {
		if k != "" {
			staticMap[k] = true
		}
	}

	return func(ctx *gin.Context) {
		token, ok := bearerToken(ctx)
		if !ok {
			_ = ctx.Error(api.UnauthorizedError("Missing or malformed bearer credential"))
			ctx.Abort()
			return
		}

		if staticMap[token] {
			ctx.Set(CallerKey, staticCaller(token))
			ctx.Next()
			return
		}

		hash := sha256.Sum256([]byte(token))
		hashedHex := hex.EncodeToString(hash[:])
		cacheKey := "apikey:" + hashedHex
		reqCtx := ctx.Request.Context()

		var key cachedKey
		if c == nil || c.Get(reqCtx, cacheKey, &key) != nil {
			found, err := repo.APIKeys().GetByHash(reqCtx, hashedHex)
			if errors.Is(err, store.ErrNotFound) {
				_ = ctx.Error(api.UnauthorizedError("Invalid API Key"))
				ctx.Abort()
				return
			}
			if err != nil {
				_ = ctx.Error(api.InternalError("Failed to verify credentials", err))
				ctx.Abort()
				return
			}
			key = cachedKey{ID: found.ID, UserID: found.UserID}
			if c != nil {
				if err := c.Set(reqCtx, cacheKey, key, ttl); err != nil {
					logger.Warn("failed to cache api key", zap.Error(err))
				}
			}
		}

		ctx.Set(CallerKey, key.UserID)

		// Update last used timestamp (async)
		go func(bg context.Context) {
			bg, cancel := context.WithTimeout(bg, 5*time.Second)
			defer cancel()
			if err := repo.APIKeys().UpdateUsage(bg, key.ID); err != nil {
				logger.Debug("failed to update api key usage", zap.String("key_id", key.ID), zap.Error(err))
			}
		}(context.WithoutCancel(reqCtx))

		ctx.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

func staticCaller(token string) string {
	if len(token) > 8 {
		token = token[:8]
	}
	return "static:" + token
}

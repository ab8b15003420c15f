package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/nulzo/model-playground/internal/cache"
	"github.com/nulzo/model-playground/internal/store"
	"github.com/nulzo/model-playground/pkg/api"
	"go.uber.org/zap"
)

const (
	DefaultDays = 7
	MaxDays     = 90
)

type Service interface {
	// GetUsageOverview aggregates the caller's completed turns per UTC day and
	// provider for the last days days, today included.
	GetUsageOverview(ctx context.Context, userID string, days int) ([]api.UsageStat, error)
}

type service struct {
	repo   store.Repository
	cache  cache.CacheService
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewService returns the usage service. A nil cache disables caching.
func NewService(repo store.Repository, c cache.CacheService, ttl time.Duration, logger *zap.Logger) Service {
	return &service{
		repo:   repo,
		cache:  c,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func clampDays(days int) int {
	if days <= 0 {
		return DefaultDays
	}
	if days > MaxDays {
		return MaxDays
	}
	return days
}

func (s *service) GetUsageOverview(ctx context.Context, userID string, days int) ([]api.UsageStat, error) {
	days = clampDays(days)
	key := fmt.Sprintf("usage:%s:%d", userID, days)

	if s.cache != nil {
		var cached []api.UsageStat
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(days - 1))

	rows, err := s.repo.Turns().DailyUsage(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	stats := make([]api.UsageStat, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, api.UsageStat{
			Date:            r.Date,
			ProviderID:      r.ProviderID,
			Turns:           r.Turns,
			TotalTokens:     r.TotalTokens,
			TotalCost:       r.TotalCost,
			AvgResponseTime: r.AvgResponseTime,
		})
	}

	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.Set(ctx, key, stats, s.ttl); err != nil {
			s.logger.Warn("failed to cache usage overview", zap.String("user", userID), zap.Error(err))
		}
	}
	return stats, nil
}

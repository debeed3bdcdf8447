package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/nulzo/inference-gateway/internal/store"
	"github.com/nulzo/inference-gateway/internal/store/model"
	"go.uber.org/zap"
)

const (
	maxDays      = 365
	defaultDays  = 7
	defaultLimit = 20
	maxLimit     = 100
)

type Service interface {
	// GetUsageOverview aggregates request logs per day. days is clamped to [1, 365], default 7.
	GetUsageOverview(ctx context.Context, days int) ([]model.DailyStats, error)
	// GetRecent lists the newest request logs, for one endpoint or all when inferenceID is empty.
	GetRecent(ctx context.Context, inferenceID string, limit int) ([]model.RequestLog, error)
	// Prune deletes request logs older than retention.
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

type service struct {
	repo store.Repository
	now  func() time.Time
}

func NewService(repo store.Repository) Service {
	return &service{
		repo: repo,
		now:  time.Now,
	}
}

func (s *service) GetUsageOverview(ctx context.Context, days int) ([]model.DailyStats, error) {
	if days <= 0 {
		days = defaultDays
	}
	days = min(days, maxDays)
	return s.repo.Requests().GetDailyStats(ctx, days)
}

func (s *service) GetRecent(ctx context.Context, inferenceID string, limit int) ([]model.RequestLog, error) {
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	return s.repo.Requests().GetRecent(ctx, inferenceID, limit)
}

func (s *service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := s.repo.Requests().DeleteBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune request logs: %w", err)
	}
	return n, nil
}

// RunRetention prunes request logs older than retention every interval until ctx is done. A
// non-positive retention keeps logs forever.
func RunRetention(ctx context.Context, svc Service, retention, interval time.Duration, log *zap.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.Prune(ctx, retention)
			if err != nil {
				log.Warn("Request log retention failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("Pruned request logs", zap.Int64("deleted", n), zap.Duration("retention", retention))
			}
		}
	}
}

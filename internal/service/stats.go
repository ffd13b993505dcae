package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/tweet-queue/internal/model"
	"github.com/d60-Lab/tweet-queue/internal/repository"
	"github.com/d60-Lab/tweet-queue/pkg/logger"
)

const statsCacheKey = "tweet_queue:stats"

// StatsService 各状态计数；配置了 redis 时做短 TTL 缓存，处理一条后失效
type StatsService struct {
	repo  repository.QueueRepository
	cache *redis.Client
	ttl   time.Duration
}

// NewStatsService cache 可为 nil，此时每次直接查库
func NewStatsService(repo repository.QueueRepository, cache *redis.Client, ttl time.Duration) *StatsService {
	return &StatsService{repo: repo, cache: cache, ttl: ttl}
}

func (s *StatsService) Counts(ctx context.Context) (map[model.QueueStatus]int64, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, statsCacheKey).Bytes(); err == nil {
			var out map[model.QueueStatus]int64
			if uErr := json.Unmarshal(data, &out); uErr == nil {
				return out, nil
			}
		}
	}

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if payload, err := json.Marshal(counts); err == nil {
			if err := s.cache.Set(ctx, statsCacheKey, payload, s.ttl).Err(); err != nil {
				logger.Warn("cache queue stats", zap.Error(err))
			}
		}
	}
	return counts, nil
}

// Invalidate 丢弃缓存的计数
func (s *StatsService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statsCacheKey).Err(); err != nil {
		logger.Warn("invalidate queue stats", zap.Error(err))
	}
}

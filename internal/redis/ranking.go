// Package redis provides the Redis connection manager and the ranking cache built on it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"github.com/robalyx/chatrank/internal/database/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrDisabled is returned when a client is requested while Redis is disabled.
var ErrDisabled = errors.New("redis is disabled")

const rankingKeyPrefix = "chatrank:ranking"

// RankingLoader computes a ranking from the ledger.
type RankingLoader interface {
	TopN(ctx context.Context, period types.Period, n int) ([]types.RankingRow, error)
}

// RankingCache serves rankings from Redis and falls back to the loader on a miss.
// Concurrent misses for the same key share one load.
type RankingCache struct {
	client rueidis.Client
	loader RankingLoader
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewRankingCache creates a RankingCache whose entries expire after ttl.
func NewRankingCache(client rueidis.Client, loader RankingLoader, ttl time.Duration, logger *zap.Logger) *RankingCache {
	return &RankingCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		logger: logger.Named("ranking_cache"),
	}
}

// TopN returns the cached ranking for the period, loading and storing it on a miss.
// Redis failures are logged and the ledger is used directly.
func (c *RankingCache) TopN(ctx context.Context, period types.Period, n int) ([]types.RankingRow, error) {
	key := RankingKey(period, n)

	rows, err := c.get(ctx, key)
	switch {
	case err == nil:
		return rows, nil
	case !rueidis.IsRedisNil(err):
		c.logger.Warn("Failed to read cached ranking", zap.String("key", key), zap.Error(err))
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		rows, err := c.loader.TopN(ctx, period, n)
		if err != nil {
			return nil, err
		}

		if err := c.set(ctx, key, rows); err != nil {
			c.logger.Warn("Failed to cache ranking", zap.String("key", key), zap.Error(err))
		}

		return rows, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]types.RankingRow), nil
}

// RankingKey returns the Redis key of a ranking.
func RankingKey(period types.Period, n int) string {
	return fmt.Sprintf("%s:%s:%s:%d", rankingKeyPrefix, period.Granularity, period.Key(), n)
}

func (c *RankingCache) get(ctx context.Context, key string) ([]types.RankingRow, error) {
	data, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		return nil, err
	}

	var rows []types.RankingRow
	if err := sonic.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode cached ranking: %w", err)
	}

	return rows, nil
}

func (c *RankingCache) set(ctx context.Context, key string, rows []types.RankingRow) error {
	data, err := sonic.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode ranking: %w", err)
	}

	return c.client.Do(ctx, c.client.B().Set().Key(key).Value(rueidis.BinaryString(data)).Ex(c.ttl).Build()).Error()
}

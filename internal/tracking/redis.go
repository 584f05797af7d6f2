package tracking

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisWindowPrefix = "window/"

// RedisWindow keeps each key as a sorted set scored by millisecond
// timestamp, so several bot processes share one view of a guild.
type RedisWindow struct {
	client *redis.Client
	limit  int64
}

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func NewRedisWindow(client *redis.Client, limit int) *RedisWindow {
	if limit <= 0 {
		limit = 512
	}
	return &RedisWindow{client: client, limit: int64(limit)}
}

func (r *RedisWindow) Add(ctx context.Context, key, member string, now time.Time, window time.Duration) (int, error) {
	key = redisWindowPrefix + key
	if member == "" {
		member = strconv.FormatInt(now.UnixNano(), 36)
	}
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	var card *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
		pipe.ZAddNX(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		pipe.ZRemRangeByRank(ctx, key, 0, -(r.limit + 1))
		card = pipe.ZCard(ctx, key)
		pipe.PExpire(ctx, key, 2*window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (r *RedisWindow) Members(ctx context.Context, key string, now time.Time, window time.Duration) ([]string, error) {
	key = redisWindowPrefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	var members *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
		members = pipe.ZRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members.Val(), nil
}

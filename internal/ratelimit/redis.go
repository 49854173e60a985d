package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// RedisCounter is a fixed-window limiter backed by an atomic INCR with a
// separately-set expiry. Window boundaries are aligned to the window size so
// every replica of the service agrees on the bucket.
type RedisCounter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisCounter constructs a fixed-window limiter on the given client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client, now: time.Now}
}

func (l *RedisCounter) CheckAndIncrement(ctx context.Context, key string, window time.Duration, max int) (Result, error) {
	now := l.now()
	windowStart := now.Truncate(window)
	redisKey := fmt.Sprintf("%s%s:%d", keyPrefix, key, windowStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: counter increment: %w", err)
	}

	count := incr.Val()
	resetAt := windowStart.Add(window)
	if count > int64(max) {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Result{Allowed: true, Remaining: max - int(count), ResetAt: resetAt}, nil
}

// slidingLogScript prunes aged entries, checks the cardinality and appends
// the new attempt in one atomic step. Reply: {allowed, count, resetBaseMs}.
var slidingLogScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[2]) then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  return {0, count, oldest[2]}
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return {1, count + 1, ARGV[3]}
`)

// RedisSlidingLog is a timestamp-ordered limiter: at most max attempts whose
// timestamps span less than the window. Unlike the fixed counter it keeps
// the individual attempt times, so reset history stays inspectable.
type RedisSlidingLog struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisSlidingLog constructs a sliding-log limiter on the given client.
func NewRedisSlidingLog(client *redis.Client) *RedisSlidingLog {
	return &RedisSlidingLog{client: client, now: time.Now}
}

func (l *RedisSlidingLog) CheckAndIncrement(ctx context.Context, key string, window time.Duration, max int) (Result, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	cutoffMs := now.Add(-window).UnixMilli()
	member := strconv.FormatInt(now.UnixNano(), 10)

	raw, err := slidingLogScript.Run(ctx, l.client,
		[]string{keyPrefix + "log:" + key},
		cutoffMs, max, nowMs, member, window.Milliseconds(),
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: sliding log: %w", err)
	}

	reply, ok := raw.([]any)
	if !ok || len(reply) != 3 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script reply %T", raw)
	}
	allowed := toInt64(reply[0]) == 1
	baseMs := toInt64(reply[2])
	resetAt := time.UnixMilli(baseMs).Add(window)

	if !allowed {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	remaining := max - int(toInt64(reply[1]))
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

// Attempts returns the attempt timestamps recorded within the trailing
// window, oldest first.
func (l *RedisSlidingLog) Attempts(ctx context.Context, key string, window time.Duration) ([]time.Time, error) {
	cutoffMs := l.now().Add(-window).UnixMilli()
	entries, err := l.client.ZRangeByScoreWithScores(ctx, keyPrefix+"log:"+key, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoffMs+1, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: attempts query: %w", err)
	}
	out := make([]time.Time, 0, len(entries))
	for _, z := range entries {
		out = append(out, time.UnixMilli(int64(z.Score)))
	}
	return out, nil
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

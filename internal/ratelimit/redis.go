package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// admitScript prunes the window, checks the budget, and records the request
// atomically. Scores are unix milliseconds; members are unique so two
// requests landing in the same millisecond both count.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	return {0, count, oldest[2]}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, count + 1, oldest[2]}
`)

// RedisStore shares one sliding window across replicas using a sorted set
// per key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:"}
}

func (s *RedisStore) Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (StoreResult, error) {
	raw, err := admitScript.Run(ctx, s.client,
		[]string{s.prefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Slice()
	if err != nil {
		return StoreResult{}, err
	}
	return parseScriptResult(raw)
}

func (s *RedisStore) Inspect(ctx context.Context, key string, _ int, window time.Duration, now time.Time) (StoreResult, error) {
	redisKey := s.prefix + key
	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
	card := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return StoreResult{}, err
	}

	res := StoreResult{Allowed: true, Count: int(card.Val())}
	if members := oldest.Val(); len(members) > 0 {
		res.OldestAt = time.UnixMilli(int64(members[0].Score))
	}
	return res, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func parseScriptResult(raw []interface{}) (StoreResult, error) {
	res := StoreResult{}
	if len(raw) >= 1 {
		if allowed, ok := raw[0].(int64); ok {
			res.Allowed = allowed == 1
		}
	}
	if len(raw) >= 2 {
		if count, ok := raw[1].(int64); ok {
			res.Count = int(count)
		}
	}
	if len(raw) >= 3 {
		if scoreStr, ok := raw[2].(string); ok {
			if score, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				res.OldestAt = time.UnixMilli(int64(score))
			}
		}
	}
	return res, nil
}

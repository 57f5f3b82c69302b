package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Arms the TTL when the counter was just created. PTTL == -1 covers a key that lost
// its expiry (for example after a partial restore) so it cannot become permanent.
const incrementWithExpiryScript = `
local ttl = tonumber(ARGV[1])
local out = {}
for i, key in ipairs(KEYS) do
  local n = redis.call("INCR", key)
  if n == 1 or redis.call("PTTL", key) == -1 then
    redis.call("PEXPIRE", key, ttl)
  end
  out[i] = n
end
return out
`

const incrementSlidingScript = `
local n = redis.call("INCRBY", KEYS[1], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return n
`

const addToSetScript = `
local created = redis.call("EXISTS", KEYS[1]) == 0
redis.call("SADD", KEYS[1], ARGV[1])
if created or redis.call("PTTL", KEYS[1]) == -1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return redis.call("SCARD", KEYS[1])
`

var (
	incrementWithExpiryLua = redis.NewScript(incrementWithExpiryScript)
	incrementSlidingLua    = redis.NewScript(incrementSlidingScript)
	addToSetLua            = redis.NewScript(addToSetScript)
)

// RedisStore implements [Store] on Redis. All counters are mutated by Lua scripts so
// each call is one atomic server-side step.
//
// IncrementAllWithExpiry runs one script over several keys. On Redis Cluster those
// keys must share a slot, so give the store a hash-tagged prefix such as "{tg:rl}:";
// otherwise the call fails with CROSSSLOT. A single primary needs no tag.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a [RedisStore]. prefix is prepended verbatim to every key and
// may be empty.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// IncrementWithExpiry implements [Store].
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	counts, err := s.IncrementAllWithExpiry(ctx, ttl, key)
	if err != nil {
		return 0, err
	}
	return counts[0], nil
}

// IncrementAllWithExpiry implements [Store].
//
//	Performance: 1 EVALSHA regardless of len(keys).
func (s *RedisStore) IncrementAllWithExpiry(ctx context.Context, ttl time.Duration, keys ...string) ([]int64, error) {
	if len(keys) == 0 {
		return []int64{}, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}

	res, err := incrementWithExpiryLua.Run(ctx, s.redis, full, ttlMillis(ttl)).Int64Slice()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(res) != len(keys) {
		return nil, fmt.Errorf("%w: unexpected increment result size %d", ErrUnavailable, len(res))
	}
	return res, nil
}

// IncrementBySliding implements [Store].
func (s *RedisStore) IncrementBySliding(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	n, err := incrementSlidingLua.Run(ctx, s.redis, []string{s.key(key)}, delta, ttlMillis(ttl)).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// AddToSetWithExpiry implements [Store].
func (s *RedisStore) AddToSetWithExpiry(ctx context.Context, key, member string, ttl time.Duration) (int64, error) {
	n, err := addToSetLua.Run(ctx, s.redis, []string{s.key(key)}, member, ttlMillis(ttl)).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// SetWithExpiry implements [Store].
func (s *RedisStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Get implements [Store].
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.redis.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, unavailable(err)
	}
	return v, true, nil
}

// Exists implements [Store].
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// TTL implements [Store].
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.redis.PTTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Delete implements [Store].
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.redis.Del(ctx, full...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Ping returns a point-in-time availability check and latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

func unavailable(err error) error {
	if isWrongType(err) {
		return fmt.Errorf("%w: %v", ErrWrongType, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func isWrongType(err error) bool {
	return err != nil && strings.Contains(err.Error(), "WRONGTYPE")
}

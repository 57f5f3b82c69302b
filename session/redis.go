package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	rotateMissing  int64 = 0
	rotateConflict int64 = 1
	rotateDone     int64 = 2
)

// Index sets live at least as long as the longest session they point to.
const extendIndexLua = `
local function extend(key, ttl)
  local cur = redis.call("PTTL", key)
  if cur < ttl then
    redis.call("PEXPIRE", key, ttl)
  end
end
`

// KEYS: session, device index, account index.
// ARGV: candidate id, candidate created_at, ttl ms, account id, device id, field pairs...
const upsertScript = extendIndexLua + `
local ttl = tonumber(ARGV[3])
local id = redis.call("HGET", KEYS[1], "id")
local created = redis.call("HGET", KEYS[1], "created_at")
if not id then
  id = ARGV[1]
  created = ARGV[2]
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "id", id, "created_at", created, unpack(ARGV, 6))
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("SADD", KEYS[2], ARGV[4])
redis.call("SADD", KEYS[3], ARGV[5])
extend(KEYS[2], ttl)
extend(KEYS[3], ttl)
return {id, created}
`

// KEYS: session, device index, account index.
// ARGV: expected hash, new hash, ttl ms, field pairs...
const rotateScript = extendIndexLua + `
local cur = redis.call("HGET", KEYS[1], "hash")
if not cur then
  return {0}
end
if cur ~= ARGV[1] then
  return {1}
end
local ttl = tonumber(ARGV[3])
redis.call("HSET", KEYS[1], "hash", ARGV[2], unpack(ARGV, 4))
redis.call("PEXPIRE", KEYS[1], ttl)
extend(KEYS[2], ttl)
extend(KEYS[3], ttl)
return {2, redis.call("HGETALL", KEYS[1])}
`

// KEYS: session, device index, account index. ARGV: account id, device id.
const deleteScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
redis.call("SREM", KEYS[3], ARGV[2])
return existed
`

// KEYS: index being drained. ARGV: prefix, owner id, "d" or "a".
// Session keys are derived from the index members, so this script needs a single
// primary (or every key in one hash slot).
const deleteAllScript = `
local prefix = ARGV[1]
local owner = ARGV[2]
local members = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, other in ipairs(members) do
  if ARGV[3] == "d" then
    n = n + redis.call("DEL", prefix .. ":s:" .. owner .. ":" .. other)
    redis.call("SREM", prefix .. ":a:" .. other, owner)
  else
    n = n + redis.call("DEL", prefix .. ":s:" .. other .. ":" .. owner)
    redis.call("SREM", prefix .. ":d:" .. other, owner)
  end
end
redis.call("DEL", KEYS[1])
return n
`

var (
	upsertLua    = redis.NewScript(upsertScript)
	rotateLua    = redis.NewScript(rotateScript)
	deleteLua    = redis.NewScript(deleteScript)
	deleteAllLua = redis.NewScript(deleteAllScript)
)

// RedisStore implements [Store] on Redis.
//
// Key layout, for prefix p:
//
//	p:s:<device>:<account>  hash  one session
//	p:d:<device>            set   account ids with a session on the device
//	p:a:<account>           set   device ids with a session for the account
//
// Upsert, Rotate and the delete scripts touch a session hash together with both
// index sets, and the wipe scripts derive further keys from p inside Lua. On Redis
// Cluster every key must therefore live in one slot: use a hash-tagged prefix such as
// "{tg:sess}". Without the tag only a single primary (or a Sentinel-managed one) is
// supported.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a [RedisStore]. An empty prefix defaults to "tg:sess".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tg:sess"
	}
	return &RedisStore{redis: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) sessionKey(deviceID, accountID string) string {
	return s.prefix + ":s:" + deviceID + ":" + accountID
}

func (s *RedisStore) deviceKey(deviceID string) string {
	return s.prefix + ":d:" + deviceID
}

func (s *RedisStore) accountKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

// Upsert implements [Store].
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) Upsert(ctx context.Context, sess *AuthSession) (*AuthSession, error) {
	if err := validate(sess); err != nil {
		return nil, err
	}
	now := s.now()
	ttl := sess.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: already expired", ErrInvalidSession)
	}

	out := *sess
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = now
	}
	candidateID := out.ID
	if candidateID == "" {
		candidateID = uuid.NewString()
	}
	created := out.CreatedAt
	if created.IsZero() {
		created = now
	}

	args := []interface{}{candidateID, formatTime(created), ttlMillis(ttl), out.AccountID, out.DeviceID}
	args = append(args, sessionFields(&out)...)

	res, err := upsertLua.Run(ctx, s.redis,
		[]string{s.sessionKey(out.DeviceID, out.AccountID), s.deviceKey(out.DeviceID), s.accountKey(out.AccountID)},
		args...,
	).StringSlice()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("%w: unexpected upsert reply", ErrUnavailable)
	}
	out.ID = res[0]
	if out.CreatedAt, err = parseTime(res[1]); err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", ErrUnavailable, err)
	}
	return &out, nil
}

// Get implements [Store].
func (s *RedisStore) Get(ctx context.Context, deviceID, accountID string) (*AuthSession, error) {
	fields, err := s.redis.HGetAll(ctx, s.sessionKey(deviceID, accountID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	sess, err := decodeFields(fields)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// ListByDevice implements [Store]. Stale index members are pruned as they are found.
func (s *RedisStore) ListByDevice(ctx context.Context, deviceID string) ([]*AuthSession, error) {
	return s.list(ctx, s.deviceKey(deviceID), func(accountID string) string {
		return s.sessionKey(deviceID, accountID)
	})
}

// ListByAccount implements [Store].
func (s *RedisStore) ListByAccount(ctx context.Context, accountID string) ([]*AuthSession, error) {
	return s.list(ctx, s.accountKey(accountID), func(deviceID string) string {
		return s.sessionKey(deviceID, accountID)
	})
}

func (s *RedisStore) list(ctx context.Context, indexKey string, keyFor func(member string) string) ([]*AuthSession, error) {
	members, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.HGetAll(ctx, keyFor(m))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}

	now := s.now()
	out := make([]*AuthSession, 0, len(members))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, members[i])
			continue
		}
		sess, err := decodeFields(fields)
		if err != nil {
			return nil, err
		}
		if sess.Expired(now) {
			continue
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		_ = s.redis.SRem(ctx, indexKey, stale...).Err()
	}
	return out, nil
}

// Rotate implements [Store].
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) Rotate(ctx context.Context, deviceID, accountID, expectedHash string, next Rotation) (*AuthSession, error) {
	if next.HashedRefreshToken == "" {
		return nil, ErrInvalidSession
	}
	now := s.now()
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = now
	}
	ttl := next.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: rotation already expired", ErrInvalidSession)
	}

	args := []interface{}{
		expectedHash, next.HashedRefreshToken, ttlMillis(ttl),
		"ip", next.Meta.IPAddress,
		"country", next.Meta.Country,
		"city", next.Meta.City,
		"device_type", next.Meta.DeviceType,
		"browser", next.Meta.Browser,
		"updated_at", formatTime(next.UpdatedAt),
		"expires_at", formatTime(next.ExpiresAt),
	}
	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.sessionKey(deviceID, accountID), s.deviceKey(deviceID), s.accountKey(accountID)},
		args...,
	).Slice()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: empty rotate reply", ErrUnavailable)
	}

	status, _ := res[0].(int64)
	switch status {
	case rotateMissing:
		return nil, ErrNotFound
	case rotateConflict:
		return nil, ErrHashConflict
	case rotateDone:
	default:
		return nil, fmt.Errorf("%w: rotate status %d", ErrUnavailable, status)
	}

	if len(res) != 2 {
		return nil, fmt.Errorf("%w: rotate reply missing session", ErrUnavailable)
	}
	flat, ok := res[1].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: rotate reply type %T", ErrUnavailable, res[1])
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return decodeFields(fields)
}

// Delete implements [Store].
func (s *RedisStore) Delete(ctx context.Context, deviceID, accountID string) (bool, error) {
	n, err := deleteLua.Run(ctx, s.redis,
		[]string{s.sessionKey(deviceID, accountID), s.deviceKey(deviceID), s.accountKey(accountID)},
		accountID, deviceID,
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// DeleteAllForDevice implements [Store].
func (s *RedisStore) DeleteAllForDevice(ctx context.Context, deviceID string) (int, error) {
	n, err := deleteAllLua.Run(ctx, s.redis, []string{s.deviceKey(deviceID)}, s.prefix, deviceID, "d").Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// DeleteAllForAccount implements [Store].
func (s *RedisStore) DeleteAllForAccount(ctx context.Context, accountID string) (int, error) {
	n, err := deleteAllLua.Run(ctx, s.redis, []string{s.accountKey(accountID)}, s.prefix, accountID, "a").Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// Ping reports backend availability and round-trip latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

func sessionFields(sess *AuthSession) []interface{} {
	return []interface{}{
		"device_id", sess.DeviceID,
		"account_id", sess.AccountID,
		"user_id", sess.UserID,
		"hash", sess.HashedRefreshToken,
		"ip", sess.IPAddress,
		"country", sess.Country,
		"city", sess.City,
		"device_type", sess.DeviceType,
		"browser", sess.Browser,
		"updated_at", formatTime(sess.UpdatedAt),
		"expires_at", formatTime(sess.ExpiresAt),
	}
}

func decodeFields(f map[string]string) (*AuthSession, error) {
	sess := &AuthSession{
		ID:                 f["id"],
		DeviceID:           f["device_id"],
		AccountID:          f["account_id"],
		UserID:             f["user_id"],
		HashedRefreshToken: f["hash"],
		Meta: Meta{
			IPAddress:  f["ip"],
			Country:    f["country"],
			City:       f["city"],
			DeviceType: f["device_type"],
			Browser:    f["browser"],
		},
	}
	var err error
	if sess.CreatedAt, err = parseTime(f["created_at"]); err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", ErrUnavailable, err)
	}
	if sess.UpdatedAt, err = parseTime(f["updated_at"]); err != nil {
		return nil, fmt.Errorf("%w: updated_at: %v", ErrUnavailable, err)
	}
	if sess.ExpiresAt, err = parseTime(f["expires_at"]); err != nil {
		return nil, fmt.Errorf("%w: expires_at: %v", ErrUnavailable, err)
	}
	if sess.ID == "" || sess.DeviceID == "" || sess.AccountID == "" {
		return nil, fmt.Errorf("%w: corrupt session hash", ErrUnavailable)
	}
	return sess, nil
}

func ttlMillis(d time.Duration) int64 {
	if ms := d.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

package refreshtokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/authsession/internal/common"
	"github.com/dmitrijs2005/authsession/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// timeLayout is fixed-width so that timestamps compare correctly as strings
// inside Lua scripts.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// KEYS: token key, user index key, username index key
// ARGV: token, user id, username, device info, has device ("1"/"0"), now, ttl seconds, ttl ms
var redisCreateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "token", ARGV[1], "userId", ARGV[2], "username", ARGV[3],
  "createdAt", ARGV[6], "lastUsedAt", ARGV[6], "ttl", ARGV[7])
if ARGV[5] == "1" then
  redis.call("HSET", KEYS[1], "deviceInfo", ARGV[4])
end
local ttl_ms = tonumber(ARGV[8])
redis.call("PEXPIRE", KEYS[1], ttl_ms)
for i = 2, 3 do
  redis.call("SADD", KEYS[i], ARGV[1])
  if redis.call("PTTL", KEYS[i]) < ttl_ms then
    redis.call("PEXPIRE", KEYS[i], ttl_ms)
  end
end
return 1
`)

// KEYS: token key [, user index key, username index key]
// ARGV: now, ttl ms
// The index keys are passed only under the sliding policy.
var redisTouchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end
local now = ARGV[1]
local created = redis.call("HGET", KEYS[1], "createdAt")
if created and now < created then
  now = created
end
redis.call("HSET", KEYS[1], "lastUsedAt", now)
if #KEYS == 3 then
  local ttl_ms = tonumber(ARGV[2])
  redis.call("PEXPIRE", KEYS[1], ttl_ms)
  for i = 2, 3 do
    if redis.call("PTTL", KEYS[i]) < ttl_ms then
      redis.call("PEXPIRE", KEYS[i], ttl_ms)
    end
  end
end
return redis.call("HGETALL", KEYS[1])
`)

// KEYS: token key, user index key, username index key
// ARGV: token
var redisDeleteScript = redis.NewScript(`
local removed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
redis.call("SREM", KEYS[3], ARGV[1])
return removed
`)

// RedisRepository keeps one hash per session plus two sets (per user id and
// per username) listing the tokens of that account. Hashes expire natively;
// index sets live at least as long as their longest-lived member and are
// pruned lazily when a lookup finds a member whose hash is gone.
//
// Scripts touch the token hash and both index sets at once, which needs a
// single-node Redis; a cluster would reject the cross-slot keys.
type RedisRepository struct {
	client *redis.Client
	prefix string
	opts   options
}

// NewRedisRepository constructs a repository bound to client. An empty prefix
// defaults to "refresh".
func NewRedisRepository(client *redis.Client, prefix string, opts ...Option) *RedisRepository {
	if prefix == "" {
		prefix = "refresh"
	}
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &RedisRepository{client: client, prefix: prefix, opts: o}
}

func (r *RedisRepository) tokenKey(token string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, token)
}

func (r *RedisRepository) userKey(userID int64) string {
	return fmt.Sprintf("%s:user:%d", r.prefix, userID)
}

func (r *RedisRepository) usernameKey(username string) string {
	return fmt.Sprintf("%s:username:%s", r.prefix, username)
}

// ownerKeys returns the index keys of the session stored under token, or nil
// when the hash no longer exists. Owner fields never change after creation.
func (r *RedisRepository) ownerKeys(ctx context.Context, token string) ([]string, error) {
	ids, err := r.client.HMGet(ctx, r.tokenKey(token), "userId", "username").Result()
	if err != nil {
		return nil, storageError(err)
	}
	userID, ok := ids[0].(string)
	if !ok {
		return nil, nil
	}
	username, ok := ids[1].(string)
	if !ok {
		return nil, nil
	}
	return []string{fmt.Sprintf("%s:user:%s", r.prefix, userID), r.usernameKey(username)}, nil
}

func (r *RedisRepository) Create(ctx context.Context, token string, userID int64, username string, deviceInfo *string) (*models.RefreshToken, error) {
	now := r.opts.timestamp()
	rec := &models.RefreshToken{
		Token:      token,
		UserID:     userID,
		Username:   username,
		DeviceInfo: deviceInfo,
		CreatedAt:  now,
		LastUsedAt: now,
		TTL:        r.opts.ttlSeconds(),
	}

	device, hasDevice := "", "0"
	if deviceInfo != nil {
		device, hasDevice = *deviceInfo, "1"
	}

	created, err := redisCreateScript.Run(ctx, r.client,
		[]string{r.tokenKey(token), r.userKey(userID), r.usernameKey(username)},
		token,
		userID,
		username,
		device,
		hasDevice,
		now.Format(timeLayout),
		rec.TTL,
		r.opts.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return nil, storageError(err)
	}
	if created == 0 {
		return nil, common.ErrDuplicateToken
	}

	return rec, nil
}

func (r *RedisRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	fields, err := r.client.HGetAll(ctx, r.tokenKey(token)).Result()
	if err != nil {
		return nil, storageError(err)
	}
	if len(fields) == 0 {
		return nil, common.ErrorNotFound
	}
	return parseRedisRecord(fields)
}

func (r *RedisRepository) FindByUserID(ctx context.Context, userID int64) ([]*models.RefreshToken, error) {
	return r.findByIndex(ctx, r.userKey(userID))
}

func (r *RedisRepository) FindByUsername(ctx context.Context, username string) ([]*models.RefreshToken, error) {
	return r.findByIndex(ctx, r.usernameKey(username))
}

func (r *RedisRepository) findByIndex(ctx context.Context, indexKey string) ([]*models.RefreshToken, error) {
	tokens, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, storageError(err)
	}

	result := make([]*models.RefreshToken, 0, len(tokens))
	if len(tokens) == 0 {
		return result, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	for i, tok := range tokens {
		cmds[i] = pipe.HGetAll(ctx, r.tokenKey(tok))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storageError(err)
	}

	var stale []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, tokens[i])
			continue
		}
		rec, err := parseRedisRecord(fields)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	if len(stale) > 0 {
		// expired members; failing to prune them is harmless
		_ = r.client.SRem(ctx, indexKey, stale...).Err()
	}

	return result, nil
}

func (r *RedisRepository) ExistsByToken(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, r.tokenKey(token)).Result()
	if err != nil {
		return false, storageError(err)
	}
	return n == 1, nil
}

func (r *RedisRepository) Touch(ctx context.Context, token string) (*models.RefreshToken, error) {
	keys := []string{r.tokenKey(token)}
	if r.opts.policy == ExpirySliding {
		owner, err := r.ownerKeys(ctx, token)
		if err != nil {
			return nil, err
		}
		if owner == nil {
			return nil, common.ErrorNotFound
		}
		keys = append(keys, owner...)
	}

	flat, err := redisTouchScript.Run(ctx, r.client,
		keys,
		r.opts.timestamp().Format(timeLayout),
		r.opts.ttl.Milliseconds(),
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrorNotFound
		}
		return nil, storageError(err)
	}

	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		fields[flat[i]] = flat[i+1]
	}
	return parseRedisRecord(fields)
}

func (r *RedisRepository) DeleteByToken(ctx context.Context, token string) error {
	owner, err := r.ownerKeys(ctx, token)
	if err != nil {
		return err
	}
	if owner == nil {
		return nil
	}
	keys := append([]string{r.tokenKey(token)}, owner...)
	if err := redisDeleteScript.Run(ctx, r.client, keys, token).Err(); err != nil {
		return storageError(err)
	}
	return nil
}

func (r *RedisRepository) DeleteByUserID(ctx context.Context, userID int64) error {
	return r.deleteByIndex(ctx, r.userKey(userID))
}

func (r *RedisRepository) DeleteByUsername(ctx context.Context, username string) error {
	return r.deleteByIndex(ctx, r.usernameKey(username))
}

func (r *RedisRepository) deleteByIndex(ctx context.Context, indexKey string) error {
	tokens, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return storageError(err)
	}
	if len(tokens) == 0 {
		return nil
	}

	done, delErr := deleteEach(ctx, tokens, r.DeleteByToken)

	// Members whose hash had already expired are not removed by the delete
	// script, so drop everything that was processed from this index.
	if len(done) > 0 {
		members := make([]any, len(done))
		for i, tok := range done {
			members[i] = tok
		}
		if err := r.client.SRem(ctx, indexKey, members...).Err(); err != nil && delErr == nil {
			return storageError(err)
		}
	}

	return delErr
}

func parseRedisRecord(fields map[string]string) (*models.RefreshToken, error) {
	userID, err := strconv.ParseInt(fields["userId"], 10, 64)
	if err != nil {
		return nil, storageError(fmt.Errorf("malformed userId: %w", err))
	}
	ttl, err := strconv.ParseInt(fields["ttl"], 10, 64)
	if err != nil {
		return nil, storageError(fmt.Errorf("malformed ttl: %w", err))
	}
	createdAt, err := time.Parse(timeLayout, fields["createdAt"])
	if err != nil {
		return nil, storageError(fmt.Errorf("malformed createdAt: %w", err))
	}
	lastUsedAt, err := time.Parse(timeLayout, fields["lastUsedAt"])
	if err != nil {
		return nil, storageError(fmt.Errorf("malformed lastUsedAt: %w", err))
	}

	rec := &models.RefreshToken{
		Token:      fields["token"],
		UserID:     userID,
		Username:   fields["username"],
		CreatedAt:  createdAt,
		LastUsedAt: lastUsedAt,
		TTL:        ttl,
	}
	if device, ok := fields["deviceInfo"]; ok {
		rec.DeviceInfo = &device
	}
	return rec, nil
}

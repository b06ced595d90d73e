package tokenstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pyroalert/authcore/refresh"
	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusRevoked  int64 = 4
)

// extend_index gives an index set a TTL at least as long as its newest member.
const luaExtendIndex = `
local function extend_index(key, ttl_ms)
  local current = redis.call("PTTL", key)
  if current < ttl_ms then
    redis.call("PEXPIRE", key, ttl_ms)
  end
end
`

const saveScript = luaExtendIndex + `
local id = ARGV[1]
local ttl_ms = tonumber(ARGV[2])
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("PEXPIRE", KEYS[1], ttl_ms)
redis.call("SADD", KEYS[2], id)
extend_index(KEYS[2], ttl_ms)
redis.call("SADD", KEYS[3], id)
extend_index(KEYS[3], ttl_ms)
return 1
`

const rotateScript = luaExtendIndex + `
local prev = redis.call("HMGET", KEYS[1], "hash", "rev", "exp")
if not prev[1] then
  return 0
end
if prev[1] ~= ARGV[1] then
  return 2
end
if prev[2] ~= "0" then
  return 4
end
local now_ms = tonumber(ARGV[2])
if tonumber(prev[3]) <= now_ms then
  return 1
end

local next_id = ARGV[3]
local next_ttl = tonumber(ARGV[4])
redis.call("HSET", KEYS[1], "rev", ARGV[2], "next", next_id)
redis.call("HSET", KEYS[2], unpack(ARGV, 5))
redis.call("PEXPIRE", KEYS[2], next_ttl)
redis.call("SADD", KEYS[3], next_id)
extend_index(KEYS[3], next_ttl)
redis.call("SADD", KEYS[4], next_id)
extend_index(KEYS[4], next_ttl)
return 3
`

const revokeScript = `
local rev = redis.call("HGET", KEYS[1], "rev")
if not rev or rev ~= "0" then
  return 0
end
redis.call("HSET", KEYS[1], "rev", ARGV[1])
return 1
`

const revokeIndexScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  local rev = redis.call("HGET", key, "rev")
  if not rev then
    redis.call("SREM", KEYS[1], id)
  elseif rev == "0" then
    redis.call("HSET", key, "rev", ARGV[2])
    revoked = revoked + 1
  end
end
return revoked
`

var (
	saveLua        = redis.NewScript(saveScript)
	rotateLua      = redis.NewScript(rotateScript)
	revokeLua      = redis.NewScript(revokeScript)
	revokeIndexLua = redis.NewScript(revokeIndexScript)
)

// RedisStore is a refresh.Store backed by Redis.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store using prefix as the key namespace.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rt"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string        { return s.prefix + ":" + id }
func (s *RedisStore) userKey(uid string) string   { return s.prefix + "u:" + uid }
func (s *RedisStore) familyKey(fid string) string { return s.prefix + "f:" + fid }

// Save persists rec.
func (s *RedisStore) Save(ctx context.Context, rec *refresh.Record) error {
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt).Milliseconds()
	if ttl <= 0 {
		return errors.New("tokenstore: record expires before it is created")
	}
	args := append([]interface{}{rec.ID, ttl}, fields(rec)...)

	keys := []string{s.key(rec.ID), s.userKey(rec.UserID), s.familyKey(rec.FamilyID)}
	if err := saveLua.Run(ctx, s.redis, keys, args...).Err(); err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}
	return nil
}

// Get loads the record for id.
func (s *RedisStore) Get(ctx context.Context, id string) (*refresh.Record, error) {
	values, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}
	if len(values) == 0 {
		return nil, refresh.ErrNotFound
	}

	rec, err := parseRecord(id, values)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt record %s: %v", refresh.ErrStoreUnavailable, id, err)
	}
	return rec, nil
}

// Rotate atomically revokes prevID and stores next.
func (s *RedisStore) Rotate(ctx context.Context, prevID string, prevHash refresh.SecretHash, next *refresh.Record, now time.Time) error {
	keys := []string{
		s.key(prevID),
		s.key(next.ID),
		s.userKey(next.UserID),
		s.familyKey(next.FamilyID),
	}
	ttl := next.ExpiresAt.Sub(next.CreatedAt).Milliseconds()
	if ttl <= 0 {
		return errors.New("tokenstore: successor expires before it is created")
	}
	args := append([]interface{}{
		hex.EncodeToString(prevHash[:]),
		now.UnixMilli(),
		next.ID,
		ttl,
	}, fields(next)...)

	status, err := rotateLua.Run(ctx, s.redis, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}

	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound:
		return refresh.ErrNotFound
	case rotateStatusExpired:
		return refresh.ErrExpired
	case rotateStatusMismatch:
		return refresh.ErrHashMismatch
	case rotateStatusRevoked:
		return refresh.ErrRevoked
	default:
		return fmt.Errorf("%w: unexpected rotate status %d", refresh.ErrStoreUnavailable, status)
	}
}

// Revoke marks id revoked if it is live.
func (s *RedisStore) Revoke(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := revokeLua.Run(ctx, s.redis, []string{s.key(id)}, now.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// RevokeFamily revokes every live record in the rotation chain.
func (s *RedisStore) RevokeFamily(ctx context.Context, familyID string, now time.Time) (int, error) {
	return s.revokeIndex(ctx, s.familyKey(familyID), now)
}

// RevokeAllForUser revokes every live record of userID.
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	return s.revokeIndex(ctx, s.userKey(userID), now)
}

// DeleteExpired is a no-op: records and index sets carry Redis expirations.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) revokeIndex(ctx context.Context, indexKey string, now time.Time) (int, error) {
	n, err := revokeIndexLua.Run(ctx, s.redis, []string{indexKey}, s.prefix+":", now.UnixMilli()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}
	return int(n), nil
}

func fields(rec *refresh.Record) []interface{} {
	rev := "0"
	if rec.Revoked() {
		rev = strconv.FormatInt(rec.RevokedAt.UnixMilli(), 10)
	}
	return []interface{}{
		"uid", rec.UserID,
		"fam", rec.FamilyID,
		"hash", hex.EncodeToString(rec.SecretHash[:]),
		"scope", strings.Join(rec.Scope, " "),
		"cid", rec.ClientID,
		"ua", rec.UserAgent,
		"ip", rec.IPAddress,
		"iat", rec.CreatedAt.UnixMilli(),
		"exp", rec.ExpiresAt.UnixMilli(),
		"rev", rev,
		"next", rec.ReplacedBy,
	}
}

func parseRecord(id string, v map[string]string) (*refresh.Record, error) {
	rawHash, err := hex.DecodeString(v["hash"])
	if err != nil || len(rawHash) != len(refresh.SecretHash{}) {
		return nil, errors.New("bad hash")
	}
	iat, err := strconv.ParseInt(v["iat"], 10, 64)
	if err != nil {
		return nil, errors.New("bad iat")
	}
	exp, err := strconv.ParseInt(v["exp"], 10, 64)
	if err != nil {
		return nil, errors.New("bad exp")
	}
	rev, err := strconv.ParseInt(v["rev"], 10, 64)
	if err != nil {
		return nil, errors.New("bad rev")
	}

	rec := &refresh.Record{
		ID:         id,
		UserID:     v["uid"],
		FamilyID:   v["fam"],
		Scope:      strings.Fields(v["scope"]),
		ClientID:   v["cid"],
		UserAgent:  v["ua"],
		IPAddress:  v["ip"],
		CreatedAt:  time.UnixMilli(iat),
		ExpiresAt:  time.UnixMilli(exp),
		ReplacedBy: v["next"],
	}
	copy(rec.SecretHash[:], rawHash)
	if rev != 0 {
		rec.RevokedAt = time.UnixMilli(rev)
	}
	return rec, nil
}

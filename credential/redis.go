package credential

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusMissing  int64 = 0
	statusOK       int64 = 1
	statusConflict int64 = 2
)

const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 2
end
if ARGV[1] == "1" and redis.call("EXISTS", KEYS[3]) == 1 then
  return 2
end
redis.call("SET", KEYS[2], ARGV[2])
if ARGV[1] == "1" then
  redis.call("SET", KEYS[3], ARGV[2])
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
return 1
`

const updatePasswordScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "pwd", ARGV[1], "updated", ARGV[2])
return 1
`

const updateLoginKeyScript = `
local old = redis.call("HGET", KEYS[1], "email")
if not old then
  return 0
end
local owner = redis.call("GET", KEYS[2])
if owner and owner ~= ARGV[1] then
  return 2
end
if old ~= ARGV[2] then
  redis.call("DEL", ARGV[3] .. old)
end
redis.call("SET", KEYS[2], ARGV[1])
redis.call("HSET", KEYS[1], "email", ARGV[2], "updated", ARGV[4])
return 1
`

const swapTwoFactorScript = `
local cur = redis.call("HMGET", KEYS[1], "tf_state", "tf_rev")
if not cur[1] then
  return 0
end
if cur[1] ~= ARGV[1] or cur[2] ~= ARGV[2] then
  return 2
end
redis.call("HSET", KEYS[1], "tf_state", ARGV[3], "tf_pending", ARGV[4], "tf_active", ARGV[5], "tf_rev", ARGV[6], "updated", ARGV[7])
redis.call("DEL", KEYS[2])
if #ARGV > 7 then
  redis.call("HSET", KEYS[2], unpack(ARGV, 8))
end
return 1
`

const consumeRecoveryScript = `
local tf = redis.call("HMGET", KEYS[1], "tf_state", "tf_rev")
if tf[1] ~= "enabled" then
  return 0
end
if tf[2] ~= ARGV[3] then
  return 2
end
local v = redis.call("HGET", KEYS[2], ARGV[1])
if not v then
  return 0
end
local sep = string.find(v, ":", 1, true)
if not sep or string.sub(v, sep + 1) ~= "0" then
  return 0
end
redis.call("HSET", KEYS[2], ARGV[1], string.sub(v, 1, sep) .. ARGV[2])
return 1
`

const markStepScript = `
local cur = redis.call("HGET", KEYS[1], "tf_step")
if not cur then
  return 0
end
if tonumber(cur) >= tonumber(ARGV[1]) then
  return 2
end
redis.call("HSET", KEYS[1], "tf_step", ARGV[1])
return 1
`

const deleteScript = `
local f = redis.call("HMGET", KEYS[1], "email", "idn")
if not f[1] then
  return 0
end
redis.call("DEL", ARGV[1] .. f[1])
if f[2] and f[2] ~= "" then
  redis.call("DEL", ARGV[2] .. f[2])
end
redis.call("DEL", KEYS[1], KEYS[2])
return 1
`

var (
	createLua         = redis.NewScript(createScript)
	updatePasswordLua = redis.NewScript(updatePasswordScript)
	updateLoginKeyLua = redis.NewScript(updateLoginKeyScript)
	swapTwoFactorLua  = redis.NewScript(swapTwoFactorScript)
	consumeRecovery   = redis.NewScript(consumeRecoveryScript)
	markStepLua       = redis.NewScript(markStepScript)
	deleteLua         = redis.NewScript(deleteScript)
)

// RedisStore keeps each user in a hash, recovery codes in a second hash and
// unique indexes as plain keys:
//
//	<prefix>:<id>          HASH  user fields
//	<prefix>:rc:<id>       HASH  code hash -> "<position>:<0 | used-at unix ms>"
//	<prefix>:email:<email> STRING user id
//	<prefix>:idn:<digits>  STRING user id
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store under prefix ("usr" when empty).
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "usr"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) userKey(id string) string     { return s.prefix + ":" + id }
func (s *RedisStore) codesKey(id string) string    { return s.prefix + ":rc:" + id }
func (s *RedisStore) emailPrefix() string          { return s.prefix + ":email:" }
func (s *RedisStore) idnPrefix() string            { return s.prefix + ":idn:" }
func (s *RedisStore) emailKey(email string) string { return s.emailPrefix() + email }
func (s *RedisStore) idnKey(idn string) string     { return s.idnPrefix() + idn }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// FindByLoginKey resolves email through the unique index.
func (s *RedisStore) FindByLoginKey(ctx context.Context, email string) (*User, error) {
	id, err := s.redis.Get(ctx, s.emailKey(NormalizeEmail(email))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return s.FindByID(ctx, id)
}

// FindByID loads the user and its recovery codes.
func (s *RedisStore) FindByID(ctx context.Context, id string) (*User, error) {
	var (
		userCmd  *redis.MapStringStringCmd
		codesCmd *redis.MapStringStringCmd
	)
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		userCmd = pipe.HGetAll(ctx, s.userKey(id))
		codesCmd = pipe.HGetAll(ctx, s.codesKey(id))
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	fields := userCmd.Val()
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	u, err := decodeUser(id, fields)
	if err != nil {
		return nil, unavailable(fmt.Errorf("corrupt user %s: %w", id, err))
	}
	codes, err := decodeRecoveryCodes(codesCmd.Val())
	if err != nil {
		return nil, unavailable(fmt.Errorf("corrupt recovery code for %s: %w", id, err))
	}
	u.TwoFactor.RecoveryCodes = codes
	return u, nil
}

// Create inserts u. It fails with ErrConflict when the id, email or id
// number is already taken.
func (s *RedisStore) Create(ctx context.Context, u *User) error {
	hasIDN := "0"
	if u.IDNumber != "" {
		hasIDN = "1"
	}
	keys := []string{s.userKey(u.ID), s.emailKey(u.Email), s.idnKey(u.IDNumber)}
	args := append([]interface{}{hasIDN, u.ID}, encodeUser(u)...)

	status, err := createLua.Run(ctx, s.redis, keys, args...).Int64()
	if err != nil {
		return unavailable(err)
	}
	if status == statusConflict {
		return ErrConflict
	}
	return nil
}

// UpdatePassword replaces the stored hash.
func (s *RedisStore) UpdatePassword(ctx context.Context, id, hash string) error {
	status, err := updatePasswordLua.Run(ctx, s.redis, []string{s.userKey(id)}, hash, time.Now().UnixMilli()).Int64()
	if err != nil {
		return unavailable(err)
	}
	if status == statusMissing {
		return ErrNotFound
	}
	return nil
}

// UpdateLoginKey moves the user to a new email and index key.
func (s *RedisStore) UpdateLoginKey(ctx context.Context, id, email string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	email = NormalizeEmail(email)

	keys := []string{s.userKey(id), s.emailKey(email)}
	status, err := updateLoginKeyLua.Run(ctx, s.redis, keys, id, email, s.emailPrefix(), time.Now().UnixMilli()).Int64()
	if err != nil {
		return unavailable(err)
	}
	switch status {
	case statusMissing:
		return ErrNotFound
	case statusConflict:
		return ErrConflict
	}
	return nil
}

// SwapTwoFactor is a compare-and-set on (State, Revision).
func (s *RedisStore) SwapTwoFactor(ctx context.Context, id string, prev, next TwoFactor) error {
	if err := next.Validate(); err != nil {
		return err
	}

	args := []interface{}{
		string(prev.State),
		strconv.FormatInt(prev.Revision, 10),
		string(next.State),
		next.PendingSecret,
		next.ActiveSecret,
		strconv.FormatInt(next.Revision, 10),
		time.Now().UnixMilli(),
	}
	for i, c := range next.RecoveryCodes {
		args = append(args, c.Hash, codeValue(i, c))
	}

	status, err := swapTwoFactorLua.Run(ctx, s.redis, []string{s.userKey(id), s.codesKey(id)}, args...).Int64()
	if err != nil {
		return unavailable(err)
	}
	switch status {
	case statusMissing:
		return ErrNotFound
	case statusConflict:
		return ErrStateConflict
	}
	return nil
}

// ConsumeRecoveryCode marks one unused code as used.
func (s *RedisStore) ConsumeRecoveryCode(ctx context.Context, id string, revision int64, hash string, at time.Time) error {
	keys := []string{s.userKey(id), s.codesKey(id)}
	status, err := consumeRecovery.Run(ctx, s.redis, keys, hash, at.UnixMilli(), strconv.FormatInt(revision, 10)).Int64()
	if err != nil {
		return unavailable(err)
	}
	switch status {
	case statusOK:
		return nil
	case statusConflict:
		return ErrStateConflict
	}
	return ErrCodeNotFound
}

// MarkTOTPStep advances the last accepted TOTP step.
func (s *RedisStore) MarkTOTPStep(ctx context.Context, id string, step int64) error {
	status, err := markStepLua.Run(ctx, s.redis, []string{s.userKey(id)}, step).Int64()
	if err != nil {
		return unavailable(err)
	}
	switch status {
	case statusMissing:
		return ErrNotFound
	case statusConflict:
		return ErrStaleStep
	}
	return nil
}

// Delete removes the user, its codes and its index keys.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	keys := []string{s.userKey(id), s.codesKey(id)}
	status, err := deleteLua.Run(ctx, s.redis, keys, s.emailPrefix(), s.idnPrefix()).Int64()
	if err != nil {
		return unavailable(err)
	}
	if status == statusMissing {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func codeValue(pos int, c RecoveryCode) string {
	used := "0"
	if c.Used() {
		used = strconv.FormatInt(c.UsedAt.UnixMilli(), 10)
	}
	return strconv.Itoa(pos) + ":" + used
}

// decodeRecoveryCodes restores the batch in issue order.
func decodeRecoveryCodes(values map[string]string) ([]RecoveryCode, error) {
	if len(values) == 0 {
		return nil, nil
	}
	codes := make([]RecoveryCode, len(values))
	seen := make([]bool, len(values))
	for hash, v := range values {
		rawPos, rawUsed, ok := strings.Cut(v, ":")
		if !ok {
			return nil, errors.New("missing position")
		}
		pos, err := strconv.Atoi(rawPos)
		if err != nil || pos < 0 || pos >= len(codes) || seen[pos] {
			return nil, fmt.Errorf("bad position %q", rawPos)
		}
		code := RecoveryCode{Hash: hash}
		if rawUsed != "0" {
			ms, err := strconv.ParseInt(rawUsed, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad used-at %q", rawUsed)
			}
			code.UsedAt = time.UnixMilli(ms)
		}
		codes[pos] = code
		seen[pos] = true
	}
	return codes, nil
}

func encodeUser(u *User) []interface{} {
	return []interface{}{
		"email", u.Email,
		"name", u.Name,
		"idn", u.IDNumber,
		"idt", string(u.IDType),
		"phone", u.Phone,
		"pwd", u.PasswordHash,
		"role", string(u.Role),
		"tf_state", string(u.TwoFactor.State),
		"tf_pending", u.TwoFactor.PendingSecret,
		"tf_active", u.TwoFactor.ActiveSecret,
		"tf_rev", strconv.FormatInt(u.TwoFactor.Revision, 10),
		"tf_step", strconv.FormatInt(u.TwoFactor.LastUsedStep, 10),
		"created", u.CreatedAt.UnixMilli(),
		"updated", u.UpdatedAt.UnixMilli(),
	}
}

func decodeUser(id string, f map[string]string) (*User, error) {
	rev, err := strconv.ParseInt(f["tf_rev"], 10, 64)
	if err != nil {
		return nil, errors.New("bad tf_rev")
	}
	step, err := strconv.ParseInt(f["tf_step"], 10, 64)
	if err != nil {
		return nil, errors.New("bad tf_step")
	}
	created, err := strconv.ParseInt(f["created"], 10, 64)
	if err != nil {
		return nil, errors.New("bad created")
	}
	updated, err := strconv.ParseInt(f["updated"], 10, 64)
	if err != nil {
		return nil, errors.New("bad updated")
	}

	return &User{
		ID:           id,
		Email:        f["email"],
		Name:         f["name"],
		IDNumber:     f["idn"],
		IDType:       IDType(f["idt"]),
		Phone:        f["phone"],
		PasswordHash: f["pwd"],
		Role:         Role(f["role"]),
		TwoFactor: TwoFactor{
			State:         State(f["tf_state"]),
			PendingSecret: f["tf_pending"],
			ActiveSecret:  f["tf_active"],
			Revision:      rev,
			LastUsedStep:  step,
		},
		CreatedAt: time.UnixMilli(created),
		UpdatedAt: time.UnixMilli(updated),
	}, nil
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/interviewer/internal/model"
)

const (
	defaultRedisPrefix = "interviewer:session"
	lockPollInterval   = 50 * time.Millisecond
)

// releaseScript deletes the lock only when it still carries the owner's value.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// saveScript writes a session hash only when its version field still matches
// the caller's, then bumps it. A missing hash is version 0.
var saveScript = redis.NewScript(`
local cur = tonumber(redis.call("HGET", KEYS[1], "version") or "0")
if cur ~= tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[2], "state", ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[4])
end
return 1
`)

// RedisStore keeps sessions in Redis with TTL. The per-token lock is a
// SET NX PX key owned by a random value, so it also serializes requests
// served by different processes. Save is versioned, so a holder whose lock
// expired mid-request cannot overwrite the next holder's state.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	lockTTL time.Duration
}

// NewRedisStore builds a Redis-backed session store. lockTTL must exceed the
// longest critical section (the scoring timeout) so a live holder never loses
// its lock.
func NewRedisStore(addr, password string, ttl, lockTTL time.Duration) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}), ttl, lockTTL)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl, lockTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: defaultRedisPrefix, ttl: ttl, lockTTL: lockTTL}
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) stateKey(token string) string {
	return s.prefix + ":state:" + token
}

func (s *RedisStore) lockKey(token string) string {
	return s.prefix + ":lock:" + token
}

// Load returns the stored state, or nil if absent.
func (s *RedisStore) Load(ctx context.Context, token string) (*model.InterviewState, error) {
	raw, err := s.client.HGet(ctx, s.stateKey(token), "state").Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var st model.InterviewState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &st, nil
}

// Save writes st with the store TTL.
func (s *RedisStore) Save(ctx context.Context, token string, st model.InterviewState) error {
	expected := st.Version
	st.Version++
	st.UpdatedAt = time.Now()
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := saveScript.Run(ctx, s.client, []string{s.stateKey(token)},
		expected, st.Version, raw, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	if ok == 0 {
		return ErrConflict
	}
	return nil
}

// Clear deletes token's state.
func (s *RedisStore) Clear(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.stateKey(token)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Lock polls SET NX until it owns the token's lock key or ctx is done.
func (s *RedisStore) Lock(ctx context.Context, token string) (func(), error) {
	key := s.lockKey(token)
	owner := uuid.NewString()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := s.client.SetNX(ctx, key, owner, s.lockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLockTimeout
			}
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}

	return func() {
		// The request context may already be cancelled; release regardless.
		rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, s.client, []string{key}, owner).Err(); err != nil && err != redis.Nil {
			slog.Warn("release session lock", "error", err)
		}
	}, nil
}

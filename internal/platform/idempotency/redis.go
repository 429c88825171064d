package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idempotency:"

// releaseScript deletes KEYS[1] only while it still holds fingerprint ARGV[1].
var releaseScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
if cjson.decode(raw).fingerprint ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`)

// RedisStore keeps reservations in Redis. Expiry is delegated to key TTLs, so
// CleanupExpired has nothing to do.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// RedisOption customises RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix overrides the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	store := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Reserve claims the key with SET NX; a lost race falls back to reading the stored record.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	redisKey := s.key(key)

	reservation, fresh, _ := reserveRecord(nil, key, fingerprint, now, ttl)
	payload, err := encodeRedisRecord(*fresh)
	if err != nil {
		return Reservation{}, err
	}
	created, err := s.client.SetNX(ctx, redisKey, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if created {
		return reservation, nil
	}

	existing, err := s.load(ctx, redisKey)
	if err != nil {
		return Reservation{}, err
	}
	if existing == nil {
		// Expired between SETNX and GET; the caller may retry with a fresh reservation.
		return Reservation{State: ReservationStatePending, Record: *fresh}, nil
	}
	reservation, _, err = reserveRecord(existing, key, fingerprint, now, ttl)
	return reservation, err
}

// SaveResponse overwrites the reservation with the completed response.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	redisKey := s.key(key)
	existing, err := s.load(ctx, redisKey)
	if err != nil {
		return err
	}
	record, err := completeRecord(existing, key, fingerprint, resp, now.UTC(), ttl)
	if err != nil {
		return err
	}
	payload, err := encodeRedisRecord(record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKey, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

// Release implements Store with a compare-and-delete script.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	err := releaseScript.Run(ctx, s.client, []string{s.key(key)}, fingerprint).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// CleanupExpired implements Store.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + recordID(key)
}

func (s *RedisStore) load(ctx context.Context, redisKey string) (*Record, error) {
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return &record, nil
}

func encodeRedisRecord(record Record) (string, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("idempotency: encode record: %w", err)
	}
	return string(payload), nil
}

package store

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimScript is the atomic claim primitive. Executed server-side, it is
// the only way a block leaves the pool: check the used marker, read the
// envelope, write the marker with the block's remaining TTL, delete the
// block and drop it from the live index in one step.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return redis.error_reply('ECLAIMED')
end
local data = redis.call('GET', KEYS[1])
if not data then
  redis.call('SREM', KEYS[3], ARGV[2])
  return false
end
local ttl = redis.call('TTL', KEYS[1])
if ttl <= 0 then
  ttl = tonumber(ARGV[1])
end
redis.call('SET', KEYS[2], '1', 'EX', ttl)
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[3], ARGV[2])
return data
`)

// RedisStore backs the pool with a Redis instance.
type RedisStore struct {
	client *redis.Client
}

// RedisOptions holds connection settings.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
}

// NewRedisStore creates a Redis-backed store. Connectivity is verified
// lazily; call Ping to check it eagerly.
func NewRedisStore(opts RedisOptions) *RedisStore {
	options := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.UseTLS {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &RedisStore{client: redis.NewClient(options)}
}

func (s *RedisStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if strings.Contains(err.Error(), "ECLAIMED") {
		return ErrClaimConflict
	}
	return NewConnectionError(err)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.wrap(s.client.Ping(ctx).Err())
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.wrap(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, s.wrap(err)
	}
	return data, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.wrap(s.client.Del(ctx, keys...).Err())
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, s.wrap(err)
	}
	return n > 0, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, s.wrap(err)
	}
	if ttl == -2 {
		return 0, ErrNotFound
	}
	return ttl, nil
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, s.wrap(err)
	}
	return keys, nil
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) error {
	return s.wrap(s.client.IncrBy(ctx, key, delta).Err())
}

func (s *RedisStore) Counter(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, s.wrap(err)
	}
	return n, nil
}

func (s *RedisStore) IndexAdd(ctx context.Context, set, member string) error {
	return s.wrap(s.client.SAdd(ctx, set, member).Err())
}

func (s *RedisStore) IndexRemove(ctx context.Context, set, member string) error {
	return s.wrap(s.client.SRem(ctx, set, member).Err())
}

func (s *RedisStore) IndexMembers(ctx context.Context, set string) ([]string, error) {
	members, err := s.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, s.wrap(err)
	}
	return members, nil
}

func (s *RedisStore) Claim(ctx context.Context, blockKey, usedKey, indexSet, member string, fallbackTTL time.Duration) ([]byte, error) {
	ttlSeconds := int64(fallbackTTL / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := claimScript.Run(ctx, s.client,
		[]string{blockKey, usedKey, indexSet},
		ttlSeconds, member).Result()
	if err != nil {
		return nil, s.wrap(err)
	}

	data, ok := result.(string)
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(data), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

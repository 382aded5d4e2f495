package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldUsername    = "username"
	fieldCreatedAt   = "created_at"
	fieldLastTouched = "last_touched_at"
)

// resolveScript touches and reads a session in one step so a key that expires
// between the read and the touch is never resurrected as a partial hash.
var resolveScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'username', 'created_at')
if not v[1] then
  return false
end
redis.call('HSET', KEYS[1], 'last_touched_at', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return v
`)

// RedisStore keeps sessions as redis hashes whose key TTL is the sliding expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(opts *redis.Options) (*redis.Client, error) {
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, opts ...Option) *RedisStore {
	o := applyOptions(opts)
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    o.now,
	}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + ":" + token
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, username string) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}

	now := strconv.FormatInt(s.now().UnixNano(), 10)
	key := s.key(token)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldUsername, username,
			fieldCreatedAt, now,
			fieldLastTouched, now,
		)
		pipe.PExpire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: create: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// Resolve implements Store.
func (s *RedisStore) Resolve(ctx context.Context, token string) (Record, error) {
	if token == "" {
		return Record{}, ErrNotFound
	}

	now := s.now()
	res, err := resolveScript.Run(ctx, s.client,
		[]string{s.key(token)},
		now.UnixNano(), s.ttl.Milliseconds(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: resolve: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return Record{}, fmt.Errorf("%w: resolve: unexpected reply %v", ErrStoreUnavailable, res)
	}

	username, _ := res[0].(string)
	createdRaw, _ := res[1].(string)
	createdNanos, err := strconv.ParseInt(createdRaw, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: resolve: bad %s: %v", ErrStoreUnavailable, fieldCreatedAt, err)
	}

	return Record{
		Token:         token,
		Username:      username,
		CreatedAt:     time.Unix(0, createdNanos),
		LastTouchedAt: now,
		ExpiresAt:     now.Add(s.ttl),
	}, nil
}

// Destroy implements Store.
func (s *RedisStore) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("%w: destroy: %v", ErrStoreUnavailable, err)
	}
	return nil
}

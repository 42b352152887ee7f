package checkpoint

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lakeline:checkpoint:"

// commitScript sets the position only when it is greater than the stored one,
// making Commit atomic and monotonic under concurrent callers.
var commitScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false or tonumber(ARGV[1]) > tonumber(current) then
	redis.call('SET', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// RedisStore implements Store using Redis, for low-latency shared checkpoints.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed checkpoint store.
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the stored position for a stream.
func (s *RedisStore) Get(ctx context.Context, streamID string) (uint64, bool, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+streamID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint: get %s: %w", streamID, err)
	}
	position, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint: corrupt position for %s: %w", streamID, err)
	}
	return position, true, nil
}

// Commit durably records the position for a stream via a compare-and-set
// script; lower positions are ignored.
func (s *RedisStore) Commit(ctx context.Context, streamID string, position uint64) error {
	err := commitScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + streamID},
		strconv.FormatUint(position, 10),
	).Err()
	if err != nil {
		return fmt.Errorf("checkpoint: commit %s@%d: %w", streamID, position, err)
	}
	return nil
}

// List returns every stored checkpoint.
func (s *RedisStore) List(ctx context.Context) (map[string]uint64, error) {
	out := make(map[string]uint64)
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checkpoint: list get %s: %w", key, err)
		}
		position, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: corrupt position for %s: %w", key, err)
		}
		out[strings.TrimPrefix(key, redisKeyPrefix)] = position
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint: list scan: %w", err)
	}
	return out, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

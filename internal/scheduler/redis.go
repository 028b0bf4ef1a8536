package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// flagTTL bounds how long a generating flag can outlive its writer. A
// continuation loop that dies without clearing its flag would otherwise
// force every later caller into a pointless poll-wait.
const flagTTL = 10 * time.Minute

// RedisScheduler keeps the generating set in Redis with a TTL per flag.
type RedisScheduler struct {
	client *redis.Client
}

// NewRedisScheduler connects to Redis and verifies the connection.
func NewRedisScheduler(ctx context.Context, redisURL string) (*RedisScheduler, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisScheduler{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisScheduler) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisScheduler) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func generatingKey(messageID int64) string {
	return fmt.Sprintf("generating:%d", messageID)
}

// SetGenerating flags or unflags a message id.
func (s *RedisScheduler) SetGenerating(ctx context.Context, messageID int64, generating bool) error {
	key := generatingKey(messageID)
	if generating {
		return s.client.Set(ctx, key, "1", flagTTL).Err()
	}
	return s.client.Del(ctx, key).Err()
}

// IsGenerating reports whether a message id is flagged.
func (s *RedisScheduler) IsGenerating(ctx context.Context, messageID int64) (bool, error) {
	exists, err := s.client.Exists(ctx, generatingKey(messageID)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

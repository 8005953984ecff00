// Package lock implements commit.Locker on Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mdnorm/pkg/platform/sentinel"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes SET NX PX locks under a key prefix.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "mdnorm:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire takes key for ttl. It returns sentinel.ErrConflict while another
// holder owns the key and sentinel.ErrUnavailable when Redis cannot be
// reached.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w: %v", key, sentinel.ErrUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire lock %s: %w", key, sentinel.ErrConflict)
	}

	release := func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}

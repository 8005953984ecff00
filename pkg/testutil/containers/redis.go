//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"mdnorm/internal/platform/config"
	redisplatform "mdnorm/internal/platform/redis"
)

// RedisContainer wraps a testcontainers Redis instance. Client is built by
// the same constructor the server uses, so pool settings match production.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *redisplatform.Client
}

// NewRedisContainer starts Redis and connects to it.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	rc := &RedisContainer{Container: container, URL: url}
	client, err := redisplatform.New(ctx, rc.Config())
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect to redis: %v", err)
	}
	rc.Client = client
	return rc
}

// Config returns a RedisConfig pointing at the container.
func (r *RedisContainer) Config() config.RedisConfig {
	return config.RedisConfig{
		URL:          r.URL,
		PoolSize:     4,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		LockTTL:      time.Minute,
	}
}

// FlushAll removes every key. Suites call it between tests.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}

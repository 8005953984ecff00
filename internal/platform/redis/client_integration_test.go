//go:build integration

package redis_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdnorm/internal/platform/config"
	redisplatform "mdnorm/internal/platform/redis"
	"mdnorm/pkg/testutil/containers"
)

func TestNew(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	t.Run("connects and reports health", func(t *testing.T) {
		rc := containers.GetManager().GetRedis(t)
		client, err := redisplatform.New(ctx, rc.Config())
		require.NoError(t, err)
		defer client.Close()

		assert.NoError(t, client.Health(ctx))
		assert.Equal(t, 4, client.Options().PoolSize)
	})

	t.Run("bad url", func(t *testing.T) {
		_, err := redisplatform.New(ctx, config.RedisConfig{URL: "not-a-url"})
		assert.Error(t, err)
	})
}

//go:build integration

package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mdnorm/internal/normalize/commit/lock"
	"mdnorm/pkg/platform/sentinel"
	"mdnorm/pkg/testutil/containers"
)

type RedisLockerSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	locker *lock.RedisLocker
}

func TestRedisLockerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLockerSuite))
}

func (s *RedisLockerSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.locker = lock.NewRedisLocker(s.redis.Client.Client, "test:lock:")
}

func (s *RedisLockerSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisLockerSuite) TestExclusive() {
	ctx := context.Background()
	release, err := s.locker.Acquire(ctx, "commit:state", time.Minute)
	s.Require().NoError(err)

	_, err = s.locker.Acquire(ctx, "commit:state", time.Minute)
	s.ErrorIs(err, sentinel.ErrConflict)

	other, err := s.locker.Acquire(ctx, "commit:city", time.Minute)
	s.Require().NoError(err, "categories lock independently")
	s.Require().NoError(other(ctx))

	s.Require().NoError(release(ctx))
	again, err := s.locker.Acquire(ctx, "commit:state", time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(again(ctx))
}

func (s *RedisLockerSuite) TestStaleReleaseKeepsNewHolder() {
	ctx := context.Background()
	stale, err := s.locker.Acquire(ctx, "commit:state", 50*time.Millisecond)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		n, err := s.redis.Client.Exists(ctx, "test:lock:commit:state").Result()
		return err == nil && n == 0
	}, 2*time.Second, 20*time.Millisecond)

	_, err = s.locker.Acquire(ctx, "commit:state", time.Minute)
	s.Require().NoError(err)

	s.Require().NoError(stale(ctx))
	_, err = s.locker.Acquire(ctx, "commit:state", time.Minute)
	s.ErrorIs(err, sentinel.ErrConflict, "stale release must not drop the new lock")
}

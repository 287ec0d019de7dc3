//go:build integration

package attempts_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"unionvote/internal/voting/verification/attempts"
	"unionvote/pkg/testutil/containers"
)

type RedisAttemptsSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *attempts.RedisStore
}

func TestRedisAttemptsSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisAttemptsSuite))
}

func (s *RedisAttemptsSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = attempts.NewRedisStore(s.redis.Client.Client)
}

func (s *RedisAttemptsSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisAttemptsSuite) TestIncrementAndLock() {
	ctx := context.Background()
	now := time.Now()

	for i := 1; i <= 3; i++ {
		n, err := s.store.Increment(ctx, "member-1", now, time.Minute)
		s.Require().NoError(err)
		s.Equal(i, n)
	}

	r, err := s.store.Get(ctx, "member-1", now)
	s.Require().NoError(err)
	s.Equal(3, r.Failures)
	s.Nil(r.LockedUntil)

	s.Require().NoError(s.store.Lock(ctx, "member-1", now.Add(time.Minute)))
	r, err = s.store.Get(ctx, "member-1", now)
	s.Require().NoError(err)
	s.NotNil(r.LockedUntil)

	s.Require().NoError(s.store.Clear(ctx, "member-1"))
	r, err = s.store.Get(ctx, "member-1", now)
	s.Require().NoError(err)
	s.Equal(attempts.Record{}, r)
}

func (s *RedisAttemptsSuite) TestWindowExpires() {
	ctx := context.Background()
	_, err := s.store.Increment(ctx, "member-2", time.Now(), time.Second)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		r, err := s.store.Get(ctx, "member-2", time.Now())
		return err == nil && r.Failures == 0
	}, 5*time.Second, 100*time.Millisecond)
}

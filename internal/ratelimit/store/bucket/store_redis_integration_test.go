//go:build integration

package bucket_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vaxledger/internal/ratelimit/store/bucket"
	"vaxledger/pkg/testutil/containers"
)

type RedisBucketSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *bucket.Redis
}

func TestRedisBucketSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBucketSuite))
}

func (s *RedisBucketSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = bucket.NewRedis(s.redis.Client)
}

func (s *RedisBucketSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisBucketSuite) TestAllowUpToLimit() {
	ctx := context.Background()
	for i := range 3 {
		result, err := s.store.Allow(ctx, "rl:write:parent", 3, time.Minute)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(2-i, result.Remaining)
	}

	result, err := s.store.Allow(ctx, "rl:write:parent", 3, time.Minute)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Positive(result.RetryAfter)

	// the rejected request must not consume budget
	n, err := s.redis.Client.ZCard(ctx, "rl:write:parent").Result()
	s.Require().NoError(err)
	s.EqualValues(3, n)
}

func (s *RedisBucketSuite) TestWindowExpiresAndReset() {
	ctx := context.Background()
	_, err := s.store.Allow(ctx, "rl:read:short", 1, 200*time.Millisecond)
	s.Require().NoError(err)

	result, err := s.store.Allow(ctx, "rl:read:short", 1, 200*time.Millisecond)
	s.Require().NoError(err)
	s.False(result.Allowed)

	s.Eventually(func() bool {
		r, err := s.store.Allow(ctx, "rl:read:short", 1, 200*time.Millisecond)
		return err == nil && r.Allowed
	}, 2*time.Second, 50*time.Millisecond)

	s.Require().NoError(s.store.Reset(ctx, "rl:read:short"))
	result, err = s.store.Allow(ctx, "rl:read:short", 1, 200*time.Millisecond)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

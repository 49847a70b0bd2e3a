// Package cache holds rendered progress certificates so repeated requests at
// the same completion count on the same day skip rendering. The day is part
// of the key because the artifact prints the child's age and issue date.
package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	id "vaxledger/pkg/domain"
)

const progressKeyPrefix = "vaxledger:progress:"

func progressKey(childID id.ChildID, completed int, asOf time.Time) string {
	return progressKeyPrefix + childID.String() + ":" + strconv.Itoa(completed) + ":" + asOf.Format(time.DateOnly)
}

// RedisProgress caches progress artifacts in Redis with a TTL.
type RedisProgress struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProgress(client *redis.Client, ttl time.Duration) *RedisProgress {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisProgress{client: client, ttl: ttl}
}

// Get returns false on a miss.
func (c *RedisProgress) Get(ctx context.Context, childID id.ChildID, completed int, asOf time.Time) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, progressKey(childID, completed, asOf)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisProgress) Set(ctx context.Context, childID id.ChildID, completed int, asOf time.Time, artifact []byte) error {
	return c.client.Set(ctx, progressKey(childID, completed, asOf), artifact, c.ttl).Err()
}

// InMemory is an unbounded progress cache for single-process deployments.
type InMemory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewInMemory() *InMemory {
	return &InMemory{items: make(map[string][]byte)}
}

func (c *InMemory) Get(_ context.Context, childID id.ChildID, completed int, asOf time.Time) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.items[progressKey(childID, completed, asOf)]
	return data, ok, nil
}

func (c *InMemory) Set(_ context.Context, childID id.ChildID, completed int, asOf time.Time, artifact []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[progressKey(childID, completed, asOf)] = artifact
	return nil
}

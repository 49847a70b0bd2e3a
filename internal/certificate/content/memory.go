package content

import (
	"context"
	"sync"

	"vaxledger/pkg/platform/sentinel"
)

// InMemory is a content store for development and tests.
type InMemory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	uploads int
}

func NewInMemory() *InMemory {
	return &InMemory{objects: make(map[string][]byte)}
}

// Put stores data once per hash; repeated puts of the same bytes are no-ops.
func (s *InMemory) Put(ctx context.Context, data []byte, _ map[string]string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	hash := Hash(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	if _, ok := s.objects[hash]; !ok {
		s.objects[hash] = append([]byte(nil), data...)
	}
	return Object{ContentHash: hash, URI: "mem://" + ObjectKey(hash)}, nil
}

func (s *InMemory) Get(_ context.Context, contentHash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[contentHash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Uploads counts Put calls.
func (s *InMemory) Uploads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uploads
}

// Corrupt replaces stored bytes, for exercising verification failures.
func (s *InMemory) Corrupt(contentHash string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[contentHash] = data
}

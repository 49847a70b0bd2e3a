package store

import (
	"context"
	"sync"

	"vaxledger/internal/child/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
)

// InMemory keeps children in a map guarded by a RWMutex.
type InMemory struct {
	mu       sync.RWMutex
	children map[id.ChildID]models.Child
}

func NewInMemory() *InMemory {
	return &InMemory{children: make(map[id.ChildID]models.Child)}
}

func (s *InMemory) Create(_ context.Context, child *models.Child) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.children[child.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.children[child.ID] = *child
	return nil
}

// Delete removes a child; used to compensate a failed registration.
func (s *InMemory) Delete(_ context.Context, childID id.ChildID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.children, childID)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, childID id.ChildID) (*models.Child, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.children[childID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &c, nil
}

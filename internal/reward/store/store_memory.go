package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"vaxledger/internal/reward/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
)

// Totals summarizes locally recorded claims.
type Totals struct {
	Claims int
	Amount decimal.Decimal
}

type InMemory struct {
	mu     sync.RWMutex
	claims map[id.ChildID]models.Claim
}

func NewInMemory() *InMemory {
	return &InMemory{claims: make(map[id.ChildID]models.Claim)}
}

// Save records a claim. A second claim for the same child returns
// sentinel.ErrAlreadyUsed.
func (s *InMemory) Save(_ context.Context, c *models.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.claims[c.ChildID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.claims[c.ChildID] = *c
	return nil
}

func (s *InMemory) FindByChild(_ context.Context, childID id.ChildID) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[childID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &c, nil
}

func (s *InMemory) Totals(_ context.Context) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := Totals{Amount: decimal.Zero}
	for _, c := range s.claims {
		t.Claims++
		t.Amount = t.Amount.Add(c.Amount)
	}
	return t, nil
}

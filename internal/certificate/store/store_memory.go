package store

import (
	"context"
	"sort"
	"sync"

	"vaxledger/internal/certificate/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
)

type typeKey struct {
	child id.ChildID
	typ   models.Type
}

// InMemory keeps certificates in process. Verifiable certificates are unique
// per (child, type).
type InMemory struct {
	mu    sync.RWMutex
	byID  map[id.CertificateID]models.Certificate
	byKey map[typeKey]id.CertificateID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:  make(map[id.CertificateID]models.Certificate),
		byKey: make(map[typeKey]id.CertificateID),
	}
}

// Create reserves the record. A second verifiable certificate for the same
// child and type returns sentinel.ErrAlreadyUsed.
func (s *InMemory) Create(_ context.Context, c *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[c.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	key := typeKey{c.ChildID, c.Type}
	if c.Type.Verifiable() {
		if _, exists := s.byKey[key]; exists {
			return sentinel.ErrAlreadyUsed
		}
		s.byKey[key] = c.ID
	}
	s.byID[c.ID] = clone(*c)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, certID id.CertificateID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := clone(c)
	return &out, nil
}

func (s *InMemory) FindByChildAndType(_ context.Context, childID id.ChildID, typ models.Type) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	certID, ok := s.byKey[typeKey{childID, typ}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := clone(s.byID[certID])
	return &out, nil
}

func (s *InMemory) ListByChild(_ context.Context, childID id.ChildID) ([]models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Certificate, 0)
	for _, c := range s.byID {
		if c.ChildID == childID {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out, nil
}

// Advance writes c only if it moves the stored status forward. A stale write
// returns sentinel.ErrInvalidState.
func (s *InMemory) Advance(_ context.Context, c *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if c.Status.Rank() <= stored.Status.Rank() {
		return sentinel.ErrInvalidState
	}
	s.byID[c.ID] = clone(*c)
	return nil
}

func clone(c models.Certificate) models.Certificate {
	if c.LedgerRef != nil {
		ref := *c.LedgerRef
		c.LedgerRef = &ref
	}
	return c
}

package event

import (
	"context"
	"sort"
	"sync"

	"vaxledger/internal/records/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
)

// InMemory is an append-only event log.
type InMemory struct {
	mu      sync.RWMutex
	events  map[id.EventID]*models.ImmunizationEvent
	byChild map[id.ChildID][]id.EventID
}

func NewInMemory() *InMemory {
	return &InMemory{
		events:  make(map[id.EventID]*models.ImmunizationEvent),
		byChild: make(map[id.ChildID][]id.EventID),
	}
}

func (s *InMemory) Create(_ context.Context, event *models.ImmunizationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	stored := *event
	s.events[event.ID] = &stored
	s.byChild[event.ChildID] = append(s.byChild[event.ChildID], event.ID)
	return nil
}

// AttachLedgerRef sets the ledger reference once. A second attach is a no-op.
func (s *InMemory) AttachLedgerRef(_ context.Context, eventID id.EventID, ref models.LedgerRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if e.LedgerRef == nil {
		r := ref
		e.LedgerRef = &r
	}
	return nil
}

func (s *InMemory) FindByID(_ context.Context, eventID id.EventID) (*models.ImmunizationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *e
	return &out, nil
}

// ListByChild returns events ordered by date administered, then record time.
func (s *InMemory) ListByChild(_ context.Context, childID id.ChildID) ([]models.ImmunizationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byChild[childID]
	out := make([]models.ImmunizationEvent, 0, len(ids))
	for _, eventID := range ids {
		out = append(out, *s.events[eventID])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DateAdministered.Equal(out[j].DateAdministered) {
			return out[i].DateAdministered.Before(out[j].DateAdministered)
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

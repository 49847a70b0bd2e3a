package event

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vaxledger/internal/records/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
)

type EventStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestEventStoreSuite(t *testing.T) {
	suite.Run(t, new(EventStoreSuite))
}

func (s *EventStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func newEvent(childID id.ChildID, given time.Time) *models.ImmunizationEvent {
	return &models.ImmunizationEvent{
		ID:               id.EventID(uuid.New()),
		ChildID:          childID,
		VaccineName:      "OPV",
		DoseNumber:       1,
		DateAdministered: given,
		AdministeredBy:   "Dr. Rao",
		Location:         "PHC",
		RecordedAt:       time.Now(),
	}
}

func (s *EventStoreSuite) TestAttachLedgerRef() {
	e := newEvent(id.ChildID(uuid.New()), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(s.store.Create(s.ctx, e))

	first := models.LedgerRef{TxHash: "0x01", BlockNumber: 1}
	s.Require().NoError(s.store.AttachLedgerRef(s.ctx, e.ID, first))
	s.Require().NoError(s.store.AttachLedgerRef(s.ctx, e.ID, models.LedgerRef{TxHash: "0x02"}))

	found, err := s.store.FindByID(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal("0x01", found.LedgerRef.TxHash, "ledger ref is attached once")

	s.ErrorIs(s.store.AttachLedgerRef(s.ctx, id.EventID(uuid.New()), first), sentinel.ErrNotFound)
}

func (s *EventStoreSuite) TestListByChildIsolatesAndOrders() {
	childID := id.ChildID(uuid.New())
	later := newEvent(childID, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	earlier := newEvent(childID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	other := newEvent(id.ChildID(uuid.New()), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	for _, e := range []*models.ImmunizationEvent{later, earlier, other} {
		s.Require().NoError(s.store.Create(s.ctx, e))
	}
	s.ErrorIs(s.store.Create(s.ctx, later), sentinel.ErrAlreadyUsed)

	events, err := s.store.ListByChild(s.ctx, childID)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(earlier.ID, events[0].ID)
	s.Equal(later.ID, events[1].ID)
}

package dosestatus

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

type DoseStoreSuite struct {
	suite.Suite
	store   *InMemory
	ctx     context.Context
	childID id.ChildID
}

func TestDoseStoreSuite(t *testing.T) {
	suite.Run(t, new(DoseStoreSuite))
}

func (s *DoseStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.childID = id.ChildID(uuid.New())
	s.Require().NoError(s.store.InsertAll(s.ctx, s.childID, []models.DoseStatus{
		{ChildID: s.childID, VaccineName: "OPV", DoseNumber: 2, AgeInMonths: 4, Status: models.DosePending},
		{ChildID: s.childID, VaccineName: "BCG", DoseNumber: 1, AgeInMonths: 0, Status: models.DoseOverdue},
	}))
}

func (s *DoseStoreSuite) TestInsertAll() {
	s.Run("second set for the same child is rejected", func() {
		err := s.store.InsertAll(s.ctx, s.childID, []models.DoseStatus{{VaccineName: "MMR", DoseNumber: 1}})
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("lists ordered by schedule age", func() {
		statuses, err := s.store.ListByChild(s.ctx, s.childID)
		s.Require().NoError(err)
		s.Require().Len(statuses, 2)
		s.Equal("BCG", statuses[0].VaccineName)
	})
}

func (s *DoseStoreSuite) TestMarkCompleted() {
	given := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	changed, err := s.store.MarkCompleted(s.ctx, s.childID, "bcg", 1, given)
	s.Require().NoError(err)
	s.True(changed)

	changed, err = s.store.MarkCompleted(s.ctx, s.childID, "BCG", 1, given.AddDate(0, 1, 0))
	s.Require().NoError(err)
	s.False(changed)

	_, err = s.store.MarkCompleted(s.ctx, s.childID, "MMR", 1, given)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

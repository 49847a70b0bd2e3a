package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vaxledger/internal/child/models"
	"vaxledger/internal/child/store"
	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
	"vaxledger/pkg/platform/audit"
	"vaxledger/pkg/platform/audit/publisher"
	auditmemory "vaxledger/pkg/platform/audit/store/memory"
	"vaxledger/pkg/platform/tx"
	"vaxledger/pkg/requestcontext"
)

const parentAddress = "0x52908400098527886E0F7030069857D2E4169EE7"

type stubDoses struct {
	calls int
	last  id.ChildID
	err   error
}

func (d *stubDoses) InitializeForChild(_ context.Context, childID id.ChildID, _ time.Time) (int, error) {
	d.calls++
	d.last = childID
	if d.err != nil {
		return 0, d.err
	}
	return 42, nil
}

type ChildServiceSuite struct {
	suite.Suite
	ctx      context.Context
	children *store.InMemory
	doses    *stubDoses
	audits   *auditmemory.InMemoryStore
	svc      *Service
}

func TestChildServiceSuite(t *testing.T) {
	suite.Run(t, new(ChildServiceSuite))
}

func (s *ChildServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	s.children = store.NewInMemory()
	s.doses = &stubDoses{}
	s.audits = auditmemory.NewInMemoryStore()
	s.svc = New(s.children, s.doses, &tx.LocalRunner{},
		WithAuditPublisher(publisher.NewPublisher(s.audits)),
	)
}

func (s *ChildServiceSuite) TestRegister() {
	s.Run("persists child and initializes doses", func() {
		child, err := s.svc.Register(s.ctx, models.RegisterCommand{
			Name:          "Asha",
			BirthDate:     time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC),
			ParentAddress: parentAddress,
		})
		s.Require().NoError(err)
		s.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), child.BirthDate)
		s.Equal(1, s.doses.calls)

		found, err := s.svc.Get(s.ctx, child.ID)
		s.Require().NoError(err)
		s.Equal("Asha", found.Name)

		events, err := s.audits.ListByChild(s.ctx, child.ID)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventChildRegistered), events[0].Action)
	})

	s.Run("future birth date is a validation error", func() {
		_, err := s.svc.Register(s.ctx, models.RegisterCommand{
			Name:          "Later",
			BirthDate:     time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
			ParentAddress: parentAddress,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("failed initialization leaves no child behind", func() {
		s.doses.err = errors.New("boom")
		defer func() { s.doses.err = nil }()

		_, err := s.svc.Register(s.ctx, models.RegisterCommand{
			Name:          "Ravi",
			BirthDate:     time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
			ParentAddress: parentAddress,
		})
		s.Require().Error(err)

		_, err = s.svc.Get(s.ctx, s.doses.last)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ChildServiceSuite) TestGetUnknown() {
	_, err := s.svc.Get(s.ctx, id.ChildID{1})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vaxledger/internal/certificate/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
)

type CertificateStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestCertificateStoreSuite(t *testing.T) {
	suite.Run(t, new(CertificateStoreSuite))
}

func (s *CertificateStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *CertificateStoreSuite) newCert(childID id.ChildID, typ models.Type, issued time.Time) *models.Certificate {
	c, err := models.NewCertificate(id.CertificateID(uuid.New()), childID, typ, 100, issued)
	s.Require().NoError(err)
	return c
}

func (s *CertificateStoreSuite) TestUniquenessPerType() {
	childID := id.ChildID(uuid.New())
	now := time.Now().UTC()

	s.Run("second verifiable certificate of a type conflicts", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newCert(childID, models.TypeCompletion, now.Add(-time.Second))))
		err := s.store.Create(s.ctx, s.newCert(childID, models.TypeCompletion, now))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("progress certificates are not deduplicated", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newCert(childID, models.TypeProgress, now)))
		s.Require().NoError(s.store.Create(s.ctx, s.newCert(childID, models.TypeProgress, now.Add(time.Second))))
		_, err := s.store.FindByChildAndType(s.ctx, childID, models.TypeProgress)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("lists in issue order", func() {
		list, err := s.store.ListByChild(s.ctx, childID)
		s.Require().NoError(err)
		s.Len(list, 3)
		s.Equal(models.TypeCompletion, list[0].Type)
	})
}

func (s *CertificateStoreSuite) TestAdvance() {
	c := s.newCert(id.ChildID(uuid.New()), models.TypeSchoolReadiness, time.Now().UTC())
	s.Require().NoError(s.store.Create(s.ctx, c))

	s.Run("moves forward", func() {
		c.ContentHash = "abc"
		s.Require().NoError(c.Promote(models.StatusUploaded, time.Now()))
		s.Require().NoError(s.store.Advance(s.ctx, c))

		found, err := s.store.FindByChildAndType(s.ctx, c.ChildID, models.TypeSchoolReadiness)
		s.Require().NoError(err)
		s.Equal(models.StatusUploaded, found.Status)
		s.Equal("abc", found.ContentHash)
	})

	s.Run("rejects a stale write", func() {
		stale := *c
		stale.Status = models.StatusGenerated
		s.ErrorIs(s.store.Advance(s.ctx, &stale), sentinel.ErrInvalidState)
		s.ErrorIs(s.store.Advance(s.ctx, c), sentinel.ErrInvalidState)
	})

	s.Run("unknown certificate", func() {
		other := s.newCert(c.ChildID, models.TypeCompletion, time.Now())
		other.Status = models.StatusUploaded
		s.ErrorIs(s.store.Advance(s.ctx, other), sentinel.ErrNotFound)
	})

	s.Run("returned records are copies", func() {
		found, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		found.ContentHash = "mutated"
		again, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal("abc", again.ContentHash)
	})
}

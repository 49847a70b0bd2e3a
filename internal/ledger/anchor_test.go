package ledger_test

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"vaxledger/internal/ledger"
	"vaxledger/internal/ledger/mocks"
	dErrors "vaxledger/pkg/domain-errors"
	"vaxledger/pkg/platform/circuit"
)

type AnchorSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	client *mocks.MockClient
	anchor *ledger.Anchor
	ctx    context.Context
}

func TestAnchorSuite(t *testing.T) {
	suite.Run(t, new(AnchorSuite))
}

func (s *AnchorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.client = mocks.NewMockClient(s.ctrl)
	s.anchor = ledger.NewAnchor(s.client, ledger.WithTimeout(50*time.Millisecond))
	s.ctx = context.Background()
}

func (s *AnchorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func eventRecord() ledger.EventRecord {
	return ledger.EventRecord{
		EventID:          "e-1",
		ChildID:          "c-1",
		VaccineName:      "BCG",
		DoseNumber:       1,
		DateAdministered: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		FacilityID:       "PHC Pune",
		BatchID:          "B-77",
	}
}

func (s *AnchorSuite) TestAnchorEvent() {
	s.Run("builds the record request with a keccak content hash", func() {
		rec := eventRecord()
		wantHash, err := ledger.ContentHash(rec)
		s.Require().NoError(err)

		s.client.EXPECT().RecordEvent(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req ledger.RecordRequest) (ledger.Receipt, error) {
				s.Equal("c-1", req.ChildID)
				s.Equal("BCG", req.VaccineName)
				s.Equal(rec.DateAdministered.Unix(), req.Timestamp)
				s.Equal(wantHash, req.ContentHash)
				s.Len(req.ContentHash, 66)
				return ledger.Receipt{TxHash: "0xabc", BlockNumber: 7}, nil
			})

		receipt, err := s.anchor.AnchorEvent(s.ctx, rec)
		s.Require().NoError(err)
		s.Equal(uint64(7), receipt.BlockNumber)
	})

	s.Run("timeout surfaces as unavailable", func() {
		s.client.EXPECT().RecordEvent(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ ledger.RecordRequest) (ledger.Receipt, error) {
				<-ctx.Done()
				return ledger.Receipt{}, ctx.Err()
			})

		_, err := s.anchor.AnchorEvent(s.ctx, eventRecord())
		s.True(ledger.IsUnavailable(err))
		s.True(dErrors.HasCode(ledger.DomainError(err), dErrors.CodeLedgerUnavailable))
	})

	s.Run("rejection keeps its kind", func() {
		s.client.EXPECT().RecordEvent(gomock.Any(), gomock.Any()).
			Return(ledger.Receipt{}, ledger.Rejected("record_event", errors.New("duplicate")))

		_, err := s.anchor.AnchorEvent(s.ctx, eventRecord())
		s.True(ledger.IsRejected(err))
		s.True(dErrors.HasCode(ledger.DomainError(err), dErrors.CodeLedgerRejected))
	})
}

func (s *AnchorSuite) TestBreaker() {
	breaker := circuit.New("ledger", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	anchor := ledger.NewAnchor(s.client, ledger.WithBreaker(breaker))

	s.client.EXPECT().RewardParent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(ledger.Receipt{}, ledger.Unavailable("reward_parent", errors.New("connection refused"))).
		Times(2)

	for range 2 {
		_, err := anchor.RewardParent(s.ctx, "0xabc", "c-1")
		s.True(ledger.IsUnavailable(err))
	}
	s.True(breaker.IsOpen())

	// Open breaker short-circuits without reaching the client.
	_, err := anchor.RewardParent(s.ctx, "0xabc", "c-1")
	s.True(ledger.IsUnavailable(err))
}

func (s *AnchorSuite) TestAbandonedCallsLeaveBreakerClosed() {
	breaker := circuit.New("ledger", circuit.WithFailureThreshold(3), circuit.WithCooldown(time.Hour))
	anchor := ledger.NewAnchor(s.client, ledger.WithBreaker(breaker), ledger.WithTimeout(time.Second))

	s.Run("caller cancelled before the call", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		for range 3 {
			_, err := anchor.RewardParent(ctx, "0xabc", "c-1")
			s.True(ledger.IsUnavailable(err))
			s.ErrorIs(err, context.Canceled)
		}
		s.False(breaker.IsOpen())
	})

	s.Run("caller cancelled mid-call", func() {
		for range 3 {
			ctx, cancel := context.WithCancel(s.ctx)
			s.client.EXPECT().RewardParent(gomock.Any(), gomock.Any(), gomock.Any()).
				DoAndReturn(func(callCtx context.Context, _, _ string) (ledger.Receipt, error) {
					cancel()
					<-callCtx.Done()
					return ledger.Receipt{}, ledger.Unavailable("reward_parent", callCtx.Err())
				})
			_, err := anchor.RewardParent(ctx, "0xabc", "c-1")
			s.True(ledger.IsUnavailable(err))
		}
		s.False(breaker.IsOpen())
	})

	s.Run("live caller still reaches a healthy ledger", func() {
		s.client.EXPECT().RecordEvent(gomock.Any(), gomock.Any()).
			Return(ledger.Receipt{TxHash: "0x01", BlockNumber: 1}, nil)

		receipt, err := anchor.AnchorEvent(s.ctx, eventRecord())
		s.Require().NoError(err)
		s.Equal("0x01", receipt.TxHash)
	})
}

func (s *AnchorSuite) TestOwnDeadlineCountsAsFailure() {
	breaker := circuit.New("ledger", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	anchor := ledger.NewAnchor(s.client, ledger.WithBreaker(breaker), ledger.WithTimeout(20*time.Millisecond))

	s.client.EXPECT().RewardParent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _ string) (ledger.Receipt, error) {
			<-ctx.Done()
			return ledger.Receipt{}, ctx.Err()
		}).
		Times(2)

	for range 2 {
		_, err := anchor.RewardParent(s.ctx, "0xabc", "c-1")
		s.True(ledger.IsUnavailable(err))
	}
	s.True(breaker.IsOpen())
}

func (s *AnchorSuite) TestLookupCertificate() {
	s.Run("found", func() {
		s.client.EXPECT().FindRecord(gomock.Any(), "0xcert").
			Return(ledger.Receipt{TxHash: "0x09", BlockNumber: 4}, true, nil)

		receipt, ok, err := s.anchor.LookupCertificate(s.ctx, "0xcert")
		s.Require().NoError(err)
		s.True(ok)
		s.Equal(uint64(4), receipt.BlockNumber)
	})

	s.Run("missing", func() {
		s.client.EXPECT().FindRecord(gomock.Any(), "0xnone").Return(ledger.Receipt{}, false, nil)

		_, ok, err := s.anchor.LookupCertificate(s.ctx, "0xnone")
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("transport failure", func() {
		s.client.EXPECT().FindRecord(gomock.Any(), gomock.Any()).
			Return(ledger.Receipt{}, false, ledger.Unavailable("find_record", errors.New("connection refused")))

		_, ok, err := s.anchor.LookupCertificate(s.ctx, "0xcert")
		s.False(ok)
		s.True(ledger.IsUnavailable(err))
	})
}

func (s *AnchorSuite) TestDisabled() {
	anchor := ledger.NewAnchor(nil)
	s.False(anchor.Enabled())

	_, err := anchor.AnchorCertificate(s.ctx, ledger.CertificateRecord{ChildID: "c-1", Type: "completion"})
	s.True(ledger.IsUnavailable(err))
}

func TestDomainError(t *testing.T) {
	suite.Run(t, new(domainErrorSuite))
}

type domainErrorSuite struct {
	suite.Suite
}

func (s *domainErrorSuite) TestMapping() {
	s.Nil(ledger.DomainError(nil))
	s.True(dErrors.HasCode(ledger.DomainError(ledger.AlreadyRewarded("reward_parent")), dErrors.CodeDuplicate))
	s.True(dErrors.HasCode(ledger.DomainError(errors.New("eof")), dErrors.CodeLedgerUnavailable))
}

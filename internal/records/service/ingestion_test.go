package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/mock/gomock"

	childstore "vaxledger/internal/child/store"
	"vaxledger/internal/ledger"
	"vaxledger/internal/ledger/chain"
	"vaxledger/internal/ledger/mocks"
	"vaxledger/internal/records/models"
	"vaxledger/internal/records/store/dosestatus"
	"vaxledger/internal/records/store/event"
	"vaxledger/internal/schedule"
	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
	"vaxledger/pkg/platform/audit"
	"vaxledger/pkg/platform/audit/publisher"
	auditmemory "vaxledger/pkg/platform/audit/store/memory"
)

// =============================================================================
// Ingestion Service Test Suite
// =============================================================================
// Event persistence is the durability boundary: schedule, ledger and dose
// status failures must come back as warnings on a successful submission.

type IngestionSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	children *childstore.InMemory
	doses    *DoseService
	events   *event.InMemory
	audits   *auditmemory.InMemoryStore
	childID  id.ChildID
}

func TestIngestionSuite(t *testing.T) {
	suite.Run(t, new(IngestionSuite))
}

func (s *IngestionSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.children = childstore.NewInMemory()
	s.events = event.NewInMemory()
	s.audits = auditmemory.NewInMemoryStore()
	s.doses = NewDoseService(dosestatus.NewInMemory(), testCatalog(s.T()), s.children)

	ctx := at(birth)
	s.childID = registerChild(ctx, s.children)
	_, err := s.doses.InitializeForChild(ctx, s.childID, birth)
	s.Require().NoError(err)
}

func (s *IngestionSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *IngestionSuite) newService(opts ...Option) *IngestionService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{
		WithLogger(logger),
		WithAuditPublisher(publisher.NewPublisher(s.audits)),
	}, opts...)
	return NewIngestionService(s.events, s.doses, s.children, testCatalog(s.T()), opts...)
}

func (s *IngestionSuite) chainAnchor() *ledger.Anchor {
	node, err := chain.OpenStorage(storage.NewMemStorage())
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = node.Close() })
	return ledger.NewAnchor(node)
}

func (s *IngestionSuite) submitCommand(vaccine string, dose int, given time.Time) models.SubmitCommand {
	return models.SubmitCommand{
		ChildID:          s.childID,
		VaccineName:      vaccine,
		DoseNumber:       dose,
		DateAdministered: given,
		AdministeredBy:   "Dr. Rao",
		Location:         "PHC Pune",
		BatchNumber:      "B-12",
	}
}

func (s *IngestionSuite) doseState(ctx context.Context, vaccine string, dose int) models.DoseState {
	statuses, err := s.doses.ListForChild(ctx, s.childID)
	s.Require().NoError(err)
	for _, d := range statuses {
		if d.Key() == schedule.KeyOf(vaccine, dose) {
			return d.Status
		}
	}
	return ""
}

// Scenario A: a dose given on schedule completes its status and is anchored.
func (s *IngestionSuite) TestSubmitAnchorsAndCompletes() {
	svc := s.newService(WithAnchor(s.chainAnchor()))
	given := birth.AddDate(0, 2, 0)
	ctx := at(given.Add(2 * time.Hour))

	result, err := svc.Submit(ctx, s.submitCommand("OPV", 1, given))
	s.Require().NoError(err)
	s.Empty(result.Warnings)
	s.Equal(schedule.Bucket6Weeks, result.Event.AgeBucketLabel)
	s.True(result.Event.IsLedgerAnchored())
	s.Equal(models.DoseCompleted, s.doseState(ctx, "OPV", 1))

	stored, err := s.events.FindByID(ctx, result.Event.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.LedgerRef)
	s.Equal(result.Event.LedgerRef.TxHash, stored.LedgerRef.TxHash)

	s.Require().NoError(svc.Drain(context.Background()))
	events, err := s.audits.ListByChild(ctx, s.childID)
	s.Require().NoError(err)
	var actions []string
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	s.Contains(actions, string(audit.EventImmunizationRecorded))
	s.Contains(actions, string(audit.EventEventAnchored))
}

// Scenario D: ledger unavailable still records the event.
func (s *IngestionSuite) TestLedgerUnavailable() {
	client := mocks.NewMockClient(s.ctrl)
	client.EXPECT().RecordEvent(gomock.Any(), gomock.Any()).
		Return(ledger.Receipt{}, ledger.Unavailable("record_event", errors.New("connection refused")))
	svc := s.newService(WithAnchor(ledger.NewAnchor(client)))

	ctx := at(birth.AddDate(0, 2, 1))
	result, err := svc.Submit(ctx, s.submitCommand("OPV", 1, birth.AddDate(0, 2, 0)))
	s.Require().NoError(err)
	s.False(result.Event.IsLedgerAnchored())
	s.Contains(result.Warnings, "ledger anchoring failed: ledger unavailable")

	stored, err := s.events.FindByID(ctx, result.Event.ID)
	s.Require().NoError(err)
	s.Nil(stored.LedgerRef)
	s.Equal(models.DoseCompleted, s.doseState(ctx, "OPV", 1))
}

func (s *IngestionSuite) TestCallerGivesUpBeforeAnchor() {
	release := make(chan struct{})
	client := mocks.NewMockClient(s.ctrl)
	client.EXPECT().RecordEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, ledger.RecordRequest) (ledger.Receipt, error) {
			<-release
			return ledger.Receipt{TxHash: "0xfeed", BlockNumber: 9}, nil
		})
	svc := s.newService(WithAnchor(ledger.NewAnchor(client, ledger.WithTimeout(time.Minute))))

	ctx, cancel := context.WithCancel(at(birth.AddDate(0, 2, 1)))
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	result, err := svc.Submit(ctx, s.submitCommand("OPV", 1, birth.AddDate(0, 2, 0)))
	s.Require().NoError(err)
	s.False(result.Event.IsLedgerAnchored())
	s.Contains(result.Warnings, "ledger anchoring still in progress")

	close(release)
	s.Require().NoError(svc.Drain(context.Background()))

	stored, err := s.events.FindByID(context.Background(), result.Event.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.LedgerRef, "detached anchor lands after the caller left")
	s.Equal("0xfeed", stored.LedgerRef.TxHash)
}

func (s *IngestionSuite) TestWarnings() {
	svc := s.newService()
	ctx := at(birth.AddDate(1, 0, 0))

	s.Run("disabled ledger", func() {
		result, err := svc.Submit(ctx, s.submitCommand("BCG", 1, birth))
		s.Require().NoError(err)
		s.Equal([]string{"ledger anchoring disabled"}, result.Warnings)
	})

	s.Run("vaccine outside the schedule", func() {
		result, err := svc.Submit(ctx, s.submitCommand("Rabies", 1, birth.AddDate(0, 11, 0)))
		s.Require().NoError(err)
		s.Contains(result.Warnings, "Rabies dose 1 is not in the schedule")
		s.Contains(result.Warnings, "no dose status for Rabies dose 1; dose status not updated")
		s.Empty(result.Event.AgeBucketLabel)
	})
}

func (s *IngestionSuite) TestValidation() {
	svc := s.newService()
	ctx := at(birth.AddDate(0, 6, 0))

	s.Run("lists every missing field", func() {
		_, err := svc.Submit(ctx, models.SubmitCommand{ChildID: s.childID, VaccineName: "  "})
		s.Require().True(dErrors.HasCode(err, dErrors.CodeValidation))
		msg := dErrors.MessageOf(err)
		for _, field := range []string{"vaccine_name", "dose_number", "date_administered", "administered_by", "location"} {
			s.Contains(msg, field)
		}
	})

	s.Run("future date rejected", func() {
		_, err := svc.Submit(ctx, s.submitCommand("OPV", 1, birth.AddDate(0, 7, 0)))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("date before birth rejected", func() {
		_, err := svc.Submit(ctx, s.submitCommand("BCG", 1, birth.AddDate(0, 0, -1)))
		s.Require().True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(dErrors.MessageOf(err), "birth date")
		s.NotEqual(models.DoseCompleted, s.doseState(ctx, "BCG", 1))
	})

	s.Run("unknown child is not found", func() {
		cmd := s.submitCommand("OPV", 1, birth.AddDate(0, 2, 0))
		cmd.ChildID = id.ChildID(uuid.New())
		_, err := svc.Submit(ctx, cmd)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	events, err := svc.History(ctx, s.childID)
	s.Require().NoError(err)
	s.Empty(events, "rejected submissions persist nothing")
}

func (s *IngestionSuite) TestHistoryOrder() {
	svc := s.newService()
	ctx := at(birth.AddDate(1, 0, 0))
	_, err := svc.Submit(ctx, s.submitCommand("OPV", 2, birth.AddDate(0, 4, 0)))
	s.Require().NoError(err)
	_, err = svc.Submit(ctx, s.submitCommand("BCG", 1, birth))
	s.Require().NoError(err)

	events, err := svc.History(ctx, s.childID)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal("BCG", events[0].VaccineName)
	s.Equal("OPV", events[1].VaccineName)
}

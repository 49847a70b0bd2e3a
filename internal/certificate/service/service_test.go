package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/mock/gomock"

	"vaxledger/internal/certificate/cache"
	"vaxledger/internal/certificate/content"
	"vaxledger/internal/certificate/models"
	"vaxledger/internal/certificate/render"
	"vaxledger/internal/certificate/service/mocks"
	certstore "vaxledger/internal/certificate/store"
	childmodels "vaxledger/internal/child/models"
	childstore "vaxledger/internal/child/store"
	"vaxledger/internal/eligibility"
	"vaxledger/internal/ledger"
	"vaxledger/internal/ledger/chain"
	ledgermocks "vaxledger/internal/ledger/mocks"
	recordmodels "vaxledger/internal/records/models"
	"vaxledger/internal/records/store/dosestatus"
	"vaxledger/internal/records/store/event"
	"vaxledger/internal/schedule"
	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
	"vaxledger/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Renderer,ContentStore

var birth = time.Date(2018, 1, 10, 0, 0, 0, 0, time.UTC)

type countingRenderer struct {
	inner *render.Renderer
	calls atomic.Int32
}

func (r *countingRenderer) Render(ctx context.Context, templateID string, f models.Fields) ([]byte, error) {
	r.calls.Add(1)
	return r.inner.Render(ctx, templateID, f)
}

// flakyAdvance fails the first promotion to failOn.
type flakyAdvance struct {
	*certstore.InMemory
	failOn models.Status
	failed atomic.Bool
}

func (f *flakyAdvance) Advance(ctx context.Context, c *models.Certificate) error {
	if c.Status == f.failOn && f.failed.CompareAndSwap(false, true) {
		return context.DeadlineExceeded
	}
	return f.InMemory.Advance(ctx, c)
}

type CertificateServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	children *childstore.InMemory
	events   *event.InMemory
	certs    *certstore.InMemory
	content  *content.InMemory
	renderer *countingRenderer
	engine   *eligibility.Engine
	childID  id.ChildID
}

func TestCertificateServiceSuite(t *testing.T) {
	suite.Run(t, new(CertificateServiceSuite))
}

func (s *CertificateServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	catalog, err := schedule.NewCatalog([]schedule.Entry{
		{VaccineName: "BCG", DoseNumber: 1, TotalDoses: 1, AgeBucketLabel: schedule.BucketBirth, AgeInMonths: 0, Required: true},
		{VaccineName: "MMR", DoseNumber: 1, TotalDoses: 1, AgeBucketLabel: schedule.Bucket9Months, AgeInMonths: 9, Required: true},
		{VaccineName: "DTaP", DoseNumber: 5, TotalDoses: 5, AgeBucketLabel: schedule.Bucket4To6Years, AgeInMonths: 60, Required: true},
		{VaccineName: "Td", DoseNumber: 1, TotalDoses: 1, AgeBucketLabel: schedule.Bucket10Years, AgeInMonths: 120, Required: true},
	})
	s.Require().NoError(err)

	s.children = childstore.NewInMemory()
	s.events = event.NewInMemory()
	s.certs = certstore.NewInMemory()
	s.content = content.NewInMemory()
	inner, err := render.New()
	s.Require().NoError(err)
	s.renderer = &countingRenderer{inner: inner}
	s.engine = eligibility.NewEngine(s.children, dosestatus.NewInMemory(), s.events, catalog)

	child := &childmodels.Child{
		ID:            id.ChildID(uuid.New()),
		Name:          "Asha",
		BirthDate:     birth,
		ParentAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
	}
	s.Require().NoError(s.children.Create(context.Background(), child))
	s.childID = child.ID
}

func (s *CertificateServiceSuite) newService(opts ...Option) *Service {
	return New(s.certs, s.children, s.engine, s.renderer, s.content, opts...)
}

// atAge pins the request clock to the child's age in months.
func (s *CertificateServiceSuite) atAge(months int) context.Context {
	return requestcontext.WithTime(context.Background(), eligibility.ScheduledDate(birth, months))
}

func (s *CertificateServiceSuite) record(vaccine string, dose, month int) {
	given := eligibility.ScheduledDate(birth, month)
	s.Require().NoError(s.events.Create(context.Background(), &recordmodels.ImmunizationEvent{
		ID:               id.EventID(uuid.New()),
		ChildID:          s.childID,
		VaccineName:      vaccine,
		DoseNumber:       dose,
		DateAdministered: given,
		AdministeredBy:   "Dr. Rao",
		Location:         "Clinic 4",
		RecordedAt:       given,
	}))
}

func (s *CertificateServiceSuite) completeSchoolSchedule() {
	s.record("BCG", 1, 0)
	s.record("MMR", 1, 9)
	s.record("DTaP", 5, 60)
}

func (s *CertificateServiceSuite) chainAnchor() (*ledger.Anchor, *chain.Node) {
	node, err := chain.OpenStorage(storage.NewMemStorage())
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = node.Close() })
	return ledger.NewAnchor(node), node
}

func (s *CertificateServiceSuite) TestIssueIsIdempotent() {
	s.completeSchoolSchedule()
	svc := s.newService()
	ctx := s.atAge(74)

	first, err := svc.Issue(ctx, s.childID, models.TypeSchoolReadiness)
	s.Require().NoError(err)
	s.True(first.Eligible)
	s.False(first.Duplicate)
	s.NotEmpty(first.Artifact)
	s.Equal(models.StatusUploaded, first.Record.Status)
	s.Equal(content.Hash(first.Artifact), first.Record.ContentHash)

	second, err := svc.Issue(ctx, s.childID, models.TypeSchoolReadiness)
	s.Require().NoError(err)
	s.True(second.Duplicate)
	s.Equal(first.Record.ID, second.Record.ID)
	s.Equal(first.Record.ContentHash, second.Record.ContentHash)
	s.Equal(first.Record.ContentURI, second.Record.ContentURI)
	s.Nil(second.Artifact)

	s.Equal(int32(1), s.renderer.calls.Load())
	s.Equal(1, s.content.Uploads())
}

func (s *CertificateServiceSuite) TestConcurrentIssueSharesOneRecord() {
	s.completeSchoolSchedule()
	svc := s.newService()
	ctx := s.atAge(74)

	const callers = 8
	ids := make([]id.CertificateID, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Issue(ctx, s.childID, models.TypeSchoolReadiness)
			if err == nil && res.Record != nil {
				ids[i] = res.Record.ID
			}
		}()
	}
	wg.Wait()

	for _, got := range ids {
		s.Equal(ids[0], got)
	}
	s.Equal(1, s.content.Uploads())
	list, err := svc.ListForChild(ctx, s.childID)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *CertificateServiceSuite) TestIneligible() {
	svc := s.newService()

	s.Run("completion at 100 months cites the age cutoff", func() {
		s.completeSchoolSchedule()
		res, err := svc.Issue(s.atAge(100), s.childID, models.TypeCompletion)
		s.Require().NoError(err)
		s.False(res.Eligible)
		s.Contains(res.Reason, "216 months")
		s.Nil(res.Record)

		list, err := svc.ListForChild(s.atAge(100), s.childID)
		s.Require().NoError(err)
		s.Empty(list)
		s.Equal(0, s.content.Uploads())
	})

	s.Run("unknown child", func() {
		_, err := svc.Issue(s.atAge(100), id.ChildID(uuid.New()), models.TypeCompletion)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *CertificateServiceSuite) TestProgress() {
	svc := s.newService(WithProgressCache(cache.NewInMemory()))
	ctx := s.atAge(12)

	s.Run("requires at least one completed dose", func() {
		res, err := svc.Issue(ctx, s.childID, models.TypeProgress)
		s.Require().NoError(err)
		s.False(res.Eligible)
		s.NotEmpty(res.Reason)
	})

	s.Run("renders inline without upload", func() {
		s.record("BCG", 1, 0)
		res, err := svc.Issue(ctx, s.childID, models.TypeProgress)
		s.Require().NoError(err)
		s.True(res.Eligible)
		s.NotEmpty(res.Artifact)
		s.Equal(models.StatusGenerated, res.Record.Status)
		s.Equal(25, res.Record.CompletionRate)
		s.Empty(res.Record.ContentURI)
		s.Equal(0, s.content.Uploads())
	})

	s.Run("cache serves the same completion count", func() {
		before := s.renderer.calls.Load()
		res, err := svc.Issue(ctx, s.childID, models.TypeProgress)
		s.Require().NoError(err)
		s.Equal(before, s.renderer.calls.Load())

		art, err := svc.Artifact(ctx, res.Record.ID)
		s.Require().NoError(err)
		s.Equal(res.Artifact, art)
	})

	s.Run("a new day renders a fresh artifact", func() {
		before := s.renderer.calls.Load()
		res, err := svc.Issue(s.atAge(13), s.childID, models.TypeProgress)
		s.Require().NoError(err)
		s.Equal(before+1, s.renderer.calls.Load())
		s.Equal(content.Hash(res.Artifact), res.Record.ContentHash)
	})

	s.Run("progress cannot be anchored or verified", func() {
		list, err := svc.ListForChild(ctx, s.childID)
		s.Require().NoError(err)
		s.Require().NotEmpty(list)
		_, err = svc.Anchor(ctx, list[0].ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = svc.Verify(ctx, list[0].ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *CertificateServiceSuite) TestUploadFailureIsResumed() {
	s.completeSchoolSchedule()
	store := mocks.NewMockContentStore(s.ctrl)
	svc := New(s.certs, s.children, s.engine, s.renderer, store)
	ctx := s.atAge(74)

	gomock.InOrder(
		store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(content.Object{}, errors.New("bucket unreachable")),
		store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, data []byte, _ map[string]string) (content.Object, error) {
				return content.Object{ContentHash: content.Hash(data), URI: "gs://certs/x.png"}, nil
			}),
	)

	_, err := svc.Issue(ctx, s.childID, models.TypeSchoolReadiness)
	s.Require().Error(err)
	reserved, err := s.certs.FindByChildAndType(ctx, s.childID, models.TypeSchoolReadiness)
	s.Require().NoError(err)
	s.Equal(models.StatusGenerated, reserved.Status)

	res, err := svc.Issue(ctx, s.childID, models.TypeSchoolReadiness)
	s.Require().NoError(err)
	s.False(res.Duplicate)
	s.Equal(reserved.ID, res.Record.ID)
	s.Equal(models.StatusUploaded, res.Record.Status)
	s.Equal("gs://certs/x.png", res.Record.ContentURI)
}

func (s *CertificateServiceSuite) TestRenderFailure() {
	s.completeSchoolSchedule()
	renderer := mocks.NewMockRenderer(s.ctrl)
	renderer.EXPECT().Render(gomock.Any(), "completion-v1", gomock.Any()).
		Return(nil, errors.New("font missing"))
	svc := New(s.certs, s.children, s.engine, renderer, s.content)

	s.record("Td", 1, 120)
	_, err := svc.Issue(s.atAge(216), s.childID, models.TypeCompletion)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(0, s.content.Uploads())
}

func (s *CertificateServiceSuite) TestAnchorAndVerify() {
	s.completeSchoolSchedule()
	ctx := s.atAge(74)

	issued, err := s.newService().Issue(ctx, s.childID, models.TypeSchoolReadiness)
	s.Require().NoError(err)
	certID := issued.Record.ID

	s.Run("anchoring disabled", func() {
		_, err := s.newService().Anchor(ctx, certID)
		s.True(dErrors.HasCode(err, dErrors.CodeLedgerUnavailable))
	})

	s.Run("verification requires an anchor", func() {
		res, err := s.newService().Verify(ctx, certID)
		s.Require().NoError(err)
		s.False(res.Verified)
		s.Contains(res.Reason, "anchored")
	})

	anchor, node := s.chainAnchor()
	svc := s.newService(WithAnchor(anchor))

	s.Run("anchors once", func() {
		cert, err := svc.Anchor(ctx, certID)
		s.Require().NoError(err)
		s.Equal(models.StatusAnchored, cert.Status)
		s.Require().NotNil(cert.LedgerRef)
		height := node.Height()

		again, err := svc.Anchor(ctx, certID)
		s.Require().NoError(err)
		s.Equal(cert.LedgerRef.TxHash, again.LedgerRef.TxHash)
		s.Equal(height, node.Height())
	})

	s.Run("verifies matching content", func() {
		res, err := svc.Verify(ctx, certID)
		s.Require().NoError(err)
		s.True(res.Verified)
		s.Equal(models.StatusVerified, res.Record.Status)
		s.True(res.Record.Verified)
	})
}

func (s *CertificateServiceSuite) TestVerifyDetectsTampering() {
	s.completeSchoolSchedule()
	ctx := s.atAge(74)
	anchor, _ := s.chainAnchor()
	svc := s.newService(WithAnchor(anchor))

	issued, err := svc.Issue(ctx, s.childID, models.TypeSchoolReadiness)
	s.Require().NoError(err)
	_, err = svc.Anchor(ctx, issued.Record.ID)
	s.Require().NoError(err)

	s.content.Corrupt(issued.Record.ContentHash, []byte("not the certificate"))
	res, err := svc.Verify(ctx, issued.Record.ID)
	s.Require().NoError(err)
	s.False(res.Verified)
	s.Equal("content hash mismatch", res.Reason)
	s.Equal(models.StatusAnchored, res.Record.Status)
}

func (s *CertificateServiceSuite) TestAnchorRetryAfterLocalWriteFailure() {
	s.completeSchoolSchedule()
	ctx := s.atAge(74)
	store := &flakyAdvance{InMemory: s.certs, failOn: models.StatusAnchored}
	anchor, node := s.chainAnchor()
	svc := New(store, s.children, s.engine, s.renderer, s.content, WithAnchor(anchor))

	issued, err := svc.Issue(ctx, s.childID, models.TypeSchoolReadiness)
	s.Require().NoError(err)

	_, err = svc.Anchor(ctx, issued.Record.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	height := node.Height()

	cert, err := svc.Anchor(ctx, issued.Record.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusAnchored, cert.Status)
	s.Require().NotNil(cert.LedgerRef)
	s.Equal(height, node.Height(), "the retry reuses the first ledger write")

	res, err := svc.Verify(ctx, issued.Record.ID)
	s.Require().NoError(err)
	s.True(res.Verified)
}

func (s *CertificateServiceSuite) TestVerifyChecksLedger() {
	s.completeSchoolSchedule()
	ctx := s.atAge(74)

	anchored := func(svc *Service) id.CertificateID {
		issued, err := svc.Issue(ctx, s.childID, models.TypeSchoolReadiness)
		s.Require().NoError(err)
		cert, err := svc.Anchor(ctx, issued.Record.ID)
		s.Require().NoError(err)
		return cert.ID
	}

	s.Run("hash absent from the ledger", func() {
		anchor, _ := s.chainAnchor()
		certID := anchored(s.newService(WithAnchor(anchor)))

		other, _ := s.chainAnchor()
		res, err := s.newService(WithAnchor(other)).Verify(ctx, certID)
		s.Require().NoError(err)
		s.False(res.Verified)
		s.Equal("content hash not found on the ledger", res.Reason)
		s.Equal(models.StatusAnchored, res.Record.Status)
	})

	s.Run("ledger transaction differs from the recorded one", func() {
		client := ledgermocks.NewMockClient(s.ctrl)
		client.EXPECT().FindRecord(gomock.Any(), gomock.Any()).
			Return(ledger.Receipt{TxHash: "0xforged", BlockNumber: 99}, true, nil)

		list, err := s.certs.ListByChild(ctx, s.childID)
		s.Require().NoError(err)
		s.Require().NotEmpty(list)
		res, err := s.newService(WithAnchor(ledger.NewAnchor(client))).Verify(ctx, list[0].ID)
		s.Require().NoError(err)
		s.False(res.Verified)
		s.Contains(res.Reason, "does not match")
	})

	s.Run("lookup failure surfaces as ledger unavailable", func() {
		client := ledgermocks.NewMockClient(s.ctrl)
		client.EXPECT().FindRecord(gomock.Any(), gomock.Any()).
			Return(ledger.Receipt{}, false, ledger.Unavailable("find_record", errors.New("connection refused")))

		list, err := s.certs.ListByChild(ctx, s.childID)
		s.Require().NoError(err)
		_, err = s.newService(WithAnchor(ledger.NewAnchor(client))).Verify(ctx, list[0].ID)
		s.True(dErrors.HasCode(err, dErrors.CodeLedgerUnavailable))
	})
}

func (s *CertificateServiceSuite) TestGet() {
	_, err := s.newService().Get(context.Background(), id.CertificateID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

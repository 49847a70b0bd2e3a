package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	childmodels "vaxledger/internal/child/models"
	"vaxledger/internal/eligibility"
	"vaxledger/internal/records/metrics"
	"vaxledger/internal/records/models"
	"vaxledger/internal/schedule"
	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
	"vaxledger/pkg/platform/sentinel"
	"vaxledger/pkg/requestcontext"
)

type DoseStore interface {
	InsertAll(ctx context.Context, childID id.ChildID, statuses []models.DoseStatus) error
	ListByChild(ctx context.Context, childID id.ChildID) ([]models.DoseStatus, error)
	MarkCompleted(ctx context.Context, childID id.ChildID, vaccineName string, doseNumber int, completedDate time.Time) (bool, error)
}

// ChildLookup loads the child a record belongs to. Returns sentinel.ErrNotFound.
type ChildLookup interface {
	FindByID(ctx context.Context, childID id.ChildID) (*childmodels.Child, error)
}

// Catalog is the part of the schedule catalog the records services read.
type Catalog interface {
	Entries() ([]schedule.Entry, error)
	Lookup(ctx context.Context, vaccineName string, doseNumber int) (schedule.Entry, error)
}

// DoseService owns dose status initialization, completion and the lazy
// overdue classification applied on read.
type DoseService struct {
	store    DoseStore
	catalog  Catalog
	children ChildLookup
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type DoseOption func(*DoseService)

func WithDoseLogger(logger *slog.Logger) DoseOption {
	return func(s *DoseService) {
		s.logger = logger
	}
}

func WithDoseMetrics(m *metrics.Metrics) DoseOption {
	return func(s *DoseService) {
		s.metrics = m
	}
}

func NewDoseService(store DoseStore, catalog Catalog, children ChildLookup, opts ...DoseOption) *DoseService {
	s := &DoseService{store: store, catalog: catalog, children: children}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// InitializeForChild creates one status per catalog key, classified as of
// the request time. A child can be initialized only once.
func (s *DoseService) InitializeForChild(ctx context.Context, childID id.ChildID, birthDate time.Time) (int, error) {
	entries, err := s.catalog.Entries()
	if err != nil {
		return 0, err
	}
	childAge := eligibility.AgeInMonths(birthDate, requestcontext.Now(ctx))

	statuses := make([]models.DoseStatus, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, models.DoseStatus{
			ChildID:        childID,
			VaccineName:    e.VaccineName,
			DoseNumber:     e.DoseNumber,
			AgeBucketLabel: e.AgeBucketLabel,
			AgeInMonths:    e.AgeInMonths,
			ScheduledDate:  eligibility.ScheduledDate(birthDate, e.AgeInMonths),
			Status:         eligibility.ClassifyDose(childAge, e.AgeInMonths, models.DosePending),
		})
	}

	if err := s.store.InsertAll(ctx, childID, statuses); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return 0, dErrors.New(dErrors.CodeDuplicate, "dose statuses already initialized for child")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to initialize dose statuses")
	}
	s.metrics.AddDosesInitialized(len(statuses))
	return len(statuses), nil
}

// MarkCompleted is idempotent. A key outside the child's set is not_found.
func (s *DoseService) MarkCompleted(ctx context.Context, childID id.ChildID, vaccineName string, doseNumber int, completedDate time.Time) error {
	changed, err := s.store.MarkCompleted(ctx, childID, vaccineName, doseNumber, completedDate)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no dose status for "+eligibility.DoseLabel(vaccineName, doseNumber))
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark dose completed")
	}
	if changed {
		s.metrics.IncrementDosesCompleted()
	}
	return nil
}

// ListForChild returns statuses with pending/overdue re-evaluated at request time.
func (s *DoseService) ListForChild(ctx context.Context, childID id.ChildID) ([]models.DoseStatus, error) {
	child, err := loadChild(ctx, s.children, childID)
	if err != nil {
		return nil, err
	}
	statuses, err := s.store.ListByChild(ctx, childID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list dose statuses")
	}
	return Classify(statuses, child.BirthDate, requestcontext.Now(ctx)), nil
}

func loadChild(ctx context.Context, children ChildLookup, childID id.ChildID) (*childmodels.Child, error) {
	child, err := children.FindByID(ctx, childID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "child not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load child")
	}
	return child, nil
}

// Classify applies the overdue policy to every status as of now.
func Classify(statuses []models.DoseStatus, birthDate, now time.Time) []models.DoseStatus {
	childAge := eligibility.AgeInMonths(birthDate, now)
	out := make([]models.DoseStatus, len(statuses))
	for i, d := range statuses {
		d.Status = eligibility.ClassifyDose(childAge, d.AgeInMonths, d.Status)
		out[i] = d
	}
	return out
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	childmodels "vaxledger/internal/child/models"
	"vaxledger/internal/ledger"
	"vaxledger/internal/records/metrics"
	"vaxledger/internal/records/models"
	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
	"vaxledger/pkg/platform/audit"
	"vaxledger/pkg/requestcontext"
)

const (
	defaultScheduleTimeout = 2 * time.Second
	defaultStoreTimeout    = 5 * time.Second
)

type EventStore interface {
	Create(ctx context.Context, event *models.ImmunizationEvent) error
	AttachLedgerRef(ctx context.Context, eventID id.EventID, ref models.LedgerRef) error
	ListByChild(ctx context.Context, childID id.ChildID) ([]models.ImmunizationEvent, error)
}

type DoseCompleter interface {
	MarkCompleted(ctx context.Context, childID id.ChildID, vaccineName string, doseNumber int, completedDate time.Time) error
}

type EventAnchor interface {
	Enabled() bool
	AnchorEvent(ctx context.Context, rec ledger.EventRecord) (ledger.Receipt, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// IngestionService records immunization events. Persisting the event is the
// only step that can fail a submission; later steps degrade to warnings.
type IngestionService struct {
	events   EventStore
	doses    DoseCompleter
	children ChildLookup
	catalog  Catalog
	anchor   EventAnchor

	scheduleTimeout time.Duration
	storeTimeout    time.Duration

	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher

	// inflight tracks detached anchoring goroutines for Drain.
	inflight sync.WaitGroup
}

type Option func(*IngestionService)

func WithLogger(logger *slog.Logger) Option {
	return func(s *IngestionService) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *IngestionService) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *IngestionService) {
		s.auditPublisher = publisher
	}
}

// WithAnchor enables ledger anchoring. Without it every submission carries a
// "ledger anchoring disabled" warning.
func WithAnchor(anchor EventAnchor) Option {
	return func(s *IngestionService) {
		s.anchor = anchor
	}
}

func WithScheduleTimeout(d time.Duration) Option {
	return func(s *IngestionService) {
		if d > 0 {
			s.scheduleTimeout = d
		}
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *IngestionService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func NewIngestionService(events EventStore, doses DoseCompleter, children ChildLookup, catalog Catalog, opts ...Option) *IngestionService {
	s := &IngestionService{
		events:          events,
		doses:           doses,
		children:        children,
		catalog:         catalog,
		scheduleTimeout: defaultScheduleTimeout,
		storeTimeout:    defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

type anchorResult struct {
	ref models.LedgerRef
	err error
}

// Submit validates and persists the event, then anchors it and marks the dose
// completed. Anchoring runs detached from ctx; if ctx ends first the event is
// returned unanchored and the ledger ref is attached when the anchor lands.
func (s *IngestionService) Submit(ctx context.Context, cmd models.SubmitCommand) (*models.SubmitResult, error) {
	defer s.metrics.ObserveSubmit(time.Now())
	now := requestcontext.Now(ctx)
	requestID := requestcontext.RequestID(ctx)

	cmd = normalizeSubmit(cmd)
	if err := validateSubmit(cmd, now); err != nil {
		return nil, err
	}
	child, err := loadChild(ctx, s.children, cmd.ChildID)
	if err != nil {
		return nil, err
	}
	if cmd.DateAdministered.Before(childmodels.DateOnly(child.BirthDate)) {
		return nil, dErrors.New(dErrors.CodeValidation, "date_administered must not be before the child's birth date")
	}

	event := &models.ImmunizationEvent{
		ID:               id.EventID(uuid.New()),
		ChildID:          cmd.ChildID,
		VaccineName:      cmd.VaccineName,
		DoseNumber:       cmd.DoseNumber,
		DateAdministered: cmd.DateAdministered,
		AdministeredBy:   cmd.AdministeredBy,
		Location:         cmd.Location,
		BatchNumber:      cmd.BatchNumber,
		ExpiryDate:       cmd.ExpiryDate,
		RecordedAt:       now,
	}
	result := &models.SubmitResult{Event: event}
	warn := func(step, msg string, err error) {
		s.metrics.IncrementWarning(step)
		s.logger.WarnContext(ctx, msg,
			"request_id", requestID,
			"child_id", event.ChildID,
			"event_id", event.ID,
			"step", step,
			"error", err,
		)
		result.Warnings = append(result.Warnings, msg)
	}

	if label, err := s.lookupBucket(ctx, cmd); err != nil {
		warn("schedule_lookup", scheduleWarning(cmd, err), err)
	} else {
		event.AgeBucketLabel = label
	}

	if err := s.events.Create(ctx, event); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist immunization event")
	}
	s.metrics.IncrementEventsRecorded()

	anchored := s.startAnchor(ctx, *event)

	if err := s.doses.MarkCompleted(ctx, event.ChildID, event.VaccineName, event.DoseNumber, event.DateAdministered); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			warn("dose_status", fmt.Sprintf("no dose status for %s dose %d; dose status not updated", event.VaccineName, event.DoseNumber), err)
		} else {
			warn("dose_status", "failed to update dose status", err)
		}
	}

	if anchored == nil {
		warn("ledger", "ledger anchoring disabled", nil)
	} else {
		select {
		case res := <-anchored:
			if res.err != nil {
				warn("ledger", "ledger anchoring failed: "+dErrors.MessageOf(ledger.DomainError(res.err)), res.err)
			} else {
				ref := res.ref
				event.LedgerRef = &ref
			}
		case <-ctx.Done():
			warn("ledger", "ledger anchoring still in progress", ctx.Err())
		}
	}

	s.logger.InfoContext(ctx, "immunization recorded",
		"request_id", requestID,
		"child_id", event.ChildID,
		"event_id", event.ID,
		"vaccine", event.VaccineName,
		"dose", event.DoseNumber,
		"anchored", event.IsLedgerAnchored(),
	)
	s.emitAudit(ctx, audit.Event{
		ChildID: event.ChildID,
		Subject: event.ID.String(),
		Action:  string(audit.EventImmunizationRecorded),
	})
	return result, nil
}

// History lists a child's events ordered by date administered.
func (s *IngestionService) History(ctx context.Context, childID id.ChildID) ([]models.ImmunizationEvent, error) {
	if _, err := loadChild(ctx, s.children, childID); err != nil {
		return nil, err
	}
	events, err := s.events.ListByChild(ctx, childID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list immunization events")
	}
	return events, nil
}

// Drain waits for in-flight anchoring to finish or ctx to end.
func (s *IngestionService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *IngestionService) lookupBucket(ctx context.Context, cmd models.SubmitCommand) (string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.scheduleTimeout)
	defer cancel()
	entry, err := s.catalog.Lookup(lookupCtx, cmd.VaccineName, cmd.DoseNumber)
	if err != nil {
		return "", err
	}
	return entry.AgeBucketLabel, nil
}

func scheduleWarning(cmd models.SubmitCommand, err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound:
		return fmt.Sprintf("%s dose %d is not in the schedule", cmd.VaccineName, cmd.DoseNumber)
	case dErrors.CodeTimeout:
		return "schedule lookup timed out"
	default:
		return "schedule lookup failed"
	}
}

func (s *IngestionService) startAnchor(ctx context.Context, event models.ImmunizationEvent) <-chan anchorResult {
	if s.anchor == nil || !s.anchor.Enabled() {
		return nil
	}
	out := make(chan anchorResult, 1)
	detached := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		out <- s.anchorEvent(detached, event)
	}()
	return out
}

func (s *IngestionService) anchorEvent(ctx context.Context, event models.ImmunizationEvent) anchorResult {
	receipt, err := s.anchor.AnchorEvent(ctx, ledger.EventRecord{
		EventID:          event.ID.String(),
		ChildID:          event.ChildID.String(),
		VaccineName:      event.VaccineName,
		DoseNumber:       event.DoseNumber,
		DateAdministered: event.DateAdministered,
		FacilityID:       event.Location,
		BatchID:          event.BatchNumber,
		Expiry:           event.ExpiryDate,
	})
	if err != nil {
		s.metrics.IncrementAnchorOutcome(string(ledger.KindOf(err)))
		s.logger.WarnContext(ctx, "immunization anchoring failed",
			"child_id", event.ChildID,
			"event_id", event.ID,
			"error", err,
		)
		s.emitAudit(ctx, audit.Event{
			ChildID:  event.ChildID,
			Subject:  event.ID.String(),
			Action:   string(audit.EventLedgerAnchorFailed),
			Decision: "failed",
			Reason:   string(ledger.KindOf(err)),
		})
		return anchorResult{err: err}
	}

	ref := models.LedgerRef{TxHash: receipt.TxHash, BlockNumber: receipt.BlockNumber, AnchoredAt: time.Now().UTC()}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.events.AttachLedgerRef(storeCtx, event.ID, ref); err != nil {
		s.metrics.IncrementAnchorOutcome("attach_failed")
		s.logger.ErrorContext(ctx, "anchored event but failed to store ledger ref",
			"event_id", event.ID,
			"tx_hash", receipt.TxHash,
			"error", err,
		)
		return anchorResult{err: err}
	}

	s.metrics.IncrementAnchorOutcome("ok")
	s.emitAudit(ctx, audit.Event{
		ChildID: event.ChildID,
		Subject: event.ID.String(),
		Action:  string(audit.EventEventAnchored),
		Reason:  receipt.TxHash,
	})
	return anchorResult{ref: ref}
}

func normalizeSubmit(cmd models.SubmitCommand) models.SubmitCommand {
	cmd.VaccineName = strings.TrimSpace(cmd.VaccineName)
	cmd.AdministeredBy = strings.TrimSpace(cmd.AdministeredBy)
	cmd.Location = strings.TrimSpace(cmd.Location)
	cmd.BatchNumber = strings.TrimSpace(cmd.BatchNumber)
	if !cmd.DateAdministered.IsZero() {
		cmd.DateAdministered = childmodels.DateOnly(cmd.DateAdministered)
	}
	if cmd.ExpiryDate != nil {
		expiry := childmodels.DateOnly(*cmd.ExpiryDate)
		cmd.ExpiryDate = &expiry
	}
	return cmd
}

// validateSubmit lists every missing field at once.
func validateSubmit(cmd models.SubmitCommand, now time.Time) error {
	var missing []string
	if cmd.ChildID.IsNil() {
		missing = append(missing, "child_id")
	}
	if cmd.VaccineName == "" {
		missing = append(missing, "vaccine_name")
	}
	if cmd.DoseNumber < 1 {
		missing = append(missing, "dose_number")
	}
	if cmd.DateAdministered.IsZero() {
		missing = append(missing, "date_administered")
	}
	if cmd.AdministeredBy == "" {
		missing = append(missing, "administered_by")
	}
	if cmd.Location == "" {
		missing = append(missing, "location")
	}
	if len(missing) > 0 {
		return dErrors.New(dErrors.CodeValidation, "missing or invalid fields: "+strings.Join(missing, ", "))
	}
	if cmd.DateAdministered.After(childmodels.DateOnly(now)) {
		return dErrors.New(dErrors.CodeValidation, "date_administered must not be in the future")
	}
	return nil
}

func (s *IngestionService) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if actor := requestcontext.ActorID(ctx); !actor.IsNil() {
		event.ActorID = actor.String()
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
		)
	}
}

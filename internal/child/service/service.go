package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vaxledger/internal/child/models"
	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
	"vaxledger/pkg/platform/audit"
	"vaxledger/pkg/platform/sentinel"
	"vaxledger/pkg/requestcontext"
)

type ChildStore interface {
	Create(ctx context.Context, child *models.Child) error
	Delete(ctx context.Context, childID id.ChildID) error
	FindByID(ctx context.Context, childID id.ChildID) (*models.Child, error)
}

// DoseInitializer creates the child's dose status rows. Implemented by the
// records dose service; kept as an interface so child does not import records.
type DoseInitializer interface {
	InitializeForChild(ctx context.Context, childID id.ChildID, birthDate time.Time) (int, error)
}

// TxRunner runs fn as one unit of work.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service registers children and serves child lookups.
type Service struct {
	children       ChildStore
	doses          DoseInitializer
	tx             TxRunner
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func New(children ChildStore, doses DoseInitializer, tx TxRunner, opts ...Option) *Service {
	s := &Service{children: children, doses: doses, tx: tx}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Register persists the child and its initial dose statuses in one unit of work.
func (s *Service) Register(ctx context.Context, cmd models.RegisterCommand) (*models.Child, error) {
	now := requestcontext.Now(ctx)
	child, err := models.NewChild(id.ChildID(uuid.New()), cmd.Name, cmd.BirthDate, cmd.ParentAddress, now)
	if err != nil {
		return nil, err
	}

	var initialized int
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.children.Create(ctx, child); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "child already registered")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create child")
		}
		initialized, err = s.doses.InitializeForChild(ctx, child.ID, child.BirthDate)
		if err != nil {
			// Memory stores have no rollback.
			_ = s.children.Delete(ctx, child.ID)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "child registered",
		"child_id", child.ID,
		"dose_statuses", initialized,
	)
	s.emitAudit(ctx, audit.Event{
		ChildID: child.ID,
		Subject: child.ID.String(),
		Action:  string(audit.EventChildRegistered),
	})
	return child, nil
}

func (s *Service) Get(ctx context.Context, childID id.ChildID) (*models.Child, error) {
	child, err := s.children.FindByID(ctx, childID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "child not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load child")
	}
	return child, nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
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

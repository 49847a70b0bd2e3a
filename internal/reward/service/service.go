package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	childmodels "vaxledger/internal/child/models"
	"vaxledger/internal/eligibility"
	"vaxledger/internal/ledger"
	"vaxledger/internal/reward/metrics"
	"vaxledger/internal/reward/models"
	"vaxledger/internal/reward/store"
	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
	"vaxledger/pkg/platform/audit"
	"vaxledger/pkg/platform/sentinel"
	"vaxledger/pkg/requestcontext"
)

const simulatedReason = "ledger not configured; reward simulated and not recorded"

type Store interface {
	Save(ctx context.Context, claim *models.Claim) error
	FindByChild(ctx context.Context, childID id.ChildID) (*models.Claim, error)
	Totals(ctx context.Context) (store.Totals, error)
}

type ChildLookup interface {
	FindByID(ctx context.Context, childID id.ChildID) (*childmodels.Child, error)
}

type Eligibility interface {
	RewardEligibility(ctx context.Context, childID id.ChildID) (*eligibility.Verdict, error)
}

// Ledger issues rewards. The ledger's compare-and-set is the only guard
// against a second reward for the same child.
type Ledger interface {
	Enabled() bool
	RewardParent(ctx context.Context, parentAddress, childID string) (ledger.Receipt, error)
	Stats(ctx context.Context) (ledger.Stats, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Stats combines the ledger counters with the locally recorded claims.
type Stats struct {
	Ledger      ledger.Stats
	LocalClaims int
	LocalAmount decimal.Decimal
	Unit        string
}

type Service struct {
	store    Store
	children ChildLookup
	engine   Eligibility
	amount   decimal.Decimal
	unit     string

	ledger         Ledger
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithLedger enables real awards. Without it Award only simulates.
func WithLedger(l Ledger) Option {
	return func(s *Service) {
		s.ledger = l
	}
}

// New constructs the reward service. amount is the fixed reward paid to a
// parent once the child completes the required schedule.
func New(store Store, children ChildLookup, engine Eligibility, amount decimal.Decimal, unit string, opts ...Option) *Service {
	s := &Service{
		store:    store,
		children: children,
		engine:   engine,
		amount:   amount,
		unit:     unit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// CheckEligibility applies the full-catalog rule. The amount is zero unless
// every required dose is completed.
func (s *Service) CheckEligibility(ctx context.Context, childID id.ChildID) (*models.Eligibility, error) {
	verdict, err := s.engine.RewardEligibility(ctx, childID)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementCheck(verdict.Eligible)

	result := &models.Eligibility{
		ChildID:               childID,
		Eligible:              verdict.Eligible,
		Amount:                decimal.Zero,
		Unit:                  s.unit,
		Reason:                verdict.Reason,
		Completed:             verdict.Completed,
		Total:                 verdict.Required,
		CompletionRatePercent: verdict.CompletionRatePercent,
		Missing:               verdict.Missing,
	}
	if verdict.Eligible {
		result.Amount = s.amount
	}
	return result, nil
}

// Award pays the parent once. parentAddress defaults to the address the child
// was registered with. A second award for the same child fails with
// CodeDuplicate as reported by the ledger.
func (s *Service) Award(ctx context.Context, childID id.ChildID, parentAddress string) (*models.AwardResult, error) {
	child, err := s.loadChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	if parentAddress == "" {
		parentAddress = child.ParentAddress
	}
	if err := childmodels.ValidateParentAddress(parentAddress); err != nil {
		return nil, err
	}

	elig, err := s.CheckEligibility(ctx, childID)
	if err != nil {
		return nil, err
	}
	if !elig.Eligible {
		s.metrics.IncrementAward("ineligible")
		s.emitAudit(ctx, audit.Event{
			ChildID:  childID,
			Action:   string(audit.EventRewardDenied),
			Decision: "ineligible",
			Reason:   elig.Reason,
		})
		return &models.AwardResult{Reason: elig.Reason}, nil
	}

	if s.ledger == nil || !s.ledger.Enabled() {
		s.logger.WarnContext(ctx, "reward simulated without ledger",
			"child_id", childID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		s.metrics.IncrementAward("simulated")
		return &models.AwardResult{Simulated: true, Reason: simulatedReason}, nil
	}

	receipt, err := s.ledger.RewardParent(ctx, parentAddress, childID.String())
	if err != nil {
		kind := ledger.KindOf(err)
		s.metrics.IncrementAward(string(kind))
		if kind == ledger.KindAlreadyRewarded {
			s.emitAudit(ctx, audit.Event{
				ChildID:  childID,
				Action:   string(audit.EventRewardDenied),
				Decision: string(kind),
				Reason:   "reward already issued for this child",
			})
		} else {
			s.logger.ErrorContext(ctx, "reward ledger call failed",
				"child_id", childID.String(),
				"kind", string(kind),
				"error", err,
			)
		}
		return nil, ledger.DomainError(err)
	}

	claim, err := models.NewClaim(childID, parentAddress, s.amount, s.unit, receipt.TxHash, receipt.BlockNumber, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build reward claim")
	}
	// The ledger has already paid; a failed local write must not turn that into an error.
	if err := s.store.Save(ctx, claim); err != nil {
		s.logger.ErrorContext(ctx, "failed to record reward claim",
			"child_id", childID.String(),
			"tx_hash", receipt.TxHash,
			"error", err,
		)
	}

	s.metrics.IncrementAward("awarded")
	s.metrics.AddDistributed(claim.Amount)
	s.emitAudit(ctx, audit.Event{
		ChildID:  childID,
		Subject:  receipt.TxHash,
		Action:   string(audit.EventRewardAwarded),
		Decision: "awarded",
	})
	return &models.AwardResult{
		Awarded: true,
		Reason:  "reward issued",
		Claim:   claim,
	}, nil
}

// Claim returns the locally recorded claim for the child.
func (s *Service) Claim(ctx context.Context, childID id.ChildID) (*models.Claim, error) {
	claim, err := s.store.FindByChild(ctx, childID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no reward recorded for child")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reward claim")
	}
	return claim, nil
}

// Stats reports the ledger counters alongside local claim totals.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	if s.ledger == nil || !s.ledger.Enabled() {
		return nil, dErrors.New(dErrors.CodeLedgerUnavailable, "ledger not configured")
	}
	ledgerStats, err := s.ledger.Stats(ctx)
	if err != nil {
		return nil, ledger.DomainError(err)
	}
	totals, err := s.store.Totals(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to total reward claims")
	}
	return &Stats{
		Ledger:      ledgerStats,
		LocalClaims: totals.Claims,
		LocalAmount: totals.Amount,
		Unit:        s.unit,
	}, nil
}

func (s *Service) loadChild(ctx context.Context, childID id.ChildID) (*childmodels.Child, error) {
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

package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"vaxledger/internal/certificate/content"
	"vaxledger/internal/certificate/metrics"
	"vaxledger/internal/certificate/models"
	"vaxledger/internal/certificate/render"
	childmodels "vaxledger/internal/child/models"
	"vaxledger/internal/eligibility"
	"vaxledger/internal/ledger"
	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
	"vaxledger/pkg/platform/audit"
	"vaxledger/pkg/platform/sentinel"
	"vaxledger/pkg/requestcontext"
)

const (
	defaultRenderTimeout = 5 * time.Second
	defaultUploadTimeout = 10 * time.Second
)

type Store interface {
	Create(ctx context.Context, c *models.Certificate) error
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	FindByChildAndType(ctx context.Context, childID id.ChildID, typ models.Type) (*models.Certificate, error)
	ListByChild(ctx context.Context, childID id.ChildID) ([]models.Certificate, error)
	Advance(ctx context.Context, c *models.Certificate) error
}

type ChildLookup interface {
	FindByID(ctx context.Context, childID id.ChildID) (*childmodels.Child, error)
}

type Eligibility interface {
	ProgressSummary(ctx context.Context, childID id.ChildID) (*eligibility.Progress, error)
	Check(ctx context.Context, childID id.ChildID, rule eligibility.Rule) (*eligibility.Verdict, error)
}

type Renderer interface {
	Render(ctx context.Context, templateID string, fields models.Fields) ([]byte, error)
}

type ContentStore interface {
	Put(ctx context.Context, data []byte, metadata map[string]string) (content.Object, error)
	Get(ctx context.Context, contentHash string) ([]byte, error)
}

// ProgressCache keys artifacts by child, completed count and issue day.
type ProgressCache interface {
	Get(ctx context.Context, childID id.ChildID, completed int, asOf time.Time) ([]byte, bool, error)
	Set(ctx context.Context, childID id.ChildID, completed int, asOf time.Time, artifact []byte) error
}

type CertificateAnchor interface {
	Enabled() bool
	AnchorCertificate(ctx context.Context, rec ledger.CertificateRecord) (ledger.Receipt, error)
	LookupCertificate(ctx context.Context, contentHash string) (ledger.Receipt, bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service issues certificates and walks them through
// generated, uploaded, anchored and verified.
type Service struct {
	store    Store
	children ChildLookup
	engine   Eligibility
	renderer Renderer
	content  ContentStore

	anchor         CertificateAnchor
	progressCache  ProgressCache
	renderTimeout  time.Duration
	uploadTimeout  time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher

	issuing singleflight.Group
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

func WithAnchor(anchor CertificateAnchor) Option {
	return func(s *Service) {
		s.anchor = anchor
	}
}

func WithProgressCache(cache ProgressCache) Option {
	return func(s *Service) {
		s.progressCache = cache
	}
}

func WithRenderTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.renderTimeout = d
		}
	}
}

func WithUploadTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.uploadTimeout = d
		}
	}
}

func New(store Store, children ChildLookup, engine Eligibility, renderer Renderer, contentStore ContentStore, opts ...Option) *Service {
	s := &Service{
		store:         store,
		children:      children,
		engine:        engine,
		renderer:      renderer,
		content:       contentStore,
		renderTimeout: defaultRenderTimeout,
		uploadTimeout: defaultUploadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Issue produces a certificate of typ for the child. Verifiable types are
// idempotent per (child, type): a second call returns the stored record.
// Concurrent calls for the same key in this process share one execution.
func (s *Service) Issue(ctx context.Context, childID id.ChildID, typ models.Type) (*models.IssueResult, error) {
	if !typ.Verifiable() {
		return s.issueProgress(ctx, childID)
	}
	key := childID.String() + ":" + string(typ)
	v, err, _ := s.issuing.Do(key, func() (any, error) {
		return s.issueVerifiable(context.WithoutCancel(ctx), childID, typ)
	})
	if err != nil {
		s.metrics.IncrementIssue(string(typ), "failed")
		return nil, err
	}
	return v.(*models.IssueResult), nil
}

func (s *Service) issueVerifiable(ctx context.Context, childID id.ChildID, typ models.Type) (*models.IssueResult, error) {
	child, err := s.loadChild(ctx, childID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindByChildAndType(ctx, childID, typ)
	switch {
	case err == nil && existing.HasArtifact():
		s.metrics.IncrementIssue(string(typ), "duplicate")
		return &models.IssueResult{Eligible: true, Reason: "certificate already issued", Record: existing, Duplicate: true}, nil
	case err == nil:
		s.logger.InfoContext(ctx, "resuming certificate reservation",
			"certificate_id", existing.ID.String(),
			"type", string(typ),
		)
		return s.completeUpload(ctx, child, existing)
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up certificate")
	}

	verdict, err := s.engine.Check(ctx, childID, ruleFor(typ))
	if err != nil {
		return nil, err
	}
	if !verdict.Eligible {
		s.metrics.IncrementIssue(string(typ), "ineligible")
		return &models.IssueResult{Eligible: false, Reason: verdict.Reason}, nil
	}

	cert, err := models.NewCertificate(id.CertificateID(uuid.New()), childID, typ, verdict.CompletionRatePercent, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, cert); err != nil {
		if !errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve certificate")
		}
		// Another instance reserved the key first.
		winner, findErr := s.store.FindByChildAndType(ctx, childID, typ)
		if findErr != nil {
			return nil, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to load reserved certificate")
		}
		if winner.HasArtifact() {
			s.metrics.IncrementIssue(string(typ), "duplicate")
			return &models.IssueResult{Eligible: true, Reason: "certificate already issued", Record: winner, Duplicate: true}, nil
		}
		cert = winner
	}
	return s.completeUpload(ctx, child, cert)
}

// completeUpload renders the artifact for a generated reservation, uploads it
// and promotes the record to uploaded.
func (s *Service) completeUpload(ctx context.Context, child *childmodels.Child, cert *models.Certificate) (*models.IssueResult, error) {
	verdict, err := s.engine.Check(ctx, child.ID, ruleFor(cert.Type))
	if err != nil {
		return nil, err
	}
	fields := models.Fields{
		CertificateID:  cert.ID.String(),
		ChildName:      child.Name,
		ChildID:        child.ID.String(),
		BirthDate:      child.BirthDate,
		AgeMonths:      verdict.ChildAgeMonths,
		Type:           cert.Type,
		CompletedCount: verdict.Completed,
		TotalRequired:  verdict.Required,
		CompletionRate: verdict.CompletionRatePercent,
		Missing:        verdict.Missing,
		IssuedOn:       cert.IssuedAt,
	}
	artifact, err := s.render(ctx, cert.Type, fields)
	if err != nil {
		return nil, err
	}

	uploadCtx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()
	obj, err := s.content.Put(uploadCtx, artifact, map[string]string{
		"certificate_id": cert.ID.String(),
		"child_id":       cert.ChildID.String(),
		"type":           string(cert.Type),
	})
	if err != nil {
		s.metrics.IncrementUpload("failed")
		s.logger.ErrorContext(ctx, "certificate upload failed",
			"certificate_id", cert.ID.String(),
			"error", err,
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "certificate upload timed out")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to upload certificate")
	}
	s.metrics.IncrementUpload("ok")

	cert.ContentHash = obj.ContentHash
	cert.ContentURI = obj.URI
	cert.CompletionRate = verdict.CompletionRatePercent
	if err := cert.Promote(models.StatusUploaded, requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	if err := s.store.Advance(ctx, cert); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			current, findErr := s.store.FindByID(ctx, cert.ID)
			if findErr != nil {
				return nil, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to load certificate")
			}
			return &models.IssueResult{Eligible: true, Reason: "certificate already issued", Record: current, Duplicate: true}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to promote certificate")
	}
	s.metrics.IncrementTransition(string(models.StatusUploaded))
	s.metrics.IncrementIssue(string(cert.Type), "issued")

	s.logger.InfoContext(ctx, "certificate issued",
		"certificate_id", cert.ID.String(),
		"child_id", cert.ChildID.String(),
		"type", string(cert.Type),
		"content_hash", cert.ContentHash,
	)
	s.emitAudit(ctx, audit.Event{
		ChildID:  cert.ChildID,
		Subject:  cert.ID.String(),
		Action:   string(audit.EventCertificateIssued),
		Decision: string(cert.Type),
	})
	return &models.IssueResult{Eligible: true, Reason: verdict.Reason, Record: cert, Artifact: artifact}, nil
}

// issueProgress renders the lifetime progress report. The artifact is not
// uploaded; a generated record is kept for the child's history.
func (s *Service) issueProgress(ctx context.Context, childID id.ChildID) (*models.IssueResult, error) {
	child, err := s.loadChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	progress, err := s.engine.ProgressSummary(ctx, childID)
	if err != nil {
		return nil, err
	}
	if progress.CompletedCount == 0 {
		s.metrics.IncrementIssue(string(models.TypeProgress), "ineligible")
		return &models.IssueResult{Eligible: false, Reason: "no completed doses recorded"}, nil
	}

	artifact, err := s.progressArtifact(ctx, child, progress)
	if err != nil {
		s.metrics.IncrementIssue(string(models.TypeProgress), "failed")
		return nil, err
	}

	cert, err := models.NewCertificate(id.CertificateID(uuid.New()), childID, models.TypeProgress, progress.CompletionRatePercent, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	cert.ContentHash = content.Hash(artifact)
	if err := s.store.Create(ctx, cert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record progress certificate")
	}
	s.metrics.IncrementIssue(string(models.TypeProgress), "issued")
	s.emitAudit(ctx, audit.Event{
		ChildID:  childID,
		Subject:  cert.ID.String(),
		Action:   string(audit.EventCertificateIssued),
		Decision: string(models.TypeProgress),
	})
	return &models.IssueResult{
		Eligible: true,
		Reason:   "progress report generated",
		Record:   cert,
		Artifact: artifact,
	}, nil
}

func (s *Service) progressArtifact(ctx context.Context, child *childmodels.Child, p *eligibility.Progress) ([]byte, error) {
	now := requestcontext.Now(ctx)
	if s.progressCache != nil {
		data, ok, err := s.progressCache.Get(ctx, child.ID, p.CompletedCount, now)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "progress cache read failed", "error", err)
		case ok:
			s.metrics.IncrementCache("hit")
			return data, nil
		default:
			s.metrics.IncrementCache("miss")
		}
	}

	artifact, err := s.render(ctx, models.TypeProgress, models.Fields{
		ChildName:      child.Name,
		ChildID:        child.ID.String(),
		BirthDate:      child.BirthDate,
		AgeMonths:      p.ChildAgeMonths,
		Type:           models.TypeProgress,
		CompletedCount: p.CompletedCount,
		TotalRequired:  p.TotalRequired,
		CompletionRate: p.CompletionRatePercent,
		Missing:        p.MissingVaccines,
		IssuedOn:       now,
	})
	if err != nil {
		return nil, err
	}
	if s.progressCache != nil {
		if err := s.progressCache.Set(ctx, child.ID, p.CompletedCount, now, artifact); err != nil {
			s.logger.WarnContext(ctx, "progress cache write failed", "error", err)
		}
	}
	return artifact, nil
}

func (s *Service) render(ctx context.Context, typ models.Type, fields models.Fields) ([]byte, error) {
	defer s.metrics.ObserveRender(time.Now())
	renderCtx, cancel := context.WithTimeout(ctx, s.renderTimeout)
	defer cancel()
	artifact, err := s.renderer.Render(renderCtx, render.TemplateFor(typ), fields)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "certificate render timed out")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render certificate")
	}
	return artifact, nil
}

// Anchor records the certificate's content hash on the ledger. It is an
// explicit step and only applies to uploaded verifiable certificates.
func (s *Service) Anchor(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	cert, err := s.Get(ctx, certID)
	if err != nil {
		return nil, err
	}
	if !cert.Type.Verifiable() {
		return nil, dErrors.New(dErrors.CodeValidation, "progress certificates cannot be anchored")
	}
	if cert.IsAnchored() {
		return cert, nil
	}
	if cert.Status != models.StatusUploaded {
		return nil, dErrors.New(dErrors.CodeConflict, "certificate artifact has not been uploaded")
	}
	if s.anchor == nil || !s.anchor.Enabled() {
		return nil, dErrors.New(dErrors.CodeLedgerUnavailable, "ledger anchoring disabled")
	}

	receipt, err := s.anchor.AnchorCertificate(ctx, ledger.CertificateRecord{
		CertificateID: cert.ID.String(),
		ChildID:       cert.ChildID.String(),
		Type:          string(cert.Type),
		ContentHash:   cert.ContentHash,
		IssuedAt:      cert.IssuedAt,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "certificate anchoring failed",
			"certificate_id", cert.ID.String(),
			"kind", string(ledger.KindOf(err)),
			"error", err,
		)
		return nil, ledger.DomainError(err)
	}

	now := requestcontext.Now(ctx)
	cert.LedgerRef = &models.LedgerRef{TxHash: receipt.TxHash, BlockNumber: receipt.BlockNumber, AnchoredAt: now}
	if err := cert.Promote(models.StatusAnchored, now); err != nil {
		return nil, err
	}
	if err := s.store.Advance(ctx, cert); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return s.Get(ctx, certID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record certificate anchor")
	}
	s.metrics.IncrementTransition(string(models.StatusAnchored))
	s.emitAudit(ctx, audit.Event{
		ChildID: cert.ChildID,
		Subject: cert.ID.String(),
		Action:  string(audit.EventCertificateAnchored),
		Reason:  receipt.TxHash,
	})
	return cert, nil
}

// Verify re-reads the stored artifact and checks it against the recorded hash.
// Only an anchored certificate whose bytes match is promoted to verified. With
// a ledger configured the hash must also be on the ledger under the recorded
// transaction.
func (s *Service) Verify(ctx context.Context, certID id.CertificateID) (*models.VerifyResult, error) {
	cert, err := s.Get(ctx, certID)
	if err != nil {
		return nil, err
	}
	if !cert.Type.Verifiable() {
		return nil, dErrors.New(dErrors.CodeValidation, "progress certificates cannot be verified")
	}
	if cert.Status == models.StatusVerified {
		return &models.VerifyResult{Record: cert, Verified: true, Reason: "certificate already verified"}, nil
	}
	if !cert.HasArtifact() {
		return &models.VerifyResult{Record: cert, Reason: "certificate artifact has not been uploaded"}, nil
	}

	data, err := s.content.Get(ctx, cert.ContentHash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return &models.VerifyResult{Record: cert, Reason: "artifact missing from content store"}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fetch certificate artifact")
	}
	if content.Hash(data) != cert.ContentHash {
		s.logger.WarnContext(ctx, "certificate content hash mismatch",
			"certificate_id", cert.ID.String(),
		)
		return &models.VerifyResult{Record: cert, Reason: "content hash mismatch"}, nil
	}
	if !cert.IsAnchored() {
		return &models.VerifyResult{Record: cert, Reason: "certificate has not been anchored on the ledger"}, nil
	}
	reason, err := s.checkLedger(ctx, cert)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return &models.VerifyResult{Record: cert, Reason: reason}, nil
	}

	if err := cert.Promote(models.StatusVerified, requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	if err := s.store.Advance(ctx, cert); err != nil {
		if !errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record verification")
		}
		if cert, err = s.Get(ctx, certID); err != nil {
			return nil, err
		}
	} else {
		s.metrics.IncrementTransition(string(models.StatusVerified))
		s.emitAudit(ctx, audit.Event{
			ChildID: cert.ChildID,
			Subject: cert.ID.String(),
			Action:  string(audit.EventCertificateVerified),
		})
	}
	return &models.VerifyResult{Record: cert, Verified: true, Reason: "content hash matches anchored record"}, nil
}

// checkLedger confirms the anchored transaction on the ledger. A non-empty
// reason means the record does not match.
func (s *Service) checkLedger(ctx context.Context, cert *models.Certificate) (string, error) {
	if s.anchor == nil || !s.anchor.Enabled() {
		return "", nil
	}
	receipt, found, err := s.anchor.LookupCertificate(ctx, cert.ContentHash)
	if err != nil {
		s.logger.WarnContext(ctx, "certificate ledger lookup failed",
			"certificate_id", cert.ID.String(),
			"kind", string(ledger.KindOf(err)),
			"error", err,
		)
		return "", ledger.DomainError(err)
	}
	switch {
	case !found:
		s.logger.WarnContext(ctx, "certificate hash missing from ledger", "certificate_id", cert.ID.String())
		return "content hash not found on the ledger", nil
	case receipt.TxHash != cert.LedgerRef.TxHash:
		s.logger.WarnContext(ctx, "certificate ledger transaction mismatch",
			"certificate_id", cert.ID.String(),
			"recorded_tx", cert.LedgerRef.TxHash,
			"ledger_tx", receipt.TxHash,
		)
		return "ledger transaction does not match the anchored record", nil
	}
	return "", nil
}

func (s *Service) Get(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	cert, err := s.store.FindByID(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	return cert, nil
}

func (s *Service) ListForChild(ctx context.Context, childID id.ChildID) ([]models.Certificate, error) {
	if _, err := s.loadChild(ctx, childID); err != nil {
		return nil, err
	}
	certs, err := s.store.ListByChild(ctx, childID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return certs, nil
}

// Artifact returns the PNG for a certificate. Verifiable certificates are
// read from the content store; progress reports are re-rendered or served
// from cache.
func (s *Service) Artifact(ctx context.Context, certID id.CertificateID) ([]byte, error) {
	cert, err := s.Get(ctx, certID)
	if err != nil {
		return nil, err
	}
	if cert.Type == models.TypeProgress {
		child, err := s.loadChild(ctx, cert.ChildID)
		if err != nil {
			return nil, err
		}
		progress, err := s.engine.ProgressSummary(ctx, cert.ChildID)
		if err != nil {
			return nil, err
		}
		return s.progressArtifact(ctx, child, progress)
	}
	if !cert.HasArtifact() {
		return nil, dErrors.New(dErrors.CodeConflict, "certificate artifact has not been uploaded")
	}
	data, err := s.content.Get(ctx, cert.ContentHash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate artifact not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fetch certificate artifact")
	}
	return data, nil
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

func ruleFor(typ models.Type) eligibility.Rule {
	if typ == models.TypeCompletion {
		return eligibility.RuleCompletion
	}
	return eligibility.RuleSchoolReadiness
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

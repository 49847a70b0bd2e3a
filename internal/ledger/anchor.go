package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vaxledger/internal/ledger/metrics"
	"vaxledger/pkg/platform/circuit"
)

const defaultTimeout = 5 * time.Second

var errBreakerOpen = errors.New("circuit breaker open")

// EventRecord is the part of an immunization event that gets anchored.
type EventRecord struct {
	EventID          string     `json:"event_id"`
	ChildID          string     `json:"child_id"`
	VaccineName      string     `json:"vaccine_name"`
	DoseNumber       int        `json:"dose_number"`
	DateAdministered time.Time  `json:"date_administered"`
	FacilityID       string     `json:"facility_id"`
	BatchID          string     `json:"batch_id"`
	Expiry           *time.Time `json:"expiry,omitempty"`
}

// CertificateRecord is the part of a certificate that gets anchored. The
// artifact hash is anchored as-is.
type CertificateRecord struct {
	CertificateID string
	ChildID       string
	Type          string
	ContentHash   string
	IssuedAt      time.Time
}

// Anchor makes single, bounded ledger attempts. It never retries or queues.
// A nil client disables the ledger.
type Anchor struct {
	client  Client
	timeout time.Duration
	breaker *circuit.Breaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Anchor)

func WithTimeout(d time.Duration) Option {
	return func(a *Anchor) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(a *Anchor) {
		a.breaker = b
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Anchor) {
		a.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Anchor) {
		a.logger = logger
	}
}

func NewAnchor(client Client, opts ...Option) *Anchor {
	a := &Anchor{
		client:  client,
		timeout: defaultTimeout,
		tracer:  otel.Tracer("vaxledger/ledger"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Enabled reports whether a ledger backend is configured.
func (a *Anchor) Enabled() bool {
	return a != nil && a.client != nil
}

// AnchorEvent records the Keccak-256 hash of the event on the ledger.
func (a *Anchor) AnchorEvent(ctx context.Context, rec EventRecord) (Receipt, error) {
	hash, err := ContentHash(rec)
	if err != nil {
		return Receipt{}, Rejected("record_event", err)
	}
	req := RecordRequest{
		ChildID:     rec.ChildID,
		VaccineName: rec.VaccineName,
		DoseNumber:  rec.DoseNumber,
		Timestamp:   rec.DateAdministered.Unix(),
		FacilityID:  rec.FacilityID,
		BatchID:     rec.BatchID,
		ContentHash: hash,
	}
	if rec.Expiry != nil {
		req.Expiry = rec.Expiry.Unix()
	}
	return a.call(ctx, "record_event", []attribute.KeyValue{
		attribute.String("child_id", rec.ChildID),
		attribute.String("vaccine", rec.VaccineName),
		attribute.Int("dose", rec.DoseNumber),
	}, func(ctx context.Context) (Receipt, error) {
		return a.client.RecordEvent(ctx, req)
	})
}

// AnchorCertificate records the certificate's artifact hash on the ledger.
// The certificate type travels as the record's vaccine field.
func (a *Anchor) AnchorCertificate(ctx context.Context, rec CertificateRecord) (Receipt, error) {
	req := RecordRequest{
		ChildID:     rec.ChildID,
		VaccineName: "certificate:" + rec.Type,
		DoseNumber:  1,
		Timestamp:   rec.IssuedAt.Unix(),
		BatchID:     rec.CertificateID,
		ContentHash: rec.ContentHash,
	}
	return a.call(ctx, "record_certificate", []attribute.KeyValue{
		attribute.String("child_id", rec.ChildID),
		attribute.String("certificate_type", rec.Type),
	}, func(ctx context.Context) (Receipt, error) {
		return a.client.RecordEvent(ctx, req)
	})
}

// LookupCertificate finds the ledger receipt for a certificate artifact hash.
func (a *Anchor) LookupCertificate(ctx context.Context, contentHash string) (Receipt, bool, error) {
	var found bool
	receipt, err := a.call(ctx, "find_record", []attribute.KeyValue{
		attribute.String("content_hash", contentHash),
	}, func(ctx context.Context) (Receipt, error) {
		r, ok, err := a.client.FindRecord(ctx, contentHash)
		found = ok
		return r, err
	})
	if err != nil {
		return Receipt{}, false, err
	}
	return receipt, found, nil
}

func (a *Anchor) RewardParent(ctx context.Context, parentAddress, childID string) (Receipt, error) {
	return a.call(ctx, "reward_parent", []attribute.KeyValue{
		attribute.String("child_id", childID),
	}, func(ctx context.Context) (Receipt, error) {
		return a.client.RewardParent(ctx, parentAddress, childID)
	})
}

func (a *Anchor) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	_, err := a.call(ctx, "stats", nil, func(ctx context.Context) (Receipt, error) {
		var err error
		stats, err = a.client.Stats(ctx)
		return Receipt{}, err
	})
	return stats, err
}

func (a *Anchor) call(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) (Receipt, error)) (Receipt, error) {
	if !a.Enabled() {
		return Receipt{}, Unavailable(op, errors.New("ledger disabled"))
	}

	ctx, span := a.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attrs...))
	defer span.End()
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return Receipt{}, a.abandoned(ctx, op, err, start)
	}
	if a.breaker != nil && !a.breaker.Allow() {
		err := Unavailable(op, errBreakerOpen)
		span.SetStatus(codes.Error, "breaker open")
		a.metrics.ObserveCall(op, "breaker_open", start)
		return Receipt{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	receipt, err := fn(callCtx)
	if err != nil {
		// The caller went away; that says nothing about ledger health.
		if ctx.Err() != nil && KindOf(err) == KindUnavailable {
			return Receipt{}, a.abandoned(ctx, op, err, start)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = Unavailable(op, err)
		}
		kind := KindOf(err)
		if kind == KindUnavailable {
			a.recordFailure()
		} else {
			// A refusal proves the ledger is reachable.
			a.recordSuccess()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		a.metrics.ObserveCall(op, string(kind), start)
		return Receipt{}, err
	}

	a.recordSuccess()
	span.SetAttributes(
		attribute.String("tx_hash", receipt.TxHash),
		attribute.Int64("block_number", int64(receipt.BlockNumber)),
	)
	a.metrics.ObserveCall(op, "ok", start)
	return receipt, nil
}

// abandoned reports a call whose caller context ended. The breaker is left alone.
func (a *Anchor) abandoned(ctx context.Context, op string, err error, start time.Time) error {
	if !errors.As(err, new(*Error)) {
		err = Unavailable(op, err)
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, "canceled")
	a.metrics.ObserveCall(op, "canceled", start)
	return err
}

func (a *Anchor) recordFailure() {
	if a.breaker == nil {
		return
	}
	if _, change := a.breaker.RecordFailure(); change.Opened {
		a.logger.Warn("ledger circuit breaker opened", "breaker", a.breaker.Name())
		a.metrics.SetBreakerOpen(true)
	}
}

func (a *Anchor) recordSuccess() {
	if a.breaker == nil {
		return
	}
	if _, change := a.breaker.RecordSuccess(); change.Closed {
		a.logger.Info("ledger circuit breaker closed", "breaker", a.breaker.Name())
		a.metrics.SetBreakerOpen(false)
	}
}

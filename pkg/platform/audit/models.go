package audit

import (
	"context"
	"time"

	id "vaxledger/pkg/domain"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time  `json:"timestamp"`
	ChildID   id.ChildID `json:"child_id"`
	// Subject names the affected record, e.g. an event or certificate ID.
	Subject   string `json:"subject,omitempty"`
	Action    string `json:"action"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	// ActorID is the authenticated caller (doctor, parent or admin) when known.
	ActorID string `json:"actor_id,omitempty"`
}

type AuditEvent string

const (
	EventChildRegistered      AuditEvent = "child_registered"
	EventImmunizationRecorded AuditEvent = "immunization_recorded"
	EventLedgerAnchorFailed   AuditEvent = "ledger_anchor_failed"
	EventEventAnchored        AuditEvent = "immunization_anchored"
	EventCertificateIssued    AuditEvent = "certificate_issued"
	EventCertificateAnchored  AuditEvent = "certificate_anchored"
	EventCertificateVerified  AuditEvent = "certificate_verified"
	EventRewardAwarded        AuditEvent = "reward_awarded"
	EventRewardDenied         AuditEvent = "reward_denied"
)

// Store is the append-only sink behind a publisher.
type Store interface {
	Append(ctx context.Context, event Event) error
}

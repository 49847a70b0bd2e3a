package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "vaxledger/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so a ChildID cannot be passed where a
// CertificateID is expected.
type (
	ChildID       uuid.UUID
	EventID       uuid.UUID
	CertificateID uuid.UUID
	ActorID       uuid.UUID
)

func (id ChildID) String() string       { return uuid.UUID(id).String() }
func (id EventID) String() string       { return uuid.UUID(id).String() }
func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id ActorID) String() string       { return uuid.UUID(id).String() }

func (id ChildID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id CertificateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

func parseUUID(kind, raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return parsed, nil
}

// ParseChildID validates a child identifier at a trust boundary.
func ParseChildID(raw string) (ChildID, error) {
	u, err := parseUUID("child_id", raw)
	return ChildID(u), err
}

// ParseEventID validates an immunization event identifier.
func ParseEventID(raw string) (EventID, error) {
	u, err := parseUUID("event_id", raw)
	return EventID(u), err
}

// ParseCertificateID validates a certificate identifier.
func ParseCertificateID(raw string) (CertificateID, error) {
	u, err := parseUUID("certificate_id", raw)
	return CertificateID(u), err
}

// ParseActorID validates the identity of the authenticated caller.
func ParseActorID(raw string) (ActorID, error) {
	u, err := parseUUID("actor_id", raw)
	return ActorID(u), err
}

func (id ChildID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *ChildID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id EventID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *EventID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id CertificateID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *CertificateID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

package models

import (
	"strings"
	"time"

	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
)

// Type is the certificate class.
type Type string

const (
	TypeProgress        Type = "progress"
	TypeSchoolReadiness Type = "school_readiness"
	TypeCompletion      Type = "completion"
)

// ParseType validates a certificate type taken from a request.
func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(raw))); t {
	case TypeProgress, TypeSchoolReadiness, TypeCompletion:
		return t, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "unknown certificate type: "+raw)
	}
}

// Verifiable types are stored durably, at most one per child, and can be
// anchored and verified. Progress certificates are regenerated on demand.
func (t Type) Verifiable() bool {
	return t == TypeSchoolReadiness || t == TypeCompletion
}

// Status is a forward-only lifecycle position.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusUploaded  Status = "uploaded"
	StatusAnchored  Status = "anchored"
	StatusVerified  Status = "verified"
)

var statusRank = map[Status]int{
	StatusGenerated: 1,
	StatusUploaded:  2,
	StatusAnchored:  3,
	StatusVerified:  4,
}

// Rank orders statuses; unknown statuses rank 0.
func (s Status) Rank() int {
	return statusRank[s]
}

// CanTransitionTo allows exactly one step forward.
func (s Status) CanTransitionTo(next Status) bool {
	return next.Rank() == s.Rank()+1 && s.Rank() > 0
}

func StatusFromRank(rank int) Status {
	for s, r := range statusRank {
		if r == rank {
			return s
		}
	}
	return ""
}

type LedgerRef struct {
	TxHash      string
	BlockNumber uint64
	AnchoredAt  time.Time
}

// Certificate is the persisted record of an issued certificate.
type Certificate struct {
	ID      id.CertificateID
	ChildID id.ChildID
	Type    Type
	Status  Status
	// ContentHash is the hex sha256 of the rendered artifact.
	ContentHash    string
	ContentURI     string
	CompletionRate int
	Verified       bool
	LedgerRef      *LedgerRef
	IssuedAt       time.Time
	UpdatedAt      time.Time
}

// NewCertificate creates a record at the generated status.
func NewCertificate(certID id.CertificateID, childID id.ChildID, typ Type, completionRate int, now time.Time) (*Certificate, error) {
	if certID.IsNil() || childID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate and child ids are required")
	}
	if _, err := ParseType(string(typ)); err != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid certificate type")
	}
	return &Certificate{
		ID:             certID,
		ChildID:        childID,
		Type:           typ,
		Status:         StatusGenerated,
		CompletionRate: completionRate,
		IssuedAt:       now,
		UpdatedAt:      now,
	}, nil
}

// Promote moves the certificate one status forward.
func (c *Certificate) Promote(next Status, now time.Time) error {
	if !c.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"certificate cannot move from "+string(c.Status)+" to "+string(next))
	}
	c.Status = next
	c.UpdatedAt = now
	if next == StatusVerified {
		c.Verified = true
	}
	return nil
}

// HasArtifact reports whether the artifact has been durably stored.
func (c *Certificate) HasArtifact() bool {
	return c.Status.Rank() >= StatusUploaded.Rank()
}

func (c *Certificate) IsAnchored() bool {
	return c.LedgerRef != nil && c.Status.Rank() >= StatusAnchored.Rank()
}

// Fields populate a certificate template.
type Fields struct {
	CertificateID  string
	ChildName      string
	ChildID        string
	BirthDate      time.Time
	AgeMonths      int
	Type           Type
	CompletedCount int
	TotalRequired  int
	CompletionRate int
	Missing        []string
	IssuedOn       time.Time
}

// IssueResult is the outcome of an issue request. An ineligible child is a
// normal result with Eligible false and a Reason.
type IssueResult struct {
	Eligible bool
	Reason   string
	Record   *Certificate
	// Artifact holds the rendered PNG when it was produced by this call.
	Artifact  []byte
	Duplicate bool
}

type VerifyResult struct {
	Record   *Certificate
	Verified bool
	Reason   string
}

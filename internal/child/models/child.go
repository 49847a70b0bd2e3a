package models

import (
	"regexp"
	"strings"
	"time"

	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
)

var parentAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Child is the minimal registration record the immunization core needs:
// identity, birth date for age math, and the parent's ledger address for rewards.
type Child struct {
	ID            id.ChildID
	Name          string
	BirthDate     time.Time
	ParentAddress string
	CreatedAt     time.Time
}

// NewChild validates registration invariants. Birth dates are truncated to a
// calendar day in UTC.
func NewChild(childID id.ChildID, name string, birthDate time.Time, parentAddress string, now time.Time) (*Child, error) {
	name = strings.TrimSpace(name)
	parentAddress = strings.TrimSpace(parentAddress)
	if childID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "child id is required")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if len(name) > 200 {
		return nil, dErrors.New(dErrors.CodeValidation, "name must be at most 200 characters")
	}
	if birthDate.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "birth_date is required")
	}
	day := DateOnly(birthDate)
	if day.After(DateOnly(now)) {
		return nil, dErrors.New(dErrors.CodeValidation, "birth_date must not be in the future")
	}
	if err := ValidateParentAddress(parentAddress); err != nil {
		return nil, err
	}
	return &Child{
		ID:            childID,
		Name:          name,
		BirthDate:     day,
		ParentAddress: parentAddress,
		CreatedAt:     now,
	}, nil
}

// ValidateParentAddress checks the 0x-prefixed 20-byte hex ledger address format.
func ValidateParentAddress(addr string) error {
	if addr == "" {
		return dErrors.New(dErrors.CodeValidation, "parent_address is required")
	}
	if !parentAddressPattern.MatchString(addr) {
		return dErrors.New(dErrors.CodeValidation, "parent_address must be a 0x-prefixed 40 hex character address")
	}
	return nil
}

// DateOnly drops the time of day, keeping the calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

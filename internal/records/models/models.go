package models

import (
	"time"

	"vaxledger/internal/schedule"
	id "vaxledger/pkg/domain"
)

// DoseState is the classification of a single scheduled dose.
type DoseState string

const (
	DosePending   DoseState = "pending"
	DoseCompleted DoseState = "completed"
	DoseOverdue   DoseState = "overdue"
	DoseSkipped   DoseState = "skipped"
)

// IsTerminal reports whether the state is no longer subject to overdue classification.
func (s DoseState) IsTerminal() bool {
	return s == DoseCompleted || s == DoseSkipped
}

// DoseStatus tracks one catalog key for one child.
type DoseStatus struct {
	ChildID        id.ChildID
	VaccineName    string
	DoseNumber     int
	AgeBucketLabel string
	AgeInMonths    int
	ScheduledDate  time.Time
	Status         DoseState
	CompletedDate  *time.Time
}

func (d DoseStatus) Key() schedule.Key {
	return schedule.KeyOf(d.VaccineName, d.DoseNumber)
}

// LedgerRef is attached to an event after a successful anchor.
type LedgerRef struct {
	TxHash      string
	BlockNumber uint64
	AnchoredAt  time.Time
}

// ImmunizationEvent is an append-only clinical fact. Only LedgerRef is ever
// attached after creation.
type ImmunizationEvent struct {
	ID               id.EventID
	ChildID          id.ChildID
	VaccineName      string
	DoseNumber       int
	DateAdministered time.Time
	AdministeredBy   string
	Location         string
	BatchNumber      string
	ExpiryDate       *time.Time
	AgeBucketLabel   string
	LedgerRef        *LedgerRef
	RecordedAt       time.Time
}

func (e ImmunizationEvent) Key() schedule.Key {
	return schedule.KeyOf(e.VaccineName, e.DoseNumber)
}

func (e ImmunizationEvent) IsLedgerAnchored() bool {
	return e.LedgerRef != nil
}

// SubmitCommand is the validated input to ingestion.
type SubmitCommand struct {
	ChildID          id.ChildID
	VaccineName      string
	DoseNumber       int
	DateAdministered time.Time
	AdministeredBy   string
	Location         string
	BatchNumber      string
	ExpiryDate       *time.Time
}

// SubmitResult carries the persisted event plus any absorbed downstream failures.
type SubmitResult struct {
	Event    *ImmunizationEvent
	Warnings []string
}

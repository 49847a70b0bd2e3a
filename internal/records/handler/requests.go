package handler

import (
	"strings"
	"time"

	"vaxledger/internal/records/models"
	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
)

const dateLayout = "2006-01-02"

// SubmitImmunizationRequest only checks formats; presence is checked by the
// service so every missing field is reported together.
type SubmitImmunizationRequest struct {
	ChildID          string `json:"child_id"`
	VaccineName      string `json:"vaccine_name"`
	DoseNumber       int    `json:"dose_number"`
	DateAdministered string `json:"date_administered"`
	AdministeredBy   string `json:"administered_by"`
	Location         string `json:"location"`
	BatchNumber      string `json:"batch_number,omitempty"`
	ExpiryDate       string `json:"expiry_date,omitempty"`

	cmd models.SubmitCommand
}

func (r *SubmitImmunizationRequest) Normalize() {
	r.ChildID = strings.TrimSpace(r.ChildID)
	r.VaccineName = strings.TrimSpace(r.VaccineName)
	r.DateAdministered = strings.TrimSpace(r.DateAdministered)
	r.AdministeredBy = strings.TrimSpace(r.AdministeredBy)
	r.Location = strings.TrimSpace(r.Location)
	r.BatchNumber = strings.TrimSpace(r.BatchNumber)
	r.ExpiryDate = strings.TrimSpace(r.ExpiryDate)
}

func (r *SubmitImmunizationRequest) Validate() error {
	r.cmd = models.SubmitCommand{
		VaccineName:    r.VaccineName,
		DoseNumber:     r.DoseNumber,
		AdministeredBy: r.AdministeredBy,
		Location:       r.Location,
		BatchNumber:    r.BatchNumber,
	}
	if r.ChildID != "" {
		childID, err := id.ParseChildID(r.ChildID)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "child_id must be a UUID")
		}
		r.cmd.ChildID = childID
	}
	if r.DateAdministered != "" {
		given, err := time.Parse(dateLayout, r.DateAdministered)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "date_administered must be YYYY-MM-DD")
		}
		r.cmd.DateAdministered = given
	}
	if r.ExpiryDate != "" {
		expiry, err := time.Parse(dateLayout, r.ExpiryDate)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "expiry_date must be YYYY-MM-DD")
		}
		r.cmd.ExpiryDate = &expiry
	}
	return nil
}

func (r *SubmitImmunizationRequest) Command() models.SubmitCommand {
	return r.cmd
}

type LedgerRefResponse struct {
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	AnchoredAt  time.Time `json:"anchored_at"`
}

type ImmunizationResponse struct {
	ID               string             `json:"id"`
	ChildID          string             `json:"child_id"`
	VaccineName      string             `json:"vaccine_name"`
	DoseNumber       int                `json:"dose_number"`
	DateAdministered string             `json:"date_administered"`
	AdministeredBy   string             `json:"administered_by"`
	Location         string             `json:"location"`
	BatchNumber      string             `json:"batch_number,omitempty"`
	ExpiryDate       string             `json:"expiry_date,omitempty"`
	AgeBucketLabel   string             `json:"age_bucket_label,omitempty"`
	IsLedgerAnchored bool               `json:"is_ledger_anchored"`
	LedgerRef        *LedgerRefResponse `json:"ledger_ref,omitempty"`
	RecordedAt       time.Time          `json:"recorded_at"`
}

type SubmitResponse struct {
	Event    ImmunizationResponse `json:"event"`
	Warnings []string             `json:"warnings"`
}

type DoseStatusResponse struct {
	VaccineName    string `json:"vaccine_name"`
	DoseNumber     int    `json:"dose_number"`
	AgeBucketLabel string `json:"age_bucket_label"`
	AgeInMonths    int    `json:"age_in_months"`
	ScheduledDate  string `json:"scheduled_date"`
	Status         string `json:"status"`
	CompletedDate  string `json:"completed_date,omitempty"`
}

func toImmunizationResponse(e *models.ImmunizationEvent) ImmunizationResponse {
	resp := ImmunizationResponse{
		ID:               e.ID.String(),
		ChildID:          e.ChildID.String(),
		VaccineName:      e.VaccineName,
		DoseNumber:       e.DoseNumber,
		DateAdministered: e.DateAdministered.Format(dateLayout),
		AdministeredBy:   e.AdministeredBy,
		Location:         e.Location,
		BatchNumber:      e.BatchNumber,
		AgeBucketLabel:   e.AgeBucketLabel,
		IsLedgerAnchored: e.IsLedgerAnchored(),
		RecordedAt:       e.RecordedAt,
	}
	if e.ExpiryDate != nil {
		resp.ExpiryDate = e.ExpiryDate.Format(dateLayout)
	}
	if e.LedgerRef != nil {
		resp.LedgerRef = &LedgerRefResponse{
			TxHash:      e.LedgerRef.TxHash,
			BlockNumber: e.LedgerRef.BlockNumber,
			AnchoredAt:  e.LedgerRef.AnchoredAt,
		}
	}
	return resp
}

func toDoseStatusResponse(d models.DoseStatus) DoseStatusResponse {
	resp := DoseStatusResponse{
		VaccineName:    d.VaccineName,
		DoseNumber:     d.DoseNumber,
		AgeBucketLabel: d.AgeBucketLabel,
		AgeInMonths:    d.AgeInMonths,
		ScheduledDate:  d.ScheduledDate.Format(dateLayout),
		Status:         string(d.Status),
	}
	if d.CompletedDate != nil {
		resp.CompletedDate = d.CompletedDate.Format(dateLayout)
	}
	return resp
}

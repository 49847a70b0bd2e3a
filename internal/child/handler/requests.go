package handler

import (
	"strings"
	"time"

	"vaxledger/internal/child/models"
	dErrors "vaxledger/pkg/domain-errors"
)

const dateLayout = "2006-01-02"

type RegisterChildRequest struct {
	Name          string `json:"name"`
	BirthDate     string `json:"birth_date"`
	ParentAddress string `json:"parent_address"`

	birthDate time.Time
}

func (r *RegisterChildRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.BirthDate = strings.TrimSpace(r.BirthDate)
	r.ParentAddress = strings.TrimSpace(r.ParentAddress)
}

func (r *RegisterChildRequest) Validate() error {
	var missing []string
	if r.Name == "" {
		missing = append(missing, "name")
	}
	if r.BirthDate == "" {
		missing = append(missing, "birth_date")
	}
	if r.ParentAddress == "" {
		missing = append(missing, "parent_address")
	}
	if len(missing) > 0 {
		return dErrors.New(dErrors.CodeValidation, "missing required fields: "+strings.Join(missing, ", "))
	}
	birth, err := time.Parse(dateLayout, r.BirthDate)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "birth_date must be YYYY-MM-DD")
	}
	r.birthDate = birth
	return models.ValidateParentAddress(r.ParentAddress)
}

func (r *RegisterChildRequest) Command() models.RegisterCommand {
	return models.RegisterCommand{
		Name:          r.Name,
		BirthDate:     r.birthDate,
		ParentAddress: r.ParentAddress,
	}
}

type ChildResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	BirthDate     string    `json:"birth_date"`
	ParentAddress string    `json:"parent_address"`
	CreatedAt     time.Time `json:"created_at"`
}

func toChildResponse(c *models.Child) ChildResponse {
	return ChildResponse{
		ID:            c.ID.String(),
		Name:          c.Name,
		BirthDate:     c.BirthDate.Format(dateLayout),
		ParentAddress: c.ParentAddress,
		CreatedAt:     c.CreatedAt,
	}
}

package handler

import (
	"strings"
	"time"

	childmodels "vaxledger/internal/child/models"
	"vaxledger/internal/reward/models"
	"vaxledger/internal/reward/service"
)

// AwardRequest may omit parent_address to pay the address the child was
// registered with.
type AwardRequest struct {
	ParentAddress string `json:"parent_address"`
}

func (r *AwardRequest) Normalize() {
	r.ParentAddress = strings.TrimSpace(r.ParentAddress)
}

func (r *AwardRequest) Validate() error {
	if r.ParentAddress == "" {
		return nil
	}
	return childmodels.ValidateParentAddress(r.ParentAddress)
}

type EligibilityResponse struct {
	ChildID               string   `json:"child_id"`
	Eligible              bool     `json:"eligible"`
	Amount                string   `json:"amount"`
	Unit                  string   `json:"unit"`
	Reason                string   `json:"reason"`
	Completed             int      `json:"completed"`
	Total                 int      `json:"total"`
	CompletionRatePercent int      `json:"completion_rate_percent"`
	Missing               []string `json:"missing"`
}

type ClaimResponse struct {
	ChildID       string    `json:"child_id"`
	ParentAddress string    `json:"parent_address"`
	Amount        string    `json:"amount"`
	Unit          string    `json:"unit"`
	LedgerTx      string    `json:"ledger_tx"`
	BlockNumber   uint64    `json:"block_number"`
	ClaimedAt     time.Time `json:"claimed_at"`
}

type AwardResponse struct {
	Awarded   bool           `json:"awarded"`
	Simulated bool           `json:"simulated"`
	Reason    string         `json:"reason"`
	Claim     *ClaimResponse `json:"claim,omitempty"`
}

type StatsResponse struct {
	TotalAnchored           uint64 `json:"total_anchored"`
	TotalRewardsDistributed uint64 `json:"total_rewards_distributed"`
	TotalParentsRewarded    uint64 `json:"total_parents_rewarded"`
	LocalClaims             int    `json:"local_claims"`
	LocalAmount             string `json:"local_amount"`
	Unit                    string `json:"unit"`
}

func toEligibilityResponse(e *models.Eligibility) EligibilityResponse {
	missing := e.Missing
	if missing == nil {
		missing = []string{}
	}
	return EligibilityResponse{
		ChildID:               e.ChildID.String(),
		Eligible:              e.Eligible,
		Amount:                e.Amount.String(),
		Unit:                  e.Unit,
		Reason:                e.Reason,
		Completed:             e.Completed,
		Total:                 e.Total,
		CompletionRatePercent: e.CompletionRatePercent,
		Missing:               missing,
	}
}

func toClaimResponse(c *models.Claim) *ClaimResponse {
	if c == nil {
		return nil
	}
	return &ClaimResponse{
		ChildID:       c.ChildID.String(),
		ParentAddress: c.ParentAddress,
		Amount:        c.Amount.String(),
		Unit:          c.Unit,
		LedgerTx:      c.LedgerTx,
		BlockNumber:   c.BlockNumber,
		ClaimedAt:     c.ClaimedAt,
	}
}

func toStatsResponse(s *service.Stats) StatsResponse {
	return StatsResponse{
		TotalAnchored:           s.Ledger.TotalAnchored,
		TotalRewardsDistributed: s.Ledger.TotalRewardsDistributed,
		TotalParentsRewarded:    s.Ledger.TotalParentsRewarded,
		LocalClaims:             s.LocalClaims,
		LocalAmount:             s.LocalAmount.String(),
		Unit:                    s.Unit,
	}
}

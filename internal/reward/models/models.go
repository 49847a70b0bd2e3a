package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
)

// Claim is the local record of a reward the ledger accepted. The ledger's
// compare-and-set is what makes it one per child; this copy is informational.
type Claim struct {
	ChildID       id.ChildID
	ParentAddress string
	Amount        decimal.Decimal
	Unit          string
	LedgerTx      string
	BlockNumber   uint64
	ClaimedAt     time.Time
}

// NewClaim builds a claim from a ledger receipt.
func NewClaim(childID id.ChildID, parentAddress string, amount decimal.Decimal, unit, txHash string, block uint64, now time.Time) (*Claim, error) {
	if childID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "claim requires a child")
	}
	if !amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "claim amount must be positive")
	}
	if strings.TrimSpace(txHash) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "claim requires a ledger transaction")
	}
	return &Claim{
		ChildID:       childID,
		ParentAddress: parentAddress,
		Amount:        amount,
		Unit:          unit,
		LedgerTx:      txHash,
		BlockNumber:   block,
		ClaimedAt:     now,
	}, nil
}

// Eligibility is the reward verdict. Amount is zero unless Eligible.
type Eligibility struct {
	ChildID               id.ChildID
	Eligible              bool
	Amount                decimal.Decimal
	Unit                  string
	Reason                string
	Completed             int
	Total                 int
	CompletionRatePercent int
	Missing               []string
}

// AwardResult reports an Award call. Simulated results come from a process
// running without a ledger and are never persisted.
type AwardResult struct {
	Awarded   bool
	Simulated bool
	Reason    string
	Claim     *Claim
}

// Package ledger anchors record hashes on an append-only ledger and issues
// one-time parent rewards. The Client is the wire boundary; Anchor adds the
// timeout, breaker, metrics and tracing every caller needs.
package ledger

import "context"

// RecordRequest is the payload of a recordEvent call. Times are Unix seconds.
type RecordRequest struct {
	ChildID     string `json:"child_id"`
	VaccineName string `json:"vaccine_name"`
	DoseNumber  int    `json:"dose_number"`
	Timestamp   int64  `json:"timestamp"`
	FacilityID  string `json:"facility_id"`
	BatchID     string `json:"batch_id"`
	Expiry      int64  `json:"expiry"`
	ContentHash string `json:"content_hash"`
}

// Receipt identifies the ledger transaction that accepted a write.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// Stats are the ledger-wide counters.
type Stats struct {
	TotalAnchored           uint64 `json:"total_anchored"`
	TotalRewardsDistributed uint64 `json:"total_rewards_distributed"`
	TotalParentsRewarded    uint64 `json:"total_parents_rewarded"`
}

// Client is a ledger backend. Implementations return *Error so callers can
// tell transient failures from refusals.
type Client interface {
	// RecordEvent is idempotent: resubmitting an anchored record returns its
	// original receipt.
	RecordEvent(ctx context.Context, req RecordRequest) (Receipt, error)
	// FindRecord looks up the receipt of the first record anchored with contentHash.
	FindRecord(ctx context.Context, contentHash string) (Receipt, bool, error)
	// RewardParent fails with KindAlreadyRewarded when the child was rewarded before.
	RewardParent(ctx context.Context, parentAddress, childID string) (Receipt, error)
	Stats(ctx context.Context) (Stats, error)
}

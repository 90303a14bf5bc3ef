package engine

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// DISTRIBUTION GATEWAY - Credits reward points to a club wallet
// =============================================================================

// DistributionRequest asks the wallet service to credit a club.
type DistributionRequest struct {
	ClubID         ClubID
	Period         Period
	Amount         int64
	Reason         string
	IdempotencyKey string
	RequestedBy    string
}

// Validate enforces the gateway boundary contract: a club, a positive
// amount, a non-empty reason and an idempotency key.
func (r DistributionRequest) Validate() error {
	switch {
	case r.ClubID == "":
		return &ValidationError{Field: "club_id", Message: "is required"}
	case r.Amount <= 0:
		return &ValidationError{Field: "amount", Message: "must be positive"}
	case strings.TrimSpace(r.Reason) == "":
		return &ValidationError{Field: "reason", Message: "must not be empty"}
	case strings.TrimSpace(r.IdempotencyKey) == "":
		return &ValidationError{Field: "idempotency_key", Message: "is required"}
	}
	return nil
}

// DistributionReceipt acknowledges a credit.
type DistributionReceipt struct {
	Reference     string
	ClubID        ClubID
	Amount        int64
	DistributedAt time.Time
	Replayed      bool // true when the credit already existed for the key
}

// DistributionGateway performs the wallet mutation.
//
// Implementations must deduplicate on IdempotencyKey: a second request with
// the same key returns the original receipt together with
// ErrDuplicateDistribution and must not credit again.
type DistributionGateway interface {
	Distribute(ctx context.Context, req DistributionRequest) (DistributionReceipt, error)
}

// =============================================================================
// EVENT PUBLISHER - Notifies downstream systems of approvals
// =============================================================================

// RewardApproved is emitted once a record reaches APPROVED.
type RewardApproved struct {
	ClubID          ClubID
	Period          Period
	AwardLevel      AwardLevel
	FinalScore      string
	RewardPoints    int64
	DistributionRef string
	ApprovedBy      string
	ApprovedAt      time.Time
	IdempotencyKey  string
}

type EventPublisher interface {
	PublishRewardApproved(ctx context.Context, evt RewardApproved) error
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishRewardApproved(context.Context, RewardApproved) error { return nil }

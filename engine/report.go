/*
report.go - Club activity record and its lifecycle

STATES:
  ┌──────────────┐  recalculate  ┌──────────┐  lock  ┌────────┐  approve  ┌──────────┐
  │ UNCALCULATED │ ────────────▶ │ COMPUTED │ ─────▶ │ LOCKED │ ────────▶ │ APPROVED │
  └──────────────┘               └──────────┘        └────────┘           └──────────┘
                                   │     ▲
                                   └─────┘ recalculate (overwrites)

  - LOCKED freezes the month: no recalculation, no event edits.
  - APPROVED is terminal; the reward was handed to the distribution gateway.
  - There is no unlock and no revert.

INVARIANT:
  approved => locked. Locked() is true for both LOCKED and APPROVED, so the
  invariant holds by construction rather than by two flags kept in sync.
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

type RecordState string

const (
	StateUncalculated RecordState = "UNCALCULATED"
	StateComputed     RecordState = "COMPUTED"
	StateLocked       RecordState = "LOCKED"
	StateApproved     RecordState = "APPROVED"
)

func (s RecordState) Valid() bool {
	switch s {
	case StateUncalculated, StateComputed, StateLocked, StateApproved:
		return true
	}
	return false
}

// Locked is true once staff froze the period.
func (s RecordState) Locked() bool { return s == StateLocked || s == StateApproved }

// Approved is true once the reward was distributed.
func (s RecordState) Approved() bool { return s == StateApproved }

// ClubActivityRecord is the scored month of one club.
type ClubActivityRecord struct {
	ClubID ClubID
	Period Period

	Metrics ActivityMetrics

	AwardScore   decimal.Decimal
	FinalScore   decimal.Decimal
	AwardLevel   AwardLevel
	RewardPoints int64
	Breakdown    []DimensionScore

	State      RecordState
	ComputedAt time.Time
	ComputedBy string
	LockedAt   *time.Time
	LockedBy   string
	ApprovedAt *time.Time
	ApprovedBy string

	// DistributionRef is the gateway's reference for the reward credit.
	DistributionRef string
}

func (r ClubActivityRecord) Key() RecordKey { return RecordKey{ClubID: r.ClubID, Period: r.Period} }
func (r ClubActivityRecord) Locked() bool   { return r.State.Locked() }
func (r ClubActivityRecord) Approved() bool { return r.State.Approved() }

// uncalculated is the placeholder for a known club with no record yet.
func uncalculated(key RecordKey) ClubActivityRecord {
	return ClubActivityRecord{
		ClubID:     key.ClubID,
		Period:     key.Period,
		AwardScore: decimal.Zero,
		FinalScore: decimal.Zero,
		Metrics: ActivityMetrics{
			EventSuccessRate:      decimal.Zero,
			AvgFeedback:           decimal.Zero,
			AvgStaffParticipation: decimal.Zero,
		},
		State: StateUncalculated,
	}
}

// =============================================================================
// TRANSITION GUARDS
// =============================================================================

// checkRecalculate allows UNCALCULATED and COMPUTED only.
func checkRecalculate(key RecordKey, state RecordState) error {
	switch state {
	case StateLocked:
		return &AlreadyLockedError{Key: key, State: state}
	case StateApproved:
		return &AlreadyApprovedError{Key: key}
	}
	return nil
}

// checkLock allows COMPUTED only.
func checkLock(key RecordKey, state RecordState) error {
	switch state {
	case StateComputed:
		return nil
	case StateLocked, StateApproved:
		return &AlreadyLockedError{Key: key, State: state}
	default:
		return &TransitionError{Key: key, From: state, To: StateLocked}
	}
}

// checkApprove allows LOCKED only.
func checkApprove(key RecordKey, state RecordState) error {
	switch state {
	case StateLocked:
		return nil
	case StateApproved:
		return &AlreadyApprovedError{Key: key}
	default:
		return &TransitionError{Key: key, From: state, To: StateApproved}
	}
}

// TransitionMeta is persisted together with a state change.
type TransitionMeta struct {
	Actor           string
	At              time.Time
	DistributionRef string
}

// RankedRecord is a record with its position in the period ranking.
type RankedRecord struct {
	Rank     int
	ClubName string
	Record   ClubActivityRecord
}

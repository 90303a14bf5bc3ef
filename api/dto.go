/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

NUMBERS:
  Scores, multipliers and balances are decimal strings ("66.70") so no
  client rounds them through a float.

TYPES:
  Policy:    PolicyDTO, request body is factory.PolicyJSON
  Record:    RecordDTO, MetricsDTO, DimensionDTO, RankingEntryDTO
  Workflow:  BulkResultDTO, ClubOutcomeDTO
  Events:    EventRequest, ContributionDTO
  Wallet:    WalletDTO, TransactionDTO
  Audit:     AuditEntryDTO
  Scenarios: ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/club-activity-engine/engine"
)

// =============================================================================
// POLICIES
// =============================================================================

// PolicyDTO represents a multiplier policy in API responses.
type PolicyDTO struct {
	ID            int64      `json:"id"`
	TargetType    string     `json:"target_type"`
	ActivityType  string     `json:"activity_type"`
	RuleName      string     `json:"rule_name"`
	Description   string     `json:"description,omitempty"`
	ConditionType string     `json:"condition_type"`
	MinThreshold  int        `json:"min_threshold"`
	MaxThreshold  int        `json:"max_threshold"`
	Multiplier    string     `json:"multiplier"`
	Active        bool       `json:"active"`
	UpdatedBy     string     `json:"updated_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

func toPolicyDTO(p engine.MultiplierPolicy) PolicyDTO {
	return PolicyDTO{
		ID:            int64(p.ID),
		TargetType:    string(p.TargetType),
		ActivityType:  p.ActivityType,
		RuleName:      p.RuleName,
		Description:   p.Description,
		ConditionType: string(p.ConditionType),
		MinThreshold:  p.MinThreshold,
		MaxThreshold:  p.MaxThreshold,
		Multiplier:    p.Multiplier.String(),
		Active:        p.Active,
		UpdatedBy:     p.UpdatedBy,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		DeletedAt:     p.DeletedAt,
	}
}

// =============================================================================
// RECORDS
// =============================================================================

// RecordDTO is a club's scored month.
type RecordDTO struct {
	ClubID          string         `json:"club_id"`
	Period          string         `json:"period"`
	Year            int            `json:"year"`
	Month           int            `json:"month"`
	State           string         `json:"state"`
	Metrics         MetricsDTO     `json:"metrics"`
	AwardScore      string         `json:"award_score"`
	FinalScore      string         `json:"final_score"`
	AwardLevel      string         `json:"award_level"`
	RewardPoints    int64          `json:"reward_points"`
	Breakdown       []DimensionDTO `json:"breakdown"`
	ComputedAt      *time.Time     `json:"computed_at,omitempty"`
	ComputedBy      string         `json:"computed_by,omitempty"`
	LockedAt        *time.Time     `json:"locked_at,omitempty"`
	LockedBy        string         `json:"locked_by,omitempty"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	ApprovedBy      string         `json:"approved_by,omitempty"`
	DistributionRef string         `json:"distribution_ref,omitempty"`
}

// MetricsDTO holds the raw monthly metrics.
type MetricsDTO struct {
	TotalEvents           int    `json:"total_events"`
	EventSuccessRate      string `json:"event_success_rate"`
	TotalCheckins         int    `json:"total_checkins"`
	AvgFeedback           string `json:"avg_feedback"`
	AvgStaffParticipation string `json:"avg_staff_participation"`
}

// DimensionDTO is one line of the score breakdown.
type DimensionDTO struct {
	Dimension    string `json:"dimension"`
	Absolute     string `json:"absolute"`
	Percent      string `json:"percent"`
	Weight       string `json:"weight"`
	Multiplier   string `json:"multiplier"`
	PolicyID     int64  `json:"policy_id,omitempty"`
	Contribution string `json:"contribution"`
}

// RankingEntryDTO is one row of a period ranking. Rank 0 means the club
// has no record yet.
type RankingEntryDTO struct {
	Rank     int       `json:"rank"`
	ClubName string    `json:"club_name"`
	Record   RecordDTO `json:"record"`
}

func toRecordDTO(rec engine.ClubActivityRecord) RecordDTO {
	dto := RecordDTO{
		ClubID: string(rec.ClubID),
		Period: rec.Period.String(),
		Year:   rec.Period.Year,
		Month:  int(rec.Period.Month),
		State:  string(rec.State),
		Metrics: MetricsDTO{
			TotalEvents:           rec.Metrics.TotalEvents,
			EventSuccessRate:      decString(rec.Metrics.EventSuccessRate),
			TotalCheckins:         rec.Metrics.TotalCheckins,
			AvgFeedback:           decString(rec.Metrics.AvgFeedback),
			AvgStaffParticipation: decString(rec.Metrics.AvgStaffParticipation),
		},
		AwardScore:      rec.AwardScore.StringFixed(2),
		FinalScore:      decString(rec.FinalScore),
		AwardLevel:      string(rec.AwardLevel),
		RewardPoints:    rec.RewardPoints,
		Breakdown:       make([]DimensionDTO, 0, len(rec.Breakdown)),
		ComputedBy:      rec.ComputedBy,
		LockedAt:        rec.LockedAt,
		LockedBy:        rec.LockedBy,
		ApprovedAt:      rec.ApprovedAt,
		ApprovedBy:      rec.ApprovedBy,
		DistributionRef: rec.DistributionRef,
	}
	if !rec.ComputedAt.IsZero() {
		at := rec.ComputedAt
		dto.ComputedAt = &at
	}
	for _, line := range rec.Breakdown {
		dto.Breakdown = append(dto.Breakdown, DimensionDTO{
			Dimension:    string(line.Dimension),
			Absolute:     decString(line.Reading.Absolute),
			Percent:      decString(line.Reading.Percent),
			Weight:       decString(line.Weight),
			Multiplier:   decString(line.Multiplier),
			PolicyID:     int64(line.PolicyID),
			Contribution: decString(line.Contribution),
		})
	}
	return dto
}

// =============================================================================
// WORKFLOW
// =============================================================================

// BulkResultDTO summarizes a recalculate-all run.
type BulkResultDTO struct {
	Period    string           `json:"period"`
	Succeeded int              `json:"succeeded"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Results   []ClubOutcomeDTO `json:"results"`
}

type ClubOutcomeDTO struct {
	ClubID  string     `json:"club_id"`
	Outcome string     `json:"outcome"`
	State   string     `json:"state,omitempty"`
	Record  *RecordDTO `json:"record,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func toBulkResultDTO(res engine.BulkResult) BulkResultDTO {
	dto := BulkResultDTO{
		Period:    res.Period.String(),
		Succeeded: res.Succeeded,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
		Results:   make([]ClubOutcomeDTO, 0, len(res.Results)),
	}
	for _, o := range res.Results {
		item := ClubOutcomeDTO{
			ClubID:  string(o.ClubID),
			Outcome: string(o.Outcome),
			State:   string(o.State),
			Error:   o.Error,
		}
		if o.Record != nil {
			rec := toRecordDTO(*o.Record)
			item.Record = &rec
		}
		dto.Results = append(dto.Results, item)
	}
	return dto
}

// =============================================================================
// EVENTS
// =============================================================================

// EventRequest is the body of PUT /api/clubs/{club}/events/{eventID}.
type EventRequest struct {
	Name          string          `json:"name"`
	StartsAt      time.Time       `json:"starts_at"`
	Status        string          `json:"status"`
	Registered    int             `json:"registered"`
	CheckedIn     int             `json:"checked_in"`
	FeedbackAvg   decimal.Decimal `json:"feedback_avg"`
	FeedbackCount int             `json:"feedback_count"`
	StaffAssigned int             `json:"staff_assigned"`
	StaffPresent  int             `json:"staff_present"`
}

// ContributionDTO is one event's share of the month.
type ContributionDTO struct {
	EventID     string `json:"event_id"`
	EventName   string `json:"event_name"`
	Feedback    string `json:"feedback"`
	CheckinRate string `json:"checkin_rate"`
	Weight      string `json:"weight"`
}

// =============================================================================
// WALLET
// =============================================================================

// WalletDTO is a club's reward balance with its history.
type WalletDTO struct {
	ClubID       string           `json:"club_id"`
	Balance      string           `json:"balance"`
	Unit         string           `json:"unit"`
	Transactions []TransactionDTO `json:"transactions"`
}

type TransactionDTO struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Delta          string    `json:"delta"`
	Reason         string    `json:"reason"`
	ReferenceID    string    `json:"reference_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actor_id,omitempty"`
	Action    string         `json:"action"`
	ClubID    string         `json:"club_id,omitempty"`
	PolicyID  int64          `json:"policy_id,omitempty"`
	Period    string         `json:"period,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	RetrySafe bool   `json:"retry_safe,omitempty"`
	Ambiguous bool   `json:"ambiguous,omitempty"`
	Details   any    `json:"details,omitempty"`
}

func decString(d decimal.Decimal) string {
	return d.String()
}

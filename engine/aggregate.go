package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CLUB EVENTS - Raw input to aggregation
// =============================================================================

type EventStatus string

const (
	EventScheduled EventStatus = "SCHEDULED"
	EventCompleted EventStatus = "COMPLETED"
	EventCancelled EventStatus = "CANCELLED"
)

func (s EventStatus) Valid() bool {
	return s == EventScheduled || s == EventCompleted || s == EventCancelled
}

// ClubEvent is one event a club organized, as reported by the club
// management backend.
type ClubEvent struct {
	EventID       string
	ClubID        ClubID
	Name          string
	StartsAt      time.Time
	Status        EventStatus
	Registered    int
	CheckedIn     int
	FeedbackAvg   decimal.Decimal // 0..5
	FeedbackCount int
	StaffAssigned int
	StaffPresent  int
	UpdatedAt     time.Time
}

var maxFeedback = decimal.NewFromInt(5)

func (e ClubEvent) Validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return &ValidationError{Field: "event_id", Message: "is required"}
	case e.ClubID == "":
		return &ValidationError{Field: "club_id", Message: "is required"}
	case e.StartsAt.IsZero():
		return &ValidationError{Field: "starts_at", Message: "is required"}
	case !e.Status.Valid():
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", e.Status)}
	case e.Registered < 0 || e.CheckedIn < 0 || e.FeedbackCount < 0 || e.StaffAssigned < 0 || e.StaffPresent < 0:
		return &ValidationError{Field: "counts", Message: "must not be negative"}
	case e.FeedbackAvg.IsNegative() || e.FeedbackAvg.GreaterThan(maxFeedback):
		return &ValidationError{Field: "feedback_avg", Message: "must be between 0 and 5"}
	}
	return nil
}

// Period returns the month the event counts toward.
func (e ClubEvent) Period() Period { return PeriodOf(e.StartsAt) }

// =============================================================================
// AGGREGATION
// =============================================================================

// ActivityMetrics are the raw monthly metrics of a club.
type ActivityMetrics struct {
	TotalEvents           int
	EventSuccessRate      decimal.Decimal // 0..1
	TotalCheckins         int
	AvgFeedback           decimal.Decimal // 0..5
	AvgStaffParticipation decimal.Decimal // 0..1
}

// Aggregate folds a month of events into ActivityMetrics.
//
//	TotalEvents           every event in the month, whatever its status
//	EventSuccessRate      completed / total
//	TotalCheckins         check-ins of completed events
//	AvgFeedback           feedback average weighted by response count
//	AvgStaffParticipation mean of present/assigned over completed events with staff
func Aggregate(events []ClubEvent) ActivityMetrics {
	m := ActivityMetrics{
		EventSuccessRate:      decimal.Zero,
		AvgFeedback:           decimal.Zero,
		AvgStaffParticipation: decimal.Zero,
	}
	if len(events) == 0 {
		return m
	}

	var completed, feedbackVotes, staffedEvents int
	feedbackSum, staffSum := decimal.Zero, decimal.Zero
	for _, e := range events {
		m.TotalEvents++
		if e.Status != EventCompleted {
			continue
		}
		completed++
		m.TotalCheckins += e.CheckedIn

		if e.FeedbackCount > 0 {
			feedbackSum = feedbackSum.Add(e.FeedbackAvg.Mul(decimal.NewFromInt(int64(e.FeedbackCount))))
			feedbackVotes += e.FeedbackCount
		}
		if e.StaffAssigned > 0 {
			ratio := decimal.NewFromInt(int64(e.StaffPresent)).Div(decimal.NewFromInt(int64(e.StaffAssigned)))
			if ratio.GreaterThan(one) {
				ratio = one
			}
			staffSum = staffSum.Add(ratio)
			staffedEvents++
		}
	}

	m.EventSuccessRate = decimal.NewFromInt(int64(completed)).
		Div(decimal.NewFromInt(int64(m.TotalEvents))).Round(4)
	if feedbackVotes > 0 {
		m.AvgFeedback = feedbackSum.Div(decimal.NewFromInt(int64(feedbackVotes))).Round(2)
	}
	if staffedEvents > 0 {
		m.AvgStaffParticipation = staffSum.Div(decimal.NewFromInt(int64(staffedEvents))).Round(4)
	}
	return m
}

// =============================================================================
// EVENT CONTRIBUTIONS - Per-event view for the club report
// =============================================================================

// EventContribution shows how much one event pulled the club's score.
type EventContribution struct {
	EventID     string
	EventName   string
	Feedback    decimal.Decimal // 0..5
	CheckinRate decimal.Decimal // 0..100
	Weight      decimal.Decimal // >= 0
}

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Contributions lists the events of a month in start order. Only completed
// events carry weight: the mean of their check-in rate and feedback, both
// scaled to 0..1.
func Contributions(events []ClubEvent) []EventContribution {
	sorted := make([]ClubEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].StartsAt.Equal(sorted[j].StartsAt) {
			return sorted[i].StartsAt.Before(sorted[j].StartsAt)
		}
		return sorted[i].EventID < sorted[j].EventID
	})

	out := make([]EventContribution, 0, len(sorted))
	for _, e := range sorted {
		rate := decimal.Zero
		if e.Registered > 0 {
			rate = decimal.NewFromInt(int64(e.CheckedIn)).
				Div(decimal.NewFromInt(int64(e.Registered))).Mul(hundred)
			if rate.GreaterThan(hundred) {
				rate = hundred
			}
		}
		rate = rate.Round(2)

		weight := decimal.Zero
		if e.Status == EventCompleted {
			weight = rate.Div(hundred).Add(e.FeedbackAvg.Div(maxFeedback)).Div(two).Round(4)
		}
		out = append(out, EventContribution{
			EventID:     e.EventID,
			EventName:   e.Name,
			Feedback:    e.FeedbackAvg,
			CheckinRate: rate,
			Weight:      weight,
		})
	}
	return out
}

package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/club-activity-engine/engine"
)

func mixedMonth() []engine.ClubEvent {
	e1 := completedEvent("chess", "e1", 3)
	e1.Registered, e1.CheckedIn = 20, 10
	e1.FeedbackAvg, e1.FeedbackCount = dec("4"), 10
	e1.StaffAssigned, e1.StaffPresent = 2, 1

	e2 := completedEvent("chess", "e2", 10)
	e2.Registered, e2.CheckedIn = 10, 10
	e2.FeedbackAvg, e2.FeedbackCount = dec("2"), 30
	e2.StaffAssigned, e2.StaffPresent = 0, 0

	e3 := completedEvent("chess", "e3", 17)
	e3.Status = engine.EventCancelled
	e3.Registered, e3.CheckedIn = 5, 0
	e3.FeedbackCount = 0

	e4 := completedEvent("chess", "e4", 24)
	e4.Status = engine.EventScheduled
	e4.FeedbackCount = 0

	// Deliberately out of start order.
	return []engine.ClubEvent{e4, e2, e3, e1}
}

func TestAggregate_MixedMonth(t *testing.T) {
	// GIVEN: 2 completed, 1 cancelled and 1 scheduled event
	// WHEN: Aggregating
	m := engine.Aggregate(mixedMonth())

	// THEN: Only completed events count toward check-ins, feedback and staff
	assert.Equal(t, 4, m.TotalEvents)
	assert.True(t, m.EventSuccessRate.Equal(dec("0.5")), "success %s", m.EventSuccessRate)
	assert.Equal(t, 20, m.TotalCheckins)
	assert.True(t, m.AvgFeedback.Equal(dec("2.5")), "feedback is weighted by responses: %s", m.AvgFeedback)
	assert.True(t, m.AvgStaffParticipation.Equal(dec("0.5")), "events without staff are ignored: %s", m.AvgStaffParticipation)
}

func TestAggregate_EmptyMonth(t *testing.T) {
	m := engine.Aggregate(nil)

	assert.Zero(t, m.TotalEvents)
	assert.True(t, m.EventSuccessRate.IsZero())
	assert.True(t, m.AvgFeedback.IsZero())
}

func TestAggregate_StaffRatioCapped(t *testing.T) {
	e := completedEvent("chess", "e1", 1)
	e.StaffAssigned, e.StaffPresent = 2, 5

	m := engine.Aggregate([]engine.ClubEvent{e})

	assert.True(t, m.AvgStaffParticipation.Equal(dec("1")))
}

func TestContributions_OrderedWithWeights(t *testing.T) {
	got := engine.Contributions(mixedMonth())

	require.Len(t, got, 4)
	assert.Equal(t, []string{"e1", "e2", "e3", "e4"}, []string{got[0].EventID, got[1].EventID, got[2].EventID, got[3].EventID})

	// e1: 50% check-in, 4/5 feedback => (0.5 + 0.8) / 2
	assert.True(t, got[0].CheckinRate.Equal(dec("50")))
	assert.True(t, got[0].Weight.Equal(dec("0.65")), "weight %s", got[0].Weight)
	// e2: 100% check-in, 2/5 feedback => (1 + 0.4) / 2
	assert.True(t, got[1].Weight.Equal(dec("0.7")))
	// Not completed: no weight
	assert.True(t, got[2].Weight.IsZero())
	assert.True(t, got[3].Weight.IsZero())
}

func TestClubEvent_Validate(t *testing.T) {
	valid := completedEvent("chess", "e1", 1)
	require.NoError(t, valid.Validate())

	bad := valid
	bad.FeedbackAvg = dec("5.5")
	assert.ErrorIs(t, bad.Validate(), engine.ErrValidation)

	bad = valid
	bad.Status = "POSTPONED"
	assert.ErrorIs(t, bad.Validate(), engine.ErrValidation)

	bad = valid
	bad.StartsAt = time.Time{}
	assert.ErrorIs(t, bad.Validate(), engine.ErrValidation)
}

// =============================================================================
// PERIODS
// =============================================================================

func TestPeriod_Basics(t *testing.T) {
	p, err := engine.ParsePeriod("2025-01")
	require.NoError(t, err)

	assert.Equal(t, "2024-12", p.Previous().String())
	assert.Equal(t, "2025-02", p.Next().String())
	assert.True(t, p.Contains(time.Date(2025, time.January, 31, 23, 59, 0, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)))

	last := p.LastN(3)
	require.Len(t, last, 3)
	assert.Equal(t, "2024-11", last[0].String())
	assert.Equal(t, "2025-01", last[2].String())

	assert.Error(t, engine.NewPeriod(2025, 13).Validate())
}

func TestPeriod_ValidateYearRange(t *testing.T) {
	// GIVEN: The last four-digit year
	last := engine.NewPeriod(engine.MaxYear, time.December)

	// THEN: It validates and round-trips through String and ParsePeriod
	require.NoError(t, last.Validate())
	parsed, err := engine.ParsePeriod(last.String())
	require.NoError(t, err)
	assert.Equal(t, last, parsed)

	// WHEN: The year needs five digits
	err = engine.NewPeriod(engine.MaxYear+1, time.January).Validate()

	// THEN: It is rejected on the year field
	var vErr *engine.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "year", vErr.Field)

	_, err = engine.ParsePeriod(engine.NewPeriod(10000, time.January).String())
	assert.Error(t, err)
}

func TestRecordKey_IdempotencyKey(t *testing.T) {
	key := engine.NewRecordKey("chess", 2025, time.March)
	assert.Equal(t, "club-reward:chess:2025-03", key.IdempotencyKey())
}

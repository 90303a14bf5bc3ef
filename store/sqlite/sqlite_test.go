package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/club-activity-engine/engine"
	"github.com/warp/club-activity-engine/store/sqlite"
)

var march2025 = engine.NewPeriod(2025, time.March)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func computed(club engine.ClubID) engine.ClubActivityRecord {
	return engine.ClubActivityRecord{
		ClubID: club,
		Period: march2025,
		Metrics: engine.ActivityMetrics{
			TotalEvents:           4,
			EventSuccessRate:      dec("0.75"),
			TotalCheckins:         80,
			AvgFeedback:           dec("4.2"),
			AvgStaffParticipation: dec("0.9"),
		},
		AwardScore:   dec("66.70"),
		FinalScore:   dec("66.7"),
		AwardLevel:   engine.AwardSilver,
		RewardPoints: 120,
		Breakdown: []engine.DimensionScore{{
			Dimension:    engine.DimensionFeedback,
			Reading:      engine.MetricReading{Absolute: dec("4.2"), Percent: dec("84")},
			Normalized:   dec("0.84"),
			Weight:       dec("25"),
			Multiplier:   dec("1.1"),
			PolicyID:     3,
			Contribution: dec("23.1"),
		}},
		State:      engine.StateComputed,
		ComputedAt: time.Date(2025, time.March, 31, 12, 0, 0, 0, time.UTC),
		ComputedBy: "staff",
	}
}

// =============================================================================
// CLUBS AND EVENTS
// =============================================================================

func TestStore_ClubsAndEvents(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SaveClub(ctx, engine.Club{ID: "chess", Name: "Chess"}))
	require.NoError(t, s.SaveClub(ctx, engine.Club{ID: "chess", Name: "Chess Society"}))

	club, err := s.GetClub(ctx, "chess")
	require.NoError(t, err)
	assert.Equal(t, "Chess Society", club.Name)

	_, err = s.GetClub(ctx, "go")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	inMarch := engine.ClubEvent{
		EventID: "e1", ClubID: "chess", Name: "Blitz night",
		StartsAt: time.Date(2025, time.March, 31, 23, 30, 0, 0, time.UTC),
		Status:   engine.EventCompleted, Registered: 10, CheckedIn: 8,
		FeedbackAvg: dec("4.5"), FeedbackCount: 6, StaffAssigned: 1, StaffPresent: 1,
	}
	inApril := inMarch
	inApril.EventID = "e2"
	inApril.StartsAt = time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveEvent(ctx, inMarch))
	require.NoError(t, s.SaveEvent(ctx, inApril))

	events, err := s.ClubEvents(ctx, "chess", march2025)
	require.NoError(t, err)
	require.Len(t, events, 1, "the month is half-open")
	assert.Equal(t, "e1", events[0].EventID)
	assert.True(t, events[0].FeedbackAvg.Equal(dec("4.5")))
	assert.True(t, events[0].StartsAt.Equal(inMarch.StartsAt))

	got, err := s.GetEvent(ctx, "chess", "e2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, engine.NewPeriod(2025, time.April), got.Period())

	missing, err := s.GetEvent(ctx, "chess", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// POLICIES
// =============================================================================

func TestStore_PolicyLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

	p, err := s.CreatePolicy(ctx, engine.MultiplierPolicy{
		TargetType: engine.TargetClub, ActivityType: "FEEDBACK", RuleName: "great feedback",
		ConditionType: engine.ConditionAbsolute, MinThreshold: 4, MaxThreshold: 6,
		Multiplier: dec("1.25"), Active: true, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.PolicyID(1), p.ID)

	p.Multiplier = dec("1.5")
	require.NoError(t, s.UpdatePolicy(ctx, p))

	got, err := s.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Multiplier.Equal(dec("1.5")))
	assert.Nil(t, got.DeletedAt)

	// Soft delete keeps the row
	require.NoError(t, s.DeletePolicy(ctx, p.ID, "staff", now.Add(time.Hour)))
	require.NoError(t, s.DeletePolicy(ctx, p.ID, "staff", now.Add(2*time.Hour)), "deleting twice is a no-op")

	got, err = s.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	assert.False(t, got.Active)
	assert.True(t, got.DeletedAt.Equal(now.Add(time.Hour)))

	live, err := s.ListPolicies(ctx, engine.PolicyFilter{})
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := s.ListPolicies(ctx, engine.PolicyFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.ErrorIs(t, s.UpdatePolicy(ctx, *got), engine.ErrNotFound, "deleted policies are immutable")
	assert.ErrorIs(t, s.DeletePolicy(ctx, 99, "staff", now), engine.ErrNotFound)
}

// =============================================================================
// RECORDS
// =============================================================================

func TestStore_SaveComputedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	rec := computed("chess")

	require.NoError(t, s.SaveComputed(ctx, rec))

	got, err := s.GetRecord(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, engine.StateComputed, got.State)
	assert.True(t, got.AwardScore.Equal(dec("66.70")))
	assert.Equal(t, int64(120), got.RewardPoints)
	assert.Equal(t, 80, got.Metrics.TotalCheckins)
	require.Len(t, got.Breakdown, 1)
	assert.Equal(t, engine.PolicyID(3), got.Breakdown[0].PolicyID)
	assert.True(t, got.Breakdown[0].Contribution.Equal(dec("23.1")))
	assert.Nil(t, got.LockedAt)

	// Overwrite while COMPUTED
	rec.RewardPoints = 130
	require.NoError(t, s.SaveComputed(ctx, rec))
	got, err = s.GetRecord(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(130), got.RewardPoints)
}

func TestStore_LockedRecordIsNeverOverwritten(t *testing.T) {
	// GIVEN: A locked record
	ctx := context.Background()
	s := newStore(t)
	rec := computed("chess")
	require.NoError(t, s.SaveComputed(ctx, rec))
	require.NoError(t, s.Transition(ctx, rec.Key(), engine.StateComputed, engine.StateLocked,
		engine.TransitionMeta{Actor: "staff", At: time.Now()}))

	// WHEN: Saving a new computation
	changed := rec
	changed.RewardPoints = 999
	err := s.SaveComputed(ctx, changed)

	// THEN: The store refuses and the record is untouched
	assert.ErrorIs(t, err, engine.ErrAlreadyLocked)
	got, err := s.GetRecord(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(120), got.RewardPoints)
	assert.Equal(t, engine.StateLocked, got.State)
	assert.Equal(t, "staff", got.LockedBy)

	// And once approved the error says so
	require.NoError(t, s.Transition(ctx, rec.Key(), engine.StateLocked, engine.StateApproved,
		engine.TransitionMeta{Actor: "admin", At: time.Now(), DistributionRef: "tx-1"}))
	assert.ErrorIs(t, s.SaveComputed(ctx, changed), engine.ErrAlreadyApproved)

	got, err = s.GetRecord(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, "tx-1", got.DistributionRef)
	require.NotNil(t, got.ApprovedAt)
}

func TestStore_TransitionIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	rec := computed("chess")
	require.NoError(t, s.SaveComputed(ctx, rec))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Transition(ctx, rec.Key(), engine.StateComputed, engine.StateLocked,
				engine.TransitionMeta{Actor: "staff", At: time.Now()})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, engine.ErrConcurrentModification)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)

	missing := engine.RecordKey{ClubID: "nobody", Period: march2025}
	err := s.Transition(ctx, missing, engine.StateComputed, engine.StateLocked, engine.TransitionMeta{})
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestStore_ListRecords(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, club := range []engine.ClubID{"go", "chess"} {
		require.NoError(t, s.SaveComputed(ctx, computed(club)))
	}
	feb := computed("chess")
	feb.Period = march2025.Previous()
	require.NoError(t, s.SaveComputed(ctx, feb))

	march, err := s.ListRecords(ctx, march2025)
	require.NoError(t, err)
	require.Len(t, march, 2)
	assert.Equal(t, engine.ClubID("chess"), march[0].ClubID)

	history, err := s.ListClubRecords(ctx, "chess", march2025.Previous(), march2025)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2025-02", history[0].Period.String())
}

// =============================================================================
// LEDGER AND AUDIT
// =============================================================================

func TestStore_LedgerRejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	tx := engine.Transaction{
		ID: "tx-1", ClubID: "chess", Delta: engine.Points(120), Type: engine.TxReward,
		Reason: "reward", IdempotencyKey: "club-reward:chess:2025-03",
		Metadata: map[string]string{"period": "2025-03"}, CreatedAt: time.Now(),
	}
	require.NoError(t, s.Append(ctx, tx))

	dup := tx
	dup.ID = "tx-2"
	assert.ErrorIs(t, s.Append(ctx, dup), engine.ErrDuplicateIdempotencyKey)

	txs, err := s.Load(ctx, "chess")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Delta.Value.Equal(dec("120")))
	assert.Equal(t, "2025-03", txs[0].Metadata["period"])

	found, err := s.FindByIdempotencyKey(ctx, tx.IdempotencyKey)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, engine.TransactionID("tx-1"), found.ID)

	none, err := s.FindByIdempotencyKey(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_AuditQuery(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	audit := s.AuditLog()
	base := time.Date(2025, time.March, 31, 10, 0, 0, 0, time.UTC)

	require.NoError(t, audit.Append(ctx, engine.AuditEntry{ID: "a1", Timestamp: base, Action: engine.AuditRecordComputed, ClubID: "chess", Period: "2025-03"}))
	require.NoError(t, audit.Append(ctx, engine.AuditEntry{ID: "a2", Timestamp: base.Add(time.Minute), Action: engine.AuditRecordLocked, ClubID: "chess", Period: "2025-03"}))
	require.NoError(t, audit.Append(ctx, engine.AuditEntry{ID: "a3", Timestamp: base.Add(2 * time.Minute), Action: engine.AuditPolicyCreated, PolicyID: 7, Payload: map[string]any{"rule_name": "x"}}))

	club := engine.ClubID("chess")
	entries, err := audit.Query(ctx, engine.AuditFilter{ClubID: &club})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a2", entries[0].ID, "newest first")

	policy := engine.PolicyID(7)
	entries, err = audit.Query(ctx, engine.AuditFilter{PolicyID: &policy})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].Payload["rule_name"])

	entries, err = audit.Query(ctx, engine.AuditFilter{Actions: []engine.AuditAction{engine.AuditRecordComputed, engine.AuditRecordLocked}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a2", entries[0].ID)

	require.NoError(t, s.Reset(ctx))
	entries, err = audit.Query(ctx, engine.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

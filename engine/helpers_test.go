package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/club-activity-engine/engine"
	"github.com/warp/club-activity-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var march2025 = engine.NewPeriod(2025, time.March)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
func decInt(n int) decimal.Decimal { return decimal.NewFromInt(int64(n)) }

func testTiers() engine.TierTable {
	return engine.TierTable{
		{Level: engine.AwardBronze, MinScore: dec("40"), BasePoints: 50, PointsPerScore: dec("2"), MaxPoints: 80},
		{Level: engine.AwardSilver, MinScore: dec("60"), BasePoints: 100, PointsPerScore: dec("3"), MaxPoints: 145},
		{Level: engine.AwardGold, MinScore: dec("75"), BasePoints: 150, PointsPerScore: dec("4"), MaxPoints: 210},
		{Level: engine.AwardPlatinum, MinScore: dec("90"), BasePoints: 250, PointsPerScore: dec("5"), MaxPoints: 300},
	}
}

func testConfig() engine.ScoringConfig {
	return engine.ScoringConfig{
		Weights: map[engine.Dimension]decimal.Decimal{
			engine.DimensionEvents:             dec("20"),
			engine.DimensionSuccessRate:        dec("20"),
			engine.DimensionCheckins:           dec("20"),
			engine.DimensionFeedback:           dec("25"),
			engine.DimensionStaffParticipation: dec("15"),
		},
		EventTarget:   4,
		CheckinTarget: 100,
		Tiers:         testTiers(),
	}
}

func newCalculator(t *testing.T) *engine.Calculator {
	t.Helper()
	calc, err := engine.NewCalculator(testConfig())
	require.NoError(t, err)
	return calc
}

func clubPolicy(activity string, cond engine.ConditionType, min, max int, multiplier string) engine.MultiplierPolicy {
	return engine.MultiplierPolicy{
		TargetType:    engine.TargetClub,
		ActivityType:  activity,
		RuleName:      fmt.Sprintf("%s %d-%d", activity, min, max),
		ConditionType: cond,
		MinThreshold:  min,
		MaxThreshold:  max,
		Multiplier:    dec(multiplier),
		Active:        true,
	}
}

// completedEvent is an event with a perfect turnout unless tweaked.
func completedEvent(club engine.ClubID, id string, day int) engine.ClubEvent {
	return engine.ClubEvent{
		EventID:       id,
		ClubID:        club,
		Name:          "Event " + id,
		StartsAt:      time.Date(2025, time.March, day, 18, 0, 0, 0, time.UTC),
		Status:        engine.EventCompleted,
		Registered:    25,
		CheckedIn:     25,
		FeedbackAvg:   dec("5"),
		FeedbackCount: 10,
		StaffAssigned: 2,
		StaffPresent:  2,
	}
}

// recordingGateway counts calls and credits, deduplicating on the
// idempotency key like a real wallet service.
type recordingGateway struct {
	mu       sync.Mutex
	calls    []engine.DistributionRequest
	credited map[string]engine.DistributionReceipt

	// failAfterCredit makes the next call credit the wallet and then
	// report a timeout, as a dropped response would.
	failAfterCredit bool
	// failBefore makes the next call fail without crediting.
	failBefore error
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{credited: make(map[string]engine.DistributionReceipt)}
}

func (g *recordingGateway) Distribute(_ context.Context, req engine.DistributionRequest) (engine.DistributionReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)

	if err := g.failBefore; err != nil {
		g.failBefore = nil
		return engine.DistributionReceipt{}, err
	}
	if receipt, ok := g.credited[req.IdempotencyKey]; ok {
		receipt.Replayed = true
		return receipt, engine.ErrDuplicateDistribution
	}
	receipt := engine.DistributionReceipt{
		Reference:     fmt.Sprintf("tx-%d", len(g.credited)+1),
		ClubID:        req.ClubID,
		Amount:        req.Amount,
		DistributedAt: time.Now(),
	}
	g.credited[req.IdempotencyKey] = receipt

	if g.failAfterCredit {
		g.failAfterCredit = false
		return engine.DistributionReceipt{}, context.DeadlineExceeded
	}
	return receipt, nil
}

func (g *recordingGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *recordingGateway) creditCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.credited)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []engine.RewardApproved
}

func (p *recordingPublisher) PublishRewardApproved(_ context.Context, evt engine.RewardApproved) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type fixture struct {
	mem       *store.Memory
	gateway   *recordingGateway
	publisher *recordingPublisher
	wf        *engine.Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	gw := newRecordingGateway()
	pub := &recordingPublisher{}
	wf := &engine.Workflow{
		Policies:    mem,
		Records:     mem,
		Metrics:     mem,
		Events:      mem,
		Gateway:     gw,
		Publisher:   pub,
		Audit:       mem.AuditLog(),
		Calculator:  newCalculator(t),
		Concurrency: 3,
		Now:         func() time.Time { return time.Date(2025, time.March, 31, 12, 0, 0, 0, time.UTC) },
	}
	return &fixture{mem: mem, gateway: gw, publisher: pub, wf: wf}
}

// addClub registers a club with n perfect March events.
func (f *fixture) addClub(t *testing.T, id engine.ClubID, n int) engine.RecordKey {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.wf.RegisterClub(ctx, engine.Club{ID: id, Name: "Club " + string(id)}))
	for i := 0; i < n; i++ {
		require.NoError(t, f.wf.SaveEvent(ctx, completedEvent(id, fmt.Sprintf("%s-e%d", id, i), i+1), "leader"))
	}
	return engine.RecordKey{ClubID: id, Period: march2025}
}

// lockedRecord stores a LOCKED record with the given reward directly.
func (f *fixture) lockedRecord(t *testing.T, id engine.ClubID, points int64) engine.RecordKey {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.wf.RegisterClub(ctx, engine.Club{ID: id, Name: "Club " + string(id)}))
	key := engine.RecordKey{ClubID: id, Period: march2025}
	require.NoError(t, f.mem.SaveComputed(ctx, engine.ClubActivityRecord{
		ClubID:       id,
		Period:       march2025,
		AwardScore:   dec("66.70"),
		FinalScore:   dec("66.7"),
		AwardLevel:   engine.AwardSilver,
		RewardPoints: points,
		State:        engine.StateComputed,
	}))
	_, err := f.wf.Lock(ctx, key, "staff")
	require.NoError(t, err)
	return key
}

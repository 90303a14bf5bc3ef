package rewards_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/club-activity-engine/engine"
	"github.com/warp/club-activity-engine/factory"
	"github.com/warp/club-activity-engine/gateway"
	"github.com/warp/club-activity-engine/rewards"
	"github.com/warp/club-activity-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func march(day int) time.Time {
	return time.Date(2025, time.March, day, 18, 0, 0, 0, time.UTC)
}

func newWorkflow(t *testing.T, store *sqlite.Store) (*engine.Workflow, engine.Ledger) {
	calc, err := engine.NewCalculator(rewards.DefaultScoringConfig())
	if err != nil {
		t.Fatalf("Default config rejected: %v", err)
	}
	wallets := engine.NewLedger(store)
	return &engine.Workflow{
		Policies:   store,
		Records:    store,
		Metrics:    store,
		Events:     store,
		Gateway:    gateway.NewLedger(wallets),
		Audit:      store.AuditLog(),
		Calculator: calc,
		Now:        func() time.Time { return time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC) },
	}, wallets
}

// =============================================================================
// DEFAULTS
// =============================================================================

func TestDefaultScoringConfig_IsValid(t *testing.T) {
	cfg := rewards.DefaultScoringConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}

	sum := decimal.Zero
	for _, w := range cfg.Weights {
		sum = sum.Add(w)
	}
	if !sum.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected weights to sum to 100, got %s", sum)
	}
}

func TestDefaultTierTable_PointsExample(t *testing.T) {
	// GIVEN: The default tier table
	// WHEN: Resolving a SILVER club at 66.70
	r := engine.Resolver{Tiers: rewards.DefaultTierTable()}
	got := r.Resolve(dec("66.70"), engine.AwardSilver)

	// THEN: 100 + 6.70 * 3 = 120.1, floored
	if got != 120 {
		t.Errorf("Expected 120 points, got %d", got)
	}
}

func TestStandardPolicies_AreValidAndDisjoint(t *testing.T) {
	policies := rewards.StandardClubPolicies()
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			t.Errorf("%s: %v", p.RuleName, err)
		}
	}

	for i, a := range policies {
		for _, b := range policies[i+1:] {
			if a.ActivityType != b.ActivityType {
				continue
			}
			if a.MinThreshold < b.MaxThreshold && b.MinThreshold < a.MaxThreshold {
				t.Errorf("%q overlaps %q", a.RuleName, b.RuleName)
			}
		}
	}
}

func TestStandardPoliciesJSON_RoundTripsThroughFactory(t *testing.T) {
	parsed, err := factory.NewPolicyFactory().ParsePolicies(rewards.StandardPoliciesJSON())
	if err != nil {
		t.Fatalf("Failed to parse presets: %v", err)
	}

	want := rewards.StandardClubPolicies()
	if len(parsed) != len(want) {
		t.Fatalf("Expected %d policies, got %d", len(want), len(parsed))
	}
	for i := range want {
		if parsed[i].RuleName != want[i].RuleName || !parsed[i].Multiplier.Equal(want[i].Multiplier) {
			t.Errorf("Policy %d differs: %+v vs %+v", i, parsed[i], want[i])
		}
	}

	single, err := factory.NewPolicyFactory().ParsePolicy(
		rewards.PolicyJSON("feedback", "Any", "absolute", 0, 6, "1"))
	if err != nil {
		t.Fatalf("Failed to parse single preset: %v", err)
	}
	if single.ActivityType != "FEEDBACK" || single.ConditionType != engine.ConditionAbsolute {
		t.Errorf("Expected normalized labels, got %s/%s", single.ActivityType, single.ConditionType)
	}
}

// =============================================================================
// END TO END WITH PRESETS
// =============================================================================

func TestPresets_MonthToWallet(t *testing.T) {
	// GIVEN: A club with a strong but not perfect month and the preset policies
	ctx := context.Background()
	store := newTestStore(t)
	wf, wallets := newWorkflow(t, store)

	svc := &engine.PolicyService{Store: store, Audit: store.AuditLog()}
	for _, p := range rewards.StandardClubPolicies() {
		if _, err := svc.Create(ctx, p, "seed"); err != nil {
			t.Fatalf("Failed to create %s: %v", p.RuleName, err)
		}
	}

	if err := wf.RegisterClub(ctx, engine.Club{ID: "chess", Name: "Chess"}); err != nil {
		t.Fatalf("Failed to register club: %v", err)
	}
	events := []engine.ClubEvent{
		{EventID: "e1", StartsAt: march(4), Status: engine.EventCompleted, Registered: 30, CheckedIn: 30,
			FeedbackAvg: dec("4"), FeedbackCount: 10, StaffAssigned: 2, StaffPresent: 1},
		{EventID: "e2", StartsAt: march(11), Status: engine.EventCompleted, Registered: 30, CheckedIn: 30,
			FeedbackAvg: dec("4"), FeedbackCount: 10, StaffAssigned: 2, StaffPresent: 1},
		{EventID: "e3", StartsAt: march(18), Status: engine.EventCancelled},
		{EventID: "e4", StartsAt: march(25), Status: engine.EventCancelled},
	}
	for _, e := range events {
		e.ClubID = "chess"
		e.Name = "Meetup " + e.EventID
		if err := wf.SaveEvent(ctx, e, "leader"); err != nil {
			t.Fatalf("Failed to save %s: %v", e.EventID, err)
		}
	}

	// WHEN: Staff recalculates, locks and approves
	key := engine.NewRecordKey("chess", 2025, time.March)
	rec, err := wf.Recalculate(ctx, key, "staff")
	if err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}

	// THEN: 20 events + 15 success (x1.5) + 12 check-ins + 24 feedback (x1.2) + 7.5 staff
	if !rec.FinalScore.Equal(dec("78.5")) {
		t.Errorf("Expected final score 78.5, got %s", rec.FinalScore)
	}
	if rec.AwardLevel != engine.AwardGold {
		t.Errorf("Expected GOLD, got %s", rec.AwardLevel)
	}
	// 150 + 3.50 * 4 = 164
	if rec.RewardPoints != 164 {
		t.Errorf("Expected 164 points, got %d", rec.RewardPoints)
	}

	if _, err := wf.Lock(ctx, key, "staff"); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	approved, err := wf.Approve(ctx, key, "admin")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.State != engine.StateApproved || approved.DistributionRef == "" {
		t.Errorf("Expected approved record with a distribution ref, got %+v", approved)
	}

	balance, err := wallets.Balance(ctx, "chess")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !balance.Value.Equal(decimal.NewFromInt(164)) {
		t.Errorf("Expected wallet balance 164, got %s", balance.Value)
	}

	tx, err := wallets.ByIdempotencyKey(ctx, key.IdempotencyKey())
	if err != nil || tx == nil {
		t.Fatalf("Expected the reward transaction under %s: %v", key.IdempotencyKey(), err)
	}
	if string(tx.ID) != approved.DistributionRef {
		t.Errorf("Distribution ref %s does not match transaction %s", approved.DistributionRef, tx.ID)
	}
}

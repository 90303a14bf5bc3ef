package factory_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/club-activity-engine/engine"
	"github.com/warp/club-activity-engine/factory"
	"github.com/warp/club-activity-engine/rewards"
)

func TestParsePolicy_NormalizesAndDefaults(t *testing.T) {
	f := factory.NewPolicyFactory()

	p, err := f.ParsePolicy(`{
		"target_type": "club",
		"activity_type": " success_rate ",
		"rule_name": "Low success penalty",
		"condition_type": "percentage",
		"min_threshold": 0,
		"max_threshold": 50,
		"multiplier": 0.8
	}`)

	require.NoError(t, err)
	assert.Equal(t, engine.TargetClub, p.TargetType)
	assert.Equal(t, "SUCCESS_RATE", p.ActivityType)
	assert.Equal(t, engine.ConditionPercentage, p.ConditionType)
	assert.True(t, p.Multiplier.Equal(decimal.RequireFromString("0.8")))
	assert.True(t, p.Active, "active defaults to true")
}

func TestParsePolicy_RejectsInvalid(t *testing.T) {
	f := factory.NewPolicyFactory()

	tests := []struct {
		name  string
		json  string
		field string
	}{
		{"empty range", `{"target_type":"CLUB","activity_type":"EVENTS","rule_name":"x","condition_type":"ABSOLUTE","min_threshold":5,"max_threshold":5,"multiplier":"1"}`, "max_threshold"},
		{"percentage above 101", `{"target_type":"CLUB","activity_type":"EVENTS","rule_name":"x","condition_type":"PERCENTAGE","min_threshold":0,"max_threshold":150,"multiplier":"1"}`, "max_threshold"},
		{"negative multiplier", `{"target_type":"CLUB","activity_type":"EVENTS","rule_name":"x","condition_type":"ABSOLUTE","min_threshold":0,"max_threshold":5,"multiplier":"-1"}`, "multiplier"},
		{"unknown target", `{"target_type":"TEAM","activity_type":"EVENTS","rule_name":"x","condition_type":"ABSOLUTE","min_threshold":0,"max_threshold":5,"multiplier":"1"}`, "target_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParsePolicy(tt.json)
			var vErr *engine.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	_, err := f.ParsePolicy(`{not json`)
	assert.Error(t, err)
}

func TestParsePolicies_FailsWholeBatch(t *testing.T) {
	_, err := factory.NewPolicyFactory().ParsePolicies([]byte(`[
		{"target_type":"CLUB","activity_type":"EVENTS","rule_name":"ok","condition_type":"ABSOLUTE","min_threshold":0,"max_threshold":5,"multiplier":"1"},
		{"target_type":"CLUB","activity_type":"EVENTS","rule_name":"","condition_type":"ABSOLUTE","min_threshold":0,"max_threshold":5,"multiplier":"1"}
	]`))

	assert.ErrorIs(t, err, engine.ErrValidation)
	assert.Contains(t, err.Error(), "policy 1")
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := factory.NewPolicyFactory()
	original := rewards.GreatFeedbackBonus()
	original.Active = false

	back, err := f.FromJSON(factory.ToJSON(original))

	require.NoError(t, err)
	assert.Equal(t, original.RuleName, back.RuleName)
	assert.False(t, back.Active)
	assert.True(t, original.Multiplier.Equal(back.Multiplier))
}

// =============================================================================
// SCORING CONFIG
// =============================================================================

func TestParseScoringConfig_OverlaysDefaults(t *testing.T) {
	// GIVEN: A document that only changes two weights and the event target
	data := []byte(`{"weights": {"events": 15, "feedback": 30}, "event_target": 6}`)

	// WHEN: Parsing on top of the defaults
	cfg, err := factory.NewPolicyFactory().ParseScoringConfig(data, rewards.DefaultScoringConfig())

	// THEN: Only those fields change
	require.NoError(t, err)
	assert.True(t, cfg.Weights[engine.DimensionEvents].Equal(decimal.NewFromInt(15)))
	assert.True(t, cfg.Weights[engine.DimensionFeedback].Equal(decimal.NewFromInt(30)))
	assert.True(t, cfg.Weights[engine.DimensionCheckins].Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 6, cfg.EventTarget)
	assert.Equal(t, rewards.DefaultCheckinTarget, cfg.CheckinTarget)
	assert.Len(t, cfg.Tiers, 4)
}

func TestParseScoringConfig_ReplacesTiers(t *testing.T) {
	data := []byte(`{"tiers": [
		{"level": "bronze",   "min_score": 30, "base_points": 20,  "points_per_score": 1, "max_points": 40},
		{"level": "silver",   "min_score": 50, "base_points": 50,  "points_per_score": 2, "max_points": 90},
		{"level": "gold",     "min_score": 70, "base_points": 100, "points_per_score": 3, "max_points": 150},
		{"level": "platinum", "min_score": 85, "base_points": 200, "points_per_score": 4, "max_points": 260}
	]}`)

	cfg, err := factory.NewPolicyFactory().ParseScoringConfig(data, rewards.DefaultScoringConfig())

	require.NoError(t, err)
	assert.Equal(t, engine.AwardSilver, cfg.Tiers.LevelFor(decimal.NewFromInt(55)))
}

func TestParseScoringConfig_Rejects(t *testing.T) {
	f := factory.NewPolicyFactory()

	_, err := f.ParseScoringConfig([]byte(`{"weights": {"karma": 10}}`), rewards.DefaultScoringConfig())
	assert.ErrorIs(t, err, engine.ErrValidation)

	// SILVER cap above GOLD base breaks tier monotonicity
	_, err = f.ParseScoringConfig([]byte(`{"tiers": [
		{"level": "BRONZE",   "min_score": 40, "base_points": 50,  "points_per_score": 2, "max_points": 80},
		{"level": "SILVER",   "min_score": 60, "base_points": 100, "points_per_score": 3, "max_points": 200},
		{"level": "GOLD",     "min_score": 75, "base_points": 150, "points_per_score": 4, "max_points": 210},
		{"level": "PLATINUM", "min_score": 90, "base_points": 250, "points_per_score": 5, "max_points": 300}
	]}`), rewards.DefaultScoringConfig())
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestLoadScoringConfig(t *testing.T) {
	f := factory.NewPolicyFactory()
	defaults := rewards.DefaultScoringConfig()

	cfg, err := f.LoadScoringConfig("", defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults.EventTarget, cfg.EventTarget)

	path := filepath.Join(t.TempDir(), "scoring.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"checkin_target": 250}`), 0o600))
	cfg, err = f.LoadScoringConfig(path, defaults)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.CheckinTarget)

	_, err = f.LoadScoringConfig(filepath.Join(t.TempDir(), "missing.json"), defaults)
	assert.Error(t, err)
}

/*
Package factory provides JSON to Go conversion for scoring configuration.

PURPOSE:
  Converts JSON multiplier policies and scoring configuration into engine
  types. Staff define policies in the admin UI or in a file, the factory
  creates the validated Go structs.

POLICY JSON:
  {
    "target_type": "CLUB",
    "activity_type": "SUCCESS_RATE",
    "rule_name": "Low success penalty",
    "description": "Below half of the events held",
    "condition_type": "PERCENTAGE",
    "min_threshold": 0,
    "max_threshold": 50,
    "multiplier": "0.8",
    "active": true
  }

  "multiplier" accepts a string or a number. "active" defaults to true.

SCORING CONFIG JSON:
  {
    "weights": {"EVENTS": 20, "SUCCESS_RATE": 20, "CHECKINS": 20,
                "FEEDBACK": 25, "STAFF_PARTICIPATION": 15},
    "event_target": 4,
    "checkin_target": 100,
    "tiers": [
      {"level": "BRONZE", "min_score": 40, "base_points": 50,
       "points_per_score": 2, "max_points": 80},
      ...
    ]
  }

  Omitted sections fall back to the given defaults.

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(jsonString)
  cfg, err := f.ParseScoringConfig(data, rewards.DefaultScoringConfig())

SEE ALSO:
  - engine/policy.go: MultiplierPolicy type definition
  - engine/score.go: ScoringConfig and TierTable
  - rewards/: Built-in presets
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/club-activity-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a multiplier policy.
type PolicyJSON struct {
	ID            int64           `json:"id,omitempty"`
	TargetType    string          `json:"target_type"`
	ActivityType  string          `json:"activity_type"`
	RuleName      string          `json:"rule_name"`
	Description   string          `json:"description,omitempty"`
	ConditionType string          `json:"condition_type"`
	MinThreshold  int             `json:"min_threshold"`
	MaxThreshold  int             `json:"max_threshold"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	Active        *bool           `json:"active,omitempty"`
}

// ScoringConfigJSON is the JSON representation of engine.ScoringConfig.
type ScoringConfigJSON struct {
	Weights       map[string]decimal.Decimal `json:"weights,omitempty"`
	EventTarget   int                        `json:"event_target,omitempty"`
	CheckinTarget int                        `json:"checkin_target,omitempty"`
	Tiers         []TierJSON                 `json:"tiers,omitempty"`
}

// TierJSON represents one band of the tier table.
type TierJSON struct {
	Level          string          `json:"level"`
	MinScore       decimal.Decimal `json:"min_score"`
	BasePoints     int64           `json:"base_points"`
	PointsPerScore decimal.Decimal `json:"points_per_score"`
	MaxPoints      int64           `json:"max_points"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON definitions to engine types.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses and validates one policy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (engine.MultiplierPolicy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return engine.MultiplierPolicy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// ParsePolicies parses a JSON array of policies. The first invalid entry
// fails the whole batch.
func (f *PolicyFactory) ParsePolicies(data []byte) ([]engine.MultiplierPolicy, error) {
	var list []PolicyJSON
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse policies JSON: %w", err)
	}

	policies := make([]engine.MultiplierPolicy, 0, len(list))
	for i, pj := range list {
		p, err := f.FromJSON(pj)
		if err != nil {
			return nil, fmt.Errorf("policy %d: %w", i, err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// FromJSON converts PolicyJSON to a normalized, validated policy.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (engine.MultiplierPolicy, error) {
	active := true
	if pj.Active != nil {
		active = *pj.Active
	}

	p := engine.MultiplierPolicy{
		ID:            engine.PolicyID(pj.ID),
		TargetType:    engine.TargetType(pj.TargetType),
		ActivityType:  pj.ActivityType,
		RuleName:      pj.RuleName,
		Description:   strings.TrimSpace(pj.Description),
		ConditionType: engine.ConditionType(pj.ConditionType),
		MinThreshold:  pj.MinThreshold,
		MaxThreshold:  pj.MaxThreshold,
		Multiplier:    pj.Multiplier,
		Active:        active,
	}.Normalize()

	if err := p.Validate(); err != nil {
		return engine.MultiplierPolicy{}, err
	}
	return p, nil
}

// ToJSON converts a policy back to its JSON representation.
func ToJSON(p engine.MultiplierPolicy) PolicyJSON {
	active := p.Active
	return PolicyJSON{
		ID:            int64(p.ID),
		TargetType:    string(p.TargetType),
		ActivityType:  p.ActivityType,
		RuleName:      p.RuleName,
		Description:   p.Description,
		ConditionType: string(p.ConditionType),
		MinThreshold:  p.MinThreshold,
		MaxThreshold:  p.MaxThreshold,
		Multiplier:    p.Multiplier,
		Active:        &active,
	}
}

// =============================================================================
// SCORING CONFIG
// =============================================================================

// ParseScoringConfig overlays the JSON document on defaults and validates
// the result.
func (f *PolicyFactory) ParseScoringConfig(data []byte, defaults engine.ScoringConfig) (engine.ScoringConfig, error) {
	var sj ScoringConfigJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return engine.ScoringConfig{}, fmt.Errorf("failed to parse scoring config JSON: %w", err)
	}

	cfg := engine.ScoringConfig{
		Weights:       make(map[engine.Dimension]decimal.Decimal, len(engine.Dimensions)),
		EventTarget:   defaults.EventTarget,
		CheckinTarget: defaults.CheckinTarget,
		Tiers:         append(engine.TierTable(nil), defaults.Tiers...),
	}
	for d, w := range defaults.Weights {
		cfg.Weights[d] = w
	}

	for name, w := range sj.Weights {
		d := engine.Dimension(engine.NormalizeActivity(name))
		if !isDimension(d) {
			return engine.ScoringConfig{}, &engine.ValidationError{Field: "weights", Message: fmt.Sprintf("unknown dimension %q", name)}
		}
		cfg.Weights[d] = w
	}
	if sj.EventTarget != 0 {
		cfg.EventTarget = sj.EventTarget
	}
	if sj.CheckinTarget != 0 {
		cfg.CheckinTarget = sj.CheckinTarget
	}
	if len(sj.Tiers) > 0 {
		cfg.Tiers = make(engine.TierTable, 0, len(sj.Tiers))
		for _, tj := range sj.Tiers {
			cfg.Tiers = append(cfg.Tiers, engine.TierBand{
				Level:          engine.AwardLevel(strings.ToUpper(strings.TrimSpace(tj.Level))),
				MinScore:       tj.MinScore,
				BasePoints:     tj.BasePoints,
				PointsPerScore: tj.PointsPerScore,
				MaxPoints:      tj.MaxPoints,
			})
		}
	}

	if err := cfg.Validate(); err != nil {
		return engine.ScoringConfig{}, err
	}
	return cfg, nil
}

// LoadScoringConfig reads the scoring config file at path. An empty path
// returns defaults unchanged.
func (f *PolicyFactory) LoadScoringConfig(path string, defaults engine.ScoringConfig) (engine.ScoringConfig, error) {
	if path == "" {
		return defaults, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.ScoringConfig{}, fmt.Errorf("failed to read scoring config: %w", err)
	}
	return f.ParseScoringConfig(data, defaults)
}

func isDimension(d engine.Dimension) bool {
	for _, known := range engine.Dimensions {
		if d == known {
			return true
		}
	}
	return false
}

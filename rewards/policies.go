/*
policies.go - Preset multiplier policies

AVAILABLE POLICIES:
  LowSuccessPenalty:      SUCCESS_RATE in [0%, 50%)    x0.8
  HighSuccessBonus:       SUCCESS_RATE in [50%, 101%)  x1.5
  GreatFeedbackBonus:     FEEDBACK in [4, 6) stars     x1.2
  FullStaffBonus:         STAFF_PARTICIPATION in [90%, 101%) x1.1
  BusyMonthBonus:         EVENTS in [8, 1000) events   x1.1

  The success rate pair mirrors the standard program: a club holding fewer
  than half its planned events loses a fifth of that dimension, a club
  holding at least half earns half again.

OVERLAP:
  Presets never overlap within one dimension. Staff-defined policies may;
  the narrowest range wins, then the lowest id.

EXAMPLE:
  for _, p := range rewards.StandardClubPolicies() {
      svc.Create(ctx, p, "seed")
  }
*/
package rewards

import (
	"github.com/shopspring/decimal"

	"github.com/warp/club-activity-engine/engine"
)

// =============================================================================
// POLICY CONFIGURATIONS
// =============================================================================

func LowSuccessPenalty() engine.MultiplierPolicy {
	return clubPolicy(engine.DimensionSuccessRate, "Low success penalty",
		"Fewer than half of the planned events took place",
		engine.ConditionPercentage, 0, 50, "0.8")
}

func HighSuccessBonus() engine.MultiplierPolicy {
	return clubPolicy(engine.DimensionSuccessRate, "High success bonus",
		"At least half of the planned events took place",
		engine.ConditionPercentage, 50, engine.MaxPercentageThreshold, "1.5")
}

func GreatFeedbackBonus() engine.MultiplierPolicy {
	return clubPolicy(engine.DimensionFeedback, "Great feedback bonus",
		"Average rating of four stars or more",
		engine.ConditionAbsolute, 4, 6, "1.2")
}

func FullStaffBonus() engine.MultiplierPolicy {
	return clubPolicy(engine.DimensionStaffParticipation, "Full staff bonus",
		"Nine in ten assigned staff showed up",
		engine.ConditionPercentage, 90, engine.MaxPercentageThreshold, "1.1")
}

func BusyMonthBonus() engine.MultiplierPolicy {
	return clubPolicy(engine.DimensionEvents, "Busy month bonus",
		"Eight or more events in the month",
		engine.ConditionAbsolute, 8, 1000, "1.1")
}

// StandardClubPolicies returns every preset, in creation order.
func StandardClubPolicies() []engine.MultiplierPolicy {
	return []engine.MultiplierPolicy{
		LowSuccessPenalty(),
		HighSuccessBonus(),
		GreatFeedbackBonus(),
		FullStaffBonus(),
		BusyMonthBonus(),
	}
}

func clubPolicy(d engine.Dimension, name, description string, cond engine.ConditionType, min, max int, multiplier string) engine.MultiplierPolicy {
	return engine.MultiplierPolicy{
		TargetType:    engine.TargetClub,
		ActivityType:  string(d),
		RuleName:      name,
		Description:   description,
		ConditionType: cond,
		MinThreshold:  min,
		MaxThreshold:  max,
		Multiplier:    decimal.RequireFromString(multiplier),
		Active:        true,
	}
}

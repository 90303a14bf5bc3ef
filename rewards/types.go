/*
Package rewards provides the built-in scoring presets of the club activity
program.

PURPOSE:
  The engine is configuration driven: dimension weights, targets, the tier
  table and the multiplier policies all come from outside. This package
  holds the defaults the service starts with when nothing else is
  configured, and the preset policies the demo scenarios load.

DEFAULT WEIGHTS (sum 100):
  EVENTS               20   events held, saturating at 4 per month
  SUCCESS_RATE         20   completed / held
  CHECKINS             20   check-ins, saturating at 100 per month
  FEEDBACK             25   average rating out of 5
  STAFF_PARTICIPATION  15   staff present / assigned

DEFAULT TIER TABLE:
  Level      Min score  Base  Per point  Cap
  BRONZE     40         50    2          80
  SILVER     60         100   3          145
  GOLD       75         150   4          210
  PLATINUM   90         250   5          300

  Every band's cap stays below the next band's base, so moving up a level
  never pays less.

EXAMPLE:
  A SILVER club with award score 66.70:
    100 + (66.70 - 60) * 3 = 120.1, floored to 120 points.

SEE ALSO:
  - policies.go: Preset multiplier policies
  - factory.go: The same presets as JSON
  - factory/policy.go: Overriding the defaults from a file
*/
package rewards

import (
	"github.com/shopspring/decimal"

	"github.com/warp/club-activity-engine/engine"
)

// =============================================================================
// SCORING DEFAULTS
// =============================================================================

const (
	DefaultEventTarget   = 4
	DefaultCheckinTarget = 100
)

// DefaultWeights returns the dimension weights. Callers may mutate the map.
func DefaultWeights() map[engine.Dimension]decimal.Decimal {
	return map[engine.Dimension]decimal.Decimal{
		engine.DimensionEvents:             decimal.NewFromInt(20),
		engine.DimensionSuccessRate:        decimal.NewFromInt(20),
		engine.DimensionCheckins:           decimal.NewFromInt(20),
		engine.DimensionFeedback:           decimal.NewFromInt(25),
		engine.DimensionStaffParticipation: decimal.NewFromInt(15),
	}
}

// DefaultTierTable returns the award bands.
func DefaultTierTable() engine.TierTable {
	return engine.TierTable{
		band(engine.AwardBronze, 40, 50, 2, 80),
		band(engine.AwardSilver, 60, 100, 3, 145),
		band(engine.AwardGold, 75, 150, 4, 210),
		band(engine.AwardPlatinum, 90, 250, 5, 300),
	}
}

// DefaultScoringConfig is what the service runs with unless a scoring
// config file is given.
func DefaultScoringConfig() engine.ScoringConfig {
	return engine.ScoringConfig{
		Weights:       DefaultWeights(),
		EventTarget:   DefaultEventTarget,
		CheckinTarget: DefaultCheckinTarget,
		Tiers:         DefaultTierTable(),
	}
}

func band(level engine.AwardLevel, minScore, base, perPoint, maxPoints int64) engine.TierBand {
	return engine.TierBand{
		Level:          level,
		MinScore:       decimal.NewFromInt(minScore),
		BasePoints:     base,
		PointsPerScore: decimal.NewFromInt(perPoint),
		MaxPoints:      maxPoints,
	}
}

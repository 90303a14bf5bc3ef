/*
score.go - Score calculation and award tiers

PURPOSE:
  Turns ActivityMetrics plus the CLUB multiplier policies into a final
  score, a rank-oriented award score and an award level.

FORMULA:
  For each dimension d:
    normalized(d)   in [0, 1]
    contribution(d) = normalized(d) * weight(d) * multiplier(d)
  FinalScore = sum of contributions (4 decimal places)
  AwardScore = max(FinalScore, 0) rounded to 2 places

  With the default weights (sum 100) a club with perfect metrics and no
  policies scores 100. Bonus policies can push the score above that.

DIMENSIONS:
  EVENTS               events held, normalized by ScoringConfig.EventTarget
  SUCCESS_RATE         completed / held
  CHECKINS             check-ins, normalized by ScoringConfig.CheckinTarget
  FEEDBACK             average feedback / 5
  STAFF_PARTICIPATION  average staff presence

  The PERCENTAGE reading of every dimension is normalized * 100. The
  ABSOLUTE reading is the raw count for EVENTS and CHECKINS, the raw 0..5
  average for FEEDBACK, and the percentage for the two ratio dimensions.

DETERMINISM:
  Only decimal arithmetic is used and policy selection is independent of
  input order, so identical inputs always give identical results. This is
  what makes recalculation idempotent.
*/
package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DIMENSIONS
// =============================================================================

type Dimension string

const (
	DimensionEvents             Dimension = "EVENTS"
	DimensionSuccessRate        Dimension = "SUCCESS_RATE"
	DimensionCheckins           Dimension = "CHECKINS"
	DimensionFeedback           Dimension = "FEEDBACK"
	DimensionStaffParticipation Dimension = "STAFF_PARTICIPATION"
)

// Dimensions lists every scored dimension in breakdown order.
var Dimensions = []Dimension{
	DimensionEvents,
	DimensionSuccessRate,
	DimensionCheckins,
	DimensionFeedback,
	DimensionStaffParticipation,
}

// =============================================================================
// AWARD LEVELS AND TIER TABLE
// =============================================================================

type AwardLevel string

const (
	AwardNone     AwardLevel = ""
	AwardBronze   AwardLevel = "BRONZE"
	AwardSilver   AwardLevel = "SILVER"
	AwardGold     AwardLevel = "GOLD"
	AwardPlatinum AwardLevel = "PLATINUM"
)

// Rank orders levels: none < BRONZE < SILVER < GOLD < PLATINUM.
// Unknown levels rank -1.
func (l AwardLevel) Rank() int {
	switch l {
	case AwardNone:
		return 0
	case AwardBronze:
		return 1
	case AwardSilver:
		return 2
	case AwardGold:
		return 3
	case AwardPlatinum:
		return 4
	default:
		return -1
	}
}

// TierBand is the score threshold and reward band of one award level.
type TierBand struct {
	Level          AwardLevel
	MinScore       decimal.Decimal // award score needed to reach the level
	BasePoints     int64           // reward at exactly MinScore
	PointsPerScore decimal.Decimal // extra points per award-score point above MinScore
	MaxPoints      int64           // cap within the band
}

// TierTable holds one band per award level, in any order.
type TierTable []TierBand

// Validate checks that every level appears once, that thresholds strictly
// increase BRONZE < SILVER < GOLD < PLATINUM, and that no band can pay more
// than the base of the next higher band.
func (t TierTable) Validate() error {
	if len(t) != 4 {
		return &ValidationError{Field: "tiers", Message: fmt.Sprintf("expected 4 tiers, got %d", len(t))}
	}
	seen := make(map[AwardLevel]bool)
	for _, b := range t {
		if b.Level.Rank() < 1 {
			return &ValidationError{Field: "tiers.level", Message: fmt.Sprintf("unknown level %q", b.Level)}
		}
		if seen[b.Level] {
			return &ValidationError{Field: "tiers.level", Message: fmt.Sprintf("duplicate level %s", b.Level)}
		}
		seen[b.Level] = true
		if b.MinScore.IsNegative() {
			return &ValidationError{Field: "tiers.min_score", Message: fmt.Sprintf("%s: must not be negative", b.Level)}
		}
		if b.BasePoints < 0 || b.PointsPerScore.IsNegative() {
			return &ValidationError{Field: "tiers.points", Message: fmt.Sprintf("%s: must not be negative", b.Level)}
		}
		if b.MaxPoints < b.BasePoints {
			return &ValidationError{Field: "tiers.max_points", Message: fmt.Sprintf("%s: below base_points", b.Level)}
		}
	}

	sorted := t.sorted()
	for i := 1; i < len(sorted); i++ {
		lower, higher := sorted[i-1], sorted[i]
		if !higher.MinScore.GreaterThan(lower.MinScore) {
			return &ValidationError{Field: "tiers.min_score", Message: fmt.Sprintf("%s must start above %s", higher.Level, lower.Level)}
		}
		if lower.MaxPoints > higher.BasePoints {
			return &ValidationError{Field: "tiers.max_points", Message: fmt.Sprintf("%s may not pay more than %s base", lower.Level, higher.Level)}
		}
	}
	return nil
}

// sorted returns the bands from BRONZE up to PLATINUM.
func (t TierTable) sorted() []TierBand {
	out := make([]TierBand, len(t))
	copy(out, t)
	sort.Slice(out, func(i, j int) bool { return out[i].Level.Rank() < out[j].Level.Rank() })
	return out
}

// LevelFor returns the highest level whose threshold awardScore reaches.
func (t TierTable) LevelFor(awardScore decimal.Decimal) AwardLevel {
	level := AwardNone
	for _, b := range t.sorted() {
		if awardScore.GreaterThanOrEqual(b.MinScore) {
			level = b.Level
		}
	}
	return level
}

// Band returns the band of level.
func (t TierTable) Band(level AwardLevel) (TierBand, bool) {
	for _, b := range t {
		if b.Level == level {
			return b, true
		}
	}
	return TierBand{}, false
}

// =============================================================================
// SCORING CONFIG
// =============================================================================

// ScoringConfig is the per-deployment tuning of the calculator.
type ScoringConfig struct {
	Weights       map[Dimension]decimal.Decimal
	EventTarget   int // events per month that earn the full EVENTS score
	CheckinTarget int // check-ins per month that earn the full CHECKINS score
	Tiers         TierTable
}

func (c ScoringConfig) Validate() error {
	for _, d := range Dimensions {
		w, ok := c.Weights[d]
		if !ok {
			return &ValidationError{Field: "weights", Message: fmt.Sprintf("missing weight for %s", d)}
		}
		if w.IsNegative() {
			return &ValidationError{Field: "weights", Message: fmt.Sprintf("%s weight must not be negative", d)}
		}
	}
	if c.EventTarget <= 0 {
		return &ValidationError{Field: "event_target", Message: "must be positive"}
	}
	if c.CheckinTarget <= 0 {
		return &ValidationError{Field: "checkin_target", Message: "must be positive"}
	}
	return c.Tiers.Validate()
}

// =============================================================================
// CALCULATOR
// =============================================================================

// DimensionScore is one line of a score breakdown.
type DimensionScore struct {
	Dimension    Dimension
	Reading      MetricReading
	Normalized   decimal.Decimal
	Weight       decimal.Decimal
	Multiplier   decimal.Decimal
	PolicyID     PolicyID // 0 when no policy applied
	Contribution decimal.Decimal
}

type ScoreResult struct {
	FinalScore decimal.Decimal
	AwardScore decimal.Decimal
	AwardLevel AwardLevel
	Breakdown  []DimensionScore
}

type Calculator struct {
	Config ScoringConfig
}

// NewCalculator validates cfg before accepting it.
func NewCalculator(cfg ScoringConfig) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{Config: cfg}, nil
}

// Compute scores metrics against policies. Only active, non-deleted CLUB
// policies take part.
func (c *Calculator) Compute(metrics ActivityMetrics, policies []MultiplierPolicy) ScoreResult {
	final := decimal.Zero
	breakdown := make([]DimensionScore, 0, len(Dimensions))

	for _, d := range Dimensions {
		reading := c.reading(d, metrics)
		normalized := reading.Percent.Div(hundred)
		weight := c.Config.Weights[d]

		line := DimensionScore{
			Dimension:  d,
			Reading:    reading,
			Normalized: normalized.Round(4),
			Weight:     weight,
			Multiplier: one,
		}
		if p, ok := SelectPolicy(policies, TargetClub, string(d), reading); ok {
			line.Multiplier = p.Multiplier
			line.PolicyID = p.ID
		}
		line.Contribution = normalized.Mul(weight).Mul(line.Multiplier).Round(4)

		final = final.Add(line.Contribution)
		breakdown = append(breakdown, line)
	}

	final = final.Round(4)
	award := AwardScoreOf(final)
	return ScoreResult{
		FinalScore: final,
		AwardScore: award,
		AwardLevel: c.Config.Tiers.LevelFor(award),
		Breakdown:  breakdown,
	}
}

// AwardScoreOf is the rank-oriented transform of a final score. It is
// monotonic non-decreasing in finalScore.
func AwardScoreOf(finalScore decimal.Decimal) decimal.Decimal {
	if finalScore.IsNegative() {
		return decimal.Zero
	}
	return finalScore.Round(2)
}

func (c *Calculator) reading(d Dimension, m ActivityMetrics) MetricReading {
	switch d {
	case DimensionEvents:
		return countReading(m.TotalEvents, c.Config.EventTarget)
	case DimensionCheckins:
		return countReading(m.TotalCheckins, c.Config.CheckinTarget)
	case DimensionSuccessRate:
		return ratioReading(m.EventSuccessRate)
	case DimensionStaffParticipation:
		return ratioReading(m.AvgStaffParticipation)
	case DimensionFeedback:
		return MetricReading{
			Absolute: m.AvgFeedback,
			Percent:  clampPercent(m.AvgFeedback.Div(maxFeedback).Mul(hundred)).Round(2),
		}
	default:
		return MetricReading{Absolute: decimal.Zero, Percent: decimal.Zero}
	}
}

func countReading(count, target int) MetricReading {
	pct := decimal.NewFromInt(int64(count)).Div(decimal.NewFromInt(int64(target))).Mul(hundred)
	return MetricReading{
		Absolute: decimal.NewFromInt(int64(count)),
		Percent:  clampPercent(pct).Round(2),
	}
}

func ratioReading(ratio decimal.Decimal) MetricReading {
	pct := clampPercent(ratio.Mul(hundred)).Round(2)
	return MetricReading{Absolute: pct, Percent: pct}
}

func clampPercent(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(hundred) {
		return hundred
	}
	return v
}

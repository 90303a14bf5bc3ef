package engine

import "github.com/shopspring/decimal"

// Resolver maps a score and award level to reward points. It only
// computes; crediting wallets is the distribution gateway's job and only
// happens after approval.
type Resolver struct {
	Tiers TierTable
}

// Resolve returns the reward for finalScore at level. The level decides the
// band; the award score places the club inside it. Clubs without a level
// get nothing, and the result is never negative.
func (r Resolver) Resolve(finalScore decimal.Decimal, level AwardLevel) int64 {
	band, ok := r.Tiers.Band(level)
	if !ok || level == AwardNone {
		return 0
	}

	points := band.BasePoints
	over := AwardScoreOf(finalScore).Sub(band.MinScore)
	if over.IsPositive() {
		points += over.Mul(band.PointsPerScore).Floor().IntPart()
	}
	if points > band.MaxPoints {
		points = band.MaxPoints
	}
	if points < 0 {
		return 0
	}
	return points
}

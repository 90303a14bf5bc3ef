package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Evaluation is the outcome of checking one policy against one value.
// Multiplier is neutral (1) when the policy does not apply.
type Evaluation struct {
	Applies    bool
	Multiplier decimal.Decimal
	PolicyID   PolicyID
}

// Evaluate decides whether policy applies to value, which must already be
// expressed in the policy's condition units. Inactive and deleted policies
// never apply.
func Evaluate(policy MultiplierPolicy, value decimal.Decimal) Evaluation {
	miss := Evaluation{Multiplier: one, PolicyID: policy.ID}
	if !policy.Evaluable() {
		return miss
	}
	lo := decimal.NewFromInt(int64(policy.MinThreshold))
	hi := decimal.NewFromInt(int64(policy.MaxThreshold))
	if value.LessThan(lo) || !value.LessThan(hi) {
		return miss
	}
	return Evaluation{Applies: true, Multiplier: policy.Multiplier, PolicyID: policy.ID}
}

// MetricReading carries one metric in both condition units.
type MetricReading struct {
	Absolute decimal.Decimal
	Percent  decimal.Decimal
}

// ValueFor returns the reading in the units of condition.
func (r MetricReading) ValueFor(condition ConditionType) decimal.Decimal {
	if condition == ConditionPercentage {
		return r.Percent
	}
	return r.Absolute
}

// SelectPolicy returns the policy that governs reading for the given target
// and activity. When several applicable policies overlap, the narrowest
// range wins and equal widths fall back to the lowest ID, so the result
// does not depend on input order.
func SelectPolicy(policies []MultiplierPolicy, target TargetType, activity string, reading MetricReading) (MultiplierPolicy, bool) {
	activity = NormalizeActivity(activity)

	var candidates []MultiplierPolicy
	for _, p := range policies {
		if p.TargetType != target || NormalizeActivity(p.ActivityType) != activity {
			continue
		}
		if Evaluate(p, reading.ValueFor(p.ConditionType)).Applies {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return MultiplierPolicy{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Width() != candidates[j].Width() {
			return candidates[i].Width() < candidates[j].Width()
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

/*
Package rewards JSON presets.

These functions build JSON policy definitions for the preset policies.
They construct JSON directly to avoid an import cycle with the factory
package, which is what turns them back into engine types.

USAGE:
  import "github.com/warp/club-activity-engine/rewards"

  data := rewards.StandardPoliciesJSON()
  policies, err := factory.NewPolicyFactory().ParsePolicies(data)
*/
package rewards

import (
	"encoding/json"
)

// PolicyJSON returns the JSON definition of one club policy.
func PolicyJSON(activity, name, condition string, min, max int, multiplier string) string {
	pj := map[string]interface{}{
		"target_type":    "CLUB",
		"activity_type":  activity,
		"rule_name":      name,
		"condition_type": condition,
		"min_threshold":  min,
		"max_threshold":  max,
		"multiplier":     multiplier,
		"active":         true,
	}
	data, _ := json.Marshal(pj)
	return string(data)
}

// StandardPoliciesJSON returns every preset as a JSON array.
func StandardPoliciesJSON() []byte {
	list := make([]map[string]interface{}, 0, 5)
	for _, p := range StandardClubPolicies() {
		list = append(list, map[string]interface{}{
			"target_type":    string(p.TargetType),
			"activity_type":  p.ActivityType,
			"rule_name":      p.RuleName,
			"description":    p.Description,
			"condition_type": string(p.ConditionType),
			"min_threshold":  p.MinThreshold,
			"max_threshold":  p.MaxThreshold,
			"multiplier":     p.Multiplier.String(),
			"active":         p.Active,
		})
	}
	data, _ := json.Marshal(list)
	return data
}

/*
policy.go - Multiplier policy definitions and validation

PURPOSE:
  A MultiplierPolicy scales one metric's contribution to a club's score
  when the metric falls inside a threshold range. Staff manage policies;
  the calculator reads them.

KEY CONCEPTS:
  - TargetType: CLUB policies feed club scoring, MEMBER policies are kept
    for member-level programs and never applied to clubs
  - ActivityType: the metric the policy applies to (EVENTS, SUCCESS_RATE,
    CHECKINS, FEEDBACK, STAFF_PARTICIPATION for club scoring)
  - ConditionType: how thresholds are read (PERCENTAGE = 0..100 scale,
    ABSOLUTE = raw value)
  - Range: [MinThreshold, MaxThreshold), so a PERCENTAGE policy needs
    MaxThreshold = 101 to include a perfect 100%

MULTIPLIER MEANING:
  0      zeroes the dimension
  < 1    penalty
  = 1    neutral
  > 1    bonus

LIFECYCLE:
  Policies are never physically deleted. Deleting sets DeletedAt, which
  removes the policy from evaluation and default listings while keeping it
  for audit and for re-deriving past months.

EXAMPLE:
  policy := MultiplierPolicy{
      TargetType:    TargetClub,
      ActivityType:  "SUCCESS_RATE",
      RuleName:      "Low success penalty",
      ConditionType: ConditionPercentage,
      MinThreshold:  0,
      MaxThreshold:  50,
      Multiplier:    decimal.RequireFromString("0.8"),
      Active:        true,
  }
  if err := policy.Validate(); err != nil { ... }
*/
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TargetType string

const (
	TargetClub   TargetType = "CLUB"
	TargetMember TargetType = "MEMBER"
)

func (t TargetType) Valid() bool {
	return t == TargetClub || t == TargetMember
}

type ConditionType string

const (
	ConditionPercentage ConditionType = "PERCENTAGE"
	ConditionAbsolute   ConditionType = "ABSOLUTE"
)

func (c ConditionType) Valid() bool {
	return c == ConditionPercentage || c == ConditionAbsolute
}

// MaxPercentageThreshold is the largest MaxThreshold a PERCENTAGE policy
// may use. 101 lets an exclusive upper bound still include 100%.
const MaxPercentageThreshold = 101

// MultiplierPolicy is one scoring rule.
type MultiplierPolicy struct {
	ID           PolicyID
	TargetType   TargetType
	ActivityType string
	RuleName     string
	Description  string

	ConditionType ConditionType
	MinThreshold  int
	MaxThreshold  int
	Multiplier    decimal.Decimal

	Active    bool
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Validate checks the policy invariants and reports the first field at fault.
func (p MultiplierPolicy) Validate() error {
	if !p.TargetType.Valid() {
		return &ValidationError{Field: "target_type", Message: fmt.Sprintf("must be CLUB or MEMBER, got %q", p.TargetType)}
	}
	if strings.TrimSpace(p.ActivityType) == "" {
		return &ValidationError{Field: "activity_type", Message: "is required"}
	}
	if strings.TrimSpace(p.RuleName) == "" {
		return &ValidationError{Field: "rule_name", Message: "is required"}
	}
	if !p.ConditionType.Valid() {
		return &ValidationError{Field: "condition_type", Message: fmt.Sprintf("must be PERCENTAGE or ABSOLUTE, got %q", p.ConditionType)}
	}
	if p.MinThreshold < 0 {
		return &ValidationError{Field: "min_threshold", Message: "must not be negative"}
	}
	if p.MaxThreshold <= p.MinThreshold {
		return &ValidationError{Field: "max_threshold", Message: fmt.Sprintf("must be greater than min_threshold (%d)", p.MinThreshold)}
	}
	if p.ConditionType == ConditionPercentage && p.MaxThreshold > MaxPercentageThreshold {
		return &ValidationError{Field: "max_threshold", Message: fmt.Sprintf("must not exceed %d for PERCENTAGE policies", MaxPercentageThreshold)}
	}
	if p.Multiplier.IsNegative() {
		return &ValidationError{Field: "multiplier", Message: "must not be negative"}
	}
	return nil
}

// Deleted reports whether the policy carries a tombstone.
func (p MultiplierPolicy) Deleted() bool { return p.DeletedAt != nil }

// Evaluable reports whether the policy may take part in scoring at all.
func (p MultiplierPolicy) Evaluable() bool { return p.Active && !p.Deleted() }

// Width is the size of the threshold range; narrower ranges are more specific.
func (p MultiplierPolicy) Width() int { return p.MaxThreshold - p.MinThreshold }

// Normalize trims labels and upper-cases enum-like fields so "success_rate"
// and "SUCCESS_RATE " address the same dimension.
func (p MultiplierPolicy) Normalize() MultiplierPolicy {
	p.TargetType = TargetType(strings.ToUpper(strings.TrimSpace(string(p.TargetType))))
	p.ConditionType = ConditionType(strings.ToUpper(strings.TrimSpace(string(p.ConditionType))))
	p.ActivityType = NormalizeActivity(p.ActivityType)
	p.RuleName = strings.TrimSpace(p.RuleName)
	return p
}

// NormalizeActivity canonicalizes an activity label.
func NormalizeActivity(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// PolicyFilter narrows policy listings.
type PolicyFilter struct {
	TargetType     TargetType // empty = any
	IncludeDeleted bool
}

func (f PolicyFilter) Match(p MultiplierPolicy) bool {
	if f.TargetType != "" && p.TargetType != f.TargetType {
		return false
	}
	if p.Deleted() && !f.IncludeDeleted {
		return false
	}
	return true
}

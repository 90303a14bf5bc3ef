/*
Package engine provides the club activity scoring and reward engine.

PURPOSE:
  Converts a club's monthly activity (events held, success rate, check-ins,
  feedback, staff participation) into a final score, an award tier and a
  reward-point payout, and gates the irreversible payout behind a
  per-(club, year, month) lock/approve workflow.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity of reward points
  - Transaction: An immutable wallet ledger entry (reward credit, adjustment)
  - ClubID / PolicyID / TransactionID: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Purity: Evaluator, calculator and resolver are pure functions
  2. Precision: Scores and multipliers use decimal.Decimal, never float64
  3. Type Safety: Strong typing for IDs prevents mixing clubs and policies
  4. Auditability: Every wallet credit has reason, reference and idempotency key

USAGE:
  calc, _ := engine.NewCalculator(rewards.DefaultScoringConfig())
  result := calc.Compute(metrics, policies)
  points := engine.Resolver{Tiers: calc.Config.Tiers}.Resolve(result.FinalScore, result.AwardLevel)

SEE ALSO:
  - policy.go: Multiplier policy definition and validation
  - evaluator.go: Policy selection for a metric reading
  - score.go: Score calculation and tier assignment
  - workflow.go: Recalculate / lock / approve state machine
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit (reward points for this system)
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitPoints Unit = "points"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func Points(n int64) Amount {
	return Amount{Value: decimal.NewFromInt(n), Unit: UnitPoints}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount              { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClubID string
type PolicyID int64
type TransactionID string

// Club is the minimal view of a club the engine needs: an id to key
// records by and a display name for rankings.
type Club struct {
	ID        ClubID
	Name      string
	CreatedAt time.Time
}

// =============================================================================
// TRANSACTION - Wallet ledger entry
// =============================================================================

type TransactionType string

const (
	TxReward     TransactionType = "reward"     // Approved monthly activity reward
	TxAdjustment TransactionType = "adjustment" // Manual staff correction
	TxReversal   TransactionType = "reversal"   // Undo a previous transaction
)

type Transaction struct {
	ID             TransactionID
	ClubID         ClubID
	Delta          Amount
	Type           TransactionType
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	CreatedBy string
	CreatedAt time.Time
}

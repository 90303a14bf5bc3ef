/*
ledger.go - Append-only club wallet ledger

PURPOSE:
  The wallet ledger is the source of truth for a club's reward points.
  Every approved reward and every staff correction is a transaction here.
  The balance is computed by replaying transactions; there is no separate
  balance column that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: One transaction per idempotency key. Approvals use
     RecordKey.IdempotencyKey(), so a retried approval never credits twice.
  3. REASONED: Every transaction carries a non-empty reason.

CORRECTIONS:
  Mistakes are fixed with a TxReversal of opposite sign. Both entries stay.

SEE ALSO:
  - gateway/ledger.go: DistributionGateway backed by this ledger
  - store.go: LedgerStore persistence interface
*/
package engine

import (
	"context"
	"strings"
)

// Ledger is the wallet of every club.
type Ledger interface {
	// Append adds a transaction. Returns ErrDuplicateIdempotencyKey if a
	// transaction with the same key exists.
	Append(ctx context.Context, tx Transaction) error

	// Transactions returns the club's transactions, oldest first.
	Transactions(ctx context.Context, club ClubID) ([]Transaction, error)

	// Balance sums every transaction of the club.
	Balance(ctx context.Context, club ClubID) (Amount, error)

	// ByIdempotencyKey returns nil, nil if no transaction has the key.
	ByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using LedgerStore
// =============================================================================

type DefaultLedger struct {
	Store LedgerStore
}

func NewLedger(store LedgerStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.ClubID == "" {
		return &ValidationError{Field: "club_id", Message: "is required"}
	}
	if strings.TrimSpace(tx.Reason) == "" {
		return &ValidationError{Field: "reason", Message: "must not be empty"}
	}
	if tx.IdempotencyKey != "" {
		existing, err := l.Store.FindByIdempotencyKey(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) Transactions(ctx context.Context, club ClubID) ([]Transaction, error) {
	return l.Store.Load(ctx, club)
}

func (l *DefaultLedger) Balance(ctx context.Context, club ClubID) (Amount, error) {
	txs, err := l.Store.Load(ctx, club)
	if err != nil {
		return Amount{}, err
	}
	balance := Points(0)
	for _, tx := range txs {
		balance = balance.Add(tx.Delta)
	}
	return balance, nil
}

func (l *DefaultLedger) ByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	return l.Store.FindByIdempotencyKey(ctx, key)
}

/*
Package gateway implements engine.DistributionGateway.

PURPOSE:
  Approving a club activity record credits reward points to the club's
  wallet. This package holds the two ways the credit can happen:

  Ledger: appends a reward transaction to the local wallet ledger
          (engine.Ledger). Used when this service owns the wallets.
  HTTP:   calls a remote wallet service. Used when wallets live elsewhere.

IDEMPOTENCY:
  Both deduplicate on DistributionRequest.IdempotencyKey. A replayed
  request returns the original receipt with engine.ErrDuplicateDistribution
  and never credits twice.

SEE ALSO:
  - engine/gateway.go: Interface and request contract
  - engine/ledger.go: Wallet ledger
*/
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/warp/club-activity-engine/engine"
)

// Ledger credits rewards into the local wallet ledger.
type Ledger struct {
	Wallets engine.Ledger
	Now     func() time.Time
}

func NewLedger(wallets engine.Ledger) *Ledger {
	return &Ledger{Wallets: wallets, Now: time.Now}
}

func (g *Ledger) Distribute(ctx context.Context, req engine.DistributionRequest) (engine.DistributionReceipt, error) {
	if err := req.Validate(); err != nil {
		return engine.DistributionReceipt{}, err
	}
	if err := ctx.Err(); err != nil {
		return engine.DistributionReceipt{}, &engine.DependencyError{Dependency: "wallet ledger", Err: err}
	}

	if receipt, ok, err := g.replay(ctx, req.IdempotencyKey); err != nil || ok {
		return receipt, err
	}

	tx := engine.Transaction{
		ID:             engine.TransactionID(uuid.NewString()),
		ClubID:         req.ClubID,
		Delta:          engine.Points(req.Amount),
		Type:           engine.TxReward,
		ReferenceID:    req.Period.String(),
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       map[string]string{"period": req.Period.String()},
		CreatedBy:      req.RequestedBy,
		CreatedAt:      g.now(),
	}

	err := g.Wallets.Append(ctx, tx)
	switch {
	case errors.Is(err, engine.ErrDuplicateIdempotencyKey):
		// Lost a race with a concurrent credit for the same key.
		receipt, _, rerr := g.replay(ctx, req.IdempotencyKey)
		if rerr != nil {
			return receipt, rerr
		}
		return receipt, engine.ErrDuplicateDistribution
	case err != nil:
		var vErr *engine.ValidationError
		if errors.As(err, &vErr) {
			return engine.DistributionReceipt{}, err
		}
		return engine.DistributionReceipt{}, &engine.DependencyError{Dependency: "wallet ledger", Err: err}
	}

	return receiptOf(tx, false), nil
}

// replay returns the receipt of an earlier credit with the same key.
func (g *Ledger) replay(ctx context.Context, key string) (engine.DistributionReceipt, bool, error) {
	existing, err := g.Wallets.ByIdempotencyKey(ctx, key)
	if err != nil {
		return engine.DistributionReceipt{}, false, &engine.DependencyError{Dependency: "wallet ledger", Err: err}
	}
	if existing == nil {
		return engine.DistributionReceipt{}, false, nil
	}
	return receiptOf(*existing, true), true, engine.ErrDuplicateDistribution
}

func (g *Ledger) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func receiptOf(tx engine.Transaction, replayed bool) engine.DistributionReceipt {
	return engine.DistributionReceipt{
		Reference:     string(tx.ID),
		ClubID:        tx.ClubID,
		Amount:        tx.Delta.Value.IntPart(),
		DistributedAt: tx.CreatedAt,
		Replayed:      replayed,
	}
}

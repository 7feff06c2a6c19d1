/*
ledger.go - Append-only balance log

PURPOSE:
  The Ledger is the source of truth for every time-off balance. Accruals,
  approval debits, cancellation credits, carry-over and manual adjustments
  are individual entries; a balance is always computed by folding them.
  There is no mutable counter that can drift, and two devices that both
  hold the same entries (deduplicated by idempotency key) agree on the
  balance after a merge.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: Same idempotency key = same entry.
  3. CORRECTIONS: A reversal entry, never an edit.

EXAMPLE FLOW:
  1. Jan and Feb accrual:      +1, +1
  2. 3-day request approved:   -3   (balance -1 with a balance override)
  3. Request cancelled:        +3   (back to 2)

SEE ALSO:
  - store.go: Low-level persistence interface
  - balance.go: Year fold
*/
package generic

import (
	"context"
	"errors"
)

// =============================================================================
// LEDGER - Append-only transaction log
// =============================================================================

type Ledger interface {
	// Append adds a transaction. Fails if the idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendOnce adds a transaction unless its key exists. Reports whether it was written.
	AppendOnce(ctx context.Context, tx Transaction) (bool, error)

	// Transactions returns all entries for staff+type, chronologically.
	Transactions(ctx context.Context, staffID, typeID string) ([]Transaction, error)

	// Year folds the entries effective in the given calendar year.
	Year(ctx context.Context, staffID, typeID string, year int, unit Unit) (YearSummary, error)

	// Referenced sums the entries of one transaction type that point at a reference.
	Referenced(ctx context.Context, staffID, typeID, referenceID string, txType TransactionType, unit Unit) (Amount, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) AppendOnce(ctx context.Context, tx Transaction) (bool, error) {
	err := l.Append(ctx, tx)
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return false, nil
	}
	return err == nil, err
}

func (l *DefaultLedger) Transactions(ctx context.Context, staffID, typeID string) ([]Transaction, error) {
	return l.Store.Load(ctx, staffID, typeID)
}

func (l *DefaultLedger) Year(ctx context.Context, staffID, typeID string, year int, unit Unit) (YearSummary, error) {
	txs, err := l.Store.LoadRange(ctx, staffID, typeID, StartOfYear(year), EndOfYear(year))
	if err != nil {
		return YearSummary{}, err
	}
	return FoldYear(year, unit, txs), nil
}

func (l *DefaultLedger) Referenced(ctx context.Context, staffID, typeID, referenceID string, txType TransactionType, unit Unit) (Amount, error) {
	txs, err := l.Store.Load(ctx, staffID, typeID)
	if err != nil {
		return Amount{}, err
	}
	total := NewAmount(0, unit)
	for _, tx := range txs {
		if tx.ReferenceID == referenceID && tx.Type == txType {
			total = total.Add(tx.Delta)
		}
	}
	return total, nil
}

/*
store.go - Persistence interface for ledger transactions

PURPOSE:
  Defines the boundary between balance logic and the database. The Store
  keeps append-only semantics: there is no Update and no Delete.

KEY INTERFACES:
  Store: Core transaction persistence (append, load, exists)

  Atomic multi-write work goes through schedule.Store.WithTx, which hands
  out a Repository (and so a Store) bound to the open transaction.

IDEMPOTENCY:
  Every write includes an idempotency key. If the key already exists the
  write is rejected with ErrDuplicateIdempotencyKey. Monthly accruals,
  carry-over and approval debits all rely on this to be safely re-run,
  including when a remote device replays the same entries during a sync.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory ledger for tests
  - store/memory, store/sqlite: Full schedule stores that also satisfy Store

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for transaction persistence (append-only)
// =============================================================================

// Store handles persistence of ledger transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all transactions for staff+type, ordered by EffectiveAt.
	Load(ctx context.Context, staffID, typeID string) ([]Transaction, error)

	// LoadRange returns transactions with EffectiveAt in [from, to].
	LoadRange(ctx context.Context, staffID, typeID string, from, to Date) ([]Transaction, error)

	// Exists checks if an idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// Accounts lists every staff/type pair with an entry in [from, to].
	Accounts(ctx context.Context, from, to Date) ([]Account, error)
}

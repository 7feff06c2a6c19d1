// Package store provides an in-memory ledger Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/schedule-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory ledger (for tests and the memory schedule store)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[generic.Account][]generic.Transaction
	idempotency  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[generic.Account][]generic.Transaction),
		idempotency:  make(map[string]bool),
	}
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AppendLocked(tx)
}

// AppendBatch adds multiple transactions atomically.
func (m *Memory) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AppendBatchLocked(txs)
}

// AppendBatchLocked is AppendBatch for callers that already hold the lock.
func (m *Memory) AppendBatchLocked(txs []generic.Transaction) error {
	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[tx.IdempotencyKey] || seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}
	for _, tx := range txs {
		if err := m.AppendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

// AppendLocked inserts tx keeping EffectiveAt order. The caller holds the lock.
func (m *Memory) AppendLocked(tx generic.Transaction) error {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	k := generic.Account{StaffID: tx.StaffID, TypeID: tx.TypeID}
	txs := m.transactions[k]

	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})
	txs = append(txs, generic.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[k] = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Load(_ context.Context, staffID, typeID string) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LoadLocked(staffID, typeID), nil
}

func (m *Memory) LoadLocked(staffID, typeID string) []generic.Transaction {
	src := m.transactions[generic.Account{StaffID: staffID, TypeID: typeID}]
	result := make([]generic.Transaction, len(src))
	copy(result, src)
	return result
}

func (m *Memory) LoadRange(_ context.Context, staffID, typeID string, from, to generic.Date) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LoadRangeLocked(staffID, typeID, from, to), nil
}

func (m *Memory) LoadRangeLocked(staffID, typeID string, from, to generic.Date) []generic.Transaction {
	var result []generic.Transaction
	for _, tx := range m.transactions[generic.Account{StaffID: staffID, TypeID: typeID}] {
		if from.BeforeOrEqual(tx.EffectiveAt) && tx.EffectiveAt.BeforeOrEqual(to) {
			result = append(result, tx)
		}
	}
	return result
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) ExistsLocked(idempotencyKey string) bool {
	return m.idempotency[idempotencyKey]
}

func (m *Memory) Accounts(_ context.Context, from, to generic.Date) ([]generic.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.AccountsLocked(from, to), nil
}

func (m *Memory) AccountsLocked(from, to generic.Date) []generic.Account {
	var out []generic.Account
	for k, txs := range m.transactions {
		for _, tx := range txs {
			if from.BeforeOrEqual(tx.EffectiveAt) && tx.EffectiveAt.BeforeOrEqual(to) {
				out = append(out, k)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StaffID != out[j].StaffID {
			return out[i].StaffID < out[j].StaffID
		}
		return out[i].TypeID < out[j].TypeID
	})
	return out
}

// =============================================================================
// SNAPSHOT / RESTORE - Used for rollback by transactional wrappers
// =============================================================================

type Snapshot struct {
	transactions map[generic.Account][]generic.Transaction
	idempotency  map[string]bool
}

// SnapshotLocked copies the current state. The caller holds the lock.
func (m *Memory) SnapshotLocked() Snapshot {
	txsCopy := make(map[generic.Account][]generic.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		txsCopy[k] = append([]generic.Transaction{}, v...)
	}
	idempCopy := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idempCopy[k] = v
	}
	return Snapshot{transactions: txsCopy, idempotency: idempCopy}
}

func (m *Memory) RestoreLocked(s Snapshot) {
	m.transactions = s.transactions
	m.idempotency = s.idempotency
}

// Lock and Unlock expose the write lock to transactional wrappers.
func (m *Memory) Lock()   { m.mu.Lock() }
func (m *Memory) Unlock() { m.mu.Unlock() }

// LockedView is a generic.Store over a Memory whose lock is already held.
type LockedView struct {
	M *Memory
}

func (v LockedView) Append(_ context.Context, tx generic.Transaction) error {
	return v.M.AppendLocked(tx)
}

func (v LockedView) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	return v.M.AppendBatchLocked(txs)
}

func (v LockedView) Load(_ context.Context, staffID, typeID string) ([]generic.Transaction, error) {
	return v.M.LoadLocked(staffID, typeID), nil
}

func (v LockedView) LoadRange(_ context.Context, staffID, typeID string, from, to generic.Date) ([]generic.Transaction, error) {
	return v.M.LoadRangeLocked(staffID, typeID, from, to), nil
}

func (v LockedView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return v.M.ExistsLocked(idempotencyKey), nil
}

func (v LockedView) Accounts(_ context.Context, from, to generic.Date) ([]generic.Account, error) {
	return v.M.AccountsLocked(from, to), nil
}

package generic_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/generic/store"
)

func entry(key string, at string, delta float64, typ generic.TransactionType) generic.Transaction {
	return generic.Transaction{
		ID:             key,
		StaffID:        "s1",
		TypeID:         "vacation",
		EffectiveAt:    d(at),
		Delta:          generic.NewAmount(delta, generic.UnitDays),
		Type:           typ,
		IdempotencyKey: key,
		CreatedBy:      "system",
	}
}

func decEq(t *testing.T, want string, got generic.Amount) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got.Value), "want %s, got %s", want, got.Value)
}

func TestLedger_IdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	ledger := generic.NewLedger(store.NewMemory())

	// GIVEN: One accrual posted
	require.NoError(t, ledger.Append(ctx, entry("accrual-s1-2025-01", "2025-01-31", 1.25, generic.TxAccrual)))

	// WHEN: The same key is appended again
	err := ledger.Append(ctx, entry("accrual-s1-2025-01", "2025-01-31", 1.25, generic.TxAccrual))

	// THEN: It is rejected, and AppendOnce reports a no-op
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	written, err := ledger.AppendOnce(ctx, entry("accrual-s1-2025-01", "2025-01-31", 1.25, generic.TxAccrual))
	require.NoError(t, err)
	assert.False(t, written)

	txs, err := ledger.Transactions(ctx, "s1", "vacation")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestLedger_YearFold(t *testing.T) {
	ctx := context.Background()
	ledger := generic.NewLedger(store.NewMemory())

	for _, tx := range []generic.Transaction{
		entry("carryin", "2025-01-01", 2, generic.TxCarryover),
		entry("acc-1", "2025-01-31", 1.25, generic.TxAccrual),
		entry("acc-2", "2025-02-28", 1.25, generic.TxAccrual),
		withRef(entry("consume-r1", "2025-03-10", -3, generic.TxConsumption), "r1"),
		withRef(entry("reverse-r1", "2025-03-12", 3, generic.TxReversal), "r1"),
		entry("consume-r2", "2025-04-01", -1, generic.TxConsumption),
		entry("adjust-1", "2025-05-01", 0.5, generic.TxAdjustment),
		entry("old", "2024-06-01", 9, generic.TxAccrual),
	} {
		require.NoError(t, ledger.Append(ctx, tx))
	}

	s, err := ledger.Year(ctx, "s1", "vacation", 2025, generic.UnitDays)
	require.NoError(t, err)

	decEq(t, "2.5", s.Accrued)
	decEq(t, "2", s.CarriedIn)
	decEq(t, "1", s.Used)
	decEq(t, "0.5", s.Adjusted)
	decEq(t, "4", s.Balance)
	assert.Equal(t, 7, s.EntryCount)

	debited, err := ledger.Referenced(ctx, "s1", "vacation", "r1", generic.TxConsumption, generic.UnitDays)
	require.NoError(t, err)
	credited, err := ledger.Referenced(ctx, "s1", "vacation", "r1", generic.TxReversal, generic.UnitDays)
	require.NoError(t, err)
	decEq(t, "-3", debited)
	decEq(t, "0", debited.Add(credited))
}

func withRef(tx generic.Transaction, ref string) generic.Transaction {
	tx.ReferenceID = ref
	return tx
}

func TestAvailable_SmallerLimitWins(t *testing.T) {
	s := generic.YearSummary{
		Balance: generic.NewAmount(2, generic.UnitDays),
		Used:    generic.NewAmount(9, generic.UnitDays),
	}
	annual := generic.NewAmount(10, generic.UnitDays)

	tests := []struct {
		name    string
		limits  generic.Limits
		want    string
		tracked bool
	}{
		{"ledger only", generic.Limits{LedgerBound: true}, "2", true},
		{"annual only", generic.Limits{AnnualLimit: &annual}, "1", true},
		{"both", generic.Limits{LedgerBound: true, AnnualLimit: &annual}, "1", true},
		{"unlimited", generic.Limits{}, "2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, tracked := s.Available(tt.limits)
			assert.Equal(t, tt.tracked, tracked)
			decEq(t, tt.want, got)
		})
	}
}

func TestCarryover_CapsAndExpires(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	capDays := generic.NewAmount(5, generic.UnitDays)
	closing := func(balance float64) generic.YearSummary {
		return generic.YearSummary{Year: 2025, Balance: generic.NewAmount(balance, generic.UnitDays)}
	}

	t.Run("above cap", func(t *testing.T) {
		out := generic.CarryoverEngine{}.Close(generic.YearEndInput{
			StaffID: "s1", TypeID: "vacation", Closing: closing(7),
			Rule: generic.CarryoverRule{Enabled: true, MaxCarryover: &capDays}, ActorID: "system", Now: now,
		})
		decEq(t, "5", out.CarriedOver)
		decEq(t, "2", out.Expired)
		require.Len(t, out.Transactions, 3)
		assert.Equal(t, "carryout-s1-vacation-2025", out.Transactions[0].IdempotencyKey)
		assert.Equal(t, generic.EndOfYear(2025), out.Transactions[0].EffectiveAt)
		assert.Equal(t, generic.StartOfYear(2026), out.Transactions[1].EffectiveAt)
		assert.Equal(t, generic.TxExpire, out.Transactions[2].Type)
	})

	t.Run("disabled expires everything", func(t *testing.T) {
		out := generic.CarryoverEngine{}.Close(generic.YearEndInput{
			StaffID: "s1", TypeID: "vacation", Closing: closing(3), Now: now,
		})
		decEq(t, "0", out.CarriedOver)
		decEq(t, "3", out.Expired)
		require.Len(t, out.Transactions, 1)
	})

	t.Run("deficit carries in full", func(t *testing.T) {
		out := generic.CarryoverEngine{}.Close(generic.YearEndInput{
			StaffID: "s1", TypeID: "vacation", Closing: closing(-1),
			Rule: generic.CarryoverRule{Enabled: true, MaxCarryover: &capDays}, Now: now,
		})
		decEq(t, "-1", out.CarriedOver)
		decEq(t, "0", out.Expired)
		assert.Len(t, out.Transactions, 2)
	})

	t.Run("zero balance posts nothing", func(t *testing.T) {
		out := generic.CarryoverEngine{}.Close(generic.YearEndInput{StaffID: "s1", TypeID: "vacation", Closing: closing(0)})
		assert.Empty(t, out.Transactions)
	})
}

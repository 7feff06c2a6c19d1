package timeoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/timeoff"
)

var jan10next = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func TestBalance_AccruesLazilyFromHireMonth(t *testing.T) {
	f := newTestService(t, time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC))
	view, err := f.svc.Balance(context.Background(), "s1", "tot_vacation", 2025)
	require.NoError(t, err)

	// January through June
	assert.True(t, view.Accrued.Value.Equal(num(6)))
	assert.Equal(t, 6, view.EntryCount)
	require.NotNil(t, view.AnnualLimit)
	assert.True(t, view.AnnualLimit.Value.Equal(num(10)))

	// asking again posts nothing new
	again, err := f.svc.Balance(context.Background(), "s1", "tot_vacation", 2025)
	require.NoError(t, err)
	assert.Equal(t, view.EntryCount, again.EntryCount)
}

func TestBalance_UnlimitedTypeHasNoAvailable(t *testing.T) {
	f := newTestService(t, jan15)
	typ := vacation()
	typ.ID, typ.Code, typ.AccrualEnabled, typ.AnnualLimitDays = "tot_unpaid", "UNPAID", false, nil
	require.NoError(t, f.store.SaveTimeOffType(context.Background(), typ))

	view, err := f.svc.Balance(context.Background(), "s1", "tot_unpaid", 2025)
	require.NoError(t, err)
	assert.Nil(t, view.Available)
}

func TestBalance_ClosesFinishedYearsLazily(t *testing.T) {
	// GIVEN: Twelve days accrued in 2025, nothing used, carry-over capped at 5
	// WHEN: The 2026 balance is read in January 2026
	// THEN: 5 carried in plus January's accrual; 7 expired in 2025
	f := newTestService(t, jan10next)
	ctx := context.Background()

	view, err := f.svc.Balance(ctx, "s1", "tot_vacation", 2026)
	require.NoError(t, err)
	assert.True(t, view.CarriedIn.Value.Equal(num(5)))
	assert.True(t, view.Balance.Value.Equal(num(6)))

	closed, err := f.svc.Balance(ctx, "s1", "tot_vacation", 2025)
	require.NoError(t, err)
	assert.True(t, closed.Accrued.Value.Equal(num(12)))
	assert.True(t, closed.CarriedOut.Value.Equal(num(5)))
	assert.True(t, closed.Expired.Value.Equal(num(7)))
	assert.True(t, closed.Balance.Value.IsZero())
}

func TestRunYearEnd(t *testing.T) {
	f := newTestService(t, jan10next)
	ctx := context.Background()

	// read 2025 first so the year has ledger activity
	view, err := f.svc.Balance(ctx, "s1", "tot_vacation", 2025)
	require.NoError(t, err)
	assert.True(t, view.Balance.Value.Equal(num(12)))

	report, err := f.svc.RunYearEnd(ctx, manager, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accounts)
	assert.Equal(t, 3, report.Entries) // carry-out, expire, carry-in

	report, err = f.svc.RunYearEnd(ctx, manager, 2025)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Entries)

	_, err = f.svc.RunYearEnd(ctx, manager, 2026)
	assert.True(t, errors.Is(err, generic.ErrDateRangeInvalid))

	_, err = f.svc.RunYearEnd(ctx, sam, 2025)
	assert.True(t, errors.Is(err, generic.ErrUnauthorized))
}

func TestAdjust(t *testing.T) {
	f := newTestService(t, jan15)
	ctx := context.Background()

	_, err := f.svc.Adjust(ctx, sam, timeoff.AdjustInput{StaffID: "s1", TypeID: "tot_vacation", Amount: num(2), Reason: "bonus"})
	assert.True(t, errors.Is(err, generic.ErrUnauthorized))

	_, err = f.svc.Adjust(ctx, manager, timeoff.AdjustInput{StaffID: "s1", TypeID: "tot_vacation", Amount: num(2)})
	assert.True(t, errors.Is(err, generic.ErrValidation))

	tx, err := f.svc.Adjust(ctx, manager, timeoff.AdjustInput{StaffID: "s1", TypeID: "tot_vacation", Amount: num(2), Reason: "bonus"})
	require.NoError(t, err)
	assert.Equal(t, generic.TxAdjustment, tx.Type)
	assert.Equal(t, d("2025-01-15"), tx.EffectiveAt)

	view, err := f.svc.Balance(ctx, "s1", "tot_vacation", 2025)
	require.NoError(t, err)
	assert.True(t, view.Adjusted.Value.Equal(num(2)))
	assert.True(t, view.Balance.Value.Equal(num(3)))
}

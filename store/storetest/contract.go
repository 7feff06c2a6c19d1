// Package storetest holds the behavioural contract every schedule.Store
// implementation must satisfy. Each store package runs it from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/schedule"
)

var stamp = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Run exercises newStore against the shared contract. newStore must return
// an empty store.
func Run(t *testing.T, newStore func(t *testing.T) schedule.Store) {
	t.Run("catalog round trip", func(t *testing.T) { catalogRoundTrip(t, newStore(t)) })
	t.Run("range queries", func(t *testing.T) { rangeQueries(t, newStore(t)) })
	t.Run("requests by status", func(t *testing.T) { requestsByStatus(t, newStore(t)) })
	t.Run("bookings skip cancelled", func(t *testing.T) { bookingsSkipCancelled(t, newStore(t)) })
	t.Run("ledger", func(t *testing.T) { ledger(t, newStore(t)) })
	t.Run("tx rollback", func(t *testing.T) { txRollback(t, newStore(t)) })
}

func catalogRoundTrip(t *testing.T, s schedule.Store) {
	ctx := context.Background()

	// GIVEN: Two types saved out of display order
	require.NoError(t, s.SaveTimeOffType(ctx, schedule.TimeOffType{ID: "t2", Name: "Sick", Code: "SICK", DisplayOrder: 2, IsActive: true}))
	require.NoError(t, s.SaveTimeOffType(ctx, schedule.TimeOffType{ID: "t1", Name: "Vacation", Code: "VAC", DisplayOrder: 1, IsActive: true}))

	// THEN: They list by display order
	types, err := s.ListTimeOffTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "t1", types[0].ID)
	assert.Equal(t, "t2", types[1].ID)

	got, err := s.GetTimeOffType(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "SICK", got.Code)

	// WHEN: One is deleted twice
	require.NoError(t, s.DeleteTimeOffType(ctx, "t2"))
	err = s.DeleteTimeOffType(ctx, "t2")

	// THEN: The second delete reports not found
	var nf *generic.NotFoundError
	assert.True(t, errors.As(err, &nf))
	_, err = s.GetTimeOffType(ctx, "t2")
	assert.True(t, errors.As(err, &nf))
}

func rangeQueries(t *testing.T, s schedule.Store) {
	ctx := context.Background()
	mon := generic.MustDate("2025-03-03")
	until := generic.MustDate("2025-03-31")

	oneOff := schedule.BlockedTimeEntry{
		ID: "b1", StaffID: "s1", TypeID: "btt_lunch",
		Interval: generic.AllDay(mon, mon.AddDays(1)), UpdatedAt: stamp,
	}
	weekly := schedule.BlockedTimeEntry{
		ID: "b2", StaffID: "s1", TypeID: "btt_meeting",
		Interval: generic.Interval{
			StartDate: mon, EndDate: mon, IsAllDay: true,
			Recurrence: generic.Recurrence{Kind: generic.RecurWeekly, Weekdays: []time.Weekday{time.Monday}, Until: &until},
		},
		UpdatedAt: stamp,
	}
	other := schedule.BlockedTimeEntry{ID: "b3", StaffID: "s2", TypeID: "btt_lunch", Interval: generic.AllDay(mon, mon), UpdatedAt: stamp}
	for _, e := range []schedule.BlockedTimeEntry{oneOff, weekly, other} {
		require.NoError(t, s.SaveBlockedTime(ctx, e))
	}

	ids := func(from, to generic.Date) []string {
		entries, err := s.BlockedTimeForStaff(ctx, "s1", from, to)
		require.NoError(t, err)
		var out []string
		for _, e := range entries {
			out = append(out, e.ID)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"b1", "b2"}, ids(mon, mon))
	assert.ElementsMatch(t, []string{"b2"}, ids(mon.AddDays(14), mon.AddDays(14)))
	assert.Empty(t, ids(until.AddDays(1), until.AddDays(10)))

	n, err := s.CountBlockedTimeByType(ctx, "btt_lunch")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Annual closures reach every year.
	require.NoError(t, s.SaveClosedPeriod(ctx, schedule.ClosedPeriod{
		ID: "c1", Name: "New Year", AppliesToAllLocations: true,
		StartDate: generic.MustDate("2024-01-01"), EndDate: generic.MustDate("2024-01-01"), IsAnnual: true,
	}))
	closures, err := s.ClosedPeriodsBetween(ctx, generic.MustDate("2030-01-01"), generic.MustDate("2030-01-02"))
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.Equal(t, "c1", closures[0].ID)
}

func requestsByStatus(t *testing.T, s schedule.Store) {
	ctx := context.Background()
	day := generic.MustDate("2025-04-07")
	mgr := schedule.Actor{ID: "mgr", Role: schedule.RoleManager, DeviceID: "d1"}

	pending := schedule.TimeOffRequest{ID: "r1", StaffID: "s1", TypeID: "vac", Interval: generic.AllDay(day, day), CreatedAt: stamp}
	pending.Transition(schedule.StatusPending, mgr, stamp, "")
	approved := schedule.TimeOffRequest{ID: "r2", StaffID: "s1", TypeID: "vac", Interval: generic.AllDay(day, day), CreatedAt: stamp.Add(time.Minute)}
	approved.Transition(schedule.StatusPending, mgr, stamp, "")
	approved.Transition(schedule.StatusApproved, mgr, stamp.Add(time.Hour), "")
	require.NoError(t, s.SaveTimeOffRequest(ctx, pending))
	require.NoError(t, s.SaveTimeOffRequest(ctx, approved))

	got, err := s.ApprovedTimeOff(ctx, "s1", day, day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r2", got[0].ID)
	assert.Len(t, got[0].StatusHistory, 2)

	list, err := s.ListTimeOffRequests(ctx, schedule.RequestFilter{StaffID: "s1", Status: schedule.StatusPending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].ID)

	all, err := s.ListTimeOffRequests(ctx, schedule.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := s.CountTimeOffRequestsByType(ctx, "vac")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func bookingsSkipCancelled(t *testing.T, s schedule.Store) {
	ctx := context.Background()
	day := generic.MustDate("2025-05-05")
	require.NoError(t, s.SaveResourceBooking(ctx, schedule.ResourceBooking{ID: "k1", ResourceID: "room", Interval: generic.AllDay(day, day), Status: schedule.BookingActive}))
	require.NoError(t, s.SaveResourceBooking(ctx, schedule.ResourceBooking{ID: "k2", ResourceID: "room", Interval: generic.AllDay(day, day), Status: schedule.BookingCancelled}))

	got, err := s.BookingsForResource(ctx, "room", day, day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "k1", got[0].ID)
}

func entry(id, key string, on generic.Date, days float64) generic.Transaction {
	return generic.Transaction{
		ID: id, StaffID: "s1", TypeID: "vac", EffectiveAt: on,
		Delta: generic.NewAmount(days, generic.UnitDays), Type: generic.TxAccrual,
		IdempotencyKey: key, CreatedBy: "system", CreatedAt: stamp,
	}
}

func ledger(t *testing.T, s schedule.Store) {
	ctx := context.Background()
	jan := generic.MustDate("2025-01-01")
	feb := generic.MustDate("2025-02-01")

	// GIVEN: Entries appended out of date order
	require.NoError(t, s.Append(ctx, entry("x2", "k2", feb, 1)))
	require.NoError(t, s.Append(ctx, entry("x1", "k1", jan, 1)))

	// WHEN: The same key is appended again
	err := s.Append(ctx, entry("x3", "k1", jan, 1))

	// THEN: It is rejected as a duplicate
	assert.True(t, errors.Is(err, generic.ErrDuplicateIdempotencyKey))

	txs, err := s.Load(ctx, "s1", "vac")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "x1", txs[0].ID)
	assert.Equal(t, "x2", txs[1].ID)
	assert.True(t, txs[0].Delta.Value.Equal(generic.MustParseDecimal("1")))
	assert.Equal(t, generic.UnitDays, txs[0].Delta.Unit)

	ranged, err := s.LoadRange(ctx, "s1", "vac", feb, feb)
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "x2", ranged[0].ID)

	ok, err := s.Exists(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, ok)

	// A batch with an already-used key writes nothing.
	err = s.AppendBatch(ctx, []generic.Transaction{entry("x4", "k4", feb, 1), entry("x5", "k2", feb, 1)})
	assert.True(t, errors.Is(err, generic.ErrDuplicateIdempotencyKey))
	ok, err = s.Exists(ctx, "k4")
	require.NoError(t, err)
	assert.False(t, ok)

	accounts, err := s.Accounts(ctx, jan, jan)
	require.NoError(t, err)
	assert.Equal(t, []generic.Account{{StaffID: "s1", TypeID: "vac"}}, accounts)
}

func txRollback(t *testing.T, s schedule.Store) {
	ctx := context.Background()
	day := generic.MustDate("2025-06-02")
	boom := errors.New("boom")

	// WHEN: A transaction writes an entity and a ledger entry, then fails
	err := s.WithTx(ctx, func(tx schedule.Repository) error {
		if err := tx.SaveBlockedTime(ctx, schedule.BlockedTimeEntry{ID: "b1", StaffID: "s1", Interval: generic.AllDay(day, day)}); err != nil {
			return err
		}
		if err := tx.Append(ctx, entry("x1", "k1", day, -1)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// THEN: Neither write is visible
	_, err = s.GetBlockedTime(ctx, "b1")
	var nf *generic.NotFoundError
	assert.True(t, errors.As(err, &nf))
	ok, err := s.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	// WHEN: The same writes commit
	require.NoError(t, s.WithTx(ctx, func(tx schedule.Repository) error {
		if err := tx.SaveBlockedTime(ctx, schedule.BlockedTimeEntry{ID: "b1", StaffID: "s1", Interval: generic.AllDay(day, day)}); err != nil {
			return err
		}
		return tx.Append(ctx, entry("x1", "k1", day, -1))
	}))

	// THEN: Both are visible
	got, err := s.GetBlockedTime(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.StaffID)
	ok, err = s.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
}

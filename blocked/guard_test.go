package blocked_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/schedule-engine/blocked"
	"github.com/warp/schedule-engine/catalog"
	"github.com/warp/schedule-engine/conflict"
	"github.com/warp/schedule-engine/events"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/schedule"
	"github.com/warp/schedule-engine/store/memory"
)

var (
	manager = schedule.Actor{ID: "mgr-1", Role: schedule.RoleManager, DeviceID: "front-desk"}
	sam     = schedule.Actor{ID: "s1", Role: schedule.RoleStaff, DeviceID: "phone"}
	fixed   = time.Date(2025, 2, 20, 8, 0, 0, 0, time.UTC)
)

func d(s string) generic.Date      { return generic.MustDate(s) }
func c(s string) generic.ClockTime { return generic.MustClock(s) }

func newTestGuard(t *testing.T) (*blocked.Guard, *memory.Store, *events.Recorder) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	_, err := catalog.Seed(ctx, store, fixed)
	require.NoError(t, err)
	require.NoError(t, store.SaveStaff(ctx, schedule.StaffMember{ID: "s1", Name: "Sam", LocationID: "downtown", IsActive: true}))

	rec := events.NewRecorder()
	n := 0
	g := blocked.NewGuard(store, conflict.NewEngine(store),
		blocked.WithPublisher(rec),
		blocked.WithClock(func() time.Time { return fixed }),
		blocked.WithIDs(func() string { n++; return fmt.Sprintf("bt-%d", n) }),
	)
	return g, store, rec
}

func TestCreate_OverlappingBlockedTimeRejected(t *testing.T) {
	// GIVEN: Sam has Lunch Break on 2025-03-01 12:30-13:30
	// WHEN: Blocking 12:00-13:00, then 13:30-14:30 the same day
	// THEN: The first fails with BlockedTimeConflictError; the second succeeds
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	lunch, err := g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_lunch",
		Interval: generic.PartialDay(d("2025-03-01"), c("12:30"), c("13:30"))})
	require.NoError(t, err)

	_, err = g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_meeting",
		Interval: generic.PartialDay(d("2025-03-01"), c("12:00"), c("13:00"))})
	var conflictErr *generic.BlockedTimeConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, "Sam", conflictErr.StaffName)
	assert.Equal(t, d("2025-03-01"), conflictErr.Date)
	assert.Equal(t, lunch.ID, conflictErr.ConflictingEntryID)
	assert.Equal(t, "Lunch Break", conflictErr.ConflictingTypeName)
	require.NotNil(t, conflictErr.StartTime)
	assert.Equal(t, c("12:00"), *conflictErr.StartTime)

	_, err = g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_meeting",
		Interval: generic.PartialDay(d("2025-03-01"), c("13:30"), c("14:30"))})
	assert.NoError(t, err)
}

func TestCreate_WeeklySeriesConflictsWithOccurrence(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	// every Monday from 2025-03-03
	series := generic.PartialDay(d("2025-03-03"), c("12:00"), c("13:00")).Weekly(nil, time.Monday)
	_, err := g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_lunch", Interval: series})
	require.NoError(t, err)

	_, err = g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_training",
		Interval: generic.PartialDay(d("2025-03-17"), c("12:45"), c("14:00"))})
	assert.True(t, errors.Is(err, generic.ErrBlockedTimeConflict))

	// Tuesday is free
	_, err = g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_training",
		Interval: generic.PartialDay(d("2025-03-18"), c("12:45"), c("14:00"))})
	assert.NoError(t, err)
}

func TestCreate_IgnoresAppointmentsAndOtherStaff(t *testing.T) {
	g, store, _ := newTestGuard(t)
	ctx := context.Background()
	require.NoError(t, store.SaveStaff(ctx, schedule.StaffMember{ID: "s2", Name: "Kim", IsActive: true}))
	require.NoError(t, store.SaveAppointment(ctx, schedule.Appointment{
		ID: "appt-1", StaffID: "s1", Status: schedule.AppointmentConfirmed,
		Interval: generic.PartialDay(d("2025-03-04"), c("09:00"), c("10:00")),
	}))
	_, err := g.Create(ctx, manager, blocked.Input{StaffID: "s2", TypeID: "btt_meeting",
		Interval: generic.PartialDay(d("2025-03-04"), c("09:00"), c("10:00"))})
	require.NoError(t, err)

	_, err = g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_meeting",
		Interval: generic.PartialDay(d("2025-03-04"), c("09:00"), c("10:00"))})
	assert.NoError(t, err)
}

func TestCreate_Validation(t *testing.T) {
	g, store, _ := newTestGuard(t)
	ctx := context.Background()

	t.Run("cross-midnight span", func(t *testing.T) {
		_, err := g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_admin",
			Interval: generic.PartialDay(d("2025-03-05"), c("22:00"), c("02:00"))})
		assert.True(t, errors.Is(err, generic.ErrInvalidInterval))
	})

	t.Run("other staff member", func(t *testing.T) {
		_, err := g.Create(ctx, sam, blocked.Input{StaffID: "s2", TypeID: "btt_admin",
			Interval: generic.AllDay(d("2025-03-05"), d("2025-03-05"))})
		assert.True(t, errors.Is(err, generic.ErrUnauthorized))
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_nope",
			Interval: generic.AllDay(d("2025-03-05"), d("2025-03-05"))})
		assert.True(t, generic.IsNotFound(err))
	})

	t.Run("inactive type", func(t *testing.T) {
		typ, err := store.GetBlockedTimeType(ctx, "btt_travel")
		require.NoError(t, err)
		typ.IsActive = false
		require.NoError(t, store.SaveBlockedTimeType(ctx, *typ))
		_, err = g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_travel",
			Interval: generic.AllDay(d("2025-03-05"), d("2025-03-05"))})
		assert.True(t, errors.Is(err, generic.ErrTypeInactive))
	})
}

func TestUpdate_ExcludesItself(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()
	e, err := g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_lunch",
		Interval: generic.PartialDay(d("2025-03-06"), c("12:00"), c("13:00"))})
	require.NoError(t, err)
	other, err := g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_admin",
		Interval: generic.PartialDay(d("2025-03-06"), c("15:00"), c("16:00"))})
	require.NoError(t, err)

	moved, err := g.Update(ctx, sam, e.ID, blocked.Input{TypeID: "btt_lunch",
		Interval: generic.PartialDay(d("2025-03-06"), c("12:30"), c("13:30"))})
	require.NoError(t, err)
	assert.Equal(t, c("12:30"), *moved.Interval.StartTime)

	_, err = g.Update(ctx, sam, e.ID, blocked.Input{TypeID: "btt_lunch",
		Interval: generic.PartialDay(d("2025-03-06"), c("14:30"), c("15:30"))})
	var conflictErr *generic.BlockedTimeConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, other.ID, conflictErr.ConflictingEntryID)
}

func TestDelete_FreesTheSlotAndPublishes(t *testing.T) {
	g, _, rec := newTestGuard(t)
	ctx := context.Background()
	iv := generic.PartialDay(d("2025-03-07"), c("10:00"), c("11:00"))
	e, err := g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_meeting", Interval: iv})
	require.NoError(t, err)

	require.NoError(t, g.Delete(ctx, sam, e.ID))
	_, err = g.Get(ctx, e.ID)
	assert.True(t, generic.IsNotFound(err))

	_, err = g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_meeting", Interval: iv})
	assert.NoError(t, err)

	deleted := rec.OfType(events.EntityDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, schedule.KindBlockedTime, deleted[0].Kind)
	assert.Equal(t, schedule.PriorityNormal, deleted[0].Priority)
}

func TestList(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()
	_, err := g.Create(ctx, sam, blocked.Input{StaffID: "s1", TypeID: "btt_meeting",
		Interval: generic.AllDay(d("2025-03-10"), d("2025-03-10"))})
	require.NoError(t, err)

	got, err := g.List(ctx, "s1", d("2025-03-01"), d("2025-03-31"))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = g.List(ctx, "s1", d("2025-04-01"), d("2025-04-30"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

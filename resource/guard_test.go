package resource_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/schedule-engine/conflict"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/resource"
	"github.com/warp/schedule-engine/schedule"
	"github.com/warp/schedule-engine/store/memory"
)

var (
	manager = schedule.Actor{ID: "mgr-1", Role: schedule.RoleManager, DeviceID: "front-desk"}
	fixed   = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
)

func d(s string) generic.Date      { return generic.MustDate(s) }
func c(s string) generic.ClockTime { return generic.MustClock(s) }

func newTestGuard(t *testing.T) (*resource.Guard, *memory.Store) {
	t.Helper()
	store := memory.New()
	var mu sync.Mutex
	n := 0
	g := resource.NewGuard(store, conflict.NewEngine(store),
		resource.WithClock(func() time.Time { return fixed }),
		resource.WithIDs(func() string { mu.Lock(); defer mu.Unlock(); n++; return fmt.Sprintf("id-%d", n) }),
	)
	ctx := context.Background()
	for _, r := range []schedule.Resource{{ID: "room-1", Name: "Room 1"}, {ID: "room-2", Name: "Room 2"}} {
		_, err := g.CreateResource(ctx, manager, r)
		require.NoError(t, err)
	}
	return g, store
}

func TestBook_SameResourceOverlapRejected(t *testing.T) {
	// GIVEN: Room 1 booked 10:00-11:00
	// WHEN: Booking Room 1 10:30-11:30, and Room 2 10:30-11:30
	// THEN: Room 1 fails with the conflicting booking id; Room 2 succeeds
	g, _ := newTestGuard(t)
	ctx := context.Background()
	first, err := g.Book(ctx, manager, resource.BookInput{ResourceID: "room-1",
		Interval: generic.PartialDay(d("2025-04-02"), c("10:00"), c("11:00"))})
	require.NoError(t, err)

	later := generic.PartialDay(d("2025-04-02"), c("10:30"), c("11:30"))
	_, err = g.Book(ctx, manager, resource.BookInput{ResourceID: "room-1", Interval: later})
	var conflictErr *generic.ResourceBookingConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, "Room 1", conflictErr.ResourceName)
	assert.Equal(t, []string{first.ID}, conflictErr.BookingIDs)
	assert.Equal(t, d("2025-04-02").At(c("10:30")), conflictErr.Overlap.Start)
	assert.Equal(t, d("2025-04-02").At(c("11:00")), conflictErr.Overlap.End)

	_, err = g.Book(ctx, manager, resource.BookInput{ResourceID: "room-2", Interval: later})
	assert.NoError(t, err)
}

func TestBook_AdjacentSlotsDoNotOverlap(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	_, err := g.Book(ctx, manager, resource.BookInput{ResourceID: "room-1",
		Interval: generic.PartialDay(d("2025-04-02"), c("10:00"), c("11:00"))})
	require.NoError(t, err)
	_, err = g.Book(ctx, manager, resource.BookInput{ResourceID: "room-1",
		Interval: generic.PartialDay(d("2025-04-02"), c("11:00"), c("12:00"))})
	assert.NoError(t, err)
}

func TestBook_ConcurrentSameSlotOnlyOneWins(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	iv := generic.PartialDay(d("2025-04-03"), c("09:00"), c("10:00"))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Book(ctx, manager, resource.BookInput{ResourceID: "room-1", Interval: iv})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.True(t, errors.Is(err, generic.ErrResourceBookingConflict))
		}
	}
	assert.Equal(t, 1, ok)
}

func TestCancelBooking_ReleasesSlot(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	iv := generic.PartialDay(d("2025-04-04"), c("14:00"), c("15:00"))
	b, err := g.Book(ctx, manager, resource.BookInput{ResourceID: "room-1", Interval: iv})
	require.NoError(t, err)

	cancelled, err := g.CancelBooking(ctx, manager, b.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.BookingCancelled, cancelled.Status)

	_, err = g.Book(ctx, manager, resource.BookInput{ResourceID: "room-1", Interval: iv})
	assert.NoError(t, err)

	_, err = g.UpdateBooking(ctx, manager, b.ID, iv)
	assert.True(t, errors.Is(err, generic.ErrInvalidTransition))
}

func TestUpdateBooking(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	a, err := g.Book(ctx, manager, resource.BookInput{ResourceID: "room-1",
		Interval: generic.PartialDay(d("2025-04-05"), c("09:00"), c("10:00"))})
	require.NoError(t, err)
	b, err := g.Book(ctx, manager, resource.BookInput{ResourceID: "room-1",
		Interval: generic.PartialDay(d("2025-04-05"), c("11:00"), c("12:00"))})
	require.NoError(t, err)

	moved, err := g.UpdateBooking(ctx, manager, a.ID, generic.PartialDay(d("2025-04-05"), c("09:30"), c("10:30")))
	require.NoError(t, err)
	assert.Equal(t, c("09:30"), *moved.Interval.StartTime)

	_, err = g.UpdateBooking(ctx, manager, a.ID, generic.PartialDay(d("2025-04-05"), c("10:30"), c("11:30")))
	var conflictErr *generic.ResourceBookingConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, []string{b.ID}, conflictErr.BookingIDs)
}

func TestBook_Validation(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	staff := schedule.Actor{ID: "s1", Role: schedule.RoleStaff}

	_, err := g.Book(ctx, manager, resource.BookInput{ResourceID: "room-9",
		Interval: generic.AllDay(d("2025-04-06"), d("2025-04-06"))})
	assert.True(t, generic.IsNotFound(err))

	_, err = g.Book(ctx, staff, resource.BookInput{ResourceID: "room-1", StaffID: "s2",
		Interval: generic.AllDay(d("2025-04-06"), d("2025-04-06"))})
	assert.True(t, errors.Is(err, generic.ErrUnauthorized))

	_, err = g.CreateResource(ctx, staff, schedule.Resource{Name: "Chair"})
	assert.True(t, errors.Is(err, generic.ErrUnauthorized))
}

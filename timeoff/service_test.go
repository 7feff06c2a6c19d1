package timeoff_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/schedule-engine/conflict"
	"github.com/warp/schedule-engine/events"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/schedule"
	"github.com/warp/schedule-engine/store/memory"
	"github.com/warp/schedule-engine/timeoff"
)

var (
	manager = schedule.Actor{ID: "mgr-1", Role: schedule.RoleManager, DeviceID: "front-desk"}
	sam     = schedule.Actor{ID: "s1", Role: schedule.RoleStaff, DeviceID: "phone"}
	jan15   = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
)

func d(s string) generic.Date      { return generic.MustDate(s) }
func c(s string) generic.ClockTime { return generic.MustClock(s) }
func num(v int64) decimal.Decimal  { return decimal.NewFromInt(v) }

// vacation accrues one day per month with a ten day annual cap.
func vacation() schedule.TimeOffType {
	limit, maxCarry := num(10), num(5)
	return schedule.TimeOffType{
		ID: "tot_vacation", Name: "Vacation", Code: "VAC", IsPaid: true, RequiresApproval: true,
		AccrualEnabled: true, AccrualRatePerMonth: num(1), AnnualLimitDays: &limit,
		CarryOverEnabled: true, MaxCarryOverDays: &maxCarry, IsActive: true,
	}
}

func sick() schedule.TimeOffType {
	limit := num(10)
	return schedule.TimeOffType{
		ID: "tot_sick", Name: "Sick", Code: "SICK", IsPaid: true, RequiresApproval: false,
		AnnualLimitDays: &limit, IsActive: true,
	}
}

type fixture struct {
	svc    *timeoff.Service
	store  *memory.Store
	events *events.Recorder
}

func newTestService(t *testing.T, now time.Time) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	hired := d("2025-01-01")
	require.NoError(t, store.SaveStaff(ctx, schedule.StaffMember{
		ID: "s1", Name: "Sam", LocationID: "downtown", HiredOn: &hired, IsActive: true,
	}))
	require.NoError(t, store.SaveTimeOffType(ctx, vacation()))
	require.NoError(t, store.SaveTimeOffType(ctx, sick()))

	rec := events.NewRecorder()
	n := 0
	svc := timeoff.NewService(store, conflict.NewEngine(store),
		timeoff.WithPublisher(rec),
		timeoff.WithClock(func() time.Time { return now }),
		timeoff.WithIDs(func() string { n++; return fmt.Sprintf("req-%d", n) }),
	)
	return fixture{svc: svc, store: store, events: rec}
}

func submit(t *testing.T, f fixture, typeID string, iv generic.Interval) *schedule.TimeOffRequest {
	t.Helper()
	req, err := f.svc.Submit(context.Background(), sam, timeoff.SubmitInput{StaffID: "s1", TypeID: typeID, Interval: iv})
	require.NoError(t, err)
	return req
}

func TestApprove_InsufficientBalanceThenOverride(t *testing.T) {
	// GIVEN: One day accrued per month since January, so 2 days by February
	// WHEN: Approving a three day request (Mon 2025-02-10 to Wed 2025-02-12)
	// THEN: Rejected with 3 requested / 2 available; the override debits all 3
	f := newTestService(t, jan15)
	ctx := context.Background()
	req := submit(t, f, "tot_vacation", generic.AllDay(d("2025-02-10"), d("2025-02-12")))
	assert.True(t, req.TotalDays.Equal(num(3)))
	assert.True(t, req.TotalHours.Equal(num(24)))

	_, err := f.svc.Approve(ctx, manager, req.ID, timeoff.ApproveOptions{})
	var insufficient *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Requested.Value.Equal(num(3)))
	assert.True(t, insufficient.Available.Value.Equal(num(2)))

	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusPending, stored.Status())

	approved, err := f.svc.Approve(ctx, manager, req.ID, timeoff.ApproveOptions{OverrideBalance: true})
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusApproved, approved.Status())
	require.NotNil(t, approved.Approval)
	assert.True(t, approved.Approval.BalanceOverridden)

	view, err := f.svc.Balance(ctx, "s1", "tot_vacation", 2025)
	require.NoError(t, err)
	assert.True(t, view.Balance.Value.Equal(num(-1)), "balance %s", view.Balance)
	assert.True(t, view.Used.Value.Equal(num(3)))
	require.NotNil(t, view.Available)
	assert.True(t, view.Available.Value.Equal(num(-1)))
}

func TestApprove_ConcurrentApprovalsShareOneBalance(t *testing.T) {
	// GIVEN: 2 days accrued by February and two pending 2-day requests
	// WHEN: Both are approved at the same time from different goroutines
	// THEN: Exactly one wins; the other sees the debited balance and fails
	f := newTestService(t, jan15)
	ctx := context.Background()
	first := submit(t, f, "tot_vacation", generic.AllDay(d("2025-02-10"), d("2025-02-11")))
	second := submit(t, f, "tot_vacation", generic.AllDay(d("2025-02-13"), d("2025-02-14")))

	ids := []string{first.ID, second.ID}
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.svc.Approve(ctx, manager, id, timeoff.ApproveOptions{})
		}(i, id)
	}
	wg.Wait()

	approved, rejected := 0, 0
	for _, err := range errs {
		var insufficient *generic.InsufficientBalanceError
		switch {
		case err == nil:
			approved++
		case errors.As(err, &insufficient):
			rejected++
			assert.True(t, insufficient.Available.Value.Equal(num(0)), "available %s", insufficient.Available)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, approved)
	assert.Equal(t, 1, rejected)

	view, err := f.svc.Balance(ctx, "s1", "tot_vacation", 2025)
	require.NoError(t, err)
	assert.True(t, view.Balance.Value.Equal(num(0)), "balance %s", view.Balance)
	assert.True(t, view.Used.Value.Equal(num(2)))
}

func TestApprove_ReturnsNotPendingAfterDecision(t *testing.T) {
	f := newTestService(t, jan15)
	ctx := context.Background()
	req := submit(t, f, "tot_vacation", generic.AllDay(d("2025-02-10"), d("2025-02-10")))

	_, err := f.svc.Approve(ctx, manager, req.ID, timeoff.ApproveOptions{})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, manager, req.ID, timeoff.ApproveOptions{})
	var notPending *generic.RequestNotPendingError
	require.ErrorAs(t, err, &notPending)
	assert.Equal(t, "approved", notPending.Current)
}

func TestDeny_RequiresReason(t *testing.T) {
	// GIVEN: A pending request
	// WHEN: Denying with an empty reason, then with a reason
	// THEN: The first fails without touching history; the second appends exactly one entry
	f := newTestService(t, jan15)
	ctx := context.Background()
	req := submit(t, f, "tot_vacation", generic.AllDay(d("2025-02-10"), d("2025-02-10")))

	_, err := f.svc.Deny(ctx, manager, req.ID, "   ")
	assert.True(t, errors.Is(err, generic.ErrDenialReasonRequired))

	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, stored.StatusHistory, 1)

	denied, err := f.svc.Deny(ctx, manager, req.ID, "short staffed")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusDenied, denied.Status())
	require.Len(t, denied.StatusHistory, 2)
	last := denied.StatusHistory[1]
	assert.Equal(t, schedule.StatusPending, last.From)
	assert.Equal(t, "mgr-1", last.ChangedBy)
	assert.Equal(t, "front-desk", last.ChangedByDevice)
	assert.Equal(t, "short staffed", denied.DenialReason)

	_, err = f.svc.Cancel(ctx, sam, req.ID, "")
	var transition *generic.InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, "denied", transition.From)
}

func TestDeny_RequiresManager(t *testing.T) {
	f := newTestService(t, jan15)
	req := submit(t, f, "tot_vacation", generic.AllDay(d("2025-02-10"), d("2025-02-10")))

	_, err := f.svc.Deny(context.Background(), sam, req.ID, "no")
	assert.True(t, errors.Is(err, generic.ErrUnauthorized))
}

func TestCancel_ApprovedRestoresBalance(t *testing.T) {
	// GIVEN: An approved one day request
	// WHEN: The requester cancels it
	// THEN: The reversal brings the balance back to where it was before approval
	f := newTestService(t, jan15)
	ctx := context.Background()
	req := submit(t, f, "tot_vacation", generic.AllDay(d("2025-02-10"), d("2025-02-10")))
	_, err := f.svc.Approve(ctx, manager, req.ID, timeoff.ApproveOptions{})
	require.NoError(t, err)

	view, err := f.svc.Balance(ctx, "s1", "tot_vacation", 2025)
	require.NoError(t, err)
	assert.True(t, view.Balance.Value.Equal(num(1)))

	cancelled, err := f.svc.Cancel(ctx, sam, req.ID, "plans changed")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusCancelled, cancelled.Status())
	assert.Len(t, cancelled.StatusHistory, 3)

	view, err = f.svc.Balance(ctx, "s1", "tot_vacation", 2025)
	require.NoError(t, err)
	assert.True(t, view.Balance.Value.Equal(num(2)))
	assert.True(t, view.Used.Value.IsZero())

	_, err = f.svc.Cancel(ctx, sam, req.ID, "")
	assert.True(t, errors.Is(err, generic.ErrInvalidTransition))

	txs, err := f.svc.Transactions(ctx, "s1", "tot_vacation")
	require.NoError(t, err)
	var reversals int
	for _, tx := range txs {
		if tx.Type == generic.TxReversal {
			reversals++
			assert.Equal(t, req.ID, tx.ReferenceID)
		}
	}
	assert.Equal(t, 1, reversals)
}

func TestApprove_ConflictNeedsOverride(t *testing.T) {
	// GIVEN: A confirmed appointment on 2025-02-11 10:00-11:00
	// WHEN: Submitting all-day time off over it
	// THEN: Submission succeeds with the conflict recorded; approval needs an override
	f := newTestService(t, jan15)
	ctx := context.Background()
	require.NoError(t, f.store.SaveAppointment(ctx, schedule.Appointment{
		ID: "appt-1", StaffID: "s1", Status: schedule.AppointmentConfirmed,
		Interval: generic.PartialDay(d("2025-02-11"), c("10:00"), c("11:00")),
	}))

	req := submit(t, f, "tot_vacation", generic.AllDay(d("2025-02-10"), d("2025-02-11")))
	assert.True(t, req.HasConflicts)
	assert.Equal(t, []string{"appt-1"}, req.ConflictingAppointmentIDs)

	_, err := f.svc.Approve(ctx, manager, req.ID, timeoff.ApproveOptions{})
	var exists *generic.ConflictExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, []string{"appt-1"}, exists.AppointmentIDs)

	approved, err := f.svc.Approve(ctx, manager, req.ID, timeoff.ApproveOptions{OverrideConflicts: true, Notes: "covered"})
	require.NoError(t, err)
	assert.True(t, approved.Approval.OverrideConflicts)

	// the override never hides the conflict from a refresh
	_, set, err := f.svc.Recheck(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"appt-1"}, set.IDs(conflict.KindAppointment))
}

func TestSubmit_Validation(t *testing.T) {
	f := newTestService(t, jan15)
	ctx := context.Background()

	t.Run("backdating needs permission", func(t *testing.T) {
		past := generic.AllDay(d("2025-01-10"), d("2025-01-10"))
		_, err := f.svc.Submit(ctx, sam, timeoff.SubmitInput{StaffID: "s1", TypeID: "tot_vacation", Interval: past})
		assert.True(t, errors.Is(err, generic.ErrDateRangeInvalid))

		_, err = f.svc.Submit(ctx, manager, timeoff.SubmitInput{StaffID: "s1", TypeID: "tot_vacation", Interval: past})
		assert.NoError(t, err)
	})

	t.Run("end before start", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, sam, timeoff.SubmitInput{StaffID: "s1", TypeID: "tot_vacation",
			Interval: generic.AllDay(d("2025-03-05"), d("2025-03-01"))})
		assert.Error(t, err)
	})

	t.Run("staff cannot file for someone else", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, sam, timeoff.SubmitInput{StaffID: "s2", TypeID: "tot_vacation",
			Interval: generic.AllDay(d("2025-03-05"), d("2025-03-05"))})
		assert.True(t, errors.Is(err, generic.ErrUnauthorized))
	})

	t.Run("recurring time off is rejected", func(t *testing.T) {
		iv := generic.AllDay(d("2025-03-03"), d("2025-03-03")).Weekly(nil, time.Monday)
		_, err := f.svc.Submit(ctx, sam, timeoff.SubmitInput{StaffID: "s1", TypeID: "tot_vacation", Interval: iv})
		assert.True(t, errors.Is(err, generic.ErrInvalidInterval))
	})

	t.Run("inactive type", func(t *testing.T) {
		typ := vacation()
		typ.ID, typ.Code, typ.IsActive = "tot_old", "OLD", false
		require.NoError(t, f.store.SaveTimeOffType(ctx, typ))
		_, err := f.svc.Submit(ctx, sam, timeoff.SubmitInput{StaffID: "s1", TypeID: "tot_old",
			Interval: generic.AllDay(d("2025-03-05"), d("2025-03-05"))})
		assert.True(t, errors.Is(err, generic.ErrTypeInactive))
	})
}

func TestSubmit_AutoApprovesWhenApprovalNotRequired(t *testing.T) {
	f := newTestService(t, jan15)
	req := submit(t, f, "tot_sick", generic.AllDay(d("2025-01-20"), d("2025-01-20")))

	assert.Equal(t, schedule.StatusApproved, req.Status())
	require.Len(t, req.StatusHistory, 2)
	assert.Equal(t, schedule.SystemActor.ID, req.StatusHistory[1].ChangedBy)

	assert.Len(t, f.events.OfType(events.TimeOffSubmitted), 1)
	assert.Len(t, f.events.OfType(events.TimeOffApproved), 1)
}

func TestSubmit_SnapshotsCatalogFields(t *testing.T) {
	f := newTestService(t, jan15)
	ctx := context.Background()
	req := submit(t, f, "tot_vacation", generic.AllDay(d("2025-02-10"), d("2025-02-10")))

	typ := vacation()
	typ.Name = "Holiday"
	require.NoError(t, f.store.SaveTimeOffType(ctx, typ))

	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "Vacation", stored.TypeName)
	assert.True(t, stored.IsPaid)
}

func TestMeasure(t *testing.T) {
	week := timeoff.StandardWorkWeek()

	t.Run("partial day", func(t *testing.T) {
		got := timeoff.Measure(generic.PartialDay(d("2025-02-10"), c("13:00"), c("15:00")), week, nil)
		assert.True(t, got.Hours.Equal(num(2)))
		assert.True(t, got.Days.Equal(decimal.RequireFromString("0.25")))
	})

	t.Run("weekend is not worked", func(t *testing.T) {
		// Friday to Monday
		got := timeoff.Measure(generic.AllDay(d("2025-02-14"), d("2025-02-17")), week, nil)
		assert.True(t, got.Days.Equal(num(2)))
		assert.True(t, got.Hours.Equal(num(16)))
	})

	t.Run("full-day closure is not worked", func(t *testing.T) {
		closure := schedule.ClosedPeriod{ID: "cp-1", Name: "Holiday", StartDate: d("2025-02-17"), EndDate: d("2025-02-17")}
		got := timeoff.Measure(generic.AllDay(d("2025-02-14"), d("2025-02-17")), week, []schedule.ClosedPeriod{closure})
		assert.True(t, got.Days.Equal(num(1)))
	})
}

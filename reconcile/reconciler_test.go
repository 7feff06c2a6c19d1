package reconcile_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/schedule-engine/blocked"
	"github.com/warp/schedule-engine/catalog"
	"github.com/warp/schedule-engine/conflict"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/logging"
	"github.com/warp/schedule-engine/reconcile"
	"github.com/warp/schedule-engine/resource"
	"github.com/warp/schedule-engine/schedule"
	"github.com/warp/schedule-engine/store/memory"
)

var t0 = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func d(s string) generic.Date      { return generic.MustDate(s) }
func c(s string) generic.ClockTime { return generic.MustClock(s) }

func newTestReconciler(t *testing.T) (*reconcile.Reconciler, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveStaff(ctx, schedule.StaffMember{ID: "s1", Name: "Sam", LocationID: "downtown", IsActive: true}))
	require.NoError(t, store.SaveResource(ctx, schedule.Resource{ID: "room-1", Name: "Room 1", IsActive: true}))

	engine := conflict.NewEngine(store)
	locks := generic.NewKeyedMutex()
	r := reconcile.NewReconciler(store, engine,
		blocked.NewGuard(store, engine, blocked.WithLocks(locks)),
		resource.NewGuard(store, engine, resource.WithLocks(locks)),
		reconcile.WithLocks(locks),
		reconcile.WithLogger(logging.Discard()),
	)
	return r, store
}

func change(t *testing.T, kind schedule.EntityKind, device string, v any) reconcile.Change {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return reconcile.Change{Kind: kind, Op: reconcile.OpUpsert, DeviceID: device, Payload: b}
}

func TestApply_DoubleBookedResourceIsRejected(t *testing.T) {
	// GIVEN: Room 1 booked 10:00-11:00 on this device
	// WHEN: Another device's booking for 10:30-11:30 arrives
	// THEN: ReconciliationConflictError naming the local booking; nothing is stored
	r, store := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, store.SaveResourceBooking(ctx, schedule.ResourceBooking{
		ID: "b-local", ResourceID: "room-1", Status: schedule.BookingActive,
		Interval: generic.PartialDay(d("2025-05-02"), c("10:00"), c("11:00")),
	}))

	remote := schedule.ResourceBooking{
		ID: "b-remote", ResourceID: "room-1", Status: schedule.BookingActive,
		Interval: generic.PartialDay(d("2025-05-02"), c("10:30"), c("11:30")),
	}
	_, err := r.Apply(ctx, change(t, schedule.KindResourceBooking, "tablet", remote))
	var rc *generic.ReconciliationConflictError
	require.ErrorAs(t, err, &rc)
	assert.Equal(t, []string{"b-local"}, rc.ConflictingIDs)
	assert.True(t, errors.Is(err, generic.ErrResourceBookingConflict))
	assert.Equal(t, "RECONCILIATION_CONFLICT", generic.CodeOf(err))

	_, err = store.GetResourceBooking(ctx, "b-remote")
	assert.True(t, generic.IsNotFound(err))

	// the same booking arriving again after it was stored is not a conflict with itself
	remote.Interval = generic.PartialDay(d("2025-05-02"), c("11:00"), c("12:00"))
	_, err = r.Apply(ctx, change(t, schedule.KindResourceBooking, "tablet", remote))
	require.NoError(t, err)
	_, err = r.Apply(ctx, change(t, schedule.KindResourceBooking, "tablet", remote))
	assert.NoError(t, err)
}

func TestApply_OverlappingBlockedTimeIsRejected(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, store.SaveBlockedTime(ctx, schedule.BlockedTimeEntry{
		ID: "bt-local", StaffID: "s1", TypeName: "Lunch Break",
		Interval: generic.PartialDay(d("2025-05-05"), c("12:00"), c("13:00")),
	}))

	_, err := r.Apply(ctx, change(t, schedule.KindBlockedTime, "phone", schedule.BlockedTimeEntry{
		ID: "bt-remote", StaffID: "s1", StaffName: "Sam", TypeName: "Meeting",
		Interval: generic.PartialDay(d("2025-05-05"), c("12:30"), c("13:30")),
	}))
	var rc *generic.ReconciliationConflictError
	require.ErrorAs(t, err, &rc)
	assert.Equal(t, []string{"bt-local"}, rc.ConflictingIDs)
	assert.Equal(t, string(schedule.KindBlockedTime), rc.Kind)
}

func history(entries ...schedule.StatusChange) []schedule.StatusChange { return entries }

func TestApply_TimeOffHistoriesMerge(t *testing.T) {
	// GIVEN: Locally a request was approved at t0+2h on the front desk
	// WHEN: A tablet's copy arrives that denied it at t0+1h
	// THEN: The earlier denial wins, the approval is discarded, and the
	//       overlapping appointment is reported on every pass
	r, store := newTestReconciler(t)
	ctx := context.Background()
	iv := generic.AllDay(d("2025-05-12"), d("2025-05-12"))
	require.NoError(t, store.SaveAppointment(ctx, schedule.Appointment{
		ID: "appt-1", StaffID: "s1", Status: schedule.AppointmentScheduled,
		Interval: generic.PartialDay(d("2025-05-12"), c("15:00"), c("16:00")),
	}))

	submitted := schedule.StatusChange{To: schedule.StatusPending, ChangedAt: t0, ChangedBy: "s1", ChangedByDevice: "phone"}
	local := schedule.TimeOffRequest{
		ID: "req-1", StaffID: "s1", Interval: iv, UpdatedAt: t0.Add(2 * time.Hour),
		StatusHistory: history(submitted, schedule.StatusChange{
			From: schedule.StatusPending, To: schedule.StatusApproved,
			ChangedAt: t0.Add(2 * time.Hour), ChangedBy: "mgr-1", ChangedByDevice: "front-desk",
		}),
		Approval: &schedule.Decision{ActorID: "mgr-1", DeviceID: "front-desk", At: t0.Add(2 * time.Hour), OverrideConflicts: true},
	}
	require.NoError(t, store.SaveTimeOffRequest(ctx, local))

	remote := schedule.TimeOffRequest{
		ID: "req-1", StaffID: "s1", Interval: iv, UpdatedAt: t0.Add(time.Hour),
		StatusHistory: history(submitted, schedule.StatusChange{
			From: schedule.StatusPending, To: schedule.StatusDenied,
			ChangedAt: t0.Add(time.Hour), ChangedBy: "mgr-2", ChangedByDevice: "tablet", Reason: "busy week",
		}),
		Denial:       &schedule.Decision{ActorID: "mgr-2", DeviceID: "tablet", At: t0.Add(time.Hour), Notes: "busy week"},
		DenialReason: "busy week",
	}

	res, err := r.Apply(ctx, change(t, schedule.KindTimeOffRequest, "tablet", remote))
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusDenied, res.Status)
	require.Len(t, res.Discarded, 1)
	assert.Equal(t, schedule.StatusApproved, res.Discarded[0].To)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "appt-1", res.Conflicts[0].EntityID)

	stored, err := store.GetTimeOffRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusDenied, stored.Status())
	assert.Len(t, stored.StatusHistory, 2)
	assert.Nil(t, stored.Approval)
	require.NotNil(t, stored.Denial)
	assert.Equal(t, "busy week", stored.DenialReason)
	assert.True(t, stored.HasConflicts)
	assert.Equal(t, []string{"appt-1"}, stored.ConflictingAppointmentIDs)

	again, err := r.Apply(ctx, change(t, schedule.KindTimeOffRequest, "tablet", remote))
	require.NoError(t, err)
	assert.Len(t, again.Conflicts, 1)
	assert.Empty(t, again.Discarded)
}

func TestApply_LedgerEntriesAreIdempotent(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	tx := generic.Transaction{
		ID: "consume-req-9", StaffID: "s1", TypeID: "tot_vacation", EffectiveAt: d("2025-05-20"),
		Delta: generic.NewAmount(-1, generic.UnitDays), Type: generic.TxConsumption,
		ReferenceID: "req-9", IdempotencyKey: "consume-req-9", CreatedBy: "mgr-1", CreatedAt: t0,
	}
	for i := 0; i < 2; i++ {
		_, err := r.Apply(ctx, change(t, schedule.KindLedgerEntry, "tablet", tx))
		require.NoError(t, err)
	}
	txs, err := store.Load(ctx, "s1", "tot_vacation")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestApply_RejectsMalformedChanges(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Apply(ctx, reconcile.Change{Kind: schedule.KindTimeOffRequest, Op: reconcile.OpDelete, EntityID: "req-1"})
	assert.True(t, errors.Is(err, generic.ErrValidation))

	_, err = r.Apply(ctx, reconcile.Change{Kind: schedule.KindStaff, Op: reconcile.OpUpsert, Payload: json.RawMessage(`{"name":"x"}`)})
	assert.True(t, errors.Is(err, generic.ErrValidation))

	_, err = r.Apply(ctx, reconcile.Change{Kind: "unicorn", Op: reconcile.OpUpsert, Payload: json.RawMessage(`{}`)})
	assert.True(t, errors.Is(err, generic.ErrValidation))

	_, err = r.Apply(ctx, reconcile.Change{Kind: schedule.KindStaff, Op: "merge"})
	assert.True(t, errors.Is(err, generic.ErrValidation))
}

func TestApply_DeleteIsIdempotent(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, store.SaveClosedPeriod(ctx, schedule.ClosedPeriod{ID: "cp-1", Name: "Holiday", AppliesToAllLocations: true,
		StartDate: d("2025-05-26"), EndDate: d("2025-05-26")}))

	del := reconcile.Change{Kind: schedule.KindClosedPeriod, Op: reconcile.OpDelete, EntityID: "cp-1"}
	_, err := r.Apply(ctx, del)
	require.NoError(t, err)
	_, err = r.Apply(ctx, del)
	assert.NoError(t, err)
}

func TestApply_CatalogDeletesKeepDefaultAndInUseGuards(t *testing.T) {
	// GIVEN: Seeded catalogs, a custom blocked type used by one entry, an unused custom time-off type
	// WHEN: Remote deletes arrive for each of them
	// THEN: Defaults and in-use types are refused with their typed errors; the unused type goes
	r, store := newTestReconciler(t)
	ctx := context.Background()
	_, err := catalog.Seed(ctx, store, t0)
	require.NoError(t, err)
	require.NoError(t, store.SaveBlockedTimeType(ctx, schedule.BlockedTimeType{ID: "btt_focus", Name: "Focus", Code: "focus", IsActive: true}))
	require.NoError(t, store.SaveTimeOffType(ctx, schedule.TimeOffType{ID: "tot_study", Name: "Study", Code: "study", IsActive: true}))
	require.NoError(t, store.SaveBlockedTime(ctx, schedule.BlockedTimeEntry{
		ID: "bt-1", StaffID: "s1", TypeID: "btt_lunch", TypeName: "Lunch Break",
		Interval: generic.PartialDay(d("2025-05-05"), c("12:00"), c("13:00")),
	}))
	require.NoError(t, store.SaveBlockedTime(ctx, schedule.BlockedTimeEntry{
		ID: "bt-2", StaffID: "s1", TypeID: "btt_focus", TypeName: "Focus",
		Interval: generic.PartialDay(d("2025-05-06"), c("09:00"), c("10:00")),
	}))
	del := func(kind schedule.EntityKind, id string) error {
		_, err := r.Apply(ctx, reconcile.Change{Kind: kind, Op: reconcile.OpDelete, EntityID: id, DeviceID: "tablet"})
		return err
	}

	err = del(schedule.KindTimeOffType, "tot_vacation")
	var sysDefault *generic.CannotDeleteSystemDefaultError
	require.ErrorAs(t, err, &sysDefault)
	assert.Equal(t, "CANNOT_DELETE_SYSTEM_DEFAULT", generic.CodeOf(err))
	_, err = store.GetTimeOffType(ctx, "tot_vacation")
	assert.NoError(t, err)

	err = del(schedule.KindBlockedTimeType, "btt_lunch")
	require.ErrorAs(t, err, &sysDefault)
	assert.Equal(t, "CANNOT_DELETE_DEFAULT_BLOCKED_TIME_TYPE", generic.CodeOf(err))
	_, err = store.GetBlockedTimeType(ctx, "btt_lunch")
	assert.NoError(t, err)

	err = del(schedule.KindBlockedTimeType, "btt_focus")
	var inUse *generic.BlockedTimeTypeInUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, 1, inUse.EntryCount)
	assert.Equal(t, generic.GroupStateViolation, generic.GroupOf(err))
	_, err = store.GetBlockedTimeType(ctx, "btt_focus")
	assert.NoError(t, err)

	require.NoError(t, del(schedule.KindTimeOffType, "tot_study"))
	_, err = store.GetTimeOffType(ctx, "tot_study")
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// CONSUMER
// =============================================================================

type ack struct {
	tag     uint64
	ok      bool
	requeue bool
}

type recordingAcker struct {
	mu   sync.Mutex
	acks []ack
}

func (a *recordingAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, ack{tag: tag, ok: true})
	return nil
}

func (a *recordingAcker) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, ack{tag: tag, requeue: requeue})
	return nil
}

func (a *recordingAcker) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

func TestConsumer_AcksAppliedAndDropsConflicts(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, store.SaveResourceBooking(ctx, schedule.ResourceBooking{
		ID: "b-local", ResourceID: "room-1", Status: schedule.BookingActive,
		Interval: generic.PartialDay(d("2025-05-02"), c("10:00"), c("11:00")),
	}))

	body := func(ch reconcile.Change) []byte {
		b, err := json.Marshal(ch)
		require.NoError(t, err)
		return b
	}
	acker := &recordingAcker{}
	msgs := make(chan amqp.Delivery, 3)
	msgs <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, AppId: "phone",
		Body: body(change(t, schedule.KindStaff, "", schedule.StaffMember{ID: "s2", Name: "Kim"}))}
	msgs <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte("{not json")}
	msgs <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 3,
		Body: body(change(t, schedule.KindResourceBooking, "tablet", schedule.ResourceBooking{
			ID: "b-remote", ResourceID: "room-1", Status: schedule.BookingActive,
			Interval: generic.PartialDay(d("2025-05-02"), c("10:30"), c("11:30")),
		}))}
	close(msgs)

	require.NoError(t, reconcile.NewConsumer(r, logging.Discard()).Run(ctx, msgs))
	assert.Equal(t, []ack{{tag: 1, ok: true}, {tag: 2}, {tag: 3}}, acker.acks)

	_, err := store.GetStaff(ctx, "s2")
	assert.NoError(t, err)
}

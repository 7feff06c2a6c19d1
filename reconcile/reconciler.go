/*
Package reconcile re-validates remote changes arriving from the sync layer.

PURPOSE:
  Devices edit schedule data offline and replicate later. Every remote
  change is re-run through the same rules as a local write before it is
  stored:

    blocked_time       hard: overlapping blocked time of the same staff
    resource_booking   hard: overlapping active booking of the resource
    time_off_request   histories merged; appointment conflicts re-surfaced
    appointment        stored; time-off, blocked time and closures re-surfaced
    ledger_entry       appended once by idempotency key
    catalog deletes    same default and in-use guards as catalog.Service
    everything else    stored as received

  A hard conflict returns *generic.ReconciliationConflictError and nothing
  is written. Advisory conflicts are returned on every pass, whatever
  overrides were granted earlier.

SEE ALSO:
  - schedule/history.go: MergeHistory
  - consumer.go: AMQP delivery loop
*/
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/warp/schedule-engine/blocked"
	"github.com/warp/schedule-engine/catalog"
	"github.com/warp/schedule-engine/conflict"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/logging"
	"github.com/warp/schedule-engine/metrics"
	"github.com/warp/schedule-engine/resource"
	"github.com/warp/schedule-engine/schedule"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Change is one remote write as shipped by the sync layer.
type Change struct {
	Kind     schedule.EntityKind `json:"kind"`
	Op       Op                  `json:"op"`
	EntityID string              `json:"entity_id,omitempty"` // required for deletes
	DeviceID string              `json:"device_id"`
	Payload  json.RawMessage     `json:"payload,omitempty"`
}

// Result describes what was stored.
type Result struct {
	Kind     schedule.EntityKind `json:"kind"`
	EntityID string              `json:"entity_id"`
	Op       Op                  `json:"op"`

	// Advisory conflicts found on the merged entity.
	Conflicts []conflict.Conflict `json:"conflicts,omitempty"`

	// Time-off only.
	Status    schedule.RequestStatus  `json:"status,omitempty"`
	Discarded []schedule.StatusChange `json:"discarded,omitempty"`
}

type Reconciler struct {
	store     schedule.Store
	conflicts *conflict.Engine
	blocked   *blocked.Guard
	resources *resource.Guard
	locks     *generic.KeyedMutex
	metrics   *metrics.Metrics
	log       *slog.Logger
}

type Option func(*Reconciler)

func WithLocks(l *generic.KeyedMutex) Option { return func(r *Reconciler) { r.locks = l } }
func WithMetrics(m *metrics.Metrics) Option  { return func(r *Reconciler) { r.metrics = m } }
func WithLogger(l *slog.Logger) Option       { return func(r *Reconciler) { r.log = l } }

func NewReconciler(store schedule.Store, engine *conflict.Engine, bg *blocked.Guard, rg *resource.Guard, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     store,
		conflicts: engine,
		blocked:   bg,
		resources: rg,
		locks:     generic.NewKeyedMutex(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Apply re-validates and stores one remote change.
func (r *Reconciler) Apply(ctx context.Context, c Change) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch c.Op {
	case OpUpsert:
		res, err = r.upsert(ctx, c)
	case OpDelete:
		res, err = r.delete(ctx, c)
	default:
		err = generic.Invalid("op", fmt.Sprintf("unknown op %q", c.Op))
	}

	log := logging.For(ctx, r.log)
	switch {
	case err == nil:
		r.metrics.Reconciled("applied")
		log.InfoContext(ctx, "remote change applied", "kind", c.Kind, "op", c.Op, "entity_id", res.EntityID,
			"device_id", c.DeviceID, "advisory_conflicts", len(res.Conflicts), "discarded", len(res.Discarded))
	case errors.Is(err, generic.ErrReconciliationConflict):
		r.metrics.Reconciled("conflict")
		log.WarnContext(ctx, "remote change rejected", "kind", c.Kind, "device_id", c.DeviceID, "code", generic.CodeOf(err), "error", err)
	default:
		r.metrics.Reconciled("error")
		log.WarnContext(ctx, "remote change failed", "kind", c.Kind, "device_id", c.DeviceID, "code", generic.CodeOf(err), "error", err)
	}
	return res, err
}

func (r *Reconciler) upsert(ctx context.Context, c Change) (*Result, error) {
	switch c.Kind {
	case schedule.KindBlockedTime:
		e, err := decode[schedule.BlockedTimeEntry](c)
		if err != nil {
			return nil, err
		}
		return r.blockedTime(ctx, c, e)
	case schedule.KindResourceBooking:
		b, err := decode[schedule.ResourceBooking](c)
		if err != nil {
			return nil, err
		}
		return r.booking(ctx, c, b)
	case schedule.KindTimeOffRequest:
		req, err := decode[schedule.TimeOffRequest](c)
		if err != nil {
			return nil, err
		}
		return r.timeOff(ctx, c, req)
	case schedule.KindAppointment:
		a, err := decode[schedule.Appointment](c)
		if err != nil {
			return nil, err
		}
		return r.appointment(ctx, c, a)
	case schedule.KindLedgerEntry:
		tx, err := decode[generic.Transaction](c)
		if err != nil {
			return nil, err
		}
		if _, err := generic.NewLedger(r.store).AppendOnce(ctx, tx); err != nil {
			return nil, err
		}
		return &Result{Kind: c.Kind, EntityID: tx.IdempotencyKey, Op: c.Op}, nil
	case schedule.KindTimeOffType:
		return store(ctx, c, func(t schedule.TimeOffType) string { return t.ID }, r.store.SaveTimeOffType)
	case schedule.KindBlockedTimeType:
		return store(ctx, c, func(t schedule.BlockedTimeType) string { return t.ID }, r.store.SaveBlockedTimeType)
	case schedule.KindStaff:
		return store(ctx, c, func(s schedule.StaffMember) string { return s.ID }, r.store.SaveStaff)
	case schedule.KindClosedPeriod:
		return store(ctx, c, func(p schedule.ClosedPeriod) string { return p.ID }, r.store.SaveClosedPeriod)
	case schedule.KindResource:
		return store(ctx, c, func(res schedule.Resource) string { return res.ID }, r.store.SaveResource)
	}
	return nil, generic.Invalid("kind", fmt.Sprintf("unknown entity kind %q", c.Kind))
}

func (r *Reconciler) delete(ctx context.Context, c Change) (*Result, error) {
	if c.EntityID == "" {
		return nil, generic.Invalid("entity_id", "required for deletes")
	}
	var err error
	switch c.Kind {
	case schedule.KindBlockedTime:
		err = r.store.DeleteBlockedTime(ctx, c.EntityID)
	case schedule.KindClosedPeriod:
		err = r.store.DeleteClosedPeriod(ctx, c.EntityID)
	case schedule.KindTimeOffType:
		err = r.store.WithTx(ctx, func(tx schedule.Repository) error {
			return catalog.DeleteTimeOffTypeTx(ctx, tx, c.EntityID)
		})
	case schedule.KindBlockedTimeType:
		err = r.store.WithTx(ctx, func(tx schedule.Repository) error {
			return catalog.DeleteBlockedTimeTypeTx(ctx, tx, c.EntityID)
		})
	default:
		return nil, generic.Invalid("op", fmt.Sprintf("%s entities are never deleted", c.Kind))
	}
	// already gone on this side
	if err != nil && !generic.IsNotFound(err) {
		return nil, err
	}
	return &Result{Kind: c.Kind, EntityID: c.EntityID, Op: c.Op}, nil
}

// =============================================================================
// HARD CONFLICTS
// =============================================================================

func (r *Reconciler) blockedTime(ctx context.Context, c Change, e schedule.BlockedTimeEntry) (*Result, error) {
	if err := e.Interval.Validate(); err != nil {
		return nil, err
	}
	unlock := r.locks.Lock(generic.StaffKey(e.StaffID))
	defer unlock()

	if err := r.blocked.Validate(ctx, e); err != nil {
		var hard *generic.BlockedTimeConflictError
		if errors.As(err, &hard) {
			return nil, &generic.ReconciliationConflictError{
				Kind: string(c.Kind), EntityID: e.ID, ConflictingIDs: []string{hard.ConflictingEntryID}, Cause: err,
			}
		}
		return nil, err
	}
	if err := r.store.SaveBlockedTime(ctx, e); err != nil {
		return nil, err
	}
	return &Result{Kind: c.Kind, EntityID: e.ID, Op: c.Op}, nil
}

func (r *Reconciler) booking(ctx context.Context, c Change, b schedule.ResourceBooking) (*Result, error) {
	if err := b.Interval.Validate(); err != nil {
		return nil, err
	}
	unlock := r.locks.Lock(generic.ResourceKey(b.ResourceID))
	defer unlock()

	if err := r.resources.Validate(ctx, b); err != nil {
		var hard *generic.ResourceBookingConflictError
		if errors.As(err, &hard) {
			return nil, &generic.ReconciliationConflictError{
				Kind: string(c.Kind), EntityID: b.ID, ConflictingIDs: hard.BookingIDs, Cause: err,
			}
		}
		return nil, err
	}
	if err := r.store.SaveResourceBooking(ctx, b); err != nil {
		return nil, err
	}
	return &Result{Kind: c.Kind, EntityID: b.ID, Op: c.Op}, nil
}

// =============================================================================
// ADVISORY CONFLICTS
// =============================================================================

func (r *Reconciler) timeOff(ctx context.Context, c Change, remote schedule.TimeOffRequest) (*Result, error) {
	unlock := r.locks.Lock(generic.StaffKey(remote.StaffID))
	defer unlock()

	merged := remote
	var local []schedule.StatusChange
	existing, err := r.store.GetTimeOffRequest(ctx, remote.ID)
	switch {
	case err == nil:
		local = existing.StatusHistory
		if existing.UpdatedAt.After(remote.UpdatedAt) {
			merged = *existing
		}
		keepDecisions(&merged, existing, &remote)
	case !generic.IsNotFound(err):
		return nil, err
	}

	history, discarded := schedule.MergeHistory(local, remote.StatusHistory)
	merged.StatusHistory = history
	dropUnreached(&merged)

	set, err := r.conflicts.Check(ctx, conflict.Query{
		Subject:   conflict.Subject{StaffID: merged.StaffID},
		Interval:  merged.Interval,
		ExcludeID: merged.ID,
		Kinds:     []conflict.Kind{conflict.KindAppointment},
	})
	if err != nil {
		return nil, err
	}
	merged.ConflictingAppointmentIDs = set.IDs(conflict.KindAppointment)
	merged.HasConflicts = len(merged.ConflictingAppointmentIDs) > 0

	if err := r.store.SaveTimeOffRequest(ctx, merged); err != nil {
		return nil, err
	}
	return &Result{
		Kind: c.Kind, EntityID: merged.ID, Op: c.Op,
		Conflicts: set.Conflicts, Status: merged.Status(), Discarded: discarded,
	}, nil
}

func (r *Reconciler) appointment(ctx context.Context, c Change, a schedule.Appointment) (*Result, error) {
	if err := a.Interval.Validate(); err != nil {
		return nil, err
	}
	if err := r.store.SaveAppointment(ctx, a); err != nil {
		return nil, err
	}
	res := &Result{Kind: c.Kind, EntityID: a.ID, Op: c.Op}
	if !a.Blocking() || a.StaffID == "" {
		return res, nil
	}
	set, err := r.conflicts.Check(ctx, conflict.Query{
		Subject:  conflict.Subject{StaffID: a.StaffID, LocationID: a.LocationID},
		Interval: a.Interval,
		Kinds:    []conflict.Kind{conflict.KindTimeOff, conflict.KindBlockedTime, conflict.KindClosure},
	})
	if err != nil {
		return nil, err
	}
	res.Conflicts = set.Conflicts
	return res, nil
}

// keepDecisions fills decision records missing on the newer side from the
// older one; dropUnreached removes the ones the merged history never reached.
func keepDecisions(dst, a, b *schedule.TimeOffRequest) {
	for _, src := range []*schedule.TimeOffRequest{a, b} {
		if dst.Approval == nil {
			dst.Approval = src.Approval
		}
		if dst.Denial == nil {
			dst.Denial, dst.DenialReason = src.Denial, src.DenialReason
		}
		if dst.Cancellation == nil {
			dst.Cancellation = src.Cancellation
		}
	}
}

func dropUnreached(r *schedule.TimeOffRequest) {
	reached := make(map[schedule.RequestStatus]bool, len(r.StatusHistory))
	for _, ch := range r.StatusHistory {
		reached[ch.To] = true
	}
	if !reached[schedule.StatusApproved] {
		r.Approval = nil
	}
	if !reached[schedule.StatusDenied] {
		r.Denial, r.DenialReason = nil, ""
	}
	if !reached[schedule.StatusCancelled] {
		r.Cancellation = nil
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func decode[T any](c Change) (T, error) {
	var v T
	if len(c.Payload) == 0 {
		return v, generic.Invalid("payload", "required for upserts")
	}
	if err := json.Unmarshal(c.Payload, &v); err != nil {
		return v, generic.Invalid("payload", err.Error())
	}
	return v, nil
}

func store[T any](ctx context.Context, c Change, id func(T) string, save func(context.Context, T) error) (*Result, error) {
	v, err := decode[T](c)
	if err != nil {
		return nil, err
	}
	if id(v) == "" {
		return nil, generic.Invalid("payload.id", "required")
	}
	if err := save(ctx, v); err != nil {
		return nil, err
	}
	return &Result{Kind: c.Kind, EntityID: id(v), Op: c.Op}, nil
}

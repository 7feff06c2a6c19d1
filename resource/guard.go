/*
Package resource guards reservations of shared resources (rooms, chairs,
equipment).

PURPOSE:
  A booking is accepted or rejected synchronously: any active booking of
  the same resource that overlaps it is a hard failure. There is no
  approval workflow.

CONCURRENCY:
  Book and UpdateBooking hold the resource key in the shared KeyedMutex
  between the conflict check and the write, so two bookings for one slot
  cannot both pass.
*/
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/schedule-engine/conflict"
	"github.com/warp/schedule-engine/events"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/logging"
	"github.com/warp/schedule-engine/schedule"
)

type Guard struct {
	store     schedule.Store
	conflicts *conflict.Engine
	locks     *generic.KeyedMutex
	publisher events.Publisher
	log       *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Guard)

func WithLocks(l *generic.KeyedMutex) Option  { return func(g *Guard) { g.locks = l } }
func WithPublisher(p events.Publisher) Option { return func(g *Guard) { g.publisher = p } }
func WithLogger(l *slog.Logger) Option        { return func(g *Guard) { g.log = l } }
func WithClock(now func() time.Time) Option   { return func(g *Guard) { g.now = now } }
func WithIDs(newID func() string) Option      { return func(g *Guard) { g.newID = newID } }

func NewGuard(store schedule.Store, engine *conflict.Engine, opts ...Option) *Guard {
	g := &Guard{
		store:     store,
		conflicts: engine,
		locks:     generic.NewKeyedMutex(),
		publisher: events.Nop{},
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// =============================================================================
// RESOURCES
// =============================================================================

func (g *Guard) CreateResource(ctx context.Context, actor schedule.Actor, r schedule.Resource) (*schedule.Resource, error) {
	if !actor.IsManager() {
		return nil, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "manage resources"}
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return nil, generic.Invalid("name", "required")
	}
	if r.ID == "" {
		r.ID = g.newID()
	}
	r.IsActive = true
	r.CreatedAt = g.now().UTC()
	if err := g.store.SaveResource(ctx, r); err != nil {
		return nil, fmt.Errorf("save resource: %w", err)
	}
	g.logger(ctx).InfoContext(ctx, "resource created", "resource_id", r.ID, "actor_id", actor.ID)
	g.publish(ctx, events.New(events.EntityWritten, schedule.KindResource, r.ID, actor, r.CreatedAt, r))
	return &r, nil
}

func (g *Guard) GetResource(ctx context.Context, id string) (*schedule.Resource, error) {
	return g.store.GetResource(ctx, id)
}

func (g *Guard) ListResources(ctx context.Context) ([]schedule.Resource, error) {
	return g.store.ListResources(ctx)
}

// =============================================================================
// BOOKINGS
// =============================================================================

type BookInput struct {
	ResourceID    string           `json:"resource_id"`
	AppointmentID string           `json:"appointment_id,omitempty"`
	StaffID       string           `json:"staff_id,omitempty"`
	Interval      generic.Interval `json:"interval"`
	Notes         string           `json:"notes,omitempty"`
}

func (g *Guard) GetBooking(ctx context.Context, id string) (*schedule.ResourceBooking, error) {
	return g.store.GetResourceBooking(ctx, id)
}

// ListBookings returns active and cancelled bookings that may occur in [from, to].
func (g *Guard) ListBookings(ctx context.Context, resourceID string, from, to generic.Date) ([]schedule.ResourceBooking, error) {
	if to.Before(from) {
		return nil, &generic.DateRangeInvalidError{Start: from, End: to, Reason: "end date is before start date"}
	}
	return g.store.BookingsForResource(ctx, resourceID, from, to)
}

func (g *Guard) Book(ctx context.Context, actor schedule.Actor, in BookInput) (*schedule.ResourceBooking, error) {
	res, err := g.prepare(ctx, actor, in)
	if err != nil {
		return nil, err
	}
	unlock := g.locks.Lock(generic.ResourceKey(res.ID))
	defer unlock()

	now := g.now().UTC()
	b := schedule.ResourceBooking{
		ID:            g.newID(),
		ResourceID:    res.ID,
		AppointmentID: in.AppointmentID,
		StaffID:       in.StaffID,
		Interval:      in.Interval,
		Status:        schedule.BookingActive,
		Notes:         strings.TrimSpace(in.Notes),
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := g.Validate(ctx, b); err != nil {
		g.rejected(ctx, "book", b, actor, err)
		return nil, err
	}
	if err := g.store.SaveResourceBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("save booking: %w", err)
	}
	g.written(ctx, b, actor)
	return &b, nil
}

// UpdateBooking moves an active booking to a new interval.
func (g *Guard) UpdateBooking(ctx context.Context, actor schedule.Actor, id string, iv generic.Interval) (*schedule.ResourceBooking, error) {
	existing, err := g.store.GetResourceBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := g.prepare(ctx, actor, BookInput{ResourceID: existing.ResourceID, StaffID: existing.StaffID, Interval: iv}); err != nil {
		return nil, err
	}
	unlock := g.locks.Lock(generic.ResourceKey(existing.ResourceID))
	defer unlock()

	if existing, err = g.store.GetResourceBooking(ctx, id); err != nil {
		return nil, err
	}
	if !existing.Active() {
		return nil, &generic.InvalidTransitionError{RequestID: id, From: string(existing.Status), To: string(schedule.BookingActive)}
	}
	b := *existing
	b.Interval = iv
	b.UpdatedAt = g.now().UTC()
	if err := g.Validate(ctx, b); err != nil {
		g.rejected(ctx, "update", b, actor, err)
		return nil, err
	}
	if err := g.store.SaveResourceBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("save booking: %w", err)
	}
	g.written(ctx, b, actor)
	return &b, nil
}

// CancelBooking releases the slot. Cancelling twice is a no-op.
func (g *Guard) CancelBooking(ctx context.Context, actor schedule.Actor, id string) (*schedule.ResourceBooking, error) {
	b, err := g.store.GetResourceBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.StaffID != "" && !actor.CanActFor(b.StaffID) {
		return nil, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "cancel booking " + id}
	}
	unlock := g.locks.Lock(generic.ResourceKey(b.ResourceID))
	defer unlock()

	if b, err = g.store.GetResourceBooking(ctx, id); err != nil {
		return nil, err
	}
	if !b.Active() {
		return b, nil
	}
	b.Status = schedule.BookingCancelled
	b.UpdatedAt = g.now().UTC()
	if err := g.store.SaveResourceBooking(ctx, *b); err != nil {
		return nil, fmt.Errorf("save booking: %w", err)
	}
	g.written(ctx, *b, actor)
	return b, nil
}

// Validate reports every active booking of the same resource that overlaps
// b as one *generic.ResourceBookingConflictError. Cancelled bookings never
// conflict.
func (g *Guard) Validate(ctx context.Context, b schedule.ResourceBooking) error {
	if !b.Active() {
		return nil
	}
	set, err := g.conflicts.Check(ctx, conflict.Query{
		Subject:   conflict.Subject{ResourceID: b.ResourceID},
		Interval:  b.Interval,
		ExcludeID: b.ID,
		Kinds:     []conflict.Kind{conflict.KindResourceBooking},
	})
	if err != nil {
		return err
	}
	if set.Empty() {
		return nil
	}
	name := b.ResourceID
	if res, err := g.store.GetResource(ctx, b.ResourceID); err == nil {
		name = res.Name
	}
	overlap := set.Conflicts[0].Overlap
	for _, c := range set.Conflicts[1:] {
		overlap = overlap.Hull(c.Overlap)
	}
	return &generic.ResourceBookingConflictError{
		ResourceID:   b.ResourceID,
		ResourceName: name,
		BookingIDs:   set.IDs(conflict.KindResourceBooking),
		Overlap:      overlap,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (g *Guard) prepare(ctx context.Context, actor schedule.Actor, in BookInput) (*schedule.Resource, error) {
	if in.StaffID != "" && !actor.CanActFor(in.StaffID) {
		return nil, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "book for " + in.StaffID}
	}
	if err := in.Interval.Validate(); err != nil {
		return nil, err
	}
	if in.Interval.IsRecurring() {
		return nil, &generic.InvalidIntervalError{Field: "recurrence", Reason: "resource bookings do not recur"}
	}
	res, err := g.store.GetResource(ctx, in.ResourceID)
	if err != nil {
		return nil, err
	}
	if !res.IsActive {
		return nil, &generic.TypeInactiveError{TypeName: res.Name}
	}
	return res, nil
}

func (g *Guard) logger(ctx context.Context) *slog.Logger { return logging.For(ctx, g.log) }

func (g *Guard) rejected(ctx context.Context, op string, b schedule.ResourceBooking, actor schedule.Actor, err error) {
	g.logger(ctx).WarnContext(ctx, "resource booking "+op+" rejected",
		"booking_id", b.ID, "resource_id", b.ResourceID, "actor_id", actor.ID, "code", generic.CodeOf(err), "error", err)
}

func (g *Guard) written(ctx context.Context, b schedule.ResourceBooking, actor schedule.Actor) {
	g.logger(ctx).InfoContext(ctx, "resource booking written",
		"booking_id", b.ID, "resource_id", b.ResourceID, "status", b.Status, "actor_id", actor.ID, "device_id", actor.DeviceID)
	g.publish(ctx, events.New(events.EntityWritten, schedule.KindResourceBooking, b.ID, actor, b.UpdatedAt, b))
}

func (g *Guard) publish(ctx context.Context, ev events.Event) {
	if err := g.publisher.Publish(ctx, ev); err != nil {
		g.logger(ctx).WarnContext(ctx, "event publish failed", "event", ev.Type, "entity_id", ev.EntityID, "error", err)
	}
}

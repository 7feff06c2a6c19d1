/*
Package blocked guards staff blocked time (lunch, meetings, training...).

PURPOSE:
  Blocked time has no approval gate. It is accepted or rejected when it is
  written: an entry that overlaps another blocked-time entry of the same
  staff member, including any occurrence of a weekly series, is a hard
  failure. Appointments are not checked here; the booking side consults the
  conflict engine before placing appointments into blocked time.

CONCURRENCY:
  Create and Update hold the staff key in the shared KeyedMutex between the
  conflict check and the write.

SEE ALSO:
  - conflict/engine.go: Overlap detection
  - catalog/catalog.go: BlockedTimeType lifecycle
*/
package blocked

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
// QUERIES
// =============================================================================

func (g *Guard) Get(ctx context.Context, id string) (*schedule.BlockedTimeEntry, error) {
	return g.store.GetBlockedTime(ctx, id)
}

// List returns the staff member's entries that may occur in [from, to].
// Weekly series are returned once, not per occurrence.
func (g *Guard) List(ctx context.Context, staffID string, from, to generic.Date) ([]schedule.BlockedTimeEntry, error) {
	if to.Before(from) {
		return nil, &generic.DateRangeInvalidError{Start: from, End: to, Reason: "end date is before start date"}
	}
	return g.store.BlockedTimeForStaff(ctx, staffID, from, to)
}

// =============================================================================
// MUTATIONS
// =============================================================================

type Input struct {
	StaffID  string           `json:"staff_id"`
	TypeID   string           `json:"type_id"`
	Interval generic.Interval `json:"interval"`
	Notes    string           `json:"notes,omitempty"`
}

func (g *Guard) Create(ctx context.Context, actor schedule.Actor, in Input) (*schedule.BlockedTimeEntry, error) {
	staff, typ, err := g.prepare(ctx, actor, in)
	if err != nil {
		return nil, err
	}
	unlock := g.locks.Lock(generic.StaffKey(staff.ID))
	defer unlock()

	now := g.now().UTC()
	e := schedule.BlockedTimeEntry{
		ID:        g.newID(),
		StaffID:   staff.ID,
		StaffName: staff.Name,
		TypeID:    typ.ID,
		TypeName:  typ.Name,
		Interval:  in.Interval,
		Notes:     strings.TrimSpace(in.Notes),
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.Validate(ctx, e); err != nil {
		g.rejected(ctx, "create", e, actor, err)
		return nil, err
	}
	if err := g.store.SaveBlockedTime(ctx, e); err != nil {
		return nil, fmt.Errorf("save blocked time: %w", err)
	}
	g.written(ctx, e, actor, now)
	return &e, nil
}

// Update replaces the type, interval and notes of an entry. The entry's
// own previous interval never conflicts with the new one.
func (g *Guard) Update(ctx context.Context, actor schedule.Actor, id string, in Input) (*schedule.BlockedTimeEntry, error) {
	existing, err := g.store.GetBlockedTime(ctx, id)
	if err != nil {
		return nil, err
	}
	in.StaffID = existing.StaffID
	staff, typ, err := g.prepare(ctx, actor, in)
	if err != nil {
		return nil, err
	}
	unlock := g.locks.Lock(generic.StaffKey(staff.ID))
	defer unlock()

	e := *existing
	e.TypeID, e.TypeName = typ.ID, typ.Name
	e.Interval = in.Interval
	e.Notes = strings.TrimSpace(in.Notes)
	e.UpdatedAt = g.now().UTC()
	if err := g.Validate(ctx, e); err != nil {
		g.rejected(ctx, "update", e, actor, err)
		return nil, err
	}
	if err := g.store.SaveBlockedTime(ctx, e); err != nil {
		return nil, fmt.Errorf("save blocked time: %w", err)
	}
	g.written(ctx, e, actor, e.UpdatedAt)
	return &e, nil
}

func (g *Guard) Delete(ctx context.Context, actor schedule.Actor, id string) error {
	e, err := g.store.GetBlockedTime(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanActFor(e.StaffID) {
		return &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "delete blocked time for " + e.StaffID}
	}
	unlock := g.locks.Lock(generic.StaffKey(e.StaffID))
	defer unlock()

	if err := g.store.DeleteBlockedTime(ctx, id); err != nil {
		return err
	}
	g.logger(ctx).InfoContext(ctx, "blocked time deleted", "entry_id", id, "staff_id", e.StaffID, "actor_id", actor.ID, "device_id", actor.DeviceID)
	g.publish(ctx, events.New(events.EntityDeleted, schedule.KindBlockedTime, id, actor, g.now().UTC(), nil))
	return nil
}

// Validate reports the first blocked-time entry of the same staff member
// that overlaps e, as a *generic.BlockedTimeConflictError. Callers hold the
// staff lock when the result gates a write.
func (g *Guard) Validate(ctx context.Context, e schedule.BlockedTimeEntry) error {
	set, err := g.conflicts.Check(ctx, conflict.Query{
		Subject:   conflict.Subject{StaffID: e.StaffID},
		Interval:  e.Interval,
		ExcludeID: e.ID,
		Kinds:     []conflict.Kind{conflict.KindBlockedTime},
	})
	if err != nil {
		return err
	}
	if set.Empty() {
		return nil
	}
	hit := set.Conflicts[0]
	return &generic.BlockedTimeConflictError{
		StaffName:           e.StaffName,
		Date:                generic.DateOf(hit.Overlap.Start),
		StartTime:           e.Interval.StartTime,
		EndTime:             e.Interval.EndTime,
		ConflictingEntryID:  hit.EntityID,
		ConflictingTypeName: hit.Label,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (g *Guard) prepare(ctx context.Context, actor schedule.Actor, in Input) (*schedule.StaffMember, *schedule.BlockedTimeType, error) {
	if !actor.CanActFor(in.StaffID) {
		return nil, nil, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "block time for " + in.StaffID}
	}
	if err := in.Interval.Validate(); err != nil {
		return nil, nil, err
	}
	if in.Interval.Recurrence.Kind == generic.RecurAnnual {
		return nil, nil, &generic.InvalidIntervalError{Field: "recurrence.kind", Reason: "blocked time recurs weekly only"}
	}
	staff, err := g.store.GetStaff(ctx, in.StaffID)
	if err != nil {
		return nil, nil, err
	}
	typ, err := g.store.GetBlockedTimeType(ctx, in.TypeID)
	if err != nil {
		return nil, nil, err
	}
	if !typ.IsActive {
		return nil, nil, &generic.TypeInactiveError{TypeName: typ.Name}
	}
	return staff, typ, nil
}

func (g *Guard) logger(ctx context.Context) *slog.Logger { return logging.For(ctx, g.log) }

func (g *Guard) rejected(ctx context.Context, op string, e schedule.BlockedTimeEntry, actor schedule.Actor, err error) {
	g.logger(ctx).WarnContext(ctx, "blocked time "+op+" rejected",
		"entry_id", e.ID, "staff_id", e.StaffID, "actor_id", actor.ID, "code", generic.CodeOf(err), "error", err)
}

func (g *Guard) written(ctx context.Context, e schedule.BlockedTimeEntry, actor schedule.Actor, at time.Time) {
	g.logger(ctx).InfoContext(ctx, "blocked time written",
		"entry_id", e.ID, "staff_id", e.StaffID, "type_id", e.TypeID, "actor_id", actor.ID, "device_id", actor.DeviceID)
	g.publish(ctx, events.New(events.EntityWritten, schedule.KindBlockedTime, e.ID, actor, at, e))
}

func (g *Guard) publish(ctx context.Context, ev events.Event) {
	if err := g.publisher.Publish(ctx, ev); err != nil {
		g.logger(ctx).WarnContext(ctx, "event publish failed", "event", ev.Type, "entity_id", ev.EntityID, "error", err)
	}
}

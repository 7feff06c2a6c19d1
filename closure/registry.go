/*
Package closure is the business closed period registry.

PURPOSE:
  Holidays and other closures are plain CRUD: they never conflict with each
  other. They feed the conflict engine as a read-side source and tell the
  booking component which channels are closed on a given interval.

SEE ALSO:
  - conflict/source.go: ClosureSource
  - schedule/entities.go: ClosedPeriod.Interval, AppliesTo
*/
package closure

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/schedule-engine/events"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/logging"
	"github.com/warp/schedule-engine/schedule"
)

// Channel is a booking channel a closure may block.
type Channel string

const (
	ChannelOnline  Channel = "online"
	ChannelInStore Channel = "in_store"
)

func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelOnline, ChannelInStore:
		return c, nil
	}
	return "", generic.Invalid("channel", fmt.Sprintf("unknown booking channel %q", s))
}

type Registry struct {
	store     schedule.Store
	publisher events.Publisher
	log       *slog.Logger
	now       func() time.Time
	newID     func() string
	horizon   int
}

type Option func(*Registry)

func WithPublisher(p events.Publisher) Option { return func(r *Registry) { r.publisher = p } }
func WithLogger(l *slog.Logger) Option        { return func(r *Registry) { r.log = l } }
func WithClock(now func() time.Time) Option   { return func(r *Registry) { r.now = now } }
func WithIDs(newID func() string) Option      { return func(r *Registry) { r.newID = newID } }
func WithHorizon(days int) Option             { return func(r *Registry) { r.horizon = days } }

func NewRegistry(store schedule.Store, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		publisher: events.Nop{},
		now:       time.Now,
		newID:     uuid.NewString,
		horizon:   365,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Get(ctx context.Context, id string) (*schedule.ClosedPeriod, error) {
	return r.store.GetClosedPeriod(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]schedule.ClosedPeriod, error) {
	return r.store.ListClosedPeriods(ctx)
}

// Create stores a closure. Overlapping closures are allowed.
func (r *Registry) Create(ctx context.Context, actor schedule.Actor, c schedule.ClosedPeriod) (*schedule.ClosedPeriod, error) {
	if err := r.check(actor, &c); err != nil {
		return nil, err
	}
	now := r.now().UTC()
	c.ID = r.newID()
	c.CreatedAt, c.UpdatedAt = now, now
	if err := r.store.SaveClosedPeriod(ctx, c); err != nil {
		return nil, fmt.Errorf("save closed period: %w", err)
	}
	r.written(ctx, c, actor)
	return &c, nil
}

func (r *Registry) Update(ctx context.Context, actor schedule.Actor, id string, c schedule.ClosedPeriod) (*schedule.ClosedPeriod, error) {
	existing, err := r.store.GetClosedPeriod(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.check(actor, &c); err != nil {
		return nil, err
	}
	c.ID, c.CreatedAt = existing.ID, existing.CreatedAt
	c.UpdatedAt = r.now().UTC()
	if err := r.store.SaveClosedPeriod(ctx, c); err != nil {
		return nil, fmt.Errorf("save closed period: %w", err)
	}
	r.written(ctx, c, actor)
	return &c, nil
}

func (r *Registry) Delete(ctx context.Context, actor schedule.Actor, id string) error {
	if !actor.IsManager() {
		return &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "manage closed periods"}
	}
	if err := r.store.DeleteClosedPeriod(ctx, id); err != nil {
		return err
	}
	r.logger(ctx).InfoContext(ctx, "closed period deleted", "closure_id", id, "actor_id", actor.ID)
	r.publish(ctx, events.New(events.EntityDeleted, schedule.KindClosedPeriod, id, actor, r.now().UTC(), nil))
	return nil
}

// Blocking returns the closures applicable to the location that overlap iv
// and block booking through the channel.
func (r *Registry) Blocking(ctx context.Context, locationID string, iv generic.Interval, channel Channel) ([]schedule.ClosedPeriod, error) {
	if err := iv.Validate(); err != nil {
		return nil, err
	}
	window := iv.Envelope(r.horizon)
	candidate := iv.Occurrences(window)
	all, err := r.store.ClosedPeriodsBetween(ctx, window.StartDate(), window.LastDate())
	if err != nil {
		return nil, err
	}
	var out []schedule.ClosedPeriod
	for _, c := range all {
		if !c.AppliesTo(locationID) || !blocks(c, channel) {
			continue
		}
		if _, ok := generic.OverlapWithin(candidate, c.Interval(), window); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func blocks(c schedule.ClosedPeriod, channel Channel) bool {
	switch channel {
	case ChannelOnline:
		return c.BlocksOnlineBooking
	case ChannelInStore:
		return c.BlocksInStoreBooking
	}
	return false
}

func (r *Registry) check(actor schedule.Actor, c *schedule.ClosedPeriod) error {
	if !actor.IsManager() {
		return &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "manage closed periods"}
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return generic.Invalid("name", "required")
	}
	if !c.AppliesToAllLocations && len(c.LocationIDs) == 0 {
		return generic.Invalid("location_ids", "required unless the closure applies to all locations")
	}
	return c.Interval().Validate()
}

func (r *Registry) logger(ctx context.Context) *slog.Logger { return logging.For(ctx, r.log) }

func (r *Registry) written(ctx context.Context, c schedule.ClosedPeriod, actor schedule.Actor) {
	r.logger(ctx).InfoContext(ctx, "closed period written", "closure_id", c.ID, "actor_id", actor.ID, "device_id", actor.DeviceID)
	r.publish(ctx, events.New(events.EntityWritten, schedule.KindClosedPeriod, c.ID, actor, c.UpdatedAt, c))
}

func (r *Registry) publish(ctx context.Context, ev events.Event) {
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger(ctx).WarnContext(ctx, "event publish failed", "event", ev.Type, "entity_id", ev.EntityID, "error", err)
	}
}

/*
Package catalog maintains the time-off and blocked-time type catalogs.

PURPOSE:
  Both catalogs are seeded once from a fixed default set. Seeded entries can
  be deactivated and edited but never deleted; other entries can be deleted
  only while nothing references them. Codes are unique per catalog,
  compared case-insensitively.

SEE ALSO:
  - defaults.go: Seeded entries
  - schedule/entities.go: Type shapes
*/
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/schedule-engine/events"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/logging"
	"github.com/warp/schedule-engine/schedule"
)

type Service struct {
	store     schedule.Store
	publisher events.Publisher
	log       *slog.Logger
	now       func() time.Time
	newID     func() string

	// serializes code-uniqueness checks and guarded deletes
	mu sync.Mutex
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }
func WithLogger(l *slog.Logger) Option        { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option   { return func(s *Service) { s.now = now } }
func WithIDs(newID func() string) Option      { return func(s *Service) { s.newID = newID } }

func NewService(store schedule.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: events.Nop{},
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// =============================================================================
// SEEDING
// =============================================================================

// Seed inserts every default entry that is not stored yet. Existing entries,
// including deactivated or edited defaults, are left untouched.
func Seed(ctx context.Context, store schedule.Store, now time.Time) (int, error) {
	inserted := 0
	err := store.WithTx(ctx, func(tx schedule.Repository) error {
		for _, t := range DefaultTimeOffTypes() {
			if _, err := tx.GetTimeOffType(ctx, t.ID); err == nil {
				continue
			} else if !generic.IsNotFound(err) {
				return err
			}
			t.IsActive, t.IsSystemDefault = true, true
			t.CreatedAt, t.UpdatedAt = now, now
			if err := tx.SaveTimeOffType(ctx, t); err != nil {
				return err
			}
			inserted++
		}
		for _, t := range DefaultBlockedTimeTypes() {
			if _, err := tx.GetBlockedTimeType(ctx, t.ID); err == nil {
				continue
			} else if !generic.IsNotFound(err) {
				return err
			}
			t.IsActive, t.IsSystemDefault = true, true
			t.CreatedAt, t.UpdatedAt = now, now
			if err := tx.SaveBlockedTimeType(ctx, t); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seed catalogs: %w", err)
	}
	return inserted, nil
}

func (s *Service) Seed(ctx context.Context) (int, error) {
	return Seed(ctx, s.store, s.now().UTC())
}

// =============================================================================
// TIME-OFF TYPES
// =============================================================================

func (s *Service) ListTimeOffTypes(ctx context.Context, activeOnly bool) ([]schedule.TimeOffType, error) {
	all, err := s.store.ListTimeOffTypes(ctx)
	if err != nil || !activeOnly {
		return all, err
	}
	out := all[:0]
	for _, t := range all {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Service) GetTimeOffType(ctx context.Context, id string) (*schedule.TimeOffType, error) {
	return s.store.GetTimeOffType(ctx, id)
}

func (s *Service) CreateTimeOffType(ctx context.Context, actor schedule.Actor, t schedule.TimeOffType) (*schedule.TimeOffType, error) {
	if err := requireManager(actor, "create time-off types"); err != nil {
		return nil, err
	}
	if err := validateNameCode(t.Name, t.Code); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.ListTimeOffTypes(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if strings.EqualFold(e.Code, t.Code) {
			return nil, &generic.DuplicateCodeError{Catalog: "time off type", Value: t.Code}
		}
	}

	now := s.now().UTC()
	t.ID = s.newID()
	t.Code = strings.TrimSpace(t.Code)
	t.Unit = t.BalanceUnit()
	t.IsActive, t.IsSystemDefault = true, false
	t.CreatedAt, t.UpdatedAt = now, now
	if err := s.store.SaveTimeOffType(ctx, t); err != nil {
		return nil, err
	}
	s.written(ctx, schedule.KindTimeOffType, t.ID, actor, now, t)
	return &t, nil
}

// UpdateTimeOffType replaces every editable field. Code, activity and the
// system-default flag are kept from the stored entry.
func (s *Service) UpdateTimeOffType(ctx context.Context, actor schedule.Actor, id string, t schedule.TimeOffType) (*schedule.TimeOffType, error) {
	if err := requireManager(actor, "update time-off types"); err != nil {
		return nil, err
	}
	if err := validateNameCode(t.Name, "-"); err != nil {
		return nil, err
	}
	cur, err := s.store.GetTimeOffType(ctx, id)
	if err != nil {
		return nil, err
	}
	t.ID, t.Code = cur.ID, cur.Code
	t.IsActive, t.IsSystemDefault = cur.IsActive, cur.IsSystemDefault
	t.Unit = t.BalanceUnit()
	t.CreatedAt, t.UpdatedAt = cur.CreatedAt, s.now().UTC()
	if err := s.store.SaveTimeOffType(ctx, t); err != nil {
		return nil, err
	}
	s.written(ctx, schedule.KindTimeOffType, t.ID, actor, t.UpdatedAt, t)
	return &t, nil
}

func (s *Service) SetTimeOffTypeActive(ctx context.Context, actor schedule.Actor, id string, active bool) (*schedule.TimeOffType, error) {
	if err := requireManager(actor, "deactivate time-off types"); err != nil {
		return nil, err
	}
	t, err := s.store.GetTimeOffType(ctx, id)
	if err != nil {
		return nil, err
	}
	t.IsActive, t.UpdatedAt = active, s.now().UTC()
	if err := s.store.SaveTimeOffType(ctx, *t); err != nil {
		return nil, err
	}
	s.written(ctx, schedule.KindTimeOffType, t.ID, actor, t.UpdatedAt, t)
	return t, nil
}

// DeleteTimeOffType removes a type that is neither a system default nor
// referenced by any request.
func (s *Service) DeleteTimeOffType(ctx context.Context, actor schedule.Actor, id string) error {
	if err := requireManager(actor, "delete time-off types"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.WithTx(ctx, func(tx schedule.Repository) error {
		return DeleteTimeOffTypeTx(ctx, tx, id)
	})
	if err != nil {
		s.logger(ctx).WarnContext(ctx, "time-off type delete rejected", "type_id", id, "code", generic.CodeOf(err))
		return err
	}
	s.deleted(ctx, schedule.KindTimeOffType, id, actor)
	return nil
}

// =============================================================================
// BLOCKED-TIME TYPES
// =============================================================================

func (s *Service) ListBlockedTimeTypes(ctx context.Context, activeOnly bool) ([]schedule.BlockedTimeType, error) {
	all, err := s.store.ListBlockedTimeTypes(ctx)
	if err != nil || !activeOnly {
		return all, err
	}
	out := all[:0]
	for _, t := range all {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Service) GetBlockedTimeType(ctx context.Context, id string) (*schedule.BlockedTimeType, error) {
	return s.store.GetBlockedTimeType(ctx, id)
}

func (s *Service) CreateBlockedTimeType(ctx context.Context, actor schedule.Actor, t schedule.BlockedTimeType) (*schedule.BlockedTimeType, error) {
	if err := requireManager(actor, "create blocked-time types"); err != nil {
		return nil, err
	}
	if err := validateNameCode(t.Name, t.Code); err != nil {
		return nil, err
	}
	if t.DefaultDurationMinutes < 0 || t.DefaultDurationMinutes > generic.MinutesPerDay {
		return nil, generic.Invalid("default_duration_minutes", "must be between 0 and 1440")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.ListBlockedTimeTypes(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if strings.EqualFold(e.Code, t.Code) {
			return nil, &generic.DuplicateCodeError{Catalog: "blocked time type", Value: t.Code}
		}
	}

	now := s.now().UTC()
	t.ID = s.newID()
	t.Code = strings.TrimSpace(t.Code)
	t.IsActive, t.IsSystemDefault = true, false
	t.CreatedAt, t.UpdatedAt = now, now
	if err := s.store.SaveBlockedTimeType(ctx, t); err != nil {
		return nil, err
	}
	s.written(ctx, schedule.KindBlockedTimeType, t.ID, actor, now, t)
	return &t, nil
}

func (s *Service) UpdateBlockedTimeType(ctx context.Context, actor schedule.Actor, id string, t schedule.BlockedTimeType) (*schedule.BlockedTimeType, error) {
	if err := requireManager(actor, "update blocked-time types"); err != nil {
		return nil, err
	}
	if err := validateNameCode(t.Name, "-"); err != nil {
		return nil, err
	}
	cur, err := s.store.GetBlockedTimeType(ctx, id)
	if err != nil {
		return nil, err
	}
	t.ID, t.Code = cur.ID, cur.Code
	t.IsActive, t.IsSystemDefault = cur.IsActive, cur.IsSystemDefault
	t.CreatedAt, t.UpdatedAt = cur.CreatedAt, s.now().UTC()
	if err := s.store.SaveBlockedTimeType(ctx, t); err != nil {
		return nil, err
	}
	s.written(ctx, schedule.KindBlockedTimeType, t.ID, actor, t.UpdatedAt, t)
	return &t, nil
}

func (s *Service) SetBlockedTimeTypeActive(ctx context.Context, actor schedule.Actor, id string, active bool) (*schedule.BlockedTimeType, error) {
	if err := requireManager(actor, "deactivate blocked-time types"); err != nil {
		return nil, err
	}
	t, err := s.store.GetBlockedTimeType(ctx, id)
	if err != nil {
		return nil, err
	}
	t.IsActive, t.UpdatedAt = active, s.now().UTC()
	if err := s.store.SaveBlockedTimeType(ctx, *t); err != nil {
		return nil, err
	}
	s.written(ctx, schedule.KindBlockedTimeType, t.ID, actor, t.UpdatedAt, t)
	return t, nil
}

// DeleteBlockedTimeType removes a type that is neither a system default nor
// referenced by any blocked-time entry.
func (s *Service) DeleteBlockedTimeType(ctx context.Context, actor schedule.Actor, id string) error {
	if err := requireManager(actor, "delete blocked-time types"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.WithTx(ctx, func(tx schedule.Repository) error {
		return DeleteBlockedTimeTypeTx(ctx, tx, id)
	})
	if err != nil {
		s.logger(ctx).WarnContext(ctx, "blocked-time type delete rejected", "type_id", id, "code", generic.CodeOf(err))
		return err
	}
	s.deleted(ctx, schedule.KindBlockedTimeType, id, actor)
	return nil
}

// =============================================================================
// DELETE GUARDS - Shared with the sync reconciler
// =============================================================================

// DeleteTimeOffTypeTx deletes a time-off type inside tx unless it is a system
// default or referenced by a request. Run it inside Store.WithTx so the
// reference count and the delete see the same state.
func DeleteTimeOffTypeTx(ctx context.Context, tx schedule.Repository, id string) error {
	t, err := tx.GetTimeOffType(ctx, id)
	if err != nil {
		return err
	}
	if t.IsSystemDefault {
		return &generic.CannotDeleteSystemDefaultError{Catalog: "time off type", TypeName: t.Name}
	}
	n, err := tx.CountTimeOffRequestsByType(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return &generic.TimeOffTypeInUseError{TypeName: t.Name, RequestCount: n}
	}
	return tx.DeleteTimeOffType(ctx, id)
}

// DeleteBlockedTimeTypeTx is DeleteTimeOffTypeTx for blocked-time types.
func DeleteBlockedTimeTypeTx(ctx context.Context, tx schedule.Repository, id string) error {
	t, err := tx.GetBlockedTimeType(ctx, id)
	if err != nil {
		return err
	}
	if t.IsSystemDefault {
		return &generic.CannotDeleteDefaultBlockedTimeTypeError{TypeName: t.Name}
	}
	n, err := tx.CountBlockedTimeByType(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return &generic.BlockedTimeTypeInUseError{TypeName: t.Name, EntryCount: n}
	}
	return tx.DeleteBlockedTimeType(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func requireManager(actor schedule.Actor, action string) error {
	if !actor.IsManager() {
		return &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: action}
	}
	return nil
}

func validateNameCode(name, code string) error {
	if strings.TrimSpace(name) == "" {
		return generic.Invalid("name", "required")
	}
	if strings.TrimSpace(code) == "" {
		return generic.Invalid("code", "required")
	}
	return nil
}

func (s *Service) logger(ctx context.Context) *slog.Logger { return logging.For(ctx, s.log) }

func (s *Service) written(ctx context.Context, kind schedule.EntityKind, id string, actor schedule.Actor, at time.Time, payload any) {
	s.logger(ctx).InfoContext(ctx, "catalog entry written", "kind", kind, "id", id, "actor_id", actor.ID, "device_id", actor.DeviceID)
	s.publish(ctx, events.New(events.EntityWritten, kind, id, actor, at, payload))
}

func (s *Service) deleted(ctx context.Context, kind schedule.EntityKind, id string, actor schedule.Actor) {
	s.logger(ctx).InfoContext(ctx, "catalog entry deleted", "kind", kind, "id", id, "actor_id", actor.ID)
	s.publish(ctx, events.New(events.EntityDeleted, kind, id, actor, s.now(), nil))
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger(ctx).WarnContext(ctx, "event publish failed", "event", ev.Type, "entity_id", ev.EntityID, "error", err)
	}
}

/*
Package timeoff implements the time-off request workflow.

PURPOSE:
  Drives a request through pending -> approved | denied | cancelled,
  computes its working hours and days from the staff schedule, and keeps
  the balance as an append-only ledger: approval writes a consumption
  entry, cancellation of an approved request writes the matching reversal.

STATE MACHINE:
  ""       -> pending     (submit)
  pending  -> approved    (manager; advisory appointment conflicts need
                           OverrideConflicts, insufficient balance needs
                           OverrideBalance)
  pending  -> denied      (manager; reason required)
  pending  -> cancelled   (requester or manager)
  approved -> cancelled   (requester or manager; balance credited back)

CONCURRENCY:
  Every mutation holds the staff member's key in the shared KeyedMutex, so
  two approvals for one person never both pass the balance check. Conflict
  checks run before the transaction opens; the debit and the status change
  commit together inside Store.WithTx.

SEE ALSO:
  - balance.go: Accrual, carry-over, balance view
  - duration.go: Hours and days
  - conflict/engine.go: Conflict detection
*/
package timeoff

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
	"github.com/warp/schedule-engine/metrics"
	"github.com/warp/schedule-engine/schedule"
)

type Service struct {
	store     schedule.Store
	conflicts *conflict.Engine
	locks     *generic.KeyedMutex
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
	newID     func() string

	// used for staff members without their own schedule
	defaultWeek schedule.WeeklySchedule
}

type Option func(*Service)

func WithLocks(l *generic.KeyedMutex) Option  { return func(s *Service) { s.locks = l } }
func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }
func WithMetrics(m *metrics.Metrics) Option   { return func(s *Service) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option        { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option   { return func(s *Service) { s.now = now } }
func WithIDs(newID func() string) Option      { return func(s *Service) { s.newID = newID } }
func WithDefaultWeek(w schedule.WeeklySchedule) Option {
	return func(s *Service) { s.defaultWeek = w }
}

// StandardWorkWeek is Monday to Friday, 09:00 to 17:00.
func StandardWorkWeek() schedule.WeeklySchedule {
	return schedule.StandardWeek(generic.NewClockTime(9, 0), generic.NewClockTime(17, 0),
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
}

func NewService(store schedule.Store, engine *conflict.Engine, opts ...Option) *Service {
	s := &Service{
		store:       store,
		conflicts:   engine,
		locks:       generic.NewKeyedMutex(),
		publisher:   events.Nop{},
		now:         time.Now,
		newID:       uuid.NewString,
		defaultWeek: StandardWorkWeek(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) Get(ctx context.Context, id string) (*schedule.TimeOffRequest, error) {
	return s.store.GetTimeOffRequest(ctx, id)
}

func (s *Service) List(ctx context.Context, f schedule.RequestFilter) ([]schedule.TimeOffRequest, error) {
	return s.store.ListTimeOffRequests(ctx, f)
}

// =============================================================================
// SUBMIT
// =============================================================================

type SubmitInput struct {
	StaffID  string           `json:"staff_id"`
	TypeID   string           `json:"type_id"`
	Interval generic.Interval `json:"interval"`
	Reason   string           `json:"reason,omitempty"`
}

// Submit files a pending request. Appointment conflicts are recorded on the
// request but never block submission. Types that do not require approval
// are approved on the spot by the system actor when nothing stands in the
// way; otherwise they stay pending like any other request.
func (s *Service) Submit(ctx context.Context, actor schedule.Actor, in SubmitInput) (*schedule.TimeOffRequest, error) {
	if !actor.CanActFor(in.StaffID) {
		return nil, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "submit time off for " + in.StaffID}
	}
	if err := in.Interval.Validate(); err != nil {
		return nil, err
	}
	if in.Interval.IsRecurring() {
		return nil, &generic.InvalidIntervalError{Field: "recurrence", Reason: "time off does not recur"}
	}
	now := s.now().UTC()
	if in.Interval.StartDate.Before(generic.DateOf(now)) && !actor.CanBackdate() {
		return nil, &generic.DateRangeInvalidError{
			Start: in.Interval.StartDate, End: in.Interval.EndDate,
			Reason: "starts before today",
		}
	}

	staff, err := s.store.GetStaff(ctx, in.StaffID)
	if err != nil {
		return nil, err
	}
	typ, err := s.store.GetTimeOffType(ctx, in.TypeID)
	if err != nil {
		return nil, err
	}
	if !typ.IsActive {
		return nil, &generic.TypeInactiveError{TypeName: typ.Name}
	}

	unlock := s.locks.Lock(generic.StaffKey(staff.ID))
	defer unlock()

	dur, err := s.measure(ctx, staff, in.Interval)
	if err != nil {
		return nil, err
	}

	req := schedule.TimeOffRequest{
		ID:         s.newID(),
		StaffID:    staff.ID,
		StaffName:  staff.Name,
		TypeID:     typ.ID,
		TypeName:   typ.Name,
		TypeEmoji:  typ.Emoji,
		TypeColor:  typ.Color,
		IsPaid:     typ.IsPaid,
		Interval:   in.Interval,
		TotalHours: dur.Hours,
		TotalDays:  dur.Days,
		Reason:     strings.TrimSpace(in.Reason),
		CreatedAt:  now,
	}
	set, err := s.appointmentConflicts(ctx, &req)
	if err != nil {
		return nil, err
	}
	req.Transition(schedule.StatusPending, actor, now, "")

	if err := s.store.SaveTimeOffRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("save request: %w", err)
	}
	s.metrics.Transition(string(schedule.StatusPending))
	s.logger(ctx).InfoContext(ctx, "time off submitted",
		"request_id", req.ID, "staff_id", req.StaffID, "type_id", req.TypeID,
		"total_days", req.TotalDays.String(), "conflicts", len(req.ConflictingAppointmentIDs),
		"actor_id", actor.ID, "device_id", actor.DeviceID)
	s.publish(ctx, events.TimeOffSubmitted, &req, actor, now)

	if !typ.RequiresApproval && set.Empty() {
		approved, err := s.approveLocked(ctx, schedule.SystemActor, req.ID, ApproveOptions{Notes: "approval not required"})
		if err == nil {
			return approved, nil
		}
		s.logger(ctx).WarnContext(ctx, "automatic approval skipped", "request_id", req.ID, "code", generic.CodeOf(err))
	}
	return &req, nil
}

// =============================================================================
// APPROVE
// =============================================================================

type ApproveOptions struct {
	Notes string `json:"notes,omitempty"`

	// OverrideConflicts approves despite overlapping appointments.
	OverrideConflicts bool `json:"override_conflicts,omitempty"`

	// OverrideBalance approves beyond the available balance; the full
	// amount is debited and the approval is flagged.
	OverrideBalance bool `json:"override_balance,omitempty"`
}

func (s *Service) Approve(ctx context.Context, actor schedule.Actor, requestID string, opts ApproveOptions) (*schedule.TimeOffRequest, error) {
	if !actor.IsManager() {
		return nil, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "approve time off"}
	}
	req, err := s.store.GetTimeOffRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(generic.StaffKey(req.StaffID))
	defer unlock()
	return s.approveLocked(ctx, actor, requestID, opts)
}

func (s *Service) approveLocked(ctx context.Context, actor schedule.Actor, requestID string, opts ApproveOptions) (*schedule.TimeOffRequest, error) {
	req, err := s.store.GetTimeOffRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if st := req.Status(); st != schedule.StatusPending {
		return nil, &generic.RequestNotPendingError{RequestID: req.ID, Current: string(st)}
	}

	set, err := s.appointmentConflicts(ctx, req)
	if err != nil {
		return nil, err
	}
	if !set.Empty() && !opts.OverrideConflicts {
		// keep the refreshed conflict list; the request stays pending
		if err := s.store.SaveTimeOffRequest(ctx, *req); err != nil {
			return nil, err
		}
		err := &generic.ConflictExistsError{RequestID: req.ID, AppointmentIDs: req.ConflictingAppointmentIDs}
		s.rejected(ctx, "approve", req, actor, err)
		return nil, err
	}

	typ, err := s.store.GetTimeOffType(ctx, req.TypeID)
	if err != nil {
		return nil, err
	}
	staff, err := s.store.GetStaff(ctx, req.StaffID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err = s.store.WithTx(ctx, func(tx schedule.Repository) error {
		ledger := generic.NewLedger(tx)
		if err := s.settle(ctx, ledger, staff, *typ, req.Interval.StartDate, closeBefore(req.Interval.StartDate, now), now); err != nil {
			return err
		}

		unit := typ.BalanceUnit()
		debit := req.Debit(unit)
		summary, err := ledger.Year(ctx, req.StaffID, req.TypeID, req.BalanceYear(), unit)
		if err != nil {
			return err
		}
		overridden := false
		if available, tracked := summary.Available(typ.Limits()); tracked && debit.GreaterThan(available) {
			if !opts.OverrideBalance {
				return &generic.InsufficientBalanceError{Requested: debit, Available: available, TypeName: typ.Name}
			}
			overridden = true
		}

		if !debit.IsZero() {
			if err := ledger.Append(ctx, s.entry(req, generic.TxConsumption, debit.Neg(), "consume-"+req.ID, actor, now)); err != nil {
				return fmt.Errorf("debit balance: %w", err)
			}
			s.metrics.LedgerEntry(string(generic.TxConsumption))
		}

		req.Transition(schedule.StatusApproved, actor, now, opts.Notes)
		req.Approval = &schedule.Decision{
			ActorID:           actor.ID,
			DeviceID:          actor.DeviceID,
			At:                now,
			Notes:             opts.Notes,
			OverrideConflicts: opts.OverrideConflicts && !set.Empty(),
			BalanceOverridden: overridden,
		}
		return tx.SaveTimeOffRequest(ctx, *req)
	})
	if err != nil {
		s.rejected(ctx, "approve", req, actor, err)
		return nil, err
	}

	s.metrics.Transition(string(schedule.StatusApproved))
	s.logger(ctx).InfoContext(ctx, "time off approved",
		"request_id", req.ID, "staff_id", req.StaffID, "actor_id", actor.ID, "device_id", actor.DeviceID,
		"override_conflicts", req.Approval.OverrideConflicts, "balance_overridden", req.Approval.BalanceOverridden)
	s.publish(ctx, events.TimeOffApproved, req, actor, now)
	return req, nil
}

// =============================================================================
// DENY
// =============================================================================

func (s *Service) Deny(ctx context.Context, actor schedule.Actor, requestID, reason string) (*schedule.TimeOffRequest, error) {
	if !actor.IsManager() {
		return nil, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "deny time off"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &generic.DenialReasonRequiredError{RequestID: requestID}
	}
	req, err := s.store.GetTimeOffRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(generic.StaffKey(req.StaffID))
	defer unlock()

	if req, err = s.store.GetTimeOffRequest(ctx, requestID); err != nil {
		return nil, err
	}
	if st := req.Status(); st != schedule.StatusPending {
		return nil, &generic.RequestNotPendingError{RequestID: req.ID, Current: string(st)}
	}

	now := s.now().UTC()
	req.Transition(schedule.StatusDenied, actor, now, reason)
	req.Denial = &schedule.Decision{ActorID: actor.ID, DeviceID: actor.DeviceID, At: now, Notes: reason}
	req.DenialReason = reason
	if err := s.store.SaveTimeOffRequest(ctx, *req); err != nil {
		return nil, fmt.Errorf("save request: %w", err)
	}

	s.metrics.Transition(string(schedule.StatusDenied))
	s.logger(ctx).InfoContext(ctx, "time off denied",
		"request_id", req.ID, "staff_id", req.StaffID, "actor_id", actor.ID, "device_id", actor.DeviceID)
	s.publish(ctx, events.TimeOffDenied, req, actor, now)
	return req, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel moves a pending or approved request to cancelled. Cancelling an
// approved request credits back exactly what its approval debited.
func (s *Service) Cancel(ctx context.Context, actor schedule.Actor, requestID, reason string) (*schedule.TimeOffRequest, error) {
	req, err := s.store.GetTimeOffRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.CanActFor(req.StaffID) {
		return nil, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "cancel time off for " + req.StaffID}
	}
	unlock := s.locks.Lock(generic.StaffKey(req.StaffID))
	defer unlock()

	if req, err = s.store.GetTimeOffRequest(ctx, requestID); err != nil {
		return nil, err
	}
	from := req.Status()
	if !schedule.CanTransition(from, schedule.StatusCancelled) {
		return nil, &generic.InvalidTransitionError{RequestID: req.ID, From: string(from), To: string(schedule.StatusCancelled)}
	}

	now := s.now().UTC()
	reason = strings.TrimSpace(reason)
	err = s.store.WithTx(ctx, func(tx schedule.Repository) error {
		if from == schedule.StatusApproved {
			typ, err := tx.GetTimeOffType(ctx, req.TypeID)
			if err != nil {
				return err
			}
			ledger := generic.NewLedger(tx)
			debited, err := ledger.Referenced(ctx, req.StaffID, req.TypeID, req.ID, generic.TxConsumption, typ.BalanceUnit())
			if err != nil {
				return err
			}
			if !debited.IsZero() {
				credit := s.entry(req, generic.TxReversal, debited.Neg(), "reverse-"+req.ID, actor, now)
				if _, err := ledger.AppendOnce(ctx, credit); err != nil {
					return fmt.Errorf("credit balance: %w", err)
				}
				s.metrics.LedgerEntry(string(generic.TxReversal))
			}
		}
		req.Transition(schedule.StatusCancelled, actor, now, reason)
		req.Cancellation = &schedule.Decision{ActorID: actor.ID, DeviceID: actor.DeviceID, At: now, Notes: reason}
		return tx.SaveTimeOffRequest(ctx, *req)
	})
	if err != nil {
		s.rejected(ctx, "cancel", req, actor, err)
		return nil, err
	}

	s.metrics.Transition(string(schedule.StatusCancelled))
	s.logger(ctx).InfoContext(ctx, "time off cancelled",
		"request_id", req.ID, "staff_id", req.StaffID, "from", from, "actor_id", actor.ID, "device_id", actor.DeviceID)
	s.publish(ctx, events.TimeOffCancelled, req, actor, now)
	return req, nil
}

// =============================================================================
// CONFLICT REFRESH
// =============================================================================

// Recheck re-runs appointment conflict detection for a request and stores
// the refreshed result. Overrides granted at approval never hide a
// conflict from the refreshed list.
func (s *Service) Recheck(ctx context.Context, requestID string) (*schedule.TimeOffRequest, conflict.ConflictSet, error) {
	req, err := s.store.GetTimeOffRequest(ctx, requestID)
	if err != nil {
		return nil, conflict.ConflictSet{}, err
	}
	unlock := s.locks.Lock(generic.StaffKey(req.StaffID))
	defer unlock()

	if req, err = s.store.GetTimeOffRequest(ctx, requestID); err != nil {
		return nil, conflict.ConflictSet{}, err
	}
	set, err := s.appointmentConflicts(ctx, req)
	if err != nil {
		return nil, set, err
	}
	if err := s.store.SaveTimeOffRequest(ctx, *req); err != nil {
		return nil, set, err
	}
	return req, set, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) appointmentConflicts(ctx context.Context, req *schedule.TimeOffRequest) (conflict.ConflictSet, error) {
	set, err := s.conflicts.Check(ctx, conflict.Query{
		Subject:   conflict.Subject{StaffID: req.StaffID},
		Interval:  req.Interval,
		ExcludeID: req.ID,
		Kinds:     []conflict.Kind{conflict.KindAppointment},
	})
	if err != nil {
		return set, err
	}
	req.ConflictingAppointmentIDs = set.IDs(conflict.KindAppointment)
	req.HasConflicts = len(req.ConflictingAppointmentIDs) > 0
	return set, nil
}

func (s *Service) measure(ctx context.Context, staff *schedule.StaffMember, iv generic.Interval) (Duration, error) {
	week := s.defaultWeek
	if staff.Schedule != nil {
		week = *staff.Schedule
	}
	closures, err := s.store.ClosedPeriodsBetween(ctx, iv.StartDate, iv.EndDate)
	if err != nil {
		return Duration{}, err
	}
	applicable := closures[:0]
	for _, c := range closures {
		if c.AppliesTo(staff.LocationID) {
			applicable = append(applicable, c)
		}
	}
	return Measure(iv, week, applicable), nil
}

func (s *Service) entry(req *schedule.TimeOffRequest, kind generic.TransactionType, delta generic.Amount, key string, actor schedule.Actor, now time.Time) generic.Transaction {
	return generic.Transaction{
		ID:              key,
		StaffID:         req.StaffID,
		TypeID:          req.TypeID,
		EffectiveAt:     req.Interval.StartDate,
		Delta:           delta,
		Type:            kind,
		ReferenceID:     req.ID,
		Reason:          string(kind) + " for request " + req.ID,
		IdempotencyKey:  key,
		CreatedBy:       actor.ID,
		CreatedByDevice: actor.DeviceID,
		CreatedAt:       now,
	}
}

func (s *Service) logger(ctx context.Context) *slog.Logger { return logging.For(ctx, s.log) }

func (s *Service) rejected(ctx context.Context, op string, req *schedule.TimeOffRequest, actor schedule.Actor, err error) {
	s.logger(ctx).WarnContext(ctx, "time off "+op+" rejected",
		"request_id", req.ID, "staff_id", req.StaffID, "actor_id", actor.ID, "code", generic.CodeOf(err), "error", err)
}

func (s *Service) publish(ctx context.Context, typ events.Type, req *schedule.TimeOffRequest, actor schedule.Actor, at time.Time) {
	ev := events.New(typ, schedule.KindTimeOffRequest, req.ID, actor, at, req)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger(ctx).WarnContext(ctx, "event publish failed", "event", typ, "request_id", req.ID, "error", err)
	}
}

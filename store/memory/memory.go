/*
Package memory provides an in-memory schedule.Store.

PURPOSE:
  Backs tests and the `memory` database driver. WithTx is simulated with a
  snapshot of every map plus the ledger, restored when fn fails, so the
  balance debit and the status transition of an approval commit together
  or not at all.

CONCURRENCY:
  One RWMutex guards the entity maps; the ledger carries its own. WithTx
  holds both for the duration of fn.

SEE ALSO:
  - generic/store/memory.go: Ledger half of this store
  - store/sqlite: Durable implementation of the same interface
*/
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/schedule-engine/generic"
	genstore "github.com/warp/schedule-engine/generic/store"
	"github.com/warp/schedule-engine/schedule"
)

type state struct {
	timeOffTypes     map[string]schedule.TimeOffType
	blockedTypes     map[string]schedule.BlockedTimeType
	staff            map[string]schedule.StaffMember
	appointments     map[string]schedule.Appointment
	requests         map[string]schedule.TimeOffRequest
	blocked          map[string]schedule.BlockedTimeEntry
	closures         map[string]schedule.ClosedPeriod
	resources        map[string]schedule.Resource
	resourceBookings map[string]schedule.ResourceBooking
}

func newState() *state {
	return &state{
		timeOffTypes:     map[string]schedule.TimeOffType{},
		blockedTypes:     map[string]schedule.BlockedTimeType{},
		staff:            map[string]schedule.StaffMember{},
		appointments:     map[string]schedule.Appointment{},
		requests:         map[string]schedule.TimeOffRequest{},
		blocked:          map[string]schedule.BlockedTimeEntry{},
		closures:         map[string]schedule.ClosedPeriod{},
		resources:        map[string]schedule.Resource{},
		resourceBookings: map[string]schedule.ResourceBooking{},
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() state {
	return state{
		timeOffTypes:     cloneMap(s.timeOffTypes),
		blockedTypes:     cloneMap(s.blockedTypes),
		staff:            cloneMap(s.staff),
		appointments:     cloneMap(s.appointments),
		requests:         cloneMap(s.requests),
		blocked:          cloneMap(s.blocked),
		closures:         cloneMap(s.closures),
		resources:        cloneMap(s.resources),
		resourceBookings: cloneMap(s.resourceBookings),
	}
}

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	*repo
	mu     sync.RWMutex
	ledger *genstore.Memory
}

var _ schedule.Store = (*Store)(nil)

func New() *Store {
	s := &Store{ledger: genstore.NewMemory()}
	s.repo = &repo{
		st:      newState(),
		ledger:  s.ledger,
		rlock:   s.mu.RLock,
		runlock: s.mu.RUnlock,
		lock:    s.mu.Lock,
		unlock:  s.mu.Unlock,
	}
	return s
}

// WithTx runs fn against a view that writes straight into the store; on
// error both the entity maps and the ledger are restored.
func (s *Store) WithTx(_ context.Context, fn func(schedule.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.Lock()
	defer s.ledger.Unlock()

	snapshot := s.st.clone()
	ledgerSnapshot := s.ledger.SnapshotLocked()

	noop := func() {}
	view := &repo{
		st:      s.st,
		ledger:  genstore.LockedView{M: s.ledger},
		rlock:   noop,
		runlock: noop,
		lock:    noop,
		unlock:  noop,
	}
	if err := fn(view); err != nil {
		*s.st = snapshot
		s.ledger.RestoreLocked(ledgerSnapshot)
		return err
	}
	return nil
}

// =============================================================================
// REPO - Map-backed repository shared by the store and its tx view
// =============================================================================

type repo struct {
	st     *state
	ledger generic.Store

	rlock, runlock, lock, unlock func()
}

func get[V any](r *repo, m map[string]V, entity, id string) (*V, error) {
	r.rlock()
	defer r.runlock()
	v, ok := m[id]
	if !ok {
		return nil, generic.NotFound(entity, id)
	}
	return &v, nil
}

func del[V any](r *repo, m map[string]V, entity, id string) error {
	r.lock()
	defer r.unlock()
	if _, ok := m[id]; !ok {
		return generic.NotFound(entity, id)
	}
	delete(m, id)
	return nil
}

func list[V any](r *repo, m map[string]V, keep func(V) bool, less func(a, b V) bool) []V {
	r.rlock()
	defer r.runlock()
	var out []V
	for _, v := range m {
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	if less != nil {
		sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

// reaches reports whether iv could have an occurrence in [from, to].
func reaches(iv generic.Interval, from, to generic.Date) bool {
	if iv.IsRecurring() {
		return iv.Recurrence.Until == nil || !iv.Recurrence.Until.Before(from)
	}
	return !iv.EndDate.Before(from) && !iv.StartDate.After(to)
}

// Catalogs

func (r *repo) SaveTimeOffType(_ context.Context, t schedule.TimeOffType) error {
	r.lock()
	defer r.unlock()
	r.st.timeOffTypes[t.ID] = t
	return nil
}

func (r *repo) GetTimeOffType(_ context.Context, id string) (*schedule.TimeOffType, error) {
	return get(r, r.st.timeOffTypes, "type", id)
}

func (r *repo) ListTimeOffTypes(_ context.Context) ([]schedule.TimeOffType, error) {
	return list(r, r.st.timeOffTypes, nil, func(a, b schedule.TimeOffType) bool {
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.Name < b.Name
	}), nil
}

func (r *repo) DeleteTimeOffType(_ context.Context, id string) error {
	return del(r, r.st.timeOffTypes, "type", id)
}

func (r *repo) SaveBlockedTimeType(_ context.Context, t schedule.BlockedTimeType) error {
	r.lock()
	defer r.unlock()
	r.st.blockedTypes[t.ID] = t
	return nil
}

func (r *repo) GetBlockedTimeType(_ context.Context, id string) (*schedule.BlockedTimeType, error) {
	return get(r, r.st.blockedTypes, "type", id)
}

func (r *repo) ListBlockedTimeTypes(_ context.Context) ([]schedule.BlockedTimeType, error) {
	return list(r, r.st.blockedTypes, nil, func(a, b schedule.BlockedTimeType) bool {
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.Name < b.Name
	}), nil
}

func (r *repo) DeleteBlockedTimeType(_ context.Context, id string) error {
	return del(r, r.st.blockedTypes, "type", id)
}

func (r *repo) CountTimeOffRequestsByType(_ context.Context, typeID string) (int, error) {
	return len(list(r, r.st.requests, func(v schedule.TimeOffRequest) bool { return v.TypeID == typeID }, nil)), nil
}

func (r *repo) CountBlockedTimeByType(_ context.Context, typeID string) (int, error) {
	return len(list(r, r.st.blocked, func(v schedule.BlockedTimeEntry) bool { return v.TypeID == typeID }, nil)), nil
}

// Staff

func (r *repo) SaveStaff(_ context.Context, s schedule.StaffMember) error {
	r.lock()
	defer r.unlock()
	r.st.staff[s.ID] = s
	return nil
}

func (r *repo) GetStaff(_ context.Context, id string) (*schedule.StaffMember, error) {
	return get(r, r.st.staff, "staff", id)
}

func (r *repo) ListStaff(_ context.Context) ([]schedule.StaffMember, error) {
	return list(r, r.st.staff, nil, func(a, b schedule.StaffMember) bool { return a.Name < b.Name }), nil
}

// Appointments

func (r *repo) SaveAppointment(_ context.Context, a schedule.Appointment) error {
	r.lock()
	defer r.unlock()
	r.st.appointments[a.ID] = a
	return nil
}

func (r *repo) GetAppointment(_ context.Context, id string) (*schedule.Appointment, error) {
	return get(r, r.st.appointments, "appointment", id)
}

func (r *repo) AppointmentsForStaff(_ context.Context, staffID string, from, to generic.Date) ([]schedule.Appointment, error) {
	return list(r, r.st.appointments, func(a schedule.Appointment) bool {
		return a.StaffID == staffID && reaches(a.Interval, from, to)
	}, byStart(func(a schedule.Appointment) generic.Date { return a.Interval.StartDate })), nil
}

// Time-off requests

func (r *repo) SaveTimeOffRequest(_ context.Context, req schedule.TimeOffRequest) error {
	r.lock()
	defer r.unlock()
	req.StatusHistory = append([]schedule.StatusChange(nil), req.StatusHistory...)
	req.ConflictingAppointmentIDs = append([]string(nil), req.ConflictingAppointmentIDs...)
	r.st.requests[req.ID] = req
	return nil
}

func (r *repo) GetTimeOffRequest(_ context.Context, id string) (*schedule.TimeOffRequest, error) {
	return get(r, r.st.requests, "request", id)
}

func (r *repo) ListTimeOffRequests(_ context.Context, f schedule.RequestFilter) ([]schedule.TimeOffRequest, error) {
	return list(r, r.st.requests, func(req schedule.TimeOffRequest) bool {
		return (f.StaffID == "" || req.StaffID == f.StaffID) && (f.Status == "" || req.Status() == f.Status)
	}, func(a, b schedule.TimeOffRequest) bool { return a.CreatedAt.Before(b.CreatedAt) }), nil
}

func (r *repo) ApprovedTimeOff(_ context.Context, staffID string, from, to generic.Date) ([]schedule.TimeOffRequest, error) {
	return list(r, r.st.requests, func(req schedule.TimeOffRequest) bool {
		return req.StaffID == staffID && req.Status() == schedule.StatusApproved && reaches(req.Interval, from, to)
	}, byStart(func(req schedule.TimeOffRequest) generic.Date { return req.Interval.StartDate })), nil
}

// Blocked time

func (r *repo) SaveBlockedTime(_ context.Context, e schedule.BlockedTimeEntry) error {
	r.lock()
	defer r.unlock()
	r.st.blocked[e.ID] = e
	return nil
}

func (r *repo) GetBlockedTime(_ context.Context, id string) (*schedule.BlockedTimeEntry, error) {
	return get(r, r.st.blocked, "entry", id)
}

func (r *repo) DeleteBlockedTime(_ context.Context, id string) error {
	return del(r, r.st.blocked, "entry", id)
}

func (r *repo) BlockedTimeForStaff(_ context.Context, staffID string, from, to generic.Date) ([]schedule.BlockedTimeEntry, error) {
	return list(r, r.st.blocked, func(e schedule.BlockedTimeEntry) bool {
		return e.StaffID == staffID && reaches(e.Interval, from, to)
	}, byStart(func(e schedule.BlockedTimeEntry) generic.Date { return e.Interval.StartDate })), nil
}

// Closures

func (r *repo) SaveClosedPeriod(_ context.Context, c schedule.ClosedPeriod) error {
	r.lock()
	defer r.unlock()
	r.st.closures[c.ID] = c
	return nil
}

func (r *repo) GetClosedPeriod(_ context.Context, id string) (*schedule.ClosedPeriod, error) {
	return get(r, r.st.closures, "closure", id)
}

func (r *repo) DeleteClosedPeriod(_ context.Context, id string) error {
	return del(r, r.st.closures, "closure", id)
}

func (r *repo) ListClosedPeriods(_ context.Context) ([]schedule.ClosedPeriod, error) {
	return list(r, r.st.closures, nil, byStart(func(c schedule.ClosedPeriod) generic.Date { return c.StartDate })), nil
}

func (r *repo) ClosedPeriodsBetween(_ context.Context, from, to generic.Date) ([]schedule.ClosedPeriod, error) {
	return list(r, r.st.closures, func(c schedule.ClosedPeriod) bool {
		return reaches(c.Interval(), from, to)
	}, byStart(func(c schedule.ClosedPeriod) generic.Date { return c.StartDate })), nil
}

// Resources

func (r *repo) SaveResource(_ context.Context, res schedule.Resource) error {
	r.lock()
	defer r.unlock()
	r.st.resources[res.ID] = res
	return nil
}

func (r *repo) GetResource(_ context.Context, id string) (*schedule.Resource, error) {
	return get(r, r.st.resources, "resource", id)
}

func (r *repo) ListResources(_ context.Context) ([]schedule.Resource, error) {
	return list(r, r.st.resources, nil, func(a, b schedule.Resource) bool { return a.Name < b.Name }), nil
}

func (r *repo) SaveResourceBooking(_ context.Context, b schedule.ResourceBooking) error {
	r.lock()
	defer r.unlock()
	r.st.resourceBookings[b.ID] = b
	return nil
}

func (r *repo) GetResourceBooking(_ context.Context, id string) (*schedule.ResourceBooking, error) {
	return get(r, r.st.resourceBookings, "booking", id)
}

func (r *repo) BookingsForResource(_ context.Context, resourceID string, from, to generic.Date) ([]schedule.ResourceBooking, error) {
	return list(r, r.st.resourceBookings, func(b schedule.ResourceBooking) bool {
		return b.ResourceID == resourceID && b.Active() && reaches(b.Interval, from, to)
	}, byStart(func(b schedule.ResourceBooking) generic.Date { return b.Interval.StartDate })), nil
}

// Ledger

func (r *repo) Append(ctx context.Context, tx generic.Transaction) error {
	return r.ledger.Append(ctx, tx)
}

func (r *repo) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	return r.ledger.AppendBatch(ctx, txs)
}

func (r *repo) Load(ctx context.Context, staffID, typeID string) ([]generic.Transaction, error) {
	return r.ledger.Load(ctx, staffID, typeID)
}

func (r *repo) LoadRange(ctx context.Context, staffID, typeID string, from, to generic.Date) ([]generic.Transaction, error) {
	return r.ledger.LoadRange(ctx, staffID, typeID, from, to)
}

func (r *repo) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return r.ledger.Exists(ctx, idempotencyKey)
}

func (r *repo) Accounts(ctx context.Context, from, to generic.Date) ([]generic.Account, error) {
	return r.ledger.Accounts(ctx, from, to)
}

func byStart[V any](start func(V) generic.Date) func(a, b V) bool {
	return func(a, b V) bool { return start(a).Before(start(b)) }
}

/*
Package conflict implements the conflict detection engine.

PURPOSE:
  Given a subject (staff member and/or resource) and a candidate interval,
  list every committed interval that overlaps it: appointments, approved
  time off, blocked time, closures at the staff location, and bookings of
  the resource. The engine never mutates state and never decides policy;
  callers choose whether a conflict is hard or advisory.

ALGORITHM:
  1. Validate the candidate and expand it over its envelope (open-ended
     recurrences are cut at the horizon).
  2. Load every source kind in parallel, each narrowed to the envelope.
  3. Expand each source's occurrences inside the envelope and apply the
     half-open overlap rule against the candidate's occurrences.
  4. Report every hit, ordered by kind, then overlap start, then ID. Sources
     with identical ranges are all reported.

SEE ALSO:
  - generic/interval.go: Occurrence expansion and overlap
  - source.go: Source variants
*/
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/logging"
	"github.com/warp/schedule-engine/metrics"
	"github.com/warp/schedule-engine/schedule"
)

// Subject is who or what the candidate interval would occupy. LocationID is
// looked up from the staff record when empty.
type Subject struct {
	StaffID    string `json:"staff_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	LocationID string `json:"location_id,omitempty"`
}

// Query is a conflict check. Kinds restricts the scan; empty means all.
type Query struct {
	Subject   Subject
	Interval  generic.Interval
	ExcludeID string
	Kinds     []Kind
}

type Conflict struct {
	Kind     Kind         `json:"kind"`
	EntityID string       `json:"entity_id"`
	Label    string       `json:"label,omitempty"`
	Overlap  generic.Span `json:"overlap"`
	Source   Source       `json:"-"`
}

// ConflictSet is the full result of a check. Empty means no conflict.
type ConflictSet struct {
	Conflicts []Conflict `json:"conflicts"`
}

func (s ConflictSet) Empty() bool { return len(s.Conflicts) == 0 }

func (s ConflictSet) OfKind(k Kind) []Conflict {
	var out []Conflict
	for _, c := range s.Conflicts {
		if c.Kind == k {
			out = append(out, c)
		}
	}
	return out
}

// IDs lists the entity IDs of one kind, deduplicated, in report order.
func (s ConflictSet) IDs(k Kind) []string {
	seen := map[string]bool{}
	ids := []string{}
	for _, c := range s.OfKind(k) {
		if !seen[c.EntityID] {
			seen[c.EntityID] = true
			ids = append(ids, c.EntityID)
		}
	}
	return ids
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	repo    schedule.Repository
	horizon int
	metrics *metrics.Metrics
	log     *slog.Logger
}

type Option func(*Engine)

// WithHorizon sets how many days open-ended recurrences are expanded.
func WithHorizon(days int) Option           { return func(e *Engine) { e.horizon = days } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithLogger(l *slog.Logger) Option      { return func(e *Engine) { e.log = l } }

func NewEngine(repo schedule.Repository, opts ...Option) *Engine {
	e := &Engine{repo: repo, horizon: generic.DefaultHorizonDays}
	for _, o := range opts {
		o(e)
	}
	if e.horizon <= 0 {
		e.horizon = generic.DefaultHorizonDays
	}
	return e
}

// Horizon is the recurrence expansion bound in days.
func (e *Engine) Horizon() int { return e.horizon }

// CheckConflicts scans every source kind for the subject.
func (e *Engine) CheckConflicts(ctx context.Context, subject Subject, iv generic.Interval, excludeID string) (ConflictSet, error) {
	return e.Check(ctx, Query{Subject: subject, Interval: iv, ExcludeID: excludeID})
}

func (e *Engine) Check(ctx context.Context, q Query) (ConflictSet, error) {
	started := time.Now()
	if err := q.Interval.Validate(); err != nil {
		return ConflictSet{}, err
	}
	for _, k := range q.Kinds {
		if !k.Valid() {
			return ConflictSet{}, generic.Invalid("kinds", fmt.Sprintf("unknown conflict kind %q", k))
		}
	}

	window := q.Interval.Envelope(e.horizon)
	candidate := q.Interval.Occurrences(window)
	from, to := window.StartDate(), window.LastDate()

	want := kindSet(q.Kinds)
	if q.Subject.StaffID == "" {
		delete(want, KindAppointment)
		delete(want, KindTimeOff)
		delete(want, KindBlockedTime)
	}
	if q.Subject.ResourceID == "" {
		delete(want, KindResourceBooking)
	}

	location := q.Subject.LocationID
	if location == "" && q.Subject.StaffID != "" && want[KindClosure] {
		staff, err := e.repo.GetStaff(ctx, q.Subject.StaffID)
		switch {
		case err == nil:
			location = staff.LocationID
		case !generic.IsNotFound(err):
			return ConflictSet{}, err
		}
	}

	sources := make([][]Source, len(AllKinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range AllKinds {
		if !want[k] {
			continue
		}
		i, k := i, k
		g.Go(func() error {
			found, err := e.load(gctx, k, q.Subject, location, from, to)
			sources[i] = found
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return ConflictSet{}, err
	}

	var set ConflictSet
	for _, group := range sources {
		var hits []Conflict
		for _, src := range group {
			f := describe(src)
			if !f.active || f.id == q.ExcludeID {
				continue
			}
			overlap, ok := generic.OverlapWithin(candidate, f.interval, window)
			if !ok {
				continue
			}
			hits = append(hits, Conflict{Kind: f.kind, EntityID: f.id, Label: f.label, Overlap: overlap, Source: src})
		}
		sort.SliceStable(hits, func(i, j int) bool {
			if !hits[i].Overlap.Start.Equal(hits[j].Overlap.Start) {
				return hits[i].Overlap.Start.Before(hits[j].Overlap.Start)
			}
			return hits[i].EntityID < hits[j].EntityID
		})
		set.Conflicts = append(set.Conflicts, hits...)
	}

	kinds := make([]string, len(set.Conflicts))
	for i, c := range set.Conflicts {
		kinds[i] = string(c.Kind)
	}
	e.metrics.ObserveConflictCheck(time.Since(started), kinds)
	logging.For(ctx, e.log).DebugContext(ctx, "conflict check",
		"staff_id", q.Subject.StaffID, "resource_id", q.Subject.ResourceID,
		"from", from.String(), "to", to.String(), "conflicts", len(set.Conflicts))
	return set, nil
}

func (e *Engine) load(ctx context.Context, k Kind, subj Subject, location string, from, to generic.Date) ([]Source, error) {
	var out []Source
	switch k {
	case KindAppointment:
		rows, err := e.repo.AppointmentsForStaff(ctx, subj.StaffID, from, to)
		for _, r := range rows {
			out = append(out, AppointmentSource{Appointment: r})
		}
		return out, err
	case KindTimeOff:
		rows, err := e.repo.ApprovedTimeOff(ctx, subj.StaffID, from, to)
		for _, r := range rows {
			out = append(out, TimeOffSource{Request: r})
		}
		return out, err
	case KindBlockedTime:
		rows, err := e.repo.BlockedTimeForStaff(ctx, subj.StaffID, from, to)
		for _, r := range rows {
			out = append(out, BlockedTimeSource{Entry: r})
		}
		return out, err
	case KindClosure:
		rows, err := e.repo.ClosedPeriodsBetween(ctx, from, to)
		for _, r := range rows {
			if r.AppliesTo(location) {
				out = append(out, ClosureSource{Closure: r})
			}
		}
		return out, err
	case KindResourceBooking:
		rows, err := e.repo.BookingsForResource(ctx, subj.ResourceID, from, to)
		for _, r := range rows {
			out = append(out, ResourceBookingSource{Booking: r})
		}
		return out, err
	}
	return nil, nil
}

func kindSet(kinds []Kind) map[Kind]bool {
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	m := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

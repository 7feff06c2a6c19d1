/*
interval.go - Canonical time span shared by every schedule entity

PURPOSE:
  Appointments, time-off requests, blocked time, closures and resource
  bookings all describe "when" with the same Interval value. The conflict
  engine never reasons about recurrence rules: it asks an Interval for its
  concrete occurrences inside a bounded window and compares Spans.

EFFECTIVE INSTANTS:
  All-day:      [startDate 00:00, endDate+1 00:00)
  Partial-day:  one span per date, [date+startTime, date+endTime)

RECURRENCE:
  none    the base date range only
  weekly  the base range repeated on each listed weekday from startDate
          until `until` (open-ended series are cut at the expansion horizon)
  annual  the base month/day range repeated every year, ignoring the
          stored year; ranges may wrap across Dec 31 (endDate in the next
          year). Feb 29 anchors fall on Mar 1 in non-leap years.

CROSS-MIDNIGHT:
  Partial-day spans must end after they start on the same day. An overnight
  shift such as 22:00-06:00 is rejected, not wrapped.

SEE ALSO:
  - span.go: Half-open overlap rule
  - conflict/engine.go: Uses Occurrences to build the scan set
*/
package generic

import (
	"sort"
	"time"
)

// DefaultHorizonDays bounds the expansion of open-ended recurrences.
const DefaultHorizonDays = 365

type RecurrenceKind string

const (
	RecurNone   RecurrenceKind = ""
	RecurWeekly RecurrenceKind = "weekly"
	RecurAnnual RecurrenceKind = "annual"
)

type Recurrence struct {
	Kind     RecurrenceKind `json:"kind,omitempty"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
	Until    *Date          `json:"until,omitempty"`
}

type Interval struct {
	StartDate  Date       `json:"start_date"`
	EndDate    Date       `json:"end_date"`
	IsAllDay   bool       `json:"is_all_day"`
	StartTime  *ClockTime `json:"start_time,omitempty"`
	EndTime    *ClockTime `json:"end_time,omitempty"`
	Recurrence Recurrence `json:"recurrence"`
}

func AllDay(start, end Date) Interval {
	return Interval{StartDate: start, EndDate: end, IsAllDay: true}
}

func PartialDay(date Date, start, end ClockTime) Interval {
	return Interval{StartDate: date, EndDate: date, StartTime: &start, EndTime: &end}
}

// Weekly turns iv into a weekly series on the given weekdays.
func (iv Interval) Weekly(until *Date, days ...time.Weekday) Interval {
	iv.Recurrence = Recurrence{Kind: RecurWeekly, Weekdays: days, Until: until}
	return iv
}

// Annual turns iv into a yearly series.
func (iv Interval) Annual() Interval {
	iv.Recurrence = Recurrence{Kind: RecurAnnual}
	return iv
}

func (iv Interval) IsRecurring() bool { return iv.Recurrence.Kind != RecurNone }

// Validate enforces the interval invariants.
func (iv Interval) Validate() error {
	if iv.StartDate.IsZero() || iv.EndDate.IsZero() {
		return &DateRangeInvalidError{Start: iv.StartDate, End: iv.EndDate, Reason: "start and end dates are required"}
	}
	if iv.EndDate.Before(iv.StartDate) {
		return &DateRangeInvalidError{Start: iv.StartDate, End: iv.EndDate, Reason: "end date is before start date"}
	}
	if !iv.IsAllDay {
		if iv.StartTime == nil || iv.EndTime == nil {
			return &InvalidIntervalError{Field: "start_time", Reason: "partial-day intervals need both start and end times"}
		}
		if !iv.StartTime.Valid() || !iv.EndTime.Valid() || *iv.StartTime == MinutesPerDay {
			return &InvalidIntervalError{Field: "start_time", Reason: "clock time out of range"}
		}
		if *iv.EndTime <= *iv.StartTime {
			return &InvalidIntervalError{Field: "end_time", Reason: "end time must be after start time on the same day; cross-midnight spans are not supported"}
		}
	}
	switch iv.Recurrence.Kind {
	case RecurNone, RecurAnnual:
	case RecurWeekly:
		for _, wd := range iv.Recurrence.Weekdays {
			if wd < time.Sunday || wd > time.Saturday {
				return &InvalidIntervalError{Field: "recurrence.weekdays", Reason: "unknown weekday"}
			}
		}
	default:
		return &InvalidIntervalError{Field: "recurrence.kind", Reason: "unknown recurrence kind " + string(iv.Recurrence.Kind)}
	}
	if u := iv.Recurrence.Until; u != nil && u.Before(iv.StartDate) {
		return &InvalidIntervalError{Field: "recurrence.until", Reason: "series ends before it starts"}
	}
	return nil
}

func (iv Interval) lengthDays() int { return DaysBetween(iv.StartDate, iv.EndDate) }

// Envelope is the outer bound of every occurrence of iv. Open-ended series
// are cut horizonDays after their start.
func (iv Interval) Envelope(horizonDays int) Span {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	if !iv.IsRecurring() {
		return DatesSpan(iv.StartDate, iv.EndDate)
	}
	last := iv.StartDate.AddDays(horizonDays)
	if iv.Recurrence.Until != nil {
		last = *iv.Recurrence.Until
	}
	return DatesSpan(iv.StartDate, last.AddDays(iv.lengthDays()))
}

// Occurrences expands iv into the concrete spans that intersect window,
// ordered by start.
func (iv Interval) Occurrences(window Span) []Span {
	var out []Span
	length := iv.lengthDays()
	for _, anchor := range iv.anchors(window, length) {
		for _, s := range iv.rangeSpans(anchor, anchor.AddDays(length)) {
			if s.Overlaps(window) {
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Dates lists every calendar date touched by an occurrence inside window.
func (iv Interval) Dates(window Span) []Date {
	seen := make(map[Date]bool)
	var out []Date
	for _, s := range iv.Occurrences(window) {
		for d := s.StartDate(); d.BeforeOrEqual(s.LastDate()); d = d.AddDays(1) {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	return out
}

// anchors returns the start dates of every copy of the base range that could
// reach into window.
func (iv Interval) anchors(window Span, length int) []Date {
	from := DateOf(window.Start).AddDays(-length)
	to := DateOf(window.End)
	if iv.Recurrence.Until != nil && iv.Recurrence.Until.Before(to) {
		to = *iv.Recurrence.Until
	}

	switch iv.Recurrence.Kind {
	case RecurWeekly:
		days := iv.Recurrence.Weekdays
		if len(days) == 0 {
			days = []time.Weekday{iv.StartDate.Weekday()}
		}
		on := make(map[time.Weekday]bool, len(days))
		for _, wd := range days {
			on[wd] = true
		}
		var out []Date
		for d := MaxDate(from, iv.StartDate); d.BeforeOrEqual(to); d = d.AddDays(1) {
			if on[d.Weekday()] {
				out = append(out, d)
			}
		}
		return out

	case RecurAnnual:
		var out []Date
		for y := from.Year() - 1; y <= to.Year(); y++ {
			anchor := NewDate(y, iv.StartDate.Month(), iv.StartDate.Day())
			if anchor.Before(from) || anchor.After(to) {
				continue
			}
			out = append(out, anchor)
		}
		return out

	default:
		return []Date{iv.StartDate}
	}
}

func (iv Interval) rangeSpans(start, end Date) []Span {
	if iv.IsAllDay {
		return []Span{DatesSpan(start, end)}
	}
	spans := make([]Span, 0, DaysBetween(start, end)+1)
	for d := start; d.BeforeOrEqual(end); d = d.AddDays(1) {
		spans = append(spans, Span{Start: d.At(*iv.StartTime), End: d.At(*iv.EndTime)})
	}
	return spans
}

// =============================================================================
// OVERLAP
// =============================================================================

// Overlaps reports whether any occurrence of a overlaps any occurrence of b.
// It is symmetric: both sides are expanded over the hull of their envelopes.
func Overlaps(a, b Interval) bool {
	_, ok := SharedSpan(a, b, DefaultHorizonDays)
	return ok
}

// SharedSpan returns the first overlapping sub-range of a and b.
func SharedSpan(a, b Interval, horizonDays int) (Span, bool) {
	window := a.Envelope(horizonDays).Hull(b.Envelope(horizonDays))
	return firstOverlap(a.Occurrences(window), b.Occurrences(window))
}

// OverlapWithin compares a candidate's occurrences with other's inside window.
func OverlapWithin(candidate []Span, other Interval, window Span) (Span, bool) {
	return firstOverlap(candidate, other.Occurrences(window))
}

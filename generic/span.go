package generic

import "time"

// =============================================================================
// SPAN - Concrete half-open instant range [Start, End)
// =============================================================================

// Span is the effective time range of one concrete occurrence. Every overlap
// decision in the engine is made on spans, never on recurrence rules.
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps uses half-open semantics: touching spans do not overlap.
func (s Span) Overlaps(o Span) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Intersect returns the shared sub-range, if any.
func (s Span) Intersect(o Span) (Span, bool) {
	if !s.Overlaps(o) {
		return Span{}, false
	}
	start, end := s.Start, s.End
	if o.Start.After(start) {
		start = o.Start
	}
	if o.End.Before(end) {
		end = o.End
	}
	return Span{Start: start, End: end}, true
}

// Hull returns the smallest span covering both.
func (s Span) Hull(o Span) Span {
	out := s
	if o.Start.Before(out.Start) {
		out.Start = o.Start
	}
	if o.End.After(out.End) {
		out.End = o.End
	}
	return out
}

func (s Span) Duration() time.Duration { return s.End.Sub(s.Start) }
func (s Span) IsEmpty() bool           { return !s.Start.Before(s.End) }

// StartDate is the calendar date the span begins on.
func (s Span) StartDate() Date { return DateOf(s.Start) }

// LastDate is the last calendar date the span touches (End is exclusive).
func (s Span) LastDate() Date {
	return DateOf(s.End.Add(-time.Nanosecond))
}

// DaySpan covers one whole calendar date.
func DaySpan(d Date) Span {
	return Span{Start: d.Midnight(), End: d.AddDays(1).Midnight()}
}

// DatesSpan covers from..to inclusive.
func DatesSpan(from, to Date) Span {
	return Span{Start: from.Midnight(), End: to.AddDays(1).Midnight()}
}

// firstOverlap scans two start-ordered span lists and returns the first
// shared sub-range.
func firstOverlap(as, bs []Span) (Span, bool) {
	for _, a := range as {
		for _, b := range bs {
			if !b.Start.Before(a.End) {
				break
			}
			if shared, ok := a.Intersect(b); ok {
				return shared, true
			}
		}
	}
	return Span{}, false
}

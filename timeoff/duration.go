package timeoff

import (
	"github.com/shopspring/decimal"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/schedule"
)

// Duration is the working time a request covers.
type Duration struct {
	Hours decimal.Decimal
	Days  decimal.Decimal
}

var sixty = decimal.NewFromInt(60)

// Measure intersects iv with the staff member's shifts. Each worked day
// contributes the covered minutes to Hours and the covered fraction of the
// shift to Days. Days without a shift, or covered by a full-day closure,
// contribute nothing. Both totals are rounded to two places.
func Measure(iv generic.Interval, week schedule.WeeklySchedule, closures []schedule.ClosedPeriod) Duration {
	minutes := decimal.Zero
	days := decimal.Zero
	spans := iv.Occurrences(iv.Envelope(0))

	for d := iv.StartDate; d.BeforeOrEqual(iv.EndDate); d = d.AddDays(1) {
		shift, ok := week.ShiftOn(d)
		if !ok || closedAllDay(d, closures) {
			continue
		}
		worked := generic.Span{Start: d.At(shift.Start), End: d.At(shift.End)}
		covered := 0
		for _, s := range spans {
			if part, ok := s.Intersect(worked); ok {
				covered += int(part.Duration().Minutes())
			}
		}
		if covered == 0 {
			continue
		}
		m := decimal.NewFromInt(int64(covered))
		minutes = minutes.Add(m)
		days = days.Add(m.Div(decimal.NewFromInt(int64(shift.Minutes()))))
	}
	return Duration{Hours: minutes.Div(sixty).Round(2), Days: days.Round(2)}
}

func closedAllDay(d generic.Date, closures []schedule.ClosedPeriod) bool {
	day := generic.DaySpan(d)
	for _, c := range closures {
		if c.IsPartialDay {
			continue
		}
		if len(c.Interval().Occurrences(day)) > 0 {
			return true
		}
	}
	return false
}

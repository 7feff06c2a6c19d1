package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Civil calendar date (no time zone, no clock)
// =============================================================================

const dateLayout = "2006-01-02"

// Date is a calendar date. It is stored as UTC midnight so that arithmetic
// never crosses a DST boundary.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the clock part of t, keeping its calendar date in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustDate parses s and panics on failure. Intended for seeds and tests.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.t.After(o.t) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.t.Before(o.t) }
func (d Date) IsZero() bool              { return d.t.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{t: d.t.AddDate(0, n, 0)} }

// Properties
func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) Time() time.Time       { return d.t }

// At combines the date with a clock time.
func (d Date) At(c ClockTime) time.Time {
	return d.t.Add(time.Duration(c) * time.Minute)
}

// Midnight is the instant the date begins.
func (d Date) Midnight() time.Time { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func MinDate(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

func MaxDate(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

// DaysBetween returns the number of calendar days from a to b (negative when b < a).
func DaysBetween(a, b Date) int { return int(b.t.Sub(a.t).Hours() / 24) }

func StartOfYear(year int) Date                    { return NewDate(year, time.January, 1) }
func EndOfYear(year int) Date                      { return NewDate(year, time.December, 31) }
func StartOfMonth(year int, month time.Month) Date { return NewDate(year, month, 1) }

// =============================================================================
// CLOCK TIME - Minutes since midnight
// =============================================================================

const clockLayout = "15:04"

// MinutesPerDay is also the largest valid ClockTime ("24:00"), usable only as an end time.
const MinutesPerDay = 24 * 60

// ClockTime is a wall-clock time of day expressed in minutes since midnight.
type ClockTime int

func NewClockTime(hour, minute int) ClockTime { return ClockTime(hour*60 + minute) }

func ParseClockTime(s string) (ClockTime, error) {
	if s == "24:00" {
		return MinutesPerDay, nil
	}
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("parse clock time %q: %w", s, err)
	}
	return NewClockTime(t.Hour(), t.Minute()), nil
}

func MustClock(s string) ClockTime {
	c, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockPtr is a convenience for optional clock fields.
func ClockPtr(s string) *ClockTime {
	c := MustClock(s)
	return &c
}

func (c ClockTime) Valid() bool             { return c >= 0 && c <= MinutesPerDay }
func (c ClockTime) Minutes() int            { return int(c) }
func (c ClockTime) Duration() time.Duration { return time.Duration(c) * time.Minute }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

/*
Package schedule defines the entity shapes shared by every schedule component.

PURPOSE:
  Catalog types, time-off requests, blocked time, closures, resources,
  bookings, appointments and staff members, plus the repository interfaces
  that persist them. Behavior lives in the component packages (timeoff,
  blocked, resource, closure, conflict); this package only holds data and
  the invariants that belong to the data itself (status derived from
  history, sync priorities).

SNAPSHOTS:
  TimeOffRequest copies the type's name, emoji, color and isPaid at creation.
  Later catalog edits never rewrite historical requests.

SEE ALSO:
  - history.go: Status derivation and merge
  - repository.go: Persistence interfaces
*/
package schedule

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/schedule-engine/generic"
)

// =============================================================================
// REFERENCE CATALOGS
// =============================================================================

type TimeOffType struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Code             string `json:"code"`
	Emoji            string `json:"emoji"`
	Color            string `json:"color"`
	IsPaid           bool   `json:"is_paid"`
	RequiresApproval bool   `json:"requires_approval"`

	// Balance policy
	Unit                generic.Unit     `json:"unit"`
	AccrualEnabled      bool             `json:"accrual_enabled"`
	AccrualRatePerMonth decimal.Decimal  `json:"accrual_rate_per_month"`
	AnnualLimitDays     *decimal.Decimal `json:"annual_limit_days,omitempty"`
	CarryOverEnabled    bool             `json:"carry_over_enabled"`
	MaxCarryOverDays    *decimal.Decimal `json:"max_carry_over_days,omitempty"`

	DisplayOrder    int       `json:"display_order"`
	IsActive        bool      `json:"is_active"`
	IsSystemDefault bool      `json:"is_system_default"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BalanceUnit is the granularity debits are expressed in (days by default).
func (t TimeOffType) BalanceUnit() generic.Unit {
	if t.Unit == generic.UnitHours {
		return generic.UnitHours
	}
	return generic.UnitDays
}

// Limits maps the type's policy flags onto ledger limits.
func (t TimeOffType) Limits() generic.Limits {
	l := generic.Limits{LedgerBound: t.AccrualEnabled}
	if t.AnnualLimitDays != nil {
		a := generic.NewAmountFromDecimal(*t.AnnualLimitDays, t.BalanceUnit())
		l.AnnualLimit = &a
	}
	return l
}

func (t TimeOffType) CarryoverRule() generic.CarryoverRule {
	r := generic.CarryoverRule{Enabled: t.CarryOverEnabled}
	if t.MaxCarryOverDays != nil {
		m := generic.NewAmountFromDecimal(*t.MaxCarryOverDays, t.BalanceUnit())
		r.MaxCarryover = &m
	}
	return r
}

type BlockedTimeType struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	Code                   string    `json:"code"`
	Emoji                  string    `json:"emoji"`
	Color                  string    `json:"color"`
	DefaultDurationMinutes int       `json:"default_duration_minutes"`
	BlocksOnlineBooking    bool      `json:"blocks_online_booking"`
	BlocksInStoreBooking   bool      `json:"blocks_in_store_booking"`
	RequiresApproval       bool      `json:"requires_approval"`
	DisplayOrder           int       `json:"display_order"`
	IsActive               bool      `json:"is_active"`
	IsSystemDefault        bool      `json:"is_system_default"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// =============================================================================
// STAFF - Read input from the staff directory
// =============================================================================

type StaffMember struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	LocationID string          `json:"location_id"`
	HiredOn    *generic.Date   `json:"hired_on,omitempty"`
	Schedule   *WeeklySchedule `json:"schedule,omitempty"`
	IsActive   bool            `json:"is_active"`
}

// Shift is one day's working hours.
type Shift struct {
	Start generic.ClockTime `json:"start"`
	End   generic.ClockTime `json:"end"`
}

func (s Shift) Minutes() int { return int(s.End - s.Start) }

// WeeklySchedule maps weekdays to shifts. Missing days are days off.
type WeeklySchedule struct {
	Shifts map[time.Weekday]Shift `json:"shifts"`
}

// ShiftOn returns the shift worked on d, if any.
func (w WeeklySchedule) ShiftOn(d generic.Date) (Shift, bool) {
	s, ok := w.Shifts[d.Weekday()]
	if !ok || s.End <= s.Start {
		return Shift{}, false
	}
	return s, true
}

// StandardWeek is a shift on each of the given days.
func StandardWeek(start, end generic.ClockTime, days ...time.Weekday) WeeklySchedule {
	w := WeeklySchedule{Shifts: make(map[time.Weekday]Shift, len(days))}
	for _, d := range days {
		w.Shifts[d] = Shift{Start: start, End: end}
	}
	return w
}

// =============================================================================
// APPOINTMENTS - Read input from the booking component
// =============================================================================

type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "scheduled"
	AppointmentConfirmed  AppointmentStatus = "confirmed"
	AppointmentInProgress AppointmentStatus = "in_progress"
	AppointmentCompleted  AppointmentStatus = "completed"
	AppointmentCancelled  AppointmentStatus = "cancelled"
	AppointmentNoShow     AppointmentStatus = "no_show"
)

type Appointment struct {
	ID          string            `json:"id"`
	StaffID     string            `json:"staff_id"`
	LocationID  string            `json:"location_id,omitempty"`
	ClientName  string            `json:"client_name,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	ResourceIDs []string          `json:"resource_ids,omitempty"`
	Status      AppointmentStatus `json:"status"`
	Interval    generic.Interval  `json:"interval"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Blocking reports whether the appointment still occupies the staff member.
func (a Appointment) Blocking() bool {
	return a.Status != AppointmentCancelled && a.Status != AppointmentNoShow
}

// =============================================================================
// TIME-OFF REQUEST
// =============================================================================

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusDenied    RequestStatus = "denied"
	StatusCancelled RequestStatus = "cancelled"
)

// Terminal states are never re-opened.
func (s RequestStatus) Terminal() bool { return s == StatusDenied || s == StatusCancelled }

// StatusChange is one immutable audit entry.
type StatusChange struct {
	From            RequestStatus `json:"from"`
	To              RequestStatus `json:"to"`
	ChangedAt       time.Time     `json:"changed_at"`
	ChangedBy       string        `json:"changed_by"`
	ChangedByDevice string        `json:"changed_by_device"`
	Reason          string        `json:"reason,omitempty"`
}

// Decision records who approved, denied or cancelled a request.
type Decision struct {
	ActorID           string    `json:"actor_id"`
	DeviceID          string    `json:"device_id"`
	At                time.Time `json:"at"`
	Notes             string    `json:"notes,omitempty"`
	OverrideConflicts bool      `json:"override_conflicts,omitempty"`
	BalanceOverridden bool      `json:"balance_overridden,omitempty"`
}

type TimeOffRequest struct {
	ID        string `json:"id"`
	StaffID   string `json:"staff_id"`
	StaffName string `json:"staff_name"`

	// Catalog snapshot
	TypeID    string `json:"type_id"`
	TypeName  string `json:"type_name"`
	TypeEmoji string `json:"type_emoji"`
	TypeColor string `json:"type_color"`
	IsPaid    bool   `json:"is_paid"`

	Interval   generic.Interval `json:"interval"`
	TotalHours decimal.Decimal  `json:"total_hours"`
	TotalDays  decimal.Decimal  `json:"total_days"`
	Reason     string           `json:"reason,omitempty"`

	StatusHistory []StatusChange `json:"status_history"`

	Approval     *Decision `json:"approval,omitempty"`
	Denial       *Decision `json:"denial,omitempty"`
	DenialReason string    `json:"denial_reason,omitempty"`
	Cancellation *Decision `json:"cancellation,omitempty"`

	HasConflicts              bool     `json:"has_conflicts"`
	ConflictingAppointmentIDs []string `json:"conflicting_appointment_ids"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is the `to` of the last history entry.
func (r TimeOffRequest) Status() RequestStatus { return StatusOf(r.StatusHistory) }

// MarshalJSON adds the derived status. It is ignored when decoding.
func (r TimeOffRequest) MarshalJSON() ([]byte, error) {
	type plain TimeOffRequest
	return json.Marshal(struct {
		plain
		Status RequestStatus `json:"status"`
	}{plain(r), r.Status()})
}

// Debit is the amount an approval takes from the balance.
func (r TimeOffRequest) Debit(unit generic.Unit) generic.Amount {
	if unit == generic.UnitHours {
		return generic.NewAmountFromDecimal(r.TotalHours, unit)
	}
	return generic.NewAmountFromDecimal(r.TotalDays, generic.UnitDays)
}

// BalanceYear is the year an approval is charged to.
func (r TimeOffRequest) BalanceYear() int { return r.Interval.StartDate.Year() }

// =============================================================================
// BLOCKED TIME
// =============================================================================

type BlockedTimeEntry struct {
	ID        string           `json:"id"`
	StaffID   string           `json:"staff_id"`
	StaffName string           `json:"staff_name"`
	TypeID    string           `json:"type_id"`
	TypeName  string           `json:"type_name"`
	Interval  generic.Interval `json:"interval"`
	Notes     string           `json:"notes,omitempty"`
	CreatedBy string           `json:"created_by"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// =============================================================================
// BUSINESS CLOSED PERIOD
// =============================================================================

type ClosedPeriod struct {
	ID                    string             `json:"id"`
	Name                  string             `json:"name"`
	AppliesToAllLocations bool               `json:"applies_to_all_locations"`
	LocationIDs           []string           `json:"location_ids,omitempty"`
	StartDate             generic.Date       `json:"start_date"`
	EndDate               generic.Date       `json:"end_date"`
	IsPartialDay          bool               `json:"is_partial_day"`
	StartTime             *generic.ClockTime `json:"start_time,omitempty"`
	EndTime               *generic.ClockTime `json:"end_time,omitempty"`
	BlocksOnlineBooking   bool               `json:"blocks_online_booking"`
	BlocksInStoreBooking  bool               `json:"blocks_in_store_booking"`
	IsAnnual              bool               `json:"is_annual"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// Interval expresses the closure in the shared interval model.
func (c ClosedPeriod) Interval() generic.Interval {
	iv := generic.Interval{
		StartDate: c.StartDate,
		EndDate:   c.EndDate,
		IsAllDay:  !c.IsPartialDay,
	}
	if c.IsPartialDay {
		iv.StartTime, iv.EndTime = c.StartTime, c.EndTime
	}
	if c.IsAnnual {
		iv.Recurrence = generic.Recurrence{Kind: generic.RecurAnnual}
	}
	return iv
}

// AppliesTo reports whether the closure covers the location.
func (c ClosedPeriod) AppliesTo(locationID string) bool {
	if c.AppliesToAllLocations {
		return true
	}
	for _, id := range c.LocationIDs {
		if id == locationID {
			return true
		}
	}
	return false
}

// =============================================================================
// RESOURCES
// =============================================================================

type Resource struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"` // room, chair, equipment
	LocationID string    `json:"location_id,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

type BookingStatus string

const (
	BookingActive    BookingStatus = "active"
	BookingCancelled BookingStatus = "cancelled"
)

type ResourceBooking struct {
	ID            string           `json:"id"`
	ResourceID    string           `json:"resource_id"`
	AppointmentID string           `json:"appointment_id,omitempty"`
	StaffID       string           `json:"staff_id,omitempty"`
	Interval      generic.Interval `json:"interval"`
	Status        BookingStatus    `json:"status"`
	Notes         string           `json:"notes,omitempty"`
	CreatedBy     string           `json:"created_by"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (b ResourceBooking) Active() bool { return b.Status != BookingCancelled }

package conflict

import (
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/schedule"
)

// Kind names the committed-interval source a conflict came from.
type Kind string

const (
	KindAppointment     Kind = "appointment"
	KindTimeOff         Kind = "time_off"
	KindBlockedTime     Kind = "blocked_time"
	KindClosure         Kind = "closure"
	KindResourceBooking Kind = "resource_booking"
)

// AllKinds is the scan order; conflicts are reported in this order.
var AllKinds = []Kind{KindAppointment, KindTimeOff, KindBlockedTime, KindClosure, KindResourceBooking}

func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Source is one committed entity that can collide with a candidate
// interval. The set of variants is closed.
type Source interface {
	isSource()
}

type AppointmentSource struct{ Appointment schedule.Appointment }
type TimeOffSource struct{ Request schedule.TimeOffRequest }
type BlockedTimeSource struct{ Entry schedule.BlockedTimeEntry }
type ClosureSource struct{ Closure schedule.ClosedPeriod }
type ResourceBookingSource struct{ Booking schedule.ResourceBooking }

func (AppointmentSource) isSource()     {}
func (TimeOffSource) isSource()         {}
func (BlockedTimeSource) isSource()     {}
func (ClosureSource) isSource()         {}
func (ResourceBookingSource) isSource() {}

// facts is what the scan needs from any variant.
type facts struct {
	kind     Kind
	id       string
	label    string
	interval generic.Interval
	active   bool
}

func describe(src Source) facts {
	switch s := src.(type) {
	case AppointmentSource:
		a := s.Appointment
		label := a.ServiceName
		if a.ClientName != "" {
			label = a.ClientName + " - " + a.ServiceName
		}
		return facts{KindAppointment, a.ID, label, a.Interval, a.Blocking()}
	case TimeOffSource:
		r := s.Request
		return facts{KindTimeOff, r.ID, r.TypeName, r.Interval, r.Status() == schedule.StatusApproved}
	case BlockedTimeSource:
		e := s.Entry
		return facts{KindBlockedTime, e.ID, e.TypeName, e.Interval, true}
	case ClosureSource:
		c := s.Closure
		return facts{KindClosure, c.ID, c.Name, c.Interval(), true}
	case ResourceBookingSource:
		b := s.Booking
		return facts{KindResourceBooking, b.ID, b.Notes, b.Interval, b.Active()}
	default:
		return facts{}
	}
}

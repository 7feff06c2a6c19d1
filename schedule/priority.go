package schedule

// EntityKind names each replicated entity shape.
type EntityKind string

const (
	KindTimeOffType     EntityKind = "time_off_type"
	KindBlockedTimeType EntityKind = "blocked_time_type"
	KindStaff           EntityKind = "staff"
	KindAppointment     EntityKind = "appointment"
	KindTimeOffRequest  EntityKind = "time_off_request"
	KindBlockedTime     EntityKind = "blocked_time"
	KindClosedPeriod    EntityKind = "closed_period"
	KindResource        EntityKind = "resource"
	KindResourceBooking EntityKind = "resource_booking"
	KindLedgerEntry     EntityKind = "ledger_entry"
)

// SyncPriority is a replication ordering hint for the sync layer.
type SyncPriority string

const (
	PriorityLow    SyncPriority = "low"
	PriorityNormal SyncPriority = "normal"
	PriorityHigh   SyncPriority = "high"
)

// ScheduleSyncPriorities lists the kinds that differ from normal priority.
var ScheduleSyncPriorities = map[EntityKind]SyncPriority{
	KindTimeOffType:     PriorityLow,
	KindBlockedTimeType: PriorityLow,
	KindResourceBooking: PriorityHigh,
}

func PriorityFor(kind EntityKind) SyncPriority {
	if p, ok := ScheduleSyncPriorities[kind]; ok {
		return p
	}
	return PriorityNormal
}

package schedule

import (
	"context"

	"github.com/warp/schedule-engine/generic"
)

// =============================================================================
// REPOSITORIES - One interface per concern, composed into Repository
// =============================================================================
//
// Get* methods return *generic.NotFoundError when the entity is absent.
// Range queries ("from, to") return every entity whose base date range
// intersects [from, to] plus every recurring entity that could, so callers
// must still apply the exact overlap rule.

type CatalogRepository interface {
	SaveTimeOffType(ctx context.Context, t TimeOffType) error
	GetTimeOffType(ctx context.Context, id string) (*TimeOffType, error)
	ListTimeOffTypes(ctx context.Context) ([]TimeOffType, error)
	DeleteTimeOffType(ctx context.Context, id string) error

	SaveBlockedTimeType(ctx context.Context, t BlockedTimeType) error
	GetBlockedTimeType(ctx context.Context, id string) (*BlockedTimeType, error)
	ListBlockedTimeTypes(ctx context.Context) ([]BlockedTimeType, error)
	DeleteBlockedTimeType(ctx context.Context, id string) error

	CountTimeOffRequestsByType(ctx context.Context, typeID string) (int, error)
	CountBlockedTimeByType(ctx context.Context, typeID string) (int, error)
}

type StaffRepository interface {
	SaveStaff(ctx context.Context, s StaffMember) error
	GetStaff(ctx context.Context, id string) (*StaffMember, error)
	ListStaff(ctx context.Context) ([]StaffMember, error)
}

type AppointmentRepository interface {
	SaveAppointment(ctx context.Context, a Appointment) error
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	AppointmentsForStaff(ctx context.Context, staffID string, from, to generic.Date) ([]Appointment, error)
}

// RequestFilter narrows ListTimeOffRequests; zero fields match everything.
type RequestFilter struct {
	StaffID string
	Status  RequestStatus
}

type TimeOffRepository interface {
	SaveTimeOffRequest(ctx context.Context, r TimeOffRequest) error
	GetTimeOffRequest(ctx context.Context, id string) (*TimeOffRequest, error)
	ListTimeOffRequests(ctx context.Context, f RequestFilter) ([]TimeOffRequest, error)
	ApprovedTimeOff(ctx context.Context, staffID string, from, to generic.Date) ([]TimeOffRequest, error)
}

type BlockedTimeRepository interface {
	SaveBlockedTime(ctx context.Context, e BlockedTimeEntry) error
	GetBlockedTime(ctx context.Context, id string) (*BlockedTimeEntry, error)
	DeleteBlockedTime(ctx context.Context, id string) error
	BlockedTimeForStaff(ctx context.Context, staffID string, from, to generic.Date) ([]BlockedTimeEntry, error)
}

type ClosureRepository interface {
	SaveClosedPeriod(ctx context.Context, c ClosedPeriod) error
	GetClosedPeriod(ctx context.Context, id string) (*ClosedPeriod, error)
	DeleteClosedPeriod(ctx context.Context, id string) error
	ListClosedPeriods(ctx context.Context) ([]ClosedPeriod, error)
	ClosedPeriodsBetween(ctx context.Context, from, to generic.Date) ([]ClosedPeriod, error)
}

type ResourceRepository interface {
	SaveResource(ctx context.Context, r Resource) error
	GetResource(ctx context.Context, id string) (*Resource, error)
	ListResources(ctx context.Context) ([]Resource, error)

	SaveResourceBooking(ctx context.Context, b ResourceBooking) error
	GetResourceBooking(ctx context.Context, id string) (*ResourceBooking, error)
	BookingsForResource(ctx context.Context, resourceID string, from, to generic.Date) ([]ResourceBooking, error)
}

// Repository is every entity repository plus the balance ledger store.
type Repository interface {
	CatalogRepository
	StaffRepository
	AppointmentRepository
	TimeOffRepository
	BlockedTimeRepository
	ClosureRepository
	ResourceRepository
	generic.Store
}

// Store is a Repository with atomic multi-write support. Inside fn, use only
// the Repository passed in; reading through the outer Store while a
// transaction is open may block.
type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(tx Repository) error) error
}

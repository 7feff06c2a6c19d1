/*
errors.go - Centralized error taxonomy

PURPOSE:
  All failures are typed. Each structured error carries a stable machine
  code (Code()) and exported fields with the details a caller needs to
  render an actionable message without a second round trip. Each one
  unwraps to a sentinel so callers can branch with errors.Is.

ERROR GROUPS:
  not-found        entity absent; re-fetch and retry
  state-violation  wrong workflow state or invalid input; fix the input
  conflict         hard conflicts (blocked time, resource bookings, sync
                   merges) and soft ones with an override path (time-off
                   approval vs. appointments, insufficient balance)
  authorization    caller lacks the role; never escalated silently

USAGE:
  var ibe *generic.InsufficientBalanceError
  if errors.As(err, &ibe) {
      fmt.Println(ibe.Requested, ibe.Available)
  }
  generic.CodeOf(err)  // "INSUFFICIENT_BALANCE"
  generic.GroupOf(err) // generic.GroupConflict

SEE ALSO:
  - api/handlers.go: Maps groups to HTTP status
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound                  = errors.New("not found")
	ErrRequestNotPending         = errors.New("request is not pending")
	ErrInvalidTransition         = errors.New("invalid status transition")
	ErrDenialReasonRequired      = errors.New("denial reason required")
	ErrDateRangeInvalid          = errors.New("invalid date range")
	ErrInvalidInterval           = errors.New("invalid interval")
	ErrDuplicateCode             = errors.New("duplicate catalog code")
	ErrTypeInactive              = errors.New("type is inactive")
	ErrTypeInUse                 = errors.New("type is in use")
	ErrCannotDeleteSystemDefault = errors.New("cannot delete system default")
	ErrConflictExists            = errors.New("schedule conflicts exist")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrBlockedTimeConflict       = errors.New("blocked time conflict")
	ErrResourceBookingConflict   = errors.New("resource booking conflict")
	ErrReconciliationConflict    = errors.New("reconciliation conflict")
	ErrUnauthorized              = errors.New("unauthorized schedule action")
	ErrValidation                = errors.New("validation failed")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrTransactionFailed is returned when a ledger entry cannot be persisted.
	ErrTransactionFailed = errors.New("transaction failed")
)

// Group classifies an error for callers that only need the broad category.
type Group string

const (
	GroupNotFound       Group = "not_found"
	GroupStateViolation Group = "state_violation"
	GroupConflict       Group = "conflict"
	GroupAuthorization  Group = "authorization"
	GroupInternal       Group = "internal"
)

// Coded is implemented by every structured error in the taxonomy.
type Coded interface {
	error
	Code() string
}

// =============================================================================
// NOT FOUND
// =============================================================================

// NotFoundError reports a missing entity. Entity is a short kind name such as
// "type", "request", "entry", "resource" or "staff".
type NotFoundError struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Entity, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }
func (e *NotFoundError) Code() string  { return strings.ToUpper(e.Entity) + "_NOT_FOUND" }

func NotFound(entity, id string) error { return &NotFoundError{Entity: entity, ID: id} }

// =============================================================================
// STATE VIOLATIONS
// =============================================================================

type RequestNotPendingError struct {
	RequestID string `json:"request_id"`
	Current   string `json:"current"`
}

func (e *RequestNotPendingError) Error() string {
	return fmt.Sprintf("request %s is %s, not pending", e.RequestID, e.Current)
}
func (e *RequestNotPendingError) Unwrap() error { return ErrRequestNotPending }
func (e *RequestNotPendingError) Code() string  { return "REQUEST_NOT_PENDING" }

// InvalidTransitionError covers moves out of terminal states other than
// approve/deny (e.g. cancelling a denied request).
type InvalidTransitionError struct {
	RequestID string `json:"request_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("request %s cannot move from %s to %s", e.RequestID, e.From, e.To)
}
func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
func (e *InvalidTransitionError) Code() string  { return "INVALID_STATUS_TRANSITION" }

type DenialReasonRequiredError struct {
	RequestID string `json:"request_id"`
}

func (e *DenialReasonRequiredError) Error() string {
	return fmt.Sprintf("denying request %s requires a reason", e.RequestID)
}
func (e *DenialReasonRequiredError) Unwrap() error { return ErrDenialReasonRequired }
func (e *DenialReasonRequiredError) Code() string  { return "DENIAL_REASON_REQUIRED" }

type DateRangeInvalidError struct {
	Start  Date   `json:"start"`
	End    Date   `json:"end"`
	Reason string `json:"reason"`
}

func (e *DateRangeInvalidError) Error() string {
	return fmt.Sprintf("invalid date range %s..%s: %s", e.Start, e.End, e.Reason)
}
func (e *DateRangeInvalidError) Unwrap() error { return ErrDateRangeInvalid }
func (e *DateRangeInvalidError) Code() string  { return "DATE_RANGE_INVALID" }

type InvalidIntervalError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *InvalidIntervalError) Error() string {
	return fmt.Sprintf("invalid interval (%s): %s", e.Field, e.Reason)
}
func (e *InvalidIntervalError) Unwrap() error { return ErrInvalidInterval }
func (e *InvalidIntervalError) Code() string  { return "INVALID_INTERVAL" }

// ValidationError reports a missing or malformed input field outside the
// interval model.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }
func (e *ValidationError) Unwrap() error { return ErrValidation }
func (e *ValidationError) Code() string  { return "VALIDATION_FAILED" }

func Invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

type DuplicateCodeError struct {
	Catalog string `json:"catalog"`
	Value   string `json:"code"`
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("%s code %q already exists", e.Catalog, e.Value)
}
func (e *DuplicateCodeError) Unwrap() error { return ErrDuplicateCode }
func (e *DuplicateCodeError) Code() string  { return "DUPLICATE_CODE" }

type TypeInactiveError struct {
	TypeName string `json:"type_name"`
}

func (e *TypeInactiveError) Error() string { return fmt.Sprintf("type %q is inactive", e.TypeName) }
func (e *TypeInactiveError) Unwrap() error { return ErrTypeInactive }
func (e *TypeInactiveError) Code() string  { return "TYPE_INACTIVE" }

type BlockedTimeTypeInUseError struct {
	TypeName   string `json:"type_name"`
	EntryCount int    `json:"entry_count"`
}

func (e *BlockedTimeTypeInUseError) Error() string {
	return fmt.Sprintf("blocked time type %q is used by %d entries", e.TypeName, e.EntryCount)
}
func (e *BlockedTimeTypeInUseError) Unwrap() error { return ErrTypeInUse }
func (e *BlockedTimeTypeInUseError) Code() string  { return "BLOCKED_TIME_TYPE_IN_USE" }

type TimeOffTypeInUseError struct {
	TypeName     string `json:"type_name"`
	RequestCount int    `json:"request_count"`
}

func (e *TimeOffTypeInUseError) Error() string {
	return fmt.Sprintf("time-off type %q is used by %d requests", e.TypeName, e.RequestCount)
}
func (e *TimeOffTypeInUseError) Unwrap() error { return ErrTypeInUse }
func (e *TimeOffTypeInUseError) Code() string  { return "TIME_OFF_TYPE_IN_USE" }

type CannotDeleteSystemDefaultError struct {
	Catalog  string `json:"catalog"`
	TypeName string `json:"type_name"`
}

func (e *CannotDeleteSystemDefaultError) Error() string {
	return fmt.Sprintf("%s %q is a system default and cannot be deleted", e.Catalog, e.TypeName)
}
func (e *CannotDeleteSystemDefaultError) Unwrap() error { return ErrCannotDeleteSystemDefault }
func (e *CannotDeleteSystemDefaultError) Code() string  { return "CANNOT_DELETE_SYSTEM_DEFAULT" }

// CannotDeleteDefaultBlockedTimeTypeError is the blocked-time flavor. It still
// matches errors.As(*CannotDeleteSystemDefaultError).
type CannotDeleteDefaultBlockedTimeTypeError struct {
	TypeName string `json:"type_name"`
}

func (e *CannotDeleteDefaultBlockedTimeTypeError) Error() string {
	return fmt.Sprintf("blocked time type %q is a system default and cannot be deleted", e.TypeName)
}
func (e *CannotDeleteDefaultBlockedTimeTypeError) Unwrap() error {
	return &CannotDeleteSystemDefaultError{Catalog: "blocked time type", TypeName: e.TypeName}
}
func (e *CannotDeleteDefaultBlockedTimeTypeError) Code() string {
	return "CANNOT_DELETE_DEFAULT_BLOCKED_TIME_TYPE"
}

// =============================================================================
// CONFLICTS
// =============================================================================

// ConflictExistsError is the advisory conflict on time-off approval. The
// caller may retry with the override flag.
type ConflictExistsError struct {
	RequestID      string   `json:"request_id"`
	AppointmentIDs []string `json:"appointment_ids"`
}

func (e *ConflictExistsError) Error() string {
	return fmt.Sprintf("request %s conflicts with %d appointment(s): %s",
		e.RequestID, len(e.AppointmentIDs), strings.Join(e.AppointmentIDs, ", "))
}
func (e *ConflictExistsError) Unwrap() error { return ErrConflictExists }
func (e *ConflictExistsError) Code() string  { return "CONFLICT_EXISTS" }

type InsufficientBalanceError struct {
	Requested Amount `json:"requested"`
	Available Amount `json:"available"`
	TypeName  string `json:"type_name"`
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: requested %s, available %s",
		e.TypeName, e.Requested.Value, e.Available.Value)
}
func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }
func (e *InsufficientBalanceError) Code() string  { return "INSUFFICIENT_BALANCE" }

type BlockedTimeConflictError struct {
	StaffName           string     `json:"staff_name"`
	Date                Date       `json:"date"`
	StartTime           *ClockTime `json:"start_time,omitempty"`
	EndTime             *ClockTime `json:"end_time,omitempty"`
	ConflictingEntryID  string     `json:"conflicting_entry_id"`
	ConflictingTypeName string     `json:"conflicting_type_name"`
}

func (e *BlockedTimeConflictError) Error() string {
	when := "all day"
	if e.StartTime != nil && e.EndTime != nil {
		when = e.StartTime.String() + "-" + e.EndTime.String()
	}
	return fmt.Sprintf("%s already has %s on %s (%s)", e.StaffName, e.ConflictingTypeName, e.Date, when)
}
func (e *BlockedTimeConflictError) Unwrap() error { return ErrBlockedTimeConflict }
func (e *BlockedTimeConflictError) Code() string  { return "BLOCKED_TIME_CONFLICT" }

type ResourceBookingConflictError struct {
	ResourceID   string   `json:"resource_id"`
	ResourceName string   `json:"resource_name"`
	BookingIDs   []string `json:"booking_ids"`
	Overlap      Span     `json:"overlap"`
}

func (e *ResourceBookingConflictError) Error() string {
	return fmt.Sprintf("resource %s is already booked from %s to %s (%s)", e.ResourceName,
		e.Overlap.Start.Format("2006-01-02 15:04"), e.Overlap.End.Format("2006-01-02 15:04"),
		strings.Join(e.BookingIDs, ", "))
}
func (e *ResourceBookingConflictError) Unwrap() error { return ErrResourceBookingConflict }
func (e *ResourceBookingConflictError) Code() string  { return "RESOURCE_BOOKING_CONFLICT" }

// ReconciliationConflictError is raised when a remote change, once merged,
// would commit a hard conflict.
type ReconciliationConflictError struct {
	Kind           string   `json:"kind"`
	EntityID       string   `json:"entity_id"`
	ConflictingIDs []string `json:"conflicting_ids"`
	Cause          error    `json:"-"`
}

func (e *ReconciliationConflictError) Error() string {
	msg := fmt.Sprintf("remote %s %s conflicts with %s", e.Kind, e.EntityID, strings.Join(e.ConflictingIDs, ", "))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}
func (e *ReconciliationConflictError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrReconciliationConflict, e.Cause}
	}
	return []error{ErrReconciliationConflict}
}
func (e *ReconciliationConflictError) Code() string { return "RECONCILIATION_CONFLICT" }

// =============================================================================
// AUTHORIZATION
// =============================================================================

type UnauthorizedScheduleError struct {
	ActorID string `json:"actor_id"`
	Action  string `json:"action"`
}

func (e *UnauthorizedScheduleError) Error() string {
	return fmt.Sprintf("actor %q is not allowed to %s", e.ActorID, e.Action)
}
func (e *UnauthorizedScheduleError) Unwrap() error { return ErrUnauthorized }
func (e *UnauthorizedScheduleError) Code() string  { return "UNAUTHORIZED_SCHEDULE" }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// CodeOf returns the stable code of the outermost coded error, or
// "INTERNAL" when err is not part of the taxonomy.
func CodeOf(err error) string {
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return "DUPLICATE_IDEMPOTENCY_KEY"
	}
	return "INTERNAL"
}

// GroupOf classifies err. Conflict and authorization are checked before
// not-found so a wrapped cause never downgrades the group.
func GroupOf(err error) Group {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return GroupAuthorization
	case errors.Is(err, ErrConflictExists),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrBlockedTimeConflict),
		errors.Is(err, ErrResourceBookingConflict),
		errors.Is(err, ErrReconciliationConflict),
		errors.Is(err, ErrDuplicateIdempotencyKey):
		return GroupConflict
	case errors.Is(err, ErrNotFound):
		return GroupNotFound
	case errors.Is(err, ErrRequestNotPending),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDenialReasonRequired),
		errors.Is(err, ErrDateRangeInvalid),
		errors.Is(err, ErrInvalidInterval),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrDuplicateCode),
		errors.Is(err, ErrTypeInactive),
		errors.Is(err, ErrTypeInUse),
		errors.Is(err, ErrCannotDeleteSystemDefault):
		return GroupStateViolation
	default:
		return GroupInternal
	}
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsHardConflict returns true for conflicts that have no override path.
func IsHardConflict(err error) bool {
	return errors.Is(err, ErrBlockedTimeConflict) ||
		errors.Is(err, ErrResourceBookingConflict) ||
		errors.Is(err, ErrReconciliationConflict)
}

/*
dto.go - Request and response bodies of the HTTP surface

PURPOSE:
  Most operations accept the service input types directly (they already
  carry JSON tags). The types here cover the bodies that have no service
  counterpart: decisions, toggles, conflict queries and error responses.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/schedule-engine/conflict"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/schedule"
)

// ErrorResponse is returned for every failed call. Code is the stable
// machine code; Details carries the structured error fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type DenyRequest struct {
	Reason string `json:"reason"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ActiveRequest struct {
	Active bool `json:"active"`
}

type YearEndRequest struct {
	Year int `json:"year"`
}

// ConflictCheckRequest mirrors conflict.Query.
type ConflictCheckRequest struct {
	Subject   conflict.Subject `json:"subject"`
	Interval  generic.Interval `json:"interval"`
	ExcludeID string           `json:"exclude_id,omitempty"`
	Kinds     []conflict.Kind  `json:"kinds,omitempty"`
}

// RecheckResponse is a request with its refreshed appointment conflicts.
type RecheckResponse struct {
	Request   *schedule.TimeOffRequest `json:"request"`
	Conflicts []conflict.Conflict      `json:"conflicts"`
}

type BookingUpdateRequest struct {
	Interval generic.Interval `json:"interval"`
}

type BlockingRequest struct {
	LocationID string           `json:"location_id"`
	Channel    string           `json:"channel"`
	Interval   generic.Interval `json:"interval"`
}

type SeedResponse struct {
	Created int `json:"created"`
}

/*
handlers.go - HTTP handlers for the schedule engine

PURPOSE:
  Exposes the in-process services over REST. Handlers parse the request,
  take the actor from context, call exactly one service operation and
  serialize the result. No business rule lives here.

ENDPOINTS:
  Catalogs:
    GET    /api/catalog/time-off-types              ?active=true
    POST   /api/catalog/time-off-types
    GET    /api/catalog/time-off-types/{id}
    PUT    /api/catalog/time-off-types/{id}
    PUT    /api/catalog/time-off-types/{id}/active
    DELETE /api/catalog/time-off-types/{id}
    (same set under /api/catalog/blocked-time-types)
    POST   /api/catalog/seed

  Staff and appointments (read inputs from other components):
    GET    /api/staff
    GET    /api/staff/{id}
    PUT    /api/staff/{id}
    GET    /api/staff/{id}/blocked-time             ?from&to
    GET    /api/staff/{id}/balances/{typeID}        ?year
    GET    /api/staff/{id}/transactions/{typeID}
    GET    /api/appointments/{id}
    PUT    /api/appointments/{id}

  Conflicts:
    POST   /api/conflicts/check

  Time off:
    GET    /api/time-off/requests                   ?staff_id&status
    POST   /api/time-off/requests
    GET    /api/time-off/requests/{id}
    POST   /api/time-off/requests/{id}/approve
    POST   /api/time-off/requests/{id}/deny
    POST   /api/time-off/requests/{id}/cancel
    POST   /api/time-off/requests/{id}/recheck
    POST   /api/time-off/adjustments
    POST   /api/time-off/year-end

  Blocked time, closures, resources:
    POST   /api/blocked-time
    GET    /api/blocked-time/{id}
    PUT    /api/blocked-time/{id}
    DELETE /api/blocked-time/{id}
    GET    /api/closures
    POST   /api/closures
    POST   /api/closures/blocking
    GET    /api/closures/{id}
    PUT    /api/closures/{id}
    DELETE /api/closures/{id}
    GET    /api/resources
    POST   /api/resources
    GET    /api/resources/{id}
    GET    /api/resources/{id}/bookings             ?from&to
    POST   /api/bookings
    GET    /api/bookings/{id}
    PUT    /api/bookings/{id}
    POST   /api/bookings/{id}/cancel

  Sync:
    POST   /api/sync/changes

ERROR HANDLING:
  Every error is an ErrorResponse with the stable code. The error group
  picks the status: 404 not found, 422 state violation, 409 conflict,
  403 authorization, 500 internal. Malformed bodies are 400 and missing
  credentials 401.

SEE ALSO:
  - dto.go: Request/response bodies
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/schedule-engine/blocked"
	"github.com/warp/schedule-engine/catalog"
	"github.com/warp/schedule-engine/closure"
	"github.com/warp/schedule-engine/conflict"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/reconcile"
	"github.com/warp/schedule-engine/resource"
	"github.com/warp/schedule-engine/schedule"
	"github.com/warp/schedule-engine/timeoff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds every service the HTTP surface delegates to.
type Handler struct {
	Store      schedule.Store
	Catalog    *catalog.Service
	Conflicts  *conflict.Engine
	TimeOff    *timeoff.Service
	Blocked    *blocked.Guard
	Resources  *resource.Guard
	Closures   *closure.Registry
	Reconciler *reconcile.Reconciler

	// Now is the clock used for defaults such as the balance year.
	Now func() time.Time
}

func (h *Handler) today() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

func (h *Handler) ListTimeOffTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Catalog.ListTimeOffTypes(r.Context(), queryBool(r, "active"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(types))
}

func (h *Handler) GetTimeOffType(w http.ResponseWriter, r *http.Request) {
	t, err := h.Catalog.GetTimeOffType(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) CreateTimeOffType(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body schedule.TimeOffType
	if !decode(w, r, &body) {
		return
	}
	t, err := h.Catalog.CreateTimeOffType(r.Context(), actor, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) UpdateTimeOffType(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body schedule.TimeOffType
	if !decode(w, r, &body) {
		return
	}
	t, err := h.Catalog.UpdateTimeOffType(r.Context(), actor, chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) SetTimeOffTypeActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body ActiveRequest
	if !decode(w, r, &body) {
		return
	}
	t, err := h.Catalog.SetTimeOffTypeActive(r.Context(), actor, chi.URLParam(r, "id"), body.Active)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) DeleteTimeOffType(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.Catalog.DeleteTimeOffType(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListBlockedTimeTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Catalog.ListBlockedTimeTypes(r.Context(), queryBool(r, "active"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(types))
}

func (h *Handler) GetBlockedTimeType(w http.ResponseWriter, r *http.Request) {
	t, err := h.Catalog.GetBlockedTimeType(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) CreateBlockedTimeType(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body schedule.BlockedTimeType
	if !decode(w, r, &body) {
		return
	}
	t, err := h.Catalog.CreateBlockedTimeType(r.Context(), actor, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) UpdateBlockedTimeType(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body schedule.BlockedTimeType
	if !decode(w, r, &body) {
		return
	}
	t, err := h.Catalog.UpdateBlockedTimeType(r.Context(), actor, chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) SetBlockedTimeTypeActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body ActiveRequest
	if !decode(w, r, &body) {
		return
	}
	t, err := h.Catalog.SetBlockedTimeTypeActive(r.Context(), actor, chi.URLParam(r, "id"), body.Active)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) DeleteBlockedTimeType(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.Catalog.DeleteBlockedTimeType(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SeedCatalogs inserts the default types that are missing. Managers only.
func (h *Handler) SeedCatalogs(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsManager() {
		writeError(w, r, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "seed catalogs"})
		return
	}
	n, err := h.Catalog.Seed(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SeedResponse{Created: n})
}

// =============================================================================
// STAFF + APPOINTMENT HANDLERS
// =============================================================================

func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.Store.ListStaff(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(staff))
}

func (h *Handler) GetStaff(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.GetStaff(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// PutStaff records a staff directory entry. The directory is owned by
// another component; managers push its records here.
func (h *Handler) PutStaff(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsManager() {
		writeError(w, r, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "manage staff"})
		return
	}
	var body schedule.StaffMember
	if !decode(w, r, &body) {
		return
	}
	body.ID = chi.URLParam(r, "id")
	h.applyLocal(w, r, actor, schedule.KindStaff, body)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Store.GetAppointment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// PutAppointment stores an appointment from the booking component and
// answers with the time off, blocked time and closures it overlaps.
func (h *Handler) PutAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body schedule.Appointment
	if !decode(w, r, &body) {
		return
	}
	body.ID = chi.URLParam(r, "id")
	if !actor.CanActFor(body.StaffID) {
		writeError(w, r, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "book appointments for " + body.StaffID})
		return
	}
	// reassigning an existing appointment needs rights over its current owner too
	cur, err := h.Store.GetAppointment(r.Context(), body.ID)
	switch {
	case err == nil:
		if !actor.CanActFor(cur.StaffID) {
			writeError(w, r, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "change appointments of " + cur.StaffID})
			return
		}
	case !generic.IsNotFound(err):
		writeError(w, r, err)
		return
	}
	if body.UpdatedAt.IsZero() {
		body.UpdatedAt = h.today().UTC()
	}
	h.applyLocal(w, r, actor, schedule.KindAppointment, body)
}

// applyLocal runs a locally submitted entity through the reconciler so it
// gets the same validation as a replicated one.
func (h *Handler) applyLocal(w http.ResponseWriter, r *http.Request, actor schedule.Actor, kind schedule.EntityKind, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}
	res, err := h.Reconciler.Apply(r.Context(), reconcile.Change{
		Kind: kind, Op: reconcile.OpUpsert, DeviceID: actor.DeviceID, Payload: payload,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListStaffBlockedTime(w http.ResponseWriter, r *http.Request) {
	from, ok := queryDate(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryDate(w, r, "to")
	if !ok {
		return
	}
	entries, err := h.Blocked.List(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(entries))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	year, ok := queryInt(w, r, "year", h.today().Year())
	if !ok {
		return
	}
	view, err := h.TimeOff.Balance(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "typeID"), year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.TimeOff.Transactions(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "typeID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(txs))
}

// =============================================================================
// CONFLICT HANDLERS
// =============================================================================

func (h *Handler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	var body ConflictCheckRequest
	if !decode(w, r, &body) {
		return
	}
	set, err := h.Conflicts.Check(r.Context(), conflict.Query{
		Subject:   body.Subject,
		Interval:  body.Interval,
		ExcludeID: body.ExcludeID,
		Kinds:     body.Kinds,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if set.Conflicts == nil {
		set.Conflicts = []conflict.Conflict{}
	}
	writeJSON(w, http.StatusOK, set)
}

// =============================================================================
// TIME-OFF HANDLERS
// =============================================================================

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reqs, err := h.TimeOff.List(r.Context(), schedule.RequestFilter{
		StaffID: q.Get("staff_id"),
		Status:  schedule.RequestStatus(q.Get("status")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(reqs))
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.TimeOff.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body timeoff.SubmitInput
	if !decode(w, r, &body) {
		return
	}
	req, err := h.TimeOff.Submit(r.Context(), actor, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body timeoff.ApproveOptions
	if !decode(w, r, &body) {
		return
	}
	req, err := h.TimeOff.Approve(r.Context(), actor, chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) DenyRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body DenyRequest
	if !decode(w, r, &body) {
		return
	}
	req, err := h.TimeOff.Deny(r.Context(), actor, chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body CancelRequest
	if !decode(w, r, &body) {
		return
	}
	req, err := h.TimeOff.Cancel(r.Context(), actor, chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) RecheckRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	req, set, err := h.TimeOff.Recheck(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RecheckResponse{Request: req, Conflicts: orEmpty(set.Conflicts)})
}

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body timeoff.AdjustInput
	if !decode(w, r, &body) {
		return
	}
	tx, err := h.TimeOff.Adjust(r.Context(), actor, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) RunYearEnd(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body YearEndRequest
	if !decode(w, r, &body) {
		return
	}
	if body.Year == 0 {
		body.Year = h.today().Year() - 1
	}
	report, err := h.TimeOff.RunYearEnd(r.Context(), actor, body.Year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// BLOCKED TIME HANDLERS
// =============================================================================

func (h *Handler) CreateBlockedTime(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body blocked.Input
	if !decode(w, r, &body) {
		return
	}
	e, err := h.Blocked.Create(r.Context(), actor, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) GetBlockedTime(w http.ResponseWriter, r *http.Request) {
	e, err := h.Blocked.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) UpdateBlockedTime(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body blocked.Input
	if !decode(w, r, &body) {
		return
	}
	e, err := h.Blocked.Update(r.Context(), actor, chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) DeleteBlockedTime(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.Blocked.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CLOSURE HANDLERS
// =============================================================================

func (h *Handler) ListClosures(w http.ResponseWriter, r *http.Request) {
	closures, err := h.Closures.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(closures))
}

func (h *Handler) GetClosure(w http.ResponseWriter, r *http.Request) {
	c, err := h.Closures.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) CreateClosure(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body schedule.ClosedPeriod
	if !decode(w, r, &body) {
		return
	}
	c, err := h.Closures.Create(r.Context(), actor, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) UpdateClosure(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body schedule.ClosedPeriod
	if !decode(w, r, &body) {
		return
	}
	c, err := h.Closures.Update(r.Context(), actor, chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteClosure(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.Closures.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BlockingClosures answers the booking component: which closures stop a
// booking at this location, on this channel, in this interval.
func (h *Handler) BlockingClosures(w http.ResponseWriter, r *http.Request) {
	var body BlockingRequest
	if !decode(w, r, &body) {
		return
	}
	channel, err := closure.ParseChannel(body.Channel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	closures, err := h.Closures.Blocking(r.Context(), body.LocationID, body.Interval, channel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(closures))
}

// =============================================================================
// RESOURCE HANDLERS
// =============================================================================

func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	res, err := h.Resources.ListResources(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(res))
}

func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	res, err := h.Resources.GetResource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body schedule.Resource
	if !decode(w, r, &body) {
		return
	}
	res, err := h.Resources.CreateResource(r.Context(), actor, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) ListResourceBookings(w http.ResponseWriter, r *http.Request) {
	from, ok := queryDate(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryDate(w, r, "to")
	if !ok {
		return
	}
	bookings, err := h.Resources.ListBookings(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(bookings))
}

func (h *Handler) BookResource(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body resource.BookInput
	if !decode(w, r, &body) {
		return
	}
	b, err := h.Resources.Book(r.Context(), actor, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Resources.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body BookingUpdateRequest
	if !decode(w, r, &body) {
		return
	}
	b, err := h.Resources.UpdateBooking(r.Context(), actor, chi.URLParam(r, "id"), body.Interval)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	b, err := h.Resources.CancelBooking(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// =============================================================================
// SYNC HANDLERS
// =============================================================================

// ApplyChange is the HTTP twin of the AMQP sync consumer. Replicated
// changes carry decisions already taken, so only managers may push them.
func (h *Handler) ApplyChange(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsManager() {
		writeError(w, r, &generic.UnauthorizedScheduleError{ActorID: actor.ID, Action: "push sync changes"})
		return
	}
	var body reconcile.Change
	if !decode(w, r, &body) {
		return
	}
	if body.DeviceID == "" {
		body.DeviceID = actor.DeviceID
	}
	res, err := h.Reconciler.Apply(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// orEmpty keeps empty lists rendering as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/warp/schedule-engine/auth"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/logging"
	"github.com/warp/schedule-engine/schedule"
)

// =============================================================================
// RESPONSES
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an error group onto an HTTP status.
func statusFor(g generic.Group) int {
	switch g {
	case generic.GroupNotFound:
		return http.StatusNotFound
	case generic.GroupStateViolation:
		return http.StatusUnprocessableEntity
	case generic.GroupConflict:
		return http.StatusConflict
	case generic.GroupAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as an ErrorResponse. Internal errors are logged and
// reported without their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	group := generic.GroupOf(err)
	status := statusFor(group)
	resp := ErrorResponse{Error: err.Error(), Code: generic.CodeOf(err)}

	var coded generic.Coded
	if errors.As(err, &coded) {
		resp.Details = coded
	}
	if group == generic.GroupInternal {
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
		resp = ErrorResponse{Error: "internal error", Code: "INTERNAL"}
	}
	writeJSON(w, status, resp)
}

func writeBadRequest(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "BAD_REQUEST"}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

// rejectToken is handed to auth.Middleware for unusable credentials.
func rejectToken(w http.ResponseWriter, _ *http.Request, err error) {
	writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error(), Code: "UNAUTHENTICATED"})
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "Invalid request body", err)
		return false
	}
	return true
}

// requireActor returns the authenticated actor or answers 401.
func requireActor(w http.ResponseWriter, r *http.Request) (schedule.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication required", Code: "UNAUTHENTICATED"})
		return schedule.Actor{}, false
	}
	return actor, true
}

func queryDate(w http.ResponseWriter, r *http.Request, name string) (generic.Date, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeError(w, r, generic.Invalid(name, "required"))
		return generic.Date{}, false
	}
	d, err := generic.ParseDate(raw)
	if err != nil {
		writeError(w, r, generic.Invalid(name, err.Error()))
		return generic.Date{}, false
	}
	return d, true
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, generic.Invalid(name, fmt.Sprintf("not a number: %q", raw)))
		return 0, false
	}
	return n, true
}

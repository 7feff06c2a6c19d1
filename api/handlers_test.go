package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/schedule-engine/api"
	"github.com/warp/schedule-engine/auth"
	"github.com/warp/schedule-engine/blocked"
	"github.com/warp/schedule-engine/catalog"
	"github.com/warp/schedule-engine/closure"
	"github.com/warp/schedule-engine/conflict"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/logging"
	"github.com/warp/schedule-engine/metrics"
	"github.com/warp/schedule-engine/reconcile"
	"github.com/warp/schedule-engine/resource"
	"github.com/warp/schedule-engine/schedule"
	"github.com/warp/schedule-engine/store/memory"
	"github.com/warp/schedule-engine/timeoff"
)

var mar1 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type testServer struct {
	*httptest.Server
	store  *memory.Store
	issuer *auth.Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	_, err := catalog.Seed(ctx, store, mar1)
	require.NoError(t, err)
	hired := generic.MustDate("2025-01-01")
	require.NoError(t, store.SaveStaff(ctx, schedule.StaffMember{ID: "s1", Name: "Sam", LocationID: "downtown", HiredOn: &hired, IsActive: true}))

	now := func() time.Time { return mar1 }
	n := 0
	ids := func() string { n++; return fmt.Sprintf("id-%d", n) }
	locks := generic.NewKeyedMutex()
	engine := conflict.NewEngine(store)
	bg := blocked.NewGuard(store, engine, blocked.WithLocks(locks), blocked.WithClock(now), blocked.WithIDs(ids))
	rg := resource.NewGuard(store, engine, resource.WithLocks(locks), resource.WithClock(now), resource.WithIDs(ids))
	m := metrics.New("test")

	h := &api.Handler{
		Store:      store,
		Catalog:    catalog.NewService(store, catalog.WithClock(now), catalog.WithIDs(ids)),
		Conflicts:  engine,
		TimeOff:    timeoff.NewService(store, engine, timeoff.WithLocks(locks), timeoff.WithClock(now), timeoff.WithIDs(ids)),
		Blocked:    bg,
		Resources:  rg,
		Closures:   closure.NewRegistry(store, closure.WithClock(now), closure.WithIDs(ids)),
		Reconciler: reconcile.NewReconciler(store, engine, bg, rg, reconcile.WithLocks(locks)),
		Now:        now,
	}
	issuer := auth.NewIssuer("secret", "schedule-engine", time.Hour).WithClock(now)
	srv := httptest.NewServer(api.NewRouter(h, api.Options{
		Issuer: issuer, AllowHeaderActor: true, Metrics: m, Logger: logging.Discard(),
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, issuer: issuer}
}

// do sends body as JSON with the actor's headers. An empty actorID sends
// no credentials.
func (s *testServer) do(t *testing.T, method, path, actorID, role, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actorID != "" {
		req.Header.Set(auth.HeaderActorID, actorID)
		req.Header.Set(auth.HeaderActorRole, role)
		req.Header.Set(auth.HeaderDeviceID, "test-device")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

const mondayAllDay = `{"start_date":"2025-03-10","end_date":"2025-03-10","is_all_day":true}`

func TestTimeOffWorkflowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: Sam files one vacation day
	resp, body := s.do(t, http.MethodPost, "/api/time-off/requests", "s1", "staff",
		`{"staff_id":"s1","type_id":"tot_vacation","interval":`+mondayAllDay+`}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "pending", body["status"])
	id := body["id"].(string)

	// WHEN: Sam tries to approve it
	resp, body = s.do(t, http.MethodPost, "/api/time-off/requests/"+id+"/approve", "s1", "staff", `{}`)

	// THEN: Authorization fails
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED_SCHEDULE", body["code"])

	// WHEN: A manager approves it
	resp, body = s.do(t, http.MethodPost, "/api/time-off/requests/"+id+"/approve", "mgr-1", "manager", `{"notes":"enjoy"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "approved", body["status"])

	// THEN: A second decision is a state violation
	resp, body = s.do(t, http.MethodPost, "/api/time-off/requests/"+id+"/deny", "mgr-1", "manager", `{"reason":"changed my mind"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "REQUEST_NOT_PENDING", body["code"])
	require.NotNil(t, body["details"])

	// AND: The balance shows the debit
	resp, body = s.do(t, http.MethodGet, "/api/staff/s1/balances/tot_vacation?year=2025", "", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "tot_vacation", body["type_id"])
}

func TestBlockedTimeConflictIs409(t *testing.T) {
	s := newTestServer(t)
	lunch := `{"staff_id":"s1","type_id":"btt_lunch","interval":{"start_date":"2025-03-03","end_date":"2025-03-03","start_time":"12:30","end_time":"13:30"}}`
	meeting := `{"staff_id":"s1","type_id":"btt_meeting","interval":{"start_date":"2025-03-03","end_date":"2025-03-03","start_time":"12:00","end_time":"13:00"}}`

	resp, body := s.do(t, http.MethodPost, "/api/blocked-time", "s1", "staff", lunch)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	resp, body = s.do(t, http.MethodPost, "/api/blocked-time", "s1", "staff", meeting)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "BLOCKED_TIME_CONFLICT", body["code"])
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		actor      string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing actor", http.MethodPost, "/api/time-off/requests", "", `{}`, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"unknown request", http.MethodGet, "/api/time-off/requests/nope", "", "", http.StatusNotFound, "REQUEST_NOT_FOUND"},
		{"malformed body", http.MethodPost, "/api/blocked-time", "s1", `{"staff_id":`, http.StatusBadRequest, "BAD_REQUEST"},
		{"bad date query", http.MethodGet, "/api/staff/s1/blocked-time?from=x&to=2025-03-01", "", "", http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
		{"system default delete", http.MethodDelete, "/api/catalog/blocked-time-types/btt_lunch", "mgr-1", "", http.StatusUnprocessableEntity, "CANNOT_DELETE_DEFAULT_BLOCKED_TIME_TYPE"},
		{"unknown channel", http.MethodPost, "/api/closures/blocking", "", `{"channel":"fax"}`, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
		{"unknown conflict kind", http.MethodPost, "/api/conflicts/check", "",
			`{"subject":{"staff_id":"s1"},"interval":` + mondayAllDay + `,"kinds":["appointments"]}`, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role := "staff"
			if tt.actor == "mgr-1" {
				role = "manager"
			}
			resp, body := s.do(t, tt.method, tt.path, tt.actor, role, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, body["code"])
		})
	}
}

func TestBearerToken(t *testing.T) {
	s := newTestServer(t)
	token, err := s.issuer.Issue(schedule.Actor{ID: "mgr-1", Role: schedule.RoleManager, DeviceID: "tablet"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/resources", strings.NewReader(`{"name":"Room 1","kind":"room"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPost, s.URL+"/api/resources", strings.NewReader(`{"name":"Room 2"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer garbage")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestAppointmentUpsertReportsAdvisoryConflicts(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: Sam has approved sick leave on Monday
	resp, body := s.do(t, http.MethodPost, "/api/time-off/requests", "s1", "staff",
		`{"staff_id":"s1","type_id":"tot_sick","interval":`+mondayAllDay+`}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	require.Equal(t, "approved", body["status"])

	// WHEN: The booking component pushes an appointment that day
	resp, body = s.do(t, http.MethodPut, "/api/appointments/a1", "mgr-1", "manager",
		`{"staff_id":"s1","status":"scheduled","interval":{"start_date":"2025-03-10","end_date":"2025-03-10","start_time":"10:00","end_time":"11:00"}}`)

	// THEN: It is stored and the time off is reported
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "a1", body["entity_id"])
	conflicts, ok := body["conflicts"].([]any)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "time_off", conflicts[0].(map[string]any)["kind"])

	_, err := s.store.GetAppointment(context.Background(), "a1")
	assert.NoError(t, err)

	// AND: Another staff member cannot take it over by reusing its ID
	resp, body = s.do(t, http.MethodPut, "/api/appointments/a1", "s2", "staff",
		`{"staff_id":"s2","status":"scheduled","interval":{"start_date":"2025-03-11","end_date":"2025-03-11","start_time":"10:00","end_time":"11:00"}}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED_SCHEDULE", body["code"])
	a, err := s.store.GetAppointment(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "s1", a.StaffID)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	req, err := http.NewRequest(http.MethodGet, s.URL+"/metrics", nil)
	require.NoError(t, err)
	mresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer mresp.Body.Close()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)
}

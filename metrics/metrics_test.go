package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveConflictCheck(time.Millisecond, []string{"appointment"})
		m.Transition("approved")
		m.LedgerEntry("consumption")
		m.Reconciled("applied")
		m.ObserveHTTP("GET", "/x", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}

func TestObserveConflictCheck(t *testing.T) {
	m := New("test")

	m.ObserveConflictCheck(time.Millisecond, nil)
	m.ObserveConflictCheck(time.Millisecond, []string{"appointment", "appointment", "closure"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflictChecks.WithLabelValues("clear")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflictChecks.WithLabelValues("conflict")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.conflictsFound.WithLabelValues("appointment")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflictsFound.WithLabelValues("closure")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New("sched")
	m.Transition("approved")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sched_timeoff_transitions_total{to="approved"} 1`)
}

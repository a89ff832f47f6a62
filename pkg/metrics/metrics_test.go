package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Outcomes(t *testing.T) {
	r := NewRecorder(nil)

	r.LaunchOutcome("launched")
	r.LaunchOutcome("launched")
	r.LaunchOutcome("conflict")
	r.TerminateOutcome("terminated")

	assert.InDelta(t, 2, testutil.ToFloat64(r.launches.WithLabelValues("launched")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.launches.WithLabelValues("conflict")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.terminations.WithLabelValues("terminated")), 0)
}

func TestRecorder_OrchestratorCall(t *testing.T) {
	r := NewRecorder(nil)

	r.OrchestratorCall("start", 150*time.Millisecond, nil)
	r.OrchestratorCall("stop", 10*time.Millisecond, errors.New("throttled"))

	assert.InDelta(t, 0, testutil.ToFloat64(r.orchErrors.WithLabelValues("start")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.orchErrors.WithLabelValues("stop")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(r.orchSeconds))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder(nil)
	r.LaunchOutcome("launched")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bootcamp_sessions_launches_total{outcome="launched"} 1`)
}

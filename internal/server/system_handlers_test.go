package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flipwatch/engine/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (j *stubJob) Run() error {
	j.runs++
	return j.err
}

func (j *stubJob) Name() string {
	return j.name
}

func newTestServer(t *testing.T) (*Server, *SystemHandlers, *scheduler.Scheduler) {
	t.Helper()

	log := zerolog.New(nil).Level(zerolog.Disabled)
	sched := scheduler.New(log)
	system := NewSystemHandlers(log, nil, nil, sched, nil)

	srv := New(Config{
		Port:   8080,
		Log:    log,
		System: system,
	})

	return srv, system, sched
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.NotEmpty(t, response.Timestamp)
}

func TestHandleJobsStatus(t *testing.T) {
	srv, _, sched := newTestServer(t)
	require.NoError(t, sched.AddJob("0 * * * * *", &stubJob{name: "alert_sweep"}))
	require.NoError(t, sched.AddJob("0 */5 * * * *", &stubJob{name: "sync_cycle"}))

	req := httptest.NewRequest("GET", "/api/system/jobs", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response JobsStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 2, response.TotalJobs)
	require.Len(t, response.Jobs, 2)
	assert.Equal(t, "alert_sweep", response.Jobs[0].Name)
	assert.Equal(t, "idle", response.Jobs[0].Status)
	assert.Equal(t, "0 */5 * * * *", response.Jobs[1].Schedule)
}

func TestHandleTriggerSyncCycle(t *testing.T) {
	srv, system, sched := newTestServer(t)

	job := &stubJob{name: "sync_cycle"}
	require.NoError(t, sched.AddJob("0 */5 * * * *", job))
	system.SetJobs(job, nil)

	req := httptest.NewRequest("POST", "/api/system/jobs/sync-cycle", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, job.runs)

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "success", response["status"])
}

func TestHandleTriggerSyncCycle_FailedJobReports500(t *testing.T) {
	srv, system, sched := newTestServer(t)

	job := &stubJob{name: "sync_cycle", err: errors.New("upstream down")}
	require.NoError(t, sched.AddJob("0 */5 * * * *", job))
	system.SetJobs(job, nil)

	req := httptest.NewRequest("POST", "/api/system/jobs/sync-cycle", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "error", response["status"])
	assert.Contains(t, response["message"], "upstream down")
}

func TestHandleTriggerMaintenance_UnregisteredJobReports503(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/system/jobs/maintenance", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTriggerEndpointsRejectGet(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/system/jobs/sync-cycle", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

package scheduler

import (
	"errors"
	"testing"

	"github.com/flipwatch/engine/pkg/logger"
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

func newTestScheduler() *Scheduler {
	return New(logger.New(logger.Config{Level: "error", Pretty: false}))
}

func TestAddJob_RegistersIdleJob(t *testing.T) {
	s := newTestScheduler()
	job := &stubJob{name: "tick"}

	require.NoError(t, s.AddJob("0 */5 * * * *", job))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "tick", jobs[0].Name)
	assert.Equal(t, "0 */5 * * * *", jobs[0].Schedule)
	assert.Equal(t, "idle", jobs[0].Status)
	assert.Nil(t, jobs[0].LastRun)
	assert.Empty(t, jobs[0].LastError)
}

func TestAddJob_RejectsInvalidSchedule(t *testing.T) {
	s := newTestScheduler()

	err := s.AddJob("not a schedule", &stubJob{name: "tick"})
	assert.Error(t, err)
	assert.Empty(t, s.Jobs())
}

func TestRunNow_RecordsOutcome(t *testing.T) {
	s := newTestScheduler()

	ok := &stubJob{name: "ok_job"}
	failing := &stubJob{name: "failing_job", err: errors.New("boom")}
	require.NoError(t, s.AddJob("@daily", ok))
	require.NoError(t, s.AddJob("@daily", failing))

	require.NoError(t, s.RunNow(ok))
	assert.Equal(t, 1, ok.runs)

	err := s.RunNow(failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing_job")
	assert.Contains(t, err.Error(), "boom")

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "ok", jobs[0].Status)
	require.NotNil(t, jobs[0].LastRun)
	assert.Equal(t, "failed", jobs[1].Status)
	assert.Equal(t, "boom", jobs[1].LastError)
}

func TestRunNow_RecoveryClearsLastError(t *testing.T) {
	s := newTestScheduler()

	job := &stubJob{name: "flaky", err: errors.New("transient")}
	require.NoError(t, s.AddJob("@daily", job))

	require.Error(t, s.RunNow(job))

	job.err = nil
	require.NoError(t, s.RunNow(job))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "ok", jobs[0].Status)
	assert.Empty(t, jobs[0].LastError)
}

func TestRunNow_UnregisteredJobStillRuns(t *testing.T) {
	s := newTestScheduler()
	job := &stubJob{name: "adhoc", err: errors.New("nope")}

	err := s.RunNow(job)
	assert.Error(t, err)
	assert.Equal(t, 1, job.runs)
	assert.Empty(t, s.Jobs())
}

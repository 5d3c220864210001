package jobdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/sjfscheduler/internal/scheduler/schedulerobjects"
)

var baseTime = time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)

func testJob(id string, state JobState, dependencies ...string) *Job {
	return &Job{
		Id:           id,
		Name:         "job-" + id,
		User:         "alice",
		Submitted:    baseTime,
		Resources:    schedulerobjects.ResourceList{},
		State:        state,
		Dependencies: dependencies,
	}
}

func ids(jobs []*Job) []string {
	rv := make([]string, len(jobs))
	for i, job := range jobs {
		rv[i] = job.Id
	}
	return rv
}

func TestJobDb_UpsertAndGet(t *testing.T) {
	jobDb, err := NewJobDb()
	require.NoError(t, err)

	txn := jobDb.WriteTxn()
	require.NoError(t, jobDb.Upsert(txn, []*Job{testJob("b", JobPending), testJob("a", JobRunning)}))

	// Uncommitted changes are not visible to other transactions.
	job, err := jobDb.GetById(jobDb.ReadTxn(), "a")
	require.NoError(t, err)
	assert.Nil(t, job)

	txn.Commit()

	job, err = jobDb.GetById(jobDb.ReadTxn(), "a")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobRunning, job.State)

	all, err := jobDb.GetAll(jobDb.ReadTxn())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(all))

	pending, err := jobDb.GetByState(jobDb.ReadTxn(), JobPending)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(pending))
}

func TestJobDb_AbortDiscardsChanges(t *testing.T) {
	jobDb, err := NewJobDb()
	require.NoError(t, err)

	txn := jobDb.WriteTxn()
	require.NoError(t, jobDb.Upsert(txn, []*Job{testJob("a", JobPending)}))
	txn.Abort()

	all, err := jobDb.GetAll(jobDb.ReadTxn())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestJobDb_EligiblePending(t *testing.T) {
	tests := map[string]struct {
		jobs     []*Job
		expected []string
	}{
		"no jobs": {
			expected: []string{},
		},
		"only pending jobs are eligible": {
			jobs: []*Job{
				testJob("a", JobPending),
				testJob("b", JobHeld),
				testJob("c", JobRunning),
				testJob("d", JobCompleted),
			},
			expected: []string{"a"},
		},
		"completed dependency": {
			jobs: []*Job{
				testJob("a", JobCompleted),
				testJob("b", JobPending, "a"),
			},
			expected: []string{"b"},
		},
		"running dependency": {
			jobs: []*Job{
				testJob("a", JobRunning),
				testJob("b", JobPending, "a"),
			},
			expected: []string{},
		},
		"failed dependency": {
			jobs: []*Job{
				testJob("a", JobFailed),
				testJob("b", JobPending, "a"),
			},
			expected: []string{},
		},
		"unknown dependency": {
			jobs: []*Job{
				testJob("b", JobPending, "missing"),
			},
			expected: []string{},
		},
		"one of several dependencies unsatisfied": {
			jobs: []*Job{
				testJob("a", JobCompleted),
				testJob("b", JobPending),
				testJob("c", JobPending, "a", "b"),
			},
			expected: []string{"b"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			jobDb, err := NewJobDb()
			require.NoError(t, err)
			txn := jobDb.WriteTxn()
			require.NoError(t, jobDb.Upsert(txn, tc.jobs))
			txn.Commit()

			eligible, err := jobDb.EligiblePending(jobDb.ReadTxn())
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ids(eligible))
		})
	}
}

func TestJobDb_MarkAdmitted(t *testing.T) {
	jobDb, err := NewJobDb()
	require.NoError(t, err)
	txn := jobDb.WriteTxn()
	require.NoError(t, jobDb.Upsert(txn, []*Job{testJob("a", JobPending), testJob("b", JobHeld)}))
	txn.Commit()

	now := baseTime.Add(time.Minute)
	txn = jobDb.WriteTxn()
	admitted, err := jobDb.MarkAdmitted(txn, "a", "node-1", now)
	require.NoError(t, err)
	assert.Equal(t, JobRunning, admitted.State)
	assert.Equal(t, "node-1", admitted.Node)
	assert.Equal(t, now, admitted.Started)

	_, err = jobDb.MarkAdmitted(txn, "a", "node-2", now)
	assert.ErrorIs(t, err, ErrJobNotPending)
	_, err = jobDb.MarkAdmitted(txn, "b", "node-1", now)
	assert.ErrorIs(t, err, ErrJobNotPending)
	_, err = jobDb.MarkAdmitted(txn, "missing", "node-1", now)
	assert.ErrorIs(t, err, ErrJobNotFound)
	txn.Commit()

	job, err := jobDb.GetById(jobDb.ReadTxn(), "a")
	require.NoError(t, err)
	assert.Equal(t, "node-1", job.Node)

	eligible, err := jobDb.EligiblePending(jobDb.ReadTxn())
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestJob_ExpectedRuntime(t *testing.T) {
	job := testJob("a", JobPending)
	_, ok := job.ExpectedRuntime()
	assert.False(t, ok)

	job = job.WithHistoricalEstimate(5 * time.Minute)
	runtime, ok := job.ExpectedRuntime()
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, runtime)

	job.TimeLimit = 2 * time.Minute
	runtime, ok = job.ExpectedRuntime()
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, runtime)
}

func TestJob_DeepCopy(t *testing.T) {
	job := testJob("a", JobPending, "x")
	job.Resources, _ = schedulerobjects.ResourceListFromStrings(map[string]string{"cpu": "1"})

	copied := job.DeepCopy()
	copied.Dependencies[0] = "y"
	copied.Resources.Add(job.Resources)

	assert.Equal(t, []string{"x"}, job.Dependencies)
	assert.Equal(t, "{cpu: 1}", job.Resources.CompactString())
	assert.Nil(t, (*Job)(nil).DeepCopy())
}

package jobdb

import (
	"time"

	"golang.org/x/exp/slices"

	"github.com/armadaproject/sjfscheduler/internal/scheduler/schedulerobjects"
)

type JobState string

const (
	JobPending   JobState = "pending"
	JobHeld      JobState = "held"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal returns true if a job in this state will never run again.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is the scheduler-internal representation of a job.
// Jobs stored in the JobDb must not be modified in-place; use DeepCopy or one of the With methods
// to obtain a modified copy and upsert that instead.
type Job struct {
	// Unique id of the job.
	Id string
	// Job name as given by the submitter. Together with User, identifies similar jobs for runtime estimation.
	Name string
	// User that submitted the job.
	User string
	// Partition the job should run in. Empty means the default partition.
	Partition string
	// Time at which the job was submitted.
	Submitted time.Time
	// Resources requested by the job.
	Resources schedulerobjects.ResourceList
	// User-supplied limit on the run time of the job. Zero if not set.
	TimeLimit time.Duration
	// Mean run time of previous jobs with the same user and name. Zero if there is no history.
	HistoricalEstimate time.Duration
	// Ids of jobs that must have completed before this job may start.
	Dependencies []string
	// Name of the burst buffer the job stages data into. Empty if the job doesn't use one.
	BurstBuffer string
	State       JobState
	// Node the job was admitted onto. Empty until the job has been admitted.
	Node string
	// Set when the job is admitted.
	Started time.Time
	// Set when the job reaches a terminal state.
	Finished time.Time
	// Serial of the most recent update to this job in the job repository.
	Serial int64
}

// ExpectedRuntime returns how long the job is expected to run for: the time limit if one was given,
// otherwise the historical estimate. The second return value is false if neither is available.
func (job *Job) ExpectedRuntime() (time.Duration, bool) {
	if job.TimeLimit > 0 {
		return job.TimeLimit, true
	}
	if job.HistoricalEstimate > 0 {
		return job.HistoricalEstimate, true
	}
	return 0, false
}

// EstimateKey identifies jobs considered similar for the purpose of runtime estimation.
func (job *Job) EstimateKey() string {
	return job.User + "/" + job.Name
}

// DeepCopy returns a copy of the job that shares no mutable state with the original.
func (job *Job) DeepCopy() *Job {
	if job == nil {
		return nil
	}
	rv := *job
	rv.Resources = job.Resources.DeepCopy()
	rv.Dependencies = slices.Clone(job.Dependencies)
	return &rv
}

// WithAdmitted returns a copy of the job transitioned to running on the given node.
func (job *Job) WithAdmitted(node string, now time.Time) *Job {
	rv := job.DeepCopy()
	rv.State = JobRunning
	rv.Node = node
	rv.Started = now
	return rv
}

// WithSerial returns a copy of the job with the repository serial set.
func (job *Job) WithSerial(serial int64) *Job {
	rv := job.DeepCopy()
	rv.Serial = serial
	return rv
}

// WithHistoricalEstimate returns a copy of the job with the historical estimate set.
func (job *Job) WithHistoricalEstimate(estimate time.Duration) *Job {
	rv := job.DeepCopy()
	rv.HistoricalEstimate = estimate
	return rv
}

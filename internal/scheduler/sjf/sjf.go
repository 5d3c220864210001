package sjf

import (
	"math"
	"time"

	"golang.org/x/exp/slices"

	"github.com/armadaproject/sjfscheduler/internal/scheduler/jobdb"
)

// UnknownRuntime is the sort key of jobs with neither a time limit nor a historical estimate.
const UnknownRuntime = time.Duration(math.MaxInt64)

// JobRuntimeComparer orders jobs shortest-job-first.
type JobRuntimeComparer struct{}

func (JobRuntimeComparer) Compare(job, other *jobdb.Job) int {
	return Compare(job, other)
}

// SortKey returns the runtime jobs are ordered by.
func SortKey(job *jobdb.Job) time.Duration {
	if runtime, ok := job.ExpectedRuntime(); ok {
		return runtime
	}
	return UnknownRuntime
}

// Compare defines the order in which pending jobs are considered for admission.
// Specifically, compare returns
//   - 0 if the jobs have equal job id,
//   - -1 if job should be considered before other,
//   - +1 if other should be considered before job.
//
// Jobs with a shorter expected runtime come first, then jobs submitted earlier, then jobs with a lexicographically
// smaller id. Jobs without a runtime estimate come after all jobs with one, regardless of submission time.
func Compare(job, other *jobdb.Job) int {
	if job.Id == other.Id {
		return 0
	}

	jobRuntime := SortKey(job)
	otherRuntime := SortKey(other)
	if jobRuntime < otherRuntime {
		return -1
	} else if jobRuntime > otherRuntime {
		return 1
	}

	if job.Submitted.Before(other.Submitted) {
		return -1
	} else if other.Submitted.Before(job.Submitted) {
		return 1
	}

	if job.Id < other.Id {
		return -1
	}
	return 1
}

// Sort orders jobs in place shortest-job-first.
func Sort(jobs []*jobdb.Job) {
	slices.SortFunc(jobs, Compare)
}

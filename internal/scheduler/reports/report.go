package reports

import (
	"fmt"
	"strings"
	"time"

	"github.com/armadaproject/sjfscheduler/internal/common/util"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/jobdb"
)

// Outcome is what happened to a job in a scheduling pass.
type Outcome string

const (
	Admitted Outcome = "admitted"
	// The job's footprint didn't fit on any node of its partition.
	NoFit Outcome = "no_fit"
	// The job fit, but was vetoed by a reservation or burst buffer.
	Vetoed Outcome = "vetoed"
	// Admitting the job failed, aborting the pass.
	Failed Outcome = "failed"
	// The pass was aborted before reaching the job.
	NotConsidered Outcome = "not_considered"
)

// JobDecision records how a single job was handled in a pass.
type JobDecision struct {
	JobId     string
	User      string
	Name      string
	Partition string
	Submitted time.Time
	// Runtime the job was ordered by, if known.
	ExpectedRuntime time.Duration
	RuntimeKnown    bool
	Outcome         Outcome
	Reason          string
	// Node the job was admitted onto.
	Node string
}

func NewJobDecision(job *jobdb.Job) *JobDecision {
	runtime, known := job.ExpectedRuntime()
	return &JobDecision{
		JobId:           job.Id,
		User:            job.User,
		Name:            job.Name,
		Partition:       job.Partition,
		Submitted:       job.Submitted,
		ExpectedRuntime: runtime,
		RuntimeKnown:    known,
		Outcome:         NotConsidered,
	}
}

func (d *JobDecision) runtimeString() string {
	if !d.RuntimeKnown {
		return "unknown"
	}
	return d.ExpectedRuntime.String()
}

func (d *JobDecision) String() string {
	sb := util.NewTabbedStringBuilder(1, 1, 1, ' ', 0)
	sb.Writef("Job:\t%s\n", d.JobId)
	sb.Writef("User:\t%s\n", d.User)
	sb.Writef("Name:\t%s\n", d.Name)
	sb.Writef("Submitted:\t%s\n", d.Submitted.Format(time.RFC3339))
	sb.Writef("Expected runtime:\t%s\n", d.runtimeString())
	sb.Writef("Outcome:\t%s\n", d.Outcome)
	if d.Reason != "" {
		sb.Writef("Reason:\t%s\n", d.Reason)
	}
	if d.Node != "" {
		sb.Writef("Node:\t%s\n", d.Node)
	}
	return sb.String()
}

// PassReport is the diagnostic record of a single scheduling pass: the queue in the order it was walked and
// what happened to each job.
type PassReport struct {
	Started  time.Time
	Finished time.Time
	// Eligible jobs in shortest-job-first order.
	Jobs        []*JobDecision
	NumAdmitted int
	NumNoFit    int
	NumVetoed   int
	// True if the walk stopped early because of an inconsistency.
	Aborted bool
	Err     error
}

func NewPassReport(started time.Time) *PassReport {
	return &PassReport{Started: started}
}

// Record sets the outcome of decision and updates the pass totals.
func (r *PassReport) Record(decision *JobDecision, outcome Outcome, reason string) {
	decision.Outcome = outcome
	decision.Reason = reason
	switch outcome {
	case Admitted:
		r.NumAdmitted++
	case NoFit:
		r.NumNoFit++
	case Vetoed:
		r.NumVetoed++
	}
}

func (r *PassReport) Abort(err error) {
	r.Aborted = true
	r.Err = err
}

func (r *PassReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// AdmittedJobIds returns the ids of the jobs admitted in the pass, in admission order.
func (r *PassReport) AdmittedJobIds() []string {
	rv := make([]string, 0, r.NumAdmitted)
	for _, d := range r.Jobs {
		if d.Outcome == Admitted {
			rv = append(rv, d.JobId)
		}
	}
	return rv
}

func (r *PassReport) JobDecision(jobId string) *JobDecision {
	for _, d := range r.Jobs {
		if d.JobId == jobId {
			return d
		}
	}
	return nil
}

func (r *PassReport) String() string {
	sb := util.NewTabbedStringBuilder(1, 1, 1, ' ', 0)
	sb.Writef("Started:\t%s\n", r.Started.Format(time.RFC3339))
	sb.Writef("Finished:\t%s\n", r.Finished.Format(time.RFC3339))
	sb.Writef("Duration:\t%s\n", r.Duration())
	sb.Writef("Eligible jobs:\t%d\n", len(r.Jobs))
	sb.Writef("Admitted:\t%d\n", r.NumAdmitted)
	sb.Writef("No fit:\t%d\n", r.NumNoFit)
	sb.Writef("Vetoed:\t%d\n", r.NumVetoed)
	if r.Aborted {
		sb.Writef("Aborted:\t%s\n", r.Err)
	}
	if len(r.Jobs) > 0 {
		sb.Writef("Queue:\n")
		sb.Writef("\t#\tJob\tUser\tRuntime\tSubmitted\tOutcome\tDetail\n")
		for i, d := range r.Jobs {
			detail := d.Reason
			if d.Outcome == Admitted {
				detail = fmt.Sprintf("node %s", d.Node)
			}
			sb.Writef(
				"\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				i, d.JobId, d.User, d.runtimeString(), d.Submitted.Format(time.RFC3339), d.Outcome, strings.TrimSpace(detail),
			)
		}
	}
	return sb.String()
}

package reports

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// PassReportRepository stores the most recent pass reports.
// Stores happen from the scheduling goroutine only, while reads may happen concurrently from http handlers.
type PassReportRepository struct {
	mostRecent           atomic.Pointer[PassReport]
	mostRecentSuccessful atomic.Pointer[PassReport]
	// Most recent decision for each job, so that the reason a job isn't running can still be found
	// after passes have stopped considering it.
	mostRecentByJobId *lru.Cache
}

func NewPassReportRepository(maxJobReports int) (*PassReportRepository, error) {
	byJobId, err := lru.New(maxJobReports)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &PassReportRepository{mostRecentByJobId: byJobId}, nil
}

func (r *PassReportRepository) StorePassReport(report *PassReport) {
	r.mostRecent.Store(report)
	if !report.Aborted {
		r.mostRecentSuccessful.Store(report)
	}
	for _, d := range report.Jobs {
		if d.Outcome == NotConsidered {
			continue
		}
		r.mostRecentByJobId.Add(d.JobId, d)
	}
}

// MostRecentPassReport returns the report of the most recent pass or nil if no pass has run.
func (r *PassReportRepository) MostRecentPassReport() *PassReport {
	return r.mostRecent.Load()
}

// MostRecentSuccessfulPassReport returns the report of the most recent pass that wasn't aborted.
func (r *PassReportRepository) MostRecentSuccessfulPassReport() *PassReport {
	return r.mostRecentSuccessful.Load()
}

// JobDecision returns the most recent decision made for the given job or nil if no pass has considered it.
func (r *PassReportRepository) JobDecision(jobId string) *JobDecision {
	if v, ok := r.mostRecentByJobId.Get(jobId); ok {
		return v.(*JobDecision)
	}
	return nil
}

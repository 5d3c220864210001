package scheduler

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/sjfscheduler/internal/common/armadacontext"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/burstbuffer"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/clusterlock"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/database"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/jobdb"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/metrics"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/nodedb"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/reports"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/reservation"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/sjf"
)

var ErrGrantRequired = errors.New("scheduling pass requires write access to jobs and nodes")

// AdmissionRecorder durably records that a job has been admitted.
type AdmissionRecorder interface {
	RecordAdmission(ctx *armadacontext.Context, jobId string, node string, started time.Time) (*database.Job, error)
}

// Pass is a single scheduling pass run under a grant held by the caller.
type Pass interface {
	Run(ctx *armadacontext.Context, grant *clusterlock.Grant) (*reports.PassReport, error)
}

// SchedulingPass admits pending jobs in shortest-job-first order.
//
// Each pass takes a fresh snapshot of the eligible pending jobs, orders it and walks it once. A job is admitted if
// its footprint fits on a node of its partition right now and no reservation or burst buffer vetoes it. A job that
// doesn't fit is skipped and the walk continues, so smaller jobs further down the queue can backfill capacity that
// a larger job ahead of them can't use. Admission of each job is atomic: the job becomes running, capacity on the
// node is reserved and the admission is recorded in the job repository, or none of these happen.
type SchedulingPass struct {
	jobDb    *jobdb.JobDb
	nodeDb   *nodedb.NodeDb
	recorder AdmissionRecorder
	// Optional vetoes.
	reservations *reservation.Book
	burstBuffers *burstbuffer.Tracker
	// Optional; if set, every report is stored here.
	reportRepository *reports.PassReportRepository
	metrics          *metrics.Metrics
	clock            clock.PassiveClock
}

func NewSchedulingPass(
	jobDb *jobdb.JobDb,
	nodeDb *nodedb.NodeDb,
	recorder AdmissionRecorder,
	reservations *reservation.Book,
	burstBuffers *burstbuffer.Tracker,
	reportRepository *reports.PassReportRepository,
	metrics *metrics.Metrics,
	clock clock.PassiveClock,
) *SchedulingPass {
	return &SchedulingPass{
		jobDb:            jobDb,
		nodeDb:           nodeDb,
		recorder:         recorder,
		reservations:     reservations,
		burstBuffers:     burstBuffers,
		reportRepository: reportRepository,
		metrics:          metrics,
		clock:            clock,
	}
}

// Run runs one pass. The returned report is non-nil whenever the grant was sufficient, including when the pass was
// aborted part-way, in which case the error says why and jobs admitted before the failure stay admitted.
func (p *SchedulingPass) Run(ctx *armadacontext.Context, grant *clusterlock.Grant) (*reports.PassReport, error) {
	if !grant.Holds(clusterlock.Jobs, clusterlock.Write) || !grant.Holds(clusterlock.Nodes, clusterlock.Write) {
		return nil, ErrGrantRequired
	}
	report := reports.NewPassReport(p.clock.Now())
	defer p.finish(ctx, report)

	eligible, err := p.jobDb.EligiblePending(p.jobDb.ReadTxn())
	if err != nil {
		report.Abort(err)
		return report, err
	}
	sjf.Sort(eligible)
	report.Jobs = make([]*reports.JobDecision, len(eligible))
	for i, job := range eligible {
		report.Jobs[i] = reports.NewJobDecision(job)
	}

	for i, job := range eligible {
		decision := report.Jobs[i]
		now := p.clock.Now()
		placement, vetoReason, ok, err := p.place(job, now)
		if err != nil {
			err = errors.WithMessagef(err, "error finding a node for job %s", job.Id)
			report.Record(decision, reports.Failed, err.Error())
			report.Abort(err)
			return report, err
		}
		if !ok && vetoReason != "" {
			report.Record(decision, reports.Vetoed, vetoReason)
			continue
		}
		if !ok {
			report.Record(decision, reports.NoFit, fmt.Sprintf("%s doesn't fit on any node", job.Resources.CompactString()))
			continue
		}
		if p.burstBuffers != nil {
			if reason, vetoed := p.burstBuffers.Veto(job); vetoed {
				report.Record(decision, reports.Vetoed, reason)
				continue
			}
		}

		if err := p.admit(ctx, job, placement, now); err != nil {
			err = errors.WithMessagef(err, "error admitting job %s onto node %s", job.Id, placement.Node)
			report.Record(decision, reports.Failed, err.Error())
			report.Abort(err)
			return report, err
		}
		decision.Node = placement.Node
		decision.Partition = placement.Partition
		report.Record(decision, reports.Admitted, "")
		if p.burstBuffers != nil {
			p.burstBuffers.Forget(job.Id)
		}
		ctx.Log.WithFields(logrus.Fields{"jobId": job.Id, "node": placement.Node}).Info("admitted job")
	}
	return report, nil
}

// place returns the first node with room for job that no reservation vetoes. If nodes had room but were all vetoed,
// the reason given for the first of them is returned.
func (p *SchedulingPass) place(job *jobdb.Job, now time.Time) (*nodedb.Placement, string, bool, error) {
	vetoReason := ""
	placement, ok, err := p.nodeDb.FitWhere(p.nodeDb.ReadTxn(), job.Partition, job.Resources, func(candidate *nodedb.Placement) bool {
		if p.reservations == nil {
			return true
		}
		reason, vetoed := p.reservations.Veto(job, candidate, now)
		if vetoed && vetoReason == "" {
			vetoReason = reason
		}
		return !vetoed
	})
	if err != nil || ok {
		return placement, "", ok, err
	}
	return nil, vetoReason, false, nil
}

// admit transitions job to running on the node of placement. Nothing is changed unless all steps succeed.
func (p *SchedulingPass) admit(ctx *armadacontext.Context, job *jobdb.Job, placement *nodedb.Placement, now time.Time) error {
	jobTxn := p.jobDb.WriteTxn()
	defer jobTxn.Abort()
	admitted, err := p.jobDb.MarkAdmitted(jobTxn, job.Id, placement.Node, now)
	if err != nil {
		return err
	}

	nodeTxn := p.nodeDb.WriteTxn()
	defer nodeTxn.Abort()
	if _, err := p.nodeDb.Reserve(nodeTxn, placement, job.Id); err != nil {
		return err
	}

	record, err := p.recorder.RecordAdmission(ctx, job.Id, placement.Node, now)
	if err != nil {
		return err
	}
	// The ingester drops records at or below this serial, including any it fetched before the admission.
	if record != nil && record.Serial > admitted.Serial {
		if err := p.jobDb.Upsert(jobTxn, []*jobdb.Job{admitted.WithSerial(record.Serial)}); err != nil {
			return err
		}
	}

	nodeTxn.Commit()
	jobTxn.Commit()
	return nil
}

func (p *SchedulingPass) finish(ctx *armadacontext.Context, report *reports.PassReport) {
	report.Finished = p.clock.Now()
	if p.reportRepository != nil {
		p.reportRepository.StorePassReport(report)
	}
	if p.metrics != nil {
		p.metrics.ReportPass(report)
	}
	log := ctx.Log.WithFields(logrus.Fields{
		"eligible": len(report.Jobs),
		"admitted": report.NumAdmitted,
		"duration": report.Duration(),
	})
	if report.Aborted {
		log.WithError(report.Err).Warn("scheduling pass aborted")
	} else {
		log.Info("scheduling pass completed")
	}
	if ctx.Log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		ctx.Log.Debugf("pass report:\n%s", report.String())
	}
}

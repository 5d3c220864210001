package scheduler

import (
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/sjfscheduler/internal/common/armadacontext"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/burstbuffer"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/clusterlock"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/database"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/estimator"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/jobdb"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/metrics"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/nodedb"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/schedulerobjects"
)

// IngestionGrant is the access the ingester applies job updates under.
var IngestionGrant = clusterlock.Spec{
	clusterlock.Jobs:  clusterlock.Write,
	clusterlock.Nodes: clusterlock.Write,
}

// Ingester keeps the JobDb in sync with the job repository.
//
// At a high level, the ingester:
//  1. Fetches job records updated since the last serial it has seen.
//  2. Converts them into jobdb jobs, filling in runtime estimates for jobs without a time limit.
//  3. Applies the side effects of state changes: capacity is reserved for jobs that became running without being
//     admitted by this process (e.g., on startup) and released for jobs that finished. Completed jobs feed the runtime
//     estimator. Records no newer than the job already held are dropped.
//  4. Upserts the jobs into the JobDb.
type Ingester struct {
	repository   database.JobRepository
	jobDb        *jobdb.JobDb
	nodeDb       *nodedb.NodeDb
	locks        *clusterlock.Manager
	estimator    *estimator.RuntimeEstimator
	burstBuffers *burstbuffer.Tracker
	metrics      *metrics.Metrics
	clock        clock.WithTicker
	interval     time.Duration
	batchSize    int64
	// Serial of the most recent update ingested.
	serial int64
}

func NewIngester(
	repository database.JobRepository,
	jobDb *jobdb.JobDb,
	nodeDb *nodedb.NodeDb,
	locks *clusterlock.Manager,
	estimator *estimator.RuntimeEstimator,
	burstBuffers *burstbuffer.Tracker,
	metrics *metrics.Metrics,
	clock clock.WithTicker,
	interval time.Duration,
	batchSize int64,
) *Ingester {
	return &Ingester{
		repository:   repository,
		jobDb:        jobDb,
		nodeDb:       nodeDb,
		locks:        locks,
		estimator:    estimator,
		burstBuffers: burstBuffers,
		metrics:      metrics,
		clock:        clock,
		interval:     interval,
		batchSize:    batchSize,
	}
}

// Run syncs every interval until ctx is cancelled. Failed syncs are logged and retried on the next tick.
func (i *Ingester) Run(ctx *armadacontext.Context) error {
	ctx = armadacontext.WithLogField(ctx, "service", "ingester")
	ticker := i.clock.NewTicker(i.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if _, err := i.Sync(ctx); err != nil {
				ctx.Log.WithError(err).Warn("error syncing job updates")
			}
		}
	}
}

// Sync ingests all updates available in the repository and returns the number of job records ingested.
func (i *Ingester) Sync(ctx *armadacontext.Context) (int, error) {
	total := 0
	for {
		records, serial, err := i.repository.FetchJobUpdates(ctx, i.serial, i.batchSize)
		if err != nil {
			i.reportError("fetch")
			return total, errors.WithMessage(err, "error fetching job updates")
		}
		if len(records) == 0 {
			return total, nil
		}
		err = i.locks.WithGrant(IngestionGrant, func(*clusterlock.Grant) error {
			return i.apply(ctx, records)
		})
		if err != nil {
			i.reportError("apply")
			return total, err
		}
		i.serial = serial
		total += len(records)
		if i.metrics != nil {
			i.metrics.ReportIngested(len(records))
		}
		ctx.Log.Debugf("ingested %d job updates up to serial %d", len(records), serial)
		if i.batchSize <= 0 || int64(len(records)) < i.batchSize {
			return total, nil
		}
	}
}

func (i *Ingester) apply(ctx *armadacontext.Context, records []*database.Job) error {
	jobTxn := i.jobDb.WriteTxn()
	defer jobTxn.Abort()
	nodeTxn := i.nodeDb.WriteTxn()
	defer nodeTxn.Abort()

	observedKeys := make(map[string]bool)
	for _, record := range records {
		log := ctx.Log.WithField("jobId", record.Id)
		job, err := jobFromRecord(record)
		if err != nil {
			// A malformed record can never be scheduled; skip it rather than blocking every later update.
			log.WithError(err).Error("ignoring invalid job record")
			continue
		}
		existing, err := i.jobDb.GetById(jobTxn, job.Id)
		if err != nil {
			return err
		}
		if existing != nil && job.Serial <= existing.Serial {
			// Fetched before a pass admitted the job, or already applied.
			log.Debugf("skipping update with serial %d; job is already at serial %d", job.Serial, existing.Serial)
			continue
		}
		if job.TimeLimit == 0 {
			if estimate, ok := i.estimator.Estimate(job.EstimateKey()); ok {
				job.HistoricalEstimate = estimate
			}
		}

		stateChanged := existing == nil || existing.State != job.State
		if stateChanged && i.metrics != nil {
			i.metrics.ReportJobTransition(string(job.State))
		}
		if job.State == jobdb.JobRunning && (existing == nil || existing.State != jobdb.JobRunning) {
			i.bind(log, nodeTxn, job)
		}
		if job.State.Terminal() {
			if err := i.release(log, nodeTxn, job, existing); err != nil {
				return err
			}
		}
		if job.State == jobdb.JobCompleted && stateChanged && !job.Started.IsZero() {
			i.estimator.Observe(job.EstimateKey(), job.Finished.Sub(job.Started))
			observedKeys[job.EstimateKey()] = true
		}
		if job.State != jobdb.JobPending && job.State != jobdb.JobHeld && i.burstBuffers != nil {
			i.burstBuffers.Forget(job.Id)
		}
		if err := i.jobDb.Upsert(jobTxn, []*jobdb.Job{job}); err != nil {
			return err
		}
	}
	if err := i.refreshEstimates(jobTxn, observedKeys); err != nil {
		return err
	}

	nodeTxn.Commit()
	jobTxn.Commit()
	return nil
}

// bind reserves capacity for a job that became running without being admitted by this process.
func (i *Ingester) bind(log *logrus.Entry, nodeTxn *memdb.Txn, job *jobdb.Job) {
	node, err := i.nodeDb.GetNode(nodeTxn, job.Node)
	if err != nil || node == nil {
		log.Warnf("job is running on unknown node %s", job.Node)
		return
	}
	placement := &nodedb.Placement{
		Node:       node.Name,
		Partition:  node.Partition,
		Generation: node.Generation,
		Request:    job.Resources,
	}
	if _, err := i.nodeDb.Reserve(nodeTxn, placement, job.Id); errors.Is(err, nodedb.ErrJobAlreadyBound) {
		return
	} else if err != nil {
		log.WithError(err).Warnf("couldn't account for running job on node %s", job.Node)
	}
}

// release returns whatever capacity a finished job still holds, whichever state the JobDb last saw it in.
func (i *Ingester) release(log *logrus.Entry, nodeTxn *memdb.Txn, job *jobdb.Job, existing *jobdb.Job) error {
	nodeName := job.Node
	if nodeName == "" && existing != nil {
		nodeName = existing.Node
	}
	if nodeName == "" {
		return nil
	}
	err := i.nodeDb.Release(nodeTxn, nodeName, job.Id)
	if errors.Is(err, nodedb.ErrNodeNotFound) {
		if existing != nil && existing.State == jobdb.JobRunning {
			log.Warnf("job finished on unknown node %s", nodeName)
		}
		return nil
	}
	return err
}

// refreshEstimates updates the historical estimate of queued jobs whose (user, name) has new runtime observations.
func (i *Ingester) refreshEstimates(txn *memdb.Txn, keys map[string]bool) error {
	if len(keys) == 0 {
		return nil
	}
	for _, state := range []jobdb.JobState{jobdb.JobPending, jobdb.JobHeld} {
		jobs, err := i.jobDb.GetByState(txn, state)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if job.TimeLimit > 0 || !keys[job.EstimateKey()] {
				continue
			}
			estimate, ok := i.estimator.Estimate(job.EstimateKey())
			if !ok || estimate == job.HistoricalEstimate {
				continue
			}
			if err := i.jobDb.Upsert(txn, []*jobdb.Job{job.WithHistoricalEstimate(estimate)}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (i *Ingester) reportError(reason string) {
	if i.metrics != nil {
		i.metrics.ReportIngestionError(reason)
	}
}

func jobFromRecord(record *database.Job) (*jobdb.Job, error) {
	state := jobdb.JobState(record.State)
	switch state {
	case jobdb.JobPending, jobdb.JobHeld, jobdb.JobRunning, jobdb.JobCompleted, jobdb.JobFailed, jobdb.JobCancelled:
	default:
		return nil, errors.Errorf("unknown job state %q", record.State)
	}
	resources, err := schedulerobjects.ResourceListFromStrings(record.Resources)
	if err != nil {
		return nil, err
	}
	if !resources.IsStrictlyNonNegative() {
		return nil, errors.Errorf("negative resource request %s", resources.CompactString())
	}
	return &jobdb.Job{
		Id:           record.Id,
		Name:         record.Name,
		User:         record.User,
		Partition:    record.Partition,
		Submitted:    record.Submitted,
		Resources:    resources,
		TimeLimit:    record.TimeLimit,
		Dependencies: record.Dependencies,
		BurstBuffer:  record.BurstBuffer,
		State:        state,
		Node:         record.Node,
		Started:      record.Started,
		Finished:     record.Finished,
		Serial:       record.Serial,
	}, nil
}

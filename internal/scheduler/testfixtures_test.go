package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/sjfscheduler/internal/common/armadacontext"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/clusterlock"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/database"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/jobdb"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/nodedb"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/reports"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/schedulerobjects"
)

var baseTime = time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)

func cpu(quantity string) schedulerobjects.ResourceList {
	rl, err := schedulerobjects.ResourceListFromStrings(map[string]string{"cpu": quantity})
	if err != nil {
		panic(err)
	}
	return rl
}

// testJob returns a pending job in the default partition submitted offset after baseTime.
func testJob(id string, timeLimit time.Duration, offset time.Duration, request string) *jobdb.Job {
	return &jobdb.Job{
		Id:        id,
		Name:      "job-" + id,
		User:      "alice",
		Submitted: baseTime.Add(offset),
		Resources: cpu(request),
		TimeLimit: timeLimit,
		State:     jobdb.JobPending,
	}
}

func withJobDb(t *testing.T, jobs ...*jobdb.Job) *jobdb.JobDb {
	jobDb, err := jobdb.NewJobDb()
	require.NoError(t, err)
	txn := jobDb.WriteTxn()
	require.NoError(t, jobDb.Upsert(txn, jobs))
	txn.Commit()
	return jobDb
}

// withNodeDb returns a NodeDb with a single default partition "batch" containing a node per entry of nodeCpus.
func withNodeDb(t *testing.T, nodeCpus map[string]string) *nodedb.NodeDb {
	nodeDb, err := nodedb.NewNodeDb()
	require.NoError(t, err)
	txn := nodeDb.WriteTxn()
	require.NoError(t, nodeDb.UpsertPartitionsWithTxn(txn, []*nodedb.Partition{{Name: "batch", Up: true, Default: true}}))
	nodes := make([]*nodedb.Node, 0, len(nodeCpus))
	for name, quantity := range nodeCpus {
		nodes = append(nodes, &nodedb.Node{Name: name, Partition: "batch", Allocatable: cpu(quantity)})
	}
	require.NoError(t, nodeDb.UpsertNodesWithTxn(txn, nodes))
	txn.Commit()
	return nodeDb
}

func jobState(t *testing.T, jobDb *jobdb.JobDb, id string) jobdb.JobState {
	job, err := jobDb.GetById(jobDb.ReadTxn(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job.State
}

func nodeAvailable(t *testing.T, nodeDb *nodedb.NodeDb, name string) schedulerobjects.ResourceList {
	node, err := nodeDb.GetNode(nodeDb.ReadTxn(), name)
	require.NoError(t, err)
	require.NotNil(t, node)
	return node.Available()
}

// fakeRecorder records admissions in memory and fails for the job ids in failFor.
type fakeRecorder struct {
	mu         sync.Mutex
	admissions map[string]string
	failFor    map[string]bool
}

func newFakeRecorder(failFor ...string) *fakeRecorder {
	r := &fakeRecorder{
		admissions: make(map[string]string),
		failFor:    make(map[string]bool),
	}
	for _, id := range failFor {
		r.failFor[id] = true
	}
	return r
}

func (r *fakeRecorder) RecordAdmission(_ *armadacontext.Context, jobId string, node string, started time.Time) (*database.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[jobId] {
		return nil, errors.Errorf("redis unavailable")
	}
	r.admissions[jobId] = node
	return &database.Job{Id: jobId, State: database.StateRunning, Node: node, Started: started}, nil
}

// fakePass counts how often it's run and checks it's always run under the scheduling grant.
type fakePass struct {
	mu       sync.Mutex
	numRuns  int
	err      error
	badGrant bool
	// Called at the start of each run, if set.
	onRun func()
}

func (p *fakePass) Run(_ *armadacontext.Context, grant *clusterlock.Grant) (*reports.PassReport, error) {
	if p.onRun != nil {
		p.onRun()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.numRuns++
	if !grant.Holds(clusterlock.Jobs, clusterlock.Write) || !grant.Holds(clusterlock.Nodes, clusterlock.Write) {
		p.badGrant = true
	}
	return reports.NewPassReport(baseTime), p.err
}

func (p *fakePass) runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numRuns
}

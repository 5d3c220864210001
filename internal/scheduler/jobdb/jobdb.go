package jobdb

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

const (
	jobsTable  = "jobs"
	idIndex    = "id"    // index for looking up jobs by id
	stateIndex = "state" // index for looking up all jobs in a given state
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobNotPending = errors.New("job is not pending")
)

// JobDb is the scheduler-internal store of jobs.
// JobDb is implemented on top of https://github.com/hashicorp/go-memdb which is a simple in-memory database built on
// immutable radix trees. Read transactions see a consistent snapshot; a single write transaction may be open at a time
// and its changes become visible atomically on commit.
type JobDb struct {
	db *memdb.MemDB
}

func NewJobDb() (*JobDb, error) {
	db, err := memdb.NewMemDB(jobDbSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &JobDb{db: db}, nil
}

// ReadTxn returns a read-only transaction.
// Multiple read-only transactions can access the db concurrently
func (jobDb *JobDb) ReadTxn() *memdb.Txn {
	return jobDb.db.Txn(false)
}

// WriteTxn returns a writeable transaction.
// Only a single write transaction may access the db at any given time
func (jobDb *JobDb) WriteTxn() *memdb.Txn {
	return jobDb.db.Txn(true)
}

// Upsert will insert the given jobs if they don't already exist or update them if they do.
// Any jobs passed to this function *must not* be subsequently modified
func (jobDb *JobDb) Upsert(txn *memdb.Txn, jobs []*Job) error {
	for _, job := range jobs {
		if err := txn.Insert(jobsTable, job); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// GetById returns the job with the given id or nil if no such job exists.
// The Job returned by this function *must not* be subsequently modified
func (jobDb *JobDb) GetById(txn *memdb.Txn, id string) (*Job, error) {
	obj, err := txn.First(jobsTable, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*Job), nil
}

// GetAll returns all jobs in the database ordered by id.
// The Jobs returned by this function *must not* be subsequently modified
func (jobDb *JobDb) GetAll(txn *memdb.Txn) ([]*Job, error) {
	iter, err := txn.Get(jobsTable, idIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return collect(iter), nil
}

// GetByState returns all jobs in the given state ordered by id.
func (jobDb *JobDb) GetByState(txn *memdb.Txn, state JobState) ([]*Job, error) {
	iter, err := txn.Get(jobsTable, stateIndex, string(state))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return collect(iter), nil
}

// EligiblePending returns a snapshot of the jobs that are candidates for admission: those that are pending and whose
// dependencies have all completed. Held jobs and jobs depending on unknown, running or unsuccessful jobs are excluded.
// The returned slice is freshly allocated and may be reordered by the caller.
func (jobDb *JobDb) EligiblePending(txn *memdb.Txn) ([]*Job, error) {
	pending, err := jobDb.GetByState(txn, JobPending)
	if err != nil {
		return nil, err
	}
	eligible := make([]*Job, 0, len(pending))
	for _, job := range pending {
		satisfied, err := jobDb.dependenciesSatisfied(txn, job)
		if err != nil {
			return nil, err
		}
		if satisfied {
			eligible = append(eligible, job)
		}
	}
	return eligible, nil
}

func (jobDb *JobDb) dependenciesSatisfied(txn *memdb.Txn, job *Job) (bool, error) {
	for _, id := range job.Dependencies {
		dependency, err := jobDb.GetById(txn, id)
		if err != nil {
			return false, err
		}
		if dependency == nil || dependency.State != JobCompleted {
			return false, nil
		}
	}
	return true, nil
}

// MarkAdmitted transitions the pending job with the given id to running on node within txn and returns the updated job.
// Returns ErrJobNotFound or ErrJobNotPending, leaving txn unmodified, if the job can't be admitted.
func (jobDb *JobDb) MarkAdmitted(txn *memdb.Txn, id string, node string, now time.Time) (*Job, error) {
	job, err := jobDb.GetById(txn, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errors.Wrapf(ErrJobNotFound, "job %s", id)
	}
	if job.State != JobPending {
		return nil, errors.Wrapf(ErrJobNotPending, "job %s is %s", id, job.State)
	}
	admitted := job.WithAdmitted(node, now)
	if err := jobDb.Upsert(txn, []*Job{admitted}); err != nil {
		return nil, err
	}
	return admitted, nil
}

func collect(iter memdb.ResultIterator) []*Job {
	result := make([]*Job, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		job, ok := obj.(*Job)
		if !ok {
			panic(fmt.Sprintf("expected *Job, but got %T", obj))
		}
		result = append(result, job)
	}
	return result
}

// jobDbSchema creates the database schema.
// This is a simple schema consisting of a single "jobs" table with indexes for fast lookups
func jobDbSchema() *memdb.DBSchema {
	indexes := map[string]*memdb.IndexSchema{
		idIndex: {
			Name:    idIndex,
			Unique:  true,
			Indexer: &memdb.StringFieldIndex{Field: "Id"},
		},
		stateIndex: {
			Name:    stateIndex,
			Unique:  false,
			Indexer: &memdb.StringFieldIndex{Field: "State"},
		},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			jobsTable: {
				Name:    jobsTable,
				Indexes: indexes,
			},
		},
	}
}

package database

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/sjfscheduler/internal/common/armadacontext"
	"github.com/armadaproject/sjfscheduler/internal/common/util"
)

const (
	jobsSuffix    = "Job"
	serialsSuffix = "Job:Serial"
	counterSuffix = "Serial"

	// Number of times an update is retried when it races with another writer.
	maxUpdateAttempts = 10
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job state transition")
)

type JobRepository interface {
	// SubmitJob stores a new job. A job id is generated if the job doesn't have one.
	SubmitJob(ctx *armadacontext.Context, job *Job) (*Job, error)
	// UpdateJobState moves a job to state, returning ErrInvalidTransition if that's not allowed from the job's current state.
	UpdateJobState(ctx *armadacontext.Context, jobId string, state string, now time.Time) (*Job, error)
	// RecordAdmission records that a pending job has been admitted onto node.
	RecordAdmission(ctx *armadacontext.Context, jobId string, node string, started time.Time) (*Job, error)
	// FetchJobUpdates returns up to batchSize jobs updated after serial, in serial order, along with the serial to
	// pass to the next call.
	FetchJobUpdates(ctx *armadacontext.Context, serial int64, batchSize int64) ([]*Job, int64, error)
	GetJob(ctx *armadacontext.Context, jobId string) (*Job, error)
}

// RedisJobRepository is an implementation of JobRepository that stores its state in redis.
// Jobs are stored as json in a single hash, keyed by job id. Every write draws a new serial from a counter
// and records it in a sorted set of job ids, which is what FetchJobUpdates reads from.
type RedisJobRepository struct {
	db         *redis.Client
	jobsKey    string
	serialsKey string
	counterKey string
}

func NewRedisJobRepository(db *redis.Client, keyPrefix string) *RedisJobRepository {
	return &RedisJobRepository{
		db:         db,
		jobsKey:    fmt.Sprintf("%s:%s", keyPrefix, jobsSuffix),
		serialsKey: fmt.Sprintf("%s:%s", keyPrefix, serialsSuffix),
		counterKey: fmt.Sprintf("%s:%s", keyPrefix, counterSuffix),
	}
}

func (r *RedisJobRepository) SubmitJob(ctx *armadacontext.Context, job *Job) (*Job, error) {
	job = copyJob(job)
	if job.Id == "" {
		job.Id = util.NewULID()
	}
	if job.State == "" {
		job.State = StatePending
	}
	if job.State != StatePending && job.State != StateHeld {
		return nil, errors.Errorf("jobs must be submitted as %s or %s, but got %s", StatePending, StateHeld, job.State)
	}
	err := r.update(job.Id, func(existing *Job) (*Job, error) {
		if existing != nil {
			return nil, errors.Errorf("job %s already exists", job.Id)
		}
		return job, nil
	})
	if err != nil {
		return nil, err
	}
	ctx.Log.WithField("jobId", job.Id).Debugf("stored job with serial %d", job.Serial)
	return job, nil
}

func (r *RedisJobRepository) UpdateJobState(ctx *armadacontext.Context, jobId string, state string, now time.Time) (*Job, error) {
	var updated *Job
	err := r.update(jobId, func(existing *Job) (*Job, error) {
		if existing == nil {
			return nil, errors.Wrapf(ErrJobNotFound, "job %s", jobId)
		}
		if !slices.Contains(validTransitions[state], existing.State) {
			return nil, errors.Wrapf(ErrInvalidTransition, "job %s can't move from %s to %s", jobId, existing.State, state)
		}
		updated = copyJob(existing)
		updated.State = state
		if terminal(state) {
			updated.Finished = now
		}
		return updated, nil
	})
	if err != nil {
		return nil, err
	}
	ctx.Log.WithField("jobId", jobId).Debugf("job is now %s", state)
	return updated, nil
}

func (r *RedisJobRepository) RecordAdmission(_ *armadacontext.Context, jobId string, node string, started time.Time) (*Job, error) {
	var updated *Job
	err := r.update(jobId, func(existing *Job) (*Job, error) {
		if existing == nil {
			return nil, errors.Wrapf(ErrJobNotFound, "job %s", jobId)
		}
		if existing.State != StatePending {
			return nil, errors.Wrapf(ErrInvalidTransition, "job %s can't be admitted from %s", jobId, existing.State)
		}
		updated = copyJob(existing)
		updated.State = StateRunning
		updated.Node = node
		updated.Started = started
		return updated, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *RedisJobRepository) FetchJobUpdates(_ *armadacontext.Context, serial int64, batchSize int64) ([]*Job, int64, error) {
	members, err := r.db.ZRangeByScoreWithScores(r.serialsKey, redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(serial, 10),
		Max:   "+inf",
		Count: batchSize,
	}).Result()
	if err != nil {
		return nil, serial, errors.Wrap(err, "error reading job serials from redis")
	}
	if len(members) == 0 {
		return nil, serial, nil
	}

	ids := make([]string, len(members))
	for i, member := range members {
		ids[i] = member.Member.(string)
	}
	// The serial to resume from is taken from the sorted set rather than the records, since a record may have been
	// updated again between the two reads. Records that were are returned again by the next call.
	nextSerial := int64(members[len(members)-1].Score)

	values, err := r.db.HMGet(r.jobsKey, ids...).Result()
	if err != nil {
		return nil, serial, errors.Wrap(err, "error reading jobs from redis")
	}
	jobs := make([]*Job, 0, len(values))
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			return nil, serial, errors.Errorf("job %s is listed with serial %d but has no record", ids[i], int64(members[i].Score))
		}
		job, err := unmarshalJob(data)
		if err != nil {
			return nil, serial, err
		}
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b *Job) int {
		if a.Serial < b.Serial {
			return -1
		} else if a.Serial > b.Serial {
			return 1
		}
		return 0
	})
	return jobs, nextSerial, nil
}

func (r *RedisJobRepository) GetJob(_ *armadacontext.Context, jobId string) (*Job, error) {
	data, err := r.db.HGet(r.jobsKey, jobId).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "error reading job from redis")
	}
	return unmarshalJob(data)
}

// update applies mutate to the stored job with the given id (nil if there's no such job) and stores the result with
// a new serial. The read and write are done optimistically under WATCH and retried if another writer got in between.
func (r *RedisJobRepository) update(jobId string, mutate func(existing *Job) (*Job, error)) error {
	txf := func(tx *redis.Tx) error {
		var existing *Job
		data, err := tx.HGet(r.jobsKey, jobId).Result()
		if err == nil {
			existing, err = unmarshalJob(data)
			if err != nil {
				return err
			}
		} else if err != redis.Nil {
			return errors.WithStack(err)
		}

		updated, err := mutate(existing)
		if err != nil {
			return err
		}
		serial, err := tx.Incr(r.counterKey).Result()
		if err != nil {
			return errors.WithStack(err)
		}
		updated.Serial = serial
		encoded, err := json.Marshal(updated)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			pipe.HSet(r.jobsKey, jobId, encoded)
			pipe.ZAdd(r.serialsKey, redis.Z{Score: float64(serial), Member: jobId})
			return nil
		})
		return err
	}
	err := retry.Do(
		func() error { return r.db.Watch(txf, r.jobsKey) },
		retry.RetryIf(func(err error) bool { return err == redis.TxFailedErr }),
		retry.Attempts(maxUpdateAttempts),
		retry.Delay(time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err == redis.TxFailedErr {
		return errors.Errorf("gave up updating job %s after %d attempts", jobId, maxUpdateAttempts)
	}
	return err
}

func unmarshalJob(data string) (*Job, error) {
	job := &Job{}
	if err := json.Unmarshal([]byte(data), job); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling job")
	}
	return job, nil
}

func copyJob(job *Job) *Job {
	rv := *job
	rv.Dependencies = slices.Clone(job.Dependencies)
	if job.Resources != nil {
		rv.Resources = make(map[string]string, len(job.Resources))
		for k, v := range job.Resources {
			rv.Resources[k] = v
		}
	}
	return &rv
}

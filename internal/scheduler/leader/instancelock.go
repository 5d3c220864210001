package leader

import (
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/sjfscheduler/internal/common/armadacontext"
)

var (
	ErrLockHeld = errors.New("instance lock is held by another instance")
	ErrLockLost = errors.New("instance lock was lost")
)

// InstanceLock ensures at most one scheduling agent is active against a given job repository.
type InstanceLock interface {
	// Acquire takes the lock, returning ErrLockHeld if another instance holds it.
	Acquire() error
	// Renew extends the lock, returning ErrLockLost if this instance no longer holds it.
	Renew() error
	// Release gives the lock up if this instance holds it.
	Release() error
	// InstanceId identifies this instance as a lock holder.
	InstanceId() string
}

// StandaloneInstanceLock is always granted.
// This can be used when only a single instance of the scheduler is ever run.
type StandaloneInstanceLock struct {
	id string
}

func NewStandaloneInstanceLock() *StandaloneInstanceLock {
	return &StandaloneInstanceLock{id: uuid.NewString()}
}

func (l *StandaloneInstanceLock) Acquire() error     { return nil }
func (l *StandaloneInstanceLock) Renew() error       { return nil }
func (l *StandaloneInstanceLock) Release() error     { return nil }
func (l *StandaloneInstanceLock) InstanceId() string { return l.id }

const renewScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
	return 0
end
`

const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
else
	return 0
end
`

// RedisInstanceLock is an instance lock stored under a single redis key holding the id of the current holder.
// The key expires after ttl unless renewed, so a crashed holder eventually frees the lock.
type RedisInstanceLock struct {
	db  redis.Cmdable
	key string
	id  string
	ttl time.Duration
}

func NewRedisInstanceLock(db redis.Cmdable, key string, ttl time.Duration) *RedisInstanceLock {
	return &RedisInstanceLock{
		db:  db,
		key: key,
		id:  uuid.NewString(),
		ttl: ttl,
	}
}

func (l *RedisInstanceLock) InstanceId() string {
	return l.id
}

func (l *RedisInstanceLock) Acquire() error {
	acquired, err := l.db.SetNX(l.key, l.id, l.ttl).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if acquired {
		return nil
	}
	holder, err := l.db.Get(l.key).Result()
	if err == redis.Nil {
		// Expired between the two calls.
		return l.Acquire()
	} else if err != nil {
		return errors.WithStack(err)
	}
	if holder == l.id {
		return l.Renew()
	}
	return errors.Wrapf(ErrLockHeld, "%s is held by %s", l.key, holder)
}

func (l *RedisInstanceLock) Renew() error {
	renewed, err := l.db.Eval(renewScript, []string{l.key}, l.id, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return errors.WithStack(err)
	}
	if renewed == 0 {
		return errors.Wrapf(ErrLockLost, "%s is no longer held by %s", l.key, l.id)
	}
	return nil
}

func (l *RedisInstanceLock) Release() error {
	_, err := l.db.Eval(releaseScript, []string{l.key}, l.id).Int64()
	return errors.WithStack(err)
}

// RunRenewal renews lock every interval until ctx is cancelled, at which point the lock is released.
// Returns an error if the lock is lost; transient renewal failures are logged and retried.
func RunRenewal(ctx *armadacontext.Context, lock InstanceLock, interval time.Duration, clock clock.WithTicker) error {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := lock.Release(); err != nil {
				ctx.Log.WithError(err).Warn("failed to release instance lock")
			}
			return nil
		case <-ticker.C():
			err := lock.Renew()
			if errors.Is(err, ErrLockLost) {
				return err
			} else if err != nil {
				ctx.Log.WithError(err).Warn("failed to renew instance lock")
			}
		}
	}
}

package estimator

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

type sample struct {
	count int64
	mean  time.Duration
}

// RuntimeEstimator tracks the mean runtime of finished jobs, keyed by user and job name.
// Only the most recently updated keys are retained.
type RuntimeEstimator struct {
	// Serialises read-modify-write of samples; the cache is itself thread-safe.
	mu      sync.Mutex
	samples *lru.Cache
}

func New(maxKeys int) (*RuntimeEstimator, error) {
	samples, err := lru.New(maxKeys)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &RuntimeEstimator{samples: samples}, nil
}

// Observe records that a job identified by key ran for runtime. Non-positive runtimes are ignored.
func (e *RuntimeEstimator) Observe(key string, runtime time.Duration) {
	if runtime <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := sample{}
	if existing, ok := e.samples.Get(key); ok {
		s = existing.(sample)
	}
	s.count++
	s.mean += (runtime - s.mean) / time.Duration(s.count)
	e.samples.Add(key, s)
}

// Estimate returns the mean observed runtime for key. The second return value is false if nothing has been observed.
func (e *RuntimeEstimator) Estimate(key string) (time.Duration, bool) {
	existing, ok := e.samples.Get(key)
	if !ok {
		return 0, false
	}
	return existing.(sample).mean, true
}

func (e *RuntimeEstimator) Len() int {
	return e.samples.Len()
}

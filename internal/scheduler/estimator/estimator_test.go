package estimator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeEstimator(t *testing.T) {
	tests := map[string]struct {
		observations []time.Duration
		expected     time.Duration
		expectedOk   bool
	}{
		"no observations": {
			expectedOk: false,
		},
		"single observation": {
			observations: []time.Duration{time.Minute},
			expected:     time.Minute,
			expectedOk:   true,
		},
		"mean of observations": {
			observations: []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute},
			expected:     2 * time.Minute,
			expectedOk:   true,
		},
		"non-positive runtimes ignored": {
			observations: []time.Duration{0, -time.Second, 4 * time.Minute},
			expected:     4 * time.Minute,
			expectedOk:   true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			e, err := New(10)
			require.NoError(t, err)
			for _, runtime := range tc.observations {
				e.Observe("alice/train", runtime)
			}
			estimate, ok := e.Estimate("alice/train")
			assert.Equal(t, tc.expectedOk, ok)
			assert.Equal(t, tc.expected, estimate)

			_, ok = e.Estimate("bob/train")
			assert.False(t, ok)
		})
	}
}

func TestRuntimeEstimator_EvictsLeastRecentlyUsed(t *testing.T) {
	e, err := New(2)
	require.NoError(t, err)
	e.Observe("a", time.Minute)
	e.Observe("b", time.Minute)
	e.Observe("c", time.Minute)

	assert.Equal(t, 2, e.Len())
	_, ok := e.Estimate("a")
	assert.False(t, ok)
	_, ok = e.Estimate("c")
	assert.True(t, ok)
}

func TestNew_InvalidSize(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}

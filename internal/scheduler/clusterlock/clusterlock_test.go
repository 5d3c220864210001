package clusterlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrant_Holds(t *testing.T) {
	tests := map[string]struct {
		spec     Spec
		domain   Domain
		mode     Mode
		expected bool
	}{
		"write held, write required": {
			spec:     Spec{Jobs: Write},
			domain:   Jobs,
			mode:     Write,
			expected: true,
		},
		"write held, read required": {
			spec:     Spec{Jobs: Write},
			domain:   Jobs,
			mode:     Read,
			expected: true,
		},
		"read held, write required": {
			spec:     Spec{Jobs: Read},
			domain:   Jobs,
			mode:     Write,
			expected: false,
		},
		"domain not held": {
			spec:     Spec{Jobs: Write},
			domain:   Nodes,
			mode:     Read,
			expected: false,
		},
		"nothing required": {
			spec:     Spec{},
			domain:   Nodes,
			mode:     None,
			expected: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m := NewManager()
			err := m.WithGrant(tc.spec, func(g *Grant) error {
				assert.Equal(t, tc.expected, g.Holds(tc.domain, tc.mode))
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestWithGrant_GrantInvalidAfterReturn(t *testing.T) {
	m := NewManager()
	var leaked *Grant
	expected := errors.New("pass failed")
	err := m.WithGrant(Spec{Jobs: Write, Nodes: Write}, func(g *Grant) error {
		leaked = g
		return expected
	})
	assert.Equal(t, expected, err)
	assert.False(t, leaked.Holds(Jobs, Read))
	assert.False(t, (*Grant)(nil).Holds(Jobs, None))
}

func TestWithGrant_ReadersShare(t *testing.T) {
	m := NewManager()
	inside := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = m.WithGrant(Spec{Jobs: Read}, func(*Grant) error {
			close(inside)
			<-done
			return nil
		})
	}()
	<-inside

	entered := make(chan struct{})
	go func() {
		_ = m.WithGrant(Spec{Jobs: Read, Config: Read}, func(*Grant) error {
			close(entered)
			return nil
		})
	}()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked")
	}
	close(done)
}

func TestWithGrant_WriterExcludesReaders(t *testing.T) {
	m := NewManager()
	inside := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = m.WithGrant(Spec{Jobs: Write}, func(*Grant) error {
			close(inside)
			<-done
			return nil
		})
	}()
	<-inside

	var entered atomic.Bool
	finished := make(chan struct{})
	go func() {
		_ = m.WithGrant(Spec{Jobs: Read}, func(*Grant) error {
			entered.Store(true)
			return nil
		})
		close(finished)
	}()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, entered.Load())

	close(done)
	<-finished
	assert.True(t, entered.Load())
}

func TestWithGrant_NoDeadlockAcrossOverlappingSpecs(t *testing.T) {
	m := NewManager()
	specs := []Spec{
		{Config: Read, Jobs: Write, Nodes: Write, Partitions: Read, Reservations: Read},
		{Jobs: Write, Nodes: Write},
		{Nodes: Write, Reservations: Write},
		{Jobs: Read},
	}
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		spec := specs[i%len(specs)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithGrant(spec, func(g *Grant) error {
				if g.Holds(Nodes, Write) {
					counter++
				}
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 75, counter)
}

func TestSpec_String(t *testing.T) {
	assert.Equal(t, "{config:read, jobs:write, nodes:write}", Spec{Nodes: Write, Jobs: Write, Config: Read}.String())
}

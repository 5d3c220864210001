package clusterlock

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Domain is a region of shared cluster state protected by its own reader/writer lock.
type Domain int

const (
	Config Domain = iota
	Jobs
	Nodes
	Partitions
	Reservations
	numDomains
)

func (d Domain) String() string {
	switch d {
	case Config:
		return "config"
	case Jobs:
		return "jobs"
	case Nodes:
		return "nodes"
	case Partitions:
		return "partitions"
	case Reservations:
		return "reservations"
	default:
		return fmt.Sprintf("Domain(%d)", int(d))
	}
}

type Mode int

const (
	None Mode = iota
	Read
	Write
)

func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Spec is the access mode requested for each domain. Domains not in the map aren't locked.
type Spec map[Domain]Mode

func (s Spec) String() string {
	parts := make([]string, 0, numDomains)
	for d := Domain(0); d < numDomains; d++ {
		if mode := s[d]; mode != None {
			parts = append(parts, fmt.Sprintf("%s:%s", d, mode))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Manager grants composite access to the cluster state domains.
// Locks are always taken in domain order and released in reverse, so grants can't deadlock one another.
type Manager struct {
	locks [numDomains]sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{}
}

// Grant is proof that a set of domain locks is held. It's only valid for the duration of the WithGrant call
// it was passed to.
type Grant struct {
	spec     Spec
	released atomic.Bool
}

// Holds returns true if the grant is still valid and includes at least the given mode on domain.
// A write grant satisfies a read requirement.
func (g *Grant) Holds(domain Domain, mode Mode) bool {
	if g == nil || g.released.Load() {
		return false
	}
	return g.spec[domain] >= mode
}

func (g *Grant) Spec() Spec {
	return g.spec
}

// WithGrant blocks until every lock in spec is held, calls fn and releases the locks once fn returns.
// The error returned by fn is returned unchanged.
func (m *Manager) WithGrant(spec Spec, fn func(*Grant) error) error {
	grant := &Grant{spec: make(Spec, len(spec))}
	for d, mode := range spec {
		grant.spec[d] = mode
	}
	m.acquire(grant.spec)
	defer func() {
		grant.released.Store(true)
		m.release(grant.spec)
	}()
	return fn(grant)
}

func (m *Manager) acquire(spec Spec) {
	for d := Domain(0); d < numDomains; d++ {
		switch spec[d] {
		case Read:
			m.locks[d].RLock()
		case Write:
			m.locks[d].Lock()
		}
	}
}

func (m *Manager) release(spec Spec) {
	for d := numDomains - 1; d >= 0; d-- {
		switch spec[d] {
		case Read:
			m.locks[d].RUnlock()
		case Write:
			m.locks[d].Unlock()
		}
	}
}

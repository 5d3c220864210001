package reservation

import (
	"fmt"
	"time"

	"golang.org/x/exp/slices"

	"github.com/armadaproject/sjfscheduler/internal/scheduler/jobdb"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/nodedb"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/schedulerobjects"
)

// Reservation earmarks resources on a set of nodes for a set of jobs during [Start, End).
type Reservation struct {
	Name  string
	Nodes []string
	Start time.Time
	End   time.Time
	// Resources set aside on each node of the reservation.
	Resources schedulerobjects.ResourceList
	// Ids of the jobs allowed to use the reservation.
	Jobs []string
}

func (r *Reservation) Active(now time.Time) bool {
	return !now.Before(r.Start) && now.Before(r.End)
}

func (r *Reservation) HasNode(node string) bool {
	return slices.Contains(r.Nodes, node)
}

func (r *Reservation) HasJob(jobId string) bool {
	return slices.Contains(r.Jobs, jobId)
}

// Book is the set of known reservations. Access is protected by the reservations domain of the cluster lock.
type Book struct {
	reservations []*Reservation
}

func NewBook(reservations ...*Reservation) *Book {
	return &Book{reservations: reservations}
}

func (b *Book) Reservations() []*Reservation {
	return b.reservations
}

// Veto returns a non-empty reason if admitting job onto the node of placement at time now would violate a reservation.
//
// Jobs named by a reservation may only start on one of its nodes inside its window. Other jobs may not start on a
// reserved node if they would still be running when the reservation starts, unless the node has enough room left
// after admitting them to also cover the reserved resources. Jobs without a runtime estimate are assumed to run forever.
func (b *Book) Veto(job *jobdb.Job, placement *nodedb.Placement, now time.Time) (string, bool) {
	var memberReasons []string
	isMember := false
	for _, r := range b.reservations {
		if !r.HasJob(job.Id) {
			continue
		}
		isMember = true
		if !r.HasNode(placement.Node) {
			memberReasons = append(memberReasons, fmt.Sprintf("node %s is not part of reservation %s", placement.Node, r.Name))
			continue
		}
		if !r.Active(now) {
			memberReasons = append(memberReasons, fmt.Sprintf("reservation %s is not active", r.Name))
			continue
		}
		return "", false
	}
	if isMember {
		return memberReasons[0], true
	}

	runtime, known := job.ExpectedRuntime()
	for _, r := range b.reservations {
		if !r.HasNode(placement.Node) || !now.Before(r.End) {
			continue
		}
		if known && !now.Add(runtime).After(r.Start) {
			continue
		}
		if r.Resources.FitsWithin(placement.Remaining) {
			continue
		}
		return fmt.Sprintf("would overlap reservation %s on node %s", r.Name, placement.Node), true
	}
	return "", false
}

package nodedb

import (
	"github.com/armadaproject/sjfscheduler/internal/scheduler/schedulerobjects"
)

// Partition is a named group of nodes.
type Partition struct {
	Name string
	// Jobs are only placed on nodes of partitions that are up.
	Up bool
	// Jobs that don't name a partition are placed in the default partition.
	Default bool
}

// Node is the scheduler-internal representation of a compute node.
// Nodes stored in the NodeDb must not be modified in-place; use UnsafeCopy to obtain a copy and upsert that instead.
type Node struct {
	Name      string
	Partition string

	// Total resources the node offers to jobs.
	Allocatable schedulerobjects.ResourceList
	// Sum of the resources reserved by jobs bound to this node.
	Allocated schedulerobjects.ResourceList
	// Resources reserved on this node, by id of the job holding them.
	AllocatedByJobId map[string]schedulerobjects.ResourceList

	// Incremented on every change to the node. Used to detect placements computed against an outdated node.
	Generation uint64
}

// Available returns the resources on the node not yet reserved by any job.
func (node *Node) Available() schedulerobjects.ResourceList {
	rv := node.Allocatable.DeepCopy()
	rv.Sub(node.Allocated)
	return rv
}

// UnsafeCopy returns a copy of the node; it is unsafe because it only makes shallow copies of the
// per-job resource lists, which are never mutated by methods of NodeDb.
func (node *Node) UnsafeCopy() *Node {
	allocatedByJobId := make(map[string]schedulerobjects.ResourceList, len(node.AllocatedByJobId))
	for jobId, rl := range node.AllocatedByJobId {
		allocatedByJobId[jobId] = rl
	}
	return &Node{
		Name:             node.Name,
		Partition:        node.Partition,
		Allocatable:      node.Allocatable,
		Allocated:        node.Allocated.DeepCopy(),
		AllocatedByJobId: allocatedByJobId,
		Generation:       node.Generation,
	}
}

// Placement is the answer to "can this footprint be satisfied now": the node the request fits on,
// as that node was at the time of the question.
type Placement struct {
	Node      string
	Partition string
	// Generation of the node the placement was computed against.
	Generation uint64
	Request    schedulerobjects.ResourceList
	// Resources that would remain available on the node after the request has been reserved.
	Remaining schedulerobjects.ResourceList
}

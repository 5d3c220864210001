package nodedb

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/armadaproject/sjfscheduler/internal/common/util"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/schedulerobjects"
)

const (
	nodesTable      = "nodes"
	partitionsTable = "partitions"
	idIndex         = "id"
	partitionIndex  = "partition"
)

var (
	ErrConcurrentModification = errors.New("node was modified after placement was computed")
	ErrInsufficientCapacity   = errors.New("insufficient capacity on node")
	ErrNodeNotFound           = errors.New("node not found")
	ErrJobAlreadyBound        = errors.New("job is already bound to node")
)

// NodeDb is the scheduler-internal inventory of partitions and nodes, and of the capacity reserved on each node.
// Like the JobDb, it's backed by go-memdb; callers select nodes with Fit against one snapshot and then Reserve
// within a write transaction, which fails if the node has changed in the meantime.
type NodeDb struct {
	db *memdb.MemDB
}

func NewNodeDb() (*NodeDb, error) {
	db, err := memdb.NewMemDB(nodeDbSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &NodeDb{db: db}, nil
}

func (nodeDb *NodeDb) ReadTxn() *memdb.Txn {
	return nodeDb.db.Txn(false)
}

func (nodeDb *NodeDb) WriteTxn() *memdb.Txn {
	return nodeDb.db.Txn(true)
}

func (nodeDb *NodeDb) UpsertPartitionsWithTxn(txn *memdb.Txn, partitions []*Partition) error {
	for _, partition := range partitions {
		if err := txn.Insert(partitionsTable, partition); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// UpsertNodesWithTxn inserts the given nodes, bumping the generation of any node that already exists.
func (nodeDb *NodeDb) UpsertNodesWithTxn(txn *memdb.Txn, nodes []*Node) error {
	for _, node := range nodes {
		if node.AllocatedByJobId == nil {
			node.AllocatedByJobId = make(map[string]schedulerobjects.ResourceList)
		}
		existing, err := nodeDb.GetNode(txn, node.Name)
		if err != nil {
			return err
		}
		if existing != nil && node.Generation <= existing.Generation {
			node.Generation = existing.Generation + 1
		}
		if err := txn.Insert(nodesTable, node); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// GetNode returns the node with the given name or nil if no such node exists.
func (nodeDb *NodeDb) GetNode(txn *memdb.Txn, name string) (*Node, error) {
	obj, err := txn.First(nodesTable, idIndex, name)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*Node), nil
}

// GetNodes returns all nodes ordered by name.
func (nodeDb *NodeDb) GetNodes(txn *memdb.Txn) ([]*Node, error) {
	iter, err := txn.Get(nodesTable, idIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return collectNodes(iter), nil
}

// GetPartition returns the partition with the given name or nil if no such partition exists.
// The empty name resolves to the default partition.
func (nodeDb *NodeDb) GetPartition(txn *memdb.Txn, name string) (*Partition, error) {
	if name == "" {
		return nodeDb.defaultPartition(txn)
	}
	obj, err := txn.First(partitionsTable, idIndex, name)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*Partition), nil
}

func (nodeDb *NodeDb) defaultPartition(txn *memdb.Txn) (*Partition, error) {
	iter, err := txn.Get(partitionsTable, idIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		if partition := obj.(*Partition); partition.Default {
			return partition, nil
		}
	}
	return nil, nil
}

// Fit returns a placement for request on the first node, in name order, of the given partition that has enough
// available capacity. The second return value is false if the partition is unknown or down, or if no node fits.
func (nodeDb *NodeDb) Fit(txn *memdb.Txn, partitionName string, request schedulerobjects.ResourceList) (*Placement, bool, error) {
	return nodeDb.FitWhere(txn, partitionName, request, nil)
}

// FitWhere is like Fit, but skips nodes whose candidate placement isn't accepted by accept. A nil accept accepts all.
func (nodeDb *NodeDb) FitWhere(
	txn *memdb.Txn,
	partitionName string,
	request schedulerobjects.ResourceList,
	accept func(*Placement) bool,
) (*Placement, bool, error) {
	partition, err := nodeDb.GetPartition(txn, partitionName)
	if err != nil {
		return nil, false, err
	}
	if partition == nil || !partition.Up {
		return nil, false, nil
	}
	iter, err := txn.Get(nodesTable, partitionIndex, partition.Name)
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		node := obj.(*Node)
		available := node.Available()
		if !request.FitsWithin(available) {
			continue
		}
		available.Sub(request)
		placement := &Placement{
			Node:       node.Name,
			Partition:  partition.Name,
			Generation: node.Generation,
			Request:    request.DeepCopy(),
			Remaining:  available,
		}
		if accept != nil && !accept(placement) {
			continue
		}
		return placement, true, nil
	}
	return nil, false, nil
}

// Reserve binds jobId to the node of placement within txn, reserving the requested resources.
// Returns ErrConcurrentModification if the node changed since the placement was computed and ErrInsufficientCapacity
// if the request no longer fits; txn is left unmodified in either case.
func (nodeDb *NodeDb) Reserve(txn *memdb.Txn, placement *Placement, jobId string) (*Node, error) {
	node, err := nodeDb.GetNode(txn, placement.Node)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, errors.Wrapf(ErrNodeNotFound, "node %s", placement.Node)
	}
	if node.Generation != placement.Generation {
		return nil, errors.Wrapf(
			ErrConcurrentModification,
			"node %s is at generation %d, but placement was computed at generation %d",
			node.Name, node.Generation, placement.Generation,
		)
	}
	if _, ok := node.AllocatedByJobId[jobId]; ok {
		return nil, errors.Wrapf(ErrJobAlreadyBound, "job %s on node %s", jobId, node.Name)
	}
	if !placement.Request.FitsWithin(node.Available()) {
		return nil, errors.Wrapf(
			ErrInsufficientCapacity,
			"job %s requests %s, but node %s has %s available",
			jobId, placement.Request.CompactString(), node.Name, node.Available().CompactString(),
		)
	}
	node = node.UnsafeCopy()
	node.Allocated.Add(placement.Request)
	node.AllocatedByJobId[jobId] = placement.Request.DeepCopy()
	node.Generation++
	if err := txn.Insert(nodesTable, node); err != nil {
		return nil, errors.WithStack(err)
	}
	return node, nil
}

// Release returns the resources held by jobId on the named node. Releasing a job that isn't bound to the node is a no-op.
func (nodeDb *NodeDb) Release(txn *memdb.Txn, nodeName string, jobId string) error {
	node, err := nodeDb.GetNode(txn, nodeName)
	if err != nil {
		return err
	}
	if node == nil {
		return errors.Wrapf(ErrNodeNotFound, "node %s", nodeName)
	}
	allocated, ok := node.AllocatedByJobId[jobId]
	if !ok {
		return nil
	}
	node = node.UnsafeCopy()
	delete(node.AllocatedByJobId, jobId)
	node.Allocated.Sub(allocated)
	node.Generation++
	if err := txn.Insert(nodesTable, node); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// String returns a tabular summary of the nodes and their capacity.
func (nodeDb *NodeDb) String() string {
	sb := util.NewTabbedStringBuilder(1, 1, 1, ' ', 0)
	nodes, err := nodeDb.GetNodes(nodeDb.ReadTxn())
	if err != nil {
		return err.Error()
	}
	sb.Writef("Node\tPartition\tAllocatable\tAvailable\tJobs\n")
	for _, node := range nodes {
		sb.Writef("%s\t%s\t%s\t%s\t%d\n",
			node.Name, node.Partition, node.Allocatable.CompactString(), node.Available().CompactString(), len(node.AllocatedByJobId),
		)
	}
	return sb.String()
}

func collectNodes(iter memdb.ResultIterator) []*Node {
	result := make([]*Node, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		node, ok := obj.(*Node)
		if !ok {
			panic(fmt.Sprintf("expected *Node, but got %T", obj))
		}
		result = append(result, node)
	}
	return result
}

func nodeDbSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			nodesTable: {
				Name: nodesTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
					partitionIndex: {
						Name:    partitionIndex,
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "Partition"},
					},
				},
			},
			partitionsTable: {
				Name: partitionsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
		},
	}
}

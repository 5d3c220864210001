package scheduler

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	schedulerconfig "github.com/armadaproject/sjfscheduler/internal/scheduler/configuration"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/nodedb"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/reservation"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/schedulerobjects"
)

// NewNodeDbFromConfig returns a NodeDb containing the partitions and nodes in config, with no capacity reserved.
func NewNodeDbFromConfig(config schedulerconfig.Configuration) (*nodedb.NodeDb, error) {
	nodeDb, err := nodedb.NewNodeDb()
	if err != nil {
		return nil, err
	}
	partitions := make([]*nodedb.Partition, len(config.Partitions))
	for i, p := range config.Partitions {
		partitions[i] = &nodedb.Partition{
			Name:    p.Name,
			Up:      !p.Down,
			Default: p.Default,
		}
	}
	nodes := make([]*nodedb.Node, len(config.Nodes))
	for i, n := range config.Nodes {
		nodes[i] = &nodedb.Node{
			Name:        n.Name,
			Partition:   n.Partition,
			Allocatable: schedulerobjects.ResourceList{Resources: maps.Clone(n.Resources)},
		}
		if !nodes[i].Allocatable.IsStrictlyNonNegative() {
			return nil, errors.Errorf("node %s has negative allocatable resources", n.Name)
		}
	}

	txn := nodeDb.WriteTxn()
	defer txn.Abort()
	if err := nodeDb.UpsertPartitionsWithTxn(txn, partitions); err != nil {
		return nil, err
	}
	if err := nodeDb.UpsertNodesWithTxn(txn, nodes); err != nil {
		return nil, err
	}
	txn.Commit()
	return nodeDb, nil
}

// NewReservationBookFromConfig returns a book containing the reservations in config.
func NewReservationBookFromConfig(config schedulerconfig.Configuration) *reservation.Book {
	reservations := make([]*reservation.Reservation, len(config.Reservations))
	for i, r := range config.Reservations {
		reservations[i] = &reservation.Reservation{
			Name:      r.Name,
			Nodes:     r.Nodes,
			Start:     r.Start,
			End:       r.End,
			Resources: schedulerobjects.ResourceList{Resources: maps.Clone(r.Resources)},
			Jobs:      r.Jobs,
		}
	}
	return reservation.NewBook(reservations...)
}

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	schedulerconfig "github.com/armadaproject/sjfscheduler/internal/scheduler/configuration"
)

func testConfig() schedulerconfig.Configuration {
	return schedulerconfig.Configuration{
		Redis:  schedulerconfig.RedisConfig{Addr: "localhost:6379", KeyPrefix: "Sjf"},
		Leader: schedulerconfig.LeaderConfig{Mode: schedulerconfig.LeaderModeStandalone},
		Partitions: []schedulerconfig.PartitionConfig{
			{Name: "batch", Default: true},
			{Name: "maintenance", Down: true},
		},
		Nodes: []schedulerconfig.NodeConfig{
			{Name: "node-a", Partition: "batch", Resources: map[string]resource.Quantity{"cpu": resource.MustParse("8")}},
			{Name: "node-b", Partition: "maintenance", Resources: map[string]resource.Quantity{"cpu": resource.MustParse("64")}},
		},
		Reservations: []schedulerconfig.ReservationConfig{
			{
				Name:      "training",
				Nodes:     []string{"node-a"},
				Start:     baseTime,
				End:       baseTime.Add(time.Hour),
				Resources: map[string]resource.Quantity{"cpu": resource.MustParse("4")},
				Jobs:      []string{"job-1"},
			},
		},
	}
}

func TestNewNodeDbFromConfig(t *testing.T) {
	nodeDb, err := NewNodeDbFromConfig(testConfig())
	require.NoError(t, err)

	// Jobs without a partition land in the default one.
	placement, ok, err := nodeDb.Fit(nodeDb.ReadTxn(), "", cpu("2"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node-a", placement.Node)
	assert.True(t, cpu("6").Equal(placement.Remaining))

	// Nothing is placed in a partition that's down.
	_, ok, err = nodeDb.Fit(nodeDb.ReadTxn(), "maintenance", cpu("1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewNodeDbFromConfig_NegativeResources(t *testing.T) {
	config := testConfig()
	config.Nodes[0].Resources = map[string]resource.Quantity{"cpu": resource.MustParse("-1")}
	_, err := NewNodeDbFromConfig(config)
	assert.Error(t, err)
}

func TestNewReservationBookFromConfig(t *testing.T) {
	book := NewReservationBookFromConfig(testConfig())
	require.Len(t, book.Reservations(), 1)
	r := book.Reservations()[0]
	assert.Equal(t, "training", r.Name)
	assert.True(t, r.HasNode("node-a"))
	assert.True(t, r.HasJob("job-1"))
	assert.True(t, r.Active(baseTime))
	assert.True(t, cpu("4").Equal(r.Resources))
}

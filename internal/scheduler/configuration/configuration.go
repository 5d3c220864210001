package configuration

import (
	"time"

	"github.com/go-playground/validator/v10"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/armadaproject/sjfscheduler/internal/common/logging"
)

const (
	LeaderModeStandalone = "standalone"
	LeaderModeRedis      = "redis"
)

type Configuration struct {
	Logging logging.Config
	Redis   RedisConfig
	// Configuration controlling which instance may run the scheduling agent
	Leader LeaderConfig
	Http   HttpConfig
	// How often the scheduling agent wakes up. A pass runs on wake-up if at least this long has passed since
	// the previous pass finished. Plain numbers are read as seconds.
	Interval time.Duration `validate:"required,gt=0"`
	// How often new job updates are read from redis
	IngestionInterval time.Duration `validate:"required,gt=0"`
	// Maximum number of job records to fetch from redis in a single call
	DatabaseFetchSize int64 `validate:"required,gt=0"`
	// Number of (user, job name) pairs for which runtime history is retained
	EstimatorCacheSize int `validate:"required,gt=0"`
	// Number of jobs for which the most recent scheduling decision is retained for reporting
	JobReportCacheSize int `validate:"required,gt=0"`
	BurstBuffer        BurstBufferConfig
	Partitions         []PartitionConfig   `validate:"required,min=1,dive"`
	Nodes              []NodeConfig        `validate:"dive"`
	Reservations       []ReservationConfig `validate:"dive"`
}

func (c Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(ConfigurationValidation, Configuration{})
	validate.RegisterStructValidation(ReservationConfigValidation, ReservationConfig{})
	return validate.Struct(c)
}

// ConfigurationValidation checks the relations between partitions and nodes that can't be expressed with tags.
func ConfigurationValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(Configuration)

	partitions := make(map[string]bool, len(c.Partitions))
	numDefault := 0
	for _, p := range c.Partitions {
		if partitions[p.Name] {
			sl.ReportError(c.Partitions, "Partitions", "Partitions", "unique", p.Name)
		}
		partitions[p.Name] = true
		if p.Default {
			numDefault++
		}
	}
	if numDefault > 1 {
		sl.ReportError(c.Partitions, "Partitions", "Partitions", "atmostonedefault", "")
	}

	nodes := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if nodes[n.Name] {
			sl.ReportError(c.Nodes, "Nodes", "Nodes", "unique", n.Name)
		}
		nodes[n.Name] = true
		if !partitions[n.Partition] {
			sl.ReportError(n.Partition, "Partition", "Partition", "knownpartition", n.Partition)
		}
	}
	for _, r := range c.Reservations {
		for _, node := range r.Nodes {
			if !nodes[node] {
				sl.ReportError(r.Nodes, "Nodes", "Nodes", "knownnode", node)
			}
		}
	}
	if c.Leader.Mode == LeaderModeRedis && c.Leader.LockTtl <= c.Leader.RenewInterval {
		sl.ReportError(c.Leader.LockTtl, "LockTtl", "LockTtl", "gtrenewinterval", "")
	}
}

func ReservationConfigValidation(sl validator.StructLevel) {
	r := sl.Current().Interface().(ReservationConfig)
	if !r.End.After(r.Start) {
		sl.ReportError(r.End, "End", "End", "afterstart", "")
	}
}

type RedisConfig struct {
	Addr     string `validate:"required"`
	Password string
	DB       int
	// Prefix of every key used by the job repository and instance lock
	KeyPrefix string `validate:"required"`
}

type LeaderConfig struct {
	// Valid modes are "standalone" or "redis"
	Mode string `validate:"required,oneof=standalone redis"`
	// Lock key, relative to the redis key prefix
	LockKey string
	// How long the lock is held for without renewal
	LockTtl time.Duration
	// How often the lock is renewed
	RenewInterval time.Duration
}

type HttpConfig struct {
	Port uint16 `validate:"required"`
}

type BurstBufferConfig struct {
	// How long staging into a burst buffer takes before a job using one may start
	StageInTime time.Duration
}

type PartitionConfig struct {
	Name string `validate:"required"`
	// Jobs aren't started on nodes of partitions that are down
	Down bool
	// Jobs that don't name a partition run in the default partition
	Default bool
}

type NodeConfig struct {
	Name      string                       `validate:"required"`
	Partition string                       `validate:"required"`
	Resources map[string]resource.Quantity `validate:"required,min=1"`
}

type ReservationConfig struct {
	Name      string    `validate:"required"`
	Nodes     []string  `validate:"required,min=1"`
	Start     time.Time `validate:"required"`
	End       time.Time `validate:"required"`
	Resources map[string]resource.Quantity
	// Ids of the jobs allowed to use the reservation
	Jobs []string
}

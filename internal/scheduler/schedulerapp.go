package scheduler

import (
	"net/http"
	"strings"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/sjfscheduler/internal/common/app"
	"github.com/armadaproject/sjfscheduler/internal/common/armadacontext"
	"github.com/armadaproject/sjfscheduler/internal/common/health"
	"github.com/armadaproject/sjfscheduler/internal/common/logging"
	"github.com/armadaproject/sjfscheduler/internal/common/serve"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/burstbuffer"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/clusterlock"
	schedulerconfig "github.com/armadaproject/sjfscheduler/internal/scheduler/configuration"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/database"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/estimator"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/jobdb"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/leader"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/metrics"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/reports"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/termination"
)

// Run sets up the scheduling agent and its supporting services and runs them until a SIGTERM is received.
func Run(config schedulerconfig.Configuration) error {
	if err := logging.Configure(config.Logging); err != nil {
		return err
	}
	g, ctx := armadacontext.ErrGroup(app.CreateContextWithShutdown())

	//////////////////////////////////////////////////////////////////////////
	// Health Checks and Http
	//////////////////////////////////////////////////////////////////////////
	mux := http.NewServeMux()
	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker(startupCompleteCheck)
	health.SetupHttpMux(mux, healthChecks)

	// List of services to run concurrently.
	// Services are started together at the end of this function, once all setup has succeeded.
	var services []func() error

	//////////////////////////////////////////////////////////////////////////
	// Redis
	//////////////////////////////////////////////////////////////////////////
	log.Infof("Setting up redis connection to %s", config.Redis.Addr)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.WithError(errors.WithStack(err)).Warnf("Redis client didn't close down cleanly")
		}
	}()
	healthChecks.Add(&redisChecker{client: redisClient})
	jobRepository := database.NewRedisJobRepository(redisClient, config.Redis.KeyPrefix)

	//////////////////////////////////////////////////////////////////////////
	// Instance lock
	//////////////////////////////////////////////////////////////////////////
	instanceLock, err := createInstanceLock(config, redisClient)
	if err != nil {
		return err
	}
	if err := acquireInstanceLock(instanceLock); err != nil {
		return err
	}
	log.Infof("Acquired instance lock as %s", instanceLock.InstanceId())
	if config.Leader.Mode == schedulerconfig.LeaderModeRedis {
		services = append(services, func() error {
			return leader.RunRenewal(ctx, instanceLock, config.Leader.RenewInterval, clock.RealClock{})
		})
	}

	//////////////////////////////////////////////////////////////////////////
	// In-memory state
	//////////////////////////////////////////////////////////////////////////
	jobDb, err := jobdb.NewJobDb()
	if err != nil {
		return errors.WithMessage(err, "error creating job db")
	}
	nodeDb, err := NewNodeDbFromConfig(config)
	if err != nil {
		return errors.WithMessage(err, "error creating node db")
	}
	reservations := NewReservationBookFromConfig(config)
	runtimeEstimator, err := estimator.New(config.EstimatorCacheSize)
	if err != nil {
		return errors.WithMessage(err, "error creating runtime estimator")
	}
	burstBuffers := burstbuffer.NewTracker(config.BurstBuffer.StageInTime, clock.RealClock{})
	reportRepository, err := reports.NewPassReportRepository(config.JobReportCacheSize)
	if err != nil {
		return errors.WithMessage(err, "error creating report repository")
	}
	locks := clusterlock.NewManager()

	//////////////////////////////////////////////////////////////////////////
	// Metrics
	//////////////////////////////////////////////////////////////////////////
	schedulerMetrics := metrics.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		schedulerMetrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	//////////////////////////////////////////////////////////////////////////
	// Ingestion
	//////////////////////////////////////////////////////////////////////////
	ingester := NewIngester(
		jobRepository,
		jobDb,
		nodeDb,
		locks,
		runtimeEstimator,
		burstBuffers,
		schedulerMetrics,
		clock.RealClock{},
		config.IngestionInterval,
		config.DatabaseFetchSize,
	)
	// Load all existing jobs before the first pass, so capacity held by running jobs is accounted for.
	numJobs, err := ingester.Sync(ctx)
	if err != nil {
		return errors.WithMessage(err, "error loading jobs")
	}
	log.Infof("Loaded %d jobs", numJobs)
	services = append(services, func() error { return ingester.Run(ctx) })

	//////////////////////////////////////////////////////////////////////////
	// Scheduling
	//////////////////////////////////////////////////////////////////////////
	log.Infof("Setting up scheduling agent")
	pass := NewSchedulingPass(
		jobDb,
		nodeDb,
		jobRepository,
		reservations,
		burstBuffers,
		reportRepository,
		schedulerMetrics,
		clock.RealClock{},
	)
	agent := NewAgent(
		pass,
		locks,
		termination.New(clock.RealClock{}),
		config.Interval,
		schedulerMetrics,
		clock.RealClock{},
	)
	services = append(services, func() error { return agent.Run(ctx) })

	reports.NewServer(reportRepository).Register(mux)
	NewQueueView(jobDb, locks).Register(mux)
	shutdownHttpServer := serve.ServeHttp(config.Http.Port, mux)
	defer shutdownHttpServer()

	// start all services
	for _, service := range services {
		g.Go(service)
	}

	// Mark startup as complete, will allow the health check to return healthy
	startupCompleteCheck.MarkComplete()

	return g.Wait()
}

func createInstanceLock(config schedulerconfig.Configuration, redisClient redis.Cmdable) (leader.InstanceLock, error) {
	switch mode := strings.ToLower(config.Leader.Mode); mode {
	case schedulerconfig.LeaderModeStandalone:
		log.Infof("Scheduler will run in standalone mode")
		return leader.NewStandaloneInstanceLock(), nil
	case schedulerconfig.LeaderModeRedis:
		log.Infof("Scheduler will run in redis mode")
		key := config.Redis.KeyPrefix + ":" + config.Leader.LockKey
		return leader.NewRedisInstanceLock(redisClient, key, config.Leader.LockTtl), nil
	default:
		return nil, errors.Errorf("%s is not a valid leader mode", config.Leader.Mode)
	}
}

// acquireInstanceLock takes the lock that keeps a second scheduler from running against the same cluster.
// This is the only place it's acquired; renewal and release are left to leader.RunRenewal.
func acquireInstanceLock(lock leader.InstanceLock) error {
	if err := lock.Acquire(); errors.Is(err, leader.ErrLockHeld) {
		return errors.WithMessage(ErrAgentAlreadyRunning, err.Error())
	} else if err != nil {
		return errors.WithMessage(err, "error acquiring instance lock")
	}
	return nil
}

type redisChecker struct {
	client *redis.Client
}

func (c *redisChecker) Check() error {
	if err := c.client.Ping().Err(); err != nil {
		return errors.Wrap(err, "redis is unreachable")
	}
	return nil
}

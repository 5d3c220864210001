package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/armadaproject/sjfscheduler/internal/scheduler/reports"
)

// Metrics is the top level scheduler metrics.
type Metrics struct {
	passDuration     prometheus.Histogram
	passes           *prometheus.CounterVec
	guardSkips       prometheus.Counter
	consideredJobs   prometheus.Gauge
	jobOutcomes      *prometheus.CounterVec
	admittedJobs     *prometheus.CounterVec
	jobTransitions   *prometheus.CounterVec
	ingestedUpdates  prometheus.Counter
	ingestionErrors  *prometheus.CounterVec
	lastPassAdmitted prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    prefix + "pass_duration_seconds",
				Help:    "Time taken by a scheduling pass, including time spent recording admissions.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
		),
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "passes_total",
				Help: "Number of scheduling passes run, by whether the pass completed or was aborted.",
			},
			[]string{outcomeLabel},
		),
		guardSkips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "guard_skips_total",
				Help: "Number of wake-ups on which no pass ran because the previous pass finished less than an interval ago.",
			},
		),
		consideredJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "considered_jobs",
				Help: "Number of eligible pending jobs considered in the most recent pass.",
			},
		),
		jobOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "job_outcomes_total",
				Help: "Number of per-job decisions made by scheduling passes, by outcome.",
			},
			[]string{outcomeLabel},
		),
		admittedJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "admitted_jobs_total",
				Help: "Number of jobs admitted, by partition.",
			},
			[]string{partitionLabel},
		),
		jobTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "job_state_transitions_total",
				Help: "Number of job state changes ingested from the job repository, by new state.",
			},
			[]string{stateLabel},
		),
		ingestedUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "ingested_job_updates_total",
				Help: "Number of job records ingested from the job repository.",
			},
		),
		ingestionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "ingestion_errors_total",
				Help: "Number of failed ingestion cycles, by reason.",
			},
			[]string{reasonLabel},
		),
		lastPassAdmitted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "last_pass_admitted_jobs",
				Help: "Number of jobs admitted by the most recent pass.",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.passDuration,
		m.passes,
		m.guardSkips,
		m.consideredJobs,
		m.jobOutcomes,
		m.admittedJobs,
		m.jobTransitions,
		m.ingestedUpdates,
		m.ingestionErrors,
		m.lastPassAdmitted,
	}
}

// Describe is necessary to implement the prometheus.Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect is necessary to implement the prometheus.Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// ReportPass updates metrics from the report of a finished pass.
func (m *Metrics) ReportPass(report *reports.PassReport) {
	m.passDuration.Observe(report.Duration().Seconds())
	if report.Aborted {
		m.passes.WithLabelValues("aborted").Inc()
	} else {
		m.passes.WithLabelValues("completed").Inc()
	}
	m.consideredJobs.Set(float64(len(report.Jobs)))
	m.lastPassAdmitted.Set(float64(report.NumAdmitted))
	for _, d := range report.Jobs {
		if d.Outcome == reports.NotConsidered {
			continue
		}
		m.jobOutcomes.WithLabelValues(string(d.Outcome)).Inc()
		if d.Outcome == reports.Admitted {
			m.admittedJobs.WithLabelValues(d.Partition).Inc()
		}
	}
}

func (m *Metrics) ReportGuardSkip() {
	m.guardSkips.Inc()
}

func (m *Metrics) ReportIngested(numUpdates int) {
	m.ingestedUpdates.Add(float64(numUpdates))
}

func (m *Metrics) ReportJobTransition(state string) {
	m.jobTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) ReportIngestionError(reason string) {
	m.ingestionErrors.WithLabelValues(reason).Inc()
}

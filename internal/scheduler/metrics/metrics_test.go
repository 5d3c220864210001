package metrics

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/sjfscheduler/internal/scheduler/reports"
)

var baseTime = time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)

func TestReportPass(t *testing.T) {
	report := reports.NewPassReport(baseTime)
	report.Jobs = []*reports.JobDecision{
		{JobId: "a", Partition: "batch"},
		{JobId: "b", Partition: "batch"},
		{JobId: "c"},
		{JobId: "d"},
	}
	report.Record(report.Jobs[0], reports.Admitted, "")
	report.Record(report.Jobs[1], reports.NoFit, "")
	report.Record(report.Jobs[2], reports.Failed, "")
	report.Abort(errors.New("node modified concurrently"))
	report.Finished = baseTime.Add(10 * time.Millisecond)

	m := New()
	m.ReportPass(report)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues("aborted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.passes.WithLabelValues("completed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.consideredJobs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lastPassAdmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobOutcomes.WithLabelValues("admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobOutcomes.WithLabelValues("no_fit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobOutcomes.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobOutcomes.WithLabelValues("not_considered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admittedJobs.WithLabelValues("batch")))
}

func TestOtherMetrics(t *testing.T) {
	m := New()
	m.ReportGuardSkip()
	m.ReportGuardSkip()
	m.ReportIngested(3)
	m.ReportJobTransition("completed")
	m.ReportIngestionError("fetch")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.guardSkips))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ingestedUpdates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobTransitions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestionErrors.WithLabelValues("fetch")))
}

func TestRegister(t *testing.T) {
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(New()))
	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

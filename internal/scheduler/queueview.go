package scheduler

import (
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/sjfscheduler/internal/common/util"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/clusterlock"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/jobdb"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/sjf"
)

var queueViewGrant = clusterlock.Spec{clusterlock.Jobs: clusterlock.Read}

// QueueView serves the eligible pending jobs in the order the next pass would consider them.
type QueueView struct {
	jobDb *jobdb.JobDb
	locks *clusterlock.Manager
}

func NewQueueView(jobDb *jobdb.JobDb, locks *clusterlock.Manager) *QueueView {
	return &QueueView{
		jobDb: jobDb,
		locks: locks,
	}
}

func (v *QueueView) Register(mux *http.ServeMux) {
	mux.Handle("/queue", v)
}

// Queue returns the eligible pending jobs in shortest-job-first order.
func (v *QueueView) Queue() ([]*jobdb.Job, error) {
	var jobs []*jobdb.Job
	err := v.locks.WithGrant(queueViewGrant, func(*clusterlock.Grant) error {
		var err error
		jobs, err = v.jobDb.EligiblePending(v.jobDb.ReadTxn())
		return err
	})
	if err != nil {
		return nil, err
	}
	sjf.Sort(jobs)
	return jobs, nil
}

func (v *QueueView) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	jobs, err := v.Queue()
	if err != nil {
		log.WithError(err).Error("error reading queue")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprint(w, formatQueue(jobs))
}

func formatQueue(jobs []*jobdb.Job) string {
	sb := util.NewTabbedStringBuilder(1, 1, 1, ' ', 0)
	sb.Writef("Position\tJob\tUser\tName\tExpected runtime\tSubmitted\tPartition\n")
	for i, job := range jobs {
		runtime := "unknown"
		if d, ok := job.ExpectedRuntime(); ok {
			runtime = d.String()
		}
		partition := job.Partition
		if partition == "" {
			partition = "(default)"
		}
		sb.Writef(
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, job.Id, job.User, job.Name, runtime, job.Submitted.UTC().Format(time.RFC3339), partition,
		)
	}
	return sb.String()
}

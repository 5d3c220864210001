package reports

import (
	"fmt"
	"net/http"
	"strings"
)

// Server exposes the contents of a PassReportRepository over http as plain text.
type Server struct {
	repository *PassReportRepository
}

func NewServer(repository *PassReportRepository) *Server {
	return &Server{
		repository: repository,
	}
}

// Register adds the report endpoints to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/reports/pass", s.handlePassReport)
	mux.HandleFunc("/reports/job", s.handleJobReport)
}

// handlePassReport serves the most recent pass report, or the most recent successful one if successful=true is given.
func (s *Server) handlePassReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	report := s.repository.MostRecentPassReport()
	if r.URL.Query().Get("successful") == "true" {
		report = s.repository.MostRecentSuccessfulPassReport()
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if report == nil {
		_, _ = fmt.Fprint(w, "No scheduling pass has run yet\n")
		return
	}
	_, _ = fmt.Fprint(w, report.String())
}

func (s *Server) handleJobReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	jobId := strings.TrimSpace(r.URL.Query().Get("id"))
	if jobId == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	decision := s.repository.JobDecision(jobId)
	if decision == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprintf(w, "No scheduling pass has considered job %s\n", jobId)
		return
	}
	_, _ = fmt.Fprint(w, decision.String())
}

package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/geopostgis/internal/ingest"
)

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Runs   int    `json:"runs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Runs:   len(s.runs.Runs()),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, s.runs.Runs())
}

// runDetail is a run's progress plus its report once finished.
type runDetail struct {
	ingest.RunProgress
	Report *ingest.Report `json:"report,omitempty"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}
	progress, found := s.runs.Run(runID)
	if !found {
		respondError(w, r, errRunNotFound, http.StatusNotFound)
		return
	}
	rep, _ := s.runs.Report(runID)
	writeJSON(w, r, runDetail{RunProgress: progress, Report: rep})
}

func (s *Server) handleRunDatasets(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.finishedReport(w, r)
	if !ok {
		return
	}

	rows := rep.Rows()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := rows[:0:0]
		for _, row := range rows {
			if row["status"] == status {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}
	writeJSON(w, r, rows)
}

func (s *Server) handleRunReportCSV(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.finishedReport(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := rep.WriteCSV(&buf); err != nil {
		respondError(w, r, fmt.Errorf("write report: %w", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rep.FileName()))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if s.workers == nil {
		writeJSON(w, r, ingest.LimiterStatus{})
		return
	}
	writeJSON(w, r, s.workers.Status())
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", errInvalidRunID, err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// finishedReport resolves the report of the run named in the URL, writing
// the error response when there is none.
func (s *Server) finishedReport(w http.ResponseWriter, r *http.Request) (*ingest.Report, bool) {
	runID, ok := s.runID(w, r)
	if !ok {
		return nil, false
	}
	if _, found := s.runs.Run(runID); !found {
		respondError(w, r, errRunNotFound, http.StatusNotFound)
		return nil, false
	}
	rep, found := s.runs.Report(runID)
	if !found {
		respondError(w, r, errReportNotReady, http.StatusConflict)
		return nil, false
	}
	return rep, true
}

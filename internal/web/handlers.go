package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/qualitygate/internal/analytics"
	"github.com/lucasnoah/qualitygate/internal/db"
)

// defaultRunLimit caps the runs listed on the dashboard and by /api/runs.
const defaultRunLimit = 50

// ---- view models ----

type DashboardData struct {
	Runs  []db.Run
	Stats *analytics.Report
}

type RunData struct {
	Run         *db.Run         `json:"run"`
	Gates       []db.GateRun    `json:"gates"`
	Attempts    []db.Attempt    `json:"attempts"`
	Escalations []db.Escalation `json:"escalations"`
	Events      []db.Event      `json:"events"`
}

// ---- helpers ----

func relTime(ts string) string {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	var t time.Time
	for _, f := range formats {
		if parsed, err := time.Parse(f, ts); err == nil {
			t = parsed
			break
		}
	}
	if t.IsZero() {
		return ts
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// runData loads a run and its children; nil when the run does not exist.
func (s *Server) runData(runID string) (*RunData, error) {
	run, err := s.db.GetRun(runID)
	if err != nil || run == nil {
		return nil, err
	}
	data := &RunData{Run: run}
	if data.Gates, err = s.db.GatesForRun(runID); err != nil {
		return nil, err
	}
	if data.Attempts, err = s.db.AttemptsForRun(runID); err != nil {
		return nil, err
	}
	if data.Escalations, err = s.db.EscalationsForRun(runID); err != nil {
		return nil, err
	}
	if data.Events, err = s.db.EventsForRun(runID); err != nil {
		return nil, err
	}
	return data, nil
}

func limitParam(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return defaultRunLimit
}

// ---- handlers ----

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListRuns(limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stats, err := analytics.Build(s.db, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.dashboardTmpl.ExecuteTemplate(w, "base", DashboardData{Runs: runs, Stats: stats}); err != nil {
		s.log.Warn("render dashboard", zap.Error(err))
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	data, err := s.runData(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if data == nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.runTmpl.ExecuteTemplate(w, "base", data); err != nil {
		s.log.Warn("render run", zap.String("run_id", data.Run.RunID), zap.Error(err))
	}
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListRuns(limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	data, err := s.runData(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if data == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, data)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	since, err := analytics.ParseSince(r.URL.Query().Get("since"), time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := analytics.Build(s.db, since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

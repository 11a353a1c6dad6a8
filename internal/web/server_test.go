package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lucasnoah/qualitygate/internal/analytics"
	"github.com/lucasnoah/qualitygate/internal/db"
	"github.com/lucasnoah/qualitygate/internal/evidence"
)

func testServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()
	d, err := db.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, d.Migrate())
	t.Cleanup(func() { d.Close() })
	return NewServer(d, "127.0.0.1:0", zaptest.NewLogger(t)), d
}

func seedRun(t *testing.T, d *db.DB, id string) {
	t.Helper()
	started := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	require.NoError(t, d.RecordRun(db.Run{
		RunID:       id,
		Mode:        "canary",
		Status:      "fail",
		StartedAt:   started,
		CompletedAt: started,
		DurationMs:  1200,
		Branch:      "feature/x",
		Findings:    1,
	}))
	require.NoError(t, d.RecordGates(id, db.PhaseRun, &evidence.RunResult{
		Gates: []evidence.GateOutcome{
			{Gate: evidence.GateLint, Status: evidence.GateFail, Findings: 1, DurationMs: 300},
			{Gate: evidence.GateTest, Status: evidence.GateSkipped, Reason: "test gate disabled in canary mode"},
		},
		Traces: []evidence.CommandTrace{{Gate: evidence.GateLint, Command: "ruff check a.py", ExitCode: 1, Scoped: true}},
	}))
	attempts := []evidence.RepairAttempt{
		{Attempt: 1, BeforeFindings: 1, AfterFindings: 1, Outcome: evidence.Unchanged, RolledBack: true},
	}
	require.NoError(t, d.RecordAttempts(id, attempts))
	require.NoError(t, d.RecordEscalation(id, &evidence.EscalationEvidence{
		Status:    "escalated",
		Code:      evidence.CodeNoImprovement,
		Rationale: "no attempt reduced the finding count",
		History:   attempts,
	}))
	require.NoError(t, d.LogEvent(id, "state", "ESCALATED"))
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDashboard(t *testing.T) {
	s, d := testServer(t)
	seedRun(t, d, "run_20260301120000_abcd1234")

	rec := get(t, s, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `<a href="/runs/run_20260301120000_abcd1234">`)
	assert.Contains(t, body, `<span class="badge badge-fail">fail</span>`)
	assert.Contains(t, body, "2h ago")
	assert.Contains(t, body, "1 escalated")
}

func TestDashboard_Empty(t *testing.T) {
	s, _ := testServer(t)

	rec := get(t, s, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No runs recorded.")
}

func TestRunPage(t *testing.T) {
	s, d := testServer(t)
	seedRun(t, d, "run_a")

	rec := get(t, s, "/runs/run_a")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ruff check a.py")
	assert.Contains(t, body, "test gate disabled in canary mode")
	assert.Contains(t, body, "Escalated: NO_IMPROVEMENT")
	assert.Contains(t, body, "on feature/x")

	assert.Equal(t, http.StatusNotFound, get(t, s, "/runs/run_missing").Code)
}

func TestAPIRuns(t *testing.T) {
	s, d := testServer(t)

	rec := get(t, s, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	seedRun(t, d, "run_a")
	seedRun(t, d, "run_b")
	rec = get(t, s, "/api/runs?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var runs []db.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestAPIRun(t *testing.T) {
	s, d := testServer(t)
	seedRun(t, d, "run_a")

	rec := get(t, s, "/api/runs/run_a")
	require.Equal(t, http.StatusOK, rec.Code)
	var data RunData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.Equal(t, "run_a", data.Run.RunID)
	assert.Len(t, data.Gates, 2)
	assert.Len(t, data.Attempts, 1)
	require.Len(t, data.Escalations, 1)
	assert.Equal(t, "NO_IMPROVEMENT", data.Escalations[0].Code)
	assert.Len(t, data.Events, 1)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/runs/run_missing").Code)
}

func TestAPIStats(t *testing.T) {
	s, d := testServer(t)
	seedRun(t, d, "run_a")

	rec := get(t, s, "/api/stats?since=7d")
	require.Equal(t, http.StatusOK, rec.Code)
	var report analytics.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Modes, 1)
	assert.Equal(t, 1, report.Modes[0].Runs)
	require.Len(t, report.Escalations, 1)
	assert.Equal(t, "NO_IMPROVEMENT", report.Escalations[0].Code)

	rec = get(t, s, "/api/stats?since=1m")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Empty(t, report.Modes)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/stats?since=soon").Code)
}

func TestRelTime(t *testing.T) {
	now := time.Now().UTC()
	assert.Equal(t, "just now", relTime(now.Format(time.RFC3339)))
	assert.Equal(t, "5m ago", relTime(now.Add(-5*time.Minute-time.Second).Format(time.RFC3339)))
	assert.Equal(t, "3d ago", relTime(now.Add(-73*time.Hour).Format(time.RFC3339)))
	assert.Equal(t, "not a time", relTime("not a time"))
}

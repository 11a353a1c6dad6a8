package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, d.Migrate())
	t.Cleanup(func() { d.Close() })
	return d
}

func sampleRun(id, started string) Run {
	return Run{
		RunID:        id,
		Mode:         "canary",
		Status:       "fail",
		StartedAt:    started,
		CompletedAt:  started,
		DurationMs:   1500,
		Repo:         "git@example.com:acme/app.git",
		Branch:       "main",
		ChangedFiles: 2,
		Findings:     3,
		ConfigSource: "qgate.toml",
	}
}

func TestMigrate(t *testing.T) {
	d := testDB(t)

	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}

	// A second migration is a no-op.
	require.NoError(t, d.Migrate())
	var count int
	require.NoError(t, d.conn.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".qgate", "history.db")
	d, err := Open(path)
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Migrate())
	assert.Equal(t, SQLite, d.Backend())
	assert.FileExists(t, path)
}

func TestReset(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.RecordRun(sampleRun("run_a", "2026-03-01T10:00:00Z")))

	require.NoError(t, d.Reset())

	runs, err := d.ListRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestBackendOf(t *testing.T) {
	assert.Equal(t, Postgres, BackendOf("postgres://qgate@localhost/qgate"))
	assert.Equal(t, Postgres, BackendOf("postgresql://localhost/qgate?sslmode=disable"))
	assert.Equal(t, SQLite, BackendOf(".qgate/history.db"))
	assert.Equal(t, SQLite, BackendOf(":memory:"))
}

func TestRebind(t *testing.T) {
	pg := &DB{backend: Postgres}
	assert.Equal(t, "SELECT * FROM runs WHERE run_id = $1 AND mode = $2", pg.rebind("SELECT * FROM runs WHERE run_id = ? AND mode = ?"))

	lite := &DB{backend: SQLite}
	assert.Equal(t, "SELECT ? ", lite.rebind("SELECT ? "))

	assert.Contains(t, pg.schema(), "BIGSERIAL PRIMARY KEY")
	assert.Contains(t, lite.schema(), "AUTOINCREMENT")
}

func TestRecordRun_ListAndGet(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.RecordRun(sampleRun("run_a", "2026-03-01T10:00:00Z")))
	b := sampleRun("run_b", "2026-03-01T11:00:00Z")
	b.Mode = "full"
	b.Status = "pass"
	b.Findings = 0
	b.Repo = ""
	require.NoError(t, d.RecordRun(b))

	runs, err := d.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_b", runs[0].RunID, "newest first")
	assert.Equal(t, "full", runs[0].Mode)
	assert.Empty(t, runs[0].Repo)
	assert.Equal(t, "run_a", runs[1].RunID)

	runs, err = d.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	got, err := d.GetRun("run_a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sampleRun("run_a", "2026-03-01T10:00:00Z"), *got)

	missing, err := d.GetRun("run_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecordRun_ReplacesSameID(t *testing.T) {
	d := testDB(t)
	r := sampleRun("run_a", "2026-03-01T10:00:00Z")
	require.NoError(t, d.RecordRun(r))
	r.Status = "pass"
	require.NoError(t, d.RecordRun(r))

	runs, err := d.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "pass", runs[0].Status)
}

func TestRecordGates(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.RecordRun(sampleRun("run_a", "2026-03-01T10:00:00Z")))

	res := &evidence.RunResult{
		Mode: evidence.ModeCanary,
		Gates: []evidence.GateOutcome{
			{Gate: evidence.GateLint, Status: evidence.GateFail, DurationMs: 120, Findings: 2},
			{Gate: evidence.GateTypecheck, Status: evidence.GateError, Reason: "timeout after 10m0s", DurationMs: 600000},
			{Gate: evidence.GateTest, Status: evidence.GateSkipped, Reason: "skipped in canary mode"},
		},
		Traces: []evidence.CommandTrace{
			{Gate: evidence.GateLint, Command: "ruff check --output-format json a.py", ExitCode: 1, Scoped: true},
			{Gate: evidence.GateTypecheck, Command: "pyright --outputjson a.py", ExitCode: -1, TimedOut: true, Scoped: true},
		},
	}
	require.NoError(t, d.RecordGates("run_a", PhaseRun, res))

	got, err := d.GatesForRun("run_a")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "lint", got[0].Gate)
	assert.Equal(t, "fail", got[0].Status)
	assert.Equal(t, PhaseRun, got[0].Phase)
	require.NotNil(t, got[0].ExitCode)
	assert.Equal(t, 1, *got[0].ExitCode)
	assert.True(t, got[0].Scoped)
	assert.Equal(t, 2, got[0].Findings)

	assert.True(t, got[1].TimedOut)
	assert.Equal(t, "timeout after 10m0s", got[1].Reason)

	assert.Equal(t, "skipped", got[2].Status)
	assert.Nil(t, got[2].ExitCode, "skipped gates have no command")
	assert.Empty(t, got[2].Command)
}

func TestRecordGates_UnknownRunViolatesForeignKey(t *testing.T) {
	d := testDB(t)
	res := &evidence.RunResult{Gates: []evidence.GateOutcome{{Gate: evidence.GateLint, Status: evidence.GatePass}}}
	assert.Error(t, d.RecordGates("run_missing", PhaseRun, res))
}

func TestRecordAttemptsAndEscalation(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.RecordRun(sampleRun("run_a", "2026-03-01T10:00:00Z")))

	history := []evidence.RepairAttempt{
		{Attempt: 1, BeforeFindings: 3, AfterFindings: 2, PatchLines: 4, Outcome: evidence.Improved,
			Patch: evidence.PatchSummary{FilesChanged: 1, LinesChanged: 4}},
		{Attempt: 2, BeforeFindings: 2, AfterFindings: 2, PatchLines: 0, Outcome: evidence.Unchanged, RolledBack: true},
	}
	require.NoError(t, d.RecordAttempts("run_a", history))

	attempts, err := d.AttemptsForRun("run_a")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].Attempt)
	assert.Equal(t, "improved", attempts[0].Outcome)
	assert.Equal(t, 1, attempts[0].FilesChanged)
	assert.False(t, attempts[0].RolledBack)
	assert.Equal(t, "unchanged", attempts[1].Outcome)
	assert.True(t, attempts[1].RolledBack)

	ev := &evidence.EscalationEvidence{
		Status:    "escalated",
		Code:      evidence.CodeNoImprovement,
		Rationale: "no improvement in 2 consecutive attempts",
		History:   history,
		Remaining: []evidence.Finding{{ID: "lint:E501:a.py:3:41"}, {ID: "lint:E501:a.py:9:41"}},
	}
	require.NoError(t, d.RecordEscalation("run_a", ev))

	escs, err := d.EscalationsForRun("run_a")
	require.NoError(t, err)
	require.Len(t, escs, 1)
	assert.Equal(t, "NO_IMPROVEMENT", escs[0].Code)
	assert.Equal(t, 2, escs[0].Attempts)
	assert.Equal(t, 2, escs[0].Remaining)
	assert.NotEmpty(t, escs[0].RecordedAt)
}

func TestLogEvent(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.LogEvent("run_a", "state", "INIT"))
	require.NoError(t, d.LogEvent("run_a", "state", "BACKED_UP"))
	require.NoError(t, d.LogEvent("run_b", "state", "INIT"))
	require.NoError(t, d.LogEvent("run_a", "passed", ""))

	events, err := d.EventsForRun("run_a")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "INIT", events[0].Detail)
	assert.Equal(t, "BACKED_UP", events[1].Detail)
	assert.Equal(t, "passed", events[2].Event)
	assert.Empty(t, events[2].Detail)
}

func TestCascadeOnRunReplace(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.RecordRun(sampleRun("run_a", "2026-03-01T10:00:00Z")))
	require.NoError(t, d.RecordAttempts("run_a", []evidence.RepairAttempt{{Attempt: 1, Outcome: evidence.Improved}}))

	require.NoError(t, d.RecordRun(sampleRun("run_a", "2026-03-01T10:00:00Z")))

	attempts, err := d.AttemptsForRun("run_a")
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

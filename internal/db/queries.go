package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

// Phase tells an initial gate run from the re-runs inside a repair.
const (
	PhaseRun    = "run"
	PhaseRepair = "repair"
)

// Run represents a row in the runs table.
type Run struct {
	RunID               string `json:"run_id"`
	Mode                string `json:"mode"`
	Status              string `json:"status"`
	StartedAt           string `json:"started_at"`
	CompletedAt         string `json:"completed_at"`
	DurationMs          int64  `json:"duration_ms"`
	Repo                string `json:"repo"`
	Branch              string `json:"branch"`
	ChangedFiles        int    `json:"changed_files"`
	Findings            int    `json:"findings"`
	GateExecutionFailed bool   `json:"gate_execution_failed"`
	ConfigSource        string `json:"config_source"`
}

// GateRun represents a row in the gate_runs table.
type GateRun struct {
	ID         int    `json:"id"`
	RunID      string `json:"run_id"`
	Phase      string `json:"phase"`
	Gate       string `json:"gate"`
	Status     string `json:"status"`
	Reason     string `json:"reason"`
	Command    string `json:"command"`
	ExitCode   *int   `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	Scoped     bool   `json:"scoped"`
	DurationMs int64  `json:"duration_ms"`
	Findings   int    `json:"findings"`
}

// Attempt represents a row in the repair_attempts table.
type Attempt struct {
	ID             int    `json:"id"`
	RunID          string `json:"run_id"`
	Attempt        int    `json:"attempt"`
	BeforeFindings int    `json:"before_findings"`
	AfterFindings  int    `json:"after_findings"`
	PatchLines     int    `json:"patch_lines"`
	FilesChanged   int    `json:"files_changed"`
	Outcome        string `json:"outcome"`
	RolledBack     bool   `json:"rolled_back"`
	RecordedAt     string `json:"recorded_at"`
}

// Escalation represents a row in the escalations table.
type Escalation struct {
	ID         int    `json:"id"`
	RunID      string `json:"run_id"`
	Code       string `json:"code"`
	Rationale  string `json:"rationale"`
	Attempts   int    `json:"attempts"`
	Remaining  int    `json:"remaining"`
	RecordedAt string `json:"recorded_at"`
}

// Event represents a row in the events table.
type Event struct {
	ID         int    `json:"id"`
	RunID      string `json:"run_id"`
	Event      string `json:"event"`
	Detail     string `json:"detail"`
	RecordedAt string `json:"recorded_at"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// RecordRun inserts a run, replacing an earlier row with the same id.
func (d *DB) RecordRun(r Run) error {
	_, err := d.exec(`DELETE FROM runs WHERE run_id = ?`, r.RunID)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	_, err = d.exec(
		`INSERT INTO runs (run_id, mode, status, started_at, completed_at, duration_ms, repo, branch,
		 changed_files, findings, gate_execution_failed, config_source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Mode, r.Status, r.StartedAt, r.CompletedAt, r.DurationMs, nullString(r.Repo), nullString(r.Branch),
		r.ChangedFiles, r.Findings, r.GateExecutionFailed, nullString(r.ConfigSource),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecordGates inserts one gate_runs row per gate outcome. The trace with the
// same gate supplies the command, exit code and scoping.
func (d *DB) RecordGates(runID, phase string, res *evidence.RunResult) error {
	traces := make(map[evidence.Gate]evidence.CommandTrace, len(res.Traces))
	for _, t := range res.Traces {
		traces[t.Gate] = t
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, g := range res.Gates {
		var command sql.NullString
		var exitCode sql.NullInt64
		var timedOut, scoped bool
		if t, ok := traces[g.Gate]; ok {
			command = sql.NullString{String: t.Command, Valid: true}
			exitCode = sql.NullInt64{Int64: int64(t.ExitCode), Valid: true}
			timedOut, scoped = t.TimedOut, t.Scoped
		}
		_, err := tx.Exec(d.rebind(
			`INSERT INTO gate_runs (run_id, phase, gate, status, reason, command, exit_code, timed_out, scoped, duration_ms, findings)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			runID, phase, string(g.Gate), string(g.Status), nullString(g.Reason), command, exitCode,
			timedOut, scoped, g.DurationMs, g.Findings,
		)
		if err != nil {
			return fmt.Errorf("record gate %s: %w", g.Gate, err)
		}
	}
	return tx.Commit()
}

// RecordAttempts inserts the repair attempt history of a run.
func (d *DB) RecordAttempts(runID string, history []evidence.RepairAttempt) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	for _, a := range history {
		_, err := tx.Exec(d.rebind(
			`INSERT INTO repair_attempts (run_id, attempt, before_findings, after_findings, patch_lines, files_changed, outcome, rolled_back, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			runID, a.Attempt, a.BeforeFindings, a.AfterFindings, a.PatchLines, a.Patch.FilesChanged,
			string(a.Outcome), a.RolledBack, ts,
		)
		if err != nil {
			return fmt.Errorf("record attempt %d: %w", a.Attempt, err)
		}
	}
	return tx.Commit()
}

// RecordEscalation inserts an escalation for a run.
func (d *DB) RecordEscalation(runID string, ev *evidence.EscalationEvidence) error {
	_, err := d.exec(
		`INSERT INTO escalations (run_id, code, rationale, attempts, remaining, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, string(ev.Code), ev.Rationale, len(ev.History), len(ev.Remaining), now(),
	)
	if err != nil {
		return fmt.Errorf("record escalation: %w", err)
	}
	return nil
}

// LogEvent inserts a free-form event for a run.
func (d *DB) LogEvent(runID, event, detail string) error {
	_, err := d.exec(
		`INSERT INTO events (run_id, event, detail, recorded_at) VALUES (?, ?, ?, ?)`,
		runID, event, nullString(detail), now(),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(limit int) ([]Run, error) {
	rows, err := d.query(
		`SELECT run_id, mode, status, started_at, completed_at, duration_ms, repo, branch,
		 changed_files, findings, gate_execution_failed, config_source
		 FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns one run, or nil when it does not exist.
func (d *DB) GetRun(runID string) (*Run, error) {
	row := d.queryRow(
		`SELECT run_id, mode, status, started_at, completed_at, duration_ms, repo, branch,
		 changed_files, findings, gate_execution_failed, config_source
		 FROM runs WHERE run_id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var repo, branch, source sql.NullString
	err := s.Scan(&r.RunID, &r.Mode, &r.Status, &r.StartedAt, &r.CompletedAt, &r.DurationMs, &repo, &branch,
		&r.ChangedFiles, &r.Findings, &r.GateExecutionFailed, &source)
	if err != nil {
		return nil, err
	}
	r.Repo, r.Branch, r.ConfigSource = repo.String, branch.String, source.String
	return &r, nil
}

// GatesForRun returns the gate executions of a run in insertion order.
func (d *DB) GatesForRun(runID string) ([]GateRun, error) {
	rows, err := d.query(
		`SELECT id, run_id, phase, gate, status, reason, command, exit_code, timed_out, scoped, duration_ms, findings
		 FROM gate_runs WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get gate runs: %w", err)
	}
	defer rows.Close()

	var out []GateRun
	for rows.Next() {
		var g GateRun
		var reason, command sql.NullString
		var exitCode sql.NullInt64
		if err := rows.Scan(&g.ID, &g.RunID, &g.Phase, &g.Gate, &g.Status, &reason, &command, &exitCode,
			&g.TimedOut, &g.Scoped, &g.DurationMs, &g.Findings); err != nil {
			return nil, fmt.Errorf("scan gate run: %w", err)
		}
		g.Reason, g.Command = reason.String, command.String
		if exitCode.Valid {
			v := int(exitCode.Int64)
			g.ExitCode = &v
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AttemptsForRun returns the repair attempts of a run by attempt number.
func (d *DB) AttemptsForRun(runID string) ([]Attempt, error) {
	rows, err := d.query(
		`SELECT id, run_id, attempt, before_findings, after_findings, patch_lines, files_changed, outcome, rolled_back, recorded_at
		 FROM repair_attempts WHERE run_id = ? ORDER BY attempt ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.RunID, &a.Attempt, &a.BeforeFindings, &a.AfterFindings, &a.PatchLines,
			&a.FilesChanged, &a.Outcome, &a.RolledBack, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// EscalationsForRun returns the escalations recorded for a run.
func (d *DB) EscalationsForRun(runID string) ([]Escalation, error) {
	rows, err := d.query(
		`SELECT id, run_id, code, rationale, attempts, remaining, recorded_at
		 FROM escalations WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get escalations: %w", err)
	}
	defer rows.Close()

	var out []Escalation
	for rows.Next() {
		var e Escalation
		if err := rows.Scan(&e.ID, &e.RunID, &e.Code, &e.Rationale, &e.Attempts, &e.Remaining, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventsForRun returns the events of a run in insertion order.
func (d *DB) EventsForRun(runID string) ([]Event, error) {
	rows, err := d.query(
		`SELECT id, run_id, event, detail, recorded_at FROM events WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &detail, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

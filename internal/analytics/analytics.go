package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// ParseSince turns a --since value into the RFC3339 lower bound compared
// against runs.started_at. It accepts a Go duration ("36h"), a day count
// ("7d"), a date ("2026-03-01") or an RFC3339 timestamp. Empty means no
// bound.
func ParseSince(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n >= 0 {
			return now.UTC().AddDate(0, 0, -n).Format(time.RFC3339), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.UTC().Add(-d).Format(time.RFC3339), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC().Format(time.RFC3339), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(time.RFC3339), nil
	}
	return "", fmt.Errorf("unrecognized --since %q (want a duration like 36h or 7d, a date or an RFC3339 time)", s)
}

// sinceClause appends the started_at bound when since is set.
func sinceClause(query string, args []any, since, prefix string) (string, []any) {
	if since == "" {
		return query, args
	}
	return query + ` ` + prefix + ` r.started_at >= ?`, append(args, since)
}

// ModeSummary holds run outcomes for one mode.
type ModeSummary struct {
	Mode          string  `json:"mode"`
	Runs          int     `json:"runs"`
	PassPct       float64 `json:"pass_pct"`
	AvgFindings   float64 `json:"avg_findings"`
	P50DurationMs float64 `json:"p50_duration_ms"`
	P95DurationMs float64 `json:"p95_duration_ms"`
}

// QueryModeSummaries returns pass rates and durations of initial runs per
// mode.
func QueryModeSummaries(database DB, since string) ([]ModeSummary, error) {
	query, args := sinceClause(`SELECT r.mode, r.status, r.findings, r.duration_ms FROM runs r`, nil, since, "WHERE")

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query mode summaries: %w", err)
	}
	defer rows.Close()

	type modeInfo struct {
		runs, passed int
		findings     []float64
		durations    []float64
	}
	byMode := make(map[string]*modeInfo)
	for rows.Next() {
		var mode, status string
		var findings int
		var durationMs int64
		if err := rows.Scan(&mode, &status, &findings, &durationMs); err != nil {
			return nil, fmt.Errorf("scan mode summary: %w", err)
		}
		info, ok := byMode[mode]
		if !ok {
			info = &modeInfo{}
			byMode[mode] = info
		}
		info.runs++
		if status == "pass" {
			info.passed++
		}
		info.findings = append(info.findings, float64(findings))
		info.durations = append(info.durations, float64(durationMs))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []ModeSummary
	for mode, info := range byMode {
		sort.Float64s(info.durations)
		results = append(results, ModeSummary{
			Mode:          mode,
			Runs:          info.runs,
			PassPct:       pct(info.passed, info.runs),
			AvgFindings:   avg(info.findings),
			P50DurationMs: percentile(info.durations, 50),
			P95DurationMs: percentile(info.durations, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Mode < results[j].Mode
	})
	return results, nil
}

// GateStats holds execution stats for one gate.
type GateStats struct {
	Gate      string  `json:"gate"`
	Executed  int     `json:"executed"`
	FailPct   float64 `json:"fail_pct"`
	ErrorPct  float64 `json:"error_pct"`
	AvgMs     float64 `json:"avg_duration_ms"`
	P95Ms     float64 `json:"p95_duration_ms"`
	Findings  int     `json:"findings"`
	TimedOut  int     `json:"timed_out"`
	Unscoped  int     `json:"unscoped"`
	RepairRun int     `json:"repair_reruns"`
}

// QueryGateStats returns failure rates and durations per gate. Skipped
// gates are not counted. Rates and durations cover initial runs only;
// repair re-runs are reported separately.
func QueryGateStats(database DB, since string) ([]GateStats, error) {
	query, args := sinceClause(`
		SELECT g.gate, g.phase, g.status, g.duration_ms, g.findings, g.timed_out, g.scoped
		FROM gate_runs g
		JOIN runs r ON r.run_id = g.run_id
		WHERE g.status != 'skipped'`, nil, since, "AND")

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query gate stats: %w", err)
	}
	defer rows.Close()

	type gateInfo struct {
		stats     GateStats
		failed    int
		errored   int
		durations []float64
	}
	byGate := make(map[string]*gateInfo)
	for rows.Next() {
		var gate, phase, status string
		var durationMs int64
		var findings int
		var timedOut, scoped bool
		if err := rows.Scan(&gate, &phase, &status, &durationMs, &findings, &timedOut, &scoped); err != nil {
			return nil, fmt.Errorf("scan gate stats: %w", err)
		}
		info, ok := byGate[gate]
		if !ok {
			info = &gateInfo{stats: GateStats{Gate: gate}}
			byGate[gate] = info
		}
		if phase != "run" {
			info.stats.RepairRun++
			continue
		}
		info.stats.Executed++
		info.stats.Findings += findings
		switch status {
		case "fail":
			info.failed++
		case "error":
			info.errored++
		}
		if timedOut {
			info.stats.TimedOut++
		}
		if !scoped {
			info.stats.Unscoped++
		}
		info.durations = append(info.durations, float64(durationMs))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []GateStats
	for _, info := range byGate {
		sort.Float64s(info.durations)
		s := info.stats
		s.FailPct = pct(info.failed, s.Executed)
		s.ErrorPct = pct(info.errored, s.Executed)
		s.AvgMs = avg(info.durations)
		s.P95Ms = percentile(info.durations, 95)
		results = append(results, s)
	}
	sort.Slice(results, func(i, j int) bool {
		return gateOrder(results[i].Gate) < gateOrder(results[j].Gate)
	})
	return results, nil
}

func gateOrder(g string) int {
	switch g {
	case "lint":
		return 0
	case "typecheck":
		return 1
	case "test":
		return 2
	}
	return 3
}

// RepairSummary holds repair loop outcomes across runs.
type RepairSummary struct {
	Runs          int     `json:"runs"`
	Passed        int     `json:"passed"`
	Escalated     int     `json:"escalated"`
	PassPct       float64 `json:"pass_pct"`
	AvgAttempts   float64 `json:"avg_attempts"`
	RolledBackPct float64 `json:"rolled_back_pct"`
}

// QueryRepairSummary returns how often the repair loop passed or escalated.
// A run counts once it has a repair attempt or an escalation.
func QueryRepairSummary(database DB, since string) (*RepairSummary, error) {
	query, args := sinceClause(`
		SELECT r.run_id,
			(SELECT COUNT(*) FROM repair_attempts a WHERE a.run_id = r.run_id) AS attempts,
			(SELECT COUNT(*) FROM repair_attempts a WHERE a.run_id = r.run_id AND a.rolled_back) AS rolled_back,
			(SELECT COUNT(*) FROM escalations e WHERE e.run_id = r.run_id) AS escalations
		FROM runs r`, nil, since, "WHERE")

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query repair summary: %w", err)
	}
	defer rows.Close()

	sum := &RepairSummary{}
	var attempts []float64
	totalAttempts, rolledBack := 0, 0
	for rows.Next() {
		var runID string
		var n, rb, esc int
		if err := rows.Scan(&runID, &n, &rb, &esc); err != nil {
			return nil, fmt.Errorf("scan repair summary: %w", err)
		}
		if n == 0 && esc == 0 {
			continue
		}
		sum.Runs++
		if esc > 0 {
			sum.Escalated++
		} else {
			sum.Passed++
		}
		attempts = append(attempts, float64(n))
		totalAttempts += n
		rolledBack += rb
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sum.PassPct = pct(sum.Passed, sum.Runs)
	sum.AvgAttempts = avg(attempts)
	sum.RolledBackPct = pct(rolledBack, totalAttempts)
	return sum, nil
}

// EscalationCount holds how often one escalation code was raised.
type EscalationCount struct {
	Code  string  `json:"code"`
	Count int     `json:"count"`
	Pct   float64 `json:"pct"`
}

// QueryEscalationCodes returns escalation counts per code, most frequent
// first.
func QueryEscalationCodes(database DB, since string) ([]EscalationCount, error) {
	query, args := sinceClause(`
		SELECT e.code, COUNT(*) AS n
		FROM escalations e
		JOIN runs r ON r.run_id = e.run_id`, nil, since, "WHERE")
	query += ` GROUP BY e.code`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query escalation codes: %w", err)
	}
	defer rows.Close()

	var results []EscalationCount
	total := 0
	for rows.Next() {
		var ec EscalationCount
		if err := rows.Scan(&ec.Code, &ec.Count); err != nil {
			return nil, fmt.Errorf("scan escalation code: %w", err)
		}
		total += ec.Count
		results = append(results, ec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		results[i].Pct = pct(results[i].Count, total)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Code < results[j].Code
	})
	return results, nil
}

// Report bundles every query for one --since window.
type Report struct {
	Since       string            `json:"since,omitempty"`
	Modes       []ModeSummary     `json:"modes"`
	Gates       []GateStats       `json:"gates"`
	Repair      *RepairSummary    `json:"repair"`
	Escalations []EscalationCount `json:"escalations"`
}

// Build runs every query.
func Build(database DB, since string) (*Report, error) {
	r := &Report{Since: since}
	var err error
	if r.Modes, err = QueryModeSummaries(database, since); err != nil {
		return nil, err
	}
	if r.Gates, err = QueryGateStats(database, since); err != nil {
		return nil, err
	}
	if r.Repair, err = QueryRepairSummary(database, since); err != nil {
		return nil, err
	}
	if r.Escalations, err = QueryEscalationCodes(database, since); err != nil {
		return nil, err
	}
	return r, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}

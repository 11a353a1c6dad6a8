package gates

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

const ruffJSON = `[
  {"code": "F401", "message": "` + "`os`" + ` imported but unused", "filename": "/repo/a.py",
   "location": {"row": 3, "column": 1}, "end_location": {"row": 3, "column": 10}, "fix": {"applicability": "safe"}},
  {"code": "E501", "message": "Line too long (120 > 88)", "filename": "/repo/pkg/b.py",
   "location": {"row": 47, "column": 89}},
  {"code": "D100", "message": "Missing docstring in public module", "filename": "pkg/c.py",
   "location": {"row": 1, "column": 1}},
  {"code": null, "message": "SyntaxError: Expected an expression", "filename": "/repo/d.py",
   "location": {"row": 2, "column": 5}}
]`

func TestRuffAdapter(t *testing.T) {
	p := (&RuffAdapter{}).Parse(evidence.GateLint, Output{Stdout: ruffJSON, ExitCode: 1, Root: "/repo"})
	require.False(t, p.Unparseable)
	require.Len(t, p.Findings, 4)

	f := p.Findings[0]
	assert.Equal(t, "lint:F401:a.py:3:1", f.ID)
	assert.Equal(t, evidence.SeverityError, f.Severity)
	assert.Equal(t, "pkg/b.py", p.Findings[1].FilePath)
	assert.Equal(t, evidence.SeverityWarning, p.Findings[2].Severity)
	assert.Equal(t, "syntax-error", p.Findings[3].RuleCode)
	assert.Equal(t, evidence.SeverityError, p.Findings[3].Severity)
}

func TestRuffAdapter_Unparseable(t *testing.T) {
	p := (&RuffAdapter{}).Parse(evidence.GateLint, Output{Stdout: "error: unrecognized subcommand", ExitCode: 2})
	assert.True(t, p.Unparseable)
	assert.Empty(t, p.Findings)
}

func TestRuffAdapter_StableAcrossParses(t *testing.T) {
	out := Output{Stdout: ruffJSON, ExitCode: 1, Root: "/repo"}
	a := (&RuffAdapter{}).Parse(evidence.GateLint, out)
	b := (&RuffAdapter{}).Parse(evidence.GateLint, out)
	assert.Equal(t, a.Findings, b.Findings)
}

func TestPyrightAdapter(t *testing.T) {
	stdout := `{
	  "version": "1.1.380",
	  "generalDiagnostics": [
	    {"file": "/repo/m.py", "severity": "error", "message": "Cannot access attribute",
	     "rule": "reportAttributeAccessIssue", "range": {"start": {"line": 9, "character": 4}, "end": {"line": 9, "character": 8}}},
	    {"file": "/repo/m.py", "severity": "information", "message": "hint",
	     "range": {"start": {"line": 0, "character": 0}}},
	    {"file": "/repo/n.py", "severity": "warning", "message": "Import could not be resolved",
	     "range": {"start": {"line": 0, "character": 7}}}
	  ],
	  "summary": {"errorCount": 1, "warningCount": 1}
	}`
	p := (&PyrightAdapter{}).Parse(evidence.GateTypecheck, Output{Stdout: stdout, ExitCode: 1, Root: "/repo"})
	require.False(t, p.Unparseable)
	require.Len(t, p.Findings, 2, "information diagnostics are dropped")

	assert.Equal(t, "typecheck:reportAttributeAccessIssue:m.py:10:5", p.Findings[0].ID)
	assert.Equal(t, "pyright", p.Findings[1].RuleCode)
	assert.Equal(t, evidence.SeverityWarning, p.Findings[1].Severity)
	assert.Equal(t, 1, p.Findings[1].Line)
	assert.Equal(t, 8, p.Findings[1].Column)
}

func TestPyrightAdapter_MissingDiagnostics(t *testing.T) {
	p := (&PyrightAdapter{}).Parse(evidence.GateTypecheck, Output{Stdout: `{"version": "1.1.380"}`, ExitCode: 3})
	assert.True(t, p.Unparseable)
}

func TestPytestAdapter_Report(t *testing.T) {
	report := `{
	  "exitcode": 1,
	  "collectors": [
	    {"nodeid": "tests/test_broken.py", "outcome": "failed", "longrepr": "ImportError while importing test module"},
	    {"nodeid": "tests/test_ok.py", "outcome": "passed"}
	  ],
	  "tests": [
	    {"nodeid": "tests/test_x.py::test_a", "outcome": "passed"},
	    {"nodeid": "tests/test_x.py::test_b", "outcome": "failed",
	     "call": {"outcome": "failed", "longrepr": "assert 1 == 2\n  where ..."}},
	    {"nodeid": "tests/test_y.py::test_c", "outcome": "error",
	     "setup": {"outcome": "failed", "longrepr": "fixture 'db' not found"}}
	  ]
	}`
	p := (&PytestAdapter{}).Parse(evidence.GateTest, Output{Report: []byte(report), ExitCode: 1})
	require.False(t, p.Unparseable)
	require.Len(t, p.Findings, 3)

	assert.Equal(t, "collection-error", p.Findings[0].RuleCode)
	assert.Equal(t, "tests/test_broken.py", p.Findings[0].FilePath)

	assert.Equal(t, "tests/test_x.py::test_b", p.Findings[1].RuleCode)
	assert.Equal(t, "tests/test_x.py", p.Findings[1].FilePath)
	assert.Equal(t, "tests/test_x.py::test_b: assert 1 == 2", p.Findings[1].Message)

	assert.Equal(t, "tests/test_y.py::test_c: fixture 'db' not found", p.Findings[2].Message)
}

func TestPytestAdapter_SummaryFallback(t *testing.T) {
	stdout := `..F.E
=========================== short test summary info ============================
FAILED tests/test_x.py::test_b - assert 1 == 2
ERROR tests/test_y.py::test_c
2 failed, 3 passed in 0.12s
`
	p := (&PytestAdapter{}).Parse(evidence.GateTest, Output{Stdout: stdout, ExitCode: 1})
	require.Len(t, p.Findings, 2)
	assert.Equal(t, "test:tests/test_x.py::test_b:tests/test_x.py:0:0", p.Findings[0].ID)
	assert.Equal(t, "tests/test_y.py::test_c error", p.Findings[1].Message)

	p = (&PytestAdapter{}).Parse(evidence.GateTest, Output{Stdout: "INTERNALERROR> boom", ExitCode: 3})
	assert.True(t, p.Unparseable)
}

func TestESLintAdapter(t *testing.T) {
	stdout := `[{
		"filePath": "/app/src/auth.ts",
		"messages": [
			{"ruleId": "no-unused-vars", "severity": 2, "message": "x is unused", "line": 42, "column": 5},
			{"ruleId": null, "severity": 1, "message": "Parsing warning", "line": 1, "column": 1}
		]
	}]`
	p := (&ESLintAdapter{}).Parse(evidence.GateLint, Output{Stdout: stdout, ExitCode: 1, Root: "/app"})
	require.Len(t, p.Findings, 2)
	assert.Equal(t, "lint:no-unused-vars:src/auth.ts:42:5", p.Findings[0].ID)
	assert.Equal(t, "eslint", p.Findings[1].RuleCode)
	assert.Equal(t, "1 errors, 1 warnings", p.Summary)
}

func TestTypeScriptAdapter(t *testing.T) {
	stdout := "src/auth.ts(42,5): error TS2345: Argument of type 'string' is not assignable.\nFound 1 error.\n"
	p := (&TypeScriptAdapter{}).Parse(evidence.GateTypecheck, Output{Stdout: stdout, ExitCode: 2})
	require.Len(t, p.Findings, 1)
	assert.Equal(t, "TS2345", p.Findings[0].RuleCode)
	assert.Equal(t, 42, p.Findings[0].Line)
}

func TestVitestAdapter(t *testing.T) {
	stdout := `{
		"numFailedTests": 1,
		"testResults": [
			{"name": "/app/src/a.test.ts", "status": "failed", "assertionResults": [
				{"fullName": "a adds", "status": "failed", "failureMessages": ["expected 2 to be 3\n at ..."], "location": {"line": 4, "column": 3}},
				{"fullName": "a subtracts", "status": "passed"}
			]},
			{"name": "/app/src/b.test.ts", "status": "failed", "message": "Cannot find module './b'", "assertionResults": []}
		]
	}`
	p := (&VitestAdapter{}).Parse(evidence.GateTest, Output{Stdout: stdout, ExitCode: 1, Root: "/app"})
	require.Len(t, p.Findings, 2)
	assert.Equal(t, "a adds: expected 2 to be 3", p.Findings[0].Message)
	assert.Equal(t, 4, p.Findings[0].Line)
	assert.Equal(t, "suite-error", p.Findings[1].RuleCode)
	assert.Equal(t, "src/b.test.ts", p.Findings[1].FilePath)
}

func TestPrettierAdapter(t *testing.T) {
	stdout := "Checking formatting...\n[warn] src/auth.ts\n[warn] src/index.ts\n[warn] Code style issues found in 2 files. Forgot to run Prettier?\n"
	p := (&PrettierAdapter{}).Parse(evidence.GateLint, Output{Stdout: stdout, ExitCode: 1})
	require.Len(t, p.Findings, 2)
	assert.Equal(t, "src/index.ts", p.Findings[1].FilePath)
}

func TestGenericAdapter(t *testing.T) {
	p := (&GenericAdapter{}).Parse(evidence.GateTest, Output{Stdout: "running\n", Stderr: "Traceback\nboom", ExitCode: 4})
	require.Len(t, p.Findings, 1)
	f := p.Findings[0]
	assert.Equal(t, "exit-4", f.RuleCode)
	assert.Equal(t, "test:exit-4::0:0", f.ID)
	assert.Contains(t, f.Message, "test command failed with exit code 4")
	assert.Contains(t, f.Message, "boom")
}

func TestLookup(t *testing.T) {
	for _, n := range []string{"ruff", "pyright", "pytest", "eslint", "typescript", "vitest", "prettier", "generic"} {
		_, err := Lookup(n)
		assert.NoError(t, err, n)
	}
	_, err := Lookup("npm-audit")
	assert.ErrorContains(t, err, "unknown parser")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "first", firstLine("  first  \nsecond", 0))
	assert.Equal(t, "hé", firstLine("héllo", 3))
	assert.Equal(t, "a", firstLine("aé", 2), "a multi-byte rune is dropped, not split")

	long := firstLine(strings.Repeat("ß", 150), 200)
	assert.True(t, utf8.ValidString(long))
	assert.Len(t, long, 200)
}

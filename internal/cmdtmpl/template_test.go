package cmdtmpl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_SimpleVars(t *testing.T) {
	out, err := Render("ruff check --output-format json {{targets}}", Vars{"targets": "a.py b.py"})
	require.NoError(t, err)
	assert.Equal(t, "ruff check --output-format json a.py b.py", out)
}

func TestRender_MissingVar(t *testing.T) {
	_, err := Render("pytest {{report}} {{targets}}", Vars{"targets": "."})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report")
}

func TestRender_Conditional(t *testing.T) {
	tmpl := "pyright --outputjson{{#if targets}} {{targets}}{{/if}}"

	out, err := Render(tmpl, Vars{"targets": "src/a.py"})
	require.NoError(t, err)
	assert.Equal(t, "pyright --outputjson src/a.py", out)

	out, err = Render(tmpl, Vars{"targets": ""})
	require.NoError(t, err)
	assert.Equal(t, "pyright --outputjson", out)
}

func TestRender_NestedConditionals(t *testing.T) {
	tmpl := "x{{#if a}} a{{#if b}} b{{/if}}{{/if}}"
	out, err := Render(tmpl, Vars{"a": "1", "b": ""})
	require.NoError(t, err)
	assert.Equal(t, "x a", out)
}

func TestRender_Malformed(t *testing.T) {
	_, err := Render("x {{/if}}", Vars{})
	assert.ErrorContains(t, err, "dangling")

	_, err = Render("x {{#if a}} y", Vars{"a": "1"})
	assert.ErrorContains(t, err, "unclosed")
}

func TestUses(t *testing.T) {
	assert.True(t, Uses("ruff check {{targets}}", "targets"))
	assert.True(t, Uses("ruff check{{#if targets}} x{{/if}}", "targets"))
	assert.False(t, Uses("pytest -q", "targets"))
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check("ruff check {{targets}}", []string{"targets", "root"}))
	assert.Error(t, Check("ruff check {{files}}", []string{"targets", "root"}))
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, "a.py", Quote("a.py"))
	assert.Equal(t, "'my file.py'", Quote("my file.py"))
	assert.Equal(t, `'it'"'"'s.py'`, Quote("it's.py"))
	assert.Equal(t, "''", Quote(""))
	assert.Equal(t, "src/a.py 'b c.py'", Join([]string{"src/a.py", "b c.py"}))
}

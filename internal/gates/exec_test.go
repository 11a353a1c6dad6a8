package gates

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner(t *testing.T) {
	r := &ExecRunner{}
	stdout, stderr, code, err := r.Run(context.Background(), t.TempDir(), "echo out; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, "out\n", stdout)
	assert.Equal(t, "err\n", stderr)
	assert.Equal(t, 3, code)
}

func TestCapture_MissingBinary(t *testing.T) {
	tr := Capture(context.Background(), &ExecRunner{}, t.TempDir(), "definitely-not-a-real-tool-qgate --version", time.Minute)
	assert.Equal(t, 127, tr.ExitCode)
	assert.False(t, tr.Started())
	assert.False(t, tr.TimedOut)
}

func TestCapture_Timeout(t *testing.T) {
	tr := Capture(context.Background(), &ExecRunner{}, t.TempDir(), "exec sleep 30", 50*time.Millisecond)
	assert.True(t, tr.TimedOut)
	assert.False(t, tr.Started())
	assert.Less(t, tr.Duration(), 10*time.Second)
}

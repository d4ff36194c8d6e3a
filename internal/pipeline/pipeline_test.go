package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	logx "datastash/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joined(r CommandResult, s Stream) string {
	var b strings.Builder
	for _, e := range r.Log {
		if e.Stream == s {
			b.Write(e.Data)
		}
	}
	return b.String()
}

func TestExecuteSequential(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{}, logx.Nop())

	res := r.Execute(context.Background(), dir, []string{
		"echo one > out.txt",
		"cat out.txt; echo warn >&2",
	})
	require.Len(t, res, 2)
	assert.False(t, res.Failed())
	assert.Equal(t, 0, res[1].ExitCode)
	assert.Equal(t, "one\n", joined(res[1], Stdout))
	assert.Equal(t, "warn\n", joined(res[1], Stderr))
}

func TestExecuteStopsOnFailure(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{}, logx.Nop())

	res := r.Execute(context.Background(), dir, []string{
		"echo failing; exit 3",
		"touch ran-b",
	})
	require.Len(t, res, 1)
	assert.True(t, res.Failed())
	assert.Equal(t, 3, res[0].ExitCode)
	assert.Equal(t, "failing\n", joined(res[0], Stdout))

	_, err := os.Stat(filepath.Join(dir, "ran-b"))
	assert.True(t, os.IsNotExist(err), "second command must not run")
}

func TestExecuteEmpty(t *testing.T) {
	res := New(Config{}, logx.Nop()).Execute(context.Background(), t.TempDir(), nil)
	assert.Empty(t, res)
	assert.False(t, res.Failed())
}

func TestExecuteMissingDir(t *testing.T) {
	r := New(Config{}, logx.Nop())
	res := r.Execute(context.Background(), filepath.Join(t.TempDir(), "nope"), []string{"true", "true"})
	require.Len(t, res, 1)
	assert.Equal(t, ExitStartFailure, res[0].ExitCode)
	assert.NotEmpty(t, joined(res[0], Stderr))
}

func TestExecuteEnv(t *testing.T) {
	r := New(Config{Env: []string{"DATASTASH_TEST_VALUE=hello"}}, logx.Nop())
	res := r.Execute(context.Background(), t.TempDir(), []string{`printf %s "$DATASTASH_TEST_VALUE"`})
	require.Len(t, res, 1)
	assert.Equal(t, "hello", joined(res[0], Stdout))
}

func TestExecuteLargeOutput(t *testing.T) {
	r := New(Config{}, logx.Nop())
	// Larger than a pipe buffer on both streams at once.
	res := r.Execute(context.Background(), t.TempDir(), []string{
		"i=0; while [ $i -lt 5000 ]; do echo 0123456789abcdef; echo 0123456789abcdef >&2; i=$((i+1)); done",
	})
	require.Len(t, res, 1)
	assert.Equal(t, 0, res[0].ExitCode)
	assert.Len(t, joined(res[0], Stdout), 5000*17)
	assert.Len(t, joined(res[0], Stderr), 5000*17)
}

func TestExecuteDoesNotWaitForBackgroundChildren(t *testing.T) {
	r := New(Config{OutputWait: 200 * time.Millisecond}, logx.Nop())
	start := time.Now()
	res := r.Execute(context.Background(), t.TempDir(), []string{"sleep 3 & echo started"})
	took := time.Since(start)

	require.Len(t, res, 1)
	assert.Equal(t, 0, res[0].ExitCode)
	assert.Equal(t, "started\n", joined(res[0], Stdout))
	assert.Less(t, took, 2*time.Second)
}

func TestExecuteBackgroundChildKeepsExitCode(t *testing.T) {
	r := New(Config{OutputWait: 200 * time.Millisecond}, logx.Nop())
	res := r.Execute(context.Background(), t.TempDir(), []string{"sleep 3 & exit 4"})
	require.Len(t, res, 1)
	assert.Equal(t, 4, res[0].ExitCode)
}

func TestExecuteKeepsMultibyteOutputAcrossChunks(t *testing.T) {
	r := New(Config{}, logx.Nop())
	// 297000 bytes of a 3-byte rune, several pipe reads long
	res := r.Execute(context.Background(), t.TempDir(), []string{
		`i=0; while [ $i -lt 9900 ]; do printf '€€€€€€€€€€'; i=$((i+1)); done`,
	})
	require.Len(t, res, 1)
	require.Equal(t, 0, res[0].ExitCode)
	assert.Greater(t, len(res[0].Log), 1, "output arrives in several chunks")

	want := strings.Repeat("€", 99000)
	assert.Equal(t, want, joined(res[0], Stdout))

	b, err := json.Marshal(res)
	require.NoError(t, err)
	var back Result
	require.NoError(t, json.Unmarshal(b, &back))
	var got bytes.Buffer
	for _, e := range back[0].Log {
		got.Write(e.Data)
	}
	assert.True(t, utf8.Valid(got.Bytes()))
	assert.Equal(t, want, got.String())
}

//go:build unix

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecLauncher_ExitCodeAndStreams(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code, err := NewExecLauncher().Launch(t.Context(), Process{
		Argv:   []string{"sh", "-c", "echo out; echo err >&2; exit 3"},
		Env:    []string{"PATH=" + os.Getenv("PATH")},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	require.NoError(t, err)
	require.Equal(t, 3, code)
	require.Equal(t, "out\n", stdout.String())
	require.Equal(t, "err\n", stderr.String())
}

func TestExecLauncher_UsesChildPath(t *testing.T) {
	bin := t.TempDir()
	script := filepath.Join(bin, "hello-tool")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$GREETING\"\n"), 0o700))

	var stdout bytes.Buffer
	code, err := NewExecLauncher().Launch(t.Context(), Process{
		Argv:   []string{"hello-tool"},
		Env:    []string{"PATH=" + bin + string(os.PathListSeparator) + os.Getenv("PATH"), "GREETING=hi"},
		Stdout: &stdout,
	})
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Equal(t, "hi\n", stdout.String())
}

func TestExecLauncher_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	var stdout bytes.Buffer
	_, err := NewExecLauncher().Launch(t.Context(), Process{
		Argv:   []string{"pwd"},
		Dir:    dir,
		Env:    []string{"PATH=" + os.Getenv("PATH")},
		Stdout: &stdout,
	})
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	require.Contains(t, []string{dir, resolved}, filepath.Clean(stdout.String()[:stdout.Len()-1]))
}

func TestExecLauncher_StartError(t *testing.T) {
	_, err := NewExecLauncher().Launch(t.Context(), Process{
		Argv: []string{"definitely-not-a-command-xyz"},
		Env:  []string{"PATH=" + t.TempDir()},
	})
	var startErr *StartError
	require.ErrorAs(t, err, &startErr)

	_, err = NewExecLauncher().Launch(t.Context(), Process{})
	require.ErrorAs(t, err, &startErr)
}

func TestExecLauncher_CancelKillsProcessGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewExecLauncher().Launch(ctx, Process{
		Argv: []string{"sh", "-c", "sleep 30 & sleep 30; wait"},
		Env:  []string{"PATH=" + os.Getenv("PATH")},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Less(t, time.Since(start), 10*time.Second)
}

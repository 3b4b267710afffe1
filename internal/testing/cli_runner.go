package testing

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// SyncBuffer is a bytes.Buffer that tolerates concurrent writers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ExecuteFunc runs the command line in-process and returns its exit code.
type ExecuteFunc func(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int

// CLITestRunner provides utilities for testing CLI commands.
type CLITestRunner struct {
	t       *testing.T
	execute ExecuteFunc
	env     map[string]string
	timeout time.Duration
}

// NewCLITestRunner creates a new CLI test runner.
func NewCLITestRunner(t *testing.T, execute ExecuteFunc) *CLITestRunner {
	return &CLITestRunner{
		t:       t,
		execute: execute,
		env:     make(map[string]string),
		timeout: 60 * time.Second,
	}
}

// WithEnv sets an environment variable for the duration of the test.
func (r *CLITestRunner) WithEnv(key, value string) *CLITestRunner {
	r.env[key] = value
	return r
}

// WithTimeout sets the timeout for CLI commands.
func (r *CLITestRunner) WithTimeout(timeout time.Duration) *CLITestRunner {
	r.timeout = timeout
	return r
}

// CLIResult represents the result of a CLI command execution.
type CLIResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Run executes a CLI command and returns the result.
func (r *CLITestRunner) Run(args ...string) *CLIResult {
	r.t.Helper()
	for k, v := range r.env {
		r.t.Setenv(k, v)
	}

	ctx, cancel := context.WithTimeout(r.t.Context(), r.timeout)
	defer cancel()

	var stdout, stderr SyncBuffer
	start := time.Now()
	code := r.execute(ctx, args, strings.NewReader(""), &stdout, &stderr)

	return &CLIResult{
		ExitCode: code,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
}

// AssertExitCode validates the exit code.
func (result *CLIResult) AssertExitCode(t *testing.T, expected int) *CLIResult {
	t.Helper()
	if result.ExitCode != expected {
		t.Errorf("Expected exit code %d, got %d\nStdout: %s\nStderr: %s",
			expected, result.ExitCode, result.Stdout, result.Stderr)
	}
	return result
}

// AssertOutputContains validates that stdout contains expected text.
func (result *CLIResult) AssertOutputContains(t *testing.T, expected string) *CLIResult {
	t.Helper()
	if !strings.Contains(result.Stdout, expected) {
		t.Errorf("Expected output to contain %q\nActual output: %s", expected, result.Stdout)
	}
	return result
}

// AssertErrorContains validates that stderr contains expected text.
func (result *CLIResult) AssertErrorContains(t *testing.T, expected string) *CLIResult {
	t.Helper()
	if !strings.Contains(result.Stderr, expected) {
		t.Errorf("Expected error output to contain %q\nActual error: %s", expected, result.Stderr)
	}
	return result
}

// AssertSuccess validates that the command succeeded.
func (result *CLIResult) AssertSuccess(t *testing.T) *CLIResult {
	t.Helper()
	return result.AssertExitCode(t, 0)
}

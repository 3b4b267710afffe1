package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/pkgbuild/internal/logfields"
)

// Process describes a child process to start.
type Process struct {
	Argv   []string
	Dir    string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Launcher starts processes with some isolation capability. Launch returns
// the exit code of a process that ran to completion. A process that could not
// be started yields a *StartError; a cancelled one yields an error wrapping
// the context error.
type Launcher interface {
	Launch(ctx context.Context, p Process) (int, error)
}

// StartError reports that a process could not be spawned.
type StartError struct {
	Argv []string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", strings.Join(e.Argv, " "), e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// ExecLauncher runs processes in their own process group so that the whole
// tree is killed when the context is cancelled.
type ExecLauncher struct {
	// WaitDelay bounds how long output copying may outlive a killed process.
	WaitDelay time.Duration
}

// NewExecLauncher returns a launcher with default settings.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{WaitDelay: 5 * time.Second}
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(ctx context.Context, p Process) (int, error) {
	if len(p.Argv) == 0 || p.Argv[0] == "" {
		return -1, &StartError{Argv: p.Argv, Err: errors.New("empty command")}
	}
	if err := ctx.Err(); err != nil {
		return -1, fmt.Errorf("process cancelled: %w", err)
	}

	path, err := lookPath(p.Argv[0], p.Env)
	if err != nil {
		return -1, &StartError{Argv: p.Argv, Err: err}
	}

	// #nosec G204 - argv comes from package manifests and the CLI
	cmd := exec.CommandContext(ctx, path, p.Argv[1:]...)
	cmd.Args[0] = p.Argv[0]
	cmd.Dir = p.Dir
	cmd.Env = p.Env
	cmd.Stdin = p.Stdin
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	cmd.WaitDelay = l.WaitDelay
	configureProcessGroup(cmd)

	slog.Debug("Starting process", logfields.Command(strings.Join(p.Argv, " ")), logfields.Path(p.Dir))
	if err := cmd.Start(); err != nil {
		return -1, &StartError{Argv: p.Argv, Err: err}
	}

	err = cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, fmt.Errorf("process cancelled: %w", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("wait for %s: %w", p.Argv[0], err)
	}
	return 0, nil
}

// lookPath resolves name against the PATH of the child environment rather
// than the PATH of this process.
func lookPath(name string, env []string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		return name, nil
	}
	pathVar := ""
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			pathVar = v
		}
	}
	if env == nil {
		pathVar = os.Getenv("PATH")
	}
	for _, dir := range filepath.SplitList(pathVar) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", exec.ErrNotFound, name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

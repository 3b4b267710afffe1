// Package integration drives the pkgbuild command line in-process against
// package trees written to temporary directories.
package integration

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"git.home.luguber.info/inful/pkgbuild/cmd/pkgbuild/commands"
	pbtesting "git.home.luguber.info/inful/pkgbuild/internal/testing"
)

func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return commands.Execute(ctx, args, &commands.Global{Stdin: stdin, Stdout: stdout, Stderr: stderr})
}

// harness pairs a project tree with a private package store.
type harness struct {
	t       *testing.T
	project *pbtesting.ProjectBuilder
	store   string
	runner  *pbtesting.CLITestRunner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:       t,
		project: pbtesting.NewProjectBuilder(t),
		store:   filepath.Join(t.TempDir(), "store"),
		runner:  pbtesting.NewCLITestRunner(t, execute),
	}
}

// run executes pkgbuild with the harness store prepended to args.
func (h *harness) run(args ...string) *pbtesting.CLIResult {
	h.t.Helper()
	return h.runner.Run(append([]string{"--store", h.store}, args...)...)
}

func (h *harness) pkg(name string) string { return h.project.Dir(name) }

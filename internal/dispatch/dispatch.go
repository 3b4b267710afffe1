// Package dispatch runs commands against built packages.
//
// Three operations are offered: RunArbitrary runs any command line in a
// package's runtime environment, RunInstalled runs an installed executable
// and never builds, and BuildThenRun brings the package's closure up to date
// before delegating to RunInstalled. Dispatcher errors are returned before
// any process is spawned.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/pkgbuild/internal/build"
	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
	perrors "git.home.luguber.info/inful/pkgbuild/internal/errors"
	"git.home.luguber.info/inful/pkgbuild/internal/graph"
	"git.home.luguber.info/inful/pkgbuild/internal/logfields"
	"git.home.luguber.info/inful/pkgbuild/internal/metrics"
	"git.home.luguber.info/inful/pkgbuild/internal/sandbox"
	"git.home.luguber.info/inful/pkgbuild/internal/state"
)

// Operation names used in logs and metrics.
const (
	OpCommand = "command"
	OpRun     = "x"
	OpBuild   = "b"
)

// IO holds the streams connected to a dispatched process. Nil writers are
// captured into the ProcessResult instead.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ProcessResult is the outcome of a dispatched process.
type ProcessResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Dispatcher resolves packages in a graph and runs commands in their
// environment.
type Dispatcher struct {
	graph    *graph.Graph
	orch     *build.Orchestrator
	sandbox  *sandbox.Manager
	store    state.Store
	launcher sandbox.Launcher
	recorder metrics.Recorder
}

// New creates a dispatcher for g. The orchestrator supplies the sandbox
// manager, record store, launcher and metrics recorder.
func New(g *graph.Graph, orch *build.Orchestrator) *Dispatcher {
	return &Dispatcher{
		graph:    g,
		orch:     orch,
		sandbox:  orch.Sandboxes(),
		store:    orch.Store(),
		launcher: orch.Launcher(),
		recorder: orch.Recorder(),
	}
}

// Resolve maps a package name (or name@version) to its id.
func (d *Dispatcher) Resolve(name string) (descriptor.PackageID, error) {
	return d.graph.Lookup(name)
}

// RunArbitrary runs argv in the runtime environment of id with the package
// source as working directory. An empty argv runs the package's default
// executable.
func (d *Dispatcher) RunArbitrary(ctx context.Context, id descriptor.PackageID, argv []string, stdio IO) (*ProcessResult, error) {
	desc, err := d.requireBuilt(ctx, id)
	if err != nil {
		d.recorder.IncDispatch(OpCommand, metrics.ResultFailed)
		return nil, err
	}
	if len(argv) == 0 {
		argv = []string{desc.DefaultBinary()}
	}
	return d.run(ctx, OpCommand, desc, argv, stdio)
}

// RunInstalled runs the installed executable binary of id. It never builds;
// an unbuilt package yields PackageNotBuilt.
func (d *Dispatcher) RunInstalled(ctx context.Context, id descriptor.PackageID, binary string, args []string, stdio IO) (*ProcessResult, error) {
	desc, err := d.requireBuilt(ctx, id)
	if err != nil {
		d.recorder.IncDispatch(OpRun, metrics.ResultFailed)
		return nil, err
	}
	if binary == "" {
		binary = desc.DefaultBinary()
	}

	path := filepath.Join(sandbox.BinDir(d.sandbox.InstallPath(id)), binary)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		d.recorder.IncDispatch(OpRun, metrics.ResultFailed)
		return nil, perrors.BinaryNotFound(id.String(), binary, path)
	}

	argv := append([]string{path}, args...)
	return d.run(ctx, OpRun, desc, argv, stdio)
}

// BuildThenRun builds the closure of id if anything in it is stale, then runs
// the installed executable binary. The build blocks until done and honours
// cancellation of ctx.
func (d *Dispatcher) BuildThenRun(ctx context.Context, id descriptor.PackageID, binary string, args []string, stdio IO) (*ProcessResult, error) {
	closure, ok := d.graph.Closure(id)
	if !ok {
		d.recorder.IncDispatch(OpBuild, metrics.ResultFailed)
		return nil, perrors.PackageNotFound(id.String())
	}
	if _, err := d.orch.Build(ctx, closure); err != nil {
		d.recorder.IncDispatch(OpBuild, metrics.ResultFailed)
		return nil, err
	}
	return d.RunInstalled(ctx, id, binary, args, stdio)
}

// requireBuilt returns the descriptor of id when its record is Success.
func (d *Dispatcher) requireBuilt(ctx context.Context, id descriptor.PackageID) (*descriptor.PackageDescriptor, error) {
	desc, ok := d.graph.Node(id)
	if !ok {
		return nil, perrors.PackageNotFound(id.String())
	}
	rec, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, perrors.InternalError("read build record", err)
	}
	if rec == nil || rec.Status != state.StatusSuccess {
		return nil, perrors.PackageNotBuilt(id.String())
	}
	return desc, nil
}

func (d *Dispatcher) run(ctx context.Context, op string, desc *descriptor.PackageDescriptor, argv []string, stdio IO) (*ProcessResult, error) {
	env := d.sandbox.RuntimeEnv(desc, build.Dependencies(d.graph, desc.ID, d.sandbox))

	res := &ProcessResult{}
	var stdout, stderr bytes.Buffer
	p := sandbox.Process{
		Argv:   argv,
		Dir:    desc.SourcePath,
		Env:    env,
		Stdin:  stdio.Stdin,
		Stdout: stdio.Stdout,
		Stderr: stdio.Stderr,
	}
	if p.Stdout == nil {
		p.Stdout = &stdout
	}
	if p.Stderr == nil {
		p.Stderr = &stderr
	}

	slog.Debug("Dispatching command",
		slog.String("operation", op),
		logfields.Package(desc.ID.String()),
		logfields.Binary(argv[0]))

	code, err := d.launcher.Launch(ctx, p)
	res.Stdout, res.Stderr = stdout.Bytes(), stderr.Bytes()
	if err != nil {
		var startErr *sandbox.StartError
		result := metrics.ResultFailed
		if !errors.As(err, &startErr) && ctx.Err() != nil {
			result = metrics.ResultCanceled
		}
		d.recorder.IncDispatch(op, result)
		if startErr != nil {
			return nil, perrors.ProcessSpawnFailed(desc.ID.String(), argv, startErr.Err)
		}
		return nil, perrors.Wrap(err, perrors.CategoryRuntime, perrors.SeverityError, "command interrupted").
			WithContext("package", desc.ID.String())
	}

	res.ExitCode = code
	result := metrics.ResultSuccess
	if code != 0 {
		result = metrics.ResultFailed
	}
	d.recorder.IncDispatch(op, result)
	return res, nil
}

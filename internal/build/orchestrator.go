package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
	perrors "git.home.luguber.info/inful/pkgbuild/internal/errors"
	"git.home.luguber.info/inful/pkgbuild/internal/eventstore"
	"git.home.luguber.info/inful/pkgbuild/internal/graph"
	"git.home.luguber.info/inful/pkgbuild/internal/incremental"
	"git.home.luguber.info/inful/pkgbuild/internal/logfields"
	"git.home.luguber.info/inful/pkgbuild/internal/metrics"
	"git.home.luguber.info/inful/pkgbuild/internal/sandbox"
	"git.home.luguber.info/inful/pkgbuild/internal/state"
	"git.home.luguber.info/inful/pkgbuild/internal/workspace"
)

// Log file names inside a package's log directory.
const (
	StdoutLogName = "build.stdout.log"
	StderrLogName = "build.stderr.log"
)

// Orchestrator builds dependency graphs with fingerprint caching.
type Orchestrator struct {
	sandboxes   *sandbox.Manager
	store       state.Store
	locker      *state.Locker
	launcher    sandbox.Launcher
	events      eventstore.Store
	recorder    metrics.Recorder
	concurrency int
	exclude     []string
	stdout      io.Writer
	stderr      io.Writer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithEvents appends every status transition to store.
func WithEvents(store eventstore.Store) Option {
	return func(o *Orchestrator) { o.events = store }
}

// WithConcurrency limits the number of packages built at once. Values below
// one select the number of CPUs.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithLauncher replaces the process launcher.
func WithLauncher(l sandbox.Launcher) Option {
	return func(o *Orchestrator) { o.launcher = l }
}

// WithLocker replaces the per-package lock. The default locks files in the
// store's lock directory.
func WithLocker(l *state.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithOutput tees build output to the given writers in addition to the log
// files.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *Orchestrator) { o.stdout, o.stderr = stdout, stderr }
}

// WithSourceExcludes adds ignore patterns applied when hashing sources.
func WithSourceExcludes(patterns ...string) Option {
	return func(o *Orchestrator) { o.exclude = append(o.exclude, patterns...) }
}

// NewOrchestrator creates an orchestrator that prepares sandboxes with mgr
// and persists records in store.
func NewOrchestrator(mgr *sandbox.Manager, store state.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sandboxes: mgr,
		store:     store,
		locker:    state.NewFileLocker(mgr.Layout().LockDir()),
		launcher:  sandbox.NewExecLauncher(),
		recorder:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		o.concurrency = runtime.NumCPU()
	}
	return o
}

// Sandboxes returns the sandbox manager.
func (o *Orchestrator) Sandboxes() *sandbox.Manager { return o.sandboxes }

// Store returns the record store.
func (o *Orchestrator) Store() state.Store { return o.store }

// Launcher returns the process launcher.
func (o *Orchestrator) Launcher() sandbox.Launcher { return o.launcher }

// Recorder returns the metrics recorder.
func (o *Orchestrator) Recorder() metrics.Recorder { return o.recorder }

// node tracks one package during a run.
type node struct {
	desc   *descriptor.PackageDescriptor
	fp     string
	deps   []descriptor.PackageID
	done   chan struct{}
	result PackageResult

	// prev is the record found when the node was queued; queued is set once
	// a Pending record replaced it.
	prev   *state.BuildRecord
	queued bool
}

// Build brings every package of g up to date. The returned error is the first
// package failure, a graph-wide failure such as an unreadable source tree, or
// the context error when the run was cancelled. The report is returned
// whenever packages were attempted.
func (o *Orchestrator) Build(ctx context.Context, g *graph.Graph) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	order := g.TopoOrder()

	nodes, err := o.fingerprints(g, order)
	if err != nil {
		return nil, err
	}

	slog.Info("Starting build run",
		logfields.RunID(runID),
		logfields.Package(g.Root().String()),
		logfields.Count(len(order)),
		logfields.Workers(o.concurrency))
	o.recorder.SetBuildConcurrency(o.concurrency)
	o.emit(ctx, func() (*eventstore.BaseEvent, error) {
		return eventstore.NewRunStarted(runID, eventstore.RunStartedPayload{
			Root: g.Root().String(), Packages: len(order), Workers: o.concurrency,
		})
	})

	slots := semaphore.NewWeighted(int64(o.concurrency))
	eg, egCtx := errgroup.WithContext(ctx)
	for _, id := range order {
		n := nodes[id]
		eg.Go(func() error {
			defer close(n.done)
			n.result = o.runNode(egCtx, runID, g, nodes, n, slots)
			return nil
		})
	}
	_ = eg.Wait()

	report := &Report{RunID: runID, Root: g.Root()}
	for _, id := range order {
		report.add(nodes[id].result)
	}
	report.Duration = time.Since(start)

	o.recorder.ObserveRunDuration(report.Duration)
	result := metrics.ResultSuccess
	switch {
	case ctx.Err() != nil:
		result = metrics.ResultCanceled
	case !report.Success():
		result = metrics.ResultFailed
	}
	o.recorder.IncRunOutcome(result)
	o.emit(context.WithoutCancel(ctx), func() (*eventstore.BaseEvent, error) {
		return eventstore.NewRunCompleted(runID, eventstore.RunCompletedPayload{
			Built: report.Built, Cached: report.Cached, Failed: report.Failed, Skipped: report.Skipped,
			DurationMS: report.Duration.Milliseconds(),
		})
	})

	slog.Info("Build run finished",
		logfields.RunID(runID),
		slog.Int("built", report.Built),
		slog.Int("cached", report.Cached),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		logfields.DurationMS(float64(report.Duration.Milliseconds())))

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, report.Err()
}

// Fingerprints returns the current fingerprint of every package in g without
// building anything.
func (o *Orchestrator) Fingerprints(g *graph.Graph) (map[descriptor.PackageID]string, error) {
	nodes, err := o.fingerprints(g, g.TopoOrder())
	if err != nil {
		return nil, err
	}
	out := make(map[descriptor.PackageID]string, len(nodes))
	for id, n := range nodes {
		out[id] = n.fp
	}
	return out, nil
}

// fingerprints computes every fingerprint in topological order so that each
// package sees the fingerprints of its dependencies.
func (o *Orchestrator) fingerprints(g *graph.Graph, order []descriptor.PackageID) (map[descriptor.PackageID]*node, error) {
	fper := incremental.NewFingerprinter(o.exclude...)
	nodes := make(map[descriptor.PackageID]*node, len(order))
	for _, id := range order {
		desc, _ := g.Node(id)
		deps := g.Dependencies(id)
		depFPs := make([]incremental.DependencyFingerprint, 0, len(deps))
		for _, dep := range deps {
			depFPs = append(depFPs, incremental.DependencyFingerprint{ID: dep.String(), Fingerprint: nodes[dep].fp})
		}
		fp, err := fper.Fingerprint(desc, depFPs)
		if err != nil {
			return nil, perrors.FileSystemError("fingerprint", desc.SourcePath, err)
		}
		nodes[id] = &node{desc: desc, fp: fp, deps: deps, done: make(chan struct{})}
	}
	return nodes, nil
}

func (o *Orchestrator) runNode(ctx context.Context, runID string, g *graph.Graph, nodes map[descriptor.PackageID]*node, n *node, slots *semaphore.Weighted) PackageResult {
	id := n.desc.ID
	res := PackageResult{ID: id, Fingerprint: n.fp}
	o.enqueue(ctx, runID, n)

	for _, dep := range n.deps {
		select {
		case <-nodes[dep].done:
		case <-ctx.Done():
			return o.cancelled(ctx, runID, n, res)
		}
	}
	for _, dep := range n.deps {
		switch nodes[dep].result.Outcome {
		case metrics.OutcomeFailed, metrics.OutcomeSkipped:
			res.Outcome = metrics.OutcomeSkipped
			res.Err = perrors.SkippedDueToFailedDependency(id.String(), dep.String())
			slog.Warn("Skipping package, dependency did not build",
				logfields.Package(id.String()), slog.String("dependency", dep.String()))
			o.recorder.IncPackageOutcome(metrics.OutcomeSkipped)
			o.dequeue(ctx, runID, n)
			o.emit(ctx, func() (*eventstore.BaseEvent, error) {
				return eventstore.NewSkipped(runID, id.String(), dep.String())
			})
			return res
		}
	}

	if err := slots.Acquire(ctx, 1); err != nil {
		return o.cancelled(ctx, runID, n, res)
	}
	defer slots.Release(1)

	return o.buildPackage(ctx, runID, g, n, res)
}

// cancelled records a package that never started because the run was
// cancelled.
func (o *Orchestrator) cancelled(ctx context.Context, runID string, n *node, res PackageResult) PackageResult {
	res.Outcome = metrics.OutcomeFailed
	res.ExitCode = -1
	res.Err = perrors.BuildFailed(n.desc.ID.String(), -1, ctx.Err())
	o.recorder.IncPackageOutcome(metrics.OutcomeFailed)
	o.dequeue(ctx, runID, n)
	return res
}

// enqueue records n as Pending when it enters the run, unless it is already
// up to date or another holder is building it. A fresh record whose install
// directory is missing is queued later, under the build lock.
func (o *Orchestrator) enqueue(ctx context.Context, runID string, n *node) {
	id := n.desc.ID
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		slog.Warn("Failed to read build record", logfields.Package(id.String()), logfields.Error(err))
		return
	}
	n.prev = rec
	if rec.Fresh(n.fp) && o.installed(id) {
		return
	}
	ok, err := o.store.PutPending(ctx, &state.BuildRecord{
		PackageID:   id,
		Fingerprint: n.fp,
		Status:      state.StatusPending,
		Timestamp:   time.Now(),
		RunID:       runID,
	})
	if err != nil {
		slog.Warn("Failed to record queued package", logfields.Package(id.String()), logfields.Error(err))
		return
	}
	if !ok {
		return
	}
	n.queued = true
	slog.Debug("Package queued", logfields.Package(id.String()), logfields.Fingerprint(n.fp))
	o.emit(ctx, func() (*eventstore.BaseEvent, error) {
		return eventstore.NewStatusChanged(runID, id.String(), eventstore.StatusChangedPayload{
			From: statusName(rec), To: string(state.StatusPending), Fingerprint: n.fp,
		})
	})
}

// dequeue puts back the record n had before it was queued. It does nothing
// once the record has moved past this run's Pending.
func (o *Orchestrator) dequeue(ctx context.Context, runID string, n *node) {
	if !n.queued {
		return
	}
	ctx = context.WithoutCancel(ctx)
	id := n.desc.ID
	rec, err := o.store.Get(ctx, id)
	if err != nil || rec == nil || rec.Status != state.StatusPending || rec.RunID != runID {
		return
	}
	if n.prev != nil {
		err = o.store.Put(ctx, n.prev)
	} else {
		err = o.store.Delete(ctx, id)
	}
	if err != nil {
		slog.Warn("Failed to restore build record", logfields.Package(id.String()), logfields.Error(err))
	}
}

func statusName(rec *state.BuildRecord) string {
	if rec == nil {
		return "unbuilt"
	}
	return string(rec.Status)
}

func (o *Orchestrator) buildPackage(ctx context.Context, runID string, g *graph.Graph, n *node, res PackageResult) PackageResult {
	id := n.desc.ID
	start := time.Now()

	release, err := o.locker.Lock(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return o.cancelled(ctx, runID, n, res)
		}
		return o.fail(ctx, runID, n, res, nil, perrors.InternalError("acquire build lock", err), start)
	}
	defer release()

	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return o.fail(ctx, runID, n, res, nil, perrors.InternalError("read build record", err), start)
	}
	if rec.Fresh(n.fp) && o.installed(id) {
		res.Outcome = metrics.OutcomeCached
		slog.Info("Package up to date", logfields.Package(id.String()), logfields.Fingerprint(n.fp))
		o.recorder.IncPackageOutcome(metrics.OutcomeCached)
		o.emit(ctx, func() (*eventstore.BaseEvent, error) {
			return eventstore.NewCacheHit(runID, id.String(), n.fp)
		})
		return res
	}

	if rec == nil || rec.Status != state.StatusPending {
		if err := o.transition(ctx, runID, n, statusName(rec), state.StatusPending, 0, ""); err != nil {
			return o.fail(ctx, runID, n, res, nil, err, start)
		}
	}
	if err := o.transition(ctx, runID, n, string(state.StatusPending), state.StatusBuilding, 0, ""); err != nil {
		return o.fail(ctx, runID, n, res, nil, err, start)
	}

	slog.Info("Building package", logfields.Package(id.String()), logfields.Fingerprint(n.fp))
	sb, err := o.sandboxes.Prepare(n.desc, Dependencies(g, id, o.sandboxes))
	if err != nil {
		return o.fail(ctx, runID, n, res, nil, err, start)
	}

	if code, err := o.runCommands(ctx, n.desc, sb); err != nil {
		res.ExitCode = code
		return o.fail(ctx, runID, n, res, sb, err, start)
	}

	if err := promote(sb); err != nil {
		return o.fail(ctx, runID, n, res, sb, err, start)
	}
	if err := o.transition(ctx, runID, n, string(state.StatusBuilding), state.StatusSuccess, 0, ""); err != nil {
		return o.fail(ctx, runID, n, res, sb, err, start)
	}
	if err := o.sandboxes.Release(sb); err != nil {
		slog.Warn("Failed to release build sandbox", logfields.Package(id.String()), logfields.Error(err))
	}

	res.Outcome = metrics.OutcomeBuilt
	res.Duration = time.Since(start)
	o.recorder.IncPackageOutcome(metrics.OutcomeBuilt)
	o.recorder.ObservePackageBuildDuration(id.String(), res.Duration, metrics.OutcomeBuilt)
	slog.Info("Package built", logfields.Package(id.String()), logfields.DurationMS(float64(res.Duration.Milliseconds())))
	return res
}

// installed reports whether the install directory of id still exists.
func (o *Orchestrator) installed(id descriptor.PackageID) bool {
	info, err := os.Stat(o.sandboxes.InstallPath(id))
	return err == nil && info.IsDir()
}

// runCommands runs the build and then the install command lines inside sb.
func (o *Orchestrator) runCommands(ctx context.Context, desc *descriptor.PackageDescriptor, sb *sandbox.BuildSandbox) (int, error) {
	stdout, stderr, closeLogs, err := o.openLogs(sb)
	if err != nil {
		return -1, perrors.SandboxCreationFailed(desc.ID.String(), sb.LogPath, err)
	}
	defer closeLogs()

	argvs := make([][]string, 0, len(desc.BuildCommand)+len(desc.InstallCommand))
	argvs = append(argvs, desc.BuildCommand...)
	argvs = append(argvs, desc.InstallCommand...)
	for _, argv := range argvs {
		code, err := o.launcher.Launch(ctx, sandbox.Process{
			Argv:   argv,
			Dir:    sb.BuildPath,
			Env:    sb.Env,
			Stdout: stdout,
			Stderr: stderr,
		})
		var startErr *sandbox.StartError
		switch {
		case errors.As(err, &startErr):
			return -1, perrors.ProcessSpawnFailed(desc.ID.String(), argv, startErr.Err)
		case err != nil:
			return -1, perrors.BuildFailed(desc.ID.String(), -1, err)
		case code != 0:
			return code, perrors.BuildFailed(desc.ID.String(), code,
				fmt.Errorf("%s exited with status %d (logs in %s)", argv[0], code, sb.LogPath))
		}
	}
	return 0, nil
}

func (o *Orchestrator) openLogs(sb *sandbox.BuildSandbox) (io.Writer, io.Writer, func(), error) {
	outFile, err := os.Create(filepath.Join(sb.LogPath, StdoutLogName))
	if err != nil {
		return nil, nil, nil, err
	}
	errFile, err := os.Create(filepath.Join(sb.LogPath, StderrLogName))
	if err != nil {
		_ = outFile.Close()
		return nil, nil, nil, err
	}
	closer := func() {
		_ = outFile.Close()
		_ = errFile.Close()
	}

	var stdout io.Writer = outFile
	var stderr io.Writer = errFile
	if o.stdout != nil {
		stdout = io.MultiWriter(outFile, o.stdout)
	}
	if o.stderr != nil {
		stderr = io.MultiWriter(errFile, o.stderr)
	}
	return stdout, stderr, closer, nil
}

func promote(sb *sandbox.BuildSandbox) error {
	if err := workspace.Promote(sb.StagePath, sb.InstallPath); err != nil {
		return perrors.FileSystemError("promote", sb.InstallPath, err)
	}
	return nil
}

// fail persists a Failed record. The write survives cancellation of ctx.
func (o *Orchestrator) fail(ctx context.Context, runID string, n *node, res PackageResult, sb *sandbox.BuildSandbox, cause error, start time.Time) PackageResult {
	id := n.desc.ID
	res.Outcome = metrics.OutcomeFailed
	res.Duration = time.Since(start)
	if res.ExitCode == 0 {
		res.ExitCode = -1
		if pbe, ok := perrors.As(cause); ok {
			if code, ok := pbe.Context["exit_code"].(int); ok {
				res.ExitCode = code
			}
		}
	}
	res.Err = cause

	persistCtx := context.WithoutCancel(ctx)
	if err := o.transition(persistCtx, runID, n, string(state.StatusBuilding), state.StatusFailed, res.ExitCode, cause.Error()); err != nil {
		slog.Error("Failed to persist failed build record", logfields.Package(id.String()), logfields.Error(err))
	}
	if sb != nil {
		if err := o.sandboxes.Release(sb); err != nil {
			slog.Warn("Failed to release build sandbox", logfields.Package(id.String()), logfields.Error(err))
		}
	}

	o.recorder.IncPackageOutcome(metrics.OutcomeFailed)
	o.recorder.ObservePackageBuildDuration(id.String(), res.Duration, metrics.OutcomeFailed)
	slog.Error("Package build failed",
		logfields.Package(id.String()),
		logfields.ExitCode(res.ExitCode),
		logfields.Error(cause))
	return res
}

// transition persists the record for n in status to and appends the matching
// event.
func (o *Orchestrator) transition(ctx context.Context, runID string, n *node, from string, to state.Status, exitCode int, errMsg string) error {
	rec := &state.BuildRecord{
		PackageID:   n.desc.ID,
		Fingerprint: n.fp,
		Status:      to,
		Timestamp:   time.Now(),
		ExitCode:    exitCode,
		RunID:       runID,
		Error:       errMsg,
	}
	if err := o.store.Put(ctx, rec); err != nil {
		return perrors.InternalError("persist build record", err)
	}
	o.emit(ctx, func() (*eventstore.BaseEvent, error) {
		return eventstore.NewStatusChanged(runID, n.desc.ID.String(), eventstore.StatusChangedPayload{
			From: from, To: string(to), Fingerprint: n.fp, ExitCode: exitCode, Error: errMsg,
		})
	})
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, mk func() (*eventstore.BaseEvent, error)) {
	if o.events == nil {
		return
	}
	e, err := mk()
	if err == nil {
		err = o.events.Append(context.WithoutCancel(ctx), e)
	}
	if err != nil {
		slog.Warn("Failed to record build event", logfields.Error(err))
	}
}

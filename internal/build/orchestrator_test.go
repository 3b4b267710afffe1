//go:build unix

package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
	perrors "git.home.luguber.info/inful/pkgbuild/internal/errors"
	"git.home.luguber.info/inful/pkgbuild/internal/eventstore"
	"git.home.luguber.info/inful/pkgbuild/internal/graph"
	"git.home.luguber.info/inful/pkgbuild/internal/manifest"
	"git.home.luguber.info/inful/pkgbuild/internal/metrics"
	"git.home.luguber.info/inful/pkgbuild/internal/sandbox"
	"git.home.luguber.info/inful/pkgbuild/internal/state"
	"git.home.luguber.info/inful/pkgbuild/internal/workspace"
)

// countingLauncher counts spawns per package and delegates to a real launcher.
type countingLauncher struct {
	inner  sandbox.Launcher
	mu     sync.Mutex
	spawns map[string]int
	order  []string
}

func (c *countingLauncher) Launch(ctx context.Context, p sandbox.Process) (int, error) {
	name := ""
	for _, kv := range p.Env {
		if v, ok := strings.CutPrefix(kv, "cur__name="); ok {
			name = v
		}
	}
	c.mu.Lock()
	c.spawns[name]++
	c.order = append(c.order, name)
	c.mu.Unlock()
	return c.inner.Launch(ctx, p)
}

func (c *countingLauncher) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawns[name]
}

func (c *countingLauncher) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.spawns {
		n += v
	}
	return n
}

func (c *countingLauncher) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawns = map[string]int{}
	c.order = nil
}

// installScript writes an executable named after the package that echoes msg.
func installScript(name, msg string) string {
	return `mkdir -p "$cur__install/bin" && ` +
		`printf '#!/bin/sh\necho %s\n' "` + msg + `" > "$cur__install/bin/` + name + `" && ` +
		`chmod +x "$cur__install/bin/` + name + `"`
}

func writePackage(t *testing.T, root, name, build string, deps ...string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))

	m := map[string]any{
		"name":    name,
		"version": "1.0.0",
		"build":   build,
	}
	if len(deps) > 0 {
		var list []map[string]string
		for _, d := range deps {
			list = append(list, map[string]string{"name": d, "path": "../" + d})
		}
		m["dependencies"] = list
	}
	data, err := yaml.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.yaml"), data, 0o600))
	return dir
}

func loadGraph(t *testing.T, dir string) *graph.Graph {
	t.Helper()
	root, err := manifest.Load(dir)
	require.NoError(t, err)
	g, err := graph.Build(root, manifest.NewDirResolver())
	require.NoError(t, err)
	return g
}

type fixture struct {
	orch     *Orchestrator
	launcher *countingLauncher
	store    state.Store
	mgr      *sandbox.Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	layout := workspace.NewLayoutAt(t.TempDir())
	require.NoError(t, layout.Create())
	mgr := sandbox.NewManager(layout, sandbox.WithBaseEnv(sandbox.Env{"PATH": os.Getenv("PATH")}))
	store := state.NewMemoryStore()
	cl := &countingLauncher{inner: sandbox.NewExecLauncher(), spawns: map[string]int{}}
	opts = append([]Option{WithLauncher(cl), WithConcurrency(4)}, opts...)
	return &fixture{orch: NewOrchestrator(mgr, store, opts...), launcher: cl, store: store, mgr: mgr}
}

func (f *fixture) record(t *testing.T, g *graph.Graph, name string) *state.BuildRecord {
	t.Helper()
	id, err := g.Lookup(name)
	require.NoError(t, err)
	rec, err := f.store.Get(t.Context(), id)
	require.NoError(t, err)
	return rec
}

func TestBuild_NoDepsThenCacheHit(t *testing.T) {
	src := t.TempDir()
	dir := writePackage(t, src, "no-deps", installScript("no-deps", "no-deps"))
	g := loadGraph(t, dir)
	f := newFixture(t)

	report, err := f.orch.Build(t.Context(), g)
	require.NoError(t, err)
	require.Equal(t, 1, report.Built)
	require.True(t, report.Success())
	require.Equal(t, 1, f.launcher.count("no-deps"))

	rec := f.record(t, g, "no-deps")
	require.Equal(t, state.StatusSuccess, rec.Status)
	require.Equal(t, report.RunID, rec.RunID)
	require.FileExists(t, filepath.Join(f.mgr.InstallPath(g.Root()), "bin", "no-deps"))

	f.launcher.reset()
	report, err = f.orch.Build(t.Context(), g)
	require.NoError(t, err)
	require.Equal(t, 0, f.launcher.total(), "second build must not spawn")
	require.Equal(t, 1, report.Cached)
	require.Equal(t, 0, report.Built)
}

func TestBuild_DependencySucceedsBeforeDependentStarts(t *testing.T) {
	src := t.TempDir()
	writePackage(t, src, "dep", installScript("dep", "dep"))
	// The dependent only succeeds when dep's install is already promoted and
	// visible on PATH.
	app := writePackage(t, src, "with-dep",
		`test -x "$dep__install/bin/dep" && dep > out.txt && grep -q dep out.txt && `+installScript("with-dep", "with-dep"),
		"dep")
	g := loadGraph(t, app)
	f := newFixture(t)

	report, err := f.orch.Build(t.Context(), g)
	require.NoError(t, err)
	require.Equal(t, 2, report.Built)
	require.Equal(t, []string{"dep", "with-dep"}, f.launcher.order)

	depRec := f.record(t, g, "dep")
	appRec := f.record(t, g, "with-dep")
	require.Equal(t, state.StatusSuccess, depRec.Status)
	require.Equal(t, state.StatusSuccess, appRec.Status)
	require.False(t, appRec.Timestamp.Before(depRec.Timestamp))
}

func TestBuild_FailedDependencySkipsDependents(t *testing.T) {
	src := t.TempDir()
	writePackage(t, src, "dep", "echo broken >&2; exit 3")
	app := writePackage(t, src, "with-dep", installScript("with-dep", "x"), "dep")
	g := loadGraph(t, app)
	f := newFixture(t)

	report, err := f.orch.Build(t.Context(), g)
	require.Error(t, err)
	require.True(t, perrors.IsKind(err, perrors.KindBuildFailed))
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 0, f.launcher.count("with-dep"))

	depID, _ := g.Lookup("dep")
	res, ok := report.Result(depID)
	require.True(t, ok)
	require.Equal(t, 3, res.ExitCode)

	res, _ = report.Result(g.Root())
	require.Equal(t, metrics.OutcomeSkipped, res.Outcome)
	require.True(t, perrors.IsKind(res.Err, perrors.KindSkippedDueToFailedDependency))

	rec := f.record(t, g, "dep")
	require.Equal(t, state.StatusFailed, rec.Status)
	require.Equal(t, 3, rec.ExitCode)
	require.Nil(t, f.record(t, g, "with-dep"))

	stderrLog, err := os.ReadFile(filepath.Join(f.mgr.Layout().LogDir(depID), StderrLogName))
	require.NoError(t, err)
	require.Equal(t, "broken\n", string(stderrLog))
}

func TestBuild_FailedPackageRebuildsOnNextRequest(t *testing.T) {
	src := t.TempDir()
	dir := writePackage(t, src, "flaky", `test -f "$cur__root/ok" && `+installScript("flaky", "ok"))
	g := loadGraph(t, dir)
	f := newFixture(t, WithSourceExcludes("ok"))

	_, err := f.orch.Build(t.Context(), g)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok"), nil, 0o600))
	report, err := f.orch.Build(t.Context(), g)
	require.NoError(t, err)
	require.Equal(t, 1, report.Built)
	require.Equal(t, 2, f.launcher.count("flaky"))
}

func TestBuild_ChangedDependencyInvalidatesOnlyDependents(t *testing.T) {
	src := t.TempDir()
	writePackage(t, src, "base", installScript("base", "base"))
	writePackage(t, src, "dep", installScript("dep", "v1"), "base")
	writePackage(t, src, "other", installScript("other", "other"))
	app := writePackage(t, src, "app", installScript("app", "app"), "dep", "other")

	f := newFixture(t)
	_, err := f.orch.Build(t.Context(), loadGraph(t, app))
	require.NoError(t, err)

	writePackage(t, src, "dep", installScript("dep", "v2"), "base")
	f.launcher.reset()
	report, err := f.orch.Build(t.Context(), loadGraph(t, app))
	require.NoError(t, err)

	require.Equal(t, 1, f.launcher.count("dep"))
	require.Equal(t, 1, f.launcher.count("app"))
	require.Equal(t, 0, f.launcher.count("base"))
	require.Equal(t, 0, f.launcher.count("other"))
	require.Equal(t, 2, report.Built)
	require.Equal(t, 2, report.Cached)
}

func TestBuild_CycleBuildsNothing(t *testing.T) {
	src := t.TempDir()
	writePackage(t, src, "a", "true", "b")
	writePackage(t, src, "b", "true", "a")
	root, err := manifest.Load(filepath.Join(src, "a"))
	require.NoError(t, err)

	_, err = graph.Build(root, manifest.NewDirResolver())
	require.True(t, perrors.IsKind(err, perrors.KindCyclicDependency))
	// Without a graph the orchestrator has nothing to run.
}

func TestBuild_SpawnFailure(t *testing.T) {
	src := t.TempDir()
	dir := filepath.Join(src, "nobin")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.yaml"),
		[]byte("name: nobin\nbuild: [[definitely-not-installed-xyz]]\n"), 0o600))
	g := loadGraph(t, dir)
	f := newFixture(t)

	_, err := f.orch.Build(t.Context(), g)
	require.True(t, perrors.IsKind(err, perrors.KindProcessSpawnFailed))
	require.Equal(t, state.StatusFailed, f.record(t, g, "nobin").Status)
}

func TestBuild_CancellationLeavesRecordFailed(t *testing.T) {
	src := t.TempDir()
	dir := writePackage(t, src, "slow", "sleep 30")
	g := loadGraph(t, dir)
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.orch.Build(ctx, g)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 10*time.Second)
	require.Equal(t, state.StatusFailed, f.record(t, g, "slow").Status)
}

func TestBuild_InstallCommandsPopulateStage(t *testing.T) {
	src := t.TempDir()
	dir := filepath.Join(src, "two-step")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.yaml"), []byte(`
name: two-step
build: echo built > artifact
install: mkdir -p "$cur__install/share" && cp artifact "$cur__install/share/"
`), 0o600))
	g := loadGraph(t, dir)
	f := newFixture(t)

	_, err := f.orch.Build(t.Context(), g)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(f.mgr.InstallPath(g.Root()), "share", "artifact"))
	require.NoError(t, err)
	require.Equal(t, "built\n", string(data))
	require.NoDirExists(t, f.mgr.Layout().BuildDir(g.Root()))
}

func TestBuild_MissingInstallForcesRebuild(t *testing.T) {
	src := t.TempDir()
	dir := writePackage(t, src, "pkg", installScript("pkg", "pkg"))
	g := loadGraph(t, dir)
	f := newFixture(t)

	_, err := f.orch.Build(t.Context(), g)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(f.mgr.InstallPath(g.Root())))

	report, err := f.orch.Build(t.Context(), g)
	require.NoError(t, err)
	require.Equal(t, 1, report.Built)
}

func TestBuild_ConcurrentRunsBuildOnce(t *testing.T) {
	src := t.TempDir()
	dir := writePackage(t, src, "shared", "sleep 0.2 && "+installScript("shared", "shared"))
	g := loadGraph(t, dir)
	f := newFixture(t)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.orch.Build(t.Context(), g)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, f.launcher.count("shared"))
}

func TestBuild_SeparateOrchestratorsOnOneStoreBuildOnce(t *testing.T) {
	src := t.TempDir()
	dir := writePackage(t, src, "shared", "sleep 0.5 && "+installScript("shared", "shared"))
	g := loadGraph(t, dir)

	layout := workspace.NewLayoutAt(t.TempDir())
	require.NoError(t, layout.Create())
	cl := &countingLauncher{inner: sandbox.NewExecLauncher(), spawns: map[string]int{}}

	// Each orchestrator gets its own store handle and lock table, as two
	// pkgbuild processes would.
	orchs := make([]*Orchestrator, 2)
	for i := range orchs {
		store, err := state.NewSQLiteStore(layout.StateDB())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		mgr := sandbox.NewManager(layout, sandbox.WithBaseEnv(sandbox.Env{"PATH": os.Getenv("PATH")}))
		orchs[i] = NewOrchestrator(mgr, store, WithLauncher(cl))
	}

	reports := make([]*Report, len(orchs))
	errs := make([]error, len(orchs))
	var wg sync.WaitGroup
	for i, o := range orchs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = o.Build(t.Context(), g)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, cl.count("shared"))
	require.Equal(t, 1, reports[0].Built+reports[1].Built)
	require.Equal(t, 1, reports[0].Cached+reports[1].Cached)
	require.FileExists(t, filepath.Join(layout.InstallDir(g.Root()), "bin", "shared"))
}

func TestBuild_QueuedPackagesArePending(t *testing.T) {
	src := t.TempDir()
	writePackage(t, src, "dep", "sleep 0.5 && "+installScript("dep", "dep"))
	app := writePackage(t, src, "with-dep", installScript("with-dep", "with-dep"), "dep")
	g := loadGraph(t, app)
	f := newFixture(t)

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Build(t.Context(), g)
		done <- err
	}()

	require.Eventually(t, func() bool {
		rec, err := f.store.Get(t.Context(), g.Root())
		return err == nil && rec != nil && rec.Status == state.StatusPending
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, f.launcher.count("with-dep"))

	require.NoError(t, <-done)
	require.Equal(t, state.StatusSuccess, f.record(t, g, "with-dep").Status)
}

func TestBuild_SkippedPackageKeepsPreviousRecord(t *testing.T) {
	src := t.TempDir()
	writePackage(t, src, "dep", installScript("dep", "v1"))
	app := writePackage(t, src, "with-dep", installScript("with-dep", "with-dep"), "dep")
	f := newFixture(t)

	_, err := f.orch.Build(t.Context(), loadGraph(t, app))
	require.NoError(t, err)
	g := loadGraph(t, app)
	before := f.record(t, g, "with-dep")

	writePackage(t, src, "dep", "exit 1")
	g = loadGraph(t, app)
	report, err := f.orch.Build(t.Context(), g)
	require.Error(t, err)
	require.Equal(t, 1, report.Skipped)

	after := f.record(t, g, "with-dep")
	require.Equal(t, state.StatusSuccess, after.Status)
	require.Equal(t, before.Fingerprint, after.Fingerprint)
	require.Equal(t, before.RunID, after.RunID)
}

func TestBuild_RecordsEvents(t *testing.T) {
	events, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	src := t.TempDir()
	writePackage(t, src, "dep", installScript("dep", "dep"))
	app := writePackage(t, src, "with-dep", installScript("with-dep", "with-dep"), "dep")
	g := loadGraph(t, app)
	f := newFixture(t, WithEvents(events))

	report, err := f.orch.Build(t.Context(), g)
	require.NoError(t, err)

	summary, err := eventstore.LatestRun(t.Context(), events)
	require.NoError(t, err)
	require.Equal(t, report.RunID, summary.RunID)
	require.Equal(t, 2, summary.Built)
	require.Equal(t, "success", summary.Packages[g.Root().String()])
}

func TestDependencies_LayeringOrder(t *testing.T) {
	src := t.TempDir()
	writePackage(t, src, "base", "true")
	writePackage(t, src, "dep", "true", "base")
	writePackage(t, src, "other", "true")
	app := writePackage(t, src, "app", "true", "dep", "other")
	g := loadGraph(t, app)
	f := newFixture(t)

	deps := Dependencies(g, g.Root(), f.mgr)
	names := make([]string, 0, len(deps))
	for _, d := range deps {
		names = append(names, d.Descriptor.ID.Name)
		require.Equal(t, f.mgr.InstallPath(d.Descriptor.ID), d.InstallPath)
	}
	require.Equal(t, []string{"base", "dep", "other"}, names)
	require.Empty(t, Dependencies(g, descriptor.PackageID{Name: "base", Version: "1.0.0"}, f.mgr))
}

package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/pkgbuild/internal/build"
	"git.home.luguber.info/inful/pkgbuild/internal/config"
	"git.home.luguber.info/inful/pkgbuild/internal/dispatch"
	perrors "git.home.luguber.info/inful/pkgbuild/internal/errors"
	"git.home.luguber.info/inful/pkgbuild/internal/eventstore"
	"git.home.luguber.info/inful/pkgbuild/internal/graph"
	"git.home.luguber.info/inful/pkgbuild/internal/logfields"
	"git.home.luguber.info/inful/pkgbuild/internal/manifest"
	"git.home.luguber.info/inful/pkgbuild/internal/metrics"
	"git.home.luguber.info/inful/pkgbuild/internal/sandbox"
	"git.home.luguber.info/inful/pkgbuild/internal/state"
	"git.home.luguber.info/inful/pkgbuild/internal/workspace"
)

// session holds everything a command needs for one project.
type session struct {
	cfg      *config.Config
	project  string
	layout   *workspace.Layout
	records  *state.SQLiteStore
	events   *eventstore.SQLiteStore
	registry *prom.Registry
	orch     *build.Orchestrator
}

// loadConfig reads the configuration and applies global flags on top.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.Store != "" {
		cfg.StoreDir = c.Store
	}
	if c.MetricsFile != "" {
		cfg.MetricsFile = c.MetricsFile
	}
	if c.Verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	if cfg.StoreDir == "" {
		cfg.StoreDir = workspace.DefaultStoreDir()
	}
	setupLogging(c.stderr, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// open wires the store, sandbox manager and orchestrator for projectPath.
func (c *CLI) open(g *Global, projectPath string) (*session, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, perrors.FileSystemError("resolve project path", projectPath, err)
	}

	layout, err := workspace.NewLayout(cfg.StoreDir, abs)
	if err != nil {
		return nil, err
	}
	if err := layout.Create(); err != nil {
		return nil, err
	}

	records, err := state.NewSQLiteStore(layout.StateDB())
	if err != nil {
		return nil, perrors.InternalError("open build record store", err)
	}
	events, err := eventstore.NewSQLiteStore(layout.EventsDB())
	if err != nil {
		_ = records.Close()
		return nil, perrors.InternalError("open build history", err)
	}

	registry := prom.NewRegistry()
	mgr := sandbox.NewManager(layout,
		sandbox.WithEnvAllowlist(cfg.Sandbox.EnvAllowlist),
		sandbox.WithKeepBuildDirs(cfg.KeepBuildDirs))
	opts := []build.Option{
		build.WithRecorder(metrics.NewPrometheusRecorder(registry)),
		build.WithEvents(events),
		build.WithConcurrency(cfg.Concurrency),
	}
	if c.Verbose {
		opts = append(opts, build.WithOutput(g.Stderr, g.Stderr))
	}

	slog.Debug("Opened package store",
		logfields.Path(layout.Root()),
		slog.String("project", abs))

	return &session{
		cfg:      cfg,
		project:  abs,
		layout:   layout,
		records:  records,
		events:   events,
		registry: registry,
		orch:     build.NewOrchestrator(mgr, records, opts...),
	}, nil
}

// graph loads the project's manifests and resolves its dependency graph.
func (s *session) graph() (*graph.Graph, error) {
	root, err := manifest.Load(s.project)
	if err != nil {
		return nil, err
	}
	return graph.Build(root, manifest.NewDirResolver())
}

// dispatcher loads the graph and returns a dispatcher for it.
func (s *session) dispatcher() (*dispatch.Dispatcher, error) {
	g, err := s.graph()
	if err != nil {
		return nil, err
	}
	return dispatch.New(g, s.orch), nil
}

// Close flushes metrics and closes the stores.
func (s *session) Close() error {
	var errs []error
	if s.cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(s.registry, s.cfg.MetricsFile); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close build history: %w", err))
	}
	if err := s.records.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close build record store: %w", err))
	}
	return errors.Join(errs...)
}

func (s *session) closeLogged() {
	if err := s.Close(); err != nil {
		slog.Warn("Failed to close session", logfields.Error(err))
	}
}

package sandbox

import (
	"fmt"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
	perrors "git.home.luguber.info/inful/pkgbuild/internal/errors"
	"git.home.luguber.info/inful/pkgbuild/internal/logfields"
	"git.home.luguber.info/inful/pkgbuild/internal/workspace"
)

// Dependency is a built dependency as seen from a dependent package.
type Dependency struct {
	Descriptor  *descriptor.PackageDescriptor
	InstallPath string
}

// BuildSandbox is the isolated build context of one package build.
type BuildSandbox struct {
	PackageID   descriptor.PackageID
	SourcePath  string
	BuildPath   string
	StagePath   string
	InstallPath string
	LogPath     string
	Env         []string
}

// Manager creates sandboxes inside a store layout.
type Manager struct {
	layout    *workspace.Layout
	allowlist []string
	baseEnv   func() Env
	keepDirs  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithEnvAllowlist restricts the inherited process environment.
func WithEnvAllowlist(names []string) Option {
	return func(m *Manager) { m.allowlist = names }
}

// WithBaseEnv replaces the inherited process environment.
func WithBaseEnv(env Env) Option {
	return func(m *Manager) { m.baseEnv = func() Env { return env.Clone() } }
}

// WithKeepBuildDirs keeps build and stage directories after a build.
func WithKeepBuildDirs(keep bool) Option {
	return func(m *Manager) { m.keepDirs = keep }
}

// NewManager creates a sandbox manager for layout.
func NewManager(layout *workspace.Layout, opts ...Option) *Manager {
	m := &Manager{layout: layout}
	for _, opt := range opts {
		opt(m)
	}
	if m.baseEnv == nil {
		m.baseEnv = func() Env { return BaseEnv(m.allowlist) }
	}
	return m
}

// Layout returns the store layout the manager writes to.
func (m *Manager) Layout() *workspace.Layout { return m.layout }

// InstallPath returns the persistent install directory of id.
func (m *Manager) InstallPath(id descriptor.PackageID) string {
	return m.layout.InstallDir(id)
}

// Prepare creates fresh build and stage directories for desc and computes the
// build environment. deps lists the package's dependencies in layering order;
// a later dependency wins conflicts both in variables and on PATH.
func (m *Manager) Prepare(desc *descriptor.PackageDescriptor, deps []Dependency) (*BuildSandbox, error) {
	sb := &BuildSandbox{
		PackageID:   desc.ID,
		SourcePath:  desc.SourcePath,
		BuildPath:   m.layout.BuildDir(desc.ID),
		StagePath:   m.layout.StageDir(desc.ID),
		InstallPath: m.layout.InstallDir(desc.ID),
		LogPath:     m.layout.LogDir(desc.ID),
	}

	for _, dir := range []string{sb.BuildPath, sb.StagePath} {
		if err := workspace.Reset(dir); err != nil {
			return nil, perrors.SandboxCreationFailed(desc.ID.String(), dir, err)
		}
	}
	if err := os.MkdirAll(sb.LogPath, 0o750); err != nil {
		return nil, perrors.SandboxCreationFailed(desc.ID.String(), sb.LogPath, err)
	}

	sb.Env = m.environment(desc, deps, sb.StagePath, sb.BuildPath).List()
	slog.Debug("Prepared build sandbox",
		logfields.Package(desc.ID.String()),
		logfields.Path(sb.BuildPath))
	return sb, nil
}

// RuntimeEnv computes the environment for running commands against an
// installed package.
func (m *Manager) RuntimeEnv(desc *descriptor.PackageDescriptor, deps []Dependency) []string {
	return m.environment(desc, deps, m.layout.InstallDir(desc.ID), desc.SourcePath).List()
}

// Release discards the scratch directories of sb unless they are kept.
func (m *Manager) Release(sb *BuildSandbox) error {
	if m.keepDirs || sb == nil {
		return nil
	}
	if err := workspace.Cleanup(sb.BuildPath); err != nil {
		return err
	}
	return workspace.Cleanup(sb.StagePath)
}

func (m *Manager) environment(desc *descriptor.PackageDescriptor, deps []Dependency, installPath, targetDir string) Env {
	env := m.baseEnv()
	for _, dep := range deps {
		env.Merge(dep.Descriptor.ExportedEnv)
	}
	env.Merge(desc.ExportedEnv)

	env["cur__name"] = desc.ID.Name
	env["cur__version"] = desc.ID.Version
	env["cur__root"] = desc.SourcePath
	env["cur__target_dir"] = targetDir
	env["cur__install"] = installPath
	env["cur__stage"] = m.layout.StageDir(desc.ID)
	owners := make(map[string]descriptor.PackageID, len(deps))
	for _, dep := range deps {
		key := fmt.Sprintf("%s__install", ReservedName(dep.Descriptor.ID.Name))
		if prev, ok := owners[key]; ok && prev != dep.Descriptor.ID {
			slog.Warn("Dependencies share a reserved variable, the later one wins",
				logfields.Package(desc.ID.String()),
				slog.String("variable", key),
				slog.String("shadowed", prev.String()),
				slog.String("dependency", dep.Descriptor.ID.String()))
		}
		owners[key] = dep.Descriptor.ID
		env[key] = dep.InstallPath
	}

	bins := make([]string, 0, len(deps)+1)
	bins = append(bins, BinDir(installPath))
	for i := len(deps) - 1; i >= 0; i-- {
		bins = append(bins, BinDir(deps[i].InstallPath))
	}
	env.PrependPath(bins...)
	return env
}

package testing

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"gopkg.in/yaml.v3"
)

// ProjectBuilder lays out a tree of packages below a temporary directory.
// Every package lives in its own directory named after it.
type ProjectBuilder struct {
	t    *testing.T
	root string
}

// NewProjectBuilder creates a builder rooted at a fresh temporary directory.
func NewProjectBuilder(t *testing.T) *ProjectBuilder {
	return &ProjectBuilder{t: t, root: t.TempDir()}
}

// Root returns the directory holding all packages.
func (pb *ProjectBuilder) Root() string { return pb.root }

// Dir returns the directory of package name.
func (pb *ProjectBuilder) Dir(name string) string { return filepath.Join(pb.root, name) }

// Package starts a package manifest.
func (pb *ProjectBuilder) Package(name string) *PackageBuilder {
	return &PackageBuilder{
		pb: pb,
		manifest: packageManifest{
			Name:    name,
			Version: "1.0.0",
		},
	}
}

type dependencyEntry struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type packageManifest struct {
	Name         string            `yaml:"name"`
	Version      string            `yaml:"version,omitempty"`
	Bin          string            `yaml:"bin,omitempty"`
	Build        [][]string        `yaml:"build"`
	Install      [][]string        `yaml:"install,omitempty"`
	Dependencies []dependencyEntry `yaml:"dependencies,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
}

// PackageBuilder provides a fluent interface for one package manifest.
type PackageBuilder struct {
	pb       *ProjectBuilder
	manifest packageManifest
	files    map[string]string
}

// Version sets the declared version. An empty version derives it from the
// source path.
func (b *PackageBuilder) Version(v string) *PackageBuilder {
	b.manifest.Version = v
	return b
}

// Bin sets the default executable name.
func (b *PackageBuilder) Bin(name string) *PackageBuilder {
	b.manifest.Bin = name
	return b
}

// Build appends a shell command to the build steps.
func (b *PackageBuilder) Build(script string) *PackageBuilder {
	b.manifest.Build = append(b.manifest.Build, []string{"sh", "-c", script})
	return b
}

// Install appends a shell command to the install steps.
func (b *PackageBuilder) Install(script string) *PackageBuilder {
	b.manifest.Install = append(b.manifest.Install, []string{"sh", "-c", script})
	return b
}

// Executable installs a script named name that runs body.
func (b *PackageBuilder) Executable(name, body string) *PackageBuilder {
	return b.Install(ExecutableScript(name, body))
}

// DependsOn declares a dependency on the sibling package name.
func (b *PackageBuilder) DependsOn(names ...string) *PackageBuilder {
	for _, name := range names {
		b.manifest.Dependencies = append(b.manifest.Dependencies, dependencyEntry{Name: name, Path: "../" + name})
	}
	return b
}

// Env adds an exported environment variable.
func (b *PackageBuilder) Env(key, value string) *PackageBuilder {
	if b.manifest.Env == nil {
		b.manifest.Env = make(map[string]string)
	}
	b.manifest.Env[key] = value
	return b
}

// File adds a source file relative to the package directory.
func (b *PackageBuilder) File(rel, content string) *PackageBuilder {
	if b.files == nil {
		b.files = make(map[string]string)
	}
	b.files[rel] = content
	return b
}

// Write writes the manifest and files and returns the package directory.
func (b *PackageBuilder) Write() string {
	t := b.pb.t
	t.Helper()
	dir := b.pb.Dir(b.manifest.Name)
	if err := os.MkdirAll(dir, testDirPermissions); err != nil {
		t.Fatalf("Failed to create package directory: %v", err)
	}
	if len(b.manifest.Build) == 0 {
		b.manifest.Build = [][]string{{"true"}}
	}
	data, err := yaml.Marshal(b.manifest)
	if err != nil {
		t.Fatalf("Failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "package.yaml"), data, testFilePermissions); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	for rel, content := range b.files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), testDirPermissions); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), testFilePermissions); err != nil {
			t.Fatalf("Failed to write %s: %v", rel, err)
		}
	}
	return dir
}

// ExecutableScript returns a shell snippet that installs an executable
// script into $cur__install/bin.
func ExecutableScript(name, body string) string {
	return fmt.Sprintf(`mkdir -p "$cur__install/bin" && printf '#!/bin/sh\n%%s\n' '%s' > "$cur__install/bin/%s" && chmod +x "$cur__install/bin/%s"`,
		body, name, name)
}

// InitGitRepo turns dir into a git repository with one commit holding all
// files, so .gitignore handling matches a real checkout.
func InitGitRepo(t *testing.T, dir string) {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to initialize git repo: %v", err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}
	if err := w.AddGlob("."); err != nil {
		t.Fatalf("Failed to add files to git: %v", err)
	}
	_, err = w.Commit("Initial test commit", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Failed to create initial commit: %v", err)
	}
}

// Package descriptor defines the static, parsed representation of one package.
package descriptor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// PackageID is the stable identity of a package: its name plus either the
// declared version or a hash of its source location.
type PackageID struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NewPackageID returns the identity for a package. When version is empty the
// identity falls back to a hash of the cleaned absolute source path.
func NewPackageID(name, version, sourcePath string) PackageID {
	if version == "" {
		version = SourceVersion(sourcePath)
	}
	return PackageID{Name: name, Version: version}
}

// SourceVersion derives a version string from a source location.
func SourceVersion(sourcePath string) string {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		abs = sourcePath
	}
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return "src-" + hex.EncodeToString(sum[:])[:12]
}

// String renders the id as name@version.
func (id PackageID) String() string {
	return id.Name + "@" + id.Version
}

// Key returns a filesystem-safe form of the id used for directory names.
// The suffix is derived from String, so distinct ids never share a key even
// when their sanitized forms are equal.
func (id PackageID) Key() string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "@", "_")
	sum := sha256.Sum256([]byte(id.String()))
	return r.Replace(id.Name) + "-" + r.Replace(id.Version) + "-" + hex.EncodeToString(sum[:])[:8]
}

// IsZero reports whether the id is unset.
func (id PackageID) IsZero() bool {
	return id.Name == "" && id.Version == ""
}

// ParsePackageID parses the name@version form produced by String.
func ParsePackageID(s string) (PackageID, error) {
	i := strings.LastIndex(s, "@")
	if i <= 0 || i == len(s)-1 {
		return PackageID{}, fmt.Errorf("invalid package id %q: want name@version", s)
	}
	return PackageID{Name: s[:i], Version: s[i+1:]}, nil
}

// DependencyRef is a dependency as declared in a manifest, before resolution.
type DependencyRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// PackageDescriptor is created during manifest resolution and is read-only
// afterwards.
type PackageDescriptor struct {
	ID PackageID `json:"id"`

	// BuildCommand is a sequence of argv run in order inside the build sandbox.
	BuildCommand [][]string `json:"build"`

	// InstallCommand is optional; it populates the staging directory.
	InstallCommand [][]string `json:"install,omitempty"`

	// Dependencies holds the resolved ids in declared order. It is filled by
	// the graph builder.
	Dependencies []PackageID `json:"dependencies,omitempty"`

	// DependencyRefs holds the raw references in declared order.
	DependencyRefs []DependencyRef `json:"dependency_refs,omitempty"`

	ExportedEnv map[string]string `json:"env,omitempty"`
	SourcePath  string            `json:"source_path"`

	// Bin is the default executable name; it defaults to the package name.
	Bin string `json:"bin,omitempty"`
}

// DefaultBinary returns the executable run by x and b when none is given.
func (d *PackageDescriptor) DefaultBinary() string {
	if d.Bin != "" {
		return d.Bin
	}
	return d.ID.Name
}

// Validate checks the descriptor invariants that do not depend on the graph.
func (d *PackageDescriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("descriptor is nil")
	}
	if d.ID.Name == "" {
		return fmt.Errorf("package name is required")
	}
	if strings.ContainsAny(d.ID.Name, " \t\n@") {
		return fmt.Errorf("package name %q contains invalid characters", d.ID.Name)
	}
	if d.SourcePath == "" {
		return fmt.Errorf("package %s: source path is required", d.ID.Name)
	}
	for i, argv := range d.BuildCommand {
		if len(argv) == 0 || argv[0] == "" {
			return fmt.Errorf("package %s: build command %d is empty", d.ID.Name, i)
		}
	}
	for i, argv := range d.InstallCommand {
		if len(argv) == 0 || argv[0] == "" {
			return fmt.Errorf("package %s: install command %d is empty", d.ID.Name, i)
		}
	}
	seen := make(map[string]bool, len(d.DependencyRefs))
	for _, ref := range d.DependencyRefs {
		if ref.Name == "" {
			return fmt.Errorf("package %s: dependency without name", d.ID.Name)
		}
		if seen[ref.Name] {
			return fmt.Errorf("package %s: dependency %s declared twice", d.ID.Name, ref.Name)
		}
		seen[ref.Name] = true
	}
	return nil
}

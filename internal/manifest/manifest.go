// Package manifest reads package.yaml files into package descriptors.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
	perrors "git.home.luguber.info/inful/pkgbuild/internal/errors"
)

// FileNames lists the manifest names looked up in a package directory, in order.
var FileNames = []string{"package.yaml", "package.yml"}

// File is the on-disk manifest format.
type File struct {
	Name         string            `yaml:"name"`
	Version      string            `yaml:"version,omitempty"`
	Bin          string            `yaml:"bin,omitempty"`
	Build        Commands          `yaml:"build"`
	Install      Commands          `yaml:"install,omitempty"`
	Dependencies Dependencies      `yaml:"dependencies,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	EnvFile      string            `yaml:"envFile,omitempty"`
}

// Commands is a sequence of argv. In YAML it may be written as a single shell
// string, a single argv list, or a list of argv lists.
type Commands [][]string

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Commands) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*c = nil
			return nil
		}
		*c = Commands{{"sh", "-c", s}}
		return nil
	case yaml.SequenceNode:
		if len(node.Content) == 0 {
			*c = nil
			return nil
		}
		if node.Content[0].Kind == yaml.ScalarNode {
			var argv []string
			if err := node.Decode(&argv); err != nil {
				return err
			}
			*c = Commands{argv}
			return nil
		}
		var argvs [][]string
		if err := node.Decode(&argvs); err != nil {
			return err
		}
		*c = argvs
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list", node.Line)
	}
}

// Dependencies keeps the declaration order of the dependencies mapping.
type Dependencies []descriptor.DependencyRef

// UnmarshalYAML implements yaml.Unmarshaler. Both `name: path` mappings and
// lists of {name, path} objects are accepted.
func (d *Dependencies) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		refs := make(Dependencies, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var name, path string
			if err := node.Content[i].Decode(&name); err != nil {
				return err
			}
			if err := node.Content[i+1].Decode(&path); err != nil {
				return err
			}
			refs = append(refs, descriptor.DependencyRef{Name: name, Path: path})
		}
		*d = refs
		return nil
	case yaml.SequenceNode:
		var refs []struct {
			Name string `yaml:"name"`
			Path string `yaml:"path"`
		}
		if err := node.Decode(&refs); err != nil {
			return err
		}
		out := make(Dependencies, 0, len(refs))
		for _, r := range refs {
			out = append(out, descriptor.DependencyRef{Name: r.Name, Path: r.Path})
		}
		*d = out
		return nil
	default:
		return fmt.Errorf("line %d: dependencies must be a mapping or a list", node.Line)
	}
}

// Find returns the manifest path inside dir.
func Find(dir string) (string, error) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("no %s found in %s", FileNames[0], dir)
}

// Parse decodes manifest bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &f, nil
}

// Load reads the manifest of the package located in dir.
func Load(dir string) (*descriptor.PackageDescriptor, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, perrors.ManifestInvalid(dir, err)
	}
	path, err := Find(abs)
	if err != nil {
		return nil, perrors.ManifestInvalid(abs, err)
	}
	// #nosec G304 - path is derived from the package directory
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.ManifestInvalid(path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, perrors.ManifestInvalid(path, err)
	}
	desc, err := f.Descriptor(abs)
	if err != nil {
		return nil, perrors.ManifestInvalid(path, err)
	}
	return desc, nil
}

// Descriptor converts the manifest into a descriptor rooted at sourcePath.
// Variables from EnvFile are merged under Env, so Env wins on conflicts.
func (f *File) Descriptor(sourcePath string) (*descriptor.PackageDescriptor, error) {
	env := make(map[string]string, len(f.Env))
	if f.EnvFile != "" {
		fileEnv, err := godotenv.Read(filepath.Join(sourcePath, f.EnvFile))
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", f.EnvFile, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for k, v := range f.Env {
		env[k] = v
	}

	desc := &descriptor.PackageDescriptor{
		ID:             descriptor.NewPackageID(f.Name, f.Version, sourcePath),
		BuildCommand:   f.Build,
		InstallCommand: f.Install,
		DependencyRefs: f.Dependencies,
		ExportedEnv:    env,
		SourcePath:     sourcePath,
		Bin:            f.Bin,
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

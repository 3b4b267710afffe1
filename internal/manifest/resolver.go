package manifest

import (
	"fmt"
	"path/filepath"
	"sync"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
)

// DirResolver resolves dependency references to package directories relative
// to the requiring package. Loaded manifests are memoised by absolute path.
type DirResolver struct {
	mu    sync.Mutex
	cache map[string]*descriptor.PackageDescriptor
}

// NewDirResolver creates a resolver with an empty cache.
func NewDirResolver() *DirResolver {
	return &DirResolver{cache: make(map[string]*descriptor.PackageDescriptor)}
}

// Resolve loads the package referenced by ref from the directory it points to.
// A reference without a path defaults to a sibling directory named after the
// dependency.
func (r *DirResolver) Resolve(from *descriptor.PackageDescriptor, ref descriptor.DependencyRef) (*descriptor.PackageDescriptor, error) {
	rel := ref.Path
	if rel == "" {
		rel = filepath.Join("..", ref.Name)
	}
	dir := rel
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(from.SourcePath, rel)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	cached, ok := r.cache[abs]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	desc, err := Load(abs)
	if err != nil {
		return nil, err
	}
	if desc.ID.Name != ref.Name {
		return nil, fmt.Errorf("directory %s contains package %q, expected %q", abs, desc.ID.Name, ref.Name)
	}

	r.mu.Lock()
	r.cache[abs] = desc
	r.mu.Unlock()
	return desc, nil
}

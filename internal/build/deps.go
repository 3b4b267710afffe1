package build

import (
	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
	"git.home.luguber.info/inful/pkgbuild/internal/graph"
	"git.home.luguber.info/inful/pkgbuild/internal/sandbox"
)

// Dependencies lists every transitive dependency of id in topological order,
// paired with its install directory. Direct dependencies come after the
// packages they depend on, so their exported environment takes precedence.
func Dependencies(g *graph.Graph, id descriptor.PackageID, mgr *sandbox.Manager) []sandbox.Dependency {
	ids := g.TransitiveDependencies(id)
	out := make([]sandbox.Dependency, 0, len(ids))
	for _, dep := range ids {
		desc, ok := g.Node(dep)
		if !ok {
			continue
		}
		out = append(out, sandbox.Dependency{Descriptor: desc, InstallPath: mgr.InstallPath(dep)})
	}
	return out
}

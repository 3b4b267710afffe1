package graph

import (
	"sort"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
	perrors "git.home.luguber.info/inful/pkgbuild/internal/errors"
)

// Resolver maps a dependency reference of a package to its descriptor.
type Resolver interface {
	Resolve(from *descriptor.PackageDescriptor, ref descriptor.DependencyRef) (*descriptor.PackageDescriptor, error)
}

// Graph is an acyclic dependency graph with exactly one root.
type Graph struct {
	root       descriptor.PackageID
	nodes      map[descriptor.PackageID]*descriptor.PackageDescriptor
	dependents map[descriptor.PackageID][]descriptor.PackageID
	order      []descriptor.PackageID
}

type visitState int

const (
	unvisited visitState = iota
	inProgress
	done
)

// Build resolves the transitive dependencies of root and returns the graph.
// It fails with UnresolvedDependency or CyclicDependency.
func Build(root *descriptor.PackageDescriptor, resolver Resolver) (*Graph, error) {
	if err := root.Validate(); err != nil {
		return nil, perrors.ManifestInvalid(root.SourcePath, err)
	}

	g := &Graph{
		root:       root.ID,
		nodes:      make(map[descriptor.PackageID]*descriptor.PackageDescriptor),
		dependents: make(map[descriptor.PackageID][]descriptor.PackageID),
	}
	state := make(map[descriptor.PackageID]visitState)
	var stack []descriptor.PackageID

	var visit func(d *descriptor.PackageDescriptor) error
	visit = func(d *descriptor.PackageDescriptor) error {
		switch state[d.ID] {
		case done:
			return nil
		case inProgress:
			return perrors.CyclicDependency(cyclePath(stack, d.ID))
		}
		state[d.ID] = inProgress
		stack = append(stack, d.ID)

		// Descriptors may be shared by the resolver cache; the graph owns its copy.
		node := *d
		node.Dependencies = make([]descriptor.PackageID, 0, len(d.DependencyRefs))
		for _, ref := range d.DependencyRefs {
			dep, err := resolver.Resolve(d, ref)
			if err != nil {
				return perrors.UnresolvedDependency(d.ID.String(), ref.Name, err)
			}
			if dep == nil {
				return perrors.UnresolvedDependency(d.ID.String(), ref.Name, nil)
			}
			if err := visit(dep); err != nil {
				return err
			}
			node.Dependencies = append(node.Dependencies, dep.ID)
			g.dependents[dep.ID] = append(g.dependents[dep.ID], d.ID)
		}

		stack = stack[:len(stack)-1]
		state[d.ID] = done
		g.nodes[d.ID] = &node
		g.order = append(g.order, d.ID)
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}
	return g, nil
}

// cyclePath renders the witness cycle ending back at id.
func cyclePath(stack []descriptor.PackageID, id descriptor.PackageID) []string {
	start := 0
	for i, s := range stack {
		if s == id {
			start = i
			break
		}
	}
	out := make([]string, 0, len(stack)-start+1)
	for _, s := range stack[start:] {
		out = append(out, s.String())
	}
	return append(out, id.String())
}

// Root returns the id of the root package.
func (g *Graph) Root() descriptor.PackageID { return g.root }

// Len returns the number of packages.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the descriptor for id.
func (g *Graph) Node(id descriptor.PackageID) (*descriptor.PackageDescriptor, bool) {
	d, ok := g.nodes[id]
	return d, ok
}

// TopoOrder returns package ids with every dependency before its dependents.
// The order is the depth-first post-order of the declared dependencies, so it
// is stable for a given set of manifests.
func (g *Graph) TopoOrder() []descriptor.PackageID {
	out := make([]descriptor.PackageID, len(g.order))
	copy(out, g.order)
	return out
}

// Dependencies returns the direct dependencies of id in declared order.
func (g *Graph) Dependencies(id descriptor.PackageID) []descriptor.PackageID {
	d, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := make([]descriptor.PackageID, len(d.Dependencies))
	copy(out, d.Dependencies)
	return out
}

// Dependents returns the packages that depend directly on id.
func (g *Graph) Dependents(id descriptor.PackageID) []descriptor.PackageID {
	out := make([]descriptor.PackageID, len(g.dependents[id]))
	copy(out, g.dependents[id])
	return out
}

// TransitiveDependencies returns every package reachable from id, excluding
// id itself, in topological order.
func (g *Graph) TransitiveDependencies(id descriptor.PackageID) []descriptor.PackageID {
	reach := g.reachable(id)
	out := make([]descriptor.PackageID, 0, len(reach))
	for _, n := range g.order {
		if n != id && reach[n] {
			out = append(out, n)
		}
	}
	return out
}

// TransitiveDependents returns every package that reaches id, in
// topological order.
func (g *Graph) TransitiveDependents(id descriptor.PackageID) []descriptor.PackageID {
	seen := map[descriptor.PackageID]bool{}
	queue := []descriptor.PackageID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range g.dependents[cur] {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	out := make([]descriptor.PackageID, 0, len(seen))
	for _, n := range g.order {
		if seen[n] {
			out = append(out, n)
		}
	}
	return out
}

// Closure returns the sub-graph rooted at id.
func (g *Graph) Closure(id descriptor.PackageID) (*Graph, bool) {
	if _, ok := g.nodes[id]; !ok {
		return nil, false
	}
	reach := g.reachable(id)
	sub := &Graph{
		root:       id,
		nodes:      make(map[descriptor.PackageID]*descriptor.PackageDescriptor, len(reach)),
		dependents: make(map[descriptor.PackageID][]descriptor.PackageID),
	}
	for _, n := range g.order {
		if !reach[n] {
			continue
		}
		sub.nodes[n] = g.nodes[n]
		sub.order = append(sub.order, n)
		for _, p := range g.dependents[n] {
			if reach[p] {
				sub.dependents[n] = append(sub.dependents[n], p)
			}
		}
	}
	return sub, true
}

func (g *Graph) reachable(id descriptor.PackageID) map[descriptor.PackageID]bool {
	reach := map[descriptor.PackageID]bool{}
	var walk func(descriptor.PackageID)
	walk = func(n descriptor.PackageID) {
		if reach[n] {
			return
		}
		reach[n] = true
		if d, ok := g.nodes[n]; ok {
			for _, dep := range d.Dependencies {
				walk(dep)
			}
		}
	}
	walk(id)
	return reach
}

// Lookup finds a package by name or by its name@version form.
func (g *Graph) Lookup(name string) (descriptor.PackageID, error) {
	if id, err := descriptor.ParsePackageID(name); err == nil {
		if _, ok := g.nodes[id]; ok {
			return id, nil
		}
	}

	var matches []descriptor.PackageID
	for id := range g.nodes {
		if id.Name == name {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return descriptor.PackageID{}, perrors.PackageNotFound(name)
	case 1:
		return matches[0], nil
	default:
		candidates := make([]string, 0, len(matches))
		for _, m := range matches {
			candidates = append(candidates, m.String())
		}
		sort.Strings(candidates)
		return descriptor.PackageID{}, perrors.AmbiguousPackage(name, candidates)
	}
}

// Package graph assembles package descriptors into a dependency graph.
//
// Construction is a depth-first traversal from the root package. Visited
// packages are memoised by PackageID, so diamond dependencies share a single
// node, and an in-progress marker detects cycles. Graph errors are reported
// before any build starts.
package graph

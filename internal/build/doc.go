// Package build provides the build orchestrator.
//
// The Orchestrator walks a dependency graph, builds every package whose
// fingerprint changed and skips those whose dependencies failed. Independent
// subtrees are built in parallel up to a worker limit. All execution paths
// (the build command, b, watch and tests) route through Orchestrator.Build.
package build

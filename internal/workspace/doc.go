// Package workspace lays out the per-project store that holds build state and
// package artifacts.
//
// The store lives outside the source tree:
//
//	<store>/<project-key>/state.db
//	<store>/<project-key>/events.db
//	<store>/<project-key>/build/<package>
//	<store>/<project-key>/stage/<package>
//	<store>/<project-key>/install/<package>
//	<store>/<project-key>/logs/<package>
//	<store>/<project-key>/locks/<package>.lock
//
// Build and stage directories are scratch space owned by a single build.
// Install directories persist across runs. Lock files serialize builds of one
// package across processes sharing the store.
package workspace

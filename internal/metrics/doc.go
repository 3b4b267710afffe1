// Package metrics provides build metrics for pkgbuild.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no nil checks are needed at call sites:
//
//	orch := build.NewOrchestrator(mgr, store, build.WithRecorder(metrics.NoopRecorder{}))
//
// PrometheusRecorder registers its collectors in a prometheus.Registry. The
// CLI has no HTTP surface; when --metrics-file is set the registry is written
// once in the node_exporter textfile format after the command finishes.
package metrics

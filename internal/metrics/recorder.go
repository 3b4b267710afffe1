package metrics

import "time"

// PackageOutcome enumerates the final state of a package within a run.
type PackageOutcome string

const (
	OutcomeBuilt   PackageOutcome = "built"
	OutcomeCached  PackageOutcome = "cached"
	OutcomeFailed  PackageOutcome = "failed"
	OutcomeSkipped PackageOutcome = "skipped"
)

// ResultLabel enumerates run and dispatch results for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for builds and command dispatch.
type Recorder interface {
	ObservePackageBuildDuration(pkg string, d time.Duration, outcome PackageOutcome)
	IncPackageOutcome(outcome PackageOutcome)
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(result ResultLabel)
	SetBuildConcurrency(n int)
	IncDispatch(operation string, result ResultLabel)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObservePackageBuildDuration(string, time.Duration, PackageOutcome) {}
func (NoopRecorder) IncPackageOutcome(PackageOutcome)                                  {}
func (NoopRecorder) ObserveRunDuration(time.Duration)                                  {}
func (NoopRecorder) IncRunOutcome(ResultLabel)                                         {}
func (NoopRecorder) SetBuildConcurrency(int)                                           {}
func (NoopRecorder) IncDispatch(string, ResultLabel)                                   {}

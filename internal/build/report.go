package build

import (
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
	"git.home.luguber.info/inful/pkgbuild/internal/metrics"
)

// PackageResult is the final state of one package within a run.
type PackageResult struct {
	ID          descriptor.PackageID
	Outcome     metrics.PackageOutcome
	Fingerprint string
	ExitCode    int
	Duration    time.Duration
	Err         error
}

// Report summarises a build run. Packages are listed in topological order.
type Report struct {
	RunID    string
	Root     descriptor.PackageID
	Packages []PackageResult
	Built    int
	Cached   int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Success reports whether every package is built or cached.
func (r *Report) Success() bool {
	return r != nil && r.Failed == 0 && r.Skipped == 0
}

// Result returns the result for id.
func (r *Report) Result(id descriptor.PackageID) (PackageResult, bool) {
	for _, p := range r.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return PackageResult{}, false
}

// Err returns the first failure of the run in topological order, or nil.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	for _, p := range r.Packages {
		if p.Outcome == metrics.OutcomeFailed && p.Err != nil {
			return p.Err
		}
	}
	for _, p := range r.Packages {
		if p.Err != nil {
			return p.Err
		}
	}
	return nil
}

// String renders a one-line summary.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d built, %d cached", r.Built, r.Cached)
	if r.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", r.Failed)
	}
	if r.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", r.Skipped)
	}
	fmt.Fprintf(&b, " in %s", r.Duration.Round(time.Millisecond))
	return b.String()
}

func (r *Report) add(res PackageResult) {
	r.Packages = append(r.Packages, res)
	switch res.Outcome {
	case metrics.OutcomeBuilt:
		r.Built++
	case metrics.OutcomeCached:
		r.Cached++
	case metrics.OutcomeFailed:
		r.Failed++
	case metrics.OutcomeSkipped:
		r.Skipped++
	}
}

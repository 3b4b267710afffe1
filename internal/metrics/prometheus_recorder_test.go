package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObservePackageBuildDuration("dep@1.0.0", 150*time.Millisecond, OutcomeBuilt)
	pr.IncPackageOutcome(OutcomeBuilt)
	pr.IncPackageOutcome(OutcomeCached)
	pr.IncPackageOutcome(OutcomeCached)
	pr.ObserveRunDuration(500 * time.Millisecond)
	pr.IncRunOutcome(ResultSuccess)
	pr.SetBuildConcurrency(4)
	pr.IncDispatch("x", ResultSuccess)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)

	values := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				key := mf.GetName()
				for _, l := range m.GetLabel() {
					key += "," + l.GetValue()
				}
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	require.InDelta(t, 2, values["pkgbuild_package_outcomes_total,cached"], 0)
	require.InDelta(t, 4, values["pkgbuild_build_concurrency"], 0)
}

func TestPrometheusRecorder_NilSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncPackageOutcome(OutcomeFailed)
	pr.ObserveRunDuration(time.Second)
	pr.IncDispatch("b", ResultFailed)
}

func TestWriteTextfile(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncRunOutcome(ResultFailed)

	path := filepath.Join(t.TempDir(), "out", "pkgbuild.prom")
	require.NoError(t, WriteTextfile(reg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), `pkgbuild_run_outcomes_total{result="failed"} 1`), string(data))

	require.NoError(t, WriteTextfile(nil, path))
	require.NoError(t, WriteTextfile(reg, ""))
}

var _ Recorder = NoopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)

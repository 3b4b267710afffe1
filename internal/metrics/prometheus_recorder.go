package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	packageDuration  *prom.HistogramVec
	packageOutcomes  *prom.CounterVec
	runDuration      prom.Histogram
	runOutcomes      *prom.CounterVec
	buildConcurrency prom.Gauge
	dispatches       *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.packageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "pkgbuild",
			Name:      "package_build_duration_seconds",
			Help:      "Duration of individual package builds",
			Buckets:   prom.DefBuckets,
		}, []string{"package", "outcome"})
		pr.packageOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pkgbuild",
			Name:      "package_outcomes_total",
			Help:      "Package results by outcome (built, cached, failed, skipped)",
		}, []string{"outcome"})
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "pkgbuild",
			Name:      "run_duration_seconds",
			Help:      "Total duration of a build run",
			Buckets:   prom.DefBuckets,
		})
		pr.runOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pkgbuild",
			Name:      "run_outcomes_total",
			Help:      "Build run outcomes by final status",
		}, []string{"result"})
		pr.buildConcurrency = prom.NewGauge(prom.GaugeOpts{
			Namespace: "pkgbuild",
			Name:      "build_concurrency",
			Help:      "Worker limit used by the last build run",
		})
		pr.dispatches = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pkgbuild",
			Name:      "dispatch_total",
			Help:      "Dispatched commands by operation and result",
		}, []string{"operation", "result"})
		reg.MustRegister(pr.packageDuration, pr.packageOutcomes, pr.runDuration, pr.runOutcomes, pr.buildConcurrency, pr.dispatches)
	})
	return pr
}

func (p *PrometheusRecorder) ObservePackageBuildDuration(pkg string, d time.Duration, outcome PackageOutcome) {
	if p == nil || p.packageDuration == nil {
		return
	}
	p.packageDuration.WithLabelValues(pkg, string(outcome)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPackageOutcome(outcome PackageOutcome) {
	if p == nil || p.packageOutcomes == nil {
		return
	}
	p.packageOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(result ResultLabel) {
	if p == nil || p.runOutcomes == nil {
		return
	}
	p.runOutcomes.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) SetBuildConcurrency(n int) {
	if p == nil || p.buildConcurrency == nil {
		return
	}
	p.buildConcurrency.Set(float64(n))
}

func (p *PrometheusRecorder) IncDispatch(operation string, result ResultLabel) {
	if p == nil || p.dispatches == nil {
		return
	}
	p.dispatches.WithLabelValues(operation, string(result)).Inc()
}

// Package metrics exports pass statistics for Prometheus, either over HTTP
// (daemon mode) or as a node_exporter textfile (one-shot mode).
package metrics

import (
	"net/http"

	"fdroidbot/internal/engine"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fdroidbot"

type Recorder struct {
	reg *prom.Registry

	packages     *prom.CounterVec
	deliveries   *prom.CounterVec
	hookFailures prom.Counter
	passDuration prom.Histogram
	lastPass     prom.Gauge
}

// New registers the bot metrics on a fresh registry. withRuntime adds the Go
// and process collectors, which only make sense for a long-running process.
func New(withRuntime bool) *Recorder {
	r := &Recorder{reg: prom.NewRegistry()}
	r.packages = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "packages_total",
		Help:      "Packages processed by outcome",
	}, []string{"outcome"})
	r.deliveries = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Channel deliveries by result",
	}, []string{"result"})
	r.hookFailures = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "hook_failures_total",
		Help:      "Message hook invocations that failed",
	})
	r.passDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "pass_duration_seconds",
		Help:      "Duration of update passes",
		Buckets:   prom.DefBuckets,
	})
	r.lastPass = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "last_pass_timestamp_seconds",
		Help:      "Unix time the last pass finished",
	})
	r.reg.MustRegister(r.packages, r.deliveries, r.hookFailures, r.passDuration, r.lastPass)
	if withRuntime {
		r.reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	}
	// expose every outcome series from the start
	for _, o := range engine.Outcomes {
		r.packages.WithLabelValues(string(o))
	}
	r.deliveries.WithLabelValues("delivered")
	r.deliveries.WithLabelValues("failed")
	return r
}

// Observe records one finished pass.
func (r *Recorder) Observe(rep *engine.Report) {
	if r == nil || rep == nil {
		return
	}
	for o, n := range rep.Counts {
		r.packages.WithLabelValues(string(o)).Add(float64(n))
	}
	d := rep.Deliveries()
	r.deliveries.WithLabelValues("delivered").Add(float64(d.Delivered))
	r.deliveries.WithLabelValues("failed").Add(float64(d.Failed))
	r.hookFailures.Add(float64(rep.Counts[engine.OutcomeHookFailed]))
	r.passDuration.Observe(rep.Duration.Seconds())
	r.lastPass.Set(float64(rep.Started.Add(rep.Duration).Unix()))
}

// WriteTextfile writes the registry in the text exposition format, atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prom.WriteToTextfile(path, r.reg)
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prom.Registry { return r.reg }

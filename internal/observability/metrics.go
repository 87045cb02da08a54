// Package observability exposes run metrics and the ops HTTP server
// (/metrics, /healthz, /runs, /debug/pprof/).
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proxyfig/internal/pipeline"
)

const MetricsNamespace = "proxyfig"

// Metrics holds the Prometheus collectors for collect+publish runs.
// Each instance owns a private registry so tests can create many.
type Metrics struct {
	reg *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	SourceFetches   *prometheus.CounterVec
	LinksCollected  prometheus.Counter
	LastRunLinks    prometheus.Gauge
	BatchesTotal    *prometheus.CounterVec
	LastSuccessUnix prometheus.Gauge
	SkippedTicks    prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "runs_total",
			Help:      "Collect+publish runs by trigger and result (published, empty, interrupted).",
		}, []string{"trigger", "result"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one collect+publish run, including batch pacing.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		SourceFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "source_fetches_total",
			Help:      "Source fetches by kind and status (ok, failed).",
		}, []string{"kind", "status"}),
		LinksCollected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "links_collected_total",
			Help:      "Unique proxy links collected, summed over runs.",
		}),
		LastRunLinks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "last_run_links",
			Help:      "Unique proxy links collected by the most recent run.",
		}),
		BatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "batches_total",
			Help:      "Channel messages by outcome (sent, failed).",
		}, []string{"outcome"}),
		LastSuccessUnix: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that sent at least one batch.",
		}),
		SkippedTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "skipped_ticks_total",
			Help:      "Schedule ticks skipped because a run was still in progress.",
		}),
	}
}

// ObserveRun implements pipeline.Recorder.
func (m *Metrics) ObserveRun(r pipeline.Report) {
	result := "published"
	switch {
	case r.Err != nil:
		result = "interrupted"
	case r.Empty():
		result = "empty"
	}
	m.RunsTotal.WithLabelValues(r.Trigger, result).Inc()
	m.RunDuration.Observe(r.Took.Seconds())

	for _, s := range r.Sources {
		status := "ok"
		if !s.OK {
			status = "failed"
		}
		m.SourceFetches.WithLabelValues(string(s.Source.Kind), status).Inc()
	}
	m.LinksCollected.Add(float64(r.Links))
	m.LastRunLinks.Set(float64(r.Links))
	m.BatchesTotal.WithLabelValues("sent").Add(float64(r.Publish.Sent))
	m.BatchesTotal.WithLabelValues("failed").Add(float64(r.Publish.Failed))
	if r.Publish.Sent > 0 {
		m.LastSuccessUnix.Set(float64(r.StartedAt.Add(r.Took).Unix()))
	}
}

func (m *Metrics) ObserveSkip() { m.SkippedTicks.Inc() }

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Timeout: 10 * time.Second})
}

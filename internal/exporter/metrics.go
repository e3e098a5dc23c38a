package exporter

import (
	"net/http"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Recorder counts pages, stats polls, report builds and repository failures, and keeps the
// gauges of the latest report per owner. It satisfies githubapi.PageObserver, poller.Observer
// and report.Recorder.
type Recorder struct {
	registry     *prometheus.Registry
	gauges       *ReportGauges
	pages        *prometheus.CounterVec
	polls        *prometheus.CounterVec
	builds       *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	repoFailures *prometheus.CounterVec
}

// NewRecorder registers the report metrics on a fresh registry.
func NewRecorder(gaugeRetention time.Duration) *Recorder {
	recorder := &Recorder{
		registry: prometheus.NewRegistry(),
		gauges:   NewReportGauges(gaugeRetention),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitstats_pages_fetched_total",
			Help: "GitHub REST pages accepted by the pager.",
		}, []string{"resource"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitstats_stats_polls_total",
			Help: "Contributor stats polls by outcome.",
		}, []string{"outcome"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitstats_report_builds_total",
			Help: "Report operations by kind and result.",
		}, []string{"kind", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gitstats_report_duration_seconds",
			Help:    "Report operation duration.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		repoFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitstats_repo_failures_total",
			Help: "Per-repository failures by report phase.",
		}, []string{"phase"}),
	}

	recorder.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		recorder.pages,
		recorder.polls,
		recorder.builds,
		recorder.duration,
		recorder.repoFailures,
		&snapshotCollector{reader: recorder.gauges},
	)
	return recorder
}

// ObservePage counts one fetched page of resource.
func (r *Recorder) ObservePage(resource string) {
	r.pages.WithLabelValues(resource).Inc()
}

// ObservePoll counts one stats poll outcome.
func (r *Recorder) ObservePoll(outcome string) {
	r.polls.WithLabelValues(outcome).Inc()
}

// ObserveBuild counts one finished report operation.
func (r *Recorder) ObserveBuild(kind, result string, duration time.Duration) {
	r.builds.WithLabelValues(kind, result).Inc()
	r.duration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveRepoFailure counts one repository failing a phase.
func (r *Recorder) ObserveRepoFailure(phase string) {
	r.repoFailures.WithLabelValues(phase).Inc()
}

// ObserveReport refreshes the gauges of rep's owner.
func (r *Recorder) ObserveReport(kind string, rep report.Report) {
	r.gauges.Record(kind, rep)
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the OpenMetrics format.
func (r *Recorder) Handler() http.Handler {
	return NewOpenMetricsHandler(r.registry)
}

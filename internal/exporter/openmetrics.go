// Package exporter exposes report and GitHub client metrics in the OpenMetrics format.
package exporter

import (
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewOpenMetricsHandler renders gatherer through the Prometheus OpenMetrics encoder.
func NewOpenMetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// snapshotCollector publishes the report gauges as const metrics on every scrape, so series
// that left the retention window disappear without unregistering anything.
type snapshotCollector struct {
	reader SnapshotReader
}

func (c *snapshotCollector) Describe(chan<- *prometheus.Desc) {}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.reader == nil {
		return
	}

	descs := map[string]*prometheus.Desc{}
	for _, point := range c.reader.Snapshot() {
		labelNames := sortedLabelNames(point.Labels)
		key := seriesKey(point.Name, labelSet(labelNames))
		desc, ok := descs[key]
		if !ok {
			desc = prometheus.NewDesc(point.Name, gaugeHelp(point.Name), labelNames, nil)
			descs[key] = desc
		}

		values := make([]string, len(labelNames))
		for idx, name := range labelNames {
			values[idx] = point.Labels[name]
		}
		metric, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, point.Value, values...)
		if err != nil {
			continue
		}
		ch <- metric
	}
}

func sortedLabelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func labelSet(names []string) map[string]string {
	set := make(map[string]string, len(names))
	for _, name := range names {
		set[name] = ""
	}
	return set
}

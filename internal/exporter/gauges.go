package exporter

import (
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/report"
)

// MetricPoint is one gauge sample derived from the last report of an owner.
type MetricPoint struct {
	Name      string
	Labels    map[string]string
	Value     float64
	UpdatedAt time.Time
}

// SnapshotReader reads gauge snapshots.
type SnapshotReader interface {
	Snapshot() []MetricPoint
}

// ReportGauges keeps the headline numbers of the latest report per owner and kind. Owners not
// reported within the retention window are dropped from snapshots.
type ReportGauges struct {
	mu        sync.RWMutex
	retention time.Duration
	now       func() time.Time
	series    map[string]MetricPoint
}

// NewReportGauges creates an empty gauge table. A non-positive retention keeps series forever.
func NewReportGauges(retention time.Duration) *ReportGauges {
	return &ReportGauges{
		retention: retention,
		now:       time.Now,
		series:    make(map[string]MetricPoint),
	}
}

// Record replaces the gauges of rep's owner for kind.
func (g *ReportGauges) Record(kind string, rep report.Report) {
	owner := strings.ToLower(rep.Owner.Login)
	if owner == "" {
		return
	}
	now := g.now()

	var commits, pulls, failed int
	var previousCommits int
	for _, repo := range rep.Repos {
		if len(repo.Errors) > 0 {
			failed++
		}
		if repo.Stats != nil {
			if authors, ready := repo.Stats.Authors(); ready {
				for _, author := range authors {
					commits += author.Commits.Next
					previousCommits += author.Commits.Previous
				}
			}
		}
		for _, summary := range repo.PullRequests {
			pulls += summary.PRsOpened.Next
		}
	}

	base := map[string]string{"owner": owner, "kind": kind}
	points := []MetricPoint{
		{Name: "gitstats_report_repositories", Labels: base, Value: float64(len(rep.Repos))},
		{Name: "gitstats_report_pending_repositories", Labels: base, Value: float64(len(rep.PendingRepos()))},
		{Name: "gitstats_report_failed_repositories", Labels: base, Value: float64(failed)},
		{Name: "gitstats_report_members", Labels: base, Value: float64(len(rep.Members))},
		{Name: "gitstats_report_commits", Labels: withLabel(base, "window", "previous"), Value: float64(previousCommits)},
		{Name: "gitstats_report_commits", Labels: withLabel(base, "window", "next"), Value: float64(commits)},
		{Name: "gitstats_report_prs_opened", Labels: withLabel(base, "window", "next"), Value: float64(pulls)},
		{Name: "gitstats_report_last_success_timestamp_seconds", Labels: base, Value: float64(now.Unix())},
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, point := range points {
		point.UpdatedAt = now
		g.series[seriesKey(point.Name, point.Labels)] = point
	}
}

// Snapshot returns live series sorted by name and labels.
func (g *ReportGauges) Snapshot() []MetricPoint {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	result := make([]MetricPoint, 0, len(g.series))
	for key, point := range g.series {
		if g.retention > 0 && now.Sub(point.UpdatedAt) > g.retention {
			delete(g.series, key)
			continue
		}
		result = append(result, MetricPoint{
			Name:      point.Name,
			Labels:    maps.Clone(point.Labels),
			Value:     point.Value,
			UpdatedAt: point.UpdatedAt,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return seriesKey(result[i].Name, result[i].Labels) < seriesKey(result[j].Name, result[j].Labels)
	})
	return result
}

var gaugeHelpText = map[string]string{
	"gitstats_report_repositories":                   "Repositories in the latest report of an owner.",
	"gitstats_report_pending_repositories":           "Repositories whose contributor stats were still being computed.",
	"gitstats_report_failed_repositories":            "Repositories with at least one failed phase.",
	"gitstats_report_members":                        "Organization members in the latest report.",
	"gitstats_report_commits":                        "Commits by window in the latest report.",
	"gitstats_report_prs_opened":                     "Pull requests opened in the next window.",
	"gitstats_report_last_success_timestamp_seconds": "Unix time of the latest successful report.",
}

func gaugeHelp(name string) string {
	if help, ok := gaugeHelpText[name]; ok {
		return help
	}
	return name
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	cloned := maps.Clone(labels)
	cloned[key] = value
	return cloned
}

func seriesKey(name string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	builder := strings.Builder{}
	builder.WriteString(name)
	builder.WriteString("|")
	for _, key := range keys {
		builder.WriteString(key)
		builder.WriteString("=")
		builder.WriteString(labels[key])
		builder.WriteString(";")
	}
	return builder.String()
}

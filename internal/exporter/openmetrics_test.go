package exporter

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/comparative"
	"github.com/cam3ron2/gitstats-report/internal/report"
)

func sampleReport() report.Report {
	return report.Report{
		RunID:   "run-1",
		Owner:   report.Owner{Login: "Acme"},
		Members: []report.Member{{Login: "alice"}, {Login: "bob"}},
		Repos: []report.Repository{
			{
				Name: "api",
				Stats: report.ReadyStats([]report.ContributorStat{
					{Login: "alice", Commits: comparative.Count{Previous: 2, Next: 5}},
					{Login: "bob", Commits: comparative.Count{Previous: 1, Next: 1}},
				}),
				PullRequests: []report.PullRequestSummary{{Author: "alice", PRsOpened: comparative.Count{Next: 3}}},
			},
			{Name: "web", Stats: report.PendingStats()},
			{Name: "docs", Errors: []report.RepoError{{Repo: "docs", Phase: report.PhaseStats, Err: errors.New("boom")}}},
		},
	}
}

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/openmetrics-text")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	return rec.Body.String()
}

func TestRecorderHandler(t *testing.T) {
	t.Parallel()

	recorder := NewRecorder(time.Hour)
	recorder.ObservePage("pulls")
	recorder.ObservePage("pulls")
	recorder.ObservePoll("pending")
	recorder.ObservePoll("ready")
	recorder.ObserveBuild(report.KindReport, "success", 2*time.Second)
	recorder.ObserveRepoFailure(report.PhaseStats)
	recorder.ObserveReport(report.KindReport, sampleReport())

	body := scrape(t, recorder.Handler())
	wantSubstrs := []string{
		`gitstats_pages_fetched_total{resource="pulls"} 2`,
		`gitstats_stats_polls_total{outcome="pending"} 1`,
		`gitstats_report_builds_total{kind="report",result="success"} 1`,
		`gitstats_report_duration_seconds_count{kind="report"} 1`,
		`gitstats_repo_failures_total{phase="stats"} 1`,
		`# TYPE gitstats_report_repositories gauge`,
		`# HELP gitstats_report_repositories Repositories in the latest report of an owner.`,
		`gitstats_report_repositories{kind="report",owner="acme"} 3`,
		`gitstats_report_pending_repositories{kind="report",owner="acme"} 1`,
		`gitstats_report_failed_repositories{kind="report",owner="acme"} 1`,
		`gitstats_report_members{kind="report",owner="acme"} 2`,
		`gitstats_report_commits{kind="report",owner="acme",window="next"} 6`,
		`gitstats_report_commits{kind="report",owner="acme",window="previous"} 3`,
		`gitstats_report_prs_opened{kind="report",owner="acme",window="next"} 3`,
		"# EOF",
	}
	for _, substr := range wantSubstrs {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics output missing %q:\n%s", substr, body)
		}
	}
}

func TestReportGaugesRetention(t *testing.T) {
	t.Parallel()

	now := time.Unix(1739836800, 0)
	gauges := NewReportGauges(time.Hour)
	gauges.now = func() time.Time { return now }

	gauges.Record(report.KindReport, sampleReport())
	gauges.Record(report.KindReport, report.Report{})
	snapshot := gauges.Snapshot()
	if len(snapshot) != 8 {
		t.Fatalf("Snapshot() len = %d, want 8", len(snapshot))
	}
	if snapshot[0].Name != "gitstats_report_commits" {
		t.Fatalf("Snapshot()[0] = %s, want sorted by name", snapshot[0].Name)
	}

	snapshot[0].Labels["owner"] = "mutated"
	if again := gauges.Snapshot(); again[0].Labels["owner"] != "acme" {
		t.Fatalf("Snapshot() returned shared label maps")
	}

	now = now.Add(2 * time.Hour)
	if got := gauges.Snapshot(); len(got) != 0 {
		t.Fatalf("Snapshot() after retention len = %d, want 0", len(got))
	}
}

func TestSnapshotCollectorNilReader(t *testing.T) {
	t.Parallel()

	var collector *snapshotCollector
	collector.Collect(nil)
	(&snapshotCollector{}).Collect(nil)
}

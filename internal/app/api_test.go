package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/activity"
	"github.com/cam3ron2/gitstats-report/internal/comparative"
	"github.com/cam3ron2/gitstats-report/internal/githubapi"
	"github.com/cam3ron2/gitstats-report/internal/report"
	"github.com/cam3ron2/gitstats-report/internal/store"
)

type fakeReports struct {
	mu      sync.Mutex
	err     error
	calls   []string
	periods []comparative.Period
	repos   []string
}

func (f *fakeReports) record(call string, period comparative.Period) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.periods = append(f.periods, period)
	return f.err
}

func (f *fakeReports) BuildReport(_ context.Context, owner string, period comparative.Period) (report.Report, error) {
	if err := f.record("report:"+owner, period); err != nil {
		return report.Report{}, err
	}
	return report.Report{RunID: "run-1", Period: period, Owner: report.Owner{Login: owner}}, nil
}

func (f *fakeReports) BuildEmailReport(_ context.Context, owner string, period comparative.Period) (report.Report, error) {
	if err := f.record("email:"+owner, period); err != nil {
		return report.Report{}, err
	}
	return report.Report{RunID: "run-2", Period: period, Owner: report.Owner{Login: owner, Name: "Acme Corp"}}, nil
}

func (f *fakeReports) RepositoryStats(_ context.Context, owner, repo string, period comparative.Period) (*report.StatsResult, error) {
	f.mu.Lock()
	f.repos = append(f.repos, repo)
	f.mu.Unlock()
	if err := f.record("stats:"+owner, period); err != nil {
		return nil, err
	}
	return report.PendingStats(), nil
}

func (f *fakeReports) PullRequestActivity(_ context.Context, owner string, period comparative.Period) ([]activity.RepoActivity, error) {
	if err := f.record("activity:"+owner, period); err != nil {
		return nil, err
	}
	return []activity.RepoActivity{{Repo: "api", Pulls: []activity.PullActivity{}}}, nil
}

func (f *fakeReports) AllCommits(_ context.Context, owner string, period comparative.Period) ([]report.RepoCommits, error) {
	if err := f.record("commits:"+owner, period); err != nil {
		return nil, err
	}
	return []report.RepoCommits{{Repo: "api", Authors: []report.AuthorCommits{}}}, nil
}

func (f *fakeReports) BuildSummary(_ context.Context, owner string, period comparative.Period) (report.Summary, error) {
	if err := f.record("summary:"+owner, period); err != nil {
		return report.Summary{}, err
	}
	return report.Summary{Period: period, PendingRepos: []string{}}, nil
}

type fakeRunArchive struct {
	runs      []store.RunRecord
	reports   map[string]report.Report
	gotOwner  string
	gotLimit  int
	listError error
}

func (f *fakeRunArchive) ListRuns(_ context.Context, owner string, limit int) ([]store.RunRecord, error) {
	f.gotOwner = owner
	f.gotLimit = limit
	return f.runs, f.listError
}

func (f *fakeRunArchive) LoadReport(_ context.Context, runID string) (report.Report, error) {
	rep, ok := f.reports[runID]
	if !ok {
		return report.Report{}, fmt.Errorf("load %s: %w", runID, store.ErrRunNotFound)
	}
	return rep, nil
}

func serve(t *testing.T, handler http.Handler, target string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", got)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	if _, ok := body["message"]; !ok {
		t.Fatalf("body %q has no message envelope", rec.Body.String())
	}
	return rec, body
}

func TestAPIHandlerRoutes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		target     string
		wantCall   string
		wantSubstr string
	}{
		{name: "report", target: "/owners/acme/report?previous=2024-03-03&next=2024-03-10", wantCall: "report:acme", wantSubstr: `"run_id":"run-1"`},
		{name: "email_report", target: "/owners/acme/email-report?previous=2024-03-03&next=2024-03-10", wantCall: "email:acme", wantSubstr: `"subject"`},
		{name: "repository_stats", target: "/owners/acme/repos/api/stats?previous=2024-03-03&next=2024-03-10", wantCall: "stats:acme", wantSubstr: `"is_pending":true`},
		{name: "pr_activity", target: "/owners/acme/pr-activity?previous=2024-03-03&next=2024-03-10", wantCall: "activity:acme", wantSubstr: `"repo":"api"`},
		{name: "commits", target: "/owners/acme/commits?previous=2024-03-03&next=2024-03-10", wantCall: "commits:acme", wantSubstr: `"repo":"api"`},
		{name: "summary", target: "/owners/acme/summary?previous=2024-03-03&next=2024-03-10", wantCall: "summary:acme", wantSubstr: `"pending_repos":[]`},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			reports := &fakeReports{}
			rec, body := serve(t, NewAPIHandler(reports, nil, nil), tc.target)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
			}
			if len(reports.calls) != 1 || reports.calls[0] != tc.wantCall {
				t.Fatalf("calls = %v, want [%s]", reports.calls, tc.wantCall)
			}
			wantPeriod := comparative.Period{
				Previous: time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
				Next:     time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
			}
			if got := reports.periods[0]; !got.Previous.Equal(wantPeriod.Previous) || !got.Next.Equal(wantPeriod.Next) {
				t.Fatalf("period = %+v, want %+v", reports.periods[0], wantPeriod)
			}
			if !strings.Contains(string(body["message"]), tc.wantSubstr) {
				t.Fatalf("message %s missing %s", body["message"], tc.wantSubstr)
			}
		})
	}
}

func TestAPIHandlerRepositoryStatsPassesRepo(t *testing.T) {
	t.Parallel()

	reports := &fakeReports{}
	rec, _ := serve(t, NewAPIHandler(reports, nil, nil), "/owners/acme/repos/web-app/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(reports.repos) != 1 || reports.repos[0] != "web-app" {
		t.Fatalf("repos = %v, want [web-app]", reports.repos)
	}
	if got := reports.periods[0].Length(); got != comparative.Week {
		t.Fatalf("default period length = %s, want one week", got)
	}
}

func TestAPIHandlerRejectsBadPeriod(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		target string
		want   string
	}{
		{name: "only_previous", target: "/owners/acme/report?previous=2024-03-03", want: "must be set together"},
		{name: "unparseable", target: "/owners/acme/report?previous=yesterday&next=2024-03-10", want: "want RFC 3339"},
		{name: "reversed", target: "/owners/acme/report?previous=2024-03-10&next=2024-03-03", want: "must be before"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			reports := &fakeReports{}
			rec, body := serve(t, NewAPIHandler(reports, nil, nil), tc.target)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(string(body["message"]), tc.want) {
				t.Fatalf("message %s missing %q", body["message"], tc.want)
			}
			if len(reports.calls) != 0 {
				t.Fatalf("service called for invalid period: %v", reports.calls)
			}
		})
	}
}

func TestAPIHandlerErrorStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want int
	}{
		{name: "owner_not_found", err: fmt.Errorf("get owner: %w", &githubapi.TransportError{Path: "users/ghost", StatusCode: http.StatusNotFound}), want: http.StatusNotFound},
		{name: "forbidden", err: &githubapi.TransportError{Path: "orgs/acme/repos", StatusCode: http.StatusForbidden}, want: http.StatusForbidden},
		{name: "upstream_failure", err: &githubapi.PartialFetchError{Path: "orgs/acme/repos", Page: 2, Err: &githubapi.TransportError{StatusCode: http.StatusBadGateway}}, want: http.StatusBadGateway},
		{name: "deadline", err: fmt.Errorf("build report: %w", context.DeadlineExceeded), want: http.StatusGatewayTimeout},
		{name: "inconsistency", err: fmt.Errorf("merge: %w", report.ErrAggregationInconsistency), want: http.StatusInternalServerError},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec, body := serve(t, NewAPIHandler(&fakeReports{err: tc.err}, nil, nil), "/owners/acme/report")
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			var message string
			if err := json.Unmarshal(body["message"], &message); err != nil {
				t.Fatalf("message is not a string: %s", body["message"])
			}
			if message != tc.err.Error() {
				t.Fatalf("message = %q, want %q", message, tc.err.Error())
			}
		})
	}
}

func TestAPIHandlerArchive(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	archive := &fakeRunArchive{
		runs: []store.RunRecord{{RunID: "run-9", Kind: report.KindEmailReport, Owner: "acme", CreatedAt: created}},
		reports: map[string]report.Report{
			"run-9": {RunID: "run-9", Owner: report.Owner{Login: "acme"}},
		},
	}
	handler := NewAPIHandler(&fakeReports{}, archive, nil)

	rec, body := serve(t, handler, "/owners/acme/archive?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	if archive.gotOwner != "acme" || archive.gotLimit != 5 {
		t.Fatalf("ListRuns(%q, %d), want (acme, 5)", archive.gotOwner, archive.gotLimit)
	}
	if !strings.Contains(string(body["message"]), `"run_id":"run-9"`) {
		t.Fatalf("list message = %s", body["message"])
	}

	rec, _ = serve(t, handler, "/owners/acme/archive?limit=zero")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", rec.Code)
	}

	rec, body = serve(t, handler, "/archive/run-9")
	if rec.Code != http.StatusOK || !strings.Contains(string(body["message"]), `"login":"acme"`) {
		t.Fatalf("load status = %d, message = %s", rec.Code, body["message"])
	}

	rec, _ = serve(t, handler, "/archive/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing run status = %d, want 404", rec.Code)
	}
}

func TestAPIHandlerArchiveDisabled(t *testing.T) {
	t.Parallel()

	handler := NewAPIHandler(&fakeReports{}, nil, nil)
	for _, target := range []string{"/owners/acme/archive", "/archive/run-1"} {
		rec, _ := serve(t, handler, target)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s status = %d, want 503", target, rec.Code)
		}
	}
}

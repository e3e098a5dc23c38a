package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/comparative"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const activityResponse = `{"data":{"repositoryOwner":{"repositories":{"nodes":[
  {"name":"api","updatedAt":"2024-03-12T09:00:00Z","pullRequests":{"nodes":[
    {"author":{"login":"alice"},"title":"Add cache","number":42,"state":"MERGED","url":"https://github.com/acme/api/pull/42",
     "createdAt":"2024-03-08T09:00:00Z","updatedAt":"2024-03-12T09:00:00Z","mergedAt":"2024-03-12T09:00:00Z","closedAt":"2024-03-12T09:00:00Z",
     "comments":{"nodes":[{"createdAt":"2024-03-09T09:00:00Z","author":{"login":"bob"}},{"createdAt":"2024-03-09T10:00:00Z","author":null}]},
     "commits":{"nodes":[
       {"commit":{"message":"wire cache","authoredDate":"2024-03-08T08:00:00Z","author":{"email":"alice@example.com","user":{"login":"alice"}}}},
       {"commit":{"message":"fixup","authoredDate":"2024-03-08T08:30:00Z","author":{"email":"ci@example.com","user":null}}}
     ]}},
    {"author":{"login":"carol"},"title":"Stale","number":7,"state":"OPEN","url":"https://github.com/acme/api/pull/7",
     "createdAt":"2024-01-01T09:00:00Z","updatedAt":"2024-02-01T09:00:00Z","mergedAt":null,"closedAt":null,
     "comments":{"nodes":[]},"commits":{"nodes":[]}}
  ]}},
  {"name":"docs","updatedAt":"2024-03-11T09:00:00Z","pullRequests":{"nodes":[]}},
  {"name":"legacy","updatedAt":"2024-02-01T09:00:00Z","pullRequests":{"nodes":[
    {"author":{"login":"dave"},"title":"Old","number":1,"state":"CLOSED","url":"https://github.com/acme/legacy/pull/1",
     "createdAt":"2024-01-01T09:00:00Z","updatedAt":"2024-02-01T09:00:00Z","mergedAt":null,"closedAt":"2024-02-01T09:00:00Z",
     "comments":{"nodes":[]},"commits":{"nodes":[]}}
  ]}}
]}}}}`

func testPeriod(t *testing.T) comparative.Period {
	t.Helper()

	period, err := comparative.NewPeriod(
		time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return period
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newTestAggregator(t *testing.T, limits Limits, handler http.HandlerFunc) *Aggregator {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAggregator(githubv4.NewEnterpriseClient(server.URL, server.Client()), limits)
}

func TestPullRequestActivityFlattensAndFilters(t *testing.T) {
	t.Parallel()

	var captured graphqlRequest
	aggregator := newTestAggregator(t, Limits{}, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, activityResponse)
	})

	got, err := aggregator.PullRequestActivity(context.Background(), "acme", testPeriod(t))
	require.NoError(t, err)

	require.Len(t, got, 1, "docs has no pull requests and legacy is stale")
	assert.Equal(t, "api", got[0].Repo)
	require.Len(t, got[0].Pulls, 1, "stale pull request is dropped")

	merged := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
	want := PullActivity{
		Author:    "alice",
		Title:     "Add cache",
		Number:    42,
		CreatedAt: time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC),
		MergedAt:  &merged,
		ClosedAt:  &merged,
		UpdatedAt: merged,
		State:     "MERGED",
		URL:       "https://github.com/acme/api/pull/42",
		Comments:  []Comment{{Author: "bob", Date: time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC)}},
		Commits:   []Commit{{Author: "alice", Date: time.Date(2024, 3, 8, 8, 0, 0, 0, time.UTC), Message: "wire cache"}},
	}
	assert.Equal(t, want, got[0].Pulls[0])

	assert.Contains(t, captured.Query, "repositoryOwner(login: $owner)")
	assert.Contains(t, captured.Query, "orderBy: {field: UPDATED_AT, direction: DESC}")
	assert.Equal(t, "acme", captured.Variables["owner"])
	assert.EqualValues(t, DefaultRepositories, captured.Variables["repoLimit"])
	assert.EqualValues(t, DefaultPullRequests, captured.Variables["pullLimit"])
	assert.EqualValues(t, DefaultComments, captured.Variables["commentLimit"])
	assert.EqualValues(t, DefaultCommits, captured.Variables["commitLimit"])
}

func TestPullRequestActivityCustomLimits(t *testing.T) {
	t.Parallel()

	var captured graphqlRequest
	aggregator := newTestAggregator(t, Limits{Repositories: 3, PullRequests: 5}, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, `{"data":{"repositoryOwner":{"repositories":{"nodes":[]}}}}`)
	})

	got, err := aggregator.PullRequestActivity(context.Background(), "acme", testPeriod(t))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
	assert.EqualValues(t, 3, captured.Variables["repoLimit"])
	assert.EqualValues(t, 5, captured.Variables["pullLimit"])
	assert.EqualValues(t, DefaultCommits, captured.Variables["commitLimit"])
}

func TestPullRequestActivityFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		handler     http.HandlerFunc
		owner       string
		errContains string
	}{
		{
			name: "graphql_errors_fail_whole_batch",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"data":null,"errors":[{"message":"Something went wrong"}]}`)
			},
			owner:       "acme",
			errContains: "Something went wrong",
		},
		{
			name: "http_failure",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				fmt.Fprint(w, `bad gateway`)
			},
			owner:       "acme",
			errContains: "query pull request activity for acme",
		},
		{
			name: "malformed_body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"data":{"repositoryOwner":`)
			},
			owner:       "acme",
			errContains: "query pull request activity",
		},
		{
			name: "unknown_owner",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"data":{"repositoryOwner":null}}`)
			},
			owner:       "ghost",
			errContains: "owner not found",
		},
		{
			name: "blank_owner",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				t.Errorf("no request expected for blank owner")
			},
			owner:       " ",
			errContains: "owner is required",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			aggregator := newTestAggregator(t, Limits{}, tc.handler)
			got, err := aggregator.PullRequestActivity(context.Background(), tc.owner, testPeriod(t))
			require.Error(t, err)
			assert.Nil(t, got)
			assert.Contains(t, err.Error(), tc.errContains)
		})
	}
}

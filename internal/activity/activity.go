// Package activity reads recent pull request activity for an owner with one GraphQL query.
package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/comparative"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
)

// Default query bounds.
const (
	DefaultRepositories = 10
	DefaultPullRequests = 20
	DefaultComments     = 50
	DefaultCommits      = 50
)

// Querier executes a typed GraphQL query. *githubv4.Client implements it.
type Querier interface {
	Query(ctx context.Context, q any, variables map[string]any) error
}

// Limits bounds the size of the nested query.
type Limits struct {
	Repositories int
	PullRequests int
	Comments     int
	Commits      int
}

// RepoActivity is one repository with its recently updated pull requests.
type RepoActivity struct {
	Repo  string         `json:"repo"`
	Pulls []PullActivity `json:"pulls"`
}

// PullActivity is one pull request with its comments and commits flattened.
type PullActivity struct {
	Author    string     `json:"author"`
	Title     string     `json:"title"`
	Number    int        `json:"number"`
	CreatedAt time.Time  `json:"created_at"`
	MergedAt  *time.Time `json:"merged_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	State     string     `json:"state"`
	URL       string     `json:"url"`
	Comments  []Comment  `json:"comments"`
	Commits   []Commit   `json:"commits"`
}

// Comment is one pull request conversation comment.
type Comment struct {
	Author string    `json:"author"`
	Date   time.Time `json:"date"`
}

// Commit is one pull request commit attributed to a GitHub account.
type Commit struct {
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

type actor struct {
	Login githubv4.String
}

type pullRequestNode struct {
	Author    actor
	Title     githubv4.String
	Number    githubv4.Int
	State     githubv4.PullRequestState
	URL       githubv4.URI
	CreatedAt githubv4.DateTime
	UpdatedAt githubv4.DateTime
	MergedAt  *githubv4.DateTime
	ClosedAt  *githubv4.DateTime
	Comments  struct {
		Nodes []struct {
			CreatedAt githubv4.DateTime
			Author    actor
		}
	} `graphql:"comments(first: $commentLimit)"`
	Commits struct {
		Nodes []struct {
			Commit struct {
				Message      githubv4.String
				AuthoredDate githubv4.DateTime
				Author       struct {
					Email githubv4.String
					User  actor
				}
			}
		}
	} `graphql:"commits(first: $commitLimit)"`
}

// pullRequestActivityQuery mirrors the nested repository, pull request, comment and commit tree.
type pullRequestActivityQuery struct {
	RepositoryOwner *struct {
		Repositories struct {
			Nodes []struct {
				Name         githubv4.String
				UpdatedAt    githubv4.DateTime
				PullRequests struct {
					Nodes []pullRequestNode
				} `graphql:"pullRequests(first: $pullLimit, orderBy: {field: UPDATED_AT, direction: DESC})"`
			}
		} `graphql:"repositories(first: $repoLimit, orderBy: {field: UPDATED_AT, direction: DESC})"`
	} `graphql:"repositoryOwner(login: $owner)"`
}

// Aggregator issues the batch query and flattens its result.
type Aggregator struct {
	client Querier
	limits Limits
	logger *zap.Logger
}

// NewAggregator creates an Aggregator. Zero limits take the defaults.
func NewAggregator(client Querier, limits Limits, logger ...*zap.Logger) *Aggregator {
	resolvedLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		resolvedLogger = logger[0]
	}
	return &Aggregator{
		client: client,
		limits: limits.withDefaults(),
		logger: resolvedLogger,
	}
}

// PullRequestActivity returns recently updated pull requests per repository. Repositories and
// pull requests not updated after period.Previous are dropped, as are commits whose author has
// no GitHub account. Any query failure fails the whole result.
func (a *Aggregator) PullRequestActivity(ctx context.Context, owner string, period comparative.Period) ([]RepoActivity, error) {
	trimmedOwner := strings.TrimSpace(owner)
	if trimmedOwner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if a.client == nil {
		return nil, fmt.Errorf("graphql client is required")
	}

	variables := map[string]any{
		"owner":        githubv4.String(trimmedOwner),
		"repoLimit":    githubv4.Int(a.limits.Repositories),
		"pullLimit":    githubv4.Int(a.limits.PullRequests),
		"commentLimit": githubv4.Int(a.limits.Comments),
		"commitLimit":  githubv4.Int(a.limits.Commits),
	}

	var q pullRequestActivityQuery
	if err := a.client.Query(ctx, &q, variables); err != nil {
		return nil, fmt.Errorf("query pull request activity for %s: %w", trimmedOwner, err)
	}
	if q.RepositoryOwner == nil {
		return nil, fmt.Errorf("query pull request activity for %s: owner not found", trimmedOwner)
	}

	result := make([]RepoActivity, 0, len(q.RepositoryOwner.Repositories.Nodes))
	for _, repo := range q.RepositoryOwner.Repositories.Nodes {
		if !repo.UpdatedAt.After(period.Previous) || len(repo.PullRequests.Nodes) == 0 {
			continue
		}

		pulls := make([]PullActivity, 0, len(repo.PullRequests.Nodes))
		for _, node := range repo.PullRequests.Nodes {
			if !node.UpdatedAt.After(period.Previous) {
				continue
			}
			pulls = append(pulls, flattenPull(node))
		}
		result = append(result, RepoActivity{Repo: string(repo.Name), Pulls: pulls})
	}

	a.logger.Debug("pull request activity aggregated",
		zap.String("owner", trimmedOwner),
		zap.Int("repositories", len(result)),
	)
	return result, nil
}

func flattenPull(node pullRequestNode) PullActivity {
	comments := make([]Comment, 0, len(node.Comments.Nodes))
	for _, comment := range node.Comments.Nodes {
		if comment.Author.Login == "" {
			continue
		}
		comments = append(comments, Comment{
			Author: string(comment.Author.Login),
			Date:   comment.CreatedAt.UTC(),
		})
	}

	commits := make([]Commit, 0, len(node.Commits.Nodes))
	for _, commit := range node.Commits.Nodes {
		login := commit.Commit.Author.User.Login
		if login == "" {
			continue
		}
		commits = append(commits, Commit{
			Author:  string(login),
			Date:    commit.Commit.AuthoredDate.UTC(),
			Message: string(commit.Commit.Message),
		})
	}

	link := ""
	if node.URL.URL != nil {
		link = node.URL.String()
	}
	return PullActivity{
		Author:    string(node.Author.Login),
		Title:     string(node.Title),
		Number:    int(node.Number),
		CreatedAt: node.CreatedAt.UTC(),
		MergedAt:  optionalTime(node.MergedAt),
		ClosedAt:  optionalTime(node.ClosedAt),
		UpdatedAt: node.UpdatedAt.UTC(),
		State:     string(node.State),
		URL:       link,
		Comments:  comments,
		Commits:   commits,
	}
}

func optionalTime(value *githubv4.DateTime) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}

func (l Limits) withDefaults() Limits {
	if l.Repositories <= 0 {
		l.Repositories = DefaultRepositories
	}
	if l.PullRequests <= 0 {
		l.PullRequests = DefaultPullRequests
	}
	if l.Comments <= 0 {
		l.Comments = DefaultComments
	}
	if l.Commits <= 0 {
		l.Commits = DefaultCommits
	}
	return l
}

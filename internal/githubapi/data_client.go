package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/poller"
)

const (
	starAcceptHeader = "application/vnd.github.v3.star+json"
	pullsPerPage     = 50
)

// Repository is one repository visible to the owner listing.
type Repository struct {
	Name            string
	Description     string
	Private         bool
	Fork            bool
	Archived        bool
	StargazersCount int
	UpdatedAt       time.Time
}

// Member is one organization member.
type Member struct {
	Login     string
	AvatarURL string
}

// Owner is the profile of the user or organization a report is built for.
type Owner struct {
	Login     string
	Name      string
	AvatarURL string
}

// ContributorWeek is one contributor weekly summary from contributor stats.
type ContributorWeek struct {
	WeekStart time.Time
	Additions int
	Deletions int
	Commits   int
}

// ContributorStats is one contributor's aggregate stats payload.
type ContributorStats struct {
	Login string
	Weeks []ContributorWeek
}

// PullRequest is one pull request summary. Login is empty for deleted accounts.
type PullRequest struct {
	Number    int
	Title     string
	State     string
	Login     string
	CreatedAt time.Time
	UpdatedAt time.Time
	MergedAt  time.Time
	ClosedAt  time.Time
}

// Commit is one commit on the default branch. Login is empty when GitHub could not link the
// commit author to an account.
type Commit struct {
	SHA     string
	Login   string
	Message string
	Date    time.Time
}

// Issue is one issue, pull requests excluded.
type Issue struct {
	Number    int
	Login     string
	CreatedAt time.Time
}

// Stargazer is one star with the time it was given.
type Stargazer struct {
	Login     string
	StarredAt time.Time
}

// DataClient is a typed GitHub REST data client for the report endpoints.
type DataClient struct {
	transport Transport
	pager     *Pager
}

// NewDataClient creates a typed data client over transport and pager.
func NewDataClient(transport Transport, pager *Pager) (*DataClient, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if pager == nil {
		pager = NewPager(transport, PagerOptions{})
	}
	return &DataClient{
		transport: transport,
		pager:     pager,
	}, nil
}

// ListOwnerRepos lists the owner's repositories. Owners that are not organizations fall back to
// the user repository listing.
func (c *DataClient) ListOwnerRepos(ctx context.Context, owner string) ([]Repository, error) {
	trimmedOwner, err := requireName("owner", owner)
	if err != nil {
		return nil, err
	}

	records, err := c.pager.All(ctx, Request{
		Resource: "org_repos",
		Path:     joinPath("orgs", trimmedOwner, "repos"),
		Query:    url.Values{"type": []string{"all"}},
	})
	if IsNotFound(err) {
		records, err = c.pager.All(ctx, Request{
			Resource: "user_repos",
			Path:     joinPath("users", trimmedOwner, "repos"),
			Query:    url.Values{"type": []string{"owner"}},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("list repos for %s: %w", trimmedOwner, err)
	}

	return decodeRecords(records, func(payload repositoryPayload) (Repository, bool) {
		return Repository{
			Name:            payload.Name,
			Description:     payload.Description,
			Private:         payload.Private,
			Fork:            payload.Fork,
			Archived:        payload.Archived,
			StargazersCount: payload.StargazersCount,
			UpdatedAt:       parseRFC3339(payload.UpdatedAt),
		}, true
	})
}

// ListOrgMembers lists organization members. A user owner has no members.
func (c *DataClient) ListOrgMembers(ctx context.Context, owner string) ([]Member, error) {
	trimmedOwner, err := requireName("owner", owner)
	if err != nil {
		return nil, err
	}

	records, err := c.pager.All(ctx, Request{
		Resource: "org_members",
		Path:     joinPath("orgs", trimmedOwner, "members"),
	})
	if IsNotFound(err) {
		return []Member{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list members for %s: %w", trimmedOwner, err)
	}

	return decodeRecords(records, func(payload userPayload) (Member, bool) {
		return Member{Login: payload.Login, AvatarURL: payload.AvatarURL}, payload.Login != ""
	})
}

// GetOwner reads the owner's profile.
func (c *DataClient) GetOwner(ctx context.Context, owner string) (Owner, error) {
	trimmedOwner, err := requireName("owner", owner)
	if err != nil {
		return Owner{}, err
	}

	path := joinPath("users", trimmedOwner)
	resp, err := c.transport.Get(ctx, Request{Resource: "owner", Path: path})
	if err != nil {
		return Owner{}, fmt.Errorf("get owner %s: %w", trimmedOwner, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Owner{}, fmt.Errorf("get owner %s: %w", trimmedOwner, &TransportError{Path: path, StatusCode: resp.StatusCode})
	}

	var payload userPayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return Owner{}, fmt.Errorf("decode owner %s: %w", trimmedOwner, err)
	}
	return Owner{Login: payload.Login, Name: payload.Name, AvatarURL: payload.AvatarURL}, nil
}

// ContributorStats polls `/stats/contributors` once. GitHub answers 202 while it computes the
// statistics and 204 for repositories without history.
func (c *DataClient) ContributorStats(ctx context.Context, owner, repo string) (poller.Result[[]ContributorStats], error) {
	trimmedOwner, err := requireName("owner", owner)
	if err != nil {
		return poller.Result[[]ContributorStats]{}, err
	}
	trimmedRepo, err := requireName("repo", repo)
	if err != nil {
		return poller.Result[[]ContributorStats]{}, err
	}

	path := joinPath("repos", trimmedOwner, trimmedRepo, "stats", "contributors")
	resp, err := c.transport.Get(ctx, Request{Resource: "stats_contributors", Path: path})
	if err != nil {
		return poller.Result[[]ContributorStats]{}, fmt.Errorf("contributor stats for %s/%s: %w", trimmedOwner, trimmedRepo, err)
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		return poller.Pending[[]ContributorStats](), nil
	case http.StatusNoContent:
		return poller.Ready([]ContributorStats{}), nil
	case http.StatusOK:
	default:
		return poller.Result[[]ContributorStats]{}, &TransportError{Path: path, StatusCode: resp.StatusCode}
	}

	var payload []contributorStatsPayload
	if len(strings.TrimSpace(string(resp.Body))) > 0 {
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			return poller.Result[[]ContributorStats]{}, fmt.Errorf("decode contributor stats for %s/%s: %w", trimmedOwner, trimmedRepo, err)
		}
	}

	contributors := make([]ContributorStats, 0, len(payload))
	for _, item := range payload {
		if item.Author == nil || item.Author.Login == "" {
			continue
		}
		weeks := make([]ContributorWeek, 0, len(item.Weeks))
		for _, week := range item.Weeks {
			weeks = append(weeks, ContributorWeek{
				WeekStart: time.Unix(week.UnixWeek, 0).UTC(),
				Additions: week.Additions,
				Deletions: week.Deletions,
				Commits:   week.Commits,
			})
		}
		contributors = append(contributors, ContributorStats{
			Login: item.Author.Login,
			Weeks: weeks,
		})
	}
	return poller.Ready(contributors), nil
}

// ListPullRequests lists pull requests newest-updated first, stopping after the page that reaches
// since.
func (c *DataClient) ListPullRequests(ctx context.Context, owner, repo string, since time.Time) ([]PullRequest, error) {
	path, err := repoPath(owner, repo, "pulls")
	if err != nil {
		return nil, err
	}

	records, err := c.pager.NewestSince(ctx, Request{
		Resource: "repo_pulls",
		Path:     path,
		Query: url.Values{
			"state":     []string{"all"},
			"sort":      []string{"updated"},
			"direction": []string{"desc"},
			"per_page":  []string{strconv.Itoa(pullsPerPage)},
		},
	}, "updated_at", since)
	if err != nil {
		return nil, fmt.Errorf("list pull requests for %s: %w", path, err)
	}

	return decodeRecords(records, func(payload pullRequestPayload) (PullRequest, bool) {
		return PullRequest{
			Number:    payload.Number,
			Title:     payload.Title,
			State:     payload.State,
			Login:     payload.User.login(),
			CreatedAt: parseRFC3339(payload.CreatedAt),
			UpdatedAt: parseRFC3339(payload.UpdatedAt),
			MergedAt:  parseNullableRFC3339(payload.MergedAt),
			ClosedAt:  parseNullableRFC3339(payload.ClosedAt),
		}, true
	})
}

// ListCommits lists default-branch commits authored since the given time.
func (c *DataClient) ListCommits(ctx context.Context, owner, repo string, since time.Time) ([]Commit, error) {
	path, err := repoPath(owner, repo, "commits")
	if err != nil {
		return nil, err
	}

	records, err := c.pager.All(ctx, Request{
		Resource: "repo_commits",
		Path:     path,
		Query:    url.Values{"since": []string{since.UTC().Format(time.RFC3339)}},
	})
	if err != nil {
		return nil, fmt.Errorf("list commits for %s: %w", path, err)
	}

	return decodeRecords(records, func(payload commitListPayload) (Commit, bool) {
		return Commit{
			SHA:     payload.SHA,
			Login:   payload.Author.login(),
			Message: payload.Commit.Message,
			Date:    parseRFC3339(payload.Commit.Author.Date),
		}, true
	})
}

// ListIssues lists issues updated since the given time. Pull requests returned by the issues
// endpoint are skipped.
func (c *DataClient) ListIssues(ctx context.Context, owner, repo string, since time.Time) ([]Issue, error) {
	path, err := repoPath(owner, repo, "issues")
	if err != nil {
		return nil, err
	}

	records, err := c.pager.All(ctx, Request{
		Resource: "repo_issues",
		Path:     path,
		Query: url.Values{
			"state": []string{"all"},
			"since": []string{since.UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list issues for %s: %w", path, err)
	}

	return decodeRecords(records, func(payload issuePayload) (Issue, bool) {
		return Issue{
			Number:    payload.Number,
			Login:     payload.User.login(),
			CreatedAt: parseRFC3339(payload.CreatedAt),
		}, payload.PullRequest == nil
	})
}

// ListStargazers lists every star, oldest first, with its timestamp.
func (c *DataClient) ListStargazers(ctx context.Context, owner, repo string) ([]Stargazer, error) {
	path, err := repoPath(owner, repo, "stargazers")
	if err != nil {
		return nil, err
	}

	records, err := c.pager.All(ctx, Request{
		Resource: "repo_stargazers",
		Path:     path,
		Header:   http.Header{"Accept": []string{starAcceptHeader}},
	})
	if err != nil {
		return nil, fmt.Errorf("list stargazers for %s: %w", path, err)
	}

	return decodeRecords(records, func(payload stargazerPayload) (Stargazer, bool) {
		return Stargazer{
			Login:     payload.User.login(),
			StarredAt: parseRFC3339(payload.StarredAt),
		}, true
	})
}

func decodeRecords[P, T any](records []json.RawMessage, convert func(P) (T, bool)) ([]T, error) {
	out := make([]T, 0, len(records))
	for idx, record := range records {
		var payload P
		if err := json.Unmarshal(record, &payload); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", idx, err)
		}
		if item, keep := convert(payload); keep {
			out = append(out, item)
		}
	}
	return out, nil
}

func requireName(kind, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", kind)
	}
	return trimmed, nil
}

func repoPath(owner, repo, resource string) (string, error) {
	trimmedOwner, err := requireName("owner", owner)
	if err != nil {
		return "", err
	}
	trimmedRepo, err := requireName("repo", repo)
	if err != nil {
		return "", err
	}
	return joinPath("repos", trimmedOwner, trimmedRepo, resource), nil
}

func joinPath(segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return strings.Join(escaped, "/")
}

func parseRFC3339(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func parseNullableRFC3339(raw *string) time.Time {
	if raw == nil {
		return time.Time{}
	}
	return parseRFC3339(*raw)
}

type repositoryPayload struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Private         bool   `json:"private"`
	Fork            bool   `json:"fork"`
	Archived        bool   `json:"archived"`
	StargazersCount int    `json:"stargazers_count"`
	UpdatedAt       string `json:"updated_at"`
}

type contributorStatsPayload struct {
	Author *userPayload         `json:"author"`
	Weeks  []contributorWeekDTO `json:"weeks"`
}

type contributorWeekDTO struct {
	UnixWeek  int64 `json:"w"`
	Additions int   `json:"a"`
	Deletions int   `json:"d"`
	Commits   int   `json:"c"`
}

type commitListPayload struct {
	SHA    string       `json:"sha"`
	Author *userPayload `json:"author"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

type pullRequestPayload struct {
	Number    int          `json:"number"`
	Title     string       `json:"title"`
	State     string       `json:"state"`
	User      *userPayload `json:"user"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
	MergedAt  *string      `json:"merged_at"`
	ClosedAt  *string      `json:"closed_at"`
}

type issuePayload struct {
	Number      int          `json:"number"`
	User        *userPayload `json:"user"`
	CreatedAt   string       `json:"created_at"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

type stargazerPayload struct {
	StarredAt string       `json:"starred_at"`
	User      *userPayload `json:"user"`
}

type userPayload struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

func (u *userPayload) login() string {
	if u == nil {
		return ""
	}
	return u.Login
}

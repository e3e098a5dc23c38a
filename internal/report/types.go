// Package report assembles contribution reports for a GitHub owner.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/comparative"
	"github.com/hashicorp/go-multierror"
)

// Phases a repository can fail in.
const (
	PhaseStats   = "stats"
	PhasePulls   = "pulls"
	PhaseTrends  = "trends"
	PhaseCommits = "commits"
)

// ErrAggregationInconsistency marks a fan-out result that could not be merged back onto the
// repository it was issued for. It indicates a defect, not a remote failure.
var ErrAggregationInconsistency = errors.New("aggregation inconsistency")

// ErrInvalidInput marks a request the service refuses before calling GitHub.
var ErrInvalidInput = errors.New("invalid input")

// Owner is the user or organization a report is built for.
type Owner struct {
	Login  string `json:"login"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Member is one organization member.
type Member struct {
	Login  string `json:"login"`
	Avatar string `json:"avatar"`
}

// WeekPoint is one value of a weekly series.
type WeekPoint struct {
	Week  time.Time `json:"week"`
	Value int       `json:"value"`
}

// ContributorSeries holds five chronological weeks ending at the period's next boundary.
type ContributorSeries struct {
	Commits      []WeekPoint `json:"commits"`
	LinesAdded   []WeekPoint `json:"lines_added"`
	LinesDeleted []WeekPoint `json:"lines_deleted"`
}

// ContributorStat is one author's activity in a repository.
type ContributorStat struct {
	Login        string             `json:"login"`
	Commits      comparative.Count  `json:"commits"`
	LinesAdded   comparative.Count  `json:"lines_added"`
	LinesDeleted comparative.Count  `json:"lines_deleted"`
	Weekly       *ContributorSeries `json:"weekly,omitempty"`
}

// StatsResult is either pending, while GitHub computes contributor statistics, or ready with
// the per-author stats. A nil *StatsResult means stats were unavailable for this run.
type StatsResult struct {
	pending bool
	authors []ContributorStat
}

// PendingStats returns a result whose computation has not finished.
func PendingStats() *StatsResult {
	return &StatsResult{pending: true}
}

// ReadyStats returns a finished result. A nil author list is stored as empty.
func ReadyStats(authors []ContributorStat) *StatsResult {
	if authors == nil {
		authors = []ContributorStat{}
	}
	return &StatsResult{authors: authors}
}

// IsPending reports whether GitHub is still computing the statistics.
func (s *StatsResult) IsPending() bool {
	return s.pending
}

// Authors returns the per-author stats and true once the result is ready.
func (s *StatsResult) Authors() ([]ContributorStat, bool) {
	if s.pending {
		return nil, false
	}
	return s.authors, true
}

type statsResultJSON struct {
	IsPending bool              `json:"is_pending"`
	Authors   []ContributorStat `json:"authors,omitempty"`
}

// MarshalJSON renders {"is_pending":true} or {"is_pending":false,"authors":[...]}.
func (s StatsResult) MarshalJSON() ([]byte, error) {
	if s.pending {
		return json.Marshal(statsResultJSON{IsPending: true})
	}
	authors := s.authors
	if authors == nil {
		authors = []ContributorStat{}
	}
	return json.Marshal(struct {
		IsPending bool              `json:"is_pending"`
		Authors   []ContributorStat `json:"authors"`
	}{Authors: authors})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (s *StatsResult) UnmarshalJSON(data []byte) error {
	var raw statsResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.IsPending {
		*s = StatsResult{pending: true}
		return nil
	}
	*s = *ReadyStats(raw.Authors)
	return nil
}

// PullRequestSummary is one author's pull request throughput in a repository.
type PullRequestSummary struct {
	Author      string                `json:"author"`
	PRsOpened   comparative.Count     `json:"prs_opened"`
	PRsMerged   comparative.Count     `json:"prs_merged"`
	TimeToMerge comparative.Durations `json:"time_to_merge"`
}

// RepositoryTrends holds issue and star counts per window.
type RepositoryTrends struct {
	IssuesCreated comparative.Count `json:"issues_created"`
	Stars         comparative.Count `json:"stars"`
}

// RepoError records one repository's failure in one phase.
type RepoError struct {
	Repo  string
	Phase string
	Err   error
}

func (e *RepoError) Error() string {
	return fmt.Sprintf("repository %s %s: %v", e.Repo, e.Phase, e.Err)
}

func (e *RepoError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the error message instead of the opaque error value.
func (e RepoError) MarshalJSON() ([]byte, error) {
	message := ""
	if e.Err != nil {
		message = e.Err.Error()
	}
	return json.Marshal(struct {
		Repo    string `json:"repo"`
		Phase   string `json:"phase"`
		Message string `json:"message"`
	}{Repo: e.Repo, Phase: e.Phase, Message: message})
}

// UnmarshalJSON restores an archived error from its message.
func (e *RepoError) UnmarshalJSON(data []byte) error {
	var raw struct {
		Repo    string `json:"repo"`
		Phase   string `json:"phase"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = RepoError{Repo: raw.Repo, Phase: raw.Phase, Err: errors.New(raw.Message)}
	return nil
}

// Repository is one repository with the data attached by the report phases.
type Repository struct {
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	IsPrivate    bool                 `json:"is_private"`
	IsFork       bool                 `json:"is_fork"`
	IsArchived   bool                 `json:"is_archived"`
	StarCount    int                  `json:"stargazers_count"`
	UpdatedAt    time.Time            `json:"updated_at"`
	Stats        *StatsResult         `json:"stats"`
	PullRequests []PullRequestSummary `json:"prs,omitempty"`
	Trends       *RepositoryTrends    `json:"trends,omitempty"`
	Errors       []RepoError          `json:"errors,omitempty"`
}

// Report is the terminal artifact of a report run.
type Report struct {
	RunID   string             `json:"run_id"`
	Period  comparative.Period `json:"period"`
	Owner   Owner              `json:"owner"`
	Members []Member           `json:"members"`
	Repos   []Repository       `json:"repos"`
}

// Err aggregates every per-repository failure, or returns nil.
func (r Report) Err() error {
	var result *multierror.Error
	for _, repo := range r.Repos {
		for idx := range repo.Errors {
			result = multierror.Append(result, &repo.Errors[idx])
		}
	}
	return result.ErrorOrNil()
}

// PendingRepos lists repositories whose stats are still being computed.
func (r Report) PendingRepos() []string {
	var pending []string
	for _, repo := range r.Repos {
		if repo.Stats != nil && repo.Stats.IsPending() {
			pending = append(pending, repo.Name)
		}
	}
	return pending
}

// CommitEntry is one commit in an author's list.
type CommitEntry struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Date    time.Time `json:"date"`
}

// AuthorCommits is one author's commits in source order.
type AuthorCommits struct {
	Author  string        `json:"author"`
	Commits []CommitEntry `json:"commits"`
}

// RepoCommits is one repository's commits grouped by author.
type RepoCommits struct {
	Repo    string          `json:"repo"`
	Authors []AuthorCommits `json:"commits"`
	Error   *RepoError      `json:"error,omitempty"`
}

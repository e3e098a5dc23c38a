package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/activity"
	"github.com/cam3ron2/gitstats-report/internal/comparative"
	"github.com/cam3ron2/gitstats-report/internal/githubapi"
	"github.com/cam3ron2/gitstats-report/internal/poller"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Report kinds used for metrics and archive rows.
const (
	KindReport      = "report"
	KindEmailReport = "email_report"
	KindCommits     = "commits"
	KindActivity    = "pr_activity"
	KindSummary     = "summary"
)

const defaultConcurrency = 8

// Source reads typed GitHub REST data. *githubapi.DataClient implements it.
type Source interface {
	ListOwnerRepos(ctx context.Context, owner string) ([]githubapi.Repository, error)
	ListOrgMembers(ctx context.Context, owner string) ([]githubapi.Member, error)
	GetOwner(ctx context.Context, owner string) (githubapi.Owner, error)
	ContributorStats(ctx context.Context, owner, repo string) (poller.Result[[]githubapi.ContributorStats], error)
	ListPullRequests(ctx context.Context, owner, repo string, since time.Time) ([]githubapi.PullRequest, error)
	ListCommits(ctx context.Context, owner, repo string, since time.Time) ([]githubapi.Commit, error)
	ListIssues(ctx context.Context, owner, repo string, since time.Time) ([]githubapi.Issue, error)
	ListStargazers(ctx context.Context, owner, repo string) ([]githubapi.Stargazer, error)
}

// ActivitySource runs the batched pull request activity query. *activity.Aggregator implements it.
type ActivitySource interface {
	PullRequestActivity(ctx context.Context, owner string, period comparative.Period) ([]activity.RepoActivity, error)
}

// StatsCache stores encoded ready stats results.
type StatsCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Archive persists finished email reports.
type Archive interface {
	SaveReport(ctx context.Context, kind string, rep Report) error
}

// Recorder receives report build and per-repository failure observations.
type Recorder interface {
	ObserveBuild(kind, result string, duration time.Duration)
	ObserveRepoFailure(phase string)
	ObserveReport(kind string, rep Report)
}

// Dependencies are the collaborators of a Service. Only Source is required.
type Dependencies struct {
	Source   Source
	Activity ActivitySource
	Cache    StatsCache
	Archive  Archive
	Recorder Recorder
}

// Options tunes a Service.
type Options struct {
	// Concurrency bounds per-repository requests in flight during a fan-out.
	Concurrency   int
	Poll          poller.Policy
	IncludeTrends bool
	StatsCacheTTL time.Duration
}

// Service builds reports.
type Service struct {
	deps    Dependencies
	options Options
	logger  *zap.Logger
}

// NewService creates a report service.
func NewService(deps Dependencies, options Options, logger ...*zap.Logger) (*Service, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("report source is required")
	}
	if options.Concurrency <= 0 {
		options.Concurrency = defaultConcurrency
	}

	resolvedLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		resolvedLogger = logger[0]
	}
	return &Service{
		deps:    deps,
		options: options,
		logger:  resolvedLogger,
	}, nil
}

// BuildReport builds the full report with a single stats poll per repository. Repositories
// whose stats are still being computed carry a pending StatsResult.
func (s *Service) BuildReport(ctx context.Context, owner string, period comparative.Period) (rep Report, err error) {
	defer s.observe(KindReport, time.Now(), &err)
	return s.build(ctx, owner, period, buildPlan{kind: KindReport, members: true, pulls: true, trends: s.options.IncludeTrends})
}

// BuildEmailReport builds a report whose stats are fully resolved by polling, with the
// five-week contributor series attached. Pull request summaries are not included.
func (s *Service) BuildEmailReport(ctx context.Context, owner string, period comparative.Period) (rep Report, err error) {
	defer s.observe(KindEmailReport, time.Now(), &err)

	rep, err = s.build(ctx, owner, period, buildPlan{kind: KindEmailReport, members: true, awaitStats: true, series: true})
	if err != nil {
		return Report{}, err
	}
	if s.deps.Archive != nil {
		if archiveErr := s.deps.Archive.SaveReport(ctx, KindEmailReport, rep); archiveErr != nil {
			s.logger.Warn("archive email report failed",
				zap.String("run_id", rep.RunID),
				zap.String("owner", rep.Owner.Login),
				zap.Error(archiveErr),
			)
		}
	}
	return rep, nil
}

// RepositoryStats polls one repository's contributor stats once, for refreshing a repository
// that was pending in an earlier report.
func (s *Service) RepositoryStats(ctx context.Context, owner, repo string, period comparative.Period) (*StatsResult, error) {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(repo) == "" {
		return nil, fmt.Errorf("%w: owner and repo are required", ErrInvalidInput)
	}
	return s.stats(ctx, owner, repo, period, false, false)
}

// PullRequestActivity returns the batched pull request activity for owner.
func (s *Service) PullRequestActivity(ctx context.Context, owner string, period comparative.Period) (result []activity.RepoActivity, err error) {
	defer s.observe(KindActivity, time.Now(), &err)

	if s.deps.Activity == nil {
		return nil, fmt.Errorf("pull request activity is not configured")
	}
	return s.deps.Activity.PullRequestActivity(ctx, owner, period)
}

// AllCommits lists commits since period.Previous for every public repository updated in the
// period, grouped by author. Private repositories are skipped because the integration is not
// granted access to their commit history.
func (s *Service) AllCommits(ctx context.Context, owner string, period comparative.Period) (result []RepoCommits, err error) {
	defer s.observe(KindCommits, time.Now(), &err)

	repos, err := s.repositories(ctx, owner, period)
	if err != nil {
		return nil, err
	}

	public := make([]string, 0, len(repos))
	for _, repo := range repos {
		if !repo.IsPrivate {
			public = append(public, repo.Name)
		}
	}

	outcomes, err := fanOut(ctx, s.options.Concurrency, public, func(ctx context.Context, name string) ([]AuthorCommits, error) {
		commits, err := s.deps.Source.ListCommits(ctx, owner, name, period.Previous)
		if err != nil {
			return nil, err
		}
		return GroupCommits(commits), nil
	})
	if err != nil {
		return nil, err
	}

	result = make([]RepoCommits, 0, len(public))
	for idx, name := range public {
		entry := RepoCommits{Repo: name, Authors: outcomes[idx].value}
		if outcomes[idx].err != nil {
			entry.Authors = []AuthorCommits{}
			entry.Error = s.repoFailure(name, PhaseCommits, outcomes[idx].err)
		}
		result = append(result, entry)
	}
	return result, ctx.Err()
}

type buildPlan struct {
	kind       string
	members    bool
	pulls      bool
	trends     bool
	awaitStats bool
	series     bool
}

func (s *Service) build(ctx context.Context, owner string, period comparative.Period, plan buildPlan) (Report, error) {
	trimmedOwner := strings.TrimSpace(owner)
	if trimmedOwner == "" {
		return Report{}, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}

	runID := uuid.NewString()
	logger := s.logger.With(
		zap.String("run_id", runID),
		zap.String("owner", trimmedOwner),
		zap.String("kind", plan.kind),
	)
	started := time.Now()

	var (
		repos     []Repository
		members   = []Member{}
		ownerInfo Owner
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		listed, err := s.repositories(groupCtx, trimmedOwner, period)
		repos = listed
		return err
	})
	if plan.members {
		group.Go(func() error {
			listed, err := s.deps.Source.ListOrgMembers(groupCtx, trimmedOwner)
			if err != nil {
				return fmt.Errorf("list members: %w", err)
			}
			for _, member := range listed {
				members = append(members, Member{Login: member.Login, Avatar: member.AvatarURL})
			}
			return nil
		})
	}
	group.Go(func() error {
		info, err := s.deps.Source.GetOwner(groupCtx, trimmedOwner)
		if err != nil {
			return fmt.Errorf("get owner: %w", err)
		}
		ownerInfo = Owner{Login: info.Login, Name: info.Name, Avatar: info.AvatarURL}
		return nil
	})
	if err := group.Wait(); err != nil {
		logger.Error("report metadata failed", zap.Error(err))
		return Report{}, fmt.Errorf("build %s for %s: %w", plan.kind, trimmedOwner, err)
	}
	rep := Report{RunID: runID, Period: period, Owner: ownerInfo, Members: members, Repos: repos}

	names := make([]string, len(rep.Repos))
	for idx, repo := range rep.Repos {
		names[idx] = repo.Name
	}

	statsOutcomes, err := fanOut(ctx, s.options.Concurrency, names, func(ctx context.Context, name string) (*StatsResult, error) {
		return s.stats(ctx, trimmedOwner, name, period, plan.awaitStats, plan.series)
	})
	if err != nil {
		return Report{}, err
	}
	for idx := range rep.Repos {
		if statsOutcomes[idx].err != nil {
			rep.Repos[idx].Errors = append(rep.Repos[idx].Errors, *s.repoFailure(names[idx], PhaseStats, statsOutcomes[idx].err))
			continue
		}
		rep.Repos[idx].Stats = statsOutcomes[idx].value
	}

	if plan.pulls {
		pullOutcomes, err := fanOut(ctx, s.options.Concurrency, names, func(ctx context.Context, name string) ([]PullRequestSummary, error) {
			pulls, err := s.deps.Source.ListPullRequests(ctx, trimmedOwner, name, period.Previous)
			if err != nil {
				return nil, err
			}
			return PullRequestSummaries(pulls, period), nil
		})
		if err != nil {
			return Report{}, err
		}
		for idx := range rep.Repos {
			if pullOutcomes[idx].err != nil {
				rep.Repos[idx].Errors = append(rep.Repos[idx].Errors, *s.repoFailure(names[idx], PhasePulls, pullOutcomes[idx].err))
				continue
			}
			rep.Repos[idx].PullRequests = pullOutcomes[idx].value
		}
	}

	if plan.trends {
		trendOutcomes, err := fanOut(ctx, s.options.Concurrency, names, func(ctx context.Context, name string) (*RepositoryTrends, error) {
			return s.trends(ctx, trimmedOwner, name, period)
		})
		if err != nil {
			return Report{}, err
		}
		for idx := range rep.Repos {
			if trendOutcomes[idx].err != nil {
				rep.Repos[idx].Errors = append(rep.Repos[idx].Errors, *s.repoFailure(names[idx], PhaseTrends, trendOutcomes[idx].err))
				continue
			}
			rep.Repos[idx].Trends = trendOutcomes[idx].value
		}
	}

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	if s.deps.Recorder != nil {
		s.deps.Recorder.ObserveReport(plan.kind, rep)
	}
	logger.Info("report built",
		zap.Int("repos", len(rep.Repos)),
		zap.Int("members", len(rep.Members)),
		zap.Int("pending_repos", len(rep.PendingRepos())),
		zap.Duration("duration", time.Since(started)),
	)
	return rep, nil
}

// repositories lists the owner's repositories updated after period.Previous, in listing order.
func (s *Service) repositories(ctx context.Context, owner string, period comparative.Period) ([]Repository, error) {
	listed, err := s.deps.Source.ListOwnerRepos(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}

	repos := make([]Repository, 0, len(listed))
	for _, repo := range listed {
		if !repo.UpdatedAt.After(period.Previous) {
			continue
		}
		repos = append(repos, Repository{
			Name:        repo.Name,
			Description: repo.Description,
			IsPrivate:   repo.Private,
			IsFork:      repo.Fork,
			IsArchived:  repo.Archived,
			StarCount:   repo.StargazersCount,
			UpdatedAt:   repo.UpdatedAt,
		})
	}
	return repos, nil
}

func (s *Service) stats(ctx context.Context, owner, repo string, period comparative.Period, await, series bool) (*StatsResult, error) {
	key := statsCacheKey(owner, repo, period, series)
	if cached, ok := s.cachedStats(ctx, key); ok {
		return cached, nil
	}

	poll := func(ctx context.Context) (poller.Result[[]githubapi.ContributorStats], error) {
		return s.deps.Source.ContributorStats(ctx, owner, repo)
	}

	var raw []githubapi.ContributorStats
	if await {
		awaited, err := poller.Await(ctx, s.options.Poll, poll)
		if err != nil {
			return nil, err
		}
		raw = awaited
	} else {
		polld, err := poller.Once(ctx, s.options.Poll, poll)
		if err != nil {
			return nil, err
		}
		value, ready := polld.Value()
		if !ready {
			return PendingStats(), nil
		}
		raw = value
	}

	result := ReadyStats(ContributorStats(raw, period, series))
	s.storeStats(ctx, key, result)
	return result, nil
}

func (s *Service) trends(ctx context.Context, owner, repo string, period comparative.Period) (*RepositoryTrends, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	var issues []githubapi.Issue
	var stars []githubapi.Stargazer
	group.Go(func() error {
		var err error
		issues, err = s.deps.Source.ListIssues(groupCtx, owner, repo, period.Previous)
		return err
	})
	group.Go(func() error {
		var err error
		stars, err = s.deps.Source.ListStargazers(groupCtx, owner, repo)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	trends := Trends(issues, stars, period)
	return &trends, nil
}

func (s *Service) cachedStats(ctx context.Context, key string) (*StatsResult, bool) {
	if s.deps.Cache == nil {
		return nil, false
	}
	payload, ok, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("stats cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var result StatsResult
	if err := json.Unmarshal(payload, &result); err != nil || result.IsPending() {
		s.logger.Warn("discarding unusable cached stats", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &result, true
}

func (s *Service) storeStats(ctx context.Context, key string, result *StatsResult) {
	if s.deps.Cache == nil || result.IsPending() {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("encode stats for cache failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.deps.Cache.Set(ctx, key, payload, s.options.StatsCacheTTL); err != nil {
		s.logger.Warn("stats cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) repoFailure(repo, phase string, err error) *RepoError {
	s.logger.Warn("repository phase failed",
		zap.String("repo", repo),
		zap.String("phase", phase),
		zap.Error(err),
	)
	if s.deps.Recorder != nil {
		s.deps.Recorder.ObserveRepoFailure(phase)
	}
	return &RepoError{Repo: repo, Phase: phase, Err: err}
}

func (s *Service) observe(kind string, started time.Time, err *error) {
	if s.deps.Recorder == nil {
		return
	}
	s.deps.Recorder.ObserveBuild(kind, BuildResult(*err), time.Since(started))
}

// Build results passed to Recorder.ObserveBuild.
const (
	ResultSuccess = "success"
	// ResultError is a failure of GitHub or of a backend.
	ResultError = "error"
	// ResultRejected is a request GitHub or the service turned down, such as an unknown owner.
	ResultRejected = "rejected"
	// ResultCanceled is a run abandoned by its caller.
	ResultCanceled = "canceled"
)

// BuildResult classifies the outcome of a report operation. Client errors from GitHub count as
// rejected except 401 and 429, which point at the runtime's credentials or budget.
func BuildResult(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, context.Canceled):
		return ResultCanceled
	case errors.Is(err, ErrInvalidInput):
		return ResultRejected
	}

	status := githubapi.StatusCode(err)
	if status >= 400 && status < 500 && status != http.StatusUnauthorized && status != http.StatusTooManyRequests {
		return ResultRejected
	}
	return ResultError
}

func statsCacheKey(owner, repo string, period comparative.Period, series bool) string {
	shape := "comparative"
	if series {
		shape = "series"
	}
	return fmt.Sprintf("stats:%s:%s:%d:%d:%s",
		strings.ToLower(owner), strings.ToLower(repo), period.Previous.Unix(), period.Next.Unix(), shape)
}

package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/activity"
	"github.com/cam3ron2/gitstats-report/internal/comparative"
	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
)

// Leader names the most active repository or member in each window. Empty means no activity.
type Leader struct {
	Previous string `json:"previous"`
	Next     string `json:"next"`
}

// Medians holds one median in seconds per window. Zero means no samples.
type Medians struct {
	Previous float64 `json:"previous"`
	Next     float64 `json:"next"`
}

// Summary is the headline row of a report.
type Summary struct {
	Period            comparative.Period `json:"period"`
	Commits           comparative.Count  `json:"commits"`
	PRsOpened         comparative.Count  `json:"prs_opened"`
	PRsMerged         comparative.Count  `json:"prs_merged"`
	PRComments        comparative.Count  `json:"pr_comments"`
	MostActiveRepo    Leader             `json:"most_active_repo"`
	MostActiveMember  Leader             `json:"most_active_member"`
	MedianTimeToMerge Medians            `json:"median_time_to_merge"`
	PendingRepos      []string           `json:"pending_repos"`
}

// BuildSummary builds a report and the pull request activity concurrently and summarizes them.
// Without an activity source the comment counts stay zero.
func (s *Service) BuildSummary(ctx context.Context, owner string, period comparative.Period) (summary Summary, err error) {
	defer s.observe(KindSummary, time.Now(), &err)

	var (
		rep   Report
		pulls []activity.RepoActivity
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		built, err := s.build(groupCtx, owner, period, buildPlan{kind: KindSummary, pulls: true})
		rep = built
		return err
	})
	if s.deps.Activity != nil {
		group.Go(func() error {
			fetched, err := s.deps.Activity.PullRequestActivity(groupCtx, owner, period)
			if err != nil {
				return fmt.Errorf("pull request activity: %w", err)
			}
			pulls = fetched
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Summary{}, err
	}
	return Summarize(rep, pulls), nil
}

// Summarize totals a report and its pull request activity.
func Summarize(rep Report, pulls []activity.RepoActivity) Summary {
	summary := Summary{
		Period:       rep.Period,
		PendingRepos: rep.PendingRepos(),
	}
	if summary.PendingRepos == nil {
		summary.PendingRepos = []string{}
	}

	repoCommits := map[string]comparative.Count{}
	memberCommits := map[string]comparative.Count{}
	var merge comparative.Durations
	for _, repo := range rep.Repos {
		if repo.Stats != nil {
			if authors, ready := repo.Stats.Authors(); ready {
				for _, author := range authors {
					summary.Commits = summary.Commits.Add(author.Commits)
					repoCommits[repo.Name] = repoCommits[repo.Name].Add(author.Commits)
					memberCommits[author.Login] = memberCommits[author.Login].Add(author.Commits)
				}
			}
		}
		for _, pr := range repo.PullRequests {
			summary.PRsOpened = summary.PRsOpened.Add(pr.PRsOpened)
			summary.PRsMerged = summary.PRsMerged.Add(pr.PRsMerged)
			merge = merge.Append(pr.TimeToMerge)
		}
	}

	for _, repo := range pulls {
		for _, pull := range repo.Pulls {
			summary.PRComments = summary.PRComments.Add(comparative.Counts(pull.Comments,
				func(comment activity.Comment) time.Time { return comment.Date }, rep.Period))
		}
	}

	summary.MostActiveRepo = leader(repoCommits)
	summary.MostActiveMember = leader(memberCommits)
	summary.MedianTimeToMerge = Medians{Previous: median(merge.Previous), Next: median(merge.Next)}
	return summary
}

func leader(counts map[string]comparative.Count) Leader {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var result Leader
	var best comparative.Count
	for _, name := range names {
		count := counts[name]
		if count.Previous > best.Previous {
			best.Previous = count.Previous
			result.Previous = name
		}
		if count.Next > best.Next {
			best.Next = count.Next
			result.Next = name
		}
	}
	return result
}

func median(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	value, err := stats.Median(stats.Float64Data(samples))
	if err != nil || math.IsNaN(value) {
		return 0
	}
	return value
}

package report

import (
	"sort"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/comparative"
	"github.com/cam3ron2/gitstats-report/internal/githubapi"
)

// seriesWeeks is the number of weeks in a ContributorSeries.
const seriesWeeks = 5

// ContributorStats turns weekly contributor buckets into per-author comparative counts, sorted
// by login. Authors without activity in either window are dropped. When withSeries is set the
// five-week series is attached and an author is kept if either shape shows activity.
func ContributorStats(raw []githubapi.ContributorStats, period comparative.Period, withSeries bool) []ContributorStat {
	stats := make([]ContributorStat, 0, len(raw))
	for _, contributor := range raw {
		if contributor.Login == "" {
			continue
		}
		stat := ContributorStat{Login: contributor.Login}
		for _, week := range contributor.Weeks {
			switch period.Bucket(week.WeekStart) {
			case comparative.BucketPrevious:
				stat.Commits.Previous += week.Commits
				stat.LinesAdded.Previous += week.Additions
				stat.LinesDeleted.Previous += week.Deletions
			case comparative.BucketNext:
				stat.Commits.Next += week.Commits
				stat.LinesAdded.Next += week.Additions
				stat.LinesDeleted.Next += week.Deletions
			}
		}

		active := !stat.Commits.IsZero() || !stat.LinesAdded.IsZero() || !stat.LinesDeleted.IsZero()
		if withSeries {
			series := weeklySeries(contributor.Weeks, period.Next)
			stat.Weekly = &series
			active = active || series.active()
		}
		if active {
			stats = append(stats, stat)
		}
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Login < stats[j].Login })
	return stats
}

func weeklySeries(weeks []githubapi.ContributorWeek, next time.Time) ContributorSeries {
	byWeek := make(map[int64]githubapi.ContributorWeek, len(weeks))
	for _, week := range weeks {
		byWeek[week.WeekStart.Unix()] = week
	}

	series := ContributorSeries{
		Commits:      make([]WeekPoint, 0, seriesWeeks),
		LinesAdded:   make([]WeekPoint, 0, seriesWeeks),
		LinesDeleted: make([]WeekPoint, 0, seriesWeeks),
	}
	for offset := seriesWeeks - 1; offset >= 0; offset-- {
		ts := next.Add(-time.Duration(offset) * comparative.Week).UTC()
		week := byWeek[ts.Unix()]
		series.Commits = append(series.Commits, WeekPoint{Week: ts, Value: week.Commits})
		series.LinesAdded = append(series.LinesAdded, WeekPoint{Week: ts, Value: week.Additions})
		series.LinesDeleted = append(series.LinesDeleted, WeekPoint{Week: ts, Value: week.Deletions})
	}
	return series
}

func (s ContributorSeries) active() bool {
	for _, points := range [][]WeekPoint{s.Commits, s.LinesAdded, s.LinesDeleted} {
		for _, point := range points {
			if point.Value != 0 {
				return true
			}
		}
	}
	return false
}

// PullRequestSummaries groups pull requests by author, sorted by login, and computes opened and
// merged counts plus time to merge per window. Pull requests without a known author are skipped.
func PullRequestSummaries(pulls []githubapi.PullRequest, period comparative.Period) []PullRequestSummary {
	byAuthor := map[string][]githubapi.PullRequest{}
	for _, pull := range pulls {
		if pull.Login == "" {
			continue
		}
		byAuthor[pull.Login] = append(byAuthor[pull.Login], pull)
	}

	createdAt := func(pull githubapi.PullRequest) time.Time { return pull.CreatedAt }
	mergedAt := func(pull githubapi.PullRequest) time.Time { return pull.MergedAt }

	summaries := make([]PullRequestSummary, 0, len(byAuthor))
	for _, author := range sortedKeys(byAuthor) {
		authored := byAuthor[author]
		summaries = append(summaries, PullRequestSummary{
			Author:      author,
			PRsOpened:   comparative.Counts(authored, createdAt, period),
			PRsMerged:   comparative.Counts(authored, mergedAt, period),
			TimeToMerge: comparative.DurationsOf(authored, mergedAt, createdAt, period),
		})
	}
	return summaries
}

// GroupCommits groups commits by author login, sorted by login, keeping each author's commits in
// source order. Commits GitHub could not link to an account are skipped.
func GroupCommits(commits []githubapi.Commit) []AuthorCommits {
	byAuthor := map[string][]CommitEntry{}
	for _, commit := range commits {
		if commit.Login == "" {
			continue
		}
		byAuthor[commit.Login] = append(byAuthor[commit.Login], CommitEntry{
			SHA:     commit.SHA,
			Message: commit.Message,
			Date:    commit.Date,
		})
	}

	grouped := make([]AuthorCommits, 0, len(byAuthor))
	for _, author := range sortedKeys(byAuthor) {
		grouped = append(grouped, AuthorCommits{Author: author, Commits: byAuthor[author]})
	}
	return grouped
}

// Trends counts issues opened and stars given per window.
func Trends(issues []githubapi.Issue, stars []githubapi.Stargazer, period comparative.Period) RepositoryTrends {
	return RepositoryTrends{
		IssuesCreated: comparative.Counts(issues, func(issue githubapi.Issue) time.Time { return issue.CreatedAt }, period),
		Stars:         comparative.Counts(stars, func(star githubapi.Stargazer) time.Time { return star.StarredAt }, period),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

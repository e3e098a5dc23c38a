package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/activity"
	"github.com/cam3ron2/gitstats-report/internal/comparative"
	"github.com/cam3ron2/gitstats-report/internal/report"
	"github.com/pterm/pterm"
)

func writeJSON(out io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func renderTable(out io.Writer, rows pterm.TableData) error {
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	_, err = fmt.Fprintln(out, rendered)
	return err
}

func countCell(count comparative.Count) string {
	return fmt.Sprintf("%d → %d", count.Previous, count.Next)
}

func reportRows(rep report.Report) pterm.TableData {
	rows := pterm.TableData{{"Repository", "Visibility", "Stats", "Commits", "PRs opened", "PRs merged", "Errors"}}
	for _, repo := range rep.Repos {
		visibility := "public"
		if repo.IsPrivate {
			visibility = "private"
		}

		stats := "unavailable"
		var commits comparative.Count
		if repo.Stats != nil {
			stats = "pending"
			if authors, ready := repo.Stats.Authors(); ready {
				stats = "ready"
				for _, author := range authors {
					commits.Previous += author.Commits.Previous
					commits.Next += author.Commits.Next
				}
			}
		}

		var opened, merged comparative.Count
		for _, summary := range repo.PullRequests {
			opened.Previous += summary.PRsOpened.Previous
			opened.Next += summary.PRsOpened.Next
			merged.Previous += summary.PRsMerged.Previous
			merged.Next += summary.PRsMerged.Next
		}

		rows = append(rows, []string{
			repo.Name,
			visibility,
			stats,
			countCell(commits),
			countCell(opened),
			countCell(merged),
			strconv.Itoa(len(repo.Errors)),
		})
	}
	return rows
}

func digestRows(digest report.Digest) pterm.TableData {
	rows := pterm.TableData{{"Week", "Commits"}}
	for _, week := range digest.Weeks {
		rows = append(rows, []string{week.Week.Format("2006-01-02"), strconv.Itoa(week.Value)})
	}
	return rows
}

func activityRows(repos []activity.RepoActivity) pterm.TableData {
	rows := pterm.TableData{{"Repository", "PR", "Author", "State", "Title", "Comments", "Commits"}}
	for _, repo := range repos {
		for _, pull := range repo.Pulls {
			rows = append(rows, []string{
				repo.Repo,
				"#" + strconv.Itoa(pull.Number),
				pull.Author,
				pull.State,
				pull.Title,
				strconv.Itoa(len(pull.Comments)),
				strconv.Itoa(len(pull.Commits)),
			})
		}
	}
	return rows
}

func commitRows(repos []report.RepoCommits) pterm.TableData {
	rows := pterm.TableData{{"Repository", "Author", "Commits"}}
	for _, repo := range repos {
		if repo.Error != nil {
			rows = append(rows, []string{repo.Repo, "error", repo.Error.Error()})
			continue
		}
		for _, author := range repo.Authors {
			rows = append(rows, []string{repo.Repo, author.Author, strconv.Itoa(len(author.Commits))})
		}
	}
	return rows
}

func summaryRows(summary report.Summary) pterm.TableData {
	return pterm.TableData{
		{"Metric", "Previous", "Next"},
		{"Commits", strconv.Itoa(summary.Commits.Previous), strconv.Itoa(summary.Commits.Next)},
		{"PRs opened", strconv.Itoa(summary.PRsOpened.Previous), strconv.Itoa(summary.PRsOpened.Next)},
		{"PRs merged", strconv.Itoa(summary.PRsMerged.Previous), strconv.Itoa(summary.PRsMerged.Next)},
		{"PR comments", strconv.Itoa(summary.PRComments.Previous), strconv.Itoa(summary.PRComments.Next)},
		{"Most active repository", summary.MostActiveRepo.Previous, summary.MostActiveRepo.Next},
		{"Most active member", summary.MostActiveMember.Previous, summary.MostActiveMember.Next},
		{"Median time to merge", formatSeconds(summary.MedianTimeToMerge.Previous), formatSeconds(summary.MedianTimeToMerge.Next)},
	}
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}

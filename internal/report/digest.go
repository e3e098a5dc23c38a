package report

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	chartEndpoint = "https://image-charts.com/chart"

	// ReportLink is where the email points readers for the full report.
	ReportLink = "https://gitstats.report/"
)

// Digest is the data behind the weekly email: commit totals per week across all repositories
// and the change of the last week against the one before.
type Digest struct {
	Name    string      `json:"name"`
	Subject string      `json:"subject"`
	Weeks   []WeekPoint `json:"weeks"`
	Change  string      `json:"change"`

	ChartURL   string `json:"chart_url"`
	ReportLink string `json:"report_link"`
}

// NewDigest builds the digest of an email report. Reports without weekly series yield no weeks.
func NewDigest(rep Report) Digest {
	name := rep.Owner.Name
	if name == "" {
		name = rep.Owner.Login
	}

	totals := map[int64]int{}
	for _, repo := range rep.Repos {
		if repo.Stats == nil {
			continue
		}
		authors, ready := repo.Stats.Authors()
		if !ready {
			continue
		}
		for _, author := range authors {
			if author.Weekly == nil {
				continue
			}
			for _, point := range author.Weekly.Commits {
				totals[point.Week.Unix()] += point.Value
			}
		}
	}

	keys := make([]int64, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	weeks := make([]WeekPoint, 0, len(keys))
	for _, key := range keys {
		weeks = append(weeks, WeekPoint{Week: time.Unix(key, 0).UTC(), Value: totals[key]})
	}

	return Digest{
		Name:    name,
		Subject: fmt.Sprintf("%s: gitstats for the week of %s", name, rep.Period.Next.Format("Jan 2")),
		Weeks:   weeks,
		Change:  weeklyChange(weeks),

		ChartURL:   chartURL(weeks),
		ReportLink: ReportLink,
	}
}

// chartURL renders the weekly totals as a stacked bar chart image. Empty series yield no URL.
func chartURL(weeks []WeekPoint) string {
	if len(weeks) == 0 {
		return ""
	}
	values := make([]string, 0, len(weeks))
	labels := make([]string, 0, len(weeks))
	for _, week := range weeks {
		values = append(values, strconv.Itoa(week.Value))
		labels = append(labels, week.Week.Format("Jan 2"))
	}

	query := url.Values{}
	query.Set("cht", "bvs")
	query.Set("chd", "t:"+strings.Join(values, ","))
	query.Set("chds", "a")
	query.Set("chof", ".png")
	query.Set("chs", "600x300")
	query.Set("chdls", "000000")
	query.Set("chco", "4D89F9,C6D9FD")
	query.Set("chtt", "Weekly commit activity")
	query.Set("chxt", "x,y")
	query.Set("chxl", "0:|"+strings.Join(labels, "|"))
	query.Set("chdlp", "b")
	query.Set("chf", "bg,s,FFFFFF")
	query.Set("chbh", "10")
	return chartEndpoint + "?" + query.Encode()
}

// weeklyChange compares the last two weeks as "up by N%" or "down by N%".
func weeklyChange(weeks []WeekPoint) string {
	if len(weeks) < 2 {
		return "no change"
	}
	previous := weeks[len(weeks)-2].Value
	latest := weeks[len(weeks)-1].Value

	switch {
	case previous == 0 && latest == 0:
		return "no change"
	case previous == 0:
		return "up from zero"
	}

	diff := float64(latest-previous) / float64(previous)
	if diff >= 0 {
		return fmt.Sprintf("up by %d%%", int(math.Round(diff*100)))
	}
	return fmt.Sprintf("down by %d%%", int(math.Round(-diff*100)))
}

// Package comparative splits timestamped events into the previous and next windows of a
// report period.
package comparative

import (
	"fmt"
	"strings"
	"time"
)

// Week is the length of one contributor-stats bucket.
const Week = 7 * 24 * time.Hour

// Bucket identifies which window of a period a timestamp falls in.
type Bucket int

const (
	// BucketNone means the timestamp is missing or outside both windows.
	BucketNone Bucket = iota
	// BucketPrevious is the window [Previous, Next).
	BucketPrevious
	// BucketNext is the window [Next, Next+Length).
	BucketNext
)

// Period is the previous/next pair every comparative metric is measured against.
type Period struct {
	Previous time.Time `json:"previous"`
	Next     time.Time `json:"next"`
}

// NewPeriod validates and normalizes a period to UTC.
func NewPeriod(previous, next time.Time) (Period, error) {
	if previous.IsZero() || next.IsZero() {
		return Period{}, fmt.Errorf("period bounds are required")
	}
	if !previous.Before(next) {
		return Period{}, fmt.Errorf("period previous %s must be before next %s",
			previous.UTC().Format(time.RFC3339), next.UTC().Format(time.RFC3339))
	}
	return Period{Previous: previous.UTC(), Next: next.UTC()}, nil
}

// WeeklyPeriod returns the period covering the last complete week (next window) and the week
// before it (previous window). Weeks start on Sunday 00:00 UTC, matching GitHub stats buckets.
func WeeklyPeriod(now time.Time) Period {
	next := StartOfWeek(now).Add(-Week)
	return Period{Previous: next.Add(-Week), Next: next}
}

// StartOfWeek truncates a timestamp to the preceding Sunday 00:00 UTC.
func StartOfWeek(ts time.Time) time.Time {
	utc := ts.UTC()
	day := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// Length is the size of each window.
func (p Period) Length() time.Duration {
	return p.Next.Sub(p.Previous)
}

// End is the exclusive end of the next window.
func (p Period) End() time.Time {
	return p.Next.Add(p.Length())
}

// Bucket reports the window ts falls in. Zero timestamps are treated as missing.
func (p Period) Bucket(ts time.Time) Bucket {
	if ts.IsZero() {
		return BucketNone
	}
	switch {
	case ts.Before(p.Previous):
		return BucketNone
	case ts.Before(p.Next):
		return BucketPrevious
	case ts.Before(p.End()):
		return BucketNext
	default:
		return BucketNone
	}
}

// ParseBoundary reads a period bound written as RFC 3339 or as a 2006-01-02 date in UTC.
func ParseBoundary(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.DateOnly, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse period bound %q: want RFC 3339 or YYYY-MM-DD", raw)
	}
	return ts, nil
}

// ResolvePeriod builds a period from optional bounds. With neither bound set it falls back to
// WeeklyPeriod(now); setting only one is an error.
func ResolvePeriod(previous, next string, now time.Time) (Period, error) {
	previous, next = strings.TrimSpace(previous), strings.TrimSpace(next)
	switch {
	case previous == "" && next == "":
		return WeeklyPeriod(now), nil
	case previous == "" || next == "":
		return Period{}, fmt.Errorf("previous and next must be set together")
	}

	previousAt, err := ParseBoundary(previous)
	if err != nil {
		return Period{}, err
	}
	nextAt, err := ParseBoundary(next)
	if err != nil {
		return Period{}, err
	}
	return NewPeriod(previousAt, nextAt)
}

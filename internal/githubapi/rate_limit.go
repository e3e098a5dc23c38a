package githubapi

import (
	"net/http"
	"strconv"
	"time"
)

// Reason explains a pacing Decision.
type Reason string

// Pacing decision reasons.
const (
	ReasonNoHeaders      Reason = "no_headers"
	ReasonWithinBudget   Reason = "within_budget"
	ReasonResetElapsed   Reason = "reset_elapsed"
	ReasonBelowThreshold Reason = "remaining_below_threshold"
	ReasonSecondaryLimit Reason = "secondary_limit"
)

const (
	defaultMinRemaining   = 50
	defaultResetBuffer    = 5 * time.Second
	defaultSecondaryPause = time.Minute
)

// RateLimitHeaders is what one GitHub response says about the remaining request budget.
type RateLimitHeaders struct {
	// Present is false when the response carried no primary rate-limit headers.
	Present          bool
	Limit            int
	Remaining        int
	ResetUnix        int64
	Used             int
	Resource         string
	RetryAfter       time.Duration
	SecondaryLimited bool
}

// Decision tells the pacer whether the next request may go out now.
type Decision struct {
	Allow   bool
	WaitFor time.Duration
	Reason  Reason
}

// RateLimitPolicy holds the pacing thresholds. Zero fields fall back to defaults when the policy
// is installed on a PacingTransport.
type RateLimitPolicy struct {
	MinRemainingThreshold int
	MinResetBuffer        time.Duration
	SecondaryLimitBackoff time.Duration
	Now                   func() time.Time
}

func (p RateLimitPolicy) withDefaults() RateLimitPolicy {
	if p.MinRemainingThreshold <= 0 {
		p.MinRemainingThreshold = defaultMinRemaining
	}
	if p.MinResetBuffer <= 0 {
		p.MinResetBuffer = defaultResetBuffer
	}
	if p.SecondaryLimitBackoff <= 0 {
		p.SecondaryLimitBackoff = defaultSecondaryPause
	}
	return p
}

// ParseRateLimitHeaders reads the X-RateLimit-* and Retry-After headers. A 429, or a 403 that
// carries Retry-After, marks a secondary limit. Unparseable numbers read as zero.
func ParseRateLimitHeaders(header http.Header, statusCode int) RateLimitHeaders {
	remaining := header.Get("X-RateLimit-Remaining")
	parsed := RateLimitHeaders{
		Present:   remaining != "",
		Limit:     int(headerInt(header, "X-RateLimit-Limit")),
		Remaining: int(headerInt(header, "X-RateLimit-Remaining")),
		Used:      int(headerInt(header, "X-RateLimit-Used")),
		ResetUnix: headerInt(header, "X-RateLimit-Reset"),
		Resource:  header.Get("X-RateLimit-Resource"),
	}
	if seconds := headerInt(header, "Retry-After"); seconds > 0 {
		parsed.RetryAfter = time.Duration(seconds) * time.Second
	}
	parsed.SecondaryLimited = statusCode == http.StatusTooManyRequests ||
		(statusCode == http.StatusForbidden && parsed.RetryAfter > 0)
	return parsed
}

// Evaluate decides how long to hold back after a response with these headers.
func (p RateLimitPolicy) Evaluate(headers RateLimitHeaders) Decision {
	switch {
	case headers.SecondaryLimited:
		return Decision{
			WaitFor: max(p.SecondaryLimitBackoff, headers.RetryAfter),
			Reason:  ReasonSecondaryLimit,
		}
	case !headers.Present:
		return Decision{Allow: true, Reason: ReasonNoHeaders}
	case headers.Remaining >= p.MinRemainingThreshold:
		return Decision{Allow: true, Reason: ReasonWithinBudget}
	}

	now := p.now()
	resetAt := time.Unix(headers.ResetUnix, 0)
	if !resetAt.After(now) {
		return Decision{Allow: true, Reason: ReasonResetElapsed}
	}
	return Decision{WaitFor: resetAt.Sub(now) + p.MinResetBuffer, Reason: ReasonBelowThreshold}
}

func (p RateLimitPolicy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func headerInt(header http.Header, key string) int64 {
	value, err := strconv.ParseInt(header.Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

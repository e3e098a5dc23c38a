package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/poller"
	"github.com/cam3ron2/gitstats-report/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PacingTransport delays outbound requests while the primary rate-limit budget is exhausted.
// It never replays a request: responses, including 403 and 429, are returned as received.
type PacingTransport struct {
	base   http.RoundTripper
	policy RateLimitPolicy
	// Wait blocks for a pending pause. Defaults to poller.SleepContext.
	Wait func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	resumeAt time.Time
}

// NewPacingTransport wraps base with rate-limit pacing.
func NewPacingTransport(base http.RoundTripper, policy RateLimitPolicy) *PacingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &PacingTransport{
		base:   base,
		policy: policy.withDefaults(),
		Wait:   poller.SleepContext,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *PacingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}

	ctx, span := telemetry.StartDependencySpan(req.Context(), "internal/githubapi", "githubapi.pacing.round_trip",
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.URL.EscapedPath()),
	)
	defer span.End()
	req = req.WithContext(ctx)

	if waitFor := t.pendingWait(t.now()); waitFor > 0 {
		span.AddEvent("rate_limit_pause", trace.WithAttributes(
			attribute.Int64("github.wait_ms", waitFor.Milliseconds()),
		))
		if err := t.Wait(ctx, waitFor); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	headers := ParseRateLimitHeaders(resp.Header, resp.StatusCode)
	decision := t.policy.Evaluate(headers)
	t.record(decision)

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int("github.rate_limit_remaining", headers.Remaining),
		attribute.Int64("github.rate_limit_reset_unix", headers.ResetUnix),
		attribute.Bool("github.rate_limit_allow", decision.Allow),
		attribute.String("github.rate_limit_reason", string(decision.Reason)),
	)
	if isSuccess(resp.StatusCode) || resp.StatusCode == http.StatusNotModified {
		span.SetStatus(codes.Ok, "request completed")
	} else {
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", resp.StatusCode))
	}
	return resp, nil
}

func (t *PacingTransport) record(decision Decision) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if decision.Allow {
		return
	}
	resumeAt := t.now().Add(decision.WaitFor)
	if resumeAt.After(t.resumeAt) {
		t.resumeAt = resumeAt
	}
}

func (t *PacingTransport) pendingWait(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.resumeAt.After(now) {
		return 0
	}
	return t.resumeAt.Sub(now)
}

func (t *PacingTransport) now() time.Time {
	return t.policy.now()
}

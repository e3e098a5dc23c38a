package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/activity"
	"github.com/cam3ron2/gitstats-report/internal/config"
	"github.com/cam3ron2/gitstats-report/internal/exporter"
	"github.com/cam3ron2/gitstats-report/internal/githubapi"
	"github.com/cam3ron2/gitstats-report/internal/health"
	"github.com/cam3ron2/gitstats-report/internal/poller"
	"github.com/cam3ron2/gitstats-report/internal/report"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
)

const (
	githubUnhealthyFailureThreshold = 3
	githubRecoverSuccessThreshold   = 1
	maintenanceInterval             = 10 * time.Minute
	dependencyPingTimeout           = 2 * time.Second
	reportGaugeRetention            = 7 * 24 * time.Hour
)

// Runtime owns the report service and the backends wired into it.
type Runtime struct {
	cfg       *config.Config
	service   *report.Service
	recorder  *exporter.Recorder
	cache     statsCache
	archive   reportArchive
	evaluator *health.StatusEvaluator
	logger    *zap.Logger

	mu                  sync.RWMutex
	githubClientUsable  bool
	githubHealthy       bool
	githubFailureStreak int
	githubRecoverStreak int

	maintenanceCancel context.CancelFunc

	// Now is injected for deterministic tests.
	Now func() time.Time
}

// NewRuntime builds the GitHub clients, optional cache and archive, and the report service.
// Cache failures degrade to the in-memory cache; an unreachable archive is an error.
func NewRuntime(ctx context.Context, cfg *config.Config, logger ...*zap.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}

	httpClient, err := githubapi.NewHTTPClient(githubapi.AuthConfig{
		Token:                 cfg.GitHub.Token(),
		AppID:                 cfg.GitHub.AppID,
		InstallationID:        cfg.GitHub.InstallationID,
		PrivateKeyPath:        cfg.GitHub.PrivateKeyPath,
		APIBaseURL:            cfg.GitHub.APIBaseURL,
		Timeout:               cfg.GitHub.RequestTimeout,
		SecondaryLimitMaxWait: cfg.GitHub.SecondaryLimitMaxWait,
		RateLimit: githubapi.RateLimitPolicy{
			MinRemainingThreshold: cfg.RateLimit.MinRemainingThreshold,
			MinResetBuffer:        cfg.RateLimit.MinResetBuffer,
			SecondaryLimitBackoff: cfg.RateLimit.SecondaryLimitBackoff,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build github client: %w", err)
	}

	return newRuntimeWithClient(ctx, cfg, httpClient, baseLogger)
}

func newRuntimeWithClient(ctx context.Context, cfg *config.Config, httpClient *http.Client, logger *zap.Logger) (*Runtime, error) {
	recorder := exporter.NewRecorder(reportGaugeRetention)

	transport, err := githubapi.NewRESTTransport(httpClient, cfg.GitHub.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("build rest transport: %w", err)
	}
	pager := githubapi.NewPager(transport, githubapi.PagerOptions{
		PerPage:  cfg.Report.PerPage,
		MaxPages: cfg.Report.MaxPages,
		Observer: recorder,
	})
	source, err := githubapi.NewDataClient(transport, pager)
	if err != nil {
		return nil, fmt.Errorf("build data client: %w", err)
	}

	graphQL := githubv4.NewEnterpriseClient(cfg.GitHub.GraphQLURL, httpClient)
	aggregator := activity.NewAggregator(graphQL, activity.Limits{
		Repositories: cfg.Report.Batch.Repositories,
		PullRequests: cfg.Report.Batch.PullRequests,
		Comments:     cfg.Report.Batch.Comments,
		Commits:      cfg.Report.Batch.Commits,
	}, logger)

	cache := newStatsCache(ctx, cfg.Cache, logger)
	archive, err := openArchive(ctx, cfg.Archive, logger)
	if err != nil {
		if cache != nil {
			_ = cache.Close()
		}
		return nil, err
	}

	r := &Runtime{
		cfg:                cfg,
		recorder:           recorder,
		cache:              cache,
		archive:            archive,
		evaluator:          health.NewStatusEvaluator(),
		logger:             logger,
		githubClientUsable: true,
		githubHealthy:      true,
		Now:                time.Now,
	}

	deps := report.Dependencies{
		Source:   source,
		Activity: aggregator,
		Recorder: &healthRecorder{Recorder: recorder, runtime: r},
	}
	if cache != nil {
		deps.Cache = cache
	}
	if archive != nil {
		deps.Archive = archive
	}
	service, err := report.NewService(deps, report.Options{
		Concurrency: cfg.Report.Concurrency,
		Poll: poller.Policy{
			Interval:    cfg.Report.PollInterval,
			MaxAttempts: cfg.Report.PollMaxAttempts,
			Observer:    recorder,
		},
		IncludeTrends: cfg.Report.IncludeTrends,
		StatsCacheTTL: cfg.Cache.TTL,
	}, logger)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("build report service: %w", err)
	}
	r.service = service
	return r, nil
}

// Service exposes the report service.
func (r *Runtime) Service() *report.Service {
	return r.service
}

// Handler returns the combined HTTP handler.
func (r *Runtime) Handler() http.Handler {
	var runs RunArchive
	if r.archive != nil {
		runs = r.archive
	}
	return NewHTTPHandler(
		NewAPIHandler(r.service, runs, r.logger),
		r.recorder.Handler(),
		health.NewHandler(r),
	)
}

// Start launches background cache maintenance until Stop or ctx ends.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	if r.maintenanceCancel != nil {
		r.maintenanceCancel()
	}
	maintenanceCtx, cancel := context.WithCancel(ctx)
	r.maintenanceCancel = cancel
	r.mu.Unlock()

	r.logger.Info("starting runtime",
		zap.String("cache_backend", r.cfg.Cache.Backend),
		zap.Bool("archive_enabled", r.archive != nil),
		zap.Int("concurrency", r.cfg.Report.Concurrency),
	)
	go r.runMaintenanceLoop(maintenanceCtx)
}

// Stop ends background maintenance.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maintenanceCancel != nil {
		r.maintenanceCancel()
		r.maintenanceCancel = nil
	}
}

// Close stops maintenance and releases the cache and archive connections.
func (r *Runtime) Close() error {
	r.Stop()
	var errs []error
	if r.cache != nil {
		if err := r.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stats cache: %w", err))
		}
	}
	if r.archive != nil {
		if err := r.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
	}
	return errors.Join(errs...)
}

// CurrentStatus returns current health status.
func (r *Runtime) CurrentStatus(ctx context.Context) health.Status {
	input := health.Input{
		CacheConfigured:   r.cache != nil,
		ArchiveConfigured: r.archive != nil,
	}
	if r.cache != nil {
		input.CacheHealthy = ping(ctx, r.cache) == nil
	}
	if r.archive != nil {
		input.ArchiveHealthy = ping(ctx, r.archive) == nil
	}

	r.mu.RLock()
	input.GitHubClientUsable = r.githubClientUsable
	input.GitHubHealthy = r.githubHealthy
	r.mu.RUnlock()
	return r.evaluator.Evaluate(input)
}

func (r *Runtime) runMaintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("maintenance loop stopped")
			return
		case <-ticker.C:
			r.runMaintenance(ctx)
		}
	}
}

func (r *Runtime) runMaintenance(ctx context.Context) {
	if r.cache == nil {
		return
	}
	r.cache.GC(ctx, r.Now())
}

// recordBuild tracks consecutive report failures. The GitHub dependency turns unhealthy after a
// run of failures and recovers after a run of successes.
func (r *Runtime) recordBuild(successful bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if successful {
		r.githubFailureStreak = 0
		if r.githubHealthy {
			r.githubRecoverStreak = 0
			return
		}
		r.githubRecoverStreak++
		if r.githubRecoverStreak >= githubRecoverSuccessThreshold {
			r.githubHealthy = true
			r.githubRecoverStreak = 0
			r.logger.Info("github dependency recovered")
		}
		return
	}

	r.githubRecoverStreak = 0
	r.githubFailureStreak++
	if r.githubHealthy && r.githubFailureStreak >= githubUnhealthyFailureThreshold {
		r.githubHealthy = false
		r.logger.Warn("github dependency marked unhealthy", zap.Int("failure_streak", r.githubFailureStreak))
	}
}

// healthRecorder forwards report observations to the metrics recorder and feeds build outcomes
// into the runtime's GitHub health. Rejected and canceled builds leave the streaks untouched.
type healthRecorder struct {
	*exporter.Recorder
	runtime *Runtime
}

func (h *healthRecorder) ObserveBuild(kind, result string, duration time.Duration) {
	h.Recorder.ObserveBuild(kind, result, duration)
	switch result {
	case report.ResultSuccess:
		h.runtime.recordBuild(true)
	case report.ResultError:
		h.runtime.recordBuild(false)
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func ping(ctx context.Context, target pinger) error {
	pingCtx, cancel := context.WithTimeout(ctx, dependencyPingTimeout)
	defer cancel()
	return target.Ping(pingCtx)
}

// Package config loads the YAML configuration of the report service.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/comparative"
	"gopkg.in/yaml.v3"
)

var (
	validLogLevels    = []string{"debug", "info", "warn", "error"}
	validPeriodModes  = []string{PeriodWeekly, PeriodFixed}
	validCacheBackend = []string{CacheNone, CacheMemory, CacheRedis}
	validTraceModes   = []string{"off", "errors", "sampled", "detailed"}
)

// Period modes.
const (
	PeriodWeekly = "weekly"
	PeriodFixed  = "fixed"
)

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig
	GitHub    GitHubConfig
	RateLimit RateLimitConfig
	Report    ReportConfig
	Cache     CacheConfig
	Archive   ArchiveConfig
	Telemetry TelemetryConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddr      string
	LogLevel        string
	ShutdownTimeout time.Duration
}

// GitHubConfig configures GitHub API access. A token read from TokenEnv takes precedence over
// GitHub App installation credentials.
type GitHubConfig struct {
	APIBaseURL            string
	GraphQLURL            string
	RequestTimeout        time.Duration
	TokenEnv              string
	AppID                 int64
	InstallationID        int64
	PrivateKeyPath        string
	SecondaryLimitMaxWait time.Duration
}

// RateLimitConfig configures primary rate-limit pacing.
type RateLimitConfig struct {
	MinRemainingThreshold int
	MinResetBuffer        time.Duration
	SecondaryLimitBackoff time.Duration
}

// ReportConfig configures report periods, polling and fan-out.
type ReportConfig struct {
	PeriodMode      string
	Previous        string
	Next            string
	PollInterval    time.Duration
	PollMaxAttempts int
	PerPage         int
	MaxPages        int
	Concurrency     int
	IncludeTrends   bool
	Batch           BatchConfig
}

// BatchConfig bounds the pull request activity query.
type BatchConfig struct {
	Repositories int
	PullRequests int
	Comments     int
	Commits      int
}

// CacheConfig configures the contributor stats cache.
type CacheConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Namespace     string
	TTL           time.Duration
	MaxEntries    int
}

// ArchiveConfig configures the Postgres report archive.
type ArchiveConfig struct {
	Enabled      bool
	PostgresURL  string
	MaxOpenConns int
}

// TelemetryConfig configures OpenTelemetry behavior.
type TelemetryConfig struct {
	OTELEnabled          bool    `yaml:"otel_enabled"`
	OTELTraceMode        string  `yaml:"otel_trace_mode"`
	OTELTraceSampleRatio float64 `yaml:"otel_trace_sample_ratio"`
}

// Load reads configuration from YAML and validates the result.
func Load(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from path. An empty path yields the defaults.
func LoadFile(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Load(strings.NewReader(""))
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	return Load(file)
}

// Validate validates configuration values.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		errs = append(errs, "server.log_level must be one of debug|info|warn|error")
	}

	if strings.TrimSpace(c.GitHub.TokenEnv) == "" && c.GitHub.AppID <= 0 {
		errs = append(errs, "github.token_env or github.app_id is required")
	}
	if c.GitHub.AppID > 0 {
		if c.GitHub.InstallationID <= 0 {
			errs = append(errs, "github.installation_id must be > 0 when github.app_id is set")
		}
		if c.GitHub.PrivateKeyPath == "" {
			errs = append(errs, "github.private_key_path is required when github.app_id is set")
		}
	}

	if !slices.Contains(validPeriodModes, c.Report.PeriodMode) {
		errs = append(errs, "report.period_mode must be weekly or fixed")
	}
	if c.Report.PeriodMode == PeriodFixed {
		if _, err := c.Report.Period(time.Now()); err != nil {
			errs = append(errs, "report period: "+err.Error())
		}
	}
	if c.Report.Concurrency <= 0 {
		errs = append(errs, "report.concurrency must be > 0")
	}
	if c.Report.PollInterval <= 0 {
		errs = append(errs, "report.poll_interval must be > 0")
	}
	if c.Report.PollMaxAttempts < 0 {
		errs = append(errs, "report.poll_max_attempts must be >= 0")
	}
	if c.Report.PerPage <= 0 || c.Report.PerPage > 100 {
		errs = append(errs, "report.per_page must be between 1 and 100")
	}
	if c.Report.MaxPages < 0 {
		errs = append(errs, "report.max_pages must be >= 0")
	}
	batch := c.Report.Batch
	if batch.Repositories <= 0 || batch.PullRequests <= 0 || batch.Comments <= 0 || batch.Commits <= 0 {
		errs = append(errs, "report.batch limits must be > 0")
	}

	if !slices.Contains(validCacheBackend, c.Cache.Backend) {
		errs = append(errs, "cache.backend must be one of none|memory|redis")
	}
	if c.Cache.Backend == CacheRedis && c.Cache.RedisAddr == "" {
		errs = append(errs, "cache.redis_addr is required when cache.backend=redis")
	}

	if c.Archive.Enabled && c.Archive.PostgresURL == "" {
		errs = append(errs, "archive.postgres_url is required when archive.enabled=true")
	}

	if !slices.Contains(validTraceModes, c.Telemetry.OTELTraceMode) {
		errs = append(errs, "telemetry.otel_trace_mode must be one of off|errors|sampled|detailed")
	}
	if c.Telemetry.OTELTraceSampleRatio < 0 || c.Telemetry.OTELTraceSampleRatio > 1 {
		errs = append(errs, "telemetry.otel_trace_sample_ratio must be between 0 and 1")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Token returns the GitHub token from the configured environment variable.
func (c GitHubConfig) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.TokenEnv))
}

// Period resolves the configured report period at now.
func (c ReportConfig) Period(now time.Time) (comparative.Period, error) {
	if c.PeriodMode != PeriodFixed {
		return comparative.WeeklyPeriod(now), nil
	}
	if c.Previous == "" || c.Next == "" {
		return comparative.Period{}, fmt.Errorf("report.previous and report.next are required when report.period_mode=fixed")
	}
	return comparative.ResolvePeriod(c.Previous, c.Next, now)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.GitHub.APIBaseURL == "" {
		cfg.GitHub.APIBaseURL = "https://api.github.com/"
	}
	if cfg.GitHub.GraphQLURL == "" {
		cfg.GitHub.GraphQLURL = "https://api.github.com/graphql"
	}
	if cfg.GitHub.RequestTimeout <= 0 {
		cfg.GitHub.RequestTimeout = 30 * time.Second
	}
	if cfg.GitHub.TokenEnv == "" && cfg.GitHub.AppID <= 0 {
		cfg.GitHub.TokenEnv = "GITHUB_TOKEN"
	}
	if cfg.GitHub.SecondaryLimitMaxWait <= 0 {
		cfg.GitHub.SecondaryLimitMaxWait = 2 * time.Minute
	}

	if cfg.RateLimit.MinRemainingThreshold <= 0 {
		cfg.RateLimit.MinRemainingThreshold = 50
	}
	if cfg.RateLimit.MinResetBuffer <= 0 {
		cfg.RateLimit.MinResetBuffer = 5 * time.Second
	}
	if cfg.RateLimit.SecondaryLimitBackoff <= 0 {
		cfg.RateLimit.SecondaryLimitBackoff = time.Minute
	}

	if cfg.Report.PeriodMode == "" {
		cfg.Report.PeriodMode = PeriodWeekly
	}
	if cfg.Report.PollInterval == 0 {
		cfg.Report.PollInterval = 500 * time.Millisecond
	}
	if cfg.Report.PerPage == 0 {
		cfg.Report.PerPage = 100
	}
	if cfg.Report.Concurrency == 0 {
		cfg.Report.Concurrency = 8
	}
	if cfg.Report.Batch.Repositories == 0 {
		cfg.Report.Batch.Repositories = 10
	}
	if cfg.Report.Batch.PullRequests == 0 {
		cfg.Report.Batch.PullRequests = 20
	}
	if cfg.Report.Batch.Comments == 0 {
		cfg.Report.Batch.Comments = 50
	}
	if cfg.Report.Batch.Commits == 0 {
		cfg.Report.Batch.Commits = 50
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheMemory
	}
	if cfg.Cache.Namespace == "" {
		cfg.Cache.Namespace = "gitstats-report"
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 6 * time.Hour
	}

	if cfg.Telemetry.OTELTraceMode == "" {
		cfg.Telemetry.OTELTraceMode = "off"
	}
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	parsed, err := parseFlexibleDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func parseFlexibleDuration(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	if standard, err := time.ParseDuration(trimmed); err == nil {
		return standard, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "d"), 24)
	}
	if strings.HasSuffix(trimmed, "w") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "w"), 24*7)
	}

	return 0, fmt.Errorf("parse duration %q: invalid unit", raw)
}

func parseDurationWithMultiplier(numeric string, multiplierHours float64) (time.Duration, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration value %q: %w", numeric, err)
	}

	nanos := value * multiplierHours * float64(time.Hour)
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return 0, fmt.Errorf("parse duration value %q: out of range", numeric)
	}
	return time.Duration(nanos), nil
}

type rawConfig struct {
	Server    rawServer       `yaml:"server"`
	GitHub    rawGitHub       `yaml:"github"`
	RateLimit rawRateLimit    `yaml:"rate_limit"`
	Report    rawReport       `yaml:"report"`
	Cache     rawCache        `yaml:"cache"`
	Archive   rawArchive      `yaml:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type rawServer struct {
	ListenAddr      string   `yaml:"listen_addr"`
	LogLevel        string   `yaml:"log_level"`
	ShutdownTimeout duration `yaml:"shutdown_timeout"`
}

type rawGitHub struct {
	APIBaseURL            string   `yaml:"api_base_url"`
	GraphQLURL            string   `yaml:"graphql_url"`
	RequestTimeout        duration `yaml:"request_timeout"`
	TokenEnv              string   `yaml:"token_env"`
	AppID                 int64    `yaml:"app_id"`
	InstallationID        int64    `yaml:"installation_id"`
	PrivateKeyPath        string   `yaml:"private_key_path"`
	SecondaryLimitMaxWait duration `yaml:"secondary_limit_max_wait"`
}

type rawRateLimit struct {
	MinRemainingThreshold int      `yaml:"min_remaining_threshold"`
	MinResetBuffer        duration `yaml:"min_reset_buffer"`
	SecondaryLimitBackoff duration `yaml:"secondary_limit_backoff"`
}

type rawReport struct {
	PeriodMode      string   `yaml:"period_mode"`
	Previous        string   `yaml:"previous"`
	Next            string   `yaml:"next"`
	PollInterval    duration `yaml:"poll_interval"`
	PollMaxAttempts int      `yaml:"poll_max_attempts"`
	PerPage         int      `yaml:"per_page"`
	MaxPages        int      `yaml:"max_pages"`
	Concurrency     int      `yaml:"concurrency"`
	IncludeTrends   bool     `yaml:"include_trends"`
	Batch           rawBatch `yaml:"batch"`
}

type rawBatch struct {
	Repositories int `yaml:"repositories"`
	PullRequests int `yaml:"pull_requests"`
	Comments     int `yaml:"comments"`
	Commits      int `yaml:"commits"`
}

type rawCache struct {
	Backend       string   `yaml:"backend"`
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	Namespace     string   `yaml:"namespace"`
	TTL           duration `yaml:"ttl"`
	MaxEntries    int      `yaml:"max_entries"`
}

type rawArchive struct {
	Enabled      bool   `yaml:"enabled"`
	PostgresURL  string `yaml:"postgres_url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

func (r rawConfig) toConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      r.Server.ListenAddr,
			LogLevel:        r.Server.LogLevel,
			ShutdownTimeout: r.Server.ShutdownTimeout.Duration,
		},
		GitHub: GitHubConfig{
			APIBaseURL:            r.GitHub.APIBaseURL,
			GraphQLURL:            r.GitHub.GraphQLURL,
			RequestTimeout:        r.GitHub.RequestTimeout.Duration,
			TokenEnv:              r.GitHub.TokenEnv,
			AppID:                 r.GitHub.AppID,
			InstallationID:        r.GitHub.InstallationID,
			PrivateKeyPath:        r.GitHub.PrivateKeyPath,
			SecondaryLimitMaxWait: r.GitHub.SecondaryLimitMaxWait.Duration,
		},
		RateLimit: RateLimitConfig{
			MinRemainingThreshold: r.RateLimit.MinRemainingThreshold,
			MinResetBuffer:        r.RateLimit.MinResetBuffer.Duration,
			SecondaryLimitBackoff: r.RateLimit.SecondaryLimitBackoff.Duration,
		},
		Report: ReportConfig{
			PeriodMode:      r.Report.PeriodMode,
			Previous:        r.Report.Previous,
			Next:            r.Report.Next,
			PollInterval:    r.Report.PollInterval.Duration,
			PollMaxAttempts: r.Report.PollMaxAttempts,
			PerPage:         r.Report.PerPage,
			MaxPages:        r.Report.MaxPages,
			Concurrency:     r.Report.Concurrency,
			IncludeTrends:   r.Report.IncludeTrends,
			Batch: BatchConfig{
				Repositories: r.Report.Batch.Repositories,
				PullRequests: r.Report.Batch.PullRequests,
				Comments:     r.Report.Batch.Comments,
				Commits:      r.Report.Batch.Commits,
			},
		},
		Cache: CacheConfig{
			Backend:       r.Cache.Backend,
			RedisAddr:     r.Cache.RedisAddr,
			RedisPassword: r.Cache.RedisPassword,
			RedisDB:       r.Cache.RedisDB,
			Namespace:     r.Cache.Namespace,
			TTL:           r.Cache.TTL.Duration,
			MaxEntries:    r.Cache.MaxEntries,
		},
		Archive: ArchiveConfig{
			Enabled:      r.Archive.Enabled,
			PostgresURL:  r.Archive.PostgresURL,
			MaxOpenConns: r.Archive.MaxOpenConns,
		},
		Telemetry: r.Telemetry,
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/app"
	"github.com/cam3ron2/gitstats-report/internal/comparative"
	"github.com/cam3ron2/gitstats-report/internal/config"
	"github.com/cam3ron2/gitstats-report/internal/report"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// openReportsFunc builds the report API for one command run. The returned closer releases its
// backends.
type openReportsFunc func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (app.ReportAPI, func(), error)

type cliEnv struct {
	configPath  string
	out         io.Writer
	now         func() time.Time
	openReports openReportsFunc
	newLogger   func(level string) (*zap.Logger, error)
}

type queryFlags struct {
	owner    string
	previous string
	next     string
	format   string
}

func newRootCommand() *cobra.Command {
	return newRootCommandWithEnv(&cliEnv{
		out:         os.Stdout,
		now:         time.Now,
		openReports: openRuntimeReports,
		newLogger:   buildLogger,
	})
}

func newRootCommandWithEnv(env *cliEnv) *cobra.Command {
	root := &cobra.Command{
		Use:   "gitstats-report",
		Short: "Build contribution reports for a GitHub organization or user",
		Long: `gitstats-report compares a GitHub owner's activity across two consecutive windows:
contributor stats, pull request throughput, commits and pull request activity per repository.

Run a single report from the command line or serve the HTTP API with "serve".
Authentication reads the token from the environment variable named by github.token_env
(GITHUB_TOKEN by default) or uses the configured GitHub App installation.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&env.configPath, "config", "c", "", "path to YAML config file (defaults apply when empty)")

	root.AddCommand(
		newServeCommand(env),
		newQueryCommand(env, "report", "Build the comparative report with pull request summaries", runReport),
		newQueryCommand(env, "email-report", "Build the fully polled email report and its weekly digest", runEmailReport),
		newQueryCommand(env, "pr-activity", "List recently updated pull requests with comments and commits", runActivity),
		newQueryCommand(env, "commits", "List commits since the previous window per public repository", runCommits),
		newQueryCommand(env, "summary", "Summarize the report into headline numbers", runSummary),
	)
	return root
}

type queryRunner func(ctx context.Context, api app.ReportAPI, owner string, period comparative.Period, format string, out io.Writer) error

func newQueryCommand(env *cliEnv, use, short string, run queryRunner) *cobra.Command {
	flags := &queryFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format := strings.ToLower(strings.TrimSpace(flags.format))
			if format != formatJSON && format != formatTable {
				return fmt.Errorf("--format must be %s or %s", formatJSON, formatTable)
			}

			cfg, err := config.LoadFile(env.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			period, err := resolvePeriod(cfg, flags, env.now())
			if err != nil {
				return err
			}

			logger, err := env.newLogger(cfg.Server.LogLevel)
			if err != nil {
				return err
			}
			defer syncLogger(logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			api, closeFn, err := env.openReports(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			return run(ctx, api, strings.TrimSpace(flags.owner), period, format, env.out)
		},
	}
	cmd.Flags().StringVarP(&flags.owner, "owner", "o", "", "GitHub organization or user login (required)")
	cmd.Flags().StringVar(&flags.previous, "previous", "", "start of the previous window (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.next, "next", "", "start of the next window (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVarP(&flags.format, "format", "f", formatJSON, "output format: json or table")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// resolvePeriod prefers the command line bounds and falls back to the configured period.
func resolvePeriod(cfg *config.Config, flags *queryFlags, now time.Time) (comparative.Period, error) {
	if flags.previous != "" || flags.next != "" {
		period, err := comparative.ResolvePeriod(flags.previous, flags.next, now)
		if err != nil {
			return comparative.Period{}, fmt.Errorf("resolve period: %w", err)
		}
		return period, nil
	}
	period, err := cfg.Report.Period(now)
	if err != nil {
		return comparative.Period{}, fmt.Errorf("resolve period: %w", err)
	}
	return period, nil
}

func openRuntimeReports(ctx context.Context, cfg *config.Config, logger *zap.Logger) (app.ReportAPI, func(), error) {
	runtime, err := app.NewRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build runtime: %w", err)
	}
	return runtime.Service(), func() {
		if err := runtime.Close(); err != nil {
			logger.Warn("runtime close failed", zap.Error(err))
		}
	}, nil
}

func runReport(ctx context.Context, api app.ReportAPI, owner string, period comparative.Period, format string, out io.Writer) error {
	rep, err := api.BuildReport(ctx, owner, period)
	if err != nil {
		return err
	}
	if format == formatJSON {
		return writeJSON(out, rep)
	}
	return renderTable(out, reportRows(rep))
}

func runEmailReport(ctx context.Context, api app.ReportAPI, owner string, period comparative.Period, format string, out io.Writer) error {
	rep, err := api.BuildEmailReport(ctx, owner, period)
	if err != nil {
		return err
	}
	digest := report.NewDigest(rep)
	if format == formatJSON {
		return writeJSON(out, struct {
			Report report.Report `json:"report"`
			Digest report.Digest `json:"digest"`
		}{Report: rep, Digest: digest})
	}
	if _, err := fmt.Fprintf(out, "%s\n", digest.Subject); err != nil {
		return err
	}
	if err := renderTable(out, digestRows(digest)); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "Change: %s\n", digest.Change)
	return err
}

func runActivity(ctx context.Context, api app.ReportAPI, owner string, period comparative.Period, format string, out io.Writer) error {
	repos, err := api.PullRequestActivity(ctx, owner, period)
	if err != nil {
		return err
	}
	if format == formatJSON {
		return writeJSON(out, repos)
	}
	return renderTable(out, activityRows(repos))
}

func runCommits(ctx context.Context, api app.ReportAPI, owner string, period comparative.Period, format string, out io.Writer) error {
	repos, err := api.AllCommits(ctx, owner, period)
	if err != nil {
		return err
	}
	if format == formatJSON {
		return writeJSON(out, repos)
	}
	return renderTable(out, commitRows(repos))
}

func runSummary(ctx context.Context, api app.ReportAPI, owner string, period comparative.Period, format string, out io.Writer) error {
	summary, err := api.BuildSummary(ctx, owner, period)
	if err != nil {
		return err
	}
	if format == formatJSON {
		return writeJSON(out, summary)
	}
	return renderTable(out, summaryRows(summary))
}

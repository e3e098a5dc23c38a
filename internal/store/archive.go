package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/report"
	"github.com/cam3ron2/gitstats-report/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrRunNotFound is returned when an archived run does not exist.
var ErrRunNotFound = errors.New("report run not found")

const (
	defaultConnectAttempts = 5
	defaultRetryDelay      = 2 * time.Second
	defaultListLimit       = 20
)

// ArchiveConfig configures the Postgres report archive.
type ArchiveConfig struct {
	// DSN is a postgres:// URL; migrations reuse it.
	DSN             string
	MaxOpenConns    int
	ConnectAttempts int
	RetryDelay      time.Duration
}

// RunRecord is the listing row of one archived report.
type RunRecord struct {
	RunID        string    `json:"run_id"`
	Kind         string    `json:"kind"`
	Owner        string    `json:"owner"`
	Previous     time.Time `json:"previous"`
	Next         time.Time `json:"next"`
	RepoCount    int       `json:"repo_count"`
	PendingRepos int       `json:"pending_repos"`
	FailedRepos  int       `json:"failed_repos"`
	CreatedAt    time.Time `json:"created_at"`
}

// PostgresArchive persists finished reports as JSONB rows.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive wraps an open database whose schema is already migrated.
func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// OpenPostgresArchive connects to Postgres, retrying while the server starts, and applies
// pending migrations.
func OpenPostgresArchive(ctx context.Context, cfg ArchiveConfig, logger *zap.Logger) (*PostgresArchive, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("archive dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = defaultConnectAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := connect(ctx, cfg)
		if err == nil {
			if err := MigrateArchive(cfg.DSN, logger); err != nil {
				_ = db.Close()
				return nil, err
			}
			return NewPostgresArchive(db), nil
		}
		lastErr = err
		logger.Warn("archive connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("connect archive after %d attempts: %w", attempts, lastErr)
}

func connect(ctx context.Context, cfg ArchiveConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// MigrateArchive applies the embedded migrations to the database at dsn.
func MigrateArchive(dsn string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load archive migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("create archive migrator: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply archive migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read archive migration version: %w", err)
	}
	logger.Info("archive migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// SaveReport stores rep under its run id. Saving the same run twice keeps the first row.
func (a *PostgresArchive) SaveReport(ctx context.Context, kind string, rep report.Report) (err error) {
	if a == nil || a.db == nil {
		return fmt.Errorf("archive is not initialized")
	}
	if rep.RunID == "" {
		return fmt.Errorf("report run id is required")
	}
	ctx, span := telemetry.StartDependencySpan(ctx, "internal/store", "postgres.save_report",
		attribute.String("db.system", "postgresql"),
		attribute.String("report.run_id", rep.RunID),
		attribute.String("report.kind", kind),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	record := recordOf(kind, rep)

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO report_runs
			(run_id, kind, owner, period_previous, period_next, repo_count, pending_repos, failed_repos, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO NOTHING`,
		record.RunID, record.Kind, record.Owner, record.Previous, record.Next,
		record.RepoCount, record.PendingRepos, record.FailedRepos, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert report run %s: %w", rep.RunID, err)
	}
	return nil
}

// ListRuns returns the newest runs for owner, newest first.
func (a *PostgresArchive) ListRuns(ctx context.Context, owner string, limit int) ([]RunRecord, error) {
	if a == nil || a.db == nil {
		return nil, fmt.Errorf("archive is not initialized")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT run_id, kind, owner, period_previous, period_next, repo_count, pending_repos, failed_repos, created_at
		FROM report_runs
		WHERE owner = $1
		ORDER BY created_at DESC
		LIMIT $2`, strings.ToLower(owner), limit)
	if err != nil {
		return nil, fmt.Errorf("list report runs: %w", err)
	}
	defer rows.Close()

	records := []RunRecord{}
	for rows.Next() {
		var record RunRecord
		if err := rows.Scan(
			&record.RunID, &record.Kind, &record.Owner, &record.Previous, &record.Next,
			&record.RepoCount, &record.PendingRepos, &record.FailedRepos, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan report run: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report runs: %w", err)
	}
	return records, nil
}

// LoadReport returns the archived report for runID.
func (a *PostgresArchive) LoadReport(ctx context.Context, runID string) (report.Report, error) {
	if a == nil || a.db == nil {
		return report.Report{}, fmt.Errorf("archive is not initialized")
	}

	var payload []byte
	err := a.db.QueryRowContext(ctx, `SELECT payload FROM report_runs WHERE run_id = $1`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return report.Report{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return report.Report{}, fmt.Errorf("load report run %s: %w", runID, err)
	}

	var rep report.Report
	if err := json.Unmarshal(payload, &rep); err != nil {
		return report.Report{}, fmt.Errorf("decode report run %s: %w", runID, err)
	}
	return rep, nil
}

// Ping checks the database connection.
func (a *PostgresArchive) Ping(ctx context.Context) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("archive is not initialized")
	}
	return a.db.PingContext(ctx)
}

// Close closes the database.
func (a *PostgresArchive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func recordOf(kind string, rep report.Report) RunRecord {
	failed := 0
	for _, repo := range rep.Repos {
		if len(repo.Errors) > 0 {
			failed++
		}
	}
	return RunRecord{
		RunID:        rep.RunID,
		Kind:         kind,
		Owner:        strings.ToLower(rep.Owner.Login),
		Previous:     rep.Period.Previous,
		Next:         rep.Period.Next,
		RepoCount:    len(rep.Repos),
		PendingRepos: len(rep.PendingRepos()),
		FailedRepos:  failed,
	}
}

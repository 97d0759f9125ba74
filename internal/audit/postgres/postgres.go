// Package postgres implements audit.Log on PostgreSQL via pgx/v5, with
// embedded migrations run at startup — the same shape as the teacher's
// store/postgres.Open, narrowed to this package's two audit tables.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orzoj-cluster/judged/internal/audit"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Log implements audit.Log using PostgreSQL via pgx/v5.
type Log struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool, runs migrations, and returns a ready Log.
func Open(ctx context.Context, dsn string) (*Log, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: migrations: %w", err)
	}
	return &Log{pool: pool}, nil
}

// RunMigrations applies all pending up-migrations against dsn. Safe to
// call multiple times — ErrNoChange is treated as success. Used by initdb
// and internally by Open.
func RunMigrations(dsn string) error { return runMigrations(dsn) }

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("iofs source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, toMigrateURL(dsn))
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func toMigrateURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + dsn[len(prefix):]
		}
	}
	return "pgx5://" + dsn
}

func (l *Log) Close() error {
	l.pool.Close()
	return nil
}

func (l *Log) RecordDispatch(ctx context.Context, rec audit.DispatchRecord) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO dispatch_records (correlation_id, task_problem, task_language, judge_id, dispatched_at, throughput_kbps)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.CorrelationID, rec.TaskProblem, rec.TaskLanguage, rec.JudgeID, rec.DispatchedAt, rec.ThroughputKBps)
	return err
}

func (l *Log) RecordSessionEvent(ctx context.Context, ev audit.SessionEvent) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO session_events (correlation_id, judge_id, kind, detail, at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.CorrelationID, ev.JudgeID, ev.Kind, ev.Detail, ev.At)
	return err
}

func (l *Log) UpdateDispatchThroughput(ctx context.Context, correlationID uuid.UUID, kbPerSec float64) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE dispatch_records SET throughput_kbps = $1 WHERE correlation_id = $2
	`, kbPerSec, correlationID)
	return err
}

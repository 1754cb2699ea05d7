package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/metronova/buseta/internal/download"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// PostgresStore is the job ledger for shared deployments
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// NewPostgresStore connects to databaseURL and verifies the connection
func NewPostgresStore(ctx context.Context, databaseURL string, logger *zap.SugaredLogger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, log: logger}, nil
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// EnsureSchema creates tables if they don't exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) JobStarted(ctx context.Context, job download.FetchJob) error {
	return s.upsertJob(ctx, job)
}

func (s *PostgresStore) JobFinished(ctx context.Context, job download.FetchJob) error {
	return s.upsertJob(ctx, job)
}

func (s *PostgresStore) upsertJob(ctx context.Context, job download.FetchJob) error {
	var finished *time.Time
	if !job.FinishedAt.IsZero() {
		t := job.FinishedAt.UTC()
		finished = &t
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO fetch_jobs (
			job_id, source_url, canonical_path, status, reason, detail,
			bytes_downloaded, total_bytes, enqueued_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			detail = EXCLUDED.detail,
			bytes_downloaded = EXCLUDED.bytes_downloaded,
			total_bytes = EXCLUDED.total_bytes,
			finished_at = EXCLUDED.finished_at
	`,
		string(job.ID), job.SourceURL, job.CanonicalPath,
		job.Status.String(), job.Reason.String(), job.Detail,
		job.BytesDownloaded, job.TotalBytes,
		job.EnqueuedAt.UTC(), finished,
	)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) RecentJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT job_id, source_url, canonical_path, status, reason, detail,
			bytes_downloaded, total_bytes, enqueued_at, finished_at
		FROM fetch_jobs
		ORDER BY enqueued_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var j JobRecord
		if err := rows.Scan(&j.ID, &j.SourceURL, &j.CanonicalPath, &j.Status, &j.Reason, &j.Detail,
			&j.BytesDownloaded, &j.TotalBytes, &j.EnqueuedAt, &j.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	hours := retentionHours(retention)

	tag, err := s.pool.Exec(ctx,
		"DELETE FROM fetch_jobs WHERE finished_at IS NOT NULL AND finished_at < NOW() - make_interval(hours => $1)",
		hours,
	)
	if err != nil {
		return fmt.Errorf("failed to cleanup fetch_jobs: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.log.Infow("Cleanup: deleted finished jobs", "count", n, "older_than_hours", hours)
	}
	return nil
}

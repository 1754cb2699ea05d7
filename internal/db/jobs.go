// Package db keeps a ledger of download jobs in SQLite or PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/metronova/buseta/internal/download"
)

// JobRecord is one row of the job ledger
type JobRecord struct {
	ID              string     `json:"id"`
	SourceURL       string     `json:"source_url"`
	CanonicalPath   string     `json:"canonical_path"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	Detail          string     `json:"detail,omitempty"`
	BytesDownloaded int64      `json:"bytes_downloaded"`
	TotalBytes      int64      `json:"total_bytes"`
	EnqueuedAt      time.Time  `json:"enqueued_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// JobStore is the ledger both backends implement
type JobStore interface {
	download.JobRecorder
	RecentJobs(ctx context.Context, limit int) ([]JobRecord, error)
	Cleanup(ctx context.Context, retention time.Duration) error
	Close() error
}

const upsertJobSQL = `
	INSERT INTO fetch_jobs (
		job_id, source_url, canonical_path, status, reason, detail,
		bytes_downloaded, total_bytes, enqueued_at_utc, finished_at_utc
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (job_id) DO UPDATE SET
		status = excluded.status,
		reason = excluded.reason,
		detail = excluded.detail,
		bytes_downloaded = excluded.bytes_downloaded,
		total_bytes = excluded.total_bytes,
		finished_at_utc = excluded.finished_at_utc
`

// JobStarted inserts the job as it was when enqueued
func (db *DB) JobStarted(ctx context.Context, job download.FetchJob) error {
	return db.upsertJob(ctx, job)
}

// JobFinished stores the terminal state of the job
func (db *DB) JobFinished(ctx context.Context, job download.FetchJob) error {
	return db.upsertJob(ctx, job)
}

func (db *DB) upsertJob(ctx context.Context, job download.FetchJob) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	var finished *string
	if !job.FinishedAt.IsZero() {
		s := job.FinishedAt.UTC().Format(time.RFC3339)
		finished = &s
	}

	_, err := db.conn.ExecContext(ctx, upsertJobSQL,
		string(job.ID), job.SourceURL, job.CanonicalPath,
		job.Status.String(), job.Reason.String(), job.Detail,
		job.BytesDownloaded, job.TotalBytes,
		job.EnqueuedAt.UTC().Format(time.RFC3339), finished,
	)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", job.ID, err)
	}
	return nil
}

// RecentJobs returns the most recently enqueued jobs, newest first
func (db *DB) RecentJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT job_id, source_url, canonical_path, status, reason, detail,
			bytes_downloaded, total_bytes, enqueued_at_utc, finished_at_utc
		FROM fetch_jobs
		ORDER BY enqueued_at_utc DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var (
			j        JobRecord
			enqueued string
			finished sql.NullString
		)
		if err := rows.Scan(&j.ID, &j.SourceURL, &j.CanonicalPath, &j.Status, &j.Reason, &j.Detail,
			&j.BytesDownloaded, &j.TotalBytes, &enqueued, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, enqueued); err == nil {
			j.EnqueuedAt = t
		}
		if finished.Valid {
			if t, err := time.Parse(time.RFC3339, finished.String); err == nil {
				j.FinishedAt = &t
			}
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

package db

import (
	"context"
	"fmt"
	"time"
)

// retentionHours rounds a retention window to whole hours, at least one
func retentionHours(retention time.Duration) int {
	hours := int(retention.Hours())
	if hours < 1 {
		hours = 1
	}
	return hours
}

// Cleanup deletes finished jobs older than the retention window. A zero
// retention keeps everything.
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	hours := retentionHours(retention)

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	result, err := db.conn.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM fetch_jobs WHERE finished_at_utc IS NOT NULL AND datetime(finished_at_utc) < datetime('now', '-%d hours')",
		hours,
	))
	if err != nil {
		return fmt.Errorf("failed to cleanup fetch_jobs: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows > 0 {
		db.log.Infow("Cleanup: deleted finished jobs", "count", rows, "older_than_hours", hours)
	}
	return nil
}

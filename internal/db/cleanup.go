package db

import (
	"context"
	"fmt"
	"time"
)

// Cleanup deletes delay statistics for hours older than retention
func (db *DB) Cleanup(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	if retention < time.Hour {
		retention = time.Hour
	}
	cutoff := HourBucket(now.Add(-retention))

	db.LockWrite()
	defer db.UnlockWrite()

	result, err := db.conn.ExecContext(ctx, "DELETE FROM stats_delay_hourly WHERE hour_bucket < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup delay stats: %w", err)
	}
	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		db.log.Info("cleanup removed old delay stats", "rows", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

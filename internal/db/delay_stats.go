package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mini-transit-live/server/internal/metrics"
	"github.com/mini-transit-live/server/internal/realtime"
)

// DelayThresholdSeconds is the lateness above which a vehicle counts as delayed (5 minutes)
const DelayThresholdSeconds = 300

// DelayObservation represents a single delay measurement for a route
type DelayObservation struct {
	Route        string
	DelaySeconds int
}

// HourlyDelayStat is one route's aggregated delays for one UTC hour
type HourlyDelayStat struct {
	Route            string
	HourBucket       string
	ObservationCount int
	MeanDelaySeconds float64
	StdDevSeconds    float64
	DelayedCount     int
	OnTimeCount      int
	MaxDelaySeconds  int
}

// OnTimePercent is 100 when nothing was observed
func (s HourlyDelayStat) OnTimePercent() float64 {
	total := s.DelayedCount + s.OnTimeCount
	if total == 0 {
		return 100
	}
	return float64(s.OnTimeCount) / float64(total) * 100
}

// ObservationsFromVehicles keeps the vehicles that carry both a route and a delay
func ObservationsFromVehicles(vehicles []realtime.VehicleRecord) []DelayObservation {
	var out []DelayObservation
	for _, v := range vehicles {
		if v.Route == "" || v.DelaySeconds == nil {
			continue
		}
		out = append(out, DelayObservation{Route: v.Route, DelaySeconds: *v.DelaySeconds})
	}
	return out
}

// HourBucket formats the UTC hour containing t
func HourBucket(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(time.RFC3339)
}

// UpdateDelayStats folds observations into the hour bucket containing at
func (db *DB) UpdateDelayStats(ctx context.Context, observations []DelayObservation, at time.Time) error {
	byRoute := make(map[string][]int)
	for _, obs := range observations {
		if obs.Route == "" {
			continue
		}
		byRoute[obs.Route] = append(byRoute[obs.Route], obs.DelaySeconds)
	}
	if len(byRoute) == 0 {
		return nil
	}

	hourBucket := HourBucket(at)

	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for route, delays := range byRoute {
		var count int
		var mean, m2 float64
		var delayedCount, onTimeCount, maxDelay int

		err := tx.QueryRowContext(ctx, `
			SELECT observation_count, delay_mean_seconds, delay_m2,
				delayed_count, on_time_count, max_delay_seconds
			FROM stats_delay_hourly
			WHERE route_id = ? AND hour_bucket = ?
		`, route, hourBucket).Scan(&count, &mean, &m2, &delayedCount, &onTimeCount, &maxDelay)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read delay stats for %s: %w", route, err)
		}

		w := metrics.NewWelfordState(mean, m2, count)
		for _, delaySec := range delays {
			w.Update(float64(delaySec))

			absDelay := max(delaySec, -delaySec)
			if absDelay > DelayThresholdSeconds {
				delayedCount++
			} else {
				onTimeCount++
			}
			maxDelay = max(maxDelay, absDelay)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stats_delay_hourly (route_id, hour_bucket, observation_count,
				delay_mean_seconds, delay_m2, delayed_count, on_time_count, max_delay_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (route_id, hour_bucket) DO UPDATE SET
				observation_count = excluded.observation_count,
				delay_mean_seconds = excluded.delay_mean_seconds,
				delay_m2 = excluded.delay_m2,
				delayed_count = excluded.delayed_count,
				on_time_count = excluded.on_time_count,
				max_delay_seconds = excluded.max_delay_seconds
		`, route, hourBucket, w.Count, w.Mean, w.M2, delayedCount, onTimeCount, maxDelay)
		if err != nil {
			return fmt.Errorf("failed to upsert delay stats for %s: %w", route, err)
		}
	}

	return tx.Commit()
}

// HourlyDelayStats returns the buckets newer than now-hours, oldest first,
// optionally restricted to one route.
func (db *DB) HourlyDelayStats(ctx context.Context, route string, hours int, now time.Time) ([]HourlyDelayStat, error) {
	if hours < 1 {
		hours = 1
	}
	since := HourBucket(now.Add(-time.Duration(hours) * time.Hour))

	query := `
		SELECT route_id, hour_bucket, observation_count,
			delay_mean_seconds, delay_m2, delayed_count, on_time_count, max_delay_seconds
		FROM stats_delay_hourly
		WHERE hour_bucket >= ?`
	args := []any{since}
	if route != "" {
		query += ` AND route_id = ?`
		args = append(args, route)
	}
	query += ` ORDER BY hour_bucket ASC, route_id ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delay stats: %w", err)
	}
	defer rows.Close()

	stats := []HourlyDelayStat{}
	for rows.Next() {
		var s HourlyDelayStat
		var m2 float64
		if err := rows.Scan(
			&s.Route, &s.HourBucket, &s.ObservationCount,
			&s.MeanDelaySeconds, &m2, &s.DelayedCount, &s.OnTimeCount, &s.MaxDelaySeconds,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delay stats row: %w", err)
		}
		s.StdDevSeconds = metrics.NewWelfordState(s.MeanDelaySeconds, m2, s.ObservationCount).StdDev()
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delay stats rows: %w", err)
	}
	return stats, nil
}

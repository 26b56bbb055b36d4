package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mini-transit-live/server/internal/static/gtfs"
)

// ImportStats reports how many rows each table received
type ImportStats struct {
	Routes    int
	Stops     int
	Trips     int
	StopTimes int
	Shapes    int
	Duration  time.Duration
}

// ImportFeed replaces the static schedule tables with the contents of feed
// in a single transaction. Readers keep seeing the previous schedule until
// the commit.
func (db *DB) ImportFeed(ctx context.Context, feed *gtfs.Feed) (ImportStats, error) {
	start := time.Now()
	var stats ImportStats

	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"stop_times", "shapes", "trips", "stops", "routes"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return stats, fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if stats.Routes, err = upsertRoutes(ctx, tx, feed.Routes); err != nil {
		return stats, err
	}
	if stats.Stops, err = upsertStops(ctx, tx, feed.Stops); err != nil {
		return stats, err
	}
	if stats.Trips, err = upsertTrips(ctx, tx, feed.Trips); err != nil {
		return stats, err
	}
	if stats.StopTimes, err = upsertStopTimes(ctx, tx, feed.StopTimes); err != nil {
		return stats, err
	}
	if stats.Shapes, err = upsertShapes(ctx, tx, feed.Shapes); err != nil {
		return stats, err
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("failed to commit import: %w", err)
	}

	stats.Duration = time.Since(start)
	db.log.Info("schedule imported",
		"routes", stats.Routes,
		"stops", stats.Stops,
		"trips", stats.Trips,
		"stop_times", stats.StopTimes,
		"shape_points", stats.Shapes,
		"duration", stats.Duration.String(),
	)
	return stats, nil
}

// exec prepares query once and runs it for each of n rows
func exec(ctx context.Context, tx *sql.Tx, name, query string, n int, args func(i int) []any) (int, error) {
	if n == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare %s statement: %w", name, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return i, fmt.Errorf("failed to upsert %s row %d: %w", name, i, err)
		}
	}
	return n, nil
}

func upsertRoutes(ctx context.Context, tx *sql.Tx, routes []gtfs.Route) (int, error) {
	return exec(ctx, tx, "routes", `
		INSERT INTO routes (route_id, route_short_name, route_long_name, route_type)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (route_id) DO UPDATE SET
			route_short_name = excluded.route_short_name,
			route_long_name = excluded.route_long_name,
			route_type = excluded.route_type
	`, len(routes), func(i int) []any {
		r := routes[i]
		return []any{r.RouteID, r.RouteShortName, r.RouteLongName, nullableInt(r.RouteType)}
	})
}

func upsertStops(ctx context.Context, tx *sql.Tx, stops []gtfs.Stop) (int, error) {
	return exec(ctx, tx, "stops", `
		INSERT INTO stops (stop_id, stop_code, stop_name, stop_lat, stop_lon)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (stop_id) DO UPDATE SET
			stop_code = excluded.stop_code,
			stop_name = excluded.stop_name,
			stop_lat = excluded.stop_lat,
			stop_lon = excluded.stop_lon
	`, len(stops), func(i int) []any {
		s := stops[i]
		return []any{s.StopID, s.StopCode, s.StopName, s.StopLat, s.StopLon}
	})
}

func upsertTrips(ctx context.Context, tx *sql.Tx, trips []gtfs.Trip) (int, error) {
	return exec(ctx, tx, "trips", `
		INSERT INTO trips (trip_id, route_id, service_id, direction_id, shape_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (trip_id) DO UPDATE SET
			route_id = excluded.route_id,
			service_id = excluded.service_id,
			direction_id = excluded.direction_id,
			shape_id = excluded.shape_id
	`, len(trips), func(i int) []any {
		t := trips[i]
		return []any{t.TripID, t.RouteID, t.ServiceID, nullableInt(t.DirectionID), t.ShapeID}
	})
}

func upsertStopTimes(ctx context.Context, tx *sql.Tx, stopTimes []gtfs.StopTime) (int, error) {
	return exec(ctx, tx, "stop_times", `
		INSERT INTO stop_times (trip_id, stop_sequence, stop_id, arrival_time, departure_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (trip_id, stop_sequence) DO UPDATE SET
			stop_id = excluded.stop_id,
			arrival_time = excluded.arrival_time,
			departure_time = excluded.departure_time
	`, len(stopTimes), func(i int) []any {
		st := stopTimes[i]
		return []any{st.TripID, st.StopSequence, st.StopID, st.ArrivalTime, st.DepartureTime}
	})
}

func upsertShapes(ctx context.Context, tx *sql.Tx, shapes []gtfs.ShapePoint) (int, error) {
	return exec(ctx, tx, "shapes", `
		INSERT INTO shapes (shape_id, shape_pt_sequence, shape_pt_lat, shape_pt_lon)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (shape_id, shape_pt_sequence) DO UPDATE SET
			shape_pt_lat = excluded.shape_pt_lat,
			shape_pt_lon = excluded.shape_pt_lon
	`, len(shapes), func(i int) []any {
		p := shapes[i]
		return []any{p.ShapeID, p.Sequence, p.Lat, p.Lon}
	})
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

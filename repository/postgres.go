package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mini-transit-live/server/internal/schedule"
)

// ScheduleRepository answers schedule queries from Postgres. The tables
// mirror the SQLite schema in internal/db.
type ScheduleRepository struct {
	pool *pgxpool.Pool
}

var _ schedule.Store = (*ScheduleRepository)(nil)

// NewScheduleRepository creates the pool without contacting the server;
// callers ping (with retry) before serving.
func NewScheduleRepository(ctx context.Context, databaseURL string) (*ScheduleRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &ScheduleRepository{pool: pool}, nil
}

func (r *ScheduleRepository) Close() {
	r.pool.Close()
}

func (r *ScheduleRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *ScheduleRepository) TripsByIDs(ctx context.Context, tripIDs []string) ([]schedule.TripRow, error) {
	if len(tripIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT
			t.trip_id,
			COALESCE(t.shape_id, ''),
			COALESCE(r.route_short_name, ''),
			t.direction_id,
			r.route_type
		FROM trips t
		INNER JOIN routes r ON r.route_id = t.route_id
		WHERE t.trip_id = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	return collect(rows, "trip", func(row pgx.Rows) (schedule.TripRow, error) {
		var t schedule.TripRow
		err := row.Scan(&t.TripID, &t.ShapeID, &t.RouteShortName, &t.DirectionID, &t.RouteType)
		return t, err
	})
}

func (r *ScheduleRepository) StopTimesByTripIDs(ctx context.Context, tripIDs []string) ([]schedule.StopTimeRow, error) {
	if len(tripIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT
			st.trip_id,
			st.stop_sequence,
			COALESCE(st.arrival_time, ''),
			COALESCE(st.departure_time, ''),
			s.stop_lat,
			s.stop_lon
		FROM stop_times st
		INNER JOIN stops s ON s.stop_id = st.stop_id
		WHERE st.trip_id = ANY($1)
		ORDER BY st.trip_id ASC, st.stop_sequence ASC
	`

	rows, err := r.pool.Query(ctx, query, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop times: %w", err)
	}
	return collect(rows, "stop time", func(row pgx.Rows) (schedule.StopTimeRow, error) {
		var st schedule.StopTimeRow
		err := row.Scan(&st.TripID, &st.StopSequence, &st.ArrivalTime, &st.DepartureTime, &st.StopLat, &st.StopLon)
		return st, err
	})
}

func (r *ScheduleRepository) TripsBetweenStops(ctx context.Context, fromCode string, toCodes []string) ([]schedule.BoardRow, error) {
	if fromCode == "" || len(toCodes) == 0 {
		return nil, nil
	}
	query := `
		SELECT
			dep.trip_id,
			COALESCE(r.route_short_name, ''),
			COALESCE(dep.departure_time, ''),
			COALESCE(dest.stop_name, ''),
			COALESCE(arr.arrival_time, '')
		FROM stop_times dep
		INNER JOIN stops origin ON origin.stop_id = dep.stop_id
		INNER JOIN stop_times arr ON arr.trip_id = dep.trip_id AND arr.stop_sequence > dep.stop_sequence
		INNER JOIN stops dest ON dest.stop_id = arr.stop_id
		INNER JOIN trips t ON t.trip_id = dep.trip_id
		LEFT JOIN routes r ON r.route_id = t.route_id
		WHERE origin.stop_code = $1 AND dest.stop_code = ANY($2)
		ORDER BY dep.departure_time ASC, dep.trip_id ASC, arr.stop_sequence ASC
	`

	rows, err := r.pool.Query(ctx, query, fromCode, toCodes)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips between stops: %w", err)
	}
	return collect(rows, "board", func(row pgx.Rows) (schedule.BoardRow, error) {
		var b schedule.BoardRow
		err := row.Scan(&b.TripID, &b.RouteShortName, &b.DepartureTime, &b.StopName, &b.ArrivalTime)
		return b, err
	})
}

func (r *ScheduleRepository) ShapePoints(ctx context.Context, shapeIDs []string) ([]schedule.ShapePoint, error) {
	if len(shapeIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT shape_id, shape_pt_sequence, shape_pt_lat, shape_pt_lon
		FROM shapes
		WHERE shape_id = ANY($1)
		ORDER BY shape_id ASC, shape_pt_sequence ASC
	`

	rows, err := r.pool.Query(ctx, query, shapeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query shapes: %w", err)
	}
	return collect(rows, "shape", func(row pgx.Rows) (schedule.ShapePoint, error) {
		var p schedule.ShapePoint
		err := row.Scan(&p.ShapeID, &p.Sequence, &p.Lat, &p.Lon)
		return p, err
	})
}

// collect scans every row and closes rows
func collect[T any](rows pgx.Rows, what string, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", what, err)
	}
	return out, nil
}

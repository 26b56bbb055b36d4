package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mini-transit-live/server/internal/schedule"
)

// SQLiteDB wraps a SQL database connection for SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens the schedule database written by cmd/import-gtfs
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL&_fk=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *SQLiteDB) GetDB() *sql.DB {
	return s.db
}

// SQLiteScheduleRepository answers schedule queries from SQLite
type SQLiteScheduleRepository struct {
	db *sql.DB
}

var _ schedule.Store = (*SQLiteScheduleRepository)(nil)

// NewSQLiteScheduleRepository creates a new SQLiteScheduleRepository
func NewSQLiteScheduleRepository(db *sql.DB) *SQLiteScheduleRepository {
	return &SQLiteScheduleRepository{db: db}
}

// placeholders returns "?, ?, ?" and the matching args
func placeholders(ids []string) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ", "), args
}

// TripsByIDs returns the trip rows joined to their routes
func (r *SQLiteScheduleRepository) TripsByIDs(ctx context.Context, tripIDs []string) ([]schedule.TripRow, error) {
	if len(tripIDs) == 0 {
		return nil, nil
	}
	in, args := placeholders(tripIDs)
	query := `
		SELECT
			t.trip_id,
			COALESCE(t.shape_id, ''),
			COALESCE(r.route_short_name, ''),
			t.direction_id,
			r.route_type
		FROM trips t
		INNER JOIN routes r ON r.route_id = t.route_id
		WHERE t.trip_id IN (` + in + `)
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []schedule.TripRow
	for rows.Next() {
		var t schedule.TripRow
		var direction, routeType sql.NullInt64
		if err := rows.Scan(&t.TripID, &t.ShapeID, &t.RouteShortName, &direction, &routeType); err != nil {
			return nil, fmt.Errorf("failed to scan trip row: %w", err)
		}
		t.DirectionID = nullInt(direction)
		t.RouteType = nullInt(routeType)
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trip rows: %w", err)
	}
	return trips, nil
}

// StopTimesByTripIDs returns stop times with stop coordinates, ordered by trip then sequence
func (r *SQLiteScheduleRepository) StopTimesByTripIDs(ctx context.Context, tripIDs []string) ([]schedule.StopTimeRow, error) {
	if len(tripIDs) == 0 {
		return nil, nil
	}
	in, args := placeholders(tripIDs)
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
		WHERE st.trip_id IN (` + in + `)
		ORDER BY st.trip_id ASC, st.stop_sequence ASC
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop times: %w", err)
	}
	defer rows.Close()

	var out []schedule.StopTimeRow
	for rows.Next() {
		var st schedule.StopTimeRow
		if err := rows.Scan(&st.TripID, &st.StopSequence, &st.ArrivalTime, &st.DepartureTime, &st.StopLat, &st.StopLon); err != nil {
			return nil, fmt.Errorf("failed to scan stop time row: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stop time rows: %w", err)
	}
	return out, nil
}

// TripsBetweenStops returns trips calling at fromCode and later at one of toCodes.
// StopName is the destination stop.
func (r *SQLiteScheduleRepository) TripsBetweenStops(ctx context.Context, fromCode string, toCodes []string) ([]schedule.BoardRow, error) {
	if fromCode == "" || len(toCodes) == 0 {
		return nil, nil
	}
	in, toArgs := placeholders(toCodes)
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
		WHERE origin.stop_code = ? AND dest.stop_code IN (` + in + `)
		ORDER BY dep.departure_time ASC, dep.trip_id ASC, arr.stop_sequence ASC
	`
	args := append([]any{fromCode}, toArgs...)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips between stops: %w", err)
	}
	defer rows.Close()

	var out []schedule.BoardRow
	for rows.Next() {
		var b schedule.BoardRow
		if err := rows.Scan(&b.TripID, &b.RouteShortName, &b.DepartureTime, &b.StopName, &b.ArrivalTime); err != nil {
			return nil, fmt.Errorf("failed to scan board row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating board rows: %w", err)
	}
	return out, nil
}

// ShapePoints returns the vertices of the given shapes ordered by sequence
func (r *SQLiteScheduleRepository) ShapePoints(ctx context.Context, shapeIDs []string) ([]schedule.ShapePoint, error) {
	if len(shapeIDs) == 0 {
		return nil, nil
	}
	in, args := placeholders(shapeIDs)
	query := `
		SELECT shape_id, shape_pt_sequence, shape_pt_lat, shape_pt_lon
		FROM shapes
		WHERE shape_id IN (` + in + `)
		ORDER BY shape_id ASC, shape_pt_sequence ASC
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shapes: %w", err)
	}
	defer rows.Close()

	var out []schedule.ShapePoint
	for rows.Next() {
		var p schedule.ShapePoint
		if err := rows.Scan(&p.ShapeID, &p.Sequence, &p.Lat, &p.Lon); err != nil {
			return nil, fmt.Errorf("failed to scan shape row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shape rows: %w", err)
	}
	return out, nil
}

// Ping checks the connection
func (r *SQLiteScheduleRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

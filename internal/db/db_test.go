package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-transit-live/server/internal/logger"
	"github.com/mini-transit-live/server/internal/realtime"
	"github.com/mini-transit-live/server/internal/static/gtfs"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Connect(filepath.Join(t.TempDir(), "transit.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.EnsureSchema(context.Background()))
	return database
}

func intPtr(v int) *int { return &v }

func testFeed() *gtfs.Feed {
	return &gtfs.Feed{
		Routes: []gtfs.Route{
			{RouteID: "60-1", RouteShortName: "60", RouteLongName: "City - Uni", RouteType: intPtr(3)},
		},
		Stops: []gtfs.Stop{
			{StopID: "s1", StopCode: "100", StopName: "City", StopLat: -27.47, StopLon: 153.02},
			{StopID: "s2", StopCode: "200", StopName: "Uni", StopLat: -27.49, StopLon: 153.01},
		},
		Trips: []gtfs.Trip{
			{TripID: "T1", RouteID: "60-1", ServiceID: "wk", DirectionID: intPtr(1), ShapeID: "sh1"},
		},
		StopTimes: []gtfs.StopTime{
			{TripID: "T1", StopID: "s1", StopSequence: 1, ArrivalTime: "10:00:00", DepartureTime: "10:00:00"},
			{TripID: "T1", StopID: "s2", StopSequence: 2, ArrivalTime: "10:12:00", DepartureTime: "10:13:00"},
		},
		Shapes: []gtfs.ShapePoint{
			{ShapeID: "sh1", Sequence: 1, Lat: -27.47, Lon: 153.02},
			{ShapeID: "sh1", Sequence: 2, Lat: -27.49, Lon: 153.01},
		},
	}
}

func count(t *testing.T, database *DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, database.Conn().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, database.EnsureSchema(context.Background()))
	assert.Contains(t, SchemaSQL(), "stats_delay_hourly")
}

func TestImportFeed(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	stats, err := database.ImportFeed(ctx, testFeed())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Routes)
	assert.Equal(t, 2, stats.Stops)
	assert.Equal(t, 1, stats.Trips)
	assert.Equal(t, 2, stats.StopTimes)
	assert.Equal(t, 2, stats.Shapes)

	var direction, routeType int
	require.NoError(t, database.Conn().QueryRow(`
		SELECT t.direction_id, r.route_type FROM trips t JOIN routes r ON r.route_id = t.route_id
		WHERE t.trip_id = 'T1'`).Scan(&direction, &routeType))
	assert.Equal(t, 1, direction)
	assert.Equal(t, 3, routeType)
}

func TestImportFeedReplacesPreviousSchedule(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	_, err := database.ImportFeed(ctx, testFeed())
	require.NoError(t, err)

	next := testFeed()
	next.Trips[0].TripID = "T2"
	for i := range next.StopTimes {
		next.StopTimes[i].TripID = "T2"
	}
	_, err = database.ImportFeed(ctx, next)
	require.NoError(t, err)

	assert.Equal(t, 1, count(t, database, "trips"))
	assert.Equal(t, 2, count(t, database, "stop_times"))
	var tripID string
	require.NoError(t, database.Conn().QueryRow("SELECT trip_id FROM trips").Scan(&tripID))
	assert.Equal(t, "T2", tripID)
}

func TestImportFeedToleratesDuplicateRows(t *testing.T) {
	database := openTestDB(t)
	feed := testFeed()
	feed.Stops = append(feed.Stops, gtfs.Stop{StopID: "s1", StopCode: "100", StopName: "City Centre", StopLat: -27.47, StopLon: 153.02})

	_, err := database.ImportFeed(context.Background(), feed)
	require.NoError(t, err)
	assert.Equal(t, 2, count(t, database, "stops"))

	var name string
	require.NoError(t, database.Conn().QueryRow("SELECT stop_name FROM stops WHERE stop_id = 's1'").Scan(&name))
	assert.Equal(t, "City Centre", name)
}

func TestObservationsFromVehicles(t *testing.T) {
	vehicles := []realtime.VehicleRecord{
		{TripID: "a", Route: "60", DelaySeconds: intPtr(120)},
		{TripID: "b", Route: "60"},
		{TripID: "c", DelaySeconds: intPtr(30)},
		{TripID: "d", Route: "61", DelaySeconds: intPtr(-40)},
	}
	got := ObservationsFromVehicles(vehicles)
	assert.Equal(t, []DelayObservation{
		{Route: "60", DelaySeconds: 120},
		{Route: "61", DelaySeconds: -40},
	}, got)
}

func TestUpdateDelayStatsAccumulates(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 20, 0, 0, time.UTC)

	require.NoError(t, database.UpdateDelayStats(ctx, []DelayObservation{
		{Route: "60", DelaySeconds: 60},
		{Route: "60", DelaySeconds: 600},
		{Route: "61", DelaySeconds: -30},
	}, now))
	require.NoError(t, database.UpdateDelayStats(ctx, []DelayObservation{
		{Route: "60", DelaySeconds: 0},
	}, now.Add(10*time.Minute)))

	stats, err := database.HourlyDelayStats(ctx, "60", 2, now)
	require.NoError(t, err)
	require.Len(t, stats, 1)

	s := stats[0]
	assert.Equal(t, "2026-03-02T10:00:00Z", s.HourBucket)
	assert.Equal(t, 3, s.ObservationCount)
	assert.InDelta(t, 220.0, s.MeanDelaySeconds, 1e-9)
	assert.Equal(t, 1, s.DelayedCount)
	assert.Equal(t, 2, s.OnTimeCount)
	assert.Equal(t, 600, s.MaxDelaySeconds)
	assert.InDelta(t, 2.0/3.0*100, s.OnTimePercent(), 1e-9)
	assert.Greater(t, s.StdDevSeconds, 0.0)

	all, err := database.HourlyDelayStats(ctx, "", 2, now)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateDelayStatsSkipsEmpty(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, database.UpdateDelayStats(context.Background(), nil, time.Now()))
	require.NoError(t, database.UpdateDelayStats(context.Background(), []DelayObservation{{DelaySeconds: 10}}, time.Now()))
	assert.Equal(t, 0, count(t, database, "stats_delay_hourly"))
}

func TestCleanup(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, database.UpdateDelayStats(ctx, []DelayObservation{{Route: "60", DelaySeconds: 10}}, now.Add(-72*time.Hour)))
	require.NoError(t, database.UpdateDelayStats(ctx, []DelayObservation{{Route: "60", DelaySeconds: 10}}, now))

	deleted, err := database.Cleanup(ctx, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 1, count(t, database, "stats_delay_hourly"))
}

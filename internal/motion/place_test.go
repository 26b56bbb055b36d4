package motion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-transit-live/server/internal/geo"
	"github.com/mini-transit-live/server/internal/realtime"
	"github.com/mini-transit-live/server/internal/schedule"
)

var straight = []geo.Point{pt(0, 0), pt(0, 0.01), pt(0, 0.02), pt(0, 0.03)}

func live(trip string, lat, lng float64) realtime.VehicleRecord {
	return realtime.VehicleRecord{TripID: trip, Route: "66", Latitude: &lat, Longitude: &lng}
}

func at(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return time.Date(2024, 5, 1, t.Hour(), t.Minute(), 0, 0, time.UTC)
}

func TestPlace_Live(t *testing.T) {
	plan, err := Place(live("T1", 0.0001, 0.015), straight, nil, at("10:00"), 0)
	require.NoError(t, err)

	assert.Equal(t, SourceLive, plan.Source)
	assert.InDelta(t, 1.5, plan.Index, 1e-6)
	assert.InDelta(t, 0, plan.Position.Lat, 1e-12)
	require.NotNil(t, plan.RawPosition)
	assert.Equal(t, 0.0001, plan.RawPosition.Lat)
	assert.InDelta(t, 90, plan.Bearing, 1e-6)
	assert.False(t, plan.Finished)

	require.Len(t, plan.Remaining, 3)
	half := geo.Distance(pt(0, 0.015), pt(0, 0.02)) / 1000 / DefaultCruiseSpeed
	assert.InDelta(t, half, *plan.Remaining[1].DurationFromPrevMs, 1e-3)
	assert.InDelta(t, 3*half, plan.TotalDurationMs, 1e-3)
}

func TestPlace_Finished(t *testing.T) {
	plan, err := Place(live("T1", 0, 0.031), straight, nil, at("10:00"), 0)
	require.NoError(t, err)
	assert.True(t, plan.Finished)
	assert.Len(t, plan.Remaining, 1)
	assert.Zero(t, plan.TotalDurationMs)
}

func TestPlace_ScheduledPosition(t *testing.T) {
	stops := []schedule.StopTime{
		stop(1, 0, 0, "10:00:00", "10:00:00"),
		stop(2, 0, 0.015, "10:02:00", "10:02:00"),
		stop(3, 0, 0.03, "10:04:00", "10:04:00"),
	}
	noFix := realtime.VehicleRecord{TripID: "T1", Route: "66"}

	tests := []struct {
		now string
		lng float64
	}{
		{"09:00", 0},
		{"10:00", 0},
		{"10:03", 0.015},
		{"11:00", 0.03},
	}
	for _, tc := range tests {
		t.Run(tc.now, func(t *testing.T) {
			plan, err := Place(noFix, straight, stops, at(tc.now), 0)
			require.NoError(t, err)
			assert.Equal(t, SourceSchedule, plan.Source)
			assert.Nil(t, plan.RawPosition)
			assert.InDelta(t, tc.lng, plan.Position.Lng, 1e-9)
		})
	}
}

func TestScheduledPosition_AfterMidnight(t *testing.T) {
	ws := []Waypoint{
		stopWaypoint(stop(1, 0, 0, "24:10:00", "24:10:00")),
		stopWaypoint(stop(2, 0, 0.01, "24:20:00", "24:20:00")),
	}
	p, ok := ScheduledPosition(ws, at("00:15"))
	require.True(t, ok)
	assert.Equal(t, 0.0, p.Lng)

	p, ok = ScheduledPosition(ws, at("00:25"))
	require.True(t, ok)
	assert.Equal(t, 0.01, p.Lng)
}

func TestPlace_Errors(t *testing.T) {
	_, err := Place(live("T1", 0, 0), nil, nil, at("10:00"), 0)
	assert.ErrorIs(t, err, ErrEmptyShape)

	_, err = Place(realtime.VehicleRecord{TripID: "T1"}, straight, nil, at("10:00"), 0)
	assert.ErrorIs(t, err, ErrNoPosition)
}

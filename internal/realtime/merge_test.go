package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int { return &v }
func u32(v uint32) *uint32 { return &v }

func position(trip, route string, lat, lng float64) PositionUpdate {
	return PositionUpdate{
		EntityID:  "e-" + trip,
		TripID:    trip,
		RouteID:   route,
		Latitude:  f64(lat),
		Longitude: f64(lng),
	}
}

func delay(trip string, seq uint32, arrival, departure *int) DelayUpdate {
	return DelayUpdate{
		EntityID: "d-" + trip,
		TripID:   trip,
		StopTimeUpdates: []StopTimeUpdate{
			{StopSequence: u32(seq), ArrivalDelay: arrival, DepartureDelay: departure},
		},
	}
}

func TestRouteCode(t *testing.T) {
	tests := []struct {
		routeID  string
		expected string
	}{
		{"66-1234", "66"},
		{"P137-4421-abc", "P137"},
		{"BCC", "BCC"},
		{"", ""},
		{"-x", ""},
	}

	for _, tc := range tests {
		t.Run(tc.routeID, func(t *testing.T) {
			assert.Equal(t, tc.expected, RouteCode(tc.routeID))
		})
	}
}

func TestRoundCoordinate(t *testing.T) {
	assert.Equal(t, 153.02515, RoundCoordinate(153.025149))
	assert.Equal(t, 153.02514, RoundCoordinate(153.025144))
	assert.Equal(t, -27.46977, RoundCoordinate(-27.469771))
}

func TestMerge_PositionAndDelay(t *testing.T) {
	m := NewMerger(MergeOptions{})
	out := m.Merge(
		[]PositionUpdate{position("T1", "66-1234", -27.4697712, 153.0251491)},
		[]DelayUpdate{delay("T1", 3, intp(120), intp(90))},
	)

	require.Len(t, out, 1)
	v := out[0]
	assert.Equal(t, "e-T1", v.ID)
	assert.Equal(t, "T1", v.TripID)
	assert.Equal(t, "66-1234", v.RouteID)
	assert.Equal(t, "66", v.Route)
	assert.Equal(t, -27.46977, *v.Latitude)
	assert.Equal(t, 153.02515, *v.Longitude)
	require.NotNil(t, v.DelaySeconds)
	assert.Equal(t, 120, *v.DelaySeconds)
}

func TestMerge_DepartureDelayFallback(t *testing.T) {
	m := NewMerger(MergeOptions{})
	out := m.Merge(
		[]PositionUpdate{position("T1", "66", -27.4, 153.0)},
		[]DelayUpdate{delay("T1", 2, nil, intp(-30))},
	)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].DelaySeconds)
	assert.Equal(t, -30, *out[0].DelaySeconds)
}

func TestMerge_FirstStopSuppressesDelay(t *testing.T) {
	m := NewMerger(MergeOptions{})
	for _, seq := range []uint32{0, 1} {
		out := m.Merge(
			[]PositionUpdate{position("T1", "66", -27.4, 153.0)},
			[]DelayUpdate{delay("T1", seq, intp(300), nil)},
		)
		require.Len(t, out, 1)
		assert.Nil(t, out[0].DelaySeconds, "stop sequence %d", seq)
	}
}

func TestMerge_NoStopTimeUpdates(t *testing.T) {
	m := NewMerger(MergeOptions{})
	out := m.Merge(
		[]PositionUpdate{position("T1", "66", -27.4, 153.0)},
		[]DelayUpdate{{TripID: "T1"}},
	)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].DelaySeconds)
}

func TestMerge_DropsIncompleteRecords(t *testing.T) {
	m := NewMerger(MergeOptions{})
	noFix := PositionUpdate{EntityID: "e", TripID: "T2", RouteID: "66"}
	noTrip := position("", "66", -27.4, 153.0)

	out := m.Merge(
		[]PositionUpdate{noFix, noTrip},
		[]DelayUpdate{delay("T3", 4, intp(60), nil)},
	)
	assert.Empty(t, out)
}

func TestMerge_SeedFromTripUpdates(t *testing.T) {
	m := NewMerger(MergeOptions{SeedFromTripUpdates: true})
	d := delay("T3", 4, intp(60), nil)
	d.RouteID = "200-99"

	out := m.Merge(
		[]PositionUpdate{position("T1", "66", -27.4, 153.0)},
		[]DelayUpdate{d, delay("T1", 5, intp(45), nil)},
	)
	require.Len(t, out, 2)

	byTrip := m.MergeMap(
		[]PositionUpdate{position("T1", "66", -27.4, 153.0)},
		[]DelayUpdate{d, delay("T1", 5, intp(45), nil)},
	)
	seeded := byTrip["T3"]
	assert.Equal(t, "200", seeded.Route)
	assert.Nil(t, seeded.Latitude)
	assert.Equal(t, 60, *seeded.DelaySeconds)

	overlaid := byTrip["T1"]
	assert.Equal(t, "e-T1", overlaid.ID)
	assert.Equal(t, 45, *overlaid.DelaySeconds)
	assert.Equal(t, -27.4, *overlaid.Latitude)
}

func TestMerge_Idempotent(t *testing.T) {
	m := NewMerger(MergeOptions{})
	positions := []PositionUpdate{
		position("T1", "66-1", -27.41, 153.01),
		position("T2", "60-2", -27.42, 153.02),
	}
	delays := []DelayUpdate{delay("T2", 7, intp(240), nil)}

	first := m.Merge(positions, delays)
	second := m.Merge(positions, delays)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"T1", "T2"}, []string{first[0].TripID, first[1].TripID})
}

func TestMerge_LaterPositionWins(t *testing.T) {
	m := NewMerger(MergeOptions{})
	out := m.Merge([]PositionUpdate{
		position("T1", "66", -27.40, 153.00),
		position("T1", "66", -27.50, 153.10),
	}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, -27.5, *out[0].Latitude)
	assert.Equal(t, 153.1, *out[0].Longitude)
}

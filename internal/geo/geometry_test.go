package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine(t *testing.T) {
	// one degree of latitude is ~111.19 km
	d := Haversine(0, 0, 1, 0)
	assert.InDelta(t, 111195, d, 10)
	assert.Equal(t, 0.0, Haversine(-27.4698, 153.0251, -27.4698, 153.0251))
}

func TestBearing(t *testing.T) {
	tests := []struct {
		name     string
		to       Point
		expected float64
	}{
		{"north", Point{Lat: 1, Lng: 0}, 0},
		{"east", Point{Lat: 0, Lng: 1}, 90},
		{"south", Point{Lat: -1, Lng: 0}, 180},
		{"west", Point{Lat: 0, Lng: -1}, 270},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Bearing(Point{}, tc.to)
			if math.Abs(got-tc.expected) > 1e-6 {
				t.Errorf("Bearing(origin, %v) = %v, expected %v", tc.to, got, tc.expected)
			}
		})
	}
}

func TestCumulativeDistances(t *testing.T) {
	pts := []Point{{0, 0}, {0, 0.001}, {0, 0.003}}
	cum := CumulativeDistances(pts)
	require.Len(t, cum, 3)
	assert.Equal(t, 0.0, cum[0])
	assert.InDelta(t, cum[1]*3, cum[2], 1e-6)
	assert.InDelta(t, LineLength(pts), cum[2], 1e-9)
	assert.Nil(t, CumulativeDistances(nil))
}

func TestNearestOnLine(t *testing.T) {
	line := []Point{{0, 0}, {0, 0.01}, {0.01, 0.01}}

	proj, ok := NearestOnLine(line, nil, Point{Lat: 0.001, Lng: 0.005}, 0)
	require.True(t, ok)
	assert.Equal(t, 0, proj.Segment)
	assert.InDelta(t, 0.5, proj.T, 1e-6)
	assert.InDelta(t, 0.005, proj.Point.Lng, 1e-9)
	assert.InDelta(t, 0.0, proj.Point.Lat, 1e-9)
	assert.InDelta(t, 111.19, proj.Offset, 0.5)
	assert.InDelta(t, Distance(line[0], proj.Point), proj.Along, 0.01)
	assert.InDelta(t, 0.5, proj.FractionalIndex(), 1e-6)

	// restricted search ignores earlier segments
	proj, ok = NearestOnLine(line, nil, Point{Lat: 0.001, Lng: 0.005}, 1)
	require.True(t, ok)
	assert.Equal(t, 1, proj.Segment)
	assert.InDelta(t, 0.1, proj.T, 1e-3)
}

func TestNearestOnLine_Degenerate(t *testing.T) {
	_, ok := NearestOnLine(nil, nil, Point{}, 0)
	assert.False(t, ok)

	proj, ok := NearestOnLine([]Point{{1, 1}}, nil, Point{Lat: 1, Lng: 1}, 0)
	require.True(t, ok)
	assert.Equal(t, Point{Lat: 1, Lng: 1}, proj.Point)
}

func TestClampAndValid(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(3, 0, 1))
	assert.Equal(t, 0.0, Clamp(-3, 0, 1))
	assert.Equal(t, 0.5, Clamp(0.5, 0, 1))

	assert.False(t, IsValid(Point{}))
	assert.False(t, IsValid(Point{Lat: 91, Lng: 0}))
	assert.True(t, IsValid(Point{Lat: -27.47, Lng: 153.02}))
}

package motion

import (
	"errors"
	"time"

	"github.com/mini-transit-live/server/internal/geo"
)

var (
	// ErrNoPosition means the vehicle has no live fix and no scheduled stop to fall back on
	ErrNoPosition = errors.New("vehicle has no live or scheduled position")
	// ErrEmptyShape means there is neither a shape nor stop times to move along
	ErrEmptyShape = errors.New("trip has no shape or stop times")
)

// DefaultCruiseSpeed is 30 km/h expressed in km per millisecond
const DefaultCruiseSpeed = 30.0 / 3_600_000

// Position sources
const (
	SourceLive     = "live"
	SourceSchedule = "schedule"
)

// Waypoint is one point of the augmented path: a shape vertex or a stop
type Waypoint struct {
	Lat                float64  `json:"latitude"`
	Lng                float64  `json:"longitude"`
	IsStop             bool     `json:"isStop"`
	ArrivalTime        *string  `json:"arrivalTime,omitempty"`
	DepartureTime      *string  `json:"departureTime,omitempty"`
	SpeedKmPerMs       *float64 `json:"speedKmPerMs,omitempty"`
	DurationFromPrevMs *float64 `json:"durationFromPrevMs,omitempty"`
}

// Point returns the waypoint coordinates
func (w Waypoint) Point() geo.Point {
	return geo.Point{Lat: w.Lat, Lng: w.Lng}
}

// Plan tells a client where a vehicle is and how to animate it to the end of its trip
type Plan struct {
	TripID          string     `json:"tripId"`
	Route           string     `json:"route"`
	Source          string     `json:"source"`
	Position        geo.Point  `json:"position"`
	RawPosition     *geo.Point `json:"rawPosition,omitempty"`
	Bearing         float64    `json:"bearing"`
	Index           float64    `json:"index"`
	FromStartM      float64    `json:"distanceFromStartM"`
	ToEndM          float64    `json:"distanceToEndM"`
	OffsetM         float64    `json:"offsetM"`
	Scale           float64    `json:"durationScale"`
	Frozen          bool       `json:"frozen"`
	Finished        bool       `json:"finished"`
	TotalDurationMs float64    `json:"totalDurationMs"`
	Remaining       []Waypoint `json:"remaining"`
	Waypoints       []Waypoint `json:"waypoints"`
	GeneratedAt     time.Time  `json:"generatedAt"`
}

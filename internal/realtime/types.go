package realtime

import (
	"fmt"
	"time"

	"github.com/mini-transit-live/server/internal/geo"
)

// PositionUpdate is a vehicle position entity from the feed.
// Latitude/Longitude are nil when the vehicle reports no GPS fix.
type PositionUpdate struct {
	EntityID  string
	VehicleID string
	TripID    string
	RouteID   string
	Latitude  *float64
	Longitude *float64
}

// StopTimeUpdate carries the fields of a trip update stop event the merge needs
type StopTimeUpdate struct {
	StopSequence   *uint32
	ArrivalDelay   *int
	DepartureDelay *int
}

// DelayUpdate is a trip update entity from the feed
type DelayUpdate struct {
	EntityID        string
	TripID          string
	RouteID         string
	StopTimeUpdates []StopTimeUpdate
}

// Batch is one decoded upstream read
type Batch struct {
	Timestamp time.Time
	Positions []PositionUpdate
	Delays    []DelayUpdate
}

// VehicleRecord is the merged view of one actively reporting trip
type VehicleRecord struct {
	ID           string   `json:"id"`
	TripID       string   `json:"tripId"`
	RouteID      string   `json:"routeId"`
	Route        string   `json:"route"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	DelaySeconds *int     `json:"delaySeconds,omitempty"`
}

// Position returns the rounded coordinates when both are known
func (v VehicleRecord) Position() (geo.Point, bool) {
	if v.Latitude == nil || v.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *v.Latitude, Lng: *v.Longitude}, true
}

// RouteName is the short route code used for allow-list filtering
func (v VehicleRecord) RouteName() string {
	return v.Route
}

// Snapshot is one published refresh. It is never mutated after publication.
type Snapshot struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Vehicles  []VehicleRecord `json:"vehicles"`
}

// FetchError reports a transport or decode failure of the upstream feed
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("feed fetch failed: %v", e.Cause)
	}
	return fmt.Sprintf("feed fetch failed for %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

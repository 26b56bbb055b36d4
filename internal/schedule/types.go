package schedule

import (
	"context"
	"errors"

	"github.com/mini-transit-live/server/internal/geo"
	"github.com/mini-transit-live/server/internal/realtime"
)

// ErrNotFound is returned when a trip has no schedule row
var ErrNotFound = errors.New("trip not found in schedule")

// TripRow is a trip joined to its route
type TripRow struct {
	TripID         string
	ShapeID        string
	RouteShortName string
	DirectionID    *int
	RouteType      *int
}

// StopTimeRow is a stop time joined to its stop
type StopTimeRow struct {
	TripID        string
	StopSequence  int
	ArrivalTime   string // HH:MM:SS, may exceed 24:00:00
	DepartureTime string
	StopLat       float64
	StopLon       float64
}

// BoardRow is one scheduled trip between a from stop and one of the to stops
type BoardRow struct {
	TripID         string
	RouteShortName string
	DepartureTime  string
	StopName       string
	ArrivalTime    string
}

// ShapePoint is one vertex of a shape polyline
type ShapePoint struct {
	ShapeID  string
	Sequence int
	Lat      float64
	Lon      float64
}

// Store is the read-only schedule query surface
type Store interface {
	TripsByIDs(ctx context.Context, tripIDs []string) ([]TripRow, error)
	StopTimesByTripIDs(ctx context.Context, tripIDs []string) ([]StopTimeRow, error)
	TripsBetweenStops(ctx context.Context, fromCode string, toCodes []string) ([]BoardRow, error)
	ShapePoints(ctx context.Context, shapeIDs []string) ([]ShapePoint, error)
	Ping(ctx context.Context) error
}

// StoreMetrics counts store failures that were degraded around
type StoreMetrics interface {
	StoreError(op string)
}

// Route type names
const (
	RouteTypeTram  = "tram"
	RouteTypeRail  = "rail"
	RouteTypeBus   = "bus"
	RouteTypeFerry = "ferry"

	// DefaultRouteType is used for unplanned trips and when the store is down
	DefaultRouteType = RouteTypeBus
)

// Direction names
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

var routeTypeLookup = map[int]string{
	0: RouteTypeTram,
	2: RouteTypeRail,
	3: RouteTypeBus,
	4: RouteTypeFerry,
}

var directionLookup = map[int]string{
	0: DirectionInbound,
	1: DirectionOutbound,
}

// RouteTypeName maps a GTFS route_type code to a display name
func RouteTypeName(code *int) string {
	if code == nil {
		return DefaultRouteType
	}
	if name, ok := routeTypeLookup[*code]; ok {
		return name
	}
	return DefaultRouteType
}

// DirectionName maps a GTFS direction_id, "" when unknown
func DirectionName(id *int) string {
	if id == nil {
		return ""
	}
	return directionLookup[*id]
}

// StopTime is a scheduled stop attached to a vehicle
type StopTime struct {
	StopSequence  int     `json:"stopSequence"`
	ArrivalTime   string  `json:"arrivalTime"`
	DepartureTime string  `json:"departureTime"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
}

// Vehicle is a merged real-time record joined with its schedule metadata
type Vehicle struct {
	realtime.VehicleRecord
	RouteType string      `json:"routeType"`
	Direction string      `json:"direction,omitempty"`
	ShapeID   string      `json:"shapeId,omitempty"`
	Shape     []geo.Point `json:"shape,omitempty"`
	StopTimes []StopTime  `json:"stopTimes,omitempty"`
}

// TripDetails is everything the schedule knows about one trip
type TripDetails struct {
	Trip      TripRow
	Shape     []geo.Point
	StopTimes []StopTime
}

package models

import (
	"errors"
	"time"

	"github.com/mini-transit-live/server/internal/schedule"
)

// Vehicle is one marker on the map: a live trip joined with its schedule metadata
type Vehicle struct {
	ID           string   `json:"id"`
	TripID       string   `json:"tripId"`
	Route        string   `json:"route"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	RouteType    string   `json:"routeType"`
	Direction    string   `json:"direction,omitempty"`
	DelaySeconds *int     `json:"delaySeconds,omitempty"`
}

// Validate checks the invariants of a vehicle before it is served
func (v *Vehicle) Validate() error {
	if v.TripID == "" {
		return errors.New("tripId is required")
	}
	if (v.Latitude == nil) != (v.Longitude == nil) {
		return errors.New("latitude and longitude must be set together")
	}
	if v.Latitude != nil && (*v.Latitude < -90 || *v.Latitude > 90) {
		return errors.New("latitude out of range: must be between -90 and 90")
	}
	if v.Longitude != nil && (*v.Longitude < -180 || *v.Longitude > 180) {
		return errors.New("longitude out of range: must be between -180 and 180")
	}
	if v.RouteType == "" {
		return errors.New("routeType is required")
	}
	return nil
}

// NewVehicle flattens a joined vehicle into its API form
func NewVehicle(v schedule.Vehicle) Vehicle {
	return Vehicle{
		ID:           v.ID,
		TripID:       v.TripID,
		Route:        v.Route,
		Latitude:     v.Latitude,
		Longitude:    v.Longitude,
		RouteType:    v.RouteType,
		Direction:    v.Direction,
		DelaySeconds: v.DelaySeconds,
	}
}

// VehiclesResponse is the JSON response for GET /api/vehicles
type VehiclesResponse struct {
	Vehicles      []Vehicle `json:"vehicles"`
	Count         int       `json:"count"`
	SnapshotID    string    `json:"snapshotId"`
	FeedTimestamp time.Time `json:"feedTimestamp"`
	Stale         bool      `json:"stale,omitempty"`
}

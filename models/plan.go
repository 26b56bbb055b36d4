package models

import (
	"github.com/mini-transit-live/server/internal/motion"
)

// PlanResponse is the JSON response for GET /api/vehicles/{tripId}/plan
type PlanResponse struct {
	*motion.Plan
	RouteType  string `json:"routeType"`
	Direction  string `json:"direction,omitempty"`
	SnapshotID string `json:"snapshotId"`
}

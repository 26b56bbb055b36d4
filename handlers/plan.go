package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mini-transit-live/server/internal/geo"
	"github.com/mini-transit-live/server/internal/motion"
	"github.com/mini-transit-live/server/internal/realtime"
	"github.com/mini-transit-live/server/internal/schedule"
	"github.com/mini-transit-live/server/models"
)

// TripSource loads the schedule of one trip
type TripSource interface {
	Trip(ctx context.Context, tripID string) (*schedule.TripDetails, error)
}

// PlanTracker places a vehicle on its path and re-anchors it between reports
type PlanTracker interface {
	Update(v realtime.VehicleRecord, shape []geo.Point, stops []schedule.StopTime, observedAt, now time.Time) (*motion.Plan, error)
}

// PlanHandler serves animation plans for single vehicles
type PlanHandler struct {
	feed    SnapshotSource
	trips   TripSource
	tracker PlanTracker
	loc     *time.Location
	now     func() time.Time
}

// NewPlanHandler creates a handler; loc is the service-day time zone
func NewPlanHandler(feed SnapshotSource, trips TripSource, tracker PlanTracker, loc *time.Location) *PlanHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &PlanHandler{feed: feed, trips: trips, tracker: tracker, loc: loc, now: time.Now}
}

// GetPlan handles GET /api/vehicles/{tripId}/plan
func (h *PlanHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")
	if tripID == "" {
		writeError(w, http.StatusBadRequest, "tripId parameter is required", nil)
		return
	}

	snap, stale := currentSnapshot(w, r, h.feed)
	if snap == nil {
		return
	}

	// a trip missing from the snapshot is placed from its schedule alone
	vehicle := realtime.VehicleRecord{TripID: tripID}
	for _, v := range snap.Vehicles {
		if v.TripID == tripID {
			vehicle = v
			break
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	details, err := h.trips.Trip(ctx, tripID)
	if errors.Is(err, schedule.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Trip not found", map[string]interface{}{"tripId": tripID})
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Schedule store unavailable", map[string]interface{}{"internal": err.Error()})
		return
	}
	if vehicle.Route == "" {
		vehicle.Route = details.Trip.RouteShortName
	}

	observedAt := snap.Timestamp
	if observedAt.IsZero() {
		observedAt = snap.FetchedAt
	}
	plan, err := h.tracker.Update(vehicle, details.Shape, details.StopTimes, observedAt, h.now().In(h.loc))
	switch {
	case errors.Is(err, motion.ErrEmptyShape), errors.Is(err, motion.ErrNoPosition):
		writeError(w, http.StatusUnprocessableEntity, "Vehicle cannot be placed", map[string]interface{}{
			"tripId": tripID,
			"reason": err.Error(),
		})
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to build plan", map[string]interface{}{"internal": err.Error()})
		return
	}

	setSnapshotHeaders(w, snap, stale)
	writeJSON(w, http.StatusOK, models.PlanResponse{
		Plan:       plan,
		RouteType:  schedule.RouteTypeName(details.Trip.RouteType),
		Direction:  schedule.DirectionName(details.Trip.DirectionID),
		SnapshotID: snap.ID,
	})
}

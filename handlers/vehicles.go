package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/mini-transit-live/server/internal/geo"
	"github.com/mini-transit-live/server/internal/logger"
	"github.com/mini-transit-live/server/internal/realtime"
	"github.com/mini-transit-live/server/internal/schedule"
	"github.com/mini-transit-live/server/models"
)

// ScheduleJoiner attaches schedule metadata to live vehicles
type ScheduleJoiner interface {
	Join(ctx context.Context, vehicles []realtime.VehicleRecord) []schedule.Vehicle
	Enriches(routeCount int) bool
	Enrich(ctx context.Context, vehicles []schedule.Vehicle, routeCount int) []schedule.Vehicle
}

// VehicleHandler handles the map views of the live feed
type VehicleHandler struct {
	feed   SnapshotSource
	joiner ScheduleJoiner
	log    logger.Logger
}

// NewVehicleHandler creates a new handler
func NewVehicleHandler(feed SnapshotSource, joiner ScheduleJoiner, log logger.Logger) *VehicleHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &VehicleHandler{feed: feed, joiner: joiner, log: log}
}

// parseBounds reads the four corners, reporting which ones are missing or invalid
func parseBounds(r *http.Request) (geo.Bounds, map[string]interface{}) {
	q := r.URL.Query()
	names := []string{"neLat", "neLng", "swLat", "swLng"}
	values := make([]float64, len(names))
	problems := map[string]interface{}{}

	for i, name := range names {
		raw := q.Get(name)
		if raw == "" {
			problems[name] = "required"
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			problems[name] = "must be a number"
			continue
		}
		values[i] = v
	}
	if len(problems) > 0 {
		return geo.Bounds{}, problems
	}
	return geo.NewBounds(values[0], values[1], values[2], values[3]), nil
}

// GetVehicles handles GET /api/vehicles
// Query params: neLat, neLng, swLat, swLng (required), routes (optional, comma separated)
func (h *VehicleHandler) GetVehicles(w http.ResponseWriter, r *http.Request) {
	bounds, problems := parseBounds(r)
	if problems != nil {
		writeError(w, http.StatusBadRequest, "Invalid bounding box", problems)
		return
	}
	routes := geo.ParseRoutes(r.URL.Query().Get("routes"))

	snap, stale := currentSnapshot(w, r, h.feed)
	if snap == nil {
		return
	}

	selected := geo.FilterByRoutes(snap.Vehicles, routes)
	selected = geo.FilterByBounds(selected, bounds)
	joined := h.joiner.Join(r.Context(), selected)

	vehicles := make([]models.Vehicle, 0, len(joined))
	for _, v := range joined {
		vehicle := models.NewVehicle(v)
		if err := vehicle.Validate(); err != nil {
			h.log.Warn("skipping invalid vehicle", "trip_id", v.TripID, "error", err)
			continue
		}
		vehicles = append(vehicles, vehicle)
	}

	setSnapshotHeaders(w, snap, stale)
	writeJSON(w, http.StatusOK, models.VehiclesResponse{
		Vehicles:      vehicles,
		Count:         len(vehicles),
		SnapshotID:    snap.ID,
		FeedTimestamp: snap.Timestamp,
		Stale:         stale,
	})
}

// GetFeed handles the legacy GET /feed
// Query params: routes (optional), h and m (optional client clock).
// With 1..MaxRouteCount routes the vehicles carry shapes and stop times, and
// h/m drop schedule-only vehicles outside their service window. Any failure
// yields an empty array.
func (h *VehicleHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	routes := geo.ParseRoutes(q.Get("routes"))

	snap, err := h.feed.Get(r.Context())
	if snap == nil {
		h.log.Warn("legacy feed request without snapshot", "error", err)
		writeJSON(w, http.StatusOK, []schedule.Vehicle{})
		return
	}

	selected := geo.FilterByRoutes(snap.Vehicles, routes)
	vehicles := h.joiner.Join(r.Context(), selected)

	if h.joiner.Enriches(len(routes)) {
		vehicles = h.joiner.Enrich(r.Context(), vehicles, len(routes))
		if q.Get("h") != "" && q.Get("m") != "" {
			if minutes, err := schedule.ClientMinutes(q.Get("h"), q.Get("m")); err == nil {
				vehicles = schedule.FilterByClientTime(vehicles, minutes)
			}
		}
	}
	if vehicles == nil {
		vehicles = []schedule.Vehicle{}
	}

	setSnapshotHeaders(w, snap, err != nil)
	writeJSON(w, http.StatusOK, vehicles)
}

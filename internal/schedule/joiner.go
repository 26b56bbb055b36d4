package schedule

import (
	"context"
	"sort"

	"github.com/mini-transit-live/server/internal/logger"
	"github.com/mini-transit-live/server/internal/realtime"
)

// DefaultMaxRouteCount caps how many routes may request geometry in one call
const DefaultMaxRouteCount = 10

// JoinerOptions configures a Joiner
type JoinerOptions struct {
	MaxRouteCount int
	Shapes        *ShapeCache
	Metrics       StoreMetrics
	Logger        logger.Logger
}

// Joiner enriches real-time vehicles with schedule metadata. Store failures
// are logged and degrade the result; they never fail the caller.
type Joiner struct {
	store     Store
	shapes    *ShapeCache
	maxRoutes int
	metrics   StoreMetrics
	log       logger.Logger
}

func NewJoiner(store Store, opts JoinerOptions) *Joiner {
	if opts.MaxRouteCount <= 0 {
		opts.MaxRouteCount = DefaultMaxRouteCount
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Shapes == nil && store != nil {
		opts.Shapes = NewShapeCache(store, 0)
	}
	return &Joiner{
		store:     store,
		shapes:    opts.Shapes,
		maxRoutes: opts.MaxRouteCount,
		metrics:   opts.Metrics,
		log:       opts.Logger.With("schedule-joiner"),
	}
}

// Join attaches route name, direction, route type and shape id to every vehicle.
// Vehicles without a schedule row keep their feed route and the default route type.
func (j *Joiner) Join(ctx context.Context, vehicles []realtime.VehicleRecord) []Vehicle {
	out := make([]Vehicle, len(vehicles))
	for i, v := range vehicles {
		out[i] = Vehicle{VehicleRecord: v, RouteType: DefaultRouteType}
	}
	if len(vehicles) == 0 || j.store == nil {
		return out
	}

	rows, err := j.store.TripsByIDs(ctx, tripIDs(vehicles))
	if err != nil {
		j.storeFailed("trips_by_ids", err)
		return out
	}

	byTrip := make(map[string]TripRow, len(rows))
	for _, r := range rows {
		byTrip[r.TripID] = r
	}

	for i := range out {
		row, ok := byTrip[out[i].TripID]
		if !ok {
			continue
		}
		if row.RouteShortName != "" {
			out[i].Route = row.RouteShortName
		}
		out[i].RouteType = RouteTypeName(row.RouteType)
		out[i].Direction = DirectionName(row.DirectionID)
		out[i].ShapeID = row.ShapeID
	}
	return out
}

// Enriches reports whether a request filtered to routeCount routes gets geometry
func (j *Joiner) Enriches(routeCount int) bool {
	return routeCount >= 1 && routeCount <= j.maxRoutes
}

// Enrich attaches shape polylines and stop times when 1 <= routeCount <= max.
// Larger or unfiltered requests are returned unchanged.
func (j *Joiner) Enrich(ctx context.Context, vehicles []Vehicle, routeCount int) []Vehicle {
	if !j.Enriches(routeCount) || len(vehicles) == 0 || j.store == nil {
		return vehicles
	}

	seen := make(map[string]bool)
	var shapeIDs []string
	for _, v := range vehicles {
		if v.ShapeID != "" && !seen[v.ShapeID] {
			seen[v.ShapeID] = true
			shapeIDs = append(shapeIDs, v.ShapeID)
		}
	}
	if len(shapeIDs) > 0 {
		lines, err := j.shapes.Lines(ctx, shapeIDs)
		if err != nil {
			j.storeFailed("shape_points", err)
		}
		for i := range vehicles {
			vehicles[i].Shape = lines[vehicles[i].ShapeID]
		}
	}

	ids := make([]string, len(vehicles))
	for i, v := range vehicles {
		ids[i] = v.TripID
	}
	rows, err := j.store.StopTimesByTripIDs(ctx, ids)
	if err != nil {
		j.storeFailed("stop_times_by_trip_ids", err)
		return vehicles
	}
	grouped := groupStopTimes(rows)
	for i := range vehicles {
		vehicles[i].StopTimes = grouped[vehicles[i].TripID]
	}
	return vehicles
}

// Trip loads the schedule row, shape and stop times of one trip.
// It returns ErrNotFound when the trip has no schedule row.
func (j *Joiner) Trip(ctx context.Context, tripID string) (*TripDetails, error) {
	if j.store == nil {
		return nil, ErrNotFound
	}
	rows, err := j.store.TripsByIDs(ctx, []string{tripID})
	if err != nil {
		j.storeFailed("trips_by_ids", err)
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	details := &TripDetails{Trip: rows[0]}
	if details.Trip.ShapeID != "" {
		lines, err := j.shapes.Lines(ctx, []string{details.Trip.ShapeID})
		if err != nil {
			j.storeFailed("shape_points", err)
		}
		details.Shape = lines[details.Trip.ShapeID]
	}

	stops, err := j.store.StopTimesByTripIDs(ctx, []string{tripID})
	if err != nil {
		j.storeFailed("stop_times_by_trip_ids", err)
		return details, nil
	}
	details.StopTimes = groupStopTimes(stops)[tripID]
	return details, nil
}

// Board returns the scheduled trips from one stop to any of the given stops.
// A store failure yields no rows.
func (j *Joiner) Board(ctx context.Context, fromCode string, toCodes []string) []BoardRow {
	if j.store == nil {
		return nil
	}
	rows, err := j.store.TripsBetweenStops(ctx, fromCode, toCodes)
	if err != nil {
		j.storeFailed("trips_between_stops", err)
		return nil
	}
	return rows
}

// Ping reports whether the schedule store is reachable
func (j *Joiner) Ping(ctx context.Context) error {
	if j.store == nil {
		return ErrNotFound
	}
	return j.store.Ping(ctx)
}

func (j *Joiner) storeFailed(op string, err error) {
	if j.metrics != nil {
		j.metrics.StoreError(op)
	}
	j.log.Warn("schedule store query failed, degrading", "op", op, "error", err)
}

func tripIDs(vehicles []realtime.VehicleRecord) []string {
	ids := make([]string, len(vehicles))
	for i, v := range vehicles {
		ids[i] = v.TripID
	}
	return ids
}

func groupStopTimes(rows []StopTimeRow) map[string][]StopTime {
	sorted := make([]StopTimeRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].StopSequence < sorted[b].StopSequence
	})

	grouped := make(map[string][]StopTime)
	for _, r := range sorted {
		grouped[r.TripID] = append(grouped[r.TripID], StopTime{
			StopSequence:  r.StopSequence,
			ArrivalTime:   r.ArrivalTime,
			DepartureTime: r.DepartureTime,
			Latitude:      r.StopLat,
			Longitude:     r.StopLon,
		})
	}
	return grouped
}

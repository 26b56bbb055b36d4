package motion

import (
	"sync"
	"time"

	"github.com/mini-transit-live/server/internal/geo"
	"github.com/mini-transit-live/server/internal/logger"
	"github.com/mini-transit-live/server/internal/metrics"
	"github.com/mini-transit-live/server/internal/realtime"
	"github.com/mini-transit-live/server/internal/schedule"
)

// TrackerOptions tunes re-anchoring
type TrackerOptions struct {
	MinMovementM    float64 // below this the marker is frozen
	MaxOffsetM      float64 // further than this from the path the marker is frozen
	MinScale        float64
	MaxScale        float64
	CruiseSpeed     float64 // km/ms
	MaxSpeed        float64 // km/ms, faster observations are discarded
	MinSpeedSamples int     // observations needed before a route mean replaces cruise
}

// DefaultTrackerOptions returns the thresholds used by the server
func DefaultTrackerOptions() TrackerOptions {
	return TrackerOptions{
		MinMovementM:    5,
		MaxOffsetM:      150,
		MinScale:        0.25,
		MaxScale:        4,
		CruiseSpeed:     DefaultCruiseSpeed,
		MaxSpeed:        120.0 / 3_600_000,
		MinSpeedSamples: 5,
	}
}

type anchor struct {
	observedAt time.Time
	raw        geo.Point
	fromStartM float64
	scale      float64
	frozen     bool
}

// Tracker re-anchors vehicle plans between successive live positions and
// learns per-route speeds from the observed movement.
type Tracker struct {
	opts   TrackerOptions
	speeds *metrics.KeyedStats
	log    logger.Logger

	mu      sync.Mutex
	anchors map[string]*anchor
}

func NewTracker(opts TrackerOptions, speeds *metrics.KeyedStats, log logger.Logger) *Tracker {
	if speeds == nil {
		speeds = metrics.NewKeyedStats()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Tracker{
		opts:    opts,
		speeds:  speeds,
		log:     log.With("motion-tracker"),
		anchors: make(map[string]*anchor),
	}
}

// CruiseSpeed is the route's observed mean speed once enough samples exist
func (t *Tracker) CruiseSpeed(route string) float64 {
	if mean, ok := t.speeds.Mean(route, t.opts.MinSpeedSamples); ok && mean > 0 {
		return mean
	}
	return t.opts.CruiseSpeed
}

// Update places the vehicle and re-anchors it against its previous live
// position. observedAt is when the position was reported (the snapshot time);
// repeated calls with the same observedAt reuse the previous anchor.
func (t *Tracker) Update(v realtime.VehicleRecord, shape []geo.Point, stops []schedule.StopTime, observedAt, now time.Time) (*Plan, error) {
	plan, err := Place(v, shape, stops, now, t.CruiseSpeed(v.Route))
	if err != nil {
		return nil, err
	}
	if plan.Source != SourceLive {
		return plan, nil
	}
	raw := *plan.RawPosition

	t.mu.Lock()
	prev := t.anchors[v.TripID]
	next := &anchor{observedAt: observedAt, raw: raw, fromStartM: plan.FromStartM, scale: 1}

	switch {
	case prev != nil && !observedAt.After(prev.observedAt):
		// same report as last time
		next = prev
	case plan.OffsetM > t.opts.MaxOffsetM:
		next.frozen = true
	case prev != nil:
		advanced := plan.FromStartM - prev.fromStartM
		if advanced < t.opts.MinMovementM {
			next.frozen = true
			break
		}
		elapsedMs := float64(observedAt.Sub(prev.observedAt)) / float64(time.Millisecond)
		actual := advanced / 1000 / elapsedMs
		if actual > t.opts.MaxSpeed {
			break
		}
		t.speeds.Observe(v.Route, actual)
		if expected := expectedSpeed(plan); expected > 0 {
			next.scale = geo.Clamp(expected/actual, t.opts.MinScale, t.opts.MaxScale)
		}
	}
	t.anchors[v.TripID] = next
	t.mu.Unlock()

	switch {
	case next.frozen || plan.Finished:
		freeze(plan, raw, next.frozen)
	default:
		plan.Scale = next.scale
		scaleDurations(plan.Remaining, next.scale)
		plan.TotalDurationMs = totalDuration(plan.Remaining)
	}
	return plan, nil
}

// Forget drops the anchor of a trip
func (t *Tracker) Forget(tripID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.anchors, tripID)
}

// Prune drops anchors not updated since cutoff and returns how many were removed
func (t *Tracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for trip, a := range t.anchors {
		if a.observedAt.Before(cutoff) {
			delete(t.anchors, trip)
			removed++
		}
	}
	if removed > 0 {
		t.log.Debug("pruned stale anchors", "removed", removed)
	}
	return removed
}

// Speeds exposes the per-route speed statistics
func (t *Tracker) Speeds() map[string]metrics.WelfordState {
	return t.speeds.Snapshot()
}

// expectedSpeed is the scheduled speed of the segment the vehicle is on
func expectedSpeed(plan *Plan) float64 {
	if len(plan.Remaining) < 2 || plan.Remaining[1].SpeedKmPerMs == nil {
		return 0
	}
	return *plan.Remaining[1].SpeedKmPerMs
}

// freeze pins the marker. A frozen marker sits at the raw report; a finished
// one holds its projected end point.
func freeze(plan *Plan, raw geo.Point, frozen bool) {
	plan.Frozen = frozen
	if frozen {
		plan.Position = raw
	}
	plan.Remaining = []Waypoint{{Lat: plan.Position.Lat, Lng: plan.Position.Lng}}
	plan.TotalDurationMs = 0
	plan.Scale = 1
}

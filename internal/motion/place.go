package motion

import (
	"time"

	"github.com/mini-transit-live/server/internal/geo"
	"github.com/mini-transit-live/server/internal/realtime"
	"github.com/mini-transit-live/server/internal/schedule"
)

const secondsPerDay = 24 * 60 * 60

// Place builds the animation plan of one vehicle. now must be in the
// service-day time zone; it is only used when the vehicle has no live fix.
func Place(v realtime.VehicleRecord, shape []geo.Point, stops []schedule.StopTime, now time.Time, cruise float64) (*Plan, error) {
	waypoints := Splice(shape, stops)
	if len(waypoints) == 0 {
		return nil, ErrEmptyShape
	}
	AssignSpeeds(waypoints, cruise)

	if pos, ok := v.Position(); ok {
		return buildPlan(v, waypoints, pos, SourceLive, now), nil
	}
	pos, ok := ScheduledPosition(waypoints, now)
	if !ok {
		return nil, ErrNoPosition
	}
	return buildPlan(v, waypoints, pos, SourceSchedule, now), nil
}

// ScheduledPosition is the last stop whose departure is not after now,
// or the first stop when the trip has not started yet.
func ScheduledPosition(waypoints []Waypoint, now time.Time) (geo.Point, bool) {
	nowSec := schedule.SecondsSinceMidnight(now)
	first := -1
	found := -1
	for i, w := range waypoints {
		if !w.IsStop {
			continue
		}
		dep, ok := clockSeconds(w.DepartureTime, w.ArrivalTime)
		if !ok {
			continue
		}
		if first == -1 {
			first = i
			// trips that started after midnight of the previous service day
			if dep >= secondsPerDay && nowSec < secondsPerDay/2 {
				nowSec += secondsPerDay
			}
		}
		if dep <= nowSec {
			found = i
		}
	}
	if found == -1 {
		found = first
	}
	if found == -1 {
		return geo.Point{}, false
	}
	return waypoints[found].Point(), true
}

func buildPlan(v realtime.VehicleRecord, waypoints []Waypoint, pos geo.Point, source string, now time.Time) *Plan {
	line := make([]geo.Point, len(waypoints))
	for i, w := range waypoints {
		line[i] = w.Point()
	}
	proj, _ := Project(line, pos)

	plan := &Plan{
		TripID:      v.TripID,
		Route:       v.Route,
		Source:      source,
		Position:    proj.Point,
		Index:       proj.Index,
		FromStartM:  proj.FromStartM,
		ToEndM:      proj.ToEndM,
		OffsetM:     proj.OffsetM,
		Scale:       1,
		Waypoints:   waypoints,
		GeneratedAt: now,
	}
	if source == SourceLive {
		raw := pos
		plan.RawPosition = &raw
	}

	if proj.AtEnd(len(line)) {
		plan.Finished = true
		plan.Remaining = []Waypoint{{Lat: proj.Point.Lat, Lng: proj.Point.Lng}}
		return plan
	}

	plan.Remaining = remainingPath(waypoints, proj)
	plan.Bearing = geo.Bearing(proj.Point, waypoints[proj.Segment+1].Point())
	plan.TotalDurationMs = totalDuration(plan.Remaining)
	return plan
}

// remainingPath starts at the projected point and follows the waypoints to
// the end. Pointer fields are copied so the plan can be rescaled safely.
func remainingPath(waypoints []Waypoint, proj Projection) []Waypoint {
	rest := waypoints[proj.Segment+1:]
	out := make([]Waypoint, 0, len(rest)+1)
	out = append(out, Waypoint{Lat: proj.Point.Lat, Lng: proj.Point.Lng})

	for i, w := range rest {
		cp := w
		if w.SpeedKmPerMs != nil {
			speed := *w.SpeedKmPerMs
			cp.SpeedKmPerMs = &speed
		}
		if w.DurationFromPrevMs != nil {
			duration := *w.DurationFromPrevMs
			if i == 0 && cp.SpeedKmPerMs != nil && *cp.SpeedKmPerMs > 0 {
				duration = geo.Distance(proj.Point, w.Point()) / 1000 / *cp.SpeedKmPerMs
			}
			cp.DurationFromPrevMs = &duration
		}
		out = append(out, cp)
	}
	return out
}

func totalDuration(ws []Waypoint) float64 {
	var total float64
	for _, w := range ws {
		if w.DurationFromPrevMs != nil {
			total += *w.DurationFromPrevMs
		}
	}
	return total
}

// scaleDurations multiplies every remaining duration by scale
func scaleDurations(ws []Waypoint, scale float64) {
	for i := range ws {
		if ws[i].DurationFromPrevMs == nil {
			continue
		}
		d := *ws[i].DurationFromPrevMs * scale
		ws[i].DurationFromPrevMs = &d
	}
}

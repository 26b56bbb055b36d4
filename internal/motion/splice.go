package motion

import (
	"sort"

	"github.com/mini-transit-live/server/internal/geo"
	"github.com/mini-transit-live/server/internal/schedule"
)

// Splice inserts the stops into the shape at their projected positions.
// Stops are placed in sequence order and each search starts at the segment
// of the previous stop, so a route that doubles back keeps its stop order.
// Without a shape the stops alone form the path.
func Splice(shape []geo.Point, stops []schedule.StopTime) []Waypoint {
	ordered := make([]schedule.StopTime, len(stops))
	copy(ordered, stops)
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].StopSequence < ordered[b].StopSequence
	})

	if len(shape) == 0 {
		out := make([]Waypoint, 0, len(ordered))
		for _, st := range ordered {
			out = append(out, stopWaypoint(st))
		}
		return out
	}

	cum := geo.CumulativeDistances(shape)
	// inserts[k] holds the stops that go right before shape vertex k
	inserts := make([][]schedule.StopTime, len(shape)+1)
	fromSegment, lastInsert := 0, 0
	for _, st := range ordered {
		proj, ok := projectFrom(shape, cum, geo.Point{Lat: st.Latitude, Lng: st.Longitude}, fromSegment)
		if !ok {
			continue
		}
		at := max(proj.InsertAt, lastInsert)
		inserts[at] = append(inserts[at], st)
		fromSegment, lastInsert = proj.Segment, at
	}

	out := make([]Waypoint, 0, len(shape)+len(ordered))
	for k, pt := range shape {
		for _, st := range inserts[k] {
			out = append(out, stopWaypoint(st))
		}
		out = append(out, Waypoint{Lat: pt.Lat, Lng: pt.Lng})
	}
	for _, st := range inserts[len(shape)] {
		out = append(out, stopWaypoint(st))
	}
	return out
}

func stopWaypoint(st schedule.StopTime) Waypoint {
	w := Waypoint{Lat: st.Latitude, Lng: st.Longitude, IsStop: true}
	if st.ArrivalTime != "" {
		arr := st.ArrivalTime
		w.ArrivalTime = &arr
	}
	if st.DepartureTime != "" {
		dep := st.DepartureTime
		w.DepartureTime = &dep
	}
	return w
}

// AssignSpeeds sets SpeedKmPerMs and DurationFromPrevMs on every waypoint
// after the first. Between two stops the speed is the path distance over the
// scheduled time from departure to arrival; waypoints take the speed of the
// stop transition they lead into. Outside the stops, or when the schedule
// gives no usable time, cruise is used.
func AssignSpeeds(waypoints []Waypoint, cruise float64) {
	if cruise <= 0 {
		cruise = DefaultCruiseSpeed
	}
	n := len(waypoints)
	if n == 0 {
		return
	}

	cumKm := make([]float64, n)
	for i := 1; i < n; i++ {
		cumKm[i] = cumKm[i-1] + geo.Distance(waypoints[i-1].Point(), waypoints[i].Point())/1000
	}

	var stopIdx []int
	for i, w := range waypoints {
		if w.IsStop {
			stopIdx = append(stopIdx, i)
		}
	}

	// transition k covers waypoints stopIdx[k]+1 .. stopIdx[k+1]
	speedAt := make([]float64, n)
	for i := range speedAt {
		speedAt[i] = cruise
	}
	for k := 0; k+1 < len(stopIdx); k++ {
		from, to := stopIdx[k], stopIdx[k+1]
		speed := transitionSpeed(waypoints[from], waypoints[to], cumKm[to]-cumKm[from], cruise)
		for i := from + 1; i <= to; i++ {
			speedAt[i] = speed
		}
	}

	waypoints[0].SpeedKmPerMs = nil
	waypoints[0].DurationFromPrevMs = nil
	for i := 1; i < n; i++ {
		speed := speedAt[i]
		duration := (cumKm[i] - cumKm[i-1]) / speed
		waypoints[i].SpeedKmPerMs = &speed
		waypoints[i].DurationFromPrevMs = &duration
	}
}

func transitionSpeed(from, to Waypoint, distKm, cruise float64) float64 {
	dep, ok := clockSeconds(from.DepartureTime, from.ArrivalTime)
	if !ok || distKm <= 0 {
		return cruise
	}
	arr, ok := clockSeconds(to.ArrivalTime, to.DepartureTime)
	if !ok || arr <= dep {
		return cruise
	}
	return distKm / float64((arr-dep)*1000)
}

// clockSeconds parses the first non-nil time
func clockSeconds(times ...*string) (int, bool) {
	for _, t := range times {
		if t != nil {
			return schedule.ParseClockSeconds(*t)
		}
	}
	return 0, false
}

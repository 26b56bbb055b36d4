package schedule

// FilterByClientTime applies the legacy h/m filter. Vehicles with a live
// position are kept. Schedule-only vehicles are kept when the client minute
// falls within their first to last stop departure. Vehicles with neither
// position nor stop times are dropped.
func FilterByClientTime(vehicles []Vehicle, clientMinutes int) []Vehicle {
	out := make([]Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if _, ok := v.Position(); ok {
			out = append(out, v)
			continue
		}
		if len(v.StopTimes) == 0 {
			continue
		}
		first, ok := ParseClock(v.StopTimes[0].DepartureTime)
		if !ok {
			continue
		}
		last, ok := ParseClock(v.StopTimes[len(v.StopTimes)-1].DepartureTime)
		if !ok {
			continue
		}
		if clientMinutes >= first && clientMinutes <= last {
			out = append(out, v)
		}
	}
	return out
}

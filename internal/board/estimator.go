package board

import (
	"fmt"
	"math"
	"sort"

	"github.com/mini-transit-live/server/internal/realtime"
	"github.com/mini-transit-live/server/internal/schedule"
)

// DelayBufferMinutes is added to the worst observed delay to decide how long
// after its scheduled departure a trip stays on the board.
const DelayBufferMinutes = 2

// Entry is one trip on a from/to stop board
type Entry struct {
	Route              string  `json:"route"`
	TripID             string  `json:"tripId"`
	StopName           string  `json:"stopName"`
	ScheduledDeparture string  `json:"scheduledDeparture"`
	ScheduledArrival   string  `json:"scheduledArrival"`
	DelaySeconds       *int    `json:"delaySeconds"`
	ExpectedDeparture  *string `json:"expectedDeparture"`
	ExpectedArrival    *string `json:"expectedArrival"`
	Departed           bool    `json:"departed"`
	Excluded           bool    `json:"excluded"`
	IsEarliest         bool    `json:"isEarliest"`

	expectedArrivalMin *int
}

// Estimate builds the stop board for rows that have a live vehicle.
// nowMinutes is the service-day minute of the current time.
func Estimate(rows []schedule.BoardRow, vehicles []realtime.VehicleRecord, nowMinutes int) []Entry {
	byTrip := make(map[string]realtime.VehicleRecord, len(vehicles))
	for _, v := range vehicles {
		byTrip[v.TripID] = v
	}

	type candidate struct {
		row     schedule.BoardRow
		vehicle realtime.VehicleRecord
	}
	var candidates []candidate
	// unknown delays are not observations; with none at all the max is 0
	maxDelaySeconds, seen := 0, false
	for _, r := range rows {
		v, ok := byTrip[r.TripID]
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{row: r, vehicle: v})
		if v.DelaySeconds != nil && (!seen || *v.DelaySeconds > maxDelaySeconds) {
			maxDelaySeconds, seen = *v.DelaySeconds, true
		}
	}
	maxDelayMinutes := float64(maxDelaySeconds)/60 + DelayBufferMinutes

	entries := make([]Entry, 0, len(candidates))
	for _, c := range candidates {
		e := estimateEntry(c.row, c.vehicle, maxDelayMinutes, nowMinutes)
		if e.Excluded {
			continue
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(a, b int) bool {
		da, db := entries[a].ScheduledDeparture, entries[b].ScheduledDeparture
		if da == "" || db == "" {
			return false
		}
		return da < db
	})

	markEarliest(entries)
	return entries
}

func estimateEntry(row schedule.BoardRow, v realtime.VehicleRecord, maxDelayMinutes float64, nowMinutes int) Entry {
	e := Entry{
		Route:              row.RouteShortName,
		TripID:             row.TripID,
		StopName:           row.StopName,
		ScheduledDeparture: clockPrefix(row.DepartureTime),
		ScheduledArrival:   clockPrefix(row.ArrivalTime),
		DelaySeconds:       v.DelaySeconds,
	}
	if e.Route == "" {
		e.Route = v.Route
	}

	delayMinutes := 0
	if v.DelaySeconds != nil {
		delayMinutes = roundHalfUp(float64(*v.DelaySeconds) / 60)
	}

	if sched, ok := schedule.ParseClock(row.DepartureTime); ok {
		expected, formatted := shiftClock(sched, delayMinutes)
		e.ExpectedDeparture = &formatted
		e.Departed = max(sched, expected) < nowMinutes
		e.Excluded = float64(sched)+maxDelayMinutes < float64(nowMinutes)
	}

	if sched, ok := schedule.ParseClock(row.ArrivalTime); ok {
		expected, formatted := shiftClock(sched, delayMinutes)
		e.ExpectedArrival = &formatted
		e.expectedArrivalMin = &expected
	}
	return e
}

// markEarliest flags the upcoming entry with the smallest expected arrival.
// Arrivals compare as service-day minutes, not as formatted clocks, so an
// early 00:02 trip shown as "23:57" still sorts before "00:10".
// Ties go to the first entry in board order.
func markEarliest(entries []Entry) {
	best := -1
	for i, e := range entries {
		if e.Departed || e.Excluded || e.expectedArrivalMin == nil {
			continue
		}
		if best == -1 || *e.expectedArrivalMin < *entries[best].expectedArrivalMin {
			best = i
		}
	}
	if best >= 0 {
		entries[best].IsEarliest = true
	}
}

// shiftClock adds delayMinutes to a scheduled minute of day. The minute
// component wraps with ((m%60)+60)%60 and carries floor(m/60) into the hour;
// an hour driven below zero wraps to the previous day.
func shiftClock(scheduled, delayMinutes int) (int, string) {
	hour := scheduled / 60
	minute := scheduled%60 + delayMinutes

	carry := int(math.Floor(float64(minute) / 60))
	minute = ((minute % 60) + 60) % 60
	hour += carry
	if hour < 0 {
		hour += 24
	}
	return scheduled + delayMinutes, fmt.Sprintf("%02d:%02d", hour, minute)
}

// roundHalfUp rounds .5 towards +Inf, so -1.5 becomes -1
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func clockPrefix(s string) string {
	if len(s) < 5 {
		return s
	}
	return s[:5]
}

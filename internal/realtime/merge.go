package realtime

import (
	"math"
	"strings"
)

const latLngDecimalPlaces = 5

// MergeOptions tunes how the two record streams are reconciled
type MergeOptions struct {
	// SeedFromTripUpdates keeps trips that only have a trip update (no GPS).
	SeedFromTripUpdates bool
}

// Merger folds position and delay updates into one record per trip
type Merger struct {
	opts MergeOptions
}

func NewMerger(opts MergeOptions) *Merger {
	return &Merger{opts: opts}
}

// update is the tagged union of the two feed record kinds
type update interface {
	tripKey() string
}

func (p PositionUpdate) tripKey() string { return p.TripID }
func (d DelayUpdate) tripKey() string    { return d.TripID }

// accumulator is the keyed fold state; order keeps first-seen trip order
type accumulator struct {
	records map[string]*VehicleRecord
	order   []string
}

// Merge returns one record per trip in first-seen order
func (m *Merger) Merge(positions []PositionUpdate, delays []DelayUpdate) []VehicleRecord {
	acc := m.fold(positions, delays)
	out := make([]VehicleRecord, 0, len(acc.order))
	for _, key := range acc.order {
		out = append(out, *acc.records[key])
	}
	return out
}

// MergeMap returns the merged records keyed by trip id
func (m *Merger) MergeMap(positions []PositionUpdate, delays []DelayUpdate) map[string]VehicleRecord {
	acc := m.fold(positions, delays)
	out := make(map[string]VehicleRecord, len(acc.records))
	for key, rec := range acc.records {
		out[key] = *rec
	}
	return out
}

func (m *Merger) fold(positions []PositionUpdate, delays []DelayUpdate) *accumulator {
	updates := make([]update, 0, len(positions)+len(delays))
	if m.opts.SeedFromTripUpdates {
		// trip updates seed, positions overlay
		for _, d := range delays {
			updates = append(updates, d)
		}
		for _, p := range positions {
			updates = append(updates, p)
		}
	} else {
		for _, p := range positions {
			updates = append(updates, p)
		}
		for _, d := range delays {
			updates = append(updates, d)
		}
	}

	acc := &accumulator{records: make(map[string]*VehicleRecord)}
	for _, u := range updates {
		if u.tripKey() == "" {
			continue
		}
		m.apply(acc, u)
	}
	return acc
}

func (m *Merger) apply(acc *accumulator, u update) {
	key := u.tripKey()
	rec, exists := acc.records[key]

	switch u := u.(type) {
	case PositionUpdate:
		if u.Latitude == nil || u.Longitude == nil {
			return
		}
		if !exists {
			rec = &VehicleRecord{}
			acc.records[key] = rec
			acc.order = append(acc.order, key)
		}
		lat := RoundCoordinate(*u.Latitude)
		lng := RoundCoordinate(*u.Longitude)
		rec.ID = u.EntityID
		rec.TripID = u.TripID
		rec.RouteID = u.RouteID
		rec.Route = RouteCode(u.RouteID)
		rec.Latitude = &lat
		rec.Longitude = &lng

	case DelayUpdate:
		if !exists {
			if !m.opts.SeedFromTripUpdates {
				return
			}
			rec = &VehicleRecord{
				ID:      u.EntityID,
				TripID:  u.TripID,
				RouteID: u.RouteID,
				Route:   RouteCode(u.RouteID),
			}
			acc.records[key] = rec
			acc.order = append(acc.order, key)
		}
		rec.DelaySeconds = u.Delay()
	}
}

// Delay reads the delay of the first stop time update. It is unknown when
// there is no update or the vehicle is still at its first stop.
func (d DelayUpdate) Delay() *int {
	if len(d.StopTimeUpdates) == 0 {
		return nil
	}
	first := d.StopTimeUpdates[0]
	if first.StopSequence == nil || *first.StopSequence <= 1 {
		return nil
	}
	if first.ArrivalDelay != nil {
		v := *first.ArrivalDelay
		return &v
	}
	if first.DepartureDelay != nil {
		v := *first.DepartureDelay
		return &v
	}
	return nil
}

// RouteCode strips the suffix after the first "-" of a raw route id
// ("66-1234" -> "66")
func RouteCode(routeID string) string {
	code, _, _ := strings.Cut(routeID, "-")
	return code
}

// RoundCoordinate rounds to the precision sent to clients
func RoundCoordinate(v float64) float64 {
	scale := math.Pow(10, latLngDecimalPlaces)
	return math.Round(v*scale) / scale
}

package motion

import (
	"github.com/mini-transit-live/server/internal/geo"
)

const vertexEpsilon = 1e-9

// Projection is the nearest point of a polyline to a position
type Projection struct {
	Point      geo.Point
	Segment    int     // start vertex of the nearest segment
	T          float64 // 0..1 within the segment
	Index      float64 // fractional vertex index
	InsertAt   int     // index the position would take if spliced into the line
	FromStartM float64
	ToEndM     float64
	OffsetM    float64 // distance between the position and the line
}

// AtEnd reports whether the projection sits on the last vertex
func (p Projection) AtEnd(vertices int) bool {
	return vertices < 2 || (p.Segment >= vertices-2 && p.T >= 1-vertexEpsilon)
}

// Project finds the nearest point of line to p
func Project(line []geo.Point, p geo.Point) (Projection, bool) {
	return projectFrom(line, geo.CumulativeDistances(line), p, 0)
}

// projectFrom searches segments starting at fromSegment. When the nearest
// point is a vertex, the insertion side is the one whose detour through p is
// shorter; equal detours insert before the vertex.
func projectFrom(line []geo.Point, cum []float64, p geo.Point, fromSegment int) (Projection, bool) {
	sp, ok := geo.NearestOnLine(line, cum, p, fromSegment)
	if !ok {
		return Projection{}, false
	}
	n := len(line)
	total := cum[n-1]

	proj := Projection{
		Point:      sp.Point,
		Segment:    sp.Segment,
		T:          sp.T,
		Index:      sp.FractionalIndex(),
		FromStartM: sp.Along,
		ToEndM:     total - sp.Along,
		OffsetM:    sp.Offset,
	}
	if n == 1 {
		proj.InsertAt = 1
		return proj, true
	}

	switch {
	case sp.T <= vertexEpsilon:
		proj.InsertAt = insertionAtVertex(line, sp.Segment, p)
	case sp.T >= 1-vertexEpsilon:
		proj.InsertAt = insertionAtVertex(line, sp.Segment+1, p)
	default:
		proj.InsertAt = sp.Segment + 1
	}
	return proj, true
}

// insertionAtVertex decides whether p goes before or after vertex v.
// The first vertex always inserts after and the last always before.
func insertionAtVertex(line []geo.Point, v int, p geo.Point) int {
	last := len(line) - 1
	if v <= 0 {
		return 1
	}
	if v >= last {
		return last
	}

	// prev,p,at,next against prev,at,p,next, each reduced to its detour
	prev, at, next := line[v-1], line[v], line[v+1]
	before := geo.Distance(prev, p) + geo.Distance(p, at) - geo.Distance(prev, at)
	after := geo.Distance(at, p) + geo.Distance(p, next) - geo.Distance(at, next)
	if before <= after {
		return v
	}
	return v + 1
}

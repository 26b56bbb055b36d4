package geo

import (
	"strings"
)

const edgeEpsilon = 1e-12

// Locatable is anything with an optional position
type Locatable interface {
	Position() (Point, bool)
}

// Routed is anything that belongs to a route
type Routed interface {
	RouteName() string
}

// Bounds is an axis-aligned viewport given by its north-east and south-west corners
type Bounds struct {
	NE Point
	SW Point
}

func NewBounds(neLat, neLng, swLat, swLng float64) Bounds {
	return Bounds{NE: Point{Lat: neLat, Lng: neLng}, SW: Point{Lat: swLat, Lng: swLng}}
}

// Ring returns the closed polygon NE, SE, SW, NW, NE as (lng, lat) pairs
func (b Bounds) Ring() [][2]float64 {
	return [][2]float64{
		{b.NE.Lng, b.NE.Lat},
		{b.NE.Lng, b.SW.Lat},
		{b.SW.Lng, b.SW.Lat},
		{b.SW.Lng, b.NE.Lat},
		{b.NE.Lng, b.NE.Lat},
	}
}

// Contains reports whether p lies inside or on the edge of the bounds
func (b Bounds) Contains(p Point) bool {
	return PointInPolygon(b.Ring(), [2]float64{p.Lng, p.Lat})
}

// PointInPolygon tests a (x, y) point against a closed ring. Points on an
// edge or vertex count as inside.
func PointInPolygon(ring [][2]float64, pt [2]float64) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	for i := 0; i < n-1; i++ {
		if onSegment(ring[i], ring[i+1], pt) {
			return true
		}
	}

	inside := false
	x, y := pt[0], pt[1]
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func onSegment(a, b, p [2]float64) bool {
	cross := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	if cross > edgeEpsilon || cross < -edgeEpsilon {
		return false
	}
	return p[0] >= min(a[0], b[0])-edgeEpsilon && p[0] <= max(a[0], b[0])+edgeEpsilon &&
		p[1] >= min(a[1], b[1])-edgeEpsilon && p[1] <= max(a[1], b[1])+edgeEpsilon
}

// FilterByBounds keeps items with a position inside or on the bounds
func FilterByBounds[T Locatable](items []T, b Bounds) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		p, ok := item.Position()
		if !ok {
			continue
		}
		if b.Contains(p) {
			out = append(out, item)
		}
	}
	return out
}

// FilterByRoutes keeps items whose route is allowed. An empty allow-list
// returns the input unchanged.
func FilterByRoutes[T Routed](items []T, allowed []string) []T {
	if len(allowed) == 0 {
		return items
	}
	set := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		set[r] = struct{}{}
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if _, ok := set[item.RouteName()]; ok {
			out = append(out, item)
		}
	}
	return out
}

// ParseRoutes splits a comma separated routes parameter, dropping blanks
func ParseRoutes(raw string) []string {
	if raw == "" {
		return nil
	}
	var routes []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			routes = append(routes, r)
		}
	}
	return routes
}

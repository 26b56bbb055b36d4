package geo

import "math"

const earthRadiusMeters = 6371000

// Point is a WGS84 coordinate
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Haversine calculates the distance between two points in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Distance is Haversine over Points
func Distance(a, b Point) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Bearing calculates the bearing from a to b in degrees (0-360)
func Bearing(a, b Point) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	deltaLambda := (b.Lng - a.Lng) * math.Pi / 180

	x := math.Sin(deltaLambda) * math.Cos(phi2)
	y := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLambda)

	bearing := math.Atan2(x, y) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}

// Interpolate linearly interpolates between two points
func Interpolate(start, end Point, fraction float64) Point {
	return Point{
		Lat: start.Lat + (end.Lat-start.Lat)*fraction,
		Lng: start.Lng + (end.Lng-start.Lng)*fraction,
	}
}

// LineLength calculates the total length of a polyline in meters
func LineLength(pts []Point) float64 {
	var total float64
	for i := 1; i < len(pts); i++ {
		total += Distance(pts[i-1], pts[i])
	}
	return total
}

// CumulativeDistances returns the distance in meters from pts[0] to every point
func CumulativeDistances(pts []Point) []float64 {
	if len(pts) == 0 {
		return nil
	}
	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + Distance(pts[i-1], pts[i])
	}
	return cum
}

// Clamp constrains a value between min and max
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// SegmentProjection is the closest point of a polyline to a target
type SegmentProjection struct {
	Segment int     // index of the segment start vertex
	T       float64 // position within the segment, 0..1
	Point   Point   // projected point
	Offset  float64 // meters between target and projected point
	Along   float64 // meters from the first vertex to the projected point
}

// FractionalIndex is Segment+T, a position expressed in vertex units
func (p SegmentProjection) FractionalIndex() float64 {
	return float64(p.Segment) + p.T
}

// NearestOnLine projects target onto the polyline using an equirectangular
// approximation centred on the target. Segments before fromSegment are
// skipped. Ties keep the earlier segment. cum may be nil.
func NearestOnLine(pts []Point, cum []float64, target Point, fromSegment int) (SegmentProjection, bool) {
	n := len(pts)
	if n == 0 {
		return SegmentProjection{}, false
	}
	if len(cum) != n {
		cum = CumulativeDistances(pts)
	}
	if n == 1 {
		return SegmentProjection{Point: pts[0], Offset: Distance(pts[0], target)}, true
	}
	if fromSegment < 0 {
		fromSegment = 0
	}
	if fromSegment > n-2 {
		fromSegment = n - 2
	}

	cosLat0 := math.Cos(target.Lat * math.Pi / 180)
	toXY := func(p Point) (x, y float64) {
		y = (p.Lat - target.Lat) * math.Pi / 180 * earthRadiusMeters
		x = (p.Lng - target.Lng) * math.Pi / 180 * earthRadiusMeters * cosLat0
		return
	}

	best := SegmentProjection{Segment: -1}
	bestDist2 := math.MaxFloat64
	x0, y0 := toXY(pts[fromSegment])
	for i := fromSegment + 1; i < n; i++ {
		x1, y1 := toXY(pts[i])
		dx := x1 - x0
		dy := y1 - y0
		segLen2 := dx*dx + dy*dy
		t := 0.0
		if segLen2 > 0 {
			t = Clamp(-(x0*dx+y0*dy)/segLen2, 0, 1)
		}
		px := x0 + t*dx
		py := y0 + t*dy
		d2 := px*px + py*py
		if d2 < bestDist2 {
			bestDist2 = d2
			best = SegmentProjection{
				Segment: i - 1,
				T:       t,
				Point:   Interpolate(pts[i-1], pts[i], t),
				Along:   cum[i-1] + t*(cum[i]-cum[i-1]),
			}
		}
		x0, y0 = x1, y1
	}
	best.Offset = Distance(best.Point, target)
	return best, true
}

// IsValid rejects (0,0) and out-of-range coordinates
func IsValid(p Point) bool {
	if p.Lat == 0 && p.Lng == 0 {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

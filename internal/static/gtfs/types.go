package gtfs

// Feed holds the static tables the schedule store needs
type Feed struct {
	Routes    []Route
	Stops     []Stop
	Trips     []Trip
	StopTimes []StopTime
	Shapes    []ShapePoint
}

// Route is a row of routes.txt
type Route struct {
	RouteID        string
	RouteShortName string
	RouteLongName  string
	RouteType      *int
}

// Stop is a row of stops.txt
type Stop struct {
	StopID   string
	StopCode string
	StopName string
	StopLat  float64
	StopLon  float64
}

// Trip is a row of trips.txt
type Trip struct {
	TripID      string
	RouteID     string
	ServiceID   string
	DirectionID *int
	ShapeID     string
}

// StopTime is a row of stop_times.txt
type StopTime struct {
	TripID        string
	StopID        string
	StopSequence  int
	ArrivalTime   string
	DepartureTime string
}

// ShapePoint is a row of shapes.txt
type ShapePoint struct {
	ShapeID  string
	Lat      float64
	Lon      float64
	Sequence int
}

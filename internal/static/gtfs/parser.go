package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mini-transit-live/server/internal/logger"
)

// ErrMissingTable is returned when a required file is absent from the archive
var ErrMissingTable = errors.New("required GTFS table missing")

// row gives name-based access to a CSV record
type row struct {
	record []string
	index  map[string]int
}

func (r row) str(field string) string {
	if i, ok := r.index[field]; ok && i < len(r.record) {
		return strings.TrimSpace(r.record[i])
	}
	return ""
}

func (r row) float(field string) float64 {
	v, _ := strconv.ParseFloat(r.str(field), 64)
	return v
}

func (r row) integer(field string) int {
	v, _ := strconv.Atoi(r.str(field))
	return v
}

// optInt is nil for an empty or non-numeric field
func (r row) optInt(field string) *int {
	v, err := strconv.Atoi(r.str(field))
	if err != nil {
		return nil
	}
	return &v
}

// Parser reads a static GTFS archive
type Parser struct {
	log logger.Logger
}

func NewParser(log logger.Logger) *Parser {
	if log == nil {
		log = logger.Nop()
	}
	return &Parser{log: log.With("gtfs-parser")}
}

// ParseFile reads a GTFS zip from disk
func (p *Parser) ParseFile(path string) (*Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat zip: %w", err)
	}
	return p.Parse(f, info.Size())
}

// Parse reads a GTFS zip. routes, trips and stop_times are required;
// stops and shapes are optional. Malformed rows are skipped.
func (p *Parser) Parse(r io.ReaderAt, size int64) (*Feed, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}

	files := make(map[string]*zip.File)
	for _, f := range zr.File {
		// some feeds nest the tables in a folder
		name := f.Name
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		files[name] = f
	}

	feed := &Feed{}
	tables := []struct {
		name     string
		required bool
		read     func(row)
	}{
		{"routes.txt", true, func(r row) {
			feed.Routes = append(feed.Routes, Route{
				RouteID:        r.str("route_id"),
				RouteShortName: r.str("route_short_name"),
				RouteLongName:  r.str("route_long_name"),
				RouteType:      r.optInt("route_type"),
			})
		}},
		{"stops.txt", false, func(r row) {
			feed.Stops = append(feed.Stops, Stop{
				StopID:   r.str("stop_id"),
				StopCode: r.str("stop_code"),
				StopName: r.str("stop_name"),
				StopLat:  r.float("stop_lat"),
				StopLon:  r.float("stop_lon"),
			})
		}},
		{"trips.txt", true, func(r row) {
			feed.Trips = append(feed.Trips, Trip{
				TripID:      r.str("trip_id"),
				RouteID:     r.str("route_id"),
				ServiceID:   r.str("service_id"),
				DirectionID: r.optInt("direction_id"),
				ShapeID:     r.str("shape_id"),
			})
		}},
		{"stop_times.txt", true, func(r row) {
			feed.StopTimes = append(feed.StopTimes, StopTime{
				TripID:        r.str("trip_id"),
				StopID:        r.str("stop_id"),
				StopSequence:  r.integer("stop_sequence"),
				ArrivalTime:   r.str("arrival_time"),
				DepartureTime: r.str("departure_time"),
			})
		}},
		{"shapes.txt", false, func(r row) {
			feed.Shapes = append(feed.Shapes, ShapePoint{
				ShapeID:  r.str("shape_id"),
				Lat:      r.float("shape_pt_lat"),
				Lon:      r.float("shape_pt_lon"),
				Sequence: r.integer("shape_pt_sequence"),
			})
		}},
	}

	for _, t := range tables {
		f, ok := files[t.name]
		if !ok {
			if t.required {
				return nil, fmt.Errorf("%w: %s", ErrMissingTable, t.name)
			}
			p.log.Warn("optional GTFS table missing", "table", t.name)
			continue
		}
		skipped, err := readTable(f, t.read)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", t.name, err)
		}
		if skipped > 0 {
			p.log.Warn("skipped malformed rows", "table", t.name, "rows", skipped)
		}
	}

	sort.SliceStable(feed.Shapes, func(a, b int) bool {
		if feed.Shapes[a].ShapeID != feed.Shapes[b].ShapeID {
			return feed.Shapes[a].ShapeID < feed.Shapes[b].ShapeID
		}
		return feed.Shapes[a].Sequence < feed.Shapes[b].Sequence
	})

	p.log.Info("GTFS parsed",
		"routes", len(feed.Routes),
		"stops", len(feed.Stops),
		"trips", len(feed.Trips),
		"stop_times", len(feed.StopTimes),
		"shape_points", len(feed.Shapes),
	)
	return feed, nil
}

// readTable calls fn for every well-formed record and returns how many were skipped
func readTable(f *zip.File, fn func(row)) (int, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		// strip a UTF-8 BOM on the first column
		index[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}

	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		fn(row{record: record, index: index})
	}
	return skipped, nil
}

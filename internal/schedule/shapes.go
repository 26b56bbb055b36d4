package schedule

import (
	"context"
	"fmt"
	"sort"

	"github.com/bluele/gcache"

	"github.com/mini-transit-live/server/internal/geo"
)

// ShapeCache keeps recently used shape polylines in an LRU.
// Shapes only change on a GTFS import, so entries never expire.
type ShapeCache struct {
	store Store
	lines gcache.Cache
}

func NewShapeCache(store Store, size int) *ShapeCache {
	if size <= 0 {
		size = 512
	}
	return &ShapeCache{
		store: store,
		lines: gcache.New(size).LRU().Build(),
	}
}

// Lines returns the polyline of every requested shape that has points.
// On a store error the cached subset is returned together with the error.
func (c *ShapeCache) Lines(ctx context.Context, shapeIDs []string) (map[string][]geo.Point, error) {
	out := make(map[string][]geo.Point, len(shapeIDs))
	var missing []string
	for _, id := range shapeIDs {
		if cached, err := c.lines.Get(id); err == nil {
			if line, ok := cached.([]geo.Point); ok {
				out[id] = line
				continue
			}
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	points, err := c.store.ShapePoints(ctx, missing)
	if err != nil {
		return out, fmt.Errorf("failed to load shapes: %w", err)
	}

	for id, line := range groupShapePoints(points) {
		out[id] = line
		_ = c.lines.Set(id, line)
	}
	return out, nil
}

// Purge drops every cached shape, used after a schedule import
func (c *ShapeCache) Purge() {
	c.lines.Purge()
}

func groupShapePoints(points []ShapePoint) map[string][]geo.Point {
	sorted := make([]ShapePoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].ShapeID != sorted[b].ShapeID {
			return sorted[a].ShapeID < sorted[b].ShapeID
		}
		return sorted[a].Sequence < sorted[b].Sequence
	})

	grouped := make(map[string][]geo.Point)
	for _, p := range sorted {
		grouped[p.ShapeID] = append(grouped[p.ShapeID], geo.Point{Lat: p.Lat, Lng: p.Lon})
	}
	return grouped
}

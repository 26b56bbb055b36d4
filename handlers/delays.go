package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/mini-transit-live/server/internal/db"
	"github.com/mini-transit-live/server/models"
)

// DelayRepository reads the hourly delay aggregates
type DelayRepository interface {
	HourlyDelayStats(ctx context.Context, route string, hours int, now time.Time) ([]db.HourlyDelayStat, error)
}

// DelayHandler handles HTTP requests for delay data
type DelayHandler struct {
	feed SnapshotSource
	repo DelayRepository
	now  func() time.Time
}

// NewDelayHandler creates a new handler. repo may be nil when delay
// statistics are not recorded; the response then carries no hourly stats.
func NewDelayHandler(feed SnapshotSource, repo DelayRepository) *DelayHandler {
	return &DelayHandler{feed: feed, repo: repo, now: time.Now}
}

// parseHours reads the window length from hours=N or period=Nh, default 24, at most 720
func parseHours(hoursParam, period string) int {
	raw := hoursParam
	if raw == "" && len(period) > 1 && period[len(period)-1] == 'h' {
		raw = period[:len(period)-1]
	}
	if h, err := strconv.Atoi(raw); err == nil && h > 0 && h <= 720 {
		return h
	}
	return 24
}

// GetDelayStats handles GET /api/delays/stats
// Query params: route_id (optional), hours or period (optional, default 24 / "24h")
func (h *DelayHandler) GetDelayStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	route := q.Get("route_id")
	hours := parseHours(q.Get("hours"), q.Get("period"))

	snap, stale := currentSnapshot(w, r, h.feed)
	if snap == nil {
		return
	}
	summary := models.SummarizeDelays(snap.Vehicles, route)

	hourlyStats := []models.DelayHourlyStat{}
	if h.repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		stats, err := h.repo.HourlyDelayStats(ctx, route, hours, h.now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to get hourly delay stats", map[string]interface{}{
				"internal": err.Error(),
			})
			return
		}
		for _, s := range stats {
			hourlyStats = append(hourlyStats, models.DelayHourlyStat{
				Route:            s.Route,
				HourBucket:       s.HourBucket,
				ObservationCount: s.ObservationCount,
				MeanDelaySeconds: s.MeanDelaySeconds,
				StdDevSeconds:    s.StdDevSeconds,
				OnTimePercent:    s.OnTimePercent(),
				MaxDelaySeconds:  s.MaxDelaySeconds,
			})
		}
	}

	setSnapshotHeaders(w, snap, stale)
	writeJSON(w, http.StatusOK, models.DelayStatsResponse{
		Summary:     summary,
		HourlyStats: hourlyStats,
		SnapshotID:  snap.ID,
		LastChecked: h.now().UTC(),
	})
}

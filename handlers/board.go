package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/mini-transit-live/server/internal/board"
	"github.com/mini-transit-live/server/internal/geo"
	"github.com/mini-transit-live/server/internal/schedule"
	"github.com/mini-transit-live/server/models"
)

// BoardSource returns scheduled trips between stops
type BoardSource interface {
	Board(ctx context.Context, fromCode string, toCodes []string) []schedule.BoardRow
}

// BoardHandler serves stop departure boards
type BoardHandler struct {
	feed     SnapshotSource
	schedule BoardSource
	loc      *time.Location
	now      func() time.Time
}

// NewBoardHandler creates a handler; loc is the service-day time zone
func NewBoardHandler(feed SnapshotSource, source BoardSource, loc *time.Location) *BoardHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &BoardHandler{feed: feed, schedule: source, loc: loc, now: time.Now}
}

// GetBoard handles GET /api/board
// Query params: from (stop code, required), to (comma separated stop codes, required)
func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := geo.ParseRoutes(r.URL.Query().Get("to"))
	if from == "" || len(to) == 0 {
		details := map[string]interface{}{}
		if from == "" {
			details["from"] = "required"
		}
		if len(to) == 0 {
			details["to"] = "required"
		}
		writeError(w, http.StatusBadRequest, "from and to stop codes are required", details)
		return
	}

	snap, stale := currentSnapshot(w, r, h.feed)
	if snap == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rows := h.schedule.Board(ctx, from, to)

	now := h.now().In(h.loc)
	nowMinutes := schedule.MinutesSinceMidnight(now)
	entries := board.Estimate(rows, snap.Vehicles, nowMinutes)
	if entries == nil {
		entries = []board.Entry{}
	}

	setSnapshotHeaders(w, snap, stale)
	writeJSON(w, http.StatusOK, models.BoardResponse{
		From:        from,
		To:          to,
		Entries:     entries,
		Count:       len(entries),
		Now:         schedule.FormatClock(nowMinutes),
		SnapshotID:  snap.ID,
		GeneratedAt: now.UTC(),
	})
}

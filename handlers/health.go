package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/mini-transit-live/server/internal/realtime"
	"github.com/mini-transit-live/server/models"
)

// Pinger reports whether the schedule store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheStatus exposes the feed cache lifecycle without triggering a refresh
type CacheStatus interface {
	State() realtime.State
	Age() time.Duration
	Last() *realtime.Snapshot
}

// HealthHandler handles health checks
type HealthHandler struct {
	store Pinger
	cache CacheStatus
	now   func() time.Time
}

// NewHealthHandler creates a new handler
func NewHealthHandler(store Pinger, cache CacheStatus) *HealthHandler {
	return &HealthHandler{store: store, cache: cache, now: time.Now}
}

// GetHealth handles GET /health
// Returns 503 only when neither the store nor the feed can serve.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := models.HealthResponse{
		Database:  "connected",
		Timestamp: h.now().UTC(),
	}
	databaseOK := true
	if err := h.store.Ping(ctx); err != nil {
		databaseOK = false
		response.Database = "disconnected"
		response.Error = err.Error()
	}

	feed := models.FeedHealth{
		State:      h.cache.State().String(),
		AgeSeconds: -1,
	}
	if age := h.cache.Age(); age >= 0 {
		feed.AgeSeconds = int(age.Seconds())
	}
	if last := h.cache.Last(); last != nil {
		feed.VehicleCount = len(last.Vehicles)
		feed.SnapshotID = last.ID
		if !last.Timestamp.IsZero() {
			ts := last.Timestamp
			feed.FeedTimestamp = &ts
		}
	}
	feed.Freshness = models.CalculateFreshnessStatus(feed.AgeSeconds)
	response.Feed = feed
	response.Status = models.CalculateHealthStatus(databaseOK, feed.Freshness)

	status := http.StatusOK
	if response.Status == models.StatusError {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, response)
}

// Liveness handles GET /healthz
func Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Ping handles GET /api/ping
func Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

package models

import "time"

// Freshness statuses
const (
	FreshnessFresh       = "fresh"       // < 60s
	FreshnessStale       = "stale"       // 60s - 5min
	FreshnessUnavailable = "unavailable" // > 5min or no data
)

// Health statuses
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// FeedHealth describes the cached real-time snapshot
type FeedHealth struct {
	State         string     `json:"state"`
	Freshness     string     `json:"freshness"`
	AgeSeconds    int        `json:"ageSeconds"`
	VehicleCount  int        `json:"vehicleCount"`
	SnapshotID    string     `json:"snapshotId,omitempty"`
	FeedTimestamp *time.Time `json:"feedTimestamp,omitempty"`
}

// HealthResponse is the JSON response for GET /health
type HealthResponse struct {
	Status    string     `json:"status"`
	Database  string     `json:"database"`
	Feed      FeedHealth `json:"feed"`
	Timestamp time.Time  `json:"timestamp"`
	Error     string     `json:"error,omitempty"`
}

// CalculateFreshnessStatus returns the freshness status based on age
func CalculateFreshnessStatus(ageSeconds int) string {
	if ageSeconds < 0 {
		return FreshnessUnavailable
	}
	if ageSeconds < 60 {
		return FreshnessFresh
	}
	if ageSeconds < 300 {
		return FreshnessStale
	}
	return FreshnessUnavailable
}

// CalculateHealthStatus combines store reachability and feed freshness
func CalculateHealthStatus(databaseOK bool, freshness string) string {
	switch {
	case !databaseOK && freshness == FreshnessUnavailable:
		return StatusError
	case !databaseOK || freshness != FreshnessFresh:
		return StatusDegraded
	default:
		return StatusOK
	}
}

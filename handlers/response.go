package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mini-transit-live/server/internal/realtime"
)

// SnapshotSource is the real-time feed cache
type SnapshotSource interface {
	Get(ctx context.Context) (*realtime.Snapshot, error)
}

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string, details map[string]interface{}) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

// setSnapshotHeaders marks a response derived from snap as cacheable for one TTL
func setSnapshotHeaders(w http.ResponseWriter, snap *realtime.Snapshot, stale bool) {
	w.Header().Set("Cache-Control", "public, max-age=10, stale-while-revalidate=10")
	w.Header().Set("Vary", "Accept-Encoding")
	if snap != nil {
		w.Header().Set("X-Snapshot-Id", snap.ID)
	}
	if stale {
		w.Header().Set("X-Snapshot-Stale", "true")
	}
}

// currentSnapshot gets a snapshot, serving a stale one when the refresh failed.
// It writes a 503 and returns nil when there is nothing to serve.
func currentSnapshot(w http.ResponseWriter, r *http.Request, feed SnapshotSource) (*realtime.Snapshot, bool) {
	snap, err := feed.Get(r.Context())
	if snap == nil {
		details := map[string]interface{}{}
		if err != nil {
			details["internal"] = err.Error()
		}
		writeError(w, http.StatusServiceUnavailable, "Real-time feed unavailable", details)
		return nil, false
	}
	return snap, err != nil
}

package models

import (
	"time"

	"github.com/mini-transit-live/server/internal/board"
)

// BoardResponse is the JSON response for GET /api/board
type BoardResponse struct {
	From        string        `json:"from"`
	To          []string      `json:"to"`
	Entries     []board.Entry `json:"entries"`
	Count       int           `json:"count"`
	Now         string        `json:"now"` // HH:MM service-day clock used for the estimate
	SnapshotID  string        `json:"snapshotId,omitempty"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

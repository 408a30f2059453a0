package api

import (
	"github.com/compostwatch/compostwatch/pkg/types"
	"github.com/compostwatch/compostwatch/server/internal/alerts"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State        string `json:"state"` // "ok" | "degraded" | "unknown"
	PileCount    int    `json:"pile_count"`
	HealthyCount int    `json:"healthy_count"`
	FailingCount int    `json:"failing_count"`
	AlertCount   int    `json:"alert_count"`
}

// PileResponse is one pile in GET /api/v1/piles or GET /api/v1/piles/{id}.
type PileResponse struct {
	PileID      string                     `json:"pile_id"`
	PileName    string                     `json:"pile_name,omitempty"`
	Status      string                     `json:"status"` // "ok" | "error"
	Error       string                     `json:"error,omitempty"`
	GeneratedAt string                     `json:"generated_at"` // RFC3339
	LastSeen    string                     `json:"last_seen"`    // RFC3339
	Report      *types.CompostStatusReport `json:"report,omitempty"`
	DailyStats  map[string]types.DailyStat `json:"daily_stats,omitempty"`
	// LastGood is the latest successful report when the current one failed.
	LastGood     *types.CompostStatusReport `json:"last_good,omitempty"`
	FiringAlerts int                        `json:"firing_alerts"`
	Diagnostics  []DiagnosticHint           `json:"diagnostics"`
}

// TransitionsResponse is the payload for GET /api/v1/piles/{id}/transitions.
type TransitionsResponse struct {
	PileID      string             `json:"pile_id"`
	Transitions []types.Transition `json:"transitions"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every WebSocket broadcast.
type SnapshotResponse struct {
	Piles       []PileResponse  `json:"piles"`
	Alerts      []*alerts.Alert `json:"alerts"`
	GeneratedAt string          `json:"generated_at"` // RFC3339
}

type errorResponse struct {
	Error string `json:"error"`
}

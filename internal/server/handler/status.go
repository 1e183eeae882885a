package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/latencybot/internal/engine"
)

// SnapshotSource is implemented by *engine.Orchestrator.
type SnapshotSource interface {
	Snapshot() engine.Snapshot
}

// StatusInfo is static process metadata reported next to the snapshot.
type StatusInfo struct {
	DryRun         bool          `json:"dry_run"`
	ReferenceVenue string        `json:"reference_venue"`
	Symbol         string        `json:"symbol"`
	MarketAssetID  string        `json:"market_asset_id"`
	EdgeThreshold  float64       `json:"edge_threshold"`
	Cooldown       time.Duration `json:"cooldown_ns"`
	StalenessBound time.Duration `json:"staleness_bound_ns"`
	StartedAt      time.Time     `json:"started_at"`
}

// StatusHandler serves the live engine state.
type StatusHandler struct {
	source SnapshotSource
	info   StatusInfo
	now    func() time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(source SnapshotSource, info StatusInfo) *StatusHandler {
	return &StatusHandler{source: source, info: info, now: time.Now}
}

type statusResponse struct {
	engine.Snapshot
	ReferenceAgeMs *int64     `json:"reference_age_ms,omitempty"`
	MarketAgeMs    *int64     `json:"market_age_ms,omitempty"`
	UptimeSeconds  int64      `json:"uptime_seconds"`
	Info           StatusInfo `json:"info"`
}

// GetStatus responds with the engine snapshot and observation ages.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Snapshot()
	now := h.now()

	resp := statusResponse{
		Snapshot:      snap,
		UptimeSeconds: int64(now.Sub(h.info.StartedAt).Seconds()),
		Info:          h.info,
	}
	if snap.Reference != nil {
		age := snap.Reference.Age(now).Milliseconds()
		resp.ReferenceAgeMs = &age
	}
	if snap.Market != nil {
		age := snap.Market.Age(now).Milliseconds()
		resp.MarketAgeMs = &age
	}
	writeJSON(w, http.StatusOK, resp)
}

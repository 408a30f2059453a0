package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/compostwatch/compostwatch/server/internal/alerts"
	"github.com/compostwatch/compostwatch/server/internal/store"
)

// AlertSource is the read side of the alert engine.
type AlertSource interface {
	Active() []*alerts.Alert
	Firing(pileID string) int
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store  *store.Store
	alerts AlertSource
	now    func() time.Time
	mux    *http.ServeMux
}

// New creates a Handler reading from st and al and registers all routes.
// al may be nil when alerting is disabled.
func New(st *store.Store, al AlertSource) *Handler {
	h := &Handler{store: st, alerts: al, now: time.Now, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/piles", h.listPiles)
	h.mux.HandleFunc("/api/v1/piles/", h.pileSubtree)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.mux.ServeHTTP(w, r)
}

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	entries := h.store.List()
	resp := HealthResponse{PileCount: len(entries)}
	for _, e := range entries {
		if e.Envelope.Error != "" {
			resp.FailingCount++
		} else {
			resp.HealthyCount++
		}
	}
	for _, a := range h.activeAlerts() {
		if a.State == "firing" {
			resp.AlertCount++
		}
	}

	switch {
	case len(entries) == 0:
		resp.State = "unknown"
	case resp.FailingCount > 0 || resp.AlertCount > 0:
		resp.State = "degraded"
	default:
		resp.State = "ok"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listPiles returns GET /api/v1/piles.
func (h *Handler) listPiles(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.piles())
}

// pileSubtree serves /api/v1/piles/{id} and /api/v1/piles/{id}/transitions.
func (h *Handler) pileSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/piles/"), "/")
	if rest == "" {
		h.listPiles(w, r)
		return
	}

	id, sub, _ := strings.Cut(rest, "/")
	switch sub {
	case "":
		e, ok := h.store.Live(id)
		if !ok {
			jsonErr(w, http.StatusNotFound, "pile not found")
			return
		}
		jsonResp(w, http.StatusOK, h.toPileResponse(e))
	case "transitions":
		// History outlives the report TTL, so no liveness check here.
		jsonResp(w, http.StatusOK, TransitionsResponse{PileID: id, Transitions: h.store.Transitions(id)})
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

// listAlerts returns GET /api/v1/alerts: firing alerts plus those resolved
// during the last day.
func (h *Handler) listAlerts(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.activeAlerts())
}

// snapshot returns GET /api/v1/snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.Snapshot())
}

// Snapshot builds the full dashboard state: every live pile and the
// current alerts.
func (h *Handler) Snapshot() SnapshotResponse {
	return SnapshotResponse{
		Piles:       h.piles(),
		Alerts:      h.activeAlerts(),
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
	}
}

func (h *Handler) piles() []PileResponse {
	entries := h.store.List()
	out := make([]PileResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.toPileResponse(e))
	}
	return out
}

func (h *Handler) activeAlerts() []*alerts.Alert {
	if h.alerts == nil {
		return []*alerts.Alert{}
	}
	return h.alerts.Active()
}

func (h *Handler) toPileResponse(e *store.Entry) PileResponse {
	env := e.Envelope
	resp := PileResponse{
		PileID:      env.PileID,
		PileName:    env.PileName,
		Status:      "ok",
		GeneratedAt: env.GeneratedAt.UTC().Format(time.RFC3339),
		LastSeen:    e.UpdatedAt.UTC().Format(time.RFC3339),
		DailyStats:  env.DailyStats,
		Diagnostics: computeDiagnostics(env),
	}
	if env.Error != "" {
		resp.Status = "error"
		resp.Error = env.Error
		if e.LastGood != nil {
			last := e.LastGood.Report
			resp.LastGood = &last
		}
	} else {
		rep := env.Report
		resp.Report = &rep
	}
	if h.alerts != nil {
		resp.FiringAlerts = h.alerts.Firing(env.PileID)
	}
	return resp
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

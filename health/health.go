// Package health serves the gateway's operational endpoints: a liveness probe
// and a status snapshot of sessions and in-flight requests. Both are plain
// JSON GETs with no side effects.
package health

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/LucidWonk/environment-mcp-gateway/dispatch"
	"github.com/LucidWonk/environment-mcp-gateway/sessions"
)

// Handler mounts /healthz and /status.
type Handler struct {
	startedAt time.Time
	version   string
	registry  *sessions.Registry
	tracker   *dispatch.Tracker
	mux       *http.ServeMux
}

// New builds the health handler over the given registry and tracker.
func New(version string, registry *sessions.Registry, tracker *dispatch.Tracker) *Handler {
	h := &Handler{
		startedAt: time.Now(),
		version:   version,
		registry:  registry,
		tracker:   tracker,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /status", h.handleStatus)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type healthzBody struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	PID     int    `json:"pid"`
	Uptime  string `json:"uptime"`
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthzBody{
		Status:  "ok",
		Version: h.version,
		PID:     os.Getpid(),
		Uptime:  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

type statusBody struct {
	Sessions  sessions.Metrics `json:"sessions"`
	InFlight  []requestView    `json:"inFlight"`
	BySession map[string]int   `json:"inFlightBySession"`
}

type requestView struct {
	SessionID string    `json:"sessionId"`
	Tool      string    `json:"tool"`
	RequestID string    `json:"requestId,omitzero"`
	StartedAt time.Time `json:"startedAt"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	active := h.tracker.Active()
	views := make([]requestView, 0, len(active))
	for _, req := range active {
		views = append(views, requestView{
			SessionID: req.SessionID,
			Tool:      req.Tool,
			RequestID: req.WireID,
			StartedAt: req.StartedAt,
		})
	}
	writeJSON(w, statusBody{
		Sessions:  h.registry.Metrics(),
		InFlight:  views,
		BySession: h.tracker.CountBySession(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

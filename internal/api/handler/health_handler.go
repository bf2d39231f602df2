package handler

import "net/http"

// UpstreamState reports the ingestion connection. *ingest.Channel satisfies it.
type UpstreamState interface {
	Connected() bool
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	upstream UpstreamState
}

func NewHealthHandler(upstream UpstreamState) *HealthHandler {
	return &HealthHandler{upstream: upstream}
}

// Health handles GET /health
//
// @Summary  Liveness probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]string
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready. The relay is ready once the upstream
// connection is open.
//
// @Summary  Readiness probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]string
// @Failure  503  {object}  map[string]string
// @Router   /ready [get]
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.upstream.Connected() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "upstream disconnected"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

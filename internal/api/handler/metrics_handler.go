package handler

import "net/http"

// QueueStats is the read side of the work queue. *queue.Queue satisfies it.
type QueueStats interface {
	Depth() int
	Unfinished() int
}

// MetricsHandler serves a human-readable JSON pipeline snapshot.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp.Handler and are separate from this endpoint.
type MetricsHandler struct {
	q        QueueStats
	upstream UpstreamState
}

func NewMetricsHandler(q QueueStats, upstream UpstreamState) *MetricsHandler {
	return &MetricsHandler{q: q, upstream: upstream}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Real-time queue and connection snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	depth, unfinished := h.q.Depth(), h.q.Unfinished()
	respondJSON(w, http.StatusOK, map[string]any{
		"queue": map[string]int{
			"waiting":    depth,
			"in_flight":  max(unfinished-depth, 0),
			"unfinished": unfinished,
		},
		"upstream_connected": h.upstream.Connected(),
	})
}

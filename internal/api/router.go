package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/stargazer-relay/internal/api/handler"
	apimw "github.com/notifyhub/stargazer-relay/internal/api/middleware"
)

// Deps are the pipeline parts the HTTP surface reads from or drives.
type Deps struct {
	Commands     handler.CommandHandler
	Queue        handler.QueueStats
	Upstream     handler.UpstreamState
	OneBotSecret string
	Gatherer     prometheus.Gatherer
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(deps Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger, "/health", "/ready", "/metrics"))

	// --- handler instances ---
	oh := handler.NewOneBotHandler(deps.Commands, deps.OneBotSecret, logger.Named("onebot"))
	mh := handler.NewMetricsHandler(deps.Queue, deps.Upstream)
	hh := handler.NewHealthHandler(deps.Upstream)

	// --- routes ---
	r.Get("/health", hh.Health)
	r.Get("/ready", hh.Ready)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	// OneBot HTTP event reporting (post_url of the adapter)
	r.Post("/onebot/events", oh.Events)

	r.Route("/api/v1", func(r chi.Router) {
		// JSON pipeline snapshot
		r.Get("/metrics", mh.GetMetrics)
	})

	return r
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/stargazer-relay/internal/api"
	"github.com/notifyhub/stargazer-relay/internal/config"
	"github.com/notifyhub/stargazer-relay/internal/ingest"
	"github.com/notifyhub/stargazer-relay/internal/metrics"
	"github.com/notifyhub/stargazer-relay/internal/provider"
	"github.com/notifyhub/stargazer-relay/internal/queue"
	"github.com/notifyhub/stargazer-relay/internal/ratelimiter"
	"github.com/notifyhub/stargazer-relay/internal/registry"
	"github.com/notifyhub/stargazer-relay/internal/repository"
	"github.com/notifyhub/stargazer-relay/internal/service"
	"github.com/notifyhub/stargazer-relay/internal/worker"
)

func main() {
	bootLogger, _ := zap.NewProduction()

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		bootLogger.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	q := queue.New(cfg.QueueCapacity)
	m.WatchQueue(q.Depth)

	backend, err := registry.NewClient(cfg.BackendURL, cfg.M2MToken, cfg.RegistryTimeout)
	if err != nil {
		logger.Fatal("invalid backend URL", zap.Error(err))
	}

	limiter := ratelimiter.New(cfg.SendRate)
	bot := provider.NewOneBotClient(cfg.OneBotAPIURL, cfg.OneBotAccessToken, cfg.OneBotTimeout, limiter)

	seen := newSeenRepository(ctx, cfg, logger)

	dispatcher := service.NewDispatcher(backend, bot, cfg.FanoutConcurrency, logger.Named("dispatch"), m.DeliveryHooks())
	accounts, err := service.NewAccountService(backend, bot, bot, cfg.FrontendURL, cfg.CommandPrefix, logger.Named("commands"))
	if err != nil {
		logger.Fatal("invalid frontend URL", zap.Error(err))
	}

	// ---- worker pool ----
	// Workers outlive ctx so the queue can drain after the signal.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	pool := worker.NewPool(cfg, q, dispatcher, seen, logger.Named("worker"), m.WorkerHooks())
	pool.Start(workerCtx)
	logger.Info("worker pool started", zap.Int("workers", pool.Size()))

	// ---- ingestion ----
	channel := ingest.NewChannel(cfg.MessageWS, q, ingest.Options{
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectMaxDelay: cfg.ReconnectMaxDelay,
		PingInterval:      cfg.PingInterval,
	}, logger.Named("ingest"), m.IngestHooks())

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Commands:     accounts,
		Queue:        q,
		Upstream:     channel,
		OneBotSecret: cfg.OneBotSecret,
		Gatherer:     reg,
	}, logger.Named("http"))
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return channel.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// 1. Stop accepting new HTTP requests.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// 2. Ingestion has stopped once the group returns.
	runErr := g.Wait()

	// 3. Let workers finish what is already queued.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := q.Join(drainCtx); err != nil {
		logger.Warn("queue not drained before timeout", zap.Int("unfinished", q.Unfinished()))
	}
	cancelDrain()

	// 4. Stop the workers.
	cancelWorkers()
	pool.Wait()

	if runErr != nil {
		logger.Fatal("relay stopped", zap.Error(runErr))
	}
	logger.Info("relay stopped cleanly")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// newSeenRepository returns nil unless DEDUP_TTL enables duplicate
// suppression. Redis, when configured, shares the window between replicas.
func newSeenRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) repository.SeenRepository {
	if cfg.DedupTTL <= 0 {
		logger.Info("duplicate filter disabled")
		return nil
	}
	if cfg.RedisAddr == "" {
		logger.Info("duplicate filter in memory")
		return repository.NewMemorySeenRepository()
	}
	client := repository.NewRedisClient(cfg.RedisAddr)
	repo := repository.NewRedisSeenRepository(client)
	if err := repo.Ping(ctx); err != nil {
		logger.Warn("redis unreachable at startup, duplicates fail open until it recovers",
			zap.String("addr", cfg.RedisAddr), zap.Error(err))
	} else {
		logger.Info("duplicate filter in redis", zap.String("addr", cfg.RedisAddr))
	}
	return repo
}

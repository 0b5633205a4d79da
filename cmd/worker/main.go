// Package main provides the entrypoint for the pushgate schedule worker.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/pushgate/pushgate/internal/api/models"
	"github.com/pushgate/pushgate/internal/api/response"
	"github.com/pushgate/pushgate/internal/bootstrap"
	"github.com/pushgate/pushgate/internal/config"
	"github.com/pushgate/pushgate/internal/provider/resilience"
	"github.com/pushgate/pushgate/internal/sweeper"
	"github.com/pushgate/pushgate/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "pushgate-worker"

	log := bootstrap.NewLogger(serviceName, Version)

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting pushgate worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	pool, err := bootstrap.OpenDatabase(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	health := resilience.NewRegistry()
	senders, err := bootstrap.NewSenders(ctx, cfg, health, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize push providers")
	}

	core, err := bootstrap.NewCore(bootstrap.PostgresRepositories(pool), senders, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize services")
	}

	var locker sweeper.Locker = sweeper.NopLocker{}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to redis")
		}
		locker = sweeper.NewRedisLocker(rdb)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("sweep lease enabled")
	}

	sweepCfg := sweeper.DefaultConfig()
	sweepCfg.Interval = cfg.Sweeper.Interval
	sweepCfg.BatchSize = cfg.Sweeper.BatchSize
	sweepCfg.Concurrency = cfg.Sweeper.Concurrency
	sweepCfg.Timeout = cfg.Sweeper.Timeout

	sw := sweeper.New(sweeper.SweeperConfig{
		Config:     sweepCfg,
		Dispatcher: core.Engine,
		Locker:     locker,
		Logger:     log.With().Str("component", "sweeper").Logger(),
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		sw.Run(ctx)
	}()

	if cfg.PubSub.Enabled() {
		trigger, err := sweeper.NewPubSubTrigger(ctx, sweeper.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Sweeper:          sw,
			Logger:           log.With().Str("component", "trigger").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub trigger")
		}
		defer func() { _ = trigger.Close() }()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := trigger.Start(ctx); err != nil {
				log.Error().Err(err).Msg("pubsub trigger stopped")
			}
		}()
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           healthRouter(sw, health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	wg.Wait()
	log.Info().Msg("worker stopped")
}

func healthRouter(sw *sweeper.Sweeper, providers *resilience.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := models.HealthStatusOK
		for _, h := range providers.GetAllHealth() {
			if !h.IsHealthy() {
				status = models.HealthStatusDegraded
			}
		}
		response.JSON(w, r, http.StatusOK, map[string]interface{}{
			"status":  status,
			"sweeper": sw.MetricsSnapshot(),
		})
	})
	return r
}

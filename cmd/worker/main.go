package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freightlane/notify-api/internal/app"
	"github.com/freightlane/notify-api/internal/config"
	"github.com/freightlane/notify-api/internal/handler/health"
	"github.com/freightlane/notify-api/internal/middleware"
	"github.com/freightlane/notify-api/internal/realtime"
	"github.com/freightlane/notify-api/internal/service/notification"
	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/messaging"
	"github.com/freightlane/notify-api/pkg/metrics"
	"github.com/freightlane/notify-api/pkg/worker"
)

// healthPort serves liveness and metrics next to the api port.
const healthPort = 8081

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if !cfg.Redis.Enabled {
		// without a shared bus the worker could neither receive events nor reach sockets
		log.Fatal().Msg("The standalone worker requires redis.enabled")
	}

	appLog := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Log.Console,
	}).With("notify-worker")
	log.Logger = appLog.ZL
	zerolog.SetGlobalLevel(logger.ParseLevel(cfg.Log.Level))
	gin.SetMode(gin.ReleaseMode)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("notify", registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.Open(ctx, cfg, appLog)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer infra.Close()

	// in-app pushes go over the bus to whichever api replica holds the socket
	svc, err := app.NewServices(cfg, infra, realtime.NewPublisher(infra.Broker), appLog, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build services")
	}

	if err := messaging.Consume(ctx, infra.Broker, messaging.ChannelPreferences, appLog, svc.Preferences.HandleInvalidation); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to preference invalidations")
	}

	events := notification.NewEventHandler(svc.Notifications)
	if err := messaging.Consume(ctx, infra.Broker, messaging.ChannelEvents, appLog, events.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to notification events")
	}

	runner := worker.NewRunner(infra.Locker, worker.RunnerConfig{LockTTL: cfg.Worker.LockTTL}, appLog, m)
	for _, t := range app.Tasks(cfg, svc.Notifications) {
		runner.Add(t)
	}
	runner.Start(ctx)

	srv := setupHealthCheck(infra, registry)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Health check server failed")
		}
	}()

	appLog.Info("Worker started", "health_port", healthPort)
	<-ctx.Done()
	appLog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	runner.Wait()
}

func setupHealthCheck(infra *app.Infra, registry *prometheus.Registry) *http.Server {
	var pinger health.Pinger
	if infra.DB != nil {
		pinger = infra.DB
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	health.NewHandler(pinger, registry).RegisterRoutes(engine.Group(""))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", healthPort),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

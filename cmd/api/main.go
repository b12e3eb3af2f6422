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
	"github.com/freightlane/notify-api/internal/handler"
	contactHandler "github.com/freightlane/notify-api/internal/handler/contact"
	"github.com/freightlane/notify-api/internal/handler/health"
	notificationHandler "github.com/freightlane/notify-api/internal/handler/notification"
	preferenceHandler "github.com/freightlane/notify-api/internal/handler/preference"
	templateHandler "github.com/freightlane/notify-api/internal/handler/template"
	"github.com/freightlane/notify-api/internal/middleware"
	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/realtime"
	"github.com/freightlane/notify-api/internal/router"
	"github.com/freightlane/notify-api/internal/service/notification"
	"github.com/freightlane/notify-api/pkg/auth"
	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/messaging"
	"github.com/freightlane/notify-api/pkg/metrics"
	"github.com/freightlane/notify-api/pkg/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt secret is not set (NOTIFY_JWT_SECRET)")
	}

	appLog := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Log.Console,
	})
	log.Logger = appLog.ZL
	zerolog.SetGlobalLevel(logger.ParseLevel(cfg.Log.Level))
	if appLog.ZL.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("notify", registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.Open(ctx, cfg, appLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer infra.Close()

	hub := realtime.NewHub(realtime.Config{
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		StaleTimeout:      cfg.Realtime.StaleTimeout,
	}, appLog, m)

	svc, err := app.NewServices(cfg, infra, hub, appLog, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build services")
	}

	// pushes produced by the standalone worker arrive over the bus
	if err := realtime.Relay(ctx, infra.Broker, hub, appLog); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to live pushes")
	}
	if err := messaging.Consume(ctx, infra.Broker, messaging.ChannelPreferences, appLog, svc.Preferences.HandleInvalidation); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to preference invalidations")
	}
	if cfg.Worker.Embedded {
		events := notification.NewEventHandler(svc.Notifications)
		if err := messaging.Consume(ctx, infra.Broker, messaging.ChannelEvents, appLog, events.Handle); err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe to notification events")
		}
	}

	tokens := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	authMiddleware := middleware.NewAuthMiddleware(tokens)
	senders := authMiddleware.RequireUserType(model.UserTypeAdmin, model.UserTypeDispatcher)
	admins := authMiddleware.RequireUserType(model.UserTypeAdmin)

	var pinger health.Pinger
	if infra.DB != nil {
		pinger = infra.DB
	}

	r := router.NewRouter(authMiddleware, router.Handlers{
		Health: health.NewHandler(pinger, registry),
		Live:   realtime.NewHandler(hub, svc.Notifications, tokens, appLog),
		Protected: []handler.Route{
			notificationHandler.NewHandler(svc.Notifications, senders),
			preferenceHandler.NewHandler(svc.Preferences),
			templateHandler.NewHandler(svc.Templates, admins),
			contactHandler.NewHandler(svc.Contacts),
		},
	}, router.RouterConfig{
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit:        cfg.RateLimit.RPS,
		RateBurst:        cfg.RateLimit.Burst,
		MaxBodySize:      middleware.DefaultMaxBodySize,
		CORSConfig:       middleware.DefaultCORSConfig(),
		MetricsPrefix:    "notify_http",
		Registerer:       registry,
	})
	r.Setup()

	runner := worker.NewRunner(infra.Locker, worker.RunnerConfig{LockTTL: cfg.Worker.LockTTL}, appLog, m)
	runner.Add(&worker.Task{
		Name:     "heartbeat",
		Interval: hub.HeartbeatInterval(),
		Local:    true,
		Run: func(context.Context) (int, error) {
			return hub.Sweep(), nil
		},
	})
	if cfg.Worker.Embedded {
		for _, t := range app.Tasks(cfg, svc.Notifications) {
			runner.Add(t)
		}
	}
	runner.Start(ctx)

	// WriteTimeout stays unset: it would cut long-lived websocket connections.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r.Engine(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Bool("embedded_worker", cfg.Worker.Embedded).Msg("notify api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	runner.Wait()

	log.Info().Msg("server exited properly")
}

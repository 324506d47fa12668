// Entry point for the attendance edge: app shell, offline queue, sync and notifications.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"attendance.edge/internal/api"
	"attendance.edge/internal/config"
	"attendance.edge/internal/core"
	"attendance.edge/internal/edge"
	"attendance.edge/internal/ports/cache"
	"attendance.edge/internal/ports/erp"
	"attendance.edge/internal/ports/geocode"
	"attendance.edge/internal/ports/messaging"
	"attendance.edge/internal/ports/repository"
	"attendance.edge/internal/scheduler"
	"attendance.edge/internal/worker"
	"attendance.edge/internal/worker/trigger"
	"attendance.edge/pkg/aws"
	"attendance.edge/pkg/database"
	"attendance.edge/pkg/logger"
	"attendance.edge/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const queueTable = "checkin_queue"

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	// Configure structured logging
	logger.Setup(cfg.IsLocalDev)

	// Configure OpenTelemetry Tracing
	shutdownTracer, err := telemetry.InitTracer("attendance-edge", cfg.OTelExporter, cfg.OTelEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	// Queue and cache storage
	db, dialect, err := database.NewInstrumentedConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := repository.NewQueueRepository(db, dialect, queueTable)
	if err := queue.Open(ctx); err != nil {
		log.Fatal().Err(err).Msg("Offline queue unavailable")
	}
	log.Info().Str("driver", dialect.Name).Msg("Offline queue ready")
	storage := cache.NewStorage(db, dialect)

	// Initialize dependencies
	hub := messaging.NewHub()
	erpClient := erp.NewHTTPClient(cfg.ERPURL, cfg.ERPAPIKey, cfg.ERPAPISecret, cfg.ERPTimeout)

	var geocoder geocode.Geocoder
	if cfg.MapboxToken != "" {
		geocoder = geocode.NewMapbox("", cfg.MapboxToken)
	}

	var (
		sqsClient *sqs.Client
		notifier  core.Notifier
	)
	if cfg.EventsSQSQueueURL != "" || cfg.NotifyEmailTo != "" {
		awsCfg, err := aws.NewAWSConfig(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to load SDK config")
		}
		sqsClient = sqs.NewFromConfig(awsCfg)
		if cfg.NotifyEmailFrom != "" && cfg.NotifyEmailTo != "" {
			notifier = core.NewSESEmailService(ses.NewFromConfig(awsCfg), cfg.NotifyEmailFrom, cfg.NotifyEmailTo, cfg.AppOrigin)
		}
	}

	checkins := core.NewCheckInService(erpClient, queue, geocoder)
	syncer := core.NewSyncService(queue, erpClient, hub, core.SyncOptions{
		Tag:            cfg.SyncTag,
		AttemptTimeout: cfg.SyncAttemptTimeout,
		MaxAttempts:    cfg.SyncMaxAttempts,
	})
	notifications := core.NewNotificationService(hub, hub, notifier, cfg.Hosts())

	interceptor, err := edge.NewInterceptor(storage, hub, edge.Options{
		Origin:       cfg.AppOrigin,
		StaticCache:  cfg.StaticCache,
		RuntimeCache: cfg.RuntimeCache,
		ShellURLs:    cfg.Shell(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid app origin")
	}
	if err := interceptor.Install(ctx); err != nil {
		log.Error().Err(err).Msg("App shell install failed, keeping previous cache generation")
	}
	if err := interceptor.Activate(ctx); err != nil {
		log.Warn().Err(err).Msg("Interceptor not active, passing all requests to the origin")
	}

	// Background triggers
	var wg sync.WaitGroup

	sched, err := scheduler.New(syncer, cfg.SyncTag, cfg.SyncSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not schedule periodic sync")
	}
	sched.Start()

	if sqsClient != nil && cfg.EventsSQSQueueURL != "" {
		w := worker.NewWorker(sqsClient, cfg.EventsSQSQueueURL, trigger.NewProcessor(syncer, notifications))
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	}

	// Setup router and server
	router := api.NewRouter(api.Dependencies{
		Checkins:      checkins,
		Queue:         queue,
		DeadLetters:   queue,
		Sync:          syncer,
		Notifications: notifications,
		Events:        messaging.NewWebSocketHandler(hub, cfg.Hosts()),
		Fallback:      interceptor,
	})

	// Wrap the router with OpenTelemetry middleware to create spans for each request
	handler := otelhttp.NewHandler(logger.Middleware(router), "edge")

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("Edge starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal to gracefully shut down.
	<-ctx.Done()
	log.Info().Msg("Shutting down edge...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Scheduled sync did not finish in time")
	}
	wg.Wait()

	log.Info().Msg("Edge exiting")
}

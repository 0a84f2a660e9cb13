package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/waconnect/bridge-server-go/internal/config"
	"github.com/waconnect/bridge-server-go/internal/database"
	"github.com/waconnect/bridge-server-go/internal/handler"
	"github.com/waconnect/bridge-server-go/internal/jobs"
	"github.com/waconnect/bridge-server-go/internal/middleware"
	"github.com/waconnect/bridge-server-go/internal/redis"
	"github.com/waconnect/bridge-server-go/internal/repository"
	"github.com/waconnect/bridge-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	instanceRepo := repository.NewInstanceRepository(db.DB)
	locationRepo := repository.NewLocationRepository(db.DB)
	routingRepo := repository.NewRoutingRepository(db.DB)
	profileRepo := repository.NewAccountProfileRepository(db.DB)

	routingCache := redis.NewRoutingCache(redisClient, config.ConnectedInstancesCacheTTL)

	backendClient := service.NewBackendClient(cfg.BackendBaseURL)
	crmClient := service.NewCRMClient(cfg.CRMBaseURL, cfg.CRMAPIVersion)

	registryService := service.NewRegistryService(db, instanceRepo, profileRepo, backendClient, routingCache)
	resolverService := service.NewResolverService(registryService, routingRepo, cfg.DefaultCountryCode)
	overrideService := service.NewOverrideService(registryService, resolverService, crmClient, cfg.DefaultCountryCode)
	lifecycleService := service.NewLifecycleService(db, profileRepo, instanceRepo, routingCache)

	embedAuthMiddleware := middleware.NewEmbedAuthMiddleware(locationRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	relayHandler := handler.NewRelayHandler(
		resolverService, overrideService, backendClient, crmClient,
		locationRepo, instanceRepo, cfg.BackendBaseURL, cfg.DefaultCountryCode,
	)
	billingHandler := handler.NewBillingHandler(lifecycleService, redisClient, cfg.StripeWebhookSecret)
	registryHandler := handler.NewRegistryHandler(registryService, resolverService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/crm", relayHandler.OutboundWebhook)
		r.Post("/backend/{instanceID}", relayHandler.InboundWebhook)
		r.Post("/billing", billingHandler.Webhook)
	})

	r.Route("/v1/registry", func(r chi.Router) {
		r.Use(embedAuthMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/", registryHandler.Routes())
	})

	sweepJob := jobs.NewGraceSweepJob(lifecycleService, config.GraceSweepInterval)
	sweepJob.Start()
	defer sweepJob.Stop()

	probeJob := jobs.NewHealthProbeJob(registryService, config.HealthProbeInterval)
	probeJob.Start()
	defer probeJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

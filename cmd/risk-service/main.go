// Package main is the entry point for the login risk service, which scores
// login attempts and serves the risk administration API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/openidx/loginrisk/internal/anomaly"
	"github.com/openidx/loginrisk/internal/common/config"
	"github.com/openidx/loginrisk/internal/common/database"
	apperrors "github.com/openidx/loginrisk/internal/common/errors"
	"github.com/openidx/loginrisk/internal/common/events"
	"github.com/openidx/loginrisk/internal/common/health"
	"github.com/openidx/loginrisk/internal/common/logger"
	"github.com/openidx/loginrisk/internal/common/middleware"
	"github.com/openidx/loginrisk/internal/common/resilience"
	"github.com/openidx/loginrisk/internal/common/shutdown"
	"github.com/openidx/loginrisk/internal/common/tracing"
	"github.com/openidx/loginrisk/internal/risk"
)

const serviceName = "risk-service"

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	log := logger.WithService(logger.New(), serviceName)
	defer log.Sync()

	log.Info("Starting login risk service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)

	cfg, err := config.Load(serviceName)
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg.LogSecurityWarnings(log)

	ctx := context.Background()
	stopper := shutdown.NewManager(log, 30*time.Second)

	shutdownTracer, err := tracing.Init(ctx, tracing.FromServiceConfig(cfg), log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	stopper.Hook("tracing", shutdownTracer)

	healthService := health.NewService(serviceName, Version, log)

	newBreaker := func(name string) *resilience.Breaker {
		b := resilience.New(resilience.Config{
			Name:             name,
			FailureThreshold: cfg.Risk.StoreBreaker.FailureThreshold,
			OpenTimeout:      time.Duration(cfg.Risk.StoreBreaker.OpenTimeout) * time.Second,
		}, log)
		healthService.Register(health.NewBreakerChecker(b), false)
		return b
	}

	// Stores. Without Redis or Postgres the engine keeps state in memory,
	// which is only suitable for a single replica.
	stores := risk.Stores{
		Baselines: risk.NewMemoryBaselineStore(),
		Rules:     risk.NewMemoryRulesStore(),
		Attempts:  risk.NewMemoryAttemptLog(cfg.Risk.AttemptLogSize),
	}

	var redis *database.RedisClient
	if cfg.RedisURL != "" {
		redis, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		stopper.Hook("redis", func(context.Context) error { return redis.Close() })
		healthService.Register(health.NewRedisChecker(redis), true)

		breaker := newBreaker("redis")
		stores.Baselines = risk.GuardBaselines(risk.NewRedisBaselineStore(redis), breaker)
		stores.Rules = risk.GuardRules(
			risk.NewRedisRulesStore(redis, time.Duration(cfg.Risk.RulesCacheTTL)*time.Second), breaker)
	} else {
		log.Warn("REDIS_URL not set, baselines and rules are kept in memory")
	}

	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		stopper.Hook("postgres", func(context.Context) error { return db.Close() })
		healthService.Register(health.NewPostgresChecker(db), true)

		attempts := risk.NewPostgresAttemptLog(db, log)
		if err := attempts.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to create login attempt schema", zap.Error(err))
		}
		stores.Attempts = risk.GuardAttempts(attempts, newBreaker("postgres"))
	} else {
		log.Warn("DATABASE_URL not set, login attempts are kept in memory",
			zap.Int("capacity", cfg.Risk.AttemptLogSize))
	}

	bus := events.NewMemoryBus()
	bus.SetErrorHandler(func(e events.Event, err error) {
		log.Error("Event handler failed",
			zap.String("event_id", e.ID),
			zap.String("event_type", e.Type),
			zap.Error(err))
	})
	stopper.Hook("event-bus", func(context.Context) error { return bus.Close() })

	model := anomaly.NewModel(anomaly.Config{
		MaxSamples:       cfg.Risk.Model.MaxSamples,
		RetrainThreshold: cfg.Risk.Model.RetrainThreshold,
		MinSamples:       cfg.Risk.Model.MinTrainingSamples,
	}, log)
	healthService.Register(health.NewModelChecker(model), false)

	engine := risk.NewEngine(risk.EngineConfig{
		DefaultRules: risk.RulesFromConfig(cfg.Risk.Rules),
		AsyncRetrain: cfg.Risk.Model.AsyncRetrain,
	}, stores, model, bus, log)

	if cfg.Risk.Model.AsyncRetrain {
		retrainer := risk.NewRetrainer(model, bus, log)
		retrainer.Start()
		stopper.Hook("retrainer", func(context.Context) error {
			retrainer.Stop()
			return nil
		})
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(apperrors.ErrorHandler())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(logger.GinMiddleware(log))
	router.Use(middleware.PrometheusMetrics(serviceName))
	if cfg.EnableRateLimit && redis != nil {
		router.Use(middleware.DistributedRateLimit(redis.Client, middleware.RateLimitConfig{
			Requests: cfg.RateLimitRequests,
			Window:   time.Duration(cfg.RateLimitWindow) * time.Second,
			Paths:    []string{"/api/v1/risk/"},
		}, log))
	}

	router.GET("/metrics", middleware.MetricsHandler())
	healthService.RegisterRoutes(router)

	risk.RegisterRoutes(router, risk.NewHandler(engine, log),
		middleware.Auth([]byte(cfg.JWTSecret)),
		middleware.RequireRoles(cfg.AdminRole),
	)

	stopper.Serve(&http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	})

	if err := stopper.Wait(ctx); err != nil {
		log.Error("Service stopped with error", zap.Error(err))
	}
	log.Info("Server exited")
}

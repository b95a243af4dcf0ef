package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	_ "github.com/noah-isme/timetable-api/api/swagger"
	"github.com/noah-isme/timetable-api/internal/handler"
	"github.com/noah-isme/timetable-api/internal/repository"
	"github.com/noah-isme/timetable-api/internal/service"
	"github.com/noah-isme/timetable-api/pkg/cache"
	"github.com/noah-isme/timetable-api/pkg/config"
	"github.com/noah-isme/timetable-api/pkg/database"
	"github.com/noah-isme/timetable-api/pkg/jobs"
	"github.com/noah-isme/timetable-api/pkg/logger"
)

// @title Timetable API
// @version 1.0.0
// @description Generates weekly timetables for every batch of a year and semester, keeping instructors, rooms and labs free of double bookings.
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logr.Sugar().Fatalw("failed to migrate schema", "error", err)
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, falling back to in-process lock without caching", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var metrics *service.MetricsService
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}

	offerings := repository.NewOfferingRepository(db)
	rooms := repository.NewRoomRepository(db)
	strengths := repository.NewStrengthRepository(db)
	timetables := repository.NewTimetableRepository(db)
	ledger := repository.NewLedgerRepository(db)
	store := repository.NewGenerationStore(db, timetables, ledger)

	var lock service.LedgerLock = repository.NewLocalLedgerLock()
	var cacheSvc *service.CacheService
	if redisClient != nil {
		lock = repository.NewRedisLedgerLock(redisClient, cfg.Scheduler.LedgerLockKey)
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metrics, cfg.Cache.TimetableTTL, logr, true)
	}

	generator := service.NewTimetableGeneratorService(service.TimetableGeneratorDeps{
		Offerings:  offerings,
		Resources:  rooms,
		Strengths:  strengths,
		Ledger:     ledger,
		Timetables: timetables,
		Store:      store,
		Lock:       lock,
		Cache:      cacheSvc,
		Metrics:    metrics,
		Validator:  validator.New(),
		Logger:     logr,
	}, service.TimetableGeneratorConfig{
		Strategy:        cfg.Scheduler.Strategy,
		RetryBudget:     cfg.Scheduler.RetryBudget,
		Seed:            cfg.Scheduler.Seed,
		TrackMultiBatch: cfg.Scheduler.TrackMultiBatch,
		ReleasePrevious: cfg.Scheduler.ReleasePrevious,
		MaxAttempts:     cfg.Scheduler.MaxAttempts,
		LockTTL:         cfg.Scheduler.LockTTL,
	})
	queries := service.NewTimetableService(timetables, ledger, store, lock, cacheSvc, logr, service.TimetableServiceConfig{
		CacheTTL: cfg.Cache.TimetableTTL,
		LockTTL:  cfg.Scheduler.LockTTL,
	})
	generationJobs := service.NewGenerationJobService(generator, jobs.QueueConfig{
		Workers:    cfg.Scheduler.Workers,
		MaxRetries: 2,
		RetryDelay: 2 * time.Second,
		Retention:  cfg.Scheduler.JobRetention,
		Logger:     logr,
	})
	generationJobs.Start(ctx)
	defer generationJobs.Stop()

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return pingRedis(ctx, redisClient) }
	}

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:  cfg.APIPrefix,
		EnableDocs: cfg.Env != config.EnvProduction,
		Logger:     logr,
		Metrics:    metrics,
		Timetables: handler.NewTimetableHandler(generator, generationJobs, queries),
		Ledgers:    handler.NewLedgerHandler(queries),
		Probes:     handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logr.Sugar().Errorw("server shutdown failed", "error", err)
		}
	}()

	logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "redis", redisClient != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
	logr.Sugar().Infow("server stopped")
}

func pingRedis(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

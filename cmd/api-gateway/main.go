package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/field-training-api/api/swagger"
	"github.com/noah-isme/field-training-api/internal/handler"
	internalmiddleware "github.com/noah-isme/field-training-api/internal/middleware"
	"github.com/noah-isme/field-training-api/internal/repository"
	"github.com/noah-isme/field-training-api/internal/service"
	"github.com/noah-isme/field-training-api/pkg/cache"
	"github.com/noah-isme/field-training-api/pkg/config"
	"github.com/noah-isme/field-training-api/pkg/database"
	"github.com/noah-isme/field-training-api/pkg/lock"
	"github.com/noah-isme/field-training-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/field-training-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/field-training-api/pkg/middleware/requestid"
)

// @title Field Training API
// @version 1.0.0
// @description Assignment and capacity manager for field training courses
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Cache.Enabled || cfg.Lock.Backend == config.LockBackendRedis {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			if cfg.Lock.Backend == config.LockBackendRedis {
				logr.Fatal("redis lock backend unavailable", zap.Error(err))
			}
			logr.Warn("redis unavailable, availability cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
		}
	}

	var locker lock.Locker = lock.NewMemoryLocker(cfg.Lock.Timeout)
	if cfg.Lock.Backend == config.LockBackendRedis {
		locker = lock.NewRedisLocker(redisClient, cfg.Lock.Timeout, cfg.Lock.TTL, logr)
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	}

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	supervisorRepo := repository.NewSupervisorRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db, cfg.Lock.Timeout)
	evaluationRepo := repository.NewEvaluationRepository(db)
	activityRepo := repository.NewActivityRepository(db)

	activitySvc := service.NewActivityService(activityRepo, service.ActivityConfig{
		Workers:    cfg.Activity.Workers,
		BufferSize: cfg.Activity.BufferSize,
		Retries:    cfg.Activity.Retries,
	}, metricsSvc, logr)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	activitySvc.Start(rootCtx)

	capacity := service.NewCapacityTracker(groupRepo, cacheSvc, cfg.Cache.TTL, logr)
	ledger := service.NewAssignmentLedger(assignmentRepo, locker, metricsSvc, logr)
	directory := service.NewActorDirectory(studentRepo, supervisorRepo)

	authSvc := service.NewAuthService(userRepo, activitySvc, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	supervisorSvc := service.NewSupervisorService(supervisorRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, capacity, activitySvc, validate, logr)
	groupSvc := service.NewGroupService(groupRepo, courseRepo, supervisorRepo, service.NewGroupLocker(locker, metricsSvc, logr), capacity, activitySvc, validate, logr)
	registrationSvc := service.NewRegistrationService(ledger, studentRepo, capacity, activitySvc, metricsSvc, validate, logr)
	assignmentSvc := service.NewAssignmentService(assignmentRepo, ledger, groupRepo, directory, capacity, activitySvc, metricsSvc, logr)
	evaluationSvc := service.NewEvaluationService(evaluationRepo, assignmentRepo, groupRepo, courseRepo, directory, activitySvc, validate, logr)

	var scheduler *service.LifecycleScheduler
	if cfg.Lifecycle.Enabled {
		scheduler = service.NewLifecycleScheduler(groupRepo, capacity, activitySvc, cfg.Lifecycle.Schedule, logr)
		if err := scheduler.Start(); err != nil {
			logr.Fatal("failed to start lifecycle sweep", zap.Error(err))
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/health", "/ready", "/metrics"))

	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		Students:      handler.NewStudentHandler(studentSvc),
		Supervisors:   handler.NewSupervisorHandler(supervisorSvc),
		Courses:       handler.NewCourseHandler(courseSvc),
		Groups:        handler.NewGroupHandler(groupSvc),
		Assignments:   handler.NewAssignmentHandler(assignmentSvc, evaluationSvc),
		Registrations: handler.NewRegistrationHandler(registrationSvc),
		Grades:        handler.NewGradeHandler(),
		Activity:      handler.NewActivityHandler(activitySvc),
	}, internalmiddleware.JWT(authSvc))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "lock_backend", cfg.Lock.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	activitySvc.Stop()
	cancelRoot()
}

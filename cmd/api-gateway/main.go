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
	"go.uber.org/zap"

	_ "github.com/noah-isme/agenda-lina-api/api/swagger"
	"github.com/noah-isme/agenda-lina-api/internal/grading"
	"github.com/noah-isme/agenda-lina-api/internal/handler"
	"github.com/noah-isme/agenda-lina-api/internal/repository"
	"github.com/noah-isme/agenda-lina-api/internal/service"
	"github.com/noah-isme/agenda-lina-api/pkg/cache"
	"github.com/noah-isme/agenda-lina-api/pkg/config"
	"github.com/noah-isme/agenda-lina-api/pkg/database"
	"github.com/noah-isme/agenda-lina-api/pkg/jobs"
	"github.com/noah-isme/agenda-lina-api/pkg/logger"
)

// @title Agenda Lina API
// @version 1.0.0
// @description Grade engine, report cards and class statistics for Agenda Lina schools
// @BasePath /api/v1
// @schemes http https
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := grading.NewEngine(grading.Config{
		MinApproval:      cfg.Grading.MinApproval,
		MinRecovery:      cfg.Grading.MinRecovery,
		RecoveryPassMark: cfg.Grading.RecoveryPassMark,
		TotalBimesters:   cfg.Grading.TotalBimesters,
		MaxAbsenceRate:   cfg.Grading.MaxAbsenceRate,
	})
	if err != nil {
		logr.Fatal("invalid grading thresholds", zap.Error(err))
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Grading.CacheTTL, logr, redisClient != nil)
	validate := validator.New()

	var worker *service.RecalculationWorker
	queue := jobs.NewQueue("grade-recalculation", func(ctx context.Context, job jobs.Job) error {
		return worker.Handle(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Recalculation.Workers,
		BufferSize: cfg.Recalculation.BufferSize,
		MaxRetries: cfg.Recalculation.Retries,
		RetryDelay: cfg.Recalculation.RetryDelay,
		OnGiveUp:   func(job jobs.Job, err error) { worker.GiveUp(job, err) },
		Logger:     logr,
	})

	gradeSvc := service.NewGradeService(service.GradeServiceParams{
		Engine:     engine,
		Activities: repository.NewActivityRepository(db),
		Bimesters:  repository.NewBimesterRepository(db),
		Averages:   repository.NewBimesterAverageRepository(db),
		Finals:     repository.NewFinalSituationRepository(db),
		Attendance: repository.NewAttendanceRepository(db),
		Queue:      queue,
		Cache:      cacheSvc,
		Metrics:    metrics,
		Validator:  validate,
		Logger:     logr,
		Config:     service.GradeServiceConfig{AbsenceCheck: cfg.Grading.AbsenceCheck, CacheTTL: cfg.Grading.CacheTTL},
	})
	worker = service.NewRecalculationWorker(gradeSvc, metrics, logr)
	exportSvc := service.NewExportService(gradeSvc, cfg.Grading.TotalBimesters, logr, nil, nil)
	authSvc := service.NewAuthService(repository.NewUserRepository(db), validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	checks := map[string]handler.ReadinessCheck{"database": db.PingContext}
	if redisClient != nil {
		checks["cache"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	router := newRouter(cfg, logr, routeDeps{
		auth:        handler.NewAuthHandler(authSvc),
		grades:      handler.NewGradeHandler(gradeSvc),
		reportCards: handler.NewReportCardHandler(gradeSvc, exportSvc),
		metrics:     handler.NewMetricsHandler(metrics, checks),
		tokens:      authSvc,
		observer:    metrics,
	})

	// Jobs outlive the signal context so in-flight recalculations finish during shutdown.
	queue.Start(context.Background())
	defer queue.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

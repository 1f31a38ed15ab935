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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-generation-core/api/swagger"
	"github.com/noah-isme/sma-generation-core/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-generation-core/internal/middleware"
	"github.com/noah-isme/sma-generation-core/internal/repository"
	"github.com/noah-isme/sma-generation-core/internal/service"
	"github.com/noah-isme/sma-generation-core/pkg/cache"
	"github.com/noah-isme/sma-generation-core/pkg/config"
	"github.com/noah-isme/sma-generation-core/pkg/database"
	"github.com/noah-isme/sma-generation-core/pkg/jobs"
	"github.com/noah-isme/sma-generation-core/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-generation-core/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-generation-core/pkg/middleware/requestid"
)

// @title SMA Generation Core API
// @version 1.0.0
// @description Timetable and exam question generation with idempotent background workflows.
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
	sugar := logr.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		sugar.Fatalw("database unavailable", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		sugar.Fatalw("redis unavailable", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	classRepo := repository.NewClassRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	timetableRepo := repository.NewTimetableRepository(db)
	examRepo := repository.NewExamRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	jobRepo := repository.NewGenerationJobRepository(db)
	lockRepo := repository.NewJobLockRepository(redisClient, logr)
	activityRepo := repository.NewActivityRepository(db)

	scheduler := service.NewTimetableScheduler(service.SchedulerConfig{
		BreakMinutes: cfg.Timetable.BreakMinutes,
		LunchMinutes: cfg.Timetable.LunchMinutes,
	})

	var generator service.ContentGenerator
	if gemini := service.NewGeminiGenerator(cfg.Generator, nil, logr); gemini.Configured() {
		generator = gemini
	} else {
		sugar.Warnw("content generator not configured; exam question jobs will fail", "model", cfg.Generator.Model)
	}

	timetableWorkflow := service.NewTimetableWorkflow(classRepo, subjectRepo, teacherRepo, timetableRepo, scheduler, generator, validate, logr,
		service.TimetableWorkflowConfig{Strategy: cfg.Timetable.Strategy})
	examWorkflow := service.NewExamQuestionWorkflow(examRepo, generator, validate, logr, cfg.Workflow.QuestionCountLimit)

	runner := service.NewWorkflowRunner(jobRepo, lockRepo, metrics, logr, service.WorkflowRunnerConfig{
		MaxStepAttempts:   cfg.Workflow.MaxStepAttempts,
		MalformedAttempts: 1 + cfg.Workflow.MalformedRetries,
		LockTTL:           cfg.Workflow.LockTTL,
	}, timetableWorkflow, examWorkflow)

	generationService := service.NewGenerationService(jobRepo, runner, classRepo, subjectRepo, examRepo, scheduler, validate, logr,
		service.GenerationServiceConfig{
			QuestionCountLimit: cfg.Workflow.QuestionCountLimit,
			StaleAfter:         cfg.Recovery.StaleAfter,
			RecoveryBatch:      cfg.Recovery.BatchSize,
		})

	queue := jobs.NewQueue("generation", generationService.HandleJob, jobs.QueueConfig{
		Workers:     cfg.Workflow.Workers,
		BufferSize:  cfg.Workflow.BufferSize,
		MaxRetries:  cfg.Workflow.DeliveryRetries,
		RetryDelay:  cfg.Workflow.RetryDelay,
		ShouldRetry: service.ShouldRetry,
		OnExhausted: generationService.HandleExhausted,
		Logger:      logr,
	})
	generationService.SetQueue(queue)
	queue.Start(ctx)
	defer queue.Stop()

	if recovered, err := generationService.RecoverPendingJobs(ctx); err != nil {
		sugar.Warnw("startup job recovery failed", "error", err)
	} else if recovered > 0 {
		sugar.Infow("re-dispatched unfinished generation jobs", "count", recovered)
	}

	if cfg.Recovery.Enabled {
		recovery := service.NewRecoveryScheduler(generationService, cfg.Recovery.Spec, logr)
		if err := recovery.Start(); err != nil {
			sugar.Fatalw("invalid job recovery schedule", "spec", cfg.Recovery.Spec, "error", err)
		}
		defer recovery.Stop()
	}

	timetableService := service.NewTimetableService(timetableRepo, classRepo, subjectRepo, teacherRepo, logr)
	gradingService := service.NewGradingService(examRepo, submissionRepo, validate, metrics, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(internalmiddleware.Metrics(metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	metricsHandler := handler.NewMetricsHandler(metrics, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix),
		handler.NewGenerationHandler(generationService),
		handler.NewTimetableHandler(timetableService),
		handler.NewExamHandler(gradingService),
		func(action, resource string) gin.HandlerFunc {
			return internalmiddleware.Activity(activityRepo, logr, action, resource)
		},
	)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		sugar.Infow("server starting", "addr", addr, "env", cfg.Env, "timetable_strategy", cfg.Timetable.Strategy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("graceful shutdown failed", "error", err)
	}
}

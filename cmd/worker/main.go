package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"placementPortal/internal/ats"
	"placementPortal/internal/config"
	"placementPortal/internal/database"
	"placementPortal/internal/metrics"
	"placementPortal/internal/notify"
	"placementPortal/internal/pdf"
	"placementPortal/internal/realtime"
	"placementPortal/internal/storage"
	"placementPortal/internal/tasks"
	"placementPortal/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr, Password: cfg.Redis.Password})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: redisAddr, Password: cfg.Redis.Password}

	// fan-out 任务需要继续投递邮件任务。
	asynqClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed",
				slog.String("type", task.Type()),
				slog.Any("error", err),
			)
		}),
	})

	publisher := realtime.NewPublisher(redisClient)
	store := notify.NewStore(db, publisher, logger)
	sender := notify.NewSender(cfg.Email.SendGridAPIKey, cfg.Email.FromName, cfg.Email.FromAddress, logger)
	analyzer := ats.NewClient(cfg.ATS.BaseURL, cfg.ATS.APIKey, cfg.ATS.Model, cfg.ATS.Timeout)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeNotifyFanout, worker.NewFanoutHandler(db, store, asynqClient, cfg.API.FrontendBaseURL, cfg.Email.MaxRetry, logger))
	mux.Handle(tasks.TypeEmailSend, worker.NewEmailHandler(sender, logger))
	mux.Handle(tasks.TypeResumeAnalyze, worker.NewATSHandler(db, analyzer, store, publisher, logger))
	mux.Handle(tasks.TypeAnalyticsReport, worker.NewReportHandler(db, pdf.NewRenderer(cfg.Worker.ChromeBin), storageClient, publisher, logger))

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.Any("error", err))
		}
	}()

	logger.Info("worker service started",
		slog.String("redis_addr", redisAddr),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)
	// Run 在收到 SIGTERM/SIGINT 时优雅退出。
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"booking-notifier/internal/common/config"
	"booking-notifier/internal/common/database"
	"booking-notifier/internal/common/logger"
	"booking-notifier/internal/common/observability"
	"booking-notifier/internal/common/sendgrid"
	"booking-notifier/internal/notify"

	cancel "booking-notifier/internal/workers/booking/cancellation"
	confirm "booking-notifier/internal/workers/booking/confirmation"
	followup "booking-notifier/internal/workers/booking/followup"
	remind "booking-notifier/internal/workers/booking/reminder"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting booking notification workers...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("booking-notifier")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	var zeebeClient zbc.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebeClient, err = zbc.NewClient(&zbc.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")

	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch (audit trail only, optional) ---
	var esClient *database.ElasticsearchClient
	if cfg.Notifications.Audit.IndexEnabled {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
	} else {
		zapLog.Info("Delivery audit indexing disabled, skipping Elasticsearch")
	}

	// --- Init SendGrid client ---
	sg := sendgrid.NewClient(
		cfg.SendGrid.APIKey,
		cfg.SendGrid.BaseURL,
		cfg.SendGrid.FromEmail,
		cfg.SendGrid.FromName,
		time.Duration(cfg.SendGrid.Timeout)*time.Millisecond,
	)

	// --- Shared notification plumbing ---
	repo := notify.NewRepository(pg, log)
	builder := notify.NewBuilder(repo, cfg.Notifications.AppURL, log)
	deliveries := notify.NewDeliveryLog(pg, esClient, cfg.Notifications.Audit.Index, log)

	sentCacheTTL := time.Duration(cfg.Notifications.SentCacheTTL) * time.Second

	// --- Register booking lifecycle workers ---
	if wcfg := cfg.Workers[confirm.TaskType]; wcfg.Enabled {
		handler := confirm.NewHandler(
			&confirm.Config{
				Enabled:      cfg.Notifications.Enabled,
				TemplateID:   cfg.SendGrid.TemplateID(confirm.TemplateKey),
				Timeout:      time.Duration(wcfg.Timeout) * time.Millisecond,
				SentCacheTTL: sentCacheTTL,
			},
			repo, builder, deliveries, sg, redis.Client, log,
		)
		startWorker(zeebeClient, confirm.TaskType, wcfg, handler.Handle, obs, zapLog)
	}

	if wcfg := cfg.Workers[cancel.TaskType]; wcfg.Enabled {
		handler := cancel.NewHandler(
			&cancel.Config{
				Enabled:    cfg.Notifications.Enabled,
				TemplateID: cfg.SendGrid.TemplateID(cancel.TemplateKey),
				Timeout:    time.Duration(wcfg.Timeout) * time.Millisecond,
			},
			repo, builder, deliveries, sg, log,
		)
		startWorker(zeebeClient, cancel.TaskType, wcfg, handler.Handle, obs, zapLog)
	}

	if wcfg := cfg.Workers[remind.TaskType]; wcfg.Enabled {
		handler := remind.NewHandler(
			&remind.Config{
				Enabled:      cfg.Notifications.Enabled,
				TemplateID:   cfg.SendGrid.TemplateID(remind.TemplateKey),
				Timeout:      time.Duration(wcfg.Timeout) * time.Millisecond,
				SentCacheTTL: sentCacheTTL,
			},
			repo, builder, deliveries, sg, redis.Client, log,
		)
		startWorker(zeebeClient, remind.TaskType, wcfg, handler.Handle, obs, zapLog)
	}

	if wcfg := cfg.Workers[followup.TaskType]; wcfg.Enabled {
		handler := followup.NewHandler(
			&followup.Config{
				Enabled:      cfg.Notifications.Enabled,
				TemplateID:   cfg.SendGrid.TemplateID(followup.TemplateKey),
				Timeout:      time.Duration(wcfg.Timeout) * time.Millisecond,
				SentCacheTTL: sentCacheTTL,
			},
			repo, builder, deliveries, sg, redis.Client, log,
		)
		startWorker(zeebeClient, followup.TaskType, wcfg, handler.Handle, obs, zapLog)
	}

	zapLog.Info("All booking notification workers registered")

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening on :8080")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	_ = shutdownCtx

	if err := zeebeClient.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func startWorker(client zbc.Client, taskType string, wcfg config.WorkerConfig, handlerFunc func(worker.JobClient, entities.Job), obs *observability.Observability, log *zap.Logger) {
	if !wcfg.Enabled {
		log.Info("worker disabled", zap.String("taskType", taskType))
		return
	}

	instrumented := func(jobClient worker.JobClient, job entities.Job) {
		start := time.Now()
		handlerFunc(jobClient, job)
		obs.RecordJobProcessed(context.Background(), taskType)
		obs.RecordJobDuration(context.Background(), time.Since(start), taskType)
	}

	client.NewJobWorker().
		JobType(taskType).
		Handler(instrumented).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(time.Duration(wcfg.Timeout) * time.Millisecond).
		Open()

	log.Info("worker started",
		zap.String("taskType", taskType),
		zap.Int("maxJobsActive", wcfg.MaxJobsActive),
		zap.Int("timeout_ms", wcfg.Timeout),
	)
}
